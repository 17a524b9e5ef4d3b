package bidding_test

import (
	"testing"
	"time"

	"github.com/openlot/auction-engine/internal/bidding"
	"github.com/openlot/auction-engine/internal/model"
)

func snipeAuction(window time.Duration) *model.Auction {
	return &model.Auction{
		ID:              "a1",
		StartsAt:        baseTime.Add(-1 * time.Hour),
		EndsAt:          baseTime, // close at T = baseTime
		AntiSnipeWindow: window,
		Status:          model.StatusActive,
	}
}

func TestEvaluateExtension_OutsideWindow(t *testing.T) {
	a := snipeAuction(120 * time.Second)

	// Plenty of time left: no extension.
	_, extend := bidding.EvaluateExtension(a, baseTime.Add(-10*time.Minute))
	if extend {
		t.Error("bid outside the window must not extend the close")
	}
}

func TestEvaluateExtension_LateBidExtends(t *testing.T) {
	a := snipeAuction(120 * time.Second)

	// Bid at T−30s: extension to T−30s+120s = T+90s.
	now := baseTime.Add(-30 * time.Second)
	until, extend := bidding.EvaluateExtension(a, now)
	if !extend {
		t.Fatal("bid inside the window must extend the close")
	}
	if want := baseTime.Add(90 * time.Second); !until.Equal(want) {
		t.Errorf("expected extended_until=%v, got %v", want, until)
	}
}

func TestEvaluateExtension_RepeatedLateBids(t *testing.T) {
	a := snipeAuction(120 * time.Second)

	// First extension: T−30s → T+90s.
	until, _ := bidding.EvaluateExtension(a, baseTime.Add(-30*time.Second))
	a.ExtendedUntil = &until

	// Next bid at T+85s, within 120s of the extended close T+90s: extends again.
	now := baseTime.Add(85 * time.Second)
	until2, extend := bidding.EvaluateExtension(a, now)
	if !extend {
		t.Fatal("bid within the window of the extended close must extend again")
	}
	if want := now.Add(120 * time.Second); !until2.Equal(want) {
		t.Errorf("expected extended_until=%v, got %v", want, until2)
	}
}

func TestEvaluateExtension_Monotonic(t *testing.T) {
	a := snipeAuction(120 * time.Second)
	until := baseTime.Add(10 * time.Minute)
	a.ExtendedUntil = &until

	// Exactly one window before the extended close: the candidate equals the
	// current close, so nothing moves.
	_, extend := bidding.EvaluateExtension(a, baseTime.Add(8*time.Minute))
	if extend {
		t.Error("extension must never move the close earlier or rewrite an equal close")
	}
}

func TestEvaluateExtension_GuaranteesFullWindow(t *testing.T) {
	a := snipeAuction(120 * time.Second)

	// Any accepted bid in the window leaves at least a full window of time.
	for _, lead := range []time.Duration{119 * time.Second, time.Minute, time.Second, 0} {
		now := baseTime.Add(-lead)
		until, extend := bidding.EvaluateExtension(a, now)
		if !extend {
			t.Fatalf("lead %v: expected extension", lead)
		}
		if until.Sub(now) < a.AntiSnipeWindow {
			t.Errorf("lead %v: remaining %v < window", lead, until.Sub(now))
		}
	}
}
