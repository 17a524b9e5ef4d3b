package lifecycle_test

import (
	"testing"
	"time"

	"github.com/openlot/auction-engine/internal/lifecycle"
	"github.com/openlot/auction-engine/internal/model"
)

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestCanTransition(t *testing.T) {
	legal := []struct{ from, to model.Status }{
		{model.StatusDraft, model.StatusScheduled},
		{model.StatusScheduled, model.StatusActive},
		{model.StatusScheduled, model.StatusCancelled},
		{model.StatusActive, model.StatusEnded},
		{model.StatusActive, model.StatusCancelled},
		{model.StatusEnded, model.StatusAdjudicated},
		{model.StatusEnded, model.StatusNoSale},
	}
	for _, tr := range legal {
		if !lifecycle.CanTransition(tr.from, tr.to) {
			t.Errorf("%s → %s should be legal", tr.from, tr.to)
		}
	}

	illegal := []struct{ from, to model.Status }{
		{model.StatusDraft, model.StatusActive},
		{model.StatusActive, model.StatusScheduled},
		{model.StatusEnded, model.StatusActive},
		{model.StatusEnded, model.StatusCancelled},
		{model.StatusCancelled, model.StatusActive},
		{model.StatusAdjudicated, model.StatusEnded},
		{model.StatusNoSale, model.StatusActive},
	}
	for _, tr := range illegal {
		if lifecycle.CanTransition(tr.from, tr.to) {
			t.Errorf("%s → %s should be illegal", tr.from, tr.to)
		}
	}
}

func TestDueTransition_ScheduledActivates(t *testing.T) {
	a := &model.Auction{
		Status:   model.StatusScheduled,
		StartsAt: baseTime,
		EndsAt:   baseTime.Add(time.Hour),
	}

	if _, ok := lifecycle.DueTransition(a, baseTime.Add(-time.Second)); ok {
		t.Error("scheduled auction must not activate before starts_at")
	}
	to, ok := lifecycle.DueTransition(a, baseTime)
	if !ok || to != model.StatusActive {
		t.Errorf("expected active at starts_at, got (%s, %v)", to, ok)
	}
}

func TestDueTransition_ActiveEndsAtEffectiveEnd(t *testing.T) {
	a := &model.Auction{
		Status:   model.StatusActive,
		StartsAt: baseTime.Add(-time.Hour),
		EndsAt:   baseTime,
	}

	to, ok := lifecycle.DueTransition(a, baseTime)
	if !ok || to != model.StatusEnded {
		t.Errorf("expected ended at ends_at, got (%s, %v)", to, ok)
	}

	// An anti-snipe extension keeps it open past the scheduled end.
	until := baseTime.Add(90 * time.Second)
	a.ExtendedUntil = &until
	if _, ok := lifecycle.DueTransition(a, baseTime); ok {
		t.Error("extended auction must not end before extended_until")
	}
	to, ok = lifecycle.DueTransition(a, until)
	if !ok || to != model.StatusEnded {
		t.Errorf("expected ended at extended_until, got (%s, %v)", to, ok)
	}
}

func TestResolve_ReserveNotMet(t *testing.T) {
	a := &model.Auction{
		Status:       model.StatusEnded,
		ReservePrice: 500000,
		CurrentBid:   480000,
		BidCount:     7,
	}
	if got := lifecycle.Resolve(a); got != model.StatusNoSale {
		t.Errorf("reserve not met: expected no_sale, got %s", got)
	}
}

func TestResolve_ReserveMet(t *testing.T) {
	a := &model.Auction{
		Status:       model.StatusEnded,
		ReservePrice: 500000,
		CurrentBid:   500000,
		BidCount:     8,
	}
	if got := lifecycle.Resolve(a); got != model.StatusAdjudicated {
		t.Errorf("reserve met: expected adjudicated, got %s", got)
	}
}

func TestResolve_NoBids(t *testing.T) {
	a := &model.Auction{Status: model.StatusEnded}
	if got := lifecycle.Resolve(a); got != model.StatusNoSale {
		t.Errorf("no bids: expected no_sale, got %s", got)
	}
}

func TestResolve_NoReserve(t *testing.T) {
	a := &model.Auction{Status: model.StatusEnded, CurrentBid: 100000, BidCount: 1}
	if got := lifecycle.Resolve(a); got != model.StatusAdjudicated {
		t.Errorf("no reserve: expected adjudicated, got %s", got)
	}
}
