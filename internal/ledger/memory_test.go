package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/openlot/auction-engine/internal/ledger"
	"github.com/openlot/auction-engine/internal/model"
)

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newAuction(id string) *model.Auction {
	return &model.Auction{
		ID:              id,
		VehicleID:       "v-" + id,
		StartPrice:      100000,
		BidIncrement:    5000,
		StartsAt:        baseTime.Add(-time.Hour),
		EndsAt:          baseTime.Add(time.Hour),
		AntiSnipeWindow: 2 * time.Minute,
		Status:          model.StatusActive,
		CreatedAt:       baseTime.Add(-2 * time.Hour),
	}
}

func seed(t *testing.T, s ledger.Store, a *model.Auction) {
	t.Helper()
	if err := s.CreateAuction(context.Background(), a); err != nil {
		t.Fatalf("create auction: %v", err)
	}
}

func TestGetAuction_NotFound(t *testing.T) {
	s := ledger.NewMemoryStore()
	if _, err := s.GetAuction(context.Background(), "missing"); !errors.Is(err, ledger.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestAppendBid_UpdatesCountersAtomically(t *testing.T) {
	s := ledger.NewMemoryStore()
	seed(t, s, newAuction("a1"))
	ctx := context.Background()

	bid1, v1, err := s.AppendBid(ctx, "a1", "alice", 100000, 0, baseTime)
	if err != nil {
		t.Fatalf("first append: %v", err)
	}
	if !bid1.IsWinning {
		t.Error("first bid should be winning")
	}
	if v1 != 1 {
		t.Errorf("expected version 1, got %d", v1)
	}

	bid2, v2, err := s.AppendBid(ctx, "a1", "bob", 105000, 100000, baseTime.Add(time.Second))
	if err != nil {
		t.Fatalf("second append: %v", err)
	}
	if v2 != 2 {
		t.Errorf("expected version 2, got %d", v2)
	}

	a, _ := s.GetAuction(ctx, "a1")
	if a.CurrentBid != 105000 {
		t.Errorf("current_bid=%d, want 105000", a.CurrentBid)
	}
	if a.BidCount != 2 {
		t.Errorf("bid_count=%d, want 2", a.BidCount)
	}

	bids, _ := s.ListBids(ctx, "a1")
	if len(bids) != 2 {
		t.Fatalf("expected 2 bids, got %d", len(bids))
	}
	// Highest first; only the highest carries is_winning.
	if bids[0].ID != bid2.ID || !bids[0].IsWinning {
		t.Error("highest bid should be first and winning")
	}
	if bids[1].ID != bid1.ID || bids[1].IsWinning {
		t.Error("outbid entry must no longer be winning")
	}
}

func TestAppendBid_StaleExpectedConflicts(t *testing.T) {
	s := ledger.NewMemoryStore()
	seed(t, s, newAuction("a1"))
	ctx := context.Background()

	if _, _, err := s.AppendBid(ctx, "a1", "alice", 100000, 0, baseTime); err != nil {
		t.Fatalf("append: %v", err)
	}

	// Second writer still expects current_bid=0.
	if _, _, err := s.AppendBid(ctx, "a1", "bob", 110000, 0, baseTime); !errors.Is(err, ledger.ErrConflict) {
		t.Errorf("expected ErrConflict for stale expected value, got %v", err)
	}
}

func TestAppendBid_ClosedAuction(t *testing.T) {
	ctx := context.Background()

	s := ledger.NewMemoryStore()
	a := newAuction("a1")
	a.Status = model.StatusEnded
	seed(t, s, a)
	if _, _, err := s.AppendBid(ctx, "a1", "alice", 100000, 0, baseTime); !errors.Is(err, ledger.ErrAuctionClosed) {
		t.Errorf("ended status: expected ErrAuctionClosed, got %v", err)
	}

	// Active status but past the effective end: the time check is atomic
	// with the append.
	s2 := ledger.NewMemoryStore()
	seed(t, s2, newAuction("a2"))
	late := baseTime.Add(2 * time.Hour)
	if _, _, err := s2.AppendBid(ctx, "a2", "alice", 100000, 0, late); !errors.Is(err, ledger.ErrAuctionClosed) {
		t.Errorf("past effective end: expected ErrAuctionClosed, got %v", err)
	}
}

func TestAppendBid_ConcurrentExactlyOneWins(t *testing.T) {
	s := ledger.NewMemoryStore()
	seed(t, s, newAuction("a1"))
	ctx := context.Background()

	const racers = 16
	var wg sync.WaitGroup
	results := make([]error, racers)

	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			amount := 100000 + int64(i) // distinct amounts, same expected value
			_, _, err := s.AppendBid(ctx, "a1", "racer", amount, 0, baseTime)
			results[i] = err
		}(i)
	}
	wg.Wait()

	wins, conflicts := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ledger.ErrConflict):
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("expected exactly 1 winner, got %d", wins)
	}
	if conflicts != racers-1 {
		t.Errorf("expected %d conflicts, got %d", racers-1, conflicts)
	}

	a, _ := s.GetAuction(ctx, "a1")
	if a.BidCount != 1 {
		t.Errorf("bid_count=%d, want 1", a.BidCount)
	}
}

func TestAppendBid_AmountsStrictlyIncreaseInCommitOrder(t *testing.T) {
	s := ledger.NewMemoryStore()
	seed(t, s, newAuction("a1"))
	ctx := context.Background()

	// Hammer the store from many goroutines with a read-validate-append loop;
	// whatever interleaving happens, committed amounts must strictly increase.
	const bidders = 8
	var wg sync.WaitGroup
	for i := 0; i < bidders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for attempt := 0; attempt < 20; attempt++ {
				a, err := s.GetAuction(ctx, "a1")
				if err != nil {
					return
				}
				next := a.StartPrice
				if a.CurrentBid > 0 {
					next = a.CurrentBid + a.BidIncrement
				}
				if _, _, err := s.AppendBid(ctx, "a1", "bidder", next, a.CurrentBid, baseTime); err == nil {
					return
				}
			}
		}(i)
	}
	wg.Wait()

	bids, _ := s.ListBids(ctx, "a1")
	if len(bids) == 0 {
		t.Fatal("expected at least one committed bid")
	}
	// ListBids returns amount-descending; reverse gives commit order here
	// since amounts strictly increase.
	for i := 1; i < len(bids); i++ {
		if bids[i-1].Amount <= bids[i].Amount {
			t.Fatalf("amounts not strictly increasing: %d then %d", bids[i].Amount, bids[i-1].Amount)
		}
	}

	a, _ := s.GetAuction(ctx, "a1")
	if a.CurrentBid != bids[0].Amount {
		t.Errorf("current_bid=%d diverged from highest bid %d", a.CurrentBid, bids[0].Amount)
	}
	if a.BidCount != len(bids) {
		t.Errorf("bid_count=%d diverged from ledger size %d", a.BidCount, len(bids))
	}
}

func TestExtendCloseTime_CAS(t *testing.T) {
	s := ledger.NewMemoryStore()
	seed(t, s, newAuction("a1"))
	ctx := context.Background()

	first := baseTime.Add(90 * time.Minute)
	if _, err := s.ExtendCloseTime(ctx, "a1", first, nil); err != nil {
		t.Fatalf("first extension: %v", err)
	}

	// A writer that still thinks there is no extension loses.
	if _, err := s.ExtendCloseTime(ctx, "a1", baseTime.Add(2*time.Hour), nil); !errors.Is(err, ledger.ErrConflict) {
		t.Errorf("expected ErrConflict for stale extension, got %v", err)
	}

	// Re-reading and recomputing from the committed value succeeds.
	second := baseTime.Add(2 * time.Hour)
	if _, err := s.ExtendCloseTime(ctx, "a1", second, &first); err != nil {
		t.Fatalf("second extension: %v", err)
	}

	a, _ := s.GetAuction(ctx, "a1")
	if !a.EffectiveEnd().Equal(second) {
		t.Errorf("effective end=%v, want %v", a.EffectiveEnd(), second)
	}
}

func TestExtendCloseTime_RequiresActive(t *testing.T) {
	s := ledger.NewMemoryStore()
	a := newAuction("a1")
	a.Status = model.StatusEnded
	seed(t, s, a)

	until := baseTime.Add(time.Hour)
	if _, err := s.ExtendCloseTime(context.Background(), "a1", until, nil); !errors.Is(err, ledger.ErrAuctionClosed) {
		t.Errorf("expected ErrAuctionClosed extending an ended auction, got %v", err)
	}
}

func TestTransitionStatus_CAS(t *testing.T) {
	s := ledger.NewMemoryStore()
	a := newAuction("a1")
	a.Status = model.StatusScheduled
	seed(t, s, a)
	ctx := context.Background()

	if _, err := s.TransitionStatus(ctx, "a1", model.StatusScheduled, model.StatusActive, nil, nil, baseTime); err != nil {
		t.Fatalf("transition: %v", err)
	}

	// A stale transition against the old status fails.
	if _, err := s.TransitionStatus(ctx, "a1", model.StatusScheduled, model.StatusCancelled, nil, nil, baseTime); !errors.Is(err, ledger.ErrConflict) {
		t.Errorf("expected ErrConflict for stale transition, got %v", err)
	}
}

func TestTransitionStatus_EndRefusedBeforeClose(t *testing.T) {
	s := ledger.NewMemoryStore()
	seed(t, s, newAuction("a1"))

	if _, err := s.TransitionStatus(context.Background(), "a1", model.StatusActive, model.StatusEnded, nil, nil, baseTime); !errors.Is(err, ledger.ErrConflict) {
		t.Errorf("expected ErrConflict ending before the effective close, got %v", err)
	}
}

func TestTransitionStatus_EndWaitsOutAntiSnipeWindow(t *testing.T) {
	s := ledger.NewMemoryStore()
	a := newAuction("a1")
	a.EndsAt = baseTime.Add(time.Minute)
	seed(t, s, a)
	ctx := context.Background()

	// A bid one second before the close; its extension has not committed.
	bidAt := baseTime.Add(59 * time.Second)
	if _, _, err := s.AppendBid(ctx, "a1", "alice", 100000, 0, bidAt); err != nil {
		t.Fatalf("append: %v", err)
	}

	// At the scheduled close the bid still sits inside the window: no end.
	if _, err := s.TransitionStatus(ctx, "a1", model.StatusActive, model.StatusEnded, nil, nil, a.EndsAt); !errors.Is(err, ledger.ErrConflict) {
		t.Errorf("expected ErrConflict while the window is open, got %v", err)
	}

	// Once the window after the last bid has passed, the end commits.
	quiet := bidAt.Add(a.AntiSnipeWindow)
	if _, err := s.TransitionStatus(ctx, "a1", model.StatusActive, model.StatusEnded, nil, nil, quiet); err != nil {
		t.Fatalf("end after quiet window: %v", err)
	}
	got, _ := s.GetAuction(ctx, "a1")
	if got.Status != model.StatusEnded {
		t.Errorf("status=%s, want ended", got.Status)
	}
}

func TestTransitionStatus_SetsWinner(t *testing.T) {
	s := ledger.NewMemoryStore()
	a := newAuction("a1")
	a.Status = model.StatusEnded
	seed(t, s, a)
	ctx := context.Background()

	winner := "alice"
	amount := int64(125000)
	if _, err := s.TransitionStatus(ctx, "a1", model.StatusEnded, model.StatusAdjudicated, &winner, &amount, baseTime); err != nil {
		t.Fatalf("adjudicate: %v", err)
	}

	got, _ := s.GetAuction(ctx, "a1")
	if got.WinnerID == nil || *got.WinnerID != "alice" {
		t.Error("winner_id not recorded")
	}
	if got.WinningBid == nil || *got.WinningBid != 125000 {
		t.Error("winning_bid not recorded")
	}
}

func TestVersion_MonotonicAcrossMutations(t *testing.T) {
	s := ledger.NewMemoryStore()
	seed(t, s, newAuction("a1"))
	ctx := context.Background()

	_, v1, _ := s.AppendBid(ctx, "a1", "alice", 100000, 0, baseTime)
	v2, _ := s.ExtendCloseTime(ctx, "a1", baseTime.Add(2*time.Hour), nil)
	v3, _ := s.TransitionStatus(ctx, "a1", model.StatusActive, model.StatusCancelled, nil, nil, baseTime)

	if !(v1 < v2 && v2 < v3) {
		t.Errorf("versions must strictly increase: %d, %d, %d", v1, v2, v3)
	}
}
