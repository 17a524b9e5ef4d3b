package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openlot/auction-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.Mutex
	auctions map[string]*model.Auction
	bids     map[string][]model.Bid // auctionID → bids in commit order
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		auctions: make(map[string]*model.Auction),
		bids:     make(map[string][]model.Bid),
	}
}

func (s *MemoryStore) CreateAuction(_ context.Context, a *model.Auction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to avoid external mutation.
	cp := *a
	s.auctions[a.ID] = &cp
	return nil
}

func (s *MemoryStore) GetAuction(_ context.Context, id string) (*model.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.auctions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) ListAuctions(_ context.Context) ([]model.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	auctions := make([]model.Auction, 0, len(s.auctions))
	for _, a := range s.auctions {
		auctions = append(auctions, *a)
	}
	sort.Slice(auctions, func(i, j int) bool {
		return auctions[i].CreatedAt.After(auctions[j].CreatedAt)
	})
	return auctions, nil
}

func (s *MemoryStore) ListBids(_ context.Context, auctionID string) ([]model.Bid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.auctions[auctionID]; !ok {
		return nil, ErrNotFound
	}

	bids := make([]model.Bid, len(s.bids[auctionID]))
	copy(bids, s.bids[auctionID])
	sort.Slice(bids, func(i, j int) bool {
		return bids[i].Amount > bids[j].Amount
	})
	return bids, nil
}

func (s *MemoryStore) AppendBid(_ context.Context, auctionID, bidderID string, amount, expectedCurrentBid int64, now time.Time) (*model.Bid, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.auctions[auctionID]
	if !ok {
		return nil, 0, ErrNotFound
	}
	if a.Status != model.StatusActive || !now.Before(a.EffectiveEnd()) {
		return nil, 0, ErrAuctionClosed
	}
	if a.CurrentBid != expectedCurrentBid {
		return nil, 0, ErrConflict
	}

	bid := model.Bid{
		ID:        uuid.New().String(),
		AuctionID: auctionID,
		BidderID:  bidderID,
		Amount:    amount,
		CreatedAt: now,
		IsWinning: true,
	}

	prev := s.bids[auctionID]
	if n := len(prev); n > 0 {
		prev[n-1].IsWinning = false
	}
	s.bids[auctionID] = append(prev, bid)

	a.CurrentBid = amount
	a.BidCount++
	a.Version++

	return &bid, a.Version, nil
}

func (s *MemoryStore) ExtendCloseTime(_ context.Context, auctionID string, newExtendedUntil time.Time, expectedExtendedUntil *time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.auctions[auctionID]
	if !ok {
		return 0, ErrNotFound
	}
	if a.Status != model.StatusActive {
		return 0, ErrAuctionClosed
	}
	if !timesMatch(a.ExtendedUntil, expectedExtendedUntil) {
		return 0, ErrConflict
	}

	u := newExtendedUntil
	a.ExtendedUntil = &u
	a.Version++
	return a.Version, nil
}

func (s *MemoryStore) TransitionStatus(_ context.Context, auctionID string, from, to model.Status, winnerID *string, winningBid *int64, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.auctions[auctionID]
	if !ok {
		return 0, ErrNotFound
	}
	if a.Status != from {
		return 0, ErrConflict
	}
	if from == model.StatusActive && to == model.StatusEnded {
		// The close is only final once now is past the effective end and the
		// latest bid is outside the anti-snipe window: a bid accepted just
		// before the close may still have its extension commit in flight.
		if now.Before(a.EffectiveEnd()) {
			return 0, ErrConflict
		}
		if list := s.bids[auctionID]; len(list) > 0 {
			last := list[len(list)-1]
			if now.Before(last.CreatedAt.Add(a.AntiSnipeWindow)) {
				return 0, ErrConflict
			}
		}
	}

	a.Status = to
	if winnerID != nil {
		a.WinnerID = winnerID
	}
	if winningBid != nil {
		a.WinningBid = winningBid
	}
	a.Version++
	return a.Version, nil
}

func timesMatch(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
