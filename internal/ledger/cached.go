package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/openlot/auction-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache. Writes go to the primary store and invalidate the cache; reads
// check Redis first then fall back to the primary. Compare-and-swap writes
// are never served from cache — only the read-only queries are.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Writes (go to primary, invalidate cache) ---

func (s *CachedStore) CreateAuction(ctx context.Context, a *model.Auction) error {
	if err := s.primary.CreateAuction(ctx, a); err != nil {
		return err
	}
	s.cacheAuction(ctx, a)
	return nil
}

func (s *CachedStore) AppendBid(ctx context.Context, auctionID, bidderID string, amount, expectedCurrentBid int64, now time.Time) (*model.Bid, int64, error) {
	bid, version, err := s.primary.AppendBid(ctx, auctionID, bidderID, amount, expectedCurrentBid, now)
	if err != nil {
		return nil, 0, err
	}
	s.invalidate(ctx, auctionID)
	return bid, version, nil
}

func (s *CachedStore) ExtendCloseTime(ctx context.Context, auctionID string, newExtendedUntil time.Time, expectedExtendedUntil *time.Time) (int64, error) {
	version, err := s.primary.ExtendCloseTime(ctx, auctionID, newExtendedUntil, expectedExtendedUntil)
	if err != nil {
		return 0, err
	}
	s.invalidate(ctx, auctionID)
	return version, nil
}

func (s *CachedStore) TransitionStatus(ctx context.Context, auctionID string, from, to model.Status, winnerID *string, winningBid *int64, now time.Time) (int64, error) {
	version, err := s.primary.TransitionStatus(ctx, auctionID, from, to, winnerID, winningBid, now)
	if err != nil {
		return 0, err
	}
	s.invalidate(ctx, auctionID)
	return version, nil
}

// --- Reads (check cache first) ---

func (s *CachedStore) GetAuction(ctx context.Context, id string) (*model.Auction, error) {
	data, err := s.rdb.Get(ctx, auctionKey(id)).Bytes()
	if err == nil {
		var a model.Auction
		if json.Unmarshal(data, &a) == nil {
			return &a, nil
		}
	}

	a, err := s.primary.GetAuction(ctx, id)
	if err != nil {
		return nil, err
	}

	s.cacheAuction(ctx, a)
	return a, nil
}

func (s *CachedStore) ListBids(ctx context.Context, auctionID string) ([]model.Bid, error) {
	data, err := s.rdb.Get(ctx, bidsKey(auctionID)).Bytes()
	if err == nil {
		var bids []model.Bid
		if json.Unmarshal(data, &bids) == nil {
			return bids, nil
		}
	}

	bids, err := s.primary.ListBids(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(bids); err == nil {
		s.rdb.Set(ctx, bidsKey(auctionID), data, s.ttl)
	}
	return bids, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListAuctions(ctx context.Context) ([]model.Auction, error) {
	return s.primary.ListAuctions(ctx)
}

// --- Cache helpers ---

func (s *CachedStore) cacheAuction(ctx context.Context, a *model.Auction) {
	if data, err := json.Marshal(a); err == nil {
		s.rdb.Set(ctx, auctionKey(a.ID), data, s.ttl)
	}
}

func (s *CachedStore) invalidate(ctx context.Context, auctionID string) {
	s.rdb.Del(ctx, auctionKey(auctionID), bidsKey(auctionID))
}

func auctionKey(id string) string { return fmt.Sprintf("auction:%s", id) }
func bidsKey(id string) string    { return fmt.Sprintf("auction:%s:bids", id) }
