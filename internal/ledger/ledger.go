// Package ledger defines the persistence interface for auctions and their
// immutable bid history. Implementations include PostgreSQL (source of truth),
// Redis (read-through cache), and in-memory (for testing).
//
// The ledger is the serialization point for bidding: AppendBid, ExtendCloseTime
// and TransitionStatus are compare-and-swap writes that fail with ErrConflict
// when the guarded field moved since the caller last read it. The order in
// which appends win their compare-and-swap is the authoritative bid order.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/openlot/auction-engine/internal/model"
)

var (
	// ErrNotFound is returned when no auction exists for the given id.
	ErrNotFound = errors.New("ledger: auction not found")

	// ErrConflict is returned when a compare-and-swap write lost a race:
	// the guarded field no longer matches the value the caller observed.
	// Not an application error — re-read and retry.
	ErrConflict = errors.New("ledger: concurrent modification")

	// ErrAuctionClosed is returned by AppendBid when the auction is not
	// accepting bids (status not active, or the effective close has passed).
	// The check is atomic with the append, so a bid can never be committed
	// into a closed auction.
	ErrAuctionClosed = errors.New("ledger: auction closed to bidding")
)

// Store is the persistence interface. Every successful mutation increments
// the auction's Version; mutating operations return the committed version,
// which the broker uses as the event sequence number.
type Store interface {
	// CreateAuction persists a new auction record.
	CreateAuction(ctx context.Context, a *model.Auction) error

	// GetAuction retrieves an auction by id.
	GetAuction(ctx context.Context, id string) (*model.Auction, error)

	// ListAuctions returns all auctions, newest first.
	ListAuctions(ctx context.Context) ([]model.Auction, error)

	// ListBids returns all accepted bids for an auction, highest amount first.
	ListBids(ctx context.Context, auctionID string) ([]model.Bid, error)

	// AppendBid commits an accepted bid atomically: inserts the bid, updates
	// current_bid and bid_count, and moves the is_winning flag, guarded by a
	// compare-and-swap on current_bid. now is checked against the effective
	// close inside the same critical section.
	AppendBid(ctx context.Context, auctionID, bidderID string, amount, expectedCurrentBid int64, now time.Time) (*model.Bid, int64, error)

	// ExtendCloseTime moves the anti-snipe extension forward on an active
	// auction, guarded by a compare-and-swap on extended_until. Callers only
	// ever extend forward. Fails with ErrAuctionClosed once the auction has
	// left active.
	ExtendCloseTime(ctx context.Context, auctionID string, newExtendedUntil time.Time, expectedExtendedUntil *time.Time) (int64, error)

	// TransitionStatus applies a lifecycle transition, guarded by a
	// compare-and-swap on status. Ending an active auction additionally
	// requires now to be past the effective close with the latest accepted
	// bid outside the anti-snipe window, so a late bid whose extension
	// commit is still in flight holds the auction open. winnerID/winningBid
	// are set on adjudication and left nil otherwise.
	TransitionStatus(ctx context.Context, auctionID string, from, to model.Status, winnerID *string, winningBid *int64, now time.Time) (int64, error)
}
