// Package bidding implements the bid-acceptance protocol: the pure validation
// rules, the anti-snipe close-time extension, the realtime propagation hub,
// and the submission façade that composes them over the ledger.
package bidding

import (
	"time"

	"github.com/openlot/auction-engine/internal/model"
)

// Rejection is a machine-readable reason a bid was not accepted. Validation
// rejections are returned synchronously to the caller and never retried.
type Rejection struct {
	Reason string
}

func (r *Rejection) Error() string { return "bidding: rejected: " + r.Reason }

var (
	// ErrAuctionNotOpen rejects bids outside an active auction's bidding window.
	ErrAuctionNotOpen = &Rejection{Reason: "auction_not_open"}

	// ErrBelowMinimum rejects bids under the minimum acceptable next amount.
	ErrBelowMinimum = &Rejection{Reason: "below_minimum"}

	// ErrInvalidAmount rejects non-positive bid amounts.
	ErrInvalidAmount = &Rejection{Reason: "invalid_amount"}

	// ErrNotEligible rejects bidders the eligibility gate refused.
	ErrNotEligible = &Rejection{Reason: "not_eligible"}

	// ErrBidConflict is surfaced after the bounded retry on ledger conflicts
	// is exhausted: the price moved, the caller should re-bid against it.
	ErrBidConflict = &Rejection{Reason: "bid_conflict"}
)

// MinimumNextBid is the lowest amount the auction will accept next:
// current bid plus one increment once bidding has started, otherwise the
// start price.
func MinimumNextBid(a *model.Auction) int64 {
	if a.CurrentBid > 0 {
		return a.CurrentBid + a.BidIncrement
	}
	return a.StartPrice
}

// Validate applies the acceptance rules in order; the first failing rule wins.
// It is a pure function over the auction snapshot — the race-safe gate is the
// ledger's compare-and-swap, which re-validates the same minimum implicitly.
func Validate(a *model.Auction, amount int64, now time.Time) error {
	if a.Status != model.StatusActive {
		return ErrAuctionNotOpen
	}
	if now.Before(a.StartsAt) || !now.Before(a.EffectiveEnd()) {
		return ErrAuctionNotOpen
	}
	if amount < MinimumNextBid(a) {
		return ErrBelowMinimum
	}
	if amount <= 0 {
		return ErrInvalidAmount
	}
	return nil
}
