// Package lifecycle governs auction state transitions: which transitions are
// legal, which are due automatically as time passes, and how an ended auction
// resolves against its reserve.
package lifecycle

import (
	"time"

	"github.com/openlot/auction-engine/internal/model"
)

// transitions is the legal transition table. Anything absent is illegal.
var transitions = map[model.Status][]model.Status{
	model.StatusDraft:     {model.StatusScheduled},
	model.StatusScheduled: {model.StatusActive, model.StatusCancelled},
	model.StatusActive:    {model.StatusEnded, model.StatusCancelled},
	model.StatusEnded:     {model.StatusAdjudicated, model.StatusNoSale},
}

// CanTransition reports whether from → to is a legal lifecycle transition.
func CanTransition(from, to model.Status) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// DueTransition returns the automatic transition an auction owes at time now:
// scheduled auctions activate at their start, active auctions end once the
// effective close (scheduled end or anti-snipe extension) has passed.
func DueTransition(a *model.Auction, now time.Time) (model.Status, bool) {
	switch a.Status {
	case model.StatusScheduled:
		if !now.Before(a.StartsAt) {
			return model.StatusActive, true
		}
	case model.StatusActive:
		if !now.Before(a.EffectiveEnd()) {
			return model.StatusEnded, true
		}
	}
	return "", false
}

// Resolve decides the terminal state for an ended auction: no_sale when no
// bid was accepted or the highest bid did not meet the reserve, adjudicated
// otherwise.
func Resolve(a *model.Auction) model.Status {
	if a.BidCount == 0 {
		return model.StatusNoSale
	}
	if a.ReservePrice > 0 && a.CurrentBid < a.ReservePrice {
		return model.StatusNoSale
	}
	return model.StatusAdjudicated
}
