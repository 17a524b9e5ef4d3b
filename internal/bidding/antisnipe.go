package bidding

import (
	"time"

	"github.com/openlot/auction-engine/internal/model"
)

// EvaluateExtension decides whether an accepted bid at time now must push the
// auction's effective close forward, and to when.
//
// If the remaining time is within the anti-snipe window, the close moves to
// now + window — monotonically, never backwards, so repeated late bids keep
// pushing it out and the auction only ends once a full window passes with no
// accepted bid. There is no cap on the number of extensions.
//
// The computation is stateless; the caller commits the result through the
// ledger's compare-and-swap so two near-simultaneous late bids cannot both
// write a stale extension.
func EvaluateExtension(a *model.Auction, now time.Time) (time.Time, bool) {
	end := a.EffectiveEnd()
	if end.Sub(now) > a.AntiSnipeWindow {
		return time.Time{}, false
	}

	candidate := now.Add(a.AntiSnipeWindow)
	if candidate.After(end) {
		return candidate, true
	}
	// Already extended at least this far by a concurrent bid.
	return time.Time{}, false
}
