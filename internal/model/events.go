package model

import "time"

// EventType identifies a committed ledger mutation relayed to subscribers.
type EventType string

const (
	EventBidAccepted          EventType = "bid_accepted"
	EventAuctionExtended      EventType = "auction_extended"
	EventAuctionStatusChanged EventType = "auction_status_changed"
)

// Event is one committed mutation on one auction. Seq is the auction Version
// that the mutation committed, so events for an auction form a gapless,
// strictly increasing sequence starting at the snapshot version + 1.
type Event struct {
	Type      EventType `json:"type"`
	AuctionID string    `json:"auction_id"`
	Seq       int64     `json:"seq"`

	// EventBidAccepted
	Bid *Bid `json:"bid,omitempty"`

	// EventAuctionExtended
	NewEffectiveEnd *time.Time `json:"new_effective_end,omitempty"`

	// EventAuctionStatusChanged
	NewStatus  Status  `json:"new_status,omitempty"`
	WinnerID   *string `json:"winner_id,omitempty"`
	WinningBid *int64  `json:"winning_bid,omitempty"`
}
