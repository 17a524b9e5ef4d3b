// Package model defines the core domain types shared across the auction engine.
// All bid amounts are integer minor currency units (cents) — never float64 for
// money. Percentage math (buyer premium) uses shopspring/decimal.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is an auction lifecycle state. Transitions between states are
// governed by the lifecycle package; terminal states never accept bids.
type Status string

const (
	StatusDraft       Status = "draft"
	StatusScheduled   Status = "scheduled"
	StatusActive      Status = "active"
	StatusEnded       Status = "ended"
	StatusAdjudicated Status = "adjudicated"
	StatusCancelled   Status = "cancelled"
	StatusNoSale      Status = "no_sale"
)

// Terminal reports whether s accepts no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusAdjudicated, StatusCancelled, StatusNoSale:
		return true
	}
	return false
}

// Auction is the authoritative record for one vehicle auction. The ledger
// exclusively owns these; CurrentBid, ExtendedUntil, Status and the counters
// are the only fields mutated after creation, and only through ledger
// operations.
type Auction struct {
	ID        string `json:"id" db:"id"`
	VehicleID string `json:"vehicle_id" db:"vehicle_id"`

	StartPrice          int64           `json:"start_price" db:"start_price"`
	ReservePrice        int64           `json:"reserve_price" db:"reserve_price"` // 0 = no reserve
	CurrentBid          int64           `json:"current_bid" db:"current_bid"`     // 0 until first accepted bid
	BidIncrement        int64           `json:"bid_increment" db:"bid_increment"`
	DepositAmount       int64           `json:"deposit_amount" db:"deposit_amount"`
	BuyerPremiumPercent decimal.Decimal `json:"buyer_premium_percent" db:"buyer_premium_percent"`

	StartsAt        time.Time     `json:"starts_at" db:"starts_at"`
	EndsAt          time.Time     `json:"ends_at" db:"ends_at"`
	AntiSnipeWindow time.Duration `json:"anti_snipe_window" db:"anti_snipe_window"`
	ExtendedUntil   *time.Time    `json:"extended_until,omitempty" db:"extended_until"`

	Status     Status  `json:"status" db:"status"`
	WinnerID   *string `json:"winner_id,omitempty" db:"winner_id"`
	WinningBid *int64  `json:"winning_bid,omitempty" db:"winning_bid"`

	BidCount int `json:"bid_count" db:"bid_count"`

	// Version counts committed mutations for this auction. The broker uses it
	// as the event sequence, so subscribers can order and deduplicate.
	Version int64 `json:"version" db:"version"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// EffectiveEnd is the auction's actual close: the later of the scheduled end
// and any anti-snipe extension.
func (a *Auction) EffectiveEnd() time.Time {
	if a.ExtendedUntil != nil && a.ExtendedUntil.After(a.EndsAt) {
		return *a.ExtendedUntil
	}
	return a.EndsAt
}

// Bid is an immutable ledger record of one accepted bid. Rejected bids are
// never persisted. Only the IsWinning flag changes after creation, flipping
// to the next bid's favor when a higher bid is accepted.
type Bid struct {
	ID        string    `json:"id" db:"id"`
	AuctionID string    `json:"auction_id" db:"auction_id"`
	BidderID  string    `json:"bidder_id" db:"bidder_id"`
	Amount    int64     `json:"amount" db:"amount"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	IsWinning bool      `json:"is_winning" db:"is_winning"`
}

// Settlement is the outcome of adjudicating a sold auction: the hammer price
// plus the buyer premium, rounded to whole minor units.
type Settlement struct {
	AuctionID    string          `json:"auction_id"`
	WinnerID     string          `json:"winner_id"`
	HammerPrice  int64           `json:"hammer_price"`
	BuyerPremium int64           `json:"buyer_premium"`
	TotalDue     int64           `json:"total_due"`
	PremiumRate  decimal.Decimal `json:"premium_rate"`
}

// NewSettlement computes the buyer premium from the hammer price: rate% of
// hammer, rounded half-up to the nearest minor unit.
func NewSettlement(auctionID, winnerID string, hammer int64, rate decimal.Decimal) Settlement {
	premium := decimal.NewFromInt(hammer).
		Mul(rate).
		Div(decimal.NewFromInt(100)).
		Round(0).
		IntPart()
	return Settlement{
		AuctionID:    auctionID,
		WinnerID:     winnerID,
		HammerPrice:  hammer,
		BuyerPremium: premium,
		TotalDue:     hammer + premium,
		PremiumRate:  rate,
	}
}
