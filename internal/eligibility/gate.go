// Package eligibility defines the contract the engine consumes from the
// external buyer registration and deposit system (KYC plus payment
// pre-authorization). The engine never authenticates or charges anything
// itself — it only asks whether an identity may bid and triggers the deposit
// side effect.
package eligibility

import (
	"context"
	"fmt"
	"sync"
)

// Gate is the external eligibility capability.
type Gate interface {
	// CanBid reports whether the bidder may place bids on the auction.
	CanBid(ctx context.Context, bidderID, auctionID string) (bool, error)

	// ChargeDeposit places the qualification deposit hold for a bidder on an
	// auction and returns a receipt id. Implementations must be idempotent
	// per (bidder, auction) pair.
	ChargeDeposit(ctx context.Context, bidderID, auctionID string, amount int64) (string, error)
}

// StaticGate is an in-process Gate for development and tests: an allow-list
// of bidder ids (empty list allows everyone) and recorded deposit receipts.
type StaticGate struct {
	mu       sync.Mutex
	allowed  map[string]bool
	receipts map[string]string // bidder|auction → receipt id
	nextID   int
}

// NewStaticGate creates a gate allowing the listed bidders. With no bidders
// listed, everyone is eligible.
func NewStaticGate(bidderIDs ...string) *StaticGate {
	allowed := make(map[string]bool, len(bidderIDs))
	for _, id := range bidderIDs {
		allowed[id] = true
	}
	return &StaticGate{
		allowed:  allowed,
		receipts: make(map[string]string),
	}
}

func (g *StaticGate) CanBid(_ context.Context, bidderID, _ string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.allowed) == 0 {
		return true, nil
	}
	return g.allowed[bidderID], nil
}

func (g *StaticGate) ChargeDeposit(_ context.Context, bidderID, auctionID string, _ int64) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := bidderID + "|" + auctionID
	if receipt, ok := g.receipts[key]; ok {
		return receipt, nil
	}
	g.nextID++
	receipt := fmt.Sprintf("dep-%d", g.nextID)
	g.receipts[key] = receipt
	return receipt, nil
}

// Deposits returns the number of deposit holds placed. Test helper.
func (g *StaticGate) Deposits() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.receipts)
}
