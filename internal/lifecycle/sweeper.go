package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/openlot/auction-engine/internal/ledger"
	"github.com/openlot/auction-engine/internal/metrics"
	"github.com/openlot/auction-engine/internal/model"
)

// Publisher receives committed status changes for fan-out to subscribers.
type Publisher interface {
	Publish(ev model.Event)
}

// Sweeper drives the automatic lifecycle transitions: it periodically scans
// auctions and applies any due transition through the ledger's
// compare-and-swap. A conflict means another node (or a racing bid) already
// moved the auction — the sweeper skips and picks it up next tick.
type Sweeper struct {
	store    ledger.Store
	pub      Publisher
	clock    model.Clock
	interval time.Duration
}

// NewSweeper creates a sweeper. pub may be nil when no fan-out is wanted.
func NewSweeper(store ledger.Store, pub Publisher, clock model.Clock, interval time.Duration) *Sweeper {
	return &Sweeper{
		store:    store,
		pub:      pub,
		clock:    clock,
		interval: interval,
	}
}

// Run sweeps until ctx is cancelled. Must be called in a goroutine.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep applies every due automatic transition once.
func (s *Sweeper) Sweep(ctx context.Context) {
	auctions, err := s.store.ListAuctions(ctx)
	if err != nil {
		slog.Error("sweep: list auctions failed", "err", err)
		return
	}

	now := s.clock.Now()
	for i := range auctions {
		a := &auctions[i]
		to, ok := DueTransition(a, now)
		if !ok {
			continue
		}

		version, err := s.store.TransitionStatus(ctx, a.ID, a.Status, to, nil, nil, now)
		if err != nil {
			if errors.Is(err, ledger.ErrConflict) {
				continue // someone else moved it first
			}
			slog.Error("sweep: transition failed", "auction_id", a.ID, "to", to, "err", err)
			continue
		}

		metrics.StatusTransitions.WithLabelValues(string(to)).Inc()
		slog.Info("auction transitioned", "auction_id", a.ID, "from", a.Status, "to", to)

		if s.pub != nil {
			s.pub.Publish(model.Event{
				Type:      model.EventAuctionStatusChanged,
				AuctionID: a.ID,
				Seq:       version,
				NewStatus: to,
			})
		}
	}
}
