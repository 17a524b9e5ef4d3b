package bidding

import (
	"context"
	"log/slog"
	"sync"

	"github.com/openlot/auction-engine/internal/ledger"
	"github.com/openlot/auction-engine/internal/metrics"
	"github.com/openlot/auction-engine/internal/model"
)

// subscriptionBuffer is the per-subscriber channel depth. A subscriber that
// falls this far behind is dropped and must resubscribe through the snapshot
// path, which replays everything it missed.
const subscriptionBuffer = 64

// Snapshot is the consistent starting point delivered to every new subscriber
// before any incremental events: the auction row plus its full bid list, as
// of Version. Events with Seq ≤ Version are already reflected in it.
type Snapshot struct {
	Auction model.Auction `json:"auction"`
	Bids    []model.Bid   `json:"bids"`
}

// Subscription is one observer's ordered view of a single auction.
type Subscription struct {
	Snapshot Snapshot

	// Events carries committed mutations with Seq > Snapshot version, in
	// commit order. Closed when the subscription is cancelled or dropped.
	Events chan model.Event

	hub       *Hub
	auctionID string
	lastSeq   int64
	dropped   bool
}

// Hub fans committed ledger mutations out to subscribers per auction.
//
// Ordering: each topic delivers events in strictly increasing Seq (the
// auction Version that committed them). Publishes arriving out of order are
// buffered until the gap fills, so the delivered stream matches commit order
// regardless of goroutine scheduling between commit and publish.
//
// Snapshot consistency: Subscribe reads its snapshot from the ledger and
// then registers against the topic's delivery position. The position only
// jumps forward to a snapshot when no subscriber is registered; with live
// subscribers it stays put, so an event committed before a newcomer's
// snapshot still reaches everyone whose stream started earlier.
// Redeliveries (Seq ≤ snapshot version, or ≤ the last delivered Seq) are
// filtered per subscriber.
type Hub struct {
	store ledger.Store

	mu     sync.Mutex
	topics map[string]*topic
}

type topic struct {
	nextSeq int64 // 0 until the first publish or subscribe pins it
	pending map[int64]model.Event
	subs    map[*Subscription]struct{}
}

// NewHub creates a hub reading snapshots from the given store.
func NewHub(store ledger.Store) *Hub {
	return &Hub{
		store:  store,
		topics: make(map[string]*topic),
	}
}

// Subscribe registers interest in one auction. The returned subscription
// carries the snapshot and then a gapless event stream. Callers must drain
// Events promptly and call Unsubscribe when done.
func (h *Hub) Subscribe(ctx context.Context, auctionID string) (*Subscription, error) {
	for {
		// Snapshot outside the lock: a slow ledger read must not stall
		// fan-out for every auction on the hub.
		a, err := h.store.GetAuction(ctx, auctionID)
		if err != nil {
			return nil, err
		}
		bids, err := h.store.ListBids(ctx, auctionID)
		if err != nil {
			return nil, err
		}

		h.mu.Lock()
		t := h.topic(auctionID)
		if t.nextSeq > a.Version+1 {
			// The topic already delivered past this snapshot; starting here
			// would open a gap. Re-read: the newer commits are visible now.
			h.mu.Unlock()
			continue
		}
		if len(t.subs) == 0 && t.nextSeq < a.Version+1 {
			// Nobody is owed the earlier range, so the stream may start at
			// the snapshot. With live subscribers the position stays put:
			// they still need every seq from there on, and this subscriber
			// filters what its snapshot already covers.
			t.nextSeq = a.Version + 1
			for seq := range t.pending {
				if seq < t.nextSeq {
					delete(t.pending, seq)
				}
			}
		}

		sub := &Subscription{
			Snapshot:  Snapshot{Auction: *a, Bids: bids},
			Events:    make(chan model.Event, subscriptionBuffer),
			hub:       h,
			auctionID: auctionID,
			lastSeq:   a.Version,
		}
		t.subs[sub] = struct{}{}
		h.mu.Unlock()
		return sub, nil
	}
}

// Unsubscribe removes the subscription and closes its event channel.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	t, ok := h.topics[sub.auctionID]
	if !ok {
		return
	}
	if _, ok := t.subs[sub]; ok {
		delete(t.subs, sub)
		close(sub.Events)
	}
	if len(t.subs) == 0 && len(t.pending) == 0 {
		delete(h.topics, sub.auctionID)
	}
}

// Publish relays one committed mutation. Never blocks the committer: slow
// subscribers are dropped rather than waited on.
func (h *Hub) Publish(ev model.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	t := h.topic(ev.AuctionID)
	if t.nextSeq == 0 {
		t.nextSeq = ev.Seq
	}
	if ev.Seq < t.nextSeq {
		// Already delivered (or predates every subscriber's snapshot).
		return
	}
	if ev.Seq > t.nextSeq {
		t.pending[ev.Seq] = ev
		return
	}

	h.deliver(t, ev)
	t.nextSeq++
	for {
		next, ok := t.pending[t.nextSeq]
		if !ok {
			break
		}
		delete(t.pending, t.nextSeq)
		h.deliver(t, next)
		t.nextSeq++
	}
}

// deliver sends one in-order event to every live subscriber. Caller holds h.mu.
func (h *Hub) deliver(t *topic, ev model.Event) {
	for sub := range t.subs {
		if sub.dropped || ev.Seq <= sub.lastSeq {
			continue
		}
		select {
		case sub.Events <- ev:
			sub.lastSeq = ev.Seq
		default:
			// Subscriber fell behind; cut it loose so the committer never
			// waits. It recovers by resubscribing through the snapshot path.
			sub.dropped = true
			delete(t.subs, sub)
			close(sub.Events)
			metrics.SubscribersDropped.Inc()
			slog.Warn("dropped slow subscriber", "auction_id", ev.AuctionID, "seq", ev.Seq)
		}
	}
}

// topic returns the topic for an auction, creating it if needed. Caller holds h.mu.
func (h *Hub) topic(auctionID string) *topic {
	t, ok := h.topics[auctionID]
	if !ok {
		t = &topic{
			pending: make(map[int64]model.Event),
			subs:    make(map[*Subscription]struct{}),
		}
		h.topics[auctionID] = t
	}
	return t
}
