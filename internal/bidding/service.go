package bidding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/openlot/auction-engine/internal/eligibility"
	"github.com/openlot/auction-engine/internal/ledger"
	"github.com/openlot/auction-engine/internal/lifecycle"
	"github.com/openlot/auction-engine/internal/metrics"
	"github.com/openlot/auction-engine/internal/model"
)

// maxAttempts bounds the retry loop on ledger conflicts. Retrying forever
// would stretch tail latency during bidding storms near close; after the
// bound the caller gets bid_conflict and re-bids against the fresh price.
const maxAttempts = 3

// Service is the bid submission façade: it composes the eligibility gate,
// the validator, the ledger's compare-and-swap commit, the anti-snipe
// extension and the realtime hub, and exposes the HTTP API.
type Service struct {
	store ledger.Store
	gate  eligibility.Gate
	hub   *Hub
	clock model.Clock
}

// NewService creates the façade.
func NewService(store ledger.Store, gate eligibility.Gate, hub *Hub, clock model.Clock) *Service {
	return &Service{
		store: store,
		gate:  gate,
		hub:   hub,
		clock: clock,
	}
}

// SubmitBid is the sole entry point for placing a bid. An accepted bid is
// durably committed before it is acknowledged; publication to subscribers
// happens after commit and never blocks or rolls back the acceptance.
func (s *Service) SubmitBid(ctx context.Context, auctionID, bidderID string, amount int64) (*model.Bid, error) {
	start := time.Now()
	defer func() { metrics.BidLatency.Observe(time.Since(start).Seconds()) }()

	ok, err := s.gate.CanBid(ctx, bidderID, auctionID)
	if err != nil {
		return nil, fmt.Errorf("eligibility check: %w", err)
	}
	if !ok {
		metrics.BidsTotal.WithLabelValues(ErrNotEligible.Reason).Inc()
		return nil, ErrNotEligible
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		a, err := s.store.GetAuction(ctx, auctionID)
		if err != nil {
			return nil, err
		}

		now := s.clock.Now()
		if err := Validate(a, amount, now); err != nil {
			var rej *Rejection
			if errors.As(err, &rej) {
				metrics.BidsTotal.WithLabelValues(rej.Reason).Inc()
			}
			return nil, err
		}

		bid, version, err := s.store.AppendBid(ctx, auctionID, bidderID, amount, a.CurrentBid, now)
		if errors.Is(err, ledger.ErrConflict) {
			// Lost the race to another bid; re-read and re-validate.
			metrics.BidConflicts.Inc()
			continue
		}
		if errors.Is(err, ledger.ErrAuctionClosed) {
			metrics.BidsTotal.WithLabelValues(ErrAuctionNotOpen.Reason).Inc()
			return nil, ErrAuctionNotOpen
		}
		if err != nil {
			return nil, err
		}

		// Qualification deposit hold. The gate is idempotent per bidder and
		// auction, so repeat bids are a no-op. A gate failure here never
		// rolls back the committed bid.
		if a.DepositAmount > 0 {
			if _, err := s.gate.ChargeDeposit(ctx, bidderID, auctionID, a.DepositAmount); err != nil {
				slog.Warn("deposit charge failed", "auction_id", auctionID, "bidder_id", bidderID, "err", err)
			}
		}

		s.hub.Publish(model.Event{
			Type:      model.EventBidAccepted,
			AuctionID: auctionID,
			Seq:       version,
			Bid:       bid,
		})

		s.maybeExtend(ctx, a, now)

		metrics.BidsTotal.WithLabelValues("accepted").Inc()
		slog.Info("bid accepted",
			"auction_id", auctionID,
			"bid_id", bid.ID,
			"bidder_id", bidderID,
			"amount", amount,
			"seq", version,
		)
		return bid, nil
	}

	metrics.BidsTotal.WithLabelValues(ErrBidConflict.Reason).Inc()
	return nil, ErrBidConflict
}

// maybeExtend commits the anti-snipe extension for a bid accepted at now.
// A conflict means a concurrent late bid already moved the close; re-read
// and recompute from the already-extended value.
func (s *Service) maybeExtend(ctx context.Context, a *model.Auction, now time.Time) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		newUntil, extend := EvaluateExtension(a, now)
		if !extend {
			return
		}

		version, err := s.store.ExtendCloseTime(ctx, a.ID, newUntil, a.ExtendedUntil)
		if errors.Is(err, ledger.ErrConflict) {
			fresh, rerr := s.store.GetAuction(ctx, a.ID)
			if rerr != nil {
				slog.Error("anti-snipe re-read failed", "auction_id", a.ID, "err", rerr)
				return
			}
			a = fresh
			continue
		}
		if errors.Is(err, ledger.ErrAuctionClosed) {
			// Cancelled underneath us; nothing left to hold open.
			return
		}
		if err != nil {
			slog.Error("anti-snipe extension failed", "auction_id", a.ID, "err", err)
			return
		}

		metrics.Extensions.Inc()
		end := newUntil
		s.hub.Publish(model.Event{
			Type:            model.EventAuctionExtended,
			AuctionID:       a.ID,
			Seq:             version,
			NewEffectiveEnd: &end,
		})
		slog.Info("close time extended", "auction_id", a.ID, "extended_until", newUntil)
		return
	}
}

// --- Request/Response types ---

// CreateAuctionRequest is the JSON body for auction creation.
type CreateAuctionRequest struct {
	VehicleID           string          `json:"vehicle_id"`
	StartPrice          int64           `json:"start_price"`
	ReservePrice        int64           `json:"reserve_price"`
	BidIncrement        int64           `json:"bid_increment"`
	DepositAmount       int64           `json:"deposit_amount"`
	BuyerPremiumPercent decimal.Decimal `json:"buyer_premium_percent"`
	StartsAt            time.Time       `json:"starts_at"`
	EndsAt              time.Time       `json:"ends_at"`
	AntiSnipeWindowSecs int64           `json:"anti_snipe_window_secs"`
}

// SubmitBidRequest is the JSON body for POST /auctions/{auctionID}/bids.
type SubmitBidRequest struct {
	BidderID string `json:"bidder_id"`
	Amount   int64  `json:"amount"`
}

// --- HTTP Handlers ---

// CreateAuction handles POST /api/v1/auctions
func (s *Service) CreateAuction(w http.ResponseWriter, r *http.Request) {
	var req CreateAuctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.VehicleID == "" {
		writeError(w, "vehicle_id is required", http.StatusBadRequest)
		return
	}
	if req.StartPrice <= 0 {
		writeError(w, "start_price must be positive", http.StatusBadRequest)
		return
	}
	if req.BidIncrement <= 0 {
		writeError(w, "bid_increment must be positive", http.StatusBadRequest)
		return
	}
	if !req.EndsAt.After(req.StartsAt) {
		writeError(w, "ends_at must be after starts_at", http.StatusBadRequest)
		return
	}

	a := &model.Auction{
		ID:                  uuid.New().String(),
		VehicleID:           req.VehicleID,
		StartPrice:          req.StartPrice,
		ReservePrice:        req.ReservePrice,
		BidIncrement:        req.BidIncrement,
		DepositAmount:       req.DepositAmount,
		BuyerPremiumPercent: req.BuyerPremiumPercent,
		StartsAt:            req.StartsAt.UTC(),
		EndsAt:              req.EndsAt.UTC(),
		AntiSnipeWindow:     time.Duration(req.AntiSnipeWindowSecs) * time.Second,
		Status:              model.StatusDraft,
		CreatedAt:           s.clock.Now(),
	}

	if err := s.store.CreateAuction(r.Context(), a); err != nil {
		writeError(w, "failed to create auction", http.StatusInternalServerError)
		return
	}

	slog.Info("auction created", "auction_id", a.ID, "vehicle_id", a.VehicleID, "start_price", a.StartPrice)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(a)
}

// ListAuctions handles GET /api/v1/auctions
func (s *Service) ListAuctions(w http.ResponseWriter, r *http.Request) {
	auctions, err := s.store.ListAuctions(r.Context())
	if err != nil {
		writeError(w, "failed to list auctions", http.StatusInternalServerError)
		return
	}
	if auctions == nil {
		auctions = []model.Auction{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(auctions)
}

// GetAuction handles GET /api/v1/auctions/{auctionID}
func (s *Service) GetAuction(w http.ResponseWriter, r *http.Request) {
	a, err := s.store.GetAuction(r.Context(), chi.URLParam(r, "auctionID"))
	if err != nil {
		writeError(w, "auction not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(a)
}

// ListBids handles GET /api/v1/auctions/{auctionID}/bids
func (s *Service) ListBids(w http.ResponseWriter, r *http.Request) {
	bids, err := s.store.ListBids(r.Context(), chi.URLParam(r, "auctionID"))
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			writeError(w, "auction not found", http.StatusNotFound)
		} else {
			writeError(w, "failed to list bids", http.StatusInternalServerError)
		}
		return
	}
	if bids == nil {
		bids = []model.Bid{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(bids)
}

// GetMinimumBid handles GET /api/v1/auctions/{auctionID}/minimum-bid
func (s *Service) GetMinimumBid(w http.ResponseWriter, r *http.Request) {
	a, err := s.store.GetAuction(r.Context(), chi.URLParam(r, "auctionID"))
	if err != nil {
		writeError(w, "auction not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int64{"minimum_next_bid": MinimumNextBid(a)})
}

// GetEndTime handles GET /api/v1/auctions/{auctionID}/end-time
func (s *Service) GetEndTime(w http.ResponseWriter, r *http.Request) {
	a, err := s.store.GetAuction(r.Context(), chi.URLParam(r, "auctionID"))
	if err != nil {
		writeError(w, "auction not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]time.Time{"effective_end": a.EffectiveEnd()})
}

// HandleSubmitBid handles POST /api/v1/auctions/{auctionID}/bids
func (s *Service) HandleSubmitBid(w http.ResponseWriter, r *http.Request) {
	auctionID := chi.URLParam(r, "auctionID")

	var req SubmitBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.BidderID == "" {
		writeError(w, "bidder_id is required", http.StatusBadRequest)
		return
	}

	bid, err := s.SubmitBid(r.Context(), auctionID, req.BidderID, req.Amount)
	if err != nil {
		var rej *Rejection
		switch {
		case errors.As(err, &rej):
			writeError(w, rej.Reason, rejectionStatus(rej))
		case errors.Is(err, ledger.ErrNotFound):
			writeError(w, "auction not found", http.StatusNotFound)
		default:
			slog.Error("bid submission failed", "auction_id", auctionID, "err", err)
			writeError(w, "bid submission failed", http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(bid)
}

// PublishAuction handles POST /api/v1/auctions/{auctionID}/publish
// (administrative draft → scheduled).
func (s *Service) PublishAuction(w http.ResponseWriter, r *http.Request) {
	s.applyAdminTransition(w, r, model.StatusScheduled)
}

// CancelAuction handles POST /api/v1/auctions/{auctionID}/cancel
// (administrative cancellation, any point before ended).
func (s *Service) CancelAuction(w http.ResponseWriter, r *http.Request) {
	s.applyAdminTransition(w, r, model.StatusCancelled)
}

func (s *Service) applyAdminTransition(w http.ResponseWriter, r *http.Request, to model.Status) {
	ctx := r.Context()
	auctionID := chi.URLParam(r, "auctionID")

	a, err := s.store.GetAuction(ctx, auctionID)
	if err != nil {
		writeError(w, "auction not found", http.StatusNotFound)
		return
	}

	if !lifecycle.CanTransition(a.Status, to) {
		writeError(w, "illegal transition from "+string(a.Status), http.StatusConflict)
		return
	}

	version, err := s.store.TransitionStatus(ctx, auctionID, a.Status, to, nil, nil, s.clock.Now())
	if err != nil {
		if errors.Is(err, ledger.ErrConflict) {
			writeError(w, "auction status changed concurrently", http.StatusConflict)
		} else {
			writeError(w, "transition failed", http.StatusInternalServerError)
		}
		return
	}

	metrics.StatusTransitions.WithLabelValues(string(to)).Inc()
	slog.Info("auction transitioned", "auction_id", auctionID, "from", a.Status, "to", to)

	s.hub.Publish(model.Event{
		Type:      model.EventAuctionStatusChanged,
		AuctionID: auctionID,
		Seq:       version,
		NewStatus: to,
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": string(to)})
}

// Adjudicate handles POST /api/v1/auctions/{auctionID}/adjudicate
// Confirms the sale of an ended auction: adjudicated with a settlement when
// the reserve was met, no_sale otherwise.
func (s *Service) Adjudicate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	auctionID := chi.URLParam(r, "auctionID")

	a, err := s.store.GetAuction(ctx, auctionID)
	if err != nil {
		writeError(w, "auction not found", http.StatusNotFound)
		return
	}
	if a.Status != model.StatusEnded {
		writeError(w, "auction is not ended", http.StatusConflict)
		return
	}

	to := lifecycle.Resolve(a)

	var winnerID *string
	var winningBid *int64
	if to == model.StatusAdjudicated {
		bids, err := s.store.ListBids(ctx, auctionID)
		if err != nil {
			writeError(w, "failed to load bids", http.StatusInternalServerError)
			return
		}
		for i := range bids {
			if bids[i].IsWinning {
				winnerID = &bids[i].BidderID
				winningBid = &bids[i].Amount
				break
			}
		}
		if winnerID == nil {
			writeError(w, "no winning bid found", http.StatusInternalServerError)
			return
		}
	}

	version, err := s.store.TransitionStatus(ctx, auctionID, model.StatusEnded, to, winnerID, winningBid, s.clock.Now())
	if err != nil {
		if errors.Is(err, ledger.ErrConflict) {
			writeError(w, "auction status changed concurrently", http.StatusConflict)
		} else {
			writeError(w, "transition failed", http.StatusInternalServerError)
		}
		return
	}

	metrics.StatusTransitions.WithLabelValues(string(to)).Inc()
	slog.Info("auction adjudicated", "auction_id", auctionID, "outcome", to)

	s.hub.Publish(model.Event{
		Type:       model.EventAuctionStatusChanged,
		AuctionID:  auctionID,
		Seq:        version,
		NewStatus:  to,
		WinnerID:   winnerID,
		WinningBid: winningBid,
	})

	w.Header().Set("Content-Type", "application/json")
	if to == model.StatusNoSale {
		json.NewEncoder(w).Encode(map[string]string{"status": string(model.StatusNoSale)})
		return
	}
	settlement := model.NewSettlement(auctionID, *winnerID, *winningBid, a.BuyerPremiumPercent)
	json.NewEncoder(w).Encode(settlement)
}

// rejectionStatus maps a rejection reason to its HTTP status.
func rejectionStatus(rej *Rejection) int {
	switch rej {
	case ErrNotEligible:
		return http.StatusForbidden
	case ErrBidConflict:
		return http.StatusConflict
	default:
		return http.StatusUnprocessableEntity
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
