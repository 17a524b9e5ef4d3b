package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/openlot/auction-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Compare-and-swap writes are conditional UPDATEs: zero rows affected means
// the guard failed and the caller gets ErrConflict (or ErrAuctionClosed,
// disambiguated by a follow-up read inside the same transaction).
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const auctionColumns = `id, vehicle_id, start_price, reserve_price, current_bid,
	bid_increment, deposit_amount, buyer_premium_percent::TEXT,
	starts_at, ends_at, anti_snipe_window_secs, extended_until,
	status, winner_id, winning_bid, bid_count, version, created_at`

func (s *PostgresStore) CreateAuction(ctx context.Context, a *model.Auction) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO auctions (id, vehicle_id, start_price, reserve_price, current_bid,
		     bid_increment, deposit_amount, buyer_premium_percent,
		     starts_at, ends_at, anti_snipe_window_secs, extended_until,
		     status, winner_id, winning_bid, bid_count, version, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::NUMERIC, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		a.ID, a.VehicleID, a.StartPrice, a.ReservePrice, a.CurrentBid,
		a.BidIncrement, a.DepositAmount, a.BuyerPremiumPercent.String(),
		a.StartsAt, a.EndsAt, int64(a.AntiSnipeWindow/time.Second), a.ExtendedUntil,
		string(a.Status), a.WinnerID, a.WinningBid, a.BidCount, a.Version, a.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetAuction(ctx context.Context, id string) (*model.Auction, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+auctionColumns+` FROM auctions WHERE id = $1`, id)
	a, err := scanAuction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get auction %s: %w", id, err)
	}
	return a, nil
}

func (s *PostgresStore) ListAuctions(ctx context.Context) ([]model.Auction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+auctionColumns+` FROM auctions ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var auctions []model.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		auctions = append(auctions, *a)
	}
	return auctions, rows.Err()
}

func (s *PostgresStore) ListBids(ctx context.Context, auctionID string) ([]model.Bid, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM auctions WHERE id = $1)`, auctionID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, auction_id, bidder_id, amount, created_at, is_winning
		 FROM bids WHERE auction_id = $1 ORDER BY amount DESC`, auctionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bids []model.Bid
	for rows.Next() {
		var b model.Bid
		if err := rows.Scan(&b.ID, &b.AuctionID, &b.BidderID, &b.Amount,
			&b.CreatedAt, &b.IsWinning); err != nil {
			return nil, err
		}
		bids = append(bids, b)
	}
	return bids, rows.Err()
}

func (s *PostgresStore) AppendBid(ctx context.Context, auctionID, bidderID string, amount, expectedCurrentBid int64, now time.Time) (*model.Bid, int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer tx.Rollback(ctx)

	var version int64
	err = tx.QueryRow(ctx,
		`UPDATE auctions
		 SET current_bid = $2, bid_count = bid_count + 1, version = version + 1
		 WHERE id = $1
		   AND current_bid = $3
		   AND status = 'active'
		   AND $4 < GREATEST(ends_at, COALESCE(extended_until, ends_at))
		 RETURNING version`,
		auctionID, amount, expectedCurrentBid, now).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, 0, s.classifyAppendFailure(ctx, tx, auctionID, now)
	}
	if err != nil {
		return nil, 0, err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE bids SET is_winning = FALSE WHERE auction_id = $1 AND is_winning = TRUE`,
		auctionID); err != nil {
		return nil, 0, err
	}

	bid := model.Bid{
		ID:        uuid.New().String(),
		AuctionID: auctionID,
		BidderID:  bidderID,
		Amount:    amount,
		CreatedAt: now,
		IsWinning: true,
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO bids (id, auction_id, bidder_id, amount, created_at, is_winning)
		 VALUES ($1, $2, $3, $4, $5, TRUE)`,
		bid.ID, bid.AuctionID, bid.BidderID, bid.Amount, bid.CreatedAt); err != nil {
		return nil, 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, 0, err
	}
	return &bid, version, nil
}

// classifyAppendFailure distinguishes not-found / closed / lost-the-race for
// a failed conditional append, reading within the same transaction.
func (s *PostgresStore) classifyAppendFailure(ctx context.Context, tx pgx.Tx, auctionID string, now time.Time) error {
	var status string
	var endsAt time.Time
	var extendedUntil *time.Time
	err := tx.QueryRow(ctx,
		`SELECT status, ends_at, extended_until FROM auctions WHERE id = $1`,
		auctionID).Scan(&status, &endsAt, &extendedUntil)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	end := endsAt
	if extendedUntil != nil && extendedUntil.After(end) {
		end = *extendedUntil
	}
	if model.Status(status) != model.StatusActive || !now.Before(end) {
		return ErrAuctionClosed
	}
	return ErrConflict
}

func (s *PostgresStore) ExtendCloseTime(ctx context.Context, auctionID string, newExtendedUntil time.Time, expectedExtendedUntil *time.Time) (int64, error) {
	var version int64
	err := s.pool.QueryRow(ctx,
		`UPDATE auctions
		 SET extended_until = $2, version = version + 1
		 WHERE id = $1
		   AND status = 'active'
		   AND extended_until IS NOT DISTINCT FROM $3
		 RETURNING version`,
		auctionID, newExtendedUntil, expectedExtendedUntil).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, s.classifyExtendFailure(ctx, auctionID)
	}
	if err != nil {
		return 0, err
	}
	return version, nil
}

// classifyExtendFailure distinguishes not-found / left-active / lost-the-race
// for a failed conditional extension.
func (s *PostgresStore) classifyExtendFailure(ctx context.Context, auctionID string) error {
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT status FROM auctions WHERE id = $1`, auctionID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if model.Status(status) != model.StatusActive {
		return ErrAuctionClosed
	}
	return ErrConflict
}

func (s *PostgresStore) TransitionStatus(ctx context.Context, auctionID string, from, to model.Status, winnerID *string, winningBid *int64, now time.Time) (int64, error) {
	// Ending an active auction carries an extra guard: the effective close
	// must have passed and no bid may sit inside the anti-snipe window, so
	// a late bid whose extension is still uncommitted holds the close.
	var version int64
	err := s.pool.QueryRow(ctx,
		`UPDATE auctions
		 SET status = $3,
		     winner_id = COALESCE($4, winner_id),
		     winning_bid = COALESCE($5, winning_bid),
		     version = version + 1
		 WHERE id = $1 AND status = $2
		   AND ($2 <> 'active' OR $3 <> 'ended'
		        OR ($6 >= GREATEST(ends_at, COALESCE(extended_until, ends_at))
		            AND NOT EXISTS (
		                SELECT 1 FROM bids b
		                WHERE b.auction_id = auctions.id
		                  AND b.created_at > $6 - make_interval(secs => auctions.anti_snipe_window_secs::DOUBLE PRECISION))))
		 RETURNING version`,
		auctionID, string(from), string(to), winnerID, winningBid, now).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, s.conflictOrNotFound(ctx, auctionID)
	}
	if err != nil {
		return 0, err
	}
	return version, nil
}

func (s *PostgresStore) conflictOrNotFound(ctx context.Context, auctionID string) error {
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM auctions WHERE id = $1)`, auctionID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConflict
}

// pgxRow covers both QueryRow results and rows iteration for scanAuction.
type pgxRow interface {
	Scan(dest ...interface{}) error
}

func scanAuction(row pgxRow) (*model.Auction, error) {
	var a model.Auction
	var premium string
	var windowSecs int64
	var status string

	if err := row.Scan(&a.ID, &a.VehicleID, &a.StartPrice, &a.ReservePrice, &a.CurrentBid,
		&a.BidIncrement, &a.DepositAmount, &premium,
		&a.StartsAt, &a.EndsAt, &windowSecs, &a.ExtendedUntil,
		&status, &a.WinnerID, &a.WinningBid, &a.BidCount, &a.Version, &a.CreatedAt); err != nil {
		return nil, err
	}

	a.BuyerPremiumPercent, _ = decimal.NewFromString(premium)
	a.AntiSnipeWindow = time.Duration(windowSecs) * time.Second
	a.Status = model.Status(status)
	return &a, nil
}
