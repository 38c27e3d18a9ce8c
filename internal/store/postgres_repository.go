/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains all the necessary SQL queries to interact with the database tables
 * for bills, coupon offers, issued coupons, and loyalty accounts.
 *
 * Concurrency correctness lives here: inventory reservation and redemption are
 * each expressed as one transaction combining a row lock (or predicate-guarded
 * update) with a conditional write, so two racing callers can never both
 * observe the same unit of inventory or the same active coupon.
 *
 * @dependencies
 * - context, fmt, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/platefi/ledger-service/internal/domain"
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateBill inserts a new bill in pending status with no rewards granted.
func (r *PostgresRepository) CreateBill(ctx context.Context, bill *domain.Bill) error {
	query := `
		INSERT INTO bills (id, wallet_id, restaurant_id, amount_cents, status, rewards_earned, rating)
		VALUES ($1, $2, $3, $4, $5, 0, $6)
		RETURNING created_at
	`
	err := r.db.QueryRow(ctx, query,
		bill.ID, bill.WalletID, bill.RestaurantID, bill.AmountCents, domain.BillStatusPending, bill.Rating,
	).Scan(&bill.CreatedAt)
	if err != nil {
		return classifyErr(fmt.Errorf("failed to create bill: %w", err))
	}
	bill.Status = domain.BillStatusPending
	bill.RewardsEarned = 0
	return nil
}

// FindBillByID retrieves a bill by its ID.
func (r *PostgresRepository) FindBillByID(ctx context.Context, billID uuid.UUID) (*domain.Bill, error) {
	var bill domain.Bill
	query := `
		SELECT id, wallet_id, restaurant_id, amount_cents, status, rewards_earned, rating, created_at, decided_at
		FROM bills
		WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, billID).Scan(
		&bill.ID, &bill.WalletID, &bill.RestaurantID, &bill.AmountCents,
		&bill.Status, &bill.RewardsEarned, &bill.Rating, &bill.CreatedAt, &bill.DecidedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrBillNotFound
		}
		return nil, classifyErr(err)
	}
	return &bill, nil
}

// ListBillsByWallet returns a wallet's bills, newest first.
func (r *PostgresRepository) ListBillsByWallet(ctx context.Context, walletID string) ([]domain.Bill, error) {
	query := `
		SELECT id, wallet_id, restaurant_id, amount_cents, status, rewards_earned, rating, created_at, decided_at
		FROM bills
		WHERE wallet_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.db.Query(ctx, query, walletID)
	if err != nil {
		return nil, classifyErr(err)
	}
	defer rows.Close()

	bills := make([]domain.Bill, 0, 20)
	for rows.Next() {
		var bill domain.Bill
		if err := rows.Scan(
			&bill.ID, &bill.WalletID, &bill.RestaurantID, &bill.AmountCents,
			&bill.Status, &bill.RewardsEarned, &bill.Rating, &bill.CreatedAt, &bill.DecidedAt,
		); err != nil {
			return nil, classifyErr(err)
		}
		bills = append(bills, bill)
	}
	return bills, classifyErr(rows.Err())
}

// DecideBillAtomic locks the bill row, enforces the pending-only guard, writes
// the decision, and on approval upserts the wallet's loyalty account — all in
// one transaction, so a crash between the two writes cannot be observed.
func (r *PostgresRepository) DecideBillAtomic(ctx context.Context, billID uuid.UUID, decision string) (*domain.Bill, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, classifyErr(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback(ctx)

	var bill domain.Bill
	lockQuery := `
		SELECT id, wallet_id, restaurant_id, amount_cents, status, rewards_earned, rating, created_at
		FROM bills
		WHERE id = $1
		FOR UPDATE
	`
	err = tx.QueryRow(ctx, lockQuery, billID).Scan(
		&bill.ID, &bill.WalletID, &bill.RestaurantID, &bill.AmountCents,
		&bill.Status, &bill.RewardsEarned, &bill.Rating, &bill.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrBillNotFound
		}
		return nil, classifyErr(fmt.Errorf("failed to get and lock bill: %w", err))
	}

	if bill.Status != domain.BillStatusPending {
		return nil, ErrBillAlreadyDecided
	}

	status := domain.BillStatusRejected
	var rewards int64
	if decision == domain.BillDecisionApprove {
		status = domain.BillStatusApproved
		rewards = domain.RewardsForAmount(bill.AmountCents)
	}

	var decidedAt time.Time
	updateQuery := `
		UPDATE bills
		SET status = $2, rewards_earned = $3, decided_at = NOW()
		WHERE id = $1 AND status = $4
		RETURNING decided_at
	`
	if err := tx.QueryRow(ctx, updateQuery, billID, status, rewards, domain.BillStatusPending).Scan(&decidedAt); err != nil {
		return nil, classifyErr(fmt.Errorf("failed to update bill status: %w", err))
	}

	if status == domain.BillStatusApproved {
		upsertQuery := `
			INSERT INTO loyalty_accounts (wallet_id, points_earned, total_spent_cents)
			VALUES ($1, $2, $3)
			ON CONFLICT (wallet_id) DO UPDATE SET
				points_earned = loyalty_accounts.points_earned + EXCLUDED.points_earned,
				total_spent_cents = loyalty_accounts.total_spent_cents + EXCLUDED.total_spent_cents,
				updated_at = NOW()
		`
		if _, err := tx.Exec(ctx, upsertQuery, bill.WalletID, rewards, bill.AmountCents); err != nil {
			return nil, classifyErr(fmt.Errorf("failed to upsert loyalty account: %w", err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, classifyErr(err)
	}

	bill.Status = status
	bill.RewardsEarned = rewards
	bill.DecidedAt = &decidedAt
	return &bill, nil
}

// CreateOffer inserts a new coupon offer with available quantity initialized
// to the total quantity.
func (r *PostgresRepository) CreateOffer(ctx context.Context, offer *domain.CouponOffer) error {
	query := `
		INSERT INTO coupon_offers (id, restaurant_id, kind, description, discount_value, price_usdc_cents, expires_at, total_quantity, available_quantity)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		RETURNING created_at
	`
	err := r.db.QueryRow(ctx, query,
		offer.ID, offer.RestaurantID, offer.Kind, offer.Description,
		offer.DiscountValue, offer.PriceUsdcCents, offer.ExpiresAt, offer.TotalQuantity,
	).Scan(&offer.CreatedAt)
	if err != nil {
		return classifyErr(fmt.Errorf("failed to create coupon offer: %w", err))
	}
	offer.AvailableQuantity = offer.TotalQuantity
	return nil
}

// FindOfferByID retrieves a coupon offer by its ID.
func (r *PostgresRepository) FindOfferByID(ctx context.Context, offerID uuid.UUID) (*domain.CouponOffer, error) {
	var offer domain.CouponOffer
	query := `
		SELECT id, restaurant_id, kind, description, discount_value, price_usdc_cents, expires_at, total_quantity, available_quantity, created_at
		FROM coupon_offers
		WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, offerID).Scan(
		&offer.ID, &offer.RestaurantID, &offer.Kind, &offer.Description, &offer.DiscountValue,
		&offer.PriceUsdcCents, &offer.ExpiresAt, &offer.TotalQuantity, &offer.AvailableQuantity, &offer.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrOfferNotFound
		}
		return nil, classifyErr(err)
	}
	return &offer, nil
}

// ListOpenOffers returns purchasable offers: in stock and unexpired.
func (r *PostgresRepository) ListOpenOffers(ctx context.Context, opts domain.OfferListOptions) ([]domain.CouponOffer, error) {
	orderBy := "created_at DESC"
	switch opts.Sort {
	case "price-low":
		orderBy = "price_usdc_cents ASC"
	case "price-high":
		orderBy = "price_usdc_cents DESC"
	}

	query := `
		SELECT id, restaurant_id, kind, description, discount_value, price_usdc_cents, expires_at, total_quantity, available_quantity, created_at
		FROM coupon_offers
		WHERE available_quantity > 0
		  AND expires_at > NOW()
		  AND ($1::uuid IS NULL OR restaurant_id = $1)
		ORDER BY ` + orderBy

	rows, err := r.db.Query(ctx, query, opts.RestaurantID)
	if err != nil {
		return nil, classifyErr(err)
	}
	defer rows.Close()

	offers := make([]domain.CouponOffer, 0, 20)
	for rows.Next() {
		var offer domain.CouponOffer
		if err := rows.Scan(
			&offer.ID, &offer.RestaurantID, &offer.Kind, &offer.Description, &offer.DiscountValue,
			&offer.PriceUsdcCents, &offer.ExpiresAt, &offer.TotalQuantity, &offer.AvailableQuantity, &offer.CreatedAt,
		); err != nil {
			return nil, classifyErr(err)
		}
		offers = append(offers, offer)
	}
	return offers, classifyErr(rows.Err())
}

// PurchaseCouponAtomic reserves one unit and mints the coupon as a single
// transaction. The predicate-guarded decrement is the core concurrency device:
// under N simultaneous purchases of the last unit, exactly one UPDATE matches.
func (r *PostgresRepository) PurchaseCouponAtomic(ctx context.Context, coupon *domain.IssuedCoupon) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return classifyErr(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback(ctx)

	reserveQuery := `
		UPDATE coupon_offers
		SET available_quantity = available_quantity - 1
		WHERE id = $1
		  AND available_quantity > 0
		  AND expires_at > NOW()
	`
	reserved, err := tx.Exec(ctx, reserveQuery, coupon.OfferID)
	if err != nil {
		return classifyErr(fmt.Errorf("failed to reserve inventory unit: %w", err))
	}
	if reserved.RowsAffected() == 0 {
		// Re-check which predicate failed for precise caller feedback.
		var available int
		var expiresAt time.Time
		probeQuery := `SELECT available_quantity, expires_at FROM coupon_offers WHERE id = $1`
		err := tx.QueryRow(ctx, probeQuery, coupon.OfferID).Scan(&available, &expiresAt)
		if err != nil {
			if err == pgx.ErrNoRows {
				return ErrOfferNotFound
			}
			return classifyErr(err)
		}
		if !expiresAt.After(time.Now()) {
			return ErrOfferExpired
		}
		return ErrOfferSoldOut
	}

	mintQuery := `
		INSERT INTO issued_coupons (id, offer_id, owner_wallet_id, token_id, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING issued_at
	`
	err = tx.QueryRow(ctx, mintQuery,
		coupon.ID, coupon.OfferID, coupon.OwnerWalletID, coupon.TokenID, domain.CouponStatusActive,
	).Scan(&coupon.IssuedAt)
	if err != nil {
		// Rollback via defer also restores the reserved unit.
		return classifyErr(fmt.Errorf("failed to mint coupon: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return classifyErr(err)
	}

	coupon.Status = domain.CouponStatusActive
	return nil
}

// FindCouponByID retrieves an issued coupon with offer details, scoped to its owner.
func (r *PostgresRepository) FindCouponByID(ctx context.Context, couponID uuid.UUID, ownerWalletID string) (*domain.CouponDetails, error) {
	var details domain.CouponDetails
	query := `
		SELECT c.id, c.offer_id, c.owner_wallet_id, c.token_id, c.status, c.redeemed_at, c.issued_at,
		       o.kind, o.description, o.discount_value, o.restaurant_id, o.expires_at
		FROM issued_coupons c
		JOIN coupon_offers o ON o.id = c.offer_id
		WHERE c.id = $1 AND c.owner_wallet_id = $2
	`
	err := r.db.QueryRow(ctx, query, couponID, ownerWalletID).Scan(
		&details.Coupon.ID, &details.Coupon.OfferID, &details.Coupon.OwnerWalletID,
		&details.Coupon.TokenID, &details.Coupon.Status, &details.Coupon.RedeemedAt, &details.Coupon.IssuedAt,
		&details.OfferKind, &details.Description, &details.DiscountValue, &details.RestaurantID, &details.OfferExpiresAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrCouponNotFound
		}
		return nil, classifyErr(err)
	}
	return &details, nil
}

// ListCouponsByOwner returns a wallet's coupons with an optional status filter.
func (r *PostgresRepository) ListCouponsByOwner(ctx context.Context, walletID string, opts domain.CouponListOptions) ([]domain.CouponDetails, error) {
	query := `
		SELECT c.id, c.offer_id, c.owner_wallet_id, c.token_id, c.status, c.redeemed_at, c.issued_at,
		       o.kind, o.description, o.discount_value, o.restaurant_id, o.expires_at
		FROM issued_coupons c
		JOIN coupon_offers o ON o.id = c.offer_id
		WHERE c.owner_wallet_id = $1
		  AND ($2 = '' OR c.status = $2)
		ORDER BY c.issued_at DESC
	`
	rows, err := r.db.Query(ctx, query, walletID, opts.Status)
	if err != nil {
		return nil, classifyErr(err)
	}
	defer rows.Close()

	coupons := make([]domain.CouponDetails, 0, 10)
	for rows.Next() {
		var details domain.CouponDetails
		if err := rows.Scan(
			&details.Coupon.ID, &details.Coupon.OfferID, &details.Coupon.OwnerWalletID,
			&details.Coupon.TokenID, &details.Coupon.Status, &details.Coupon.RedeemedAt, &details.Coupon.IssuedAt,
			&details.OfferKind, &details.Description, &details.DiscountValue, &details.RestaurantID, &details.OfferExpiresAt,
		); err != nil {
			return nil, classifyErr(err)
		}
		coupons = append(coupons, details)
	}
	return coupons, classifyErr(rows.Err())
}

// RedeemCouponAtomic performs the at-most-once redemption. The coupon row is
// locked for the duration of the transaction, the presented claims are checked
// against stored state, expiry is evaluated against the offer at this moment,
// and the transition itself is a conditional update on status='active' so two
// concurrent attempts cannot both succeed.
func (r *PostgresRepository) RedeemCouponAtomic(ctx context.Context, tokenID uuid.UUID, ownerWalletID string, offerID uuid.UUID) (*domain.CouponDetails, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, classifyErr(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback(ctx)

	var details domain.CouponDetails
	lockQuery := `
		SELECT c.id, c.offer_id, c.owner_wallet_id, c.token_id, c.status, c.redeemed_at, c.issued_at,
		       o.kind, o.description, o.discount_value, o.restaurant_id, o.expires_at
		FROM issued_coupons c
		JOIN coupon_offers o ON o.id = c.offer_id
		WHERE c.token_id = $1
		FOR UPDATE OF c
	`
	err = tx.QueryRow(ctx, lockQuery, tokenID).Scan(
		&details.Coupon.ID, &details.Coupon.OfferID, &details.Coupon.OwnerWalletID,
		&details.Coupon.TokenID, &details.Coupon.Status, &details.Coupon.RedeemedAt, &details.Coupon.IssuedAt,
		&details.OfferKind, &details.Description, &details.DiscountValue, &details.RestaurantID, &details.OfferExpiresAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrCouponNotFound
		}
		return nil, classifyErr(fmt.Errorf("failed to get and lock coupon: %w", err))
	}

	if details.Coupon.OwnerWalletID != ownerWalletID {
		return nil, ErrOwnerMismatch
	}
	if details.Coupon.OfferID != offerID {
		return nil, ErrOfferMismatch
	}
	// Expiry outranks stored status: an expired coupon is unusable even if
	// still recorded as active.
	if !time.Now().Before(details.OfferExpiresAt) {
		return nil, ErrCouponExpired
	}
	if details.Coupon.Status == domain.CouponStatusRedeemed {
		// Surface the stored redeemed_at so the caller can tell a replay of
		// its own earlier success apart from someone else's redemption.
		return &details, ErrCouponAlreadyRedeemed
	}

	var redeemedAt time.Time
	redeemQuery := `
		UPDATE issued_coupons
		SET status = $2, redeemed_at = NOW()
		WHERE id = $1 AND status = $3
		RETURNING redeemed_at
	`
	err = tx.QueryRow(ctx, redeemQuery, details.Coupon.ID, domain.CouponStatusRedeemed, domain.CouponStatusActive).Scan(&redeemedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return &details, ErrCouponAlreadyRedeemed
		}
		return nil, classifyErr(fmt.Errorf("failed to redeem coupon: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, classifyErr(err)
	}

	details.Coupon.Status = domain.CouponStatusRedeemed
	details.Coupon.RedeemedAt = &redeemedAt
	return &details, nil
}

// GetLoyaltyAccount retrieves the raw loyalty counters for a wallet. Tier is
// derived by the caller; it is never read from storage.
func (r *PostgresRepository) GetLoyaltyAccount(ctx context.Context, walletID string) (*domain.LoyaltyAccount, error) {
	var account domain.LoyaltyAccount
	query := `
		SELECT wallet_id, points_earned, total_spent_cents
		FROM loyalty_accounts
		WHERE wallet_id = $1
	`
	err := r.db.QueryRow(ctx, query, walletID).Scan(&account.WalletID, &account.PointsEarned, &account.TotalSpentCents)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrLoyaltyAccountNotFound
		}
		return nil, classifyErr(err)
	}
	return &account, nil
}
