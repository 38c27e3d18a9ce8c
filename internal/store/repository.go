/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the ledger-service. By defining an interface,
 * we decouple the application's business logic from the specific database implementation
 * (e.g., PostgreSQL), making the code more modular and easier to test.
 *
 * Every mutating method is a single atomic transaction against the store; the
 * service layer holds no authoritative state between calls and performs no
 * in-process locking.
 *
 * @dependencies
 * - context: Standard Go library.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/platefi/ledger-service/internal/domain"
)

var (
	ErrBillNotFound           = errors.New("bill not found")
	ErrBillAlreadyDecided     = errors.New("bill has already been decided")
	ErrOfferNotFound          = errors.New("coupon offer not found")
	ErrOfferSoldOut           = errors.New("coupon offer is sold out")
	ErrOfferExpired           = errors.New("coupon offer has expired")
	ErrCouponNotFound         = errors.New("coupon not found")
	ErrCouponAlreadyRedeemed  = errors.New("coupon has already been redeemed")
	ErrCouponExpired          = errors.New("coupon has expired")
	ErrOwnerMismatch          = errors.New("presented wallet does not own this coupon")
	ErrOfferMismatch          = errors.New("presented offer does not match this coupon")
	ErrLoyaltyAccountNotFound = errors.New("loyalty account not found")

	// ErrUnavailable wraps transient storage failures (timeouts, lost
	// connections, serialization aborts). It is the only error class the
	// caller may retry; a timed-out mutation must not be assumed to have
	// failed, so callers re-query state before retrying.
	ErrUnavailable = errors.New("ledger store unavailable")
)

// Repository defines the set of methods for interacting with the ledger store.
type Repository interface {
	// Bill methods
	CreateBill(ctx context.Context, bill *domain.Bill) error
	FindBillByID(ctx context.Context, billID uuid.UUID) (*domain.Bill, error)
	ListBillsByWallet(ctx context.Context, walletID string) ([]domain.Bill, error)
	// DecideBillAtomic applies the one-way pending->approved/rejected
	// transition. On approval the loyalty upsert commits in the same
	// transaction as the bill-status write.
	DecideBillAtomic(ctx context.Context, billID uuid.UUID, decision string) (*domain.Bill, error)

	// Coupon offer methods
	CreateOffer(ctx context.Context, offer *domain.CouponOffer) error
	FindOfferByID(ctx context.Context, offerID uuid.UUID) (*domain.CouponOffer, error)
	ListOpenOffers(ctx context.Context, opts domain.OfferListOptions) ([]domain.CouponOffer, error)

	// Issued coupon methods
	// PurchaseCouponAtomic reserves one unit of inventory (predicate-guarded
	// decrement) and mints the coupon row as a single transaction. On any
	// failure no side effect persists.
	PurchaseCouponAtomic(ctx context.Context, coupon *domain.IssuedCoupon) error
	FindCouponByID(ctx context.Context, couponID uuid.UUID, ownerWalletID string) (*domain.CouponDetails, error)
	ListCouponsByOwner(ctx context.Context, walletID string, opts domain.CouponListOptions) ([]domain.CouponDetails, error)
	// RedeemCouponAtomic performs the active->redeemed transition as a
	// conditional update under a row lock. When the coupon was already
	// redeemed it returns the stored details (including redeemed_at, the
	// caller's audit trail) together with ErrCouponAlreadyRedeemed.
	RedeemCouponAtomic(ctx context.Context, tokenID uuid.UUID, ownerWalletID string, offerID uuid.UUID) (*domain.CouponDetails, error)

	// Loyalty methods
	GetLoyaltyAccount(ctx context.Context, walletID string) (*domain.LoyaltyAccount, error)
}
