/**
 * @description
 * This file defines the core domain models for the ledger-service.
 * These structs represent the main entities and data transfer objects (DTOs)
 * used throughout the service's business logic, database interactions, and API layers.
 *
 * @notes
 * - Using distinct types for API requests, database models, and event
 *   payloads ensures clear separation of concerns and type safety.
 * - Monetary amounts are stored as `int64` in the smallest currency unit
 *   (cents), which avoids floating-point inaccuracies with financial data.
 *   Coupon prices follow the same convention (USDC cents).
 * - Wallet identifiers are opaque strings supplied by the external auth
 *   collaborator; the ledger never interprets them.
 */

package domain

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Bill statuses. The pending->approved and pending->rejected transitions are
// one-way; no further transitions exist.
const (
	BillStatusPending  = "pending"
	BillStatusApproved = "approved"
	BillStatusRejected = "rejected"
)

// Bill decisions accepted by the accrual engine.
const (
	BillDecisionApprove = "approve"
	BillDecisionReject  = "reject"
)

// Issued coupon statuses. `redeemed` is terminal. Expiry is never a stored
// status; it is derived from the offer's expires_at at validation time.
const (
	CouponStatusActive   = "active"
	CouponStatusRedeemed = "redeemed"
)

// Bill represents a submitted receipt awaiting or past review.
// Maps directly to the `bills` table.
type Bill struct {
	ID            uuid.UUID  `json:"id"`
	WalletID      string     `json:"wallet_id"`
	RestaurantID  uuid.UUID  `json:"restaurant_id"`
	AmountCents   int64      `json:"amount_cents"`
	Status        string     `json:"status"`
	RewardsEarned int64      `json:"rewards_earned"` // fixed at approval, never recomputed
	Rating        *int       `json:"rating,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	DecidedAt     *time.Time `json:"decided_at,omitempty"`
}

// CouponOffer represents a restaurant's limited-inventory coupon listing.
// Maps directly to the `coupon_offers` table.
type CouponOffer struct {
	ID                uuid.UUID `json:"id"`
	RestaurantID      uuid.UUID `json:"restaurant_id"`
	Kind              string    `json:"kind"` // e.g. 'percentage', 'flat', 'free_item'
	Description       string    `json:"description"`
	DiscountValue     int       `json:"discount_value"`
	PriceUsdcCents    int64     `json:"price_usdc_cents"`
	ExpiresAt         time.Time `json:"expires_at"`
	TotalQuantity     int       `json:"total_quantity"`
	AvailableQuantity int       `json:"available_quantity"` // 0 <= available <= total, always
	CreatedAt         time.Time `json:"created_at"`
}

// IssuedCoupon is a user-owned coupon token minted on purchase.
// Maps directly to the `issued_coupons` table.
type IssuedCoupon struct {
	ID            uuid.UUID  `json:"id"`
	OfferID       uuid.UUID  `json:"offer_id"`
	OwnerWalletID string     `json:"owner_wallet_id"`
	TokenID       uuid.UUID  `json:"token_id"` // globally unique, immutable once minted
	Status        string     `json:"status"`
	RedeemedAt    *time.Time `json:"redeemed_at,omitempty"`
	IssuedAt      time.Time  `json:"issued_at"`
}

// CouponDetails joins an issued coupon with the offer fields needed for
// display and for redemption-time expiry evaluation.
type CouponDetails struct {
	Coupon         IssuedCoupon `json:"coupon"`
	OfferKind      string       `json:"offer_kind"`
	Description    string       `json:"description"`
	DiscountValue  int          `json:"discount_value"`
	RestaurantID   uuid.UUID    `json:"restaurant_id"`
	OfferExpiresAt time.Time    `json:"offer_expires_at"`
}

// LoyaltyAccount tracks a wallet's cumulative standing. Tier is derived from
// PointsEarned via TierFor and is never independently settable.
type LoyaltyAccount struct {
	WalletID        string `json:"wallet_id"`
	Tier            string `json:"tier"`
	PointsEarned    int64  `json:"points_earned"`
	TotalSpentCents int64  `json:"total_spent_cents"`
	PointsToNext    int64  `json:"points_to_next_tier"`
	NextTier        string `json:"next_tier,omitempty"`
}

// SubmitBillRequest is the DTO for incoming bill submission API requests.
type SubmitBillRequest struct {
	RestaurantID uuid.UUID `json:"restaurant_id"`
	AmountCents  int64     `json:"amount_cents"`
	Rating       *int      `json:"rating,omitempty"`
}

// DecideBillRequest is the DTO for a bill approval/rejection.
type DecideBillRequest struct {
	Decision string `json:"decision"`
}

// CreateOfferRequest is the DTO for creating a new coupon offer.
type CreateOfferRequest struct {
	RestaurantID   uuid.UUID `json:"restaurant_id"`
	Kind           string    `json:"kind"`
	Description    string    `json:"description"`
	DiscountValue  int       `json:"discount_value"`
	PriceUsdcCents int64     `json:"price_usdc_cents"`
	ExpiresAt      time.Time `json:"expires_at"`
	TotalQuantity  int       `json:"total_quantity"`
}

// OfferListOptions controls filtering and ordering for the offer marketplace.
type OfferListOptions struct {
	RestaurantID *uuid.UUID
	Sort         string // 'newest', 'price-low', 'price-high'
}

// CouponListOptions controls status filtering for a wallet's coupon list.
type CouponListOptions struct {
	Status string // '', 'active' or 'redeemed'
}

// RedemptionPayload is the QR code content produced at issuance and presented
// at the point of sale. Only TokenID, OwnerWalletID and OfferID are trusted
// for validation; any other fields are advisory display data.
type RedemptionPayload struct {
	TokenID       uuid.UUID  `json:"token_id"`
	OwnerWalletID string     `json:"owner_wallet_id"`
	OfferID       uuid.UUID  `json:"offer_id"`
	IssuedAt      *time.Time `json:"issued_at,omitempty"`
	Nonce         string     `json:"nonce,omitempty"`
}

var ErrMalformedPayload = errors.New("malformed redemption payload")

// ParseRedemptionPayload decodes a QR payload and verifies that the three
// required fields are present. Unknown and advisory fields are ignored.
func ParseRedemptionPayload(raw []byte) (RedemptionPayload, error) {
	var payload RedemptionPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return RedemptionPayload{}, ErrMalformedPayload
	}
	if payload.TokenID == uuid.Nil || payload.OfferID == uuid.Nil || strings.TrimSpace(payload.OwnerWalletID) == "" {
		return RedemptionPayload{}, ErrMalformedPayload
	}
	payload.OwnerWalletID = strings.TrimSpace(payload.OwnerWalletID)
	return payload, nil
}

// BillApprovedEvent is published when a bill approval commits.
type BillApprovedEvent struct {
	BillID        uuid.UUID `json:"bill_id"`
	WalletID      string    `json:"wallet_id"`
	RestaurantID  uuid.UUID `json:"restaurant_id"`
	AmountCents   int64     `json:"amount_cents"`
	RewardsEarned int64     `json:"rewards_earned"`
	Timestamp     time.Time `json:"timestamp"`
}

// CouponPurchasedEvent is published when a reserve-and-mint transaction commits.
type CouponPurchasedEvent struct {
	CouponID      uuid.UUID `json:"coupon_id"`
	OfferID       uuid.UUID `json:"offer_id"`
	OwnerWalletID string    `json:"owner_wallet_id"`
	TokenID       uuid.UUID `json:"token_id"`
	Timestamp     time.Time `json:"timestamp"`
}

// CouponRedeemedEvent is published when a redemption commits.
type CouponRedeemedEvent struct {
	CouponID      uuid.UUID `json:"coupon_id"`
	OfferID       uuid.UUID `json:"offer_id"`
	OwnerWalletID string    `json:"owner_wallet_id"`
	TokenID       uuid.UUID `json:"token_id"`
	RestaurantID  uuid.UUID `json:"restaurant_id"`
	RedeemedAt    time.Time `json:"redeemed_at"`
}
