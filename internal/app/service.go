/**
 * @description
 * This file contains the core business logic for the ledger-service. The `Service`
 * struct orchestrates bill accrual, coupon inventory, issuance, redemption, and
 * loyalty reads, coordinating between the database repository and the message
 * broker.
 *
 * Key features:
 * - Validation errors are rejected synchronously with no storage interaction.
 * - Every mutating use case maps to exactly one atomic repository transaction;
 *   the service itself holds no state and needs no locks.
 * - Publishes ledger events to RabbitMQ for asynchronous consumers after the
 *   owning transaction commits; publication failures never undo a commit.
 *
 * @dependencies
 * - context, errors, log, time: Standard Go libraries.
 * - github.com/google/uuid: For entity and coupon token ID generation.
 * - internal/domain, internal/store: For domain models and data access.
 * - internal/metrics: Prometheus instrumentation for mutating operations.
 * - pkg/rabbitmq: For event publication.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/platefi/ledger-service/internal/domain"
	"github.com/platefi/ledger-service/internal/metrics"
	"github.com/platefi/ledger-service/internal/store"
	"github.com/platefi/ledger-service/pkg/rabbitmq"
)

const eventExchange = "platefi.events"

var (
	ErrInvalidAmount    = errors.New("bill amount must be greater than 0")
	ErrInvalidRating    = errors.New("rating must be between 1 and 5")
	ErrInvalidDecision  = errors.New("decision must be 'approve' or 'reject'")
	ErrInvalidQuantity  = errors.New("total quantity must be greater than 0")
	ErrInvalidExpiry    = errors.New("expiry must be strictly in the future")
	ErrInvalidPrice     = errors.New("price must not be negative")
	ErrInvalidRecipient = errors.New("restaurant id is required")
)

// RateLimitedError reports that a caller exceeded the redemption rate limit.
type RateLimitedError struct {
	RetryAfterSeconds int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited; retry after %d seconds", e.RetryAfterSeconds)
}

// RateLimiter consumes one unit of a distributed per-subject rate limit.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// Service provides the core business logic for the coupon and loyalty ledger.
type Service struct {
	repo store.Repository

	eventProducer rabbitmq.Publisher

	redeemLimiter        RateLimiter
	redeemLimitPerMinute int
}

// NewService creates a new ledger service instance.
func NewService(repo store.Repository, producer rabbitmq.Publisher) *Service {
	return &Service{
		repo:          repo,
		eventProducer: producer,
	}
}

// ConfigureRedemptionHardening sets the per-principal redemption rate limit.
// A limit of zero disables limiting.
func (s *Service) ConfigureRedemptionHardening(limitPerMinute int) {
	s.redeemLimitPerMinute = limitPerMinute
}

// SetRedemptionRateLimiter installs the distributed limiter backing the
// redemption endpoint.
func (s *Service) SetRedemptionRateLimiter(limiter RateLimiter) {
	s.redeemLimiter = limiter
}

// observe records one completed mutating operation on the process metrics
// registry. Callers defer it with a pointer to their named error return.
func observe(operation string, start time.Time, err *error) {
	outcome := "ok"
	if *err != nil {
		outcome = "error"
	}
	metrics.Ledger().Observe(operation, outcome, time.Since(start))
}

// SubmitBill validates and records a new bill in pending status. No points
// are granted until the bill is approved.
func (s *Service) SubmitBill(ctx context.Context, walletID string, req domain.SubmitBillRequest) (_ *domain.Bill, err error) {
	defer observe("submit_bill", time.Now(), &err)

	if req.AmountCents <= 0 {
		return nil, ErrInvalidAmount
	}
	if req.Rating != nil && (*req.Rating < 1 || *req.Rating > 5) {
		return nil, ErrInvalidRating
	}
	if req.RestaurantID == uuid.Nil {
		return nil, ErrInvalidRecipient
	}

	bill := &domain.Bill{
		ID:           uuid.New(),
		WalletID:     walletID,
		RestaurantID: req.RestaurantID,
		AmountCents:  req.AmountCents,
		Status:       domain.BillStatusPending,
		Rating:       req.Rating,
	}
	if err := s.repo.CreateBill(ctx, bill); err != nil {
		return nil, err
	}

	log.Printf("level=info component=app op=submit_bill bill_id=%s wallet_id=%s amount_cents=%d", bill.ID, walletID, req.AmountCents)
	return bill, nil
}

// DecideBill applies the one-way approval/rejection transition. The bill
// update and loyalty upsert commit in one storage transaction; a second
// decision on the same bill fails with store.ErrBillAlreadyDecided.
func (s *Service) DecideBill(ctx context.Context, billID uuid.UUID, decision string) (_ *domain.Bill, err error) {
	defer observe("decide_bill", time.Now(), &err)

	if decision != domain.BillDecisionApprove && decision != domain.BillDecisionReject {
		return nil, ErrInvalidDecision
	}

	bill, err := s.repo.DecideBillAtomic(ctx, billID, decision)
	if err != nil {
		return nil, err
	}

	log.Printf("level=info component=app op=decide_bill bill_id=%s decision=%s rewards=%d", billID, decision, bill.RewardsEarned)

	if bill.Status == domain.BillStatusApproved && s.eventProducer != nil {
		event := domain.BillApprovedEvent{
			BillID:        bill.ID,
			WalletID:      bill.WalletID,
			RestaurantID:  bill.RestaurantID,
			AmountCents:   bill.AmountCents,
			RewardsEarned: bill.RewardsEarned,
			Timestamp:     time.Now().UTC(),
		}
		if pubErr := s.eventProducer.Publish(ctx, eventExchange, "ledger.bill.approved", event); pubErr != nil {
			log.Printf("level=warn component=app op=decide_bill msg=\"event publish failed\" bill_id=%s err=%v", billID, pubErr)
		}
	}

	return bill, nil
}

// ListBills returns a wallet's bill history, newest first.
func (s *Service) ListBills(ctx context.Context, walletID string) ([]domain.Bill, error) {
	return s.repo.ListBillsByWallet(ctx, walletID)
}

// CreateOffer validates and records a new coupon offer with full inventory.
func (s *Service) CreateOffer(ctx context.Context, req domain.CreateOfferRequest) (_ *domain.CouponOffer, err error) {
	defer observe("create_offer", time.Now(), &err)

	if req.TotalQuantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	if !req.ExpiresAt.After(time.Now()) {
		return nil, ErrInvalidExpiry
	}
	if req.PriceUsdcCents < 0 {
		return nil, ErrInvalidPrice
	}
	if req.RestaurantID == uuid.Nil {
		return nil, ErrInvalidRecipient
	}

	offer := &domain.CouponOffer{
		ID:                uuid.New(),
		RestaurantID:      req.RestaurantID,
		Kind:              req.Kind,
		Description:       req.Description,
		DiscountValue:     req.DiscountValue,
		PriceUsdcCents:    req.PriceUsdcCents,
		ExpiresAt:         req.ExpiresAt,
		TotalQuantity:     req.TotalQuantity,
		AvailableQuantity: req.TotalQuantity,
	}
	if err := s.repo.CreateOffer(ctx, offer); err != nil {
		return nil, err
	}

	log.Printf("level=info component=app op=create_offer offer_id=%s restaurant_id=%s total_quantity=%d", offer.ID, req.RestaurantID, req.TotalQuantity)
	return offer, nil
}

// ListOpenOffers returns purchasable offers for the marketplace.
func (s *Service) ListOpenOffers(ctx context.Context, opts domain.OfferListOptions) ([]domain.CouponOffer, error) {
	return s.repo.ListOpenOffers(ctx, opts)
}

// PurchaseCoupon reserves one unit of the offer's inventory and mints a
// coupon token bound to the buyer's wallet, as a single transaction. Under N
// concurrent purchases of the last unit exactly one caller succeeds; the rest
// receive store.ErrOfferSoldOut (or ErrOfferExpired).
func (s *Service) PurchaseCoupon(ctx context.Context, walletID string, offerID uuid.UUID) (_ *domain.IssuedCoupon, err error) {
	defer observe("purchase_coupon", time.Now(), &err)

	coupon := &domain.IssuedCoupon{
		ID:            uuid.New(),
		OfferID:       offerID,
		OwnerWalletID: walletID,
		TokenID:       uuid.New(),
		Status:        domain.CouponStatusActive,
	}
	if err := s.repo.PurchaseCouponAtomic(ctx, coupon); err != nil {
		return nil, err
	}

	log.Printf("level=info component=app op=purchase_coupon coupon_id=%s offer_id=%s wallet_id=%s token_id=%s", coupon.ID, offerID, walletID, coupon.TokenID)

	if s.eventProducer != nil {
		event := domain.CouponPurchasedEvent{
			CouponID:      coupon.ID,
			OfferID:       offerID,
			OwnerWalletID: walletID,
			TokenID:       coupon.TokenID,
			Timestamp:     time.Now().UTC(),
		}
		if pubErr := s.eventProducer.Publish(ctx, eventExchange, "ledger.coupon.purchased", event); pubErr != nil {
			log.Printf("level=warn component=app op=purchase_coupon msg=\"event publish failed\" coupon_id=%s err=%v", coupon.ID, pubErr)
		}
	}

	return coupon, nil
}

// ListCoupons returns a wallet's issued coupons with optional status filter.
func (s *Service) ListCoupons(ctx context.Context, walletID string, opts domain.CouponListOptions) ([]domain.CouponDetails, error) {
	return s.repo.ListCouponsByOwner(ctx, walletID, opts)
}

// GetCoupon returns one of the wallet's coupons together with the QR payload
// content a client renders for in-person redemption.
func (s *Service) GetCoupon(ctx context.Context, couponID uuid.UUID, walletID string) (*domain.CouponDetails, string, error) {
	details, err := s.repo.FindCouponByID(ctx, couponID, walletID)
	if err != nil {
		return nil, "", err
	}
	return details, s.QRCodeContent(&details.Coupon), nil
}

// QRCodeContent serializes the redemption payload carried in a coupon's QR
// code. Only token_id, owner_wallet_id and offer_id are trusted at
// validation time; issued_at is advisory display data.
func (s *Service) QRCodeContent(coupon *domain.IssuedCoupon) string {
	issuedAt := coupon.IssuedAt
	payload := domain.RedemptionPayload{
		TokenID:       coupon.TokenID,
		OwnerWalletID: coupon.OwnerWalletID,
		OfferID:       coupon.OfferID,
		IssuedAt:      &issuedAt,
	}
	content, err := json.Marshal(payload)
	if err != nil {
		// Marshalling a plain struct cannot fail in practice.
		return ""
	}
	return string(content)
}

// Redeem consumes a presented QR payload and performs the at-most-once
// active->redeemed transition. The principal is the authenticated scanning
// identity, used only for rate limiting; authorization of the payload itself
// is the owner/offer match against stored state.
func (s *Service) Redeem(ctx context.Context, principal string, payload domain.RedemptionPayload) (_ *domain.CouponDetails, err error) {
	defer observe("redeem", time.Now(), &err)

	if payload.TokenID == uuid.Nil || payload.OfferID == uuid.Nil || payload.OwnerWalletID == "" {
		return nil, domain.ErrMalformedPayload
	}

	if s.redeemLimiter != nil && s.redeemLimitPerMinute > 0 {
		count, retryAfter, err := s.redeemLimiter.ConsumeRateLimit(ctx, "redeem", principal, s.redeemLimitPerMinute, time.Minute)
		if err != nil {
			// A broken limiter must not block redemptions; log and continue.
			log.Printf("level=warn component=app op=redeem msg=\"rate limiter unavailable\" principal=%s err=%v", principal, err)
		} else if count > s.redeemLimitPerMinute {
			return nil, &RateLimitedError{RetryAfterSeconds: retryAfter}
		}
	}

	details, err := s.repo.RedeemCouponAtomic(ctx, payload.TokenID, payload.OwnerWalletID, payload.OfferID)
	if err != nil {
		return details, err
	}

	log.Printf("level=info component=app op=redeem coupon_id=%s token_id=%s wallet_id=%s", details.Coupon.ID, payload.TokenID, payload.OwnerWalletID)

	if s.eventProducer != nil && details.Coupon.RedeemedAt != nil {
		event := domain.CouponRedeemedEvent{
			CouponID:      details.Coupon.ID,
			OfferID:       details.Coupon.OfferID,
			OwnerWalletID: details.Coupon.OwnerWalletID,
			TokenID:       details.Coupon.TokenID,
			RestaurantID:  details.RestaurantID,
			RedeemedAt:    *details.Coupon.RedeemedAt,
		}
		if pubErr := s.eventProducer.Publish(ctx, eventExchange, "ledger.coupon.redeemed", event); pubErr != nil {
			log.Printf("level=warn component=app op=redeem msg=\"event publish failed\" coupon_id=%s err=%v", details.Coupon.ID, pubErr)
		}
	}

	return details, nil
}

// GetLoyalty returns the wallet's loyalty account with the derived tier. A
// wallet with no approved bills yet reads as a zero-balance Bronze account.
func (s *Service) GetLoyalty(ctx context.Context, walletID string) (*domain.LoyaltyAccount, error) {
	account, err := s.repo.GetLoyaltyAccount(ctx, walletID)
	if err != nil {
		if errors.Is(err, store.ErrLoyaltyAccountNotFound) {
			account = &domain.LoyaltyAccount{WalletID: walletID}
		} else {
			return nil, err
		}
	}

	account.Tier = domain.TierFor(account.PointsEarned)
	if next, toNext, ok := domain.NextTierFor(account.PointsEarned); ok {
		account.NextTier = next
		account.PointsToNext = toNext
	}
	return account, nil
}
