package app

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/platefi/ledger-service/internal/domain"
	"github.com/platefi/ledger-service/internal/store"
)

// memoryRepository is a mutex-guarded in-memory store.Repository. Each
// mutating method holds the lock for its whole body, mirroring the
// transactional atomicity of the Postgres implementation, so the service can
// be exercised under real goroutine contention.
type memoryRepository struct {
	mu       sync.Mutex
	bills    map[uuid.UUID]*domain.Bill
	offers   map[uuid.UUID]*domain.CouponOffer
	coupons  map[uuid.UUID]*domain.IssuedCoupon // keyed by token id
	accounts map[string]*domain.LoyaltyAccount
}

func newMemoryRepository() *memoryRepository {
	return &memoryRepository{
		bills:    make(map[uuid.UUID]*domain.Bill),
		offers:   make(map[uuid.UUID]*domain.CouponOffer),
		coupons:  make(map[uuid.UUID]*domain.IssuedCoupon),
		accounts: make(map[string]*domain.LoyaltyAccount),
	}
}

func (r *memoryRepository) CreateBill(ctx context.Context, bill *domain.Bill) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *bill
	stored.CreatedAt = time.Now().UTC()
	r.bills[bill.ID] = &stored
	bill.CreatedAt = stored.CreatedAt
	return nil
}

func (r *memoryRepository) FindBillByID(ctx context.Context, billID uuid.UUID) (*domain.Bill, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bill, ok := r.bills[billID]
	if !ok {
		return nil, store.ErrBillNotFound
	}
	copied := *bill
	return &copied, nil
}

func (r *memoryRepository) ListBillsByWallet(ctx context.Context, walletID string) ([]domain.Bill, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var bills []domain.Bill
	for _, bill := range r.bills {
		if bill.WalletID == walletID {
			bills = append(bills, *bill)
		}
	}
	sort.Slice(bills, func(i, j int) bool { return bills[i].CreatedAt.After(bills[j].CreatedAt) })
	return bills, nil
}

func (r *memoryRepository) DecideBillAtomic(ctx context.Context, billID uuid.UUID, decision string) (*domain.Bill, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bill, ok := r.bills[billID]
	if !ok {
		return nil, store.ErrBillNotFound
	}
	if bill.Status != domain.BillStatusPending {
		return nil, store.ErrBillAlreadyDecided
	}
	now := time.Now().UTC()
	bill.DecidedAt = &now
	if decision == domain.BillDecisionApprove {
		bill.Status = domain.BillStatusApproved
		bill.RewardsEarned = domain.RewardsForAmount(bill.AmountCents)
		account, ok := r.accounts[bill.WalletID]
		if !ok {
			account = &domain.LoyaltyAccount{WalletID: bill.WalletID}
			r.accounts[bill.WalletID] = account
		}
		account.PointsEarned += bill.RewardsEarned
		account.TotalSpentCents += bill.AmountCents
	} else {
		bill.Status = domain.BillStatusRejected
	}
	copied := *bill
	return &copied, nil
}

func (r *memoryRepository) CreateOffer(ctx context.Context, offer *domain.CouponOffer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *offer
	stored.CreatedAt = time.Now().UTC()
	r.offers[offer.ID] = &stored
	return nil
}

func (r *memoryRepository) FindOfferByID(ctx context.Context, offerID uuid.UUID) (*domain.CouponOffer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	offer, ok := r.offers[offerID]
	if !ok {
		return nil, store.ErrOfferNotFound
	}
	copied := *offer
	return &copied, nil
}

func (r *memoryRepository) ListOpenOffers(ctx context.Context, opts domain.OfferListOptions) ([]domain.CouponOffer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	var offers []domain.CouponOffer
	for _, offer := range r.offers {
		if offer.AvailableQuantity > 0 && offer.ExpiresAt.After(now) {
			offers = append(offers, *offer)
		}
	}
	return offers, nil
}

func (r *memoryRepository) PurchaseCouponAtomic(ctx context.Context, coupon *domain.IssuedCoupon) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	offer, ok := r.offers[coupon.OfferID]
	if !ok {
		return store.ErrOfferNotFound
	}
	if !offer.ExpiresAt.After(time.Now()) {
		return store.ErrOfferExpired
	}
	if offer.AvailableQuantity <= 0 {
		return store.ErrOfferSoldOut
	}
	offer.AvailableQuantity--
	coupon.IssuedAt = time.Now().UTC()
	stored := *coupon
	r.coupons[coupon.TokenID] = &stored
	return nil
}

func (r *memoryRepository) FindCouponByID(ctx context.Context, couponID uuid.UUID, ownerWalletID string) (*domain.CouponDetails, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, coupon := range r.coupons {
		if coupon.ID == couponID && coupon.OwnerWalletID == ownerWalletID {
			return r.detailsLocked(coupon), nil
		}
	}
	return nil, store.ErrCouponNotFound
}

func (r *memoryRepository) ListCouponsByOwner(ctx context.Context, walletID string, opts domain.CouponListOptions) ([]domain.CouponDetails, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var details []domain.CouponDetails
	for _, coupon := range r.coupons {
		if coupon.OwnerWalletID != walletID {
			continue
		}
		if opts.Status != "" && coupon.Status != opts.Status {
			continue
		}
		details = append(details, *r.detailsLocked(coupon))
	}
	return details, nil
}

func (r *memoryRepository) RedeemCouponAtomic(ctx context.Context, tokenID uuid.UUID, ownerWalletID string, offerID uuid.UUID) (*domain.CouponDetails, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	coupon, ok := r.coupons[tokenID]
	if !ok {
		return nil, store.ErrCouponNotFound
	}
	if coupon.OwnerWalletID != ownerWalletID {
		return nil, store.ErrOwnerMismatch
	}
	if coupon.OfferID != offerID {
		return nil, store.ErrOfferMismatch
	}
	offer := r.offers[coupon.OfferID]
	if !time.Now().Before(offer.ExpiresAt) {
		return nil, store.ErrCouponExpired
	}
	if coupon.Status == domain.CouponStatusRedeemed {
		return r.detailsLocked(coupon), store.ErrCouponAlreadyRedeemed
	}
	now := time.Now().UTC()
	coupon.Status = domain.CouponStatusRedeemed
	coupon.RedeemedAt = &now
	return r.detailsLocked(coupon), nil
}

func (r *memoryRepository) GetLoyaltyAccount(ctx context.Context, walletID string) (*domain.LoyaltyAccount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[walletID]
	if !ok {
		return nil, store.ErrLoyaltyAccountNotFound
	}
	copied := *account
	return &copied, nil
}

// detailsLocked builds a CouponDetails snapshot; callers must hold r.mu.
func (r *memoryRepository) detailsLocked(coupon *domain.IssuedCoupon) *domain.CouponDetails {
	copied := *coupon
	details := &domain.CouponDetails{Coupon: copied}
	if offer, ok := r.offers[coupon.OfferID]; ok {
		details.OfferKind = offer.Kind
		details.Description = offer.Description
		details.DiscountValue = offer.DiscountValue
		details.RestaurantID = offer.RestaurantID
		details.OfferExpiresAt = offer.ExpiresAt
	}
	return details
}

func seedOffer(t *testing.T, svc *Service, quantity int, expiresAt time.Time) *domain.CouponOffer {
	t.Helper()
	offer, err := svc.CreateOffer(context.Background(), domain.CreateOfferRequest{
		RestaurantID:  uuid.New(),
		Kind:          "percentage",
		Description:   "20% off dinner",
		DiscountValue: 20,
		TotalQuantity: quantity,
		ExpiresAt:     expiresAt,
	})
	if err != nil {
		t.Fatalf("CreateOffer returned error: %v", err)
	}
	return offer
}

func TestConcurrentPurchases_LastUnitSoldExactlyOnce(t *testing.T) {
	repo := newMemoryRepository()
	svc := NewService(repo, nil)
	offer := seedOffer(t, svc, 1, time.Now().Add(time.Hour))

	const attempts = 32
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	wg.Add(attempts)
	for i := 0; i < attempts; i++ {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.PurchaseCoupon(context.Background(), "wallet-1", offer.ID)
		}(i)
	}
	wg.Wait()

	successes, soldOut := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, store.ErrOfferSoldOut):
			soldOut++
		default:
			t.Fatalf("unexpected purchase error: %v", err)
		}
	}
	if successes != 1 {
		t.Fatalf("expected exactly 1 successful purchase of the last unit, got %d", successes)
	}
	if soldOut != attempts-1 {
		t.Fatalf("expected %d sold-out failures, got %d", attempts-1, soldOut)
	}

	stored, err := repo.FindOfferByID(context.Background(), offer.ID)
	if err != nil {
		t.Fatalf("FindOfferByID returned error: %v", err)
	}
	if stored.AvailableQuantity != 0 {
		t.Fatalf("inventory must end at 0, got %d", stored.AvailableQuantity)
	}
}

func TestConcurrentPurchases_NeverOversell(t *testing.T) {
	repo := newMemoryRepository()
	svc := NewService(repo, nil)
	offer := seedOffer(t, svc, 5, time.Now().Add(time.Hour))

	const attempts = 40
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	wg.Add(attempts)
	for i := 0; i < attempts; i++ {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.PurchaseCoupon(context.Background(), "wallet-1", offer.ID)
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
		}
	}
	if successes != 5 {
		t.Fatalf("expected exactly 5 successful purchases, got %d", successes)
	}

	coupons, err := svc.ListCoupons(context.Background(), "wallet-1", domain.CouponListOptions{})
	if err != nil {
		t.Fatalf("ListCoupons returned error: %v", err)
	}
	if len(coupons) != 5 {
		t.Fatalf("expected 5 minted coupons, got %d", len(coupons))
	}
}

func TestConcurrentRedemptions_AtMostOnce(t *testing.T) {
	repo := newMemoryRepository()
	svc := NewService(repo, nil)
	offer := seedOffer(t, svc, 1, time.Now().Add(time.Hour))

	coupon, err := svc.PurchaseCoupon(context.Background(), "wallet-1", offer.ID)
	if err != nil {
		t.Fatalf("PurchaseCoupon returned error: %v", err)
	}
	payload := domain.RedemptionPayload{
		TokenID:       coupon.TokenID,
		OwnerWalletID: coupon.OwnerWalletID,
		OfferID:       coupon.OfferID,
	}

	const attempts = 16
	errs := make([]error, attempts)
	results := make([]*domain.CouponDetails, attempts)
	var wg sync.WaitGroup
	wg.Add(attempts)
	for i := 0; i < attempts; i++ {
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.Redeem(context.Background(), "merchant-1", payload)
		}(i)
	}
	wg.Wait()

	successes, duplicates := 0, 0
	var redeemedAt *time.Time
	for i, err := range errs {
		switch {
		case err == nil:
			successes++
			redeemedAt = results[i].Coupon.RedeemedAt
		case errors.Is(err, store.ErrCouponAlreadyRedeemed):
			duplicates++
			if results[i] == nil || results[i].Coupon.RedeemedAt == nil {
				t.Fatal("duplicate redemption must surface the stored redeemed_at")
			}
		default:
			t.Fatalf("unexpected redemption error: %v", err)
		}
	}
	if successes != 1 {
		t.Fatalf("expected exactly 1 successful redemption, got %d", successes)
	}
	if duplicates != attempts-1 {
		t.Fatalf("expected %d duplicate failures, got %d", attempts-1, duplicates)
	}
	if redeemedAt == nil {
		t.Fatal("winning redemption must carry redeemed_at")
	}
}

func TestConcurrentDecisions_PointsGrantedOnce(t *testing.T) {
	repo := newMemoryRepository()
	svc := NewService(repo, nil)

	bill, err := svc.SubmitBill(context.Background(), "wallet-1", domain.SubmitBillRequest{
		RestaurantID: uuid.New(),
		AmountCents:  2500,
	})
	if err != nil {
		t.Fatalf("SubmitBill returned error: %v", err)
	}

	const attempts = 16
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	wg.Add(attempts)
	for i := 0; i < attempts; i++ {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.DecideBill(context.Background(), bill.ID, domain.BillDecisionApprove)
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, store.ErrBillAlreadyDecided):
		default:
			t.Fatalf("unexpected decision error: %v", err)
		}
	}
	if successes != 1 {
		t.Fatalf("expected exactly 1 successful decision, got %d", successes)
	}

	account, err := svc.GetLoyalty(context.Background(), "wallet-1")
	if err != nil {
		t.Fatalf("GetLoyalty returned error: %v", err)
	}
	if account.PointsEarned != 250 {
		t.Fatalf("a $25.00 bill must grant 250 points exactly once, got %d", account.PointsEarned)
	}
	if account.TotalSpentCents != 2500 {
		t.Fatalf("expected 2500 cents total spend, got %d", account.TotalSpentCents)
	}

	stored, err := repo.FindBillByID(context.Background(), bill.ID)
	if err != nil {
		t.Fatalf("FindBillByID returned error: %v", err)
	}
	if stored.Status != domain.BillStatusApproved || stored.DecidedAt == nil {
		t.Fatalf("bill must end approved with decided_at set, got %+v", stored)
	}
}

func TestAccrualFlow_ApprovalGrantsPointsAndTier(t *testing.T) {
	repo := newMemoryRepository()
	svc := NewService(repo, nil)
	ctx := context.Background()

	// Rejections never touch the loyalty account.
	rejected, err := svc.SubmitBill(ctx, "wallet-1", domain.SubmitBillRequest{RestaurantID: uuid.New(), AmountCents: 9900})
	if err != nil {
		t.Fatalf("SubmitBill returned error: %v", err)
	}
	if _, err := svc.DecideBill(ctx, rejected.ID, domain.BillDecisionReject); err != nil {
		t.Fatalf("DecideBill returned error: %v", err)
	}
	if _, err := svc.GetLoyalty(ctx, "wallet-1"); err != nil {
		t.Fatalf("GetLoyalty returned error: %v", err)
	}

	// An approved $120.00 bill grants 1200 points and lifts the wallet to Silver.
	approved, err := svc.SubmitBill(ctx, "wallet-1", domain.SubmitBillRequest{RestaurantID: uuid.New(), AmountCents: 12000})
	if err != nil {
		t.Fatalf("SubmitBill returned error: %v", err)
	}
	decided, err := svc.DecideBill(ctx, approved.ID, domain.BillDecisionApprove)
	if err != nil {
		t.Fatalf("DecideBill returned error: %v", err)
	}
	if decided.RewardsEarned != 1200 {
		t.Fatalf("expected 1200 rewards for a 12000-cent bill, got %d", decided.RewardsEarned)
	}

	account, err := svc.GetLoyalty(ctx, "wallet-1")
	if err != nil {
		t.Fatalf("GetLoyalty returned error: %v", err)
	}
	if account.PointsEarned != 1200 {
		t.Fatalf("expected 1200 points, got %d", account.PointsEarned)
	}
	if account.Tier != domain.TierSilver {
		t.Fatalf("expected Silver tier, got %q", account.Tier)
	}

	bills, err := svc.ListBills(ctx, "wallet-1")
	if err != nil {
		t.Fatalf("ListBills returned error: %v", err)
	}
	if len(bills) != 2 {
		t.Fatalf("expected 2 bills in history, got %d", len(bills))
	}
}

func TestRedeem_ExpiredOfferBlocksRedemption(t *testing.T) {
	repo := newMemoryRepository()
	svc := NewService(repo, nil)
	offer := seedOffer(t, svc, 1, time.Now().Add(50*time.Millisecond))

	coupon, err := svc.PurchaseCoupon(context.Background(), "wallet-1", offer.ID)
	if err != nil {
		t.Fatalf("PurchaseCoupon returned error: %v", err)
	}

	time.Sleep(60 * time.Millisecond)

	_, err = svc.Redeem(context.Background(), "merchant-1", domain.RedemptionPayload{
		TokenID:       coupon.TokenID,
		OwnerWalletID: coupon.OwnerWalletID,
		OfferID:       coupon.OfferID,
	})
	if !errors.Is(err, store.ErrCouponExpired) {
		t.Fatalf("expected ErrCouponExpired, got %v", err)
	}

	// Expiry is derived at validation time; the stored status stays active.
	details, err := svc.ListCoupons(context.Background(), "wallet-1", domain.CouponListOptions{Status: domain.CouponStatusActive})
	if err != nil {
		t.Fatalf("ListCoupons returned error: %v", err)
	}
	if len(details) != 1 {
		t.Fatalf("expected the coupon to remain stored as active, got %d active coupons", len(details))
	}
}

func TestRedeem_MismatchedClaimsRejected(t *testing.T) {
	repo := newMemoryRepository()
	svc := NewService(repo, nil)
	offer := seedOffer(t, svc, 2, time.Now().Add(time.Hour))

	coupon, err := svc.PurchaseCoupon(context.Background(), "wallet-1", offer.ID)
	if err != nil {
		t.Fatalf("PurchaseCoupon returned error: %v", err)
	}

	_, err = svc.Redeem(context.Background(), "merchant-1", domain.RedemptionPayload{
		TokenID:       coupon.TokenID,
		OwnerWalletID: "wallet-other",
		OfferID:       coupon.OfferID,
	})
	if !errors.Is(err, store.ErrOwnerMismatch) {
		t.Fatalf("expected ErrOwnerMismatch, got %v", err)
	}

	_, err = svc.Redeem(context.Background(), "merchant-1", domain.RedemptionPayload{
		TokenID:       coupon.TokenID,
		OwnerWalletID: coupon.OwnerWalletID,
		OfferID:       uuid.New(),
	})
	if !errors.Is(err, store.ErrOfferMismatch) {
		t.Fatalf("expected ErrOfferMismatch, got %v", err)
	}

	_, err = svc.Redeem(context.Background(), "merchant-1", domain.RedemptionPayload{
		TokenID:       uuid.New(),
		OwnerWalletID: coupon.OwnerWalletID,
		OfferID:       coupon.OfferID,
	})
	if !errors.Is(err, store.ErrCouponNotFound) {
		t.Fatalf("expected ErrCouponNotFound, got %v", err)
	}
}
