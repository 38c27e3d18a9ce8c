/**
 * @description
 * This file contains the HTTP handlers for the ledger-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * Error mapping policy: validation errors are 400 and never touch storage;
 * state conflicts (sold out, already decided, already redeemed, mismatches)
 * are 409; derived expiry is 410; transient storage failures are 503 with a
 * Retry-After hint — the only class a caller should retry.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/platefi/ledger-service/internal/app"
	"github.com/platefi/ledger-service/internal/domain"
	"github.com/platefi/ledger-service/internal/store"
)

// LedgerHandlers holds the application service that handlers will use.
type LedgerHandlers struct {
	service *app.Service
}

// NewLedgerHandlers creates a new instance of LedgerHandlers.
func NewLedgerHandlers(service *app.Service) *LedgerHandlers {
	return &LedgerHandlers{service: service}
}

// couponResponse is sent back after purchase and coupon detail reads. It
// carries the QR payload content the client renders for in-person redemption.
type couponResponse struct {
	Coupon        domain.IssuedCoupon `json:"coupon"`
	QRCodeContent string              `json:"qr_code_content,omitempty"`
}

// redeemRequest accepts either a raw QR payload string or its parsed fields.
type redeemRequest struct {
	QRCodeContent string `json:"qr_code_content,omitempty"`

	TokenID       uuid.UUID `json:"token_id,omitempty"`
	OwnerWalletID string    `json:"owner_wallet_id,omitempty"`
	OfferID       uuid.UUID `json:"offer_id,omitempty"`
}

// SubmitBillHandler handles receipt submissions.
func (h *LedgerHandlers) SubmitBillHandler(w http.ResponseWriter, r *http.Request) {
	walletID, ok := GetWalletID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get wallet from context")
		return
	}

	var req domain.SubmitBillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("level=warn component=api endpoint=submit_bill outcome=reject reason=invalid_json err=%v", err)
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	bill, err := h.service.SubmitBill(r.Context(), walletID, req)
	if err != nil {
		h.writeServiceError(w, "submit_bill", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, bill)
}

// DecideBillHandler handles the one-way bill approval/rejection transition.
func (h *LedgerHandlers) DecideBillHandler(w http.ResponseWriter, r *http.Request) {
	billID, err := uuid.Parse(chi.URLParam(r, "billID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid bill ID")
		return
	}

	var req domain.DecideBillRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	bill, err := h.service.DecideBill(r.Context(), billID, req.Decision)
	if err != nil {
		h.writeServiceError(w, "decide_bill", err)
		return
	}

	h.writeJSON(w, http.StatusOK, bill)
}

// ListBillsHandler returns the caller's bill history.
func (h *LedgerHandlers) ListBillsHandler(w http.ResponseWriter, r *http.Request) {
	walletID, ok := GetWalletID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get wallet from context")
		return
	}

	bills, err := h.service.ListBills(r.Context(), walletID)
	if err != nil {
		h.writeServiceError(w, "list_bills", err)
		return
	}

	h.writeJSON(w, http.StatusOK, bills)
}

// CreateOfferHandler handles coupon offer creation by restaurant staff.
func (h *LedgerHandlers) CreateOfferHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateOfferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	offer, err := h.service.CreateOffer(r.Context(), req)
	if err != nil {
		h.writeServiceError(w, "create_offer", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, offer)
}

// ListOffersHandler returns purchasable offers for the marketplace.
func (h *LedgerHandlers) ListOffersHandler(w http.ResponseWriter, r *http.Request) {
	opts := domain.OfferListOptions{Sort: r.URL.Query().Get("sort")}
	if raw := strings.TrimSpace(r.URL.Query().Get("restaurant_id")); raw != "" {
		restaurantID, err := uuid.Parse(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "Invalid restaurant ID")
			return
		}
		opts.RestaurantID = &restaurantID
	}

	offers, err := h.service.ListOpenOffers(r.Context(), opts)
	if err != nil {
		h.writeServiceError(w, "list_offers", err)
		return
	}

	h.writeJSON(w, http.StatusOK, offers)
}

// PurchaseCouponHandler handles coupon purchases against bounded inventory.
func (h *LedgerHandlers) PurchaseCouponHandler(w http.ResponseWriter, r *http.Request) {
	walletID, ok := GetWalletID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get wallet from context")
		return
	}

	offerID, err := uuid.Parse(chi.URLParam(r, "offerID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid offer ID")
		return
	}

	coupon, err := h.service.PurchaseCoupon(r.Context(), walletID, offerID)
	if err != nil {
		h.writeServiceError(w, "purchase_coupon", err)
		return
	}

	h.writeJSON(w, http.StatusCreated, couponResponse{
		Coupon:        *coupon,
		QRCodeContent: h.service.QRCodeContent(coupon),
	})
}

// ListCouponsHandler returns the caller's coupons with optional status filter.
func (h *LedgerHandlers) ListCouponsHandler(w http.ResponseWriter, r *http.Request) {
	walletID, ok := GetWalletID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get wallet from context")
		return
	}

	status := r.URL.Query().Get("status")
	if status != "" && status != domain.CouponStatusActive && status != domain.CouponStatusRedeemed {
		h.writeError(w, http.StatusBadRequest, "Invalid status filter")
		return
	}

	coupons, err := h.service.ListCoupons(r.Context(), walletID, domain.CouponListOptions{Status: status})
	if err != nil {
		h.writeServiceError(w, "list_coupons", err)
		return
	}

	h.writeJSON(w, http.StatusOK, coupons)
}

// GetCouponHandler returns one coupon with its QR payload content.
func (h *LedgerHandlers) GetCouponHandler(w http.ResponseWriter, r *http.Request) {
	walletID, ok := GetWalletID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get wallet from context")
		return
	}

	couponID, err := uuid.Parse(chi.URLParam(r, "couponID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid coupon ID")
		return
	}

	details, qrContent, err := h.service.GetCoupon(r.Context(), couponID, walletID)
	if err != nil {
		h.writeServiceError(w, "get_coupon", err)
		return
	}

	h.writeJSON(w, http.StatusOK, struct {
		domain.CouponDetails
		QRCodeContent string `json:"qr_code_content"`
	}{*details, qrContent})
}

// RedeemHandler consumes a scanned QR payload and performs the at-most-once
// redemption. The response always exposes redeemed_at so a retrying caller can
// recognize its own earlier success by audit trail.
func (h *LedgerHandlers) RedeemHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := GetWalletID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get wallet from context")
		return
	}

	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	var payload domain.RedemptionPayload
	if req.QRCodeContent != "" {
		parsed, err := domain.ParseRedemptionPayload([]byte(req.QRCodeContent))
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "Malformed QR payload")
			return
		}
		payload = parsed
	} else {
		payload = domain.RedemptionPayload{
			TokenID:       req.TokenID,
			OwnerWalletID: strings.TrimSpace(req.OwnerWalletID),
			OfferID:       req.OfferID,
		}
	}

	details, err := h.service.Redeem(r.Context(), principal, payload)
	if err != nil {
		var rateLimited *app.RateLimitedError
		if errors.As(err, &rateLimited) {
			w.Header().Set("Retry-After", strconv.Itoa(rateLimited.RetryAfterSeconds))
			h.writeError(w, http.StatusTooManyRequests, "Too many redemption attempts. Please wait and try again.")
			return
		}
		if errors.Is(err, store.ErrCouponAlreadyRedeemed) && details != nil {
			h.writeJSON(w, http.StatusConflict, struct {
				Error  string              `json:"error"`
				Coupon domain.IssuedCoupon `json:"coupon"`
			}{"Coupon has already been redeemed", details.Coupon})
			return
		}
		h.writeServiceError(w, "redeem", err)
		return
	}

	h.writeJSON(w, http.StatusOK, details)
}

// GetLoyaltyHandler returns the caller's loyalty account with derived tier.
func (h *LedgerHandlers) GetLoyaltyHandler(w http.ResponseWriter, r *http.Request) {
	walletID, ok := GetWalletID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get wallet from context")
		return
	}

	account, err := h.service.GetLoyalty(r.Context(), walletID)
	if err != nil {
		h.writeServiceError(w, "get_loyalty", err)
		return
	}

	h.writeJSON(w, http.StatusOK, account)
}

// writeServiceError maps service and store errors onto HTTP status codes.
func (h *LedgerHandlers) writeServiceError(w http.ResponseWriter, endpoint string, err error) {
	switch {
	case errors.Is(err, app.ErrInvalidAmount),
		errors.Is(err, app.ErrInvalidRating),
		errors.Is(err, app.ErrInvalidDecision),
		errors.Is(err, app.ErrInvalidQuantity),
		errors.Is(err, app.ErrInvalidExpiry),
		errors.Is(err, app.ErrInvalidPrice),
		errors.Is(err, app.ErrInvalidRecipient),
		errors.Is(err, domain.ErrMalformedPayload):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrBillNotFound),
		errors.Is(err, store.ErrOfferNotFound),
		errors.Is(err, store.ErrCouponNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrBillAlreadyDecided),
		errors.Is(err, store.ErrOfferSoldOut),
		errors.Is(err, store.ErrCouponAlreadyRedeemed),
		errors.Is(err, store.ErrOwnerMismatch),
		errors.Is(err, store.ErrOfferMismatch):
		h.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrOfferExpired),
		errors.Is(err, store.ErrCouponExpired):
		h.writeError(w, http.StatusGone, err.Error())
	case errors.Is(err, store.ErrUnavailable):
		w.Header().Set("Retry-After", "1")
		h.writeError(w, http.StatusServiceUnavailable, "Ledger store temporarily unavailable")
	default:
		log.Printf("level=error component=api endpoint=%s msg=\"unhandled error\" err=%v", endpoint, err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// writeJSON is a helper for writing JSON responses.
func (h *LedgerHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *LedgerHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
