/**
 * @description
 * This file sets up the HTTP router for the ledger-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies any
 * necessary middleware, such as for authentication and merchant authorization.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// LedgerRoutes creates and returns a new router for the ledger service.
func LedgerRoutes(h *LedgerHandlers, jwksURL string) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Group routes that require authentication.
	r.Group(func(r chi.Router) {
		// Apply JWT authentication middleware for production
		r.Use(WalletAuthMiddleware(jwksURL))

		// Bill submission and history for the authenticated wallet.
		r.Post("/bills", h.SubmitBillHandler)
		r.Get("/bills", h.ListBillsHandler)

		// Coupon marketplace endpoints available to every wallet.
		r.Get("/offers", h.ListOffersHandler)
		r.Post("/offers/{offerID}/purchase", h.PurchaseCouponHandler)
		r.Get("/coupons", h.ListCouponsHandler)
		r.Get("/coupons/{couponID}", h.GetCouponHandler)

		// Loyalty balance and tier for the authenticated wallet.
		r.Get("/loyalty", h.GetLoyaltyHandler)

		// Merchant-only endpoints: offer management, bill decisions and
		// point-of-sale QR redemption.
		r.Group(func(r chi.Router) {
			r.Use(RequireMerchantRole)

			r.Post("/offers", h.CreateOfferHandler)
			r.Post("/bills/{billID}/decision", h.DecideBillHandler)
			r.Post("/redeem", h.RedeemHandler)
		})
	})

	return r
}
