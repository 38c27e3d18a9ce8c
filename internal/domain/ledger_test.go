package domain

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestParseRedemptionPayload(t *testing.T) {
	tokenID := uuid.New()
	offerID := uuid.New()

	t.Run("accepts the three required fields", func(t *testing.T) {
		raw := []byte(`{"token_id":"` + tokenID.String() + `","owner_wallet_id":"wallet_abc","offer_id":"` + offerID.String() + `"}`)
		payload, err := ParseRedemptionPayload(raw)
		if err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
		if payload.TokenID != tokenID || payload.OfferID != offerID || payload.OwnerWalletID != "wallet_abc" {
			t.Fatalf("unexpected payload: %+v", payload)
		}
	})

	t.Run("ignores advisory and unknown fields", func(t *testing.T) {
		raw := []byte(`{"token_id":"` + tokenID.String() + `","owner_wallet_id":" wallet_abc ","offer_id":"` + offerID.String() + `","nonce":"abc123","timestamp":1726000000000,"extra":{"a":1}}`)
		payload, err := ParseRedemptionPayload(raw)
		if err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
		if payload.OwnerWalletID != "wallet_abc" {
			t.Fatalf("expected trimmed wallet id, got %q", payload.OwnerWalletID)
		}
	})

	t.Run("rejects invalid json", func(t *testing.T) {
		if _, err := ParseRedemptionPayload([]byte("not-json")); !errors.Is(err, ErrMalformedPayload) {
			t.Fatalf("expected ErrMalformedPayload, got %v", err)
		}
	})

	t.Run("rejects missing token", func(t *testing.T) {
		raw := []byte(`{"owner_wallet_id":"wallet_abc","offer_id":"` + offerID.String() + `"}`)
		if _, err := ParseRedemptionPayload(raw); !errors.Is(err, ErrMalformedPayload) {
			t.Fatalf("expected ErrMalformedPayload, got %v", err)
		}
	})

	t.Run("rejects blank wallet claim", func(t *testing.T) {
		raw := []byte(`{"token_id":"` + tokenID.String() + `","owner_wallet_id":"   ","offer_id":"` + offerID.String() + `"}`)
		if _, err := ParseRedemptionPayload(raw); !errors.Is(err, ErrMalformedPayload) {
			t.Fatalf("expected ErrMalformedPayload, got %v", err)
		}
	})
}
