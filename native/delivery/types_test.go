package delivery

import (
	"math/big"
	"strings"
	"testing"
)

func TestEncodeLocationRoundTrip(t *testing.T) {
	loc, err := EncodeLocation("Bulwarowa 20 Krakow 31-751")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if got := DecodeLocation(loc); got != "Bulwarowa 20 Krakow 31-751" {
		t.Fatalf("round trip = %q", got)
	}
}

func TestEncodeLocationRejectsEmptyAndOversized(t *testing.T) {
	if _, err := EncodeLocation(""); err == nil {
		t.Fatal("expected error for empty location")
	}
	if _, err := EncodeLocation("   "); err == nil {
		t.Fatal("expected error for blank location")
	}
	if _, err := EncodeLocation(strings.Repeat("x", 33)); err == nil {
		t.Fatal("expected error for oversized location")
	}
	if _, err := EncodeLocation(strings.Repeat("x", 32)); err != nil {
		t.Fatalf("32-byte location should fit: %v", err)
	}
}

func TestNormalizeToken(t *testing.T) {
	cases := map[string]bool{
		"DUCK":          true,
		" duck ":        true,
		"znhb":          true,
		"TOKEN12":       true,
		"":              false,
		"toolongsymbol": false,
		"BAD-SYMBOL":    false,
	}
	for input, ok := range cases {
		normalized, err := NormalizeToken(input)
		if ok && err != nil {
			t.Fatalf("NormalizeToken(%q): %v", input, err)
		}
		if !ok && err == nil {
			t.Fatalf("NormalizeToken(%q) accepted %q", input, normalized)
		}
		if ok && normalized != strings.ToUpper(strings.TrimSpace(input)) {
			t.Fatalf("NormalizeToken(%q) = %q", input, normalized)
		}
	}
}

func TestOfferStatusTransitionsAreTerminal(t *testing.T) {
	if OfferStatusUnknown.Valid() {
		t.Fatal("unknown status should not be valid")
	}
	for _, status := range []OfferStatus{OfferStatusAvailable, OfferStatusAccepted, OfferStatusCanceled} {
		if !status.Valid() {
			t.Fatalf("status %s should be valid", status)
		}
	}
}

func TestOrderStatusTerminality(t *testing.T) {
	terminal := map[OrderStatus]bool{
		OrderAwaitingPickup: false,
		OrderPickedUp:       false,
		OrderDelivered:      true,
		OrderDeliveredLate:  true,
		OrderRefused:        false,
		OrderFailed:         true,
		OrderClaimed:        true,
		OrderReturned:       true,
	}
	for status, want := range terminal {
		if got := status.Terminal(); got != want {
			t.Fatalf("Terminal(%s) = %v, want %v", status, got, want)
		}
	}
	if OrderStatus(8).Valid() {
		t.Fatal("out-of-range status should be invalid")
	}
}

func TestOfferCloneIsDeep(t *testing.T) {
	offer := &Offer{
		Nonce:      3,
		Token:      "DUCK",
		Reward:     big.NewInt(100),
		Collateral: big.NewInt(200),
	}
	clone := offer.Clone()
	clone.Reward.SetInt64(999)
	if offer.Reward.Int64() != 100 {
		t.Fatal("clone shares reward with original")
	}
}

func TestSanitizeOfferRejectsNegativeAmounts(t *testing.T) {
	offer := &Offer{Token: "DUCK", Reward: big.NewInt(-1), Collateral: big.NewInt(1)}
	if _, err := SanitizeOffer(offer); err == nil {
		t.Fatal("expected error for negative reward")
	}
	offer = &Offer{Token: "DUCK", Reward: big.NewInt(1), Collateral: big.NewInt(-1)}
	if _, err := SanitizeOffer(offer); err == nil {
		t.Fatal("expected error for negative collateral")
	}
	offer = &Offer{Token: "bad symbol", Reward: big.NewInt(1), Collateral: big.NewInt(1)}
	if _, err := SanitizeOffer(offer); err == nil {
		t.Fatal("expected error for malformed token")
	}
}

func TestOrderDeliveryDeadline(t *testing.T) {
	order := &Order{
		Offer:      &Offer{DeliveryTime: 3600},
		AcceptedAt: 1_700_000_000,
	}
	if got := order.DeliveryDeadline(); got != 1_700_003_600 {
		t.Fatalf("deadline = %d", got)
	}
}
