package delivery

import (
	"encoding/hex"
	"math/big"
	"testing"
)

func TestOfferCreatedEventPayload(t *testing.T) {
	customer := newTestAddress(0x02)
	var hash [32]byte
	hash[0] = 0xAB

	evt := NewOfferCreatedEvent(customer, hash)
	if evt.Type != EventTypeOfferCreated {
		t.Fatalf("type = %s", evt.Type)
	}
	if evt.Attributes["customer"] != hex.EncodeToString(customer[:]) {
		t.Fatalf("customer attr = %s", evt.Attributes["customer"])
	}
	if evt.Attributes["offer"] != hex.EncodeToString(hash[:]) {
		t.Fatalf("offer attr = %s", evt.Attributes["offer"])
	}
}

func TestOrderEventCarriesAllParties(t *testing.T) {
	order := &Order{
		Offer: &Offer{
			Customer:   newTestAddress(0x02),
			Addressee:  newTestAddress(0x04),
			Token:      "DUCK",
			Reward:     big.NewInt(1),
			Collateral: big.NewInt(1),
		},
		Courier: newTestAddress(0x03),
		Status:  OrderDelivered,
	}
	var hash [32]byte
	hash[0] = 0xCD

	evt := NewPackageDeliveredEvent(order, hash)
	if evt.Type != EventTypePackageDelivered {
		t.Fatalf("type = %s", evt.Type)
	}
	for attr, addr := range map[string][20]byte{
		"customer":  order.Offer.Customer,
		"addressee": order.Offer.Addressee,
		"courier":   order.Courier,
	} {
		if evt.Attributes[attr] != hex.EncodeToString(addr[:]) {
			t.Fatalf("%s attr = %s", attr, evt.Attributes[attr])
		}
	}
	if evt.Attributes["status"] != "2" {
		t.Fatalf("status attr = %s", evt.Attributes["status"])
	}
}

func TestOrderEventWithNilOrder(t *testing.T) {
	var hash [32]byte
	evt := NewCollateralClaimedEvent(nil, hash)
	if evt.Type != EventTypeCollateralClaimed {
		t.Fatalf("type = %s", evt.Type)
	}
	if _, ok := evt.Attributes["courier"]; ok {
		t.Fatal("nil order should not carry party attributes")
	}
}
