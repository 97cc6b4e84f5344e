package delivery

import (
	"bytes"
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

// OfferStatus tracks the lifecycle of a posted delivery offer. An offer never
// returns to Available once accepted or canceled.
type OfferStatus uint8

const (
	OfferStatusUnknown OfferStatus = iota
	OfferStatusAvailable
	OfferStatusAccepted
	OfferStatusCanceled
)

// Valid reports whether the status value is within the supported range.
func (s OfferStatus) Valid() bool {
	switch s {
	case OfferStatusAvailable, OfferStatusAccepted, OfferStatusCanceled:
		return true
	default:
		return false
	}
}

func (s OfferStatus) String() string {
	switch s {
	case OfferStatusAvailable:
		return "available"
	case OfferStatusAccepted:
		return "accepted"
	case OfferStatusCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// OrderStatus tracks the lifecycle of an accepted delivery. Delivered,
// DeliveredLate, Failed, Claimed and Returned are terminal.
type OrderStatus uint8

const (
	OrderAwaitingPickup OrderStatus = iota
	OrderPickedUp
	OrderDelivered
	OrderDeliveredLate
	OrderRefused
	OrderFailed
	OrderClaimed
	OrderReturned
)

// Valid reports whether the status value is within the supported range.
func (s OrderStatus) Valid() bool {
	return s <= OrderReturned
}

// Terminal reports whether no further transition is legal from the status.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderDelivered, OrderDeliveredLate, OrderFailed, OrderClaimed, OrderReturned:
		return true
	default:
		return false
	}
}

func (s OrderStatus) String() string {
	switch s {
	case OrderAwaitingPickup:
		return "awaiting_pickup"
	case OrderPickedUp:
		return "picked_up"
	case OrderDelivered:
		return "delivered"
	case OrderDeliveredLate:
		return "delivered_late"
	case OrderRefused:
		return "refused"
	case OrderFailed:
		return "failed"
	case OrderClaimed:
		return "claimed"
	case OrderReturned:
		return "returned"
	default:
		return "invalid"
	}
}

// Offer captures the immutable terms of a posted delivery job. The identity is
// the keccak256 hash of the canonically encoded fields, so two offers collide
// only when their content is identical.
type Offer struct {
	Nonce           uint64
	Customer        [20]byte
	Addressee       [20]byte
	PickupAddress   [32]byte
	DeliveryAddress [32]byte
	DeliveryTime    int64
	Token           string
	Reward          *big.Int
	Collateral      *big.Int
}

// Clone returns a deep copy of the offer so callers can safely mutate the copy
// without affecting the stored instance.
func (o *Offer) Clone() *Offer {
	if o == nil {
		return nil
	}
	clone := *o
	if o.Reward != nil {
		clone.Reward = new(big.Int).Set(o.Reward)
	} else {
		clone.Reward = big.NewInt(0)
	}
	if o.Collateral != nil {
		clone.Collateral = new(big.Int).Set(o.Collateral)
	} else {
		clone.Collateral = big.NewInt(0)
	}
	return &clone
}

// OfferRecord pairs the stored offer with its mutable status.
type OfferRecord struct {
	Offer  *Offer
	Status OfferStatus
}

// Clone returns a deep copy of the record.
func (r *OfferRecord) Clone() *OfferRecord {
	if r == nil {
		return nil
	}
	return &OfferRecord{Offer: r.Offer.Clone(), Status: r.Status}
}

// OfferSummary is a snapshot entry returned by the offers listing query.
type OfferSummary struct {
	Hash   [32]byte
	Status OfferStatus
}

// Order is the live engagement created when a courier accepts an offer.
// AcceptedAt never changes after creation; LastUpdateAt moves on every status
// transition.
type Order struct {
	Offer        *Offer
	Courier      [20]byte
	AcceptedAt   int64
	LastUpdateAt int64
	Status       OrderStatus
}

// Clone returns a deep copy of the order.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	clone := *o
	clone.Offer = o.Offer.Clone()
	return &clone
}

// DeliveryDeadline returns the cutoff separating on-time from late outcomes.
func (o *Order) DeliveryDeadline() int64 {
	if o == nil || o.Offer == nil {
		return 0
	}
	return o.AcceptedAt + o.Offer.DeliveryTime
}

var tokenSymbolPattern = regexp.MustCompile(`^[A-Z0-9]{1,12}$`)

// NormalizeToken trims and upper-cases the provided token symbol and checks it
// against the accepted symbol shape. Whether the token is currently
// allowlisted is a separate, state-dependent question.
func NormalizeToken(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if !tokenSymbolPattern.MatchString(trimmed) {
		return "", fmt.Errorf("invalid token symbol: %q", symbol)
	}
	return trimmed, nil
}

// EncodeLocation packs a human-readable location string into the fixed 32-byte
// form carried by offers. The string must be non-empty UTF-8 of at most 32
// bytes.
func EncodeLocation(s string) ([32]byte, error) {
	var out [32]byte
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return out, fmt.Errorf("location must be set")
	}
	if len(trimmed) > len(out) {
		return out, fmt.Errorf("location exceeds %d bytes: %q", len(out), s)
	}
	copy(out[:], trimmed)
	return out, nil
}

// DecodeLocation unpacks a fixed 32-byte location back into a string.
func DecodeLocation(loc [32]byte) string {
	return string(bytes.TrimRight(loc[:], "\x00"))
}

// SanitizeOffer validates and normalises the supplied offer, returning a
// cloned instance with canonical token casing and non-nil amounts. The
// function does not mutate the original value.
func SanitizeOffer(o *Offer) (*Offer, error) {
	if o == nil {
		return nil, fmt.Errorf("nil offer")
	}
	clone := o.Clone()
	token, err := NormalizeToken(clone.Token)
	if err != nil {
		return nil, err
	}
	clone.Token = token
	if clone.Reward.Sign() < 0 {
		return nil, fmt.Errorf("offer reward must be non-negative")
	}
	if clone.Collateral.Sign() < 0 {
		return nil, fmt.Errorf("offer collateral must be non-negative")
	}
	if clone.DeliveryTime < 0 {
		return nil, fmt.Errorf("offer delivery time must be non-negative")
	}
	return clone, nil
}
