package delivery

import (
	"encoding/hex"
	"strconv"

	"duckexpress/core/types"
)

const (
	EventTypeOfferCreated      = "delivery.offer_created"
	EventTypeOfferAccepted     = "delivery.offer_accepted"
	EventTypeOfferCanceled     = "delivery.offer_canceled"
	EventTypePackagePickedUp   = "delivery.package_picked_up"
	EventTypePackageDelivered  = "delivery.package_delivered"
	EventTypePackageReturned   = "delivery.package_returned"
	EventTypeDeliveryRefused   = "delivery.delivery_refused"
	EventTypeDeliveryFailed    = "delivery.delivery_failed"
	EventTypeCollateralClaimed = "delivery.collateral_claimed"
)

// deliveryEvent adapts a wire payload to the events.Event interface.
type deliveryEvent struct {
	evt *types.Event
}

func (e deliveryEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e deliveryEvent) Event() *types.Event { return e.evt }

// NewOfferCreatedEvent returns the canonical payload emitted when a customer
// posts a new delivery offer.
func NewOfferCreatedEvent(customer [20]byte, hash [32]byte) *types.Event {
	return &types.Event{Type: EventTypeOfferCreated, Attributes: map[string]string{
		"customer": hex.EncodeToString(customer[:]),
		"offer":    hex.EncodeToString(hash[:]),
	}}
}

// NewOfferAcceptedEvent returns the canonical payload emitted when a courier
// stakes collateral and accepts an offer.
func NewOfferAcceptedEvent(courier [20]byte, hash [32]byte) *types.Event {
	return &types.Event{Type: EventTypeOfferAccepted, Attributes: map[string]string{
		"courier": hex.EncodeToString(courier[:]),
		"offer":   hex.EncodeToString(hash[:]),
	}}
}

// NewOfferCanceledEvent returns the canonical payload emitted when the creator
// withdraws an available offer.
func NewOfferCanceledEvent(hash [32]byte) *types.Event {
	return &types.Event{Type: EventTypeOfferCanceled, Attributes: map[string]string{
		"offer": hex.EncodeToString(hash[:]),
	}}
}

func newOrderEvent(eventType string, order *Order, hash [32]byte) *types.Event {
	attrs := map[string]string{
		"offer": hex.EncodeToString(hash[:]),
	}
	if order != nil {
		attrs["courier"] = hex.EncodeToString(order.Courier[:])
		attrs["status"] = strconv.FormatUint(uint64(order.Status), 10)
		if order.Offer != nil {
			attrs["customer"] = hex.EncodeToString(order.Offer.Customer[:])
			attrs["addressee"] = hex.EncodeToString(order.Offer.Addressee[:])
		}
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

// NewPackagePickedUpEvent is emitted when the customer hands the package over.
func NewPackagePickedUpEvent(order *Order, hash [32]byte) *types.Event {
	return newOrderEvent(EventTypePackagePickedUp, order, hash)
}

// NewPackageDeliveredEvent is emitted on either on-time or late delivery.
func NewPackageDeliveredEvent(order *Order, hash [32]byte) *types.Event {
	return newOrderEvent(EventTypePackageDelivered, order, hash)
}

// NewPackageReturnedEvent is emitted when a refused package makes it back to
// the customer.
func NewPackageReturnedEvent(order *Order, hash [32]byte) *types.Event {
	return newOrderEvent(EventTypePackageReturned, order, hash)
}

// NewDeliveryRefusedEvent is emitted when the addressee refuses receipt.
func NewDeliveryRefusedEvent(order *Order, hash [32]byte) *types.Event {
	return newOrderEvent(EventTypeDeliveryRefused, order, hash)
}

// NewDeliveryFailedEvent is emitted when the customer reports the courier
// failed to return a refused package.
func NewDeliveryFailedEvent(order *Order, hash [32]byte) *types.Event {
	return newOrderEvent(EventTypeDeliveryFailed, order, hash)
}

// NewCollateralClaimedEvent is emitted when the customer claims reward and
// collateral after the delivery deadline lapsed.
func NewCollateralClaimedEvent(order *Order, hash [32]byte) *types.Event {
	return newOrderEvent(EventTypeCollateralClaimed, order, hash)
}
