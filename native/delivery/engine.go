package delivery

import (
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"duckexpress/core/events"
	"duckexpress/core/types"
)

var errNilState = errors.New("delivery engine: state not configured")

// engineState is the storage surface the engine drives. The production
// implementation is core/state.Manager; tests provide an in-memory mock.
type engineState interface {
	OfferPut(hash [32]byte, record *OfferRecord) error
	OfferGet(hash [32]byte) (*OfferRecord, bool)
	OfferList() ([]OfferSummary, error)
	OrderPut(hash [32]byte, order *Order) error
	OrderGet(hash [32]byte) (*Order, bool)
	OfferNonce(customer [20]byte) (uint64, error)
	BumpOfferNonce(customer [20]byte) error
	ParamsGet() (*Params, bool, error)
	ParamsPut(*Params) error
	TokenSupported(token string) (bool, error)
	TokenEverSupported(token string) (bool, error)
	TokenSetSupported(token string, supported bool) error
	SupportedTokens() ([]string, error)
	EscrowVaultAddress(token string) ([20]byte, error)
	EscrowCredit(hash [32]byte, token string, amt *big.Int) error
	EscrowDebit(hash [32]byte, token string, amt *big.Int) error
	EscrowBalance(hash [32]byte, token string) (*big.Int, error)
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
}

// Engine wires the settlement business logic with external state and event
// emitters. Offers, orders, nonces, the token allowlist and custody balances
// all live behind the engineState interface; the engine enforces
// authorization, status guards and deadline rules and moves funds.
//
// Every exported operation runs under a single mutex, so concurrent callers
// observe a linearized sequence of transitions. Guards run before any write,
// and the only fallible effect (the balance move) runs before record updates,
// so a rejected call leaves state untouched.
type Engine struct {
	mu      sync.Mutex
	state   engineState
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine creates a settlement engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(deliveryEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// transferToken moves amount of token between two accounts. Transfers are
// all-or-nothing: an insufficient balance aborts before any write.
func (e *Engine) transferToken(from, to [20]byte, token string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	amt := cloneBigInt(amount)
	if amt.Sign() == 0 {
		return nil
	}
	if amt.Sign() < 0 {
		return fmt.Errorf("%w: negative transfer amount", ErrValidation)
	}
	fromAcc, err := e.state.GetAccount(from[:])
	if err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(to[:])
	if err != nil {
		return err
	}
	if fromAcc == nil {
		fromAcc = types.NewAccount()
	}
	if toAcc == nil {
		toAcc = types.NewAccount()
	}
	fromBal := fromAcc.BalanceOf(token)
	if fromBal.Cmp(amt) < 0 {
		return fmt.Errorf("%w: %s", ErrInsufficientFunds, token)
	}
	fromAcc.SetBalance(token, new(big.Int).Sub(fromBal, amt))
	toAcc.SetBalance(token, new(big.Int).Add(toAcc.BalanceOf(token), amt))
	if err := e.state.PutAccount(from[:], fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to[:], toAcc)
}

// holdFunds pulls amount of the offer token from the payer into the custody
// vault and credits the per-order escrow balance.
func (e *Engine) holdFunds(hash [32]byte, payer [20]byte, token string, amount *big.Int) error {
	vault, err := e.state.EscrowVaultAddress(token)
	if err != nil {
		return err
	}
	if err := e.transferToken(payer, vault, token, amount); err != nil {
		return err
	}
	return e.state.EscrowCredit(hash, token, amount)
}

// payOut debits the per-order escrow balance and releases amount from the
// custody vault to the recipient.
func (e *Engine) payOut(hash [32]byte, recipient [20]byte, token string, amount *big.Int) error {
	vault, err := e.state.EscrowVaultAddress(token)
	if err != nil {
		return err
	}
	if err := e.transferToken(vault, recipient, token, amount); err != nil {
		return err
	}
	return e.state.EscrowDebit(hash, token, amount)
}

// CreateDeliveryOffer validates and publishes a new offer, escrows the reward
// from the caller and advances the caller's offer nonce. It returns the
// deterministic offer identity.
func (e *Engine) CreateDeliveryOffer(offer *Offer, caller [20]byte) ([32]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return [32]byte{}, errNilState
	}
	if offer == nil {
		return [32]byte{}, fmt.Errorf("%w: nil offer", ErrValidation)
	}
	token, err := NormalizeToken(offer.Token)
	if err != nil {
		return [32]byte{}, fmt.Errorf("%w: %s", ErrTokenNotSupported, offer.Token)
	}
	supported, err := e.state.TokenSupported(token)
	if err != nil {
		return [32]byte{}, err
	}
	if !supported {
		return [32]byte{}, fmt.Errorf("%w: the payment token is not supported", ErrTokenNotSupported)
	}
	if caller != offer.Customer {
		return [32]byte{}, fmt.Errorf("%w: customer address must be the caller address", ErrUnauthorized)
	}
	nonce, err := e.state.OfferNonce(offer.Customer)
	if err != nil {
		return [32]byte{}, err
	}
	if offer.Nonce != nonce {
		return [32]byte{}, fmt.Errorf("%w: incorrect nonce", ErrInvalidNonce)
	}
	if offer.PickupAddress == ([32]byte{}) {
		return [32]byte{}, fmt.Errorf("%w: the pickup address must be set", ErrValidation)
	}
	if offer.DeliveryAddress == ([32]byte{}) {
		return [32]byte{}, fmt.Errorf("%w: the delivery address must be set", ErrValidation)
	}
	params, err := e.requireParams()
	if err != nil {
		return [32]byte{}, err
	}
	if offer.DeliveryTime < params.MinDeliveryTime {
		return [32]byte{}, fmt.Errorf("%w: the delivery time cannot be lesser than the minimal delivery time", ErrValidation)
	}
	if offer.Reward == nil || offer.Reward.Sign() <= 0 {
		return [32]byte{}, fmt.Errorf("%w: the reward must be greater than 0", ErrValidation)
	}
	if offer.Collateral == nil || offer.Collateral.Sign() <= 0 {
		return [32]byte{}, fmt.Errorf("%w: the collateral must be greater than 0", ErrValidation)
	}
	sanitized := offer.Clone()
	sanitized.Token = token
	hash, err := HashOffer(sanitized)
	if err != nil {
		return [32]byte{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if _, ok := e.state.OfferGet(hash); ok {
		return [32]byte{}, fmt.Errorf("%w: an offer with this identity already exists", ErrInvalidState)
	}
	if err := e.holdFunds(hash, sanitized.Customer, token, sanitized.Reward); err != nil {
		return [32]byte{}, err
	}
	if err := e.state.OfferPut(hash, &OfferRecord{Offer: sanitized, Status: OfferStatusAvailable}); err != nil {
		return [32]byte{}, err
	}
	if err := e.state.BumpOfferNonce(sanitized.Customer); err != nil {
		return [32]byte{}, err
	}
	e.emit(NewOfferCreatedEvent(sanitized.Customer, hash))
	return hash, nil
}

// CancelDeliveryOffer withdraws an available offer and refunds the escrowed
// reward to its creator.
func (e *Engine) CancelDeliveryOffer(hash [32]byte, caller [20]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return errNilState
	}
	record, ok := e.state.OfferGet(hash)
	if !ok {
		return fmt.Errorf("%w: no offer with provided hash", ErrNotFound)
	}
	if caller != record.Offer.Customer {
		return fmt.Errorf("%w: caller is not the offer creator", ErrUnauthorized)
	}
	if record.Status != OfferStatusAvailable {
		return fmt.Errorf("%w: the offer is unavailable", ErrInvalidState)
	}
	if err := e.payOut(hash, record.Offer.Customer, record.Offer.Token, record.Offer.Reward); err != nil {
		return err
	}
	record.Status = OfferStatusCanceled
	if err := e.state.OfferPut(hash, record); err != nil {
		return err
	}
	e.emit(NewOfferCanceledEvent(hash))
	return nil
}

// AcceptDeliveryOffer stakes the caller's collateral against an available
// offer and opens the delivery order.
func (e *Engine) AcceptDeliveryOffer(hash [32]byte, caller [20]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return errNilState
	}
	record, ok := e.state.OfferGet(hash)
	if !ok || record.Status != OfferStatusAvailable {
		return fmt.Errorf("%w: the offer is unavailable", ErrInvalidState)
	}
	if err := e.holdFunds(hash, caller, record.Offer.Token, record.Offer.Collateral); err != nil {
		return err
	}
	now := e.now()
	order := &Order{
		Offer:        record.Offer.Clone(),
		Courier:      caller,
		AcceptedAt:   now,
		LastUpdateAt: now,
		Status:       OrderAwaitingPickup,
	}
	if err := e.state.OrderPut(hash, order); err != nil {
		return err
	}
	record.Status = OfferStatusAccepted
	if err := e.state.OfferPut(hash, record); err != nil {
		return err
	}
	e.emit(NewOfferAcceptedEvent(caller, hash))
	return nil
}

// ConfirmPickUp records that the customer handed the package to the courier.
func (e *Engine) ConfirmPickUp(hash [32]byte, caller [20]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return errNilState
	}
	order, ok := e.state.OrderGet(hash)
	if !ok {
		return fmt.Errorf("%w: no order with provided hash", ErrNotFound)
	}
	if caller != order.Offer.Customer {
		return fmt.Errorf("%w: caller is not the offer creator", ErrUnauthorized)
	}
	if order.Status != OrderAwaitingPickup {
		return fmt.Errorf("%w: cannot confirm pick up in status %s", ErrInvalidState, order.Status)
	}
	order.Status = OrderPickedUp
	order.LastUpdateAt = e.now()
	if err := e.state.OrderPut(hash, order); err != nil {
		return err
	}
	e.emit(NewPackagePickedUpEvent(order, hash))
	return nil
}

// ConfirmDelivery settles a delivery. Called by the addressee on a picked-up
// order it pays the courier, splitting the reward with the customer when the
// deadline lapsed. Called by the customer on a refused order it records the
// package as returned and pays the courier back in full.
func (e *Engine) ConfirmDelivery(hash [32]byte, caller [20]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return errNilState
	}
	order, ok := e.state.OrderGet(hash)
	if !ok {
		return fmt.Errorf("%w: no order with provided hash", ErrNotFound)
	}
	switch order.Status {
	case OrderPickedUp:
		if caller != order.Offer.Addressee {
			return fmt.Errorf("%w: caller is not the addressee", ErrUnauthorized)
		}
		now := e.now()
		reward := cloneBigInt(order.Offer.Reward)
		collateral := cloneBigInt(order.Offer.Collateral)
		if now <= order.DeliveryDeadline() {
			order.Status = OrderDelivered
			if err := e.payOut(hash, order.Courier, order.Offer.Token, new(big.Int).Add(reward, collateral)); err != nil {
				return err
			}
		} else {
			// Late: the customer gets half the reward back, rounded down;
			// the courier keeps the rest plus the collateral. The halves
			// always sum to the full reward.
			customerShare := new(big.Int).Div(reward, big.NewInt(2))
			courierShare := new(big.Int).Sub(reward, customerShare)
			order.Status = OrderDeliveredLate
			if err := e.payOut(hash, order.Courier, order.Offer.Token, new(big.Int).Add(courierShare, collateral)); err != nil {
				return err
			}
			if err := e.payOut(hash, order.Offer.Customer, order.Offer.Token, customerShare); err != nil {
				return err
			}
		}
		order.LastUpdateAt = now
		if err := e.state.OrderPut(hash, order); err != nil {
			return err
		}
		e.emit(NewPackageDeliveredEvent(order, hash))
		return nil
	case OrderRefused:
		if caller != order.Offer.Customer {
			return fmt.Errorf("%w: caller is not the offer creator", ErrUnauthorized)
		}
		total := new(big.Int).Add(cloneBigInt(order.Offer.Reward), cloneBigInt(order.Offer.Collateral))
		if err := e.payOut(hash, order.Courier, order.Offer.Token, total); err != nil {
			return err
		}
		order.Status = OrderReturned
		order.LastUpdateAt = e.now()
		if err := e.state.OrderPut(hash, order); err != nil {
			return err
		}
		e.emit(NewPackageReturnedEvent(order, hash))
		return nil
	default:
		return fmt.Errorf("%w: cannot confirm delivery in status %s", ErrInvalidState, order.Status)
	}
}

// RefuseDelivery rejects a delivery. Called by the addressee on a picked-up
// order it marks the package refused without moving funds. Called by the
// customer on a refused order it records the courier's failure to return the
// package and forfeits reward and collateral to the customer.
func (e *Engine) RefuseDelivery(hash [32]byte, caller [20]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return errNilState
	}
	order, ok := e.state.OrderGet(hash)
	if !ok {
		return fmt.Errorf("%w: no order with provided hash", ErrNotFound)
	}
	switch order.Status {
	case OrderPickedUp:
		if caller != order.Offer.Addressee {
			return fmt.Errorf("%w: caller is not the addressee", ErrUnauthorized)
		}
		order.Status = OrderRefused
		order.LastUpdateAt = e.now()
		if err := e.state.OrderPut(hash, order); err != nil {
			return err
		}
		e.emit(NewDeliveryRefusedEvent(order, hash))
		return nil
	case OrderRefused:
		if caller != order.Offer.Customer {
			return fmt.Errorf("%w: caller is not the offer creator", ErrUnauthorized)
		}
		total := new(big.Int).Add(cloneBigInt(order.Offer.Reward), cloneBigInt(order.Offer.Collateral))
		if err := e.payOut(hash, order.Offer.Customer, order.Offer.Token, total); err != nil {
			return err
		}
		order.Status = OrderFailed
		order.LastUpdateAt = e.now()
		if err := e.state.OrderPut(hash, order); err != nil {
			return err
		}
		e.emit(NewDeliveryFailedEvent(order, hash))
		return nil
	default:
		return fmt.Errorf("%w: cannot refuse delivery in status %s", ErrInvalidState, order.Status)
	}
}

// ClaimCollateral lets the customer claim reward and collateral after the
// delivery deadline passed without a completed delivery.
func (e *Engine) ClaimCollateral(hash [32]byte, caller [20]byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return errNilState
	}
	order, ok := e.state.OrderGet(hash)
	if !ok {
		return fmt.Errorf("%w: no order with provided hash", ErrNotFound)
	}
	if caller != order.Offer.Customer {
		return fmt.Errorf("%w: caller is not the offer creator", ErrUnauthorized)
	}
	if order.Status != OrderAwaitingPickup && order.Status != OrderPickedUp {
		return fmt.Errorf("%w: cannot claim collateral in status %s", ErrInvalidState, order.Status)
	}
	now := e.now()
	if now <= order.DeliveryDeadline() {
		return fmt.Errorf("%w: the delivery deadline has not been reached yet", ErrDeadlineNotReached)
	}
	total := new(big.Int).Add(cloneBigInt(order.Offer.Reward), cloneBigInt(order.Offer.Collateral))
	if err := e.payOut(hash, order.Offer.Customer, order.Offer.Token, total); err != nil {
		return err
	}
	order.Status = OrderClaimed
	order.LastUpdateAt = now
	if err := e.state.OrderPut(hash, order); err != nil {
		return err
	}
	e.emit(NewCollateralClaimedEvent(order, hash))
	return nil
}

// --- Queries ---

// OfferStatus returns the lifecycle status of the offer with the given hash.
func (e *Engine) OfferStatus(hash [32]byte) (OfferStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return OfferStatusUnknown, errNilState
	}
	record, ok := e.state.OfferGet(hash)
	if !ok {
		return OfferStatusUnknown, fmt.Errorf("%w: no offer with provided hash", ErrNotFound)
	}
	return record.Status, nil
}

// Offer returns a copy of the stored offer with the given hash.
func (e *Engine) Offer(hash [32]byte) (*Offer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, errNilState
	}
	record, ok := e.state.OfferGet(hash)
	if !ok {
		return nil, fmt.Errorf("%w: no offer with provided hash", ErrNotFound)
	}
	return record.Offer.Clone(), nil
}

// Order returns a copy of the order opened for the offer with the given hash.
func (e *Engine) Order(hash [32]byte) (*Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, errNilState
	}
	order, ok := e.state.OrderGet(hash)
	if !ok {
		return nil, fmt.Errorf("%w: no order with provided hash", ErrNotFound)
	}
	return order.Clone(), nil
}

// Offers returns a snapshot of every stored offer hash with its status. The
// snapshot is empty, never nil, when no offers exist.
func (e *Engine) Offers() ([]OfferSummary, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, errNilState
	}
	return e.state.OfferList()
}

// DeliveryDeadline returns acceptance time plus the offer's delivery window.
func (e *Engine) DeliveryDeadline(hash [32]byte) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return 0, errNilState
	}
	order, ok := e.state.OrderGet(hash)
	if !ok {
		return 0, fmt.Errorf("%w: no order with provided hash", ErrNotFound)
	}
	return order.DeliveryDeadline(), nil
}

// EscrowBalance reports the custody balance still attributable to an order.
func (e *Engine) EscrowBalance(hash [32]byte, token string) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return nil, errNilState
	}
	return e.state.EscrowBalance(hash, token)
}

// OfferNonce returns the next expected offer nonce for the customer.
func (e *Engine) OfferNonce(customer [20]byte) (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil {
		return 0, errNilState
	}
	return e.state.OfferNonce(customer)
}
