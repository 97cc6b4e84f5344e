package state

import (
	"fmt"
	"math/big"
	"sort"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"duckexpress/native/delivery"
)

type storedOffer struct {
	Nonce           uint64
	Customer        [20]byte
	Addressee       [20]byte
	PickupAddress   [32]byte
	DeliveryAddress [32]byte
	DeliveryTime    uint64
	Token           string
	Reward          *big.Int
	Collateral      *big.Int
	Status          uint8
}

type storedOrder struct {
	Offer        storedOffer
	Courier      [20]byte
	AcceptedAt   uint64
	LastUpdateAt uint64
	Status       uint8
}

type storedParams struct {
	Owner           [20]byte
	MinDeliveryTime uint64
	Initialized     bool
}

func newStoredOffer(o *delivery.Offer, status delivery.OfferStatus) storedOffer {
	reward := big.NewInt(0)
	if o.Reward != nil {
		reward = new(big.Int).Set(o.Reward)
	}
	collateral := big.NewInt(0)
	if o.Collateral != nil {
		collateral = new(big.Int).Set(o.Collateral)
	}
	return storedOffer{
		Nonce:           o.Nonce,
		Customer:        o.Customer,
		Addressee:       o.Addressee,
		PickupAddress:   o.PickupAddress,
		DeliveryAddress: o.DeliveryAddress,
		DeliveryTime:    uint64(o.DeliveryTime),
		Token:           o.Token,
		Reward:          reward,
		Collateral:      collateral,
		Status:          uint8(status),
	}
}

func (s *storedOffer) toOffer() *delivery.Offer {
	return &delivery.Offer{
		Nonce:           s.Nonce,
		Customer:        s.Customer,
		Addressee:       s.Addressee,
		PickupAddress:   s.PickupAddress,
		DeliveryAddress: s.DeliveryAddress,
		DeliveryTime:    int64(s.DeliveryTime),
		Token:           s.Token,
		Reward:          new(big.Int).Set(s.Reward),
		Collateral:      new(big.Int).Set(s.Collateral),
	}
}

func offerKey(hash [32]byte) []byte {
	return prefixedKey(offerRecordPrefix, hash[:])
}

func orderKey(hash [32]byte) []byte {
	return prefixedKey(orderRecordPrefix, hash[:])
}

func nonceKey(customer [20]byte) []byte {
	return prefixedKey(offerNoncePrefix, customer[:])
}

func escrowKey(hash [32]byte, token string) []byte {
	suffix := make([]byte, 0, len(hash)+1+len(token))
	suffix = append(suffix, hash[:]...)
	suffix = append(suffix, ':')
	suffix = append(suffix, token...)
	return prefixedKey(escrowVaultPrefix, suffix)
}

// OfferPut stores the offer record under its hash.
func (m *Manager) OfferPut(hash [32]byte, record *delivery.OfferRecord) error {
	if record == nil || record.Offer == nil {
		return fmt.Errorf("state: nil offer record")
	}
	sanitized, err := delivery.SanitizeOffer(record.Offer)
	if err != nil {
		return err
	}
	if !record.Status.Valid() {
		return fmt.Errorf("state: invalid offer status %d", record.Status)
	}
	stored := newStoredOffer(sanitized, record.Status)
	return m.KVPut(offerKey(hash), &stored)
}

// OfferGet loads the offer record stored under the hash.
func (m *Manager) OfferGet(hash [32]byte) (*delivery.OfferRecord, bool) {
	stored := &storedOffer{}
	ok, err := m.KVGet(offerKey(hash), stored)
	if err != nil || !ok {
		return nil, false
	}
	return &delivery.OfferRecord{
		Offer:  stored.toOffer(),
		Status: delivery.OfferStatus(stored.Status),
	}, true
}

// OfferList walks the offer index and returns every hash with its status.
func (m *Manager) OfferList() ([]delivery.OfferSummary, error) {
	summaries := make([]delivery.OfferSummary, 0)
	err := m.db.IteratePrefix(offerRecordPrefix, func(key, value []byte) bool {
		if len(key) != len(offerRecordPrefix)+32 {
			return true
		}
		var hash [32]byte
		copy(hash[:], key[len(offerRecordPrefix):])
		record, ok := m.OfferGet(hash)
		if !ok {
			return true
		}
		summaries = append(summaries, delivery.OfferSummary{Hash: hash, Status: record.Status})
		return true
	})
	if err != nil {
		return nil, err
	}
	return summaries, nil
}

// OrderPut stores the order under the offer hash.
func (m *Manager) OrderPut(hash [32]byte, order *delivery.Order) error {
	if order == nil || order.Offer == nil {
		return fmt.Errorf("state: nil order")
	}
	sanitized, err := delivery.SanitizeOffer(order.Offer)
	if err != nil {
		return err
	}
	if !order.Status.Valid() {
		return fmt.Errorf("state: invalid order status %d", order.Status)
	}
	stored := &storedOrder{
		Offer:        newStoredOffer(sanitized, delivery.OfferStatusAccepted),
		Courier:      order.Courier,
		AcceptedAt:   uint64(order.AcceptedAt),
		LastUpdateAt: uint64(order.LastUpdateAt),
		Status:       uint8(order.Status),
	}
	return m.KVPut(orderKey(hash), stored)
}

// OrderGet loads the order stored under the offer hash.
func (m *Manager) OrderGet(hash [32]byte) (*delivery.Order, bool) {
	stored := &storedOrder{}
	ok, err := m.KVGet(orderKey(hash), stored)
	if err != nil || !ok {
		return nil, false
	}
	return &delivery.Order{
		Offer:        stored.Offer.toOffer(),
		Courier:      stored.Courier,
		AcceptedAt:   int64(stored.AcceptedAt),
		LastUpdateAt: int64(stored.LastUpdateAt),
		Status:       delivery.OrderStatus(stored.Status),
	}, true
}

// OfferNonce returns the next expected offer nonce for the customer. Fresh
// customers start at zero.
func (m *Manager) OfferNonce(customer [20]byte) (uint64, error) {
	var nonce uint64
	ok, err := m.KVGet(nonceKey(customer), &nonce)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return nonce, nil
}

// BumpOfferNonce advances the customer's offer nonce by exactly one.
func (m *Manager) BumpOfferNonce(customer [20]byte) error {
	nonce, err := m.OfferNonce(customer)
	if err != nil {
		return err
	}
	return m.KVPut(nonceKey(customer), nonce+1)
}

// ParamsGet loads the module params record.
func (m *Manager) ParamsGet() (*delivery.Params, bool, error) {
	stored := &storedParams{}
	ok, err := m.KVGet(paramsKey, stored)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return &delivery.Params{
		Owner:           stored.Owner,
		MinDeliveryTime: int64(stored.MinDeliveryTime),
		Initialized:     stored.Initialized,
	}, true, nil
}

// ParamsPut stores the module params record.
func (m *Manager) ParamsPut(params *delivery.Params) error {
	if params == nil {
		return fmt.Errorf("state: nil params")
	}
	if params.MinDeliveryTime < 0 {
		return fmt.Errorf("state: negative min delivery time")
	}
	return m.KVPut(paramsKey, &storedParams{
		Owner:           params.Owner,
		MinDeliveryTime: uint64(params.MinDeliveryTime),
		Initialized:     params.Initialized,
	})
}

func (m *Manager) loadTokenList(key []byte) ([]string, error) {
	list := make([]string, 0)
	if _, err := m.KVGet(key, &list); err != nil {
		return nil, err
	}
	return list, nil
}

func (m *Manager) writeTokenList(key []byte, list []string) error {
	sort.Strings(list)
	return m.KVPut(key, list)
}

func containsToken(list []string, token string) bool {
	for _, entry := range list {
		if entry == token {
			return true
		}
	}
	return false
}

// TokenSupported reports whether the token is on the active allowlist.
func (m *Manager) TokenSupported(token string) (bool, error) {
	list, err := m.loadTokenList(tokenActiveListKey)
	if err != nil {
		return false, err
	}
	return containsToken(list, token), nil
}

// TokenEverSupported reports whether the token has ever been allowlisted.
func (m *Manager) TokenEverSupported(token string) (bool, error) {
	list, err := m.loadTokenList(tokenEverListKey)
	if err != nil {
		return false, err
	}
	return containsToken(list, token), nil
}

// TokenSetSupported adds or removes the token from the active allowlist. An
// added token is also recorded in the ever-supported history list, which only
// grows.
func (m *Manager) TokenSetSupported(token string, supported bool) error {
	active, err := m.loadTokenList(tokenActiveListKey)
	if err != nil {
		return err
	}
	if supported {
		if !containsToken(active, token) {
			active = append(active, token)
		}
		history, err := m.loadTokenList(tokenEverListKey)
		if err != nil {
			return err
		}
		if !containsToken(history, token) {
			history = append(history, token)
			if err := m.writeTokenList(tokenEverListKey, history); err != nil {
				return err
			}
		}
		return m.writeTokenList(tokenActiveListKey, active)
	}
	filtered := make([]string, 0, len(active))
	for _, entry := range active {
		if entry != token {
			filtered = append(filtered, entry)
		}
	}
	return m.writeTokenList(tokenActiveListKey, filtered)
}

// SupportedTokens returns the active allowlist in sorted order.
func (m *Manager) SupportedTokens() ([]string, error) {
	return m.loadTokenList(tokenActiveListKey)
}

// EscrowVaultAddress derives the deterministic pooled vault address holding
// escrowed funds for the given token.
func (m *Manager) EscrowVaultAddress(token string) ([20]byte, error) {
	normalized, err := delivery.NormalizeToken(token)
	if err != nil {
		return [20]byte{}, err
	}
	digest := ethcrypto.Keccak256([]byte("delivery/vault/" + normalized))
	var addr [20]byte
	copy(addr[:], digest[12:])
	return addr, nil
}

// EscrowCredit increases the custody balance attributed to an order.
func (m *Manager) EscrowCredit(hash [32]byte, token string, amt *big.Int) error {
	if amt == nil || amt.Sign() < 0 {
		return fmt.Errorf("state: escrow credit amount must be non-negative")
	}
	balance, err := m.EscrowBalance(hash, token)
	if err != nil {
		return err
	}
	return m.KVPut(escrowKey(hash, token), new(big.Int).Add(balance, amt))
}

// EscrowDebit decreases the custody balance attributed to an order. Debiting
// below zero is a conservation violation and is rejected.
func (m *Manager) EscrowDebit(hash [32]byte, token string, amt *big.Int) error {
	if amt == nil || amt.Sign() < 0 {
		return fmt.Errorf("state: escrow debit amount must be non-negative")
	}
	balance, err := m.EscrowBalance(hash, token)
	if err != nil {
		return err
	}
	if balance.Cmp(amt) < 0 {
		return fmt.Errorf("state: escrow balance underflow for order %x", hash)
	}
	return m.KVPut(escrowKey(hash, token), new(big.Int).Sub(balance, amt))
}

// EscrowBalance returns the custody balance still attributed to an order.
func (m *Manager) EscrowBalance(hash [32]byte, token string) (*big.Int, error) {
	balance := new(big.Int)
	ok, err := m.KVGet(escrowKey(hash, token), balance)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return balance, nil
}

// Mint credits freshly issued tokens to an account. Used for genesis funding
// and the owner-gated faucet.
func (m *Manager) Mint(addr [20]byte, token string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("state: mint amount must be positive")
	}
	account, err := m.GetAccount(addr[:])
	if err != nil {
		return err
	}
	account.SetBalance(token, new(big.Int).Add(account.BalanceOf(token), amount))
	return m.PutAccount(addr[:], account)
}
