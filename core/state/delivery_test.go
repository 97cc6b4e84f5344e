package state_test

import (
	"bytes"
	"math/big"
	"testing"

	"duckexpress/core/state"
	deliverypkg "duckexpress/native/delivery"
	"duckexpress/storage"
)

func newTestManager(t *testing.T) *state.Manager {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	return state.NewManager(db)
}

func testAddr(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func testHash(fill byte) [32]byte {
	var hash [32]byte
	copy(hash[:], bytes.Repeat([]byte{fill}, 32))
	return hash
}

func testOffer() *deliverypkg.Offer {
	pickup, _ := deliverypkg.EncodeLocation("Bulwarowa 20 Krakow 31-751")
	dropoff, _ := deliverypkg.EncodeLocation("Opatowska 48 Warszawa 01-622")
	return &deliverypkg.Offer{
		Nonce:           7,
		Customer:        testAddr(0x01),
		Addressee:       testAddr(0x02),
		PickupAddress:   pickup,
		DeliveryAddress: dropoff,
		DeliveryTime:    2 * 24 * 3600,
		Token:           "duck",
		Reward:          big.NewInt(1000),
		Collateral:      big.NewInt(2000),
	}
}

func TestManagerOfferPutGet(t *testing.T) {
	mgr := newTestManager(t)
	hash := testHash(0xAB)

	if _, ok := mgr.OfferGet(hash); ok {
		t.Fatal("expected no offer before put")
	}
	record := &deliverypkg.OfferRecord{Offer: testOffer(), Status: deliverypkg.OfferStatusAvailable}
	if err := mgr.OfferPut(hash, record); err != nil {
		t.Fatalf("OfferPut: %v", err)
	}

	stored, ok := mgr.OfferGet(hash)
	if !ok {
		t.Fatal("OfferGet: expected offer to exist")
	}
	if stored.Status != deliverypkg.OfferStatusAvailable {
		t.Fatalf("status = %s", stored.Status)
	}
	if stored.Offer.Nonce != 7 {
		t.Fatalf("nonce = %d", stored.Offer.Nonce)
	}
	// Token casing canonicalised on write.
	if stored.Offer.Token != "DUCK" {
		t.Fatalf("token = %s", stored.Offer.Token)
	}
	if stored.Offer.Reward.Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("reward = %s", stored.Offer.Reward)
	}
	if got := deliverypkg.DecodeLocation(stored.Offer.PickupAddress); got != "Bulwarowa 20 Krakow 31-751" {
		t.Fatalf("pickup = %q", got)
	}
}

func TestManagerOfferList(t *testing.T) {
	mgr := newTestManager(t)

	list, err := mgr.OfferList()
	if err != nil {
		t.Fatalf("OfferList: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected empty list, got %d", len(list))
	}

	first := testHash(0x01)
	second := testHash(0x02)
	if err := mgr.OfferPut(first, &deliverypkg.OfferRecord{Offer: testOffer(), Status: deliverypkg.OfferStatusAvailable}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := mgr.OfferPut(second, &deliverypkg.OfferRecord{Offer: testOffer(), Status: deliverypkg.OfferStatusCanceled}); err != nil {
		t.Fatalf("put: %v", err)
	}

	list, err = mgr.OfferList()
	if err != nil {
		t.Fatalf("OfferList: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(list))
	}
	statuses := map[[32]byte]deliverypkg.OfferStatus{}
	for _, entry := range list {
		statuses[entry.Hash] = entry.Status
	}
	if statuses[first] != deliverypkg.OfferStatusAvailable || statuses[second] != deliverypkg.OfferStatusCanceled {
		t.Fatalf("unexpected statuses: %v", statuses)
	}
}

func TestManagerOrderPutGet(t *testing.T) {
	mgr := newTestManager(t)
	hash := testHash(0xCD)

	order := &deliverypkg.Order{
		Offer:        testOffer(),
		Courier:      testAddr(0x03),
		AcceptedAt:   1_700_000_000,
		LastUpdateAt: 1_700_000_060,
		Status:       deliverypkg.OrderPickedUp,
	}
	if err := mgr.OrderPut(hash, order); err != nil {
		t.Fatalf("OrderPut: %v", err)
	}
	stored, ok := mgr.OrderGet(hash)
	if !ok {
		t.Fatal("OrderGet: expected order to exist")
	}
	if stored.Status != deliverypkg.OrderPickedUp {
		t.Fatalf("status = %s", stored.Status)
	}
	if stored.AcceptedAt != 1_700_000_000 || stored.LastUpdateAt != 1_700_000_060 {
		t.Fatalf("timestamps = %d/%d", stored.AcceptedAt, stored.LastUpdateAt)
	}
	if stored.Courier != testAddr(0x03) {
		t.Fatalf("courier = %x", stored.Courier)
	}
	if stored.DeliveryDeadline() != 1_700_000_000+2*24*3600 {
		t.Fatalf("deadline = %d", stored.DeliveryDeadline())
	}
}

func TestManagerNonceBump(t *testing.T) {
	mgr := newTestManager(t)
	customer := testAddr(0x01)

	nonce, err := mgr.OfferNonce(customer)
	if err != nil {
		t.Fatalf("OfferNonce: %v", err)
	}
	if nonce != 0 {
		t.Fatalf("fresh nonce = %d", nonce)
	}
	for i := 0; i < 3; i++ {
		if err := mgr.BumpOfferNonce(customer); err != nil {
			t.Fatalf("BumpOfferNonce: %v", err)
		}
	}
	nonce, _ = mgr.OfferNonce(customer)
	if nonce != 3 {
		t.Fatalf("nonce = %d, want 3", nonce)
	}
	// Other customers are unaffected.
	other, _ := mgr.OfferNonce(testAddr(0x02))
	if other != 0 {
		t.Fatalf("other nonce = %d", other)
	}
}

func TestManagerParamsRoundTrip(t *testing.T) {
	mgr := newTestManager(t)

	if _, ok, err := mgr.ParamsGet(); err != nil || ok {
		t.Fatalf("expected no params, got ok=%v err=%v", ok, err)
	}
	params := &deliverypkg.Params{Owner: testAddr(0x0A), MinDeliveryTime: 3600, Initialized: true}
	if err := mgr.ParamsPut(params); err != nil {
		t.Fatalf("ParamsPut: %v", err)
	}
	stored, ok, err := mgr.ParamsGet()
	if err != nil || !ok {
		t.Fatalf("ParamsGet: ok=%v err=%v", ok, err)
	}
	if stored.Owner != params.Owner || stored.MinDeliveryTime != 3600 || !stored.Initialized {
		t.Fatalf("params = %+v", stored)
	}
}

func TestManagerTokenAllowlist(t *testing.T) {
	mgr := newTestManager(t)

	supported, err := mgr.TokenSupported("DUCK")
	if err != nil || supported {
		t.Fatalf("fresh token supported = %v, %v", supported, err)
	}
	if err := mgr.TokenSetSupported("DUCK", true); err != nil {
		t.Fatalf("set supported: %v", err)
	}
	if err := mgr.TokenSetSupported("ZLOTY", true); err != nil {
		t.Fatalf("set supported: %v", err)
	}
	tokens, err := mgr.SupportedTokens()
	if err != nil {
		t.Fatalf("SupportedTokens: %v", err)
	}
	if len(tokens) != 2 || tokens[0] != "DUCK" || tokens[1] != "ZLOTY" {
		t.Fatalf("tokens = %v", tokens)
	}

	if err := mgr.TokenSetSupported("DUCK", false); err != nil {
		t.Fatalf("unset: %v", err)
	}
	supported, _ = mgr.TokenSupported("DUCK")
	if supported {
		t.Fatal("token still supported")
	}
	ever, err := mgr.TokenEverSupported("DUCK")
	if err != nil || !ever {
		t.Fatalf("ever supported = %v, %v", ever, err)
	}
}

func TestManagerEscrowCreditDebit(t *testing.T) {
	mgr := newTestManager(t)
	hash := testHash(0xEF)

	balance, err := mgr.EscrowBalance(hash, "DUCK")
	if err != nil {
		t.Fatalf("EscrowBalance: %v", err)
	}
	if balance.Sign() != 0 {
		t.Fatalf("fresh balance = %s", balance)
	}
	if err := mgr.EscrowCredit(hash, "DUCK", big.NewInt(3000)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := mgr.EscrowDebit(hash, "DUCK", big.NewInt(1000)); err != nil {
		t.Fatalf("debit: %v", err)
	}
	balance, _ = mgr.EscrowBalance(hash, "DUCK")
	if balance.Cmp(big.NewInt(2000)) != 0 {
		t.Fatalf("balance = %s, want 2000", balance)
	}
	if err := mgr.EscrowDebit(hash, "DUCK", big.NewInt(5000)); err == nil {
		t.Fatal("expected underflow error")
	}
}

func TestManagerVaultAddressDeterministic(t *testing.T) {
	mgr := newTestManager(t)
	first, err := mgr.EscrowVaultAddress("DUCK")
	if err != nil {
		t.Fatalf("vault: %v", err)
	}
	second, err := mgr.EscrowVaultAddress("duck")
	if err != nil {
		t.Fatalf("vault: %v", err)
	}
	if first != second {
		t.Fatal("vault address depends on token casing")
	}
	other, _ := mgr.EscrowVaultAddress("ZLOTY")
	if other == first {
		t.Fatal("distinct tokens share a vault address")
	}
	if first == ([20]byte{}) {
		t.Fatal("zero vault address")
	}
}

func TestManagerAccountsAndMint(t *testing.T) {
	mgr := newTestManager(t)
	addr := testAddr(0x11)

	account, err := mgr.GetAccount(addr[:])
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if account.BalanceOf("DUCK").Sign() != 0 {
		t.Fatal("fresh account has balance")
	}

	if err := mgr.Mint(addr, "DUCK", big.NewInt(500)); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if err := mgr.Mint(addr, "DUCK", big.NewInt(0)); err == nil {
		t.Fatal("expected error for zero mint")
	}
	account, _ = mgr.GetAccount(addr[:])
	if account.BalanceOf("DUCK").Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("balance = %s", account.BalanceOf("DUCK"))
	}

	account.SetBalance("ZLOTY", big.NewInt(42))
	if err := mgr.PutAccount(addr[:], account); err != nil {
		t.Fatalf("PutAccount: %v", err)
	}
	account, _ = mgr.GetAccount(addr[:])
	if account.BalanceOf("ZLOTY").Cmp(big.NewInt(42)) != 0 {
		t.Fatalf("zloty balance = %s", account.BalanceOf("ZLOTY"))
	}

	if _, err := mgr.GetAccount([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for short address")
	}
}

// The engine runs unmodified against the persistent manager.
func TestEngineAgainstManager(t *testing.T) {
	mgr := newTestManager(t)
	engine := deliverypkg.NewEngine()
	engine.SetState(mgr)
	now := int64(1_700_000_000)
	engine.SetNowFunc(func() int64 { return now })

	owner := testAddr(0x0A)
	customer := testAddr(0x01)
	courier := testAddr(0x03)
	addressee := testAddr(0x02)

	if err := engine.Initialize(owner, 3600); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := engine.SupportToken(owner, "DUCK"); err != nil {
		t.Fatalf("support: %v", err)
	}
	if err := mgr.Mint(customer, "DUCK", big.NewInt(10_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := mgr.Mint(courier, "DUCK", big.NewInt(10_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	offer := testOffer()
	offer.Nonce = 0
	offer.Customer = customer
	offer.Addressee = addressee
	hash, err := engine.CreateDeliveryOffer(offer, customer)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := engine.AcceptDeliveryOffer(hash, courier); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if err := engine.ConfirmPickUp(hash, customer); err != nil {
		t.Fatalf("pickup: %v", err)
	}
	if err := engine.ConfirmDelivery(hash, addressee); err != nil {
		t.Fatalf("delivery: %v", err)
	}

	order, err := engine.Order(hash)
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	if order.Status != deliverypkg.OrderDelivered {
		t.Fatalf("status = %s", order.Status)
	}
	courierAcc, _ := mgr.GetAccount(courier[:])
	if courierAcc.BalanceOf("DUCK").Cmp(big.NewInt(11_000)) != 0 {
		t.Fatalf("courier balance = %s, want 11000", courierAcc.BalanceOf("DUCK"))
	}
	balance, _ := mgr.EscrowBalance(hash, "DUCK")
	if balance.Sign() != 0 {
		t.Fatalf("escrow residue = %s", balance)
	}
}
