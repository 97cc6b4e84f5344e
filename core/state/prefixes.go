package state

// Key layout for the settlement module. Offer and order records share the
// offer hash as suffix; escrow balances additionally carry the token symbol.
var (
	offerRecordPrefix  = []byte("delivery/offer/")
	orderRecordPrefix  = []byte("delivery/order/")
	offerNoncePrefix   = []byte("delivery/nonce/")
	escrowVaultPrefix  = []byte("delivery/escrow/")
	accountPrefix      = []byte("account/")
	tokenActiveListKey = []byte("delivery/tokens/active")
	tokenEverListKey   = []byte("delivery/tokens/history")
	paramsKey          = []byte("delivery/params")
)

func prefixedKey(prefix, suffix []byte) []byte {
	key := make([]byte, len(prefix)+len(suffix))
	copy(key, prefix)
	copy(key[len(prefix):], suffix)
	return key
}
