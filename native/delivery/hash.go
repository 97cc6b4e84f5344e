package delivery

import (
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// hashedOffer fixes the field order of the canonical offer encoding. Changing
// this layout changes every offer identity, so it must stay stable.
type hashedOffer struct {
	Nonce           uint64
	Customer        [20]byte
	Addressee       [20]byte
	PickupAddress   [32]byte
	DeliveryAddress [32]byte
	DeliveryTime    uint64
	Token           string
	Reward          *big.Int
	Collateral      *big.Int
}

// HashOffer derives the deterministic identity of an offer: keccak256 over the
// canonical RLP encoding of its fields. Offers with identical content hash to
// the same identity; any field change produces a different one.
func HashOffer(o *Offer) ([32]byte, error) {
	sanitized, err := SanitizeOffer(o)
	if err != nil {
		return [32]byte{}, err
	}
	encoded, err := rlp.EncodeToBytes(&hashedOffer{
		Nonce:           sanitized.Nonce,
		Customer:        sanitized.Customer,
		Addressee:       sanitized.Addressee,
		PickupAddress:   sanitized.PickupAddress,
		DeliveryAddress: sanitized.DeliveryAddress,
		DeliveryTime:    uint64(sanitized.DeliveryTime),
		Token:           sanitized.Token,
		Reward:          sanitized.Reward,
		Collateral:      sanitized.Collateral,
	})
	if err != nil {
		return [32]byte{}, fmt.Errorf("encode offer: %w", err)
	}
	return ethcrypto.Keccak256Hash(encoded), nil
}
