package state

import (
	"fmt"
	"math/big"

	"duckexpress/core/types"
)

type storedTokenBalance struct {
	Token  string
	Amount *big.Int
}

type storedAccount struct {
	Balances []storedTokenBalance
}

func accountKey(addr []byte) []byte {
	return prefixedKey(accountPrefix, addr)
}

// GetAccount loads the account stored for the given 20-byte address. A missing
// account is returned as an empty account rather than an error so custody
// moves can target fresh addresses.
func (m *Manager) GetAccount(addr []byte) (*types.Account, error) {
	if len(addr) != 20 {
		return nil, fmt.Errorf("state: address must be 20 bytes, got %d", len(addr))
	}
	stored := &storedAccount{}
	ok, err := m.KVGet(accountKey(addr), stored)
	if err != nil {
		return nil, err
	}
	if !ok {
		return types.NewAccount(), nil
	}
	account := types.NewAccount()
	for _, entry := range stored.Balances {
		account.SetBalance(entry.Token, entry.Amount)
	}
	return account, nil
}

// PutAccount persists the account under the given 20-byte address.
func (m *Manager) PutAccount(addr []byte, account *types.Account) error {
	if len(addr) != 20 {
		return fmt.Errorf("state: address must be 20 bytes, got %d", len(addr))
	}
	if account == nil {
		account = types.NewAccount()
	}
	stored := &storedAccount{Balances: make([]storedTokenBalance, 0, len(account.Balances))}
	for _, entry := range account.Balances {
		amount := big.NewInt(0)
		if entry.Amount != nil {
			amount = new(big.Int).Set(entry.Amount)
		}
		stored.Balances = append(stored.Balances, storedTokenBalance{Token: entry.Token, Amount: amount})
	}
	return m.KVPut(accountKey(addr), stored)
}
