package types

import "math/big"

// TokenBalance pairs an allowlisted token symbol with a held amount. Balances
// are stored as a sorted slice rather than a map so records have a canonical
// RLP encoding.
type TokenBalance struct {
	Token  string
	Amount *big.Int
}

// Account holds the per-address token balances tracked by the settlement
// service. Escrow vaults are ordinary accounts at derived addresses.
type Account struct {
	Balances []TokenBalance
}

// NewAccount returns an account with no balances.
func NewAccount() *Account {
	return &Account{Balances: []TokenBalance{}}
}

// BalanceOf returns the balance held for the supplied token. The returned
// value is a copy; mutating it does not affect the account.
func (a *Account) BalanceOf(token string) *big.Int {
	if a == nil {
		return big.NewInt(0)
	}
	for _, entry := range a.Balances {
		if entry.Token == token {
			if entry.Amount == nil {
				return big.NewInt(0)
			}
			return new(big.Int).Set(entry.Amount)
		}
	}
	return big.NewInt(0)
}

// SetBalance overwrites the balance held for the supplied token, keeping the
// balance slice sorted by token symbol.
func (a *Account) SetBalance(token string, amount *big.Int) {
	if a == nil {
		return
	}
	amt := big.NewInt(0)
	if amount != nil {
		amt = new(big.Int).Set(amount)
	}
	for i, entry := range a.Balances {
		if entry.Token == token {
			a.Balances[i].Amount = amt
			return
		}
	}
	inserted := false
	balances := make([]TokenBalance, 0, len(a.Balances)+1)
	for _, entry := range a.Balances {
		if !inserted && token < entry.Token {
			balances = append(balances, TokenBalance{Token: token, Amount: amt})
			inserted = true
		}
		balances = append(balances, entry)
	}
	if !inserted {
		balances = append(balances, TokenBalance{Token: token, Amount: amt})
	}
	a.Balances = balances
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return NewAccount()
	}
	clone := &Account{Balances: make([]TokenBalance, 0, len(a.Balances))}
	for _, entry := range a.Balances {
		amt := big.NewInt(0)
		if entry.Amount != nil {
			amt = new(big.Int).Set(entry.Amount)
		}
		clone.Balances = append(clone.Balances, TokenBalance{Token: entry.Token, Amount: amt})
	}
	return clone
}
