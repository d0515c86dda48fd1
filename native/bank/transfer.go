package bank

import (
	"errors"
	"fmt"
	"math/bits"

	"tipjar/core/types"
)

var (
	// ErrInsufficientFunds is returned when a wallet cannot cover a debit.
	ErrInsufficientFunds = errors.New("bank: insufficient funds")
	// ErrBalanceOverflow is returned when a credit would overflow a balance.
	ErrBalanceOverflow = errors.New("bank: balance overflow")
)

// Ledger is the staged wallet view a transfer operates on. Writes must not be
// persisted until the caller commits.
type Ledger interface {
	Account(addr [20]byte) (types.Account, error)
	PutAccount(addr [20]byte, acc types.Account) error
}

// Debit removes amount from the wallet at addr.
func Debit(ledger Ledger, addr [20]byte, amount uint64) error {
	if amount == 0 {
		return nil
	}
	acc, err := ledger.Account(addr)
	if err != nil {
		return fmt.Errorf("bank: load debit account: %w", err)
	}
	if acc.Balance < amount {
		return fmt.Errorf("%w: balance %d below %d", ErrInsufficientFunds, acc.Balance, amount)
	}
	acc.Balance -= amount
	return ledger.PutAccount(addr, acc)
}

// Credit adds amount to the wallet at addr.
func Credit(ledger Ledger, addr [20]byte, amount uint64) error {
	if amount == 0 {
		return nil
	}
	acc, err := ledger.Account(addr)
	if err != nil {
		return fmt.Errorf("bank: load credit account: %w", err)
	}
	sum, carry := bits.Add64(acc.Balance, amount, 0)
	if carry != 0 {
		return ErrBalanceOverflow
	}
	acc.Balance = sum
	return ledger.PutAccount(addr, acc)
}
