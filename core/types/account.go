package types

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
)

// Account is the wallet state of an address: spendable native balance plus the
// nonce of the next instruction it may sign.
type Account struct {
	Nonce   uint64 `json:"nonce"`
	Balance uint64 `json:"balance"`
}

// Encode serialises the account as an RLP list.
func (a Account) Encode() ([]byte, error) {
	return rlp.EncodeToBytes(&a)
}

// DecodeAccount parses an RLP encoded account.
func DecodeAccount(b []byte) (Account, error) {
	var acc Account
	if err := rlp.DecodeBytes(b, &acc); err != nil {
		return Account{}, fmt.Errorf("types: decode account: %w", err)
	}
	return acc, nil
}
