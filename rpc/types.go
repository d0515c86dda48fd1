package rpc

import (
	"encoding/json"
	"fmt"
	"strings"

	"tipjar/core/identity"
	"tipjar/core/types"
	"tipjar/crypto"
	"tipjar/native/tipjar"
)

// SendInstructionResult is returned by tipjar_sendInstruction.
type SendInstructionResult struct {
	RequestID string          `json:"requestId,omitempty"`
	Receipt   *tipjar.Receipt `json:"receipt"`
}

// ProfileQuery selects a profile by identity or by owner address.
type ProfileQuery struct {
	ID    string `json:"id,omitempty"`
	Owner string `json:"owner,omitempty"`
}

// ProfileResult is a profile together with its identity.
type ProfileResult struct {
	ID      identity.Identity `json:"id"`
	Profile *tipjar.Profile   `json:"profile"`
}

// RecordQuery names a record identity.
type RecordQuery struct {
	ID string `json:"id"`
}

// ListQuery optionally restricts a listing.
type ListQuery struct {
	Owner   string `json:"owner,omitempty"`
	Creator string `json:"creator,omitempty"`
}

// WalletQuery names a wallet address.
type WalletQuery struct {
	Address string `json:"address"`
}

// WalletResult is the wallet state of an address.
type WalletResult struct {
	Address string `json:"address"`
	Balance uint64 `json:"balance"`
	Nonce   uint64 `json:"nonce"`
}

// DeriveQuery asks the server to derive a record identity.
type DeriveQuery struct {
	Kind    string `json:"kind"`
	Owner   string `json:"owner,omitempty"`
	Profile string `json:"profile,omitempty"`
	Tipper  string `json:"tipper,omitempty"`
	Count   uint64 `json:"count,omitempty"`
	// Tag and Seeds drive the "custom" kind. Seeds are 0x-prefixed hex.
	Tag   string   `json:"tag,omitempty"`
	Seeds []string `json:"seeds,omitempty"`
}

// DeriveResult carries a derived identity.
type DeriveResult struct {
	ID identity.Identity `json:"id"`
}

// FeesResult lists the allocation deposit charged per record kind.
type FeesResult struct {
	RentPerByte uint64 `json:"rentPerByte"`
	Profile     uint64 `json:"profile"`
	Tip         uint64 `json:"tip"`
	Withdrawal  uint64 `json:"withdrawal"`
}

// AuditQuery filters the audit log.
type AuditQuery struct {
	Signer  string `json:"signer,omitempty"`
	Profile string `json:"profile,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

func formatAddress(addr [20]byte) string {
	return crypto.AddressFromArray(addr).String()
}

func parseOptionalAddress(field, value string) (*[20]byte, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	addr, err := crypto.ParseAddress(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", field, err)
	}
	return &addr, nil
}

func parseOptionalIdentity(field, value string) (*identity.Identity, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	id, err := identity.Parse(strings.TrimSpace(value))
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", field, err)
	}
	return &id, nil
}

// decodeParam unmarshals the single object parameter of a request. A missing
// parameter leaves out untouched when optional is set.
func decodeParam(req *RPCRequest, out interface{}, optional bool) error {
	if len(req.Params) == 0 {
		if optional {
			return nil
		}
		return fmt.Errorf("parameter object required")
	}
	if len(req.Params) != 1 {
		return fmt.Errorf("expected exactly one parameter object")
	}
	dec := json.NewDecoder(strings.NewReader(string(req.Params[0])))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("invalid parameter object: %w", err)
	}
	return nil
}

func decodeInstruction(req *RPCRequest) (*types.Instruction, error) {
	ins := &types.Instruction{}
	if err := decodeParam(req, ins, false); err != nil {
		return nil, err
	}
	return ins, nil
}
