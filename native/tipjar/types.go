package tipjar

import (
	"encoding/json"

	"tipjar/core/identity"
	"tipjar/crypto"
)

// Field bounds, in bytes of UTF-8.
const (
	MaxNameLen    = 32
	MaxBioLen     = 200
	MaxMessageLen = 140
)

// Profile is a creator's public account and tip escrow.
type Profile struct {
	Owner             [20]byte
	Name              string
	Bio               string
	TotalTipsReceived uint64
	TipCount          uint64
	WithdrawalCount   uint64
	EscrowBalance     uint64
	CreatedAt         int64
	// LastWithdrawalAt is zero until the first withdrawal.
	LastWithdrawalAt int64
}

// TipRecord is the immutable receipt of one tip.
type TipRecord struct {
	Creator   identity.Identity
	Tipper    [20]byte
	Amount    uint64
	Message   string
	Timestamp int64
}

// WithdrawalRecord is the immutable receipt of one withdrawal.
type WithdrawalRecord struct {
	Creator   identity.Identity
	Amount    uint64
	Timestamp int64
}

// Clone returns a copy of the profile.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	clone := *p
	return &clone
}

func addrString(addr [20]byte) string {
	return crypto.AddressFromArray(addr).String()
}

type profileJSON struct {
	Owner             string `json:"owner"`
	Name              string `json:"name"`
	Bio               string `json:"bio"`
	TotalTipsReceived uint64 `json:"totalTipsReceived"`
	TipCount          uint64 `json:"tipCount"`
	WithdrawalCount   uint64 `json:"withdrawalCount"`
	EscrowBalance     uint64 `json:"escrowBalance"`
	CreatedAt         int64  `json:"createdAt"`
	LastWithdrawalAt  *int64 `json:"lastWithdrawalAt,omitempty"`
}

// MarshalJSON renders the owner as a bech32 address and omits
// lastWithdrawalAt until the first withdrawal.
func (p Profile) MarshalJSON() ([]byte, error) {
	out := profileJSON{
		Owner:             addrString(p.Owner),
		Name:              p.Name,
		Bio:               p.Bio,
		TotalTipsReceived: p.TotalTipsReceived,
		TipCount:          p.TipCount,
		WithdrawalCount:   p.WithdrawalCount,
		EscrowBalance:     p.EscrowBalance,
		CreatedAt:         p.CreatedAt,
	}
	if p.LastWithdrawalAt != 0 {
		ts := p.LastWithdrawalAt
		out.LastWithdrawalAt = &ts
	}
	return json.Marshal(out)
}

// MarshalJSON renders the tipper as a bech32 address.
func (t TipRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Creator   identity.Identity `json:"creator"`
		Tipper    string            `json:"tipper"`
		Amount    uint64            `json:"amount"`
		Message   string            `json:"message"`
		Timestamp int64             `json:"timestamp"`
	}{t.Creator, addrString(t.Tipper), t.Amount, t.Message, t.Timestamp})
}

// MarshalJSON keeps the field names aligned with the other records.
func (w WithdrawalRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Creator   identity.Identity `json:"creator"`
		Amount    uint64            `json:"amount"`
		Timestamp int64             `json:"timestamp"`
	}{w.Creator, w.Amount, w.Timestamp})
}

// UnmarshalJSON reverses MarshalJSON for clients reading RPC responses.
func (p *Profile) UnmarshalJSON(data []byte) error {
	var in profileJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	owner, err := crypto.ParseAddress(in.Owner)
	if err != nil {
		return err
	}
	*p = Profile{
		Owner:             owner,
		Name:              in.Name,
		Bio:               in.Bio,
		TotalTipsReceived: in.TotalTipsReceived,
		TipCount:          in.TipCount,
		WithdrawalCount:   in.WithdrawalCount,
		EscrowBalance:     in.EscrowBalance,
		CreatedAt:         in.CreatedAt,
	}
	if in.LastWithdrawalAt != nil {
		p.LastWithdrawalAt = *in.LastWithdrawalAt
	}
	return nil
}

// UnmarshalJSON reverses MarshalJSON.
func (t *TipRecord) UnmarshalJSON(data []byte) error {
	var in struct {
		Creator   identity.Identity `json:"creator"`
		Tipper    string            `json:"tipper"`
		Amount    uint64            `json:"amount"`
		Message   string            `json:"message"`
		Timestamp int64             `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	tipper, err := crypto.ParseAddress(in.Tipper)
	if err != nil {
		return err
	}
	*t = TipRecord{Creator: in.Creator, Tipper: tipper, Amount: in.Amount, Message: in.Message, Timestamp: in.Timestamp}
	return nil
}

// UnmarshalJSON reverses MarshalJSON.
func (w *WithdrawalRecord) UnmarshalJSON(data []byte) error {
	var in struct {
		Creator   identity.Identity `json:"creator"`
		Amount    uint64            `json:"amount"`
		Timestamp int64             `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*w = WithdrawalRecord{Creator: in.Creator, Amount: in.Amount, Timestamp: in.Timestamp}
	return nil
}
