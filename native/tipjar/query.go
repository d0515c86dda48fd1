package tipjar

import (
	"errors"
	"fmt"

	"tipjar/core/identity"
	"tipjar/core/state"
	"tipjar/core/types"
)

// ErrRecordNotFound is returned by lookups of tip and withdrawal records.
var ErrRecordNotFound = errors.New("tipjar: record not found")

// ProfileEntry pairs a profile with its identity.
type ProfileEntry struct {
	ID      identity.Identity `json:"id"`
	Profile *Profile          `json:"profile"`
}

// TipEntry pairs a tip record with its identity.
type TipEntry struct {
	ID  identity.Identity `json:"id"`
	Tip *TipRecord        `json:"tip"`
}

// WithdrawalEntry pairs a withdrawal record with its identity.
type WithdrawalEntry struct {
	ID         identity.Identity `json:"id"`
	Withdrawal *WithdrawalRecord `json:"withdrawal"`
}

func (e *Engine) fetch(id identity.Identity) ([]byte, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.Fetch(id)
}

// fetchKind loads id and reports ok=false when it is absent or holds a
// different kind of record.
func (e *Engine) fetchKind(id identity.Identity, want Kind) ([]byte, bool, error) {
	data, err := e.fetch(id)
	if errors.Is(err, state.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if kind, _ := KindOf(data); kind != want {
		return nil, false, nil
	}
	return data, true, nil
}

// Profile returns the committed profile stored under id.
func (e *Engine) Profile(id identity.Identity) (*Profile, error) {
	data, ok, err := e.fetchKind(id, KindProfile)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, newError(CodeProfileNotFound, "%s", id)
	}
	return DecodeProfile(data)
}

// ProfileByOwner derives the owner's profile identity and loads it.
func (e *Engine) ProfileByOwner(owner [20]byte) (identity.Identity, *Profile, error) {
	id := identity.ProfileIdentity(owner)
	profile, err := e.Profile(id)
	return id, profile, err
}

// TipRecord returns the committed tip record stored under id.
func (e *Engine) TipRecord(id identity.Identity) (*TipRecord, error) {
	data, ok, err := e.fetchKind(id, KindTip)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: tip %s", ErrRecordNotFound, id)
	}
	return DecodeTip(data)
}

// WithdrawalRecord returns the committed withdrawal record stored under id.
func (e *Engine) WithdrawalRecord(id identity.Identity) (*WithdrawalRecord, error) {
	data, ok, err := e.fetchKind(id, KindWithdrawal)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: withdrawal %s", ErrRecordNotFound, id)
	}
	return DecodeWithdrawal(data)
}

// Profiles lists every profile, optionally restricted to one owner.
func (e *Engine) Profiles(owner *[20]byte) ([]ProfileEntry, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	var filters []state.Memcmp
	if owner != nil {
		filters = append(filters, state.Memcmp{Offset: CreatorOffset, Bytes: owner[:]})
	}
	records, err := e.state.Scan(discProfile, filters...)
	if err != nil {
		return nil, err
	}
	out := make([]ProfileEntry, 0, len(records))
	for _, rec := range records {
		profile, err := DecodeProfile(rec.Data)
		if err != nil {
			return nil, fmt.Errorf("tipjar: decode profile %s: %w", rec.ID, err)
		}
		out = append(out, ProfileEntry{ID: rec.ID, Profile: profile})
	}
	return out, nil
}

// Tips lists tip records, optionally restricted to one creator profile.
func (e *Engine) Tips(creator *identity.Identity) ([]TipEntry, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	records, err := e.state.Scan(discTip, creatorFilter(creator)...)
	if err != nil {
		return nil, err
	}
	out := make([]TipEntry, 0, len(records))
	for _, rec := range records {
		tip, err := DecodeTip(rec.Data)
		if err != nil {
			return nil, fmt.Errorf("tipjar: decode tip %s: %w", rec.ID, err)
		}
		out = append(out, TipEntry{ID: rec.ID, Tip: tip})
	}
	return out, nil
}

// Withdrawals lists withdrawal records, optionally restricted to one creator
// profile.
func (e *Engine) Withdrawals(creator *identity.Identity) ([]WithdrawalEntry, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	records, err := e.state.Scan(discWithdrawal, creatorFilter(creator)...)
	if err != nil {
		return nil, err
	}
	out := make([]WithdrawalEntry, 0, len(records))
	for _, rec := range records {
		w, err := DecodeWithdrawal(rec.Data)
		if err != nil {
			return nil, fmt.Errorf("tipjar: decode withdrawal %s: %w", rec.ID, err)
		}
		out = append(out, WithdrawalEntry{ID: rec.ID, Withdrawal: w})
	}
	return out, nil
}

// Wallet returns the committed wallet state at addr.
func (e *Engine) Wallet(addr [20]byte) (types.Account, error) {
	if e == nil || e.state == nil {
		return types.Account{}, errNilState
	}
	return e.state.Account(addr)
}

func creatorFilter(creator *identity.Identity) []state.Memcmp {
	if creator == nil {
		return nil
	}
	return []state.Memcmp{{Offset: CreatorOffset, Bytes: creator.Bytes()}}
}

// DeriveIdentity derives an identity under an arbitrary namespace tag.
// Violated seed bounds are reported as InvalidSeed.
func DeriveIdentity(tag []byte, seeds ...[]byte) (identity.Identity, error) {
	id, err := identity.Derive(tag, seeds...)
	if errors.Is(err, identity.ErrInvalidSeed) {
		return identity.Identity{}, newError(CodeInvalidSeed, "%v", err)
	}
	return id, err
}
