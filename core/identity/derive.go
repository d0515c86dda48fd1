package identity

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash"

	"github.com/mr-tron/base58"
	"lukechampine.com/blake3"
)

const (
	// Size is the byte length of a derived identity.
	Size = 32
	// MaxSeedLen bounds every individual seed as well as the namespace tag.
	MaxSeedLen = 32
	// MaxSeeds bounds the number of seeds accepted by Derive.
	MaxSeeds = 16
)

// Namespace tags used by the tip jar ledger.
var (
	TagCreatorProfile = []byte("creator-profile")
	TagTip            = []byte("tip")
	TagWithdrawal     = []byte("withdrawal")
)

var derivationDomain = []byte("tipjar/identity/v1")

// ErrInvalidSeed is returned when a tag or seed violates the length bounds.
var ErrInvalidSeed = errors.New("identity: invalid seed")

// Identity is a deterministic, content-addressed key naming a logical entity.
type Identity [Size]byte

// Derive hashes the namespace tag and the ordered seeds into an identity. Every
// component is length-prefixed so distinct tags never produce the same input
// stream for the same seed material.
func Derive(tag []byte, seeds ...[]byte) (Identity, error) {
	var out Identity
	if len(tag) == 0 || len(tag) > MaxSeedLen {
		return out, fmt.Errorf("%w: tag length %d outside 1..%d", ErrInvalidSeed, len(tag), MaxSeedLen)
	}
	if len(seeds) > MaxSeeds {
		return out, fmt.Errorf("%w: %d seeds exceeds maximum of %d", ErrInvalidSeed, len(seeds), MaxSeeds)
	}
	for i, seed := range seeds {
		if len(seed) > MaxSeedLen {
			return out, fmt.Errorf("%w: seed %d is %d bytes (max %d)", ErrInvalidSeed, i, len(seed), MaxSeedLen)
		}
	}

	h := blake3.New(Size, nil)
	h.Write(derivationDomain)
	writePrefixed(h, tag)
	h.Write([]byte{byte(len(seeds))})
	for _, seed := range seeds {
		writePrefixed(h, seed)
	}
	copy(out[:], h.Sum(nil))
	return out, nil
}

func writePrefixed(h hash.Hash, b []byte) {
	h.Write([]byte{byte(len(b))})
	h.Write(b)
}

func mustDerive(tag []byte, seeds ...[]byte) Identity {
	id, err := Derive(tag, seeds...)
	if err != nil {
		panic(err)
	}
	return id
}

// CounterSeed encodes a sequence number as 8 little-endian bytes.
func CounterSeed(n uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], n)
	return buf[:]
}

// ProfileIdentity returns the identity of the profile owned by owner.
func ProfileIdentity(owner [20]byte) Identity {
	return mustDerive(TagCreatorProfile, owner[:])
}

// TipIdentity returns the identity of the tip record created when tipper sends
// the tip numbered count to profile.
func TipIdentity(profile Identity, tipper [20]byte, count uint64) Identity {
	return mustDerive(TagTip, profile[:], tipper[:], CounterSeed(count))
}

// WithdrawalIdentity returns the identity of the withdrawal record numbered
// count for owner.
func WithdrawalIdentity(owner [20]byte, count uint64) Identity {
	return mustDerive(TagWithdrawal, owner[:], CounterSeed(count))
}

// IsZero reports whether the identity is unset.
func (id Identity) IsZero() bool {
	return id == Identity{}
}

// Bytes returns a copy of the raw identity bytes.
func (id Identity) Bytes() []byte {
	out := make([]byte, Size)
	copy(out, id[:])
	return out
}

// String renders the identity as base58.
func (id Identity) String() string {
	return base58.Encode(id[:])
}

// MarshalText implements encoding.TextMarshaler.
func (id Identity) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *Identity) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Parse decodes a base58 identity string.
func Parse(s string) (Identity, error) {
	var out Identity
	if s == "" {
		return out, errors.New("identity: empty string")
	}
	raw, err := base58.Decode(s)
	if err != nil {
		return out, fmt.Errorf("identity: decode %q: %w", s, err)
	}
	if len(raw) != Size {
		return out, fmt.Errorf("identity: decoded length %d, want %d", len(raw), Size)
	}
	copy(out[:], raw)
	return out, nil
}

// FromBytes copies a raw 32-byte slice into an identity.
func FromBytes(b []byte) (Identity, error) {
	var out Identity
	if len(b) != Size {
		return out, fmt.Errorf("identity: length %d, want %d", len(b), Size)
	}
	copy(out[:], b)
	return out, nil
}
