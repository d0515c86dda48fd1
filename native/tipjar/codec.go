package tipjar

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"

	"tipjar/core/identity"
	"tipjar/core/state"
)

// Kind names a persisted entity type.
type Kind string

const (
	KindProfile    Kind = "Profile"
	KindTip        Kind = "TipRecord"
	KindWithdrawal Kind = "WithdrawalRecord"
)

// CreatorOffset is the byte offset of the owner address in a Profile and of
// the creator identity in tip and withdrawal records.
const CreatorOffset = state.DiscriminatorSize

// Maximum encoded sizes of each kind, used for allocation fees.
const (
	ProfileMaxSize    = state.DiscriminatorSize + 20 + 4 + MaxNameLen + 4 + MaxBioLen + 6*8
	TipMaxSize        = state.DiscriminatorSize + identity.Size + 20 + 8 + 4 + MaxMessageLen + 8
	WithdrawalMaxSize = state.DiscriminatorSize + identity.Size + 8 + 8
)

var (
	discProfile    = Discriminator(KindProfile)
	discTip        = Discriminator(KindTip)
	discWithdrawal = Discriminator(KindWithdrawal)

	errTruncated     = errors.New("tipjar: record truncated")
	errTrailingBytes = errors.New("tipjar: trailing bytes after record")
)

// Discriminator returns the first 8 bytes of sha256("account:<kind>").
func Discriminator(kind Kind) [state.DiscriminatorSize]byte {
	sum := sha256.Sum256([]byte("account:" + string(kind)))
	var out [state.DiscriminatorSize]byte
	copy(out[:], sum[:state.DiscriminatorSize])
	return out
}

// KindOf identifies the kind of an encoded record.
func KindOf(data []byte) (Kind, bool) {
	if len(data) < state.DiscriminatorSize {
		return "", false
	}
	var disc [state.DiscriminatorSize]byte
	copy(disc[:], data)
	switch disc {
	case discProfile:
		return KindProfile, true
	case discTip:
		return KindTip, true
	case discWithdrawal:
		return KindWithdrawal, true
	}
	return "", false
}

// MaxEncodedSize returns the largest possible encoding of kind.
func MaxEncodedSize(kind Kind) int {
	switch kind {
	case KindProfile:
		return ProfileMaxSize
	case KindTip:
		return TipMaxSize
	case KindWithdrawal:
		return WithdrawalMaxSize
	}
	return 0
}

type encoder struct {
	buf []byte
}

func newEncoder(disc [state.DiscriminatorSize]byte, size int) *encoder {
	buf := make([]byte, 0, size)
	return &encoder{buf: append(buf, disc[:]...)}
}

func (e *encoder) bytes(b []byte) { e.buf = append(e.buf, b...) }

func (e *encoder) u64(v uint64) { e.buf = binary.LittleEndian.AppendUint64(e.buf, v) }

func (e *encoder) i64(v int64) { e.u64(uint64(v)) }

func (e *encoder) str(s string) {
	e.buf = binary.LittleEndian.AppendUint32(e.buf, uint32(len(s)))
	e.buf = append(e.buf, s...)
}

type decoder struct {
	data []byte
	off  int
	err  error
}

func newDecoder(data []byte, want [state.DiscriminatorSize]byte, kind Kind) (*decoder, error) {
	if len(data) < state.DiscriminatorSize {
		return nil, errTruncated
	}
	var disc [state.DiscriminatorSize]byte
	copy(disc[:], data)
	if disc != want {
		return nil, fmt.Errorf("tipjar: record is not a %s", kind)
	}
	return &decoder{data: data, off: state.DiscriminatorSize}, nil
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || d.off+n > len(d.data) {
		d.err = errTruncated
		return nil
	}
	out := d.data[d.off : d.off+n]
	d.off += n
	return out
}

func (d *decoder) fixed(dst []byte) {
	if b := d.take(len(dst)); b != nil {
		copy(dst, b)
	}
}

func (d *decoder) u64() uint64 {
	b := d.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (d *decoder) i64() int64 { return int64(d.u64()) }

func (d *decoder) str(max int) string {
	b := d.take(4)
	if b == nil {
		return ""
	}
	n := binary.LittleEndian.Uint32(b)
	if int(n) > max {
		d.err = fmt.Errorf("tipjar: string of %d bytes exceeds %d", n, max)
		return ""
	}
	return string(d.take(int(n)))
}

func (d *decoder) finish() error {
	if d.err != nil {
		return d.err
	}
	if d.off != len(d.data) {
		return errTrailingBytes
	}
	return nil
}

// EncodeProfile serialises p in its persisted layout.
func EncodeProfile(p *Profile) []byte {
	e := newEncoder(discProfile, ProfileMaxSize)
	e.bytes(p.Owner[:])
	e.str(p.Name)
	e.str(p.Bio)
	e.u64(p.TotalTipsReceived)
	e.u64(p.TipCount)
	e.u64(p.WithdrawalCount)
	e.u64(p.EscrowBalance)
	e.i64(p.CreatedAt)
	e.i64(p.LastWithdrawalAt)
	return e.buf
}

// DecodeProfile parses a persisted profile.
func DecodeProfile(data []byte) (*Profile, error) {
	d, err := newDecoder(data, discProfile, KindProfile)
	if err != nil {
		return nil, err
	}
	p := new(Profile)
	d.fixed(p.Owner[:])
	p.Name = d.str(MaxNameLen)
	p.Bio = d.str(MaxBioLen)
	p.TotalTipsReceived = d.u64()
	p.TipCount = d.u64()
	p.WithdrawalCount = d.u64()
	p.EscrowBalance = d.u64()
	p.CreatedAt = d.i64()
	p.LastWithdrawalAt = d.i64()
	if err := d.finish(); err != nil {
		return nil, err
	}
	return p, nil
}

// EncodeTip serialises t in its persisted layout.
func EncodeTip(t *TipRecord) []byte {
	e := newEncoder(discTip, TipMaxSize)
	e.bytes(t.Creator[:])
	e.bytes(t.Tipper[:])
	e.u64(t.Amount)
	e.str(t.Message)
	e.i64(t.Timestamp)
	return e.buf
}

// DecodeTip parses a persisted tip record.
func DecodeTip(data []byte) (*TipRecord, error) {
	d, err := newDecoder(data, discTip, KindTip)
	if err != nil {
		return nil, err
	}
	t := new(TipRecord)
	d.fixed(t.Creator[:])
	d.fixed(t.Tipper[:])
	t.Amount = d.u64()
	t.Message = d.str(MaxMessageLen)
	t.Timestamp = d.i64()
	if err := d.finish(); err != nil {
		return nil, err
	}
	return t, nil
}

// EncodeWithdrawal serialises w in its persisted layout.
func EncodeWithdrawal(w *WithdrawalRecord) []byte {
	e := newEncoder(discWithdrawal, WithdrawalMaxSize)
	e.bytes(w.Creator[:])
	e.u64(w.Amount)
	e.i64(w.Timestamp)
	return e.buf
}

// DecodeWithdrawal parses a persisted withdrawal record.
func DecodeWithdrawal(data []byte) (*WithdrawalRecord, error) {
	d, err := newDecoder(data, discWithdrawal, KindWithdrawal)
	if err != nil {
		return nil, err
	}
	w := new(WithdrawalRecord)
	d.fixed(w.Creator[:])
	w.Amount = d.u64()
	w.Timestamp = d.i64()
	if err := d.finish(); err != nil {
		return nil, err
	}
	return w, nil
}
