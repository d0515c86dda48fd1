package state

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"tipjar/core/identity"
	"tipjar/core/types"
	"tipjar/storage"
)

var (
	// ErrRecordNotFound is returned when no record is stored under an identity.
	ErrRecordNotFound = errors.New("state: record not found")
	// ErrRecordExists is returned when creating a record whose identity is taken.
	ErrRecordExists = errors.New("state: record already exists")
	// ErrTxnClosed is returned when a committed or discarded transaction is reused.
	ErrTxnClosed = errors.New("state: transaction closed")

	errShortRecord = errors.New("state: record shorter than discriminator")
)

// Record is a raw entity as stored: discriminator followed by its layout.
type Record struct {
	ID   identity.Identity
	Data []byte
}

// Discriminator returns the kind tag at the front of the record data.
func (r Record) Discriminator() [DiscriminatorSize]byte {
	var out [DiscriminatorSize]byte
	copy(out[:], r.Data)
	return out
}

// Memcmp matches records whose bytes at Offset equal Bytes.
type Memcmp struct {
	Offset int
	Bytes  []byte
}

// Match reports whether data satisfies the filter.
func (m Memcmp) Match(data []byte) bool {
	if m.Offset < 0 || m.Offset+len(m.Bytes) > len(data) {
		return false
	}
	return bytes.Equal(data[m.Offset:m.Offset+len(m.Bytes)], m.Bytes)
}

// Store keeps entity records and wallets on top of a key/value database.
// Writes only happen through transactions obtained from Begin.
type Store struct {
	db    storage.Database
	locks *lockTable
}

// NewStore wraps db. The caller retains ownership of db.
func NewStore(db storage.Database) *Store {
	return &Store{db: db, locks: newLockTable()}
}

// Begin opens a transaction holding the named locks until Commit or Discard.
// Locks are taken in sorted order; ctx bounds how long Begin waits for them.
func (s *Store) Begin(ctx context.Context, lockKeys ...string) (*Txn, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	held, err := s.locks.acquire(ctx, lockKeys)
	if err != nil {
		return nil, err
	}
	return &Txn{
		store:    s,
		held:     held,
		records:  make(map[identity.Identity][]byte),
		created:  make(map[identity.Identity]struct{}),
		accounts: make(map[[20]byte]types.Account),
	}, nil
}

// Fetch returns the committed record stored under id.
func (s *Store) Fetch(id identity.Identity) ([]byte, error) {
	data, err := s.db.Get(recordKey(id))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("state: fetch %s: %w", id, err)
	}
	return data, nil
}

// Scan returns every committed record of the given kind that satisfies all
// filters, ordered by identity.
func (s *Store) Scan(disc [DiscriminatorSize]byte, filters ...Memcmp) ([]Record, error) {
	prefix := kindPrefix(disc)
	var ids []identity.Identity
	err := s.db.Iterate(prefix, func(key, _ []byte) bool {
		id, err := identity.FromBytes(key[len(prefix):])
		if err == nil {
			ids = append(ids, id)
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("state: scan index: %w", err)
	}

	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		data, err := s.Fetch(id)
		if errors.Is(err, ErrRecordNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !matchAll(data, filters) {
			continue
		}
		out = append(out, Record{ID: id, Data: data})
	}
	return out, nil
}

func matchAll(data []byte, filters []Memcmp) bool {
	for _, f := range filters {
		if !f.Match(data) {
			return false
		}
	}
	return true
}

// Account returns the committed wallet at addr. Missing wallets read as zero.
func (s *Store) Account(addr [20]byte) (types.Account, error) {
	data, err := s.db.Get(walletKey(addr))
	if errors.Is(err, storage.ErrNotFound) {
		return types.Account{}, nil
	}
	if err != nil {
		return types.Account{}, fmt.Errorf("state: load wallet: %w", err)
	}
	return types.DecodeAccount(data)
}

// Accounts visits every stored wallet in address order.
func (s *Store) Accounts(fn func(addr [20]byte, acc types.Account) bool) error {
	var decodeErr error
	err := s.db.Iterate(walletPrefix, func(key, value []byte) bool {
		var addr [20]byte
		copy(addr[:], key[len(walletPrefix):])
		acc, err := types.DecodeAccount(value)
		if err != nil {
			decodeErr = err
			return false
		}
		return fn(addr, acc)
	})
	if err != nil {
		return fmt.Errorf("state: iterate wallets: %w", err)
	}
	return decodeErr
}
