package state

import (
	"errors"
	"fmt"

	"tipjar/core/identity"
	"tipjar/core/types"
)

// Txn stages record and wallet writes in memory. Nothing reaches the database
// until Commit, which writes every staged change in one batch. A transaction
// must be used from a single goroutine.
type Txn struct {
	store    *Store
	held     []string
	records  map[identity.Identity][]byte
	created  map[identity.Identity]struct{}
	accounts map[[20]byte]types.Account
	closed   bool
}

// Record returns the record under id as seen by this transaction.
func (tx *Txn) Record(id identity.Identity) ([]byte, bool, error) {
	if tx.closed {
		return nil, false, ErrTxnClosed
	}
	if data, ok := tx.records[id]; ok {
		return copyData(data), true, nil
	}
	data, err := tx.store.Fetch(id)
	if errors.Is(err, ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Exists reports whether id names a committed or staged record.
func (tx *Txn) Exists(id identity.Identity) (bool, error) {
	_, ok, err := tx.Record(id)
	return ok, err
}

// CreateRecord stages a new record. It fails with ErrRecordExists if id is
// already in use.
func (tx *Txn) CreateRecord(id identity.Identity, data []byte) error {
	if tx.closed {
		return ErrTxnClosed
	}
	if len(data) < DiscriminatorSize {
		return errShortRecord
	}
	exists, err := tx.Exists(id)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrRecordExists, id)
	}
	tx.records[id] = copyData(data)
	tx.created[id] = struct{}{}
	return nil
}

// UpdateRecord stages new contents for an existing record. The discriminator
// must not change.
func (tx *Txn) UpdateRecord(id identity.Identity, data []byte) error {
	if tx.closed {
		return ErrTxnClosed
	}
	if len(data) < DiscriminatorSize {
		return errShortRecord
	}
	current, ok, err := tx.Record(id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}
	if string(current[:DiscriminatorSize]) != string(data[:DiscriminatorSize]) {
		return fmt.Errorf("state: record %s changes kind", id)
	}
	tx.records[id] = copyData(data)
	return nil
}

// Account returns the wallet at addr including staged changes.
func (tx *Txn) Account(addr [20]byte) (types.Account, error) {
	if tx.closed {
		return types.Account{}, ErrTxnClosed
	}
	if acc, ok := tx.accounts[addr]; ok {
		return acc, nil
	}
	return tx.store.Account(addr)
}

// PutAccount stages a wallet write.
func (tx *Txn) PutAccount(addr [20]byte, acc types.Account) error {
	if tx.closed {
		return ErrTxnClosed
	}
	tx.accounts[addr] = acc
	return nil
}

// Pending reports how many keys Commit would write.
func (tx *Txn) Pending() int {
	return len(tx.records) + len(tx.created) + len(tx.accounts)
}

// Commit writes every staged change atomically and releases the locks.
func (tx *Txn) Commit() error {
	if tx.closed {
		return ErrTxnClosed
	}
	defer tx.close()

	if tx.Pending() == 0 {
		return nil
	}
	batch := tx.store.db.NewBatch()
	for id, data := range tx.records {
		batch.Put(recordKey(id), data)
	}
	for id := range tx.created {
		var disc [DiscriminatorSize]byte
		copy(disc[:], tx.records[id])
		batch.Put(kindIndexKey(disc, id), []byte{})
	}
	for addr, acc := range tx.accounts {
		encoded, err := acc.Encode()
		if err != nil {
			return fmt.Errorf("state: encode wallet: %w", err)
		}
		batch.Put(walletKey(addr), encoded)
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	return nil
}

// Discard drops all staged changes and releases the locks. Discarding a
// closed transaction is a no-op.
func (tx *Txn) Discard() {
	if tx.closed {
		return
	}
	tx.close()
}

func (tx *Txn) close() {
	tx.closed = true
	tx.records = nil
	tx.created = nil
	tx.accounts = nil
	tx.store.locks.release(tx.held)
	tx.held = nil
}

func copyData(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
