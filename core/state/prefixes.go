package state

import "tipjar/core/identity"

var (
	recordPrefix    = []byte("tipjar/account/")
	kindIndexPrefix = []byte("tipjar/kind/")
	walletPrefix    = []byte("tipjar/wallet/")
)

// DiscriminatorSize is the length of the kind tag that prefixes every record.
const DiscriminatorSize = 8

func recordKey(id identity.Identity) []byte {
	buf := make([]byte, len(recordPrefix)+identity.Size)
	copy(buf, recordPrefix)
	copy(buf[len(recordPrefix):], id[:])
	return buf
}

func kindPrefix(disc [DiscriminatorSize]byte) []byte {
	buf := make([]byte, len(kindIndexPrefix)+DiscriminatorSize)
	copy(buf, kindIndexPrefix)
	copy(buf[len(kindIndexPrefix):], disc[:])
	return buf
}

func kindIndexKey(disc [DiscriminatorSize]byte, id identity.Identity) []byte {
	return append(kindPrefix(disc), id[:]...)
}

func walletKey(addr [20]byte) []byte {
	buf := make([]byte, len(walletPrefix)+len(addr))
	copy(buf, walletPrefix)
	copy(buf[len(walletPrefix):], addr[:])
	return buf
}

// RecordLock names the lock guarding the record stored under id.
func RecordLock(id identity.Identity) string {
	return "record/" + id.String()
}

// AccountLock names the lock guarding the wallet at addr.
func AccountLock(addr [20]byte) string {
	return "wallet/" + string(addr[:])
}
