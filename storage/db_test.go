package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Database {
	t.Helper()
	level, err := NewLevelDB(filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err)
	t.Cleanup(level.Close)
	return map[string]Database{
		"memdb":   NewMemDB(),
		"leveldb": level,
	}
}

func TestDatabaseGetPutDelete(t *testing.T) {
	for name, db := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := db.Get([]byte("missing"))
			require.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, db.Put([]byte("k"), []byte("v")))
			value, err := db.Get([]byte("k"))
			require.NoError(t, err)
			require.Equal(t, []byte("v"), value)

			ok, err := db.Has([]byte("k"))
			require.NoError(t, err)
			require.True(t, ok)

			require.NoError(t, db.Delete([]byte("k")))
			ok, err = db.Has([]byte("k"))
			require.NoError(t, err)
			require.False(t, ok)
		})
	}
}

func TestDatabaseIteratePrefixInOrder(t *testing.T) {
	for name, db := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, db.Put([]byte("a/2"), []byte("two")))
			require.NoError(t, db.Put([]byte("a/1"), []byte("one")))
			require.NoError(t, db.Put([]byte("b/1"), []byte("other")))

			var keys []string
			require.NoError(t, db.Iterate([]byte("a/"), func(key, value []byte) bool {
				keys = append(keys, string(key))
				return true
			}))
			require.Equal(t, []string{"a/1", "a/2"}, keys)

			var first []string
			require.NoError(t, db.Iterate([]byte("a/"), func(key, value []byte) bool {
				first = append(first, string(value))
				return false
			}))
			require.Equal(t, []string{"one"}, first)
		})
	}
}

func TestBatchAppliesAllWritesTogether(t *testing.T) {
	for name, db := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, db.Put([]byte("gone"), []byte("x")))

			batch := db.NewBatch()
			batch.Put([]byte("one"), []byte("1"))
			batch.Put([]byte("two"), []byte("2"))
			batch.Delete([]byte("gone"))
			require.Equal(t, 3, batch.Len())

			ok, err := db.Has([]byte("one"))
			require.NoError(t, err)
			require.False(t, ok, "batch writes must not be visible before Write")

			require.NoError(t, batch.Write())
			for _, key := range []string{"one", "two"} {
				ok, err := db.Has([]byte(key))
				require.NoError(t, err)
				require.True(t, ok, key)
			}
			ok, err = db.Has([]byte("gone"))
			require.NoError(t, err)
			require.False(t, ok)

			batch.Reset()
			require.Equal(t, 0, batch.Len())
		})
	}
}

func TestMemDBReturnsCopies(t *testing.T) {
	db := NewMemDB()
	value := []byte("abc")
	require.NoError(t, db.Put([]byte("k"), value))
	value[0] = 'z'

	stored, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), stored)

	stored[1] = 'z'
	again, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), again)
}
