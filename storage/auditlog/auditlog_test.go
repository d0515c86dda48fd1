package auditlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestAppendAssignsIdentityAndTime(t *testing.T) {
	store := openTestStore(t)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }

	entry, err := store.Append(context.Background(), Entry{Kind: "sendTip", Signer: "tip1abc", Amount: 42})
	require.NoError(t, err)
	_, err = uuid.Parse(entry.ID)
	require.NoError(t, err)
	require.Equal(t, fixed, entry.OccurredAt)
	require.Equal(t, "ok", entry.Outcome)

	listed, err := store.List(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	require.Equal(t, entry.ID, listed[0].ID)
	require.Equal(t, uint64(42), listed[0].Amount)
	require.True(t, fixed.Equal(listed[0].OccurredAt))
}

func TestListFiltersNewestFirst(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	for _, e := range []Entry{
		{Kind: "createCreatorProfile", Signer: "alice", Profile: "P1"},
		{Kind: "sendTip", Signer: "bob", Profile: "P1", Amount: 5},
		{Kind: "sendTip", Signer: "bob", Profile: "P2", Outcome: "InsufficientFunds", Code: 102, Detail: "wallet short"},
		{Kind: "withdrawTips", Signer: "alice", Profile: "P1", Amount: 5},
	} {
		_, err := store.Append(ctx, e)
		require.NoError(t, err)
	}

	bob, err := store.List(ctx, Filter{Signer: "bob"})
	require.NoError(t, err)
	require.Len(t, bob, 2)
	require.Equal(t, "InsufficientFunds", bob[0].Outcome)
	require.Equal(t, 102, bob[0].Code)

	p1, err := store.List(ctx, Filter{Profile: "P1", Limit: 2})
	require.NoError(t, err)
	require.Len(t, p1, 2)
	require.Equal(t, "withdrawTips", p1[0].Kind)
	require.Equal(t, "sendTip", p1[1].Kind)

	both, err := store.List(ctx, Filter{Signer: "alice", Profile: "P1"})
	require.NoError(t, err)
	require.Len(t, both, 2)
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	store, err := Open(path)
	require.NoError(t, err)
	_, err = store.Append(context.Background(), Entry{Kind: "sendTip", Amount: ^uint64(0)})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()
	entries, err := reopened.List(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, ^uint64(0), entries[0].Amount)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(" ")
	require.Error(t, err)

	var nilStore *Store
	_, err = nilStore.Append(context.Background(), Entry{})
	require.ErrorIs(t, err, ErrClosed)
}
