package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"tipjar/core/identity"
	"tipjar/core/state"
	"tipjar/crypto"
	"tipjar/native/tipjar"
	"tipjar/rpc"
	"tipjar/storage"
	"tipjar/storage/auditlog"
)

func fixedPassphrase() (string, error) { return "test-passphrase", nil }

type harness struct {
	store *state.Store
	cli   *cli
	out   *bytes.Buffer
	dir   string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := state.NewStore(storage.NewMemDB())
	engine := tipjar.NewEngine()
	engine.SetState(store)
	audit, err := auditlog.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = audit.Close() })
	ts := httptest.NewServer(rpc.NewServer(engine, nil, audit, rpc.ServerConfig{}, nil).Handler())
	t.Cleanup(ts.Close)

	out := &bytes.Buffer{}
	return &harness{
		store: store,
		out:   out,
		dir:   t.TempDir(),
		cli: &cli{
			client:        rpc.NewClient(ts.URL, ts.Client()),
			out:           out,
			passphrase:    fixedPassphrase,
			newPassphrase: fixedPassphrase,
			scrypt:        crypto.LightScrypt,
		},
	}
}

func (h *harness) newWallet(t *testing.T, name string, funds uint64) (string, [20]byte) {
	t.Helper()
	path := filepath.Join(h.dir, name+".json")
	require.NoError(t, h.cli.run(context.Background(), []string{"generate-key", path}))
	addr, err := crypto.KeystoreAddress(path)
	require.NoError(t, err)

	tx, err := h.store.Begin(context.Background(), state.AccountLock(addr))
	require.NoError(t, err)
	acc, err := tx.Account(addr)
	require.NoError(t, err)
	acc.Balance += funds
	require.NoError(t, tx.PutAccount(addr, acc))
	require.NoError(t, tx.Commit())
	h.out.Reset()
	return path, addr
}

func (h *harness) run(t *testing.T, args ...string) string {
	t.Helper()
	h.out.Reset()
	require.NoError(t, h.cli.run(context.Background(), args))
	return h.out.String()
}

func TestCLIRegisterTipWithdraw(t *testing.T) {
	h := newHarness(t)
	creatorKey, creator := h.newWallet(t, "creator", 10_000_000_000)
	tipperKey, _ := h.newWallet(t, "tipper", 10_000_000_000)
	profileID := identity.ProfileIdentity(creator)

	out := h.run(t, "address", creatorKey)
	require.Equal(t, crypto.AddressFromArray(creator).String(), strings.TrimSpace(out))

	h.run(t, "register", creatorKey, "Creator", "makes things")
	h.run(t, "tip", tipperKey, profileID.String(), "900", "thanks")
	h.run(t, "tip", tipperKey, profileID.String(), "100")
	h.run(t, "withdraw", creatorKey, "400")
	h.run(t, "update-profile", creatorKey, "Renamed")

	var profile rpc.ProfileResult
	require.NoError(t, json.Unmarshal([]byte(h.run(t, "profile", crypto.AddressFromArray(creator).String())), &profile))
	require.Equal(t, "Renamed", profile.Profile.Name)
	require.Equal(t, "", profile.Profile.Bio)
	require.Equal(t, uint64(1000), profile.Profile.TotalTipsReceived)
	require.Equal(t, uint64(600), profile.Profile.EscrowBalance)
	require.Equal(t, uint64(2), profile.Profile.TipCount)
	require.Equal(t, uint64(1), profile.Profile.WithdrawalCount)

	var tips []tipjar.TipEntry
	require.NoError(t, json.Unmarshal([]byte(h.run(t, "tips", profileID.String())), &tips))
	require.Len(t, tips, 2)

	var withdrawals []tipjar.WithdrawalEntry
	require.NoError(t, json.Unmarshal([]byte(h.run(t, "withdrawals")), &withdrawals))
	require.Len(t, withdrawals, 1)

	var wallet rpc.WalletResult
	require.NoError(t, json.Unmarshal([]byte(h.run(t, "wallet", crypto.AddressFromArray(creator).String())), &wallet))
	require.Equal(t, uint64(3), wallet.Nonce)
}

func TestCLISurfacesLedgerErrors(t *testing.T) {
	h := newHarness(t)
	creatorKey, creator := h.newWallet(t, "creator", 10_000_000_000)
	h.run(t, "register", creatorKey, "Creator")

	err := h.cli.run(context.Background(), []string{"tip", creatorKey, identity.ProfileIdentity(creator).String(), "5"})
	var rpcErr *rpc.RPCError
	require.ErrorAs(t, err, &rpcErr)
	require.Contains(t, rpcErr.Message, "CannotTipSelf")

	err = h.cli.run(context.Background(), []string{"withdraw", creatorKey, "1"})
	require.ErrorAs(t, err, &rpcErr)
	require.Contains(t, rpcErr.Message, "InsufficientTipsBalance")
}

func TestCLIArgumentValidation(t *testing.T) {
	h := newHarness(t)
	require.ErrorIs(t, h.cli.run(context.Background(), []string{"register"}), errUsage)
	require.ErrorIs(t, h.cli.run(context.Background(), []string{"bogus"}), errUsage)
	require.Error(t, h.cli.run(context.Background(), []string{"withdraw", "k.json", "ten"}))

	path := filepath.Join(h.dir, "dup.json")
	require.NoError(t, h.cli.run(context.Background(), []string{"generate-key", path}))
	require.Error(t, h.cli.run(context.Background(), []string{"generate-key", path}), "existing keystores are never overwritten")
}

func TestApplyGlobalFlags(t *testing.T) {
	endpoint, args, err := applyGlobalFlags("http://default", []string{"--rpc", "http://node:1", "fees"})
	require.NoError(t, err)
	require.Equal(t, "http://node:1", endpoint)
	require.Equal(t, []string{"fees"}, args)

	endpoint, _, err = applyGlobalFlags("http://default", []string{"--rpc=http://other", "fees"})
	require.NoError(t, err)
	require.Equal(t, "http://other", endpoint)

	_, _, err = applyGlobalFlags("http://default", []string{"--rpc"})
	require.Error(t, err)
}

func TestCLIAuditCommand(t *testing.T) {
	h := newHarness(t)
	key, owner := h.newWallet(t, "creator", 10_000_000_000)
	h.run(t, "register", key, "Audited")

	var entries []auditlog.Entry
	require.NoError(t, json.Unmarshal([]byte(h.run(t, "audit", crypto.AddressFromArray(owner).String())), &entries))
	require.Len(t, entries, 1)
	require.Equal(t, "createCreatorProfile", entries[0].Kind)
	require.Equal(t, "ok", entries[0].Outcome)
}
