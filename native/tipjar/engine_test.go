package tipjar

import (
	"bytes"
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"tipjar/core/events"
	"tipjar/core/identity"
	"tipjar/core/state"
	"tipjar/core/types"
	"tipjar/storage"
)

const (
	startBalance = 10_000_000_000
	testNow      = int64(1_700_000_000)
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingEmitter) Emit(evt events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recordingEmitter) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt.EventType())
	}
	return out
}

type fixture struct {
	t       *testing.T
	store   *state.Store
	engine  *Engine
	emitter *recordingEmitter
	fees    FeeSchedule
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := state.NewStore(storage.NewMemDB())
	engine := NewEngine()
	engine.SetState(store)
	engine.SetNowFunc(func() int64 { return testNow })
	emitter := &recordingEmitter{}
	engine.SetEmitter(emitter)
	return &fixture{t: t, store: store, engine: engine, emitter: emitter, fees: engine.FeeSchedule()}
}

func addr(b byte) [20]byte {
	var out [20]byte
	out[0] = 0xA0
	out[19] = b
	return out
}

func (f *fixture) fund(owner [20]byte, amount uint64) {
	f.t.Helper()
	tx, err := f.store.Begin(context.Background(), state.AccountLock(owner))
	if err != nil {
		f.t.Fatalf("begin: %v", err)
	}
	acc, err := tx.Account(owner)
	if err != nil {
		f.t.Fatalf("account: %v", err)
	}
	acc.Balance += amount
	if err := tx.PutAccount(owner, acc); err != nil {
		f.t.Fatalf("put account: %v", err)
	}
	if err := tx.Commit(); err != nil {
		f.t.Fatalf("commit: %v", err)
	}
}

func (f *fixture) balance(owner [20]byte) uint64 {
	f.t.Helper()
	acc, err := f.engine.Wallet(owner)
	if err != nil {
		f.t.Fatalf("wallet: %v", err)
	}
	return acc.Balance
}

func (f *fixture) fee(kind Kind) uint64 {
	f.t.Helper()
	fee, err := f.fees.AllocationFee(kind)
	if err != nil {
		f.t.Fatalf("fee: %v", err)
	}
	return fee
}

func (f *fixture) register(owner [20]byte, name string) identity.Identity {
	f.t.Helper()
	receipt, err := f.engine.Register(context.Background(), owner, name, "bio")
	if err != nil {
		f.t.Fatalf("register: %v", err)
	}
	return receipt.Profile
}

func (f *fixture) profile(id identity.Identity) *Profile {
	f.t.Helper()
	profile, err := f.engine.Profile(id)
	if err != nil {
		f.t.Fatalf("load profile: %v", err)
	}
	return profile
}

func (f *fixture) rawProfile(id identity.Identity) []byte {
	f.t.Helper()
	data, err := f.store.Fetch(id)
	if err != nil {
		f.t.Fatalf("fetch: %v", err)
	}
	return data
}

// totalValue sums every wallet, every escrow and every rent deposit.
func (f *fixture) totalValue() uint64 {
	f.t.Helper()
	var total uint64
	if err := f.store.Accounts(func(_ [20]byte, acc types.Account) bool {
		total += acc.Balance
		return true
	}); err != nil {
		f.t.Fatalf("accounts: %v", err)
	}
	profiles, err := f.engine.Profiles(nil)
	if err != nil {
		f.t.Fatalf("profiles: %v", err)
	}
	tips, err := f.engine.Tips(nil)
	if err != nil {
		f.t.Fatalf("tips: %v", err)
	}
	withdrawals, err := f.engine.Withdrawals(nil)
	if err != nil {
		f.t.Fatalf("withdrawals: %v", err)
	}
	for _, entry := range profiles {
		total += entry.Profile.EscrowBalance
	}
	total += uint64(len(profiles)) * f.fee(KindProfile)
	total += uint64(len(tips)) * f.fee(KindTip)
	total += uint64(len(withdrawals)) * f.fee(KindWithdrawal)
	return total
}

func expectCode(t *testing.T, err error, want *Error) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("expected %s, got %v", want.Code, err)
	}
}

func TestRegisterCreatesProfileOnce(t *testing.T) {
	f := newFixture(t)
	owner := addr(1)
	f.fund(owner, startBalance)

	receipt, err := f.engine.Register(context.Background(), owner, "Test Creator", "bio")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if receipt.Profile != identity.ProfileIdentity(owner) {
		t.Fatalf("profile identity does not derive from owner")
	}
	profile := f.profile(receipt.Profile)
	if profile.Owner != owner || profile.Name != "Test Creator" || profile.Bio != "bio" {
		t.Fatalf("unexpected profile: %+v", profile)
	}
	if profile.TotalTipsReceived != 0 || profile.TipCount != 0 || profile.WithdrawalCount != 0 || profile.EscrowBalance != 0 {
		t.Fatalf("new profile should have zero counters: %+v", profile)
	}
	if profile.CreatedAt != testNow || profile.LastWithdrawalAt != 0 {
		t.Fatalf("unexpected timestamps: %+v", profile)
	}
	if got := f.balance(owner); got != startBalance-f.fee(KindProfile) {
		t.Fatalf("allocation fee not charged: balance %d", got)
	}

	_, err = f.engine.Register(context.Background(), owner, "Again", "")
	expectCode(t, err, ErrAlreadyExists)
	if got := f.balance(owner); got != startBalance-f.fee(KindProfile) {
		t.Fatalf("failed registration charged a fee")
	}
	if got := f.emitter.types(); len(got) != 1 || got[0] != EventTypeProfileCreated {
		t.Fatalf("unexpected events: %v", got)
	}
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t)
	owner := addr(2)
	f.fund(owner, startBalance)
	long := func(n int) string { return string(bytes.Repeat([]byte{'a'}, n)) }

	cases := []struct {
		name string
		bio  string
		want *Error
	}{
		{name: long(MaxNameLen + 1), bio: long(MaxBioLen + 1), want: ErrNameTooLong},
		{name: "", bio: long(MaxBioLen + 1), want: ErrNameEmpty},
		{name: "ok", bio: long(MaxBioLen + 1), want: ErrBioTooLong},
	}
	for _, tc := range cases {
		_, err := f.engine.Register(context.Background(), owner, tc.name, tc.bio)
		expectCode(t, err, tc.want)
	}

	if _, err := f.engine.Register(context.Background(), owner, long(MaxNameLen), long(MaxBioLen)); err != nil {
		t.Fatalf("bounds should be inclusive: %v", err)
	}
}

func TestRegisterRequiresFee(t *testing.T) {
	f := newFixture(t)
	owner := addr(3)
	f.fund(owner, f.fee(KindProfile)-1)

	_, err := f.engine.Register(context.Background(), owner, "Poor", "")
	expectCode(t, err, ErrInsufficientFunds)
	if _, err := f.store.Fetch(identity.ProfileIdentity(owner)); !errors.Is(err, state.ErrRecordNotFound) {
		t.Fatalf("profile should not exist after failed registration")
	}
}

func TestTipIncrementsCounters(t *testing.T) {
	f := newFixture(t)
	creator, tipper := addr(1), addr(2)
	f.fund(creator, startBalance)
	f.fund(tipper, startBalance)
	profileID := f.register(creator, "Creator")
	before := f.totalValue()

	receipt, err := f.engine.Tip(context.Background(), tipper, profileID, 100_000_000, "nice")
	if err != nil {
		t.Fatalf("tip: %v", err)
	}
	wantTip := identity.TipIdentity(profileID, tipper, 0)
	if receipt.Record == nil || *receipt.Record != wantTip {
		t.Fatalf("tip identity not derived from the pre-increment counter")
	}
	profile := f.profile(profileID)
	if profile.TipCount != 1 || profile.TotalTipsReceived != 100_000_000 || profile.EscrowBalance != 100_000_000 {
		t.Fatalf("unexpected profile after tip: %+v", profile)
	}
	tip, err := f.engine.TipRecord(wantTip)
	if err != nil {
		t.Fatalf("load tip: %v", err)
	}
	if tip.Creator != profileID || tip.Tipper != tipper || tip.Amount != 100_000_000 || tip.Message != "nice" || tip.Timestamp != testNow {
		t.Fatalf("unexpected tip record: %+v", tip)
	}
	if got := f.balance(tipper); got != startBalance-100_000_000-f.fee(KindTip) {
		t.Fatalf("tipper not debited amount plus fee: %d", got)
	}
	if after := f.totalValue(); after != before {
		t.Fatalf("value not conserved: before %d after %d", before, after)
	}
}

func TestZeroTipLeavesProfileUnchanged(t *testing.T) {
	f := newFixture(t)
	creator, tipper := addr(1), addr(2)
	f.fund(creator, startBalance)
	f.fund(tipper, startBalance)
	profileID := f.register(creator, "Creator")
	before := f.rawProfile(profileID)

	_, err := f.engine.Tip(context.Background(), tipper, profileID, 0, "")
	expectCode(t, err, ErrInvalidTipAmount)
	if !bytes.Equal(before, f.rawProfile(profileID)) {
		t.Fatalf("profile bytes changed after rejected tip")
	}
	if got := f.balance(tipper); got != startBalance {
		t.Fatalf("rejected tip moved funds")
	}
}

func TestTipValidation(t *testing.T) {
	f := newFixture(t)
	creator, tipper := addr(1), addr(2)
	f.fund(creator, startBalance)
	f.fund(tipper, startBalance)
	profileID := f.register(creator, "Creator")

	_, err := f.engine.Tip(context.Background(), tipper, profileID, 1, string(bytes.Repeat([]byte{'m'}, MaxMessageLen+1)))
	expectCode(t, err, ErrMessageTooLong)

	_, err = f.engine.Tip(context.Background(), tipper, identity.ProfileIdentity(addr(99)), 1, "")
	expectCode(t, err, ErrProfileNotFound)

	_, err = f.engine.Tip(context.Background(), creator, profileID, 1, "")
	expectCode(t, err, ErrCannotTipSelf)

	poor := addr(3)
	f.fund(poor, 500)
	_, err = f.engine.Tip(context.Background(), poor, profileID, 400, "")
	expectCode(t, err, ErrInsufficientFunds)
	if errors.Is(err, ErrInsufficientTipsBalance) {
		t.Fatalf("wallet shortfall must not report escrow shortfall")
	}

	if profile := f.profile(profileID); profile.TipCount != 0 {
		t.Fatalf("failed tips changed the counter: %d", profile.TipCount)
	}
}

func TestWithdrawBounds(t *testing.T) {
	f := newFixture(t)
	creator, tipper := addr(1), addr(2)
	f.fund(creator, startBalance)
	f.fund(tipper, startBalance)
	profileID := f.register(creator, "Creator")
	if _, err := f.engine.Tip(context.Background(), tipper, profileID, 1_000, ""); err != nil {
		t.Fatalf("tip: %v", err)
	}
	before := f.rawProfile(profileID)

	_, err := f.engine.Withdraw(context.Background(), creator, profileID, 0)
	expectCode(t, err, ErrInvalidWithdrawalAmount)
	_, err = f.engine.Withdraw(context.Background(), creator, profileID, 1_001)
	expectCode(t, err, ErrInsufficientTipsBalance)

	if !bytes.Equal(before, f.rawProfile(profileID)) {
		t.Fatalf("rejected withdrawals changed the profile")
	}
}

func TestTwoPartialWithdrawalsDrainEscrow(t *testing.T) {
	f := newFixture(t)
	creator, tipper := addr(1), addr(2)
	f.fund(creator, startBalance)
	f.fund(tipper, startBalance)
	profileID := f.register(creator, "Creator")
	if _, err := f.engine.Tip(context.Background(), tipper, profileID, 300, ""); err != nil {
		t.Fatalf("tip: %v", err)
	}
	before := f.totalValue()

	first, err := f.engine.Withdraw(context.Background(), creator, profileID, 100)
	if err != nil {
		t.Fatalf("first withdraw: %v", err)
	}
	second, err := f.engine.Withdraw(context.Background(), creator, profileID, 200)
	if err != nil {
		t.Fatalf("second withdraw: %v", err)
	}
	if *first.Record != identity.WithdrawalIdentity(creator, 0) || *second.Record != identity.WithdrawalIdentity(creator, 1) {
		t.Fatalf("withdrawal identities not derived from counter")
	}
	profile := f.profile(profileID)
	if profile.EscrowBalance != 0 || profile.WithdrawalCount != 2 || profile.TotalTipsReceived != 300 {
		t.Fatalf("unexpected profile: %+v", profile)
	}
	if profile.LastWithdrawalAt != testNow {
		t.Fatalf("lastWithdrawalAt not set")
	}
	if after := f.totalValue(); after != before {
		t.Fatalf("value not conserved: before %d after %d", before, after)
	}
}

func TestOwnerOnlyOperations(t *testing.T) {
	f := newFixture(t)
	creator, stranger := addr(1), addr(2)
	f.fund(creator, startBalance)
	f.fund(stranger, startBalance)
	profileID := f.register(creator, "Creator")
	if _, err := f.engine.Tip(context.Background(), stranger, profileID, 100, ""); err != nil {
		t.Fatalf("tip: %v", err)
	}

	// Invalid inputs still report Unauthorized for a non-owner.
	_, err := f.engine.UpdateProfile(context.Background(), stranger, profileID, "", "")
	expectCode(t, err, ErrUnauthorized)
	_, err = f.engine.UpdateProfile(context.Background(), stranger, profileID, "Fine", "bio")
	expectCode(t, err, ErrUnauthorized)
	_, err = f.engine.Withdraw(context.Background(), stranger, profileID, 0)
	expectCode(t, err, ErrUnauthorized)
	_, err = f.engine.Withdraw(context.Background(), stranger, profileID, 50)
	expectCode(t, err, ErrUnauthorized)

	if profile := f.profile(profileID); profile.Name != "Creator" || profile.EscrowBalance != 100 {
		t.Fatalf("unauthorized calls changed the profile: %+v", profile)
	}
}

func TestUpdateProfileOverwritesNameAndBio(t *testing.T) {
	f := newFixture(t)
	creator, tipper := addr(1), addr(2)
	f.fund(creator, startBalance)
	f.fund(tipper, startBalance)
	profileID := f.register(creator, "Creator")
	if _, err := f.engine.Tip(context.Background(), tipper, profileID, 100, ""); err != nil {
		t.Fatalf("tip: %v", err)
	}

	_, err := f.engine.UpdateProfile(context.Background(), creator, profileID, "", "")
	expectCode(t, err, ErrNameEmpty)

	if _, err := f.engine.UpdateProfile(context.Background(), creator, profileID, "Renamed", "new bio"); err != nil {
		t.Fatalf("update: %v", err)
	}
	profile := f.profile(profileID)
	if profile.Name != "Renamed" || profile.Bio != "new bio" {
		t.Fatalf("update not applied: %+v", profile)
	}
	if profile.TipCount != 1 || profile.EscrowBalance != 100 || profile.CreatedAt != testNow {
		t.Fatalf("update touched counters: %+v", profile)
	}
}

func TestScenarioTipThenWithdraw(t *testing.T) {
	f := newFixture(t)
	a, b := addr(0xA), addr(0xB)
	f.fund(a, startBalance)
	f.fund(b, startBalance)

	profileID := f.register(a, "Test Creator")
	if _, err := f.engine.Tip(context.Background(), b, profileID, 100_000_000, "nice"); err != nil {
		t.Fatalf("tip: %v", err)
	}
	profile := f.profile(profileID)
	if profile.TotalTipsReceived != 100_000_000 || profile.TipCount != 1 || profile.EscrowBalance != 100_000_000 {
		t.Fatalf("unexpected profile after tip: %+v", profile)
	}

	walletBefore := f.balance(a)
	if _, err := f.engine.Withdraw(context.Background(), a, profileID, 100_000_000); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	profile = f.profile(profileID)
	if profile.EscrowBalance != 0 || profile.WithdrawalCount != 1 {
		t.Fatalf("unexpected profile after withdraw: %+v", profile)
	}
	withdrawals, err := f.engine.Withdrawals(&profileID)
	if err != nil {
		t.Fatalf("withdrawals: %v", err)
	}
	if len(withdrawals) != 1 || withdrawals[0].Withdrawal.Amount != 100_000_000 {
		t.Fatalf("expected exactly one withdrawal record, got %+v", withdrawals)
	}
	if got := f.balance(a); got != walletBefore+100_000_000-f.fee(KindWithdrawal) {
		t.Fatalf("owner wallet not credited: %d", got)
	}
	want := []string{EventTypeProfileCreated, EventTypeTipSent, EventTypeTipsWithdrawn}
	got := f.emitter.types()
	if len(got) != len(want) {
		t.Fatalf("unexpected events: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: got %s want %s", i, got[i], want[i])
		}
	}
}

func TestScenarioTwoTippersScanByCreator(t *testing.T) {
	f := newFixture(t)
	creator, other := addr(1), addr(9)
	t1, t2 := addr(2), addr(3)
	for _, w := range [][20]byte{creator, other, t1, t2} {
		f.fund(w, startBalance)
	}
	profileID := f.register(creator, "Creator")
	otherID := f.register(other, "Other")

	first, err := f.engine.Tip(context.Background(), t1, profileID, 100_000_000, "")
	if err != nil {
		t.Fatalf("tip 1: %v", err)
	}
	second, err := f.engine.Tip(context.Background(), t2, profileID, 200_000_000, "")
	if err != nil {
		t.Fatalf("tip 2: %v", err)
	}
	if _, err := f.engine.Tip(context.Background(), t1, otherID, 5, ""); err != nil {
		t.Fatalf("tip other: %v", err)
	}
	if *first.Record == *second.Record {
		t.Fatalf("tip identities collided")
	}

	profile := f.profile(profileID)
	if profile.TipCount != 2 || profile.TotalTipsReceived != 300_000_000 {
		t.Fatalf("unexpected profile: %+v", profile)
	}
	tips, err := f.engine.Tips(&profileID)
	if err != nil {
		t.Fatalf("scan tips: %v", err)
	}
	if len(tips) != 2 {
		t.Fatalf("expected 2 tips for creator, got %d", len(tips))
	}
	seen := map[identity.Identity]bool{}
	for _, entry := range tips {
		if entry.Tip.Creator != profileID {
			t.Fatalf("scan returned a foreign tip")
		}
		seen[entry.ID] = true
	}
	if !seen[*first.Record] || !seen[*second.Record] {
		t.Fatalf("scan missed a tip")
	}
	all, err := f.engine.Tips(nil)
	if err != nil {
		t.Fatalf("scan all tips: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 tips overall, got %d", len(all))
	}
}

func TestRepeatTipperGetsDistinctRecords(t *testing.T) {
	f := newFixture(t)
	creator, tipper := addr(1), addr(2)
	f.fund(creator, startBalance)
	f.fund(tipper, startBalance)
	profileID := f.register(creator, "Creator")

	seen := map[identity.Identity]bool{}
	for i := 0; i < 5; i++ {
		receipt, err := f.engine.Tip(context.Background(), tipper, profileID, 10, "")
		if err != nil {
			t.Fatalf("tip %d: %v", i, err)
		}
		if seen[*receipt.Record] {
			t.Fatalf("tip %d reused an identity", i)
		}
		seen[*receipt.Record] = true
	}
}

func (f *fixture) storeRecord(id identity.Identity, data []byte, create bool) {
	f.t.Helper()
	tx, err := f.store.Begin(context.Background(), state.RecordLock(id))
	if err != nil {
		f.t.Fatalf("begin: %v", err)
	}
	if create {
		err = tx.CreateRecord(id, data)
	} else {
		err = tx.UpdateRecord(id, data)
	}
	if err != nil {
		f.t.Fatalf("stage record: %v", err)
	}
	if err := tx.Commit(); err != nil {
		f.t.Fatalf("commit: %v", err)
	}
}

func TestOperationsOnNonProfileRecord(t *testing.T) {
	f := newFixture(t)
	creator, tipper := addr(1), addr(2)
	f.fund(creator, startBalance)
	f.fund(tipper, startBalance)
	profileID := f.register(creator, "Creator")
	receipt, err := f.engine.Tip(context.Background(), tipper, profileID, 50, "first")
	if err != nil {
		t.Fatalf("tip: %v", err)
	}
	tipID := *receipt.Record
	tipBytes, err := f.store.Fetch(tipID)
	if err != nil {
		t.Fatalf("fetch tip: %v", err)
	}
	tipperBalance := f.balance(tipper)

	_, err = f.engine.Tip(context.Background(), tipper, tipID, 10, "hi")
	expectCode(t, err, ErrProfileNotFound)
	_, err = f.engine.UpdateProfile(context.Background(), tipper, tipID, "Name", "")
	expectCode(t, err, ErrProfileNotFound)
	_, err = f.engine.Withdraw(context.Background(), tipper, tipID, 10)
	expectCode(t, err, ErrProfileNotFound)

	after, err := f.store.Fetch(tipID)
	if err != nil {
		t.Fatalf("fetch tip: %v", err)
	}
	if !bytes.Equal(tipBytes, after) {
		t.Fatalf("tip record changed")
	}
	if got := f.balance(tipper); got != tipperBalance {
		t.Fatalf("rejected operations moved funds")
	}

	_, err = f.engine.Profile(tipID)
	expectCode(t, err, ErrProfileNotFound)
	if _, err := f.engine.TipRecord(profileID); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound for a profile read as a tip, got %v", err)
	}
	if _, err := f.engine.WithdrawalRecord(tipID); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound for a tip read as a withdrawal, got %v", err)
	}
}

func TestProfileAtForeignIdentityIsRejected(t *testing.T) {
	f := newFixture(t)
	creator, tipper := addr(1), addr(2)
	f.fund(creator, startBalance)
	f.fund(tipper, startBalance)

	misplaced := identity.ProfileIdentity(addr(9))
	f.storeRecord(misplaced, EncodeProfile(&Profile{Owner: creator, Name: "Misplaced", CreatedAt: testNow}), true)

	_, err := f.engine.Tip(context.Background(), tipper, misplaced, 10, "")
	expectCode(t, err, ErrIdentityMismatch)
	_, err = f.engine.UpdateProfile(context.Background(), creator, misplaced, "Name", "")
	expectCode(t, err, ErrIdentityMismatch)
	_, err = f.engine.Withdraw(context.Background(), creator, misplaced, 1)
	expectCode(t, err, ErrIdentityMismatch)
	if got := f.balance(tipper); got != startBalance {
		t.Fatalf("rejected tip moved funds")
	}
}

func TestTipOverflowRollsBack(t *testing.T) {
	f := newFixture(t)
	creator, tipper := addr(1), addr(2)
	f.fund(creator, startBalance)
	f.fund(tipper, startBalance)
	profileID := f.register(creator, "Creator")

	near := f.profile(profileID)
	near.EscrowBalance = math.MaxUint64 - 5
	near.TotalTipsReceived = math.MaxUint64 - 5
	f.storeRecord(profileID, EncodeProfile(near), false)
	before := f.rawProfile(profileID)

	_, err := f.engine.Tip(context.Background(), tipper, profileID, 10, "too much")
	expectCode(t, err, ErrOverflow)
	if !bytes.Equal(before, f.rawProfile(profileID)) {
		t.Fatalf("profile bytes changed after overflow")
	}
	if got := f.balance(tipper); got != startBalance {
		t.Fatalf("overflowing tip moved funds: %d", got)
	}
	tips, err := f.engine.Tips(&profileID)
	if err != nil {
		t.Fatalf("tips: %v", err)
	}
	if len(tips) != 0 {
		t.Fatalf("overflowing tip left %d records", len(tips))
	}
	if len(f.emitter.types()) != 1 {
		t.Fatalf("overflowing tip emitted events: %v", f.emitter.types())
	}
}

func TestConcurrentTipsSerializePerProfile(t *testing.T) {
	f := newFixture(t)
	creator := addr(1)
	f.fund(creator, startBalance)
	profileID := f.register(creator, "Creator")

	const tippers = 20
	for i := 0; i < tippers; i++ {
		f.fund(addr(byte(100+i)), startBalance)
	}

	var wg sync.WaitGroup
	errs := make(chan error, tippers)
	counts := make(chan uint64, tippers)
	for i := 0; i < tippers; i++ {
		wg.Add(1)
		go func(tipper [20]byte) {
			defer wg.Done()
			receipt, err := f.engine.Tip(context.Background(), tipper, profileID, 5, "")
			if err != nil {
				errs <- err
				return
			}
			if *receipt.Record != identity.TipIdentity(profileID, tipper, receipt.State.TipCount-1) {
				errs <- errors.New("tip record not derived from the pre-increment counter")
				return
			}
			counts <- receipt.State.TipCount
		}(addr(byte(100 + i)))
	}
	wg.Wait()
	close(errs)
	close(counts)
	for err := range errs {
		t.Fatalf("concurrent tip: %v", err)
	}

	seen := make(map[uint64]bool)
	for c := range counts {
		if seen[c] {
			t.Fatalf("tip count %d observed twice", c)
		}
		seen[c] = true
	}
	profile := f.profile(profileID)
	if profile.TipCount != tippers || profile.EscrowBalance != 5*tippers || profile.TotalTipsReceived != 5*tippers {
		t.Fatalf("unexpected profile after concurrent tips: %+v", profile)
	}
	tips, err := f.engine.Tips(&profileID)
	if err != nil {
		t.Fatalf("tips: %v", err)
	}
	if len(tips) != tippers {
		t.Fatalf("expected %d tip records, got %d", tippers, len(tips))
	}
}
