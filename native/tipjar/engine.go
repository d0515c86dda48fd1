package tipjar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"tipjar/core/events"
	"tipjar/core/identity"
	"tipjar/core/state"
	"tipjar/core/types"
	"tipjar/native/bank"
	"tipjar/observability"
)

var errNilState = errors.New("tipjar engine: state not configured")

type engineState interface {
	Begin(ctx context.Context, lockKeys ...string) (*state.Txn, error)
	Fetch(id identity.Identity) ([]byte, error)
	Scan(disc [state.DiscriminatorSize]byte, filters ...state.Memcmp) ([]state.Record, error)
	Account(addr [20]byte) (types.Account, error)
}

// Engine applies the tip jar transitions against a transactional store. Each
// transition runs inside one state transaction holding the profile lock and
// the signer's wallet lock, and commits all of its writes together.
type Engine struct {
	state   engineState
	emitter events.Emitter
	nowFn   func() int64
	fees    FeeSchedule
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *observability.TipJarMetrics
}

// NewEngine constructs an engine with default dependencies.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn: func() int64 {
			return time.Now().Unix()
		},
		fees:    DefaultFeeSchedule(),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer:  otel.Tracer("tipjar/native/tipjar"),
		metrics: observability.TipJar(),
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter used by the engine.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used for deterministic testing.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetFeeSchedule replaces the allocation fee schedule.
func (e *Engine) SetFeeSchedule(fees FeeSchedule) { e.fees = fees }

// FeeSchedule returns the active allocation fee schedule.
func (e *Engine) FeeSchedule() FeeSchedule { return e.fees }

// SetLogger configures the structured logger. A nil logger silences output.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	e.logger = logger.With(slog.String("component", "tipjar"))
}

func (e *Engine) emit(evt *types.Event) {
	if e == nil || evt == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(WrapEvent(evt))
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// Receipt describes a committed transition.
type Receipt struct {
	Kind    types.InstructionKind `json:"kind"`
	Signer  string                `json:"signer"`
	Profile identity.Identity     `json:"profile"`
	Record  *identity.Identity    `json:"record,omitempty"`
	Amount  uint64                `json:"amount,omitempty"`
	Fee     uint64                `json:"fee"`
	// Nonce is the signer's wallet nonce after the transition.
	Nonce  uint64         `json:"nonce"`
	State  *Profile       `json:"state"`
	Events []*types.Event `json:"events"`
}

// invocation carries what the guard established about the caller. A nil nonce
// marks a host-authenticated call that neither checks nor advances the
// wallet nonce.
type invocation struct {
	signer [20]byte
	nonce  *uint64
	record *identity.Identity
}

type transition func(tx *state.Txn, receipt *Receipt) error

// Apply authenticates a signed instruction and executes it.
func (e *Engine) Apply(ctx context.Context, ins *types.Instruction) (*Receipt, error) {
	signer, err := RecoverSigner(ins)
	if err != nil {
		e.metrics.ObserveInstruction(kindLabel(ins), outcomeOf(err), 0)
		return nil, err
	}
	nonce := ins.Nonce
	inv := invocation{signer: signer, nonce: &nonce, record: ins.Record}

	switch ins.Kind {
	case types.InstructionCreateProfile:
		if ins.Record == nil {
			inv.record = ins.Profile
		} else if ins.Profile != nil && *ins.Profile != *ins.Record {
			return nil, newError(CodeIdentityMismatch, "profile %s and record %s differ", ins.Profile, ins.Record)
		}
		return e.register(ctx, inv, ins.Name, ins.Bio)
	case types.InstructionSendTip:
		if ins.Profile == nil {
			return nil, newError(CodeInvalidInstruction, "sendTip requires a profile")
		}
		return e.tip(ctx, inv, *ins.Profile, ins.Amount, ins.Message)
	case types.InstructionUpdateProfile:
		if ins.Profile == nil {
			return nil, newError(CodeInvalidInstruction, "updateProfile requires a profile")
		}
		return e.updateProfile(ctx, inv, *ins.Profile, ins.Name, ins.Bio)
	case types.InstructionWithdrawTips:
		if ins.Profile == nil {
			return nil, newError(CodeInvalidInstruction, "withdrawTips requires a profile")
		}
		return e.withdraw(ctx, inv, *ins.Profile, ins.Amount)
	default:
		return nil, newError(CodeInvalidInstruction, "unknown instruction kind %s", ins.Kind)
	}
}

// Register creates the profile owned by owner and charges its allocation fee.
func (e *Engine) Register(ctx context.Context, owner [20]byte, name, bio string) (*Receipt, error) {
	return e.register(ctx, invocation{signer: owner}, name, bio)
}

// Tip moves amount from tipper's wallet into the profile's escrow and records
// the tip.
func (e *Engine) Tip(ctx context.Context, tipper [20]byte, profile identity.Identity, amount uint64, message string) (*Receipt, error) {
	return e.tip(ctx, invocation{signer: tipper}, profile, amount, message)
}

// UpdateProfile overwrites the profile's name and bio.
func (e *Engine) UpdateProfile(ctx context.Context, caller [20]byte, profile identity.Identity, name, bio string) (*Receipt, error) {
	return e.updateProfile(ctx, invocation{signer: caller}, profile, name, bio)
}

// Withdraw releases amount from escrow to the owner's wallet.
func (e *Engine) Withdraw(ctx context.Context, caller [20]byte, profile identity.Identity, amount uint64) (*Receipt, error) {
	return e.withdraw(ctx, invocation{signer: caller}, profile, amount)
}

func (e *Engine) register(ctx context.Context, inv invocation, name, bio string) (*Receipt, error) {
	profileID := identity.ProfileIdentity(inv.signer)
	return e.run(ctx, types.InstructionCreateProfile, inv, profileID, func(tx *state.Txn, receipt *Receipt) error {
		if err := validateName(name); err != nil {
			return err
		}
		if err := validateBio(bio); err != nil {
			return err
		}
		if err := checkProfileIdentity(inv.record, profileID); err != nil {
			return err
		}
		exists, err := tx.Exists(profileID)
		if err != nil {
			return err
		}
		if exists {
			return newError(CodeAlreadyExists, "profile %s", profileID)
		}

		fee, err := e.fees.AllocationFee(KindProfile)
		if err != nil {
			return err
		}
		if err := bank.Debit(tx, inv.signer, fee); err != nil {
			return mapBankError(err)
		}
		profile := &Profile{
			Owner:     inv.signer,
			Name:      name,
			Bio:       bio,
			CreatedAt: e.now(),
		}
		if err := createRecord(tx, profileID, EncodeProfile(profile)); err != nil {
			return err
		}

		receipt.Record = &profileID
		receipt.Fee = fee
		receipt.State = profile
		receipt.Events = append(receipt.Events, ProfileCreatedEvent(profileID, inv.signer, name))
		return nil
	})
}

func (e *Engine) tip(ctx context.Context, inv invocation, profileID identity.Identity, amount uint64, message string) (*Receipt, error) {
	return e.run(ctx, types.InstructionSendTip, inv, profileID, func(tx *state.Txn, receipt *Receipt) error {
		if amount == 0 {
			return ErrInvalidTipAmount
		}
		if err := validateMessage(message); err != nil {
			return err
		}
		profile, err := loadProfile(tx, profileID)
		if err != nil {
			return err
		}
		if profile.Owner == inv.signer {
			return ErrCannotTipSelf
		}

		tipID := identity.TipIdentity(profileID, inv.signer, profile.TipCount)
		if err := checkRecordIdentity(tx, inv.record, tipID); err != nil {
			return err
		}

		fee, err := e.fees.AllocationFee(KindTip)
		if err != nil {
			return err
		}
		total, err := checkedAdd(amount, fee)
		if err != nil {
			return err
		}
		if err := bank.Debit(tx, inv.signer, total); err != nil {
			return mapBankError(err)
		}

		updated := profile.Clone()
		if updated.EscrowBalance, err = checkedAdd(profile.EscrowBalance, amount); err != nil {
			return err
		}
		if updated.TotalTipsReceived, err = checkedAdd(profile.TotalTipsReceived, amount); err != nil {
			return err
		}
		if updated.TipCount, err = checkedAdd(profile.TipCount, 1); err != nil {
			return err
		}

		record := &TipRecord{
			Creator:   profileID,
			Tipper:    inv.signer,
			Amount:    amount,
			Message:   message,
			Timestamp: e.now(),
		}
		if err := createRecord(tx, tipID, EncodeTip(record)); err != nil {
			return err
		}
		if err := tx.UpdateRecord(profileID, EncodeProfile(updated)); err != nil {
			return err
		}

		receipt.Record = &tipID
		receipt.Amount = amount
		receipt.Fee = fee
		receipt.State = updated
		receipt.Events = append(receipt.Events, TipSentEvent(profileID, tipID, inv.signer, amount, updated.TipCount))
		return nil
	})
}

func (e *Engine) updateProfile(ctx context.Context, inv invocation, profileID identity.Identity, name, bio string) (*Receipt, error) {
	return e.run(ctx, types.InstructionUpdateProfile, inv, profileID, func(tx *state.Txn, receipt *Receipt) error {
		profile, err := loadProfile(tx, profileID)
		if err != nil {
			return err
		}
		if err := requireOwner(profile, inv.signer); err != nil {
			return err
		}
		if err := validateName(name); err != nil {
			return err
		}
		if err := validateBio(bio); err != nil {
			return err
		}

		updated := profile.Clone()
		updated.Name = name
		updated.Bio = bio
		if err := tx.UpdateRecord(profileID, EncodeProfile(updated)); err != nil {
			return err
		}

		receipt.State = updated
		receipt.Events = append(receipt.Events, ProfileUpdatedEvent(profileID, name))
		return nil
	})
}

func (e *Engine) withdraw(ctx context.Context, inv invocation, profileID identity.Identity, amount uint64) (*Receipt, error) {
	return e.run(ctx, types.InstructionWithdrawTips, inv, profileID, func(tx *state.Txn, receipt *Receipt) error {
		profile, err := loadProfile(tx, profileID)
		if err != nil {
			return err
		}
		if err := requireOwner(profile, inv.signer); err != nil {
			return err
		}
		if amount == 0 {
			return ErrInvalidWithdrawalAmount
		}
		if amount > profile.EscrowBalance {
			return newError(CodeInsufficientTipsBalance, "requested %d, escrow holds %d", amount, profile.EscrowBalance)
		}

		withdrawalID := identity.WithdrawalIdentity(profile.Owner, profile.WithdrawalCount)
		if err := checkRecordIdentity(tx, inv.record, withdrawalID); err != nil {
			return err
		}

		fee, err := e.fees.AllocationFee(KindWithdrawal)
		if err != nil {
			return err
		}
		if err := bank.Credit(tx, inv.signer, amount); err != nil {
			return mapBankError(err)
		}
		if err := bank.Debit(tx, inv.signer, fee); err != nil {
			return mapBankError(err)
		}

		now := e.now()
		updated := profile.Clone()
		if updated.EscrowBalance, err = checkedSub(profile.EscrowBalance, amount); err != nil {
			return err
		}
		if updated.WithdrawalCount, err = checkedAdd(profile.WithdrawalCount, 1); err != nil {
			return err
		}
		updated.LastWithdrawalAt = now

		record := &WithdrawalRecord{Creator: profileID, Amount: amount, Timestamp: now}
		if err := createRecord(tx, withdrawalID, EncodeWithdrawal(record)); err != nil {
			return err
		}
		if err := tx.UpdateRecord(profileID, EncodeProfile(updated)); err != nil {
			return err
		}

		receipt.Record = &withdrawalID
		receipt.Amount = amount
		receipt.Fee = fee
		receipt.State = updated
		receipt.Events = append(receipt.Events, TipsWithdrawnEvent(profileID, withdrawalID, inv.signer, amount, updated.EscrowBalance))
		return nil
	})
}

// run wraps a transition with tracing, metrics, logging and the transaction
// lifecycle.
func (e *Engine) run(ctx context.Context, kind types.InstructionKind, inv invocation, profileID identity.Identity, fn transition) (*Receipt, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "tipjar."+kind.String(), trace.WithAttributes(
		attribute.String("tipjar.profile", profileID.String()),
		attribute.String("tipjar.signer", addrString(inv.signer)),
	))
	defer span.End()

	receipt, err := e.transact(ctx, kind, inv, profileID, fn)
	outcome := outcomeOf(err)
	e.metrics.ObserveInstruction(kind.String(), outcome, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		level := slog.LevelInfo
		if _, ok := CodeOf(err); !ok {
			level = slog.LevelError
		}
		e.logger.LogAttrs(ctx, level, "tipjar transition rejected",
			slog.String("kind", kind.String()),
			slog.String("profile", profileID.String()),
			slog.String("outcome", outcome),
			slog.Any("error", err),
		)
		return nil, err
	}

	switch kind {
	case types.InstructionSendTip:
		e.metrics.AddVolume("tip", receipt.Amount)
		e.metrics.AddFee(string(KindTip), receipt.Fee)
	case types.InstructionWithdrawTips:
		e.metrics.AddVolume("withdrawal", receipt.Amount)
		e.metrics.AddFee(string(KindWithdrawal), receipt.Fee)
	case types.InstructionCreateProfile:
		e.metrics.AddFee(string(KindProfile), receipt.Fee)
	}
	e.logger.LogAttrs(ctx, slog.LevelInfo, "tipjar transition committed",
		slog.String("kind", kind.String()),
		slog.String("profile", profileID.String()),
		slog.Uint64("nonce", receipt.Nonce),
	)
	return receipt, nil
}

func (e *Engine) transact(ctx context.Context, kind types.InstructionKind, inv invocation, profileID identity.Identity, fn transition) (*Receipt, error) {
	tx, err := e.state.Begin(ctx, state.RecordLock(profileID), state.AccountLock(inv.signer))
	if err != nil {
		return nil, fmt.Errorf("tipjar: acquire locks: %w", err)
	}
	defer tx.Discard()

	acc, err := tx.Account(inv.signer)
	if err != nil {
		return nil, err
	}
	if inv.nonce != nil {
		if err := checkNonce(acc, *inv.nonce); err != nil {
			return nil, err
		}
	}

	receipt := &Receipt{
		Kind:    kind,
		Signer:  addrString(inv.signer),
		Profile: profileID,
		Nonce:   acc.Nonce,
	}
	if err := fn(tx, receipt); err != nil {
		return nil, err
	}

	if inv.nonce != nil {
		acc, err = tx.Account(inv.signer)
		if err != nil {
			return nil, err
		}
		if acc.Nonce, err = checkedAdd(acc.Nonce, 1); err != nil {
			return nil, err
		}
		if err := tx.PutAccount(inv.signer, acc); err != nil {
			return nil, err
		}
		receipt.Nonce = acc.Nonce
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	for _, evt := range receipt.Events {
		e.emit(evt)
	}
	return receipt, nil
}

func loadProfile(tx *state.Txn, id identity.Identity) (*Profile, error) {
	data, ok, err := tx.Record(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, newError(CodeProfileNotFound, "%s", id)
	}
	if kind, _ := KindOf(data); kind != KindProfile {
		return nil, newError(CodeProfileNotFound, "%s holds no profile", id)
	}
	profile, err := DecodeProfile(data)
	if err != nil {
		return nil, fmt.Errorf("tipjar: decode profile %s: %w", id, err)
	}
	if err := checkProfileIdentity(&id, identity.ProfileIdentity(profile.Owner)); err != nil {
		return nil, err
	}
	return profile, nil
}

func mapBankError(err error) error {
	switch {
	case errors.Is(err, bank.ErrInsufficientFunds):
		return newError(CodeInsufficientFunds, "%v", err)
	case errors.Is(err, bank.ErrBalanceOverflow):
		return newError(CodeOverflow, "%v", err)
	}
	return err
}

func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	if code, ok := CodeOf(err); ok {
		return code.String()
	}
	return "internal"
}

func kindLabel(ins *types.Instruction) string {
	if ins == nil || !ins.Kind.Valid() {
		return "unknown"
	}
	return ins.Kind.String()
}
