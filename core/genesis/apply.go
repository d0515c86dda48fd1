package genesis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"tipjar/core/identity"
	"tipjar/core/state"
	"tipjar/core/types"
	"tipjar/native/tipjar"
)

// Initialized reports whether the store already holds any wallet.
func Initialized(store *state.Store) (bool, error) {
	found := false
	err := store.Accounts(func([20]byte, types.Account) bool {
		found = true
		return false
	})
	return found, err
}

// Apply funds the genesis wallets and registers the genesis profiles. It is a
// no-op on a store that already holds wallets and reports whether it wrote
// anything. Profiles are registered with createdAt set to the genesis time.
// A store that holds wallets but lacks a genesis profile is reported as an
// incomplete genesis.
func Apply(ctx context.Context, spec *Spec, store *state.Store, fees tipjar.FeeSchedule, logger *slog.Logger) (bool, error) {
	if spec == nil {
		return false, fmt.Errorf("genesis spec must not be nil")
	}
	if store == nil {
		return false, fmt.Errorf("store must not be nil")
	}
	if spec.genesisTimestamp.IsZero() {
		if err := spec.Validate(); err != nil {
			return false, err
		}
	}
	initialized, err := Initialized(store)
	if err != nil {
		return false, fmt.Errorf("inspect wallets: %w", err)
	}
	if initialized {
		return false, checkProfiles(spec, store)
	}
	if err := checkProfileFees(spec, fees); err != nil {
		return false, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	locks := make([]string, 0, len(spec.allocations))
	for _, alloc := range spec.allocations {
		locks = append(locks, state.AccountLock(alloc.Address))
	}
	tx, err := store.Begin(ctx, locks...)
	if err != nil {
		return false, err
	}
	for _, alloc := range spec.allocations {
		if err := tx.PutAccount(alloc.Address, types.Account{Balance: alloc.Amount}); err != nil {
			tx.Discard()
			return false, fmt.Errorf("fund %x: %w", alloc.Address, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit allocations: %w", err)
	}
	logger.Info("genesis allocations applied", slog.Int("wallets", len(spec.allocations)))

	engine := tipjar.NewEngine()
	engine.SetState(store)
	engine.SetFeeSchedule(fees)
	engine.SetLogger(logger)
	createdAt := spec.genesisTimestamp.Unix()
	engine.SetNowFunc(func() int64 { return createdAt })
	for i, profile := range spec.Profiles {
		receipt, err := engine.Register(ctx, spec.owners[i], profile.Name, profile.Bio)
		if err != nil {
			return true, fmt.Errorf("register genesis profile %q: %w", profile.Name, err)
		}
		logger.Info("genesis profile registered",
			slog.String("profile", receipt.Profile.String()),
			slog.String("name", profile.Name))
	}
	return true, nil
}

// checkProfileFees rejects genesis profiles whose owner allocation cannot pay
// the profile allocation fee, before anything is written.
func checkProfileFees(spec *Spec, fees tipjar.FeeSchedule) error {
	if len(spec.Profiles) == 0 {
		return nil
	}
	fee, err := fees.AllocationFee(tipjar.KindProfile)
	if err != nil {
		return err
	}
	funded := make(map[[20]byte]uint64, len(spec.allocations))
	for _, alloc := range spec.allocations {
		funded[alloc.Address] = alloc.Amount
	}
	for i, profile := range spec.Profiles {
		if have := funded[spec.owners[i]]; have < fee {
			return fmt.Errorf("genesis profile %q: allocation %d below profile fee %d: %w", profile.Name, have, fee, tipjar.ErrInsufficientFunds)
		}
	}
	return nil
}

func checkProfiles(spec *Spec, store *state.Store) error {
	for i, profile := range spec.Profiles {
		_, err := store.Fetch(identity.ProfileIdentity(spec.owners[i]))
		if errors.Is(err, state.ErrRecordNotFound) {
			return fmt.Errorf("genesis incomplete: profile %q is missing", profile.Name)
		}
		if err != nil {
			return fmt.Errorf("inspect genesis profile %q: %w", profile.Name, err)
		}
	}
	return nil
}
