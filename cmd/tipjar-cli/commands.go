package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"tipjar/core/identity"
	"tipjar/core/types"
	"tipjar/crypto"
	"tipjar/native/tipjar"
	"tipjar/rpc"
	"tipjar/storage/auditlog"
)

const defaultKeystore = "wallet.json"

var errUsage = errors.New("invalid arguments")

type cli struct {
	client *rpc.Client
	out    io.Writer
	// passphrase unlocks existing keystores; newPassphrase protects new ones.
	passphrase    func() (string, error)
	newPassphrase func() (string, error)
	scrypt        crypto.ScryptParams
}

func (c *cli) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "generate-key":
		path := defaultKeystore
		if len(rest) > 0 {
			path = rest[0]
		}
		return c.generateKey(path)
	case "address":
		if len(rest) != 1 {
			return errUsage
		}
		addr, err := crypto.KeystoreAddress(rest[0])
		if err != nil {
			return fmt.Errorf("read keystore: %w", err)
		}
		fmt.Fprintln(c.out, crypto.AddressFromArray(addr).String())
		return nil
	case "register":
		if len(rest) < 2 || len(rest) > 3 {
			return errUsage
		}
		return c.register(ctx, rest[0], rest[1], optional(rest, 2))
	case "tip":
		if len(rest) < 3 || len(rest) > 4 {
			return errUsage
		}
		amount, err := parseAmount(rest[2])
		if err != nil {
			return err
		}
		return c.tip(ctx, rest[0], rest[1], amount, optional(rest, 3))
	case "update-profile":
		if len(rest) < 2 || len(rest) > 3 {
			return errUsage
		}
		return c.updateProfile(ctx, rest[0], rest[1], optional(rest, 2))
	case "withdraw":
		if len(rest) != 2 {
			return errUsage
		}
		amount, err := parseAmount(rest[1])
		if err != nil {
			return err
		}
		return c.withdraw(ctx, rest[0], amount)
	case "profile":
		if len(rest) != 1 {
			return errUsage
		}
		return c.showProfile(ctx, rest[0])
	case "tips":
		var result []tipjar.TipEntry
		if err := c.client.Call(ctx, "tipjar_listTips", rpc.ListQuery{Creator: optional(rest, 0)}, &result); err != nil {
			return err
		}
		return c.print(result)
	case "withdrawals":
		var result []tipjar.WithdrawalEntry
		if err := c.client.Call(ctx, "tipjar_listWithdrawals", rpc.ListQuery{Creator: optional(rest, 0)}, &result); err != nil {
			return err
		}
		return c.print(result)
	case "wallet":
		if len(rest) != 1 {
			return errUsage
		}
		var result rpc.WalletResult
		if err := c.client.Call(ctx, "tipjar_getWallet", rpc.WalletQuery{Address: rest[0]}, &result); err != nil {
			return err
		}
		return c.print(result)
	case "audit":
		if len(rest) > 1 {
			return errUsage
		}
		var result []auditlog.Entry
		if err := c.client.Call(ctx, "tipjar_auditLog", rpc.AuditQuery{Signer: optional(rest, 0)}, &result); err != nil {
			return err
		}
		return c.print(result)
	case "fees":
		var result rpc.FeesResult
		if err := c.client.Call(ctx, "tipjar_getFees", nil, &result); err != nil {
			return err
		}
		return c.print(result)
	default:
		return fmt.Errorf("unknown command %q: %w", cmd, errUsage)
	}
}

func optional(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}

func parseAmount(raw string) (uint64, error) {
	amount, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", raw)
	}
	return amount, nil
}

func (c *cli) print(v interface{}) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) generateKey(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists; refusing to overwrite", path)
	}
	pass, err := c.newPassphrase()
	if err != nil {
		return err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return err
	}
	if err := crypto.SaveToKeystoreWithParams(path, key, pass, c.scrypt); err != nil {
		return fmt.Errorf("save keystore: %w", err)
	}
	fmt.Fprintf(c.out, "Generated new key and saved to %s\n", path)
	fmt.Fprintf(c.out, "Your address is: %s\n", key.PubKey().Address().String())
	return nil
}

func (c *cli) loadKey(path string) (*crypto.PrivateKey, [20]byte, error) {
	pass, err := c.passphrase()
	if err != nil {
		return nil, [20]byte{}, err
	}
	key, err := crypto.LoadFromKeystore(path, pass)
	if err != nil {
		return nil, [20]byte{}, fmt.Errorf("unlock keystore %s: %w", path, err)
	}
	return key, key.PubKey().Address().Array(), nil
}

// submit fills in the signer's current nonce, signs and sends ins.
func (c *cli) submit(ctx context.Context, key *crypto.PrivateKey, addr [20]byte, ins *types.Instruction) error {
	var wallet rpc.WalletResult
	if err := c.client.Call(ctx, "tipjar_getWallet", rpc.WalletQuery{Address: crypto.AddressFromArray(addr).String()}, &wallet); err != nil {
		return fmt.Errorf("fetch nonce: %w", err)
	}
	ins.Nonce = wallet.Nonce
	if err := ins.Sign(key.PrivateKey); err != nil {
		return fmt.Errorf("sign instruction: %w", err)
	}
	var result rpc.SendInstructionResult
	if err := c.client.Call(ctx, "tipjar_sendInstruction", ins, &result); err != nil {
		return err
	}
	return c.print(result.Receipt)
}

func (c *cli) register(ctx context.Context, keystore, name, bio string) error {
	key, addr, err := c.loadKey(keystore)
	if err != nil {
		return err
	}
	profileID := identity.ProfileIdentity(addr)
	return c.submit(ctx, key, addr, &types.Instruction{
		Kind:    types.InstructionCreateProfile,
		Profile: &profileID,
		Name:    name,
		Bio:     bio,
	})
}

func (c *cli) fetchProfile(ctx context.Context, query rpc.ProfileQuery) (*rpc.ProfileResult, error) {
	var result rpc.ProfileResult
	if err := c.client.Call(ctx, "tipjar_getProfile", query, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *cli) tip(ctx context.Context, keystore, profile string, amount uint64, message string) error {
	profileID, err := identity.Parse(strings.TrimSpace(profile))
	if err != nil {
		return fmt.Errorf("invalid profile id: %w", err)
	}
	key, addr, err := c.loadKey(keystore)
	if err != nil {
		return err
	}
	current, err := c.fetchProfile(ctx, rpc.ProfileQuery{ID: profileID.String()})
	if err != nil {
		return err
	}
	record := identity.TipIdentity(profileID, addr, current.Profile.TipCount)
	return c.submit(ctx, key, addr, &types.Instruction{
		Kind:    types.InstructionSendTip,
		Profile: &profileID,
		Record:  &record,
		Amount:  amount,
		Message: message,
	})
}

func (c *cli) updateProfile(ctx context.Context, keystore, name, bio string) error {
	key, addr, err := c.loadKey(keystore)
	if err != nil {
		return err
	}
	profileID := identity.ProfileIdentity(addr)
	return c.submit(ctx, key, addr, &types.Instruction{
		Kind:    types.InstructionUpdateProfile,
		Profile: &profileID,
		Name:    name,
		Bio:     bio,
	})
}

func (c *cli) withdraw(ctx context.Context, keystore string, amount uint64) error {
	key, addr, err := c.loadKey(keystore)
	if err != nil {
		return err
	}
	current, err := c.fetchProfile(ctx, rpc.ProfileQuery{Owner: crypto.AddressFromArray(addr).String()})
	if err != nil {
		return err
	}
	record := identity.WithdrawalIdentity(addr, current.Profile.WithdrawalCount)
	return c.submit(ctx, key, addr, &types.Instruction{
		Kind:    types.InstructionWithdrawTips,
		Profile: &current.ID,
		Record:  &record,
		Amount:  amount,
	})
}

func (c *cli) showProfile(ctx context.Context, ref string) error {
	query := rpc.ProfileQuery{ID: ref}
	if _, err := crypto.ParseAddress(ref); err == nil {
		query = rpc.ProfileQuery{Owner: ref}
	}
	result, err := c.fetchProfile(ctx, query)
	if err != nil {
		return err
	}
	return c.print(result)
}
