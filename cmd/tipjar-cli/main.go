package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"tipjar/cmd/internal/passphrase"
	"tipjar/crypto"
	"tipjar/rpc"
)

const (
	passphraseEnv = "TIPJAR_KEYSTORE_PASSPHRASE"
	// tokenEnv carries the operator bearer token for the audit command.
	tokenEnv = "TIPJAR_RPC_TOKEN"
)

func defaultRPCEndpoint() string {
	if v := strings.TrimSpace(os.Getenv("RPC_URL")); v != "" {
		return v
	}
	return "http://127.0.0.1:8545"
}

func main() {
	endpoint, args, err := applyGlobalFlags(defaultRPCEndpoint(), os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if len(args) < 1 {
		printUsage()
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	client := rpc.NewClient(endpoint, nil)
	client.SetBearerToken(os.Getenv(tokenEnv))
	c := &cli{
		client:        client,
		out:           os.Stdout,
		passphrase:    passphrase.NewSource(passphraseEnv).Get,
		newPassphrase: passphrase.NewSource(passphraseEnv, passphrase.WithConfirm()).Get,
		scrypt:        crypto.StandardScrypt,
	}
	if err := c.run(ctx, args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, errUsage) {
			printUsage()
		}
		os.Exit(1)
	}
}

func applyGlobalFlags(endpoint string, args []string) (string, []string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--rpc" {
			if i+1 >= len(args) {
				return "", nil, fmt.Errorf("missing value for --rpc")
			}
			endpoint = args[i+1]
			i++
			continue
		}
		if strings.HasPrefix(arg, "--rpc=") {
			endpoint = strings.TrimPrefix(arg, "--rpc=")
			continue
		}
		out = append(out, arg)
	}
	return endpoint, out, nil
}

func printUsage() {
	fmt.Println("Usage: tipjar-cli [--rpc <url>] <command> [arguments]")
	fmt.Println()
	fmt.Println("Signing commands read a v3 keystore; the passphrase comes from " + passphraseEnv + " or a prompt.")
	fmt.Println("Commands:")
	fmt.Println("  generate-key [keystore]                        - Creates a new key (default wallet.json)")
	fmt.Println("  address <keystore>                             - Prints the wallet address of a keystore")
	fmt.Println("  register <keystore> <name> [bio]               - Creates your creator profile")
	fmt.Println("  tip <keystore> <profile> <amount> [message]    - Tips a creator profile")
	fmt.Println("  update-profile <keystore> <name> [bio]         - Replaces your profile name and bio")
	fmt.Println("  withdraw <keystore> <amount>                   - Withdraws escrowed tips to your wallet")
	fmt.Println("  profile <profile-id|owner-address>             - Shows a creator profile")
	fmt.Println("  tips [profile-id]                              - Lists tips, optionally for one profile")
	fmt.Println("  withdrawals [profile-id]                       - Lists withdrawals, optionally for one profile")
	fmt.Println("  wallet <address>                               - Shows balance and nonce of a wallet")
	fmt.Println("  fees                                           - Shows the allocation deposit per record")
	fmt.Println("  audit [signer]                                 - Lists audited instructions (needs " + tokenEnv + ")")
}
