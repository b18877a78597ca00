// vaultctl is a small operator CLI over the local vault: initialize it from
// a fresh mnemonic, list accounts, derive the next account, print or render
// the active address, show its balances, and check the current lock state.
// Usage: vaultctl <init|list|derive|address|balances|unlock-check> [args]
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/skip2/go-qrcode"
	"golang.org/x/term"

	"github.com/solvault/wallet-core/internal/chain"
	"github.com/solvault/wallet-core/internal/config"
	"github.com/solvault/wallet-core/internal/keys"
	"github.com/solvault/wallet-core/internal/logging"
	"github.com/solvault/wallet-core/internal/portfolio"
	"github.com/solvault/wallet-core/internal/storage"
	"github.com/solvault/wallet-core/internal/vault"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fatal(err)
	}
	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		fatal(err)
	}
	defer log.Sync()

	store, err := storage.OpenBadger(cfg.DataDir)
	if err != nil {
		fatal(err)
	}
	defer store.Close()

	v := vault.New(store, log)

	switch os.Args[1] {
	case "init":
		err = cmdInit(v)
	case "list":
		err = cmdList(v)
	case "derive":
		err = cmdDerive(v)
	case "address":
		err = cmdAddress(v, os.Args[2:])
	case "balances":
		err = cmdBalances(v, cfg)
	case "unlock-check":
		err = cmdUnlockCheck(v)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fatal(err)
	}
}

func cmdInit(v *vault.Vault) error {
	initialized, err := v.IsInitialized()
	if err != nil {
		return err
	}
	if initialized {
		return fmt.Errorf("vault is already initialized")
	}

	password, err := promptPassword("Choose a password: ")
	if err != nil {
		return err
	}
	defer clear(password)
	confirm, err := promptPassword("Confirm password: ")
	if err != nil {
		return err
	}
	defer clear(confirm)
	if string(password) != string(confirm) {
		return fmt.Errorf("passwords do not match")
	}

	mnemonic, err := keys.GenerateMnemonic()
	if err != nil {
		return err
	}
	secret := []byte(mnemonic)
	defer clear(secret)

	meta, err := v.InitializeFirstAccount(secret, vault.KindMnemonic, password, vault.AddOptions{MakeActive: true})
	if err != nil {
		return err
	}

	fmt.Println("Vault initialized. Write down the recovery phrase, it is shown only once:")
	fmt.Println()
	fmt.Printf("  %s\n\n", mnemonic)
	fmt.Printf("Account %s\n  %s\n", meta.Name, meta.PublicKey)
	return nil
}

func cmdList(v *vault.Vault) error {
	accounts, err := v.Accounts()
	if err != nil {
		return err
	}
	active, hasActive, err := v.ActiveAccount()
	if err != nil {
		return err
	}

	for _, meta := range accounts {
		marker := " "
		if hasActive && meta.UUID == active.UUID {
			marker = "*"
		}
		kind := ""
		if meta.WatchOnly {
			kind = " (watch-only)"
		}
		fmt.Printf("%s %-20s %s%s\n", marker, meta.Name, meta.PublicKey, kind)
	}
	return nil
}

func cmdDerive(v *vault.Vault) error {
	if !v.IsUnlocked() {
		password, err := promptPassword("Password: ")
		if err != nil {
			return err
		}
		defer clear(password)
		if err := v.Unlock(password); err != nil {
			return err
		}
	}

	meta, err := v.AddNextDerivedAccount(vault.AddOptions{})
	if err != nil {
		return err
	}
	fmt.Printf("Account %s\n  %s\n  %s\n", meta.Name, meta.PublicKey, meta.DerivationPath)
	return nil
}

func cmdAddress(v *vault.Vault, args []string) error {
	meta, ok, err := v.ActiveAccount()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no active account")
	}
	fmt.Println(meta.PublicKey)

	if len(args) == 2 && args[0] == "--qr" {
		if err := qrcode.WriteFile(meta.PublicKey, qrcode.Medium, 256, args[1]); err != nil {
			return fmt.Errorf("failed to write QR code: %w", err)
		}
		fmt.Fprintf(os.Stderr, "QR code written to %s\n", args[1])
	}
	return nil
}

func cmdBalances(v *vault.Vault, cfg *config.Config) error {
	meta, ok, err := v.ActiveAccount()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no active account")
	}
	owner, err := solana.PublicKeyFromBase58(meta.PublicKey)
	if err != nil {
		return err
	}

	client := chain.NewConn(cfg.SolanaRPCURL).Client()
	svc := portfolio.New(client, chain.NewRegistry(client), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	holdings, err := svc.Holdings(ctx, owner)
	if err != nil {
		return err
	}

	for _, h := range holdings {
		symbol := h.Symbol
		if symbol == "" {
			symbol = h.AssetID
		}
		fmt.Printf("%-12s %s\n", symbol, h.Amount)
	}
	return nil
}

func cmdUnlockCheck(v *vault.Vault) error {
	password, err := promptPassword("Password: ")
	if err != nil {
		return err
	}
	defer clear(password)

	if err := v.Unlock(password); err != nil {
		return err
	}
	v.Lock()
	fmt.Println("ok")
	return nil
}

func promptPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("failed to read password: %w", err)
	}
	return password, nil
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: vaultctl <init|list|derive|address [--qr file.png]|balances|unlock-check>")
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
