// Package errs defines the error taxonomy shared by all wallet-core
// components. Callers are expected to match with errors.Is.
package errs

import "errors"

var (
	// ErrInvalidInput marks missing or malformed parameters. Never retried.
	ErrInvalidInput = errors.New("invalid input")

	// ErrVaultNotInitialized is returned when an operation requires a vault
	// that has not been created yet.
	ErrVaultNotInitialized = errors.New("vault is not initialized")

	// ErrVaultAlreadyInitialized is returned by first-account initialization
	// when a vault record already exists.
	ErrVaultAlreadyInitialized = errors.New("vault is already initialized")

	// ErrVaultLocked is returned when an operation needs the session key and
	// the vault is locked.
	ErrVaultLocked = errors.New("vault is locked")

	// ErrIncorrectPassword covers every decryption failure, including
	// corrupted ciphertext: a caller holding only a password cannot tell
	// those apart, so neither do we.
	ErrIncorrectPassword = errors.New("incorrect password")

	// ErrAccountNotFound is returned when a UUID does not refer to any
	// account in the vault.
	ErrAccountNotFound = errors.New("account not found")

	// ErrAccountExists is returned when adding an account whose derived
	// public key is already present in the vault.
	ErrAccountExists = errors.New("account already exists")

	// ErrNetworkUnavailable marks transient RPC failures.
	ErrNetworkUnavailable = errors.New("network unavailable")

	// ErrSimulationFailed marks a rejected dry-run execution. It is never
	// silently treated as success.
	ErrSimulationFailed = errors.New("simulation failed")

	// ErrSigningFailed is fatal for the call that produced it.
	ErrSigningFailed = errors.New("signing failed")
)
