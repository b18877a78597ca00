package vault

import (
	"encoding/json"
	"fmt"
	"time"
)

// Store keys. The record is one versioned JSON document; account ordering
// lives under its own key.
const (
	recordKey = "vault"
	orderKey  = "vault/order"

	recordVersion = 1

	kdfPBKDF2SHA256 = "pbkdf2-sha256"
	cipherAES256GCM = "aes-256-gcm"
)

// SecretKind identifies what an account's secret record holds.
type SecretKind string

const (
	KindMnemonic      SecretKind = "mnemonic"
	KindPrivateKey    SecretKind = "privateKey"
	KindPublicKeyOnly SecretKind = "publicKeyOnly"
)

// Metadata is the public, never-encrypted part of an account.
type Metadata struct {
	UUID           string    `json:"uuid"`
	PublicKey      string    `json:"publicKey"`
	Name           string    `json:"displayName"`
	DerivationPath string    `json:"derivationPath,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	WatchOnly      bool      `json:"isWatchOnly"`
	AvatarAssetID  string    `json:"avatarAssetId,omitempty"`
}

// secretRecord holds the encrypted secret. For watch-only accounts the
// ciphertext is the plain public key and Nonce is absent.
type secretRecord struct {
	Ciphertext []byte     `json:"ciphertext"`
	Nonce      []byte     `json:"nonce,omitempty"`
	Kind       SecretKind `json:"secretKind"`
}

type accountRecord struct {
	Secret secretRecord `json:"secretRecord"`
	Meta   Metadata     `json:"metadata"`
}

// record is the on-disk vault document.
type record struct {
	Version         int                      `json:"version"`
	Salt            []byte                   `json:"salt"`
	Iterations      int                      `json:"iterations"`
	KDF             string                   `json:"kdf"`
	Cipher          string                   `json:"cipher"`
	Accounts        map[string]accountRecord `json:"accounts"`
	ActiveAccount   string                   `json:"activeAccountUuid,omitempty"`
	PrimaryMnemonic string                   `json:"primaryMnemonicUuid,omitempty"`
}

// clone returns a deep copy. Mutations happen on the copy and are committed
// with a single store write, so a failed operation never leaves a partially
// mutated record behind.
func (r *record) clone() *record {
	cp := &record{
		Version:         r.Version,
		Salt:            append([]byte(nil), r.Salt...),
		Iterations:      r.Iterations,
		KDF:             r.KDF,
		Cipher:          r.Cipher,
		Accounts:        make(map[string]accountRecord, len(r.Accounts)),
		ActiveAccount:   r.ActiveAccount,
		PrimaryMnemonic: r.PrimaryMnemonic,
	}
	for id, acct := range r.Accounts {
		acct.Secret.Ciphertext = append([]byte(nil), acct.Secret.Ciphertext...)
		acct.Secret.Nonce = append([]byte(nil), acct.Secret.Nonce...)
		cp.Accounts[id] = acct
	}
	return cp
}

func decodeRecord(data []byte) (*record, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal vault record: %w", err)
	}
	if rec.Version != recordVersion {
		return nil, fmt.Errorf("unsupported vault record version: %d", rec.Version)
	}
	if rec.Accounts == nil {
		rec.Accounts = make(map[string]accountRecord)
	}
	return &rec, nil
}

func encodeRecord(rec *record) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal vault record: %w", err)
	}
	return data, nil
}
