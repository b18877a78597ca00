// Package vault implements the encrypted-at-rest account store. The vault is
// the only component that ever holds ciphertext or the password-derived
// session key; decrypted secrets are returned as byte slices the caller must
// zero after use.
package vault

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/solvault/wallet-core/internal/errs"
	"github.com/solvault/wallet-core/internal/keys"
	"github.com/solvault/wallet-core/internal/logging"
	"github.com/solvault/wallet-core/internal/storage"
)

// Vault is the lock/unlock state machine over one encrypted account record.
//
// The mutex guards the in-memory snapshot and session key. Cross-call
// ordering of mutating operations remains the caller's responsibility: the
// record is read-modify-written as a whole, so concurrent mutators can lose
// updates at the store level.
type Vault struct {
	store storage.Store
	log   *zap.Logger

	mu         sync.Mutex
	rec        *record  // loaded snapshot, nil until first access
	order      []string // account UUIDs in creation order
	sessionKey []byte   // nil while locked
}

// New creates a vault over the given store. log may be nil.
func New(store storage.Store, log *zap.Logger) *Vault {
	return &Vault{store: store, log: logging.OrNop(log)}
}

// AddOptions controls account creation.
type AddOptions struct {
	Name           string
	MakeActive     bool
	DerivationPath string // mnemonic accounts only; defaults to m/44'/501'/0'/0'
	AvatarAssetID  string
}

// InitializeFirstAccount creates the vault with its first account. Fails if
// the vault already exists or kind is publicKeyOnly. The derived session key
// is cached, leaving the vault unlocked.
// password and secret should be zeroed by the caller after use.
func (v *Vault) InitializeFirstAccount(secret []byte, kind SecretKind, password []byte, opts AddOptions) (Metadata, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if kind == KindPublicKeyOnly {
		return Metadata{}, fmt.Errorf("%w: first account cannot be watch-only", errs.ErrInvalidInput)
	}
	if len(password) == 0 {
		return Metadata{}, fmt.Errorf("%w: password is required", errs.ErrInvalidInput)
	}

	existing, err := v.store.Get(recordKey)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read vault record: %w", err)
	}
	if existing != nil {
		return Metadata{}, errs.ErrVaultAlreadyInitialized
	}

	salt, err := newSalt()
	if err != nil {
		return Metadata{}, err
	}
	key := deriveKey(password, salt, kdfIterations)

	rec := &record{
		Version:    recordVersion,
		Salt:       salt,
		Iterations: kdfIterations,
		KDF:        kdfPBKDF2SHA256,
		Cipher:     cipherAES256GCM,
		Accounts:   make(map[string]accountRecord),
	}

	meta, err := v.appendAccount(rec, key, secret, kind, opts)
	if err != nil {
		clear(key)
		return Metadata{}, err
	}
	rec.ActiveAccount = meta.UUID

	if err := v.persist(rec, append(v.orderCopy(), meta.UUID)); err != nil {
		clear(key)
		return Metadata{}, err
	}

	v.setSessionKey(key)
	v.log.Info("vault initialized", zap.String("account", meta.UUID))
	return meta, nil
}

// AddAccount adds an account to an initialized vault. Encrypted kinds
// require an unlocked vault; watch-only accounts work while locked.
func (v *Vault) AddAccount(secret []byte, kind SecretKind, opts AddOptions) (Metadata, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	rec, err := v.load()
	if err != nil {
		return Metadata{}, err
	}
	if kind != KindPublicKeyOnly && v.sessionKey == nil {
		return Metadata{}, errs.ErrVaultLocked
	}

	next := rec.clone()
	meta, err := v.appendAccount(next, v.sessionKey, secret, kind, opts)
	if err != nil {
		return Metadata{}, err
	}
	if opts.MakeActive || next.ActiveAccount == "" {
		next.ActiveAccount = meta.UUID
	}

	if err := v.persist(next, append(v.orderCopy(), meta.UUID)); err != nil {
		return Metadata{}, err
	}
	v.log.Info("account added", zap.String("account", meta.UUID), zap.String("kind", string(kind)))
	return meta, nil
}

// AddNextDerivedAccount derives the next account from the primary mnemonic:
// it scans existing derivation-path indices and uses max+1.
func (v *Vault) AddNextDerivedAccount(opts AddOptions) (Metadata, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	rec, err := v.load()
	if err != nil {
		return Metadata{}, err
	}
	if v.sessionKey == nil {
		return Metadata{}, errs.ErrVaultLocked
	}
	if rec.PrimaryMnemonic == "" {
		return Metadata{}, fmt.Errorf("%w: vault has no mnemonic account to derive from", errs.ErrInvalidInput)
	}

	primary, ok := rec.Accounts[rec.PrimaryMnemonic]
	if !ok {
		return Metadata{}, errs.ErrAccountNotFound
	}
	mnemonic, err := v.open(primary.Secret)
	if err != nil {
		return Metadata{}, err
	}
	defer clear(mnemonic)

	nextIndex := uint32(0)
	for _, acct := range rec.Accounts {
		if idx, ok := keys.ParseAccountIndex(acct.Meta.DerivationPath); ok && idx+1 > nextIndex {
			nextIndex = idx + 1
		}
	}
	opts.DerivationPath = keys.DerivationPath(nextIndex)

	next := rec.clone()
	meta, err := v.appendAccount(next, v.sessionKey, mnemonic, KindMnemonic, opts)
	if err != nil {
		return Metadata{}, err
	}
	if opts.MakeActive || next.ActiveAccount == "" {
		next.ActiveAccount = meta.UUID
	}

	if err := v.persist(next, append(v.orderCopy(), meta.UUID)); err != nil {
		return Metadata{}, err
	}
	v.log.Info("derived account added",
		zap.String("account", meta.UUID), zap.String("path", meta.DerivationPath))
	return meta, nil
}

// GetDecryptedSecret returns an account's secret bytes. While locked, a
// password is required; a key derived from a fresh, verified password is
// promoted to the session cache (implicit unlock). Watch-only accounts
// return their public key without any password.
// Caller must zero the returned slice before its operation returns.
func (v *Vault) GetDecryptedSecret(id string, password []byte) ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	rec, err := v.load()
	if err != nil {
		return nil, err
	}
	acct, ok := rec.Accounts[id]
	if !ok {
		return nil, errs.ErrAccountNotFound
	}

	if acct.Secret.Kind == KindPublicKeyOnly {
		return append([]byte(nil), acct.Secret.Ciphertext...), nil
	}

	if v.sessionKey != nil {
		plaintext, err := v.open(acct.Secret)
		if err != nil {
			// A session key that no longer decrypts is unusable.
			v.lockLocked()
			return nil, err
		}
		return plaintext, nil
	}

	if len(password) == 0 {
		return nil, errs.ErrVaultLocked
	}
	key := deriveKey(password, rec.Salt, rec.Iterations)
	plaintext, err := decryptSecret(key, acct.Secret.Ciphertext, acct.Secret.Nonce)
	if err != nil {
		clear(key)
		return nil, err
	}
	// Fresh password verified by successful decryption: implicit unlock.
	v.setSessionKey(key)
	return plaintext, nil
}

// Unlock derives the session key from the stored salt and verifies it by
// decrypting one encrypted account. A vault with zero encrypted accounts
// trivially verifies. On failure the vault stays locked.
func (v *Vault) Unlock(password []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	rec, err := v.load()
	if err != nil {
		return err
	}
	key := deriveKey(password, rec.Salt, rec.Iterations)

	if sample, ok := sampleEncrypted(rec); ok {
		plaintext, err := decryptSecret(key, sample.Ciphertext, sample.Nonce)
		if err != nil {
			clear(key)
			v.lockLocked()
			return err
		}
		clear(plaintext)
	}

	v.setSessionKey(key)
	return nil
}

// Lock zero-fills and drops the session key. Idempotent.
func (v *Vault) Lock() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lockLocked()
}

// IsUnlocked reports whether the session key is cached.
func (v *Vault) IsUnlocked() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.sessionKey != nil
}

// IsInitialized reports whether a vault record exists.
func (v *Vault) IsInitialized() (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.rec != nil {
		return true, nil
	}
	data, err := v.store.Get(recordKey)
	if err != nil {
		return false, fmt.Errorf("failed to read vault record: %w", err)
	}
	return data != nil, nil
}

// ChangePassword re-encrypts every encrypted account under a new salt and
// key. Nothing is persisted until every account has been re-encrypted, so a
// mid-loop failure leaves the on-disk vault unchanged (and the vault locked).
func (v *Vault) ChangePassword(oldPassword, newPassword []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	rec, err := v.load()
	if err != nil {
		return err
	}
	if len(newPassword) == 0 {
		return fmt.Errorf("%w: new password is required", errs.ErrInvalidInput)
	}

	oldKey := deriveKey(oldPassword, rec.Salt, rec.Iterations)
	defer clear(oldKey)
	if sample, ok := sampleEncrypted(rec); ok {
		plaintext, err := decryptSecret(oldKey, sample.Ciphertext, sample.Nonce)
		if err != nil {
			v.lockLocked()
			return err
		}
		clear(plaintext)
	}

	salt, err := newSalt()
	if err != nil {
		return err
	}
	newKey := deriveKey(newPassword, salt, kdfIterations)

	next := rec.clone()
	next.Salt = salt
	next.Iterations = kdfIterations
	for id, acct := range next.Accounts {
		if acct.Secret.Kind == KindPublicKeyOnly {
			continue
		}
		plaintext, err := decryptSecret(oldKey, acct.Secret.Ciphertext, acct.Secret.Nonce)
		if err != nil {
			clear(newKey)
			v.lockLocked()
			return err
		}
		ciphertext, nonce, encErr := encryptSecret(newKey, plaintext)
		clear(plaintext)
		if encErr != nil {
			clear(newKey)
			v.lockLocked()
			return encErr
		}
		acct.Secret.Ciphertext = ciphertext
		acct.Secret.Nonce = nonce
		next.Accounts[id] = acct
	}

	if err := v.persist(next, v.orderCopy()); err != nil {
		clear(newKey)
		v.lockLocked()
		return err
	}
	v.setSessionKey(newKey)
	v.log.Info("vault password changed")
	return nil
}

// RemoveAccount deletes an account. Removing an encrypted account while
// locked requires a verified password. The active account is reassigned to
// an arbitrary remaining account, and the primary-mnemonic anchor is cleared
// if the removed account held it.
func (v *Vault) RemoveAccount(id string, password []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	rec, err := v.load()
	if err != nil {
		return err
	}
	acct, ok := rec.Accounts[id]
	if !ok {
		return errs.ErrAccountNotFound
	}

	if acct.Secret.Kind != KindPublicKeyOnly && v.sessionKey == nil {
		if len(password) == 0 {
			return errs.ErrVaultLocked
		}
		key := deriveKey(password, rec.Salt, rec.Iterations)
		plaintext, err := decryptSecret(key, acct.Secret.Ciphertext, acct.Secret.Nonce)
		clear(key)
		if err != nil {
			return err
		}
		clear(plaintext)
	}

	next := rec.clone()
	delete(next.Accounts, id)
	if next.PrimaryMnemonic == id {
		next.PrimaryMnemonic = ""
	}
	if next.ActiveAccount == id {
		next.ActiveAccount = ""
		for remaining := range next.Accounts {
			next.ActiveAccount = remaining
			break
		}
	}

	order := make([]string, 0, len(v.order))
	for _, entry := range v.order {
		if entry != id {
			order = append(order, entry)
		}
	}
	if err := v.persist(next, order); err != nil {
		return err
	}
	v.log.Info("account removed", zap.String("account", id))
	return nil
}

// RenameAccount updates an account's display name.
func (v *Vault) RenameAccount(id, name string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if name == "" {
		return fmt.Errorf("%w: name is required", errs.ErrInvalidInput)
	}
	rec, err := v.load()
	if err != nil {
		return err
	}
	acct, ok := rec.Accounts[id]
	if !ok {
		return errs.ErrAccountNotFound
	}

	next := rec.clone()
	acct = next.Accounts[id]
	acct.Meta.Name = name
	next.Accounts[id] = acct
	return v.persist(next, v.orderCopy())
}

// SetActiveAccount marks an existing account as active.
func (v *Vault) SetActiveAccount(id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	rec, err := v.load()
	if err != nil {
		return err
	}
	if _, ok := rec.Accounts[id]; !ok {
		return errs.ErrAccountNotFound
	}
	next := rec.clone()
	next.ActiveAccount = id
	return v.persist(next, v.orderCopy())
}

// Account returns one account's metadata.
func (v *Vault) Account(id string) (Metadata, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	rec, err := v.load()
	if err != nil {
		return Metadata{}, err
	}
	acct, ok := rec.Accounts[id]
	if !ok {
		return Metadata{}, errs.ErrAccountNotFound
	}
	return acct.Meta, nil
}

// Accounts returns all account metadata in creation order.
func (v *Vault) Accounts() ([]Metadata, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	rec, err := v.load()
	if err != nil {
		return nil, err
	}
	out := make([]Metadata, 0, len(rec.Accounts))
	seen := make(map[string]bool, len(rec.Accounts))
	for _, id := range v.order {
		if acct, ok := rec.Accounts[id]; ok {
			out = append(out, acct.Meta)
			seen[id] = true
		}
	}
	for id, acct := range rec.Accounts {
		if !seen[id] {
			out = append(out, acct.Meta)
		}
	}
	return out, nil
}

// ActiveAccount returns the active account's metadata, if one is set.
func (v *Vault) ActiveAccount() (Metadata, bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	rec, err := v.load()
	if err != nil {
		return Metadata{}, false, err
	}
	if rec.ActiveAccount == "" {
		return Metadata{}, false, nil
	}
	acct, ok := rec.Accounts[rec.ActiveAccount]
	if !ok {
		return Metadata{}, false, nil
	}
	return acct.Meta, true, nil
}

// SigningKey materializes the momentary signing keypair for an account.
// Watch-only accounts cannot sign. Caller must zero the returned key.
func (v *Vault) SigningKey(id string, password []byte) (solana.PrivateKey, error) {
	v.mu.Lock()
	acctMeta, kind, err := v.accountKind(id)
	v.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if kind == KindPublicKeyOnly {
		return nil, fmt.Errorf("%w: account %s is watch-only", errs.ErrInvalidInput, id)
	}

	secret, err := v.GetDecryptedSecret(id, password)
	if err != nil {
		return nil, err
	}
	defer clear(secret)

	switch kind {
	case KindMnemonic:
		seed, err := keys.SeedFromMnemonic(string(secret))
		if err != nil {
			return nil, err
		}
		defer clear(seed)
		path := acctMeta.DerivationPath
		if path == "" {
			path = keys.DerivationPath(0)
		}
		priv, err := keys.DeriveForPath(seed, path)
		if err != nil {
			return nil, err
		}
		return solana.PrivateKey(priv), nil
	case KindPrivateKey:
		if len(secret) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("%w: stored private key has invalid length", errs.ErrInvalidInput)
		}
		return solana.PrivateKey(append([]byte(nil), secret...)), nil
	default:
		return nil, fmt.Errorf("%w: unknown secret kind %q", errs.ErrInvalidInput, kind)
	}
}

// Reset wipes the vault: session key, in-memory snapshot and stored record.
func (v *Vault) Reset() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.lockLocked()
	if err := v.store.Remove(recordKey); err != nil {
		return err
	}
	if err := v.store.Remove(orderKey); err != nil {
		return err
	}
	v.rec = nil
	v.order = nil
	v.log.Info("vault reset")
	return nil
}

// --- internals (callers hold v.mu) ---

func (v *Vault) load() (*record, error) {
	if v.rec != nil {
		return v.rec, nil
	}
	data, err := v.store.Get(recordKey)
	if err != nil {
		return nil, fmt.Errorf("failed to read vault record: %w", err)
	}
	if data == nil {
		return nil, errs.ErrVaultNotInitialized
	}
	rec, err := decodeRecord(data)
	if err != nil {
		return nil, err
	}

	var order []string
	if raw, err := v.store.Get(orderKey); err == nil && raw != nil {
		_ = json.Unmarshal(raw, &order)
	}

	v.rec = rec
	v.order = order
	return rec, nil
}

// persist commits the record with a single store write, then swaps the
// in-memory snapshot. The order list is written after the record: losing an
// order entry is cosmetic, losing an account is not.
func (v *Vault) persist(rec *record, order []string) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	if err := v.store.Set(recordKey, data); err != nil {
		return fmt.Errorf("failed to persist vault record: %w", err)
	}
	v.rec = rec

	if raw, err := json.Marshal(order); err == nil {
		if err := v.store.Set(orderKey, raw); err != nil {
			v.log.Warn("failed to persist account order", zap.Error(err))
		} else {
			v.order = order
		}
	}
	return nil
}

// appendAccount validates the secret, derives its public key, enforces
// public-key uniqueness and writes the account into rec.
func (v *Vault) appendAccount(rec *record, key, secret []byte, kind SecretKind, opts AddOptions) (Metadata, error) {
	if len(secret) == 0 {
		return Metadata{}, fmt.Errorf("%w: secret is required", errs.ErrInvalidInput)
	}

	var (
		pubKey solana.PublicKey
		path   string
		err    error
	)
	switch kind {
	case KindMnemonic:
		if !keys.ValidateMnemonic(string(secret)) {
			return Metadata{}, fmt.Errorf("%w: invalid mnemonic", errs.ErrInvalidInput)
		}
		path = opts.DerivationPath
		if path == "" {
			path = keys.DerivationPath(0)
		}
		seed, err := keys.SeedFromMnemonic(string(secret))
		if err != nil {
			return Metadata{}, err
		}
		pubKey, err = keys.PublicKeyForPath(seed, path)
		clear(seed)
		if err != nil {
			return Metadata{}, err
		}
	case KindPrivateKey:
		if len(secret) != ed25519.PrivateKeySize {
			return Metadata{}, fmt.Errorf("%w: private key must be %d bytes", errs.ErrInvalidInput, ed25519.PrivateKeySize)
		}
		pubKey = solana.PrivateKey(secret).PublicKey()
	case KindPublicKeyOnly:
		pubKey, err = solana.PublicKeyFromBase58(string(secret))
		if err != nil {
			return Metadata{}, fmt.Errorf("%w: invalid public key: %v", errs.ErrInvalidInput, err)
		}
	default:
		return Metadata{}, fmt.Errorf("%w: unknown secret kind %q", errs.ErrInvalidInput, kind)
	}

	for _, existing := range rec.Accounts {
		if existing.Meta.PublicKey == pubKey.String() {
			return Metadata{}, errs.ErrAccountExists
		}
	}

	sec := secretRecord{Kind: kind}
	if kind == KindPublicKeyOnly {
		sec.Ciphertext = []byte(pubKey.String())
	} else {
		ciphertext, nonce, err := encryptSecret(key, secret)
		if err != nil {
			return Metadata{}, err
		}
		sec.Ciphertext = ciphertext
		sec.Nonce = nonce
	}

	name := opts.Name
	if name == "" {
		name = fmt.Sprintf("Account %d", len(rec.Accounts)+1)
	}
	meta := Metadata{
		UUID:           uuid.NewString(),
		PublicKey:      pubKey.String(),
		Name:           name,
		DerivationPath: path,
		CreatedAt:      time.Now().UTC(),
		WatchOnly:      kind == KindPublicKeyOnly,
		AvatarAssetID:  opts.AvatarAssetID,
	}

	rec.Accounts[meta.UUID] = accountRecord{Secret: sec, Meta: meta}
	if kind == KindMnemonic && rec.PrimaryMnemonic == "" {
		rec.PrimaryMnemonic = meta.UUID
	}
	return meta, nil
}

// open decrypts a secret record with the cached session key.
func (v *Vault) open(sec secretRecord) ([]byte, error) {
	return decryptSecret(v.sessionKey, sec.Ciphertext, sec.Nonce)
}

func (v *Vault) setSessionKey(key []byte) {
	if v.sessionKey != nil {
		clear(v.sessionKey)
	}
	v.sessionKey = key
}

func (v *Vault) lockLocked() {
	if v.sessionKey != nil {
		clear(v.sessionKey)
		v.sessionKey = nil
	}
}

func (v *Vault) accountKind(id string) (Metadata, SecretKind, error) {
	rec, err := v.load()
	if err != nil {
		return Metadata{}, "", err
	}
	acct, ok := rec.Accounts[id]
	if !ok {
		return Metadata{}, "", errs.ErrAccountNotFound
	}
	return acct.Meta, acct.Secret.Kind, nil
}

func (v *Vault) orderCopy() []string {
	return append([]string(nil), v.order...)
}

func sampleEncrypted(rec *record) (secretRecord, bool) {
	for _, acct := range rec.Accounts {
		if acct.Secret.Kind != KindPublicKeyOnly {
			return acct.Secret, true
		}
	}
	return secretRecord{}, false
}
