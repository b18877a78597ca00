// Package signer signs and broadcasts transactions: per-attempt blockhash
// refresh, compute-budget fee injection, bounded retry and confirmation
// polling.
package signer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"github.com/solvault/wallet-core/internal/assemble"
	"github.com/solvault/wallet-core/internal/chain"
	"github.com/solvault/wallet-core/internal/errs"
	"github.com/solvault/wallet-core/internal/fees"
	"github.com/solvault/wallet-core/internal/logging"
	"github.com/solvault/wallet-core/internal/storage"
	"github.com/solvault/wallet-core/internal/vault"
)

const (
	defaultMaxAttempts    = 5
	defaultBackoff        = 500 * time.Millisecond
	defaultConfirmTimeout = 30 * time.Second

	confirmPollInterval = 2 * time.Second

	inflightKeyPrefix = "signer/inflight/"
)

// errConfirmation marks confirmation errors and timeouts; both are worth a
// fresh attempt because the transaction may simply have expired in flight.
var errConfirmation = errors.New("transaction was not confirmed")

// Config tunes the retry and confirmation behaviour. Zero values fall back
// to defaults.
type Config struct {
	MaxAttempts    int
	Backoff        time.Duration
	ConfirmTimeout time.Duration
}

// Options control a single signing request.
type Options struct {
	// Password unlocks the vault when it is locked. Ignored when a session
	// key is cached.
	Password []byte

	// Priority picks the fee tier. Defaults to medium.
	Priority fees.Priority

	// FeesApplied indicates the transaction already carries compute-budget
	// instructions; the signer will not prepend its own.
	FeesApplied bool

	// SkipFinalCheck disables the pre-broadcast simulation safety check.
	SkipFinalCheck bool
}

// Signer signs with vault-held keys and broadcasts with bounded retry.
// In-flight broadcasts are staged in the session store so a caller can
// inspect what was sent if confirmation is still pending.
type Signer struct {
	vault     *vault.Vault
	client    chain.Client
	estimator *fees.Estimator
	lookups   *chain.LookupResolver
	sessions  *storage.SessionStore
	log       *zap.Logger

	maxAttempts    int
	backoff        time.Duration
	confirmTimeout time.Duration
}

// New creates a signer. log may be nil.
func New(v *vault.Vault, client chain.Client, estimator *fees.Estimator, lookups *chain.LookupResolver, sessions *storage.SessionStore, cfg Config, log *zap.Logger) *Signer {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = defaultConfirmTimeout
	}
	return &Signer{
		vault:          v,
		client:         client,
		estimator:      estimator,
		lookups:        lookups,
		sessions:       sessions,
		log:            logging.OrNop(log),
		maxAttempts:    cfg.MaxAttempts,
		backoff:        cfg.Backoff,
		confirmTimeout: cfg.ConfirmTimeout,
	}
}

// SignAndSend signs the unsigned transaction with the account's key and
// broadcasts it, retrying with a fresh blockhash (and freshly re-estimated
// fees) on stale-blockhash, simulation and confirmation failures. Returns
// the confirmed signature, or the most recent error once attempts are
// exhausted.
func (s *Signer) SignAndSend(ctx context.Context, accountID string, unsigned *assemble.UnsignedTx, opts Options) (solana.Signature, error) {
	key, err := s.vault.SigningKey(accountID, opts.Password)
	if err != nil {
		return solana.Signature{}, err
	}
	defer clear(key)

	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if attempt > 1 {
			if err := s.wait(ctx, attempt-1); err != nil {
				return solana.Signature{}, err
			}
		}

		sig, err := s.attempt(ctx, key, unsigned, opts, attempt)
		if err == nil {
			return sig, nil
		}
		lastErr = err
		if !retryable(err) {
			return solana.Signature{}, err
		}
		s.log.Warn("send attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", s.maxAttempts),
			zap.Error(err))
	}
	return solana.Signature{}, fmt.Errorf("%w: %d attempts exhausted: %w", errs.ErrSigningFailed, s.maxAttempts, lastErr)
}

// attempt runs one full send cycle: fresh blockhash, fee injection, signing,
// the optional final simulation check, broadcast and confirmation.
func (s *Signer) attempt(ctx context.Context, key solana.PrivateKey, unsigned *assemble.UnsignedTx, opts Options, attempt int) (solana.Signature, error) {
	bh, err := s.client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("%w: failed to fetch blockhash: %v", errs.ErrNetworkUnavailable, err)
	}
	blockhash := bh.Value.Blockhash

	tx, err := s.buildSigned(ctx, key, unsigned, blockhash, opts)
	if err != nil {
		return solana.Signature{}, err
	}

	if !opts.SkipFinalCheck {
		if err := s.finalCheck(ctx, tx); err != nil {
			return solana.Signature{}, err
		}
	}

	s.stageInflight(tx, bh.Value.LastValidBlockHeight, attempt)

	sig, err := s.client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       true,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		s.clearInflight(tx)
		if isStaleBlockhash(err) {
			return solana.Signature{}, fmt.Errorf("%w: blockhash expired in flight: %v", errConfirmation, err)
		}
		return solana.Signature{}, fmt.Errorf("%w: broadcast rejected: %v", errs.ErrSigningFailed, err)
	}

	// The record stays staged when confirmation fails or times out: the
	// transaction was broadcast and may still land.
	if err := s.awaitConfirmation(ctx, sig); err != nil {
		return solana.Signature{}, err
	}
	s.clearInflight(tx)

	s.log.Info("transaction confirmed",
		zap.Stringer("signature", sig),
		zap.Int("attempt", attempt))
	return sig, nil
}

// buildSigned compiles the unsigned transaction against the blockhash,
// prepending compute-budget instructions unless the caller already applied
// fees, and signs it with key.
func (s *Signer) buildSigned(ctx context.Context, key solana.PrivateKey, unsigned *assemble.UnsignedTx, blockhash solana.Hash, opts Options) (*solana.Transaction, error) {
	withFees := unsigned
	if !opts.FeesApplied {
		bare, err := unsigned.Build(blockhash)
		if err != nil {
			return nil, err
		}
		tiers, err := s.estimator.EstimateTiers(ctx, bare)
		if err != nil {
			return nil, err
		}
		tier := opts.Priority.Select(tiers)

		instructions := make([]solana.Instruction, 0, len(unsigned.Instructions)+2)
		instructions = append(instructions,
			computebudget.NewSetComputeUnitLimitInstruction(tiers.ComputeUnits).Build(),
			computebudget.NewSetComputeUnitPriceInstruction(tier.ComputeUnitPriceMicroLamports).Build(),
		)
		instructions = append(instructions, unsigned.Instructions...)
		withFees = &assemble.UnsignedTx{
			FeePayer:      unsigned.FeePayer,
			Instructions:  instructions,
			AddressTables: unsigned.AddressTables,
		}
	}

	tx, err := withFees.Build(blockhash)
	if err != nil {
		return nil, err
	}
	if err := s.sign(tx, key); err != nil {
		return nil, err
	}
	return tx, nil
}

// sign attaches the account's signature. The key must match a required
// signer of the compiled message.
func (s *Signer) sign(tx *solana.Transaction, key solana.PrivateKey) error {
	pub := key.PublicKey()
	_, err := tx.Sign(func(needed solana.PublicKey) *solana.PrivateKey {
		if needed.Equals(pub) {
			return &key
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", errs.ErrSigningFailed, err)
	}
	return nil
}

// finalCheck dry-runs the fully signed transaction right before broadcast.
// A failure here aborts the attempt instead of burning the fee on-chain.
func (s *Signer) finalCheck(ctx context.Context, tx *solana.Transaction) error {
	out, err := s.client.SimulateTransactionWithOpts(ctx, tx, &rpc.SimulateTransactionOpts{
		SigVerify:  true,
		Commitment: rpc.CommitmentProcessed,
	})
	if err != nil {
		return fmt.Errorf("%w: final simulation request failed: %v", errs.ErrNetworkUnavailable, err)
	}
	if out != nil && out.Value != nil && out.Value.Err != nil {
		if logsContainStaleBlockhash(out.Value.Logs) {
			return fmt.Errorf("%w: blockhash expired before broadcast", errConfirmation)
		}
		return fmt.Errorf("%w: %v", errs.ErrSimulationFailed, out.Value.Err)
	}
	return nil
}

// awaitConfirmation polls signature statuses until the transaction reaches
// the confirmed commitment, errors, or the timeout elapses.
func (s *Signer) awaitConfirmation(ctx context.Context, sig solana.Signature) error {
	deadline := time.Now().Add(s.confirmTimeout)
	ticker := time.NewTicker(confirmPollInterval)
	defer ticker.Stop()

	for {
		out, err := s.client.GetSignatureStatuses(ctx, true, sig)
		if err != nil {
			s.log.Debug("status poll failed", zap.Error(err))
		} else if out != nil && len(out.Value) > 0 && out.Value[0] != nil {
			status := out.Value[0]
			if status.Err != nil {
				return fmt.Errorf("%w: transaction %s failed on-chain: %v", errConfirmation, sig, status.Err)
			}
			switch status.ConfirmationStatus {
			case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
				return nil
			}
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("%w: timed out waiting for %s", errConfirmation, sig)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// SignMessage signs an arbitrary message with the account's key. No
// broadcast, no retry.
func (s *Signer) SignMessage(accountID string, message []byte, password []byte) ([]byte, error) {
	if len(message) == 0 {
		return nil, fmt.Errorf("%w: message is empty", errs.ErrInvalidInput)
	}
	key, err := s.vault.SigningKey(accountID, password)
	if err != nil {
		return nil, err
	}
	defer clear(key)

	sig, err := key.Sign(message)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrSigningFailed, err)
	}
	return sig[:], nil
}

// SignAllTransactions decodes each serialized transaction, refreshes its
// blockhash, injects compute-budget fees unless the caller already applied
// them, and re-signs. Lookup-table references are preserved. The signed
// transactions are returned serialized; nothing is broadcast.
func (s *Signer) SignAllTransactions(ctx context.Context, accountID string, rawTxs [][]byte, opts Options) ([][]byte, error) {
	if len(rawTxs) == 0 {
		return nil, fmt.Errorf("%w: no transactions to sign", errs.ErrInvalidInput)
	}
	key, err := s.vault.SigningKey(accountID, opts.Password)
	if err != nil {
		return nil, err
	}
	defer clear(key)

	bh, err := s.client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to fetch blockhash: %v", errs.ErrNetworkUnavailable, err)
	}
	blockhash := bh.Value.Blockhash

	signed := make([][]byte, 0, len(rawTxs))
	for i, raw := range rawTxs {
		unsigned, err := s.decompile(ctx, raw)
		if err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i, err)
		}
		tx, err := s.buildSigned(ctx, key, unsigned, blockhash, opts)
		if err != nil {
			return nil, fmt.Errorf("transaction %d: %w", i, err)
		}
		data, err := tx.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("transaction %d: failed to serialize: %w", i, err)
		}
		signed = append(signed, data)
	}
	return signed, nil
}

// SignAndSendRaw is SignAndSend for an externally assembled serialized
// transaction: it is decompiled back into instructions so each attempt can
// recompile against a fresh blockhash.
func (s *Signer) SignAndSendRaw(ctx context.Context, accountID string, txBytes []byte, opts Options) (solana.Signature, error) {
	unsigned, err := s.decompile(ctx, txBytes)
	if err != nil {
		return solana.Signature{}, err
	}
	return s.SignAndSend(ctx, accountID, unsigned, opts)
}

// decompile reverses message compilation: compiled instructions become
// semantic instructions with per-account signer/writable flags, so the
// transaction can be recompiled with extra instructions and a new blockhash.
// Lookup-table accounts keep their table attribution.
func (s *Signer) decompile(ctx context.Context, txBytes []byte) (*assemble.UnsignedTx, error) {
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(txBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode transaction: %v", errs.ErrInvalidInput, err)
	}
	msg := &tx.Message
	if len(msg.AccountKeys) == 0 {
		return nil, fmt.Errorf("%w: transaction references no accounts", errs.ErrInvalidInput)
	}

	tables := make(map[solana.PublicKey]solana.PublicKeySlice)
	if len(msg.AddressTableLookups) > 0 {
		tables, err = s.lookups.Tables(ctx, msg)
		if err != nil {
			return nil, err
		}
	}
	metas, err := accountMetas(msg, tables)
	if err != nil {
		return nil, err
	}

	instructions := make([]solana.Instruction, 0, len(msg.Instructions))
	for _, compiled := range msg.Instructions {
		if int(compiled.ProgramIDIndex) >= len(msg.AccountKeys) {
			return nil, fmt.Errorf("%w: program index %d out of range", errs.ErrInvalidInput, compiled.ProgramIDIndex)
		}
		program := msg.AccountKeys[compiled.ProgramIDIndex]

		accounts := make([]*solana.AccountMeta, 0, len(compiled.Accounts))
		for _, idx := range compiled.Accounts {
			if int(idx) >= len(metas) {
				return nil, fmt.Errorf("%w: account index %d out of range", errs.ErrInvalidInput, idx)
			}
			meta := *metas[idx]
			accounts = append(accounts, &meta)
		}
		instructions = append(instructions, solana.NewInstruction(program, accounts, compiled.Data))
	}

	return &assemble.UnsignedTx{
		FeePayer:      msg.AccountKeys[0],
		Instructions:  instructions,
		AddressTables: tables,
	}, nil
}

// accountMetas reconstructs the flat runtime account list with flags:
// static keys classified by the header, then the writable and readonly
// lookup sections in order.
func accountMetas(msg *solana.Message, tables map[solana.PublicKey]solana.PublicKeySlice) ([]*solana.AccountMeta, error) {
	header := msg.Header
	total := len(msg.AccountKeys)
	numSigners := int(header.NumRequiredSignatures)

	metas := make([]*solana.AccountMeta, 0, total)
	for i, key := range msg.AccountKeys {
		signer := i < numSigners
		var writable bool
		if signer {
			writable = i < numSigners-int(header.NumReadonlySignedAccounts)
		} else {
			writable = i < total-int(header.NumReadonlyUnsignedAccounts)
		}
		metas = append(metas, &solana.AccountMeta{PublicKey: key, IsSigner: signer, IsWritable: writable})
	}

	appendSection := func(tableKey solana.PublicKey, indexes []uint8, writable bool) error {
		table := tables[tableKey]
		for _, idx := range indexes {
			if int(idx) >= len(table) {
				return fmt.Errorf("%w: lookup index %d out of range for table %s", errs.ErrInvalidInput, idx, tableKey)
			}
			metas = append(metas, &solana.AccountMeta{PublicKey: table[idx], IsWritable: writable})
		}
		return nil
	}
	for _, lookup := range msg.AddressTableLookups {
		if err := appendSection(lookup.AccountKey, lookup.WritableIndexes, true); err != nil {
			return nil, err
		}
	}
	for _, lookup := range msg.AddressTableLookups {
		if err := appendSection(lookup.AccountKey, lookup.ReadonlyIndexes, false); err != nil {
			return nil, err
		}
	}
	return metas, nil
}

// stageInflight records the broadcast payload in the session store before
// sending, keyed by the transaction's own signature. The record is removed
// only when the transaction confirms or the broadcast itself is rejected;
// a sent-but-unconfirmed transaction keeps its record so callers can see
// what is still in flight.
func (s *Signer) stageInflight(tx *solana.Transaction, lastValidBlockHeight uint64, attempt int) {
	if s.sessions == nil || len(tx.Signatures) == 0 {
		return
	}
	payload := fmt.Sprintf("%s blockheight=%d attempt=%d", tx.Signatures[0], lastValidBlockHeight, attempt)
	if err := s.sessions.Set(inflightKeyPrefix+tx.Signatures[0].String(), []byte(payload)); err != nil {
		s.log.Debug("failed to stage in-flight transaction", zap.Error(err))
	}
}

func (s *Signer) clearInflight(tx *solana.Transaction) {
	if s.sessions == nil || len(tx.Signatures) == 0 {
		return
	}
	if err := s.sessions.Remove(inflightKeyPrefix + tx.Signatures[0].String()); err != nil {
		s.log.Debug("failed to clear in-flight transaction", zap.Error(err))
	}
}

// wait sleeps the linear backoff for the given completed attempt count,
// honouring context cancellation.
func (s *Signer) wait(ctx context.Context, completed int) error {
	timer := time.NewTimer(s.backoff * time.Duration(completed))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryable reports whether a fresh attempt with a new blockhash could
// plausibly succeed: network trouble, a failed or expired final simulation,
// and confirmation errors or timeouts.
func retryable(err error) bool {
	if errors.Is(err, errs.ErrNetworkUnavailable) ||
		errors.Is(err, errs.ErrSimulationFailed) ||
		errors.Is(err, errConfirmation) {
		return true
	}
	return isStaleBlockhash(err)
}

func isStaleBlockhash(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "Blockhash not found") || strings.Contains(msg, "BlockhashNotFound")
}

func logsContainStaleBlockhash(logs []string) bool {
	for _, line := range logs {
		if strings.Contains(line, "Blockhash not found") {
			return true
		}
	}
	return false
}
