// Package simulate dry-runs unsigned transactions and turns the execution
// trace into a Preview: predicted asset movement, fee tiers and a readable
// failure cause.
package simulate

import (
	"context"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"github.com/solvault/wallet-core/internal/chain"
	"github.com/solvault/wallet-core/internal/errs"
	"github.com/solvault/wallet-core/internal/fees"
	"github.com/solvault/wallet-core/internal/logging"
)

const tokenAccountDataSize = 165

// Simulator previews transactions against the network. It owns no durable
// state beyond the discardable registry and lookup-table caches.
type Simulator struct {
	client   chain.Client
	registry *chain.Registry
	lookups  *chain.LookupResolver
	fees     *fees.Estimator
	log      *zap.Logger
}

// New creates a simulator. log may be nil.
func New(client chain.Client, registry *chain.Registry, lookups *chain.LookupResolver, estimator *fees.Estimator, log *zap.Logger) *Simulator {
	return &Simulator{
		client:   client,
		registry: registry,
		lookups:  lookups,
		fees:     estimator,
		log:      logging.OrNop(log),
	}
}

// accountState is one account's pre-simulation snapshot.
type accountState struct {
	lamports uint64
	token    *token.Account
}

// Simulate dry-runs txBytes and reports predicted balance movement from the
// perspective of wallet. A failed simulation yields Success=false with a
// best-effort readable cause; it is never reported as success.
func (s *Simulator) Simulate(ctx context.Context, txBytes []byte, wallet solana.PublicKey) (*Preview, error) {
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(txBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode transaction: %v", errs.ErrInvalidInput, err)
	}
	msg := &tx.Message

	keys, err := s.resolveKeys(ctx, msg)
	if err != nil {
		return nil, err
	}
	feePayer := keys[0]

	pre, err := s.snapshot(ctx, keys)
	if err != nil {
		return nil, err
	}

	out, err := s.client.SimulateTransactionWithOpts(ctx, tx, &rpc.SimulateTransactionOpts{
		SigVerify:              false,
		ReplaceRecentBlockhash: true,
		Commitment:             rpc.CommitmentProcessed,
		Accounts: &rpc.SimulateTransactionAccountsOpts{
			Encoding:  solana.EncodingBase64,
			Addresses: keys,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: simulation request failed: %v", errs.ErrNetworkUnavailable, err)
	}

	preview := &Preview{
		FeePayerAddress: feePayer.String(),
		BaseFeeLamports: uint64(msg.Header.NumRequiredSignatures) * fees.LamportsPerSignature,
	}

	if out.Value == nil || out.Value.Err != nil {
		var logs []string
		var execErr interface{}
		if out.Value != nil {
			logs = out.Value.Logs
			execErr = out.Value.Err
		}
		preview.ErrorMessage = causeFromLogs(logs, execErr)
		s.log.Debug("simulation rejected", zap.String("cause", preview.ErrorMessage))
		return preview, nil
	}
	preview.Success = true

	changes := s.diff(ctx, keys, pre, out.Value.Accounts)
	for _, change := range changes {
		if change.OwnerAddress == wallet.String() {
			preview.FeePayerAssetChanges = append(preview.FeePayerAssetChanges, change)
		} else {
			preview.OtherAccountAssetChanges = append(preview.OtherAccountAssetChanges, change)
		}
	}
	preview.Alerts = s.alerts(wallet, preview.FeePayerAssetChanges)

	tiers, err := s.fees.EstimateTiers(ctx, tx)
	if err != nil {
		s.log.Warn("priority fee estimation unavailable", zap.Error(err))
		preview.Alerts = append(preview.Alerts, "Priority fee estimation is unavailable right now.")
	} else {
		preview.PriorityFeeTiers = tiers
		preview.BaseFeeLamports = tiers.BaseFeeLamports
	}

	return preview, nil
}

// resolveKeys returns every static and lookup-table account key referenced
// by the message, in runtime order: static keys, then the writable and
// readonly sections of each lookup table.
func (s *Simulator) resolveKeys(ctx context.Context, msg *solana.Message) (solana.PublicKeySlice, error) {
	keys := append(solana.PublicKeySlice{}, msg.AccountKeys...)
	if len(msg.AddressTableLookups) == 0 {
		if len(keys) == 0 {
			return nil, fmt.Errorf("%w: transaction references no accounts", errs.ErrInvalidInput)
		}
		return keys, nil
	}

	tables, err := s.lookups.Tables(ctx, msg)
	if err != nil {
		return nil, err
	}
	if err := msg.SetAddressTables(tables); err != nil {
		return nil, fmt.Errorf("%w: failed to attach lookup tables: %v", errs.ErrInvalidInput, err)
	}

	for _, lookup := range msg.AddressTableLookups {
		table := tables[lookup.AccountKey]
		for _, idx := range lookup.WritableIndexes {
			if int(idx) >= len(table) {
				return nil, fmt.Errorf("%w: lookup index %d out of range for table %s", errs.ErrInvalidInput, idx, lookup.AccountKey)
			}
			keys = append(keys, table[idx])
		}
	}
	for _, lookup := range msg.AddressTableLookups {
		table := tables[lookup.AccountKey]
		for _, idx := range lookup.ReadonlyIndexes {
			if int(idx) >= len(table) {
				return nil, fmt.Errorf("%w: lookup index %d out of range for table %s", errs.ErrInvalidInput, idx, lookup.AccountKey)
			}
			keys = append(keys, table[idx])
		}
	}
	return keys, nil
}

// snapshot captures each account's state before simulation.
func (s *Simulator) snapshot(ctx context.Context, keys solana.PublicKeySlice) ([]accountState, error) {
	states := make([]accountState, len(keys))

	out, err := s.client.GetMultipleAccounts(ctx, keys...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to snapshot accounts: %v", errs.ErrNetworkUnavailable, err)
	}
	if out == nil || out.Value == nil {
		return states, nil
	}

	for i, acct := range out.Value {
		if i >= len(states) || acct == nil {
			continue
		}
		states[i].lamports = acct.Lamports
		states[i].token = decodeTokenAccount(acct)
	}
	return states, nil
}

// diff computes native and token asset changes between the pre snapshot and
// the post-simulation account states. Zero deltas are dropped.
func (s *Simulator) diff(ctx context.Context, keys solana.PublicKeySlice, pre []accountState, post []*rpc.Account) []AssetChange {
	var changes []AssetChange

	for i, key := range keys {
		preState := pre[i]
		var postLamports uint64
		var postToken *token.Account
		if i < len(post) && post[i] != nil {
			postLamports = post[i].Lamports
			postToken = decodeTokenAccount(post[i])
		}

		if delta := signedDelta(preState.lamports, postLamports); delta != 0 {
			changes = append(changes, AssetChange{
				AssetID:      chain.NativeAssetID,
				OwnerAddress: key.String(),
				RawDelta:     delta,
				Decimals:     9,
				PreBalance:   preState.lamports,
				PostBalance:  postLamports,
			})
		}

		if preState.token == nil && postToken == nil {
			continue
		}
		var preAmount, postAmount uint64
		var mint, owner solana.PublicKey
		if preState.token != nil {
			preAmount = preState.token.Amount
			mint = preState.token.Mint
			owner = preState.token.Owner
		}
		if postToken != nil {
			postAmount = postToken.Amount
			mint = postToken.Mint
			owner = postToken.Owner
		}
		delta := signedDelta(preAmount, postAmount)
		if delta == 0 {
			continue
		}

		info, err := s.registry.Lookup(ctx, mint)
		if err != nil {
			s.log.Debug("mint lookup failed", zap.Stringer("mint", mint), zap.Error(err))
		}
		// A failed lookup leaves decimals at zero, which is not evidence of
		// anything; the supply heuristic only applies to a resolved mint.
		collectible := info.Collectible ||
			(err == nil && info.Decimals == 0 && (delta == 1 || delta == -1)) ||
			s.registry.HasTokenMetadata(ctx, mint)

		changes = append(changes, AssetChange{
			AssetID:           mint.String(),
			OwnerAddress:      owner.String(),
			RawDelta:          delta,
			Decimals:          info.Decimals,
			IsCollectibleLike: collectible,
			PreBalance:        preAmount,
			PostBalance:       postAmount,
		})
	}
	return changes
}

// alerts derives caller-facing warnings from the wallet's own changes.
func (s *Simulator) alerts(wallet solana.PublicKey, walletChanges []AssetChange) []string {
	var alerts []string
	for _, change := range walletChanges {
		if change.AssetID == chain.NativeAssetID && change.PreBalance > 0 && change.PostBalance == 0 {
			alerts = append(alerts, "This transaction leaves the wallet with zero SOL.")
		}
		if change.IsCollectibleLike && change.RawDelta < 0 {
			alerts = append(alerts, "A collectible is leaving this wallet.")
		}
	}
	return alerts
}

// decodeTokenAccount decodes an SPL token account layout, or nil when the
// account is not a token account.
func decodeTokenAccount(acct *rpc.Account) *token.Account {
	if acct == nil || acct.Data == nil || !acct.Owner.Equals(solana.TokenProgramID) {
		return nil
	}
	data := acct.Data.GetBinary()
	if len(data) < tokenAccountDataSize {
		return nil
	}
	var ta token.Account
	if err := bin.NewBinDecoder(data).Decode(&ta); err != nil {
		return nil
	}
	return &ta
}

func signedDelta(pre, post uint64) int64 {
	if post >= pre {
		return int64(post - pre)
	}
	return -int64(pre - post)
}
