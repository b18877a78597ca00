// Package fees estimates compute-unit consumption and converts recent
// prioritization-fee samples into low/medium/high priority tiers.
package fees

import (
	"context"
	"fmt"
	"sort"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"github.com/solvault/wallet-core/internal/chain"
	"github.com/solvault/wallet-core/internal/errs"
	"github.com/solvault/wallet-core/internal/logging"
)

const (
	// DefaultComputeUnits is the conservative fallback when the dry run
	// cannot produce a consumption figure.
	DefaultComputeUnits = 200_000

	// MaxComputeUnits is the network's per-transaction ceiling.
	MaxComputeUnits = 1_400_000

	// LamportsPerSignature is the fixed base fee per signature.
	LamportsPerSignature = 5_000

	// computeBudgetOverheadUnits covers the compute-budget instructions the
	// signer will prepend, which the dry run itself did not execute.
	computeBudgetOverheadUnits = 300

	microLamportsPerLamport = 1_000_000
)

// Priority selects one of the three tiers.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
)

// Tier is one speed/cost trade-off for the same transaction.
type Tier struct {
	ComputeUnitPriceMicroLamports uint64
	PriorityFeeLamports           uint64
	TotalFeeLamports              uint64
}

// Tiers holds the three tiers plus the shared inputs they were derived
// from. All tiers use the same compute-unit estimate so their totals are
// directly comparable.
type Tiers struct {
	ComputeUnits    uint32
	BaseFeeLamports uint64
	Low             Tier
	Medium          Tier
	High            Tier
}

// Select returns the tier matching the priority. Unknown values map to
// medium.
func (p Priority) Select(t *Tiers) Tier {
	switch p {
	case PriorityLow:
		return t.Low
	case PriorityHigh:
		return t.High
	default:
		return t.Medium
	}
}

// Estimator estimates fees against the network. It owns no durable state.
type Estimator struct {
	client chain.Client
	log    *zap.Logger
}

// New creates an estimator. log may be nil.
func New(client chain.Client, log *zap.Logger) *Estimator {
	return &Estimator{client: client, log: logging.OrNop(log)}
}

// EstimateComputeUnits dry-runs the transaction with signature verification
// disabled and blockhash substitution enabled, then applies a ×1.2 safety
// multiplier plus a flat buffer for the fee instructions themselves. Any
// failure falls back to the conservative default.
func (e *Estimator) EstimateComputeUnits(ctx context.Context, tx *solana.Transaction) uint32 {
	out, err := e.client.SimulateTransactionWithOpts(ctx, tx, &rpc.SimulateTransactionOpts{
		SigVerify:              false,
		ReplaceRecentBlockhash: true,
		Commitment:             rpc.CommitmentProcessed,
	})
	if err != nil || out == nil || out.Value == nil || out.Value.Err != nil || out.Value.UnitsConsumed == nil {
		e.log.Debug("compute unit estimation fell back to default", zap.Error(err))
		return DefaultComputeUnits
	}

	units := *out.Value.UnitsConsumed
	units = units*12/10 + computeBudgetOverheadUnits
	if units > MaxComputeUnits {
		units = MaxComputeUnits
	}
	return uint32(units)
}

// EstimateTiers derives the three priority tiers for the transaction from
// recent per-account prioritization fees. Sample accounts are the writable
// non-signer accounts, falling back to all writable accounts, then to the
// fee payer alone.
func (e *Estimator) EstimateTiers(ctx context.Context, tx *solana.Transaction) (*Tiers, error) {
	units := e.EstimateComputeUnits(ctx, tx)

	accounts := writableAccounts(&tx.Message, false)
	if len(accounts) == 0 {
		accounts = writableAccounts(&tx.Message, true)
	}
	if len(accounts) == 0 && len(tx.Message.AccountKeys) > 0 {
		accounts = solana.PublicKeySlice{tx.Message.AccountKeys[0]}
	}

	results, err := e.client.GetRecentPrioritizationFees(ctx, accounts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to fetch prioritization fees: %v", errs.ErrNetworkUnavailable, err)
	}

	samples := make([]uint64, 0, len(results))
	for _, r := range results {
		samples = append(samples, r.PrioritizationFee)
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })

	base := uint64(tx.Message.Header.NumRequiredSignatures) * LamportsPerSignature
	tiers := &Tiers{
		ComputeUnits:    units,
		BaseFeeLamports: base,
		Low:             makeTier(percentile(samples, 25), units, base),
		Medium:          makeTier(percentile(samples, 50), units, base),
		High:            makeTier(percentile(samples, 75), units, base),
	}
	return tiers, nil
}

func makeTier(priceMicroLamports uint64, units uint32, base uint64) Tier {
	priority := priceMicroLamports * uint64(units) / microLamportsPerLamport
	return Tier{
		ComputeUnitPriceMicroLamports: priceMicroLamports,
		PriorityFeeLamports:           priority,
		TotalFeeLamports:              base + priority,
	}
}

// percentile picks the sample at position p of the sorted slice. Zero when
// there are no samples.
func percentile(sorted []uint64, p int) uint64 {
	if len(sorted) == 0 {
		return 0
	}
	return sorted[(len(sorted)-1)*p/100]
}

// writableAccounts classifies the message's static keys from its header,
// plus the writable sections of any attached lookup tables. includeSigners
// false restricts the static keys to writable non-signers; lookup addresses
// are never signers.
func writableAccounts(msg *solana.Message, includeSigners bool) solana.PublicKeySlice {
	header := msg.Header
	total := len(msg.AccountKeys)
	numSigners := int(header.NumRequiredSignatures)

	var out solana.PublicKeySlice
	for i, key := range msg.AccountKeys {
		signer := i < numSigners
		var writable bool
		if signer {
			writable = i < numSigners-int(header.NumReadonlySignedAccounts)
		} else {
			writable = i < total-int(header.NumReadonlyUnsignedAccounts)
		}
		if !writable {
			continue
		}
		if signer && !includeSigners {
			continue
		}
		out = append(out, key)
	}

	tables := msg.GetAddressTables()
	for _, lookup := range msg.AddressTableLookups {
		table := tables[lookup.AccountKey]
		for _, idx := range lookup.WritableIndexes {
			if int(idx) < len(table) {
				out = append(out, table[idx])
			}
		}
	}
	return out
}
