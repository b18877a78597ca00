// Package portfolio reports what an address holds: the native balance plus
// every SPL token account, enriched with registry symbols and decimals.
package portfolio

import (
	"context"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"github.com/solvault/wallet-core/internal/chain"
	"github.com/solvault/wallet-core/internal/common"
	"github.com/solvault/wallet-core/internal/errs"
	"github.com/solvault/wallet-core/internal/logging"
)

// Holding is one asset position of an address.
type Holding struct {
	AssetID     string // "native" or the mint address
	Symbol      string
	Decimals    uint8
	RawAmount   uint64
	Amount      string // decimal string, no float precision loss
	Collectible bool
}

// Service reads balances over the RPC boundary. It owns no durable state.
type Service struct {
	client   chain.Client
	registry *chain.Registry
	log      *zap.Logger
}

// New creates a portfolio service. log may be nil.
func New(client chain.Client, registry *chain.Registry, log *zap.Logger) *Service {
	return &Service{client: client, registry: registry, log: logging.OrNop(log)}
}

// Holdings returns the owner's native balance followed by its non-empty
// token positions. Mint lookups are best-effort: an unresolvable mint still
// appears, with zero decimals and no symbol.
func (s *Service) Holdings(ctx context.Context, owner solana.PublicKey) ([]Holding, error) {
	if owner.IsZero() {
		return nil, fmt.Errorf("%w: owner is required", errs.ErrInvalidInput)
	}

	native, err := s.client.GetBalance(ctx, owner, rpc.CommitmentConfirmed)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to fetch balance: %v", errs.ErrNetworkUnavailable, err)
	}
	holdings := []Holding{{
		AssetID:   chain.NativeAssetID,
		Symbol:    "SOL",
		Decimals:  common.SOLDecimals,
		RawAmount: native.Value,
		Amount:    common.FormatAmount(native.Value, common.SOLDecimals),
	}}

	out, err := s.client.GetTokenAccountsByOwner(ctx, owner,
		&rpc.GetTokenAccountsConfig{ProgramId: solana.TokenProgramID.ToPointer()},
		&rpc.GetTokenAccountsOpts{Encoding: solana.EncodingBase64},
	)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to fetch token accounts: %v", errs.ErrNetworkUnavailable, err)
	}
	if out == nil {
		return holdings, nil
	}

	for _, entry := range out.Value {
		if entry == nil || entry.Account.Data == nil {
			continue
		}
		var ta token.Account
		if err := bin.NewBinDecoder(entry.Account.Data.GetBinary()).Decode(&ta); err != nil {
			s.log.Debug("skipping undecodable token account",
				zap.Stringer("account", entry.Pubkey), zap.Error(err))
			continue
		}
		if ta.Amount == 0 {
			continue
		}

		info, err := s.registry.Lookup(ctx, ta.Mint)
		if err != nil {
			s.log.Debug("mint lookup failed", zap.Stringer("mint", ta.Mint), zap.Error(err))
		}
		holdings = append(holdings, Holding{
			AssetID:     ta.Mint.String(),
			Symbol:      info.Symbol,
			Decimals:    info.Decimals,
			RawAmount:   ta.Amount,
			Amount:      common.FormatAmount(ta.Amount, int(info.Decimals)),
			Collectible: info.Collectible || (info.Decimals == 0 && ta.Amount == 1),
		})
	}
	return holdings, nil
}
