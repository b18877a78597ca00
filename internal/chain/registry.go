package chain

import (
	"context"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	lru "github.com/hashicorp/golang-lru/v2"
)

// NativeAssetID marks the native asset (SOL) in previews, where SPL assets
// are identified by their mint address.
const NativeAssetID = "native"

const registryCacheSize = 512

// metadataProgramID is the Metaplex token-metadata program.
var metadataProgramID = solana.MustPublicKeyFromBase58("metaqbxxUerdq28cj1RbAWkYQm3ybzjb6a8bt518x1s")

// TokenInfo describes a mint as far as previews care.
type TokenInfo struct {
	Symbol      string
	Decimals    uint8
	Collectible bool // registry-tagged collectible
}

// knownMints is the static part of the registry.
var knownMints = map[solana.PublicKey]TokenInfo{
	solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"): {Symbol: "USDC", Decimals: 6},
	solana.MustPublicKeyFromBase58("Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB"): {Symbol: "USDT", Decimals: 6},
	solana.MustPublicKeyFromBase58("mSoLzYCxHdYgdzU16g5QSh3i5K3z3KZK7ytfqcJm7So"):  {Symbol: "mSOL", Decimals: 9},
}

// Registry resolves mint information: static table first, then an LRU-cached
// on-chain mint lookup. It owns no durable state.
type Registry struct {
	client Client
	mints  *lru.Cache[solana.PublicKey, TokenInfo]
	meta   *lru.Cache[solana.PublicKey, bool]
}

// NewRegistry creates a registry over the given client.
func NewRegistry(client Client) *Registry {
	mints, _ := lru.New[solana.PublicKey, TokenInfo](registryCacheSize)
	meta, _ := lru.New[solana.PublicKey, bool](registryCacheSize)
	return &Registry{client: client, mints: mints, meta: meta}
}

// Lookup resolves decimals and tags for a mint.
func (r *Registry) Lookup(ctx context.Context, mint solana.PublicKey) (TokenInfo, error) {
	if info, ok := knownMints[mint]; ok {
		return info, nil
	}
	if info, ok := r.mints.Get(mint); ok {
		return info, nil
	}

	acct, err := r.client.GetAccountInfo(ctx, mint)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return TokenInfo{}, fmt.Errorf("mint %s does not exist", mint)
		}
		return TokenInfo{}, fmt.Errorf("failed to fetch mint %s: %w", mint, err)
	}
	if acct.Value == nil || acct.Value.Data == nil {
		return TokenInfo{}, fmt.Errorf("mint %s does not exist", mint)
	}

	var m token.Mint
	if err := bin.NewBinDecoder(acct.Value.Data.GetBinary()).Decode(&m); err != nil {
		return TokenInfo{}, fmt.Errorf("failed to decode mint %s: %w", mint, err)
	}

	info := TokenInfo{Decimals: m.Decimals}
	r.mints.Add(mint, info)
	return info, nil
}

// HasTokenMetadata probes for the Metaplex metadata account of a mint; its
// presence is one of the collectible heuristics. Best-effort: probe failures
// read as "no metadata".
func (r *Registry) HasTokenMetadata(ctx context.Context, mint solana.PublicKey) bool {
	if has, ok := r.meta.Get(mint); ok {
		return has
	}

	pda, _, err := solana.FindProgramAddress(
		[][]byte{[]byte("metadata"), metadataProgramID.Bytes(), mint.Bytes()},
		metadataProgramID,
	)
	if err != nil {
		return false
	}

	acct, err := r.client.GetAccountInfo(ctx, pda)
	has := err == nil && acct != nil && acct.Value != nil
	r.meta.Add(mint, has)
	return has
}
