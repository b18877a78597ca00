package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	addresslookuptable "github.com/gagliardetto/solana-go/programs/address-lookup-table"
	"github.com/gagliardetto/solana-go/rpc"
	lru "github.com/hashicorp/golang-lru/v2"
)

const lookupCacheSize = 128

// LookupResolver fetches and caches address lookup tables. The cache is
// safe to discard at any time; entries are re-fetched on demand.
type LookupResolver struct {
	client Client
	cache  *lru.Cache[solana.PublicKey, solana.PublicKeySlice]
}

// NewLookupResolver creates a resolver over the given client.
func NewLookupResolver(client Client) *LookupResolver {
	cache, _ := lru.New[solana.PublicKey, solana.PublicKeySlice](lookupCacheSize)
	return &LookupResolver{client: client, cache: cache}
}

// Tables resolves every lookup table referenced by the message. Returns an
// empty map for legacy messages.
func (r *LookupResolver) Tables(ctx context.Context, msg *solana.Message) (map[solana.PublicKey]solana.PublicKeySlice, error) {
	tables := make(map[solana.PublicKey]solana.PublicKeySlice)
	for _, lookup := range msg.AddressTableLookups {
		addrs, err := r.table(ctx, lookup.AccountKey)
		if err != nil {
			return nil, err
		}
		tables[lookup.AccountKey] = addrs
	}
	return tables, nil
}

func (r *LookupResolver) table(ctx context.Context, key solana.PublicKey) (solana.PublicKeySlice, error) {
	if addrs, ok := r.cache.Get(key); ok {
		return addrs, nil
	}

	info, err := r.client.GetAccountInfo(ctx, key)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, fmt.Errorf("address lookup table %s does not exist", key)
		}
		return nil, fmt.Errorf("failed to fetch lookup table %s: %w", key, err)
	}
	if info.Value == nil || info.Value.Data == nil {
		return nil, fmt.Errorf("address lookup table %s does not exist", key)
	}

	state, err := addresslookuptable.DecodeAddressLookupTableState(info.Value.Data.GetBinary())
	if err != nil {
		return nil, fmt.Errorf("failed to decode lookup table %s: %w", key, err)
	}

	r.cache.Add(key, state.Addresses)
	return state.Addresses, nil
}
