package chain

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"strings"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/solvault/wallet-core/internal/chain/chaintest"
)

func accountData(t *testing.T, raw []byte) *rpc.DataBytesOrJSON {
	t.Helper()
	blob, err := json.Marshal([]string{base64.StdEncoding.EncodeToString(raw), "base64"})
	if err != nil {
		t.Fatal(err)
	}
	var d rpc.DataBytesOrJSON
	if err := json.Unmarshal(blob, &d); err != nil {
		t.Fatalf("build account data: %v", err)
	}
	return &d
}

// mintBytes builds the 82-byte on-chain SPL mint layout.
func mintBytes(decimals uint8, supply uint64) []byte {
	data := make([]byte, 0, 82)
	data = append(data, make([]byte, 4+32)...)
	data = binary.LittleEndian.AppendUint64(data, supply)
	data = append(data, decimals)
	data = append(data, 1)
	data = append(data, make([]byte, 4+32)...)
	return data
}

func TestRegistryStaticLookup(t *testing.T) {
	client := &chaintest.Client{
		GetAccountInfoFunc: func(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
			t.Error("static mint should not hit the network")
			return nil, rpc.ErrNotFound
		},
	}
	r := NewRegistry(client)

	usdc := solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	info, err := r.Lookup(context.Background(), usdc)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if info.Symbol != "USDC" || info.Decimals != 6 {
		t.Errorf("info = %+v", info)
	}
}

func TestRegistryOnChainLookupCached(t *testing.T) {
	mint := solana.NewWallet().PublicKey()

	var calls int
	client := &chaintest.Client{
		GetAccountInfoFunc: func(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
			calls++
			return &rpc.GetAccountInfoResult{Value: &rpc.Account{
				Owner: solana.TokenProgramID,
				Data:  accountData(t, mintBytes(4, 10_000)),
			}}, nil
		},
	}
	r := NewRegistry(client)

	for i := 0; i < 3; i++ {
		info, err := r.Lookup(context.Background(), mint)
		if err != nil {
			t.Fatalf("Lookup #%d: %v", i, err)
		}
		if info.Decimals != 4 {
			t.Errorf("decimals = %d, want 4", info.Decimals)
		}
	}
	if calls != 1 {
		t.Errorf("account fetches = %d, want 1 (cached)", calls)
	}
}

func TestRegistryMissingMint(t *testing.T) {
	client := &chaintest.Client{
		GetAccountInfoFunc: func(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
			return nil, rpc.ErrNotFound
		},
	}
	r := NewRegistry(client)

	_, err := r.Lookup(context.Background(), solana.NewWallet().PublicKey())
	if err == nil || !strings.Contains(err.Error(), "does not exist") {
		t.Errorf("err = %v", err)
	}
}

func TestHasTokenMetadataCachesProbe(t *testing.T) {
	mint := solana.NewWallet().PublicKey()

	var calls int
	client := &chaintest.Client{
		GetAccountInfoFunc: func(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
			calls++
			return &rpc.GetAccountInfoResult{Value: &rpc.Account{Owner: metadataProgramID}}, nil
		},
	}
	r := NewRegistry(client)

	if !r.HasTokenMetadata(context.Background(), mint) {
		t.Error("metadata account present, probe should succeed")
	}
	if !r.HasTokenMetadata(context.Background(), mint) {
		t.Error("cached probe changed its answer")
	}
	if calls != 1 {
		t.Errorf("probes = %d, want 1 (cached)", calls)
	}
}

func TestHasTokenMetadataAbsent(t *testing.T) {
	client := &chaintest.Client{
		GetAccountInfoFunc: func(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
			return nil, rpc.ErrNotFound
		},
	}
	r := NewRegistry(client)

	if r.HasTokenMetadata(context.Background(), solana.NewWallet().PublicKey()) {
		t.Error("probe failure should read as no metadata")
	}
}

func TestLookupResolverLegacyMessage(t *testing.T) {
	r := NewLookupResolver(&chaintest.Client{})

	tables, err := r.Tables(context.Background(), &solana.Message{})
	if err != nil {
		t.Fatalf("Tables: %v", err)
	}
	if len(tables) != 0 {
		t.Errorf("tables = %v, want none for a legacy message", tables)
	}
}

func TestLookupResolverMissingTable(t *testing.T) {
	client := &chaintest.Client{
		GetAccountInfoFunc: func(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
			return nil, rpc.ErrNotFound
		},
	}
	r := NewLookupResolver(client)

	msg := &solana.Message{
		AddressTableLookups: []solana.MessageAddressTableLookup{
			{AccountKey: solana.NewWallet().PublicKey(), WritableIndexes: []uint8{0}},
		},
	}
	_, err := r.Tables(context.Background(), msg)
	if err == nil || !strings.Contains(err.Error(), "does not exist") {
		t.Errorf("err = %v", err)
	}
}
