package portfolio

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/solvault/wallet-core/internal/chain"
	"github.com/solvault/wallet-core/internal/chain/chaintest"
	"github.com/solvault/wallet-core/internal/errs"
)

var usdcMint = solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")

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

func tokenAccountBytes(mint, owner solana.PublicKey, amount uint64) []byte {
	data := make([]byte, 0, 165)
	data = append(data, mint[:]...)
	data = append(data, owner[:]...)
	data = binary.LittleEndian.AppendUint64(data, amount)
	data = append(data, make([]byte, 4+32)...)
	data = append(data, 1)
	data = append(data, make([]byte, 4+8)...)
	data = append(data, make([]byte, 8)...)
	data = append(data, make([]byte, 4+32)...)
	return data
}

func TestHoldings(t *testing.T) {
	owner := solana.NewWallet().PublicKey()
	emptyMint := solana.NewWallet().PublicKey()

	client := &chaintest.Client{
		GetBalanceFunc: func(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error) {
			return &rpc.GetBalanceResult{Value: 1_500_000_000}, nil
		},
		GetTokenAccountsByOwnerFunc: func(ctx context.Context, o solana.PublicKey, conf *rpc.GetTokenAccountsConfig, opts *rpc.GetTokenAccountsOpts) (*rpc.GetTokenAccountsResult, error) {
			if !o.Equals(owner) {
				t.Errorf("queried owner = %s", o)
			}
			return &rpc.GetTokenAccountsResult{Value: []*rpc.TokenAccount{
				{Account: rpc.Account{Data: accountData(t, tokenAccountBytes(usdcMint, owner, 2_500_000))}},
				{Account: rpc.Account{Data: accountData(t, tokenAccountBytes(emptyMint, owner, 0))}},
				{}, // no account data
				nil,
			}}, nil
		},
	}
	s := New(client, chain.NewRegistry(client), nil)

	holdings, err := s.Holdings(context.Background(), owner)
	if err != nil {
		t.Fatalf("Holdings: %v", err)
	}
	if len(holdings) != 2 {
		t.Fatalf("holdings = %+v, want native + USDC", holdings)
	}

	native := holdings[0]
	if native.AssetID != chain.NativeAssetID || native.Symbol != "SOL" {
		t.Errorf("native holding = %+v", native)
	}
	if native.Amount != "1.500000000" {
		t.Errorf("native amount = %q", native.Amount)
	}

	usdc := holdings[1]
	if usdc.AssetID != usdcMint.String() || usdc.Symbol != "USDC" {
		t.Errorf("token holding = %+v", usdc)
	}
	if usdc.Amount != "2.500000" {
		t.Errorf("token amount = %q", usdc.Amount)
	}
	if usdc.Collectible {
		t.Error("USDC should not read as collectible")
	}
}

func TestHoldingsNetworkError(t *testing.T) {
	client := &chaintest.Client{
		GetBalanceFunc: func(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error) {
			return nil, errors.New("rpc down")
		},
	}
	s := New(client, chain.NewRegistry(client), nil)

	if _, err := s.Holdings(context.Background(), solana.NewWallet().PublicKey()); !errors.Is(err, errs.ErrNetworkUnavailable) {
		t.Errorf("err = %v, want ErrNetworkUnavailable", err)
	}
}

func TestHoldingsRejectsZeroOwner(t *testing.T) {
	s := New(&chaintest.Client{}, nil, nil)
	if _, err := s.Holdings(context.Background(), solana.PublicKey{}); !errors.Is(err, errs.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}
