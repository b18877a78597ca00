package simulate

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/solvault/wallet-core/internal/chain"
	"github.com/solvault/wallet-core/internal/chain/chaintest"
	"github.com/solvault/wallet-core/internal/fees"
)

func newTestSimulator(client *chaintest.Client) *Simulator {
	registry := chain.NewRegistry(client)
	lookups := chain.NewLookupResolver(client)
	estimator := fees.New(client, nil)
	return New(client, registry, lookups, estimator, nil)
}

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

// tokenAccountBytes builds the 165-byte on-chain SPL token account layout.
func tokenAccountBytes(mint, owner solana.PublicKey, amount uint64) []byte {
	data := make([]byte, 0, tokenAccountDataSize)
	data = append(data, mint[:]...)
	data = append(data, owner[:]...)
	data = binary.LittleEndian.AppendUint64(data, amount)
	data = append(data, make([]byte, 4+32)...) // no delegate
	data = append(data, 1)                     // state: initialized
	data = append(data, make([]byte, 4+8)...)  // not wrapped SOL
	data = append(data, make([]byte, 8)...)    // delegated amount
	data = append(data, make([]byte, 4+32)...) // no close authority
	return data
}

// mintBytes builds the 82-byte on-chain SPL mint layout.
func mintBytes(decimals uint8, supply uint64) []byte {
	data := make([]byte, 0, 82)
	data = append(data, make([]byte, 4+32)...) // no mint authority
	data = binary.LittleEndian.AppendUint64(data, supply)
	data = append(data, decimals)
	data = append(data, 1)                     // initialized
	data = append(data, make([]byte, 4+32)...) // no freeze authority
	return data
}

func serializedTransfer(t *testing.T, sender, recipient solana.PublicKey, amount uint64) []byte {
	t.Helper()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{system.NewTransferInstruction(amount, sender, recipient).Build()},
		solana.Hash{},
		solana.TransactionPayer(sender),
	)
	if err != nil {
		t.Fatal(err)
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func stubTiers(client *chaintest.Client) {
	client.GetRecentPrioritizationFeesFunc = func(ctx context.Context, accounts solana.PublicKeySlice) ([]rpc.PriorizationFeeResult, error) {
		return []rpc.PriorizationFeeResult{{PrioritizationFee: 1_000}}, nil
	}
}

func TestSimulateNativeTransfer(t *testing.T) {
	wallet := solana.NewWallet().PublicKey()
	recipient := solana.NewWallet().PublicKey()
	raw := serializedTransfer(t, wallet, recipient, 1_000_000)

	units := uint64(150)
	client := &chaintest.Client{
		GetMultipleAccountsFunc: func(ctx context.Context, accounts ...solana.PublicKey) (*rpc.GetMultipleAccountsResult, error) {
			// sender, recipient, system program
			return &rpc.GetMultipleAccountsResult{Value: []*rpc.Account{
				{Lamports: 10_000_000},
				{Lamports: 0},
				{Lamports: 1},
			}}, nil
		},
		SimulateTransactionWithOptsFunc: func(ctx context.Context, tx *solana.Transaction, opts *rpc.SimulateTransactionOpts) (*rpc.SimulateTransactionResponse, error) {
			return &rpc.SimulateTransactionResponse{Value: &rpc.SimulateTransactionResult{
				UnitsConsumed: &units,
				Accounts: []*rpc.Account{
					{Lamports: 8_995_000},
					{Lamports: 1_000_000},
					{Lamports: 1},
				},
			}}, nil
		},
	}
	stubTiers(client)

	preview, err := newTestSimulator(client).Simulate(context.Background(), raw, wallet)
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	if !preview.Success {
		t.Fatalf("preview failed: %s", preview.ErrorMessage)
	}
	if preview.FeePayerAddress != wallet.String() {
		t.Errorf("fee payer = %s", preview.FeePayerAddress)
	}

	if len(preview.FeePayerAssetChanges) != 1 {
		t.Fatalf("wallet changes = %+v", preview.FeePayerAssetChanges)
	}
	got := preview.FeePayerAssetChanges[0]
	if got.AssetID != chain.NativeAssetID || got.RawDelta != -1_005_000 {
		t.Errorf("wallet change = %+v", got)
	}

	if len(preview.OtherAccountAssetChanges) != 1 {
		t.Fatalf("other changes = %+v", preview.OtherAccountAssetChanges)
	}
	other := preview.OtherAccountAssetChanges[0]
	if other.OwnerAddress != recipient.String() || other.RawDelta != 1_000_000 {
		t.Errorf("recipient change = %+v", other)
	}

	if preview.PriorityFeeTiers == nil {
		t.Error("expected priority fee tiers")
	}
	if preview.BaseFeeLamports != fees.LamportsPerSignature {
		t.Errorf("base fee = %d", preview.BaseFeeLamports)
	}
}

func TestSimulateFailureYieldsCause(t *testing.T) {
	wallet := solana.NewWallet().PublicKey()
	raw := serializedTransfer(t, wallet, solana.NewWallet().PublicKey(), 1)

	client := &chaintest.Client{
		GetMultipleAccountsFunc: func(ctx context.Context, accounts ...solana.PublicKey) (*rpc.GetMultipleAccountsResult, error) {
			return &rpc.GetMultipleAccountsResult{}, nil
		},
		SimulateTransactionWithOptsFunc: func(ctx context.Context, tx *solana.Transaction, opts *rpc.SimulateTransactionOpts) (*rpc.SimulateTransactionResponse, error) {
			return &rpc.SimulateTransactionResponse{Value: &rpc.SimulateTransactionResult{
				Err:  map[string]any{"InstructionError": []any{0, "Custom"}},
				Logs: []string{"Transfer: insufficient lamports 1, need 2"},
			}}, nil
		},
	}

	preview, err := newTestSimulator(client).Simulate(context.Background(), raw, wallet)
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	if preview.Success {
		t.Fatal("failed simulation must not read as success")
	}
	if preview.ErrorMessage != "Insufficient SOL to complete this transaction." {
		t.Errorf("cause = %q", preview.ErrorMessage)
	}
	if len(preview.FeePayerAssetChanges) != 0 {
		t.Error("failed preview should carry no asset changes")
	}
}

func TestSimulateCollectibleTransfer(t *testing.T) {
	wallet := solana.NewWallet()
	owner := wallet.PublicKey()
	other := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()

	source, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		t.Fatal(err)
	}
	dest, _, err := solana.FindAssociatedTokenAddress(other, mint)
	if err != nil {
		t.Fatal(err)
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			token.NewTransferCheckedInstruction(1, 0, source, mint, dest, owner, []solana.PublicKey{}).Build(),
		},
		solana.Hash{},
		solana.TransactionPayer(owner),
	)
	if err != nil {
		t.Fatal(err)
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}

	tokenAccount := func(acctOwner solana.PublicKey, amount uint64) *rpc.Account {
		return &rpc.Account{
			Lamports: 2_039_280,
			Owner:    solana.TokenProgramID,
			Data:     accountData(t, tokenAccountBytes(mint, acctOwner, amount)),
		}
	}
	pre := map[solana.PublicKey]*rpc.Account{
		source: tokenAccount(owner, 5),
		dest:   tokenAccount(other, 0),
	}
	post := map[solana.PublicKey]*rpc.Account{
		source: tokenAccount(owner, 4),
		dest:   tokenAccount(other, 1),
	}
	lookup := func(m map[solana.PublicKey]*rpc.Account, keys []solana.PublicKey) []*rpc.Account {
		out := make([]*rpc.Account, len(keys))
		for i, k := range keys {
			if acct, ok := m[k]; ok {
				out[i] = acct
			} else {
				out[i] = &rpc.Account{Lamports: 1}
			}
		}
		return out
	}

	units := uint64(4_000)
	var simKeys []solana.PublicKey
	client := &chaintest.Client{
		GetMultipleAccountsFunc: func(ctx context.Context, accounts ...solana.PublicKey) (*rpc.GetMultipleAccountsResult, error) {
			return &rpc.GetMultipleAccountsResult{Value: lookup(pre, accounts)}, nil
		},
		SimulateTransactionWithOptsFunc: func(ctx context.Context, tx *solana.Transaction, opts *rpc.SimulateTransactionOpts) (*rpc.SimulateTransactionResponse, error) {
			if opts.Accounts != nil {
				simKeys = opts.Accounts.Addresses
			}
			return &rpc.SimulateTransactionResponse{Value: &rpc.SimulateTransactionResult{
				UnitsConsumed: &units,
				Accounts:      lookup(post, simKeys),
			}}, nil
		},
		GetAccountInfoFunc: func(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
			if account.Equals(mint) {
				return &rpc.GetAccountInfoResult{Value: &rpc.Account{
					Owner: solana.TokenProgramID,
					Data:  accountData(t, mintBytes(0, 1)),
				}}, nil
			}
			return nil, rpc.ErrNotFound
		},
	}
	stubTiers(client)

	preview, err := newTestSimulator(client).Simulate(context.Background(), raw, owner)
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	if !preview.Success {
		t.Fatalf("preview failed: %s", preview.ErrorMessage)
	}

	var outgoing, incoming *AssetChange
	for i := range preview.FeePayerAssetChanges {
		if preview.FeePayerAssetChanges[i].AssetID == mint.String() {
			outgoing = &preview.FeePayerAssetChanges[i]
		}
	}
	for i := range preview.OtherAccountAssetChanges {
		if preview.OtherAccountAssetChanges[i].AssetID == mint.String() {
			incoming = &preview.OtherAccountAssetChanges[i]
		}
	}
	if outgoing == nil || incoming == nil {
		t.Fatalf("changes = %+v / %+v", preview.FeePayerAssetChanges, preview.OtherAccountAssetChanges)
	}
	if outgoing.RawDelta != -1 || incoming.RawDelta != 1 {
		t.Errorf("deltas = %d / %d, want -1 / +1", outgoing.RawDelta, incoming.RawDelta)
	}
	if !outgoing.IsCollectibleLike {
		t.Error("zero-decimals single-unit transfer should read as collectible")
	}

	found := false
	for _, alert := range preview.Alerts {
		if alert == "A collectible is leaving this wallet." {
			found = true
		}
	}
	if !found {
		t.Errorf("alerts = %v, want collectible warning", preview.Alerts)
	}
}

func TestSimulateUnknownMintNotCollectible(t *testing.T) {
	wallet := solana.NewWallet()
	owner := wallet.PublicKey()
	other := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()

	source, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		t.Fatal(err)
	}
	dest, _, err := solana.FindAssociatedTokenAddress(other, mint)
	if err != nil {
		t.Fatal(err)
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			token.NewTransferInstruction(1, source, dest, owner, []solana.PublicKey{}).Build(),
		},
		solana.Hash{},
		solana.TransactionPayer(owner),
	)
	if err != nil {
		t.Fatal(err)
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}

	tokenAccount := func(acctOwner solana.PublicKey, amount uint64) *rpc.Account {
		return &rpc.Account{
			Lamports: 2_039_280,
			Owner:    solana.TokenProgramID,
			Data:     accountData(t, tokenAccountBytes(mint, acctOwner, amount)),
		}
	}
	pre := map[solana.PublicKey]*rpc.Account{
		source: tokenAccount(owner, 5),
		dest:   tokenAccount(other, 0),
	}
	post := map[solana.PublicKey]*rpc.Account{
		source: tokenAccount(owner, 4),
		dest:   tokenAccount(other, 1),
	}
	lookup := func(m map[solana.PublicKey]*rpc.Account, keys []solana.PublicKey) []*rpc.Account {
		out := make([]*rpc.Account, len(keys))
		for i, k := range keys {
			if acct, ok := m[k]; ok {
				out[i] = acct
			} else {
				out[i] = &rpc.Account{Lamports: 1}
			}
		}
		return out
	}

	units := uint64(4_000)
	var simKeys []solana.PublicKey
	client := &chaintest.Client{
		GetMultipleAccountsFunc: func(ctx context.Context, accounts ...solana.PublicKey) (*rpc.GetMultipleAccountsResult, error) {
			return &rpc.GetMultipleAccountsResult{Value: lookup(pre, accounts)}, nil
		},
		SimulateTransactionWithOptsFunc: func(ctx context.Context, tx *solana.Transaction, opts *rpc.SimulateTransactionOpts) (*rpc.SimulateTransactionResponse, error) {
			if opts.Accounts != nil {
				simKeys = opts.Accounts.Addresses
			}
			return &rpc.SimulateTransactionResponse{Value: &rpc.SimulateTransactionResult{
				UnitsConsumed: &units,
				Accounts:      lookup(post, simKeys),
			}}, nil
		},
		// The mint and its metadata account both resolve to nothing.
		GetAccountInfoFunc: func(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
			return nil, rpc.ErrNotFound
		},
	}
	stubTiers(client)

	preview, err := newTestSimulator(client).Simulate(context.Background(), raw, owner)
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	if !preview.Success {
		t.Fatalf("preview failed: %s", preview.ErrorMessage)
	}

	var outgoing *AssetChange
	for i := range preview.FeePayerAssetChanges {
		if preview.FeePayerAssetChanges[i].AssetID == mint.String() {
			outgoing = &preview.FeePayerAssetChanges[i]
		}
	}
	if outgoing == nil {
		t.Fatalf("changes = %+v", preview.FeePayerAssetChanges)
	}
	if outgoing.RawDelta != -1 {
		t.Errorf("delta = %d, want -1", outgoing.RawDelta)
	}
	if outgoing.IsCollectibleLike {
		t.Error("an unresolvable mint must not read as collectible")
	}
	for _, alert := range preview.Alerts {
		if alert == "A collectible is leaving this wallet." {
			t.Error("collectible alert raised for an unresolvable mint")
		}
	}
}

func TestSimulateRejectsGarbage(t *testing.T) {
	client := &chaintest.Client{}
	if _, err := newTestSimulator(client).Simulate(context.Background(), []byte{0x01, 0x02}, solana.PublicKey{}); err == nil {
		t.Error("expected decode error")
	}
}
