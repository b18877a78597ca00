// Package chain wraps the Solana RPC boundary: the client interface the rest
// of the core depends on, the memoized connection, address-lookup-table
// resolution and the token registry.
package chain

import (
	"context"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// Client is the subset of the RPC surface wallet-core uses. *rpc.Client
// satisfies it; tests substitute a fake.
type Client interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)
	GetMultipleAccounts(ctx context.Context, accounts ...solana.PublicKey) (*rpc.GetMultipleAccountsResult, error)
	GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
	GetTokenAccountsByOwner(ctx context.Context, owner solana.PublicKey, conf *rpc.GetTokenAccountsConfig, opts *rpc.GetTokenAccountsOpts) (*rpc.GetTokenAccountsResult, error)
	SimulateTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts *rpc.SimulateTransactionOpts) (*rpc.SimulateTransactionResponse, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
	GetRecentPrioritizationFees(ctx context.Context, accounts solana.PublicKeySlice) ([]rpc.PriorizationFeeResult, error)
}

// Conn memoizes one RPC client per endpoint. Concurrent callers share the
// single in-flight initialization instead of racing to open duplicates.
type Conn struct {
	url    string
	once   sync.Once
	client *rpc.Client
}

// NewConn prepares a connection to the given RPC endpoint without dialing.
func NewConn(url string) *Conn {
	return &Conn{url: url}
}

// Client returns the shared RPC client, initializing it on first use.
func (c *Conn) Client() Client {
	c.once.Do(func() {
		c.client = rpc.New(c.url)
	})
	return c.client
}
