// Package chaintest provides a function-field fake of the RPC client
// interface for tests. Unset fields fail loudly instead of returning zero
// values.
package chaintest

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// Client implements chain.Client with overridable behaviour per method.
type Client struct {
	GetLatestBlockhashFunc          func(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	GetAccountInfoFunc              func(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)
	GetMultipleAccountsFunc         func(ctx context.Context, accounts ...solana.PublicKey) (*rpc.GetMultipleAccountsResult, error)
	GetBalanceFunc                  func(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
	GetTokenAccountsByOwnerFunc     func(ctx context.Context, owner solana.PublicKey, conf *rpc.GetTokenAccountsConfig, opts *rpc.GetTokenAccountsOpts) (*rpc.GetTokenAccountsResult, error)
	SimulateTransactionWithOptsFunc func(ctx context.Context, tx *solana.Transaction, opts *rpc.SimulateTransactionOpts) (*rpc.SimulateTransactionResponse, error)
	SendTransactionWithOptsFunc     func(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatusesFunc        func(ctx context.Context, searchTransactionHistory bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
	GetRecentPrioritizationFeesFunc func(ctx context.Context, accounts solana.PublicKeySlice) ([]rpc.PriorizationFeeResult, error)
}

func (c *Client) GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	if c.GetLatestBlockhashFunc == nil {
		return nil, fmt.Errorf("chaintest: GetLatestBlockhash not stubbed")
	}
	return c.GetLatestBlockhashFunc(ctx, commitment)
}

func (c *Client) GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error) {
	if c.GetAccountInfoFunc == nil {
		return nil, fmt.Errorf("chaintest: GetAccountInfo not stubbed")
	}
	return c.GetAccountInfoFunc(ctx, account)
}

func (c *Client) GetMultipleAccounts(ctx context.Context, accounts ...solana.PublicKey) (*rpc.GetMultipleAccountsResult, error) {
	if c.GetMultipleAccountsFunc == nil {
		return nil, fmt.Errorf("chaintest: GetMultipleAccounts not stubbed")
	}
	return c.GetMultipleAccountsFunc(ctx, accounts...)
}

func (c *Client) GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error) {
	if c.GetBalanceFunc == nil {
		return nil, fmt.Errorf("chaintest: GetBalance not stubbed")
	}
	return c.GetBalanceFunc(ctx, account, commitment)
}

func (c *Client) GetTokenAccountsByOwner(ctx context.Context, owner solana.PublicKey, conf *rpc.GetTokenAccountsConfig, opts *rpc.GetTokenAccountsOpts) (*rpc.GetTokenAccountsResult, error) {
	if c.GetTokenAccountsByOwnerFunc == nil {
		return nil, fmt.Errorf("chaintest: GetTokenAccountsByOwner not stubbed")
	}
	return c.GetTokenAccountsByOwnerFunc(ctx, owner, conf, opts)
}

func (c *Client) SimulateTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts *rpc.SimulateTransactionOpts) (*rpc.SimulateTransactionResponse, error) {
	if c.SimulateTransactionWithOptsFunc == nil {
		return nil, fmt.Errorf("chaintest: SimulateTransactionWithOpts not stubbed")
	}
	return c.SimulateTransactionWithOptsFunc(ctx, tx, opts)
}

func (c *Client) SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error) {
	if c.SendTransactionWithOptsFunc == nil {
		return solana.Signature{}, fmt.Errorf("chaintest: SendTransactionWithOpts not stubbed")
	}
	return c.SendTransactionWithOptsFunc(ctx, tx, opts)
}

func (c *Client) GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	if c.GetSignatureStatusesFunc == nil {
		return nil, fmt.Errorf("chaintest: GetSignatureStatuses not stubbed")
	}
	return c.GetSignatureStatusesFunc(ctx, searchTransactionHistory, sigs...)
}

func (c *Client) GetRecentPrioritizationFees(ctx context.Context, accounts solana.PublicKeySlice) ([]rpc.PriorizationFeeResult, error) {
	if c.GetRecentPrioritizationFeesFunc == nil {
		return nil, fmt.Errorf("chaintest: GetRecentPrioritizationFees not stubbed")
	}
	return c.GetRecentPrioritizationFeesFunc(ctx, accounts)
}
