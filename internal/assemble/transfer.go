// Package assemble builds unsigned transfer transactions from semantic
// intents: native transfers, SPL token transfers with destination-account
// provisioning, and batch collectible transfers.
package assemble

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/solvault/wallet-core/internal/chain"
	"github.com/solvault/wallet-core/internal/errs"
)

// UnsignedTx is a fee-payer-stamped unsigned message, ready for simulation
// or signing. Keeping the instruction list (rather than compiled bytes)
// lets the signer rebuild against a fresh blockhash and prepend
// compute-budget instructions without decompiling.
type UnsignedTx struct {
	FeePayer      solana.PublicKey
	Instructions  []solana.Instruction
	AddressTables map[solana.PublicKey]solana.PublicKeySlice
}

// Build compiles the message against a blockhash.
func (u *UnsignedTx) Build(blockhash solana.Hash) (*solana.Transaction, error) {
	opts := []solana.TransactionOption{solana.TransactionPayer(u.FeePayer)}
	if len(u.AddressTables) > 0 {
		opts = append(opts, solana.TransactionAddressTables(u.AddressTables))
	}
	tx, err := solana.NewTransaction(u.Instructions, blockhash, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build transaction: %w", err)
	}
	return tx, nil
}

// Serialize compiles and marshals the unsigned transaction for simulation.
func (u *UnsignedTx) Serialize(blockhash solana.Hash) ([]byte, error) {
	tx, err := u.Build(blockhash)
	if err != nil {
		return nil, err
	}
	data, err := tx.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize transaction: %w", err)
	}
	return data, nil
}

// Assembler turns transfer intents into unsigned transactions.
type Assembler struct {
	client   chain.Client
	registry *chain.Registry
}

// New creates an assembler.
func New(client chain.Client, registry *chain.Registry) *Assembler {
	return &Assembler{client: client, registry: registry}
}

// BuildTransfer builds a transfer of amount (smallest units) from sender to
// recipient. mint nil means the native asset. For token transfers a missing
// destination token account is provisioned with sender as payer; a
// pre-existing destination account owned by anything but the token program
// is rejected.
func (a *Assembler) BuildTransfer(ctx context.Context, sender, recipient solana.PublicKey, amount uint64, mint *solana.PublicKey) (*UnsignedTx, error) {
	if amount == 0 {
		return nil, fmt.Errorf("%w: amount must be positive", errs.ErrInvalidInput)
	}
	if sender.IsZero() || recipient.IsZero() {
		return nil, fmt.Errorf("%w: sender and recipient are required", errs.ErrInvalidInput)
	}

	if mint == nil {
		return &UnsignedTx{
			FeePayer: sender,
			Instructions: []solana.Instruction{
				system.NewTransferInstruction(amount, sender, recipient).Build(),
			},
		}, nil
	}

	info, err := a.registry.Lookup(ctx, *mint)
	if err != nil {
		return nil, err
	}

	instructions, err := a.tokenTransferInstructions(ctx, sender, recipient, *mint, amount, info.Decimals)
	if err != nil {
		return nil, err
	}
	return &UnsignedTx{FeePayer: sender, Instructions: instructions}, nil
}

// BuildBatchCollectibleTransfer moves one unit of each collectible mint to
// the recipient in a single transaction, provisioning destination accounts
// as needed.
func (a *Assembler) BuildBatchCollectibleTransfer(ctx context.Context, sender, recipient solana.PublicKey, mints []solana.PublicKey) (*UnsignedTx, error) {
	if len(mints) == 0 {
		return nil, fmt.Errorf("%w: at least one collectible is required", errs.ErrInvalidInput)
	}

	var instructions []solana.Instruction
	for _, mint := range mints {
		ixs, err := a.tokenTransferInstructions(ctx, sender, recipient, mint, 1, 0)
		if err != nil {
			return nil, err
		}
		instructions = append(instructions, ixs...)
	}
	return &UnsignedTx{FeePayer: sender, Instructions: instructions}, nil
}

// tokenTransferInstructions returns provision-if-needed plus
// transfer-checked instructions for one mint.
func (a *Assembler) tokenTransferInstructions(ctx context.Context, sender, recipient, mint solana.PublicKey, amount uint64, decimals uint8) ([]solana.Instruction, error) {
	source, _, err := solana.FindAssociatedTokenAddress(sender, mint)
	if err != nil {
		return nil, fmt.Errorf("failed to find source token account address: %w", err)
	}
	dest, _, err := solana.FindAssociatedTokenAddress(recipient, mint)
	if err != nil {
		return nil, fmt.Errorf("failed to find destination token account address: %w", err)
	}

	var instructions []solana.Instruction

	destInfo, err := a.client.GetAccountInfo(ctx, dest)
	switch {
	case errors.Is(err, rpc.ErrNotFound) || (err == nil && destInfo.Value == nil):
		instructions = append(instructions, associatedtokenaccount.NewCreateInstruction(
			sender,    // payer
			recipient, // owner
			mint,
		).Build())
	case err != nil:
		return nil, fmt.Errorf("%w: failed to check destination token account: %v", errs.ErrNetworkUnavailable, err)
	case !destInfo.Value.Owner.Equals(solana.TokenProgramID):
		return nil, fmt.Errorf("%w: destination account %s is owned by %s, not the token program",
			errs.ErrInvalidInput, dest, destInfo.Value.Owner)
	}

	instructions = append(instructions, token.NewTransferCheckedInstruction(
		amount,
		decimals,
		source,
		mint,
		dest,
		sender,
		[]solana.PublicKey{},
	).Build())

	return instructions, nil
}
