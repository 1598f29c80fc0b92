package blockchain

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// BuildAndSubmit assembles instructions into one transaction paid by feePayer,
// signs it with feePayer and the extra signers, and submits it for confirmation.
// The whole instruction list lands atomically or not at all.
func BuildAndSubmit(ctx context.Context, lc LedgerClient, instructions []solana.Instruction, feePayer solana.PrivateKey, signers ...solana.PrivateKey) (solana.Signature, error) {
	if len(feePayer) == 0 {
		return solana.Signature{}, fmt.Errorf("fee payer key is required")
	}

	blockhash, err := lc.GetLatestBlockhash(ctx)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to fetch latest blockhash: %w", err)
	}

	tx, err := solana.NewTransaction(instructions, blockhash, solana.TransactionPayer(feePayer.PublicKey()))
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to build transaction: %w", err)
	}

	keys := append([]solana.PrivateKey{feePayer}, signers...)
	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		for i := range keys {
			if keys[i].PublicKey().Equals(key) {
				return &keys[i]
			}
		}
		return nil
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	return lc.SendAndConfirmTransaction(ctx, tx)
}
