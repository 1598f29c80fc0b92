// Package provision ensures the on-ledger token infrastructure a proof needs: the
// mint, its compression pool and the payer's holding account. Every operation
// queries the ledger before creating and never caches existence across requests.
package provision

import (
	"context"
	"fmt"

	"proofanchor/anchoring/failure"
	blockchain "proofanchor/blockchain/client"
	"proofanchor/blockchain/programs/token2022"
	"proofanchor/blockchain/types"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/sirupsen/logrus"
)

// MintSpec describes the metadata of a freshly created mint
type MintSpec struct {
	Name       string
	Symbol     string
	URI        string
	Decimals   uint8
	Attributes []token2022.Attribute
}

// MintHandle identifies the mint a request anchors with
type MintHandle struct {
	Mint      solana.PublicKey
	Authority solana.PrivateKey
	TxID      string // Empty when an existing master mint was adopted
}

// PoolHandle identifies the compression pool selected for a mint
type PoolHandle struct {
	Mint         solana.PublicKey
	Pool         solana.PublicKey
	TokenProgram solana.PublicKey
	Index        uint8
	Created      bool // This call submitted the creating transaction
}

// HoldingHandle identifies the funded holding account
type HoldingHandle struct {
	Account  solana.PublicKey
	Owner    solana.PublicKey
	MintToTx string
	Existed  bool
}

// Provisioner performs the query-then-create steps against one ledger
type Provisioner struct {
	ledger  blockchain.LedgerClient
	signers *types.Signers
	logger  *logrus.Entry
}

// NewProvisioner creates a provisioner signing with signers
func NewProvisioner(ledger blockchain.LedgerClient, signers *types.Signers, logger *logrus.Entry) *Provisioner {
	return &Provisioner{ledger: ledger, signers: signers, logger: logger}
}

// EnsureMint adopts the configured master mint or creates a new one with spec's
// metadata in a single transaction.
func (p *Provisioner) EnsureMint(ctx context.Context, spec MintSpec) (*MintHandle, *failure.Error) {
	if p.signers.MasterMint != nil {
		if len(p.signers.MintAuthority) == 0 {
			return nil, failure.New(failure.MintAuthorityMissing,
				"master mint %s is configured but no mint authority key is available", p.signers.MasterMint)
		}
		return &MintHandle{Mint: *p.signers.MasterMint, Authority: p.signers.MintAuthority}, nil
	}

	mintKey, err := solana.NewRandomPrivateKey()
	if err != nil {
		return nil, failure.Wrap(failure.MintTxFailed, fmt.Errorf("failed to generate mint key: %w", err))
	}
	mint := mintKey.PublicKey()
	payer := p.signers.FeePayer
	authority := payer.PublicKey()

	metadata := token2022.Metadata{
		UpdateAuthority: authority,
		Mint:            mint,
		Name:            spec.Name,
		Symbol:          spec.Symbol,
		URI:             spec.URI,
		Attributes:      spec.Attributes,
	}
	// Rent covers the metadata written after allocation; the program reallocates.
	lamports, err := p.ledger.GetMinimumBalanceForRentExemption(ctx,
		uint64(token2022.MintWithMetadataPointerSize+metadata.MetadataTLVSize()))
	if err != nil {
		return nil, failure.Wrap(failure.MintTxFailed, fmt.Errorf("failed to fetch rent exemption: %w", err))
	}

	instructions := []solana.Instruction{
		system.NewCreateAccountInstruction(lamports, token2022.MintWithMetadataPointerSize,
			token2022.ProgramID, payer.PublicKey(), mint).Build(),
		token2022.NewInitializeMetadataPointerInstruction(mint, authority, mint),
		token2022.NewInitializeMint2Instruction(mint, spec.Decimals, authority, nil),
	}
	initMetadata, err := token2022.NewInitializeMetadataInstruction(mint, authority, authority,
		spec.Name, spec.Symbol, spec.URI)
	if err != nil {
		return nil, failure.Wrap(failure.MintTxFailed, err)
	}
	instructions = append(instructions, initMetadata)
	for _, attr := range spec.Attributes {
		ix, err := token2022.NewUpdateFieldInstruction(mint, authority, attr.Key, attr.Value)
		if err != nil {
			return nil, failure.Wrap(failure.MintTxFailed, err)
		}
		instructions = append(instructions, ix)
	}

	sig, err := blockchain.BuildAndSubmit(ctx, p.ledger, instructions, payer, mintKey)
	if err != nil {
		p.logger.Warnf("Mint creation for %s rejected: %v", mint, err)
		return nil, failure.Wrap(failure.MintTxFailed, err)
	}
	p.logger.Infof("Created mint %s (tx %s)", mint, sig)
	return &MintHandle{Mint: mint, Authority: payer, TxID: sig.String()}, nil
}

// EnsurePool returns the first initialized pool of mint, creating the index-0 pool
// when none exists. A failed creation is followed by a fresh query so that a racing
// provisioner's pool is adopted.
func (p *Provisioner) EnsurePool(ctx context.Context, mint solana.PublicKey) (*PoolHandle, *failure.Error) {
	pool, err := p.findPool(ctx, mint)
	if err != nil {
		return nil, failure.Wrap(failure.CreatePoolFailed, err)
	}
	if pool != nil {
		return pool, nil
	}

	programs := p.ledger.Programs()
	ix, err := programs.NewCreateTokenPoolInstruction(p.signers.FeePayer.PublicKey(), mint, token2022.ProgramID)
	if err != nil {
		return nil, failure.Wrap(failure.CreatePoolFailed, err)
	}
	_, createErr := blockchain.BuildAndSubmit(ctx, p.ledger, []solana.Instruction{ix}, p.signers.FeePayer)
	if createErr != nil {
		p.logger.Infof("Pool creation for %s not applied (%v), re-querying", mint, createErr)
	}

	pool, err = p.findPool(ctx, mint)
	if err != nil {
		return nil, failure.Wrap(failure.CreatePoolFailed, err)
	}
	if pool == nil {
		if createErr == nil {
			createErr = fmt.Errorf("pool for %s not visible after creation", mint)
		}
		return nil, failure.Wrap(failure.CreatePoolFailed, createErr)
	}
	pool.Created = createErr == nil
	return pool, nil
}

func (p *Provisioner) findPool(ctx context.Context, mint solana.PublicKey) (*PoolHandle, error) {
	pools, err := p.ledger.GetTokenPools(ctx, mint)
	if err != nil {
		return nil, fmt.Errorf("failed to list token pools: %w", err)
	}
	for _, info := range pools {
		if !info.IsInitialized {
			continue
		}
		return &PoolHandle{Mint: mint, Pool: info.PoolPDA, TokenProgram: info.TokenProgram, Index: info.Index}, nil
	}
	return nil, nil
}

// PrepareHoldingAccount creates owner's holding account for the mint and mints amount
// into it in one transaction. An account that already exists is a benign conflict:
// the mint is then submitted alone.
func (p *Provisioner) PrepareHoldingAccount(ctx context.Context, mint *MintHandle, owner solana.PublicKey, amount uint64) (*HoldingHandle, *failure.Error) {
	payer := p.signers.FeePayer
	createIx, ata, err := token2022.NewCreateAssociatedTokenAccountInstruction(payer.PublicKey(), owner, mint.Mint)
	if err != nil {
		return nil, failure.Wrap(failure.PrepareAtaOrMintFailed, err)
	}
	mintIx := token2022.NewMintToInstruction(mint.Mint, ata, mint.Authority.PublicKey(), amount)

	handle := &HoldingHandle{Account: ata, Owner: owner}
	sig, err := blockchain.BuildAndSubmit(ctx, p.ledger, []solana.Instruction{createIx, mintIx}, payer, mint.Authority)
	if err != nil {
		kind := types.ClassifyConflict(err)
		if kind == types.ConflictNone {
			return nil, failure.Wrap(failure.PrepareAtaOrMintFailed, err)
		}
		p.logger.Debugf("Holding account %s already exists (%s), minting only", ata, kind)
		handle.Existed = true
		sig, err = blockchain.BuildAndSubmit(ctx, p.ledger, []solana.Instruction{mintIx}, payer, mint.Authority)
		if err != nil {
			return nil, failure.Wrap(failure.PrepareAtaOrMintFailed, err)
		}
	}
	handle.MintToTx = sig.String()
	return handle, nil
}
