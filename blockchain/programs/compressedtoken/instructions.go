package compressedtoken

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Program IDs of the compression stack. Overridable per cluster through ProgramSet.
var (
	DefaultProgramID                 = solana.MustPublicKeyFromBase58("cTokenmWW8bLPjZEBAUgYy3zKxQZW6VKi7bqNFEVv3m")
	DefaultLightSystemProgramID      = solana.MustPublicKeyFromBase58("SySTEM1eSU2p4BGQfQpimFEWWSC1XDFeun3Nqzz3rT7")
	DefaultAccountCompressionProgram = solana.MustPublicKeyFromBase58("compr6CUsB5m2jS4Y3831ztGSTnDpnKJTKS95d64XVq")
	DefaultNoopProgramID             = solana.MustPublicKeyFromBase58("noopb9bkMVfRPU8AsbpTUg8AQkHtKwMYZiFUjNRtMmV")
	DefaultRegisteredProgramPDA      = solana.MustPublicKeyFromBase58("35hkDgaAKwMCaxRz2ocSZ6NaUrtKkyNqU6c4RV3tYJRh")
)

// MaxPoolIndex is the highest pool slot a mint may use
const MaxPoolIndex = 4

var (
	createTokenPoolDiscriminator = anchorDiscriminator("create_token_pool")
	transferDiscriminator        = anchorDiscriminator("transfer")
)

func anchorDiscriminator(name string) []byte {
	sum := sha256.Sum256([]byte("global:" + name))
	return sum[:8]
}

// ProgramSet holds the program addresses of one cluster's compression deployment
type ProgramSet struct {
	CompressedToken    solana.PublicKey
	LightSystem        solana.PublicKey
	AccountCompression solana.PublicKey
	Noop               solana.PublicKey
	RegisteredProgram  solana.PublicKey
}

// DefaultProgramSet returns the mainnet/devnet deployment addresses
func DefaultProgramSet() ProgramSet {
	return ProgramSet{
		CompressedToken:    DefaultProgramID,
		LightSystem:        DefaultLightSystemProgramID,
		AccountCompression: DefaultAccountCompressionProgram,
		Noop:               DefaultNoopProgramID,
		RegisteredProgram:  DefaultRegisteredProgramPDA,
	}
}

// CpiAuthorityPDA is the compressed-token program's signing authority
func (p ProgramSet) CpiAuthorityPDA() (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{[]byte("cpi_authority")}, p.CompressedToken)
	return addr, err
}

// AccountCompressionAuthority is the light system program's authority over the trees
func (p ProgramSet) AccountCompressionAuthority() (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{[]byte("cpi_authority")}, p.LightSystem)
	return addr, err
}

// FindTokenPoolPDA derives the pool account of mint at index. Index 0 omits the
// index seed.
func (p ProgramSet) FindTokenPoolPDA(mint solana.PublicKey, index uint8) (solana.PublicKey, uint8, error) {
	if index > MaxPoolIndex {
		return solana.PublicKey{}, 0, fmt.Errorf("pool index %d out of range", index)
	}
	seeds := [][]byte{[]byte("pool"), mint[:]}
	if index > 0 {
		seeds = append(seeds, []byte{index})
	}
	return solana.FindProgramAddress(seeds, p.CompressedToken)
}

// NewCreateTokenPoolInstruction registers mint with the compression program by
// creating its index-0 pool account.
func (p ProgramSet) NewCreateTokenPoolInstruction(feePayer, mint, tokenProgram solana.PublicKey) (solana.Instruction, error) {
	pool, _, err := p.FindTokenPoolPDA(mint, 0)
	if err != nil {
		return nil, err
	}
	cpiAuthority, err := p.CpiAuthorityPDA()
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(p.CompressedToken, solana.AccountMetaSlice{
		solana.Meta(feePayer).WRITE().SIGNER(),
		solana.Meta(pool).WRITE(),
		solana.Meta(solana.SystemProgramID),
		solana.Meta(mint).WRITE(),
		solana.Meta(tokenProgram),
		solana.Meta(cpiAuthority),
	}, append([]byte{}, createTokenPoolDiscriminator...)), nil
}

// CompressParams describes a compression of amount units from source into a
// compressed account owned by Recipient in OutputTree.
type CompressParams struct {
	Payer        solana.PublicKey
	Owner        solana.PublicKey // Authority over Source
	Source       solana.PublicKey
	Recipient    solana.PublicKey
	Mint         solana.PublicKey
	Amount       uint64
	Pool         solana.PublicKey
	TokenProgram solana.PublicKey
	OutputTree   solana.PublicKey
}

// NewCompressInstruction builds a transfer instruction in compress mode: no
// compressed inputs, one compressed output, amount debited from the source account.
func (p ProgramSet) NewCompressInstruction(params CompressParams) (solana.Instruction, error) {
	if params.Amount == 0 {
		return nil, fmt.Errorf("compress amount must be positive")
	}
	cpiAuthority, err := p.CpiAuthorityPDA()
	if err != nil {
		return nil, err
	}
	compressionAuthority, err := p.AccountCompressionAuthority()
	if err != nil {
		return nil, err
	}

	payload, err := encodeCompressPayload(params)
	if err != nil {
		return nil, err
	}
	data := make([]byte, 0, 8+4+len(payload))
	data = append(data, transferDiscriminator...)
	data = binary.LittleEndian.AppendUint32(data, uint32(len(payload)))
	data = append(data, payload...)

	return solana.NewInstruction(p.CompressedToken, solana.AccountMetaSlice{
		solana.Meta(params.Payer).WRITE().SIGNER(),
		solana.Meta(params.Owner).SIGNER(),
		solana.Meta(cpiAuthority),
		solana.Meta(p.LightSystem),
		solana.Meta(p.RegisteredProgram),
		solana.Meta(p.Noop),
		solana.Meta(compressionAuthority),
		solana.Meta(p.AccountCompression),
		solana.Meta(p.CompressedToken),
		solana.Meta(params.Pool).WRITE(),
		solana.Meta(params.Source).WRITE(),
		solana.Meta(params.TokenProgram),
		solana.Meta(solana.SystemProgramID),
		// remaining accounts: output tree at merkle_tree_index 0
		solana.Meta(params.OutputTree).WRITE(),
	}, data), nil
}

// encodeCompressPayload borsh-encodes the transfer instruction data:
// proof, mint, delegated_transfer, inputs, outputs, is_compress,
// compress_or_decompress_amount, cpi_context, lamports_change_account_merkle_tree_index.
func encodeCompressPayload(params CompressParams) ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := bin.NewBorshEncoder(buf)

	u32 := func(v uint32) func() error {
		return func() error { return enc.WriteUint32(v, binary.LittleEndian) }
	}
	u64 := func(v uint64) func() error {
		return func() error { return enc.WriteUint64(v, binary.LittleEndian) }
	}
	option := func(present bool) func() error {
		return func() error { return enc.WriteOption(present) }
	}
	key := func(k solana.PublicKey) func() error {
		return func() error { _, err := enc.Write(k[:]); return err }
	}

	steps := []func() error{
		option(false), // proof
		key(params.Mint),
		option(false), // delegated_transfer
		u32(0),        // input_token_data_with_context
		u32(1),        // output_compressed_accounts
		key(params.Recipient),
		u64(params.Amount),
		option(false), // lamports
		func() error { return enc.WriteUint8(0) },
		option(false), // tlv
		func() error { return enc.WriteBool(true) },
		option(true), // compress_or_decompress_amount
		u64(params.Amount),
		option(false), // cpi_context
		option(false), // lamports_change_account_merkle_tree_index
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, fmt.Errorf("failed to encode compress payload: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// IsCreateTokenPool reports whether data is a create_token_pool instruction
func IsCreateTokenPool(data []byte) bool {
	return bytes.HasPrefix(data, createTokenPoolDiscriminator)
}

// IsTransfer reports whether data is a transfer (compress) instruction
func IsTransfer(data []byte) bool {
	return bytes.HasPrefix(data, transferDiscriminator)
}
