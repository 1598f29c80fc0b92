package token2022

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// ProgramID is the Token-2022 program
var ProgramID = solana.Token2022ProgramID

const (
	// MintWithMetadataPointerSize is the account size of a mint carrying only the
	// MetadataPointer extension: base account padded to 165, account type byte,
	// one TLV entry (2 type + 2 length + 64 payload).
	MintWithMetadataPointerSize = 234

	// tlvHeaderSize prefixes every variable-length extension entry
	tlvHeaderSize = 4

	InstructionMintTo                   = 7
	InstructionInitializeMint2          = 20
	InstructionMetadataPointerExtension = 39
	metadataPointerInitialize           = 0

	// Field::Key variant in the token-metadata interface
	metadataFieldKey = 3
)

var (
	initializeMetadataDiscriminator = interfaceDiscriminator("spl_token_metadata_interface:initialize_account")
	updateFieldDiscriminator        = interfaceDiscriminator("spl_token_metadata_interface:updating_field")
)

func interfaceDiscriminator(name string) []byte {
	sum := sha256.Sum256([]byte(name))
	return sum[:8]
}

// Attribute is one additional key/value pair stored in the token metadata
type Attribute struct {
	Key   string
	Value string
}

// Metadata is the on-mint metadata written by the token-metadata interface
type Metadata struct {
	UpdateAuthority solana.PublicKey
	Mint            solana.PublicKey
	Name            string
	Symbol          string
	URI             string
	Attributes      []Attribute
}

// PackedLen returns the borsh-encoded length of the metadata
func (m Metadata) PackedLen() int {
	n := 32 + 32 + 4 + len(m.Name) + 4 + len(m.Symbol) + 4 + len(m.URI) + 4
	for _, a := range m.Attributes {
		n += 4 + len(a.Key) + 4 + len(a.Value)
	}
	return n
}

// MetadataTLVSize is the space the metadata extension adds to the mint once written
func (m Metadata) MetadataTLVSize() int {
	return tlvHeaderSize + m.PackedLen()
}

// NewInitializeMetadataPointerInstruction points the mint's metadata at metadataAddress
func NewInitializeMetadataPointerInstruction(mint, authority, metadataAddress solana.PublicKey) solana.Instruction {
	data := make([]byte, 0, 2+64)
	data = append(data, InstructionMetadataPointerExtension, metadataPointerInitialize)
	data = append(data, authority[:]...)
	data = append(data, metadataAddress[:]...)
	return solana.NewInstruction(ProgramID, solana.AccountMetaSlice{
		solana.Meta(mint).WRITE(),
	}, data)
}

// NewInitializeMint2Instruction initializes a mint without requiring the rent sysvar
func NewInitializeMint2Instruction(mint solana.PublicKey, decimals uint8, mintAuthority solana.PublicKey, freezeAuthority *solana.PublicKey) solana.Instruction {
	data := make([]byte, 0, 67)
	data = append(data, InstructionInitializeMint2, decimals)
	data = append(data, mintAuthority[:]...)
	if freezeAuthority != nil {
		data = append(data, 1)
		data = append(data, freezeAuthority[:]...)
	} else {
		data = append(data, 0)
	}
	return solana.NewInstruction(ProgramID, solana.AccountMetaSlice{
		solana.Meta(mint).WRITE(),
	}, data)
}

// NewInitializeMetadataInstruction writes name, symbol and uri into the mint
func NewInitializeMetadataInstruction(mint, updateAuthority, mintAuthority solana.PublicKey, name, symbol, uri string) (solana.Instruction, error) {
	buf := new(bytes.Buffer)
	buf.Write(initializeMetadataDiscriminator)
	enc := bin.NewBorshEncoder(buf)
	for _, s := range []string{name, symbol, uri} {
		if err := enc.WriteRustString(s); err != nil {
			return nil, fmt.Errorf("failed to encode metadata string: %w", err)
		}
	}
	return solana.NewInstruction(ProgramID, solana.AccountMetaSlice{
		solana.Meta(mint).WRITE(),
		solana.Meta(updateAuthority),
		solana.Meta(mint),
		solana.Meta(mintAuthority).SIGNER(),
	}, buf.Bytes()), nil
}

// NewUpdateFieldInstruction sets one additional metadata key
func NewUpdateFieldInstruction(mint, updateAuthority solana.PublicKey, key, value string) (solana.Instruction, error) {
	buf := new(bytes.Buffer)
	buf.Write(updateFieldDiscriminator)
	enc := bin.NewBorshEncoder(buf)
	if err := enc.WriteUint8(metadataFieldKey); err != nil {
		return nil, err
	}
	if err := enc.WriteRustString(key); err != nil {
		return nil, fmt.Errorf("failed to encode metadata key: %w", err)
	}
	if err := enc.WriteRustString(value); err != nil {
		return nil, fmt.Errorf("failed to encode metadata value: %w", err)
	}
	return solana.NewInstruction(ProgramID, solana.AccountMetaSlice{
		solana.Meta(mint).WRITE(),
		solana.Meta(updateAuthority).SIGNER(),
	}, buf.Bytes()), nil
}

// NewMintToInstruction mints amount base units of mint into destination
func NewMintToInstruction(mint, destination, authority solana.PublicKey, amount uint64) solana.Instruction {
	data := make([]byte, 9)
	data[0] = InstructionMintTo
	binary.LittleEndian.PutUint64(data[1:], amount)
	return solana.NewInstruction(ProgramID, solana.AccountMetaSlice{
		solana.Meta(mint).WRITE(),
		solana.Meta(destination).WRITE(),
		solana.Meta(authority).SIGNER(),
	}, data)
}

// FindAssociatedTokenAddress derives the Token-2022 associated token account of owner
func FindAssociatedTokenAddress(owner, mint solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress([][]byte{
		owner[:],
		ProgramID[:],
		mint[:],
	}, solana.SPLAssociatedTokenAccountProgramID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive associated token address: %w", err)
	}
	return addr, nil
}

// NewCreateAssociatedTokenAccountInstruction creates the Token-2022 associated token
// account of owner. It is not idempotent: an existing account rejects with
// "already in use".
func NewCreateAssociatedTokenAccountInstruction(payer, owner, mint solana.PublicKey) (solana.Instruction, solana.PublicKey, error) {
	ata, err := FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return nil, solana.PublicKey{}, err
	}
	return solana.NewInstruction(solana.SPLAssociatedTokenAccountProgramID, solana.AccountMetaSlice{
		solana.Meta(payer).WRITE().SIGNER(),
		solana.Meta(ata).WRITE(),
		solana.Meta(owner),
		solana.Meta(mint),
		solana.Meta(solana.SystemProgramID),
		solana.Meta(ProgramID),
	}, []byte{}), ata, nil
}

// IsInitializeMetadata reports whether data is a token-metadata initialize instruction
func IsInitializeMetadata(data []byte) bool {
	return bytes.HasPrefix(data, initializeMetadataDiscriminator)
}

// IsUpdateField reports whether data is a token-metadata field update
func IsUpdateField(data []byte) bool {
	return bytes.HasPrefix(data, updateFieldDiscriminator)
}
