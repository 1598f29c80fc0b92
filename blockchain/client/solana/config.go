package solana

import (
	"fmt"
	"os"
	"path/filepath"

	"proofanchor/blockchain/programs/compressedtoken"
	"proofanchor/blockchain/types"

	sol "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// StateTreeConfig is one statically configured state tree triple
type StateTreeConfig struct {
	Tree       string `yaml:"tree"`
	Queue      string `yaml:"queue"`
	CpiContext string `yaml:"cpi_context"`
}

// ProgramsConfig overrides the compression program addresses for a cluster
type ProgramsConfig struct {
	CompressedToken    string `yaml:"compressed_token"`
	LightSystem        string `yaml:"light_system"`
	AccountCompression string `yaml:"account_compression"`
	Noop               string `yaml:"noop"`
	RegisteredProgram  string `yaml:"registered_program"`
}

// SolanaConfig stores Solana-specific configuration
type SolanaConfig struct {
	// --- RPC Connection ---
	RPCEndpoint string `yaml:"rpc_endpoint" envconfig:"RPC_ENDPOINT"`
	Commitment  string `yaml:"commitment"` // confirmed | finalized

	// --- Signing Credentials ---
	FeePayerKeyPath      string `yaml:"fee_payer_key_path"` // solana-keygen JSON file
	FeePayerKey          string `yaml:"fee_payer_key" envconfig:"FEE_PAYER_KEY"` // base58, wins over the path
	MasterMint           string `yaml:"master_mint" envconfig:"MASTER_MINT"`
	MintAuthorityKeyPath string `yaml:"mint_authority_key_path"`
	MintAuthorityKey     string `yaml:"mint_authority_key" envconfig:"MINT_AUTHORITY_KEY"`

	// --- Compression Deployment ---
	Programs              ProgramsConfig    `yaml:"programs"`
	StateTreeLookupTables []string          `yaml:"state_tree_lookup_tables"`
	NullifiedLookupTables []string          `yaml:"nullified_lookup_tables"`
	StateTrees            []StateTreeConfig `yaml:"state_trees"` // Used when no lookup table is configured
}

// LoadSolanaConfig loads Solana configuration from the specified YAML file path and
// applies ANCHOR_* environment overrides.
func LoadSolanaConfig(path string) (*SolanaConfig, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("unable to get absolute path of Solana config file: %w", err)
	}

	fmt.Printf("Loading Solana configuration from '%s'...\n", absPath)

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read Solana config file '%s': %w", absPath, err)
	}

	var cfg SolanaConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse Solana YAML config file: %w", err)
	}
	if err := envconfig.Process("ANCHOR", &cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	cfg.SetDefaults()

	fmt.Println("Solana configuration loaded successfully.")
	return &cfg, nil
}

// SetDefaults fills the RPC endpoint and commitment
func (c *SolanaConfig) SetDefaults() {
	if c.RPCEndpoint == "" {
		c.RPCEndpoint = rpc.DevNet_RPC
		fmt.Printf("Warning: rpc_endpoint not set, defaulting to %s\n", c.RPCEndpoint)
	}
	if c.Commitment == "" {
		c.Commitment = string(rpc.CommitmentConfirmed)
	}
}

// CommitmentType returns the configured commitment as an RPC type
func (c *SolanaConfig) CommitmentType() rpc.CommitmentType {
	if c.Commitment == string(rpc.CommitmentFinalized) {
		return rpc.CommitmentFinalized
	}
	return rpc.CommitmentConfirmed
}

// ProgramSet resolves the compression program addresses, defaults first
func (c *SolanaConfig) ProgramSet() (compressedtoken.ProgramSet, error) {
	set := compressedtoken.DefaultProgramSet()
	overrides := []struct {
		value  string
		target *sol.PublicKey
	}{
		{c.Programs.CompressedToken, &set.CompressedToken},
		{c.Programs.LightSystem, &set.LightSystem},
		{c.Programs.AccountCompression, &set.AccountCompression},
		{c.Programs.Noop, &set.Noop},
		{c.Programs.RegisteredProgram, &set.RegisteredProgram},
	}
	for _, o := range overrides {
		if o.value == "" {
			continue
		}
		key, err := sol.PublicKeyFromBase58(o.value)
		if err != nil {
			return set, fmt.Errorf("invalid program address '%s': %w", o.value, err)
		}
		*o.target = key
	}
	return set, nil
}

// LoadSigners resolves the fee payer, the optional master mint and its authority.
// A missing mint authority is not an error here; the provisioner reports it.
func (c *SolanaConfig) LoadSigners() (*types.Signers, error) {
	feePayer, err := loadKey(c.FeePayerKey, c.FeePayerKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load fee payer key: %w", err)
	}
	if feePayer == nil {
		return nil, fmt.Errorf("fee payer key is required (fee_payer_key_path or ANCHOR_FEE_PAYER_KEY)")
	}

	signers := &types.Signers{FeePayer: feePayer}
	if c.MasterMint != "" {
		mint, err := sol.PublicKeyFromBase58(c.MasterMint)
		if err != nil {
			return nil, fmt.Errorf("invalid master_mint '%s': %w", c.MasterMint, err)
		}
		signers.MasterMint = &mint
	}
	signers.MintAuthority, err = loadKey(c.MintAuthorityKey, c.MintAuthorityKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load mint authority key: %w", err)
	}
	return signers, nil
}

func loadKey(encoded, path string) (sol.PrivateKey, error) {
	if encoded != "" {
		return sol.PrivateKeyFromBase58(encoded)
	}
	if path == "" {
		return nil, nil
	}
	return sol.PrivateKeyFromSolanaKeygenFile(path)
}
