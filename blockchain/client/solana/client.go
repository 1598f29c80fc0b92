package solana

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"proofanchor/blockchain/programs/compressedtoken"
	"proofanchor/blockchain/types"
	"proofanchor/config"

	sol "github.com/gagliardetto/solana-go"
	lookup "github.com/gagliardetto/solana-go/programs/address-lookup-table"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/sirupsen/logrus"
)

// Client is the wrapper around the solana-go RPC client
type Client struct {
	rpcClient *rpc.Client
	cfg       *config.LedgerConfig
	solCfg    *SolanaConfig
	programs  compressedtoken.ProgramSet
	logger    *logrus.Entry
}

// NewSolanaClient initializes the RPC client with the combined configuration
func NewSolanaClient(cfg *config.LedgerConfig, logger *logrus.Entry) (*Client, error) {
	solCfg, ok := cfg.ChainSpecific.(*SolanaConfig)
	if !ok {
		return nil, fmt.Errorf("invalid Solana configuration type")
	}
	programs, err := solCfg.ProgramSet()
	if err != nil {
		return nil, err
	}
	if len(solCfg.StateTreeLookupTables) == 0 && len(solCfg.StateTrees) == 0 {
		logger.Warn("No state tree lookup tables or static state trees configured; compression will fail")
	}

	logger.Infof("Solana RPC client initialized for %s (commitment %s)", solCfg.RPCEndpoint, solCfg.Commitment)
	return &Client{
		rpcClient: rpc.New(solCfg.RPCEndpoint),
		cfg:       cfg,
		solCfg:    solCfg,
		programs:  programs,
		logger:    logger,
	}, nil
}

// Config returns the configuration associated with the client.
func (c *Client) Config() any {
	if c.solCfg == nil {
		return &SolanaConfig{}
	}
	return c.solCfg
}

// Programs returns the compression deployment this client targets
func (c *Client) Programs() compressedtoken.ProgramSet {
	return c.programs
}

// Close releases the underlying HTTP transport
func (c *Client) Close() error {
	c.logger.Info("Closing Solana RPC client...")
	if err := c.rpcClient.Close(); err != nil {
		return fmt.Errorf("failed to close Solana RPC client: %w", err)
	}
	return nil
}

// withRetry repeats read-only calls on transport failures. Submissions never go
// through here.
func withRetry[T any](ctx context.Context, c *Client, op string, call func() (T, error)) (T, error) {
	var zero T
	interval := time.Duration(c.cfg.RetryInterval) * time.Millisecond
	var lastErr error
	for attempt := 0; attempt <= c.cfg.RetryLimit; attempt++ {
		out, err := call()
		if err == nil {
			return out, nil
		}
		if errors.Is(err, rpc.ErrNotFound) || isRPCError(err) {
			return zero, err
		}
		lastErr = err
		c.logger.Debugf("%s attempt %d failed: %v", op, attempt+1, err)
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(interval):
		}
	}
	return zero, fmt.Errorf("%s failed after %d attempts: %w", op, c.cfg.RetryLimit+1, lastErr)
}

func isRPCError(err error) bool {
	var rpcErr *jsonrpc.RPCError
	return errors.As(err, &rpcErr)
}

// GetTransaction reads a landed transaction once at the configured commitment
func (c *Client) GetTransaction(ctx context.Context, signature string) (*types.TransactionRecord, error) {
	sig, err := sol.SignatureFromBase58(signature)
	if err != nil {
		return nil, types.ErrTransactionNotFound
	}
	maxVersion := uint64(0)
	res, err := withRetry(ctx, c, "getTransaction", func() (*rpc.GetTransactionResult, error) {
		return c.rpcClient.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
			Encoding:                       sol.EncodingBase64,
			Commitment:                     c.solCfg.CommitmentType(),
			MaxSupportedTransactionVersion: &maxVersion,
		})
	})
	if errors.Is(err, rpc.ErrNotFound) {
		return nil, types.ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read transaction %s: %w", signature, err)
	}

	record := &types.TransactionRecord{Signature: signature, Slot: res.Slot}
	if res.BlockTime != nil {
		t := res.BlockTime.Time()
		record.BlockTime = &t
	}
	if res.Meta != nil {
		record.Err = res.Meta.Err
		record.LogMessages = res.Meta.LogMessages
	}
	return record, nil
}

// GetActiveStateTrees resolves state trees from the configured lookup tables, skipping
// trees listed in the nullified tables. Static trees are used when no table is set.
func (c *Client) GetActiveStateTrees(ctx context.Context) ([]types.StateTreeInfo, error) {
	if len(c.solCfg.StateTreeLookupTables) == 0 {
		return staticStateTrees(c.solCfg.StateTrees)
	}

	nullified := make(map[sol.PublicKey]bool)
	for _, addr := range c.solCfg.NullifiedLookupTables {
		keys, err := c.lookupTableAddresses(ctx, addr)
		if err != nil {
			return nil, err
		}
		for _, k := range keys {
			nullified[k] = true
		}
	}

	var trees []types.StateTreeInfo
	for _, addr := range c.solCfg.StateTreeLookupTables {
		keys, err := c.lookupTableAddresses(ctx, addr)
		if err != nil {
			return nil, err
		}
		// Entries are stored as (tree, queue, cpi context) triples
		for i := 0; i+2 < len(keys); i += 3 {
			if nullified[keys[i]] {
				continue
			}
			trees = append(trees, types.StateTreeInfo{Tree: keys[i], Queue: keys[i+1], CpiContext: keys[i+2]})
		}
	}
	return trees, nil
}

func (c *Client) lookupTableAddresses(ctx context.Context, address string) (sol.PublicKeySlice, error) {
	key, err := sol.PublicKeyFromBase58(address)
	if err != nil {
		return nil, fmt.Errorf("invalid lookup table address '%s': %w", address, err)
	}
	state, err := withRetry(ctx, c, "getAddressLookupTable", func() (*lookup.AddressLookupTableState, error) {
		return lookup.GetAddressLookupTable(ctx, c.rpcClient, key)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read lookup table %s: %w", address, err)
	}
	return state.Addresses, nil
}

func staticStateTrees(trees []StateTreeConfig) ([]types.StateTreeInfo, error) {
	out := make([]types.StateTreeInfo, 0, len(trees))
	for _, t := range trees {
		tree, err := sol.PublicKeyFromBase58(t.Tree)
		if err != nil {
			return nil, fmt.Errorf("invalid state tree '%s': %w", t.Tree, err)
		}
		info := types.StateTreeInfo{Tree: tree}
		if t.Queue != "" {
			if info.Queue, err = sol.PublicKeyFromBase58(t.Queue); err != nil {
				return nil, fmt.Errorf("invalid queue '%s': %w", t.Queue, err)
			}
		}
		if t.CpiContext != "" {
			if info.CpiContext, err = sol.PublicKeyFromBase58(t.CpiContext); err != nil {
				return nil, fmt.Errorf("invalid cpi context '%s': %w", t.CpiContext, err)
			}
		}
		out = append(out, info)
	}
	return out, nil
}

// GetMinimumBalanceForRentExemption returns the rent-exempt balance for dataSize bytes
func (c *Client) GetMinimumBalanceForRentExemption(ctx context.Context, dataSize uint64) (uint64, error) {
	return withRetry(ctx, c, "getMinimumBalanceForRentExemption", func() (uint64, error) {
		return c.rpcClient.GetMinimumBalanceForRentExemption(ctx, dataSize, c.solCfg.CommitmentType())
	})
}

// GetLatestBlockhash returns a recent blockhash
func (c *Client) GetLatestBlockhash(ctx context.Context) (sol.Hash, error) {
	res, err := withRetry(ctx, c, "getLatestBlockhash", func() (*rpc.GetLatestBlockhashResult, error) {
		return c.rpcClient.GetLatestBlockhash(ctx, c.solCfg.CommitmentType())
	})
	if err != nil {
		return sol.Hash{}, err
	}
	return res.Value.Blockhash, nil
}

// SendAndConfirmTransaction submits tx with preflight and polls its status until the
// configured commitment is reached or TimeoutSeconds elapses.
func (c *Client) SendAndConfirmTransaction(ctx context.Context, tx *sol.Transaction) (sol.Signature, error) {
	maxRetries := uint(0)
	sig, err := c.rpcClient.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: c.solCfg.CommitmentType(),
		MaxRetries:          &maxRetries,
	})
	if err != nil {
		return sol.Signature{}, &types.ExecutionError{
			Message:  err.Error(),
			LogLines: preflightLogs(err),
			Err:      err,
		}
	}

	timeout := time.Duration(c.cfg.TimeoutSeconds) * time.Second
	confirmCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	poll, perr := time.ParseDuration(c.cfg.ConfirmPollInterval)
	if perr != nil || poll <= 0 {
		poll = 500 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-confirmCtx.Done():
			return sig, &types.ExecutionError{
				Signature: sig.String(),
				Message:   fmt.Sprintf("confirmation not reached within %s", timeout),
				Err:       confirmCtx.Err(),
			}
		case <-ticker.C:
		}

		res, err := c.rpcClient.GetSignatureStatuses(confirmCtx, false, sig)
		if err != nil || len(res.Value) == 0 || res.Value[0] == nil {
			continue
		}
		status := res.Value[0]
		if status.Err != nil {
			return sig, &types.ExecutionError{
				Signature: sig.String(),
				Message:   fmt.Sprintf("%v", status.Err),
				LogLines:  c.fetchLogs(ctx, sig),
			}
		}
		if c.reachedCommitment(status.ConfirmationStatus) {
			return sig, nil
		}
	}
}

func (c *Client) reachedCommitment(status rpc.ConfirmationStatusType) bool {
	if status == rpc.ConfirmationStatusFinalized {
		return true
	}
	return status == rpc.ConfirmationStatusConfirmed && c.solCfg.CommitmentType() == rpc.CommitmentConfirmed
}

// fetchLogs reads back the logs of a transaction that failed on-chain
func (c *Client) fetchLogs(ctx context.Context, sig sol.Signature) []string {
	maxVersion := uint64(0)
	res, err := c.rpcClient.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
		Encoding:                       sol.EncodingBase64,
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxVersion,
	})
	if err != nil || res.Meta == nil {
		return nil
	}
	return res.Meta.LogMessages
}

// preflightLogs extracts simulation logs from a preflight rejection
func preflightLogs(err error) []string {
	var rpcErr *jsonrpc.RPCError
	if !errors.As(err, &rpcErr) {
		return nil
	}
	data, ok := rpcErr.Data.(map[string]interface{})
	if !ok {
		return nil
	}
	raw, ok := data["logs"].([]interface{})
	if !ok {
		return nil
	}
	logs := make([]string, 0, len(raw))
	for _, line := range raw {
		if s, ok := line.(string); ok {
			logs = append(logs, strings.TrimSpace(s))
		}
	}
	return logs
}

// GetTokenPools lists pool slots 0..MaxPoolIndex of mint with their initialization state
func (c *Client) GetTokenPools(ctx context.Context, mint sol.PublicKey) ([]types.TokenPoolInfo, error) {
	pools := make([]types.TokenPoolInfo, 0, compressedtoken.MaxPoolIndex+1)
	keys := make([]sol.PublicKey, 0, compressedtoken.MaxPoolIndex+1)
	for i := uint8(0); i <= compressedtoken.MaxPoolIndex; i++ {
		pda, bump, err := c.programs.FindTokenPoolPDA(mint, i)
		if err != nil {
			return nil, err
		}
		pools = append(pools, types.TokenPoolInfo{Mint: mint, PoolPDA: pda, Index: i, Bump: bump})
		keys = append(keys, pda)
	}

	res, err := withRetry(ctx, c, "getMultipleAccounts", func() (*rpc.GetMultipleAccountsResult, error) {
		return c.rpcClient.GetMultipleAccountsWithOpts(ctx, keys, &rpc.GetMultipleAccountsOpts{
			Encoding:   sol.EncodingBase64,
			Commitment: c.solCfg.CommitmentType(),
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list token pools for %s: %w", mint, err)
	}
	for i, acct := range res.Value {
		if i >= len(pools) || acct == nil {
			continue
		}
		pools[i].TokenProgram = acct.Owner
		pools[i].IsInitialized = true
	}
	return pools, nil
}
