package mock

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"proofanchor/blockchain/programs/compressedtoken"
	"proofanchor/blockchain/programs/token2022"
	"proofanchor/blockchain/types"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// InstructionKind names the ledger operations the mock understands
type InstructionKind string

const (
	KindCreateAccount   InstructionKind = "system.create_account"
	KindMetadataPointer InstructionKind = "token2022.metadata_pointer"
	KindInitializeMint  InstructionKind = "token2022.initialize_mint"
	KindInitMetadata    InstructionKind = "token2022.initialize_metadata"
	KindUpdateField     InstructionKind = "token2022.update_field"
	KindMintTo          InstructionKind = "token2022.mint_to"
	KindCreateATA       InstructionKind = "ata.create"
	KindCreatePool      InstructionKind = "compressed_token.create_token_pool"
	KindCompress        InstructionKind = "compressed_token.compress"
	KindMemo            InstructionKind = "memo"
)

// compressAmountOffset locates the output amount in compress instruction data:
// discriminator, length prefix, proof option, mint, delegate option, two vec
// lengths, recipient.
const compressAmountOffset = 8 + 4 + 1 + 32 + 1 + 4 + 4 + 32

// Mint is the ledger view of a Token-2022 mint
type Mint struct {
	Authority  solana.PublicKey
	Decimals   uint8
	Supply     uint64
	Name       string
	Symbol     string
	URI        string
	Attributes map[string]string
}

// CompressedOutput records one compression
type CompressedOutput struct {
	Signature string
	Mint      solana.PublicKey
	Owner     solana.PublicKey
	Tree      solana.PublicKey
	Amount    uint64
}

type tokenAccount struct {
	mint    solana.PublicKey
	owner   solana.PublicKey
	balance uint64
}

type state struct {
	accounts      map[solana.PublicKey]solana.PublicKey // address -> owning program
	mints         map[solana.PublicKey]*Mint
	tokenAccounts map[solana.PublicKey]*tokenAccount
	pools         map[solana.PublicKey]solana.PublicKey // pool PDA -> mint
	compressed    []CompressedOutput
	memos         []string
}

func (s *state) clone() *state {
	c := &state{
		accounts:      make(map[solana.PublicKey]solana.PublicKey, len(s.accounts)),
		mints:         make(map[solana.PublicKey]*Mint, len(s.mints)),
		tokenAccounts: make(map[solana.PublicKey]*tokenAccount, len(s.tokenAccounts)),
		pools:         make(map[solana.PublicKey]solana.PublicKey, len(s.pools)),
		compressed:    append([]CompressedOutput(nil), s.compressed...),
		memos:         append([]string(nil), s.memos...),
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.mints {
		m := *v
		m.Attributes = make(map[string]string, len(v.Attributes))
		for ak, av := range v.Attributes {
			m.Attributes[ak] = av
		}
		c.mints[k] = &m
	}
	for k, v := range s.tokenAccounts {
		a := *v
		c.tokenAccounts[k] = &a
	}
	for k, v := range s.pools {
		c.pools[k] = v
	}
	return c
}

type injectedFailure struct {
	message string
	logs    []string
}

// Ledger is an in-memory LedgerClient. It decodes submitted transactions and applies
// them atomically, rejecting the same conditions a cluster would.
type Ledger struct {
	mu           sync.Mutex
	programs     compressedtoken.ProgramSet
	st           *state
	transactions map[string]*types.TransactionRecord
	trees        []types.StateTreeInfo
	failures     map[InstructionKind]injectedFailure
	readErr      error
	submissions  [][]InstructionKind
	slot         uint64

	// BeforeSubmit, when set, runs before each submission is applied
	BeforeSubmit func(kinds []InstructionKind)
}

// NewLedger returns an empty ledger with one active state tree
func NewLedger() *Ledger {
	return &Ledger{
		programs: compressedtoken.DefaultProgramSet(),
		st: &state{
			accounts:      make(map[solana.PublicKey]solana.PublicKey),
			mints:         make(map[solana.PublicKey]*Mint),
			tokenAccounts: make(map[solana.PublicKey]*tokenAccount),
			pools:         make(map[solana.PublicKey]solana.PublicKey),
		},
		transactions: make(map[string]*types.TransactionRecord),
		trees: []types.StateTreeInfo{{
			Tree:       solana.NewWallet().PublicKey(),
			Queue:      solana.NewWallet().PublicKey(),
			CpiContext: solana.NewWallet().PublicKey(),
		}},
		failures: make(map[InstructionKind]injectedFailure),
		slot:     1,
	}
}

// RandomSigners returns a fresh fee payer with no master mint configured
func RandomSigners() (*types.Signers, error) {
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate fee payer key: %w", err)
	}
	return &types.Signers{FeePayer: key}, nil
}

// AddTransaction registers a landed transaction and returns its signature
func (l *Ledger) AddTransaction() string {
	var sig solana.Signature
	copy(sig[:], solana.NewWallet().PrivateKey[:64])
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recordLocked(sig.String(), nil)
	return sig.String()
}

// AddMint creates a mint outside any transaction, as an operator would for a master mint
func (l *Ledger) AddMint(mint, authority solana.PublicKey, decimals uint8) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.st.accounts[mint] = token2022.ProgramID
	l.st.mints[mint] = &Mint{Authority: authority, Decimals: decimals, Attributes: map[string]string{}}
}

// AddPool creates the index-0 pool of mint outside any transaction
func (l *Ledger) AddPool(mint solana.PublicKey) {
	pda, _, _ := l.programs.FindTokenPoolPDA(mint, 0)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.st.accounts[pda] = token2022.ProgramID
	l.st.pools[pda] = mint
}

// SetStateTrees replaces the active state tree listing
func (l *Ledger) SetStateTrees(trees []types.StateTreeInfo) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.trees = trees
}

// FailNext rejects the next transaction containing kind with message and logs
func (l *Ledger) FailNext(kind InstructionKind, message string, logs ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures[kind] = injectedFailure{message: message, logs: logs}
}

// FailReads makes GetTransaction return err until cleared with nil
func (l *Ledger) FailReads(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.readErr = err
}

// Submissions returns the instruction kinds of every submitted transaction, in order
func (l *Ledger) Submissions() [][]InstructionKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([][]InstructionKind, len(l.submissions))
	copy(out, l.submissions)
	return out
}

// Mint returns a copy of the mint state
func (l *Ledger) Mint(mint solana.PublicKey) (Mint, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.st.mints[mint]
	if !ok {
		return Mint{}, false
	}
	return *m, true
}

// PoolCount returns how many pools exist for mint
func (l *Ledger) PoolCount(mint solana.PublicKey) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, m := range l.st.pools {
		if m.Equals(mint) {
			n++
		}
	}
	return n
}

// Balance returns the token balance held by account
func (l *Ledger) Balance(account solana.PublicKey) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ta, ok := l.st.tokenAccounts[account]; ok {
		return ta.balance
	}
	return 0
}

// Compressed returns all compressions applied so far
func (l *Ledger) Compressed() []CompressedOutput {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]CompressedOutput(nil), l.st.compressed...)
}

// Memos returns all memo payloads applied so far
func (l *Ledger) Memos() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.st.memos...)
}

func (l *Ledger) GetTransaction(ctx context.Context, signature string) (*types.TransactionRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.readErr != nil {
		return nil, l.readErr
	}
	rec, ok := l.transactions[signature]
	if !ok {
		return nil, types.ErrTransactionNotFound
	}
	out := *rec
	return &out, nil
}

func (l *Ledger) GetActiveStateTrees(ctx context.Context) ([]types.StateTreeInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]types.StateTreeInfo(nil), l.trees...), nil
}

// GetMinimumBalanceForRentExemption uses the cluster's default rent parameters
func (l *Ledger) GetMinimumBalanceForRentExemption(ctx context.Context, dataSize uint64) (uint64, error) {
	return (128 + dataSize) * 3480 * 2, nil
}

func (l *Ledger) GetLatestBlockhash(ctx context.Context) (solana.Hash, error) {
	return solana.HashFromBytes(solana.NewWallet().PublicKey().Bytes()), nil
}

func (l *Ledger) GetTokenPools(ctx context.Context, mint solana.PublicKey) ([]types.TokenPoolInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pools := make([]types.TokenPoolInfo, 0, compressedtoken.MaxPoolIndex+1)
	for i := uint8(0); i <= compressedtoken.MaxPoolIndex; i++ {
		pda, bump, err := l.programs.FindTokenPoolPDA(mint, i)
		if err != nil {
			return nil, err
		}
		info := types.TokenPoolInfo{Mint: mint, PoolPDA: pda, Index: i, Bump: bump}
		if _, ok := l.st.pools[pda]; ok {
			info.IsInitialized = true
			info.TokenProgram = token2022.ProgramID
		}
		pools = append(pools, info)
	}
	return pools, nil
}

func (l *Ledger) Programs() compressedtoken.ProgramSet { return l.programs }

func (l *Ledger) Close() error { return nil }

func (l *Ledger) Config() any { return nil }

type decoded struct {
	kind     InstructionKind
	program  solana.PublicKey
	accounts []solana.PublicKey
	data     []byte
}

// SendAndConfirmTransaction applies every instruction of tx or none of them
func (l *Ledger) SendAndConfirmTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	if err := ctx.Err(); err != nil {
		return solana.Signature{}, err
	}
	if len(tx.Signatures) == 0 {
		return solana.Signature{}, &types.ExecutionError{Message: "transaction is not signed"}
	}
	sig := tx.Signatures[0]

	ixs, err := l.decode(tx)
	if err != nil {
		return solana.Signature{}, &types.ExecutionError{Message: err.Error(), Err: err}
	}
	kinds := make([]InstructionKind, len(ixs))
	for i, ix := range ixs {
		kinds[i] = ix.kind
	}
	if l.BeforeSubmit != nil {
		l.BeforeSubmit(kinds)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.submissions = append(l.submissions, kinds)

	for _, kind := range kinds {
		if f, ok := l.failures[kind]; ok {
			delete(l.failures, kind)
			return sig, &types.ExecutionError{Signature: sig.String(), Message: f.message, LogLines: f.logs}
		}
	}

	next := l.st.clone()
	var logs []string
	for _, ix := range ixs {
		logs = append(logs, fmt.Sprintf("Program %s invoke [1]", ix.program))
		if err := l.apply(next, sig, ix); err != nil {
			var execErr *types.ExecutionError
			if errors.As(err, &execErr) {
				execErr.Signature = sig.String()
				execErr.LogLines = append(logs, execErr.LogLines...)
				return sig, execErr
			}
			return sig, &types.ExecutionError{Signature: sig.String(), Message: err.Error(), LogLines: logs, Err: err}
		}
		logs = append(logs, fmt.Sprintf("Program %s success", ix.program))
	}
	l.st = next
	l.recordLocked(sig.String(), logs)
	return sig, nil
}

func (l *Ledger) recordLocked(sig string, logs []string) {
	now := time.Now()
	l.slot++
	l.transactions[sig] = &types.TransactionRecord{Signature: sig, Slot: l.slot, BlockTime: &now, LogMessages: logs}
}

func (l *Ledger) decode(tx *solana.Transaction) ([]decoded, error) {
	keys := tx.Message.AccountKeys
	out := make([]decoded, 0, len(tx.Message.Instructions))
	for _, ci := range tx.Message.Instructions {
		if int(ci.ProgramIDIndex) >= len(keys) {
			return nil, fmt.Errorf("program index %d out of range", ci.ProgramIDIndex)
		}
		ix := decoded{program: keys[ci.ProgramIDIndex], data: []byte(ci.Data)}
		for _, idx := range ci.Accounts {
			if int(idx) >= len(keys) {
				return nil, fmt.Errorf("account index %d out of range", idx)
			}
			ix.accounts = append(ix.accounts, keys[idx])
		}
		kind, err := l.classify(ix)
		if err != nil {
			return nil, err
		}
		ix.kind = kind
		out = append(out, ix)
	}
	return out, nil
}

func (l *Ledger) classify(ix decoded) (InstructionKind, error) {
	switch {
	case ix.program.Equals(solana.SystemProgramID):
		if len(ix.data) >= 4 && binary.LittleEndian.Uint32(ix.data) == 0 {
			return KindCreateAccount, nil
		}
	case ix.program.Equals(token2022.ProgramID):
		switch {
		case token2022.IsInitializeMetadata(ix.data):
			return KindInitMetadata, nil
		case token2022.IsUpdateField(ix.data):
			return KindUpdateField, nil
		case len(ix.data) > 0 && ix.data[0] == token2022.InstructionMetadataPointerExtension:
			return KindMetadataPointer, nil
		case len(ix.data) > 0 && ix.data[0] == token2022.InstructionInitializeMint2:
			return KindInitializeMint, nil
		case len(ix.data) > 0 && ix.data[0] == token2022.InstructionMintTo:
			return KindMintTo, nil
		}
	case ix.program.Equals(solana.SPLAssociatedTokenAccountProgramID):
		return KindCreateATA, nil
	case ix.program.Equals(l.programs.CompressedToken):
		switch {
		case compressedtoken.IsCreateTokenPool(ix.data):
			return KindCreatePool, nil
		case compressedtoken.IsTransfer(ix.data):
			return KindCompress, nil
		}
	case ix.program.Equals(solana.MemoProgramID):
		return KindMemo, nil
	}
	return "", fmt.Errorf("unsupported instruction for program %s", ix.program)
}

func alreadyInUse(addr solana.PublicKey) error {
	return &types.ExecutionError{
		Message: "custom program error: 0x0",
		LogLines: []string{
			fmt.Sprintf("Allocate: account Address { address: %s, base: None } already in use", addr),
			"Program failed: custom program error: 0x0",
		},
	}
}

func (l *Ledger) apply(s *state, sig solana.Signature, ix decoded) error {
	switch ix.kind {
	case KindCreateAccount:
		if len(ix.data) < 52 || len(ix.accounts) < 2 {
			return errors.New("malformed create_account")
		}
		addr := ix.accounts[1]
		if _, ok := s.accounts[addr]; ok {
			return alreadyInUse(addr)
		}
		s.accounts[addr] = solana.PublicKeyFromBytes(ix.data[20:52])

	case KindMetadataPointer:
		mint := ix.accounts[0]
		if owner, ok := s.accounts[mint]; !ok || !owner.Equals(token2022.ProgramID) {
			return fmt.Errorf("invalid account owner for %s", mint)
		}
		if _, ok := s.mints[mint]; ok {
			return errors.New("custom program error: 0x6: already initialized")
		}

	case KindInitializeMint:
		mint := ix.accounts[0]
		if owner, ok := s.accounts[mint]; !ok || !owner.Equals(token2022.ProgramID) {
			return fmt.Errorf("invalid account owner for %s", mint)
		}
		if _, ok := s.mints[mint]; ok {
			return &types.ExecutionError{Message: "custom program error: 0x6", LogLines: []string{"Program log: Error: account or token already initialized"}}
		}
		if len(ix.data) < 34 {
			return errors.New("malformed initialize_mint2")
		}
		s.mints[mint] = &Mint{
			Decimals:   ix.data[1],
			Authority:  solana.PublicKeyFromBytes(ix.data[2:34]),
			Attributes: map[string]string{},
		}

	case KindInitMetadata:
		m, ok := s.mints[ix.accounts[0]]
		if !ok {
			return errors.New("metadata target is not a mint")
		}
		dec := bin.NewBorshDecoder(ix.data[8:])
		var err error
		if m.Name, err = dec.ReadRustString(); err != nil {
			return err
		}
		if m.Symbol, err = dec.ReadRustString(); err != nil {
			return err
		}
		if m.URI, err = dec.ReadRustString(); err != nil {
			return err
		}

	case KindUpdateField:
		m, ok := s.mints[ix.accounts[0]]
		if !ok {
			return errors.New("metadata target is not a mint")
		}
		dec := bin.NewBorshDecoder(ix.data[9:])
		key, err := dec.ReadRustString()
		if err != nil {
			return err
		}
		value, err := dec.ReadRustString()
		if err != nil {
			return err
		}
		m.Attributes[key] = value

	case KindCreateATA:
		if len(ix.accounts) < 4 {
			return errors.New("malformed create associated account")
		}
		ata, owner, mint := ix.accounts[1], ix.accounts[2], ix.accounts[3]
		if _, ok := s.accounts[ata]; ok {
			return alreadyInUse(ata)
		}
		if _, ok := s.mints[mint]; !ok {
			return fmt.Errorf("mint %s does not exist", mint)
		}
		s.accounts[ata] = token2022.ProgramID
		s.tokenAccounts[ata] = &tokenAccount{mint: mint, owner: owner}

	case KindMintTo:
		mint, dest, authority := ix.accounts[0], ix.accounts[1], ix.accounts[2]
		m, ok := s.mints[mint]
		if !ok {
			return fmt.Errorf("mint %s does not exist", mint)
		}
		if !m.Authority.Equals(authority) {
			return errors.New("custom program error: 0x4: owner does not match")
		}
		ta, ok := s.tokenAccounts[dest]
		if !ok || !ta.mint.Equals(mint) {
			return fmt.Errorf("destination %s is not a token account of %s", dest, mint)
		}
		amount := binary.LittleEndian.Uint64(ix.data[1:9])
		ta.balance += amount
		m.Supply += amount

	case KindCreatePool:
		pool, mint := ix.accounts[1], ix.accounts[3]
		if _, ok := s.accounts[pool]; ok {
			return alreadyInUse(pool)
		}
		if _, ok := s.mints[mint]; !ok {
			return fmt.Errorf("mint %s does not exist", mint)
		}
		s.accounts[pool] = token2022.ProgramID
		s.pools[pool] = mint

	case KindCompress:
		if len(ix.data) < compressAmountOffset+8 || len(ix.accounts) < 14 {
			return errors.New("malformed compress instruction")
		}
		mint := solana.PublicKeyFromBytes(ix.data[13:45])
		recipient := solana.PublicKeyFromBytes(ix.data[compressAmountOffset-32 : compressAmountOffset])
		amount := binary.LittleEndian.Uint64(ix.data[compressAmountOffset:])
		pool, source, tree := ix.accounts[9], ix.accounts[10], ix.accounts[13]
		if poolMint, ok := s.pools[pool]; !ok || !poolMint.Equals(mint) {
			return fmt.Errorf("token pool %s is not initialized for %s", pool, mint)
		}
		if !l.isActiveTree(tree) {
			return fmt.Errorf("state tree %s is not active", tree)
		}
		ta, ok := s.tokenAccounts[source]
		if !ok || ta.balance < amount {
			return errors.New("custom program error: 0x1: insufficient funds")
		}
		ta.balance -= amount
		s.compressed = append(s.compressed, CompressedOutput{
			Signature: sig.String(), Mint: mint, Owner: recipient, Tree: tree, Amount: amount,
		})

	case KindMemo:
		s.memos = append(s.memos, string(ix.data))
	}
	return nil
}

func (l *Ledger) isActiveTree(tree solana.PublicKey) bool {
	for _, t := range l.trees {
		if t.Tree.Equals(tree) {
			return true
		}
	}
	return false
}
