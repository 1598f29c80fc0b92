// Package pipeline sequences one proof request from hash verification to the
// persisted record. Steps run strictly in order and only forward; a failed step ends
// the run with its code and nothing already done on the ledger is rolled back.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"proofanchor/anchoring/compress"
	"proofanchor/anchoring/failure"
	"proofanchor/anchoring/hashverify"
	"proofanchor/anchoring/provision"
	blockchain "proofanchor/blockchain/client"
	"proofanchor/blockchain/programs/token2022"
	"proofanchor/blockchain/types"
	"proofanchor/internal/models"
	"proofanchor/storage/store"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"github.com/sirupsen/logrus"
)

// State is a pipeline checkpoint
type State string

const (
	StateReceived     State = "RECEIVED"
	StateHashVerified State = "HASH_VERIFIED"
	StateTxConfirmed  State = "TX_CONFIRMED"
	StateMintReady    State = "MINT_READY"
	StateCompressed   State = "COMPRESSED"
	StatePersisted    State = "PERSISTED"
)

const memoType = "runtime_proof"

// Config holds the business settings of the orchestrator
type Config struct {
	Chain           string
	TokenName       string
	TokenSymbol     string
	MetadataURIBase string
	Decimals        uint8
	EnableMemo      bool
	MemoTimeout     time.Duration
}

// Result is the outcome of one run. Proof is set on success and on PERSIST_FAILED,
// where the ledger work happened but the row was not written.
type Result struct {
	OK      bool
	State   State // Last state reached
	Proof   *store.AnchoredProof
	Failure *failure.Error
}

// Notifier receives an event after every run. Errors are logged only.
type Notifier interface {
	PublishOutcome(ctx context.Context, msg *models.ProofOutcomeMessage) error
}

// Orchestrator runs proof requests. It keeps no per-request state and is safe for
// concurrent use.
type Orchestrator struct {
	cfg         Config
	ledger      blockchain.LedgerClient
	signers     *types.Signers
	provisioner *provision.Provisioner
	executor    *compress.Executor
	store       store.Store
	notifier    Notifier
	logger      *logrus.Entry
	now         func() time.Time
}

// New creates an orchestrator. notifier may be nil.
func New(cfg Config, ledger blockchain.LedgerClient, signers *types.Signers, s store.Store, notifier Notifier, logger *logrus.Entry) (*Orchestrator, error) {
	if signers == nil || len(signers.FeePayer) == 0 {
		return nil, errors.New("fee payer key is required")
	}
	if cfg.MemoTimeout <= 0 {
		cfg.MemoTimeout = 20 * time.Second
	}
	return &Orchestrator{
		cfg:         cfg,
		ledger:      ledger,
		signers:     signers,
		provisioner: provision.NewProvisioner(ledger, signers, logger.WithField("step", "provision")),
		executor:    compress.NewExecutor(ledger, signers, cfg.MemoTimeout, logger.WithField("step", "compress")),
		store:       s,
		notifier:    notifier,
		logger:      logger,
		now:         time.Now,
	}, nil
}

// Close waits for in-flight memos
func (o *Orchestrator) Close() {
	o.executor.Wait()
}

// Run processes req to a terminal state. A returned error is an unexpected fault
// (reported as INTERNAL); every expected failure is carried in the Result.
func (o *Orchestrator) Run(ctx context.Context, req *models.ProofRequest) (*Result, error) {
	res, err := o.run(ctx, req)
	if err != nil {
		o.notify(ctx, req, &Result{State: StateReceived, Failure: failure.New(failure.Internal, "%v", err)})
		return nil, err
	}
	o.notify(ctx, req, res)
	return res, nil
}

func (o *Orchestrator) run(ctx context.Context, req *models.ProofRequest) (*Result, error) {
	state := StateReceived
	fail := func(f *failure.Error) (*Result, error) {
		o.logger.WithField("tx_signature", req.TxSignature).Warnf("Proof request stopped after %s: %s", state, f)
		return &Result{State: state, Failure: f}, nil
	}

	txBytes, err := base58.Decode(req.TxBytesBase58)
	if err != nil || len(txBytes) == 0 {
		return fail(failure.New(failure.InvalidTxBytesBase58, "txBytesBase58 is not valid base58"))
	}
	if !hashverify.Verify(txBytes, req.Timestamp, req.RuntimeID, req.RuntimeProofHash) {
		return fail(failure.New(failure.RuntimeHashMismatch, "runtimeProofHash does not match transaction bytes"))
	}
	state = StateHashVerified

	record, err := o.ledger.GetTransaction(ctx, req.TxSignature)
	if errors.Is(err, types.ErrTransactionNotFound) {
		return fail(failure.New(failure.TxNotFound, "transaction %s not found", req.TxSignature))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read transaction: %w", err)
	}
	if record.Err != nil {
		o.logger.Warnf("Transaction %s landed with error %v", req.TxSignature, record.Err)
	}
	state = StateTxConfirmed

	mint, f := o.provisioner.EnsureMint(ctx, o.mintSpec(req))
	if f != nil {
		return fail(f)
	}
	pool, f := o.provisioner.EnsurePool(ctx, mint.Mint)
	if f != nil {
		return fail(f)
	}
	amount := compress.ClampBatchCount(req.BatchCount)
	owner := o.signers.FeePayer.PublicKey()
	holding, f := o.provisioner.PrepareHoldingAccount(ctx, mint, owner, amount)
	if f != nil {
		return fail(f)
	}
	state = StateMintReady

	compressedTx, f := o.executor.Compress(ctx, compress.Params{
		Mint:      mint.Mint,
		Amount:    amount,
		Holding:   holding,
		Pool:      pool,
		Recipient: owner,
	})
	if f != nil {
		return fail(f)
	}
	state = StateCompressed

	if o.cfg.EnableMemo {
		o.executor.SubmitMemo(compress.MemoPayload{
			Type:           memoType,
			Mint:           mint.Mint.String(),
			CompressedTxID: compressedTx,
			ProofHash:      req.RuntimeProofHash,
		})
	}

	proof := &store.AnchoredProof{
		ID:               uuid.NewString(),
		TxSignature:      req.TxSignature,
		TxBytesBase58:    req.TxBytesBase58,
		RuntimeProofHash: req.RuntimeProofHash,
		UserID:           req.UserID,
		TimestampMs:      req.Timestamp,
		MintAddress:      mint.Mint.String(),
		MintTxID:         mint.TxID,
		CompressedTxID:   compressedTx,
		Chain:            o.cfg.Chain,
		CreatedAt:        o.now().UTC(),
	}
	if req.RuntimeID != "" {
		rid := req.RuntimeID
		proof.RuntimeID = &rid
	}

	if err := o.store.InsertProof(ctx, proof); err != nil {
		o.logger.Errorf("CRITICAL: proof compressed (mint %s, tx %s) but not persisted: %v",
			proof.MintAddress, proof.CompressedTxID, err)
		f := failure.New(failure.PersistFailed, "compressed on ledger but not persisted: %v", err)
		return &Result{State: state, Proof: proof, Failure: f}, nil
	}

	o.logger.Infof("Anchored proof %s for user %s (mint %s, compressed %s)",
		proof.ID, proof.UserID, proof.MintAddress, proof.CompressedTxID)
	return &Result{OK: true, State: StatePersisted, Proof: proof}, nil
}

func (o *Orchestrator) mintSpec(req *models.ProofRequest) provision.MintSpec {
	uri := strings.TrimRight(o.cfg.MetadataURIBase, "/") + "/" + req.TxSignature
	return provision.MintSpec{
		Name:     o.cfg.TokenName,
		Symbol:   o.cfg.TokenSymbol,
		URI:      uri,
		Decimals: o.cfg.Decimals,
		Attributes: []token2022.Attribute{
			{Key: "tx_hash", Value: req.TxSignature},
			{Key: "proof_hash", Value: req.RuntimeProofHash},
			{Key: "user_id", Value: req.UserID},
			{Key: "timestamp", Value: strconv.FormatInt(req.Timestamp, 10)},
			{Key: "runtime_id", Value: req.RuntimeID},
			{Key: "chain", Value: o.cfg.Chain},
		},
	}
}

func (o *Orchestrator) notify(ctx context.Context, req *models.ProofRequest, res *Result) {
	if o.notifier == nil {
		return
	}
	msg := &models.ProofOutcomeMessage{
		TxSignature: req.TxSignature,
		UserID:      req.UserID,
		OK:          res.OK,
		State:       string(res.State),
		OccurredAt:  o.now().UTC(),
	}
	if res.Failure != nil {
		msg.ErrorCode = string(res.Failure.Code)
		msg.ErrorMessage = res.Failure.Message
	}
	if res.Proof != nil {
		msg.MintAddress = res.Proof.MintAddress
		msg.CompressedTxID = res.Proof.CompressedTxID
	}
	if id, ok := RequestIDFromContext(ctx); ok {
		msg.RequestID = id
	}
	if err := o.notifier.PublishOutcome(ctx, msg); err != nil {
		o.logger.Warnf("Failed to publish outcome for %s: %v", req.TxSignature, err)
	}
}

type requestIDKey struct{}

// WithRequestID tags ctx with the async request id reported in outcome events
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestIDFromContext returns the id set by WithRequestID
func RequestIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey{}).(string)
	return id, ok && id != ""
}
