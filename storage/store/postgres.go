package store

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/jackc/pgx/v4/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// MemoryDSN selects the in-process store
const MemoryDSN = "memory://"

// PoolOptions are the connection pool limits
type PoolOptions struct {
	MinConnections int
	MaxConnections int
	MaxIdleTime    time.Duration
	MaxLifetime    time.Duration
}

// PostgresStore implements Store on PostgreSQL through a pgx connection pool
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *logrus.Entry
}

// Open returns a MemoryStore for MemoryDSN and a PostgresStore otherwise
func Open(ctx context.Context, dsn string, opts PoolOptions, logger *logrus.Entry) (Store, error) {
	if strings.HasPrefix(dsn, MemoryDSN) {
		logger.Warn("Using in-memory store; proofs are lost on restart")
		return NewMemoryStore(), nil
	}
	return NewPostgresStore(ctx, dsn, opts, logger)
}

// NewPostgresStore connects the pool and verifies the connection
func NewPostgresStore(ctx context.Context, dsn string, opts PoolOptions, logger *logrus.Entry) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database DSN: %w", err)
	}
	if opts.MaxConnections > 0 {
		cfg.MaxConns = int32(opts.MaxConnections)
	}
	if opts.MinConnections > 0 {
		cfg.MinConns = int32(opts.MinConnections)
	}
	if opts.MaxIdleTime > 0 {
		cfg.MaxConnIdleTime = opts.MaxIdleTime
	}
	if opts.MaxLifetime > 0 {
		cfg.MaxConnLifetime = opts.MaxLifetime
	}

	pool, err := pgxpool.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	logger.Infof("Connected to PostgreSQL (pool min=%d max=%d)", cfg.MinConns, cfg.MaxConns)
	return &PostgresStore{pool: pool, logger: logger}, nil
}

// Migrate applies the embedded schema migrations to the database behind dsn
func Migrate(dsn string, logger *logrus.Entry) error {
	if strings.HasPrefix(dsn, MemoryDSN) {
		return nil
	}
	connCfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return fmt.Errorf("failed to parse database DSN: %w", err)
	}
	db := stdlib.OpenDB(*connCfg)
	defer db.Close()

	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	version, err := goose.GetDBVersion(db)
	if err == nil {
		logger.Infof("Database schema at version %d", version)
	}
	return nil
}

func (s *PostgresStore) InsertProof(ctx context.Context, p *AnchoredProof) error {
	const query = `
		INSERT INTO runtime_proofs (
			id, tx_signature, tx_bytes_base58, runtime_proof_hash, user_id, runtime_id,
			timestamp_ms, mint_address, mint_tx_id, compressed_tx_id, chain, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, query,
		p.ID, p.TxSignature, p.TxBytesBase58, p.RuntimeProofHash, p.UserID, p.RuntimeID,
		p.TimestampMs, p.MintAddress, p.MintTxID, p.CompressedTxID, p.Chain, createdAt)
	if err != nil {
		return fmt.Errorf("failed to insert runtime proof: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListProofsByUser(ctx context.Context, userID string, limit int) ([]*AnchoredProof, error) {
	const query = `
		SELECT id, tx_signature, tx_bytes_base58, runtime_proof_hash, user_id, runtime_id,
		       timestamp_ms, mint_address, mint_tx_id, compressed_tx_id, chain, created_at
		FROM runtime_proofs
		WHERE user_id = $1
		ORDER BY created_at DESC, seq DESC
		LIMIT $2`
	rows, err := s.pool.Query(ctx, query, userID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query runtime proofs: %w", err)
	}
	defer rows.Close()

	proofs := make([]*AnchoredProof, 0)
	for rows.Next() {
		var p AnchoredProof
		if err := rows.Scan(&p.ID, &p.TxSignature, &p.TxBytesBase58, &p.RuntimeProofHash, &p.UserID,
			&p.RuntimeID, &p.TimestampMs, &p.MintAddress, &p.MintTxID, &p.CompressedTxID,
			&p.Chain, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan runtime proof: %w", err)
		}
		proofs = append(proofs, &p)
	}
	return proofs, rows.Err()
}

func (s *PostgresStore) InsertRequestStatusBatch(ctx context.Context, statuses []*RequestStatus) error {
	if len(statuses) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([][]interface{}, len(statuses))
	for i, st := range statuses {
		received := st.ReceivedAt
		if received.IsZero() {
			received = now
		}
		rows[i] = []interface{}{st.RequestID, st.TxSignature, st.UserID, StatusReceived, received, now}
	}
	_, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"proof_requests"},
		[]string{"request_id", "tx_signature", "user_id", "status", "received_at", "updated_at"},
		pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to insert request statuses: %w", err)
	}
	return nil
}

const requestColumns = `request_id, tx_signature, user_id, status, attempts, retryable,
	error_code, error_message, COALESCE(proof_id::text, ''), compressed_tx_id, received_at, updated_at`

func scanRequest(row pgx.Row) (*RequestStatus, error) {
	var r RequestStatus
	err := row.Scan(&r.RequestID, &r.TxSignature, &r.UserID, &r.Status, &r.Attempts, &r.Retryable,
		&r.ErrorCode, &r.ErrorMessage, &r.ProofID, &r.CompressedTxID, &r.ReceivedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) GetRequestStatus(ctx context.Context, requestID string) (*RequestStatus, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM proof_requests WHERE request_id = $1`, requestID)
	r, err := scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read request status: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) ClaimRequests(ctx context.Context, requestIDs []string, maxAttempts int) (map[string]*RequestStatus, error) {
	out := make(map[string]*RequestStatus, len(requestIDs))
	if len(requestIDs) == 0 {
		return out, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	const claim = `
		UPDATE proof_requests
		SET status = $2, attempts = attempts + 1, updated_at = NOW()
		WHERE request_id::text = ANY($1)
		  AND (status = $3 OR (status = $4 AND retryable AND attempts < $5))`
	if _, err := tx.Exec(ctx, claim, requestIDs, StatusProcessing, StatusReceived, StatusFailed, maxAttempts); err != nil {
		return nil, fmt.Errorf("failed to claim requests: %w", err)
	}

	rows, err := tx.Query(ctx, `SELECT `+requestColumns+` FROM proof_requests WHERE request_id::text = ANY($1)`, requestIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to read claimed requests: %w", err)
	}
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan claimed request: %w", err)
		}
		out[r.RequestID] = r
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) MarkBatchAsCompleted(ctx context.Context, records []CompletionRecord) error {
	if len(records) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(`
			UPDATE proof_requests
			SET status = $2, proof_id = NULLIF($3, '')::uuid, compressed_tx_id = $4,
			    error_code = '', error_message = '', updated_at = NOW()
			WHERE request_id = $1`, r.RequestID, StatusCompleted, r.ProofID, r.CompressedTxID)
	}
	return s.execBatch(ctx, batch, len(records))
}

func (s *PostgresStore) MarkBatchAsFailed(ctx context.Context, records []FailureRecord) error {
	if len(records) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(`
			UPDATE proof_requests
			SET status = $2, error_code = $3, error_message = $4, retryable = $5, updated_at = NOW()
			WHERE request_id = $1`, r.RequestID, StatusFailed, r.ErrorCode, r.ErrorMessage, r.Retryable)
	}
	return s.execBatch(ctx, batch, len(records))
}

func (s *PostgresStore) execBatch(ctx context.Context, batch *pgx.Batch, n int) error {
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < n; i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch update %d/%d failed: %w", i+1, n, err)
		}
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() {
	s.logger.Info("Closing database pool...")
	s.pool.Close()
}

var _ Store = (*PostgresStore)(nil)
