package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and local runs ("memory://" DSN)
type MemoryStore struct {
	mu       sync.RWMutex
	proofs   []*AnchoredProof
	requests map[string]*RequestStatus
	now      func() time.Time

	// FailInserts makes InsertProof return the error when set
	FailInserts error
	// FailStatusInserts makes InsertRequestStatusBatch return the error when set
	FailStatusInserts error
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{requests: make(map[string]*RequestStatus), now: time.Now}
}

func (m *MemoryStore) InsertProof(ctx context.Context, proof *AnchoredProof) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailInserts != nil {
		return m.FailInserts
	}
	p := *proof
	if p.CreatedAt.IsZero() {
		p.CreatedAt = m.now()
	}
	m.proofs = append(m.proofs, &p)
	return nil
}

func (m *MemoryStore) ListProofsByUser(ctx context.Context, userID string, limit int) ([]*AnchoredProof, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*AnchoredProof, 0)
	// Newest insertion first, so equal timestamps keep that order
	for i := len(m.proofs) - 1; i >= 0; i-- {
		if p := m.proofs[i]; p.UserID == userID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if n := clampLimit(limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (m *MemoryStore) InsertRequestStatusBatch(ctx context.Context, statuses []*RequestStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailStatusInserts != nil {
		return m.FailStatusInserts
	}
	now := m.now()
	for _, s := range statuses {
		cp := *s
		cp.Status = StatusReceived
		if cp.ReceivedAt.IsZero() {
			cp.ReceivedAt = now
		}
		cp.UpdatedAt = now
		m.requests[cp.RequestID] = &cp
	}
	return nil
}

func (m *MemoryStore) GetRequestStatus(ctx context.Context, requestID string) (*RequestStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.requests[requestID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) ClaimRequests(ctx context.Context, requestIDs []string, maxAttempts int) (map[string]*RequestStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*RequestStatus, len(requestIDs))
	for _, id := range requestIDs {
		s, ok := m.requests[id]
		if !ok {
			continue
		}
		if claimable(s, maxAttempts) {
			s.Status = StatusProcessing
			s.Attempts++
			s.UpdatedAt = m.now()
		}
		cp := *s
		out[id] = &cp
	}
	return out, nil
}

func (m *MemoryStore) MarkBatchAsCompleted(ctx context.Context, records []CompletionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		if s, ok := m.requests[r.RequestID]; ok {
			s.Status = StatusCompleted
			s.ProofID = r.ProofID
			s.CompressedTxID = r.CompressedTxID
			s.ErrorCode, s.ErrorMessage = "", ""
			s.UpdatedAt = m.now()
		}
	}
	return nil
}

func (m *MemoryStore) MarkBatchAsFailed(ctx context.Context, records []FailureRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		if s, ok := m.requests[r.RequestID]; ok {
			s.Status = StatusFailed
			s.ErrorCode = r.ErrorCode
			s.ErrorMessage = r.ErrorMessage
			s.Retryable = r.Retryable
			s.UpdatedAt = m.now()
		}
	}
	return nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func (m *MemoryStore) Close() {}

var _ Store = (*MemoryStore)(nil)
