package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListProofsByUserNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	// Inserted out of order on purpose
	for _, p := range []*AnchoredProof{
		{ID: "t2", UserID: "user-aaaaaaaaaaaaaaaaaaaa", CreatedAt: base.Add(2 * time.Minute)},
		{ID: "t1", UserID: "user-aaaaaaaaaaaaaaaaaaaa", CreatedAt: base.Add(1 * time.Minute)},
		{ID: "other", UserID: "someone-else-entirely", CreatedAt: base.Add(4 * time.Minute)},
		{ID: "t3", UserID: "user-aaaaaaaaaaaaaaaaaaaa", CreatedAt: base.Add(3 * time.Minute)},
	} {
		require.NoError(t, s.InsertProof(ctx, p))
	}

	proofs, err := s.ListProofsByUser(ctx, "user-aaaaaaaaaaaaaaaaaaaa", MaxListLimit)
	require.NoError(t, err)
	require.Len(t, proofs, 3)
	assert.Equal(t, []string{"t3", "t2", "t1"}, []string{proofs[0].ID, proofs[1].ID, proofs[2].ID})
}

func TestListProofsByUserCapsAtMaxLimit(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Now()
	for i := 0; i < MaxListLimit+25; i++ {
		require.NoError(t, s.InsertProof(ctx, &AnchoredProof{
			ID:        fmt.Sprintf("p-%d", i),
			UserID:    "wallet-0123456789abcdef",
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	proofs, err := s.ListProofsByUser(ctx, "wallet-0123456789abcdef", 1000)
	require.NoError(t, err)
	assert.Len(t, proofs, MaxListLimit)
	assert.Equal(t, fmt.Sprintf("p-%d", MaxListLimit+24), proofs[0].ID)
}

func TestListProofsByUserEmpty(t *testing.T) {
	proofs, err := NewMemoryStore().ListProofsByUser(context.Background(), "nobody-has-this-wallet", 10)
	require.NoError(t, err)
	assert.NotNil(t, proofs)
	assert.Empty(t, proofs)
}

func TestDuplicateSignaturesAccepted(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.InsertProof(ctx, &AnchoredProof{ID: "a", TxSignature: "sig", UserID: "u"}))
	require.NoError(t, s.InsertProof(ctx, &AnchoredProof{ID: "b", TxSignature: "sig", UserID: "u"}))

	proofs, err := s.ListProofsByUser(ctx, "u", 0)
	require.NoError(t, err)
	assert.Len(t, proofs, 2)
}

func TestListProofsByUserEqualTimestampsNewestInsertFirst(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for _, id := range []string{"first", "second", "third"} {
		require.NoError(t, s.InsertProof(ctx, &AnchoredProof{ID: id, UserID: "wallet-0123456789abcdef", CreatedAt: at}))
	}

	proofs, err := s.ListProofsByUser(ctx, "wallet-0123456789abcdef", 0)
	require.NoError(t, err)
	require.Len(t, proofs, 3)
	assert.Equal(t, []string{"third", "second", "first"}, []string{proofs[0].ID, proofs[1].ID, proofs[2].ID})
}

func TestInsertFailure(t *testing.T) {
	s := NewMemoryStore()
	s.FailInserts = errors.New("disk full")
	assert.Error(t, s.InsertProof(context.Background(), &AnchoredProof{ID: "x"}))
}

func TestClaimRequestsLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.InsertRequestStatusBatch(ctx, []*RequestStatus{
		{RequestID: "r1", TxSignature: "s1", UserID: "u"},
		{RequestID: "r2", TxSignature: "s2", UserID: "u"},
	}))

	claimed, err := s.ClaimRequests(ctx, []string{"r1", "r2", "unknown"}, 2)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, StatusProcessing, claimed["r1"].Status)
	assert.Equal(t, 1, claimed["r1"].Attempts)

	// Already processing: not claimable again
	again, err := s.ClaimRequests(ctx, []string{"r1"}, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, again["r1"].Attempts)

	require.NoError(t, s.MarkBatchAsCompleted(ctx, []CompletionRecord{{RequestID: "r1", ProofID: "p1", CompressedTxID: "c1"}}))
	require.NoError(t, s.MarkBatchAsFailed(ctx, []FailureRecord{{RequestID: "r2", ErrorCode: "MINT_TX_FAILED", Retryable: true}}))

	claimed, err = s.ClaimRequests(ctx, []string{"r1", "r2"}, 2)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, claimed["r1"].Status)
	assert.Equal(t, StatusProcessing, claimed["r2"].Status)
	assert.Equal(t, 2, claimed["r2"].Attempts)

	// Attempt limit reached
	require.NoError(t, s.MarkBatchAsFailed(ctx, []FailureRecord{{RequestID: "r2", ErrorCode: "MINT_TX_FAILED", Retryable: true}}))
	claimed, err = s.ClaimRequests(ctx, []string{"r2"}, 2)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, claimed["r2"].Status)

	st, err := s.GetRequestStatus(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "c1", st.CompressedTxID)

	_, err = s.GetRequestStatus(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNonRetryableFailureIsNotReclaimed(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.InsertRequestStatusBatch(ctx, []*RequestStatus{{RequestID: "r"}}))
	_, err := s.ClaimRequests(ctx, []string{"r"}, 5)
	require.NoError(t, err)
	require.NoError(t, s.MarkBatchAsFailed(ctx, []FailureRecord{{RequestID: "r", ErrorCode: "COMPRESS_TX_FAILED"}}))

	claimed, err := s.ClaimRequests(ctx, []string{"r"}, 5)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, claimed["r"].Status)
	assert.Equal(t, 1, claimed["r"].Attempts)
}
