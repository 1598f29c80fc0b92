package http

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"proofanchor/anchoring/failure"
	"proofanchor/anchoring/hashverify"
	"proofanchor/anchoring/pipeline"
	"proofanchor/blockchain/client/mock"
	"proofanchor/config"
	core "proofanchor/ingestion/service/core"
	"proofanchor/internal/messaging/producer"
	"proofanchor/internal/models"
	"proofanchor/storage/store"

	"github.com/mr-tron/base58"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.Out = io.Discard
	return logrus.NewEntry(l)
}

type stubRunner struct {
	result *pipeline.Result
	err    error
	panics bool
}

func (r *stubRunner) Run(ctx context.Context, req *models.ProofRequest) (*pipeline.Result, error) {
	if r.panics {
		panic("boom")
	}
	return r.result, r.err
}

func newServer(t *testing.T, runner core.Runner, s store.Store, p producer.Producer) *httptest.Server {
	t.Helper()
	svc := core.NewService(runner, s, p, testLogger(), config.BatchProcessorConfig{BatchSize: 1, BatchTimeout: 5 * time.Millisecond, FlushChannelBuffer: 4}, 0)
	srv := httptest.NewServer(NewRouter(NewProofHandler(svc, testLogger(), 1<<16), "/health"))
	t.Cleanup(func() {
		srv.Close()
		svc.Close()
	})
	return srv
}

func post(t *testing.T, srv *httptest.Server, path, body string) (int, map[string]interface{}) {
	t.Helper()
	resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func validBody(sig string, txBytes []byte) string {
	ts := int64(1700000000000)
	b, _ := json.Marshal(map[string]interface{}{
		"txSignature":      sig,
		"txBytesBase58":    base58.Encode(txBytes),
		"runtimeProofHash": hashverify.Compute(txBytes, ts, ""),
		"timestamp":        ts,
		"userId":           "WalletAddress1234567890",
	})
	return string(b)
}

func TestInitProofEndToEnd(t *testing.T) {
	ledger := mock.NewLedger()
	signers, err := mock.RandomSigners()
	require.NoError(t, err)
	s := store.NewMemoryStore()
	orch, err := pipeline.New(pipeline.Config{Chain: "solana-devnet", TokenName: "Runtime Proof", TokenSymbol: "RPROOF", MetadataURIBase: "https://proofs.example/tx"},
		ledger, signers, s, nil, testLogger())
	require.NoError(t, err)
	srv := newServer(t, orch, s, nil)

	txBytes := make([]byte, 64)
	_, _ = rand.Read(txBytes)
	sig := ledger.AddTransaction()

	status, body := post(t, srv, "/proofs/init", validBody(sig, txBytes))
	require.Equal(t, http.StatusOK, status, "%v", body)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, sig, body["txSignature"])
	assert.NotEmpty(t, body["mint"])
	assert.NotEmpty(t, body["mintTxId"])
	assert.NotEmpty(t, body["compressedTxId"])
	assert.Equal(t, "solana-devnet", body["chain"])
	assert.Nil(t, body["runtimeId"])

	status, body = post(t, srv, "/proofs/retrieve", `{"wallet": "WalletAddress1234567890"}`)
	require.Equal(t, http.StatusOK, status)
	proofs := body["proofs"].([]interface{})
	require.Len(t, proofs, 1)
	assert.Equal(t, sig, proofs[0].(map[string]interface{})["txSignature"])

	// Unknown signature
	status, body = post(t, srv, "/proofs/init", validBody("1111111111111111111111111111111111111111111111111111111111111111", txBytes))
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "TX_NOT_FOUND", body["error"])
	assert.Equal(t, false, body["ok"])
}

func TestInitProofCompletesAfterClientDisconnect(t *testing.T) {
	ledger := mock.NewLedger()
	signers, err := mock.RandomSigners()
	require.NoError(t, err)
	s := store.NewMemoryStore()
	orch, err := pipeline.New(pipeline.Config{Chain: "solana-devnet", TokenName: "Runtime Proof", TokenSymbol: "RPROOF", MetadataURIBase: "https://proofs.example/tx"},
		ledger, signers, s, nil, testLogger())
	require.NoError(t, err)
	srv := newServer(t, orch, s, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ledger.BeforeSubmit = func(kinds []mock.InstructionKind) {
		for _, k := range kinds {
			if k == mock.KindMintTo {
				cancel()
			}
		}
	}

	txBytes := make([]byte, 64)
	_, _ = rand.Read(txBytes)
	sig := ledger.AddTransaction()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, srv.URL+"/proofs/init", strings.NewReader(validBody(sig, txBytes)))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	if err == nil {
		resp.Body.Close()
	}

	require.Eventually(t, func() bool {
		proofs, err := s.ListProofsByUser(context.Background(), "WalletAddress1234567890", 0)
		return err == nil && len(proofs) == 1
	}, 5*time.Second, 10*time.Millisecond)
	require.Len(t, ledger.Compressed(), 1)
	proofs, err := s.ListProofsByUser(context.Background(), "WalletAddress1234567890", 0)
	require.NoError(t, err)
	assert.Equal(t, sig, proofs[0].TxSignature)
	assert.Equal(t, ledger.Compressed()[0].Signature, proofs[0].CompressedTxID)
}

func TestInitProofValidation(t *testing.T) {
	srv := newServer(t, &stubRunner{}, store.NewMemoryStore(), nil)

	cases := []struct {
		body string
		code string
	}{
		{`null`, "INVALID_BODY"},
		{`[1,2]`, "INVALID_BODY"},
		{`{"txBytesBase58":"x","runtimeProofHash":"y","timestamp":1,"userId":"u"}`, "MISSING_TX_SIGNATURE"},
		{`{"txSignature":"s","txBytesBase58":"x","runtimeProofHash":"y","timestamp":null,"userId":"u"}`, "MISSING_TIMESTAMP"},
		{`{"txSignature":"s","txBytesBase58":"x","runtimeProofHash":"y","timestamp":1}`, "MISSING_USER_ID"},
	}
	for _, c := range cases {
		status, body := post(t, srv, "/proofs/init", c.body)
		assert.Equal(t, http.StatusBadRequest, status, c.body)
		assert.Equal(t, c.code, body["error"], c.body)
		assert.Equal(t, false, body["ok"], c.body)
	}
}

func TestInitProofFailureStatuses(t *testing.T) {
	cases := []struct {
		code   failure.Code
		status int
	}{
		{failure.InvalidTxBytesBase58, http.StatusBadRequest},
		{failure.RuntimeHashMismatch, http.StatusBadRequest},
		{failure.TxNotFound, http.StatusNotFound},
		{failure.MintTxFailed, http.StatusBadGateway},
		{failure.CreatePoolFailed, http.StatusBadGateway},
		{failure.PrepareAtaOrMintFailed, http.StatusBadGateway},
		{failure.CompressTxFailed, http.StatusBadGateway},
		{failure.MintAuthorityMissing, http.StatusInternalServerError},
	}
	for _, c := range cases {
		f := &failure.Error{Code: c.code, Message: "m", Logs: []string{"Program log: x"}}
		srv := newServer(t, &stubRunner{result: &pipeline.Result{Failure: f}}, store.NewMemoryStore(), nil)
		status, body := post(t, srv, "/proofs/init", `{"txSignature":"s","txBytesBase58":"x","runtimeProofHash":"y","timestamp":1,"userId":"u"}`)
		assert.Equal(t, c.status, status, string(c.code))
		assert.Equal(t, string(c.code), body["error"])
		assert.Equal(t, []interface{}{"Program log: x"}, body["logs"], string(c.code))
	}
}

func TestInitProofPersistFailureCarriesProof(t *testing.T) {
	proof := &store.AnchoredProof{ID: "p", MintAddress: "mint-1", CompressedTxID: "ctx-1"}
	runner := &stubRunner{result: &pipeline.Result{State: pipeline.StateCompressed, Proof: proof, Failure: failure.New(failure.PersistFailed, "db down")}}
	srv := newServer(t, runner, store.NewMemoryStore(), nil)

	status, body := post(t, srv, "/proofs/init", `{"txSignature":"s","txBytesBase58":"x","runtimeProofHash":"y","timestamp":1,"userId":"u"}`)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "PERSIST_FAILED", body["error"])
	assert.Equal(t, "ctx-1", body["proof"].(map[string]interface{})["compressedTxId"])
}

func TestInitProofInternalError(t *testing.T) {
	srv := newServer(t, &stubRunner{err: fmt.Errorf("rpc unavailable")}, store.NewMemoryStore(), nil)
	status, body := post(t, srv, "/proofs/init", `{"txSignature":"s","txBytesBase58":"x","runtimeProofHash":"y","timestamp":1,"userId":"u"}`)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "INTERNAL", body["error"])
	assert.Equal(t, "rpc unavailable", body["details"])
}

func TestPanicIsRecovered(t *testing.T) {
	srv := newServer(t, &stubRunner{panics: true}, store.NewMemoryStore(), nil)
	status, body := post(t, srv, "/proofs/init", `{"txSignature":"s","txBytesBase58":"x","runtimeProofHash":"y","timestamp":1,"userId":"u"}`)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "INTERNAL", body["error"])
}

func TestRetrieveProofs(t *testing.T) {
	s := store.NewMemoryStore()
	wallet := "WalletAddress1234567890"
	base := time.Now()
	for i, id := range []string{"t1", "t2", "t3"} {
		require.NoError(t, s.InsertProof(context.Background(), &store.AnchoredProof{ID: id, UserID: wallet, CreatedAt: base.Add(time.Duration(i) * time.Minute)}))
	}
	srv := newServer(t, &stubRunner{}, s, nil)

	status, body := post(t, srv, "/proofs/retrieve", `{"wallet": "`+wallet+`"}`)
	require.Equal(t, http.StatusOK, status)
	var ids []string
	for _, p := range body["proofs"].([]interface{}) {
		ids = append(ids, p.(map[string]interface{})["id"].(string))
	}
	assert.Equal(t, []string{"t3", "t2", "t1"}, ids)

	status, body = post(t, srv, "/proofs/retrieve", `{"wallet": "abcdefghijklmnopqrstuvwxyz"}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, []interface{}{}, body["proofs"])

	status, body = post(t, srv, "/proofs/retrieve", `{"wallet": "tooShort"}`)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_WALLET", body["error"])
}

func TestSubmitAndPollRequest(t *testing.T) {
	s := store.NewMemoryStore()
	p := producer.NewMockProducer(testLogger())
	srv := newServer(t, &stubRunner{}, s, p)

	status, body := post(t, srv, "/proofs/submit", `{"txSignature":"s","txBytesBase58":"x","runtimeProofHash":"y","timestamp":1,"userId":"u"}`)
	require.Equal(t, http.StatusAccepted, status)
	requestID := body["requestId"].(string)
	require.NotEmpty(t, requestID)

	require.Eventually(t, func() bool {
		resp, err := http.Get(srv.URL + "/proofs/requests/" + requestID)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return len(p.Requests()) == 1 }, time.Second, 10*time.Millisecond)

	resp, err := http.Get(srv.URL + "/proofs/requests/unknown")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSubmitWithoutQueue(t *testing.T) {
	srv := newServer(t, &stubRunner{}, store.NewMemoryStore(), nil)
	status, _ := post(t, srv, "/proofs/submit", `{"txSignature":"s","txBytesBase58":"x","runtimeProofHash":"y","timestamp":1,"userId":"u"}`)
	assert.Equal(t, http.StatusServiceUnavailable, status)
}

func TestBodyTooLarge(t *testing.T) {
	svc := core.NewService(&stubRunner{}, store.NewMemoryStore(), nil, testLogger(), config.BatchProcessorConfig{}, 0)
	router := NewRouter(NewProofHandler(svc, testLogger(), 1024), "/health")

	big := bytes.Repeat([]byte("a"), 4096)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/proofs/init", bytes.NewReader(big)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Contains(t, rec.Body.String(), "INVALID_BODY")
}

func TestHealthCheck(t *testing.T) {
	srv := newServer(t, &stubRunner{}, store.NewMemoryStore(), nil)
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newServer(t, &stubRunner{}, store.NewMemoryStore(), nil)
	resp, err := http.Get(srv.URL + "/proofs/init")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
