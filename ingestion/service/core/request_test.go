package service

import (
	"strings"
	"testing"

	"proofanchor/anchoring/failure"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullBody = `{
	"txSignature": "5sig",
	"txBytesBase58": "3mJr7AoUXx2Wqd",
	"runtimeProofHash": "ab",
	"timestamp": 1700000000000,
	"userId": "user-1"
}`

func TestParseProofRequest(t *testing.T) {
	req, f := ParseProofRequest([]byte(fullBody))
	require.Nil(t, f)
	assert.Equal(t, "5sig", req.TxSignature)
	assert.Equal(t, int64(1700000000000), req.Timestamp)
	assert.Empty(t, req.RuntimeID)
	assert.Nil(t, req.BatchCount)
}

func TestParseProofRequestOptionalFields(t *testing.T) {
	body := strings.Replace(fullBody, `"userId"`, `"runtimeId": "rt", "batchCount": 7, "userId"`, 1)
	req, f := ParseProofRequest([]byte(body))
	require.Nil(t, f)
	assert.Equal(t, "rt", req.RuntimeID)
	require.NotNil(t, req.BatchCount)
	assert.Equal(t, 7, *req.BatchCount)
}

func TestParseProofRequestInvalidBody(t *testing.T) {
	for _, body := range []string{"", "null", "[]", "42", `"text"`, "{not json"} {
		_, f := ParseProofRequest([]byte(body))
		require.NotNil(t, f, body)
		assert.Equal(t, failure.InvalidBody, f.Code, body)
	}
}

func TestParseProofRequestMissingFields(t *testing.T) {
	cases := []struct {
		field string
		code  failure.Code
	}{
		{"txSignature", "MISSING_TX_SIGNATURE"},
		{"txBytesBase58", "MISSING_TX_BYTES_BASE58"},
		{"runtimeProofHash", "MISSING_RUNTIME_PROOF_HASH"},
		{"timestamp", "MISSING_TIMESTAMP"},
		{"userId", "MISSING_USER_ID"},
	}
	for _, c := range cases {
		// absent
		body := removeField(fullBody, c.field)
		_, f := ParseProofRequest([]byte(body))
		require.NotNil(t, f, c.field)
		assert.Equal(t, c.code, f.Code, c.field)

		// null
		body = nullField(fullBody, c.field)
		_, f = ParseProofRequest([]byte(body))
		require.NotNil(t, f, c.field)
		assert.Equal(t, c.code, f.Code, c.field)
	}
}

func TestParseProofRequestReportsFirstMissingField(t *testing.T) {
	_, f := ParseProofRequest([]byte(`{"timestamp": 1}`))
	require.NotNil(t, f)
	assert.Equal(t, failure.Code("MISSING_TX_SIGNATURE"), f.Code)
}

func TestParseProofRequestWrongType(t *testing.T) {
	body := strings.Replace(fullBody, "1700000000000", `"yesterday"`, 1)
	_, f := ParseProofRequest([]byte(body))
	require.NotNil(t, f)
	assert.Equal(t, failure.InvalidBody, f.Code)
}

func TestParseWallet(t *testing.T) {
	wallet, f := ParseWallet([]byte(`{"wallet": "0123456789abcdefghij"}`))
	require.Nil(t, f)
	assert.Equal(t, "0123456789abcdefghij", wallet)

	for _, body := range []string{`{"wallet": "short"}`, `{}`, `{"wallet": 12345678901234567890123}`, `{"wallet": "0123456789abcdefghi"}`} {
		_, f := ParseWallet([]byte(body))
		require.NotNil(t, f, body)
		assert.Equal(t, failure.InvalidWallet, f.Code, body)
	}

	_, f = ParseWallet([]byte(`null`))
	require.NotNil(t, f)
	assert.Equal(t, failure.InvalidBody, f.Code)
}

func removeField(body, field string) string {
	lines := strings.Split(body, "\n")
	out := lines[:0]
	for _, l := range lines {
		if strings.Contains(l, `"`+field+`"`) {
			continue
		}
		out = append(out, l)
	}
	joined := strings.Join(out, "\n")
	// the last remaining field must not end with a comma
	return strings.Replace(joined, ",\n}", "\n}", 1)
}

func nullField(body, field string) string {
	lines := strings.Split(body, "\n")
	for i, l := range lines {
		if strings.Contains(l, `"`+field+`"`) {
			suffix := ""
			if strings.HasSuffix(l, ",") {
				suffix = ","
			}
			lines[i] = "\t\"" + field + "\": null" + suffix
		}
	}
	return strings.Join(lines, "\n")
}
