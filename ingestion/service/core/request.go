package service

import (
	"bytes"
	"encoding/json"

	"proofanchor/anchoring/failure"
	"proofanchor/internal/models"
)

// MinWalletLength is the shortest wallet identifier retrieval accepts
const MinWalletLength = 20

// requiredFields are checked in this order; the first absent one is reported
var requiredFields = []string{"txSignature", "txBytesBase58", "runtimeProofHash", "timestamp", "userId"}

// ParseProofRequest decodes a proof request body. A body that is not a JSON object
// yields INVALID_BODY; an absent, null or empty required field yields
// MISSING_<FIELD> for the first such field.
func ParseProofRequest(body []byte) (*models.ProofRequest, *failure.Error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil || fields == nil {
		return nil, failure.New(failure.InvalidBody, "request body must be a JSON object")
	}
	for _, name := range requiredFields {
		if isAbsent(fields[name]) {
			return nil, failure.New(failure.Missing(name), "%s is required", name)
		}
	}

	var req models.ProofRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, failure.New(failure.InvalidBody, "malformed request field: %v", err)
	}
	return &req, nil
}

func isAbsent(raw json.RawMessage) bool {
	v := bytes.TrimSpace(raw)
	return len(v) == 0 || bytes.Equal(v, []byte("null")) || bytes.Equal(v, []byte(`""`))
}

// ParseWallet decodes a retrieval body {"wallet": "..."}
func ParseWallet(body []byte) (string, *failure.Error) {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil || payload == nil {
		return "", failure.New(failure.InvalidBody, "request body must be a JSON object")
	}
	var wallet string
	if raw, ok := payload["wallet"]; ok {
		if err := json.Unmarshal(raw, &wallet); err != nil {
			return "", failure.New(failure.InvalidWallet, "wallet must be a string")
		}
	}
	if f := ValidateWallet(wallet); f != nil {
		return "", f
	}
	return wallet, nil
}

// ValidateWallet rejects wallets shorter than MinWalletLength characters
func ValidateWallet(wallet string) *failure.Error {
	if len([]rune(wallet)) < MinWalletLength {
		return failure.New(failure.InvalidWallet, "wallet must be at least %d characters", MinWalletLength)
	}
	return nil
}
