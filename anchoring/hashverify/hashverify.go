// Package hashverify recomputes the runtime proof fingerprint binding transaction
// bytes to a timestamp and runtime identifier.
//
// The serialization is fixed and versionless:
//
//	sha256(txBytes || "|ts:" || decimal(timestamp) || "|rid:" || runtimeID)
//
// rendered as lowercase hex. An absent runtime id is the empty string.
package hashverify

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strconv"
	"strings"
)

// Suffix returns the bytes appended to the transaction before hashing
func Suffix(timestamp int64, runtimeID string) []byte {
	return []byte("|ts:" + strconv.FormatInt(timestamp, 10) + "|rid:" + runtimeID)
}

// Compute returns the lowercase hex fingerprint of txBytes for timestamp and runtimeID
func Compute(txBytes []byte, timestamp int64, runtimeID string) string {
	h := sha256.New()
	h.Write(txBytes)
	h.Write(Suffix(timestamp, runtimeID))
	return hex.EncodeToString(h.Sum(nil))
}

// Verify reports whether claimedHex matches the recomputed fingerprint. Hex case is
// ignored; a mismatch is never an error.
func Verify(txBytes []byte, timestamp int64, runtimeID, claimedHex string) bool {
	expected := Compute(txBytes, timestamp, runtimeID)
	claimed := strings.ToLower(strings.TrimSpace(claimedHex))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(claimed)) == 1
}
