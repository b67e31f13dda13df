package canonhash

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// SumObject hashes the json.Marshal bytes of v and returns a "sha256:" prefixed digest.
func SumObject(v any) (string, []byte, error) {
	hexHash, b, err := CanonicalSHA256(v)
	if err != nil {
		return "", nil, err
	}
	return "sha256:" + hexHash, b, nil
}

// CanonicalSHA256 hashes json.Marshal(v) with SHA256 and returns lower hex.
// Map keys are sorted by encoding/json, so callers signing payloads should
// pass maps or structs with a stable field order.
func CanonicalSHA256(v any) (hexHash string, bytes []byte, err error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", nil, err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), b, nil
}

// DecryptionPayload is the message an oracle signs when it answers a request.
// Exactly one of Cleartexts or Failure is meaningful.
func DecryptionPayload(requestID uint64, cleartexts []uint64, failure string) map[string]any {
	payload := map[string]any{
		"protocol":   "courtlane-decrypt",
		"version":    "v1",
		"request_id": requestID,
	}
	if strings.TrimSpace(failure) != "" {
		payload["failure"] = strings.TrimSpace(failure)
		return payload
	}
	if cleartexts == nil {
		cleartexts = []uint64{}
	}
	payload["cleartexts"] = cleartexts
	return payload
}
