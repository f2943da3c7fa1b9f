package job

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/yashshrestha-maitri/triton-agentic-poc-sub003/internal/domain/model"
)

// IdempotencyKey derives the dedupe key for a submission: kind, subject and a hash of the
// payload after JSON canonicalisation, so key order and whitespace do not matter.
func IdempotencyKey(kind model.JobKind, subjectID string, payload json.RawMessage) string {
	sum := sha256.Sum256(canonicalJSON(payload))
	return string(kind) + ":" + subjectID + ":" + hex.EncodeToString(sum[:])
}

func canonicalJSON(raw json.RawMessage) []byte {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return []byte("null")
	}
	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return trimmed
	}
	// encoding/json sorts map keys on output.
	out, err := json.Marshal(v)
	if err != nil {
		return trimmed
	}
	return out
}
