package idempotency

import (
	"net/http"
	"strings"
)

const (
	Header       = "Idempotency-Key"
	ReplayHeader = "Idempotent-Replay"
)

// MaxKeyLen bounds the stored key; longer keys are rejected by the boundary.
const MaxKeyLen = 200

func Key(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(Header))
}

func Valid(key string) bool {
	return len(key) <= MaxKeyLen
}
