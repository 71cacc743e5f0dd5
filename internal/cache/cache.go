// Package cache memoizes batch membership lookups for the duration
// of one run. Cohort variants frequently share a support or
// exclusion code axis; the first evaluation pays for the query, the
// rest reuse the answer.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Key builds a stable cache key from an operation name and its
// parameters (code patterns, window bounds, member set digest).
func Key(op string, parts ...string) string {
	hash := sha256.Sum256([]byte(op + "\x00" + strings.Join(parts, "\x00")))
	return "cohortctl:v1:" + op + ":" + hex.EncodeToString(hash[:])
}

// WindowKey renders a window bound for Key; zero times render empty
// so unbounded and bounded windows never collide.
func WindowKey(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}
