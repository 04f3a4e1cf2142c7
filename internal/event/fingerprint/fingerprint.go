// Package fingerprint derives the content-addressed identity of an event.
//
// The identity is the sole deduplication mechanism in the system: the
// ingestion gateway uses it for in-batch dedup and the store enforces it as
// the row's uniqueness constraint, so at-least-once delivery converges to one
// row per logical event.
package fingerprint

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
)

// New computes the hex digest identifying an event. The timestamp must
// already be in canonical form (models.NormalizeTimestamp); passing a
// differently rendered instant yields a different identity.
//
// Collision resistance, not secrecy, is the requirement here, and SHA-1's
// collision probability is negligible at this system's event volume.
func New(orgID, projectID, userID, eventName, canonicalTimestamp string) string {
	raw := strings.Join([]string{orgID, projectID, userID, eventName, canonicalTimestamp}, "|")
	sum := sha1.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])
}
