package models

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewID creates a globally unique id in the format:
//
//	{prefix}_{unix_nano}_{12_hex_chars}
//
// The 12 hex characters are derived from 6 cryptographically random
// bytes, giving 48 bits of randomness to avoid collisions at the same
// nanosecond. If crypto/rand fails, the id omits the random suffix and
// relies on the nanosecond timestamp alone — acceptable since ids are
// still minted by a single process.
func NewID(prefix string) string {
	timestamp := time.Now().UnixNano()

	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("%s_%d", prefix, timestamp)
	}

	return fmt.Sprintf("%s_%d_%s", prefix, timestamp, hex.EncodeToString(b[:]))
}

// NewCorrelationID mints an id for tying together a chain of events that
// never gets looked up by id the way an entity does (a gate escalation's
// retries, an idle-grace timer and the decision it eventually raises). A
// plain random uuid rather than NewID's timestamp-prefixed format, since
// nothing needs these sorted or parsed.
func NewCorrelationID() string {
	return uuid.New().String()
}
