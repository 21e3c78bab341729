// Package idgen generates identifiers for accounts, withdrawals and payments.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// ReferencePrefix marks payment references handed to the gateway.
const ReferencePrefix = "PAY-"

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// New returns a random UUIDv4 string.
func New() string {
	return uuid.NewString()
}

// WithPrefix returns prefix followed by a dashless UUID (e.g. "wd_3f2a...").
func WithPrefix(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Reference returns a payment reference such as "PAY-01J9ZK3M4Q...". References
// are ULIDs, so they sort by creation time and stay unique across processes.
func Reference() string {
	return ReferencePrefix + newULID(time.Now()).String()
}

// IsReference reports whether s has the shape produced by Reference.
func IsReference(s string) bool {
	rest, ok := strings.CutPrefix(s, ReferencePrefix)
	if !ok {
		return false
	}
	_, err := ulid.ParseStrict(rest)
	return err == nil
}

// Hex generates a random hex string of the given byte length.
func Hex(numBytes int) string {
	b := make([]byte, numBytes)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}

func newULID(t time.Time) ulid.ULID {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy)
}
