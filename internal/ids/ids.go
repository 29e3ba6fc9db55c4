// Package ids implements the identifier and hashing schemes from the data
// model: task ids, run ids, worker ids, fixture ids, and doc content hashes.
package ids

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// NewTaskID returns "tx-" followed by 8 lowercase hex characters drawn from
// a cryptographic RNG. Callers that need collision safety must check the
// result against the store before inserting; store.DB.CreateTask does not
// check, and a duplicate id fails its insert.
func NewTaskID() (string, error) {
	suffix, err := randomHex(4)
	if err != nil {
		return "", err
	}
	return "tx-" + suffix, nil
}

// NewRunID returns "run-" followed by 12 hex characters.
func NewRunID() (string, error) {
	suffix, err := randomHex(6)
	if err != nil {
		return "", err
	}
	return "run-" + suffix, nil
}

// NewWorkerID returns "worker-" followed by 8 hex characters.
func NewWorkerID() (string, error) {
	suffix, err := randomHex(4)
	if err != nil {
		return "", err
	}
	return "worker-" + suffix, nil
}

// FixtureID deterministically derives a test fixture id from a seed name:
// the first 8 hex characters of sha256("fixture-seed:" + name).
func FixtureID(name string) string {
	sum := sha256.Sum256([]byte("fixture-seed:" + name))
	return hex.EncodeToString(sum[:])[:8]
}

// ContentHash returns the sha256 hex digest of arbitrary canonical bytes
// (used for doc YAML bodies and JSONL line deduplication).
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
