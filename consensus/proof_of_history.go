package consensus

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sync"
)

// HistorySequence is an append-only ordered list of opaque events with a
// cumulative digest. Events can never be removed or reordered after append,
// so any tampering with the recorded order changes the digest.
type HistorySequence struct {
	mu     sync.Mutex
	events []string
}

// NewHistorySequence returns an empty sequence.
func NewHistorySequence() *HistorySequence {
	return &HistorySequence{}
}

// Append adds events to the end of the sequence.
func (h *HistorySequence) Append(events ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, events...)
}

// Len returns the number of recorded events.
func (h *HistorySequence) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

// Digest hashes every event in append order. Each event is length-prefixed
// so distinct sequences cannot collide by shifting bytes across event
// boundaries. Appending in batches yields the same digest as appending the
// same events in one pass.
func (h *HistorySequence) Digest() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	hasher := sha256.New()
	var prefix [8]byte
	for _, event := range h.events {
		binary.BigEndian.PutUint64(prefix[:], uint64(len(event)))
		hasher.Write(prefix[:])
		hasher.Write([]byte(event))
	}
	return hex.EncodeToString(hasher.Sum(nil))
}
