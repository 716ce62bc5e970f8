// Package chain implements the tamper-evident, causally-ordered log of
// engine decisions. Every entry links to its predecessor by hash, and every
// tenth entry triggers an aggregate anchor over the preceding block.
package chain

import (
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/chainward/chainward/pkg/models"
)

// AnchorInterval is the number of events summarized by one anchor.
const AnchorInterval = 10

// genesisMarker stands in for the missing predecessor hash of the first
// event when building the canonical hashing string and in CSV exports.
const genesisMarker = "GENESIS"

// Chain is an append-only hash-linked event log. All methods are safe for
// concurrent use; appends serialize through a single mutex so event IDs are
// strictly increasing and gap-free.
type Chain struct {
	mu      sync.RWMutex
	events  []models.Event
	anchors []models.Anchor
	now     func() time.Time
}

// New returns an empty chain stamping entries with the wall clock.
func New() *Chain {
	return NewWithClock(time.Now)
}

// NewWithClock returns an empty chain using the given clock. Tests inject a
// deterministic clock here so hashes are reproducible.
func NewWithClock(now func() time.Time) *Chain {
	return &Chain{now: now}
}

// Append records a new event linked to the current tip and returns it.
// When the new length is a multiple of AnchorInterval an anchor over the
// most recent block is generated synchronously, before Append returns.
func (c *Chain) Append(eventType models.EventType, payload string) models.Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := ""
	if n := len(c.events); n > 0 {
		prev = c.events[n-1].Hash
	}
	ev := models.Event{
		ID:        int64(len(c.events)) + 1,
		PrevHash:  prev,
		Timestamp: c.now(),
		Type:      eventType,
		Payload:   payload,
	}
	ev.Hash = hashEvent(ev)
	c.events = append(c.events, ev)

	if len(c.events)%AnchorInterval == 0 {
		start := len(c.events) - AnchorInterval
		c.anchors = append(c.anchors, c.buildAnchor(start, len(c.events)))
	}
	return ev
}

// hashEvent computes the digest over the canonical field ordering
// [eventID, prevHash-or-GENESIS, timestamp, type, payload].
func hashEvent(ev models.Event) string {
	prev := ev.PrevHash
	if prev == "" {
		prev = genesisMarker
	}
	canonical := fmt.Sprintf("%d|%s|%d|%s|%s", ev.ID, prev, ev.Timestamp.UnixNano(), ev.Type, ev.Payload)
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// buildAnchor aggregates the event hashes in [start, end). Callers hold the
// write lock.
func (c *Chain) buildAnchor(start, end int) models.Anchor {
	h := sha256.New()
	for _, ev := range c.events[start:end] {
		h.Write([]byte(ev.Hash))
	}
	return models.Anchor{
		BlockStart:    start,
		BlockEnd:      end,
		AggregateHash: hex.EncodeToString(h.Sum(nil)),
	}
}

// Verify walks the whole chain checking linkage and recomputing each stored
// hash. It returns true with -1 when the chain is intact, or false with the
// index of the first broken event.
func (c *Chain) Verify() (bool, int) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for i, ev := range c.events {
		if i == 0 {
			if ev.PrevHash != "" {
				return false, i
			}
		} else if ev.PrevHash != c.events[i-1].Hash {
			return false, i
		}
		if hashEvent(ev) != ev.Hash {
			return false, i
		}
	}
	return true, -1
}

// VerifyAnchor recomputes the aggregate hash of anchor i and compares it to
// the stored value. Unknown indices report false.
func (c *Chain) VerifyAnchor(i int) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if i < 0 || i >= len(c.anchors) {
		return false
	}
	a := c.anchors[i]
	if a.BlockStart < 0 || a.BlockEnd > len(c.events) {
		return false
	}
	return c.buildAnchor(a.BlockStart, a.BlockEnd).AggregateHash == a.AggregateHash
}

// VerifyAllAnchors checks every anchor, returning true with -1 when all
// match, or false with the first mismatching anchor index.
func (c *Chain) VerifyAllAnchors() (bool, int) {
	c.mu.RLock()
	n := len(c.anchors)
	c.mu.RUnlock()

	for i := 0; i < n; i++ {
		if !c.VerifyAnchor(i) {
			return false, i
		}
	}
	return true, -1
}

// Events returns a copy of the full event list.
func (c *Chain) Events() []models.Event {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.Event, len(c.events))
	copy(out, c.events)
	return out
}

// Event returns the event at index i.
func (c *Chain) Event(i int) (models.Event, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if i < 0 || i >= len(c.events) {
		return models.Event{}, false
	}
	return c.events[i], true
}

// Len reports the chain length.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.events)
}

// TipHash returns the hash of the latest event, or empty for a fresh chain.
func (c *Chain) TipHash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.events) == 0 {
		return ""
	}
	return c.events[len(c.events)-1].Hash
}

// Recent returns up to n most recent events, oldest first.
func (c *Chain) Recent(n int) []models.Event {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if n <= 0 {
		return nil
	}
	start := len(c.events) - n
	if start < 0 {
		start = 0
	}
	out := make([]models.Event, len(c.events)-start)
	copy(out, c.events[start:])
	return out
}

// Anchors returns a copy of all generated anchors.
func (c *Chain) Anchors() []models.Anchor {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]models.Anchor, len(c.anchors))
	copy(out, c.anchors)
	return out
}

// WriteCSV exports the chain for audit as flat CSV. The genesis event's
// missing predecessor is rendered as the literal GENESIS.
func (c *Chain) WriteCSV(w io.Writer) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"eventId", "hash", "prevHash", "timestamp", "eventType"}); err != nil {
		return fmt.Errorf("write chain csv header: %w", err)
	}
	for _, ev := range c.events {
		prev := ev.PrevHash
		if prev == "" {
			prev = genesisMarker
		}
		row := []string{
			strconv.FormatInt(ev.ID, 10),
			ev.Hash,
			prev,
			ev.Timestamp.Format(time.RFC3339Nano),
			string(ev.Type),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write chain csv row %d: %w", ev.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}
