package chain

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/chainward/chainward/pkg/models"
	"github.com/stretchr/testify/assert"
)

func fixedClock() func() time.Time {
	t := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return t }
}

func TestAppendLinksEvents(t *testing.T) {
	c := NewWithClock(fixedClock())

	first := c.Append(models.EventNodeRegistered, `{"node_id":"node-1"}`)
	second := c.Append(models.EventTaskSubmitted, `{"task_id":"t1"}`)

	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, "", first.PrevHash)
	assert.NotEmpty(t, first.Hash)
	assert.Equal(t, int64(2), second.ID)
	assert.Equal(t, first.Hash, second.PrevHash)
	assert.Equal(t, second.Hash, c.TipHash())
	assert.Equal(t, 2, c.Len())
}

func TestVerifyCleanChain(t *testing.T) {
	c := NewWithClock(fixedClock())
	for i := 0; i < 25; i++ {
		c.Append(models.EventTaskSubmitted, fmt.Sprintf(`{"task_id":"t%d"}`, i))
	}

	valid, broken := c.Verify()
	assert.True(t, valid)
	assert.Equal(t, -1, broken)
}

func TestVerifyDetectsPayloadTampering(t *testing.T) {
	c := NewWithClock(fixedClock())
	for i := 0; i < 5; i++ {
		c.Append(models.EventTaskSubmitted, fmt.Sprintf(`{"task_id":"t%d"}`, i))
	}

	// Out-of-band mutation of stored state; Verify must find it.
	c.events[2].Payload = `{"task_id":"forged"}`

	valid, broken := c.Verify()
	assert.False(t, valid)
	assert.Equal(t, 2, broken)
}

func TestVerifyDetectsLinkageBreak(t *testing.T) {
	c := NewWithClock(fixedClock())
	for i := 0; i < 5; i++ {
		c.Append(models.EventTaskSubmitted, fmt.Sprintf(`{"task_id":"t%d"}`, i))
	}

	// Rewrite event 3 consistently with itself but not with its successor.
	c.events[3].Payload = `{"task_id":"forged"}`
	c.events[3].Hash = hashEvent(c.events[3])

	valid, broken := c.Verify()
	assert.False(t, valid)
	assert.Equal(t, 4, broken)
}

func TestAnchorsGeneratedEveryInterval(t *testing.T) {
	c := NewWithClock(fixedClock())
	for i := 0; i < AnchorInterval*3+4; i++ {
		c.Append(models.EventTaskSubmitted, fmt.Sprintf(`{"task_id":"t%d"}`, i))
	}

	anchors := c.Anchors()
	assert.Len(t, anchors, 3)
	assert.Equal(t, 0, anchors[0].BlockStart)
	assert.Equal(t, AnchorInterval, anchors[0].BlockEnd)
	assert.Equal(t, AnchorInterval*2, anchors[2].BlockStart)
	assert.Equal(t, AnchorInterval*3, anchors[2].BlockEnd)

	valid, bad := c.VerifyAllAnchors()
	assert.True(t, valid)
	assert.Equal(t, -1, bad)
}

func TestVerifyAnchorDetectsMismatch(t *testing.T) {
	c := NewWithClock(fixedClock())
	for i := 0; i < AnchorInterval*2; i++ {
		c.Append(models.EventTaskSubmitted, fmt.Sprintf(`{"task_id":"t%d"}`, i))
	}

	c.anchors[1].AggregateHash = strings.Repeat("0", 64)

	assert.True(t, c.VerifyAnchor(0))
	assert.False(t, c.VerifyAnchor(1))
	valid, bad := c.VerifyAllAnchors()
	assert.False(t, valid)
	assert.Equal(t, 1, bad)

	assert.False(t, c.VerifyAnchor(-1))
	assert.False(t, c.VerifyAnchor(5))
}

func TestRecentWindow(t *testing.T) {
	c := NewWithClock(fixedClock())
	for i := 0; i < 5; i++ {
		c.Append(models.EventTaskSubmitted, fmt.Sprintf(`{"task_id":"t%d"}`, i))
	}

	recent := c.Recent(3)
	assert.Len(t, recent, 3)
	assert.Equal(t, int64(3), recent[0].ID)
	assert.Equal(t, int64(5), recent[2].ID)

	assert.Len(t, c.Recent(100), 5)
	assert.Nil(t, c.Recent(0))
}

func TestEventAccessors(t *testing.T) {
	c := NewWithClock(fixedClock())
	assert.Equal(t, "", c.TipHash())

	appended := c.Append(models.EventNodeRegistered, `{"node_id":"node-1"}`)

	got, ok := c.Event(0)
	assert.True(t, ok)
	assert.Equal(t, appended, got)

	_, ok = c.Event(1)
	assert.False(t, ok)
	_, ok = c.Event(-1)
	assert.False(t, ok)
}

func TestWriteCSV(t *testing.T) {
	c := NewWithClock(fixedClock())
	c.Append(models.EventNodeRegistered, `{"node_id":"node-1"}`)
	c.Append(models.EventTaskSubmitted, `{"task_id":"t1"}`)

	var buf bytes.Buffer
	assert.NoError(t, c.WriteCSV(&buf))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 3)
	assert.Equal(t, "eventId,hash,prevHash,timestamp,eventType", lines[0])
	assert.Contains(t, lines[1], "GENESIS")
	assert.Contains(t, lines[1], "node_registered")
	assert.NotContains(t, lines[2], "GENESIS")
}
