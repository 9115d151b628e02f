package logstream

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/irgordon/slipway/internal/core/domain"
)

func entry(content string) domain.LogEntry {
	return domain.LogEntry{Level: domain.LevelInfo, Content: content}
}

func TestRingDropsOldestWhenFull(t *testing.T) {
	b := NewBuffer()
	for i := 0; i < ringCapacity+10; i++ {
		b.Publish(entry(fmt.Sprintf("line %d", i)))
	}

	snap := b.Snapshot()
	require.Len(t, snap, ringCapacity)
	assert.Equal(t, "line 10", snap[0].Content)
	assert.Equal(t, fmt.Sprintf("line %d", ringCapacity+9), snap[len(snap)-1].Content)
}

func TestSubscribeReplaysHistoryThenStreams(t *testing.T) {
	b := NewBuffer()
	b.Publish(entry("one"))
	b.Publish(entry("two"))

	ch, cancel := b.Subscribe()
	defer cancel()

	b.Publish(entry("three"))

	var got []string
	for i := 0; i < 3; i++ {
		got = append(got, (<-ch).Content)
	}
	assert.Equal(t, []string{"one", "two", "three"}, got)
}

func TestSlowSubscriberIsDisconnected(t *testing.T) {
	b := NewBuffer()
	ch, cancel := b.Subscribe()
	defer cancel()

	// Never read: overflow the subscriber buffer and one more.
	for i := 0; i < subscriberBuffer+1; i++ {
		b.Publish(entry("x"))
	}

	// The channel must have been closed after its buffer filled.
	for i := 0; i < subscriberBuffer; i++ {
		_, ok := <-ch
		require.True(t, ok)
	}
	_, ok := <-ch
	assert.False(t, ok, "slow subscriber channel should be closed")
}

func TestCloseDisconnectsSubscribers(t *testing.T) {
	b := NewBuffer()
	ch, cancel := b.Subscribe()
	defer cancel()

	b.Close()
	_, ok := <-ch
	assert.False(t, ok)

	// Publishing after close is a silent no-op.
	b.Publish(entry("late"))
	assert.Empty(t, b.Snapshot())
}

func TestCancelIsIdempotent(t *testing.T) {
	b := NewBuffer()
	_, cancel := b.Subscribe()
	cancel()
	cancel()
}

func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry()

	_, ok := r.Lookup(1)
	assert.False(t, ok)

	b := r.Open(1)
	assert.Same(t, b, r.Open(1), "Open must be idempotent")

	got, ok := r.Lookup(1)
	require.True(t, ok)
	assert.Same(t, b, got)

	r.Remove(1)
	_, ok = r.Lookup(1)
	assert.False(t, ok)
}
