package orchestrator

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGateAdmitsUpToCapacity(t *testing.T) {
	g := NewGate(2)
	assert.True(t, g.Acquire(1))
	assert.True(t, g.Acquire(2))
	assert.False(t, g.Acquire(3))
	assert.Equal(t, 2, g.InFlight())
}

func TestGateReacquireSameIDIsNoop(t *testing.T) {
	g := NewGate(1)
	assert.True(t, g.Acquire(1))
	assert.True(t, g.Acquire(1))
	assert.Equal(t, 1, g.InFlight())
}

func TestGateReleaseFreesSlot(t *testing.T) {
	g := NewGate(1)
	assert.True(t, g.Acquire(1))
	assert.False(t, g.Acquire(2))

	g.Release(1)
	assert.True(t, g.Acquire(2))
}

func TestGateReleaseIsIdempotent(t *testing.T) {
	g := NewGate(1)
	g.Release(99)
	assert.True(t, g.Acquire(1))
	g.Release(1)
	g.Release(1)
	assert.Equal(t, 0, g.InFlight())
}

func TestGateConcurrentAcquire(t *testing.T) {
	g := NewGate(3)
	var wg sync.WaitGroup
	admitted := make(chan int64, 100)
	for i := int64(1); i <= 100; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			if g.Acquire(id) {
				admitted <- id
			}
		}(i)
	}
	wg.Wait()
	close(admitted)

	var count int
	for range admitted {
		count++
	}
	assert.Equal(t, 3, count)
	assert.Equal(t, 3, g.InFlight())
}
