package conncache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sourceops/cloud-custodian/internal/session"
)

func TestSlot_MemoizesFactory(t *testing.T) {
	c := New()
	calls := 0
	factory := func(...string) *session.Session {
		calls++
		return session.New(nil)
	}

	slot := c.Slot("worker-1")
	first := slot.Session(factory)
	second := slot.Session(factory)
	assert.Same(t, first, second)
	assert.Equal(t, 1, calls)
	assert.Same(t, slot, c.Slot("worker-1"))
	assert.Equal(t, "worker-1", slot.Key())
}

func TestReset_ClearsOnlyThatWorker(t *testing.T) {
	c := New()
	a := c.Slot("a")
	b := c.Slot("b")
	a.Set(session.New(nil))
	b.Set(session.New(nil))
	require.Equal(t, 2, c.Active())

	c.Reset("a")
	assert.Nil(t, a.Current())
	assert.NotNil(t, b.Current())
	assert.Equal(t, 1, c.Active())

	c.Reset("unknown")
	c.Reset("a")
	assert.Equal(t, 1, c.Active())
}

func TestReset_NextSessionIsFresh(t *testing.T) {
	c := New()
	slot := c.Slot("worker")

	old := slot.Session(func(...string) *session.Session { return session.New(nil) })
	c.Reset("worker")

	fresh := slot.Session(func(...string) *session.Session { return session.New(nil) })
	assert.NotSame(t, old, fresh)
}

func TestResetAll(t *testing.T) {
	c := New()
	for i := 0; i < 5; i++ {
		c.Slot(fmt.Sprintf("w%d", i)).Set(session.New(nil))
	}
	require.Equal(t, 5, c.Active())
	c.ResetAll()
	assert.Zero(t, c.Active())
}

func TestCache_ConcurrentWorkers(t *testing.T) {
	c := New()
	const workers = 50

	var wg sync.WaitGroup
	wg.Add(workers)
	got := make([]*session.Session, workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("worker-%d", i)
			got[i] = c.Slot(key).Session(func(...string) *session.Session { return session.New(nil) })
			c.Reset(key)
		}(i)
	}
	wg.Wait()

	seen := make(map[*session.Session]bool)
	for _, s := range got {
		assert.False(t, seen[s], "workers must not share sessions")
		seen[s] = true
	}
	assert.Zero(t, c.Active())
}
