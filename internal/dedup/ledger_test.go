package dedup

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLedger_IsNewAndMarkSeen(t *testing.T) {
	l := NewLedger(0)

	assert.True(t, l.IsNew(1, "m1"))
	l.MarkSeen(1, "m1")
	assert.False(t, l.IsNew(1, "m1"))

	// Tenants are independent.
	assert.True(t, l.IsNew(2, "m1"))
}

func TestLedger_MarkSeenIsIdempotent(t *testing.T) {
	l := NewLedger(0)

	l.MarkSeen(1, "m1")
	l.MarkSeen(1, "m1")

	assert.Equal(t, 1, l.Len(1))
}

func TestLedger_Init(t *testing.T) {
	l := NewLedger(0)

	assert.Equal(t, 0, l.Len(5))
	l.Init(5)
	assert.Equal(t, 0, l.Len(5))

	l.MarkSeen(5, "a")
	l.Init(5)
	assert.Equal(t, 1, l.Len(5))
}

func TestLedger_Capacity(t *testing.T) {
	l := NewLedger(2)

	l.MarkSeen(1, "a")
	l.MarkSeen(1, "b")
	l.MarkSeen(1, "b")
	l.MarkSeen(1, "c")

	assert.Equal(t, 2, l.Len(1))
	assert.True(t, l.IsNew(1, "a"))
	assert.False(t, l.IsNew(1, "b"))
	assert.False(t, l.IsNew(1, "c"))
}

func TestLedger_NegativeCapacityIsUnbounded(t *testing.T) {
	l := NewLedger(-1)
	for i := 0; i < 100; i++ {
		l.MarkSeen(1, fmt.Sprintf("m%d", i))
	}
	assert.Equal(t, 100, l.Len(1))
}

func TestLedger_Concurrent(t *testing.T) {
	l := NewLedger(0)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				id := fmt.Sprintf("m%d", j)
				l.MarkSeen(int64(i%4), id)
				_ = l.IsNew(int64(i%4), id)
			}
		}(i)
	}
	wg.Wait()

	for tenant := int64(0); tenant < 4; tenant++ {
		assert.Equal(t, 50, l.Len(tenant))
	}
}
