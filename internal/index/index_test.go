package index

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadStoreDelete(t *testing.T) {
	t.Parallel()

	m := New[int](64)

	_, ok := m.Load(1)
	require.False(t, ok)

	m.Store(1, 10)
	v, ok := m.Load(1)
	require.True(t, ok)
	require.Equal(t, 10, v)

	m.Store(1, 11)
	v, _ = m.Load(1)
	require.Equal(t, 11, v)

	v, ok = m.Delete(1)
	require.True(t, ok)
	require.Equal(t, 11, v)
	_, ok = m.Delete(1)
	require.False(t, ok)
}

func TestLoadOrStore(t *testing.T) {
	t.Parallel()

	m := New[string](8)

	actual, loaded := m.LoadOrStore(5, "a")
	require.False(t, loaded)
	require.Equal(t, "a", actual)

	actual, loaded = m.LoadOrStore(5, "b")
	require.True(t, loaded)
	require.Equal(t, "a", actual, "existing value must win")
}

// DeleteIf removes only when the condition approves the current value.
func TestDeleteIf(t *testing.T) {
	t.Parallel()

	m := New[int](8)
	m.Store(7, 70)

	require.False(t, m.DeleteIf(7, func(v int) bool { return v == 71 }))
	_, ok := m.Load(7)
	require.True(t, ok, "rejected DeleteIf must not remove")

	require.True(t, m.DeleteIf(7, func(v int) bool { return v == 70 }))
	_, ok = m.Load(7)
	require.False(t, ok)

	require.False(t, m.DeleteIf(7, func(int) bool { return true }), "absent key")
}

func TestLen(t *testing.T) {
	t.Parallel()

	m := New[int](128)
	for k := uint64(0); k < 100; k++ {
		m.Store(k, int(k))
	}
	require.Equal(t, 100, m.Len())
}

// Concurrent writers on overlapping keys must leave exactly one value
// per surviving key.
func TestConcurrentAccess(t *testing.T) {
	t.Parallel()

	m := New[uint64](1024)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(seed uint64) {
			defer wg.Done()
			for i := uint64(0); i < 10_000; i++ {
				k := i % 512
				switch i % 4 {
				case 0:
					m.Store(k, k)
				case 1:
					m.Load(k)
				case 2:
					m.LoadOrStore(k, k)
				case 3:
					m.DeleteIf(k, func(v uint64) bool { return v == k })
				}
			}
		}(uint64(w))
	}
	wg.Wait()

	for k := uint64(0); k < 512; k++ {
		if v, ok := m.Load(k); ok {
			require.Equal(t, k, v)
		}
	}
}
