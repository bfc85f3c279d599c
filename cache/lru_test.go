// Copyright (C) 2020-2025, Hyra Network Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestPutGet(t *testing.T) {
	require := require.New(t)

	c := New(4)
	c.Put([]byte("a"), []byte("1"))

	v, ok := c.Get([]byte("a"))
	require.True(ok)
	require.Equal([]byte("1"), v)

	_, ok = c.Get([]byte("b"))
	require.False(ok)
}

func TestPutRefreshesExisting(t *testing.T) {
	require := require.New(t)

	c := New(2)
	c.Put([]byte("a"), []byte("1"))
	c.Put([]byte("b"), []byte("2"))
	c.Put([]byte("a"), []byte("10"))

	// "a" was refreshed, so adding a third entry evicts "b".
	c.Put([]byte("c"), []byte("3"))

	v, ok := c.Get([]byte("a"))
	require.True(ok)
	require.Equal([]byte("10"), v)

	_, ok = c.Get([]byte("b"))
	require.False(ok)
	require.Equal(2, c.Len())
}

func TestEvictionOrder(t *testing.T) {
	require := require.New(t)

	c := New(3)
	c.Put([]byte("a"), []byte("1"))
	c.Put([]byte("b"), []byte("2"))
	c.Put([]byte("c"), []byte("3"))

	// Touch "a" so "b" is the oldest.
	_, ok := c.Get([]byte("a"))
	require.True(ok)

	c.Put([]byte("d"), []byte("4"))
	_, ok = c.Get([]byte("b"))
	require.False(ok)
	for _, key := range []string{"a", "c", "d"} {
		_, ok := c.Get([]byte(key))
		require.True(ok)
	}
}

func TestRemoveAndClear(t *testing.T) {
	require := require.New(t)

	c := New(4)
	c.Put([]byte("a"), []byte("1"))
	c.Put([]byte("b"), []byte("2"))

	c.Remove([]byte("a"))
	_, ok := c.Get([]byte("a"))
	require.False(ok)
	require.Equal(1, c.Len())

	// Removing a missing key is a no-op.
	c.Remove([]byte("missing"))
	require.Equal(1, c.Len())

	c.Clear()
	require.Zero(c.Len())
	_, ok = c.Get([]byte("b"))
	require.False(ok)
}

func TestConcurrentAccess(t *testing.T) {
	require := require.New(t)

	c := New(128)
	require.NoError(c.WithMetrics(prometheus.NewRegistry()))

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				key := []byte(fmt.Sprintf("key-%d", i%256))
				switch i % 3 {
				case 0:
					c.Put(key, []byte{byte(g)})
				case 1:
					c.Get(key)
				default:
					c.Remove(key)
				}
			}
		}(g)
	}
	wg.Wait()
	require.LessOrEqual(c.Len(), 128)
}

func TestCapacityIsFixed(t *testing.T) {
	require := require.New(t)

	c := New(16)
	for i := 0; i < 100; i++ {
		c.Put([]byte(fmt.Sprintf("k%d", i)), []byte("v"))
	}
	require.Equal(16, c.Len())
	require.Equal(16, c.Capacity())
}
