package ttlcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCache_SetGetExpiry(t *testing.T) {
	t0 := time.Unix(0, 0)
	c := New[string, int]()

	c.Set("a", 1, t0, 10*time.Millisecond)

	v, ok := c.Get("a", t0)
	require.True(t, ok)
	require.Equal(t, 1, v)

	v, ok = c.Get("a", t0.Add(5*time.Millisecond))
	require.True(t, ok)
	require.Equal(t, 1, v)

	_, ok = c.Get("a", t0.Add(10*time.Millisecond))
	require.False(t, ok, "entry must be expired at exactly its deadline")
}

func TestCache_Evict(t *testing.T) {
	t0 := time.Unix(0, 0)
	c := New[string, int]()
	c.Set("a", 1, t0, 10*time.Millisecond)
	c.Set("b", 2, t0, 20*time.Millisecond)

	evicted := c.Evict(t0.Add(15 * time.Millisecond))
	require.Len(t, evicted, 1)
	require.Equal(t, "a", evicted[0].Key)
	require.Equal(t, 1, c.Len())

	_, ok := c.Get("a", t0.Add(15*time.Millisecond))
	require.False(t, ok)
	v, ok := c.Get("b", t0.Add(15*time.Millisecond))
	require.True(t, ok)
	require.Equal(t, 2, v)
}

func TestCache_ForceEvictPrefersExpiredOldestFirst(t *testing.T) {
	t0 := time.Unix(0, 0)
	c := New[string, int]()
	c.Set("oldest", 1, t0, 5*time.Millisecond)
	c.Set("newer", 2, t0, 50*time.Millisecond)
	c.Set("newest", 3, t0, 100*time.Millisecond)

	now := t0.Add(10 * time.Millisecond) // only "oldest" has actually expired
	evicted := c.ForceEvict(now, 2)
	require.Len(t, evicted, 2)
	require.Equal(t, "oldest", evicted[0].Key)
	require.Equal(t, "newer", evicted[1].Key)
	require.Equal(t, 1, c.Len())
}

func TestCache_ForceEvictCountLargerThanSizeDrainsCache(t *testing.T) {
	t0 := time.Unix(0, 0)
	c := New[string, int]()
	c.Set("a", 1, t0, time.Second)
	c.Set("b", 2, t0, time.Second)

	evicted := c.ForceEvict(t0, 100)
	require.Len(t, evicted, 2)
	require.Equal(t, 0, c.Len())
}

func TestCache_ExportImportRoundTrip(t *testing.T) {
	t0 := time.Unix(0, 0)
	c := New[string, int]()
	c.Set("a", 1, t0, time.Second)
	c.Set("b", 2, t0, time.Second)

	exported := c.Export(t0)
	require.Len(t, exported, 2)

	c2 := New[string, int]()
	c2.Import(exported, t0, time.Second)
	require.Equal(t, 2, c2.Len())

	v, ok := c2.Get("a", t0)
	require.True(t, ok)
	require.Equal(t, 1, v)
	v, ok = c2.Get("b", t0)
	require.True(t, ok)
	require.Equal(t, 2, v)
}

func TestCache_Clear(t *testing.T) {
	t0 := time.Unix(0, 0)
	c := New[string, int]()
	c.Set("a", 1, t0, time.Second)
	c.Set("b", 2, t0, time.Second)

	c.Clear()
	require.Equal(t, 0, c.Len())
	_, ok := c.Get("a", t0)
	require.False(t, ok)
}

func TestCache_Delete(t *testing.T) {
	t0 := time.Unix(0, 0)
	c := New[string, int]()
	c.Set("a", 1, t0, time.Second)
	c.Delete("a")

	_, ok := c.Get("a", t0)
	require.False(t, ok)
	require.Equal(t, 0, c.Len())
}
