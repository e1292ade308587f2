package rs232

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateCache_GetMiss(t *testing.T) {
	c := NewStateCache()

	_, ok := c.Get("L1")
	assert.False(t, ok)
}

func TestStateCache_Update(t *testing.T) {
	c := NewStateCache()
	now := time.Now()

	require.True(t, c.Update("LV", []byte("42"), now))

	r, ok := c.Get("LV")
	require.True(t, ok)
	assert.Equal(t, []byte("42"), r.Value)
	assert.Equal(t, now, r.At)
}

func TestStateCache_LastWriteWins(t *testing.T) {
	c := NewStateCache()
	base := time.Now()

	require.True(t, c.Update("LV", []byte("10"), base))
	require.True(t, c.Update("LV", []byte("20"), base.Add(time.Second)))

	r, ok := c.Get("LV")
	require.True(t, ok)
	assert.Equal(t, []byte("20"), r.Value)

	// A stale update must not clobber the newer reading.
	assert.False(t, c.Update("LV", []byte("05"), base.Add(-time.Second)))

	r, ok = c.Get("LV")
	require.True(t, ok)
	assert.Equal(t, []byte("20"), r.Value)
	assert.Equal(t, base.Add(time.Second), r.At)
}

func TestStateCache_UpdateCopiesValue(t *testing.T) {
	c := NewStateCache()
	val := []byte("42")

	c.Update("LV", val, time.Now())
	val[0] = 'X'

	r, ok := c.Get("LV")
	require.True(t, ok)
	assert.Equal(t, []byte("42"), r.Value)
}

func TestStateCache_Subscribe(t *testing.T) {
	c := NewStateCache()

	var gotCode string
	var gotReading Reading
	calls := 0

	c.Subscribe("L1", func(code string, r Reading) {
		gotCode = code
		gotReading = r
		calls++
	})

	base := time.Now()
	c.Update("L1", []byte("x"), base)
	require.Equal(t, 1, calls)
	assert.Equal(t, "L1", gotCode)
	assert.Equal(t, []byte("x"), gotReading.Value)

	// Updates to other codes do not notify.
	c.Update("L0", nil, base)
	assert.Equal(t, 1, calls)

	// Dropped stale updates do not notify either.
	c.Update("L1", []byte("y"), base.Add(-time.Second))
	assert.Equal(t, 1, calls)
}

func TestStateCache_Snapshot(t *testing.T) {
	c := NewStateCache()
	now := time.Now()

	c.Update("L1", nil, now)
	c.Update("LV", []byte("42"), now.Add(time.Millisecond))

	snap := c.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, []byte("42"), snap["LV"].Value)

	// The snapshot is detached from the cache.
	c.Update("L0", nil, now)
	assert.Len(t, snap, 2)
}
