//go:build test

package ringchan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendOverwritesOldest(t *testing.T) {
	rc := New[int](3)

	for i := 1; i <= 5; i++ {
		rc.Send(i)
	}

	// Only the last three survive.
	var got []int
	for {
		v, ok := rc.TryReceive()
		if !ok {
			break
		}
		got = append(got, v)
	}
	assert.Equal(t, []int{3, 4, 5}, got)

	m := rc.GetMetrics()
	assert.Equal(t, int64(5), m.Written)
	assert.Equal(t, int64(2), m.Overwritten)
	assert.Equal(t, int64(3), m.Processed)
}

func TestSendReportsDrop(t *testing.T) {
	rc := New[string](1)
	assert.False(t, rc.Send("a"))
	assert.True(t, rc.Send("b"))
}

func TestTrySend(t *testing.T) {
	rc := New[int](1)
	assert.True(t, rc.TrySend(1))
	assert.False(t, rc.TrySend(2))

	v, ok := rc.TryReceive()
	require.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestReceiveAfterClose(t *testing.T) {
	rc := New[int](2)
	rc.Send(7)
	rc.Close()

	v, ok := rc.Receive()
	require.True(t, ok)
	assert.Equal(t, 7, v)

	_, ok = rc.Receive()
	assert.False(t, ok)
}

func TestRangeOverC(t *testing.T) {
	rc := New[int](4)
	for i := 0; i < 4; i++ {
		rc.Send(i)
	}
	rc.Close()

	sum := 0
	for v := range rc.C() {
		sum += v
	}
	assert.Equal(t, 6, sum)
	assert.Equal(t, 0, rc.Len())
	assert.Equal(t, 4, rc.Cap())
}

func TestZeroCapacityPanics(t *testing.T) {
	assert.Panics(t, func() { New[int](0) })
}
