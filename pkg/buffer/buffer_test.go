package buffer

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semstreams-mtconnect/errors"
	"github.com/c360/semstreams-mtconnect/metric"
)

func TestCircularBuffer_FIFO(t *testing.T) {
	buf, err := NewCircularBuffer[string](3)
	require.NoError(t, err)

	require.NoError(t, buf.Write("A@1"))
	require.NoError(t, buf.Write("B@2"))
	require.NoError(t, buf.Write("A@3"))
	assert.Equal(t, 3, buf.Size())

	assert.Equal(t, []string{"A@1", "B@2"}, buf.ReadBatch(2))
	assert.Equal(t, []string{"A@3"}, buf.ReadBatch(10))
	assert.Nil(t, buf.ReadBatch(10))
	assert.Equal(t, 0, buf.Size())
}

func TestCircularBuffer_ReadBatchNonPositive(t *testing.T) {
	buf, err := NewCircularBuffer[int](2)
	require.NoError(t, err)
	require.NoError(t, buf.Write(1))

	assert.Nil(t, buf.ReadBatch(0))
	assert.Nil(t, buf.ReadBatch(-1))
	assert.Equal(t, 1, buf.Size())
}

func TestCircularBuffer_DropOldest(t *testing.T) {
	var dropped []int
	buf, err := NewCircularBuffer[int](2, WithDropCallback[int](func(item int) {
		dropped = append(dropped, item)
	}))
	require.NoError(t, err)

	for i := 1; i <= 4; i++ {
		require.NoError(t, buf.Write(i))
	}

	assert.Equal(t, []int{1, 2}, dropped)
	assert.Equal(t, []int{3, 4}, buf.ReadBatch(2))
	assert.Equal(t, int64(2), buf.Stats().Drops())
	assert.Equal(t, int64(4), buf.Stats().Writes())
}

func TestCircularBuffer_DropNewest(t *testing.T) {
	var dropped []int
	buf, err := NewCircularBuffer[int](2,
		WithOverflowPolicy[int](DropNewest),
		WithDropCallback[int](func(item int) { dropped = append(dropped, item) }),
	)
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		require.NoError(t, buf.Write(i))
	}

	assert.Equal(t, []int{3}, dropped)
	assert.Equal(t, []int{1, 2}, buf.ReadBatch(5))
	assert.Equal(t, int64(2), buf.Stats().Writes())
}

func TestCircularBuffer_CallbackMayInspectBuffer(t *testing.T) {
	var buf Buffer[int]
	var sizes []int
	buf, err := NewCircularBuffer[int](1, WithDropCallback[int](func(int) {
		sizes = append(sizes, buf.Size())
	}))
	require.NoError(t, err)

	require.NoError(t, buf.Write(1))
	require.NoError(t, buf.Write(2))
	assert.Equal(t, []int{1}, sizes)
}

func TestCircularBuffer_WrapAround(t *testing.T) {
	buf, err := NewCircularBuffer[int](3)
	require.NoError(t, err)

	for round := 0; round < 5; round++ {
		require.NoError(t, buf.Write(round*2))
		require.NoError(t, buf.Write(round*2+1))
		assert.Equal(t, []int{round * 2, round*2 + 1}, buf.ReadBatch(2))
	}
}

func TestCircularBuffer_Closed(t *testing.T) {
	buf, err := NewCircularBuffer[int](2)
	require.NoError(t, err)
	require.NoError(t, buf.Write(1))
	require.NoError(t, buf.Close())

	err = buf.Write(2)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	// items written before close remain readable
	assert.Equal(t, []int{1}, buf.ReadBatch(2))
}

func TestCircularBuffer_MinimumCapacity(t *testing.T) {
	buf, err := NewCircularBuffer[int](0)
	require.NoError(t, err)
	assert.Equal(t, 1, buf.Capacity())
}

func TestCircularBuffer_Concurrent(t *testing.T) {
	buf, err := NewCircularBuffer[int](1000)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				_ = buf.Write(base + i)
			}
		}(w * 100)
	}
	wg.Wait()

	assert.Equal(t, 400, buf.Size())
	assert.Len(t, buf.ReadBatch(1000), 400)
	assert.Equal(t, int64(400), buf.Stats().Reads())
	assert.Equal(t, int64(400), buf.Stats().Peak())
}

func TestCircularBuffer_Metrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()

	raw, err := NewCircularBuffer[int](2, WithMetrics[int](registry, "observations"))
	require.NoError(t, err)

	require.NoError(t, raw.Write(1))
	require.NoError(t, raw.Write(2))
	require.NoError(t, raw.Write(3))
	raw.ReadBatch(1)

	m := raw.(*ring[int]).metrics
	require.NotNil(t, m)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.writes))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reads))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.drops))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.size))
	assert.Equal(t, 0.5, testutil.ToFloat64(m.utilization))

	// registering the same prefix twice fails
	_, err = NewCircularBuffer[int](2, WithMetrics[int](registry, "observations"))
	assert.Error(t, err)
}

func TestOverflowPolicyString(t *testing.T) {
	assert.Equal(t, "drop_oldest", DropOldest.String())
	assert.Equal(t, "drop_newest", DropNewest.String())
	assert.Equal(t, "unknown", OverflowPolicy(9).String())
}
