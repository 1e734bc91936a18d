package ringbuffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapacity(t *testing.T) {
	assert.Equal(t, 10, Capacity(0.5, 0.5, 10))
	assert.Equal(t, 30, Capacity(0.5, 0.5, 30))
	assert.Equal(t, 25, Capacity(0.5, 0.5, 24.97))
	assert.Equal(t, 1, Capacity(0, 0, 30))
}

func TestPushUntilFull(t *testing.T) {
	b := New[int](3)
	assert.False(t, b.IsFull())
	b.Push(1)
	b.Push(2)
	assert.False(t, b.IsFull())
	assert.Equal(t, []int{1, 2}, b.Snapshot())
	b.Push(3)
	assert.True(t, b.IsFull())
	assert.Equal(t, []int{1, 2, 3}, b.Snapshot())
}

func TestEvictsOldest(t *testing.T) {
	var released []int
	b := New[int](3, WithRelease(func(v int) { released = append(released, v) }))
	for i := 1; i <= 5; i++ {
		b.Push(i)
	}
	assert.Equal(t, []int{3, 4, 5}, b.Snapshot())
	assert.Equal(t, []int{1, 2}, released)
	assert.Equal(t, 3, b.Len())
	assert.Equal(t, 3, b.Cap())
	assert.True(t, b.IsFull())
}

func TestSnapshotIndependent(t *testing.T) {
	b := New[int](3)
	b.Push(1)
	b.Push(2)
	snap := b.Snapshot()
	b.Push(3)
	b.Push(4)
	assert.Equal(t, []int{1, 2}, snap)
	snap[0] = 100
	assert.Equal(t, []int{2, 3, 4}, b.Snapshot())
}

func TestSnapshotClonesFrames(t *testing.T) {
	type frame struct{ data []byte }
	b := New[*frame](2, WithClone(func(f *frame) *frame {
		data := make([]byte, len(f.data))
		copy(data, f.data)
		return &frame{data: data}
	}))
	original := &frame{data: []byte{1, 2, 3}}
	b.Push(original)
	snap := b.Snapshot()
	require.Len(t, snap, 1)
	original.data[0] = 9
	assert.Equal(t, byte(1), snap[0].data[0])
}

func TestReset(t *testing.T) {
	released := 0
	b := New[int](2, WithRelease(func(int) { released++ }))
	b.Push(1)
	b.Push(2)
	require.True(t, b.IsFull())
	b.Reset()
	assert.False(t, b.IsFull())
	assert.Equal(t, 0, b.Len())
	assert.Empty(t, b.Snapshot())
	assert.Equal(t, 2, released)
	b.Push(3)
	assert.Equal(t, []int{3}, b.Snapshot())
}

func TestZeroCapacityRaised(t *testing.T) {
	b := New[string](0)
	assert.Equal(t, 1, b.Cap())
	b.Push("a")
	b.Push("b")
	assert.True(t, b.IsFull())
	assert.Equal(t, []string{"b"}, b.Snapshot())
}
