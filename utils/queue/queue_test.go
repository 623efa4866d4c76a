package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushPopFIFO(t *testing.T) {
	q := NewCircleQueue(3)
	require.NoError(t, q.Push(1))
	require.NoError(t, q.Push(2))
	require.NoError(t, q.Push(3))
	assert.True(t, q.IsFull())

	err := q.Push(4)
	assert.Error(t, err)

	v, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, 1.0, v)
}

func TestPopAllDrainsAndResets(t *testing.T) {
	q := NewCircleQueue(4)
	q.Push(1)
	q.Push(2)
	q.Pop()
	q.Push(3)
	q.Push(4)

	all := q.PopAll()
	assert.ElementsMatch(t, []float64{2, 3, 4}, all)
	assert.True(t, q.IsEmpty())
}

func TestBackReturnsMostRecentWithoutRemoving(t *testing.T) {
	q := NewCircleQueue(2)
	q.Push(9)
	v, ok := q.Back()
	require.True(t, ok)
	assert.Equal(t, 9.0, v)
	assert.False(t, q.IsEmpty())
}
