package ringbuf

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendPoll_RoundTrip(t *testing.T) {
	b := New(16)
	require.True(t, b.Empty())
	require.NoError(t, b.Append([]byte("hello")))
	require.Equal(t, 5, b.Size())
	require.Equal(t, 11, b.Free())

	out := make([]byte, 5)
	require.NoError(t, b.Poll(out))
	require.True(t, bytes.Equal([]byte("hello"), out))
	require.True(t, b.Empty())
}

func TestAppend_OverflowRejected(t *testing.T) {
	b := New(4)
	err := b.Append([]byte("12345"))
	require.ErrorIs(t, err, ErrAppendOverflow)
	require.True(t, b.Empty())
}

func TestPoll_UnderflowRejected(t *testing.T) {
	b := New(4)
	require.NoError(t, b.Append([]byte("ab")))
	err := b.Poll(make([]byte, 3))
	require.ErrorIs(t, err, ErrPollUnderflow)
}

func TestWrapAround(t *testing.T) {
	b := New(4)
	require.NoError(t, b.Append([]byte("ab")))
	require.NoError(t, b.Poll(make([]byte, 2)))
	// back/front have now wrapped once we append again
	require.NoError(t, b.Append([]byte("cdef")))
	require.Equal(t, 4, b.Size())

	out := make([]byte, 4)
	require.NoError(t, b.Poll(out))
	require.Equal(t, "cdef", string(out))
}

func TestPushPopFrontBack(t *testing.T) {
	b := New(4)
	b.PushBack('b')
	b.PushFront('a')
	b.PushBack('c')
	require.Equal(t, byte('a'), b.Front())
	require.Equal(t, byte('c'), b.Back())

	b.PopFront()
	require.Equal(t, byte('b'), b.Front())
	b.PopBack()
	require.Equal(t, byte('b'), b.Back())
	require.Equal(t, 1, b.Size())
}

func TestPollFunc_DrainsContiguousRegionsInOrder(t *testing.T) {
	b := New(4)
	require.NoError(t, b.Append([]byte("ab")))
	require.NoError(t, b.Poll(make([]byte, 2)))
	require.NoError(t, b.Append([]byte("cdef"))) // wraps: back before front

	var drained []byte
	n, err := b.PollFunc(func(buf []byte) (int, error) {
		drained = append(drained, buf...)
		return len(buf), nil
	})
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, "cdef", string(drained))
	require.True(t, b.Empty())
}

func TestPollFunc_PartialConsumeStops(t *testing.T) {
	b := New(8)
	require.NoError(t, b.Append([]byte("abcdef")))

	n, err := b.PollFunc(func(buf []byte) (int, error) {
		return 2, nil // only consume 2 of the 6 available bytes
	})
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, 4, b.Size())
}

func TestSizeFreeInvariant(t *testing.T) {
	b := New(10)
	require.NoError(t, b.Append([]byte("abc")))
	require.Equal(t, b.Capacity(), b.Size()+b.Free())
	require.NoError(t, b.Poll(make([]byte, 1)))
	require.Equal(t, b.Capacity(), b.Size()+b.Free())
}
