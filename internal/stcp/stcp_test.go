//go:build linux

package stcp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"subtun/internal/aead"
)

func socketpair(t *testing.T) (a, b int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	return fds[0], fds[1]
}

func newTestAEAD(t *testing.T) aead.Aead {
	t.Helper()
	key := make([]byte, 16)
	for i := range key {
		key[i] = byte(i)
	}
	a, err := aead.NewAES128GCM(key)
	require.NoError(t, err)
	return a
}

func TestSendRecv_RoundTrip(t *testing.T) {
	fdA, fdB := socketpair(t)

	clientAEAD := newTestAEAD(t)
	serverAEAD := newTestAEAD(t)

	client, err := newFromFD(fdA, clientAEAD, serverAEAD)
	require.NoError(t, err)
	defer client.Close()

	server, err := newFromFD(fdB, serverAEAD, clientAEAD)
	require.NoError(t, err)
	defer server.Close()

	require.NoError(t, client.Send([]byte("hello over tcp")))

	out := make([]byte, 4096)
	n, err := server.Recv(out)
	require.NoError(t, err)
	require.Equal(t, "hello over tcp", string(out[:n]))
}

func TestSend_BuffersWhenSocketBufferFull(t *testing.T) {
	fdA, fdB := socketpair(t)

	clientAEAD := newTestAEAD(t)
	serverAEAD := newTestAEAD(t)

	client, err := newFromFD(fdA, clientAEAD, serverAEAD)
	require.NoError(t, err)
	defer client.Close()

	// Never read from fdB: once the kernel socket buffer fills, Send should
	// spill into the ring buffer rather than block.
	defer unix.Close(fdB)

	var lastErr error
	sent := 0
	for i := 0; i < 10000; i++ {
		lastErr = client.Send([]byte("x"))
		if lastErr != nil {
			break
		}
		sent++
	}
	require.ErrorIs(t, lastErr, ErrWriteBufferOverflow)
	require.Greater(t, sent, 0)
}

func TestSend_RecoversAfterBacklogDrains(t *testing.T) {
	fdA, fdB := socketpair(t)

	clientAEAD := newTestAEAD(t)
	serverAEAD := newTestAEAD(t)

	client, err := newFromFD(fdA, clientAEAD, serverAEAD)
	require.NoError(t, err)
	defer client.Close()
	defer unix.Close(fdB)

	var lastErr error
	for i := 0; i < 10000; i++ {
		lastErr = client.Send([]byte("x"))
		if lastErr != nil {
			break
		}
	}
	require.ErrorIs(t, lastErr, ErrWriteBufferOverflow)
	require.True(t, client.NeedsWritableWait())

	select {
	case <-client.Backlog():
	default:
		t.Fatal("expected a pending backlog signal after overflow")
	}

	// Let the peer start reading, draining the kernel socket buffer so the
	// write-side ring buffer has somewhere to flush to.
	go func() {
		discard := make([]byte, 4096)
		for {
			if _, err := unix.Read(fdB, discard); err != nil {
				return
			}
		}
	}()

	deadline := time.Now().Add(2 * time.Second)
	for client.NeedsWritableWait() && time.Now().Before(deadline) {
		require.NoError(t, client.WaitWritable())
		require.NoError(t, client.OnWritable())
	}
	require.False(t, client.NeedsWritableWait(), "write buffer never drained")

	require.NoError(t, client.Send([]byte("recovered")))
}
