//go:build linux

package readiness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func socketpair(t *testing.T) (left, right int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestWaitWritable_ReturnsImmediatelyForFreshSocket(t *testing.T) {
	left, _ := socketpair(t)
	require.NoError(t, unix.SetNonblock(left, true))

	w, err := New(left)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.WaitWritable())
}

func TestWaitReadable_UnblocksAfterPeerWrites(t *testing.T) {
	left, right := socketpair(t)
	require.NoError(t, unix.SetNonblock(left, true))

	w, err := New(left)
	require.NoError(t, err)
	defer w.Close()

	done := make(chan error, 1)
	go func() { done <- w.WaitReadable() }()

	select {
	case <-done:
		t.Fatal("WaitReadable returned before any data was written")
	case <-time.After(30 * time.Millisecond):
	}

	_, err = unix.Write(right, []byte("x"))
	require.NoError(t, err)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("WaitReadable did not unblock after peer write")
	}
}

func TestWaitReadable_PeerCloseReturnsEOF(t *testing.T) {
	left, right := socketpair(t)
	require.NoError(t, unix.SetNonblock(left, true))

	w, err := New(left)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, unix.Close(right))

	err = w.WaitReadable()
	require.Error(t, err)
}
