package sudp

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"subtun/internal/aead"
)

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

func TestClientServer_RoundTrip(t *testing.T) {
	serverAEAD := newTestAEAD(t)
	clientAEAD := newTestAEAD(t)

	server, err := ListenServer(netip.MustParseAddrPort("127.0.0.1:0"), serverAEAD)
	require.NoError(t, err)
	defer server.Close()

	serverAddr := netip.MustParseAddrPort(server.conn.LocalAddr().String())

	client, err := DialClient(serverAddr, clientAEAD)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Send([]byte("packet-1")))

	buf := make([]byte, MaxDatagram)
	n, from, err := server.RecvFrom(buf)
	require.NoError(t, err)
	require.Equal(t, "packet-1", string(buf[:n]))
	require.True(t, from.IsValid())

	require.NoError(t, server.SendTo([]byte("reply-1"), from))

	n, err = client.Recv(buf)
	require.NoError(t, err)
	require.Equal(t, "reply-1", string(buf[:n]))
}

func TestClientServer_MultipleDatagramsRoundTrip(t *testing.T) {
	a := newTestAEAD(t)
	server, err := ListenServer(netip.MustParseAddrPort("127.0.0.1:0"), a)
	require.NoError(t, err)
	defer server.Close()

	serverAddr := netip.MustParseAddrPort(server.conn.LocalAddr().String())
	client, err := DialClient(serverAddr, a)
	require.NoError(t, err)
	defer client.Close()

	messages := []string{"one", "two", "three"}
	buf := make([]byte, MaxDatagram)
	for _, m := range messages {
		require.NoError(t, client.Send([]byte(m)))
		n, _, err := server.RecvFrom(buf)
		require.NoError(t, err)
		require.Equal(t, m, string(buf[:n]))
	}
}
