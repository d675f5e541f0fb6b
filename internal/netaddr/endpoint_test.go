package netaddr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse_IPv4(t *testing.T) {
	e, err := Parse("1.2.3.4:5678")
	require.NoError(t, err)
	require.Equal(t, V4, e.Family)
	require.Equal(t, uint16(5678), e.Port)
	require.Equal(t, "1.2.3.4", e.IP.String())
}

func TestParse_IPv6(t *testing.T) {
	e, err := Parse("[::1]:65535")
	require.NoError(t, err)
	require.Equal(t, V6, e.Family)
	require.Equal(t, uint16(65535), e.Port)
	require.Equal(t, "::1", e.IP.String())
}

func TestParse_MissingPort(t *testing.T) {
	_, err := Parse("1.2.3.4")
	require.ErrorIs(t, err, ErrAddrParse)
}

func TestParse_TrailingGarbage(t *testing.T) {
	_, err := Parse("1.2.3.4:5678:extra")
	require.ErrorIs(t, err, ErrAddrParse)
}

func TestParse_Empty(t *testing.T) {
	_, err := Parse("")
	require.ErrorIs(t, err, ErrAddrParse)
}
