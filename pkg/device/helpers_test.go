package device_test

import (
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func portOf(address string) (int, error) {
	_, p, err := net.SplitHostPort(address)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(p)
}

// closedPort returns a loopback port with nothing listening.
func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port, err := portOf(ln.Addr().String())
	require.NoError(t, err)
	ln.Close()
	return port
}
