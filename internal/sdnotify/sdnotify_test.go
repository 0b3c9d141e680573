package sdnotify

import (
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotifyIsNoopWithoutSocket(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	assert.NoError(t, Notify(Ready))
}

func TestNotifyWritesToSocket(t *testing.T) {
	sockPath := filepath.Join(t.TempDir(), "notify.sock")
	addr, err := net.ResolveUnixAddr("unixgram", sockPath)
	require.NoError(t, err)
	conn, err := net.ListenUnixgram("unixgram", addr)
	require.NoError(t, err)
	defer conn.Close()

	t.Setenv("NOTIFY_SOCKET", sockPath)
	require.NoError(t, Notify(Ready))

	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, Ready, string(buf[:n]))
}
