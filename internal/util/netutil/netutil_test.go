package netutil

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActiveInterfaces(t *testing.T) {
	list := func() ([]net.Interface, error) {
		return []net.Interface{
			{Index: 1, Name: "lo", Flags: net.FlagUp | net.FlagLoopback},
			{Index: 2, Name: "eth0", Flags: net.FlagUp | net.FlagBroadcast | net.FlagMulticast},
			{Index: 3, Name: "wlan0", Flags: net.FlagBroadcast},
		}, nil
	}

	ifaces, err := ActiveInterfaces(list)
	require.NoError(t, err)
	require.Len(t, ifaces, 1)
	assert.Equal(t, "eth0", ifaces[0].Name)
}

func TestActiveInterfaces_Error(t *testing.T) {
	_, err := ActiveInterfaces(func() ([]net.Interface, error) {
		return nil, errors.New("boom")
	})
	assert.Error(t, err)
}

func TestListenUDPShared_TwoSocketsSamePort(t *testing.T) {
	first, err := ListenUDPShared(context.Background(), "udp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer first.Close()

	port := first.LocalAddr().(*net.UDPAddr).Port

	second, err := ListenUDPShared(context.Background(), "udp4", first.LocalAddr().String())
	require.NoError(t, err, "second bind on port %d should share the address", port)
	defer second.Close()
}
