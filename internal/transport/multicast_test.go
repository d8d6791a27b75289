package transport

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddrIPExtractsFromIPNetAndIPAddr(t *testing.T) {
	_, ipnet, err := net.ParseCIDR("192.168.1.10/24")
	require.NoError(t, err)
	require.Equal(t, ipnet.IP.String(), addrIP(ipnet).String())

	ipAddr := &net.IPAddr{IP: net.ParseIP("fe80::1")}
	require.Equal(t, "fe80::1", addrIP(ipAddr).String())

	require.Nil(t, addrIP(&net.UnixAddr{Name: "/tmp/x"}))
}

func TestIsLocalReflectsCollectedIPs(t *testing.T) {
	s := &Socket{LocalIPs: map[string]struct{}{"10.0.0.5": {}}}
	require.True(t, s.IsLocal(net.ParseIP("10.0.0.5")))
	require.False(t, s.IsLocal(net.ParseIP("10.0.0.6")))
}

func TestGroupConstantsMatchSpec(t *testing.T) {
	require.Equal(t, "239.255.43.2", MulticastAddrV4)
	require.Equal(t, "ff02::7667", MulticastAddrV6)
	require.Equal(t, 7667, MulticastPort)
	require.Equal(t, 1, TTL)
	require.Equal(t, 0xB8, DSCPExpeditedForwarding)
}
