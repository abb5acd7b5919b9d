package runtime

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validOptions() *Options {
	return &Options{
		MyLinkAddr: net.HardwareAddr{0x01, 0x01, 0x01, 0x01, 0x01, 0x01},
		MyIPv4Addr: net.ParseIP("10.0.0.1"),
	}
}

func TestOptions_ValidateFillsDefaults(t *testing.T) {
	o := validOptions()
	require.NoError(t, o.Validate())

	require.Equal(t, defaultArpDefaultTTL, o.ArpDefaultTTL)
	require.Equal(t, defaultArpRequestRetries, o.ArpRequestRetries)
	require.Equal(t, defaultTCPHandshakeRtries, o.TCPHandshakeRetries)
	require.Equal(t, uint16(defaultTCPReceiveWindow), o.TCPReceiveWindow)
}

func TestOptions_ValidateRejectsMissingLinkAddr(t *testing.T) {
	o := validOptions()
	o.MyLinkAddr = nil
	require.Error(t, o.Validate())
}

func TestOptions_ValidateRejectsBadIPv4(t *testing.T) {
	o := validOptions()
	o.MyIPv4Addr = net.ParseIP("::1")
	require.Error(t, o.Validate())
}

func TestOptions_ValidateRejectsInvertedRTOBounds(t *testing.T) {
	o := validOptions()
	o.TCPMinRTO = 10 * time.Second
	o.TCPMaxRTO = 1 * time.Second
	require.Error(t, o.Validate())
}

func TestOptions_ClampRTO(t *testing.T) {
	o := validOptions()
	require.NoError(t, o.Validate())

	require.Equal(t, o.TCPMinRTO, o.ClampRTO(1*time.Nanosecond))
	require.Equal(t, o.TCPMaxRTO, o.ClampRTO(10*time.Hour))
	require.Equal(t, 2*time.Second, o.ClampRTO(2*time.Second))
}
