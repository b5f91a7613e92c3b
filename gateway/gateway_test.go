//go:build linux || darwin

package main

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/easymesh/vmnettap/util/ether"
	"github.com/easymesh/vmnettap/util/tun"
	"github.com/easymesh/vmnettap/util/udp"
	"github.com/easymesh/vmnettap/util/vmnet/vmnettest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recvType reads from conn until a message of type want arrives.
func recvType(t *testing.T, conn *net.UDPConn, want udp.MsgType) ([]byte, *net.UDPAddr) {
	t.Helper()
	buff := make([]byte, 65536)
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		cnt, from, err := conn.ReadFromUDP(buff)
		require.NoError(t, err)
		typ, body, err := udp.Decode(buff[:cnt])
		require.NoError(t, err)
		if typ == want {
			return append([]byte(nil), body...), from
		}
	}
}

func testFrame(dst ether.MAC, fill byte) []byte {
	frame := bytes.Repeat([]byte{fill}, 60)
	hdr := ether.Header{Dst: dst, Src: ether.MAC{0x02, 0, 0, 0, 0, 0x01}, EtherType: ether.TypeIPv4}
	hdr.Coder(frame)
	return frame
}

func startGateway(t *testing.T) (*Gateway, *vmnettest.Framework, *net.UDPConn) {
	t.Helper()
	fw := vmnettest.New()
	dev := tun.New(fw)
	_, err := dev.Open()
	require.NoError(t, err)

	trans, err := udp.OpenUdp("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { trans.Close() })

	conn, err := udp.OpenUdp("127.0.0.1:0")
	require.NoError(t, err)

	gw := NewGateway(dev, conn, trans.LocalAddr().(*net.UDPAddr), "secret")
	gw.interval = 50 * time.Millisecond
	gw.Start()
	t.Cleanup(gw.Shutdown)
	return gw, fw, trans
}

func accept(t *testing.T, trans *net.UDPConn) *net.UDPAddr {
	t.Helper()
	body, from := recvType(t, trans, udp.MsgCtrl)
	c, err := udp.CtrlDecoder(body)
	require.NoError(t, err)
	require.Equal(t, "secret", c.Token)
	require.NoError(t, udp.UdpWrite(trans, from, (&udp.Ctrl{Result: udp.CtrlAccepted}).Coder()))
	return from
}

func TestGatewayForwardsFrames(t *testing.T) {
	gw, fw, trans := startGateway(t)
	from := accept(t, trans)
	require.Eventually(t, gw.Registered, 2*time.Second, 10*time.Millisecond)

	out := testFrame(ether.Broadcast, 0x11)
	fw.Inject(out)
	got, _ := recvType(t, trans, udp.MsgFrame)
	assert.Equal(t, out, got)

	in := testFrame(ether.MAC{0x02, 0, 0, 0, 0, 0x02}, 0x22)
	require.NoError(t, udp.UdpWrite(trans, from, udp.Encode(udp.MsgFrame, in)))
	require.Eventually(t, func() bool { return len(fw.Written()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, in, fw.Written()[0])
}

func TestGatewayKeepalive(t *testing.T) {
	gw, _, trans := startGateway(t)
	accept(t, trans)
	require.Eventually(t, gw.Registered, 2*time.Second, 10*time.Millisecond)

	recvType(t, trans, udp.MsgKeepalive)
}

func TestGatewayReregisters(t *testing.T) {
	gw, _, trans := startGateway(t)
	from := accept(t, trans)
	require.Eventually(t, gw.Registered, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, udp.UdpWrite(trans, from, (&udp.Ctrl{Result: udp.CtrlUnknown}).Coder()))
	accept(t, trans)
}

func TestGatewayDenied(t *testing.T) {
	gw, fw, trans := startGateway(t)
	body, from := recvType(t, trans, udp.MsgCtrl)
	_, err := udp.CtrlDecoder(body)
	require.NoError(t, err)
	require.NoError(t, udp.UdpWrite(trans, from, (&udp.Ctrl{Result: udp.CtrlDenied}).Coder()))

	fw.Inject(testFrame(ether.Broadcast, 0x33))
	time.Sleep(100 * time.Millisecond)
	assert.False(t, gw.Registered())
}
