package main

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/easymesh/vmnettap/util/ether"
	"github.com/easymesh/vmnettap/util/udp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type peer struct {
	conn *net.UDPConn
	mac  ether.MAC
}

func newPeer(t *testing.T, last byte) *peer {
	t.Helper()
	conn, err := udp.OpenUdp("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &peer{conn: conn, mac: ether.MAC{0x02, 0, 0, 0, 0, last}}
}

func (p *peer) send(t *testing.T, trans *Transfer, msg []byte) {
	t.Helper()
	require.NoError(t, udp.UdpWrite(p.conn, trans.Addr(), msg))
}

func (p *peer) recv(t *testing.T, timeout time.Duration) (udp.MsgType, []byte, bool) {
	t.Helper()
	buff := make([]byte, 65536)
	require.NoError(t, p.conn.SetReadDeadline(time.Now().Add(timeout)))
	cnt, _, err := p.conn.ReadFromUDP(buff)
	if err != nil {
		return 0, nil, false
	}
	typ, body, err := udp.Decode(buff[:cnt])
	require.NoError(t, err)
	return typ, append([]byte(nil), body...), true
}

func (p *peer) register(t *testing.T, trans *Transfer, token string) string {
	t.Helper()
	p.send(t, trans, (&udp.Ctrl{Token: token, Version: "test"}).Coder())
	typ, body, ok := p.recv(t, 2*time.Second)
	require.True(t, ok)
	require.Equal(t, udp.MsgCtrl, typ)
	c, err := udp.CtrlDecoder(body)
	require.NoError(t, err)
	return c.Result
}

func (p *peer) frame(dst ether.MAC, fill byte) []byte {
	frame := bytes.Repeat([]byte{fill}, 60)
	hdr := ether.Header{Dst: dst, Src: p.mac, EtherType: ether.TypeIPv4}
	hdr.Coder(frame)
	return frame
}

func newTestTransfer(t *testing.T) *Transfer {
	t.Helper()
	trans, err := NewTransfer("127.0.0.1:0", "secret")
	require.NoError(t, err)
	t.Cleanup(trans.Close)
	return trans
}

func TestTransferRegister(t *testing.T) {
	trans := newTestTransfer(t)
	a := newPeer(t, 1)
	b := newPeer(t, 2)

	assert.Equal(t, udp.CtrlDenied, a.register(t, trans, "wrong"))
	assert.Equal(t, udp.CtrlAccepted, b.register(t, trans, "secret"))
}

func TestTransferFloodThenUnicast(t *testing.T) {
	trans := newTestTransfer(t)
	a := newPeer(t, 1)
	b := newPeer(t, 2)
	c := newPeer(t, 3)
	for _, p := range []*peer{a, b, c} {
		require.Equal(t, udp.CtrlAccepted, p.register(t, trans, "secret"))
	}

	// Broadcast from a reaches b and c and teaches the hub where a is.
	bcast := a.frame(ether.Broadcast, 0x11)
	a.send(t, trans, udp.Encode(udp.MsgFrame, bcast))
	for _, p := range []*peer{b, c} {
		typ, body, ok := p.recv(t, 2*time.Second)
		require.True(t, ok)
		assert.Equal(t, udp.MsgFrame, typ)
		assert.Equal(t, bcast, body)
	}

	// b answers a directly; c must not see it.
	reply := b.frame(a.mac, 0x22)
	b.send(t, trans, udp.Encode(udp.MsgFrame, reply))
	typ, body, ok := a.recv(t, 2*time.Second)
	require.True(t, ok)
	assert.Equal(t, udp.MsgFrame, typ)
	assert.Equal(t, reply, body)

	_, _, ok = c.recv(t, 200*time.Millisecond)
	assert.False(t, ok)

	var learned []ether.MAC
	for _, r := range trans.Routes() {
		learned = append(learned, r.MAC)
	}
	assert.ElementsMatch(t, []ether.MAC{a.mac, b.mac}, learned)
	assert.Contains(t, trans.Routes().String(), a.mac.String())
}

func TestTransferUnregisteredFrame(t *testing.T) {
	trans := newTestTransfer(t)
	a := newPeer(t, 1)

	a.send(t, trans, udp.Encode(udp.MsgFrame, a.frame(ether.Broadcast, 0x11)))
	typ, body, ok := a.recv(t, 2*time.Second)
	require.True(t, ok)
	require.Equal(t, udp.MsgCtrl, typ)
	c, err := udp.CtrlDecoder(body)
	require.NoError(t, err)
	assert.Equal(t, udp.CtrlUnknown, c.Result)

	a.send(t, trans, udp.Encode(udp.MsgKeepalive, nil))
	typ, _, ok = a.recv(t, 2*time.Second)
	require.True(t, ok)
	assert.Equal(t, udp.MsgCtrl, typ)
}
