package udp

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	msg := Encode(MsgFrame, []byte{0xAA, 0xBB, 0xCC})
	assert.Equal(t, []byte{byte(MsgFrame), 0xAA, 0xBB, 0xCC}, msg)

	typ, body, err := Decode(msg)
	require.NoError(t, err)
	assert.Equal(t, MsgFrame, typ)
	assert.Equal(t, []byte{0xAA, 0xBB, 0xCC}, body)

	typ, body, err = Decode(Encode(MsgKeepalive, nil))
	require.NoError(t, err)
	assert.Equal(t, MsgKeepalive, typ)
	assert.Empty(t, body)
}

func TestDecodeRejects(t *testing.T) {
	_, _, err := Decode(nil)
	assert.Error(t, err)

	_, _, err = Decode([]byte{0x7f, 1})
	assert.Error(t, err)
}

func TestCtrl(t *testing.T) {
	msg := (&Ctrl{Token: "secret", Version: "v1"}).Coder()

	typ, body, err := Decode(msg)
	require.NoError(t, err)
	require.Equal(t, MsgCtrl, typ)

	c, err := CtrlDecoder(body)
	require.NoError(t, err)
	assert.Equal(t, "secret", c.Token)
	assert.Empty(t, c.Result)

	_, err = CtrlDecoder([]byte("{"))
	assert.Error(t, err)
}

func TestUdpWrite(t *testing.T) {
	server, err := OpenUdp("127.0.0.1:0")
	require.NoError(t, err)
	defer server.Close()

	client, err := OpenUdp("127.0.0.1:0")
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, UdpWrite(client, server.LocalAddr().(*net.UDPAddr), Encode(MsgKeepalive, nil)))

	require.NoError(t, server.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 64)
	n, from, err := server.ReadFromUDP(buf)
	require.NoError(t, err)
	assert.Equal(t, client.LocalAddr().String(), from.String())

	typ, _, err := Decode(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, MsgKeepalive, typ)
}

func TestUnusedPort(t *testing.T) {
	port, err := UnusedPort()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, port, 10000)
	assert.Less(t, port, 50000)
}
