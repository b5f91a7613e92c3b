package udp

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net"
)

// MsgType is the first byte of every datagram between gateway and transfer.
type MsgType byte

const (
	MsgCtrl      MsgType = 0
	MsgKeepalive MsgType = 1 << 4
	MsgFrame     MsgType = 2 << 4
)

func (t MsgType) String() string {
	switch t {
	case MsgCtrl:
		return "ctrl"
	case MsgKeepalive:
		return "keepalive"
	case MsgFrame:
		return "frame"
	default:
		return fmt.Sprintf("unknown(%d)", byte(t))
	}
}

func OpenUdp(bindAddr string) (*net.UDPConn, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", bindAddr)
	if err != nil {
		return nil, err
	}
	udpHander, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}
	return udpHander, nil
}

func UdpWrite(conn *net.UDPConn, dstAddr *net.UDPAddr, body []byte) error {
	cnt, err := conn.WriteToUDP(body, dstAddr)
	if err != nil {
		return fmt.Errorf("udp write fail, %s", err.Error())
	}
	if cnt != len(body) {
		return fmt.Errorf("udp send %d out of %d bytes", cnt, len(body))
	}
	return nil
}

func Encode(typ MsgType, body []byte) []byte {
	output := make([]byte, len(body)+1)
	output[0] = byte(typ)
	copy(output[1:], body)
	return output
}

// Decode splits a datagram into its type and body. The body aliases buff.
func Decode(buff []byte) (MsgType, []byte, error) {
	if len(buff) == 0 {
		return 0, nil, fmt.Errorf("empty udp message")
	}
	typ := MsgType(buff[0])
	switch typ {
	case MsgCtrl, MsgKeepalive, MsgFrame:
		return typ, buff[1:], nil
	default:
		return 0, nil, fmt.Errorf("unknown udp message type %d", buff[0])
	}
}

// Ctrl is the body of a MsgCtrl datagram. The gateway sends Token and
// Version; the transfer answers with Result set.
type Ctrl struct {
	Token   string `json:"token,omitempty"`
	Version string `json:"version,omitempty"`
	Result  string `json:"result,omitempty"`
}

const (
	CtrlAccepted = "accepted"
	CtrlDenied   = "denied"

	// Sent in answer to a keepalive or frame from an unregistered endpoint.
	CtrlUnknown = "unregistered"
)

func (c *Ctrl) Coder() []byte {
	body, _ := json.Marshal(c)
	return Encode(MsgCtrl, body)
}

func CtrlDecoder(body []byte) (*Ctrl, error) {
	c := new(Ctrl)
	if err := json.Unmarshal(body, c); err != nil {
		return nil, fmt.Errorf("ctrl message decode fail, %s", err.Error())
	}
	return c, nil
}

func UnusedPort() (int, error) {
	begin := 10000
	end := 50000
	for i := 0; i < 100; i++ {
		port := begin + (rand.Int() % (end - begin))
		udpconn, err := OpenUdp(fmt.Sprintf("0.0.0.0:%d", port))
		if err != nil {
			continue
		}
		udpconn.Close()
		return port, nil
	}
	return 0, fmt.Errorf("no unused udp port in [%d, %d)", begin, end)
}
