package main

import (
	"crypto/subtle"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/astaxie/beego/logs"
	"github.com/easymesh/vmnettap/route"
	"github.com/easymesh/vmnettap/util/ether"
	"github.com/easymesh/vmnettap/util/udp"
)

// Transfer is one hub instance: a UDP port that switches ethernet frames
// between the gateways registered on it.
type Transfer struct {
	routeCtl  *route.RouteCtrl
	udpSocket *net.UDPConn
	token     string

	wg sync.WaitGroup
}

func NewTransfer(bindAddr string, token string) (*Transfer, error) {
	conn, err := udp.OpenUdp(bindAddr)
	if err != nil {
		return nil, err
	}
	trans := &Transfer{
		routeCtl:  route.NewRouteCtrl(5*time.Minute, time.Minute),
		udpSocket: conn,
		token:     token,
	}
	trans.wg.Add(1)
	go trans.UdpRecvTask()
	return trans, nil
}

func (t *Transfer) String() string {
	return t.udpSocket.LocalAddr().String()
}

func (t *Transfer) Addr() *net.UDPAddr {
	return t.udpSocket.LocalAddr().(*net.UDPAddr)
}

// Routes is a snapshot of the learned MAC table.
func (t *Transfer) Routes() route.RouteList {
	return t.routeCtl.Export()
}

func (t *Transfer) Close() {
	t.udpSocket.Close()
	t.wg.Wait()
	logs.Info("[%s] close, routes %s", t.String(), t.Routes())
	t.routeCtl.Close()
}

func (t *Transfer) UdpRecvTask() {
	defer t.wg.Done()

	buff := make([]byte, 65536)
	for {
		cnt, srcAddr, err := t.udpSocket.ReadFromUDP(buff)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logs.Error(err.Error())
			continue
		}

		typ, body, err := udp.Decode(buff[:cnt])
		if err != nil {
			logs.Error("recv bad body from %s, %s", srcAddr.String(), err.Error())
			continue
		}

		switch typ {
		case udp.MsgCtrl:
			t.register(srcAddr, body)
		case udp.MsgKeepalive:
			if t.routeCtl.Registered(srcAddr) {
				t.routeCtl.Register(srcAddr)
			} else {
				t.reply(srcAddr, udp.CtrlUnknown)
			}
		case udp.MsgFrame:
			t.transferFrame(srcAddr, buff[:cnt], body)
		}
	}
}

func (t *Transfer) register(srcAddr *net.UDPAddr, body []byte) {
	c, err := udp.CtrlDecoder(body)
	if err != nil {
		logs.Error("register from %s, %s", srcAddr.String(), err.Error())
		return
	}
	if subtle.ConstantTimeCompare([]byte(c.Token), []byte(t.token)) != 1 {
		logs.Warn("[%s] deny %s, bad token", t.String(), srcAddr.String())
		t.routeCtl.Unregister(srcAddr)
		t.reply(srcAddr, udp.CtrlDenied)
		return
	}
	if !t.routeCtl.Registered(srcAddr) {
		logs.Info("[%s] gateway %s version %s registered", t.String(), srcAddr.String(), c.Version)
	}
	t.routeCtl.Register(srcAddr)
	t.reply(srcAddr, udp.CtrlAccepted)
}

func (t *Transfer) reply(dst *net.UDPAddr, result string) {
	c := &udp.Ctrl{Result: result}
	if err := udp.UdpWrite(t.udpSocket, dst, c.Coder()); err != nil {
		logs.Error("ctrl reply to %s fail, %s", dst.String(), err.Error())
	}
}

// transferFrame forwards msg, the whole datagram, unchanged.
func (t *Transfer) transferFrame(srcAddr *net.UDPAddr, msg []byte, frame []byte) {
	if !t.routeCtl.Registered(srcAddr) {
		logs.Debug("drop frame from unregistered %s", srcAddr.String())
		t.reply(srcAddr, udp.CtrlUnknown)
		return
	}

	hdr := ether.Decoder(frame)
	if hdr == nil {
		logs.Error("udp socket recv frame too small, %d", len(frame))
		return
	}
	t.routeCtl.Learn(hdr.Src, srcAddr)

	for _, dst := range t.routeCtl.Forward(hdr, srcAddr) {
		if err := udp.UdpWrite(t.udpSocket, dst, msg); err != nil {
			logs.Error("udp send to %s fail, %s", dst.String(), err.Error())
		}
	}
}
