//go:build linux || darwin

package main

import (
	"errors"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/astaxie/beego/logs"
	"github.com/easymesh/vmnettap/util"
	"github.com/easymesh/vmnettap/util/ether"
	"github.com/easymesh/vmnettap/util/tun"
	"github.com/easymesh/vmnettap/util/udp"
)

const keepaliveInterval = 15 * time.Second

// Gateway bridges the local vmnet device to one transfer over UDP.
type Gateway struct {
	dev   *tun.Device
	conn  *net.UDPConn
	trans *net.UDPAddr
	token string

	interval   time.Duration
	registered atomic.Bool

	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func NewGateway(dev *tun.Device, conn *net.UDPConn, trans *net.UDPAddr, token string) *Gateway {
	return &Gateway{
		dev:      dev,
		conn:     conn,
		trans:    trans,
		token:    token,
		interval: keepaliveInterval,
		stop:     make(chan struct{}),
	}
}

func (g *Gateway) Start() {
	g.wg.Add(3)
	go g.TunRecvTask()
	go g.UdpRecvTask()
	go g.KeepaliveTask()
}

// Shutdown closes the device and the socket and waits for the tasks.
func (g *Gateway) Shutdown() {
	g.once.Do(func() {
		close(g.stop)
		if err := g.dev.Close(); err != nil {
			logs.Error("tun close fail, %s", err.Error())
		}
		g.conn.Close()
		g.wg.Wait()
		logs.Info("gateway counters %s", g.dev.Counters().String())
	})
}

func (g *Gateway) Registered() bool {
	return g.registered.Load()
}

func (g *Gateway) TunRecvTask() {
	defer g.wg.Done()

	// Byte 0 is reserved for the message type.
	buff := make([]byte, 65536)
	for {
		cnt, err := g.dev.Read(buff[1:])
		if err != nil {
			if errors.Is(err, tun.ErrNotRunning) || errors.Is(err, os.ErrClosed) {
				return
			}
			logs.Error("tun read fail, %s", err.Error())
			continue
		}

		hdr := ether.Decoder(buff[1 : cnt+1])
		if hdr == nil {
			logs.Warn("tun read length too small, %d", cnt)
			continue
		}
		if !g.registered.Load() {
			logs.Debug("drop frame %s, not registered", hdr.String())
			continue
		}

		buff[0] = byte(udp.MsgFrame)
		err = udp.UdpWrite(g.conn, g.trans, buff[:cnt+1])
		if err != nil {
			logs.Error("udp send fail, %s", err.Error())
		}
	}
}

func (g *Gateway) UdpRecvTask() {
	defer g.wg.Done()

	buff := make([]byte, 65536)
	for {
		cnt, srcAddr, err := g.conn.ReadFromUDP(buff)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			logs.Error("udp socket read fail, %s", err.Error())
			continue
		}

		if srcAddr.String() != g.trans.String() {
			logs.Warn("drop udp message from unknown address %s", srcAddr.String())
			continue
		}

		typ, body, err := udp.Decode(buff[:cnt])
		if err != nil {
			logs.Error("recv bad body from %s, %s", srcAddr.String(), err.Error())
			continue
		}

		switch typ {
		case udp.MsgFrame:
			g.writeFrame(body)
		case udp.MsgCtrl:
			g.ctrl(body)
		case udp.MsgKeepalive:
		}
	}
}

func (g *Gateway) writeFrame(frame []byte) {
	n, err := g.dev.Write(frame)
	if err != nil {
		logs.Error("udp to tun send fail, %s", err.Error())
		return
	}
	if n == 0 {
		logs.Debug("tun did not queue frame of %d bytes", len(frame))
	}
}

func (g *Gateway) ctrl(body []byte) {
	c, err := udp.CtrlDecoder(body)
	if err != nil {
		logs.Error(err.Error())
		return
	}

	switch c.Result {
	case udp.CtrlAccepted:
		if !g.registered.Swap(true) {
			logs.Info("registered with transfer %s", g.trans.String())
		}
	case udp.CtrlDenied:
		g.registered.Store(false)
		logs.Error("transfer %s denied registration, check the token", g.trans.String())
	case udp.CtrlUnknown:
		if g.registered.Swap(false) {
			logs.Warn("transfer %s lost our registration", g.trans.String())
		}
		g.register()
	default:
		logs.Warn("unknown ctrl result %q", c.Result)
	}
}

func (g *Gateway) register() {
	c := &udp.Ctrl{Token: g.token, Version: util.VersionGet()}
	if err := udp.UdpWrite(g.conn, g.trans, c.Coder()); err != nil {
		logs.Error("udp send register fail, %s", err.Error())
	}
}

// KeepaliveTask registers until the transfer accepts, then keeps the
// registration alive.
func (g *Gateway) KeepaliveTask() {
	defer g.wg.Done()

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		if g.registered.Load() {
			err := udp.UdpWrite(g.conn, g.trans, udp.Encode(udp.MsgKeepalive, nil))
			if err != nil {
				logs.Error("udp send keepalive fail, %s", err.Error())
			}
		} else {
			g.register()
		}

		select {
		case <-g.stop:
			return
		case <-ticker.C:
		}
	}
}
