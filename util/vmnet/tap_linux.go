//go:build linux

package vmnet

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"

	"github.com/astaxie/beego/logs"
	"github.com/songgao/water"
	"github.com/vishvananda/netlink"
)

const (
	tapIfaceName   = "vmnet%d"
	tapMTU         = 1500
	ethHeaderLen   = 14
	tapBacklogLen  = 256
	tapQueueLength = 1000
)

// NewFramework returns the linux backend, which emulates the framework on top
// of a TAP device.
func NewFramework() (Framework, error) {
	return &tapFramework{}, nil
}

type tapFramework struct{}

type tapInterface struct {
	ifce          *water.Interface
	link          netlink.Link
	maxPacketSize int

	backlog chan []byte

	mu      sync.Mutex
	cb      func(EventMask, Event)
	cbQueue *SerialQueue
	stopped bool

	readerDone chan struct{}
}

func serialQueue(q Queue) (*SerialQueue, error) {
	sq, ok := q.(*SerialQueue)
	if !ok || sq == nil {
		return nil, fmt.Errorf("queue %T is not a serial queue", q)
	}
	return sq, nil
}

func tapStatus(err error) Status {
	var errno syscall.Errno
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, os.ErrPermission), errors.As(err, &errno) && (errno == syscall.EPERM || errno == syscall.EACCES):
		return StatusInvalidAccess
	case errors.As(err, &errno) && errno == syscall.ENOMEM:
		return StatusMemFailure
	case errors.As(err, &errno) && errno == syscall.EBUSY:
		return StatusSharingServiceBusy
	default:
		return StatusFailure
	}
}

func (f *tapFramework) NewQueue(label string) (Queue, error) {
	return NewSerialQueue(label), nil
}

func (f *tapFramework) StartInterface(desc *InterfaceDesc, q Queue, done func(Status, *InterfaceParam)) Handle {
	sq, err := serialQueue(q)
	if err != nil {
		logs.Error("tap start: %s", err.Error())
		go done(StatusInvalidArgument, nil)
		return nil
	}

	tap := &tapInterface{
		backlog:    make(chan []byte, tapBacklogLen),
		readerDone: make(chan struct{}),
	}

	go func() {
		param, status := tap.start(desc)
		sq.Async(func() { done(status, param) })
	}()
	return tap
}

func (t *tapInterface) start(desc *InterfaceDesc) (*InterfaceParam, Status) {
	if desc == nil || desc.Validate() != nil {
		return nil, StatusInvalidArgument
	}

	ifce, err := water.New(water.Config{
		DeviceType: water.TAP,
		PlatformSpecificParams: water.PlatformSpecificParams{
			Name: tapIfaceName,
		},
	})
	if err != nil {
		logs.Error("tap device open fail, %s", err.Error())
		return nil, tapStatus(err)
	}

	link, err := configureIface(ifce.Name(), desc, tapMTU)
	if err != nil {
		logs.Error("tap device %s configure fail, %s", ifce.Name(), err.Error())
		ifce.Close()
		return nil, tapStatus(err)
	}

	t.ifce = ifce
	t.link = link
	t.maxPacketSize = tapMTU + ethHeaderLen
	go t.readLoop()

	param := &InterfaceParam{
		MaxPacketSize: uint64(t.maxPacketSize),
		MTU:           tapMTU,
		MACAddress:    link.Attrs().HardwareAddr.String(),
	}
	return param, StatusSuccess
}

func configureIface(ifname string, desc *InterfaceDesc, mtu int) (netlink.Link, error) {
	iface, err := netlink.LinkByName(ifname)
	if err != nil {
		return nil, fmt.Errorf("failed to lookup interface %v: %w", ifname, err)
	}

	subnet, err := desc.Network()
	if err != nil {
		return nil, err
	}

	// In host mode the host side owns the first address of the plan; peers
	// hand out the rest of the range.
	err = netlink.AddrAdd(iface, &netlink.Addr{IPNet: subnet.ToIPNet(), Broadcast: subnet.Broadcast().ToIP()})
	if err != nil && !errors.Is(err, syscall.EEXIST) {
		return nil, fmt.Errorf("failed to add IP address %v to %v: %w", subnet.String(), ifname, err)
	}

	err = netlink.LinkSetMTU(iface, mtu)
	if err != nil {
		return nil, fmt.Errorf("failed to set MTU for %v: %w", ifname, err)
	}

	err = netlink.LinkSetTxQLen(iface, tapQueueLength)
	if err != nil {
		logs.Warn("failed to set txqueuelen for %v: %s", ifname, err.Error())
	}

	err = netlink.LinkSetUp(iface)
	if err != nil {
		return nil, fmt.Errorf("failed to set interface %v to UP state: %w", ifname, err)
	}

	return iface, nil
}

func (t *tapInterface) readLoop() {
	defer close(t.readerDone)
	for {
		buf := make([]byte, t.maxPacketSize)
		n, err := t.ifce.Read(buf)
		if err != nil {
			if t.isStopped() {
				return
			}
			logs.Error("tap read fail, %s", err.Error())
			if errors.Is(err, os.ErrClosed) {
				return
			}
			continue
		}
		if n == 0 {
			continue
		}

		select {
		case t.backlog <- buf[:n]:
		default:
			logs.Warn("tap backlog full, dropping %d byte frame", n)
		}
		t.notify()
	}
}

func (t *tapInterface) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func (t *tapInterface) notify() {
	t.mu.Lock()
	cb, q := t.cb, t.cbQueue
	t.mu.Unlock()
	if cb == nil || q == nil {
		return
	}
	estimated := uint64(len(t.backlog))
	q.Async(func() { cb(PacketsAvailable, Event{EstimatedPackets: estimated}) })
}

func tapHandle(h Handle) *tapInterface {
	t, _ := h.(*tapInterface)
	return t
}

func (f *tapFramework) StopInterface(h Handle, q Queue, done func(Status)) Status {
	t := tapHandle(h)
	if t == nil || t.ifce == nil {
		return StatusInvalidArgument
	}
	sq, err := serialQueue(q)
	if err != nil {
		return StatusInvalidArgument
	}

	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return StatusInvalidArgument
	}
	t.stopped = true
	t.cb, t.cbQueue = nil, nil
	t.mu.Unlock()

	go func() {
		status := StatusSuccess
		if err := netlink.LinkSetDown(t.link); err != nil {
			logs.Warn("failed to set interface %v down: %s", t.ifce.Name(), err.Error())
		}
		if err := t.ifce.Close(); err != nil {
			status = tapStatus(err)
		}
		<-t.readerDone
		sq.Async(func() { done(status) })
	}()
	return StatusSuccess
}

func (f *tapFramework) SetEventCallback(h Handle, mask EventMask, q Queue, cb func(EventMask, Event)) Status {
	t := tapHandle(h)
	if t == nil {
		return StatusInvalidArgument
	}
	if mask&PacketsAvailable == 0 {
		return StatusInvalidArgument
	}

	if q == nil || cb == nil {
		t.mu.Lock()
		t.cb, t.cbQueue = nil, nil
		t.mu.Unlock()
		return StatusSuccess
	}

	sq, err := serialQueue(q)
	if err != nil {
		return StatusInvalidArgument
	}
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return StatusSetupIncomplete
	}
	t.cb, t.cbQueue = cb, sq
	t.mu.Unlock()

	if len(t.backlog) > 0 {
		t.notify()
	}
	return StatusSuccess
}

func (f *tapFramework) Read(h Handle, pkts []Packet, count *int) Status {
	t := tapHandle(h)
	if t == nil || count == nil || *count < 0 || *count > len(pkts) {
		return StatusInvalidArgument
	}

	want := *count
	*count = 0
	for i := 0; i < want; i++ {
		var frame []byte
		select {
		case frame = <-t.backlog:
		default:
			return StatusSuccess
		}
		if len(frame) > pkts[i].Size || len(frame) > len(pkts[i].Buf) {
			return StatusPacketTooBig
		}
		pkts[i].Size = copy(pkts[i].Buf, frame)
		*count = i + 1
	}
	return StatusSuccess
}

func (f *tapFramework) Write(h Handle, pkts []Packet, count *int) Status {
	t := tapHandle(h)
	if t == nil || t.ifce == nil || count == nil || *count < 0 || *count > len(pkts) {
		return StatusInvalidArgument
	}

	want := *count
	*count = 0
	for i := 0; i < want; i++ {
		size := pkts[i].Size
		if size > t.maxPacketSize || size > len(pkts[i].Buf) {
			return StatusPacketTooBig
		}
		_, err := t.ifce.Write(pkts[i].Buf[:size])
		if err != nil {
			var errno syscall.Errno
			if errors.As(err, &errno) && (errno == syscall.EAGAIN || errno == syscall.ENOBUFS) {
				return StatusSuccess
			}
			return tapStatus(err)
		}
		*count = i + 1
	}
	return StatusSuccess
}
