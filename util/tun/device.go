//go:build linux || darwin

package tun

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/easymesh/vmnettap/util/vmnet"
	"golang.org/x/sys/unix"
)

const (
	defaultQueueLabel = "org.easymesh.vmnettap.if_queue"

	// Darwin caps unix datagrams at SO_SNDBUF, which defaults to 2k.
	sendBufferSize = 1 << 20
	recvBufferSize = 4 << 20
)

type state int32

const (
	stateUninitialized state = iota
	stateRunning
	stateClosed
)

// Only one interface may be running per process.
var active atomic.Bool

// session holds everything that exists only while the interface runs.
type session struct {
	handle        vmnet.Handle
	queue         vmnet.Queue
	param         vmnet.InterfaceParam
	maxPacketSize int

	readBuf  []byte
	readPkts [1]vmnet.Packet

	internal   int
	externalFd int
	external   *os.File

	// Write calls between enter and leave. CloseFd waits for them to drain
	// before it stops the interface.
	writers atomic.Int32
	closing atomic.Bool
	idle    chan struct{}
}

// Device is the tun emulation for one virtual interface. The zero state is
// uninitialized; Open moves it to running and Close to closed. A closed
// Device cannot be opened again.
type Device struct {
	fw         vmnet.Framework
	log        Logger
	desc       *vmnet.InterfaceDesc
	queueLabel string

	mu     sync.Mutex
	state  atomic.Int32
	status atomic.Uint32
	lastIO atomic.Uint32
	sess   atomic.Pointer[session]

	counters counters
}

func New(fw vmnet.Framework, opts ...Option) *Device {
	d := &Device{
		fw:         fw,
		log:        defaultLogger(),
		desc:       vmnet.DefaultInterfaceDesc(),
		queueLabel: defaultQueueLabel,
	}
	d.status.Store(uint32(vmnet.StatusSetupIncomplete))
	d.lastIO.Store(uint32(vmnet.StatusSuccess))
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// OpenTun opens a Device on the platform framework.
func OpenTun(opts ...Option) (*Device, error) {
	fw, err := vmnet.NewFramework()
	if err != nil {
		return nil, err
	}
	d := New(fw, opts...)
	if _, err := d.Open(); err != nil {
		return nil, err
	}
	return d, nil
}

// Open starts the interface and returns the readable end of the socket pair.
// It blocks until the framework reports the start result and must not be
// called from the device queue.
func (d *Device) Open() (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch state(d.state.Load()) {
	case stateRunning:
		return -1, ErrBusy
	case stateClosed:
		return -1, ErrClosed
	}

	if !active.CompareAndSwap(false, true) {
		d.log.Error("unable to create vmnet device: %s", ErrBusy.Error())
		return -1, ErrBusy
	}

	s, err := d.start()
	if err != nil {
		active.Store(false)
		return -1, err
	}

	d.state.Store(int32(stateRunning))
	d.log.Info("vmnet device up, fd %d, max packet size %d, mtu %d, mac %s",
		s.externalFd, s.maxPacketSize, s.param.MTU, s.param.MACAddress)
	return s.externalFd, nil
}

func (d *Device) start() (*session, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_DGRAM, 0)
	if err != nil {
		d.log.Error("unable to create socket: %s", err.Error())
		return nil, fmt.Errorf("%w: socketpair: %w", ErrSetup, err)
	}

	s := &session{externalFd: fds[0], internal: fds[1], idle: make(chan struct{}, 1)}
	if err := s.tuneSockets(d.log); err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		d.log.Error("unable to configure socket: %s", err.Error())
		return nil, fmt.Errorf("%w: socket options: %w", ErrSetup, err)
	}
	s.external = os.NewFile(uintptr(fds[0]), "vmnet")

	q, err := d.fw.NewQueue(d.queueLabel)
	if err != nil {
		s.closeSockets()
		d.log.Error("unable to create dispatch queue: %s", err.Error())
		return nil, fmt.Errorf("%w: %w", ErrSetup, err)
	}
	s.queue = q

	started := make(chan struct{})
	var param *vmnet.InterfaceParam
	h := d.fw.StartInterface(d.desc, q, func(status vmnet.Status, p *vmnet.InterfaceParam) {
		d.status.Store(uint32(status))
		if status == vmnet.StatusSuccess {
			param = p
		}
		close(started)
	})
	<-started

	status := d.Status()
	if status == vmnet.StatusSuccess && (h == nil || param == nil || param.MaxPacketSize == 0) {
		d.log.Error("vmnet start reported success without usable interface parameters")
		if h != nil {
			s.handle = h
			d.stop(s)
		}
		status = vmnet.StatusFailure
		d.status.Store(uint32(status))
	}
	if status != vmnet.StatusSuccess {
		d.log.Error("unable to create vmnet device: %s", status)
		q.Release()
		s.closeSockets()
		return nil, fmt.Errorf("%w: %w", ErrSetup, status.Err("start"))
	}

	s.handle = h
	s.param = *param
	s.maxPacketSize = int(param.MaxPacketSize)
	s.readBuf = make([]byte, s.maxPacketSize)

	// The pump drops events for any session but the published one, and the
	// framework may raise one as soon as the callback is registered.
	d.sess.Store(s)
	st := d.fw.SetEventCallback(h, vmnet.PacketsAvailable, q, d.ingress(s))
	if st != vmnet.StatusSuccess {
		d.log.Error("unable to register vmnet event callback: %s", st)
		d.sess.Store(nil)
		s.waitWriters()
		d.stop(s)
		d.release(s)
		d.status.Store(uint32(st))
		return nil, fmt.Errorf("%w: %w", ErrSetup, st.Err("set event callback"))
	}
	return s, nil
}

// CloseFd stops the interface and releases everything Open created. fd must
// be the descriptor Open returned. Local resources are released even when the
// framework reports a stop failure. It waits for Write calls already inside
// the framework and for queued event handlers, so it must not be called from
// the device queue.
func (d *Device) CloseFd(fd int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := d.sess.Load()
	if state(d.state.Load()) != stateRunning || s == nil || s.handle == nil || fd != s.externalFd {
		d.log.Error("attempt to close broken vmnet device, fd %d", fd)
		return ErrInvalidHandle
	}

	d.sess.Store(nil)
	s.waitWriters()
	status := d.stop(s)
	d.release(s)
	d.state.Store(int32(stateClosed))
	active.Store(false)

	if status != vmnet.StatusSuccess {
		d.log.Error("unable to properly close vmnet device: %s", status)
		return fmt.Errorf("%w: %w", ErrTeardown, status.Err("stop"))
	}
	d.log.Info("vmnet device closed")
	return nil
}

// Close is CloseFd for the descriptor Open returned.
func (d *Device) Close() error {
	return d.CloseFd(d.Fd())
}

func (d *Device) stop(s *session) vmnet.Status {
	st := d.fw.SetEventCallback(s.handle, vmnet.PacketsAvailable, nil, nil)
	if st != vmnet.StatusSuccess {
		d.log.Warn("unable to unregister vmnet event callback: %s", st)
	}

	stopped := make(chan struct{})
	st = d.fw.StopInterface(s.handle, s.queue, func(status vmnet.Status) {
		d.status.Store(uint32(status))
		close(stopped)
	})
	if st == vmnet.StatusSuccess {
		<-stopped
	} else {
		d.status.Store(uint32(st))
	}
	return d.Status()
}

func (d *Device) release(s *session) {
	// A handler dequeued before the callback was unregistered may still be
	// inside the framework.
	s.queue.Barrier()
	s.queue.Release()
	s.readBuf = nil
	s.readPkts[0] = vmnet.Packet{}
	s.closeSockets()
}

// enter pins the running session for one Write. It returns nil once CloseFd
// has started.
func (d *Device) enter() *session {
	s := d.sess.Load()
	if s == nil {
		return nil
	}
	s.writers.Add(1)
	if d.sess.Load() != s {
		s.leave()
		return nil
	}
	return s
}

func (s *session) leave() {
	if s.writers.Add(-1) == 0 && s.closing.Load() {
		select {
		case s.idle <- struct{}{}:
		default:
		}
	}
}

// waitWriters returns once no Write is inside the framework. The session must
// already be unpublished.
func (s *session) waitWriters() {
	s.closing.Store(true)
	for s.writers.Load() != 0 {
		<-s.idle
	}
}

func (s *session) tuneSockets(log Logger) error {
	if err := unix.SetNonblock(s.internal, true); err != nil {
		return err
	}
	if err := unix.SetNonblock(s.externalFd, true); err != nil {
		return err
	}
	if err := unix.SetsockoptInt(s.internal, unix.SOL_SOCKET, unix.SO_SNDBUF, sendBufferSize); err != nil {
		log.Warn("unable to set send buffer on read socket: %s", err.Error())
	}
	if err := unix.SetsockoptInt(s.externalFd, unix.SOL_SOCKET, unix.SO_RCVBUF, recvBufferSize); err != nil {
		log.Warn("unable to set receive buffer on read socket: %s", err.Error())
	}
	return nil
}

func (s *session) closeSockets() {
	if s.external != nil {
		s.external.Close()
	} else {
		unix.Close(s.externalFd)
	}
	unix.Close(s.internal)
}

// Status is the controller status: the result of the last start or stop.
func (d *Device) Status() vmnet.Status {
	return vmnet.Status(d.status.Load())
}

// LastIOStatus is the status of the most recent failed packet read or write,
// or StatusSuccess if none has failed.
func (d *Device) LastIOStatus() vmnet.Status {
	return vmnet.Status(d.lastIO.Load())
}

// Fd is the readable end of the socket pair, or -1 when not running. It is in
// non-blocking mode.
func (d *Device) Fd() int {
	if s := d.sess.Load(); s != nil {
		return s.externalFd
	}
	return -1
}

// File wraps Fd for use with the Go poller.
func (d *Device) File() *os.File {
	if s := d.sess.Load(); s != nil {
		return s.external
	}
	return nil
}

func (d *Device) MaxPacketSize() int {
	if s := d.sess.Load(); s != nil {
		return s.maxPacketSize
	}
	return 0
}

func (d *Device) Param() (vmnet.InterfaceParam, bool) {
	if s := d.sess.Load(); s != nil {
		return s.param, true
	}
	return vmnet.InterfaceParam{}, false
}

// Read returns one frame from the device.
func (d *Device) Read(p []byte) (int, error) {
	s := d.sess.Load()
	if s == nil {
		return 0, ErrNotRunning
	}
	return s.external.Read(p)
}
