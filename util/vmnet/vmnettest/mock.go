// Package vmnettest provides a scripted vmnet.Framework for tests.
package vmnettest

import (
	"sync"

	"github.com/easymesh/vmnettap/util/vmnet"
)

const (
	OpStart            = "start"
	OpStop             = "stop"
	OpSetEventCallback = "set_event_callback"
	OpRead             = "read"
	OpWrite            = "write"
)

// Call is one recorded framework call.
type Call struct {
	Op string
	// NilCallback is set for set_event_callback calls that unregister.
	NilCallback bool
}

type handle struct {
	id int
}

// Framework is an in-memory framework. Completions and events run on a
// vmnet.SerialQueue, as they would on the real dispatch queue.
type Framework struct {
	// Scripted results. Zero values are replaced by New with success.
	StartStatus   vmnet.Status
	StopStatus    vmnet.Status
	WriteStatus   vmnet.Status
	ReadStatus    vmnet.Status
	MaxPacketSize uint64

	// StopReturn is what StopInterface returns. Anything but success refuses
	// the stop without scheduling a completion.
	StopReturn vmnet.Status

	// WriteAccepted is the packet count Write reports back. A negative value
	// accepts every packet.
	WriteAccepted int

	// Loopback makes every accepted write readable again.
	Loopback bool

	// OnRead runs at the start of every Read, outside the framework lock.
	OnRead func()

	mu      sync.Mutex
	calls   []Call
	written [][]byte
	pending [][]byte
	queues  []*vmnet.SerialQueue
	handles int
	live    *handle
	stale   int
	cb      func(vmnet.EventMask, vmnet.Event)
	cbQueue *vmnet.SerialQueue
}

func New() *Framework {
	return &Framework{
		StartStatus:   vmnet.StatusSuccess,
		StopStatus:    vmnet.StatusSuccess,
		StopReturn:    vmnet.StatusSuccess,
		WriteStatus:   vmnet.StatusSuccess,
		ReadStatus:    vmnet.StatusSuccess,
		MaxPacketSize: 1514,
		WriteAccepted: -1,
	}
}

func (f *Framework) record(op string, nilCallback bool) {
	f.calls = append(f.calls, Call{Op: op, NilCallback: nilCallback})
}

func (f *Framework) NewQueue(label string) (vmnet.Queue, error) {
	q := vmnet.NewSerialQueue(label)
	f.mu.Lock()
	f.queues = append(f.queues, q)
	f.mu.Unlock()
	return q, nil
}

func (f *Framework) StartInterface(desc *vmnet.InterfaceDesc, q vmnet.Queue, done func(vmnet.Status, *vmnet.InterfaceParam)) vmnet.Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(OpStart, false)

	sq := q.(*vmnet.SerialQueue)
	status := f.StartStatus
	if desc == nil || desc.Validate() != nil {
		status = vmnet.StatusInvalidArgument
	}

	var param *vmnet.InterfaceParam
	if status == vmnet.StatusSuccess {
		param = &vmnet.InterfaceParam{
			MaxPacketSize: f.MaxPacketSize,
			MTU:           f.MaxPacketSize - 14,
			MACAddress:    "02:00:00:00:00:01",
		}
	}
	sq.Async(func() { done(status, param) })

	f.handles++
	h := &handle{id: f.handles}
	if status == vmnet.StatusSuccess {
		f.live = h
	}
	return h
}

func (f *Framework) StopInterface(h vmnet.Handle, q vmnet.Queue, done func(vmnet.Status)) vmnet.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(OpStop, false)

	if h == nil || h != vmnet.Handle(f.live) {
		return vmnet.StatusInvalidArgument
	}
	if f.StopReturn != vmnet.StatusSuccess {
		return f.StopReturn
	}
	f.live = nil
	f.cb, f.cbQueue = nil, nil

	status := f.StopStatus
	q.(*vmnet.SerialQueue).Async(func() { done(status) })
	return vmnet.StatusSuccess
}

func (f *Framework) SetEventCallback(h vmnet.Handle, mask vmnet.EventMask, q vmnet.Queue, cb func(vmnet.EventMask, vmnet.Event)) vmnet.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	unregister := q == nil || cb == nil
	f.record(OpSetEventCallback, unregister)

	if h == nil || h != vmnet.Handle(f.live) {
		return vmnet.StatusInvalidArgument
	}
	if unregister {
		f.cb, f.cbQueue = nil, nil
		return vmnet.StatusSuccess
	}
	f.cb, f.cbQueue = cb, q.(*vmnet.SerialQueue)
	return vmnet.StatusSuccess
}

func (f *Framework) Read(h vmnet.Handle, pkts []vmnet.Packet, count *int) vmnet.Status {
	if f.OnRead != nil {
		f.OnRead()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(OpRead, false)

	if h == nil || h != vmnet.Handle(f.live) {
		f.stale++
		*count = 0
		return vmnet.StatusInvalidArgument
	}

	if f.ReadStatus != vmnet.StatusSuccess {
		*count = 0
		return f.ReadStatus
	}

	want := *count
	*count = 0
	for i := 0; i < want && len(f.pending) > 0; i++ {
		frame := f.pending[0]
		if len(frame) > pkts[i].Size || len(frame) > len(pkts[i].Buf) {
			return vmnet.StatusPacketTooBig
		}
		f.pending = f.pending[1:]
		pkts[i].Size = copy(pkts[i].Buf, frame)
		*count = i + 1
	}
	return vmnet.StatusSuccess
}

func (f *Framework) Write(h vmnet.Handle, pkts []vmnet.Packet, count *int) vmnet.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(OpWrite, false)

	if h == nil || h != vmnet.Handle(f.live) {
		f.stale++
		*count = 0
		return vmnet.StatusInvalidArgument
	}
	if f.WriteStatus != vmnet.StatusSuccess {
		return f.WriteStatus
	}

	accepted := *count
	if f.WriteAccepted >= 0 && f.WriteAccepted < accepted {
		accepted = f.WriteAccepted
	}
	for i := 0; i < accepted; i++ {
		frame := append([]byte(nil), pkts[i].Buf[:pkts[i].Size]...)
		f.written = append(f.written, frame)
		if f.Loopback {
			f.pending = append(f.pending, frame)
			f.signalLocked()
		}
	}
	*count = accepted
	return vmnet.StatusSuccess
}

// Inject makes frame available for reading and raises PacketsAvailable.
func (f *Framework) Inject(frame []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = append(f.pending, append([]byte(nil), frame...))
	f.signalLocked()
}

// Signal raises PacketsAvailable without queueing anything.
func (f *Framework) Signal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signalLocked()
}

func (f *Framework) signalLocked() {
	if f.cb == nil || f.cbQueue == nil {
		return
	}
	cb := f.cb
	ev := vmnet.Event{EstimatedPackets: uint64(len(f.pending))}
	f.cbQueue.Async(func() { cb(vmnet.PacketsAvailable, ev) })
}

// Flush waits until every queue created so far has run all work submitted
// before the call.
func (f *Framework) Flush() {
	f.mu.Lock()
	queues := append([]*vmnet.SerialQueue(nil), f.queues...)
	f.mu.Unlock()
	for _, q := range queues {
		q.Sync(func() {})
	}
}

// Calls returns the recorded calls, optionally restricted to ops.
func (f *Framework) Calls(ops ...string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(ops) == 0 {
		return append([]Call(nil), f.calls...)
	}
	var out []Call
	for _, c := range f.calls {
		for _, op := range ops {
			if c.Op == op {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

func (f *Framework) CallCount(op string) int {
	return len(f.Calls(op))
}

// Written returns every frame the framework accepted for transmission.
func (f *Framework) Written() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.written...)
}

// Stale counts Read and Write calls made with a handle that is not running.
func (f *Framework) Stale() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stale
}

// Pending is the number of frames waiting to be read.
func (f *Framework) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

// QueuesReleased reports whether every queue handed out has been released
// and drained.
func (f *Framework) QueuesReleased() bool {
	f.mu.Lock()
	queues := append([]*vmnet.SerialQueue(nil), f.queues...)
	f.mu.Unlock()
	for _, q := range queues {
		select {
		case <-q.Done():
		default:
			return false
		}
	}
	return true
}
