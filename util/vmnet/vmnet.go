// Package vmnet describes the host virtual-interface framework the tun adapter
// is built on and provides its platform backends.
//
// The contract mirrors vmnet.framework: start and stop complete asynchronously
// on a serial queue owned by the caller, packet arrival is signalled by an
// event callback on the same queue, and reads and writes are synchronous calls
// that move an array of packet descriptors with an in/out count.
package vmnet

import "errors"

// ErrUnsupported is returned by NewFramework on platforms without a backend.
var ErrUnsupported = errors.New("vmnet: no virtual interface backend for this platform")

type Mode uint64

const (
	HostMode    Mode = 1000
	SharedMode  Mode = 1001
	BridgedMode Mode = 1002
)

func (m Mode) String() string {
	switch m {
	case HostMode:
		return "host"
	case SharedMode:
		return "shared"
	case BridgedMode:
		return "bridged"
	default:
		return "unknown"
	}
}

// EventMask selects interface events.
type EventMask uint32

const PacketsAvailable EventMask = 1 << 0

// Event carries the payload of a PacketsAvailable notification.
type Event struct {
	// EstimatedPackets is the framework's guess of how many packets are
	// waiting. Zero means the framework did not say.
	EstimatedPackets uint64
}

// InterfaceParam holds what the framework negotiated at start.
type InterfaceParam struct {
	MaxPacketSize uint64
	MTU           uint64
	MACAddress    string
}

// Packet is one packet descriptor. On Read, Size is the capacity of Buf going
// in and the frame length coming out. On Write, Size is the frame length.
type Packet struct {
	Buf   []byte
	Size  int
	Flags uint32
}

// Handle is the opaque interface reference returned by StartInterface.
type Handle interface{}

// Queue is a serial dispatch context. Completion and event callbacks run on
// it one at a time in submission order.
type Queue interface {
	// Barrier blocks until all work submitted before it has run. It must not
	// be called from work running on the queue or after Release.
	Barrier()
	Release()
}

// Framework is the consumed boundary of the host virtual-interface service.
type Framework interface {
	NewQueue(label string) (Queue, error)

	// StartInterface begins bringing the interface up. done runs on q exactly
	// once, with the negotiated parameters when status is StatusSuccess.
	StartInterface(desc *InterfaceDesc, q Queue, done func(Status, *InterfaceParam)) Handle

	// StopInterface begins tearing the interface down. When the returned
	// status is StatusSuccess, done runs on q exactly once.
	StopInterface(h Handle, q Queue, done func(Status)) Status

	// SetEventCallback registers cb for the events in mask. A nil q and cb
	// unregister.
	SetEventCallback(h Handle, mask EventMask, q Queue, cb func(EventMask, Event)) Status

	Read(h Handle, pkts []Packet, count *int) Status
	Write(h Handle, pkts []Packet, count *int) Status
}
