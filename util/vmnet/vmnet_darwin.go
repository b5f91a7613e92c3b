//go:build darwin && cgo

package vmnet

/*
#cgo LDFLAGS: -framework vmnet
#include "vmnet_darwin.h"
*/
import "C"

import (
	"runtime"
	"sync"
	"unsafe"
)

// NewFramework returns the vmnet.framework backend. Starting an interface
// needs root or the com.apple.vm.networking entitlement.
func NewFramework() (Framework, error) {
	return &darwinFramework{}, nil
}

type darwinFramework struct{}

type dispatchQueue struct {
	q    C.dispatch_queue_t
	once sync.Once
}

func (d *dispatchQueue) Barrier() {
	C.vmnetQueueBarrier(d.q)
}

func (d *dispatchQueue) Release() {
	d.once.Do(func() { C.vmnetQueueRelease(d.q) })
}

type darwinInterface struct {
	ref C.interface_ref

	mu         sync.Mutex
	eventToken uintptr
}

// Blocks running on GCD threads find their Go closure through a token.
var callbacks = struct {
	sync.Mutex
	next uintptr
	fns  map[uintptr]interface{}
}{fns: make(map[uintptr]interface{})}

func registerCallback(fn interface{}) uintptr {
	callbacks.Lock()
	defer callbacks.Unlock()
	callbacks.next++
	callbacks.fns[callbacks.next] = fn
	return callbacks.next
}

func lookupCallback(token uintptr) interface{} {
	callbacks.Lock()
	defer callbacks.Unlock()
	return callbacks.fns[token]
}

func takeCallback(token uintptr) interface{} {
	callbacks.Lock()
	defer callbacks.Unlock()
	fn := callbacks.fns[token]
	delete(callbacks.fns, token)
	return fn
}

//export goVmnetStarted
func goVmnetStarted(token C.uintptr_t, status C.uint32_t, maxPacketSize C.uint64_t, mtu C.uint64_t, mac *C.char) {
	done, _ := takeCallback(uintptr(token)).(func(Status, *InterfaceParam))
	if done == nil {
		return
	}
	st := Status(status)
	var param *InterfaceParam
	if st == StatusSuccess {
		param = &InterfaceParam{
			MaxPacketSize: uint64(maxPacketSize),
			MTU:           uint64(mtu),
		}
		if mac != nil {
			param.MACAddress = C.GoString(mac)
		}
	}
	done(st, param)
}

//export goVmnetStopped
func goVmnetStopped(token C.uintptr_t, status C.uint32_t) {
	done, _ := takeCallback(uintptr(token)).(func(Status))
	if done != nil {
		done(Status(status))
	}
}

//export goVmnetEvent
func goVmnetEvent(token C.uintptr_t, mask C.uint32_t, estimated C.uint64_t) {
	cb, _ := lookupCallback(uintptr(token)).(func(EventMask, Event))
	if cb != nil {
		cb(EventMask(mask), Event{EstimatedPackets: uint64(estimated)})
	}
}

func dispatchQueueOf(q Queue) *dispatchQueue {
	dq, _ := q.(*dispatchQueue)
	return dq
}

func darwinHandle(h Handle) *darwinInterface {
	d, _ := h.(*darwinInterface)
	return d
}

func (f *darwinFramework) NewQueue(label string) (Queue, error) {
	cl := C.CString(label)
	defer C.free(unsafe.Pointer(cl))
	q := C.vmnetQueueCreate(cl)
	if q == nil {
		return nil, StatusMemFailure.Err("queue create")
	}
	return &dispatchQueue{q: q}, nil
}

func (f *darwinFramework) StartInterface(desc *InterfaceDesc, q Queue, done func(Status, *InterfaceParam)) Handle {
	dq := dispatchQueueOf(q)
	if dq == nil || desc == nil {
		// No queue to complete on.
		go done(StatusInvalidArgument, nil)
		return nil
	}

	start := C.CString(desc.StartAddress)
	defer C.free(unsafe.Pointer(start))
	end := C.CString(desc.EndAddress)
	defer C.free(unsafe.Pointer(end))
	mask := C.CString(desc.SubnetMask)
	defer C.free(unsafe.Pointer(mask))

	cdesc := C.struct_vmnetDesc{
		mode:         C.uint64_t(desc.Mode),
		isolation:    C.bool(desc.EnableIsolation),
		allocateMAC:  C.bool(desc.AllocateMACAddress),
		startAddress: start,
		endAddress:   end,
		subnetMask:   mask,
	}

	token := registerCallback(done)
	ref := C.vmnetStartInterface(&cdesc, dq.q, C.uintptr_t(token))
	if ref == nil {
		return nil
	}
	return &darwinInterface{ref: ref}
}

func (f *darwinFramework) StopInterface(h Handle, q Queue, done func(Status)) Status {
	d, dq := darwinHandle(h), dispatchQueueOf(q)
	if d == nil || dq == nil {
		return StatusInvalidArgument
	}
	token := registerCallback(done)
	st := Status(C.vmnetStopInterface(d.ref, dq.q, C.uintptr_t(token)))
	if st != StatusSuccess {
		takeCallback(token)
	}
	return st
}

func (f *darwinFramework) SetEventCallback(h Handle, mask EventMask, q Queue, cb func(EventMask, Event)) Status {
	d := darwinHandle(h)
	if d == nil {
		return StatusInvalidArgument
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if q == nil || cb == nil {
		st := Status(C.vmnetClearEventCallback(d.ref, C.uint32_t(mask)))
		if d.eventToken != 0 {
			takeCallback(d.eventToken)
			d.eventToken = 0
		}
		return st
	}

	dq := dispatchQueueOf(q)
	if dq == nil {
		return StatusInvalidArgument
	}
	token := registerCallback(cb)
	st := Status(C.vmnetSetEventCallback(d.ref, C.uint32_t(mask), dq.q, C.uintptr_t(token)))
	if st != StatusSuccess {
		takeCallback(token)
		return st
	}
	if d.eventToken != 0 {
		takeCallback(d.eventToken)
	}
	d.eventToken = token
	return st
}

// packetVector lays pkts out as C vmpktdesc and iovec arrays. The Go buffers
// stay pinned until release is called.
type packetVector struct {
	descs []C.struct_vmpktdesc
	iovs  []C.struct_iovec
	pin   runtime.Pinner
}

func newPacketVector(pkts []Packet, n int) (*packetVector, Status) {
	for i := 0; i < n; i++ {
		if len(pkts[i].Buf) == 0 || pkts[i].Size < 0 {
			return nil, StatusInvalidArgument
		}
	}

	v := &packetVector{
		descs: unsafe.Slice((*C.struct_vmpktdesc)(C.calloc(C.size_t(n), C.size_t(C.sizeof_struct_vmpktdesc))), n),
		iovs:  unsafe.Slice((*C.struct_iovec)(C.calloc(C.size_t(n), C.size_t(C.sizeof_struct_iovec))), n),
	}
	for i := 0; i < n; i++ {
		buf := &pkts[i].Buf[0]
		v.pin.Pin(buf)
		v.iovs[i].iov_base = unsafe.Pointer(buf)
		v.iovs[i].iov_len = C.size_t(len(pkts[i].Buf))
		v.descs[i].vm_pkt_size = C.size_t(pkts[i].Size)
		v.descs[i].vm_pkt_iov = &v.iovs[i]
		v.descs[i].vm_pkt_iovcnt = 1
		v.descs[i].vm_flags = C.uint32_t(pkts[i].Flags)
	}
	return v, StatusSuccess
}

func (v *packetVector) release() {
	v.pin.Unpin()
	C.free(unsafe.Pointer(&v.descs[0]))
	C.free(unsafe.Pointer(&v.iovs[0]))
}

func (f *darwinFramework) transfer(h Handle, pkts []Packet, count *int, write bool) Status {
	d := darwinHandle(h)
	if d == nil || count == nil || *count < 0 || *count > len(pkts) {
		return StatusInvalidArgument
	}
	if *count == 0 {
		return StatusSuccess
	}

	v, st := newPacketVector(pkts, *count)
	if st != StatusSuccess {
		return st
	}
	defer v.release()

	cnt := C.int(*count)
	if write {
		st = Status(C.vmnet_write(d.ref, &v.descs[0], &cnt))
	} else {
		st = Status(C.vmnet_read(d.ref, &v.descs[0], &cnt))
	}
	*count = int(cnt)
	if !write {
		for i := 0; i < *count; i++ {
			pkts[i].Size = int(v.descs[i].vm_pkt_size)
			pkts[i].Flags = uint32(v.descs[i].vm_flags)
		}
	}
	return st
}

func (f *darwinFramework) Read(h Handle, pkts []Packet, count *int) Status {
	return f.transfer(h, pkts, count, false)
}

func (f *darwinFramework) Write(h Handle, pkts []Packet, count *int) Status {
	return f.transfer(h, pkts, count, true)
}
