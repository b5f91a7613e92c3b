//go:build linux || darwin

package tun

import (
	"fmt"
	"sync/atomic"
)

type Counters struct {
	Received   uint64 // frames delivered to the socket pair
	Sent       uint64 // frames the framework queued
	Unsent     uint64 // writes the framework took but did not queue
	Dropped    uint64 // frames lost between framework and socket pair
	ErrReceive uint64
	ErrSend    uint64
}

func (c Counters) String() string {
	return fmt.Sprintf("received=%d sent=%d unsent=%d dropped=%d err_receive=%d err_send=%d",
		c.Received, c.Sent, c.Unsent, c.Dropped, c.ErrReceive, c.ErrSend)
}

type counters struct {
	received   atomic.Uint64
	sent       atomic.Uint64
	unsent     atomic.Uint64
	dropped    atomic.Uint64
	errReceive atomic.Uint64
	errSend    atomic.Uint64
}

func (d *Device) Counters() Counters {
	return Counters{
		Received:   d.counters.received.Load(),
		Sent:       d.counters.sent.Load(),
		Unsent:     d.counters.unsent.Load(),
		Dropped:    d.counters.dropped.Load(),
		ErrReceive: d.counters.errReceive.Load(),
		ErrSend:    d.counters.errSend.Load(),
	}
}
