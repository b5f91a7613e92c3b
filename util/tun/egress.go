//go:build linux || darwin

package tun

import (
	"fmt"

	"github.com/easymesh/vmnettap/util/vmnet"
)

type writeResult int

const (
	writeFailed writeResult = iota
	writeSent
	// The framework took the call but did not queue the frame.
	writeNotQueued
)

// Write hands one frame to the framework. It returns len(p) when the frame
// was queued and 0 with a nil error when the framework declined it; the
// caller may retry. Write is safe for concurrent use. A Write racing Close
// either finishes before the interface is stopped or returns ErrNotRunning.
func (d *Device) Write(p []byte) (int, error) {
	s := d.enter()
	if s == nil {
		return 0, ErrNotRunning
	}
	defer s.leave()

	if d.Status() != vmnet.StatusSuccess {
		return 0, ErrNotRunning
	}
	if len(p) > s.maxPacketSize {
		d.counters.errSend.Add(1)
		d.log.Error("max packet size (%d) exceeded: %d", s.maxPacketSize, len(p))
		return 0, fmt.Errorf("%w: %d > %d", ErrOversize, len(p), s.maxPacketSize)
	}

	res, err := d.write(s, p)
	switch res {
	case writeSent:
		return len(p), nil
	case writeNotQueued:
		return 0, nil
	default:
		return 0, err
	}
}

func (d *Device) write(s *session, p []byte) (writeResult, error) {
	pkts := [1]vmnet.Packet{{Buf: p, Size: len(p)}}
	count := 1

	status := d.fw.Write(s.handle, pkts[:], &count)
	if status != vmnet.StatusSuccess {
		d.lastIO.Store(uint32(status))
		d.counters.errSend.Add(1)
		d.log.Error("write failed: %s", status)
		return writeFailed, fmt.Errorf("tun: %w", status.Err("write"))
	}
	if count == 0 {
		d.counters.unsent.Add(1)
		return writeNotQueued, nil
	}
	d.counters.sent.Add(1)
	return writeSent, nil
}
