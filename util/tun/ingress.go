//go:build linux || darwin

package tun

import (
	"errors"

	"github.com/easymesh/vmnettap/util/vmnet"
	"golang.org/x/sys/unix"
)

// Upper bound on frames moved per PacketsAvailable event.
const maxDrain = 64

// ingress returns the PacketsAvailable handler for s. It runs on the device
// queue, so it never overlaps itself or the start and stop completions.
func (d *Device) ingress(s *session) func(vmnet.EventMask, vmnet.Event) {
	return func(mask vmnet.EventMask, ev vmnet.Event) {
		if mask&vmnet.PacketsAvailable == 0 {
			return
		}
		if d.Status() != vmnet.StatusSuccess || d.sess.Load() != s {
			return
		}

		n := ev.EstimatedPackets
		if n < 1 {
			n = 1
		}
		if n > maxDrain {
			n = maxDrain
		}
		for i := uint64(0); i < n; i++ {
			if d.sess.Load() != s || !d.pumpOne(s) {
				return
			}
		}
	}
}

// pumpOne moves a single frame from the framework to the socket pair. It
// reports whether another read is worth trying.
func (d *Device) pumpOne(s *session) bool {
	s.readPkts[0] = vmnet.Packet{Buf: s.readBuf, Size: len(s.readBuf)}
	count := 1

	status := d.fw.Read(s.handle, s.readPkts[:], &count)
	if status != vmnet.StatusSuccess {
		d.lastIO.Store(uint32(status))
		d.counters.errReceive.Add(1)
		d.log.Error("unable to read packet: %s", status)
		return false
	}
	if count == 0 {
		return false
	}

	size := s.readPkts[0].Size
	if size <= 0 || size > len(s.readBuf) {
		d.counters.dropped.Add(1)
		d.log.Warn("dropping frame with bad size %d", size)
		return true
	}

	if err := writeDatagram(s.internal, s.readBuf[:size]); err != nil {
		d.counters.dropped.Add(1)
		d.log.Error("unable to write to read socket: %s", err.Error())
		return false
	}
	d.counters.received.Add(1)
	return true
}

func writeDatagram(fd int, frame []byte) error {
	for {
		_, err := unix.Write(fd, frame)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		return err
	}
}
