//go:build linux

package vmnet

import (
	"fmt"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTapStatus(t *testing.T) {
	assert.Equal(t, StatusSuccess, tapStatus(nil))
	assert.Equal(t, StatusInvalidAccess, tapStatus(syscall.EPERM))
	assert.Equal(t, StatusInvalidAccess, tapStatus(&os.PathError{Op: "open", Path: "/dev/net/tun", Err: syscall.EACCES}))
	assert.Equal(t, StatusMemFailure, tapStatus(fmt.Errorf("ioctl: %w", syscall.ENOMEM)))
	assert.Equal(t, StatusSharingServiceBusy, tapStatus(syscall.EBUSY))
	assert.Equal(t, StatusFailure, tapStatus(syscall.ENODEV))
}

func TestTapRejectsBadArguments(t *testing.T) {
	fw, err := NewFramework()
	require.NoError(t, err)

	q := NewSerialQueue("test.tap.args")
	defer q.Release()

	count := 1
	assert.Equal(t, StatusInvalidArgument, fw.Read(nil, make([]Packet, 1), &count))
	assert.Equal(t, StatusInvalidArgument, fw.Write(nil, make([]Packet, 1), &count))
	assert.Equal(t, StatusInvalidArgument, fw.SetEventCallback(nil, PacketsAvailable, nil, nil))
	assert.Equal(t, StatusInvalidArgument, fw.StopInterface(nil, q, func(Status) {}))
}

func TestTapInvalidDesc(t *testing.T) {
	fw, err := NewFramework()
	require.NoError(t, err)
	q, err := fw.NewQueue("test.tap.invalid")
	require.NoError(t, err)
	defer q.Release()

	desc := DefaultInterfaceDesc()
	desc.Mode = BridgedMode

	result := make(chan Status, 1)
	h := fw.StartInterface(desc, q, func(status Status, param *InterfaceParam) {
		assert.Nil(t, param)
		result <- status
	})
	assert.NotNil(t, h)

	select {
	case status := <-result:
		assert.Equal(t, StatusInvalidArgument, status)
	case <-time.After(2 * time.Second):
		t.Fatal("start completion never ran")
	}
}

// Needs CAP_NET_ADMIN and /dev/net/tun.
func TestTapStartStop(t *testing.T) {
	if os.Geteuid() != 0 {
		t.Skip("tap devices need root")
	}
	if _, err := os.Stat("/dev/net/tun"); err != nil {
		t.Skip("no /dev/net/tun")
	}

	fw, err := NewFramework()
	require.NoError(t, err)
	q, err := fw.NewQueue("test.tap")
	require.NoError(t, err)
	defer q.Release()

	type started struct {
		status Status
		param  *InterfaceParam
	}
	startc := make(chan started, 1)
	h := fw.StartInterface(DefaultInterfaceDesc(), q, func(status Status, param *InterfaceParam) {
		startc <- started{status, param}
	})
	res := <-startc
	require.Equal(t, StatusSuccess, res.status)
	assert.EqualValues(t, 1514, res.param.MaxPacketSize)
	assert.EqualValues(t, 1500, res.param.MTU)

	require.Equal(t, StatusSuccess, fw.SetEventCallback(h, PacketsAvailable, q, func(EventMask, Event) {}))

	frame := make([]byte, 60)
	copy(frame, []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x02, 0, 0, 0, 0, 0x01, 0x08, 0x06})
	count := 1
	assert.Equal(t, StatusSuccess, fw.Write(h, []Packet{{Buf: frame, Size: len(frame)}}, &count))

	stopc := make(chan Status, 1)
	require.Equal(t, StatusSuccess, fw.SetEventCallback(h, PacketsAvailable, nil, nil))
	require.Equal(t, StatusSuccess, fw.StopInterface(h, q, func(status Status) { stopc <- status }))
	assert.Equal(t, StatusSuccess, <-stopc)

	// A stopped interface cannot be stopped twice.
	assert.Equal(t, StatusInvalidArgument, fw.StopInterface(h, q, func(Status) {}))
}
