//go:build linux || darwin

// Package tun emulates a tun/tap device on top of the host virtual-interface
// framework. Frames the framework receives show up as datagrams on one end of
// a socket pair, one frame per read; frames are sent with Device.Write.
package tun

import (
	"errors"

	"github.com/astaxie/beego/logs"
)

type TunApi interface {
	Write(p []byte) (int, error)
	Read(p []byte) (n int, err error)
	Close() error
}

var (
	ErrSetup         = errors.New("tun: unable to create vmnet device")
	ErrTeardown      = errors.New("tun: unable to properly close vmnet device")
	ErrInvalidHandle = errors.New("tun: attempt to close broken vmnet device")
	ErrOversize      = errors.New("tun: max packet size exceeded")
	ErrNotRunning    = errors.New("tun: vmnet device is not running")
	ErrBusy          = errors.New("tun: a vmnet device is already running in this process")
	ErrClosed        = errors.New("tun: vmnet device has been closed")
)

// Logger is the diagnostic sink. *logs.BeeLogger satisfies it.
type Logger interface {
	Error(format string, v ...interface{})
	Warn(format string, v ...interface{})
	Info(format string, v ...interface{})
	Debug(format string, v ...interface{})
}

type Option func(*Device)

// WithLogger replaces the process-wide beego logger.
func WithLogger(l Logger) Option {
	return func(d *Device) {
		if l != nil {
			d.log = l
		}
	}
}

// WithQueueLabel names the dispatch queue the framework callbacks run on.
func WithQueueLabel(label string) Option {
	return func(d *Device) {
		d.queueLabel = label
	}
}

func defaultLogger() Logger {
	return logs.GetBeeLogger()
}
