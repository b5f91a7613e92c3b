package vmnet

import "fmt"

// Status is a framework return code. The numeric values match vmnet_return_t.
type Status uint32

const (
	StatusSuccess            Status = 1000
	StatusFailure            Status = 1001
	StatusMemFailure         Status = 1002
	StatusInvalidArgument    Status = 1003
	StatusSetupIncomplete    Status = 1004
	StatusInvalidAccess      Status = 1005
	StatusPacketTooBig       Status = 1006
	StatusBufferExhausted    Status = 1007
	StatusTooManyPackets     Status = 1008
	StatusSharingServiceBusy Status = 1009
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "general failure (possibly not enough privileges)"
	case StatusMemFailure:
		return "memory allocation failure"
	case StatusInvalidArgument:
		return "invalid argument specified"
	case StatusSetupIncomplete:
		return "interface setup is not complete"
	case StatusInvalidAccess:
		return "invalid access, permission denied"
	case StatusPacketTooBig:
		return "packet size is larger than MTU"
	case StatusBufferExhausted:
		return "buffers exhausted in kernel"
	case StatusTooManyPackets:
		return "packet count exceeds limit"
	case StatusSharingServiceBusy:
		return "conflict, sharing service is in use"
	default:
		return "unknown vmnet error"
	}
}

// Err returns nil for StatusSuccess and an *Error tagged with op otherwise.
func (s Status) Err(op string) error {
	if s == StatusSuccess {
		return nil
	}
	return &Error{Op: op, Status: s}
}

// Error is a non-success framework status returned by a named operation.
type Error struct {
	Op     string
	Status Status
}

func (e *Error) Error() string {
	return fmt.Sprintf("vmnet %s: %s", e.Op, e.Status)
}

// Is matches any *Error carrying the same status, so callers can test with
// errors.Is(err, vmnet.StatusFailure.Err("")).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Status == e.Status
}
