package ip

import (
	"fmt"
	"net"
)

// similar to net.IPNet but has uint based representation
type IP4Net struct {
	IP        IP4
	PrefixLen uint
}

func NewIP4Net(addr string, len uint) (*IP4Net, error) {
	if len > 32 {
		return nil, fmt.Errorf("prefix length %d out of range", len)
	}
	ipnet, err := ParseIP4(addr)
	if err != nil {
		return nil, err
	}
	return &IP4Net{IP: ipnet, PrefixLen: len}, nil
}

// NewIP4NetMask builds the network from an address and a dotted subnet mask.
func NewIP4NetMask(addr string, mask string) (*IP4Net, error) {
	prefix, err := MaskPrefixLen(mask)
	if err != nil {
		return nil, err
	}
	return NewIP4Net(addr, prefix)
}

func (n IP4Net) String() string {
	return fmt.Sprintf("%s/%d", n.IP.String(), n.PrefixLen)
}

func (n IP4Net) Network() IP4Net {
	return IP4Net{
		n.IP & IP4(n.Mask()),
		n.PrefixLen,
	}
}

func (n IP4Net) Broadcast() IP4 {
	return n.IP | IP4(^n.Mask())
}

func (n IP4Net) ToIPNet() *net.IPNet {
	return &net.IPNet{
		IP:   n.IP.ToIP(),
		Mask: net.CIDRMask(int(n.PrefixLen), 32),
	}
}

func (n IP4Net) Mask() uint32 {
	if n.PrefixLen == 0 {
		return 0
	}
	var ones uint32 = 0xFFFFFFFF
	return ones << (32 - n.PrefixLen)
}

func (n IP4Net) Contains(ip IP4) bool {
	return (uint32(n.IP) & n.Mask()) == (uint32(ip) & n.Mask())
}
