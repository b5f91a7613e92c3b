package ether

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net"
)

const HeaderLen = 14

type EtherType uint16

const (
	TypeIPv4 EtherType = 0x0800
	TypeARP  EtherType = 0x0806
	TypeVLAN EtherType = 0x8100
	TypeIPv6 EtherType = 0x86DD
)

func (t EtherType) String() string {
	switch t {
	case TypeIPv4:
		return "ipv4"
	case TypeARP:
		return "arp"
	case TypeVLAN:
		return "vlan"
	case TypeIPv6:
		return "ipv6"
	default:
		return fmt.Sprintf("0x%04x", uint16(t))
	}
}

type MAC [6]byte

var Broadcast = MAC{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}

func ParseMAC(s string) (MAC, error) {
	var mac MAC
	hw, err := net.ParseMAC(s)
	if err != nil {
		return mac, err
	}
	if len(hw) != len(mac) {
		return mac, fmt.Errorf("mac address %s is not 48 bits", s)
	}
	copy(mac[:], hw)
	return mac, nil
}

func (m MAC) String() string {
	return net.HardwareAddr(m[:]).String()
}

func (m MAC) IsBroadcast() bool {
	return m == Broadcast
}

// IsMulticast is also true for broadcast.
func (m MAC) IsMulticast() bool {
	return m[0]&0x01 != 0
}

func (m MAC) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

func (m *MAC) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	mac, err := ParseMAC(s)
	if err != nil {
		return err
	}
	*m = mac
	return nil
}

type Header struct {
	Dst       MAC
	Src       MAC
	EtherType EtherType
}

// Decoder returns nil when buff is shorter than an ethernet header.
func Decoder(buff []byte) *Header {
	if len(buff) < HeaderLen {
		return nil
	}
	hdr := new(Header)
	copy(hdr.Dst[:], buff[0:6])
	copy(hdr.Src[:], buff[6:12])
	hdr.EtherType = EtherType(binary.BigEndian.Uint16(buff[12:14]))
	return hdr
}

func (hdr *Header) Coder(buff []byte) {
	copy(buff[0:6], hdr.Dst[:])
	copy(buff[6:12], hdr.Src[:])
	binary.BigEndian.PutUint16(buff[12:14], uint16(hdr.EtherType))
}

func (hdr *Header) String() string {
	output, _ := json.Marshal(struct {
		Dst  MAC
		Src  MAC
		Type string
	}{hdr.Dst, hdr.Src, hdr.EtherType.String()})
	return string(output)
}
