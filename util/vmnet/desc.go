package vmnet

import (
	"fmt"

	"github.com/easymesh/vmnettap/util/ip"
)

// InterfaceDesc is the configuration handed to StartInterface.
type InterfaceDesc struct {
	Mode               Mode
	EnableIsolation    bool
	AllocateMACAddress bool
	StartAddress       string
	EndAddress         string
	SubnetMask         string
}

// DefaultInterfaceDesc is the address plan the tun adapter always uses: an
// isolated host-only interface on a small private range.
func DefaultInterfaceDesc() *InterfaceDesc {
	return &InterfaceDesc{
		Mode:               HostMode,
		EnableIsolation:    true,
		AllocateMACAddress: false,
		StartAddress:       "10.255.2.77",
		EndAddress:         "10.255.2.255",
		SubnetMask:         "255.255.255.0",
	}
}

// Network returns the subnet described by StartAddress and SubnetMask.
func (d *InterfaceDesc) Network() (*ip.IP4Net, error) {
	return ip.NewIP4NetMask(d.StartAddress, d.SubnetMask)
}

func (d *InterfaceDesc) Validate() error {
	switch d.Mode {
	case HostMode, SharedMode:
	case BridgedMode:
		return fmt.Errorf("%s mode is not supported", d.Mode)
	default:
		return fmt.Errorf("unknown operation mode %d", uint64(d.Mode))
	}

	subnet, err := d.Network()
	if err != nil {
		return fmt.Errorf("bad address plan: %w", err)
	}
	end, err := ip.ParseIP4(d.EndAddress)
	if err != nil {
		return fmt.Errorf("bad end address: %w", err)
	}
	if !subnet.Contains(end) {
		return fmt.Errorf("end address %s is outside %s", end, subnet.Network())
	}
	if end < subnet.IP {
		return fmt.Errorf("end address %s precedes start address %s", end, subnet.IP)
	}
	return nil
}

func (d *InterfaceDesc) String() string {
	return fmt.Sprintf("mode=%s isolation=%t mac=%t range=%s-%s/%s",
		d.Mode, d.EnableIsolation, d.AllocateMACAddress,
		d.StartAddress, d.EndAddress, d.SubnetMask)
}
