package ip

import (
	"fmt"
	"net"
)

func InterfaceByName(ifname string) (*net.Interface, error) {
	iface, err := net.InterfaceByName(ifname)
	if err != nil {
		return nil, fmt.Errorf("error looking up interface %s: %s",
			ifname, err.Error())
	}
	if iface.MTU == 0 {
		return nil, fmt.Errorf("failed to determine MTU for %s interface", ifname)
	}
	return iface, nil
}

func InterfaceByAddr(addr string) (*net.Interface, error) {
	ipaddr := net.ParseIP(addr)
	if ipaddr == nil {
		return nil, fmt.Errorf("address %s is invalid", addr)
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for i := range ifaces {
		addrs, err := InterfaceAddrs(&ifaces[i])
		if err != nil {
			continue
		}
		for _, v := range addrs {
			if v.Equal(ipaddr) {
				return &ifaces[i], nil
			}
		}
	}

	return nil, fmt.Errorf("failed to find interface by address %s", addr)
}

func InterfaceAddrs(iface *net.Interface) ([]net.IP, error) {
	addrs, err := iface.Addrs()
	if err != nil {
		return nil, err
	}
	ips := make([]net.IP, 0, len(addrs))
	for _, v := range addrs {
		ipone, _, err := net.ParseCIDR(v.String())
		if err != nil {
			continue
		}
		ips = append(ips, ipone)
	}
	return ips, nil
}

// Interface resolves either an interface name or one of its addresses.
func Interface(nameOrAddr string) (*net.Interface, error) {
	if net.ParseIP(nameOrAddr) != nil {
		return InterfaceByAddr(nameOrAddr)
	}
	return InterfaceByName(nameOrAddr)
}

// InterfaceIP4 returns the first IPv4 address of the named interface, or the
// address itself when nameOrAddr is one.
func InterfaceIP4(nameOrAddr string) (IP4, error) {
	iface, err := Interface(nameOrAddr)
	if err != nil {
		return 0, err
	}
	addrs, err := InterfaceAddrs(iface)
	if err != nil {
		return 0, err
	}
	if want := net.ParseIP(nameOrAddr).To4(); want != nil {
		return FromIP(want), nil
	}
	for _, v := range addrs {
		if v4 := v.To4(); v4 != nil {
			return FromIP(v4), nil
		}
	}
	return 0, fmt.Errorf("interface %s has no ipv4 address", iface.Name)
}
