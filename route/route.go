package route

import (
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/astaxie/beego/logs"
	"github.com/easymesh/vmnettap/util/ether"
)

// Route maps a learned MAC address to the gateway endpoint it was seen from.
type Route struct {
	MAC ether.MAC
	Udp net.UDPAddr

	timestamp time.Time
}

type port struct {
	udp       net.UDPAddr
	timestamp time.Time
}

type RouteCtrl struct {
	sync.RWMutex
	drop  time.Duration
	port  time.Duration
	list  map[ether.MAC]*Route
	ports map[string]*port

	stop chan struct{}
	once sync.Once
}

// NewRouteCtrl starts the ager. Learned routes expire after dropTime without
// traffic; registered ports after portTime without a keepalive.
func NewRouteCtrl(dropTime time.Duration, portTime time.Duration) *RouteCtrl {
	routes := &RouteCtrl{
		list:  make(map[ether.MAC]*Route, 1024),
		ports: make(map[string]*port, 64),
		drop:  dropTime,
		port:  portTime,
		stop:  make(chan struct{}),
	}
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-routes.stop:
				return
			case now := <-ticker.C:
				routes.timeoutDrop(now)
			}
		}
	}()
	return routes
}

func (routes *RouteCtrl) Close() {
	routes.once.Do(func() {
		close(routes.stop)
	})
}

func (routes *RouteCtrl) timeoutDrop(now time.Time) {
	routes.Lock()
	defer routes.Unlock()

	for key, p := range routes.ports {
		if now.Sub(p.timestamp) > routes.port {
			delete(routes.ports, key)
			logs.Warn("timeout drop port %s", key)
		}
	}

	for mac, r := range routes.list {
		_, registered := routes.ports[r.Udp.String()]
		if !registered || now.Sub(r.timestamp) > routes.drop {
			delete(routes.list, mac)
			logs.Info("timeout drop route %s -> %s", mac.String(), r.Udp.String())
		}
	}
}

// Register adds or refreshes a gateway endpoint.
func (routes *RouteCtrl) Register(addr *net.UDPAddr) {
	routes.Lock()
	defer routes.Unlock()

	key := addr.String()
	if p, ok := routes.ports[key]; ok {
		p.timestamp = time.Now()
		return
	}
	routes.ports[key] = &port{udp: *addr, timestamp: time.Now()}
	logs.Info("register port %s", key)
}

func (routes *RouteCtrl) Unregister(addr *net.UDPAddr) {
	routes.Lock()
	defer routes.Unlock()

	key := addr.String()
	delete(routes.ports, key)
	for mac, r := range routes.list {
		if r.Udp.String() == key {
			delete(routes.list, mac)
		}
	}
}

func (routes *RouteCtrl) Registered(addr *net.UDPAddr) bool {
	routes.RLock()
	defer routes.RUnlock()

	_, ok := routes.ports[addr.String()]
	return ok
}

// Learn records that mac lives behind addr. Group addresses are never
// learned.
func (routes *RouteCtrl) Learn(mac ether.MAC, addr *net.UDPAddr) {
	if mac.IsMulticast() {
		return
	}

	routes.Lock()
	defer routes.Unlock()

	r := routes.list[mac]
	if r == nil {
		routes.list[mac] = &Route{MAC: mac, Udp: *addr, timestamp: time.Now()}
		logs.Debug("learn route %s -> %s", mac.String(), addr.String())
		return
	}
	if r.Udp.String() != addr.String() {
		logs.Info("route %s moved %s -> %s", mac.String(), r.Udp.String(), addr.String())
		r.Udp = *addr
	}
	r.timestamp = time.Now()
}

func (routes *RouteCtrl) Lookup(mac ether.MAC) *net.UDPAddr {
	routes.RLock()
	defer routes.RUnlock()

	r := routes.list[mac]
	if r == nil {
		return nil
	}
	addr := r.Udp
	return &addr
}

// Flood returns every registered port except the one given.
func (routes *RouteCtrl) Flood(except *net.UDPAddr) []*net.UDPAddr {
	routes.RLock()
	defer routes.RUnlock()

	skip := ""
	if except != nil {
		skip = except.String()
	}
	out := make([]*net.UDPAddr, 0, len(routes.ports))
	for key, p := range routes.ports {
		if key == skip {
			continue
		}
		addr := p.udp
		out = append(out, &addr)
	}
	return out
}

// Forward picks the destinations for a frame that arrived from 'from'.
// Known unicast goes to one port, everything else floods.
func (routes *RouteCtrl) Forward(hdr *ether.Header, from *net.UDPAddr) []*net.UDPAddr {
	if !hdr.Dst.IsMulticast() {
		if dst := routes.Lookup(hdr.Dst); dst != nil {
			if dst.String() == from.String() {
				return nil
			}
			return []*net.UDPAddr{dst}
		}
	}
	return routes.Flood(from)
}

func (routes *RouteCtrl) Export() RouteList {
	routes.RLock()
	defer routes.RUnlock()

	routeList := make([]Route, 0, len(routes.list))
	for _, v := range routes.list {
		routeList = append(routeList, *v)
	}
	return routeList
}

type RouteList []Route

func (r RouteList) Coder() []byte {
	body, err := json.Marshal(r)
	if err != nil {
		logs.Error(err.Error())
		return nil
	}
	return body
}

func (r RouteList) String() string {
	return string(r.Coder())
}
