package route

import (
	"net"
	"testing"
	"time"

	"github.com/easymesh/vmnettap/util/ether"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func udpAddr(t *testing.T, s string) *net.UDPAddr {
	t.Helper()
	addr, err := net.ResolveUDPAddr("udp", s)
	require.NoError(t, err)
	return addr
}

func mac(t *testing.T, s string) ether.MAC {
	t.Helper()
	m, err := ether.ParseMAC(s)
	require.NoError(t, err)
	return m
}

func newCtrl(t *testing.T) *RouteCtrl {
	routes := NewRouteCtrl(time.Minute, time.Minute)
	t.Cleanup(routes.Close)
	return routes
}

func TestForwardKnownUnicast(t *testing.T) {
	routes := newCtrl(t)
	a := udpAddr(t, "10.0.0.1:4000")
	b := udpAddr(t, "10.0.0.2:4000")
	routes.Register(a)
	routes.Register(b)

	macB := mac(t, "02:00:00:00:00:0b")
	routes.Learn(macB, b)

	dst := routes.Forward(&ether.Header{Dst: macB, Src: mac(t, "02:00:00:00:00:0a")}, a)
	require.Len(t, dst, 1)
	assert.Equal(t, b.String(), dst[0].String())

	// Never reflect a frame back to its sender.
	assert.Empty(t, routes.Forward(&ether.Header{Dst: macB}, b))
}

func TestForwardFloods(t *testing.T) {
	routes := newCtrl(t)
	a := udpAddr(t, "10.0.0.1:4000")
	b := udpAddr(t, "10.0.0.2:4000")
	c := udpAddr(t, "10.0.0.3:4000")
	for _, addr := range []*net.UDPAddr{a, b, c} {
		routes.Register(addr)
	}

	dst := routes.Forward(&ether.Header{Dst: ether.Broadcast}, a)
	var got []string
	for _, d := range dst {
		got = append(got, d.String())
	}
	assert.ElementsMatch(t, []string{b.String(), c.String()}, got)

	unknown := routes.Forward(&ether.Header{Dst: mac(t, "02:00:00:00:00:99")}, a)
	assert.Len(t, unknown, 2)
}

func TestLearnIgnoresGroupAddress(t *testing.T) {
	routes := newCtrl(t)
	a := udpAddr(t, "10.0.0.1:4000")
	routes.Register(a)

	routes.Learn(ether.Broadcast, a)
	assert.Nil(t, routes.Lookup(ether.Broadcast))
	assert.Empty(t, routes.Export())
}

func TestLearnMoves(t *testing.T) {
	routes := newCtrl(t)
	a := udpAddr(t, "10.0.0.1:4000")
	b := udpAddr(t, "10.0.0.2:4000")
	m := mac(t, "02:00:00:00:00:0c")

	routes.Learn(m, a)
	routes.Learn(m, b)
	require.NotNil(t, routes.Lookup(m))
	assert.Equal(t, b.String(), routes.Lookup(m).String())
}

func TestTimeoutDrop(t *testing.T) {
	routes := NewRouteCtrl(time.Second, time.Minute)
	defer routes.Close()

	a := udpAddr(t, "10.0.0.1:4000")
	routes.Register(a)
	m := mac(t, "02:00:00:00:00:0d")
	routes.Learn(m, a)

	routes.timeoutDrop(time.Now().Add(2 * time.Second))
	assert.Nil(t, routes.Lookup(m))
	assert.True(t, routes.Registered(a))

	routes.timeoutDrop(time.Now().Add(2 * time.Minute))
	assert.False(t, routes.Registered(a))
}

func TestUnregisterDropsRoutes(t *testing.T) {
	routes := newCtrl(t)
	a := udpAddr(t, "10.0.0.1:4000")
	routes.Register(a)
	m := mac(t, "02:00:00:00:00:0e")
	routes.Learn(m, a)

	routes.Unregister(a)
	assert.False(t, routes.Registered(a))
	assert.Nil(t, routes.Lookup(m))
	assert.Empty(t, routes.Flood(nil))
}

func TestExportString(t *testing.T) {
	routes := newCtrl(t)
	routes.Learn(mac(t, "02:00:00:00:00:0f"), udpAddr(t, "10.0.0.1:4000"))
	assert.Contains(t, routes.Export().String(), "02:00:00:00:00:0f")
}
