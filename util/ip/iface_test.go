package ip

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInterfaceByLoopbackAddr(t *testing.T) {
	iface, err := Interface("127.0.0.1")
	require.NoError(t, err)

	byName, err := Interface(iface.Name)
	require.NoError(t, err)
	assert.Equal(t, iface.Index, byName.Index)

	addr, err := InterfaceIP4(iface.Name)
	require.NoError(t, err)
	assert.Equal(t, MustParseIP4("127.0.0.1"), addr)
}

func TestInterfaceUnknown(t *testing.T) {
	_, err := Interface("no-such-iface0")
	assert.Error(t, err)

	_, err = Interface("192.0.2.254")
	assert.Error(t, err)
}
