package settings

import (
	"net"
	"testing"

	"github.com/marmos91/netboot/internal/errcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetResolvesFromMostSpecificBlock(t *testing.T) {
	root := NewRoot()
	root.Set("mtu", 0, Value{Type: TypeInteger, Int: 1500})

	net0 := root.Child("net0")
	net0.Set("mtu", 0, Value{Type: TypeInteger, Int: 1400})

	v, err := net0.GetInteger("mtu")
	require.NoError(t, err)
	assert.Equal(t, int64(1400), v)

	rootVal, err := root.GetInteger("mtu")
	require.NoError(t, err)
	assert.Equal(t, int64(1500), rootVal)
}

func TestGetWalksUpWhenUnset(t *testing.T) {
	root := NewRoot()
	root.Set("dns", 6, Value{Type: TypeIPv4, IPv4: net.ParseIP("8.8.8.8")})

	net0 := root.Child("net0")
	v, err := net0.GetIPv4("dns")
	require.NoError(t, err)
	assert.True(t, v.Equal(net.ParseIP("8.8.8.8")))
}

func TestGetMissingReturnsNoEntry(t *testing.T) {
	root := NewRoot()
	_, err := root.Get("missing")
	require.Error(t, err)
	code, ok := errcode.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, errcode.NoEntry, code)
}

func TestTypeMismatchReturnsInvalidArg(t *testing.T) {
	root := NewRoot()
	root.Set("hostname", 12, Value{Type: TypeString, Str: "netboot0"})

	_, err := root.GetInteger("hostname")
	require.Error(t, err)
	code, _ := errcode.CodeOf(err)
	assert.Equal(t, errcode.InvalidArg, code)
}

func TestRemoveChildDetachesScope(t *testing.T) {
	root := NewRoot()
	net0 := root.Child("net0")
	net0.Set("mtu", 0, Value{Type: TypeInteger, Int: 1400})

	root.RemoveChild("net0")
	fresh := root.Child("net0")
	_, err := fresh.Get("mtu")
	require.Error(t, err)
}

func TestPathReflectsScope(t *testing.T) {
	root := NewRoot()
	net0 := root.Child("net0")
	assert.Equal(t, "net0", net0.Path())
	assert.Equal(t, "", root.Path())
}

func TestClearRemovesOnlyLocalEntry(t *testing.T) {
	root := NewRoot()
	root.Set("mtu", 0, Value{Type: TypeInteger, Int: 1500})
	net0 := root.Child("net0")
	net0.Set("mtu", 0, Value{Type: TypeInteger, Int: 1400})

	net0.Clear("mtu")
	v, err := net0.GetInteger("mtu")
	require.NoError(t, err)
	assert.Equal(t, int64(1500), v, "falls back to root after local clear")
}
