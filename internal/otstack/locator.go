package otstack

import (
	"encoding/binary"
	"net/netip"
)

// DiagnosticMulticast is the realm-local all-routers group diagnostics are sent to.
var DiagnosticMulticast = netip.MustParseAddr("ff03::2")

const (
	aloc16Mask            = 0xfc
	rloc16ReservedBitMask = 0x02
)

// IsRoutingLocator reports whether addr has the RLOC interface identifier
// 0000:00ff:fe00:xxxx with a non-anycast, non-reserved locator.
func IsRoutingLocator(addr netip.Addr) bool {
	if !addr.Is6() || addr.Is4In6() {
		return false
	}
	a := addr.As16()
	return binary.BigEndian.Uint32(a[8:12]) == 0x000000ff &&
		binary.BigEndian.Uint16(a[12:14]) == 0xfe00 &&
		a[14] < aloc16Mask &&
		a[14]&rloc16ReservedBitMask == 0
}

// Rloc16FromAddr returns the last 16 bits of addr.
func Rloc16FromAddr(addr netip.Addr) uint16 {
	a := addr.As16()
	return binary.BigEndian.Uint16(a[14:16])
}

// RouterRloc16 synthesizes the locator of a router from its id.
func RouterRloc16(routerID uint8) uint16 {
	return uint16(routerID) << 10
}

// RoutingLocatorAddr builds the RLOC address for rloc16 under a mesh-local prefix.
func RoutingLocatorAddr(prefix netip.Prefix, rloc16 uint16) netip.Addr {
	a := prefix.Masked().Addr().As16()
	binary.BigEndian.PutUint32(a[8:12], 0x000000ff)
	binary.BigEndian.PutUint16(a[12:14], 0xfe00)
	binary.BigEndian.PutUint16(a[14:16], rloc16)
	return netip.AddrFrom16(a)
}
