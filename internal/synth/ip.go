package synth

import (
	"fmt"
	"net/netip"
	"strings"
)

// genIP keeps the shape of the original: address family, private or public
// class, and any CIDR suffix. Network addresses stay network addresses.
func genIP(g *gen) string {
	addrPart, bits, hasPrefix := splitCIDR(g.original)

	addr, err := netip.ParseAddr(addrPart)
	if err != nil {
		return g.publicV4().String()
	}
	private := isInternal(addr)

	var out netip.Addr
	switch {
	case addr.Is4() && private:
		out = g.privateV4()
	case addr.Is4():
		out = g.publicV4()
	case private:
		out = g.privateV6()
	default:
		out = g.publicV6()
	}

	if !hasPrefix {
		return out.String()
	}
	if isNetworkAddress(addr, bits) {
		if p, err := out.Prefix(bits); err == nil {
			return p.String()
		}
	}
	return fmt.Sprintf("%s/%d", out, bits)
}

func splitCIDR(s string) (addr string, bits int, ok bool) {
	addr, suffix, found := strings.Cut(strings.TrimSpace(s), "/")
	if !found {
		return addr, 0, false
	}
	if _, err := fmt.Sscanf(suffix, "%d", &bits); err != nil {
		return addr, 0, false
	}
	return addr, bits, true
}

func isNetworkAddress(addr netip.Addr, bits int) bool {
	p, err := addr.Prefix(bits)
	if err != nil {
		return false
	}
	return p.Addr() == addr
}

// isInternal covers RFC 1918, unique-local, loopback and link-local ranges.
func isInternal(addr netip.Addr) bool {
	return addr.IsPrivate() || addr.IsLoopback() || addr.IsLinkLocalUnicast()
}

func (g *gen) privateV4() netip.Addr {
	var a [4]byte
	switch g.f.IntRange(0, 2) {
	case 0:
		a = [4]byte{10, byte(g.f.IntRange(0, 255)), byte(g.f.IntRange(0, 255)), byte(g.f.IntRange(1, 254))}
	case 1:
		a = [4]byte{172, byte(g.f.IntRange(16, 31)), byte(g.f.IntRange(0, 255)), byte(g.f.IntRange(1, 254))}
	default:
		a = [4]byte{192, 168, byte(g.f.IntRange(0, 255)), byte(g.f.IntRange(1, 254))}
	}
	return netip.AddrFrom4(a)
}

var reservedV4 = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("192.0.2.0/24"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("198.51.100.0/24"),
	netip.MustParsePrefix("203.0.113.0/24"),
}

func (g *gen) publicV4() netip.Addr {
	for range 64 {
		a := netip.AddrFrom4([4]byte{
			byte(g.f.IntRange(1, 223)),
			byte(g.f.IntRange(0, 255)),
			byte(g.f.IntRange(0, 255)),
			byte(g.f.IntRange(1, 254)),
		})
		if isInternal(a) || isReservedV4(a) {
			continue
		}
		return a
	}
	return netip.AddrFrom4([4]byte{45, byte(g.f.IntRange(0, 255)), byte(g.f.IntRange(0, 255)), byte(g.f.IntRange(1, 254))})
}

func isReservedV4(a netip.Addr) bool {
	for _, p := range reservedV4 {
		if p.Contains(a) {
			return true
		}
	}
	return false
}

func (g *gen) privateV6() netip.Addr {
	var a [16]byte
	a[0] = 0xfd
	for i := 1; i < 16; i++ {
		a[i] = byte(g.f.IntRange(0, 255))
	}
	return netip.AddrFrom16(a)
}

func (g *gen) publicV6() netip.Addr {
	var a [16]byte
	a[0] = byte(g.f.IntRange(0x20, 0x3f))
	for i := 1; i < 16; i++ {
		a[i] = byte(g.f.IntRange(0, 255))
	}
	// skip 2001:db8::/32 documentation space
	if a[0] == 0x20 && a[1] == 0x01 && a[2] == 0x0d && a[3] == 0xb8 {
		a[3] = 0xb9
	}
	return netip.AddrFrom16(a)
}
