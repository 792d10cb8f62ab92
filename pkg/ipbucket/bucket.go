package ipbucket

import (
	"strconv"
	"strings"
)

// Unknown is the identity used when no client address could be observed
const Unknown = "unknown"

// Version identifies the address family of a textual IP
type Version int

const (
	VersionUnknown Version = iota
	VersionV4
	VersionV6
)

func (v Version) String() string {
	switch v {
	case VersionV4:
		return "v4"
	case VersionV6:
		return "v6"
	default:
		return "unknown"
	}
}

// Bucket canonicalizes a raw client address into a coarse network bucket:
//   - IPv4 "a.b.c.d" becomes "a.b.c.0/24"
//   - IPv6 becomes its first four hextets followed by "::/64"
//
// Values that parse as neither are returned unchanged so that already
// bucketed or opaque identities keep counting under their own name.
func Bucket(raw string) string {
	if raw == Unknown {
		return Unknown
	}
	if v4, ok := IPv4To24(raw); ok {
		return v4
	}
	if v6, ok := IPv6To64(raw); ok {
		return v6
	}
	return raw
}

// VersionOf reports which family Bucket would treat ip as
func VersionOf(ip string) Version {
	if _, ok := IPv4To24(ip); ok {
		return VersionV4
	}
	if _, ok := IPv6To64(ip); ok {
		return VersionV6
	}
	return VersionUnknown
}

// IPv4To24 normalizes "a.b.c.d" into "a.b.c.0/24"
func IPv4To24(ip string) (string, bool) {
	octets, ok := parseIPv4(ip)
	if !ok {
		return "", false
	}
	return strconv.Itoa(int(octets[0])) + "." +
		strconv.Itoa(int(octets[1])) + "." +
		strconv.Itoa(int(octets[2])) + ".0/24", true
}

// IPv6To64 normalizes an IPv6 literal into "h:h:h:h::/64". The zone index
// (e.g. "%en0") is dropped before parsing.
func IPv6To64(ip string) (string, bool) {
	if !strings.Contains(ip, ":") {
		return "", false
	}
	if i := strings.IndexByte(ip, '%'); i >= 0 {
		ip = ip[:i]
	}

	hextets, ok := expandIPv6(ip)
	if !ok {
		return "", false
	}

	parts := make([]string, 4)
	for i := 0; i < 4; i++ {
		parts[i] = strconv.FormatUint(uint64(hextets[i]), 16)
	}
	return strings.Join(parts, ":") + "::/64", true
}

func parseIPv4(ip string) ([4]uint8, bool) {
	var out [4]uint8

	parts := strings.Split(ip, ".")
	if len(parts) != 4 {
		return out, false
	}
	for i, p := range parts {
		if p == "" || len(p) > 3 || !isDigits(p) {
			return out, false
		}
		n, err := strconv.ParseUint(p, 10, 8)
		if err != nil {
			return out, false
		}
		out[i] = uint8(n)
	}
	return out, true
}

// expandIPv6 expands a (possibly compressed) IPv6 literal into 8 hextets.
// An embedded IPv4 tail ("::ffff:192.0.2.1") contributes two hextets.
func expandIPv6(ip string) ([8]uint16, bool) {
	var out [8]uint16

	halves := strings.Split(strings.ToLower(ip), "::")
	if len(halves) > 2 {
		return out, false
	}

	left, ok := parseHextets(halves[0])
	if !ok {
		return out, false
	}

	if len(halves) == 1 {
		if len(left) != 8 {
			return out, false
		}
		copy(out[:], left)
		return out, true
	}

	right, ok := parseHextets(halves[1])
	if !ok {
		return out, false
	}
	if len(left)+len(right) > 8 {
		return out, false
	}

	// the omitted middle stays zero
	copy(out[:], left)
	copy(out[8-len(right):], right)
	return out, true
}

// parseHextets parses a colon separated run of hex groups. The last group may
// be a dotted IPv4 address, which becomes two hextets.
func parseHextets(s string) ([]uint16, bool) {
	if s == "" {
		return nil, true
	}

	groups := strings.Split(s, ":")
	out := make([]uint16, 0, len(groups)+1)
	for i, g := range groups {
		if strings.Contains(g, ".") {
			if i != len(groups)-1 {
				return nil, false
			}
			v4, ok := parseIPv4(g)
			if !ok {
				return nil, false
			}
			out = append(out,
				uint16(v4[0])<<8|uint16(v4[1]),
				uint16(v4[2])<<8|uint16(v4[3]),
			)
			continue
		}

		if g == "" || len(g) > 4 {
			return nil, false
		}
		n, err := strconv.ParseUint(g, 16, 16)
		if err != nil {
			return nil, false
		}
		out = append(out, uint16(n))
	}
	return out, true
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
