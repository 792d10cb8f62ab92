package http

import (
	"net"
	"net/http"
	"strings"

	"github.com/BradenHooton/attemptguard/pkg/ipbucket"
)

// IPConfig holds configuration for client address extraction
type IPConfig struct {
	// TrustedProxies lists CIDR ranges allowed to set proxy headers. When
	// empty every request's proxy headers are honored.
	TrustedProxies []string
}

// ExtractClientIP returns the best-effort literal client address.
//
// Precedence, first non-empty value wins:
// 1. Forwarded: first for= token (quotes and IPv6 brackets stripped)
// 2. X-Forwarded-For: first entry
// 3. X-Real-IP
// 4. RemoteAddr without port
// 5. "unknown"
func ExtractClientIP(r *http.Request, config *IPConfig) string {
	remoteIP := getRemoteAddr(r)

	if headersTrusted(remoteIP, config) {
		if ip := forwardedFor(r.Header.Get("Forwarded")); ip != "" {
			return ip
		}

		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if first = stripPort(strings.TrimSpace(first)); first != "" {
				return first
			}
		}

		if xri := stripPort(strings.TrimSpace(r.Header.Get("X-Real-IP"))); xri != "" {
			return xri
		}
	}

	if remoteIP != "" {
		return remoteIP
	}
	return ipbucket.Unknown
}

// ExtractClientBucket returns the coarse network bucket for the request's
// client address ("a.b.c.0/24", "h:h:h:h::/64", the raw literal, or "unknown")
func ExtractClientBucket(r *http.Request, config *IPConfig) string {
	return ipbucket.Bucket(ExtractClientIP(r, config))
}

// forwardedFor extracts the first non-empty for= value of an RFC 7239 header,
// e.g. `for=192.0.2.60;proto=http, for="[2001:db8::1]:4711"`
func forwardedFor(header string) string {
	if header == "" {
		return ""
	}

	for _, element := range strings.Split(header, ",") {
		for _, pair := range strings.Split(element, ";") {
			pair = strings.TrimSpace(pair)
			if len(pair) < 4 || !strings.EqualFold(pair[:4], "for=") {
				continue
			}

			value := strings.TrimSpace(pair[4:])
			value = stripPort(strings.Trim(value, `"`))
			if value != "" {
				return value
			}
		}
	}
	return ""
}

// stripPort drops a trailing port from "a.b.c.d:port" and the brackets and
// port from "[v6]:port". Anything else is returned unchanged.
func stripPort(value string) string {
	if strings.HasPrefix(value, "[") {
		if end := strings.IndexByte(value, ']'); end > 0 {
			return value[1:end]
		}
		return value
	}

	host, port, ok := strings.Cut(value, ":")
	if !ok || strings.Contains(port, ":") || port == "" {
		return value
	}
	if ip := net.ParseIP(host); ip == nil || ip.To4() == nil {
		return value
	}
	for _, c := range port {
		if c < '0' || c > '9' {
			return value
		}
	}
	return host
}

// getRemoteAddr extracts the IP address from RemoteAddr (removing port if present)
func getRemoteAddr(r *http.Request) string {
	if r.RemoteAddr != "" {
		// RemoteAddr may include port: "ip:port"
		if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			return ip
		}
		// If no port, just use it directly
		return r.RemoteAddr
	}
	return ""
}

// headersTrusted reports whether proxy headers may be read for this peer
func headersTrusted(remoteIP string, config *IPConfig) bool {
	if config == nil || len(config.TrustedProxies) == 0 {
		return true
	}
	return isTrustedProxy(remoteIP, config.TrustedProxies)
}

// isTrustedProxy checks if an IP address is within any of the trusted proxy CIDR ranges
func isTrustedProxy(ip string, trustedProxies []string) bool {
	clientIP := net.ParseIP(ip)
	if clientIP == nil {
		return false
	}

	for _, cidr := range trustedProxies {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			continue // Skip invalid CIDR ranges
		}
		if ipNet.Contains(clientIP) {
			return true
		}
	}

	return false
}
