package api

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ClientIPResolver resolves the client address used for rate limiting and
// request logs. Forwarding headers are only trusted when the immediate peer
// is one of the configured proxies.
type ClientIPResolver struct {
	trustedProxyNets []*net.IPNet
}

func NewClientIPResolver(trustedProxyCIDRs []string) (*ClientIPResolver, error) {
	resolver := &ClientIPResolver{}

	for _, raw := range trustedProxyCIDRs {
		value := strings.TrimSpace(raw)
		if value == "" {
			continue
		}

		if !strings.Contains(value, "/") {
			ip := net.ParseIP(value)
			if ip == nil {
				return nil, fmt.Errorf("invalid trusted proxy address %q", value)
			}
			bits := 8 * len(ip.To16())
			if ip.To4() != nil {
				ip, bits = ip.To4(), 32
			}
			resolver.trustedProxyNets = append(resolver.trustedProxyNets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}

		_, network, err := net.ParseCIDR(value)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy CIDR %q: %w", value, err)
		}
		resolver.trustedProxyNets = append(resolver.trustedProxyNets, network)
	}

	return resolver, nil
}

func (c *ClientIPResolver) Resolve(req *http.Request) string {
	peer := hostIP(req.RemoteAddr)
	if peer == nil {
		return "unknown"
	}

	if c.trusted(peer) {
		for _, part := range strings.Split(req.Header.Get("X-Forwarded-For"), ",") {
			if ip := hostIP(part); ip != nil {
				return ip.String()
			}
		}
		if ip := hostIP(req.Header.Get("X-Real-IP")); ip != nil {
			return ip.String()
		}
	}

	return peer.String()
}

// KeyFunc adapts Resolve to httprate's key function signature.
func (c *ClientIPResolver) KeyFunc(r *http.Request) (string, error) {
	return c.Resolve(r), nil
}

// Middleware rewrites RemoteAddr to the resolved client address so later
// handlers and the request log see the real client.
func (c *ClientIPResolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.RemoteAddr = c.Resolve(r)
		next.ServeHTTP(w, r)
	})
}

func (c *ClientIPResolver) trusted(ip net.IP) bool {
	for _, network := range c.trustedProxyNets {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

func hostIP(value string) net.IP {
	value = strings.Trim(strings.TrimSpace(value), `"`)
	if value == "" {
		return nil
	}

	if ip := net.ParseIP(value); ip != nil {
		return ip
	}

	host, _, err := net.SplitHostPort(value)
	if err != nil {
		return nil
	}
	return net.ParseIP(strings.Trim(host, "[]"))
}
