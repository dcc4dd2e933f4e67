package middleware

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// TrustedProxies: адреса и подсети прокси, которым разрешено передавать X-Forwarded-For.
// Пустой список: заголовок игнорируется, клиент определяется по RemoteAddr.
type TrustedProxies []*net.IPNet

// ParseTrustedProxies принимает IP ("10.0.0.1") и CIDR ("10.0.0.0/8").
func ParseTrustedProxies(values []string) (TrustedProxies, error) {
	var out TrustedProxies
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if !strings.Contains(v, "/") {
			ip := net.ParseIP(v)
			if ip == nil {
				return nil, fmt.Errorf("trusted proxy %q: not an IP or CIDR", v)
			}
			bits := 8 * net.IPv6len
			if ip4 := ip.To4(); ip4 != nil {
				ip, bits = ip4, 8*net.IPv4len
			}
			out = append(out, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(v)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", v, err)
		}
		out = append(out, n)
	}
	return out, nil
}

func (t TrustedProxies) trusts(addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, n := range t {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// ClientIP: хост из RemoteAddr. Если соединение пришло от доверенного прокси,
// X-Forwarded-For читается справа налево до первого недоверенного адреса.
func (t TrustedProxies) ClientIP(r *http.Request) string {
	peer := remoteHost(r)
	if len(t) == 0 || !t.trusts(peer) {
		return peer
	}
	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if net.ParseIP(hop) == nil {
			break
		}
		if !t.trusts(hop) {
			return hop
		}
		peer = hop
	}
	return peer
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
