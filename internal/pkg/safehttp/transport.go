// Package safehttp provides an HTTP transport for calls to operator
// configured endpoints, such as a violation report collector.
package safehttp

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"
)

// NewTransport returns a transport that refuses connections to loopback,
// private and link-local addresses. The check runs on the connected address,
// so DNS answers pointing at internal hosts are rejected too.
func NewTransport() *http.Transport {
	dialer := &net.Dialer{Timeout: 5 * time.Second}
	return &http.Transport{
		Proxy:               nil,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			if err := CheckAddr(conn.RemoteAddr()); err != nil {
				conn.Close()
				return nil, fmt.Errorf("dial %s: %w", addr, err)
			}
			return conn, nil
		},
	}
}

// CheckAddr rejects addresses that are not publicly routable.
func CheckAddr(addr net.Addr) error {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		host = addr.String()
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return fmt.Errorf("unparseable remote address %q", addr.String())
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
		return fmt.Errorf("access to private IP %s is denied", ip)
	}
	return nil
}
