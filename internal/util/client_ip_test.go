package util

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
)

func TestClientIP(t *testing.T) {
	proxies, err := NewTrustedProxies([]string{"10.0.0.0/8", "192.168.1.10", ""})
	if err != nil {
		t.Fatalf("new trusted proxies: %v", err)
	}

	tests := []struct {
		name    string
		remote  string
		xff     string
		realIP  string
		trusted *TrustedProxies
		want    string
	}{
		{name: "untrusted peer ignores headers", remote: "198.51.100.10:4431", xff: "203.0.113.5", realIP: "203.0.113.6", trusted: proxies, want: "198.51.100.10"},
		{name: "no proxies configured", remote: "10.0.0.20:4431", xff: "203.0.113.5", want: "10.0.0.20"},
		{name: "trusted peer forwards client", remote: "10.0.0.20:4431", xff: "203.0.113.5", trusted: proxies, want: "203.0.113.5"},
		{name: "rightmost untrusted hop wins", remote: "10.0.0.20:4431", xff: "198.51.100.1, 203.0.113.5, 10.0.0.10", trusted: proxies, want: "203.0.113.5"},
		{name: "unparseable forwarded uses real ip", remote: "192.168.1.10:4431", xff: "garbage", realIP: "203.0.113.7", trusted: proxies, want: "203.0.113.7"},
		{name: "all hops trusted returns leftmost", remote: "10.0.0.20:4431", xff: "10.0.0.5, 10.0.0.10", trusted: proxies, want: "10.0.0.5"},
		{name: "ipv6 peer", remote: "[2001:db8::1]:4431", want: "2001:db8::1"},
		{name: "mapped ipv4 peer is trusted", remote: "[::ffff:10.1.2.3]:4431", xff: "203.0.113.9", trusted: proxies, want: "203.0.113.9"},
		{name: "peer without port", remote: "198.51.100.10", want: "198.51.100.10"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
			req.RemoteAddr = tc.remote
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			if tc.realIP != "" {
				req.Header.Set("X-Real-IP", tc.realIP)
			}
			if got := ClientIP(req, tc.trusted); got != tc.want {
				t.Fatalf("client ip = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestNewTrustedProxies(t *testing.T) {
	p, err := NewTrustedProxies(nil)
	if err != nil || p != nil {
		t.Fatalf("empty entries = %v, %v; want nil, nil", p, err)
	}
	if _, err := NewTrustedProxies([]string{"10.0.0.0/33"}); err == nil {
		t.Fatal("expected error for invalid prefix")
	}
	if _, err := NewTrustedProxies([]string{"proxy.internal"}); err == nil {
		t.Fatal("expected error for hostname")
	}
	p, err = NewTrustedProxies([]string{"10.1.2.3/8"})
	if err != nil {
		t.Fatalf("new trusted proxies: %v", err)
	}
	if !p.Contains(netip.MustParseAddr("10.200.0.1")) {
		t.Fatal("masked prefix should contain 10.200.0.1")
	}
	if p.Contains(netip.Addr{}) {
		t.Fatal("zero addr must not be trusted")
	}
}
