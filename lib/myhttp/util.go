package myhttp

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
)

func HostnameWithScheme(r *http.Request) string {
	if hostname := os.Getenv("PUBLIC_HOSTNAME"); hostname != "" {
		return hostname
	}

	scheme := "https"
	if r.TLS == nil {
		scheme = "http"
	}

	return fmt.Sprintf("%s://%s", scheme, r.Host)
}

// ClientIP prefers the forwarded address set by the load-balancer.
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}
