package proxy

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// newTransport returns a pooled transport for one rule. timeout bounds the
// dial, the TLS handshake and the wait for response headers; the body is
// streamed without a deadline.
func newTransport(timeout time.Duration, secure bool) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	transport.TLSHandshakeTimeout = timeout
	transport.ResponseHeaderTimeout = timeout
	if !secure {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in per rule
	}
	return transport
}
