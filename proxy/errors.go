package proxy

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
)

var (
	ErrUpstreamUnreachable = errors.New("upstream unreachable")
	ErrUpstreamTimeout     = errors.New("upstream timeout")
	ErrUpstreamTLS         = errors.New("upstream TLS error")
	ErrMalformedRewrite    = errors.New("malformed rewrite result")
)

// StatusClientClosedRequest is recorded when the client goes away before the
// upstream answered. Nothing is sent on the wire.
const StatusClientClosedRequest = 499

// Classify maps an error returned by the upstream round trip onto one of the
// gateway errors. Errors that are already classified, and client
// cancellations, are returned unchanged.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrUpstreamUnreachable),
		errors.Is(err, ErrUpstreamTimeout),
		errors.Is(err, ErrUpstreamTLS),
		errors.Is(err, ErrMalformedRewrite),
		errors.Is(err, context.Canceled):
		return err
	case isTLSError(err):
		return fmt.Errorf("%w: %w", ErrUpstreamTLS, err)
	case isTimeout(err):
		return fmt.Errorf("%w: %w", ErrUpstreamTimeout, err)
	default:
		return fmt.Errorf("%w: %w", ErrUpstreamUnreachable, err)
	}
}

// StatusCode returns the HTTP status reported to the client for err.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, context.Canceled):
		return StatusClientClosedRequest
	case errors.Is(err, ErrMalformedRewrite):
		return http.StatusInternalServerError
	case errors.Is(err, ErrUpstreamTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isTLSError(err error) bool {
	var (
		verifyErr     *tls.CertificateVerificationError
		recordErr     tls.RecordHeaderError
		alertErr      tls.AlertError
		unknownAuth   x509.UnknownAuthorityError
		invalidCert   x509.CertificateInvalidError
		hostnameError x509.HostnameError
	)
	return errors.As(err, &verifyErr) ||
		errors.As(err, &recordErr) ||
		errors.As(err, &alertErr) ||
		errors.As(err, &unknownAuth) ||
		errors.As(err, &invalidCert) ||
		errors.As(err, &hostnameError)
}

// WriteError writes a gateway error as a JSON body. Client cancellations only
// record the status.
func WriteError(w http.ResponseWriter, err error) {
	status := StatusCode(err)
	if status == StatusClientClosedRequest {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = render.JSON{Data: gin.H{"error": err.Error(), "status": status}}.Render(w)
}
