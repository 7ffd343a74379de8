package proxy

import (
	"net/http"
	"strings"

	"github.com/golang/gddo/httputil/header"
)

// isWebSocketUpgrade checks whether the given HTTP headers indicate a websocket
// upgrade request.
func isWebSocketUpgrade(headers http.Header) bool {
	if !headerListContains(headers, "Connection", "upgrade") {
		return false
	}
	return headerListContains(headers, "Upgrade", "websocket")
}

func headerListContains(headers http.Header, name, token string) bool {
	for _, value := range header.ParseList(headers, name) {
		if strings.EqualFold(value, token) {
			return true
		}
	}
	return false
}
