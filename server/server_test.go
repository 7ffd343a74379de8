package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/protofire/proteus-shield/go-dev-proxy/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func pathUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, r.Host+" "+r.URL.RequestURI())
	}))
	t.Cleanup(srv.Close)
	return srv
}

func okxConfig(target string) *models.RouterConfig {
	rule := models.NewProxyRule("/api/okx", target)
	rule.ChangeOrigin = true
	rule.Rewrite = &models.Rewrite{Pattern: "^/api/okx", Replace: "/api"}
	return &models.RouterConfig{
		Listen: "127.0.0.1:0",
		Proxy:  models.ProxyRules{rule},
	}
}

func logLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var lines []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry), line)
		lines = append(lines, entry)
	}
	return lines
}

func findRequestLog(t *testing.T, buf *bytes.Buffer, path string) map[string]any {
	t.Helper()
	for _, entry := range logLines(t, buf) {
		if entry["message"] == "request" && entry["path"] == path {
			return entry
		}
	}
	t.Fatalf("no request log for %s in:\n%s", path, buf.String())
	return nil
}

func TestServerProxiesAndLogs(t *testing.T) {
	upstream := pathUpstream(t)
	var buf bytes.Buffer
	srv, err := New(okxConfig(upstream.URL), zerolog.New(&buf))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/okx/v5/market/ticker?instId=BTC-USDT", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, strings.TrimPrefix(upstream.URL, "http://")+" /api/v5/market/ticker?instId=BTC-USDT", rec.Body.String())

	entry := findRequestLog(t, &buf, "/api/okx/v5/market/ticker")
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, float64(http.StatusOK), entry["status"])
	assert.Equal(t, "/api/okx", entry["rule"])
	assert.Equal(t, upstream.URL+"/api/v5/market/ticker?instId=BTC-USDT", entry["upstream"])
	assert.Equal(t, "instId=BTC-USDT", entry["query"])
}

func TestServerFallbackWithoutStaticDir(t *testing.T) {
	var buf bytes.Buffer
	srv, err := New(okxConfig(pathUpstream(t).URL), zerolog.New(&buf))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/index.html", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "no proxy rule or static asset for /index.html")

	entry := findRequestLog(t, &buf, "/index.html")
	assert.Nil(t, entry["rule"])
}

func TestServerFallbackServesStaticDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log('dev')"), 0o600))

	config := okxConfig(pathUpstream(t).URL)
	config.StaticDir = dir
	srv, err := New(config, zerolog.Nop())
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/app.js", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "console.log('dev')", rec.Body.String())

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/missing.js", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerGatewayErrorIsLoggedAsWarning(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	dead := "http://" + ln.Addr().String()
	require.NoError(t, ln.Close())

	var buf bytes.Buffer
	srv, err := New(okxConfig(dead), zerolog.New(&buf))
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/okx/v5/public/time", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	entry := findRequestLog(t, &buf, "/api/okx/v5/public/time")
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, float64(http.StatusBadGateway), entry["status"])
}

func TestServerServeUntilCancelled(t *testing.T) {
	upstream := pathUpstream(t)
	srv, err := New(okxConfig(upstream.URL), zerolog.Nop())
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + ln.Addr().String() + "/api/okx/v5/public/time")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasSuffix(string(body), " /api/v5/public/time"), string(body))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestNewRejectsInvalidRule(t *testing.T) {
	config := &models.RouterConfig{
		Listen: ":0",
		Proxy:  models.ProxyRules{models.NewProxyRule("/api", "ftp://nowhere")},
	}
	_, err := New(config, zerolog.Nop())
	assert.Error(t, err)
}
