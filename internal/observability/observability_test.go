package observability

import (
	"bytes"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zereker/xorsock/metrics"
)

func TestParseLevel(t *testing.T) {
	lvl, ok := ParseLevel(" DEBUG ")
	assert.True(t, ok)
	assert.Equal(t, zerolog.DebugLevel, lvl)

	lvl, ok = ParseLevel("warning")
	assert.True(t, ok)
	assert.Equal(t, zerolog.WarnLevel, lvl)

	_, ok = ParseLevel("loud")
	assert.False(t, ok)
}

func TestInitLogger_EnvOverride(t *testing.T) {
	t.Setenv("XORSOCK_LOG_LEVEL", "error")

	var buf bytes.Buffer
	logger := InitLoggerTo(&buf, "test", "debug")
	assert.Equal(t, zerolog.ErrorLevel, logger.GetLevel())
}

func TestAdapter_Fields(t *testing.T) {
	var buf bytes.Buffer
	adapter := NewAdapter(zerolog.New(&buf))

	addr := &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 5000}
	adapter.Info("message received", "addr", addr, "bytes", 5, "error", errors.New("boom"))

	out := buf.String()
	assert.Contains(t, out, `"message":"message received"`)
	assert.Contains(t, out, `"addr":"127.0.0.1:5000"`)
	assert.Contains(t, out, `"bytes":5`)
	assert.Contains(t, out, `"error":"boom"`)
	assert.Contains(t, out, `"level":"info"`)
}

func TestAdapter_DanglingKey(t *testing.T) {
	var buf bytes.Buffer
	adapter := NewAdapter(zerolog.New(&buf))

	adapter.Warn("odd", "lonely")
	assert.Contains(t, buf.String(), `"!BADKEY":"lonely"`)
}

func TestAdapter_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	adapter := NewAdapter(zerolog.New(&buf).Level(zerolog.InfoLevel))

	adapter.Debug("hidden")
	assert.Zero(t, buf.Len())
}

func TestRouter(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(metrics.WithRegistry(reg))
	m.AckSent()

	srv := httptest.NewServer(NewRouter(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "xorsock_acks_sent_total 1"), string(body))

	health, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}
