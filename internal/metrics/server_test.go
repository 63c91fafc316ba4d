package metrics

import (
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_ServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCollectorMetricsWithRegistry(reg)
	m.RecordCycle(KindFull, 3*time.Millisecond)

	s := NewServer("127.0.0.1:0", reg)
	require.NoError(t, s.Start())
	defer func() { assert.NoError(t, s.Close()) }()
	assert.NotEqual(t, "127.0.0.1:0", s.Addr())

	resp, err := http.Get("http://" + s.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `gcengine_collector_cycles_total{kind="full"} 1`)
}

func TestServer_CloseBeforeStart(t *testing.T) {
	s := NewServer(":0", nil)
	assert.Equal(t, ":0", s.Addr())
	assert.NoError(t, s.Close())
}
