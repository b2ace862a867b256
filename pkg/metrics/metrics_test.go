package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilReceiverIsSafe(t *testing.T) {
	var m *NBDMetrics

	m.ConnectionAccepted()
	m.ConnectionClosed()
	m.AddServerBytesIn("disk0", 512)
	m.AddServerBytesOut("disk0", 512)
	m.RequestError("disk0")
	m.SetStoreBytes("disk0", 1, 2)
	m.SetCacheUsage("disk0", 3, 4)
	assert.Nil(t, m.Registry())
}

func TestCounters(t *testing.T) {
	m := New()

	m.ConnectionAccepted()
	m.ConnectionAccepted()
	m.ConnectionClosed()
	assert.Equal(t, float64(1), testutil.ToFloat64(m.connectionsActive))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.connectionsTotal))

	m.AddServerBytesIn("disk0", 512)
	m.AddServerBytesIn("disk0", 512)
	m.AddServerBytesOut("disk0", 128)
	assert.Equal(t, float64(1024), testutil.ToFloat64(m.serverBytesIn.WithLabelValues("disk0")))
	assert.Equal(t, float64(128), testutil.ToFloat64(m.serverBytesOut.WithLabelValues("disk0")))

	m.SetStoreBytes("disk0", 2048, 4096)
	assert.Equal(t, float64(2048), testutil.ToFloat64(m.storeBytesIn.WithLabelValues("disk0")))
	assert.Equal(t, float64(4096), testutil.ToFloat64(m.storeBytesOut.WithLabelValues("disk0")))

	m.SetCacheUsage("disk0", 512, 1024)
	assert.Equal(t, float64(512), testutil.ToFloat64(m.cacheBytes.WithLabelValues("disk0")))
	assert.Equal(t, float64(1024), testutil.ToFloat64(m.cacheLimit.WithLabelValues("disk0")))
}
