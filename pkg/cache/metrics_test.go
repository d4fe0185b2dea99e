package cache

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_OperationsCounted(t *testing.T) {
	c, err := NewRistrettoCache(&RistrettoConfig{Name: "metrics-test", NumCounters: 100, MaxCost: 10, BufferItems: 64})
	require.NoError(t, err)
	defer c.Close()

	missBefore := testutil.ToFloat64(OperationsTotal.WithLabelValues("metrics-test", "miss"))
	deleteBefore := testutil.ToFloat64(OperationsTotal.WithLabelValues("metrics-test", "delete"))

	c.Get("absent")
	c.Delete("absent")

	assert.Equal(t, missBefore+1, testutil.ToFloat64(OperationsTotal.WithLabelValues("metrics-test", "miss")))
	assert.Equal(t, deleteBefore+1, testutil.ToFloat64(OperationsTotal.WithLabelValues("metrics-test", "delete")))
}

func TestMetrics_HitRatioGauge(t *testing.T) {
	cache, err := NewRistrettoCache(&RistrettoConfig{Name: "ratio-test", NumCounters: 100, MaxCost: 10, BufferItems: 64})
	require.NoError(t, err)
	defer cache.Close()

	rc := cache.(*RistrettoCache)
	rc.Get("absent")
	stats := rc.Stats()

	assert.Equal(t, stats.HitRatio, testutil.ToFloat64(HitRatio.WithLabelValues("ratio-test")))
}
