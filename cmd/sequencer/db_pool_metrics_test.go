package main

import (
	"context"
	"database/sql"
	"log/slog"
	"testing"
	"time"

	appmetrics "github.com/Alert17/zkclear-core/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDBStatsProvider struct {
	stats sql.DBStats
}

func (f fakeDBStatsProvider) Stats() sql.DBStats {
	return f.stats
}

type panicDBStatsProvider struct{}

func (panicDBStatsProvider) Stats() sql.DBStats {
	panic("db stats temporarily unavailable")
}

type flakyDBStatsProvider struct {
	failUntil int
	stats     sql.DBStats
	calls     int
	callCh    chan int
}

func (f *flakyDBStatsProvider) Stats() sql.DBStats {
	f.calls++
	if f.callCh != nil {
		f.callCh <- f.calls
	}
	if f.calls <= f.failUntil {
		panic("db stats temporarily unavailable")
	}
	return f.stats
}

func newTestPoolGauges(prefix string) dbPoolStatsGauges {
	return dbPoolStatsGauges{
		open:         prometheus.NewGauge(prometheus.GaugeOpts{Name: prefix + "_open"}),
		inUse:        prometheus.NewGauge(prometheus.GaugeOpts{Name: prefix + "_in_use"}),
		idle:         prometheus.NewGauge(prometheus.GaugeOpts{Name: prefix + "_idle"}),
		waitCount:    prometheus.NewGauge(prometheus.GaugeOpts{Name: prefix + "_wait_count"}),
		waitDuration: prometheus.NewGauge(prometheus.GaugeOpts{Name: prefix + "_wait_duration_seconds"}),
	}
}

func readGaugeValue(t *testing.T, gauge prometheus.Gauge) float64 {
	t.Helper()
	metric := &dto.Metric{}
	require.NoError(t, gauge.Write(metric))
	return metric.GetGauge().GetValue()
}

func TestCollectDBPoolStats_RecordsGaugeValues(t *testing.T) {
	provider := fakeDBStatsProvider{
		stats: sql.DBStats{
			OpenConnections: 10,
			InUse:           3,
			Idle:            7,
			WaitCount:       13,
			WaitDuration:    1500 * time.Millisecond,
		},
	}
	gauges := newTestPoolGauges("test_db_pool")

	require.NoError(t, collectDBPoolStats(provider, gauges))

	assert.Equal(t, 10.0, readGaugeValue(t, gauges.open))
	assert.Equal(t, 3.0, readGaugeValue(t, gauges.inUse))
	assert.Equal(t, 7.0, readGaugeValue(t, gauges.idle))
	assert.Equal(t, 13.0, readGaugeValue(t, gauges.waitCount))
	assert.Equal(t, 1.5, readGaugeValue(t, gauges.waitDuration))
}

func TestCollectDBPoolStats_ReturnsErrorOnPanic(t *testing.T) {
	err := collectDBPoolStats(panicDBStatsProvider{}, newTestPoolGauges("test_db_pool_panic"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db pool stats collection panicked")
}

func TestCollectDBPoolStats_FailsOnNilProvider(t *testing.T) {
	err := collectDBPoolStats(nil, newTestPoolGauges("test_db_pool_nil"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db stats provider is nil")
}

func TestStartDBPoolStatsPump_ToleratesTransientStatsFailure(t *testing.T) {
	callCh := make(chan int, 8)
	provider := &flakyDBStatsProvider{
		failUntil: 1,
		stats: sql.DBStats{
			OpenConnections: 10,
			InUse:           3,
			Idle:            7,
		},
		callCh: callCh,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startDBPoolStatsPump(ctx, provider, 5, slog.Default())

	// The first collection panics and is recovered. Once the third call
	// starts, the second call's gauge writes are visible.
	timeout := time.After(2 * time.Second)
	for {
		select {
		case count := <-callCh:
			if count >= 3 {
				assert.Equal(t, 10.0, readGaugeValue(t, appmetrics.DBPoolOpen))
				cancel()
				return
			}
		case <-timeout:
			t.Fatal("timed out waiting for stats collection to recover")
		}
	}
}

func TestStartDBPoolStatsPump_NoopWhenDisabled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startDBPoolStatsPump(ctx, nil, 5, slog.Default())
	startDBPoolStatsPump(ctx, fakeDBStatsProvider{}, 0, slog.Default())
}
