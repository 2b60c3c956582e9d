package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordFileCarved_PerFileType(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordFileCarved(context.Background(), "jpeg", time.Millisecond)
	m.RecordFileCarved(context.Background(), "jpeg", time.Millisecond)
	m.RecordFileCarved(context.Background(), "png", time.Millisecond)

	countJPEG := testutil.ToFloat64(m.filesCarvedTotal.WithLabelValues("jpeg"))
	assert.Equal(t, 2.0, countJPEG)

	countPNG := testutil.ToFloat64(m.filesCarvedTotal.WithLabelValues("png"))
	assert.Equal(t, 1.0, countPNG)
}

func TestSetQueueDepth_DisableBucketLabel(t *testing.T) {
	// With per-queue labels disabled, every queue collapses onto "*" so an
	// unusual worker count can never create unbounded series.
	reg := prometheus.NewRegistry()
	cfg := Config{EnableBucketLabel: false}
	m := newMetricsWithRegistry(reg, cfg)

	m.SetQueueDepth("scan_queue", 10)
	m.SetQueueDepth("hit_queue", 20)

	depth := testutil.ToFloat64(m.queueDepth.WithLabelValues("*"))
	assert.Equal(t, 20.0, depth)
}

func TestSetQueueDepth_PerQueueLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.SetQueueDepth("scan_queue", 5)
	m.SetQueueDepth("hit_queue", 7)

	assert.Equal(t, 5.0, testutil.ToFloat64(m.queueDepth.WithLabelValues("scan_queue")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.queueDepth.WithLabelValues("hit_queue")))
}

func TestRecordCarveError_ByKind(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	m.RecordCarveError(context.Background(), "truncated")
	m.RecordCarveError(context.Background(), "truncated")
	m.RecordCarveError(context.Background(), "io")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.carveErrorsTotal.WithLabelValues("truncated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.carveErrorsTotal.WithLabelValues("io")))
}

// TestGatheredSeriesCardinality inspects the gathered protobuf families
// directly: a run over many file types must produce one series per type
// on the carved-files counter and nothing more, since every extra label
// value here is a permanent series on the scrape endpoint.
func TestGatheredSeriesCardinality(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsWithRegistry(reg)

	for _, ft := range []string{"jpeg", "png", "gif", "sqlite"} {
		m.RecordFileCarved(context.Background(), ft, time.Millisecond)
	}

	families, err := reg.Gather()
	require.NoError(t, err)

	var carved *dto.MetricFamily
	for _, mf := range families {
		if mf.GetName() == "carver_files_carved_total" {
			carved = mf
		}
	}
	require.NotNil(t, carved)
	assert.Equal(t, dto.MetricType_COUNTER, carved.GetType())
	assert.Len(t, carved.GetMetric(), 4)

	seen := map[string]bool{}
	for _, metric := range carved.GetMetric() {
		require.Len(t, metric.GetLabel(), 1)
		label := metric.GetLabel()[0]
		assert.Equal(t, "file_type", label.GetName())
		seen[label.GetValue()] = true
		assert.Equal(t, 1.0, metric.GetCounter().GetValue())
	}
	assert.True(t, seen["jpeg"] && seen["png"] && seen["gif"] && seen["sqlite"])
}
