package metrics

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"shellcache/internal/domain"
)

func TestCountersAccumulate(t *testing.T) {
	collector := New(filepath.Join(t.TempDir(), "metrics.json"))

	collector.RecordRequest()
	collector.RecordRequest()
	collector.RecordCacheHit()
	collector.RecordCacheMiss()
	collector.RecordBypass()
	collector.RecordRevalidation()
	collector.RecordRevalidationFailure()
	collector.AddBytesServed(512)
	collector.RecordError()

	snapshot := collector.GetSnapshot()
	require.Equal(t, int64(2), snapshot["total_requests"])
	require.Equal(t, int64(1), snapshot["cache_hits"])
	require.Equal(t, int64(1), snapshot["cache_misses"])
	require.Equal(t, int64(1), snapshot["bypassed_requests"])
	require.Equal(t, int64(1), snapshot["revalidations"])
	require.Equal(t, int64(1), snapshot["revalidation_failures"])
	require.Equal(t, int64(512), snapshot["bytes_served"])
	require.Equal(t, int64(1), snapshot["errors"])
	require.NotEmpty(t, snapshot["uptime"])
}

func TestSaveMetricsWritesJSON(t *testing.T) {
	metricsFile := filepath.Join(t.TempDir(), "metrics.json")
	collector := New(metricsFile)

	repo, ok := collector.(*Repository)
	require.True(t, ok)

	snapshot := &domain.MetricsSnapshot{
		Timestamp:     time.Now(),
		StartTime:     time.Now(),
		TotalRequests: 42,
		CacheHits:     40,
		Uptime:        "1m0s",
	}
	require.NoError(t, repo.SaveMetrics(snapshot))

	data, err := os.ReadFile(metricsFile)
	require.NoError(t, err)

	var loaded domain.MetricsSnapshot
	require.NoError(t, json.Unmarshal(data, &loaded))
	require.Equal(t, int64(42), loaded.TotalRequests)
	require.Equal(t, int64(40), loaded.CacheHits)
}
