package domain

import (
	"fmt"
	"strings"
	"time"
)

// MetricsCollector はメトリクス収集のインターフェース
type MetricsCollector interface {
	RecordRequest()
	RecordCacheHit()
	RecordCacheMiss()
	RecordBypass()
	RecordRevalidation()
	RecordRevalidationFailure()
	AddBytesServed(bytes int64)
	RecordError()
	GetSnapshot() map[string]interface{}
}

// MetricsSnapshot はメトリクスのスナップショットを表す
type MetricsSnapshot struct {
	Timestamp            time.Time `json:"timestamp"`
	StartTime            time.Time `json:"start_time"`
	TotalRequests        int64     `json:"total_requests"`
	CacheHits            int64     `json:"cache_hits"`
	CacheMisses          int64     `json:"cache_misses"`
	BypassedRequests     int64     `json:"bypassed_requests"`
	Revalidations        int64     `json:"revalidations"`
	RevalidationFailures int64     `json:"revalidation_failures"`
	BytesServed          int64     `json:"bytes_served"`
	Errors               int64     `json:"errors"`
	Uptime               string    `json:"uptime"`
}

// MetricsFormatter はメトリクスのフォーマット機能を提供するインターフェース
type MetricsFormatter interface {
	ToPrometheusFormat() string
	ToJSON() ([]byte, error)
}

// メトリクスのフォーマット用メソッド
func (ms *MetricsSnapshot) ToPrometheusFormat() string {
	return formatMetricsToPrometheus(ms)
}

// formatMetricsToPrometheus はメトリクスをPrometheus形式にフォーマット
func formatMetricsToPrometheus(ms *MetricsSnapshot) string {
	var metrics []string

	metrics = append(metrics,
		fmt.Sprintf("# HELP shellcache_total_requests Total number of intercepted requests\n"+
			"# TYPE shellcache_total_requests counter\n"+
			"shellcache_total_requests %d", ms.TotalRequests),

		fmt.Sprintf("# HELP shellcache_cache_hits Total number of cache hits\n"+
			"# TYPE shellcache_cache_hits counter\n"+
			"shellcache_cache_hits %d", ms.CacheHits),

		fmt.Sprintf("# HELP shellcache_cache_misses Total number of cache misses\n"+
			"# TYPE shellcache_cache_misses counter\n"+
			"shellcache_cache_misses %d", ms.CacheMisses),

		fmt.Sprintf("# HELP shellcache_bypassed_requests Total number of requests excluded from caching\n"+
			"# TYPE shellcache_bypassed_requests counter\n"+
			"shellcache_bypassed_requests %d", ms.BypassedRequests),

		fmt.Sprintf("# HELP shellcache_revalidations Total number of completed background revalidations\n"+
			"# TYPE shellcache_revalidations counter\n"+
			"shellcache_revalidations %d", ms.Revalidations),

		fmt.Sprintf("# HELP shellcache_revalidation_failures Total number of failed background revalidations\n"+
			"# TYPE shellcache_revalidation_failures counter\n"+
			"shellcache_revalidation_failures %d", ms.RevalidationFailures),

		fmt.Sprintf("# HELP shellcache_bytes_served Total number of response bytes served\n"+
			"# TYPE shellcache_bytes_served counter\n"+
			"shellcache_bytes_served %d", ms.BytesServed),

		fmt.Sprintf("# HELP shellcache_errors Total number of errors\n"+
			"# TYPE shellcache_errors counter\n"+
			"shellcache_errors %d", ms.Errors),
	)

	return strings.Join(metrics, "\n\n") + "\n"
}
