package metrics

import (
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"shellcache/internal/domain"
)

// Repository はメトリクスのリポジトリ実装
type Repository struct {
	mu                   sync.RWMutex
	metricsFile          string
	startTime            time.Time
	requests             int64
	cacheHits            int64
	cacheMisses          int64
	bypassed             int64
	revalidations        int64
	revalidationFailures int64
	bytesServed          int64
	errors               int64
}

// インターフェースの実装を検証
var _ domain.MetricsCollector = (*Repository)(nil)

// New は新しいRepositoryインスタンスを作成
func New(metricsFile string) domain.MetricsCollector {
	return &Repository{
		metricsFile: metricsFile,
		startTime:   time.Now(),
	}
}

// SaveMetrics はメトリクスをファイルに保存
func (r *Repository) SaveMetrics(snapshot *domain.MetricsSnapshot) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}

	tempFile := r.metricsFile + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return err
	}

	return os.Rename(tempFile, r.metricsFile)
}

// 以下、MetricsCollector インターフェースの実装
func (r *Repository) RecordRequest() {
	atomic.AddInt64(&r.requests, 1)
}

func (r *Repository) RecordCacheHit() {
	atomic.AddInt64(&r.cacheHits, 1)
}

func (r *Repository) RecordCacheMiss() {
	atomic.AddInt64(&r.cacheMisses, 1)
}

func (r *Repository) RecordBypass() {
	atomic.AddInt64(&r.bypassed, 1)
}

func (r *Repository) RecordRevalidation() {
	atomic.AddInt64(&r.revalidations, 1)
}

func (r *Repository) RecordRevalidationFailure() {
	atomic.AddInt64(&r.revalidationFailures, 1)
}

func (r *Repository) AddBytesServed(bytes int64) {
	atomic.AddInt64(&r.bytesServed, bytes)
}

func (r *Repository) RecordError() {
	atomic.AddInt64(&r.errors, 1)
}

func (r *Repository) GetSnapshot() map[string]interface{} {
	return map[string]interface{}{
		"timestamp":             time.Now(),
		"start_time":            r.startTime,
		"total_requests":        atomic.LoadInt64(&r.requests),
		"cache_hits":            atomic.LoadInt64(&r.cacheHits),
		"cache_misses":          atomic.LoadInt64(&r.cacheMisses),
		"bypassed_requests":     atomic.LoadInt64(&r.bypassed),
		"revalidations":         atomic.LoadInt64(&r.revalidations),
		"revalidation_failures": atomic.LoadInt64(&r.revalidationFailures),
		"bytes_served":          atomic.LoadInt64(&r.bytesServed),
		"errors":                atomic.LoadInt64(&r.errors),
		"uptime":                time.Since(r.startTime).String(),
	}
}
