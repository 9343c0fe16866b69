package usecase

import (
	"context"
	"fmt"
	"time"

	"shellcache/internal/domain"
)

// MetricsUseCase はメトリクス関連のユースケースを実装
type MetricsUseCase struct {
	metrics      domain.MetricsCollector
	logger       domain.Logger
	saveInterval time.Duration
	done         chan struct{}
}

// MetricsConfig はメトリクスの設定を表す
type MetricsConfig struct {
	SaveInterval time.Duration
	MetricsFile  string
}

// NewMetricsUseCase は新しいMetricsUseCaseインスタンスを作成
func NewMetricsUseCase(
	metrics domain.MetricsCollector, logger domain.Logger, config MetricsConfig,
) *MetricsUseCase {
	if config.SaveInterval == 0 {
		config.SaveInterval = 1 * time.Minute
	}

	uc := &MetricsUseCase{
		metrics:      metrics,
		logger:       logger,
		saveInterval: config.SaveInterval,
		done:         make(chan struct{}),
	}

	go uc.startPeriodicSave()
	return uc
}

// Stop はメトリクス収集を停止
func (uc *MetricsUseCase) Stop() error {
	uc.logger.Info("Stopping metrics collection", nil)
	close(uc.done)
	return nil
}

// startPeriodicSave は定期的なメトリクス保存を開始
func (uc *MetricsUseCase) startPeriodicSave() {
	ticker := time.NewTicker(uc.saveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := uc.saveMetrics(); err != nil {
				uc.logger.Error("Failed to save metrics", err, nil)
			}
		case <-uc.done:
			return
		}
	}
}

// saveMetrics は現在のメトリクスを保存
func (uc *MetricsUseCase) saveMetrics() error {
	snapshot, err := uc.GetMetricsSnapshot()
	if err != nil {
		return fmt.Errorf("failed to get metrics snapshot: %v", err)
	}

	// メトリクスの保存処理をリポジトリに委譲
	if saver, ok := uc.metrics.(interface {
		SaveMetrics(*domain.MetricsSnapshot) error
	}); ok {
		return saver.SaveMetrics(snapshot)
	}

	return nil
}

// GetMetricsSnapshot は現在のメトリクスのスナップショットを取得
func (uc *MetricsUseCase) GetMetricsSnapshot() (
	*domain.MetricsSnapshot, error,
) {
	// メトリクスコレクターからデータを取得
	data := uc.metrics.GetSnapshot()

	// データをMetricsSnapshotに変換
	snapshot := &domain.MetricsSnapshot{
		Timestamp:            time.Now(),
		StartTime:            data["start_time"].(time.Time),
		TotalRequests:        data["total_requests"].(int64),
		CacheHits:            data["cache_hits"].(int64),
		CacheMisses:          data["cache_misses"].(int64),
		BypassedRequests:     data["bypassed_requests"].(int64),
		Revalidations:        data["revalidations"].(int64),
		RevalidationFailures: data["revalidation_failures"].(int64),
		BytesServed:          data["bytes_served"].(int64),
		Errors:               data["errors"].(int64),
		Uptime:               data["uptime"].(string),
	}

	return snapshot, nil
}

// GetPrometheusMetrics はPrometheus形式のメトリクスを取得
func (uc *MetricsUseCase) GetPrometheusMetrics(ctx context.Context) (
	string, error,
) {
	snapshot, err := uc.GetMetricsSnapshot()
	if err != nil {
		return "", err
	}

	return snapshot.ToPrometheusFormat(), nil
}
