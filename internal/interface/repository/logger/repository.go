package logger

import (
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"shellcache/internal/domain"
)

// Repository はロガーのリポジトリ実装. zapコアをローテーション付き
// ファイル出力に接続する.
type Repository struct {
	zl     *zap.Logger
	writer *rotatingWriter
	config *RotationConfig
	dir    string
	done   chan struct{}
}

// Verify interface implementation.
var _ domain.Logger = (*Repository)(nil)

// New は新しいRepositoryインスタンスを作成.
func New(directory, filename string, config *RotationConfig) (
	*Repository, error,
) {
	if err := os.MkdirAll(directory, 0755); err != nil {
		return nil, err
	}

	if config == nil {
		config = DefaultRotationConfig()
	}

	writer, err := newRotatingWriter(filepath.Join(directory, filename), config.MaxSize)
	if err != nil {
		return nil, err
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		writer,
		zapcore.DebugLevel,
	)

	r := &Repository{
		zl:     zap.New(core),
		writer: writer,
		config: config,
		dir:    directory,
		done:   make(chan struct{}),
	}

	// ログクリーンアップを定期的に実行
	go r.periodicCleanup()

	return r, nil
}

// Info はINFOレベルのログを記録.
func (r *Repository) Info(msg string, fields map[string]interface{}) {
	r.zl.Info(msg, toZapFields(nil, fields)...)
}

// Error はERRORレベルのログを記録.
func (r *Repository) Error(
	msg string, err error, fields map[string]interface{},
) {
	r.zl.Error(msg, toZapFields(err, fields)...)
}

// Debug はDEBUGレベルのログを記録.
func (r *Repository) Debug(msg string, fields map[string]interface{}) {
	r.zl.Debug(msg, toZapFields(nil, fields)...)
}

// periodicCleanup は定期的に古いログファイルを削除.
func (r *Repository) periodicCleanup() {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cleanOldLogs(r.dir, r.config)
		case <-r.done:
			return
		}
	}
}

// Close はロガーのリソースを解放.
func (r *Repository) Close() error {
	close(r.done)
	r.zl.Sync()
	return r.writer.Close()
}

// toZapFields はフィールドマップをzapのフィールドに変換.
func toZapFields(err error, fields map[string]interface{}) []zap.Field {
	zf := make([]zap.Field, 0, len(fields)+1)
	if err != nil {
		zf = append(zf, zap.Error(err))
	}
	for k, v := range fields {
		zf = append(zf, zap.Any(k, v))
	}
	return zf
}
