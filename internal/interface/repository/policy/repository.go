package policy

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"shellcache/internal/domain"
)

// Repository はキャッシュ除外ルールのリポジトリ実装
type Repository struct {
	mu         sync.RWMutex
	configFile string
	prefixes   []string
	markers    []string
	logger     domain.Logger
	watcher    *fsnotify.Watcher
	done       chan struct{}
}

var _ domain.BypassPolicy = (*Repository)(nil)

// New は新しいRepositoryインスタンスを作成
func New(configFile string, logger domain.Logger) (*Repository, error) {
	r := &Repository{
		configFile: configFile,
		logger:     logger,
		done:       make(chan struct{}),
	}

	if err := r.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load bypass config: %w", err)
	}

	// 設定ファイルの変更監視を開始
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(configFile)); err != nil {
		watcher.Close()
		return nil, err
	}

	r.watcher = watcher
	go r.watchConfig()

	return r, nil
}

// ShouldBypass は指定パスがキャッシュ除外対象か判定
func (r *Repository) ShouldBypass(path string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, prefix := range r.prefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}

	for _, marker := range r.markers {
		if strings.Contains(path, marker) {
			return true
		}
	}

	return false
}

// Reload は設定を再読み込み
func (r *Repository) Reload() error {
	return r.loadConfig()
}

// Close は設定監視を停止
func (r *Repository) Close() error {
	close(r.done)
	return r.watcher.Close()
}

// loadConfig は設定ファイルから除外ルールを読み込む
func (r *Repository) loadConfig() error {
	config, err := loadConfigFile(r.configFile)
	if err != nil {
		return err
	}

	prefixes, markers := config.prepare()

	r.mu.Lock()
	r.prefixes = prefixes
	r.markers = markers
	r.mu.Unlock()

	if r.logger != nil {
		r.logger.Info("Loaded bypass rules", map[string]interface{}{
			"api_prefixes": prefixes,
			"task_markers": markers,
		})
	}

	return nil
}

// watchConfig は設定ファイルの変更を監視
func (r *Repository) watchConfig() {
	for {
		select {
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if event.Name != r.configFile {
				continue
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
				continue
			}
			if err := r.loadConfig(); err != nil && r.logger != nil {
				r.logger.Error("Failed to reload bypass config", err, nil)
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			if r.logger != nil {
				r.logger.Error("Config watcher error", err, nil)
			}
		case <-r.done:
			return
		}
	}
}
