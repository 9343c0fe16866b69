package cachestore

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"

	"shellcache/internal/domain"
)

// compressThreshold を超えるボディはgzip圧縮を試みる
const compressThreshold = 1024

// Repository は世代付きキャッシュストアのリポジトリ実装
type Repository struct {
	mu       sync.RWMutex
	baseDir  string
	maxSize  int64
	currSize int64
	entries  map[string]map[string]*Entry
}

// Verify interface implementation
var _ domain.CacheStore = (*Repository)(nil)

// New は新しいRepositoryインスタンスを作成
func New(baseDir string, maxSize int64) (*Repository, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, err
	}

	r := &Repository{
		baseDir: baseDir,
		maxSize: maxSize,
		entries: make(map[string]map[string]*Entry),
	}

	// 再起動後もディスク上の世代を引き継ぐ
	if err := r.loadExisting(); err != nil {
		return nil, err
	}

	return r, nil
}

// Get はキャッシュからエントリを取得
func (r *Repository) Get(generation, key string) (*domain.CacheEntry, bool) {
	r.mu.RLock()
	entry, exists := r.entries[generation][key]
	r.mu.RUnlock()

	if !exists {
		return nil, false
	}

	data, err := r.readBody(generation, entry.Key)
	if err != nil {
		go r.Delete(generation, key) // ファイルが読めない場合は削除
		return nil, false
	}

	if entry.Compressed {
		data, err = decompress(data)
		if err != nil {
			go r.Delete(generation, key)
			return nil, false
		}
	}

	return &domain.CacheEntry{
		StatusCode: entry.StatusCode,
		Headers:    entry.Headers,
		Body:       data,
		StoredAt:   entry.StoredAt,
	}, true
}

// Put はキャッシュにエントリを保存
func (r *Repository) Put(generation, key string, entry *domain.CacheEntry) error {
	data := entry.Body
	compressed := entry.Compressed

	// 大きなボディの場合は圧縮を試みる
	if !compressed && len(data) > compressThreshold {
		if compData, err := compress(data); err == nil && len(compData) < len(data) {
			data = compData
			compressed = true
		}
	}

	// 上限を超えるボディは既存エントリを巻き添えにせず拒否する
	if int64(len(data)) > r.maxSize {
		return fmt.Errorf("entry %s exceeds cache capacity: %d > %d bytes",
			key, len(data), r.maxSize)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// キャッシュサイズのチェックと調整
	newSize := r.currSize + int64(len(data))
	for newSize > r.maxSize && r.countLocked() > 0 {
		r.evictOldestLocked()
		newSize = r.currSize + int64(len(data))
	}

	// 同一キーの上書きは旧サイズを差し引く
	if old, exists := r.entries[generation][key]; exists {
		r.currSize -= old.Size
	}

	// ファイルへの保存
	meta := NewEntry(key, int64(len(data)), entry.StatusCode, entry.Headers, compressed)
	if err := r.writeFiles(generation, meta, data); err != nil {
		return err
	}

	// エントリの登録
	if r.entries[generation] == nil {
		r.entries[generation] = make(map[string]*Entry)
	}
	r.entries[generation][key] = meta
	r.currSize += int64(len(data))

	return nil
}

// Delete はキャッシュからエントリを削除
func (r *Repository) Delete(generation, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deleteLocked(generation, key)
}

// Generations はディスク上に存在する世代名の一覧を返す
func (r *Repository) Generations() ([]string, error) {
	dirs, err := os.ReadDir(r.baseDir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, d := range dirs {
		if d.IsDir() {
			names = append(names, d.Name())
		}
	}
	return names, nil
}

// DeleteGeneration は世代バケットを丸ごと削除
func (r *Repository) DeleteGeneration(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, entry := range r.entries[name] {
		r.currSize -= entry.Size
	}
	delete(r.entries, name)

	return os.RemoveAll(filepath.Join(r.baseDir, name))
}

// deleteLocked はロック保持中のエントリ削除
func (r *Repository) deleteLocked(generation, key string) error {
	entry, exists := r.entries[generation][key]
	if !exists {
		return nil
	}

	r.currSize -= entry.Size
	delete(r.entries[generation], key)

	hash := hashKey(entry.Key)
	os.Remove(r.filePath(generation, hash+".meta"))
	return os.Remove(r.filePath(generation, hash+".bin"))
}

// evictOldestLocked は全世代で最も古いエントリを削除
func (r *Repository) evictOldestLocked() {
	var oldestGen, oldestKey string
	var oldest *Entry

	for gen, keys := range r.entries {
		for key, entry := range keys {
			if oldest == nil || entry.StoredAt.Before(oldest.StoredAt) {
				oldestGen, oldestKey = gen, key
				oldest = entry
			}
		}
	}

	if oldest != nil {
		r.deleteLocked(oldestGen, oldestKey)
	}
}

func (r *Repository) countLocked() int {
	n := 0
	for _, keys := range r.entries {
		n += len(keys)
	}
	return n
}

// loadExisting はディスク上のメタデータからインデックスを再構築
func (r *Repository) loadExisting() error {
	dirs, err := os.ReadDir(r.baseDir)
	if err != nil {
		return err
	}

	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		generation := d.Name()

		metas, err := filepath.Glob(filepath.Join(r.baseDir, generation, "*.meta"))
		if err != nil {
			return err
		}

		for _, path := range metas {
			data, err := os.ReadFile(path)
			if err != nil {
				continue
			}

			var entry Entry
			if err := json.Unmarshal(data, &entry); err != nil {
				// 壊れたメタデータは対のボディごと破棄
				os.Remove(path)
				os.Remove(strings.TrimSuffix(path, ".meta") + ".bin")
				continue
			}

			if r.entries[generation] == nil {
				r.entries[generation] = make(map[string]*Entry)
			}
			r.entries[generation][entry.Key] = &entry
			r.currSize += entry.Size
		}
	}

	return nil
}

func (r *Repository) filePath(generation, name string) string {
	return filepath.Join(r.baseDir, generation, name)
}

func (r *Repository) readBody(generation, key string) ([]byte, error) {
	return os.ReadFile(r.filePath(generation, hashKey(key)+".bin"))
}

func (r *Repository) writeFiles(generation string, meta *Entry, body []byte) error {
	if err := os.MkdirAll(filepath.Join(r.baseDir, generation), 0755); err != nil {
		return err
	}

	hash := hashKey(meta.Key)
	metaData, err := json.Marshal(meta)
	if err != nil {
		return err
	}

	if err := os.WriteFile(r.filePath(generation, hash+".meta"), metaData, 0644); err != nil {
		return err
	}
	return os.WriteFile(r.filePath(generation, hash+".bin"), body, 0644)
}

// hashKey はリクエスト識別子をファイル名に変換
func hashKey(key string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(key))
}

// compress はデータをgzip圧縮する
func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)

	if _, err := gz.Write(data); err != nil {
		return nil, err
	}

	if err := gz.Close(); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// decompress はgzip圧縮されたデータを展開する
func decompress(data []byte) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	return io.ReadAll(gz)
}
