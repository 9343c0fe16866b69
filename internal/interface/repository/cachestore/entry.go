package cachestore

import (
	"time"
)

// Entry はキャッシュエントリのメタデータを表す
type Entry struct {
	Key        string              `json:"key"`
	Size       int64               `json:"size"`
	StatusCode int                 `json:"status_code"`
	Headers    map[string][]string `json:"headers,omitempty"`
	StoredAt   time.Time           `json:"stored_at"`
	Compressed bool                `json:"compressed"`
}

// NewEntry は新しいEntryインスタンスを作成
func NewEntry(
	key string, size int64, statusCode int, headers map[string][]string,
	compressed bool,
) *Entry {
	return &Entry{
		Key:        key,
		Size:       size,
		StatusCode: statusCode,
		Headers:    headers,
		StoredAt:   time.Now(),
		Compressed: compressed,
	}
}
