package domain

import "time"

// CacheStore は世代付きキャッシュバケットの管理インターフェース.
type CacheStore interface {
	Get(generation, key string) (*CacheEntry, bool)
	Put(generation, key string, entry *CacheEntry) error
	Delete(generation, key string) error
	Generations() ([]string, error)
	DeleteGeneration(name string) error
}

// CacheEntry はキャッシュされたレスポンスを表す.
type CacheEntry struct {
	StatusCode int
	Headers    map[string][]string
	Body       []byte
	StoredAt   time.Time
	Compressed bool
}
