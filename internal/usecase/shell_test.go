package usecase

import (
	"context"
	"errors"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"shellcache/internal/domain"
	"shellcache/internal/interface/repository/cachestore"
	"shellcache/internal/interface/repository/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeFetcher はテスト用のAssetFetcher実装. URLごとに応答を登録する.
type fakeFetcher struct {
	mu        sync.Mutex
	responses map[string]*domain.ShellResponse
	errs      map[string]error
	calls     map[string]int
	down      bool
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		responses: make(map[string]*domain.ShellResponse),
		errs:      make(map[string]error),
		calls:     make(map[string]int),
	}
}

func (f *fakeFetcher) Fetch(
	_ context.Context, req *domain.ShellRequest,
) (*domain.ShellResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[req.URL]++

	if f.down {
		return nil, &domain.ErrFetchFailed{URL: req.URL, Err: errors.New("network unreachable")}
	}
	if err := f.errs[req.URL]; err != nil {
		return nil, err
	}

	resp, ok := f.responses[req.URL]
	if !ok {
		return &domain.ShellResponse{StatusCode: http.StatusNotFound, Body: []byte("not found")}, nil
	}

	cp := *resp
	return &cp, nil
}

func (f *fakeFetcher) set(url, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[url] = &domain.ShellResponse{
		StatusCode: http.StatusOK,
		Headers:    map[string][]string{"Content-Type": {"text/html"}},
		Body:       []byte(body),
	}
}

func (f *fakeFetcher) setDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

func (f *fakeFetcher) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

// spyStore はキャッシュストアへのアクセスを記録するラッパー
type spyStore struct {
	domain.CacheStore
	mu   sync.Mutex
	gets int
	puts int
}

func (s *spyStore) Get(generation, key string) (*domain.CacheEntry, bool) {
	s.mu.Lock()
	s.gets++
	s.mu.Unlock()
	return s.CacheStore.Get(generation, key)
}

func (s *spyStore) Put(generation, key string, entry *domain.CacheEntry) error {
	s.mu.Lock()
	s.puts++
	s.mu.Unlock()
	return s.CacheStore.Put(generation, key, entry)
}

func (s *spyStore) accesses() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets, s.puts
}

// staticPolicy は固定ルールのBypassPolicy実装
type staticPolicy struct {
	prefixes []string
	markers  []string
}

func defaultPolicy() staticPolicy {
	return staticPolicy{prefixes: []string{"/api/"}, markers: []string{"/tasks/"}}
}

func (p staticPolicy) ShouldBypass(path string) bool {
	for _, prefix := range p.prefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	for _, marker := range p.markers {
		if strings.Contains(path, marker) {
			return true
		}
	}
	return false
}

func (p staticPolicy) Reload() error { return nil }

type nopLogger struct{}

func (nopLogger) Debug(string, map[string]interface{})        {}
func (nopLogger) Info(string, map[string]interface{})         {}
func (nopLogger) Error(string, error, map[string]interface{}) {}

func newTestStore(t *testing.T) *cachestore.Repository {
	t.Helper()
	store, err := cachestore.New(t.TempDir(), 10*1024*1024)
	require.NoError(t, err)
	return store
}

func newTestUseCase(
	t *testing.T, store domain.CacheStore, fetcher domain.AssetFetcher,
	config ShellConfig,
) *ShellUseCase {
	t.Helper()
	collector := metrics.New(filepath.Join(t.TempDir(), "metrics.json"))
	return NewShellUseCase(store, fetcher, defaultPolicy(), collector, nopLogger{}, config)
}

func TestInitializePinsAllAssets(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.set("/", "<html>shell</html>")
	fetcher.set("/static/css/base.css", "body{}")

	store := newTestStore(t)
	uc := newTestUseCase(t, store, fetcher, ShellConfig{
		Generation:   "shell-v1",
		PinnedAssets: []string{"/", "/static/css/base.css"},
	})

	require.NoError(t, uc.Initialize(context.Background()))

	entry, ok := store.Get("shell-v1", "/")
	require.True(t, ok)
	require.Equal(t, []byte("<html>shell</html>"), entry.Body)

	entry, ok = store.Get("shell-v1", "/static/css/base.css")
	require.True(t, ok)
	require.Equal(t, []byte("body{}"), entry.Body)
}

func TestInitializeFailureDiscardsGeneration(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.set("/", "<html>shell</html>")
	fetcher.errs["/static/css/base.css"] = errors.New("connection refused")

	store := newTestStore(t)
	uc := newTestUseCase(t, store, fetcher, ShellConfig{
		Generation:   "shell-v2",
		PinnedAssets: []string{"/", "/static/css/base.css"},
	})

	err := uc.Initialize(context.Background())
	require.Error(t, err)

	var pinErr *domain.ErrPinFailed
	require.ErrorAs(t, err, &pinErr)

	// 部分的に取り込まれたバケットは残らない
	generations, err := store.Generations()
	require.NoError(t, err)
	require.NotContains(t, generations, "shell-v2")
}

func TestInitializeFailureKeepsExistingGeneration(t *testing.T) {
	dir := t.TempDir()

	fetcher := newFakeFetcher()
	fetcher.set("/", "<html>shell</html>")
	fetcher.set("/static/css/base.css", "body{}")

	store, err := cachestore.New(dir, 10*1024*1024)
	require.NoError(t, err)

	config := ShellConfig{
		Generation:   "shell-v1",
		PinnedAssets: []string{"/", "/static/css/base.css"},
	}

	uc := newTestUseCase(t, store, fetcher, config)
	require.NoError(t, uc.Initialize(context.Background()))
	require.NoError(t, uc.Activate(context.Background()))

	// 再起動を模してストアを開き直し、オリジンが落ちた状態で
	// 同じ世代名のまま初期化に失敗させる
	reopened, err := cachestore.New(dir, 10*1024*1024)
	require.NoError(t, err)

	fetcher.setDown(true)
	restarted := newTestUseCase(t, reopened, fetcher, config)
	require.Error(t, restarted.Initialize(context.Background()))

	// 前回の完成済みバケットはそのまま残り、応答を続ける
	generations, err := reopened.Generations()
	require.NoError(t, err)
	require.Equal(t, []string{"shell-v1"}, generations)

	resp, err := restarted.Intercept(context.Background(), &domain.ShellRequest{
		Method: http.MethodGet,
		URL:    "/",
	})
	require.NoError(t, err)
	require.True(t, resp.FromCache)
	require.Equal(t, []byte("<html>shell</html>"), resp.Body)

	restarted.WaitIdle()
}

func TestInitializeFailsOnErrorStatus(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.set("/", "<html>shell</html>")
	// "/missing.css" は登録されていないため404になる

	store := newTestStore(t)
	uc := newTestUseCase(t, store, fetcher, ShellConfig{
		Generation:   "shell-v1",
		PinnedAssets: []string{"/", "/missing.css"},
	})

	err := uc.Initialize(context.Background())
	require.Error(t, err)

	var pinErr *domain.ErrPinFailed
	require.ErrorAs(t, err, &pinErr)
	require.Equal(t, "/missing.css", pinErr.URL)
}

func TestActivateDeletesStaleGenerations(t *testing.T) {
	store := newTestStore(t)

	seed := &domain.CacheEntry{StatusCode: http.StatusOK, Body: []byte("x"), StoredAt: time.Now()}
	require.NoError(t, store.Put("shell-v1", "/", seed))
	require.NoError(t, store.Put("shell-v2", "/", seed))
	require.NoError(t, store.Put("shell-v3", "/", seed))

	fetcher := newFakeFetcher()
	uc := newTestUseCase(t, store, fetcher, ShellConfig{
		Generation:   "shell-v3",
		PinnedAssets: []string{"/"},
	})

	require.NoError(t, uc.Activate(context.Background()))

	generations, err := store.Generations()
	require.NoError(t, err)
	require.Equal(t, []string{"shell-v3"}, generations)
}

func TestInterceptBypassNeverTouchesCache(t *testing.T) {
	testCases := []struct {
		name string
		url  string
	}{
		{"API prefix", "/api/prices"},
		{"Nested API path", "/api/ai/chat"},
		{"Task marker at root", "/tasks/progress"},
		{"Task marker mid-path", "/jobs/tasks/42/logs"},
		{"Task marker with query", "/tasks/run-spot?force=1"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			fetcher := newFakeFetcher()
			fetcher.set(tc.url, "live data")

			spy := &spyStore{CacheStore: newTestStore(t)}
			uc := newTestUseCase(t, spy, fetcher, ShellConfig{
				Generation:   "shell-v1",
				PinnedAssets: []string{"/"},
			})

			resp, err := uc.Intercept(context.Background(), &domain.ShellRequest{
				Method: http.MethodGet,
				URL:    tc.url,
			})
			require.NoError(t, err)
			require.True(t, resp.Bypassed)
			require.Equal(t, []byte("live data"), resp.Body)

			gets, puts := spy.accesses()
			require.Zero(t, gets)
			require.Zero(t, puts)
		})
	}
}

func TestInterceptNonGETPassesThrough(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.set("/save-config", "saved")

	spy := &spyStore{CacheStore: newTestStore(t)}
	uc := newTestUseCase(t, spy, fetcher, ShellConfig{
		Generation:   "shell-v1",
		PinnedAssets: []string{"/"},
	})

	resp, err := uc.Intercept(context.Background(), &domain.ShellRequest{
		Method: http.MethodPost,
		URL:    "/save-config",
	})
	require.NoError(t, err)
	require.False(t, resp.FromCache)
	require.True(t, resp.Bypassed)

	gets, puts := spy.accesses()
	require.Zero(t, gets)
	require.Zero(t, puts)
}

func TestInterceptMissStoresNetworkResponse(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.set("/static/js/main.js", "console.log(1)")

	store := newTestStore(t)
	uc := newTestUseCase(t, store, fetcher, ShellConfig{
		Generation:   "shell-v1",
		PinnedAssets: []string{"/"},
	})

	req := &domain.ShellRequest{Method: http.MethodGet, URL: "/static/js/main.js"}

	resp, err := uc.Intercept(context.Background(), req)
	require.NoError(t, err)
	require.False(t, resp.FromCache)
	require.Equal(t, []byte("console.log(1)"), resp.Body)

	// 2回目は保存済みの複製で応答する
	resp, err = uc.Intercept(context.Background(), req)
	require.NoError(t, err)
	require.True(t, resp.FromCache)
	require.Equal(t, []byte("console.log(1)"), resp.Body)

	uc.WaitIdle()
}

func TestInterceptServesCacheWhenNetworkDown(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.set("/", "<html>shell</html>")

	store := newTestStore(t)
	uc := newTestUseCase(t, store, fetcher, ShellConfig{
		Generation:   "shell-v1",
		PinnedAssets: []string{"/"},
	})
	require.NoError(t, uc.Initialize(context.Background()))

	fetcher.setDown(true)

	resp, err := uc.Intercept(context.Background(), &domain.ShellRequest{
		Method: http.MethodGet,
		URL:    "/",
	})
	require.NoError(t, err)
	require.True(t, resp.FromCache)
	require.Equal(t, []byte("<html>shell</html>"), resp.Body)

	// バックグラウンド更新の失敗は呼び出し元に影響しない
	uc.WaitIdle()
}

func TestInterceptStaleWhileRevalidate(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.set("/static/css/base.css", "body{color:red}")

	store := newTestStore(t)
	uc := newTestUseCase(t, store, fetcher, ShellConfig{
		Generation:   "shell-v1",
		PinnedAssets: []string{"/static/css/base.css"},
	})
	require.NoError(t, uc.Initialize(context.Background()))

	// オリジン側の内容が変わる
	fetcher.set("/static/css/base.css", "body{color:blue}")

	req := &domain.ShellRequest{Method: http.MethodGet, URL: "/static/css/base.css"}

	// 古い内容を即座に返す
	resp, err := uc.Intercept(context.Background(), req)
	require.NoError(t, err)
	require.True(t, resp.FromCache)
	require.Equal(t, []byte("body{color:red}"), resp.Body)

	// 更新完了後は新しい内容が返る
	uc.WaitIdle()

	resp, err = uc.Intercept(context.Background(), req)
	require.NoError(t, err)
	require.True(t, resp.FromCache)
	require.Equal(t, []byte("body{color:blue}"), resp.Body)

	uc.WaitIdle()
}

func TestInterceptMissPropagatesNetworkFailure(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.setDown(true)

	store := newTestStore(t)
	uc := newTestUseCase(t, store, fetcher, ShellConfig{
		Generation:   "shell-v1",
		PinnedAssets: []string{"/"},
	})

	_, err := uc.Intercept(context.Background(), &domain.ShellRequest{
		Method: http.MethodGet,
		URL:    "/static/js/missing.js",
	})
	require.Error(t, err)

	var fetchErr *domain.ErrFetchFailed
	require.ErrorAs(t, err, &fetchErr)
}

func TestGenerationBumpDropsOldCache(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.set("/", "v1 shell")
	fetcher.set("/static/css/base.css", "body{}")

	store := newTestStore(t)

	// 第1世代のインストールと有効化
	uc1 := newTestUseCase(t, store, fetcher, ShellConfig{
		Generation:   "shell-v1",
		PinnedAssets: []string{"/", "/static/css/base.css"},
	})
	require.NoError(t, uc1.Initialize(context.Background()))
	require.NoError(t, uc1.Activate(context.Background()))

	// 第2世代のインストールは片方の取得失敗で中断される
	fetcher.errs["/static/css/base.css"] = errors.New("connection refused")
	uc2 := newTestUseCase(t, store, fetcher, ShellConfig{
		Generation:   "shell-v2",
		PinnedAssets: []string{"/", "/static/css/base.css"},
	})
	require.Error(t, uc2.Initialize(context.Background()))

	// 第1世代が現役のまま応答を続ける
	generations, err := store.Generations()
	require.NoError(t, err)
	require.Equal(t, []string{"shell-v1"}, generations)

	fetcher.setDown(true)
	resp, err := uc1.Intercept(context.Background(), &domain.ShellRequest{
		Method: http.MethodGet,
		URL:    "/",
	})
	require.NoError(t, err)
	require.Equal(t, []byte("v1 shell"), resp.Body)

	uc1.WaitIdle()
}

func TestInterceptRefreshCountsOnce(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.set("/", "<html>shell</html>")

	store := newTestStore(t)
	uc := newTestUseCase(t, store, fetcher, ShellConfig{
		Generation:   "shell-v1",
		PinnedAssets: []string{"/"},
	})
	require.NoError(t, uc.Initialize(context.Background()))
	require.Equal(t, 1, fetcher.callCount("/"))

	// キャッシュヒット1回につきネットワーク取得は1回だけ増える
	_, err := uc.Intercept(context.Background(), &domain.ShellRequest{
		Method: http.MethodGet,
		URL:    "/",
	})
	require.NoError(t, err)
	uc.WaitIdle()

	require.Equal(t, 2, fetcher.callCount("/"))
}
