package usecase

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"shellcache/internal/domain"
)

// revalidateTimeout はバックグラウンド更新の上限時間
const revalidateTimeout = 30 * time.Second

// ShellUseCase はオフラインシェルキャッシュの主要なユースケースを実装
type ShellUseCase struct {
	store   domain.CacheStore
	fetcher domain.AssetFetcher
	policy  domain.BypassPolicy
	metrics domain.MetricsCollector
	logger  domain.Logger

	generation string
	pinned     []string

	reval sync.WaitGroup
}

// ShellConfig はシェルキャッシュの設定を表す
type ShellConfig struct {
	Generation   string
	PinnedAssets []string
}

// NewShellUseCase は新しいShellUseCaseインスタンスを作成
func NewShellUseCase(
	store domain.CacheStore,
	fetcher domain.AssetFetcher,
	policy domain.BypassPolicy,
	metrics domain.MetricsCollector,
	logger domain.Logger,
	config ShellConfig,
) *ShellUseCase {
	return &ShellUseCase{
		store:      store,
		fetcher:    fetcher,
		policy:     policy,
		metrics:    metrics,
		logger:     logger,
		generation: config.Generation,
		pinned:     config.PinnedAssets,
	}
}

// Generation は現行世代名を返す
func (uc *ShellUseCase) Generation() string {
	return uc.generation
}

// Initialize はピン留めアセットを現行世代のバケットへ取り込む.
// 1つでも取得に失敗した場合は新規作成した世代を破棄して失敗を返す.
// 部分的なピン留めは「準備完了」として残さない. 再起動などで同名の
// バケットが既に存在する場合は、完成済みの前回分をそのまま残す.
func (uc *ShellUseCase) Initialize(ctx context.Context) error {
	preExisting, err := uc.generationExists()
	if err != nil {
		return fmt.Errorf("failed to list generations: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	for _, asset := range uc.pinned {
		asset := asset
		g.Go(func() error {
			req := &domain.ShellRequest{
				Method:    http.MethodGet,
				URL:       asset,
				CreatedAt: time.Now(),
			}

			resp, err := uc.fetcher.Fetch(gctx, req)
			if err != nil {
				return &domain.ErrPinFailed{URL: asset, Err: err}
			}
			if resp.StatusCode < 200 || resp.StatusCode > 299 {
				return &domain.ErrPinFailed{
					URL: asset,
					Err: fmt.Errorf("unexpected status %d", resp.StatusCode),
				}
			}

			return uc.storeResponse(asset, resp)
		})
	}

	if err := g.Wait(); err != nil {
		// 新規に作り始めたバケットだけを破棄する. 既存の現行世代は
		// 完成済みのスナップショットなので応答を続けさせる
		if !preExisting {
			if delErr := uc.store.DeleteGeneration(uc.generation); delErr != nil {
				uc.logger.Error("Failed to discard partial generation", delErr,
					map[string]interface{}{"generation": uc.generation})
			}
		}
		uc.metrics.RecordError()
		return err
	}

	uc.logger.Info("Shell cache initialized", map[string]interface{}{
		"generation":    uc.generation,
		"pinned_assets": len(uc.pinned),
	})
	return nil
}

// Activate は現行世代以外のバケットを全て削除する.
// 完了後はストレージ上に現行世代のみが残る.
func (uc *ShellUseCase) Activate(ctx context.Context) error {
	generations, err := uc.store.Generations()
	if err != nil {
		return fmt.Errorf("failed to list generations: %w", err)
	}

	for _, name := range generations {
		if name == uc.generation {
			continue
		}
		if err := uc.store.DeleteGeneration(name); err != nil {
			return fmt.Errorf("failed to delete generation %s: %w", name, err)
		}
		uc.logger.Info("Deleted stale generation", map[string]interface{}{
			"generation": name,
		})
	}

	return nil
}

// Intercept はリクエストを分類し、除外対象はネットワークへ素通しし、
// それ以外はstale-while-revalidate戦略で応答する
func (uc *ShellUseCase) Intercept(
	ctx context.Context, req *domain.ShellRequest,
) (*domain.ShellResponse, error) {
	uc.metrics.RecordRequest()

	// 動的データはキャッシュに一切触れない
	if uc.policy.ShouldBypass(requestPath(req.URL)) {
		uc.metrics.RecordBypass()
		resp, err := uc.passThrough(ctx, req)
		if resp != nil {
			resp.Bypassed = true
		}
		return resp, err
	}

	// キャッシュの識別子はGETに限定. GET以外もキャッシュには触れない
	if req.Method != http.MethodGet {
		resp, err := uc.passThrough(ctx, req)
		if resp != nil {
			resp.Bypassed = true
		}
		return resp, err
	}

	if entry, ok := uc.store.Get(uc.generation, req.URL); ok {
		uc.metrics.RecordCacheHit()
		uc.revalidate(req)

		uc.metrics.AddBytesServed(int64(len(entry.Body)))
		return &domain.ShellResponse{
			StatusCode: entry.StatusCode,
			Headers:    entry.Headers,
			Body:       entry.Body,
			FromCache:  true,
		}, nil
	}

	uc.metrics.RecordCacheMiss()

	resp, err := uc.fetcher.Fetch(ctx, req)
	if err != nil {
		// キャッシュに代替が無い場合は失敗をそのまま伝播
		uc.metrics.RecordError()
		return nil, err
	}

	if err := uc.storeResponse(req.URL, resp); err != nil {
		uc.logger.Error("Failed to store fetched response", err,
			map[string]interface{}{"url": req.URL})
	}

	uc.metrics.AddBytesServed(int64(len(resp.Body)))
	return resp, nil
}

// generationExists は現行世代のバケットが既にあるか確認
func (uc *ShellUseCase) generationExists() (bool, error) {
	generations, err := uc.store.Generations()
	if err != nil {
		return false, err
	}
	for _, name := range generations {
		if name == uc.generation {
			return true, nil
		}
	}
	return false, nil
}

// WaitIdle は進行中のバックグラウンド更新の完了を待つ
func (uc *ShellUseCase) WaitIdle() {
	uc.reval.Wait()
}

// passThrough はキャッシュを介さずにネットワークへ転送
func (uc *ShellUseCase) passThrough(
	ctx context.Context, req *domain.ShellRequest,
) (*domain.ShellResponse, error) {
	resp, err := uc.fetcher.Fetch(ctx, req)
	if err != nil {
		uc.metrics.RecordError()
		return nil, err
	}

	uc.metrics.AddBytesServed(int64(len(resp.Body)))
	return resp, nil
}

// revalidate はキャッシュ応答後のバックグラウンド更新を開始する.
// ページ側の中断とは独立して完走させるため親コンテキストは引き継がない.
// 更新の失敗は呼び出し元に見せない
func (uc *ShellUseCase) revalidate(req *domain.ShellRequest) {
	uc.reval.Add(1)
	go func() {
		defer uc.reval.Done()

		ctx, cancel := context.WithTimeout(context.Background(), revalidateTimeout)
		defer cancel()

		resp, err := uc.fetcher.Fetch(ctx, req)
		if err != nil {
			uc.metrics.RecordRevalidationFailure()
			uc.logger.Debug("Revalidation failed", map[string]interface{}{
				"url":   req.URL,
				"error": err.Error(),
			})
			return
		}

		if err := uc.storeResponse(req.URL, resp); err != nil {
			uc.metrics.RecordRevalidationFailure()
			uc.logger.Error("Failed to store revalidated response", err,
				map[string]interface{}{"url": req.URL})
			return
		}

		uc.metrics.RecordRevalidation()
	}()
}

// storeResponse はレスポンスの複製を現行世代へ保存
func (uc *ShellUseCase) storeResponse(key string, resp *domain.ShellResponse) error {
	return uc.store.Put(uc.generation, key, &domain.CacheEntry{
		StatusCode: resp.StatusCode,
		Headers:    resp.Headers,
		Body:       resp.Body,
		StoredAt:   time.Now(),
	})
}

// requestPath はリクエストURLからパス部分を取り出す
func requestPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Path
}
