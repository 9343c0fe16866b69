package domain

import (
	"context"
	"time"
)

// ShellRequest は制御対象ページからの外向きリクエストを表す.
type ShellRequest struct {
	Method    string
	URL       string
	Headers   map[string][]string
	CreatedAt time.Time
}

// ShellResponse はインターセプト結果のレスポンスを表す.
type ShellResponse struct {
	StatusCode int
	Headers    map[string][]string
	Body       []byte
	FromCache  bool
	Bypassed   bool
}

// AssetFetcher はオリジンサーバーへのネットワーク取得を担当.
type AssetFetcher interface {
	Fetch(ctx context.Context, req *ShellRequest) (*ShellResponse, error)
}
