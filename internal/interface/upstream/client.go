package upstream

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"shellcache/internal/domain"
)

// Client はオリジンサーバーへの取得を担当するクライアント実装.
// アイドル接続はホスト単位でプールされる.
type Client struct {
	origin *url.URL
	hc     *http.Client
}

// Config は上流クライアントの設定を表す.
type Config struct {
	Timeout     time.Duration
	MaxIdle     int
	IdleTimeout time.Duration
}

// DefaultConfig はデフォルトのクライアント設定を返す.
func DefaultConfig() Config {
	return Config{
		Timeout:     30 * time.Second,
		MaxIdle:     32,
		IdleTimeout: 90 * time.Second,
	}
}

// Verify interface implementation.
var _ domain.AssetFetcher = (*Client)(nil)

// New は新しいClientインスタンスを作成.
func New(origin string, config Config) (*Client, error) {
	base, err := url.Parse(origin)
	if err != nil {
		return nil, fmt.Errorf("invalid origin %q: %w", origin, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("origin %q must be an absolute URL", origin)
	}

	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		MaxIdleConns:        config.MaxIdle,
		MaxIdleConnsPerHost: config.MaxIdle,
		IdleConnTimeout:     config.IdleTimeout,
	}

	return &Client{
		origin: base,
		hc: &http.Client{
			Transport: transport,
			Timeout:   config.Timeout,
		},
	}, nil
}

// Fetch はリクエストをオリジンへ転送しレスポンスを返す.
// 相対URLはオリジンを基準に解決し、絶対URLはそのまま使用する.
func (c *Client) Fetch(ctx context.Context, req *domain.ShellRequest) (
	*domain.ShellResponse, error,
) {
	target, err := c.resolveURL(req.URL)
	if err != nil {
		return nil, &domain.ErrFetchFailed{URL: req.URL, Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, nil)
	if err != nil {
		return nil, &domain.ErrFetchFailed{URL: req.URL, Err: err}
	}

	for key, values := range req.Headers {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}

	resp, err := c.hc.Do(httpReq)
	if err != nil {
		return nil, &domain.ErrFetchFailed{URL: req.URL, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.ErrFetchFailed{URL: req.URL, Err: err}
	}

	return &domain.ShellResponse{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       body,
	}, nil
}

// CloseIdleConnections はプール中のアイドル接続を閉じる.
func (c *Client) CloseIdleConnections() {
	c.hc.CloseIdleConnections()
}

// resolveURL はリクエストURLを絶対URLに解決.
func (c *Client) resolveURL(raw string) (string, error) {
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw, nil
	}

	ref, err := url.Parse(raw)
	if err != nil {
		return "", err
	}

	return c.origin.ResolveReference(ref).String(), nil
}
