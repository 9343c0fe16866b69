package domain

// BypassRule は動的データのキャッシュ除外ルールを表す.
type BypassRule struct {
	ID          string   `json:"id"`
	APIPrefixes []string `json:"api_prefixes"`
	TaskMarkers []string `json:"task_markers"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at"`
}

// BypassPolicy はリクエストパスのキャッシュ除外判定インターフェース.
type BypassPolicy interface {
	ShouldBypass(path string) bool
	Reload() error
}
