package main

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// manifest はピン留めアセットと現行世代名の定義を表す.
// 世代名を更新することが旧世代キャッシュを破棄する唯一の手段となる.
type manifest struct {
	Generation   string   `yaml:"generation"`
	PinnedAssets []string `yaml:"pinned_assets"`
}

func loadManifest(path string) (*manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return createDefaultManifest(path)
		}
		return nil, err
	}

	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}

	return m.prepare()
}

func createDefaultManifest(path string) (*manifest, error) {
	m := &manifest{
		Generation: "shell-v1",
		PinnedAssets: []string{
			"/",
			"/static/css/base.css",
			"/static/js/main.js",
			"/static/icons/icon-192.png",
			"/static/icons/icon-512.png",
			"https://fonts.googleapis.com/css2?family=Inter:wght@400;600&display=swap",
		},
	}

	data, err := yaml.Marshal(m)
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return nil, err
	}

	return m, nil
}

// prepare はマニフェストを正規化して検証する
func (m *manifest) prepare() (*manifest, error) {
	m.Generation = strings.TrimSpace(m.Generation)
	if m.Generation == "" {
		return nil, fmt.Errorf("manifest: generation must not be empty")
	}

	assets := make([]string, 0, len(m.PinnedAssets))
	for _, a := range m.PinnedAssets {
		if a = strings.TrimSpace(a); a != "" {
			assets = append(assets, a)
		}
	}
	if len(assets) == 0 {
		return nil, fmt.Errorf("manifest: pinned_assets must not be empty")
	}
	m.PinnedAssets = assets

	return m, nil
}
