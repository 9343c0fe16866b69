package policy

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type bypassConfig struct {
	APIPrefixes []string `yaml:"api_prefixes"`
	TaskMarkers []string `yaml:"task_markers"`
}

func loadConfigFile(path string) (*bypassConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return createDefaultConfig(path)
		}
		return nil, err
	}

	var config bypassConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, err
	}

	return &config, nil
}

func createDefaultConfig(path string) (*bypassConfig, error) {
	config := &bypassConfig{
		APIPrefixes: []string{"/api/"},
		TaskMarkers: []string{"/tasks/"},
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return nil, err
	}

	return config, nil
}

// prepare は設定データを正規化する
func (c *bypassConfig) prepare() ([]string, []string) {
	prefixes := make([]string, 0, len(c.APIPrefixes))
	markers := make([]string, 0, len(c.TaskMarkers))

	for _, p := range c.APIPrefixes {
		if p = strings.TrimSpace(p); p != "" {
			prefixes = append(prefixes, p)
		}
	}

	for _, m := range c.TaskMarkers {
		if m = strings.TrimSpace(m); m != "" {
			markers = append(markers, m)
		}
	}

	return prefixes, markers
}
