package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"

	"shellcache/internal/interface/handler"
	"shellcache/internal/interface/repository/cachestore"
	"shellcache/internal/interface/repository/logger"
	"shellcache/internal/interface/repository/metrics"
	"shellcache/internal/interface/repository/policy"
	"shellcache/internal/interface/upstream"
	"shellcache/internal/usecase"
)

const version = "1.2.0"

// config は起動設定を表す. 環境変数をデフォルトとしてフラグで上書きする.
type config struct {
	Listen              string        `env:"SHELLCACHE_LISTEN" envDefault:":8080"`
	OpsListen           string        `env:"SHELLCACHE_OPS_LISTEN" envDefault:":9090"`
	Origin              string        `env:"SHELLCACHE_ORIGIN" envDefault:"http://127.0.0.1:7860"`
	ConfigDir           string        `env:"SHELLCACHE_CONFIG_DIR" envDefault:"./configs"`
	LogDir              string        `env:"SHELLCACHE_LOG_DIR" envDefault:"./logs"`
	CacheDir            string        `env:"SHELLCACHE_CACHE_DIR" envDefault:"./cache"`
	MaxCacheSize        int64         `env:"SHELLCACHE_MAX_CACHE_SIZE" envDefault:"104857600"`
	MetricsSaveInterval time.Duration `env:"SHELLCACHE_METRICS_SAVE_INTERVAL" envDefault:"1m"`
}

func main() {
	cmd, err := newRootCmd()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() (*cobra.Command, error) {
	cfg := &config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	cmd := &cobra.Command{
		Use:   "shellcache",
		Short: "Offline shell cache controller",
		Long: `shellcache sits in front of an origin server and keeps its UI shell
available offline. Pinned static assets are fetched into a versioned cache
generation at startup and served with a stale-while-revalidate strategy,
while dynamic API and task endpoints always pass straight to the origin.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.Listen, "listen", cfg.Listen, "Shell server listen address")
	flags.StringVar(&cfg.OpsListen, "ops-listen", cfg.OpsListen, "Ops server listen address")
	flags.StringVar(&cfg.Origin, "origin", cfg.Origin, "Origin server base URL")
	flags.StringVar(&cfg.ConfigDir, "config-dir", cfg.ConfigDir, "Configuration directory")
	flags.StringVar(&cfg.LogDir, "log-dir", cfg.LogDir, "Log directory")
	flags.StringVar(&cfg.CacheDir, "cache-dir", cfg.CacheDir, "Cache directory")
	flags.Int64Var(&cfg.MaxCacheSize, "max-cache-size", cfg.MaxCacheSize, "Maximum cache size in bytes")
	flags.DurationVar(&cfg.MetricsSaveInterval, "metrics-save-interval", cfg.MetricsSaveInterval, "Metrics save interval")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the shellcache version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("shellcache %s\n", version)
		},
	})

	return cmd, nil
}

func run(cfg *config) error {
	// ディレクトリの準備
	if err := prepareDirectories(cfg); err != nil {
		return fmt.Errorf("failed to prepare directories: %w", err)
	}

	// ロガーの初期化
	loggerRepo, err := logger.New(
		cfg.LogDir,
		"shellcache.log",
		logger.DefaultRotationConfig(),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer loggerRepo.Close()

	// 除外ルールの初期化
	bypassPolicy, err := policy.New(filepath.Join(cfg.ConfigDir, "bypass.yaml"), loggerRepo)
	if err != nil {
		loggerRepo.Error("Failed to initialize bypass policy", err, nil)
		return err
	}
	defer bypassPolicy.Close()

	// キャッシュストアの初期化
	cacheStore, err := cachestore.New(cfg.CacheDir, cfg.MaxCacheSize)
	if err != nil {
		loggerRepo.Error("Failed to initialize cache store", err, nil)
		return err
	}

	// 上流クライアントの初期化
	fetcher, err := upstream.New(cfg.Origin, upstream.DefaultConfig())
	if err != nil {
		loggerRepo.Error("Failed to initialize upstream client", err, nil)
		return err
	}
	defer fetcher.CloseIdleConnections()

	// マニフェストの読み込み
	m, err := loadManifest(filepath.Join(cfg.ConfigDir, "manifest.yaml"))
	if err != nil {
		loggerRepo.Error("Failed to load manifest", err, nil)
		return err
	}

	// メトリクスの初期化
	metricsCollector := metrics.New(filepath.Join(cfg.LogDir, "metrics.json"))

	// シェルキャッシュのユースケース作成
	shellUseCase := usecase.NewShellUseCase(
		cacheStore,       // domain.CacheStore
		fetcher,          // domain.AssetFetcher
		bypassPolicy,     // domain.BypassPolicy
		metricsCollector, // domain.MetricsCollector
		loggerRepo,       // domain.Logger
		usecase.ShellConfig{
			Generation:   m.Generation,
			PinnedAssets: m.PinnedAssets,
		},
	)

	// 世代の初期化と有効化. 初期化に失敗した場合は新世代を有効化せず、
	// ディスク上の前世代バケットはそのまま残る
	initCtx, initCancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer initCancel()

	if err := shellUseCase.Initialize(initCtx); err != nil {
		loggerRepo.Error("Shell cache initialization failed", err, map[string]interface{}{
			"generation": m.Generation,
		})
		return err
	}

	if err := shellUseCase.Activate(initCtx); err != nil {
		loggerRepo.Error("Shell cache activation failed", err, nil)
		return err
	}

	// メトリクスのユースケース作成
	metricsUseCase := usecase.NewMetricsUseCase(
		metricsCollector,
		loggerRepo,
		usecase.MetricsConfig{
			SaveInterval: cfg.MetricsSaveInterval,
			MetricsFile:  filepath.Join(cfg.LogDir, "metrics.json"),
		},
	)
	defer metricsUseCase.Stop()

	// ハンドラーの作成
	shellHandler := handler.NewShellHandler(shellUseCase, loggerRepo)
	metricsHandler := handler.NewMetricsHandler(metricsUseCase, loggerRepo)

	// シェルサーバーの設定
	shellServer := &http.Server{
		Addr:    cfg.Listen,
		Handler: shellHandler,
	}

	// 運用サーバーの設定
	opsServer := &http.Server{
		Addr: cfg.OpsListen,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/metrics":
				metricsHandler.HandleMetrics(w, r)
			case "/stats":
				metricsHandler.HandleStats(w, r)
			case "/healthz":
				metricsHandler.HandleHealth(w, r)
			default:
				http.NotFound(w, r)
			}
		}),
	}

	// シャットダウンハンドラの設定
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)

	// サーバーの起動
	go func() {
		loggerRepo.Info("Starting shell server", map[string]interface{}{
			"listen":     cfg.Listen,
			"origin":     cfg.Origin,
			"generation": m.Generation,
		})
		if err := shellServer.ListenAndServe(); err != http.ErrServerClosed {
			loggerRepo.Error("Shell server error", err, nil)
			cancel()
		}
	}()

	go func() {
		loggerRepo.Info("Starting ops server", map[string]interface{}{
			"listen": cfg.OpsListen,
		})
		if err := opsServer.ListenAndServe(); err != http.ErrServerClosed {
			loggerRepo.Error("Ops server error", err, nil)
			cancel()
		}
	}()

	// シグナル待機
	select {
	case <-signalChan:
		loggerRepo.Info("Shutdown signal received", nil)
	case <-ctx.Done():
		loggerRepo.Info("Shutdown initiated", nil)
	}

	// グレースフルシャットダウン
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := shellServer.Shutdown(shutdownCtx); err != nil {
		loggerRepo.Error("Error shutting down shell server", err, nil)
	}

	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		loggerRepo.Error("Error shutting down ops server", err, nil)
	}

	// 進行中のバックグラウンド更新を完了させてから終了
	shellUseCase.WaitIdle()

	loggerRepo.Info("Shutdown complete", nil)
	return nil
}

func prepareDirectories(cfg *config) error {
	dirs := []string{
		cfg.ConfigDir,
		cfg.LogDir,
		cfg.CacheDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %v", dir, err)
		}
	}

	return nil
}
