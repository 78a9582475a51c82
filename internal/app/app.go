// Package app はコマンドの解析と依存関係のワイヤリングを行う。
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/listingsweep/internal/availability"
	"github.com/hitoshi/listingsweep/internal/config"
	"github.com/hitoshi/listingsweep/internal/cursor"
	"github.com/hitoshi/listingsweep/internal/database"
	"github.com/hitoshi/listingsweep/internal/handler"
	"github.com/hitoshi/listingsweep/internal/logger"
	"github.com/hitoshi/listingsweep/internal/marketplace"
	"github.com/hitoshi/listingsweep/internal/metrics"
	"github.com/hitoshi/listingsweep/internal/repository"
	"github.com/hitoshi/listingsweep/internal/security"
	"github.com/hitoshi/listingsweep/internal/sold"
	"github.com/hitoshi/listingsweep/internal/vectorindex"
	"github.com/hitoshi/listingsweep/internal/worker/reconcile"
)

// pushJobName はPushgatewayに送信する際のジョブ名。
const pushJobName = "listingsweep"

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再初期化する
	logger.SetupDefault(w, cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("METRICS_PORT")
		if port == "" {
			port = "9090"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("domain", cfg.Domain),
		slog.String("job_prefix", cfg.JobPrefix),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runOnce(ctx, cfg)
	}
}

// components は照合ランに必要な依存関係をまとめたもの。
type components struct {
	db       *sql.DB
	index    *vectorindex.Index
	engine   *reconcile.Engine
	registry *prometheus.Registry
}

// buildComponents はDB接続を開き、照合ランの全依存関係をワイヤリングする。
func buildComponents(ctx context.Context, cfg *config.Config) (*components, error) {
	// 1. DB接続
	db, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("database connection established")

	// 2. ベクトルインデックス
	index, err := vectorindex.New(vectorindex.Config{
		URL:      cfg.OpenSearchURL,
		Index:    cfg.OpenSearchIndex,
		Username: cfg.OpenSearchUsername,
		Password: cfg.OpenSearchPassword,
	}, slog.Default())
	if err != nil {
		db.Close()
		return nil, err
	}

	// 3. メトリクス
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	// 4. リポジトリ
	cursorRepo := repository.NewPostgresCursorRepo(db)
	candidateRepo := repository.NewPostgresCandidateRepo(db)
	pointRepo := repository.NewPostgresPointRepo(db)
	soldRepo := repository.NewPostgresSoldRepo(db)

	// 5. マーケットプレイスと判定
	guard := security.NewURLGuard(cfg.MarketplaceHost())
	client := marketplace.NewClient(
		guard.NewSafeClient(cfg.FetchTimeout), slog.Default(),
		cfg.BaseURL(), cfg.RequestsPerSecond, cfg.FetchMaxSize,
	)
	resolver := availability.NewResolver(client, guard, availability.SoldMarker{
		Attr:  cfg.SoldContainerAttr,
		Value: cfg.SoldContainerValue,
		Text:  cfg.SoldStatusText,
	}, collector, slog.Default())

	// 6. カーソルと反映
	random := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(os.Getpid())))
	cursors := cursor.NewManager(cursorRepo, random, cursor.Probabilities{
		TopBrands: cfg.TopBrandsAlpha,
		Likes:     cfg.SortByLikesAlpha,
		Date:      cfg.SortByDateAlpha,
	}, cfg.JobPrefix, slog.Default())
	coordinator := sold.NewCoordinator(pointRepo, index, soldRepo, slog.Default())

	// 7. 照合エンジン
	engine := reconcile.NewEngine(cursors, candidateRepo, resolver, coordinator, collector, reconcile.Settings{
		JobPrefix:   cfg.JobPrefix,
		PageSize:    cfg.PageSize,
		FlushEvery:  cfg.FlushEvery,
		TopBrands:   cfg.TopBrands,
		UseFastPath: cfg.UseAPI,
	}, slog.Default())

	return &components{db: db, index: index, engine: engine, registry: reg}, nil
}

// runOnce は照合ランを1回実行する。
// PUSHGATEWAY_URLが設定されている場合は終了前にメトリクスを送信する。
func runOnce(ctx context.Context, cfg *config.Config) error {
	c, err := buildComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.db.Close()

	_, runErr := c.engine.RunOnce(ctx)

	if cfg.PushgatewayURL != "" {
		// キャンセル済みのctxでも送信できるよう独立したタイムアウトを使う
		pushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		hostname, _ := os.Hostname()
		if err := metrics.Push(pushCtx, cfg.PushgatewayURL, pushJobName, hostname, c.registry); err != nil {
			slog.Error("failed to push metrics", slog.String("error", err.Error()))
		}
	}

	if runErr != nil {
		return fmt.Errorf("reconciliation run failed: %w", runErr)
	}
	return nil
}

// runWorker はワーカーモードで起動する。
// 照合ランの定期実行とメトリクスサーバーをerrgroupで並行稼働させ、
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runWorker(ctx context.Context, cfg *config.Config) error {
	c, err := buildComponents(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.db.Close()

	router := handler.NewOpsRouter(&handler.OpsDeps{
		Checks: map[string]handler.Pinger{
			"database":   c.db,
			"opensearch": handler.PingerFunc(c.index.Ping),
		},
		Gatherer: c.registry,
		Logger:   slog.Default(),
	})

	server := &http.Server{
		Addr:         ":" + cfg.MetricsPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("metrics server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down worker...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		c.engine.Start(gctx, cfg.WorkerInterval)
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// ワーカーの/health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
