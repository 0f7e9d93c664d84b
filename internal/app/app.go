package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/HridoyExe/library-management/internal/catalog"
	"github.com/HridoyExe/library-management/internal/config"
	"github.com/HridoyExe/library-management/internal/database"
	"github.com/HridoyExe/library-management/internal/handler"
	"github.com/HridoyExe/library-management/internal/lending"
	"github.com/HridoyExe/library-management/internal/logger"
	"github.com/HridoyExe/library-management/internal/metrics"
	"github.com/HridoyExe/library-management/internal/middleware"
	"github.com/HridoyExe/library-management/internal/repository"
	"github.com/HridoyExe/library-management/internal/security"
	"github.com/HridoyExe/library-management/internal/worker/audit"
)

// shutdownTimeout はグレースフルシャットダウンの待ち時間。
const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、LOG_LEVELに従ったJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, *slog.Logger, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	// 3. 設定されたログレベルで再構成する
	l := logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))

	return cfg, l, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。SIGINTまたはSIGTERMで停止する。
func Run(w io.Writer, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return run(ctx, w, args)
}

func run(ctx context.Context, w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, l, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	l.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("storage_backend", cfg.StorageBackend),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg, l)
	case CommandMigrate:
		return runMigrate(cfg, l)
	default:
		return runServe(ctx, cfg, l)
	}
}

// storage は選択されたバックエンドのリポジトリ一式を保持する。
type storage struct {
	authors repository.AuthorRepository
	books   repository.BookRepository
	members repository.MemberRepository
	records repository.BorrowRecordRepository
	lending repository.LendingRepository
	audit   repository.AuditRepository
	health  handler.HealthChecker
	close   func() error
}

// openStorage はSTORAGE_BACKENDに応じてリポジトリを構築する。
// PostgreSQLの場合は接続確認まで行う。
func openStorage(ctx context.Context, cfg *config.Config, l *slog.Logger) (*storage, error) {
	if cfg.StorageBackend == config.StorageMemory {
		store := repository.NewMemoryStore()
		l.Warn("using in-memory storage; data is lost on restart")
		return &storage{
			authors: store.Authors(),
			books:   store.Books(),
			members: store.Members(),
			records: store.BorrowRecords(),
			lending: store.Lending(),
			audit:   store.Audit(),
			health:  store,
			close:   func() error { return nil },
		}, nil
	}

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	l.Info("database connection established",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	return &storage{
		authors: repository.NewPostgresAuthorRepo(db),
		books:   repository.NewPostgresBookRepo(db),
		members: repository.NewPostgresMemberRepo(db),
		records: repository.NewPostgresBorrowRecordRepo(db),
		lending: repository.NewPostgresLendingRepo(db),
		audit:   repository.NewPostgresAuditRepo(db),
		health:  db,
		close:   db.Close,
	}, nil
}

// newMetrics はプロセス用のレジストリとコレクターを生成する。
func newMetrics() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewCollector(reg)
}

// runServe はAPIサーバーモードで起動する。
// ストレージを開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
// メモリバックエンドでは別プロセスのワーカーからデータが見えないため、監査ジョブも同じプロセスで動かす。
func runServe(ctx context.Context, cfg *config.Config, l *slog.Logger) error {
	// 1. ストレージ
	store, err := openStorage(ctx, cfg, l)
	if err != nil {
		return err
	}
	defer store.close()

	// 2. メトリクス
	reg, collector := newMetrics()

	// 3. ドメインサービスの初期化
	catalogService := catalog.NewService(
		store.authors, store.books, store.members,
		security.NewBiographySanitizer(), l,
	)
	lendingService := lending.NewService(store.lending, store.records, collector, l)

	// 4. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitLending),
	)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            l,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Metrics:           collector,
		MetricsHandler:    metrics.Handler(reg),
		Pagination: handler.PaginationConfig{
			PageSize:    cfg.PageSize,
			MaxPageSize: cfg.MaxPageSize,
		},
		HealthChecker: store.health,

		AuthorService: catalogService,
		BookService:   catalogService,
		MemberService: catalogService,

		LendingService: lendingService,
	})

	// 5. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		l.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		l.Info("shutting down API server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	if cfg.StorageBackend == config.StorageMemory {
		auditJob := audit.NewAuditJob(store.audit, collector, l)
		g.Go(func() error {
			auditJob.Start(gctx, cfg.AuditInterval)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	l.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 貸出状態の監査ジョブをAUDIT_INTERVAL毎に実行し、ctxがキャンセルされるまでブロックする。
func runWorker(ctx context.Context, cfg *config.Config, l *slog.Logger) error {
	if cfg.StorageBackend == config.StorageMemory {
		return fmt.Errorf("worker requires the %q storage backend; the memory backend audits inside serve", config.StoragePostgres)
	}

	store, err := openStorage(ctx, cfg, l)
	if err != nil {
		return err
	}
	defer store.close()

	_, collector := newMetrics()
	auditJob := audit.NewAuditJob(store.audit, collector, l)

	l.Info("worker starting", slog.Duration("audit_interval", cfg.AuditInterval))

	// 監査ジョブをメインgoroutineで実行（ブロッキング）
	auditJob.Start(ctx, cfg.AuditInterval)

	l.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config, l *slog.Logger) error {
	if cfg.StorageBackend == config.StorageMemory {
		l.Info("memory storage backend has no schema; skipping migrations")
		return nil
	}

	l.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	version, dirty, err := database.SchemaVersion(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	l.Info("database migrations completed successfully",
		slog.Uint64("schema_version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
// URLとして解釈できない場合は全体を伏せる。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
