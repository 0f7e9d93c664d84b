package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/HridoyExe/library-management/internal/metrics"
	"github.com/HridoyExe/library-management/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Metrics           metrics.MetricsCollector
	MetricsHandler    http.Handler
	Pagination        PaginationConfig

	// ヘルスチェック
	HealthChecker HealthChecker

	// カタログ（著者・書籍・会員）
	AuthorService AuthorServiceInterface
	BookService   BookServiceInterface
	MemberService MemberServiceInterface

	// 貸出台帳
	LendingService LendingServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Recovery → SecurityHeaders → CORS → Logging → Metrics → RateLimit(General)
//
// /health と /metrics はレート制限の外に配置する。
// 貸出・返却には貸出専用のレート制限を追加で適用する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	if deps.Logger != nil {
		r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	}
	if deps.Metrics != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.Metrics))
	}

	pages := deps.Pagination
	if pages.PageSize <= 0 {
		pages = DefaultPaginationConfig()
	}

	authorHandler := NewAuthorHandler(deps.AuthorService, pages)
	bookHandler := NewBookHandler(deps.BookService, pages)
	memberHandler := NewMemberHandler(deps.MemberService, pages)
	recordHandler := NewBorrowRecordHandler(deps.LendingService, pages)

	// --- 運用エンドポイント ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- API ---
	r.Route("/api", func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// 著者
		r.Route("/authors", func(r chi.Router) {
			r.Get("/", authorHandler.List)
			r.Post("/", authorHandler.Create)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", authorHandler.Get)
				r.Put("/", authorHandler.Replace)
				r.Patch("/", authorHandler.Patch)
				r.Delete("/", authorHandler.Delete)
			})
		})

		// 書籍
		r.Route("/books", func(r chi.Router) {
			r.Get("/", bookHandler.List)
			r.Post("/", bookHandler.Create)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", bookHandler.Get)
				r.Put("/", bookHandler.Replace)
				r.Patch("/", bookHandler.Patch)
				r.Delete("/", bookHandler.Delete)

				// GET /api/books/{id}/borrow-records - 書籍ごとの貸出履歴
				r.Get("/borrow-records", recordHandler.ListForBook)
			})
		})

		// 会員
		r.Route("/members", func(r chi.Router) {
			r.Get("/", memberHandler.List)
			r.Post("/", memberHandler.Create)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", memberHandler.Get)
				r.Put("/", memberHandler.Replace)
				r.Patch("/", memberHandler.Patch)
				r.Delete("/", memberHandler.Delete)

				// GET /api/members/{id}/borrow-records - 会員ごとの貸出履歴
				r.Get("/borrow-records", recordHandler.ListForMember)
			})
		})

		// 貸出履歴と貸出・返却
		r.Route("/borrow-records", func(r chi.Router) {
			r.Get("/", recordHandler.List)
			r.With(deps.RateLimiter.LendingMiddleware()).Post("/borrow_book", recordHandler.BorrowBook)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", recordHandler.Get)
				r.Delete("/", recordHandler.Delete)
				r.With(deps.RateLimiter.LendingMiddleware()).Post("/return_book", recordHandler.ReturnBook)
			})
		})
	})

	return r
}
