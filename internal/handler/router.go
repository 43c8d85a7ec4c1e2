package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/opsdeck/internal/metrics"
	"github.com/hitoshi/opsdeck/internal/middleware"
	"github.com/hitoshi/opsdeck/internal/model"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	TokenVerifier      middleware.TokenVerifier
	CORSAllowedOrigins []string
	RateLimiter        *middleware.RateLimiter
	Logger             *slog.Logger

	// サービス
	AuthService AuthServiceInterface
	UserService UserServiceInterface

	// 観測
	DB               *sql.DB
	MetricsCollector metrics.MetricsCollector
	MetricsGatherer  prometheus.Gatherer

	// /api/status で返すメタ情報
	Version     string
	Environment string
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → SecurityHeaders → CORS → Logging → Metrics
//
// 認証エンドポイント（login/register/refresh）はIP単位の専用レート制限を持ち、
// それ以外の/api配下はBearer認証の後にユーザー単位のレート制限がかかる。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigins))
	if deps.Logger != nil {
		r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	}
	if deps.MetricsCollector != nil {
		r.Use(metrics.Middleware(deps.MetricsCollector))
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.MetricsCollector)
	userHandler := NewUserHandler(deps.UserService)

	// --- 認証不要のルート ---

	r.Get("/health", healthHandler(deps.DB))
	r.Get("/api/status", statusHandler(deps.Version, deps.Environment))

	if deps.MetricsGatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.MetricsGatherer))
	}

	r.Route("/api/auth", func(r chi.Router) {
		// ログイン・登録・再発行はIP単位の厳しいレート制限
		r.Group(func(r chi.Router) {
			if deps.RateLimiter != nil {
				r.Use(deps.RateLimiter.AuthMiddleware())
			}
			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
			r.Post("/refresh", authHandler.Refresh)
		})

		// --- Bearer認証が必要なルート ---
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewAuthMiddleware(deps.TokenVerifier))
			if deps.RateLimiter != nil {
				r.Use(deps.RateLimiter.GeneralMiddleware())
			}

			r.Get("/me", authHandler.Me)
			r.Post("/logout", authHandler.Logout)
			r.Put("/profile", authHandler.UpdateProfile)
			r.Delete("/delete-account", authHandler.DeleteAccount)
		})
	})

	// --- 管理者専用ルート ---
	r.Route("/api/users", func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.TokenVerifier))
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.GeneralMiddleware())
		}
		r.Use(middleware.NewRequireRoleMiddleware(model.RoleAdmin))

		r.Get("/", userHandler.List)
		r.Post("/", userHandler.Create)
		r.Patch("/status/bulk", userHandler.BulkUpdateStatus)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", userHandler.Get)
			r.Put("/", userHandler.Update)
			r.Delete("/", userHandler.Delete)
		})
	})

	return r
}

// NewDegradedRouter は必須設定が欠落している場合の縮退ルーターを返す。
// /healthは縮退状態を報告し、それ以外のすべてのリクエストに503を返す。
// プロセスをクラッシュさせず、設定不備を運用者が観測できるようにする。
func NewDegradedRouter(missing []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewRecoveryMiddleware())

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":  "degraded",
			"missing": missing,
		})
	})

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		middleware.WriteErrorResponse(w, req, http.StatusServiceUnavailable, &model.APIError{
			Code:    model.ErrCodeUnavailable,
			Message: "Service unavailable: server is not configured",
		})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		middleware.WriteErrorResponse(w, req, http.StatusServiceUnavailable, &model.APIError{
			Code:    model.ErrCodeUnavailable,
			Message: "Service unavailable: server is not configured",
		})
	})

	return r
}

// healthHandler はDB疎通を含むヘルスチェックを返す。
func healthHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "ok"
		statusCode := http.StatusOK

		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.PingContext(ctx); err != nil {
				slog.Error("health check db ping failed", slog.String("error", err.Error()))
				status = "unhealthy"
				statusCode = http.StatusServiceUnavailable
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		json.NewEncoder(w).Encode(map[string]string{
			"status": status,
		})
	}
}

// statusHandler はサービスのメタ情報を返す。
func statusHandler(version, environment string) http.HandlerFunc {
	startedAt := time.Now()
	return func(w http.ResponseWriter, r *http.Request) {
		writeSuccess(w, http.StatusOK, "", map[string]any{
			"service":        "opsdeck-api",
			"version":        version,
			"environment":    environment,
			"uptime_seconds": int(time.Since(startedAt).Seconds()),
		})
	}
}
