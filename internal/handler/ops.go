// Package handler は運用向けHTTPエンドポイント（ヘルスチェックとメトリクス）を提供する。
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/listingsweep/internal/metrics"
	"github.com/hitoshi/listingsweep/internal/middleware"
)

// healthCheckTimeout は依存先1つあたりの疎通確認のタイムアウト。
const healthCheckTimeout = 3 * time.Second

// Pinger は疎通確認ができる依存先。*sql.DBが満たす。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PingerFunc は関数をPingerとして扱うアダプタ。
type PingerFunc func(ctx context.Context) error

// PingContext はf(ctx)を呼ぶ。
func (f PingerFunc) PingContext(ctx context.Context) error {
	return f(ctx)
}

// OpsDeps はNewOpsRouterに必要な依存関係をまとめた構造体。
type OpsDeps struct {
	// Checks は依存先の名前と疎通確認。すべて成功した場合のみ正常とみなす。
	Checks   map[string]Pinger
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// healthResponse はヘルスチェックのレスポンス。
type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// NewOpsRouter は/healthと/metricsを提供するchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RecoveryMiddleware → LoggingMiddleware
func NewOpsRouter(deps *OpsDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	r.Get("/health", healthHandler(deps.Checks))
	r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))

	return r
}

// healthHandler は依存先の疎通を確認し、結果をJSONで返す。
func healthHandler(checks map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(checks))}
		code := http.StatusOK

		for name, p := range checks {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			err := p.PingContext(ctx)
			cancel()

			if err != nil {
				resp.Status = "unavailable"
				resp.Checks[name] = err.Error()
				code = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(resp)
	}
}
