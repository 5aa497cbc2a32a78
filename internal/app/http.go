package app

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/osscampus/contrib-board/internal/health"
	"github.com/osscampus/contrib-board/internal/telemetry"
)

// Handler wires the API, webhook, metrics, and health endpoints on a single
// router.
func (r *Runtime) Handler() http.Handler {
	router := chi.NewRouter()
	traceMode := telemetry.TraceMode()
	admin := requireAdminToken(r.cfg.Server.AdminToken, r.logger)

	router.Route("/api/v1", func(api chi.Router) {
		api.Method(http.MethodGet, "/leaderboard",
			wrapHTTPHandler(traceMode, "leaderboard", http.HandlerFunc(r.handleLeaderboard)))
		api.Method(http.MethodGet, "/contributions",
			wrapHTTPHandler(traceMode, "contributions", http.HandlerFunc(r.handleListContributions)))
		api.Method(http.MethodGet, "/repos/{owner}/{repo}/stats",
			wrapHTTPHandler(traceMode, "repo_stats", http.HandlerFunc(r.handleRepoStats)))

		api.Method(http.MethodPost, "/webhooks/github",
			wrapHTTPHandler(traceMode, "webhook", r.WebhookHandler()))

		api.Route("/admin", func(adminRouter chi.Router) {
			adminRouter.Use(admin)
			adminRouter.Method(http.MethodPost, "/sync",
				wrapHTTPHandler(traceMode, "admin_sync", http.HandlerFunc(r.handleAdminSync)))
			adminRouter.Method(http.MethodPost, "/rebuild",
				wrapHTTPHandler(traceMode, "admin_rebuild", http.HandlerFunc(r.handleAdminRebuild)))
			adminRouter.Method(http.MethodDelete, "/contributions",
				wrapHTTPHandler(traceMode, "admin_wipe", http.HandlerFunc(r.handleAdminWipe)))
			adminRouter.Method(http.MethodPost, "/students",
				wrapHTTPHandler(traceMode, "admin_create_student", http.HandlerFunc(r.handleCreateStudent)))
			adminRouter.Method(http.MethodGet, "/students",
				wrapHTTPHandler(traceMode, "admin_list_students", http.HandlerFunc(r.handleListStudents)))
		})
	})

	healthHandler := health.NewHandler(r)
	router.Handle("/metrics", wrapHTTPHandler(traceMode, "metrics", r.metrics.Handler()))
	router.Handle("/livez", wrapHTTPHandler(traceMode, "livez", healthHandler))
	router.Handle("/readyz", wrapHTTPHandler(traceMode, "readyz", healthHandler))
	router.Handle("/healthz", wrapHTTPHandler(traceMode, "healthz", healthHandler))
	return router
}

func requireAdminToken(token string, logger *zap.Logger) func(http.Handler) http.Handler {
	if token == "" {
		logger.Warn("admin token not configured, admin endpoints are unauthenticated")
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if token == "" {
				next.ServeHTTP(w, req)
				return
			}
			provided, ok := strings.CutPrefix(req.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
				writeError(w, http.StatusUnauthorized, "invalid or missing admin token")
				return
			}
			next.ServeHTTP(w, req)
		})
	}
}

func wrapHTTPHandler(traceMode, route string, handler http.Handler) http.Handler {
	if handler == nil {
		handler = http.NotFoundHandler()
	}
	if strings.EqualFold(strings.TrimSpace(traceMode), "off") {
		return handler
	}

	operation := strings.TrimSpace(route)
	if operation == "" {
		operation = "handler"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := otel.Tracer("contrib-board/internal/app").Start(
			r.Context(),
			"http.server."+operation,
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.target", r.URL.Path),
			),
		)
		defer span.End()

		recorder := &statusCapturingResponseWriter{
			ResponseWriter: w,
			status:         http.StatusOK,
		}
		handler.ServeHTTP(recorder, r.WithContext(ctx))
		span.SetAttributes(attribute.Int("http.status_code", recorder.status))
		if recorder.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(recorder.status))
			return
		}
		span.SetStatus(codes.Ok, "request completed")
	})
}

type statusCapturingResponseWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusCapturingResponseWriter) WriteHeader(statusCode int) {
	w.status = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}
