package handler

import (
	"log/slog"
	"net/http"

	"github.com/wadjakorntonsri/qzone-visitors/pkg/config"
	"github.com/wadjakorntonsri/qzone-visitors/pkg/ports"
)

// NewRouter creates and configures the main application router
func NewRouter(cfg *config.Config, reports ports.ReportService, limiter ports.Admitter, restarter ports.Restarter, accessLog, logger *slog.Logger) http.Handler {
	// Initialize Handlers
	h := NewHTTPHandler(reports, logger)
	ah := NewAdminHandler(cfg, reports, restarter, logger)

	// Initialize Middleware
	mw := NewMiddleware(cfg, limiter, accessLog)

	// Setup Router
	mux := http.NewServeMux()

	// Public Routes
	mux.HandleFunc("GET /healthz", h.Health)
	mux.HandleFunc("GET /api/report", h.Report)
	mux.HandleFunc("GET /api/report/custom", h.Custom)
	mux.HandleFunc("GET /api/report/weekly", h.Weekly)

	// Login stays reachable without a session, still behind the IP allowlist
	mux.Handle("GET /admin/login", mw.AdminIPs(http.HandlerFunc(ah.LoginForm)))
	mux.Handle("POST /admin/login", mw.AdminIPs(http.HandlerFunc(ah.Login)))

	// Protected Routes (admin page & API)
	adminMux := http.NewServeMux()
	adminMux.HandleFunc("GET /admin", ah.Dashboard)
	adminMux.HandleFunc("POST /admin/logout", ah.Logout)
	adminMux.HandleFunc("GET /admin/api/top10", ah.Top10)
	adminMux.HandleFunc("GET /admin/api/unique_total", ah.UniqueTotal)
	adminMux.HandleFunc("GET /admin/api/visitors/{uin}", ah.Visitor)
	adminMux.HandleFunc("GET /admin/api/uin/{uin}", ah.Visitor)
	adminMux.HandleFunc("POST /admin/api/restart", ah.Restart)

	protected := mw.AdminAuth(adminMux)
	mux.Handle("/admin", protected)
	mux.Handle("/admin/", protected)

	return mw.AccessLog(mw.RateLimit(mux))
}
