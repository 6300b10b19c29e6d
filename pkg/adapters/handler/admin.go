package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/wadjakorntonsri/qzone-visitors/pkg/config"
	"github.com/wadjakorntonsri/qzone-visitors/pkg/ports"
)

const (
	sessionCookie = "admin_session"
	sessionTTL    = 24 * time.Hour
	adminSubject  = "admin"
	topVisitorsN  = 10
)

const loginForm = `<!doctype html>
<html><head><meta charset="utf-8"><title>Admin login</title></head>
<body><form method="post" action="/admin/login">
<input type="password" name="token" placeholder="token" autofocus>
<button type="submit">Login</button>
</form></body></html>
`

type AdminHandler struct {
	reports      ports.ReportService
	restarter    ports.Restarter
	token        string
	jwtSecret    []byte
	secureCookie bool
	log          *slog.Logger
}

func NewAdminHandler(cfg *config.Config, reports ports.ReportService, restarter ports.Restarter, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		reports:      reports,
		restarter:    restarter,
		token:        cfg.Admin.Token,
		jwtSecret:    []byte(cfg.Admin.SecretKey),
		secureCookie: cfg.Admin.SecureCookie,
		log:          logger.With("component", "admin"),
	}
}

func (h *AdminHandler) LoginForm(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(loginForm))
}

// Login compares the submitted token by exact equality and issues a session cookie
func (h *AdminHandler) Login(w http.ResponseWriter, r *http.Request) {
	token := r.PostFormValue("token")
	if h.token == "" || token != h.token {
		h.log.Warn("admin login rejected", "ip", clientIP(r))
		http.Error(w, "invalid token", http.StatusForbidden)
		return
	}

	expirationTime := time.Now().Add(sessionTTL)
	claims := &jwt.RegisteredClaims{
		Subject:   adminSubject,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(expirationTime),
	}
	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.jwtSecret)
	if err != nil {
		h.log.Error("signing admin session", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    tokenString,
		Expires:  expirationTime,
		Path:     "/admin",
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	h.log.Info("admin login", "ip", clientIP(r))
	http.Redirect(w, r, "/admin", http.StatusSeeOther)
}

func (h *AdminHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Expires:  time.Now().Add(-1 * time.Hour),
		Path:     "/admin",
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, "/admin/login", http.StatusSeeOther)
}

// Dashboard returns the data the admin page shows in one response
func (h *AdminHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	top, err := h.reports.TopVisitors(r.Context(), topVisitorsN)
	if err != nil {
		h.serverError(w, "top visitors", err)
		return
	}
	unique, err := h.reports.UniqueTotal(r.Context())
	if err != nil {
		h.serverError(w, "unique total", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"week":               h.reports.WeekLabel(0),
		"top10":              top,
		"unique_users_total": unique,
	})
}

func (h *AdminHandler) Top10(w http.ResponseWriter, r *http.Request) {
	top, err := h.reports.TopVisitors(r.Context(), topVisitorsN)
	if err != nil {
		h.serverError(w, "top visitors", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"week":  h.reports.WeekLabel(0),
		"top10": top,
	})
}

func (h *AdminHandler) UniqueTotal(w http.ResponseWriter, r *http.Request) {
	unique, err := h.reports.UniqueTotal(r.Context())
	if err != nil {
		h.serverError(w, "unique total", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"unique_users_total": unique})
}

// Visitor returns the stored visits of one visitor, newest first
func (h *AdminHandler) Visitor(w http.ResponseWriter, r *http.Request) {
	uin, err := strconv.ParseInt(r.PathValue("uin"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid uin", http.StatusBadRequest)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
	}

	history, err := h.reports.VisitorHistory(r.Context(), uin, limit)
	if err != nil {
		h.serverError(w, "visitor history", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"uin":     uin,
		"count":   len(history),
		"records": history,
	})
}

// Restart asks the supervisor to relaunch the process once the response is out
func (h *AdminHandler) Restart(w http.ResponseWriter, r *http.Request) {
	if !h.restarter.RequestRestart("admin api") {
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "ok", "message": "restart already pending"})
		return
	}
	h.log.Warn("restart requested", "ip", clientIP(r))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "message": "service is restarting"})
}

func (h *AdminHandler) serverError(w http.ResponseWriter, what string, err error) {
	h.log.Error("admin request failed", "op", what, "error", err)
	http.Error(w, "internal server error", http.StatusInternalServerError)
}
