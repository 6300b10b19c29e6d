package handler

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mileusna/useragent"
	"github.com/oklog/ulid/v2"
	"github.com/wadjakorntonsri/qzone-visitors/pkg/config"
	"github.com/wadjakorntonsri/qzone-visitors/pkg/ports"
)

type ctxKey string

const (
	requestIDKey ctxKey = "request_id"
	clientIPKey  ctxKey = "client_ip"
)

type Middleware struct {
	jwtSecret      []byte
	adminIPs       map[string]struct{}
	trustedProxies map[string]struct{}
	limiter        ports.Admitter
	accessLog      *slog.Logger
}

func NewMiddleware(cfg *config.Config, limiter ports.Admitter, accessLog *slog.Logger) *Middleware {
	return &Middleware{
		jwtSecret:      []byte(cfg.Admin.SecretKey),
		adminIPs:       ipSet(cfg.Admin.IPs),
		trustedProxies: ipSet(cfg.Admin.TrustedProxies),
		limiter:        limiter,
		accessLog:      accessLog,
	}
}

func ipSet(ips []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ips))
	for _, ip := range ips {
		if ip = strings.TrimSpace(ip); ip != "" {
			set[ip] = struct{}{}
		}
	}
	return set
}

// RateLimit admits every non-admin request through the per-client limiter
func (m *Middleware) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isAdminPath(r) && !m.limiter.Admit(m.clientIP(r)) {
			http.Error(w, "Too many requests, slow down", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// AdminIPs rejects clients outside the allowlist; an empty list allows everyone
func (m *Middleware) AdminIPs(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(m.adminIPs) > 0 {
			if _, ok := m.adminIPs[m.clientIP(r)]; !ok {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// AdminAuth verifies the admin session cookie after the IP allowlist
func (m *Middleware) AdminAuth(next http.Handler) http.Handler {
	return m.AdminIPs(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookie)
		if err != nil {
			m.unauthorized(w, r)
			return
		}

		claims := &jwt.RegisteredClaims{}
		token, err := jwt.ParseWithClaims(cookie.Value, claims, func(token *jwt.Token) (interface{}, error) {
			return m.jwtSecret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid || claims.Subject != adminSubject {
			m.unauthorized(w, r)
			return
		}

		next.ServeHTTP(w, r)
	}))
}

func (m *Middleware) unauthorized(w http.ResponseWriter, r *http.Request) {
	if isAdminAPIRequest(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	http.Redirect(w, r, "/admin/login", http.StatusTemporaryRedirect)
}

// AccessLog writes one JSON record per request with its outcome
func (m *Middleware) AccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := ulid.Make().String()
		ip := resolveClientIP(r, m.trustedProxies)
		w.Header().Set("X-Request-Id", id)

		ctx := context.WithValue(r.Context(), requestIDKey, id)
		ctx = context.WithValue(ctx, clientIPKey, ip)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		ua := useragent.Parse(r.UserAgent())
		_, port, _ := net.SplitHostPort(r.RemoteAddr)
		m.accessLog.LogAttrs(r.Context(), slog.LevelInfo, "request",
			slog.String("time", start.Format("2006-01-02 15:04:05")),
			slog.Int64("timestamp", start.Unix()),
			slog.String("request_id", id),
			slog.String("ip", ip),
			slog.String("port", port),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("duration", time.Since(start)),
			slog.String("ua_name", ua.Name),
			slog.String("ua_os", ua.OS),
			slog.String("ua_device", deviceClass(ua)),
		)
	})
}

// RequestID returns the id AccessLog assigned to the request, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func deviceClass(ua useragent.UserAgent) string {
	switch {
	case ua.Bot:
		return "bot"
	case ua.Mobile:
		return "mobile"
	case ua.Tablet:
		return "tablet"
	case ua.Desktop:
		return "desktop"
	}
	return "unknown"
}

func (m *Middleware) clientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(clientIPKey).(string); ok {
		return ip
	}
	return resolveClientIP(r, m.trustedProxies)
}

// clientIP returns the address AccessLog resolved, or the peer address.
func clientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(clientIPKey).(string); ok {
		return ip
	}
	return peerIP(r)
}

// resolveClientIP uses the peer address unless the peer is a trusted proxy,
// in which case the first X-Forwarded-For hop, then X-Real-IP, wins.
func resolveClientIP(r *http.Request, trusted map[string]struct{}) string {
	peer := peerIP(r)
	if _, ok := trusted[peer]; !ok {
		return peer
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	return peer
}

func peerIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func isAdminPath(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, "/admin")
}

func isAdminAPIRequest(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, "/admin/api")
}
