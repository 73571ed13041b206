package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"paperwise/internal/ratelimit"
	"paperwise/internal/util"
	"paperwise/pkg/domain"
	"paperwise/services/storefront/internal/app"
)

const guestCartHeader = "X-Guest-Cart"

// Config wires required dependencies for the HTTP server.
type Config struct {
	App                        *app.App
	AllowedOrigins             []string
	TrustedProxyCIDRs          []string
	CronSecret                 string
	LoginRateLimitPerMinute    int
	SignupRateLimitPerMinute   int
	CheckoutRateLimitPerMinute int
	MaxUploadBytes             int64
}

// Server exposes the storefront HTTP API.
type Server struct {
	app             *app.App
	router          chi.Router
	allowedOrigins  []string
	trusted         *util.TrustedProxies
	cronSecret      string
	maxUploadBytes  int64
	loginLimiter    *ratelimit.FixedWindowLimiter
	signupLimiter   *ratelimit.FixedWindowLimiter
	checkoutLimiter *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured. A zero rate limit
// disables that limiter.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, fmt.Errorf("app is required")
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}
	newLimiter := func(name string, limit int) (*ratelimit.FixedWindowLimiter, error) {
		if limit <= 0 {
			return nil, nil
		}
		limiter, err := ratelimit.NewFixedWindowLimiter(cfg.App.Redis(), "paperwise:storefront:ratelimit:"+name, limit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return limiter, nil
	}
	s := &Server{
		app:            cfg.App,
		allowedOrigins: cfg.AllowedOrigins,
		trusted:        trusted,
		cronSecret:     strings.TrimSpace(cfg.CronSecret),
		maxUploadBytes: cfg.MaxUploadBytes,
	}
	if s.maxUploadBytes <= 0 {
		s.maxUploadBytes = 25 << 20
	}
	if s.loginLimiter, err = newLimiter("login", cfg.LoginRateLimitPerMinute); err != nil {
		return nil, err
	}
	if s.signupLimiter, err = newLimiter("signup", cfg.SignupRateLimitPerMinute); err != nil {
		return nil, err
	}
	if s.checkoutLimiter, err = newLimiter("checkout", cfg.CheckoutRateLimitPerMinute); err != nil {
		return nil, err
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog("storefront", util.WithSecurityHeaders(s.router)))
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(util.WithCORS(s.allowedOrigins))
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		methodNotAllowed(w)
	})

	r.Get("/healthz", s.handleHealth)

	// accounts
	r.Post("/api/auth/signup", s.handleSignup)
	r.Post("/api/auth/login", s.handleLogin)
	r.Post("/api/auth/logout", s.handleLogout)
	r.Get("/api/users/me", s.authenticated(s.handleMe))

	// carts
	r.Get("/api/cart", s.authenticated(s.handleGetCart))
	r.Post("/api/cart", s.authenticated(s.handleAddToCart))
	r.Put("/api/cart", s.authenticated(s.handleUpdateCart))
	r.Delete("/api/cart", s.authenticated(s.handleDeleteFromCart))
	r.Post("/api/cart/sync", s.authenticated(s.handleSyncCart))
	r.Get("/api/cart/events", s.authenticated(s.handleCartEvents))
	r.Get("/api/guest-cart", s.handleGuestCart)
	r.Post("/api/guest-cart", s.handleGuestCart)
	r.Put("/api/guest-cart", s.handleGuestCart)
	r.Delete("/api/guest-cart", s.handleGuestCart)

	// checkout & fulfillment
	r.Post("/api/checkout/cart", s.authenticated(s.handleCheckoutCart))
	r.Post("/api/checkout", s.authenticated(s.handleCheckoutDocument))
	r.Post("/api/webhooks/stripe", s.handleStripeWebhook)
	r.Get("/api/purchases", s.authenticated(s.handlePurchases))
	r.Get("/download/{purchaseID}", s.authenticated(s.handleDownload))

	// public catalog
	r.Get("/api/documents", s.handleListDocuments)
	r.Get("/api/documents/{id}", s.handleGetDocument)
	r.Get("/api/bundles", s.handleListBundles)
	r.Get("/api/bundles/{id}", s.handleGetBundle)
	r.Get("/api/blog", s.handleListBlog)
	r.Get("/api/blog/{slug}", s.handleGetBlogPost)
	r.Get("/api/blog-categories", s.handleListBlogCategories)
	r.Get("/api/pages/{slug}", s.handleGetLegalPage)

	// admin back-office
	r.Route("/api/admin", func(r chi.Router) {
		r.Post("/documents", s.adminOnly(s.handleCreateDocument))
		r.Put("/documents/{id}", s.adminOnly(s.handleUpdateDocument))
		r.Delete("/documents/{id}", s.adminOnly(s.handleDeleteDocument))
		r.Post("/bundles", s.adminOnly(s.handleSaveBundle))
		r.Put("/bundles/{id}", s.adminOnly(s.handleSaveBundle))
		r.Delete("/bundles/{id}", s.adminOnly(s.handleDeleteBundle))
		r.Get("/blog", s.adminOnly(s.handleAdminListBlog))
		r.Post("/blog", s.adminOnly(s.handleSaveBlogPost))
		r.Put("/blog/{id}", s.adminOnly(s.handleSaveBlogPost))
		r.Delete("/blog/{id}", s.adminOnly(s.handleDeleteBlogPost))
		r.Post("/blog-categories", s.adminOnly(s.handleCreateBlogCategory))
		r.Put("/pages/{slug}", s.adminOnly(s.handleSaveLegalPage))
	})

	// onboarding
	r.Post("/api/onboarding/init", s.adminOnly(s.handleOnboardingInit))
	r.Get("/api/onboarding/sequences", s.adminOnly(s.handleOnboardingSequences))
	r.Get("/api/onboarding/emails", s.adminOnly(s.handleOnboardingEmails))
	r.Post("/api/onboarding/start", s.adminOnly(s.handleOnboardingStart))
	r.Post("/api/onboarding/send-next", s.adminOnly(s.handleOnboardingSendNext))
	r.Get("/api/cron/send-onboarding-emails", s.handleOnboardingCron)

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authorize(r)
		if !ok {
			s.audit(r, "storefront.authorize", "fail")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, user)
	}
}

func (s *Server) adminOnly(next authHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authorize(r)
		if !ok {
			s.audit(r, "storefront.admin.authorize", "fail", "reason", "unauthenticated")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if user.Role != domain.RoleAdmin {
			s.audit(r, "storefront.admin.authorize", "fail", "user_id", user.ID, "reason", "forbidden")
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		s.audit(r, "storefront.admin.authorize", "success", "user_id", user.ID)
		next(w, r, user)
	}
}

func (s *Server) authorize(r *http.Request) (domain.User, bool) {
	token, ok := bearerToken(r)
	if !ok {
		return domain.User{}, false
	}
	return s.app.UserFromToken(r.Context(), token)
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r, s.trusted),
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	if limiter == nil {
		return true
	}
	key := r.URL.Path + "|" + util.ClientIP(r, s.trusted)
	decision := limiter.Allow(r.Context(), key)
	if decision.Allowed {
		return true
	}
	retryAfter := int(math.Ceil(decision.RetryAfter.Seconds()))
	if retryAfter <= 0 {
		retryAfter = 60
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		slog.Warn("empty bearer token", "path", r.URL.Path)
		return "", false
	}
	return token, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps a classified error to a status. 4xx responses carry
// the error's message; everything else is logged and answered with fallback.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	status := http.StatusInternalServerError
	switch domain.KindOf(err) {
	case domain.KindValidation:
		status = http.StatusBadRequest
	case domain.KindAuthentication:
		status = http.StatusUnauthorized
	case domain.KindForbidden:
		status = http.StatusForbidden
	case domain.KindNotFound:
		status = http.StatusNotFound
	case domain.KindConflict:
		status = http.StatusConflict
	case domain.KindGone:
		status = http.StatusGone
	}
	if status < http.StatusInternalServerError {
		writeError(w, status, domain.MessageOf(err))
		return
	}
	if fallback == "" {
		fallback = "internal error"
	}
	util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "kind", domain.KindOf(err).String(), "err", err)
	writeServerError(w, r, fallback)
}

// writeServerError answers 500 with the request id so support can find the log line.
func writeServerError(w http.ResponseWriter, r *http.Request, msg string) {
	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"error":     msg,
		"requestId": util.RequestID(r.Context()),
	})
}

func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(dst)
}
