package handler

import (
	"context"
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"attendance-service/internal/audit"
	"attendance-service/internal/models"
	"attendance-service/internal/repository"
	"attendance-service/internal/service"
	"attendance-service/internal/util"

	"go.uber.org/zap"
)

type contextKey string

const (
	accountContextKey contextKey = "authenticated_account"
	claimsContextKey  contextKey = "session_claims"
)

// AccountFromContext returns the account attached by AuthGate.Authenticate.
func AccountFromContext(ctx context.Context) *models.Account {
	account, _ := ctx.Value(accountContextKey).(*models.Account)
	return account
}

// ClaimsFromContext returns the validated session claims.
func ClaimsFromContext(ctx context.Context) *service.Claims {
	claims, _ := ctx.Value(claimsContextKey).(*service.Claims)
	return claims
}

// AuthGate resolves the bearer token on every protected request to a live
// account. The account is re-read from storage each time; nothing about it
// is cached between requests.
type AuthGate struct {
	sessions *service.SessionIssuer
	accounts repository.AccountRepository
	trail    *audit.Trail
	clock    service.Clock
	logger   *zap.Logger
}

func NewAuthGate(sessions *service.SessionIssuer, accounts repository.AccountRepository, trail *audit.Trail, clock service.Clock, logger *zap.Logger) *AuthGate {
	if clock == nil {
		clock = service.SystemClock()
	}
	return &AuthGate{
		sessions: sessions,
		accounts: accounts,
		trail:    trail,
		clock:    clock,
		logger:   logger,
	}
}

// Authenticate runs, in order: token presence, token validity, account
// existence, active flag, lock state, password-changed check. The first
// failure short-circuits and is audited.
func (g *AuthGate) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		token, ok := bearerToken(r)
		if !ok {
			g.reject(w, r, nil, "no_token", service.ErrNoToken)
			return
		}

		claims, err := g.sessions.Validate(token)
		if err != nil {
			reason := "invalid_token"
			if errors.Is(err, service.ErrTokenExpired) {
				reason = "token_expired"
			}
			g.reject(w, r, nil, reason, err)
			return
		}

		account, err := g.accounts.GetAccountByID(ctx, claims.AccountID())
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				g.reject(w, r, &models.Account{ID: claims.AccountID()}, "user_not_found", service.ErrUserNotFound)
				return
			}
			respondWithError(w, r, g.logger, err)
			return
		}

		now := g.clock.Now()
		switch {
		case !account.IsActive:
			g.reject(w, r, account, "account_inactive", service.ErrAccountInactive)
			return
		case account.IsLocked(now):
			g.reject(w, r, account, "account_locked", service.LockedError(account, now))
			return
		case service.IsStale(claims, account):
			g.reject(w, r, account, "password_changed", service.ErrPasswordChanged)
			return
		}

		ctx = context.WithValue(ctx, accountContextKey, account)
		ctx = context.WithValue(ctx, claimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin passes only role=admin. It must run after Authenticate.
func (g *AuthGate) RequireAdmin(next http.Handler) http.Handler {
	return g.requireRole(next, func(r models.Role) bool { return r == models.RoleAdmin })
}

// RequireManager passes admin or manager.
func (g *AuthGate) RequireManager(next http.Handler) http.Handler {
	return g.requireRole(next, models.Role.Elevated)
}

func (g *AuthGate) requireRole(next http.Handler, allowed func(models.Role) bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account := AccountFromContext(r.Context())
		if account == nil {
			g.reject(w, r, nil, "no_token", service.ErrNoToken)
			return
		}
		if !allowed(account.Role) {
			g.trail.Record(r.Context(), securityEvent(r, models.EventAuthorizationDenied, "insufficient_role", account, map[string]string{
				"role": string(account.Role),
			}))
			respondWithError(w, r, g.logger, service.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (g *AuthGate) reject(w http.ResponseWriter, r *http.Request, account *models.Account, reason string, err error) {
	g.trail.Record(r.Context(), securityEvent(r, models.EventAuthFailure, reason, account, nil))
	respondWithError(w, r, g.logger, err)
}

// RateLimiter counts requests per action and client IP.
type RateLimiter interface {
	Allow(ctx context.Context, action, ip string, limit int, window time.Duration) (bool, time.Duration, error)
}

// Throttle rejects clients that exceed limit requests per window for action.
// A nil limiter or a limiter error lets the request through.
func Throttle(limiter RateLimiter, action string, limit int, window time.Duration, trail *audit.Trail, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil || limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			allowed, retry, err := limiter.Allow(r.Context(), action, ip, limit, window)
			if err != nil {
				logger.Warn("Rate limiter unavailable, allowing request",
					util.String("action", action),
					util.ErrorField(err))
			}
			if allowed || err != nil {
				next.ServeHTTP(w, r)
				return
			}

			seconds := int(math.Ceil(retry.Seconds()))
			trail.Record(r.Context(), securityEvent(r, models.EventRateLimited, action, nil, nil))
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			respondWithError(w, r, logger, service.ErrRateLimited.With(map[string]interface{}{
				"retryAfterSeconds": seconds,
			}))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// clientIP strips the port from RemoteAddr; middleware.RealIP has already
// applied X-Forwarded-For when present.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func requestMeta(r *http.Request) service.RequestMeta {
	return service.RequestMeta{
		IP:        clientIP(r),
		UserAgent: r.UserAgent(),
		Path:      r.URL.Path,
	}
}

func securityEvent(r *http.Request, eventType, reason string, account *models.Account, details map[string]string) models.SecurityEvent {
	meta := requestMeta(r)
	event := models.SecurityEvent{
		EventType: eventType,
		Reason:    reason,
		IPAddress: meta.IP,
		UserAgent: meta.UserAgent,
		Path:      meta.Path,
		Details:   details,
	}
	if account != nil {
		event.AccountID = account.ID
		event.Email = account.Email
	}
	return event
}
