package handler

import (
	"context"
	"net/http"
	"time"

	"attendance-service/internal/audit"
	"attendance-service/internal/util"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

const (
	actionLogin          = "login"
	actionForgotPassword = "forgot_password"
)

// RouterConfig wires handlers, the gate and cross-cutting options.
type RouterConfig struct {
	Auth       *AuthHandler
	Attendance *AttendanceHandler
	Admin      *AdminHandler
	Gate       *AuthGate
	Trail      *audit.Trail

	// Limiter throttles login and forgot-password per client IP; nil disables it.
	Limiter        RateLimiter
	AuthRateLimit  int
	AuthRateWindow time.Duration
	AllowedOrigins []string
	RequireHTTPS   bool
	RequestTimeout time.Duration
	HealthCheck    func(ctx context.Context) error
	Logger         *zap.Logger
}

// requireHTTPS rejects any request that wasn't made over TLS
func requireHTTPS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.TLS == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUpgradeRequired) // 426
			w.Write([]byte(`{"success":false,"code":"HTTPS_REQUIRED","error":"https required"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// NewRouter creates and configures the Chi router with all middleware and routes
func NewRouter(cfg RouterConfig) chi.Router {
	router := chi.NewRouter()

	if cfg.RequireHTTPS {
		router.Use(requireHTTPS)
	}

	// Middleware stack
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(LoggerMiddleware(cfg.Logger))
	router.Use(middleware.Recoverer)
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	router.Use(middleware.Timeout(timeout))

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"https://*"}
	}
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", DeviceHeader},
		ExposedHeaders:   []string{"Link", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if cfg.HealthCheck != nil {
			if err := cfg.HealthCheck(r.Context()); err != nil {
				util.Warn("Health check failed", util.ErrorField(err))
				respondWithJSON(w, http.StatusServiceUnavailable, Response{
					Success: false,
					Code:    "UNHEALTHY",
					Error:   "one or more backends are unavailable",
				})
				return
			}
		}
		respondWithJSON(w, http.StatusOK, successResponse(map[string]string{
			"status":  "healthy",
			"service": "attendance-service",
		}, ""))
	})

	throttle := func(action string) func(http.Handler) http.Handler {
		return Throttle(cfg.Limiter, action, cfg.AuthRateLimit, cfg.AuthRateWindow, cfg.Trail, cfg.Logger)
	}
	gate := cfg.Gate

	router.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(throttle(actionLogin)).Post("/login", cfg.Auth.Login)
			r.With(throttle(actionForgotPassword)).Post("/forgot-password", cfg.Auth.ForgotPassword)
			r.Post("/reset-password", cfg.Auth.ResetPassword)

			r.Group(func(r chi.Router) {
				r.Use(gate.Authenticate)
				r.Post("/logout", cfg.Auth.Logout)
				r.Post("/change-password", cfg.Auth.ChangePassword)
				r.Get("/me", cfg.Auth.Me)
				r.Get("/devices", cfg.Auth.Devices)
				r.Delete("/devices/{deviceID}", cfg.Auth.RemoveDevice)
			})
		})

		r.Route("/attendance", func(r chi.Router) {
			r.Use(gate.Authenticate)
			r.Post("/checkin", cfg.Attendance.CheckIn)
			r.Post("/checkout", cfg.Attendance.CheckOut)
			r.Get("/today", cfg.Attendance.Today)
			r.Get("/history", cfg.Attendance.History)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(gate.Authenticate)

			// managers read, admins write
			r.Group(func(r chi.Router) {
				r.Use(gate.RequireManager)
				r.Get("/office-locations", cfg.Admin.ListOfficeLocations)
				r.Get("/attendance", cfg.Admin.AttendanceForDate)
				r.Get("/stats", cfg.Admin.DashboardStats)
			})

			r.Group(func(r chi.Router) {
				r.Use(gate.RequireAdmin)
				r.Get("/employees", cfg.Admin.ListEmployees)
				r.Post("/employees", cfg.Admin.CreateEmployee)
				r.Get("/employees/{id}", cfg.Admin.GetEmployee)
				r.Patch("/employees/{id}/status", cfg.Admin.SetEmployeeStatus)
				r.Post("/employees/{id}/unlock", cfg.Admin.UnlockEmployee)
				r.Post("/office-locations", cfg.Admin.CreateOfficeLocation)
				r.Patch("/office-locations/{id}", cfg.Admin.UpdateOfficeLocation)
				r.Put("/settings/wfh-radius", cfg.Admin.SetWFHRadius)
				r.Get("/security-events", cfg.Admin.SecurityEvents)
			})
		})
	})

	// 404 handler
	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, http.StatusNotFound, Response{Success: false, Code: "NOT_FOUND", Error: "endpoint not found"})
	})

	// Method not allowed handler
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, http.StatusMethodNotAllowed, Response{Success: false, Code: "METHOD_NOT_ALLOWED", Error: "method not allowed"})
	})

	return router
}

// LoggerMiddleware creates a middleware that logs HTTP requests
func LoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				logger.Info("HTTP request",
					util.String("method", r.Method),
					util.String("path", r.URL.Path),
					util.String("remote_addr", r.RemoteAddr),
					util.Int("status", ww.Status()),
					util.Duration("duration", time.Since(start)),
					util.String("user_agent", r.UserAgent()),
					util.String("request_id", middleware.GetReqID(r.Context())),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
