package handler

import (
	"context"
	"net/http"
	"time"

	"bank-service/internal/util"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// Handlers groups the route handlers mounted under /api/v1.
type Handlers struct {
	Accounts     *AccountHandler
	Transactions *TransactionHandler
	Assistant    *AssistantHandler
}

type RouterOptions struct {
	RequireTLS     bool
	AllowedOrigins []string
	Sessions       SessionResolver
	// Limiter may be nil; auth routes are then unlimited.
	Limiter        Limiter
	AuthRateLimit  int
	AuthRateWindow time.Duration
	Health         func(ctx context.Context) error
}

// NewRouter creates and configures the Chi router with all middleware and routes
func NewRouter(h Handlers, opts RouterOptions, logger *zap.Logger) chi.Router {
	router := chi.NewRouter()

	if opts.RequireTLS {
		router.Use(requireHTTPS)
	}

	// Middleware stack
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(LoggerMiddleware(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"https://*"}
	}
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if opts.Health != nil {
			if err := opts.Health(r.Context()); err != nil {
				util.Warn("Health check failed", util.ErrorField(err))
				w.WriteHeader(http.StatusServiceUnavailable)
				w.Write([]byte(`{"status":"unhealthy","service":"bank-service"}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","service":"bank-service"}`))
	})

	auth := Authenticator(opts.Sessions, logger)
	limit := RateLimit(opts.Limiter, "auth", opts.AuthRateLimit, opts.AuthRateWindow, logger)

	router.Route("/api/v1", func(r chi.Router) {
		// Public, rate limited
		r.Group(func(r chi.Router) {
			r.Use(limit)
			r.Post("/accounts", h.Accounts.Register)
			r.Post("/auth/login", h.Accounts.Login)
			r.Post("/auth/reset/identity", h.Accounts.ResetIdentity)
		})

		// Any live session; the services check purpose and state
		r.Group(func(r chi.Router) {
			r.Use(auth)

			r.Post("/auth/logout", h.Accounts.Logout)
			r.Group(func(r chi.Router) {
				r.Use(limit)
				r.Post("/auth/face", h.Accounts.VerifyFace)
				r.Post("/auth/reset/security", h.Accounts.ResetSecurity)
				r.Post("/auth/reset/face", h.Accounts.ResetFace)
				r.Post("/auth/reset/pin", h.Accounts.ResetPIN)
			})

			r.Get("/accounts/me", h.Accounts.Profile)
			r.Get("/accounts/{accountNo}", h.Accounts.Recipient)

			r.Route("/transactions", func(r chi.Router) {
				r.Get("/", h.Transactions.History)
				r.Post("/deposit", h.Transactions.Deposit)
				r.Post("/transfer", h.Transactions.Transfer)
				r.Post("/withdraw", h.Transactions.Withdraw)
				r.Post("/qr", h.Transactions.QRPay)
				r.Post("/confirm", h.Transactions.Confirm)
			})
			r.Get("/activities", h.Transactions.Activities)

			r.Route("/assistant", func(r chi.Router) {
				r.Post("/chat", h.Assistant.Chat)
				r.Get("/history", h.Assistant.History)
				r.Post("/insurance", h.Assistant.Insurance)
			})
		})
	})

	// 404 handler
	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"success":false,"error":"endpoint not found"}`))
	})

	// Method not allowed handler
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusMethodNotAllowed)
		w.Write([]byte(`{"success":false,"error":"method not allowed"}`))
	})

	return router
}
