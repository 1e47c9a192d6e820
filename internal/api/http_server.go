// Package api exposes the booking engine over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"labreserve/internal/config"
	"labreserve/internal/domain"
	"labreserve/internal/metrics"
	"labreserve/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// Services are the engine operations the API serves.
type Services struct {
	Users         *service.UserService
	Labs          *service.LabService
	Availability  *service.AvailabilityService
	Bookings      *service.BookingService
	Payments      *service.PaymentService
	Notifications *service.NotificationService
	Reports       *service.ReportService
}

type HTTPServer struct {
	cfg        config.APIConfig
	svc        Services
	tokens     *TokenIssuer
	idem       domain.IdempotencyStore
	idemHeader string
	idemTTL    time.Duration
	limiter    *rateLimiter
	server     *http.Server
	logger     *zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, svc Services, tokens *TokenIssuer, idem domain.IdempotencyStore, logger *zerolog.Logger) *HTTPServer {
	s := &HTTPServer{
		cfg:        cfg,
		svc:        svc,
		tokens:     tokens,
		idem:       idem,
		idemHeader: cfg.Idempotency.Header,
		idemTTL:    cfg.Idempotency.TTL,
		limiter:    newRateLimiter(cfg.RateLimit),
		logger:     logger,
	}
	if s.idemHeader == "" {
		s.idemHeader = "Idempotency-Key"
	}
	if s.idemTTL <= 0 {
		s.idemTTL = 24 * time.Hour
	}

	readHeader := cfg.HTTP.ReadHeaderTimeout
	if readHeader <= 0 {
		readHeader = 5 * time.Second
	}
	write := cfg.HTTP.WriteTimeout
	if write <= 0 {
		write = 15 * time.Second
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           s.Routes(),
		ReadHeaderTimeout: readHeader,
		WriteTimeout:      write,
	}
	return s
}

// Routes builds the router. Role checks live in the services.
func (s *HTTPServer) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.accessLog)
	r.Use(s.recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(s.limiter.middleware)
		r.Post("/auth/login", s.handleLogin)
		r.Post("/auth/register", s.handleRegister)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(s.limiter.middleware)
		r.Use(s.idempotency)

		r.Get("/me", s.handleMe)

		r.Get("/labs", s.handleListLabs)
		r.Get("/labs/{id}", s.handleGetLab)
		r.Get("/labs/{id}/availability", s.handleAvailability)

		r.Post("/bookings", s.handleSubmitBooking)
		r.Get("/bookings/{id}", s.handleGetBooking)
		r.Put("/bookings/{id}", s.handleModifyBooking)
		r.Post("/bookings/{id}/cancel", s.handleCancelBooking)
		r.Post("/bookings/{id}/approve", s.handleApproveBooking)
		r.Post("/bookings/{id}/reject", s.handleRejectBooking)
		r.Post("/bookings/{id}/payment/initiate", s.handleInitiatePayment)
		r.Post("/bookings/{id}/payment/confirm", s.handleConfirmPayment)

		r.Get("/users/{id}/bookings", s.handleUserBookings)
		r.Get("/users/{id}/notifications", s.handleUserNotifications)
		r.Post("/users/{id}/notifications/read-all", s.handleMarkAllRead)
		r.Post("/notifications/{id}/read", s.handleMarkRead)

		r.Route("/admin", func(r chi.Router) {
			r.Get("/bookings", s.handleAdminBookings)
			r.Post("/labs", s.handleCreateLab)
			r.Put("/labs/{id}", s.handleUpdateLab)
			r.Delete("/labs/{id}", s.handleDeleteLab)
			r.Post("/labs/{id}/status", s.handleLabStatus)
			r.Get("/users", s.handleListUsers)
			r.Post("/users", s.handleCreateUser)
			r.Post("/users/{id}/status", s.handleUserStatus)
			r.Post("/notifications/broadcast", s.handleBroadcast)
			r.Get("/reports/summary", s.handleReportSummary)
			r.Get("/reports/bookings.xlsx", s.handleExportBookings)
		})
	})

	return r
}

func (s *HTTPServer) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *HTTPServer) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		metrics.IncHTTP(route, strconv.Itoa(recorder.status/100)+"xx")

		s.logger.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("route", route).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func (s *HTTPServer) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.logger.Error().
					Str("request_id", middleware.GetReqID(r.Context())).
					Interface("panic", rec).
					Msg("handler panic")
				writeErrorCode(w, http.StatusInternalServerError, "internal", "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
