package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/shiva/labdock/config"
	"github.com/shiva/labdock/internal/agentclient"
	"github.com/shiva/labdock/internal/auth"
	"github.com/shiva/labdock/internal/handler"
	"github.com/shiva/labdock/internal/middleware"
	"github.com/shiva/labdock/internal/model"
	"github.com/shiva/labdock/internal/observability"
	"github.com/shiva/labdock/internal/reconciler"
	"github.com/shiva/labdock/internal/repository"
	"github.com/shiva/labdock/internal/service"
	"github.com/shiva/labdock/pkg/cache"
	"github.com/shiva/labdock/pkg/db"
	"github.com/shiva/labdock/pkg/wol"
)

func main() {
	// ── Load configuration ──────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Connect to PostgreSQL ───────────────────────────
	pgPool, err := db.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		log.Fatalf("failed to connect to PostgreSQL: %v", err)
	}
	defer pgPool.Close()
	log.Println("✓ PostgreSQL connected")

	// ── Connect to Redis ────────────────────────────────
	redisClient, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("✓ Redis connected")

	// ── Initialize layers ───────────────────────────────
	userRepo := repository.NewUserRepository(pgPool)
	agentRepo := repository.NewAgentRepository(pgPool)
	bookingRepo := repository.NewBookingRepository(pgPool)
	statsRepo := repository.NewStatsRepository(pgPool, redisClient)

	issuer := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	authSvc := service.NewAuthService(userRepo, issuer)
	bookingSvc := service.NewBookingService(bookingRepo)
	adminSvc := service.NewAdminService(bookingRepo, agentRepo, statsRepo)

	authHandler := handler.NewAuthHandler(authSvc, userRepo)
	studentHandler := handler.NewStudentHandler(bookingSvc)
	adminHandler := handler.NewAdminHandler(adminSvc)

	// ── Metrics ─────────────────────────────────────────
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)

	// ── Reconciler ──────────────────────────────────────
	store := &reconcilerStore{agents: agentRepo, bookings: bookingRepo}
	wake := func(mac string) error { return wol.Send(mac, wol.DefaultBroadcastAddr) }
	rec := reconciler.New(cfg.Reconciler, store, agentclient.New(), wake, reconciler.RealClock(), metrics)
	go rec.Run(ctx)

	// ── Setup router ────────────────────────────────────
	router := mux.NewRouter()
	router.Use(middleware.RequestLogger, middleware.Recoverer)

	router.HandleFunc("/health", healthHandler(pgPool, redisClient)).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	// Public auth routes.
	authAPI := router.PathPrefix("/api/auth").Subrouter()
	authAPI.HandleFunc("/register", authHandler.Register).Methods(http.MethodPost)
	authAPI.HandleFunc("/login", authHandler.Login).Methods(http.MethodPost)
	authAPI.HandleFunc("/logout", authHandler.Logout).Methods(http.MethodPost)

	// Student routes: valid token with the student role.
	studentAPI := router.PathPrefix("/api/student").Subrouter()
	studentAPI.Use(middleware.Authenticate(issuer), middleware.RequireRole(model.RoleStudent))
	studentAPI.HandleFunc("/book", studentHandler.Book).Methods(http.MethodPost)
	studentAPI.HandleFunc("/bookings", studentHandler.ListBookings).Methods(http.MethodGet)
	studentAPI.HandleFunc("/bookings/{id}", studentHandler.GetBooking).Methods(http.MethodGet)
	studentAPI.HandleFunc("/bookings/{id}/cancel", studentHandler.CancelBooking).Methods(http.MethodPost)
	studentAPI.HandleFunc("/profile", authHandler.Profile).Methods(http.MethodGet)

	// Admin routes.
	adminAPI := router.PathPrefix("/api/admin").Subrouter()
	adminAPI.Use(middleware.Authenticate(issuer), middleware.RequireRole(model.RoleAdmin))
	adminAPI.HandleFunc("/bookings", adminHandler.ListBookings).Methods(http.MethodGet)
	adminAPI.HandleFunc("/approve/{id}", adminHandler.Approve).Methods(http.MethodPost)
	adminAPI.HandleFunc("/reject/{id}", adminHandler.Reject).Methods(http.MethodPost)
	adminAPI.HandleFunc("/extend/{id}", adminHandler.Extend).Methods(http.MethodPost)
	adminAPI.HandleFunc("/agents", adminHandler.ListAgents).Methods(http.MethodGet)
	adminAPI.HandleFunc("/agents/{id}/status", adminHandler.SetAgentStatus).Methods(http.MethodPost)
	adminAPI.HandleFunc("/stats", adminHandler.Stats).Methods(http.MethodGet)

	// Wrap with CORS so browser clients can call the API.
	root := middleware.CORS(router)

	// ── Start HTTP server ───────────────────────────────
	srv := &http.Server{
		Addr:         cfg.Server.ServerAddr(),
		Handler:      root,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Printf("🚀 Controller listening on %s", cfg.Server.ServerAddr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// ── Graceful shutdown ───────────────────────────────
	<-ctx.Done()
	log.Println("⏳ Shutting down controller...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("server forced to shutdown: %v", err)
	}

	log.Println("✅ Controller gracefully stopped")
}

// reconcilerStore adapts the repositories to the reconciler's store seam.
type reconcilerStore struct {
	agents   *repository.AgentRepository
	bookings *repository.BookingRepository
}

func (s *reconcilerStore) ListAgents(ctx context.Context) ([]*model.Agent, error) {
	return s.agents.List(ctx)
}

func (s *reconcilerStore) GetAgent(ctx context.Context, id int64) (*model.Agent, error) {
	return s.agents.Get(ctx, id)
}

func (s *reconcilerStore) SetAgentHealth(ctx context.Context, id int64, online bool, now time.Time) error {
	return s.agents.SetHealth(ctx, id, online, now)
}

func (s *reconcilerStore) DueForWake(ctx context.Context, now time.Time, lead time.Duration) ([]repository.WakeTarget, error) {
	return s.bookings.DueForWake(ctx, now, lead)
}

func (s *reconcilerStore) DueToStart(ctx context.Context, now time.Time) ([]*model.Booking, error) {
	return s.bookings.DueToStart(ctx, now)
}

func (s *reconcilerStore) DueToStop(ctx context.Context, now time.Time) ([]*model.Booking, error) {
	return s.bookings.DueToStop(ctx, now)
}

func (s *reconcilerStore) ActiveOnAgent(ctx context.Context, agentID int64) ([]*model.Booking, error) {
	return s.bookings.ActiveOnAgent(ctx, agentID)
}

func (s *reconcilerStore) MarkActive(ctx context.Context, bookingID, agentID int64, cpu, memGB int, containerName, accessURL string) error {
	return s.bookings.MarkActive(ctx, bookingID, agentID, cpu, memGB, containerName, accessURL)
}

func (s *reconcilerStore) MarkCompleted(ctx context.Context, bookingID, agentID int64, cpu, memGB int) error {
	return s.bookings.MarkCompleted(ctx, bookingID, agentID, cpu, memGB)
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
}

// healthHandler returns an HTTP handler that checks PG and Redis connectivity.
func healthHandler(pgPool *pgxpool.Pool, redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status:   "ok",
			Services: make(map[string]string),
		}

		if err := db.HealthCheck(r.Context(), pgPool); err != nil {
			resp.Status = "degraded"
			resp.Services["postgres"] = "unhealthy: " + err.Error()
		} else {
			resp.Services["postgres"] = "healthy"
		}

		if err := cache.HealthCheck(r.Context(), redisClient); err != nil {
			resp.Status = "degraded"
			resp.Services["redis"] = "unhealthy: " + err.Error()
		} else {
			resp.Services["redis"] = "healthy"
		}

		w.Header().Set("Content-Type", "application/json")
		if resp.Status != "ok" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(resp)
	}
}
