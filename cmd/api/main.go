package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/hospital-api/internal/config"
	appointmentHandler "github.com/jwalitptl/hospital-api/internal/handler/appointment"
	auditHandler "github.com/jwalitptl/hospital-api/internal/handler/audit"
	authHandler "github.com/jwalitptl/hospital-api/internal/handler/auth"
	"github.com/jwalitptl/hospital-api/internal/handler/health"
	patientHandler "github.com/jwalitptl/hospital-api/internal/handler/patient"
	professionalHandler "github.com/jwalitptl/hospital-api/internal/handler/professional"
	promHandler "github.com/jwalitptl/hospital-api/internal/handler/prometheus"
	"github.com/jwalitptl/hospital-api/internal/middleware"
	"github.com/jwalitptl/hospital-api/internal/repository/postgres"
	"github.com/jwalitptl/hospital-api/internal/router"
	"github.com/jwalitptl/hospital-api/internal/service/access"
	appointmentService "github.com/jwalitptl/hospital-api/internal/service/appointment"
	"github.com/jwalitptl/hospital-api/internal/service/audit"
	"github.com/jwalitptl/hospital-api/internal/service/auditlog"
	authService "github.com/jwalitptl/hospital-api/internal/service/auth"
	patientService "github.com/jwalitptl/hospital-api/internal/service/patient"
	professionalService "github.com/jwalitptl/hospital-api/internal/service/professional"
	"github.com/jwalitptl/hospital-api/pkg/auth"
	"github.com/jwalitptl/hospital-api/pkg/logger"
	"github.com/jwalitptl/hospital-api/pkg/messaging/redis"
	"github.com/jwalitptl/hospital-api/pkg/metrics"
	"github.com/jwalitptl/hospital-api/pkg/ratelimit"
	"github.com/jwalitptl/hospital-api/pkg/security"
)

const (
	serviceName      = "hospital-api"
	metricsNamespace = "hospital"
	linkCacheTTL     = 5 * time.Minute
)

// redisPinger adapts the Redis client to the readiness check.
type redisPinger struct {
	client *goredis.Client
}

func (p redisPinger) PingContext(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func policy(name string, c config.PolicyConfig) ratelimit.Policy {
	return ratelimit.Policy{Name: name, Limit: c.Limit, Window: c.Window, Block: c.Block}
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	zl := logger.Setup(logger.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Service: serviceName,
	})
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate database")
		}
	}

	// Field encryption
	key, err := security.DecodeKey(cfg.Crypto.EncryptionKey)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid encryption key")
	}
	encryptor, err := security.NewAESEncryptor(key)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize encryptor")
	}
	envelope := security.NewEnvelope(encryptor)
	index, err := security.NewBlindIndex([]byte(cfg.Crypto.IndexKey))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize blind index")
	}
	hasher := security.NewBcryptHasher(cfg.Crypto.BcryptCost)

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(registry, metricsNamespace)
	prom := promHandler.New(registry, metricsNamespace)

	// Repositories
	base := postgres.NewBaseRepository(db, m)
	accountRepo := postgres.NewAccountRepository(base)
	patientRepo := postgres.NewPatientRepository(base, envelope, index)
	professionalRepo := postgres.NewProfessionalRepository(base, envelope, index)
	appointmentRepo := postgres.NewAppointmentRepository(base)
	auditRepo := postgres.NewAuditRepository(base)

	checks := map[string]health.Pinger{"database": db}
	auditOpts := []audit.Option{audit.WithMetrics(m), audit.WithLogger(zl)}
	var limiter ratelimit.Limiter = ratelimit.NewMemoryLimiter()

	// Redis carries security alerts to the worker and, optionally, the
	// rate-limit counters shared between instances.
	if cfg.Redis.Enabled {
		client, err := redis.NewClient(ctx, redis.Config{
			URL:          cfg.Redis.URL,
			MaxRetries:   cfg.Redis.MaxRetries,
			RetryBackoff: cfg.Redis.RetryBackoff,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to Redis")
		}
		broker := redis.NewRedisBroker(client, zl)
		defer broker.Close()

		checks["redis"] = redisPinger{client: client}
		auditOpts = append(auditOpts, audit.WithAlerts(broker, cfg.Alerts.Channel))
		if cfg.RateLimit.Backend == "redis" {
			limiter = ratelimit.NewRedisLimiter(client, serviceName)
		}
	}

	// Services
	recorder := audit.NewService(auditRepo, auditOpts...)
	evaluator := access.NewEvaluator(recorder, access.NewLinkResolver(patientRepo, professionalRepo, linkCacheTTL), m)

	tokens, err := auth.NewTokenManager(auth.Config{
		Secret:   cfg.JWT.Secret,
		Issuer:   cfg.JWT.Issuer,
		Audience: cfg.JWT.Audience,
		Expiry:   cfg.JWT.Expiry,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize token manager")
	}

	authSvc := authService.NewService(accountRepo, patientRepo, professionalRepo, hasher, tokens, recorder,
		authService.Config{
			MaxLoginAttempts: cfg.Security.MaxLoginAttempts,
			LockoutDuration:  cfg.Security.LockoutDuration,
		},
		authService.WithMetrics(m),
	)
	patientSvc := patientService.NewService(patientRepo, hasher, evaluator, recorder)
	professionalSvc := professionalService.NewService(professionalRepo, appointmentRepo, hasher, evaluator, recorder)
	appointmentSvc := appointmentService.NewService(appointmentRepo, patientRepo, professionalRepo, evaluator, recorder)
	auditSvc := auditlog.NewService(auditRepo, accountRepo, evaluator, recorder)

	// Router
	r, err := router.NewRouter(router.RouterConfig{
		Production:     cfg.IsProduction(),
		AllowedOrigins: cfg.Server.AllowedOrigins,
		TrustedProxies: cfg.Server.TrustedProxies,
		RequestTimeout: cfg.Server.WriteTimeout,
		Policies: router.Policies{
			General:   policy("general", cfg.RateLimit.General),
			Login:     policy("login", cfg.RateLimit.Login),
			Register:  policy("register", cfg.RateLimit.Register),
			Sensitive: policy("sensitive", cfg.RateLimit.Sensitive),
		},
	}, router.Dependencies{
		Auth:    middleware.NewAuthMiddleware(authSvc),
		Limiter: limiter,
		Metrics: m,
		Prom:    prom,
		Health:  health.NewHandler(checks),
		Handlers: []router.Handler{
			authHandler.NewHandler(authSvc),
			patientHandler.NewHandler(patientSvc),
			professionalHandler.NewHandler(professionalSvc),
			appointmentHandler.NewHandler(appointmentSvc),
			auditHandler.NewHandler(auditSvc),
		},
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build router")
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Str("environment", cfg.Environment).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		os.Exit(1)
	}

	log.Info().Msg("server exited properly")
}
