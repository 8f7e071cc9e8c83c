package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"net/http/pprof"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/coupon-engine/internal/auth"
	"github.com/noah-isme/coupon-engine/internal/common"
	"github.com/noah-isme/coupon-engine/internal/config"
	"github.com/noah-isme/coupon-engine/internal/coupon"
	"github.com/noah-isme/coupon-engine/internal/health"
	"github.com/noah-isme/coupon-engine/internal/lock"
	"github.com/noah-isme/coupon-engine/internal/obs"
	"github.com/noah-isme/coupon-engine/internal/ratelimit"
	"github.com/noah-isme/coupon-engine/internal/resilience"
	"github.com/noah-isme/coupon-engine/internal/security"
	"github.com/noah-isme/coupon-engine/internal/store/memory"
	"github.com/noah-isme/coupon-engine/internal/store/postgres"
	"github.com/noah-isme/coupon-engine/internal/usage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	decimal.MarshalJSONWithoutQuotes = true

	logger := obs.NewLogger(cfg.Obs.LogFormat, cfg.Obs.LogLevel).With().Str("env", cfg.AppEnv).Logger()

	if cfg.Obs.MetricsEnabled {
		obs.MustRegisterDomainMetrics(cfg.Obs.MetricsNamespace, nil)
	}

	shutdownTracer, err := obs.InitTracer(context.Background(), obs.TracingConfig{
		ServiceName:   "coupon-engine",
		Endpoint:      cfg.Obs.OTLPEndpoint,
		Exporter:      cfg.Obs.TracingExporter,
		SamplingRatio: cfg.Obs.SamplingRatio,
		Environment:   cfg.AppEnv,
	})
	if err != nil {
		logger.Error().Err(err).Msg("initialise tracing")
		shutdownTracer = func(context.Context) error { return nil }
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error().Err(err).Msg("shutdown tracer")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	probes := map[string]health.Probe{}

	var pool *pgxpool.Pool
	if cfg.StoreDriver == config.DriverPostgres {
		if cfg.DBAutoMigrate {
			if err := postgres.Migrate(cfg.DatabaseURL); err != nil {
				logger.Fatal().Err(err).Msg("run migrations")
			}
		}
		pool = openPool(ctx, cfg, logger)
		defer pool.Close()
		probes["db"] = pool.Ping
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient = openRedis(ctx, cfg, logger)
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Error().Err(err).Msg("close redis")
			}
		}()
		probes["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	var repo coupon.Repository = memory.New()
	if pool != nil {
		repo = postgres.New(pool).WithLogger(logger.With().Str("component", "coupon_store").Logger())
	}

	var tracker coupon.UsageTracker
	switch cfg.UsageDriver {
	case config.DriverPostgres:
		tracker = postgres.UsageTracker{DB: pool}
	case config.DriverRedis:
		tracker = usage.Redis{R: redisClient, TTL: cfg.UsageTTL}
	default:
		tracker = usage.NewMemory()
	}
	if cfg.UsageDriver != config.DriverMemory {
		breaker := resilience.NewBreaker("usage_"+cfg.UsageDriver, 10, 0.5, 10*time.Second).
			WithLogger(logger.With().Str("component", "breaker").Logger())
		tracker = resilience.GuardedUsage{Next: tracker, Breaker: breaker}
	}

	var locks coupon.Locker = &lock.Local{}
	if redisClient != nil {
		locks = lock.Redis{R: redisClient}
	}

	engine := &coupon.Engine{
		Catalog: repo,
		Usage:   tracker,
		Locks:   locks,
		LockTTL: cfg.MasterLockTTL,
		Logger:  logger.With().Str("component", "engine").Logger(),
	}
	couponHandler := &coupon.Handler{
		Repo:   repo,
		Engine: engine,
		Logger: logger.With().Str("component", "coupon_http").Logger(),
	}

	adminGuard := adminMiddleware(cfg, logger)
	idem := common.Idem{R: redisClient, TTL: cfg.IdempotencyTTL}

	limitStore, err := ratelimit.NewStore(redisClient, "")
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise rate limit store")
	}
	limit, err := ratelimit.New(limitStore, cfg.RateLimit, false)
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise rate limiter")
	}
	limitHandler := ratelimit.Handler{
		Limiter: limit,
		OnError: func(err error) { logger.Warn().Err(err).Msg("rate limiter unavailable") },
	}

	var httpMetrics *obs.HTTPMetrics
	if cfg.Obs.MetricsEnabled {
		buckets := obs.ParseBucketsCSV(cfg.Obs.MetricsBuckets)
		httpMetrics = obs.NewHTTPMetrics(cfg.Obs.MetricsNamespace, buckets, nil)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	r.Use(obs.TracingMiddleware)
	if httpMetrics != nil {
		r.Use(obs.HTTPObs{Metrics: httpMetrics}.Middleware)
	}
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(cfg),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", common.IdempotencyHeader},
		ExposedHeaders:   []string{common.ReplayedHeader, "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if httpMetrics != nil {
		r.Handle("/metrics", promhttp.Handler())
	}
	if cfg.Obs.PprofEnabled {
		r.Mount("/debug/pprof", protectPprof(newPprofMux(), cfg.Obs.PprofUser, cfg.Obs.PprofPass))
	}

	healthHandler := health.Handler{Probes: probes, Timeout: cfg.ReadyTimeout}
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(security.Headers{HSTS: cfg.IsProduction(), NoStore: true}.Middleware)
		v.Use(middleware.RequestSize(cfg.RequestBodyLimit))
		v.Use(limitHandler.Middleware)
		v.Mount("/", couponHandler.Routes(adminGuard, idem.Middleware))
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Str("store", cfg.StoreDriver).Str("usage", cfg.UsageDriver).Msg("server starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	case <-sigCtx.Done():
		health.SetReady(false)
		logger.Info().Msg("shutting down")
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancelShutdown()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("graceful shutdown")
		}
	}
}

func openPool(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *pgxpool.Pool {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "coupon-engine"

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}
	return pool
}

func openRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *redis.Client {
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	client := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if cfg.Obs.MetricsEnabled {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			logger.Error().Err(err).Msg("instrument redis metrics")
		}
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return client
}

// adminMiddleware verifies bearer tokens when a secret is configured. Outside
// production an empty secret leaves admin routes open.
func adminMiddleware(cfg *config.Config, logger zerolog.Logger) func(http.Handler) http.Handler {
	if cfg.JWTSecret == "" {
		logger.Warn().Msg("JWT_SECRET not set; admin routes are unauthenticated")
		return nil
	}
	m := auth.Middleware{Verifier: auth.Verifier{
		Secret: []byte(cfg.JWTSecret),
		Validator: auth.TokenValidator{
			Issuer:    cfg.JWTIssuer,
			Audience:  cfg.JWTAudience,
			ClockSkew: 30 * time.Second,
		},
	}}
	return m.RequireAdmin
}

func allowedOrigins(cfg *config.Config) []string {
	if len(cfg.CORSAllowedOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.CORSAllowedOrigins
}

func newPprofMux() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", pprof.Index)
	mux.HandleFunc("/cmdline", pprof.Cmdline)
	mux.HandleFunc("/profile", pprof.Profile)
	mux.HandleFunc("/symbol", pprof.Symbol)
	mux.HandleFunc("/trace", pprof.Trace)
	mux.Handle("/allocs", pprof.Handler("allocs"))
	mux.Handle("/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/heap", pprof.Handler("heap"))
	mux.Handle("/mutex", pprof.Handler("mutex"))
	return mux
}

func protectPprof(handler http.Handler, user, pass string) http.Handler {
	user = strings.TrimSpace(user)
	pass = strings.TrimSpace(pass)
	if user == "" {
		return handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 || subtle.ConstantTimeCompare([]byte(p), []byte(pass)) != 1 {
			w.Header().Set("WWW-Authenticate", "Basic realm=restricted")
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
