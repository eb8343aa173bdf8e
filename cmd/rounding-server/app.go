package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ehr/rounding/internal/config"
	"github.com/ehr/rounding/internal/domain/rounding"
	"github.com/ehr/rounding/internal/platform/auth"
	"github.com/ehr/rounding/internal/platform/blobstore"
	"github.com/ehr/rounding/internal/platform/db"
	"github.com/ehr/rounding/internal/platform/export"
	"github.com/ehr/rounding/internal/platform/middleware"
)

// dependencies is everything the service layer needs, shared by serve, worker and seed.
type dependencies struct {
	svc     *rounding.Service
	pool    *pgxpool.Pool
	rdb     *redis.Client
	blobs   blobstore.BlobStore
	checks  []db.Check
	closers []func()
}

func newDependencies(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*dependencies, error) {
	d := &dependencies{}

	var (
		templates rounding.TemplateRepository
		sheets    rounding.SheetRepository
		tx        rounding.Transactor
	)
	if cfg.UsesPostgres() {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBSchema, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		d.pool = pool
		d.closers = append(d.closers, pool.Close)
		templates = rounding.NewTemplateRepoPG(pool)
		sheets = rounding.NewSheetRepoPG(pool)
		tx = db.NewTxManager(pool)
		logger.Info().Str("schema", cfg.DBSchema).Msg("connected to database")
	} else {
		store := rounding.NewMemoryStore()
		templates, sheets, tx = store.Templates(), store.Sheets(), store
	}

	d.svc = rounding.NewService(templates, sheets, tx, logger)

	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		d.rdb = redis.NewClient(opt)
		d.closers = append(d.closers, func() { _ = d.rdb.Close() })
		d.svc.SetProgressCache(rounding.NewRedisProgressCache(d.rdb, logger))
		d.svc.SetDataProvider(rounding.NewRedisDataProvider(d.rdb))
		rdb := d.rdb
		d.checks = append(d.checks, db.Check{Name: "redis", Ping: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}

	if cfg.MinIOEnabled() {
		store, err := blobstore.NewMinIOBlobStore(ctx, blobstore.MinIOConfig{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			Bucket:    cfg.MinIOBucket,
			UseSSL:    cfg.MinIOUseSSL,
		})
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("connect to object storage: %w", err)
		}
		d.blobs = store
		d.checks = append(d.checks, db.Check{Name: "minio", Ping: store.Ping})
	} else {
		d.blobs = blobstore.NewInMemoryBlobStore()
	}
	d.svc.SetExporter(export.NewService(d.blobs, nil, logger))

	return d, nil
}

// Close releases connections in reverse order of acquisition.
func (d *dependencies) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
	d.closers = nil
}

type server struct {
	*dependencies
	echo *echo.Echo
}

func newServer(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*server, error) {
	deps, err := newDependencies(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	if cfg.BackgroundExportsEnabled() {
		redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client := asynq.NewClient(redisOpt)
		deps.closers = append(deps.closers, func() { _ = client.Close() })
		deps.svc.SetExportQueue(export.NewTaskEnqueuer(client))
	} else if cfg.RedisURL != "" {
		logger.Warn().Msg("background exports disabled: they need STORE=postgres and MINIO_ENDPOINT")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(middleware.Sanitize(logger))
	e.Use(middleware.BodyLimit(cfg.BodyLimit, cfg.RosterBodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout, cfg.ExportTimeout))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders:  []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposeHeaders: []string{"X-Blob-ID", "Content-Disposition", "Retry-After"},
	}))

	e.GET("/health", db.HealthHandler(deps.pool, deps.checks...))

	// Auth middleware
	authMW := auth.DevAuthMiddleware()
	if !cfg.IsDev() {
		authMW = auth.JWTMiddleware(auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			JWKSURL:  cfg.AuthJWKSURL,
		})
	}

	apiV1 := e.Group("/api/v1", authMW, middleware.Audit(logger))
	if cfg.RateLimitRPS > 0 {
		apiV1.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			BurstSize:         cfg.RateLimitBurst,
		}))
	}

	rounding.NewHandler(deps.svc).RegisterRoutes(apiV1)

	artifacts := apiV1.Group("", auth.RequireRole(auth.RolePhysician, auth.RoleNurse))
	blobstore.NewBlobHandler(deps.blobs).RegisterRoutes(artifacts)

	return &server{dependencies: deps, echo: e}, nil
}
