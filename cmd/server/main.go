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
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/nimbusops/iam-engine/internal/audit"
	"github.com/nimbusops/iam-engine/internal/cache"
	"github.com/nimbusops/iam-engine/internal/config"
	"github.com/nimbusops/iam-engine/internal/handler"
	"github.com/nimbusops/iam-engine/internal/permissions"
	"github.com/nimbusops/iam-engine/internal/repository"
	"github.com/nimbusops/iam-engine/internal/service"
	"github.com/nimbusops/iam-engine/pkg/publicid"
	"github.com/nimbusops/iam-engine/pkg/token"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).Level(level).With().
		Timestamp().
		Str("service", "iam-engine").
		Logger()

	ctx := context.Background()

	log.Info().Msg("connecting to database")
	poolCfg, err := pgxpool.ParseConfig(cfg.Postgres.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid postgres dsn")
	}
	poolCfg.MaxConns = int32(cfg.Postgres.MaxConns)
	poolCfg.MinConns = int32(cfg.Postgres.MinConns)
	poolCfg.MaxConnLifetime = cfg.Postgres.ConnMaxLifetime

	db, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}

	var store cache.Cache
	if cfg.Redis.Enabled {
		redisCache, err := cache.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisCache.Close()
		store = redisCache
		log.Info().Str("addr", cfg.Redis.Addr).Msg("using redis cache")
	} else {
		store = cache.NewMemory()
		log.Info().Msg("using in-memory cache")
	}

	tokenMgr, err := token.NewManager(
		cfg.Token.PrivateKeyPEM, cfg.Token.PublicKeyPEM,
		cfg.Token.AccessTTL, cfg.Token.Issuer, cfg.Token.Audience,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create token manager")
	}

	obfuscator, err := publicid.New(
		cfg.PublicID.Secret, cfg.PublicID.TTL,
		publicid.WithCache(store, cfg.PublicID.CacheTTL),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create publicid obfuscator")
	}

	userRepo := repository.NewUserRepository(db, log)
	tenantRepo := repository.NewTenantRepository(db, log)
	sessionRepo := repository.NewSessionRepository(db, log)
	tokenRepo := repository.NewTokenRepository(db, log)
	deviceRepo := repository.NewDeviceRepository(db, log)
	backupCodeRepo := repository.NewBackupCodeRepository(db, log)
	eventRepo := repository.NewSecurityEventRepository(db, log)

	auditor := audit.NewRecorder(eventRepo, log)
	perms := permissions.NewManager(store, service.NewMembershipPermissionLoader(tenantRepo), cfg.Policy.PermissionsCacheTTL, log)

	deviceSvc := service.NewDeviceService(deviceRepo, auditor, service.TrustPolicy{
		Baseline:  cfg.Policy.TrustScoreBaseline,
		Increment: cfg.Policy.TrustScoreIncrement,
		Threshold: cfg.Policy.TrustScoreThreshold,
	}, log)
	twoFactorSvc := service.NewTwoFactorService(userRepo, backupCodeRepo, auditor, cfg.Token.Issuer, log)
	sessionSvc := service.NewSessionService(sessionRepo, tokenRepo, tenantRepo, auditor, cfg.Policy.SessionTTL, log)
	authSvc := service.NewAuthService(
		userRepo, tenantRepo, sessionRepo, tokenRepo,
		deviceSvc, twoFactorSvc, perms, tokenMgr, obfuscator,
		store, auditor, service.AuthPolicy{
			LockoutThreshold:        cfg.Policy.LockoutThreshold,
			LockoutDuration:         cfg.Policy.LockoutDuration,
			PendingAuthTTL:          cfg.Policy.PendingAuthTTL,
			RefreshTokenTTL:         cfg.Token.RefreshTTL,
			SessionTTL:              cfg.Policy.SessionTTL,
			SkipTwoFactorForTrusted: cfg.Policy.SkipTwoFactorForTrusted,
		}, log,
	)

	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	h := handler.New(authSvc, sessionSvc, deviceSvc, twoFactorSvc, tokenMgr, log)
	h.Register(router.Group(""))

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("starting http server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	log.Info().Msg("server stopped")
}
