package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"leasehub/api/internal/cache"
	"leasehub/api/internal/config"
	"leasehub/api/internal/database"
	"leasehub/api/internal/handlers"
	"leasehub/api/internal/jobs"
	"leasehub/api/internal/log"
	"leasehub/api/internal/mail"
	"leasehub/api/internal/middleware"
	"leasehub/api/internal/repository"
	"leasehub/api/internal/security"
	"leasehub/api/internal/server"
	"leasehub/api/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := log.New(cfg.Environment, "api")
	if cfg.UsesDevelopmentSecret() {
		logger.Warn().Msg("using the built-in development jwt secret")
	}

	ctx := context.Background()

	dbPool, err := database.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect postgres")
	}
	if cfg.Postgres.AutoMigrate {
		if err := database.RunMigrations(ctx, dbPool, logger); err != nil {
			logger.Fatal().Err(err).Msg("migrations failed")
		}
	}

	// Without redis the denylist and rate limiter run on the degradation policy.
	redisClient, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		logger.Warn().Err(err).Msg("redis unreachable at startup")
	}

	tokens, err := security.NewTokenCodec(cfg.Security.JWTSecret, cfg.Security.AccessTTL)
	if err != nil {
		logger.Fatal().Err(err).Msg("token codec init failed")
	}

	policy := cache.PolicyFromConfig(cfg.Security.FailClosedCache)
	denylist := cache.NewDenylist(redisClient, policy, cfg.Redis.OpTimeout, logger)
	limiter := cache.NewRateLimiter(redisClient, cache.RulesFromConfig(cfg.RateLimit), policy, cfg.Redis.OpTimeout, logger)

	users := repository.NewUserRepository(dbPool)
	refreshTokens := repository.NewRefreshTokenRepository(dbPool, cfg.Security.RefreshTTL, cfg.Security.RememberMeTTL)
	resetTokens := repository.NewResetTokenRepository(dbPool, cfg.Security.ResetTTL)

	sessions := service.NewSessionService(service.SessionDeps{
		Users:       users,
		Profiles:    repository.NewProfileRepository(dbPool),
		Refresh:     refreshTokens,
		ResetTokens: resetTokens,
		Denylist:    denylist,
		Hasher:      security.NewPasswordHasher(cfg.Security.BcryptCost, cfg.Security.MaxConcurrentHashes),
		Tokens:      tokens,
		Policy:      security.NewPasswordPolicy(cfg.Security.PasswordMinLength, cfg.Security.PasswordSymbols),
		Mailer:      mail.NewQueueMailer(redisClient, cfg.Mail.Stream),
	}, service.SessionConfig{
		VerificationTTL:     cfg.Security.VerificationTTL,
		RevokeFamilyOnReuse: cfg.Security.RevokeFamilyOnReuse,
		ReuseGrace:          cfg.Security.ReuseGrace,
	}, logger)

	cookies := middleware.CookieSettingsFromConfig(cfg)
	handlerSet := handlers.NewHandlerSet(handlers.Deps{
		Log:         logger,
		Environment: cfg.Environment,
		Sessions:    sessions,
		Gate:        middleware.NewGate(tokens, denylist, sessions, cookies, logger),
		Limiter:     limiter,
		Cookies:     cookies,
		CSRFExempt:  []string{cfg.OAuth.CallbackPrefix},
		Database:    dbPool.Ping,
		Cache:       func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
	})
	httpServer := server.NewHTTPServer(cfg, logger, handlerSet)

	scheduler := jobs.NewScheduler(cfg.Jobs.SweepSchedule, cfg.Jobs.SweepGrace, map[string]jobs.Sweeper{
		"refresh_tokens":        refreshTokens,
		"password_reset_tokens": resetTokens,
	}, logger)
	if err := scheduler.Start(); err != nil {
		logger.Error().Err(err).Msg("scheduler start failed")
	}

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	waitForShutdown(logger, httpServer, scheduler, dbPool, redisClient)
}

func waitForShutdown(logger zerolog.Logger, srv *server.HTTPServer, scheduler *jobs.Scheduler, db *pgxpool.Pool, redisClient *redis.Client) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
		if err := srv.Shutdown(context.Background()); err != nil {
			logger.Error().Err(err).Msg("forced shutdown failed")
		}
	}

	scheduler.Stop(shutdownCtx)

	db.Close()
	if err := redisClient.Close(); err != nil {
		logger.Error().Err(err).Msg("redis close error")
	}

	logger.Info().Msg("server exited cleanly")
}
