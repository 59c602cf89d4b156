package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tokenbridge/settlement-api/internal/app"
	"github.com/tokenbridge/settlement-api/internal/config"
	"github.com/tokenbridge/settlement-api/internal/domain/agent"
	"github.com/tokenbridge/settlement-api/internal/domain/burn"
	"github.com/tokenbridge/settlement-api/internal/domain/chain"
	"github.com/tokenbridge/settlement-api/internal/domain/dispute"
	"github.com/tokenbridge/settlement-api/internal/domain/escrow"
	"github.com/tokenbridge/settlement-api/internal/domain/ledger"
	"github.com/tokenbridge/settlement-api/internal/domain/mint"
	"github.com/tokenbridge/settlement-api/internal/domain/proof"
	"github.com/tokenbridge/settlement-api/internal/domain/realtime"
	"github.com/tokenbridge/settlement-api/internal/jobs"
	"github.com/tokenbridge/settlement-api/internal/pkg/database"
	"github.com/tokenbridge/settlement-api/internal/pkg/events"
	"github.com/tokenbridge/settlement-api/internal/pkg/jwt"
	"github.com/tokenbridge/settlement-api/internal/pkg/logger"
	"github.com/tokenbridge/settlement-api/internal/pkg/rates"
)

func main() {
	cfg := config.Load()
	if err := logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env}); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise logger")
	}

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Msg("Starting settlement API")

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	rdb, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(rdb)

	publisher := events.NewRedisPublisher(rdb, 1024)
	svc, err := app.Build(context.Background(), cfg, db, rdb, publisher)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to wire services")
	}

	jwtService := jwt.NewService(cfg.JWTSecret, cfg.JWTAccessTTL)
	router := newRouter(routerDeps{
		JWT:            jwtService,
		AllowedOrigins: cfg.AllowedOrigins,
		Handlers:       newHandlers(svc, realtime.NewHandler(jwtService, realtime.NewRedisSubscriber(rdb), cfg.AllowedOrigins)),
		UploadDir:      svc.UploadDir,
		Ready: func(ctx context.Context) error {
			if err := db.PingContext(ctx); err != nil {
				return err
			}
			return rdb.Ping(ctx).Err()
		},
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	jobCtx, stopJobs := context.WithCancel(context.Background())
	sweeperDone := jobs.NewExpiryJob(svc.Mints, svc.Burns, cfg.ExpirySweepBatch).Start(jobCtx, cfg.ExpirySweepInterval)
	retryDone := jobs.NewChainRetryJob(svc.Chain, 50).Start(jobCtx, 10*time.Minute)

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Pending chain submissions and queued events finish before the pools close.
	stopJobs()
	<-sweeperDone
	<-retryDone
	svc.Chain.Wait()
	publisher.Close()

	log.Info().Msg("Server exited properly")
}

func newHandlers(svc *app.App, rt *realtime.Handler) handlers {
	return handlers{
		Wallets:  ledger.NewHandler(svc.Ledger),
		Agents:   agent.NewHandler(svc.Agents),
		Mints:    mint.NewHandler(svc.Mints),
		Burns:    burn.NewHandler(svc.Burns),
		Escrows:  escrow.NewHandler(svc.Escrows),
		Disputes: dispute.NewHandler(svc.Disputes),
		Chain:    chain.NewHandler(svc.Chain),
		Proofs:   proof.NewHandler(svc.Proofs),
		Rates:    rates.NewHandler(svc.Rates),
		Realtime: rt,
	}
}
