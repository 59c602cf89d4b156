// Package app wires the settlement services over Postgres. It is shared by
// the API server and settlectl.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/tokenbridge/settlement-api/internal/config"
	"github.com/tokenbridge/settlement-api/internal/domain/agent"
	"github.com/tokenbridge/settlement-api/internal/domain/burn"
	"github.com/tokenbridge/settlement-api/internal/domain/chain"
	"github.com/tokenbridge/settlement-api/internal/domain/dispute"
	"github.com/tokenbridge/settlement-api/internal/domain/escrow"
	"github.com/tokenbridge/settlement-api/internal/domain/ledger"
	"github.com/tokenbridge/settlement-api/internal/domain/mint"
	"github.com/tokenbridge/settlement-api/internal/domain/proof"
	"github.com/tokenbridge/settlement-api/internal/pkg/chainclient"
	"github.com/tokenbridge/settlement-api/internal/pkg/database"
	"github.com/tokenbridge/settlement-api/internal/pkg/events"
	"github.com/tokenbridge/settlement-api/internal/pkg/imaging"
	"github.com/tokenbridge/settlement-api/internal/pkg/rates"
	"github.com/tokenbridge/settlement-api/internal/pkg/storage"
)

const Version = "1.0.0"

type App struct {
	Ledger   *ledger.Service
	Agents   *agent.Service
	Escrows  *escrow.Service
	Mints    *mint.Service
	Burns    *burn.Service
	Disputes *dispute.Service
	Chain    *chain.Dispatcher
	Proofs   *proof.Service
	Rates    rates.Provider

	// UploadDir is set when proofs are stored on local disk.
	UploadDir string
}

// Build wires every service. rdb may be nil, in which case rates are not cached.
func Build(ctx context.Context, cfg *config.Config, db *sqlx.DB, rdb *redis.Client, publisher events.Publisher) (*App, error) {
	rp, err := NewRates(cfg, rdb)
	if err != nil {
		return nil, err
	}

	var platformUser uuid.UUID
	if cfg.PlatformFeeUserID != "" {
		if platformUser, err = uuid.Parse(cfg.PlatformFeeUserID); err != nil {
			return nil, fmt.Errorf("invalid PLATFORM_FEE_USER_ID: %w", err)
		}
	}

	st, uploadDir, err := NewStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}

	tx := database.NewTxRunner(db)
	gateway := chainclient.NewClient(cfg.ChainGatewayURL, cfg.ChainGatewayToken, cfg.ChainGatewayTimeout, "settlement-api/"+Version)

	a := &App{Rates: rp, UploadDir: uploadDir}
	a.Ledger = ledger.NewService(ledger.NewRepository(db), tx, publisher)
	a.Agents = agent.NewService(agent.NewRepository(db), tx, rp, agent.Config{SuspendThreshold: cfg.AgentDisputeSuspendThreshold})
	a.Escrows = escrow.NewService(escrow.NewRepository(db), tx, a.Ledger, publisher)
	a.Chain = chain.NewDispatcher(chain.NewRepository(db), a.Ledger, gateway)
	a.Mints = mint.NewService(mint.NewRepository(db), tx, a.Ledger, a.Agents, a.Chain, publisher, cfg.MintRequestTTL)
	a.Burns = burn.NewService(burn.NewRepository(db), tx, a.Escrows, a.Agents, publisher, cfg.BurnRequestTTL)
	a.Disputes = dispute.NewService(dispute.NewRepository(db), tx, a.Mints, a.Burns, a.Ledger, a.Agents, rp, publisher, dispute.Config{
		PenaltyDestination: cfg.PenaltyDestination,
		PlatformUserID:     platformUser,
	})
	a.Proofs = proof.NewService(st, imaging.NewProcessor(imaging.DefaultConfig()))
	return a, nil
}

// NewRates returns the configured static rates, or the HTTP rate feed cached
// in Redis when RATES_URL is set.
func NewRates(cfg *config.Config, rdb *redis.Client) (rates.Provider, error) {
	static, err := rates.ParseStatic(cfg.StaticRates)
	if err != nil {
		return nil, fmt.Errorf("invalid STATIC_RATES: %w", err)
	}
	if cfg.RatesURL == "" {
		return static, nil
	}
	return rates.NewCachedProvider(rates.NewHTTPProvider(cfg.RatesURL, cfg.RatesToken, 5*time.Second), rdb, cfg.RatesCacheTTL), nil
}

// NewStorage returns R2 storage when configured and local disk otherwise.
// The returned directory is non-empty only for local disk.
func NewStorage(ctx context.Context, cfg *config.Config) (storage.Storage, string, error) {
	if cfg.R2Enabled() {
		st, err := storage.NewR2Storage(ctx, storage.R2Config{
			AccountID:       cfg.R2AccountID,
			AccessKeyID:     cfg.R2AccessKeyID,
			AccessKeySecret: cfg.R2AccessKeySecret,
			BucketName:      cfg.R2BucketName,
			PublicURL:       cfg.R2PublicURL,
		})
		if err != nil {
			return nil, "", err
		}
		return st, "", nil
	}

	log.Warn().Str("dir", cfg.UploadDir).Msg("R2 is not configured, storing proofs on local disk")
	st, err := storage.NewLocalStorage(cfg.UploadDir, cfg.UploadBaseURL)
	if err != nil {
		return nil, "", err
	}
	return st, cfg.UploadDir, nil
}
