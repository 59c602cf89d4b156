package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/tokenbridge/settlement-api/internal/app"
	"github.com/tokenbridge/settlement-api/internal/config"
	"github.com/tokenbridge/settlement-api/internal/domain/escrow"
	"github.com/tokenbridge/settlement-api/internal/domain/ledger"
	"github.com/tokenbridge/settlement-api/internal/jobs"
	"github.com/tokenbridge/settlement-api/internal/pkg/database"
	"github.com/tokenbridge/settlement-api/internal/pkg/events"
	"github.com/tokenbridge/settlement-api/internal/pkg/logger"
	"github.com/tokenbridge/settlement-api/migrations"
)

// errMismatch makes reconcile exit non-zero without an extra log line.
var errMismatch = cli.Exit("", 2)

func main() {
	cliApp := &cli.App{
		Name:  "settlectl",
		Usage: "Operator tooling for the settlement service",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "database-url", Aliases: []string{"d"}, Usage: "Postgres DSN (defaults to DATABASE_URL)"},
			&cli.StringFlag{Name: "redis-url", Usage: "Redis URL for event publishing (defaults to REDIS_URL)"},
			&cli.StringFlag{Name: "log-level", Value: "info", Usage: "Log level"},
		},
		Before: func(c *cli.Context) error {
			return logger.Init(logger.Config{Level: c.String("log-level"), Environment: "development"})
		},
		Commands: []*cli.Command{
			{
				Name:   "migrate",
				Usage:  "Apply pending schema migrations",
				Action: migrate,
			},
			{
				Name:  "sweep",
				Usage: "Expire overdue mint and burn requests",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "once", Usage: "Run a single sweep and exit"},
					&cli.DurationFlag{Name: "interval", Usage: "Sweep interval (defaults to EXPIRY_SWEEP_INTERVAL)"},
				},
				Action: sweep,
			},
			{
				Name:  "reconcile",
				Usage: "Compare pending balances with open escrows",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "user", Usage: "Check a single user ID"},
					&cli.StringFlag{Name: "token", Usage: "Token type for --user (NT, CT, USDT)"},
				},
				Action: reconcile,
			},
			{
				Name:  "retry-chain",
				Usage: "Resubmit failed on-chain mint settlements",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Value: 50, Usage: "Maximum settlements to retry"},
				},
				Action: retryChain,
			},
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("settlectl failed")
	}
}

type env struct {
	cfg       *config.Config
	db        *sqlx.DB
	rdb       *redis.Client
	publisher events.Publisher
}

func (e *env) Close() {
	if p, ok := e.publisher.(*events.RedisPublisher); ok {
		p.Close()
	}
	if e.rdb != nil {
		database.CloseRedis(e.rdb)
	}
	database.ClosePostgres(e.db)
}

// open connects to Postgres and, when reachable, Redis. Without Redis the
// commands still run but no events are published.
func open(c *cli.Context) (*env, error) {
	cfg := config.Load()
	if c.IsSet("database-url") {
		cfg.DatabaseURL = c.String("database-url")
	}
	if c.IsSet("redis-url") {
		cfg.RedisURL = c.String("redis-url")
	}

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	e := &env{cfg: cfg, db: db, publisher: events.Nop{}}
	rdb, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Warn().Err(err).Msg("Redis unavailable, events will not be published")
		return e, nil
	}
	e.rdb = rdb
	e.publisher = events.NewRedisPublisher(rdb, 256)
	return e, nil
}

func build(c *cli.Context) (*env, *app.App, error) {
	e, err := open(c)
	if err != nil {
		return nil, nil, err
	}
	svc, err := app.Build(c.Context, e.cfg, e.db, e.rdb, e.publisher)
	if err != nil {
		e.Close()
		return nil, nil, err
	}
	return e, svc, nil
}

func migrate(c *cli.Context) error {
	e, err := open(c)
	if err != nil {
		return err
	}
	defer e.Close()

	n, err := database.Migrate(c.Context, e.db, migrations.FS)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "applied %d migration(s)\n", n)
	return nil
}

func sweep(c *cli.Context) error {
	e, svc, err := build(c)
	if err != nil {
		return err
	}
	defer e.Close()

	job := jobs.NewExpiryJob(svc.Mints, svc.Burns, e.cfg.ExpirySweepBatch)
	if c.Bool("once") {
		res, err := job.RunOnce(c.Context)
		fmt.Fprintf(c.App.Writer, "expired %d mint request(s), %d burn request(s)\n", res.Mints, res.Burns)
		return err
	}

	interval := e.cfg.ExpirySweepInterval
	if c.IsSet("interval") {
		interval = c.Duration("interval")
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-job.Start(ctx, interval)
	return nil
}

func reconcile(c *cli.Context) error {
	e, svc, err := build(c)
	if err != nil {
		return err
	}
	defer e.Close()

	var results []escrow.Reconciliation
	if c.IsSet("user") {
		userID, err := uuid.Parse(c.String("user"))
		if err != nil {
			return fmt.Errorf("invalid --user: %w", err)
		}
		token := ledger.TokenType(strings.ToUpper(c.String("token")))
		if !token.Valid() {
			return errors.New("--token must be one of NT, CT, USDT")
		}
		rec, err := svc.Escrows.Reconcile(c.Context, userID, token)
		if err != nil {
			return err
		}
		if !rec.Balanced() {
			results = append(results, rec)
		}
	} else {
		results, err = svc.Escrows.ReconcileAll(c.Context)
		if err != nil {
			return err
		}
	}

	return printReconciliation(c, results)
}

func printReconciliation(c *cli.Context, results []escrow.Reconciliation) error {
	w := c.App.Writer
	if len(results) == 0 {
		fmt.Fprintln(w, "all pending balances match open escrows")
		return nil
	}
	fmt.Fprintf(w, "%-36s  %-5s  %20s  %20s\n", "USER", "TOKEN", "PENDING", "OPEN ESCROWS")
	for _, r := range results {
		fmt.Fprintf(w, "%-36s  %-5s  %20s  %20s\n", r.UserID, r.TokenType, r.PendingBalance.String(), r.OpenEscrowTotal.String())
	}
	return errMismatch
}

func retryChain(c *cli.Context) error {
	e, svc, err := build(c)
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, cancel := context.WithTimeout(c.Context, 5*time.Minute)
	defer cancel()

	n, err := jobs.NewChainRetryJob(svc.Chain, c.Int("limit")).RunOnce(ctx)
	if err != nil {
		return err
	}
	svc.Chain.Wait()
	fmt.Fprintf(c.App.Writer, "resubmitted %d settlement(s)\n", n)
	return nil
}
