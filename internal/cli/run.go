package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/pgactor/internal/actor"
	"github.com/vietddude/pgactor/internal/core/config"
	"github.com/vietddude/pgactor/internal/health"
	"github.com/vietddude/pgactor/internal/infra/postgres"
	redisclient "github.com/vietddude/pgactor/internal/infra/redis"
	"github.com/vietddude/pgactor/internal/looper"
	"github.com/vietddude/pgactor/internal/shutdown"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the pool actor, health server and loopers",
	Run: func(cmd *cobra.Command, args []string) {
		if err := runService(); err != nil {
			slog.Error("Service failed", "error", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runService() error {
	_ = godotenv.Load()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	pgCfg, err := cfg.Database.Parse()
	if err != nil {
		return err
	}
	opts, err := cfg.Actor.Options(slog.Default())
	if err != nil {
		return fmt.Errorf("failed to build actor options: %w", err)
	}

	stop := shutdown.New()
	stop.ListenSignals(context.Background())
	ctx, cancel := stop.Context(context.Background())
	defer cancel()

	addr := postgres.Spawn(ctx, pgCfg, opts)
	slog.Info("Pool actor started", "actor", addr.Name(), "database", pgCfg.String())

	sources := []health.Source{health.PoolSource{Addr: addr}}

	var locker looper.Locker
	if cfg.Redis.Enabled() {
		rc, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("Redis unavailable, loopers run without lock", "error", err)
		} else {
			defer func() { _ = rc.Close() }()
			locker = rc
			sources = append(sources, health.PingSource{Label: "redis", Target: rc})
		}
	}

	healthSrv := health.NewServer(health.NewMonitor(5*time.Second, sources...), cfg.Server.Port)
	postgres.StartMetricsCollector(ctx, addr, cfg.Server.MetricsInterval)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(healthSrv.Start)

	for _, lc := range cfg.Loopers {
		lopts := []looper.Option{looper.WithLogger(slog.Default())}
		if locker != nil {
			lopts = append(lopts, looper.WithLocker(locker))
		}
		l := looper.New(lc.Config, queryTrigger(addr, lc), lopts...)
		slog.Debug("Looper configured", "looper", l.Name(), "query", lc.Query, "locked", locker != nil && lc.LockKey != "")
		sub := stop.Subscribe()
		g.Go(func() error {
			l.Run(gctx, sub)
			return nil
		})
	}

	g.Go(func() error {
		select {
		case <-addr.Done():
			if err := addr.Err(); err != nil {
				stop.Trigger("actor stopped")
				return err
			}
		case <-gctx.Done():
		}
		return nil
	})

	g.Go(func() error {
		select {
		case <-stop.Done():
		case <-gctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()

		var errs []error
		if err := healthSrv.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop health server: %w", err))
		}
		if err := addr.Stop(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})

	slog.Info("pgactor running", "config", cfgPath, "port", cfg.Server.Port, "loopers", len(cfg.Loopers))
	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("pgactor stopped", "reason", stop.Reason())
	return nil
}

// queryTrigger runs lc.Query on every tick and logs the outcome.
func queryTrigger(addr *postgres.Address, lc config.LooperConfig) looper.Trigger {
	log := slog.Default().With("looper", lc.Name)
	return func(ctx context.Context) time.Duration {
		task := postgres.NewTask(func(ctx context.Context, p *postgres.Pool) ([]postgres.Row, error) {
			return p.Query(ctx, lc.Query)
		})
		out, err := actor.Submit(ctx, addr, task)
		if err != nil {
			log.Warn("Failed to submit query", "error", err)
			return lc.Interval
		}
		out.Match(
			func(rows []postgres.Row) {
				if len(rows) > 0 {
					log.Info("Query succeeded", "rows", len(rows), "first", rows[0])
				} else {
					log.Info("Query succeeded", "rows", 0)
				}
			},
			func(err error) { log.Warn("Query failed", "error", err) },
			func() { log.Debug("Pool not ready, skipping query") },
		)
		return lc.Interval
	}
}
