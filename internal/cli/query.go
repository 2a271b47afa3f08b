package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/pgactor/internal/actor"
	"github.com/vietddude/pgactor/internal/core/config"
	"github.com/vietddude/pgactor/internal/infra/postgres"
)

var (
	dsnFlag      string
	queryTimeout time.Duration
)

var queryCmd = &cobra.Command{
	Use:   "query SQL",
	Short: "Run one query through a pool actor and print the rows",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if err := runQuery(args[0]); err != nil {
			slog.Error("Query failed", "error", err)
			os.Exit(1)
		}
	},
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that the database is reachable through a pool actor",
	Run: func(cmd *cobra.Command, args []string) {
		if err := runQuery("SELECT NOW()::TEXT AS now, current_database() AS database"); err != nil {
			slog.Error("Ping failed", "error", err)
			os.Exit(1)
		}
	},
}

func init() {
	for _, cmd := range []*cobra.Command{queryCmd, pingCmd} {
		cmd.Flags().StringVar(&dsnFlag, "dsn", "", "connection string (overrides database.url)")
		cmd.Flags().DurationVar(&queryTimeout, "timeout", 30*time.Second, "give up after this long")
		rootCmd.AddCommand(cmd)
	}
}

// startOneShot starts a pool actor from the config file, or from --dsn alone.
func startOneShot(ctx context.Context) (*postgres.Address, error) {
	if dsnFlag != "" {
		setupLogging(config.LoggingConfig{})
		return postgres.Start(ctx, dsnFlag, postgres.FromDSN(), actor.Options{Logger: slog.Default()})
	}

	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	pgCfg, err := cfg.Database.Parse()
	if err != nil {
		return nil, err
	}
	opts, err := cfg.Actor.Options(slog.Default())
	if err != nil {
		return nil, fmt.Errorf("failed to build actor options: %w", err)
	}
	return postgres.Spawn(ctx, pgCfg, opts), nil
}

func runQuery(sql string) error {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	addr, err := startOneShot(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = addr.Stop(context.Background()) }()

	rows, err := submitWhenReady(ctx, addr, func(ctx context.Context, p *postgres.Pool) ([]postgres.Row, error) {
		return p.Query(ctx, sql)
	})
	if err != nil {
		return err
	}

	st := addr.Status()
	slog.Debug("Query done", "generation", st.Generation, "handle", st.HandleID, "restarts", st.Restarts)
	printRows(rows)
	return nil
}

// submitWhenReady wraps fn in a fresh task per attempt and resubmits while the handle is absent.
func submitWhenReady[R any](ctx context.Context, addr *postgres.Address, fn func(context.Context, *postgres.Pool) (R, error)) (R, error) {
	var zero R
	for {
		out, err := actor.Submit(ctx, addr, postgres.NewTask(fn))
		if err != nil {
			if errors.Is(err, actor.ErrActorStopped) && addr.Err() != nil {
				return zero, addr.Err()
			}
			return zero, err
		}
		switch out.Kind() {
		case actor.KindSuccess:
			v, _ := out.Value()
			return v, nil
		case actor.KindDriverError:
			return zero, out.Err()
		}

		slog.Debug("Pool not ready, retrying", "state", addr.State(), "last_error", addr.Status().LastError)
		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("pool not ready (last error: %s): %w", addr.Status().LastError, ctx.Err())
		case <-addr.Done():
			return zero, fmt.Errorf("pool actor stopped: %w", addr.Err())
		case <-time.After(200 * time.Millisecond):
		}
	}
}

func printRows(rows []postgres.Row) {
	if len(rows) == 0 {
		fmt.Println("(0 rows)")
		return
	}

	columns := make([]string, 0, len(rows[0]))
	for name := range rows[0] {
		columns = append(columns, name)
	}
	slices.Sort(columns)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	for i, name := range columns {
		if i > 0 {
			_, _ = fmt.Fprint(w, "\t")
		}
		_, _ = fmt.Fprint(w, name)
	}
	_, _ = fmt.Fprintln(w)

	for _, row := range rows {
		for i, name := range columns {
			if i > 0 {
				_, _ = fmt.Fprint(w, "\t")
			}
			_, _ = fmt.Fprintf(w, "%v", row[name])
		}
		_, _ = fmt.Fprintln(w)
	}
	_ = w.Flush()
	fmt.Printf("(%d rows)\n", len(rows))
}
