// Package postgres supervises a pgx connection pool behind an actor.
//
// Parsing a connection string never touches the network. The pool itself is
// built lazily by the actor, and every restart produces a fresh pool with a new
// generation; the previous pool is closed once its in-flight tasks release
// their connections.
package postgres

import (
	"context"

	"github.com/vietddude/pgactor/internal/actor"
)

// Address is the stable handle to a running pool actor.
type Address = actor.Address[*Pool]

// Start parses dsn and starts a pool actor. A malformed dsn is reported here as
// a *ConfigError and no actor or build attempt is made.
func Start(ctx context.Context, dsn string, transport Transport, opts actor.Options, cfgOpts ...ConfigOption) (*Address, error) {
	cfg, err := ParseConfig(dsn, transport, cfgOpts...)
	if err != nil {
		return nil, err
	}
	return Spawn(ctx, cfg, opts), nil
}

// Spawn starts a pool actor for an already parsed configuration.
func Spawn(ctx context.Context, cfg ConnConfig, opts actor.Options) *Address {
	if opts.Name == "" {
		opts.Name = "postgres"
	}
	if opts.AdaptError == nil {
		opts.AdaptError = AdaptError
	}
	return actor.Start[*Pool](ctx, NewBuilder(cfg, opts.Logger), opts)
}

// NewTask wraps fn into a one-shot task for a pool actor.
func NewTask[R any](fn func(ctx context.Context, p *Pool) (R, error)) *actor.Task[*Pool, R] {
	return actor.NewTask[*Pool, R](fn)
}
