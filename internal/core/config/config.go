package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/pgactor/internal/actor"
	"github.com/vietddude/pgactor/internal/infra/postgres"
	redisclient "github.com/vietddude/pgactor/internal/infra/redis"
	"github.com/vietddude/pgactor/internal/looper"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"`
	Database postgres.Config    `yaml:"database"`
	Actor    ActorConfig        `yaml:"actor"`
	Loopers  []LooperConfig     `yaml:"loopers"`
	Redis    redisclient.Config `yaml:"redis"`
	Logging  LoggingConfig      `yaml:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
	// MetricsInterval is how often pool stats are sampled.
	MetricsInterval time.Duration `yaml:"metrics_interval"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// ActorConfig holds pool actor settings.
type ActorConfig struct {
	Name             string        `yaml:"name"`
	MailboxSize      int           `yaml:"mailbox_size"`
	BuildTimeout     time.Duration `yaml:"build_timeout"`
	LivenessInterval time.Duration `yaml:"liveness_interval"` // 0 = disabled
	LivenessTimeout  time.Duration `yaml:"liveness_timeout"`
	LivenessFailures int           `yaml:"liveness_failures"`
	Restart          RestartConfig `yaml:"restart"`
}

// RestartConfig selects the supervisor restart policy.
type RestartConfig struct {
	Policy          string        `yaml:"policy"` // exponential (default), constant, never
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	Multiplier      float64       `yaml:"multiplier"`
	Jitter          float64       `yaml:"jitter"`
	Delay           time.Duration `yaml:"delay"`        // constant policy
	MaxAttempts     int           `yaml:"max_attempts"` // 0 = unlimited
}

// LooperConfig is a periodic query run against the pool actor.
type LooperConfig struct {
	looper.Config `yaml:",inline"`
	Query         string `yaml:"query"`
}

// RestartPolicy builds the configured policy.
func (c RestartConfig) RestartPolicy() (actor.RestartPolicy, error) {
	switch c.Policy {
	case "", "exponential":
		return actor.NewExponentialPolicy(actor.ExponentialConfig{
			InitialInterval:     c.InitialInterval,
			MaxInterval:         c.MaxInterval,
			Multiplier:          c.Multiplier,
			RandomizationFactor: c.Jitter,
			MaxAttempts:         c.MaxAttempts,
		}), nil
	case "constant":
		return actor.ConstantPolicy{Delay: c.Delay, MaxAttempts: c.MaxAttempts}, nil
	case "never":
		return actor.NeverRestart{}, nil
	default:
		return nil, fmt.Errorf("unknown restart policy %q", c.Policy)
	}
}

// Options converts the section into actor options.
func (c ActorConfig) Options(log *slog.Logger) (actor.Options, error) {
	policy, err := c.Restart.RestartPolicy()
	if err != nil {
		return actor.Options{}, err
	}
	return actor.Options{
		Name:             c.Name,
		MailboxSize:      c.MailboxSize,
		BuildTimeout:     c.BuildTimeout,
		LivenessInterval: c.LivenessInterval,
		LivenessTimeout:  c.LivenessTimeout,
		LivenessFailures: c.LivenessFailures,
		Policy:           policy,
		Logger:           log,
	}, nil
}
