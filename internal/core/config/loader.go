package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// DefaultQuery is run by loopers that do not set one.
const DefaultQuery = "SELECT NOW()::TEXT AS now"

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.MetricsInterval == 0 {
		cfg.Server.MetricsInterval = 15 * time.Second
	}

	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.Database.MinConns == nil {
		minConns := min(2, cfg.Database.MaxConns)
		cfg.Database.MinConns = &minConns
	}
	if cfg.Database.MaxConnLifetime == 0 {
		cfg.Database.MaxConnLifetime = time.Hour
	}
	if cfg.Database.MaxConnIdleTime == 0 {
		cfg.Database.MaxConnIdleTime = 30 * time.Minute
	}

	if cfg.Actor.Name == "" {
		cfg.Actor.Name = "postgres"
	}

	for i := range cfg.Loopers {
		if cfg.Loopers[i].Name == "" {
			cfg.Loopers[i].Name = fmt.Sprintf("looper-%d", i+1)
		}
		if cfg.Loopers[i].Interval == 0 {
			cfg.Loopers[i].Interval = time.Second
		}
		if cfg.Loopers[i].Query == "" {
			cfg.Loopers[i].Query = DefaultQuery
		}
	}
}
