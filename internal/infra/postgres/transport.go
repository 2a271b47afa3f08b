package postgres

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/jackc/pgx/v5/pgconn"
)

// Transport decides how connections negotiate encryption. Values are immutable
// and safe for concurrent use.
type Transport interface {
	Name() string
	Apply(cfg *pgconn.Config) error
}

// NoTLS forces plaintext connections regardless of the DSN's sslmode.
func NoTLS() Transport { return noTLS{} }

type noTLS struct{}

func (noTLS) Name() string { return "plaintext" }

func (noTLS) Apply(cfg *pgconn.Config) error {
	cfg.TLSConfig = nil
	for _, fb := range cfg.Fallbacks {
		fb.TLSConfig = nil
	}
	cfg.Fallbacks = dedupeFallbacks(cfg)
	return nil
}

// TLS forces encrypted connections with the given client configuration.
// ServerName defaults to each host's name. Plaintext fallbacks are removed.
func TLS(cfg *tls.Config) Transport { return tlsTransport{cfg: cfg} }

type tlsTransport struct {
	cfg *tls.Config
}

func (t tlsTransport) Name() string { return "tls" }

func (t tlsTransport) Apply(cfg *pgconn.Config) error {
	if t.cfg == nil {
		return errors.New("tls transport requires a tls.Config")
	}
	cfg.TLSConfig = t.forHost(cfg.Host)
	for _, fb := range cfg.Fallbacks {
		fb.TLSConfig = t.forHost(fb.Host)
	}
	cfg.Fallbacks = dedupeFallbacks(cfg)
	return nil
}

func (t tlsTransport) forHost(host string) *tls.Config {
	c := t.cfg.Clone()
	if c.ServerName == "" {
		c.ServerName = host
	}
	return c
}

// FromDSN keeps whatever the DSN's sslmode produced.
func FromDSN() Transport { return dsnTransport{} }

type dsnTransport struct{}

func (dsnTransport) Name() string { return "dsn" }

func (dsnTransport) Apply(*pgconn.Config) error { return nil }

// dedupeFallbacks drops fallbacks that now duplicate the primary or each other.
// sslmode=prefer produces one TLS and one plaintext entry per host.
func dedupeFallbacks(cfg *pgconn.Config) []*pgconn.FallbackConfig {
	key := func(host string, port uint16) string {
		return net.JoinHostPort(host, strconv.Itoa(int(port)))
	}
	seen := map[string]bool{key(cfg.Host, cfg.Port): true}
	var out []*pgconn.FallbackConfig
	for _, fb := range cfg.Fallbacks {
		k := key(fb.Host, fb.Port)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, fb)
	}
	return out
}

// TLSConfig selects the transport from YAML.
type TLSConfig struct {
	Mode               string `yaml:"mode"` // dsn (default), disable, require, verify-full
	CAFile             string `yaml:"ca_file"`
	ServerName         string `yaml:"server_name"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// Transport builds the configured transport.
func (c TLSConfig) Transport() (Transport, error) {
	switch c.Mode {
	case "", "dsn":
		return FromDSN(), nil
	case "disable":
		return NoTLS(), nil
	case "require", "verify-full":
		tc := &tls.Config{
			ServerName:         c.ServerName,
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: c.Mode == "require" || c.InsecureSkipVerify,
		}
		if c.CAFile != "" {
			pem, err := os.ReadFile(c.CAFile)
			if err != nil {
				return nil, fmt.Errorf("failed to read ca file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(pem) {
				return nil, fmt.Errorf("no certificates found in %s", c.CAFile)
			}
			tc.RootCAs = pool
		}
		return TLS(tc), nil
	default:
		return nil, fmt.Errorf("unknown tls mode %q", c.Mode)
	}
}
