package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/pgactor/internal/actor"
	"github.com/vietddude/pgactor/internal/infra/postgres"
)

// Source reports the health of one component.
type Source interface {
	Name() string
	Check(ctx context.Context) ComponentHealth
}

// Monitor aggregates health status from various system components.
type Monitor struct {
	sources    []Source
	cacheTTL   time.Duration
	lastCheck  time.Time
	lastReport map[string]ComponentHealth
	mu         sync.Mutex
}

// NewMonitor creates a new health monitor. Reports are reused for cacheTTL.
func NewMonitor(cacheTTL time.Duration, sources ...Source) *Monitor {
	return &Monitor{
		sources:    sources,
		cacheTTL:   cacheTTL,
		lastReport: make(map[string]ComponentHealth),
	}
}

// CheckHealth performs a health check for all sources.
func (m *Monitor) CheckHealth(ctx context.Context) map[string]ComponentHealth {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cacheTTL > 0 && time.Since(m.lastCheck) < m.cacheTTL && len(m.lastReport) > 0 {
		return m.lastReport
	}

	report := make(map[string]ComponentHealth, len(m.sources))
	for _, src := range m.sources {
		report[src.Name()] = src.Check(ctx)
	}

	m.lastCheck = time.Now()
	m.lastReport = report
	return report
}

// PoolSource reports a pool actor. Only Ready is healthy.
type PoolSource struct {
	Addr *postgres.Address
	// StatsTimeout bounds the stats task. 0 means 2s.
	StatsTimeout time.Duration
}

func (p PoolSource) Name() string { return p.Addr.Name() }

func (p PoolSource) Check(ctx context.Context) ComponentHealth {
	st := p.Addr.Status()
	h := ComponentHealth{
		Name:       p.Addr.Name(),
		Status:     StatusCritical,
		State:      st.State.String(),
		Generation: st.Generation,
		HandleID:   st.HandleID,
		Restarts:   st.Restarts,
		LastError:  st.LastError,
	}
	if st.State != actor.StateReady {
		return h
	}
	h.Status = StatusHealthy

	timeout := p.StatsTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := actor.Submit(ctx, p.Addr, postgres.NewTask(func(_ context.Context, pool *postgres.Pool) (postgres.Stats, error) {
		return pool.Stats(), nil
	}))
	if err != nil {
		h.Status = StatusDegraded
		return h
	}
	if stats, ok := out.Value(); ok {
		h.Pool = &stats
	}
	return h
}

// Pinger is anything with a connectivity check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingSource reports an optional dependency: failures degrade, never fail, the system.
type PingSource struct {
	Label  string
	Target Pinger
}

func (p PingSource) Name() string { return p.Label }

func (p PingSource) Check(ctx context.Context) ComponentHealth {
	h := ComponentHealth{Name: p.Label, Status: StatusHealthy}
	if err := p.Target.Ping(ctx); err != nil {
		h.Status = StatusDegraded
		h.LastError = err.Error()
	}
	return h
}
