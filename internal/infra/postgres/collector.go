package postgres

import (
	"context"
	"time"

	"github.com/vietddude/pgactor/internal/actor"
	"github.com/vietddude/pgactor/internal/metrics"
)

// StartMetricsCollector starts a background goroutine that samples pool stats
// through the actor. While no handle exists the gauges read zero.
func StartMetricsCollector(ctx context.Context, addr *Address, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-addr.Done():
				return
			case <-ticker.C:
				collectStats(ctx, addr)
			}
		}
	}()
}

func collectStats(ctx context.Context, addr *Address) {
	task := NewTask(func(_ context.Context, p *Pool) (Stats, error) {
		return p.Stats(), nil
	})
	out, err := actor.Submit(ctx, addr, task)
	if err != nil {
		return
	}

	name := addr.Name()
	stats, ok := out.Value()
	if !ok {
		stats = Stats{}
	}
	metrics.PoolConnections.WithLabelValues(name, "total").Set(float64(stats.Total))
	metrics.PoolConnections.WithLabelValues(name, "idle").Set(float64(stats.Idle))
	metrics.PoolConnections.WithLabelValues(name, "acquired").Set(float64(stats.Acquired))
	metrics.PoolConnections.WithLabelValues(name, "max").Set(float64(stats.Max))

	if stats.Max > 0 {
		metrics.PoolUsage.WithLabelValues(name).Set(float64(stats.Acquired) / float64(stats.Max) * 100)
	} else {
		metrics.PoolUsage.WithLabelValues(name).Set(0)
	}
}
