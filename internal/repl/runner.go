package repl

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/weft/internal/domain"
)

// Run drives replication rounds for every origin until the context is
// cancelled.
//
// Each origin gets its own timer goroutine at its configured pull
// interval, so rounds for different origins may execute concurrently.
// They share no mutable state except the cursor records, which the
// per-cursor locks serialize. Shutdown stops scheduling new rounds;
// in-flight network calls finish or time out under the HTTP client's
// own timeout.
func (r *Replicator) Run(ctx context.Context, origins []*domain.Origin) {
	var wg sync.WaitGroup
	for _, origin := range origins {
		wg.Add(1)
		go func(origin *domain.Origin) {
			defer wg.Done()
			r.runOrigin(ctx, origin)
		}(origin)
	}
	wg.Wait()
}

func (r *Replicator) runOrigin(ctx context.Context, origin *domain.Origin) {
	interval := origin.PullInterval
	if interval <= 0 {
		interval = time.Minute
	}
	slog.Info("replication starting", "origin", origin.Name, "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// First round immediately; the ticker covers the rest.
	r.Round(ctx, origin)
	for {
		select {
		case <-ctx.Done():
			slog.Info("replication stopping", "origin", origin.Name)
			return
		case <-ticker.C:
			r.Round(ctx, origin)
		}
	}
}
