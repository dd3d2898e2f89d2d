package cli

import (
	"context"
	"fmt"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/weft/internal/async"
	"github.com/roach88/weft/internal/config"
	"github.com/roach88/weft/internal/domain"
	"github.com/roach88/weft/internal/ingest"
	"github.com/roach88/weft/internal/repl"
	"github.com/roach88/weft/internal/store"
)

// NewServeCommand runs the background convergence processes: the
// replication timers and the async drainer. Shutdown on SIGINT/SIGTERM
// stops scheduling new rounds and ticks; in-flight calls complete under
// their own timeouts.
func NewServeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run replication and the async drainer",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.Config)
			if err != nil {
				return err
			}
			s, err := store.Open(cfg.DBPath)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			ing := ingest.New(s, ingest.WithNotifier(ingest.LogNotifier{}))

			origins, err := syncOrigins(ctx, s, cfg)
			if err != nil {
				return err
			}

			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				replicator := repl.New(s, ing, cfg.LocalName, repl.NewHTTPClientFactory(nil))
				replicator.Run(ctx, origins)
			}()

			drainerOpts := []async.Option{}
			if cfg.DrainInterval > 0 {
				drainerOpts = append(drainerOpts, async.WithInterval(time.Duration(cfg.DrainInterval)))
			}
			drainer := async.New(s, ing, drainerOpts...)
			wg.Add(1)
			go func() {
				defer wg.Done()
				drainer.Run(ctx)
			}()

			wg.Wait()
			return nil
		},
	}
}

// syncOrigins persists the configured origins and returns them.
func syncOrigins(ctx context.Context, s *store.Store, cfg *config.Config) ([]*domain.Origin, error) {
	origins := make([]*domain.Origin, 0, len(cfg.Origins))
	for _, oc := range cfg.Origins {
		origin := oc.Origin()
		if err := s.PutOrigin(ctx, origin); err != nil {
			return nil, fmt.Errorf("sync origin %s: %w", origin.Name, err)
		}
		origins = append(origins, origin)
	}
	return origins, nil
}
