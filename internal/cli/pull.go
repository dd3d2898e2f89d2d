package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/weft/internal/config"
	"github.com/roach88/weft/internal/domain"
	"github.com/roach88/weft/internal/ingest"
	"github.com/roach88/weft/internal/repl"
	"github.com/roach88/weft/internal/store"
)

// NewPullCommand runs one inbound replication pass for a single origin,
// or for every configured origin when none is named.
func NewPullCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pull [origin]",
		Short: "pull entities from foreign origins once",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			return replicateOnce(cmd, opts, name, func(r *repl.Replicator, origin *domain.Origin, client repl.Client, kind string) error {
				return r.Pull(cmd.Context(), origin, client, kind)
			})
		},
	}
}

// NewPushCommand runs one outbound replication pass for a single origin,
// or for every configured origin when none is named.
func NewPushCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "push [origin]",
		Short: "push local entities to foreign origins once",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			return replicateOnce(cmd, opts, name, func(r *repl.Replicator, origin *domain.Origin, client repl.Client, kind string) error {
				return r.Push(cmd.Context(), origin, client, kind)
			})
		},
	}
}

type replicateFunc func(r *repl.Replicator, origin *domain.Origin, client repl.Client, kind string) error

// replicateOnce wires the stores and runs fn for each entity type of the
// selected origins. Unlike the background rounds in serve, errors here
// surface to the caller.
func replicateOnce(cmd *cobra.Command, opts *RootOptions, name string, fn replicateFunc) error {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return err
	}
	s, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	origins, err := syncOrigins(ctx, s, cfg)
	if err != nil {
		return err
	}
	if name != "" {
		found := origins[:0:0]
		for _, origin := range origins {
			if origin.Name == name {
				found = append(found, origin)
			}
		}
		if len(found) == 0 {
			return fmt.Errorf("origin %q is not configured", name)
		}
		origins = found
	}

	ing := ingest.New(s, ingest.WithNotifier(ingest.LogNotifier{}))
	factory := repl.NewHTTPClientFactory(nil)
	replicator := repl.New(s, ing, cfg.LocalName, factory)
	for _, origin := range origins {
		client := factory(origin)
		for _, kind := range repl.Kinds {
			if err := fn(replicator, origin, client, kind); err != nil {
				return fmt.Errorf("%s %s: %w", origin.Name, kind, err)
			}
		}
	}
	return nil
}
