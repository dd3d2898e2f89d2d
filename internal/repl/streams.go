package repl

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/weft/internal/domain"
	"github.com/roach88/weft/internal/store"
)

// stream bundles the pull and push flows for one entity type. The five
// implementations differ only in how a foreign entity is merged and how
// local entities are listed, so both flows share the generic helpers
// below.
type stream interface {
	pullBatch(ctx context.Context, client Client, origin *domain.Origin, after time.Time, limit int) (int, time.Time, error)
	pushBatch(ctx context.Context, client Client, s *store.Store, after time.Time, limit int) (int, time.Time, error)
}

func (r *Replicator) stream(kind string) (stream, error) {
	switch kind {
	case KindRef:
		return refStream{r}, nil
	case KindExt:
		return extStream{r}, nil
	case KindUser:
		return userStream{r}, nil
	case KindPlugin:
		return pluginStream{r}, nil
	case KindTemplate:
		return templateStream{r}, nil
	default:
		return nil, fmt.Errorf("unknown entity kind %q", kind)
	}
}

// pullEntities fetches one foreign batch and merges each entity in
// modified order. Returns the merged count and the modified time of the
// last merged entity; a merge failure stops the batch there so the
// cursor stays a true low-water-mark.
func pullEntities[T any](
	ctx context.Context,
	client Client,
	kind string,
	after time.Time,
	limit int,
	merge func(context.Context, T) error,
	modified func(T) time.Time,
) (int, time.Time, error) {
	var batch []T
	if err := client.Pull(ctx, kind, after, limit, &batch); err != nil {
		return 0, time.Time{}, fmt.Errorf("pull %s: %w", kind, err)
	}
	var last time.Time
	for n, entity := range batch {
		if err := merge(ctx, entity); err != nil {
			return n, last, fmt.Errorf("merge %s: %w", kind, err)
		}
		last = modified(entity)
	}
	return len(batch), last, nil
}

// pushEntities lists one local batch and delivers it. Returns the count
// and the modified time of the last entity; the caller advances the
// acknowledged cursor only when no error occurred.
func pushEntities[T any](
	ctx context.Context,
	client Client,
	kind string,
	list func(context.Context) ([]T, error),
	modified func(T) time.Time,
) (int, time.Time, error) {
	batch, err := list(ctx)
	if err != nil {
		return 0, time.Time{}, err
	}
	if len(batch) == 0 {
		return 0, time.Time{}, nil
	}
	if err := client.Push(ctx, kind, batch); err != nil {
		return 0, time.Time{}, fmt.Errorf("push %s: %w", kind, err)
	}
	return len(batch), modified(batch[len(batch)-1]), nil
}

type refStream struct{ r *Replicator }

func (s refStream) pullBatch(ctx context.Context, client Client, origin *domain.Origin, after time.Time, limit int) (int, time.Time, error) {
	return pullEntities(ctx, client, KindRef, after, limit,
		func(ctx context.Context, ref *domain.Ref) error {
			ref.Origin = origin.Name
			origin.Migrate(ref)
			return s.r.ingest.IngestForeign(ctx, ref)
		},
		func(ref *domain.Ref) time.Time { return ref.Modified })
}

func (s refStream) pushBatch(ctx context.Context, client Client, st *store.Store, after time.Time, limit int) (int, time.Time, error) {
	return pushEntities(ctx, client, KindRef,
		func(ctx context.Context) ([]*domain.Ref, error) {
			return st.RefsModifiedAfter(ctx, store.RefQuery{
				ModifiedAfter: after, Origin: "", HasOrigin: true, Limit: limit,
			})
		},
		func(ref *domain.Ref) time.Time { return ref.Modified })
}

type extStream struct{ r *Replicator }

func (s extStream) pullBatch(ctx context.Context, client Client, origin *domain.Origin, after time.Time, limit int) (int, time.Time, error) {
	return pullEntities(ctx, client, KindExt, after, limit,
		func(ctx context.Context, ext *domain.Ext) error {
			ext.Origin = origin.Name
			return s.r.store.PutExt(ctx, ext)
		},
		func(ext *domain.Ext) time.Time { return ext.Modified })
}

func (s extStream) pushBatch(ctx context.Context, client Client, st *store.Store, after time.Time, limit int) (int, time.Time, error) {
	return pushEntities(ctx, client, KindExt,
		func(ctx context.Context) ([]*domain.Ext, error) {
			return st.ExtsModifiedAfter(ctx, "", after, limit)
		},
		func(ext *domain.Ext) time.Time { return ext.Modified })
}

type userStream struct{ r *Replicator }

func (s userStream) pullBatch(ctx context.Context, client Client, origin *domain.Origin, after time.Time, limit int) (int, time.Time, error) {
	return pullEntities(ctx, client, KindUser, after, limit,
		func(ctx context.Context, user *domain.User) error {
			user.Origin = origin.Name
			origin.MigrateUser(user)
			return s.r.store.PutUser(ctx, user)
		},
		func(user *domain.User) time.Time { return user.Modified })
}

func (s userStream) pushBatch(ctx context.Context, client Client, st *store.Store, after time.Time, limit int) (int, time.Time, error) {
	return pushEntities(ctx, client, KindUser,
		func(ctx context.Context) ([]*domain.User, error) {
			return st.UsersModifiedAfter(ctx, "", after, limit)
		},
		func(user *domain.User) time.Time { return user.Modified })
}

type pluginStream struct{ r *Replicator }

func (s pluginStream) pullBatch(ctx context.Context, client Client, origin *domain.Origin, after time.Time, limit int) (int, time.Time, error) {
	return pullEntities(ctx, client, KindPlugin, after, limit,
		func(ctx context.Context, plugin *domain.Plugin) error {
			plugin.Origin = origin.Name
			return s.r.store.PutPlugin(ctx, plugin)
		},
		func(plugin *domain.Plugin) time.Time { return plugin.Modified })
}

func (s pluginStream) pushBatch(ctx context.Context, client Client, st *store.Store, after time.Time, limit int) (int, time.Time, error) {
	return pushEntities(ctx, client, KindPlugin,
		func(ctx context.Context) ([]*domain.Plugin, error) {
			return st.PluginsModifiedAfter(ctx, "", after, limit)
		},
		func(plugin *domain.Plugin) time.Time { return plugin.Modified })
}

type templateStream struct{ r *Replicator }

func (s templateStream) pullBatch(ctx context.Context, client Client, origin *domain.Origin, after time.Time, limit int) (int, time.Time, error) {
	return pullEntities(ctx, client, KindTemplate, after, limit,
		func(ctx context.Context, template *domain.Template) error {
			template.Origin = origin.Name
			return s.r.store.PutTemplate(ctx, template)
		},
		func(template *domain.Template) time.Time { return template.Modified })
}

func (s templateStream) pushBatch(ctx context.Context, client Client, st *store.Store, after time.Time, limit int) (int, time.Time, error) {
	return pushEntities(ctx, client, KindTemplate,
		func(ctx context.Context) ([]*domain.Template, error) {
			return st.TemplatesModifiedAfter(ctx, "", after, limit)
		},
		func(template *domain.Template) time.Time { return template.Modified })
}
