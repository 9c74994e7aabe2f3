package masterdata

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ResolverConfig tunes reload behaviour.
type ResolverConfig struct {
	Schema Schema
	TTL    time.Duration

	// LoadTimeout bounds one shared reload, independent of any caller.
	LoadTimeout time.Duration
}

// Resolver serves lookups from an in-memory index that is rebuilt when stale.
type Resolver struct {
	source Source
	cache  *SnapshotCache
	schema Schema
	ttl    time.Duration
	loadTO time.Duration
	logger *slog.Logger
	now    func() time.Time

	group singleflight.Group

	mu       sync.RWMutex
	index    *Index
	loadedAt time.Time
}

// NewResolver constructs the resolver. The table is loaded lazily.
func NewResolver(source Source, cache *SnapshotCache, logger *slog.Logger, cfg ResolverConfig) *Resolver {
	if cfg.Schema == nil {
		cfg.Schema = DefaultSchema()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		source: source,
		cache:  cache,
		schema: cfg.Schema,
		ttl:    cfg.TTL,
		loadTO: cfg.LoadTimeout,
		logger: logger,
		now:    time.Now,
	}
}

// Resolve looks up a party. ok is false for unknown or blank names.
func (r *Resolver) Resolve(ctx context.Context, partyName string) (Resolution, bool, error) {
	ix, err := r.current(ctx)
	if err != nil {
		return Resolution{}, false, err
	}
	res, ok := ix.Lookup(partyName)
	return res, ok, nil
}

// DistinctValues lists the display values of a field.
func (r *Resolver) DistinctValues(ctx context.Context, field Field) ([]string, error) {
	if _, ok := r.schema[field]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownField, field)
	}
	ix, err := r.current(ctx)
	if err != nil {
		return nil, err
	}
	return ix.Distinct(field), nil
}

// Status describes the loaded snapshot.
type Status struct {
	Rows       int              `json:"rows"`
	LoadedAt   time.Time        `json:"loaded_at"`
	Columns    map[Field]string `json:"columns"`
	Unresolved []Field          `json:"unresolved"`
}

// Status reports how the current snapshot resolved.
func (r *Resolver) Status(ctx context.Context) (Status, error) {
	ix, err := r.current(ctx)
	if err != nil {
		return Status{}, err
	}
	r.mu.RLock()
	loadedAt := r.loadedAt
	r.mu.RUnlock()
	cols := make(map[Field]string)
	for _, f := range r.schema.Fields() {
		if name, ok := ix.Column(f); ok {
			cols[f] = name
		}
	}
	return Status{Rows: ix.Rows(), LoadedAt: loadedAt, Columns: cols, Unresolved: ix.Unresolved()}, nil
}

// Refresh drops the shared snapshot and reloads from the source.
func (r *Resolver) Refresh(ctx context.Context) error {
	_, err, _ := r.group.Do("refresh", func() (interface{}, error) {
		ctx, cancel := r.loadContext(ctx)
		defer cancel()
		if err := r.cache.Invalidate(ctx); err != nil {
			r.logger.Warn("masterdata snapshot cache invalidate failed", slog.Any("error", err))
		}
		return r.load(ctx, true)
	})
	return err
}

// Import installs an externally supplied table, e.g. an uploaded workbook,
// and shares it through the snapshot cache until the TTL lapses.
func (r *Resolver) Import(ctx context.Context, t Table) (*Index, error) {
	if len(t.Columns) == 0 {
		return nil, fmt.Errorf("masterdata: import: sheet has no header row")
	}
	if err := r.cache.Put(ctx, t); err != nil {
		r.logger.Warn("masterdata snapshot cache write failed", slog.Any("error", err))
	}
	return r.install(t), nil
}

func (r *Resolver) current(ctx context.Context) (*Index, error) {
	r.mu.RLock()
	ix, at := r.index, r.loadedAt
	r.mu.RUnlock()
	if ix != nil && r.now().Sub(at) < r.ttl {
		return ix, nil
	}

	v, err, _ := r.group.Do("load", func() (interface{}, error) {
		ctx, cancel := r.loadContext(ctx)
		defer cancel()
		return r.load(ctx, false)
	})
	if err != nil {
		if ix != nil {
			r.logger.Warn("masterdata reload failed, serving stale snapshot", slog.Any("error", err))
			return ix, nil
		}
		return nil, err
	}
	return v.(*Index), nil
}

// loadContext detaches a shared reload from the caller that started it, so
// one cancelled request does not fail every request coalesced onto it.
func (r *Resolver) loadContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), r.loadTO)
}

func (r *Resolver) load(ctx context.Context, bypassCache bool) (*Index, error) {
	if !bypassCache {
		t, ok, err := r.cache.Get(ctx)
		if err != nil {
			r.logger.Warn("masterdata snapshot cache read failed", slog.Any("error", err))
		}
		if ok {
			return r.install(t), nil
		}
	}

	t, err := r.source.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamLookup, err)
	}
	if err := r.cache.Put(ctx, t); err != nil {
		r.logger.Warn("masterdata snapshot cache write failed", slog.Any("error", err))
	}
	return r.install(t), nil
}

func (r *Resolver) install(t Table) *Index {
	ix := BuildIndex(t, r.schema)
	if unresolved := ix.Unresolved(); len(unresolved) > 0 {
		r.logger.Warn("masterdata fields unresolved",
			slog.Any("fields", unresolved),
			slog.Any("columns", t.Columns),
		)
	}
	r.mu.Lock()
	r.index = ix
	r.loadedAt = r.now()
	r.mu.Unlock()
	return ix
}
