package companyconfig

import (
	"context"
	stderrors "errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"agent-engine/internal/common/errors"
	"agent-engine/internal/common/logger"
	"agent-engine/internal/common/metrics"

	"golang.org/x/sync/singleflight"
)

// entry holds one company's generation counter and published snapshot.
// mu orders publication against invalidation; reads are lock-free.
type entry struct {
	mu   sync.Mutex
	gen  atomic.Uint64
	snap atomic.Pointer[Snapshot]
}

// PublishHook runs after a fresh snapshot is published.
type PublishHook func(ctx context.Context, snap *Snapshot)

// Loader caches one snapshot per company.
type Loader struct {
	source       Source
	entries      sync.Map // companyID -> *entry
	group        singleflight.Group
	logger       logger.Logger
	fetchTimeout time.Duration
	hooks        []PublishHook
	now          func() time.Time
}

func NewLoader(source Source, log logger.Logger) *Loader {
	return &Loader{
		source:       source,
		logger:       log.WithFields(map[string]interface{}{"component": "config-loader"}),
		fetchTimeout: 10 * time.Second,
		now:          time.Now,
	}
}

// OnPublish registers a hook. Not safe to call once loads have started.
func (l *Loader) OnPublish(h PublishHook) {
	l.hooks = append(l.hooks, h)
}

func (l *Loader) entry(companyID string) *entry {
	v, _ := l.entries.LoadOrStore(companyID, &entry{})
	return v.(*entry)
}

// Load returns the current snapshot, fetching it if needed. Concurrent
// loads of one company share one fetch.
func (l *Loader) Load(ctx context.Context, companyID string) (*Snapshot, error) {
	if companyID == "" {
		return nil, errors.NewConfigMissingError(companyID)
	}
	e := l.entry(companyID)
	if s := e.snap.Load(); s != nil {
		metrics.ConfigLoads.WithLabelValues("hit").Inc()
		return s, nil
	}

	var last *Snapshot
	for i := 0; i < 3; i++ {
		gen := e.gen.Load()
		key := companyID + "@" + strconv.FormatUint(gen, 10)

		ch := l.group.DoChan(key, func() (interface{}, error) {
			return l.fetchAndPublish(ctx, companyID, gen, e)
		})
		var res singleflight.Result
		select {
		case res = <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if res.Err != nil {
			metrics.ConfigLoads.WithLabelValues("error").Inc()
			return nil, res.Err
		}

		last = res.Val.(*Snapshot)
		if last.Generation == e.gen.Load() {
			metrics.ConfigLoads.WithLabelValues("miss").Inc()
			return last, nil
		}
		// Invalidated while fetching; a newer load may already be published.
		if s := e.snap.Load(); s != nil {
			return s, nil
		}
	}

	// Keeps losing to invalidations. Serve the freshest fetch without caching it.
	metrics.ConfigLoads.WithLabelValues("unpublished").Inc()
	return last, nil
}

func (l *Loader) fetchAndPublish(ctx context.Context, companyID string, gen uint64, e *entry) (*Snapshot, error) {
	// The fetch is shared, so one caller's cancellation must not fail the others.
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.fetchTimeout)
	defer cancel()

	cfg, err := l.source.Fetch(fctx, companyID)
	if err != nil {
		if stderrors.Is(err, ErrNotFound) {
			return nil, errors.NewConfigMissingError(companyID)
		}
		if _, ok := errors.AsStandard(err); ok {
			return nil, err
		}
		l.logger.Error("config fetch failed", map[string]interface{}{
			"companyId": companyID,
			"error":     err.Error(),
		})
		return nil, errors.NewConfigLoadFailedError(companyID, err)
	}
	if cfg == nil {
		return nil, errors.NewConfigMissingError(companyID)
	}
	if cfg.CompanyID != companyID {
		return nil, errors.NewCompanyIDMismatchError(companyID, cfg.CompanyID)
	}
	cfg.Normalize()

	snap := newSnapshot(cfg, gen, l.now().UTC())

	e.mu.Lock()
	published := e.gen.Load() == gen
	if published {
		e.snap.Store(snap)
	}
	e.mu.Unlock()

	if published {
		l.logger.Info("config snapshot published", map[string]interface{}{
			"companyId":  companyID,
			"generation": gen,
			"entries":    len(cfg.QAEntries),
		})
		for _, h := range l.hooks {
			h(fctx, snap)
		}
	}
	return snap, nil
}

// Invalidate bumps the company generation and drops its snapshot. It
// returns the new generation.
func (l *Loader) Invalidate(companyID string) uint64 {
	return l.InvalidateTo(companyID, 0)
}

// InvalidateTo is Invalidate with a floor, so peers that learn of a remote
// generation converge on it.
func (l *Loader) InvalidateTo(companyID string, floor uint64) uint64 {
	e := l.entry(companyID)
	e.mu.Lock()
	next := e.gen.Load() + 1
	if floor > next {
		next = floor
	}
	e.gen.Store(next)
	e.snap.Store(nil)
	e.mu.Unlock()
	return next
}

// InvalidateCompany implements Invalidator for local-only deployments.
func (l *Loader) InvalidateCompany(_ context.Context, companyID, origin string) error {
	gen := l.Invalidate(companyID)
	metrics.ConfigInvalidations.WithLabelValues(origin).Inc()
	l.logger.Info("config invalidated", map[string]interface{}{
		"companyId":  companyID,
		"generation": gen,
		"origin":     origin,
	})
	return nil
}

// Warm loads every company the lister knows about so the first turn of each
// is served from a published snapshot. A company that fails to load is
// logged and skipped; only a listing failure is returned.
func (l *Loader) Warm(ctx context.Context, lister Lister) (int, error) {
	ids, err := lister.ListCompanies(ctx)
	if err != nil {
		return 0, err
	}
	loaded := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return loaded, ctx.Err()
		}
		if _, err := l.Load(ctx, id); err != nil {
			l.logger.Warn("warm load failed", map[string]interface{}{
				"companyId": id,
				"error":     err.Error(),
			})
			continue
		}
		loaded++
	}
	l.logger.Info("config cache warmed", map[string]interface{}{
		"companies": len(ids),
		"loaded":    loaded,
	})
	return loaded, nil
}

// Generation returns the company's current generation.
func (l *Loader) Generation(companyID string) uint64 {
	return l.entry(companyID).gen.Load()
}

// Cached returns the published snapshot without fetching.
func (l *Loader) Cached(companyID string) (*Snapshot, bool) {
	v, ok := l.entries.Load(companyID)
	if !ok {
		return nil, false
	}
	s := v.(*entry).snap.Load()
	return s, s != nil
}
