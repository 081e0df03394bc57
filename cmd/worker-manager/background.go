package main

import (
	"context"
	stderrors "errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"agent-engine/internal/common/logger"
)

// background runs the long-lived tasks the process cannot serve without:
// peer invalidation, file watching and the config event consumer. The first
// task to fail cancels its siblings and the process context, so the instance
// shuts down instead of serving stale snapshots.
type background struct {
	group *errgroup.Group
	ctx   context.Context
	stop  context.CancelFunc
	log   logger.Logger
}

func newBackground(ctx context.Context, stop context.CancelFunc, log logger.Logger) *background {
	g, gctx := errgroup.WithContext(ctx)
	return &background{group: g, ctx: gctx, stop: stop, log: log}
}

func (b *background) Go(name string, task func(ctx context.Context) error) {
	b.group.Go(func() error {
		err := task(b.ctx)
		if err == nil || stderrors.Is(err, context.Canceled) {
			return nil
		}
		b.log.Error("Background task failed, shutting down", map[string]interface{}{
			"task":  name,
			"error": err.Error(),
		})
		b.stop()
		return fmt.Errorf("%s: %w", name, err)
	})
}

// Wait returns the first task failure, if any.
func (b *background) Wait() error {
	return b.group.Wait()
}
