package main

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"agent-engine/internal/common/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackground_FailureStopsProcess(t *testing.T) {
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	tasks := newBackground(ctx, stop, logger.NewTestLogger(t))

	siblingDone := make(chan struct{})
	tasks.Go("file-watch", func(ctx context.Context) error {
		defer close(siblingDone)
		<-ctx.Done()
		return ctx.Err()
	})
	tasks.Go("redis-invalidation", func(context.Context) error {
		return stderrors.New("subscribe: connection refused")
	})

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("process context was not cancelled after a background failure")
	}
	select {
	case <-siblingDone:
	case <-time.After(time.Second):
		t.Fatal("sibling task was not cancelled")
	}

	err := tasks.Wait()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis-invalidation")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestBackground_CleanShutdownIsNotAnError(t *testing.T) {
	ctx, stop := context.WithCancel(context.Background())
	tasks := newBackground(ctx, stop, logger.NewNoOpLogger())

	tasks.Go("config-events", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	tasks.Go("noop", func(context.Context) error { return nil })

	stop()
	assert.NoError(t, tasks.Wait())
}
