package companyconfig

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"agent-engine/internal/common/errors"
	"agent-engine/internal/common/logger"
	"agent-engine/internal/common/metrics"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const generationKeyPrefix = "agent:config:gen:"

// InvalidationMessage is published on the invalidation channel.
type InvalidationMessage struct {
	EventID    string `json:"eventId"`
	CompanyID  string `json:"companyId"`
	Generation uint64 `json:"generation"`
	Origin     string `json:"origin"`
	InstanceID string `json:"instanceId"`
}

// RedisSync shares invalidations between engine instances. Generations are
// allocated from a Redis counter so every instance agrees on ordering.
type RedisSync struct {
	client     redis.UniversalClient
	loader     *Loader
	channel    string
	instanceID string
	logger     logger.Logger

	readyOnce sync.Once
	ready     chan struct{}
}

func NewRedisSync(client redis.UniversalClient, loader *Loader, channel string, log logger.Logger) *RedisSync {
	id := uuid.NewString()
	return &RedisSync{
		client:     client,
		loader:     loader,
		channel:    channel,
		instanceID: id,
		logger: log.WithFields(map[string]interface{}{
			"component":  "config-sync",
			"instanceId": id,
		}),
		ready: make(chan struct{}),
	}
}

func generationKey(companyID string) string {
	return generationKeyPrefix + companyID
}

func (s *RedisSync) InstanceID() string {
	return s.instanceID
}

// InvalidateCompany drops the local snapshot and tells every peer to do the
// same. The local drop happens even when Redis is unreachable.
func (s *RedisSync) InvalidateCompany(ctx context.Context, companyID, origin string) error {
	remote, err := s.client.Incr(ctx, generationKey(companyID)).Result()
	if err != nil {
		s.loader.Invalidate(companyID)
		metrics.ConfigInvalidations.WithLabelValues(origin).Inc()
		s.logger.Error("generation increment failed", map[string]interface{}{
			"companyId": companyID,
			"error":     err.Error(),
		})
		return errors.NewInvalidationFailedError(companyID, err)
	}

	gen := s.loader.InvalidateTo(companyID, uint64(remote))
	metrics.ConfigInvalidations.WithLabelValues(origin).Inc()

	msg := InvalidationMessage{
		EventID:    uuid.NewString(),
		CompanyID:  companyID,
		Generation: gen,
		Origin:     origin,
		InstanceID: s.instanceID,
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return errors.NewInvalidationFailedError(companyID, err)
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		s.logger.Error("invalidation publish failed", map[string]interface{}{
			"companyId": companyID,
			"error":     err.Error(),
		})
		return errors.NewInvalidationFailedError(companyID, err)
	}

	s.logger.Info("config invalidated", map[string]interface{}{
		"companyId":  companyID,
		"generation": gen,
		"origin":     origin,
		"eventId":    msg.EventID,
	})
	return nil
}

// Ready is closed once the subscription is confirmed.
func (s *RedisSync) Ready() <-chan struct{} {
	return s.ready
}

// Run applies peer invalidations until ctx is done.
func (s *RedisSync) Run(ctx context.Context) error {
	sub := s.client.Subscribe(ctx, s.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", s.channel, err)
	}
	s.readyOnce.Do(func() { close(s.ready) })
	s.logger.Info("listening for peer invalidations", map[string]interface{}{"channel": s.channel})

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			s.handle(m.Payload)
		}
	}
}

func (s *RedisSync) handle(payload string) {
	var msg InvalidationMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		s.logger.Warn("malformed invalidation message", map[string]interface{}{"error": err.Error()})
		return
	}
	if msg.InstanceID == s.instanceID || msg.CompanyID == "" {
		return
	}
	gen := s.loader.InvalidateTo(msg.CompanyID, msg.Generation)
	metrics.ConfigInvalidations.WithLabelValues(OriginPeer).Inc()
	s.logger.Debug("peer invalidation applied", map[string]interface{}{
		"companyId":  msg.CompanyID,
		"generation": gen,
		"origin":     msg.Origin,
		"peer":       msg.InstanceID,
	})
}
