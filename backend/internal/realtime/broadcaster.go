package realtime

import (
	"context"
	"encoding/json"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	apperrors "github.com/TonyStef/Dimini/backend/pkg/errors"
	"github.com/TonyStef/Dimini/backend/pkg/logger"
)

// Broadcaster fans events out to a session's subscribers
type Broadcaster interface {
	BroadcastGraphBatchUpdate(ctx context.Context, sessionID string, update GraphBatchUpdate) error
	BroadcastSessionStatus(ctx context.Context, sessionID, status string) error
	BroadcastProcessingStatus(ctx context.Context, sessionID, status, message string) error
}

// RedisBroadcaster publishes events to Redis pub/sub channels named
// "<prefix><session_id>" (session_abc123 by default). Whatever serves the
// frontend subscribes to the channel and forwards payloads as-is.
type RedisBroadcaster struct {
	rdb           *goredis.Client
	channelPrefix string
	logger        *zap.Logger
}

// NewRedisBroadcaster connects to Redis and verifies connectivity
func NewRedisBroadcaster(addr, channelPrefix string) (*RedisBroadcaster, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, apperrors.NewBaseError(apperrors.ErrorTypeBroadcast, "redis ping failed", err)
	}

	return &RedisBroadcaster{
		rdb:           rdb,
		channelPrefix: channelPrefix,
		logger:        logger.Get(),
	}, nil
}

// Close releases the Redis connection
func (b *RedisBroadcaster) Close() error {
	return b.rdb.Close()
}

func (b *RedisBroadcaster) publish(ctx context.Context, sessionID string, event Event) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return apperrors.NewBaseError(apperrors.ErrorTypeBroadcast, "event marshal failed", err)
	}

	channel := b.channelPrefix + sessionID
	if err := b.rdb.Publish(ctx, channel, raw).Err(); err != nil {
		return apperrors.NewBaseError(apperrors.ErrorTypeBroadcast, "publish failed", err)
	}

	b.logger.Debug("Event broadcast",
		zap.String("channel", channel),
		zap.String("type", event.Type),
	)
	return nil
}

// BroadcastGraphBatchUpdate publishes one batched graph update for a
// pipeline invocation
func (b *RedisBroadcaster) BroadcastGraphBatchUpdate(ctx context.Context, sessionID string, update GraphBatchUpdate) error {
	return b.publish(ctx, sessionID, Event{Type: EventGraphBatchUpdate, Data: update})
}

// BroadcastSessionStatus publishes a session lifecycle change
func (b *RedisBroadcaster) BroadcastSessionStatus(ctx context.Context, sessionID, status string) error {
	return b.publish(ctx, sessionID, Event{Type: EventSessionStatus, Data: StatusUpdate{Status: status}})
}

// BroadcastProcessingStatus publishes a pipeline phase or error status
func (b *RedisBroadcaster) BroadcastProcessingStatus(ctx context.Context, sessionID, status, message string) error {
	return b.publish(ctx, sessionID, Event{Type: EventProcessingStatus, Data: StatusUpdate{Status: status, Message: message}})
}
