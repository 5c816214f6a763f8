package feed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis publishes events on a pub/sub channel so every server instance
// sharing the database sees every movement.
type Redis struct {
	rdb     *redis.Client
	channel string
	logger  *zap.Logger
}

func NewRedis(rdb *redis.Client, channel string, logger *zap.Logger) *Redis {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Redis{rdb: rdb, channel: channel, logger: logger}
}

func (r *Redis) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := r.rdb.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", ev.Kind, err)
	}
	return nil
}

// Listen relays events from the channel into dst until ctx is done.
// Malformed payloads are logged and skipped.
func (r *Redis) Listen(ctx context.Context, dst Publisher) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				r.logger.Warn("dropping malformed feed event", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			if err := dst.Publish(ctx, ev); err != nil {
				r.logger.Warn("relay feed event", zap.String("kind", string(ev.Kind)), zap.Error(err))
			}
		}
	}
}
