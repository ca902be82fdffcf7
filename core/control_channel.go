package core

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"
)

// WorkerControlChannel carries control messages from the gateway to cache
// worker processes. The two never share memory; this is the message-passing
// side of that boundary.
const WorkerControlChannel = "edge:worker:control"

// ControlPublisher sends one control message to all subscribed workers.
type ControlPublisher interface {
	Publish(ctx context.Context, msg WorkerMessage) error
}

// RedisControlChannel implements the control channel over redis pub/sub.
type RedisControlChannel struct {
	client *redis.Client
	logger *slog.Logger
}

func NewRedisControlChannel(client *redis.Client, logger *slog.Logger) *RedisControlChannel {
	return &RedisControlChannel{client: client, logger: logger}
}

func (c *RedisControlChannel) Publish(ctx context.Context, msg WorkerMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, WorkerControlChannel, data).Err()
}

// Listen subscribes and dispatches inbound messages to the host until ctx is
// canceled. Malformed messages are logged and dropped.
func (c *RedisControlChannel) Listen(ctx context.Context, host *WorkerHost) {
	sub := c.client.Subscribe(ctx, WorkerControlChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			var msg WorkerMessage
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				c.logger.Warn("malformed control message", slog.String("payload", m.Payload))
				continue
			}
			if strings.TrimSpace(msg.Type) == "" {
				c.logger.Warn("control message without type")
				continue
			}
			host.HandleMessage(ctx, msg)
		}
	}
}
