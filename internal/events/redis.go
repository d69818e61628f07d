package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/domain"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/errors"
	"github.com/mrdushidush/agent-battle-command-center-sub002/internal/logging"
)

// RedisPublisher mirrors events to Redis pub/sub channels, one channel
// per event type under a common prefix. Publishes are fire-and-forget
// with a short deadline; a dead broker never blocks a state transition.
type RedisPublisher struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
	logger  logging.Logger
}

// NewRedisPublisher creates a publisher on an existing client.
func NewRedisPublisher(client *redis.Client, prefix string, timeout time.Duration, logger logging.Logger) *RedisPublisher {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &RedisPublisher{
		client:  client,
		prefix:  prefix,
		timeout: timeout,
		logger:  logging.OrNop(logger),
	}
}

// publishRetry keeps the backoff well inside the publish deadline.
var publishRetry = errors.RetryConfig{
	MaxAttempts:  2,
	BaseDelay:    100 * time.Millisecond,
	MaxDelay:     500 * time.Millisecond,
	JitterFactor: 0.25,
}

func (p *RedisPublisher) Publish(event domain.Event) {
	body, err := json.Marshal(event)
	if err != nil {
		p.logger.Warn("drop event %s: %v", event.Type, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	channel := p.prefix + ":" + string(event.Type)
	err = errors.Retry(ctx, publishRetry, p.logger, func(ctx context.Context) error {
		if err := p.client.Publish(ctx, channel, body).Err(); err != nil {
			return errors.Wrap(errors.KindBusPublish, err, "publish %s", channel)
		}
		return nil
	})
	if err != nil {
		p.logger.Warn("%v", err)
	}
}

// Ping verifies broker reachability for the health endpoint.
func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

var _ Publisher = (*RedisPublisher)(nil)
