package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/frontdesk-scheduling/internal/observability/metrics"
)

const DefaultRedisChannel = "frontdesk:events"

// RedisRelay mirrors bus traffic over a Redis Pub/Sub channel so schedule
// views served by other processes converge too.
type RedisRelay struct {
	relayCore
	client  *redis.Client
	channel string

	mu     sync.Mutex
	pubsub *redis.PubSub
	unsub  Unsubscribe
	done   chan struct{}
}

func NewRedisRelay(client *redis.Client, bus *Bus, log *zap.Logger, m *metrics.BusMetrics) *RedisRelay {
	return &RedisRelay{
		relayCore: newRelayCore("redis", bus, log, m),
		client:    client,
		channel:   DefaultRedisChannel,
	}
}

func (r *RedisRelay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pubsub != nil {
		return nil
	}

	ps := r.client.Subscribe(ctx, r.channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}

	r.pubsub = ps
	r.done = make(chan struct{})
	go r.consume(ps.Channel(), r.done)

	r.unsub = r.bus.SubscribeGroup(AllEventTypes, r.forward)
	r.log.Info("notify.RedisRelay started", zap.String("channel", r.channel), zap.String("origin", r.origin))
	return nil
}

func (r *RedisRelay) consume(msgs <-chan *redis.Message, done chan struct{}) {
	defer close(done)
	for msg := range msgs {
		r.inbound(context.Background(), []byte(msg.Payload))
	}
}

func (r *RedisRelay) forward(ctx context.Context, ev ChangeEvent) {
	data, ok, err := r.outbound(ev)
	if err != nil {
		r.log.Error("notify.RedisRelay encode failed", zap.Error(err))
		return
	}
	if !ok {
		return
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	if err := r.client.Publish(pubCtx, r.channel, data).Err(); err != nil {
		r.log.Error("notify.RedisRelay publish failed",
			zap.String("event_type", string(ev.Type)),
			zap.Error(err),
		)
		return
	}
	r.metrics.ObserveRelay(r.name, "out")
}

func (r *RedisRelay) Close() error {
	r.mu.Lock()
	ps, unsub, done := r.pubsub, r.unsub, r.done
	r.pubsub, r.unsub, r.done = nil, nil, nil
	r.mu.Unlock()

	if ps == nil {
		return nil
	}
	unsub()
	err := ps.Close()
	<-done
	return err
}
