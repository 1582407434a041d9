package notify

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/hackgods/frontdesk-scheduling/internal/observability/metrics"
)

// Handler receives events synchronously on the publisher's goroutine.
type Handler func(ctx context.Context, ev ChangeEvent)

// Unsubscribe removes a subscription. Calling it more than once is harmless.
type Unsubscribe func()

type Publisher interface {
	Publish(ctx context.Context, ev ChangeEvent) int
}

type Subscriber interface {
	Subscribe(t EventType, h Handler) Unsubscribe
	SubscribeGroup(types []EventType, h Handler) Unsubscribe
}

type subscription struct {
	types   []EventType
	handler Handler
	active  atomic.Bool
}

// Bus is an in-process publish/subscribe channel for ChangeEvents. There is
// no persistence and no replay: subscribers only see events published while
// they are registered.
type Bus struct {
	mu      sync.RWMutex
	subs    map[EventType][]*subscription
	log     *zap.Logger
	metrics *metrics.BusMetrics
}

func NewBus(log *zap.Logger, m *metrics.BusMetrics) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{
		subs:    make(map[EventType][]*subscription),
		log:     log,
		metrics: m,
	}
}

// Publish delivers ev to every current subscriber of ev.Type, in
// subscription order, and returns how many handlers ran.
func (b *Bus) Publish(ctx context.Context, ev ChangeEvent) int {
	if !ev.Type.Valid() {
		b.log.Warn("notify.Publish dropped unknown event type", zap.String("event_type", string(ev.Type)))
		return 0
	}

	b.mu.RLock()
	targets := make([]*subscription, len(b.subs[ev.Type]))
	copy(targets, b.subs[ev.Type])
	b.mu.RUnlock()

	delivered := 0
	for _, sub := range targets {
		if !sub.active.Load() {
			continue
		}
		b.deliver(ctx, sub, ev)
		delivered++
	}

	b.metrics.ObservePublish(string(ev.Type), delivered)
	return delivered
}

func (b *Bus) deliver(ctx context.Context, sub *subscription, ev ChangeEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("notify.Publish subscriber panicked",
				zap.String("event_type", string(ev.Type)),
				zap.Any("panic", r),
			)
		}
	}()
	sub.handler(ctx, ev)
}

func (b *Bus) Subscribe(t EventType, h Handler) Unsubscribe {
	return b.SubscribeGroup([]EventType{t}, h)
}

// SubscribeGroup registers h for every type in types as one unit. The
// returned Unsubscribe removes all of them under a single lock.
func (b *Bus) SubscribeGroup(types []EventType, h Handler) Unsubscribe {
	sub := &subscription{handler: h}
	seen := make(map[EventType]struct{}, len(types))
	for _, t := range types {
		if !t.Valid() {
			b.log.Warn("notify.Subscribe ignored unknown event type", zap.String("event_type", string(t)))
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		sub.types = append(sub.types, t)
	}
	sub.active.Store(true)

	b.mu.Lock()
	for _, t := range sub.types {
		b.subs[t] = append(b.subs[t], sub)
	}
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(sub) })
	}
}

func (b *Bus) remove(sub *subscription) {
	sub.active.Store(false)

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, t := range sub.types {
		list := b.subs[t]
		kept := list[:0:0]
		for _, s := range list {
			if s != sub {
				kept = append(kept, s)
			}
		}
		if len(kept) == 0 {
			delete(b.subs, t)
		} else {
			b.subs[t] = kept
		}
	}
}

// SubscriberCount reports how many subscriptions currently listen for t.
func (b *Bus) SubscriberCount(t EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[t])
}
