package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/hackgods/frontdesk-scheduling/internal/observability/metrics"
)

const (
	DefaultExchange  = "frontdesk.events"
	routingKeyPrefix = "schedule."
)

// RoutingKey maps an event type onto the topic exchange, e.g.
// schedule.appointment_created.
func RoutingKey(t EventType) string {
	return routingKeyPrefix + strings.ToLower(string(t))
}

// AMQPRelay mirrors bus traffic through a RabbitMQ topic exchange. Each
// process binds its own exclusive queue to schedule.#.
type AMQPRelay struct {
	relayCore
	exchange string

	mu    sync.Mutex
	conn  *amqp.Connection
	ch    *amqp.Channel
	unsub Unsubscribe
	done  chan struct{}
}

func DialAMQPRelay(url string, bus *Bus, log *zap.Logger, m *metrics.BusMetrics) (*AMQPRelay, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	return &AMQPRelay{
		relayCore: newRelayCore("amqp", bus, log, m),
		exchange:  DefaultExchange,
		conn:      conn,
		ch:        ch,
	}, nil
}

func (r *AMQPRelay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.unsub != nil {
		return nil
	}

	if err := r.ch.ExchangeDeclare(r.exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", r.exchange, err)
	}
	q, err := r.ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := r.ch.QueueBind(q.Name, routingKeyPrefix+"#", r.exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", q.Name, err)
	}
	deliveries, err := r.ch.ConsumeWithContext(ctx, q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", q.Name, err)
	}

	r.done = make(chan struct{})
	go r.consume(deliveries, r.done)

	r.unsub = r.bus.SubscribeGroup(AllEventTypes, r.forward)
	r.log.Info("notify.AMQPRelay started",
		zap.String("exchange", r.exchange),
		zap.String("queue", q.Name),
		zap.String("origin", r.origin),
	)
	return nil
}

func (r *AMQPRelay) consume(deliveries <-chan amqp.Delivery, done chan struct{}) {
	defer close(done)
	for d := range deliveries {
		r.inbound(context.Background(), d.Body)
	}
}

func (r *AMQPRelay) forward(ctx context.Context, ev ChangeEvent) {
	data, ok, err := r.outbound(ev)
	if err != nil {
		r.log.Error("notify.AMQPRelay encode failed", zap.Error(err))
		return
	}
	if !ok {
		return
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	err = r.ch.PublishWithContext(pubCtx, r.exchange, RoutingKey(ev.Type), false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   uuid.NewString(),
		Timestamp:   ev.OccurredAt,
		Body:        data,
	})
	if err != nil {
		r.log.Error("notify.AMQPRelay publish failed",
			zap.String("event_type", string(ev.Type)),
			zap.Error(err),
		)
		return
	}
	r.metrics.ObserveRelay(r.name, "out")
}

func (r *AMQPRelay) Close() error {
	r.mu.Lock()
	unsub, done := r.unsub, r.done
	r.unsub, r.done = nil, nil
	r.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if err := r.ch.Close(); err != nil {
		r.conn.Close()
		return err
	}
	if done != nil {
		<-done
	}
	return r.conn.Close()
}
