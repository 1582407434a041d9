package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/frontdesk-scheduling/internal/observability/metrics"
)

// relayCore carries events between the local bus and a remote transport.
// Local events leave stamped with this process's origin; remote events are
// republished locally unless they are our own echo.
type relayCore struct {
	name    string
	origin  string
	bus     *Bus
	log     *zap.Logger
	metrics *metrics.BusMetrics
}

func newRelayCore(name string, bus *Bus, log *zap.Logger, m *metrics.BusMetrics) relayCore {
	if log == nil {
		log = zap.NewNop()
	}
	return relayCore{
		name:    name,
		origin:  uuid.NewString(),
		bus:     bus,
		log:     log,
		metrics: m,
	}
}

// outbound returns the wire form of a locally published event. Events that
// arrived from another process are not forwarded again.
func (r relayCore) outbound(ev ChangeEvent) ([]byte, bool, error) {
	if ev.Origin != "" {
		return nil, false, nil
	}
	ev.Origin = r.origin
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, false, fmt.Errorf("encode change event: %w", err)
	}
	return data, true, nil
}

// inbound republishes a remote event on the local bus.
func (r relayCore) inbound(ctx context.Context, data []byte) {
	var ev ChangeEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		r.log.Warn("notify.relay dropped undecodable message", zap.String("relay", r.name), zap.Error(err))
		return
	}
	if ev.Origin == r.origin {
		return
	}
	if ev.Origin == "" {
		ev.Origin = "remote"
	}
	r.metrics.ObserveRelay(r.name, "in")
	r.bus.Publish(ctx, ev)
}

// Relay connects the local bus to other processes.
type Relay interface {
	Start(ctx context.Context) error
	Close() error
}
