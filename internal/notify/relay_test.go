package notify

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []ChangeEvent
}

func (r *recorder) handle(_ context.Context, ev ChangeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestRoutingKey(t *testing.T) {
	assert.Equal(t, "schedule.appointment_created", RoutingKey(AppointmentCreated))
	assert.Equal(t, "schedule.availability_config_updated", RoutingKey(AvailabilityConfigUpdated))
}

func TestRelayCore_OutboundStampsOriginOnce(t *testing.T) {
	core := newRelayCore("test", NewBus(nil, nil), nil, nil)

	data, ok, err := core.outbound(created("clinicA"))
	require.NoError(t, err)
	require.True(t, ok)

	var wire ChangeEvent
	require.NoError(t, json.Unmarshal(data, &wire))
	assert.Equal(t, core.origin, wire.Origin)

	_, ok, err = core.outbound(wire)
	require.NoError(t, err)
	assert.False(t, ok, "events that came from a relay must not be forwarded again")
}

func TestRelayCore_InboundSkipsOwnEcho(t *testing.T) {
	bus := NewBus(nil, nil)
	rec := &recorder{}
	bus.Subscribe(AppointmentCreated, rec.handle)
	core := newRelayCore("test", bus, nil, nil)

	own, _, err := core.outbound(created("clinicA"))
	require.NoError(t, err)
	core.inbound(context.Background(), own)
	assert.Zero(t, rec.count())

	remote := created("clinicA")
	remote.Origin = "other-process"
	data, err := json.Marshal(remote)
	require.NoError(t, err)
	core.inbound(context.Background(), data)
	core.inbound(context.Background(), []byte("{not json"))

	require.Equal(t, 1, rec.count())
	assert.Equal(t, "other-process", rec.events[0].Origin)
}

func TestRedisRelay_ConvergesAcrossProcesses(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	newClient := func() *redis.Client {
		c := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { c.Close() })
		return c
	}

	busA, busB := NewBus(nil, nil), NewBus(nil, nil)
	relayA := NewRedisRelay(newClient(), busA, nil, nil)
	relayB := NewRedisRelay(newClient(), busB, nil, nil)
	ctx := context.Background()
	require.NoError(t, relayA.Start(ctx))
	require.NoError(t, relayB.Start(ctx))
	defer relayA.Close()
	defer relayB.Close()

	recA, recB := &recorder{}, &recorder{}
	busA.Subscribe(AppointmentDeleted, recA.handle)
	busB.Subscribe(AppointmentDeleted, recB.handle)

	busA.Publish(ctx, ChangeEvent{Type: AppointmentDeleted, ClinicID: "clinicA", Date: "2024-06-01"})

	assert.Eventually(t, func() bool { return recB.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, recA.count(), "publisher must not receive its own echo")
	assert.Equal(t, 1, recB.count(), "remote event must not bounce back")
}
