package api

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/frontdesk-scheduling/internal/appointment"
	"github.com/hackgods/frontdesk-scheduling/internal/kanban"
	"github.com/hackgods/frontdesk-scheduling/internal/notify"
)

type wsEnvelope struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	View    string          `json:"view"`
	Version uint64          `json:"version"`
	Loading bool            `json:"loading"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
	Notice  *kanban.Notice  `json:"notice"`
}

func dialWS(t *testing.T, env testEnv) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(env.handler)
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads messages until match accepts one or the deadline passes.
func readUntil(t *testing.T, conn *websocket.Conn, match func(wsEnvelope) bool) wsEnvelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var msg wsEnvelope
		require.NoError(t, conn.ReadJSON(&msg))
		if match(msg) {
			return msg
		}
	}
}

func loadedState(id string) func(wsEnvelope) bool {
	return func(m wsEnvelope) bool {
		return m.Type == "state" && m.ID == id && !m.Loading && len(m.Data) > 0
	}
}

func slotAt(t *testing.T, m wsEnvelope, at string) map[string]any {
	t.Helper()
	var view SlotsView
	require.NoError(t, json.Unmarshal(m.Data, &view))
	for _, s := range view.Slots {
		if s.Time == at {
			raw, _ := json.Marshal(s)
			var out map[string]any
			require.NoError(t, json.Unmarshal(raw, &out))
			return out
		}
	}
	return nil
}

func TestWebSocket_SlotsViewFollowsBookings(t *testing.T) {
	env := newTestEnv(t, 0)
	conn := dialWS(t, env)

	require.NoError(t, conn.WriteJSON(ClientMessage{
		Action: "watch", ID: "w1", View: ViewSlots,
		ClinicID: "clinic-1", DoctorID: "dr-a", Date: "2025-03-10",
	}))
	first := readUntil(t, conn, loadedState("w1"))
	assert.Equal(t, false, slotAt(t, first, "09:00")["is_booked"])

	require.Eventually(t, func() bool {
		return env.bus.SubscriberCount(notify.AppointmentCreated) == 1
	}, time.Second, 10*time.Millisecond)

	_, err := env.appointments.Create(context.Background(), appointment.CreateInput{
		ClinicID: "clinic-1", DoctorID: "dr-a", PatientName: "Ana", Date: "2025-03-10", Time: "09:00",
	})
	require.NoError(t, err)

	readUntil(t, conn, func(m wsEnvelope) bool {
		return loadedState("w1")(m) && m.Version > first.Version && slotAt(t, m, "09:00")["is_booked"] == true
	})

	require.NoError(t, conn.WriteJSON(ClientMessage{Action: "unwatch", ID: "w1"}))
	require.Eventually(t, func() bool {
		return env.bus.SubscriberCount(notify.AppointmentCreated) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestWebSocket_RewatchReplacesSubscriptions(t *testing.T) {
	env := newTestEnv(t, 0)
	conn := dialWS(t, env)

	for _, date := range []string{"2025-03-10", "2025-03-11", "2025-03-12"} {
		require.NoError(t, conn.WriteJSON(ClientMessage{
			Action: "watch", ID: "w1", View: ViewSlots,
			ClinicID: "clinic-1", DoctorID: "dr-a", Date: date,
		}))
		readUntil(t, conn, func(m wsEnvelope) bool {
			return loadedState("w1")(m) && strings.Contains(string(m.Data), date)
		})
	}

	for _, ev := range notify.AllEventTypes {
		assert.Equal(t, 1, env.bus.SubscriberCount(ev), string(ev))
	}
}

func TestWebSocket_BoardMove(t *testing.T) {
	env := newTestEnv(t, 0)
	appt, err := env.appointments.Create(context.Background(), appointment.CreateInput{
		ClinicID: "clinic-1", DoctorID: "dr-a", PatientName: "Ana", Date: "2025-03-10", Time: "09:00",
	})
	require.NoError(t, err)

	conn := dialWS(t, env)
	require.NoError(t, conn.WriteJSON(ClientMessage{Action: "watch", ID: "b1", View: ViewBoard, ClinicID: "clinic-1", Date: "2025-03-10"}))
	readUntil(t, conn, loadedState("b1"))

	require.NoError(t, conn.WriteJSON(ClientMessage{Action: "move", ID: "b1", AppointmentID: appt.ID.String(), Status: appointment.StatusArrived}))
	readUntil(t, conn, func(m wsEnvelope) bool {
		if !loadedState("b1")(m) {
			return false
		}
		var b kanban.Board
		require.NoError(t, json.Unmarshal(m.Data, &b))
		for _, col := range b.Columns {
			if col.Status == appointment.StatusArrived {
				return len(col.Cards) == 1
			}
		}
		return false
	})

	assert.Eventually(t, func() bool {
		stored, err := env.appointments.Get(context.Background(), appt.ID)
		return err == nil && stored.Status == appointment.StatusArrived
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(ClientMessage{Action: "move", ID: "b1", AppointmentID: appt.ID.String(), Status: appointment.StatusScheduled}))
	notice := readUntil(t, conn, func(m wsEnvelope) bool { return m.Type == "notice" })
	require.NotNil(t, notice.Notice)
	assert.Equal(t, "warning", notice.Notice.Level)
}

func TestWebSocket_BadMessages(t *testing.T) {
	env := newTestEnv(t, 0)
	conn := dialWS(t, env)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	msg := readUntil(t, conn, func(m wsEnvelope) bool { return m.Type == "error" })
	assert.Equal(t, "malformed message", msg.Error)

	require.NoError(t, conn.WriteJSON(ClientMessage{Action: "watch", ID: "w1", View: "calendar"}))
	msg = readUntil(t, conn, func(m wsEnvelope) bool { return m.Type == "error" })
	assert.Equal(t, "w1", msg.ID)
}
