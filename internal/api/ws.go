package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hackgods/frontdesk-scheduling/internal/appointment"
	"github.com/hackgods/frontdesk-scheduling/internal/availability"
	"github.com/hackgods/frontdesk-scheduling/internal/kanban"
	"github.com/hackgods/frontdesk-scheduling/internal/notify"
	"github.com/hackgods/frontdesk-scheduling/internal/viewsync"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64

	ViewSlots = "slots"
	ViewBoard = "board"
)

// SlotEvents are the changes that can alter a doctor's slot list.
var SlotEvents = notify.AllEventTypes

// ClientMessage is an inbound message from a websocket client. ID names the
// view the action applies to; one connection may watch several views.
type ClientMessage struct {
	Action        string             `json:"action"`
	ID            string             `json:"id"`
	View          string             `json:"view,omitempty"`
	ClinicID      string             `json:"clinic_id,omitempty"`
	DoctorID      string             `json:"doctor_id,omitempty"`
	Date          string             `json:"date,omitempty"`
	AppointmentID string             `json:"appointment_id,omitempty"`
	Status        appointment.Status `json:"status,omitempty"`
}

// ServerMessage is pushed to the client.
type ServerMessage struct {
	Type    string         `json:"type"`
	ID      string         `json:"id,omitempty"`
	View    string         `json:"view,omitempty"`
	Version uint64         `json:"version,omitempty"`
	Loading bool           `json:"loading,omitempty"`
	Error   string         `json:"error,omitempty"`
	Data    any            `json:"data,omitempty"`
	Notice  *kanban.Notice `json:"notice,omitempty"`
}

// SlotsView is the data of a slots watch.
type SlotsView struct {
	ClinicID     string                       `json:"clinic_id"`
	DoctorID     string                       `json:"doctor_id"`
	Date         string                       `json:"date"`
	Availability availability.Validation      `json:"availability"`
	Slots        []availability.AvailableSlot `json:"slots"`
}

type WebSocketHandler struct {
	events       notify.Subscriber
	availability AvailabilityService
	appointments AppointmentService
	upgrader     websocket.Upgrader
	log          *zap.Logger
}

func NewWebSocketHandler(events notify.Subscriber, avail AvailabilityService, appts AppointmentService, origins []string, log *zap.Logger) *WebSocketHandler {
	if log == nil {
		log = zap.NewNop()
	}
	allowAll := slices.Contains(origins, "*")
	return &WebSocketHandler{
		events:       events,
		availability: avail,
		appointments: appts,
		log:          log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return allowAll || origin == "" || slices.Contains(origins, origin)
			},
		},
	}
}

// HandleConnect upgrades the request and serves the connection until the
// client goes away.
func (h *WebSocketHandler) HandleConnect(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("api.ws upgrade failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &wsClient{
		id:      uuid.NewString(),
		handler: h,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
		views:   make(map[string]wsView),
		ctx:     ctx,
		log:     h.log.With(zap.String("request_id", GetRequestID(r.Context()))),
	}

	go c.writePump()
	c.readPump()
	cancel()
}

// wsView is one watched view on a connection.
type wsView interface {
	kind() string
	refresh(ctx context.Context) error
	unmount()
}

type slotsWatch struct {
	adapter *viewsync.Adapter[SlotsView]
}

func (v *slotsWatch) kind() string                      { return ViewSlots }
func (v *slotsWatch) refresh(ctx context.Context) error { return v.adapter.Refresh(ctx) }
func (v *slotsWatch) unmount()                          { v.adapter.Unmount() }

type boardWatch struct {
	session *kanban.Session
}

func (v *boardWatch) kind() string                      { return ViewBoard }
func (v *boardWatch) refresh(ctx context.Context) error { return v.session.Refresh(ctx) }
func (v *boardWatch) unmount()                          { v.session.Unmount() }

type wsClient struct {
	id      string
	handler *WebSocketHandler
	conn    *websocket.Conn
	send    chan []byte
	done    chan struct{}
	ctx     context.Context
	log     *zap.Logger

	mu    sync.Mutex
	views map[string]wsView
}

func (c *wsClient) readPump() {
	defer func() {
		c.closeViews()
		close(c.done)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("api.ws read failed", zap.String("client", c.id), zap.Error(err))
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.push(ServerMessage{Type: "error", Error: "malformed message"})
			continue
		}
		c.process(msg)
	}
}

func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// push queues msg for the client. A client that stops reading loses messages
// rather than stalling publishers.
func (c *wsClient) push(msg ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Warn("api.ws marshal failed", zap.String("type", msg.Type), zap.Error(err))
		return
	}
	select {
	case <-c.done:
	case c.send <- data:
	default:
		c.log.Debug("api.ws client buffer full, dropping message", zap.String("client", c.id))
	}
}

func pushState[T any](c *wsClient, id, kind string) func(viewsync.State[T]) {
	return func(st viewsync.State[T]) {
		msg := ServerMessage{
			Type:    "state",
			ID:      id,
			View:    kind,
			Version: st.Version,
			Loading: st.Loading,
			Data:    st.Data,
		}
		if st.Err != nil {
			msg.Error = "could not load view"
		}
		c.push(msg)
	}
}

func (c *wsClient) process(msg ClientMessage) {
	if msg.ID == "" {
		c.push(ServerMessage{Type: "error", Error: "id is required"})
		return
	}

	var err error
	switch msg.Action {
	case "watch":
		err = c.watch(msg)
	case "unwatch":
		c.unwatch(msg.ID)
	case "refresh":
		if v := c.view(msg.ID); v != nil {
			err = v.refresh(c.ctx)
		}
	case "move":
		err = c.move(msg)
	default:
		c.push(ServerMessage{Type: "error", ID: msg.ID, Error: "unknown action " + msg.Action})
		return
	}

	if err != nil {
		c.push(ServerMessage{Type: "error", ID: msg.ID, Error: clientError(err)})
	}
}

func clientError(err error) string {
	switch {
	case errors.Is(err, availability.ErrInvalidDate), errors.Is(err, errBadWatch):
		return err.Error()
	default:
		return "request failed"
	}
}

var errBadWatch = errors.New("watch needs view slots (clinic_id, doctor_id, date) or board (clinic_id, date)")

func (c *wsClient) view(id string) wsView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.views[id]
}

// watch starts a view, or points an existing one with the same id at new
// inputs. Repointing removes the old subscriptions before adding new ones.
func (c *wsClient) watch(msg ClientMessage) error {
	h := c.handler
	existing := c.view(msg.ID)
	if existing != nil && existing.kind() != msg.View {
		c.unwatch(msg.ID)
		existing = nil
	}

	switch msg.View {
	case ViewSlots:
		if msg.ClinicID == "" || msg.DoctorID == "" || msg.Date == "" {
			return errBadWatch
		}
		fetch := h.slotsFetcher(msg.ClinicID, msg.DoctorID, msg.Date)
		if existing != nil {
			return existing.(*slotsWatch).adapter.Remount(c.ctx, fetch)
		}
		adapter := viewsync.New(h.events, SlotEvents, fetch,
			viewsync.WithName[SlotsView]("slots"),
			viewsync.WithLogger[SlotsView](c.log),
			viewsync.OnChange(pushState[SlotsView](c, msg.ID, ViewSlots)),
		)
		c.store(msg.ID, &slotsWatch{adapter: adapter})
		return adapter.Mount(c.ctx)

	case ViewBoard:
		if msg.ClinicID == "" || msg.Date == "" {
			return errBadWatch
		}
		if existing != nil {
			return existing.(*boardWatch).session.SetDay(c.ctx, msg.ClinicID, msg.Date)
		}
		session := kanban.NewSession(h.events, h.appointments, h.appointments, msg.ClinicID, msg.Date, c.log,
			viewsync.OnChange(pushState[kanban.Board](c, msg.ID, ViewBoard)),
		)
		c.store(msg.ID, &boardWatch{session: session})
		return session.Mount(c.ctx)

	default:
		return errBadWatch
	}
}

func (h *WebSocketHandler) slotsFetcher(clinicID, doctorID, date string) viewsync.FetchFunc[SlotsView] {
	return func(ctx context.Context) (SlotsView, error) {
		v, err := h.availability.ValidateAvailability(ctx, clinicID, doctorID, date)
		if err != nil {
			return SlotsView{}, err
		}
		slots, err := h.availability.ComputeSlots(ctx, clinicID, doctorID, date)
		if err != nil {
			return SlotsView{}, err
		}
		return SlotsView{ClinicID: clinicID, DoctorID: doctorID, Date: date, Availability: v, Slots: slots}, nil
	}
}

func (c *wsClient) store(id string, v wsView) {
	c.mu.Lock()
	c.views[id] = v
	c.mu.Unlock()
}

func (c *wsClient) unwatch(id string) {
	c.mu.Lock()
	v := c.views[id]
	delete(c.views, id)
	c.mu.Unlock()

	if v != nil {
		v.unmount()
	}
}

func (c *wsClient) move(msg ClientMessage) error {
	board, ok := c.view(msg.ID).(*boardWatch)
	if !ok {
		return errBadWatch
	}
	id, err := uuid.Parse(msg.AppointmentID)
	if err != nil {
		c.push(ServerMessage{Type: "notice", ID: msg.ID, Notice: &kanban.Notice{Level: "warning", Message: "Unknown appointment."}})
		return nil
	}

	notice, err := board.session.MoveCard(c.ctx, id, msg.Status)
	if notice != nil {
		c.push(ServerMessage{Type: "notice", ID: msg.ID, Notice: notice})
	}
	if err != nil {
		c.log.Info("api.ws move rejected",
			zap.String("appointment_id", id.String()),
			zap.String("status", string(msg.Status)),
			zap.Error(err),
		)
	}
	return nil
}

func (c *wsClient) closeViews() {
	c.mu.Lock()
	views := c.views
	c.views = make(map[string]wsView)
	c.mu.Unlock()

	for _, v := range views {
		v.unmount()
	}
}
