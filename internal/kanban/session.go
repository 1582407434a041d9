package kanban

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/frontdesk-scheduling/internal/appointment"
	"github.com/hackgods/frontdesk-scheduling/internal/notify"
	"github.com/hackgods/frontdesk-scheduling/internal/viewsync"
)

// BoardEvents are the changes that can alter a board.
var BoardEvents = []notify.EventType{
	notify.AppointmentCreated,
	notify.AppointmentUpdated,
	notify.AppointmentDeleted,
	notify.AppointmentStatusChanged,
}

var ErrCardNotFound = errors.New("appointment is not on the board")

type AppointmentLister interface {
	ListForClinicDay(ctx context.Context, clinicID, date string) ([]appointment.Appointment, error)
}

type StatusChanger interface {
	ChangeStatus(ctx context.Context, id uuid.UUID, to appointment.Status) (*appointment.Appointment, error)
}

// Notice is the message shown to the user when a move does not go through.
type Notice struct {
	Level         string `json:"level"`
	Message       string `json:"message"`
	AppointmentID string `json:"appointment_id,omitempty"`
}

// Session is one open board view.
type Session struct {
	adapter *viewsync.Adapter[Board]
	lister  AppointmentLister
	changer StatusChanger
	log     *zap.Logger
}

func NewSession(sub notify.Subscriber, lister AppointmentLister, changer StatusChanger, clinicID, date string, log *zap.Logger, opts ...viewsync.Option[Board]) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Session{lister: lister, changer: changer, log: log}
	opts = append([]viewsync.Option[Board]{viewsync.WithName[Board]("board"), viewsync.WithLogger[Board](log)}, opts...)
	s.adapter = viewsync.New(sub, BoardEvents, s.fetcher(clinicID, date), opts...)
	return s
}

func (s *Session) fetcher(clinicID, date string) viewsync.FetchFunc[Board] {
	return func(ctx context.Context) (Board, error) {
		appts, err := s.lister.ListForClinicDay(ctx, clinicID, date)
		if err != nil {
			return Board{}, err
		}
		return Build(clinicID, date, appts), nil
	}
}

func (s *Session) Mount(ctx context.Context) error {
	return s.adapter.Mount(ctx)
}

// SetDay points the board at another clinic or date.
func (s *Session) SetDay(ctx context.Context, clinicID, date string) error {
	return s.adapter.Remount(ctx, s.fetcher(clinicID, date))
}

func (s *Session) Unmount() {
	s.adapter.Unmount()
}

func (s *Session) Refresh(ctx context.Context) error {
	return s.adapter.Refresh(ctx)
}

func (s *Session) State() viewsync.State[Board] {
	return s.adapter.State()
}

// Adapter exposes the underlying view for callers that wait on refetches.
func (s *Session) Adapter() *viewsync.Adapter[Board] {
	return s.adapter
}

// MoveCard moves the card on the board immediately and then persists the
// status change. If persisting fails the board is restored and a Notice for
// the user is returned together with the error.
func (s *Session) MoveCard(ctx context.Context, id uuid.UUID, to appointment.Status) (*Notice, error) {
	card, ok := s.adapter.State().Data.Find(id)
	if !ok {
		return &Notice{Level: "warning", Message: "This appointment is no longer on the board.", AppointmentID: id.String()}, ErrCardNotFound
	}
	if card.Status == to {
		return nil, nil
	}
	if !card.Status.CanTransition(to) {
		return &Notice{
			Level:         "warning",
			Message:       fmt.Sprintf("%s cannot move from %s to %s.", patientLabel(card), card.Status, to),
			AppointmentID: id.String(),
		}, fmt.Errorf("%w: %s -> %s", appointment.ErrInvalidStatusTransition, card.Status, to)
	}

	err := s.adapter.Optimistic(ctx,
		func(b Board) Board {
			moved, _ := b.Move(id, to)
			return moved
		},
		func(ctx context.Context) error {
			_, err := s.changer.ChangeStatus(ctx, id, to)
			return err
		},
	)
	if err != nil {
		s.log.Warn("kanban.MoveCard status change failed",
			zap.String("appointment_id", id.String()),
			zap.String("from", string(card.Status)),
			zap.String("to", string(to)),
			zap.Error(err),
		)
		return &Notice{
			Level:         "error",
			Message:       fmt.Sprintf("Could not move %s to %s. The board was restored, please try again.", patientLabel(card), to),
			AppointmentID: id.String(),
		}, err
	}
	return nil, nil
}

func patientLabel(c Card) string {
	if c.PatientName == "" {
		return "The appointment at " + c.Time
	}
	return c.PatientName
}
