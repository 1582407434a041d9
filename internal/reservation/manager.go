package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/frontdesk-scheduling/internal/observability/metrics"
)

// Manager enforces at most one live reservation per slot. All reads filter
// expired records at read time, so sweeping is compaction only.
type Manager struct {
	store   Store
	ttl     time.Duration
	now     func() time.Time
	newID   func() string
	log     *zap.Logger
	metrics *metrics.ReservationMetrics
}

type Option func(*Manager)

func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(m *Manager) {
		if newID != nil {
			m.newID = newID
		}
	}
}

func WithLogger(log *zap.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

func WithMetrics(rm *metrics.ReservationMetrics) Option {
	return func(m *Manager) {
		m.metrics = rm
	}
}

func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store: store,
		ttl:   DefaultTTL,
		now:   time.Now,
		newID: uuid.NewString,
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TTL reports the reservation lifetime applied by Reserve.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Reserve claims key for reservedBy. When a live reservation already holds the
// slot a *ConflictError carrying it is returned, whoever the owner is.
func (m *Manager) Reserve(ctx context.Context, key SlotKey, reservedBy ReservedBy, ownerID string) (*Reservation, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if !reservedBy.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidReservedBy, reservedBy)
	}

	now := m.now()
	r := Reservation{
		ID:         m.newID(),
		Key:        key,
		ReservedBy: reservedBy,
		OwnerID:    ownerID,
		ReservedAt: now,
		ExpiresAt:  now.Add(m.ttl),
	}

	existing, err := m.store.Insert(ctx, r, now)
	if err != nil {
		m.metrics.ObserveAttempt(string(reservedBy), "error")
		m.log.Error("reservation.Reserve store insert failed",
			zap.String("slot", key.String()),
			zap.Error(err),
		)
		return nil, fmt.Errorf("reserve slot: %w", err)
	}
	if existing != nil {
		m.metrics.ObserveAttempt(string(reservedBy), "conflict")
		m.log.Info("reservation.Reserve conflict",
			zap.String("slot", key.String()),
			zap.String("reserved_by", string(reservedBy)),
			zap.String("existing_id", existing.ID),
			zap.String("existing_reserved_by", string(existing.ReservedBy)),
			zap.Time("existing_expires_at", existing.ExpiresAt),
		)
		return nil, &ConflictError{Existing: *existing}
	}

	m.metrics.ObserveAttempt(string(reservedBy), "reserved")
	m.log.Debug("reservation.Reserve acquired",
		zap.String("slot", key.String()),
		zap.String("id", r.ID),
		zap.String("reserved_by", string(reservedBy)),
		zap.Time("expires_at", r.ExpiresAt),
	)
	return &r, nil
}

// Confirm releases a reservation after its appointment was written.
// Unknown or already released ids are not an error.
func (m *Manager) Confirm(ctx context.Context, id string) error {
	return m.release(ctx, id, "confirm")
}

// Cancel releases a reservation whose booking was abandoned. Same effect as Confirm.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	return m.release(ctx, id, "cancel")
}

func (m *Manager) release(ctx context.Context, id, reason string) error {
	if id == "" {
		return nil
	}
	if err := m.store.Delete(ctx, id); err != nil {
		m.log.Error("reservation.release store delete failed",
			zap.String("id", id),
			zap.String("reason", reason),
			zap.Error(err),
		)
		return fmt.Errorf("%s reservation: %w", reason, err)
	}
	m.metrics.ObserveRelease(reason)
	m.log.Debug("reservation.release done", zap.String("id", id), zap.String("reason", reason))
	return nil
}

// Get returns the live reservation holding key, or ErrNotFound.
func (m *Manager) Get(ctx context.Context, key SlotKey) (*Reservation, error) {
	r, err := m.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get reservation: %w", err)
	}
	if !r.Live(m.now()) {
		return nil, ErrNotFound
	}
	return r, nil
}

// IsReserved reports whether a live reservation holds key.
func (m *Manager) IsReserved(ctx context.Context, key SlotKey) (bool, error) {
	_, err := m.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// SweepExpired removes reservations past their expiry and reports how many.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	start := time.Now()
	removed, err := m.store.DeleteExpired(ctx, m.now())
	if err != nil {
		return removed, fmt.Errorf("sweep expired reservations: %w", err)
	}
	m.metrics.ObserveSweep(removed, time.Since(start).Seconds())
	return removed, nil
}
