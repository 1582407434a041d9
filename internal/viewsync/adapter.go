// Package viewsync keeps a fetched view current by refetching whenever a
// relevant change event is published.
package viewsync

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/hackgods/frontdesk-scheduling/internal/notify"
)

// FetchFunc loads the current value of a view. It must be safe to call
// concurrently with itself.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// State is what a display surface renders. Err does not clear Data: the last
// good result stays visible next to the error.
type State[T any] struct {
	Data    T
	Loading bool
	Err     error
	// Version increases with every state change.
	Version uint64
}

// Snapshot is the data as it was before an optimistic change.
type Snapshot[T any] struct {
	Data    T
	fetched uint64
}

// PersistenceError reports that the write behind an optimistic change failed
// and the local change was rolled back.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("change not saved, rolled back: %v", e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

type Adapter[T any] struct {
	mu          sync.Mutex
	sub         notify.Subscriber
	types       []notify.EventType
	fetch       FetchFunc[T]
	state       State[T]
	ctx         context.Context
	unsubscribe notify.Unsubscribe
	mounted     bool
	generation  uint64
	issued      uint64
	applied     uint64
	fetched     uint64
	inflight    int

	// pending counts event refetches not yet finished; idle is signalled
	// on a.mu when it drops to zero.
	pending int
	idle    *sync.Cond

	emitMu   sync.Mutex
	onChange func(State[T])
	name     string
	log      *zap.Logger
}

type Option[T any] func(*Adapter[T])

// OnChange registers a callback run after every state change. It must not
// call back into the adapter synchronously.
func OnChange[T any](fn func(State[T])) Option[T] {
	return func(a *Adapter[T]) {
		a.onChange = fn
	}
}

func WithName[T any](name string) Option[T] {
	return func(a *Adapter[T]) {
		a.name = name
	}
}

func WithLogger[T any](log *zap.Logger) Option[T] {
	return func(a *Adapter[T]) {
		if log != nil {
			a.log = log
		}
	}
}

func New[T any](sub notify.Subscriber, types []notify.EventType, fetch FetchFunc[T], opts ...Option[T]) *Adapter[T] {
	a := &Adapter[T]{
		sub:   sub,
		types: append([]notify.EventType(nil), types...),
		fetch: fetch,
		ctx:   context.Background(),
		log:   zap.NewNop(),
	}
	a.idle = sync.NewCond(&a.mu)
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Mount subscribes to the adapter's event types and runs the initial fetch.
// Refetches triggered by events run with ctx until Unmount or Remount.
func (a *Adapter[T]) Mount(ctx context.Context) error {
	a.mu.Lock()
	if a.mounted {
		a.mu.Unlock()
		return nil
	}
	a.mounted = true
	a.ctx = ctx
	a.generation++
	gen := a.generation
	a.mu.Unlock()

	a.subscribe(gen)
	return a.load(ctx, gen)
}

// Remount switches the adapter to a new fetch, typically after the view's
// inputs changed. The previous subscription group is removed before the new
// one is registered, and results of fetches for the old inputs are dropped.
func (a *Adapter[T]) Remount(ctx context.Context, fetch FetchFunc[T]) error {
	a.mu.Lock()
	old := a.unsubscribe
	a.unsubscribe = nil
	a.mounted = true
	a.ctx = ctx
	a.fetch = fetch
	a.generation++
	gen := a.generation
	a.mu.Unlock()

	if old != nil {
		old()
	}
	a.subscribe(gen)
	return a.load(ctx, gen)
}

// Unmount removes every subscription. Events and in-flight fetches are
// ignored afterwards.
func (a *Adapter[T]) Unmount() {
	a.mu.Lock()
	old := a.unsubscribe
	a.unsubscribe = nil
	a.mounted = false
	a.generation++
	a.mu.Unlock()

	if old != nil {
		old()
	}
}

func (a *Adapter[T]) subscribe(gen uint64) {
	unsub := a.sub.SubscribeGroup(a.types, func(_ context.Context, ev notify.ChangeEvent) {
		a.onEvent(gen, ev)
	})

	a.mu.Lock()
	if a.generation != gen {
		// Unmounted or remounted while subscribing.
		a.mu.Unlock()
		unsub()
		return
	}
	a.unsubscribe = unsub
	a.mu.Unlock()
}

func (a *Adapter[T]) onEvent(gen uint64, ev notify.ChangeEvent) {
	a.mu.Lock()
	if !a.mounted || a.generation != gen {
		a.mu.Unlock()
		return
	}
	ctx := a.ctx
	a.pending++
	a.mu.Unlock()

	a.log.Debug("viewsync.onEvent refetch",
		zap.String("view", a.name),
		zap.String("event_type", string(ev.Type)),
	)

	go func() {
		_ = a.load(ctx, gen)

		a.mu.Lock()
		a.pending--
		if a.pending == 0 {
			a.idle.Broadcast()
		}
		a.mu.Unlock()
	}()
}

// Refresh re-runs the current fetch and waits for it. It does nothing on an
// adapter that is not mounted.
func (a *Adapter[T]) Refresh(ctx context.Context) error {
	a.mu.Lock()
	if !a.mounted {
		a.mu.Unlock()
		return nil
	}
	gen := a.generation
	a.mu.Unlock()
	return a.load(ctx, gen)
}

// Wait blocks until no event-triggered refetch is running. Events published
// while waiting extend the wait.
func (a *Adapter[T]) Wait() {
	a.mu.Lock()
	for a.pending > 0 {
		a.idle.Wait()
	}
	a.mu.Unlock()
}

func (a *Adapter[T]) load(ctx context.Context, gen uint64) error {
	a.mu.Lock()
	if a.generation != gen {
		a.mu.Unlock()
		return nil
	}
	a.issued++
	seq := a.issued
	a.inflight++
	a.state.Loading = true
	a.state.Version++
	fetch := a.fetch
	a.mu.Unlock()
	a.emit()

	data, err := fetch(ctx)

	a.mu.Lock()
	a.inflight--
	if a.generation != gen || seq <= a.applied {
		// A newer fetch already landed or the inputs changed. The result is
		// dropped but the loading flag may still have to clear.
		loading := a.inflight > 0
		changed := a.state.Loading != loading
		if changed {
			a.state.Loading = loading
			a.state.Version++
		}
		a.mu.Unlock()
		if changed {
			a.emit()
		}
		return nil
	}
	a.applied = seq
	a.state.Loading = a.inflight > 0
	a.state.Version++
	if err != nil {
		a.state.Err = err
	} else {
		a.state.Data = data
		a.state.Err = nil
		a.fetched++
	}
	a.mu.Unlock()

	if err != nil {
		a.log.Warn("viewsync.load fetch failed",
			zap.String("view", a.name),
			zap.Error(err),
		)
	}
	a.emit()
	return err
}

func (a *Adapter[T]) State() State[T] {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Apply replaces the data with fn(current) right away and returns what was
// there before. fn must return a new value rather than modify its argument.
func (a *Adapter[T]) Apply(fn func(T) T) Snapshot[T] {
	a.mu.Lock()
	snap := Snapshot[T]{Data: a.state.Data, fetched: a.fetched}
	a.state.Data = fn(a.state.Data)
	a.state.Version++
	a.mu.Unlock()

	a.emit()
	return snap
}

// Rollback restores snap. If a fetch result arrived after the snapshot was
// taken the fetched data already supersedes the optimistic change and is kept.
func (a *Adapter[T]) Rollback(snap Snapshot[T]) {
	a.mu.Lock()
	if a.fetched != snap.fetched {
		a.mu.Unlock()
		return
	}
	a.state.Data = snap.Data
	a.state.Version++
	a.mu.Unlock()

	a.emit()
}

// Optimistic applies fn locally, then runs commit. When commit fails the
// change is rolled back and a *PersistenceError wrapping the cause is returned.
func (a *Adapter[T]) Optimistic(ctx context.Context, fn func(T) T, commit func(ctx context.Context) error) error {
	snap := a.Apply(fn)
	if err := commit(ctx); err != nil {
		a.Rollback(snap)
		a.log.Info("viewsync.Optimistic rolled back",
			zap.String("view", a.name),
			zap.Error(err),
		)
		return &PersistenceError{Err: err}
	}
	return nil
}

func (a *Adapter[T]) emit() {
	if a.onChange == nil {
		return
	}
	a.emitMu.Lock()
	defer a.emitMu.Unlock()
	a.onChange(a.State())
}
