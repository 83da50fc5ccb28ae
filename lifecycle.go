package binview

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultDisposeTimeout bounds how long Close waits for a run to settle.
const DefaultDisposeTimeout = 30 * time.Second

// State is the processing state of an Engine.
type State int32

const (
	// StateIdle means no run has been admitted yet.
	StateIdle State = iota
	// StateBusy means a run is admitted and in progress.
	StateBusy
	// StateCompleted means the single run finished, failed or was cancelled.
	StateCompleted
	// StateDisposed means Close has released the engine.
	StateDisposed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBusy:
		return "busy"
	case StateCompleted:
		return "completed"
	case StateDisposed:
		return "disposed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// lifecycle enforces one run per engine.
//
// slot is a one-permit semaphore held for the whole of a run and taken for
// good by a successful Close. Admission never waits for it: a caller that
// cannot take it immediately fails with the error matching the current
// state. state changes only while slot is held; readers load it atomically.
type lifecycle struct {
	slot    *semaphore.Weighted
	state   atomic.Int32
	closing atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc

	// closeMu serializes close calls.
	closeMu sync.Mutex

	disposeTimeout time.Duration
}

func newLifecycle(disposeTimeout time.Duration) *lifecycle {
	if disposeTimeout <= 0 {
		disposeTimeout = DefaultDisposeTimeout
	}
	return &lifecycle{
		slot:           semaphore.NewWeighted(1),
		disposeTimeout: disposeTimeout,
	}
}

func (l *lifecycle) load() State {
	return State(l.state.Load())
}

// refusal maps a state that does not admit a run to its error.
func (l *lifecycle) refusal(s State) error {
	if l.closing.Load() || s == StateDisposed {
		return ErrDisposed
	}
	if s == StateCompleted {
		return ErrAlreadyFinished
	}
	return ErrAlreadyInProgress
}

// admit moves Idle to Busy and returns the run context, derived from
// parent, plus the func that completes the run. finish must be called
// exactly once.
func (l *lifecycle) admit(parent context.Context) (ctx context.Context, finish func(), err error) {
	if l.closing.Load() {
		return nil, nil, ErrDisposed
	}
	if !l.slot.TryAcquire(1) {
		return nil, nil, l.refusal(l.load())
	}
	if s := l.load(); s != StateIdle || l.closing.Load() {
		l.slot.Release(1)
		return nil, nil, l.refusal(s)
	}
	l.state.Store(int32(StateBusy))

	ctx, cancel := context.WithCancel(parent)
	l.mu.Lock()
	l.cancel = cancel
	l.mu.Unlock()
	if l.closing.Load() {
		// close ran between TryAcquire and storing cancel.
		cancel()
	}

	finish = func() {
		l.mu.Lock()
		l.cancel = nil
		l.mu.Unlock()
		cancel()

		l.state.Store(int32(StateCompleted))
		l.slot.Release(1)
	}
	return ctx, finish, nil
}

// close cancels any in-flight run, waits up to the dispose timeout for it
// to release the slot, and marks the lifecycle disposed. Closing twice is a
// no-op. If the wait fails the lifecycle stays undisposed, admission
// errors again reflect the run state, and close may be retried.
func (l *lifecycle) close(ctx context.Context) error {
	l.closeMu.Lock()
	defer l.closeMu.Unlock()

	if l.load() == StateDisposed {
		return nil
	}
	l.closing.Store(true)

	l.mu.Lock()
	if l.cancel != nil {
		l.cancel()
	}
	l.mu.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, l.disposeTimeout)
	defer cancel()
	if err := l.slot.Acquire(waitCtx, 1); err != nil {
		l.closing.Store(false)
		return fmt.Errorf("%w: %w", ErrDisposeTimeout, err)
	}

	// The slot is kept: nothing may be admitted after disposal.
	l.state.Store(int32(StateDisposed))
	return nil
}
