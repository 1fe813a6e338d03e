// Package guard keeps deliberations of the same contract from overlapping.
//
// It offers two complementary mechanisms keyed by contract id:
//
//   - [Registry.Acquire] is an exclusive execution lock. Callers queue until
//     the in-flight deliberation finishes, then run their closure.
//   - [Registry.TryStart] / [Registry.Finish] is a non-blocking trigger guard
//     with a cooldown, used by secondary triggers (the monitor, a manual
//     "mark ended") so at most one of them starts work.
//
// [RedisTrigger] provides the trigger guard across replicas.
package guard

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/Iron-Ham/arbiter/internal/errors"
	"github.com/Iron-Ham/arbiter/internal/logging"
)

// DefaultCooldown is the trigger guard cooldown when none is configured.
const DefaultCooldown = 30 * time.Second

// entry is the per-contract guard state. Entries are created lazily and
// never removed, only released and reset.
type entry struct {
	lock       chan struct{} // 1-buffered: holding a token means holding the lock
	inProgress bool
	finishedAt time.Time
}

// Registry holds one guard entry per contract id.
type Registry struct {
	mu       sync.Mutex
	entries  map[string]*entry
	cooldown time.Duration
	now      func() time.Time
	logger   *logging.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithCooldown sets how long TryStart refuses a contract after Finish.
func WithCooldown(d time.Duration) Option {
	return func(r *Registry) { r.cooldown = d }
}

// WithClock overrides the time source used for cooldowns.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithLogger sets the registry logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Registry) { r.logger = logging.OrNop(l) }
}

// NewRegistry creates an empty Registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		entries:  make(map[string]*entry),
		cooldown: DefaultCooldown,
		now:      time.Now,
		logger:   logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Registry) entry(contractID string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[contractID]
	if !ok {
		e = &entry{lock: make(chan struct{}, 1)}
		r.entries[contractID] = e
	}
	return e
}

// Acquire waits for exclusive ownership of contractID, runs fn, and releases.
// The lock is released even when fn panics; the panic is returned as an
// error. If ctx ends while waiting, a ConcurrencyConflict error is returned
// and fn is not run.
func (r *Registry) Acquire(ctx context.Context, contractID string, fn func(context.Context) error) (err error) {
	e := r.entry(contractID)

	select {
	case e.lock <- struct{}{}:
	case <-ctx.Done():
		return errors.NewDeliberationError("gave up waiting for in-flight deliberation",
			errors.Join(errors.ErrConcurrencyConflict, ctx.Err())).WithContractID(contractID)
	}
	defer func() { <-e.lock }()

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("deliberation panicked",
				"contract_id", contractID,
				"panic", rec,
				"stack", string(debug.Stack()))
			err = errors.NewDeliberationError(fmt.Sprintf("panic: %v", rec), nil).
				WithContractID(contractID).WithSeverity(errors.SeverityCritical)
		}
	}()

	return fn(ctx)
}

// Locked reports whether a deliberation currently holds contractID's lock.
func (r *Registry) Locked(contractID string) bool {
	e := r.entry(contractID)
	return len(e.lock) == 1
}

// TryStart marks contractID as in progress and returns true, or returns false
// immediately when it is already in progress or still cooling down from the
// last Finish.
func (r *Registry) TryStart(contractID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[contractID]
	if !ok {
		e = &entry{lock: make(chan struct{}, 1)}
		r.entries[contractID] = e
	}
	if e.inProgress {
		return false
	}
	if !e.finishedAt.IsZero() && r.now().Sub(e.finishedAt) < r.cooldown {
		return false
	}
	e.inProgress = true
	return true
}

// Finish clears the in-progress flag and starts the cooldown.
func (r *Registry) Finish(contractID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[contractID]
	if !ok {
		return
	}
	e.inProgress = false
	e.finishedAt = r.now()
}

// InProgress reports whether a trigger currently holds contractID.
func (r *Registry) InProgress(contractID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[contractID]
	return ok && e.inProgress
}

// Reset clears the trigger state of contractID, including its cooldown.
func (r *Registry) Reset(contractID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[contractID]; ok {
		e.inProgress = false
		e.finishedAt = time.Time{}
	}
}
