package hook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var validPoints = map[Point]struct{}{
	BeforeCompile:   {},
	AfterCompile:    {},
	BeforeExecution: {},
	AfterExecution:  {},
	BeforeStep:      {},
	AfterStep:       {},
	BeforeDestroy:   {},
}

// Runner holds registered hooks and dispatches them at lifecycle
// points. Each point runs in Sequence mode unless overridden with
// WithMode. Safe for concurrent use.
type Runner struct {
	mu     sync.RWMutex
	hooks  map[Point][]Hook
	modes  map[Point]Mode
	logger *slog.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the logger used for LogAndContinue failures.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithMode sets the chain mode for one lifecycle point.
func WithMode(point Point, mode Mode) RunnerOption {
	return func(r *Runner) {
		r.modes[point] = mode
	}
}

// NewRunner creates a Runner with no hooks registered.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{
		hooks:  make(map[Point][]Hook),
		modes:  make(map[Point]Mode),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a hook, keeping the point's chain sorted by Priority.
// Hooks with equal priority stay in registration order.
func (r *Runner) Register(h Hook) error {
	if h.Name == "" {
		return errors.New("hook name is required")
	}
	if h.Fn == nil {
		return fmt.Errorf("hook %q has no function", h.Name)
	}
	if _, ok := validPoints[h.Point]; !ok {
		return fmt.Errorf("hook %q has unknown point %q", h.Name, h.Point)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	chain := r.hooks[h.Point]
	idx := len(chain)
	for i, existing := range chain {
		if existing.Priority > h.Priority {
			idx = i
			break
		}
	}
	chain = append(chain, Hook{})
	copy(chain[idx+1:], chain[idx:])
	chain[idx] = h
	r.hooks[h.Point] = chain
	return nil
}

// Has reports whether any hook is registered for the point. Engines
// use it to skip building Info for unhooked points.
func (r *Runner) Has(point Point) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.hooks[point]) > 0
}

// Run fires the hooks registered for info.Point. In Sequence mode
// hooks run in priority order: ErrHalt stops the chain cleanly, a
// LogAndContinue failure is logged, and an AbortExecution failure is
// returned immediately. In Parallel mode all matching hooks run
// concurrently and AbortExecution failures are joined. A panicking
// hook is treated as a failing one.
func (r *Runner) Run(ctx context.Context, info Info) error {
	r.mu.RLock()
	chain := r.hooks[info.Point]
	mode := r.modes[info.Point]
	r.mu.RUnlock()

	if len(chain) == 0 {
		return nil
	}
	if mode == Parallel {
		return r.runParallel(ctx, chain, info)
	}
	return r.runSequence(ctx, chain, info)
}

func (r *Runner) runSequence(ctx context.Context, chain []Hook, info Info) error {
	for _, h := range chain {
		if h.Predicate != nil && !h.Predicate(info) {
			continue
		}
		err := r.invoke(ctx, h, info)
		if err == nil {
			continue
		}
		if errors.Is(err, ErrHalt) {
			return nil
		}
		if h.Policy == AbortExecution {
			return fmt.Errorf("hook %q: %w", h.Name, err)
		}
		r.logFailure(h, info, err)
	}
	return nil
}

func (r *Runner) runParallel(ctx context.Context, chain []Hook, info Info) error {
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		aborts []error
	)
	for _, h := range chain {
		if h.Predicate != nil && !h.Predicate(info) {
			continue
		}
		wg.Add(1)
		go func(h Hook) {
			defer wg.Done()
			err := r.invoke(ctx, h, info)
			if err == nil || errors.Is(err, ErrHalt) {
				return
			}
			if h.Policy == AbortExecution {
				mu.Lock()
				aborts = append(aborts, fmt.Errorf("hook %q: %w", h.Name, err))
				mu.Unlock()
				return
			}
			r.logFailure(h, info, err)
		}(h)
	}
	wg.Wait()
	return errors.Join(aborts...)
}

func (r *Runner) invoke(ctx context.Context, h Hook, info Info) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("hook %q panicked: %v", h.Name, rec)
		}
	}()
	return h.Fn(ctx, info)
}

func (r *Runner) logFailure(h Hook, info Info, err error) {
	if r.logger == nil {
		return
	}
	r.logger.Warn("hook failed",
		"hook", h.Name,
		"point", string(info.Point),
		"error", err)
}
