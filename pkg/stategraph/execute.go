package stategraph

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/randalmurphal/stategraph/pkg/stategraph/channel"
	"github.com/randalmurphal/stategraph/pkg/stategraph/checkpoint"
	"github.com/randalmurphal/stategraph/pkg/stategraph/event"
	"github.com/randalmurphal/stategraph/pkg/stategraph/hook"
	"github.com/randalmurphal/stategraph/pkg/stategraph/observability"
)

// run is the mutable state of one execution: the channel copies, the
// active frontier, and the position in the thread's checkpoint chain.
type run struct {
	graph *CompiledGraph
	cfg   *engineConfig
	rc    runConfig
	sink  *Stream

	ctx      context.Context
	base     *executionContext
	threadID string

	channels    map[string]channel.Channel
	active      []string
	step        int // global superstep index, continues across resumes
	stepsRun    int // supersteps executed by this call
	lastChanged map[string]bool

	parentID      string
	checkpointID  string
	hasCheckpoint bool

	pendingReplay []checkpoint.NodeWrites
	skipInterrupt bool
}

// nodeResult is one node's buffered outcome, held until the barrier.
type nodeResult struct {
	node    string
	updates map[string]any
	gotos   []string
	err     error
	skipped bool
}

// newRun prepares a fresh run: its own channel copies, the entry node
// as the frontier, and a generated thread id when none was given.
func (e *Engine) newRun(ctx context.Context, rc runConfig, sink *Stream) *run {
	threadID := rc.threadID
	if threadID == "" {
		threadID = uuid.New().String()
	}
	return &run{
		graph:    e.graph,
		cfg:      &e.config,
		rc:       rc,
		sink:     sink,
		ctx:      ctx,
		base:     newExecutionContext(ctx, e.config.logger, threadID),
		threadID: threadID,
		channels: e.graph.newChannels(),
		active:   []string{e.graph.entryPoint},
	}
}

// seed applies the input map to the run's channels as one update
// round. Seeding is a state update, not a checkpoint.
func (r *run) seed(input map[string]any) error {
	if len(input) == 0 {
		return nil
	}
	writes := make(map[string][]any, len(input))
	for name, value := range input {
		writes[name] = []any{value}
	}
	if err := r.applyBarrier(writes); err != nil {
		return fmt.Errorf("seed input: %w", err)
	}
	return nil
}

// limit is the superstep budget for this call.
func (r *run) limit() int {
	if r.rc.maxSteps > 0 {
		return r.rc.maxSteps
	}
	return r.cfg.recursionLimit
}

// loop drives supersteps until the run reaches a terminal status.
func (r *run) loop() (res *Result, runErr error) {
	cfg := r.cfg
	runStart := time.Now()
	observability.LogRunStart(cfg.logger, r.graph.name, r.threadID)

	if cfg.tracingEnabled {
		var runSpan trace.Span
		r.ctx, runSpan = cfg.spans.StartRunSpan(r.ctx, r.graph.name, r.threadID)
		r.base = newExecutionContext(r.ctx, cfg.logger, r.threadID)
		defer func() {
			cfg.spans.EndSpanWithError(runSpan, runErr)
		}()
	}

	r.publish(event.TypeRunStarted, event.WithStep(r.step))

	if err := r.runHooks(hook.BeforeExecution, StatusRunning, nil); err != nil {
		return r.finish(StatusFailed, fmt.Errorf("before execution: %w", err), runStart)
	}

	for {
		if len(r.active) == 0 {
			return r.finish(StatusCompleted, nil, runStart)
		}

		if r.stepsRun >= r.limit() {
			return r.finish(StatusFailed, &RecursionError{
				Limit:     r.limit(),
				ThreadID:  r.threadID,
				NextNodes: append([]string(nil), r.active...),
			}, runStart)
		}

		// Cancellation is honored here, at the superstep boundary, and
		// nowhere else.
		if err := r.ctx.Err(); err != nil {
			return r.finish(StatusFailed, &CancellationError{
				Step:  r.step,
				State: r.snapshot(),
				Cause: err,
			}, runStart)
		}

		// Interrupt-before screen. A resumed run skips it once so the
		// interrupted node actually executes.
		if r.skipInterrupt {
			r.skipInterrupt = false
		} else if hits := matchNodes(cfg.interruptBefore, r.active); len(hits) > 0 {
			if !r.hasCheckpoint {
				// Suspended before the first superstep ever ran:
				// persist an initial checkpoint so the thread can be
				// resumed at all.
				if err := r.saveCheckpoint(-1, r.active, nil); err != nil {
					return r.finish(StatusFailed, err, runStart)
				}
			}
			return r.finish(StatusSuspended, nil, runStart)
		}

		executed, err := r.executeStep()
		if err != nil {
			return r.finish(StatusFailed, err, runStart)
		}

		r.step++
		r.stepsRun++

		if hits := matchNodes(cfg.interruptAfter, executed); len(hits) > 0 {
			return r.finish(StatusSuspended, nil, runStart)
		}
	}
}

// executeStep runs one superstep end to end: node execution, barrier
// apply, frontier derivation, and checkpoint. On success r.active
// holds the next frontier.
func (r *run) executeStep() (executed []string, err error) {
	cfg := r.cfg
	executed = append([]string(nil), r.active...)
	stepStart := time.Now()

	if err := r.runHooks(hook.BeforeStep, StatusRunning, nil); err != nil {
		return nil, fmt.Errorf("before step %d: %w", r.step, err)
	}

	observability.LogStepStart(cfg.logger, r.step, executed)
	r.publish(event.TypeStepStarted, event.WithStep(r.step))

	stepCtx := r.ctx
	var stepSpan trace.Span
	if cfg.tracingEnabled {
		stepCtx, stepSpan = cfg.spans.StartStepSpan(r.ctx, r.step)
	}

	results := r.runNodes(stepCtx)

	// Replayed pending writes from a resumed checkpoint join the first
	// barrier as if their nodes had executed in this superstep.
	if len(r.pendingReplay) > 0 {
		for _, w := range r.pendingReplay {
			results = append(results, nodeResult{node: w.NodeID, updates: w.Updates, gotos: w.Goto})
		}
		r.pendingReplay = nil
	}
	sort.Slice(results, func(i, j int) bool { return results[i].node < results[j].node })

	err = r.commitStep(results)

	if cfg.tracingEnabled {
		cfg.spans.EndSpanWithError(stepSpan, err)
	}
	if hookErr := r.runHooks(hook.AfterStep, StatusRunning, err); hookErr != nil && err == nil {
		err = fmt.Errorf("after step %d: %w", r.step, hookErr)
	}
	if err != nil {
		return nil, err
	}

	dur := time.Since(stepStart)
	cfg.metrics.RecordStep(stepCtx, len(executed), dur)
	observability.LogStepComplete(cfg.logger, r.step, float64(dur.Milliseconds()))
	r.publish(event.TypeStepCompleted, event.WithStep(r.step), event.WithData(map[string]any{"nodes": executed}))

	r.emitDelta(executed)
	return executed, nil
}

// runNodes executes the active set concurrently under the engine's
// concurrency bound. Writes are buffered in the results, never applied
// mid-step. Under FailFast a failure stops further launches; nodes
// already in flight always finish.
func (r *run) runNodes(ctx context.Context) []nodeResult {
	// Input views are built up front, sequentially in frontier order:
	// drain-on-read topics make Get a mutation, so views must not be
	// assembled from concurrent goroutines.
	views := make([]State, len(r.active))
	for i, id := range r.active {
		if spec, ok := r.graph.getNode(id); ok {
			views[i] = r.stateView(spec)
		}
	}

	sem := semaphore.NewWeighted(int64(r.cfg.maxConcurrency))
	results := make([]nodeResult, len(r.active))
	var wg sync.WaitGroup
	var failed atomic.Bool

	for i, id := range r.active {
		if r.cfg.failurePolicy == FailFast && failed.Load() {
			results[i] = nodeResult{node: id, skipped: true}
			continue
		}
		// Acquire deliberately ignores the run context: cancellation
		// is honored at superstep boundaries, never mid-step.
		if err := sem.Acquire(context.Background(), 1); err != nil {
			results[i] = nodeResult{node: id, err: &NodeExecutionError{Node: id, Step: r.step, Err: err}}
			failed.Store(true)
			continue
		}
		wg.Add(1)
		go func(i int, id string, view State) {
			defer wg.Done()
			defer sem.Release(1)
			res := r.executeNode(ctx, id, view)
			if res.err != nil {
				failed.Store(true)
			}
			results[i] = res
		}(i, id, views[i])
	}

	wg.Wait()
	return results
}

// executeNode runs one node and interprets its result. Panics are
// recovered into *PanicError. A non-nil res.err is always a
// *NodeExecutionError.
func (r *run) executeNode(ctx context.Context, id string, view State) (res nodeResult) {
	res.node = id
	cfg := r.cfg

	wrap := func(err error) {
		res.err = &NodeExecutionError{Node: id, Step: r.step, Err: err}
	}

	spec, ok := r.graph.getNode(id)
	if !ok {
		// A checkpoint's frontier can name a node the graph no longer
		// has.
		wrap(fmt.Errorf("%w: %s", ErrNodeNotFound, id))
		observability.LogNodeError(cfg.logger, id, res.err)
		r.publish(event.TypeNodeFailed, event.WithStep(r.step), event.WithNode(id),
			event.WithData(map[string]any{"error": res.err.Error()}))
		return res
	}

	inner := ctx
	if spec.timeout > 0 {
		var cancel context.CancelFunc
		inner, cancel = context.WithTimeout(inner, spec.timeout)
		defer cancel()
	}
	var nodeSpan trace.Span
	if cfg.tracingEnabled {
		inner, nodeSpan = cfg.spans.StartNodeSpan(inner, id)
	}

	ec := r.base.withStep(r.step).withNode(inner, id)

	observability.LogNodeStart(ec.Logger(), id)
	r.publish(event.TypeNodeStarted, event.WithStep(r.step), event.WithNode(id))

	start := time.Now()
	defer func() {
		dur := time.Since(start)
		cfg.metrics.RecordNodeExecution(inner, id, dur, res.err)
		if cfg.tracingEnabled {
			cfg.spans.EndSpanWithError(nodeSpan, res.err)
		}
		if res.err != nil {
			observability.LogNodeError(ec.Logger(), id, res.err)
			r.publish(event.TypeNodeFailed, event.WithStep(r.step), event.WithNode(id),
				event.WithData(map[string]any{"error": res.err.Error()}))
		} else {
			observability.LogNodeComplete(ec.Logger(), id, float64(dur.Milliseconds()))
			r.publish(event.TypeNodeCompleted, event.WithStep(r.step), event.WithNode(id))
		}
	}()

	raw, err := func() (raw any, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = &PanicError{Node: id, Value: rec, Stack: string(debug.Stack())}
			}
		}()
		return spec.fn(ec, view)
	}()
	if err != nil {
		wrap(err)
		return res
	}

	switch v := raw.(type) {
	case nil:
	case State:
		res.updates = v
	case map[string]any:
		res.updates = v
	case *Command:
		if v != nil {
			res.updates = v.Update
			res.gotos = v.Goto
		}
	default:
		wrap(fmt.Errorf("invalid node result type %T", raw))
		return res
	}

	for name := range res.updates {
		if _, ok := r.channels[name]; !ok {
			res.updates = nil
			wrap(fmt.Errorf("%w: %s", ErrUnknownChannel, name))
			return res
		}
	}

	return res
}

// commitStep settles one superstep's results: failure handling per
// policy, then barrier apply, frontier derivation, and checkpoint.
func (r *run) commitStep(results []nodeResult) error {
	var failures []error
	var failedNodes []string
	for _, res := range results {
		if res.err != nil {
			failures = append(failures, res.err)
			failedNodes = append(failedNodes, res.node)
		}
	}

	if len(failures) > 0 {
		if r.cfg.failurePolicy == FailFast {
			// Discard the whole superstep; state stays at the previous
			// barrier.
			return failures[0]
		}
		return r.isolateFailures(results, failures, failedNodes)
	}

	if err := r.applyBarrier(collectWrites(results)); err != nil {
		return fmt.Errorf("apply step %d: %w", r.step, err)
	}

	next, err := r.deriveNext(results)
	if err != nil {
		return err
	}

	if r.cfg.saver != nil {
		if err := r.saveCheckpoint(r.step, next, nil); err != nil {
			// Applied in memory but not persisted; a resume retries
			// this superstep from the previous checkpoint.
			r.active = next
			return err
		}
	}

	r.active = next
	return nil
}

// isolateFailures commits a partially failed superstep under the
// Isolate policy: every successful node's outcome is persisted as a
// pending write on a checkpoint whose frontier is the failed nodes, so
// a resume retries only those and replays the rest. Channel state
// stays at the previous barrier.
func (r *run) isolateFailures(results []nodeResult, failures []error, failedNodes []string) error {
	var pending []checkpoint.NodeWrites
	for _, res := range results {
		if res.err != nil || res.skipped {
			continue
		}
		// Nodes with no writes still replay, so their routing happens
		// at the retried barrier.
		pending = append(pending, checkpoint.NodeWrites{
			NodeID:  res.node,
			Updates: res.updates,
			Goto:    res.gotos,
		})
	}

	sort.Strings(failedNodes)
	agg := &AggregateExecutionError{Step: r.step, Errors: failures}

	if r.cfg.saver != nil {
		if err := r.saveCheckpoint(r.step, failedNodes, pending); err != nil {
			r.active = failedNodes
			return err
		}
	}
	r.active = failedNodes
	return agg
}

// applyBarrier applies one round of buffered writes with
// all-or-nothing semantics: every affected channel is updated on a
// copy, and the copies replace the originals only when all of them
// accept their writes.
func (r *run) applyBarrier(writes map[string][]any) error {
	r.lastChanged = make(map[string]bool, len(writes))
	if len(writes) == 0 {
		return nil
	}

	names := make([]string, 0, len(writes))
	for name := range writes {
		names = append(names, name)
	}
	sort.Strings(names)

	fresh := make(map[string]channel.Channel, len(writes))
	for _, name := range names {
		ch, ok := r.channels[name]
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownChannel, name)
		}
		cp := ch.Copy()
		changed, err := cp.Update(writes[name])
		if err != nil {
			var iue *channel.InvalidUpdateError
			if errors.As(err, &iue) && iue.Channel == "" {
				iue.Channel = name
			}
			return err
		}
		fresh[name] = cp
		r.lastChanged[name] = changed
	}
	for name, cp := range fresh {
		r.channels[name] = cp
	}
	return nil
}

// collectWrites flattens the step's buffered updates. The results come
// in sorted by node id, which fixes the per-channel value order.
func collectWrites(results []nodeResult) map[string][]any {
	writes := make(map[string][]any)
	for _, res := range results {
		for name, value := range res.updates {
			writes[name] = append(writes[name], value)
		}
	}
	return writes
}

// deriveNext computes the next frontier. Per node, Command.Goto beats
// a conditional edge, which beats simple edges; on top of that,
// trigger subscriptions activate for every channel the barrier
// changed. END anywhere terminates the run: the frontier comes back
// empty.
func (r *run) deriveNext(results []nodeResult) ([]string, error) {
	state := r.snapshot()
	seen := make(map[string]bool)
	var next []string
	terminate := false

	for _, res := range results {
		if res.err != nil || res.skipped {
			continue
		}
		targets, err := r.nodeTargets(res, state)
		if err != nil {
			return nil, err
		}
		for _, t := range targets {
			if t == END {
				terminate = true
				continue
			}
			if !seen[t] {
				seen[t] = true
				next = append(next, t)
			}
		}
	}

	for name, changed := range r.lastChanged {
		if !changed {
			continue
		}
		for _, id := range r.graph.triggers[name] {
			if !seen[id] {
				seen[id] = true
				next = append(next, id)
			}
		}
	}

	if terminate {
		return nil, nil
	}
	sort.Strings(next)
	return next, nil
}

// nodeTargets resolves where one node's execution leads.
func (r *run) nodeTargets(res nodeResult, state State) ([]string, error) {
	if len(res.gotos) > 0 {
		for _, t := range res.gotos {
			if t != END && !r.graph.HasNode(t) {
				return nil, fmt.Errorf("%w: goto %q from node %s", ErrRouterTargetNotFound, t, res.node)
			}
		}
		return res.gotos, nil
	}

	if ce, ok := r.graph.getRouter(res.node); ok {
		return r.routeConditional(res.node, ce, state)
	}

	return r.graph.edges[res.node], nil
}

// routeConditional invokes a node's router against post-barrier state
// and resolves the returned labels through the edge's mapping.
func (r *run) routeConditional(node string, ce conditionalEdge, state State) ([]string, error) {
	rctx := r.base.withStep(r.step).withNode(r.ctx, node)

	labels, err := func() (ls []string, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				err = &PanicError{Node: node, Value: rec, Stack: string(debug.Stack())}
			}
		}()
		return ce.router(rctx, state), nil
	}()
	if err != nil {
		return nil, &RouterError{Node: node, Err: err}
	}
	if len(labels) == 0 {
		return nil, &RouterError{Node: node, Err: ErrInvalidRouterResult}
	}

	targets := make([]string, 0, len(labels))
	for _, label := range labels {
		if label == "" {
			return nil, &RouterError{Node: node, Returned: label, Err: ErrInvalidRouterResult}
		}
		target := label
		if ce.mapping != nil {
			mapped, ok := ce.mapping[label]
			if !ok {
				return nil, &RouterError{Node: node, Returned: label, Err: ErrRouterTargetNotFound}
			}
			target = mapped
		}
		if target != END && !r.graph.HasNode(target) {
			return nil, &RouterError{Node: node, Returned: label, Err: ErrRouterTargetNotFound}
		}
		targets = append(targets, target)
	}
	return targets, nil
}

// saveCheckpoint persists the current channel values with the given
// frontier and pending writes. The save is shielded from run
// cancellation: barrier and checkpoint commit together or not at all.
func (r *run) saveCheckpoint(step int, next []string, pending []checkpoint.NodeWrites) error {
	saveCtx := context.WithoutCancel(r.ctx)
	cp, err := r.cfg.saver.Save(saveCtx, r.threadID, step, checkpoint.Snapshot{
		Values:    r.snapshot(),
		NextNodes: next,
		Pending:   pending,
		Parent:    r.parentID,
		Metadata:  r.rc.metadata,
	})
	if err != nil {
		observability.LogCheckpointError(r.cfg.logger, r.threadID, "save", err)
		return fmt.Errorf("save checkpoint at step %d: %w", step, err)
	}

	r.parentID = cp.ID
	r.checkpointID = cp.ID
	r.hasCheckpoint = true

	observability.LogCheckpoint(r.cfg.logger, r.threadID, cp.ID, step, cp.Size)
	r.cfg.metrics.RecordCheckpoint(saveCtx, r.threadID, int64(cp.Size))
	r.publish(event.TypeCheckpointSaved, event.WithStep(step), event.WithData(map[string]any{
		"checkpoint_id": cp.ID,
		"size_bytes":    cp.Size,
	}))
	return nil
}

// stateView builds a node's input view from its subscribed channels,
// or all channels when the node declared no inputs. Empty channels are
// absent from the view.
func (r *run) stateView(spec *nodeSpec) State {
	names := spec.inputs
	if len(names) == 0 {
		view := make(State, len(r.channels))
		for name, ch := range r.channels {
			if v, err := ch.Get(); err == nil {
				view[name] = v
			}
		}
		return view
	}
	view := make(State, len(names))
	for _, name := range names {
		ch, ok := r.channels[name]
		if !ok {
			continue
		}
		if v, err := ch.Get(); err == nil {
			view[name] = v
		}
	}
	return view
}

// snapshot returns the current value of every non-empty channel. It
// reads via Checkpoint, which never drains.
func (r *run) snapshot() State {
	s := make(State, len(r.channels))
	for name, ch := range r.channels {
		v, err := ch.Checkpoint()
		if err != nil {
			continue
		}
		s[name] = v
	}
	return s
}

// emitDelta hands the step's outcome to the stream consumer, pacing
// the run by demand. A cancelled run stops waiting; the loop notices
// the cancellation at the boundary.
func (r *run) emitDelta(executed []string) {
	if r.sink == nil {
		return
	}
	writes := make(map[string]any, len(r.lastChanged))
	for name := range r.lastChanged {
		ch, ok := r.channels[name]
		if !ok {
			continue
		}
		if v, err := ch.Checkpoint(); err == nil {
			writes[name] = v
		}
	}
	select {
	case r.sink.deltas <- Delta{Step: r.step, Nodes: executed, Writes: writes}:
	case <-r.ctx.Done():
	}
}

// publish sends an event when a bus is configured. Delivery problems
// never fail the run.
func (r *run) publish(typ event.Type, opts ...event.Option) {
	if r.cfg.bus == nil {
		return
	}
	evt := event.New(typ, r.graph.name, r.threadID, opts...)
	if err := r.cfg.bus.Publish(r.ctx, evt); err != nil && !errors.Is(err, event.ErrBusClosed) {
		r.cfg.logger.Debug("event publish failed",
			"type", string(typ), "error", err.Error())
	}
}

// runHooks fires one hook point with the run's current coordinates.
func (r *run) runHooks(point hook.Point, status Status, stepErr error) error {
	if r.cfg.hooks == nil {
		return nil
	}
	return r.cfg.hooks.Run(r.ctx, hook.Info{
		Point:    point,
		Graph:    r.graph.name,
		ThreadID: r.threadID,
		Step:     r.step,
		Status:   string(status),
		Err:      stepErr,
	})
}

// finish settles the run: terminal hooks, metrics, logs, and events.
// The returned Result always carries the last consistent state.
func (r *run) finish(status Status, runErr error, runStart time.Time) (*Result, error) {
	cfg := r.cfg
	if status == StatusCompleted {
		r.active = nil
	}

	result := &Result{
		ThreadID:     r.threadID,
		Status:       status,
		State:        r.snapshot(),
		Steps:        r.stepsRun,
		CheckpointID: r.checkpointID,
		NextNodes:    append([]string(nil), r.active...),
	}

	if hookErr := r.runHooks(hook.AfterExecution, status, runErr); hookErr != nil && runErr == nil {
		runErr = fmt.Errorf("after execution: %w", hookErr)
	}

	dur := time.Since(runStart)
	cfg.metrics.RecordRun(r.ctx, string(status), dur, r.stepsRun)

	switch status {
	case StatusCompleted:
		observability.LogRunComplete(cfg.logger, r.threadID, float64(dur.Milliseconds()), r.stepsRun)
		r.publish(event.TypeRunCompleted, event.WithStep(r.step),
			event.WithData(map[string]any{"steps": r.stepsRun}))
	case StatusSuspended:
		observability.LogRunSuspended(cfg.logger, r.threadID, r.checkpointID, result.NextNodes)
		r.publish(event.TypeRunSuspended, event.WithStep(r.step),
			event.WithData(map[string]any{"next_nodes": result.NextNodes}))
	default:
		observability.LogRunError(cfg.logger, r.threadID, runErr, float64(dur.Milliseconds()), r.step)
		r.publish(event.TypeRunFailed, event.WithStep(r.step),
			event.WithData(map[string]any{"error": runErr.Error()}))
	}

	return result, runErr
}

// matchNodes returns the members of ids that appear in names.
func matchNodes(names, ids []string) []string {
	if len(names) == 0 {
		return nil
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	var hits []string
	for _, id := range ids {
		if set[id] {
			hits = append(hits, id)
		}
	}
	return hits
}
