package flow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/edgeflow-go/flow/emit"
)

// Engine drives AST traversal for workflow runs.
//
// The Engine:
//   - executes root sequence steps in order, threading state through
//   - invokes each node with resolved config and the previous payload
//   - descends into the branch wired to the emitted edge
//   - re-invokes loop nodes until a branch-less edge fires
//   - wraps node errors, loop bound breaches, timeouts, and
//     cancellation in EngineFailure
//
// Within one run execution is single-threaded cooperative: the engine
// suspends only at node invocations. Across runs the engine is fully
// parallel; each run owns a private state instance and the registry is
// read-only after startup.
//
// Example:
//
//	registry := flow.NewRegistry()
//	nodes.RegisterBuiltins(registry)
//
//	engine, err := flow.New(registry,
//	    flow.WithLoopBound(1000),
//	    flow.WithEmitter(emit.NewLogEmitter(os.Stderr, false)),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	wf, err := flow.NewParser(registry).Parse(definition)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := engine.Execute(ctx, wf, nil)
type Engine struct {
	registry *Registry
	emitter  emit.Emitter
	metrics  *Metrics
	opts     Options
}

// New creates an Engine bound to a registry. The registry reference is
// held for the engine's lifetime; an engine owns exactly one.
func New(registry *Registry, options ...Option) (*Engine, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry is required")
	}

	cfg := &engineConfig{}
	for _, opt := range options {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	return &Engine{
		registry: registry,
		emitter:  cfg.emitter,
		metrics:  cfg.metrics,
		opts:     cfg.opts,
	}, nil
}

// Result is the outcome of a successful run.
type Result struct {
	// ExecutionID identifies the run.
	ExecutionID string

	// State is the public final state (reserved keys removed).
	State map[string]any

	// Edge is the edge emitted by the final step of the root sequence.
	// A workflow whose last step emits "error" completes successfully at
	// the engine level; callers inspect Edge to distinguish.
	Edge string

	// Payload is the payload carried by the final edge.
	Payload map[string]any

	// Steps is the total number of node invocations performed.
	Steps int
}

// Execute runs a parsed workflow to completion or failure.
//
// overrides merge over the workflow's initialState and double as the
// first step's inputs. On failure the returned error is an
// *EngineFailure carrying the failing instance, the cause, and a public
// state snapshot; the run's state mutations are otherwise discarded.
// External side effects performed by nodes are not rolled back.
func (e *Engine) Execute(ctx context.Context, wf *Workflow, overrides map[string]any) (*Result, error) {
	if wf == nil || len(wf.Steps) == 0 {
		return nil, fmt.Errorf("workflow has no steps")
	}

	state, err := NewState(wf.InitialState, overrides)
	if err != nil {
		return nil, fmt.Errorf("initialise state: %w", err)
	}
	if e.opts.Services != nil {
		state[servicesKey] = e.opts.Services
	}

	if e.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.RunTimeout)
		defer cancel()
	}

	r := &run{
		engine: e,
		wf:     wf,
		execID: uuid.NewString(),
		state:  state,
	}

	e.metrics.RunStarted()
	e.emit(emit.Event{ExecutionID: r.execID, Msg: emit.WorkflowStart})

	edge, payload, runErr := r.program(ctx, wf.Steps, overrides)
	if runErr != nil {
		failure := r.asFailure(runErr)
		e.metrics.RunFinished("failed")
		e.emit(emit.Event{
			ExecutionID: r.execID,
			NodeID:      failure.InstanceID,
			Msg:         emit.WorkflowFailed,
			Meta:        map[string]any{"cause": string(failure.Cause), "error": failure.Err.Error()},
		})
		return nil, failure
	}

	e.metrics.RunFinished("completed")
	e.emit(emit.Event{ExecutionID: r.execID, Step: r.steps, Edge: edge, Msg: emit.WorkflowComplete})

	return &Result{
		ExecutionID: r.execID,
		State:       state.Public(),
		Edge:        edge,
		Payload:     payload,
		Steps:       r.steps,
	}, nil
}

// emit forwards an event when an emitter is configured.
func (e *Engine) emit(ev emit.Event) {
	if e.emitter != nil {
		e.emitter.Emit(ev)
	}
}

// run is the per-execution context: one goroutine, one state bag.
type run struct {
	engine *Engine
	wf     *Workflow
	execID string
	state  State
	steps  int
}

// program executes an ordered sequence of steps. The payload emitted by
// step k becomes the inputs of step k+1; state threads through by
// mutation. Returns the final step's edge and payload.
func (r *run) program(ctx context.Context, steps []*Step, inputs map[string]any) (string, map[string]any, error) {
	current := inputs
	var lastEdge string

	for _, step := range steps {
		// Cancellation is polled between steps; in-flight node I/O is
		// expected to cooperate with ctx itself.
		if err := ctx.Err(); err != nil {
			return "", nil, err
		}
		edge, payload, err := r.step(ctx, step, current)
		if err != nil {
			return "", nil, err
		}
		lastEdge, current = edge, payload
	}
	return lastEdge, current, nil
}

// step executes one AST node, descending into the branch wired to the
// emitted edge and, for loop nodes, re-invoking until a branch-less
// edge fires.
func (r *run) step(ctx context.Context, s *Step, inputs map[string]any) (string, map[string]any, error) {
	node, _, err := r.engine.registry.Create(s.Type)
	if err != nil {
		return "", nil, &EngineFailure{Cause: CauseNode, InstanceID: s.InstanceID, NodeType: s.Type, Err: err}
	}

	if s.IsLoop {
		// Loop bookkeeping starts clean on every entry from outside.
		delete(r.state, LoopStateKey(s.InstanceID))
	}

	bound := r.engine.opts.LoopBound
	if bound <= 0 {
		bound = DefaultLoopBound
	}

	reentries := 0
	current := inputs
	for {
		if err := ctx.Err(); err != nil {
			return "", nil, err
		}

		edge, payload, err := r.invoke(ctx, s, node, current)
		if err != nil {
			return "", nil, err
		}

		branch, wired := s.Branches[edge]
		if !wired {
			// Terminal edge for this step.
			if s.IsLoop {
				delete(r.state, LoopStateKey(s.InstanceID))
				r.engine.emit(emit.Event{
					ExecutionID: r.execID, Step: r.steps, NodeID: s.InstanceID,
					Edge: edge, Msg: emit.LoopExit,
					Meta: map[string]any{"iterations": reentries},
				})
			}
			return edge, payload, nil
		}

		branchEdge, branchPayload, err := r.program(ctx, branch, payload)
		if err != nil {
			return "", nil, err
		}

		if !s.IsLoop {
			// Plain branch descent: the subgraph's outcome is the
			// step's outcome.
			return branchEdge, branchPayload, nil
		}

		reentries++
		if reentries > bound {
			return "", nil, &EngineFailure{
				Cause: CauseLoopBound, InstanceID: s.InstanceID, NodeType: s.Type,
				Err: fmt.Errorf("%w after %d re-entries", ErrLoopBoundExceeded, reentries),
			}
		}
		r.engine.metrics.LoopReentry()
		r.engine.emit(emit.Event{
			ExecutionID: r.execID, Step: r.steps, NodeID: s.InstanceID,
			Msg:  emit.LoopReenter,
			Meta: map[string]any{"iteration": reentries},
		})
		current = branchPayload
	}
}

// invoke performs a single node invocation: resolve templates in config,
// call Execute, enforce the single-edge result, and force the payload
// thunk exactly once.
func (r *run) invoke(ctx context.Context, s *Step, node Node, inputs map[string]any) (string, map[string]any, error) {
	r.steps++
	stepNo := r.steps
	start := time.Now()

	resolved, err := resolveConfig(s.Config, r.state, inputs)
	if err != nil {
		r.engine.metrics.StepExecuted(s.Type, "error", time.Since(start))
		return "", nil, &EngineFailure{Cause: CauseTemplate, InstanceID: s.InstanceID, NodeType: s.Type, Err: err}
	}

	ec := &Context{
		State:       r.state,
		Inputs:      inputs,
		WorkflowID:  r.wf.ID,
		NodeID:      s.InstanceID,
		ExecutionID: r.execID,
	}

	edges, err := node.Execute(ctx, ec, resolved)
	if err != nil {
		r.engine.metrics.StepExecuted(s.Type, "error", time.Since(start))
		return "", nil, &EngineFailure{Cause: executeCause(err), InstanceID: s.InstanceID, NodeType: s.Type, Err: err}
	}

	edge, thunk, err := r.selectEdge(s, edges, stepNo)
	if err != nil {
		r.engine.metrics.StepExecuted(s.Type, "error", time.Since(start))
		return "", nil, err
	}

	payload, err := thunk()
	if err != nil {
		r.engine.metrics.StepExecuted(s.Type, "error", time.Since(start))
		// A failing thunk may still carry a partial payload; surface it
		// in the report.
		return "", nil, &EngineFailure{Cause: CauseNode, InstanceID: s.InstanceID, NodeType: s.Type, Err: err, Payload: payload}
	}

	elapsed := time.Since(start)
	r.engine.metrics.StepExecuted(s.Type, "success", elapsed)
	r.engine.emit(emit.Event{
		ExecutionID: r.execID, Step: stepNo, NodeID: s.InstanceID,
		Edge: edge, Msg: emit.NodeComplete,
		Meta: map[string]any{"duration_ms": elapsed.Milliseconds()},
	})
	return edge, payload, nil
}

// selectEdge enforces the single-edge invariant. An empty EdgeMap aborts
// the run. A multi-entry EdgeMap is a contract violation by the node;
// the engine warns and follows the lexicographically smallest edge so
// behaviour stays deterministic.
func (r *run) selectEdge(s *Step, edges EdgeMap, stepNo int) (string, Thunk, error) {
	switch len(edges) {
	case 0:
		return "", nil, &EngineFailure{
			Cause: CauseNode, InstanceID: s.InstanceID, NodeType: s.Type,
			Err: errors.New("node emitted no edge"),
		}
	case 1:
		for edge, thunk := range edges {
			return edge, thunk, nil
		}
	}

	names := make([]string, 0, len(edges))
	for edge := range edges {
		names = append(names, edge)
	}
	sort.Strings(names)

	r.engine.emit(emit.Event{
		ExecutionID: r.execID, Step: stepNo, NodeID: s.InstanceID,
		Msg:  emit.EdgeMapViolation,
		Meta: map[string]any{"edges": names, "chosen": names[0]},
	})
	return names[0], edges[names[0]], nil
}

// executeCause classifies a node execution error. Nodes that cooperate
// with ctx surface the deadline or cancellation as their own error; those
// still count as run-level aborts, not node failures.
func executeCause(err error) FailureCause {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return CauseTimeout
	case errors.Is(err, context.Canceled):
		return CauseCancelled
	}
	return CauseNode
}

// asFailure normalises a run error into an *EngineFailure with a public
// state snapshot attached.
func (r *run) asFailure(err error) *EngineFailure {
	var failure *EngineFailure
	if !errors.As(err, &failure) {
		cause := CauseNode
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			cause = CauseTimeout
		case errors.Is(err, context.Canceled):
			cause = CauseCancelled
		}
		failure = &EngineFailure{Cause: cause, Err: err}
	}
	if failure.State == nil {
		failure.State = r.state.Public()
	}
	return failure
}
