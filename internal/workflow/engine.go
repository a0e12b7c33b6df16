// Package workflow implements the review session workflow: a directed graph
// of named nodes over the session state, with typed conditional routing,
// per-field delta merging, error-count based failure routing, and a validation
// pass that rejects unknown routes at construction time.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kaizen403/vivavoce/internal/observe"
	"github.com/kaizen403/vivavoce/internal/review"
)

// Route is a typed edge label returned by a node. Each node declares the full
// set of routes it can return; the engine rejects undeclared values.
type Route string

// RouteEnd terminates the workflow run.
const RouteEnd Route = "end"

// MaxNodeErrors is the error count at which failures route to the error node
// instead of retrying.
const MaxNodeErrors = 3

// NodeFunc is one unit of the workflow: it receives the current state
// (read-only by convention) and returns a partial update, the route to follow,
// and an error. On error the engine merges the returned delta, increments the
// session error counter, and routes per the node's failure route.
type NodeFunc func(ctx context.Context, s *review.State) (review.Delta, Route, error)

// node is the registered form of a workflow node.
type node struct {
	fn NodeFunc

	// entryPhase, when non-empty, is applied to the state before fn runs.
	entryPhase review.Phase

	// routes maps each declared route value to its successor node.
	routes map[Route]string

	// onError names the node to run after a below-threshold failure.
	// Empty means retry this node.
	onError string
}

// NodeOption configures a node at registration.
type NodeOption func(*node)

// WithEntryPhase transitions the session to p before the node body runs.
func WithEntryPhase(p review.Phase) NodeOption {
	return func(n *node) { n.entryPhase = p }
}

// WithErrorRoute sets the successor for below-threshold failures of this node.
// The default is to retry the node itself.
func WithErrorRoute(nodeName string) NodeOption {
	return func(n *node) { n.onError = nodeName }
}

// AfterNodeHook runs after a node's delta has been merged. phaseChanged
// reports whether the merge moved the session to a new phase.
type AfterNodeHook func(ctx context.Context, nodeName string, phaseChanged bool, s *review.State)

// Engine executes a registered node graph over a session state. Construct with
// [New], register nodes with [Engine.Add], then call [Engine.Validate] once
// before the first run.
//
// Engine itself holds no session state and may be shared, but a single
// session's Run must not be invoked concurrently — the session is
// single-writer by design.
type Engine struct {
	nodes     map[string]*node
	entry     string
	errorNode string
	afterNode AfterNodeHook
	metrics   *observe.Metrics
}

// New creates an Engine with the given entry and error-sink node names.
func New(entry, errorNode string) *Engine {
	return &Engine{
		nodes:     make(map[string]*node),
		entry:     entry,
		errorNode: errorNode,
		metrics:   observe.Default(),
	}
}

// OnAfterNode registers hook to run after every merged node execution.
func (e *Engine) OnAfterNode(hook AfterNodeHook) {
	e.afterNode = hook
}

// Add registers a node with its route table. Registering the same name twice
// panics — the graph is assembled once at startup.
func (e *Engine) Add(name string, fn NodeFunc, routes map[Route]string, opts ...NodeOption) {
	if _, ok := e.nodes[name]; ok {
		panic(fmt.Sprintf("workflow: node %q registered twice", name))
	}
	n := &node{fn: fn, routes: routes}
	for _, o := range opts {
		o(n)
	}
	e.nodes[name] = n
}

// Validate checks the node graph for dangling references: the entry and error
// nodes must exist, every route target must exist, and every failure route
// must exist. Returns a joined error listing all problems.
func (e *Engine) Validate() error {
	var errs []error

	if _, ok := e.nodes[e.entry]; !ok {
		errs = append(errs, fmt.Errorf("workflow: entry node %q not registered", e.entry))
	}
	if _, ok := e.nodes[e.errorNode]; !ok {
		errs = append(errs, fmt.Errorf("workflow: error node %q not registered", e.errorNode))
	}

	for name, n := range e.nodes {
		for route, target := range n.routes {
			if route == RouteEnd {
				errs = append(errs, fmt.Errorf("workflow: node %q maps the terminal route to %q", name, target))
				continue
			}
			if _, ok := e.nodes[target]; !ok {
				errs = append(errs, fmt.Errorf("workflow: node %q routes %q to unknown node %q", name, route, target))
			}
		}
		if n.onError != "" {
			if _, ok := e.nodes[n.onError]; !ok {
				errs = append(errs, fmt.Errorf("workflow: node %q has unknown error route %q", name, n.onError))
			}
		}
	}
	return errors.Join(errs...)
}

// Run executes the workflow from its entry node until a node returns
// [RouteEnd]. See [Engine.RunFrom].
func (e *Engine) Run(ctx context.Context, state *review.State) error {
	return e.RunFrom(ctx, state, e.entry)
}

// RunFrom executes the workflow starting at the named node — used when
// resuming a restored session mid-flight.
//
// The returned error is non-nil only when the run could not reach a clean
// terminal node: context cancellation (the error node's body does not run
// under a cancelled context), a failure of the error node itself, or a broken
// graph. Ordinary session failures terminate through the error node and
// return nil; inspect the state's phase for the outcome.
func (e *Engine) RunFrom(ctx context.Context, state *review.State, start string) error {
	current := start
	if _, ok := e.nodes[current]; !ok {
		return fmt.Errorf("workflow: start node %q not registered", current)
	}

	for {
		n := e.nodes[current]

		// Cancellation records the error and moves to the error node. The
		// context is still cancelled on arrival there, so the run returns the
		// cancellation without running the error node's body.
		if err := ctx.Err(); err != nil {
			if current == e.errorNode {
				return err
			}
			_ = state.Apply(review.ErrorDelta(err))
			current = e.errorNode
			continue
		}

		if n.entryPhase != "" && state.Phase != n.entryPhase {
			if err := state.Apply(review.PhaseDelta(n.entryPhase)); err != nil {
				slog.Error("workflow: illegal entry phase",
					"node", current, "phase", state.Phase, "entry_phase", n.entryPhase)
				_ = state.Apply(review.ErrorDelta(err))
				current = e.errorNode
				continue
			}
			e.notify(ctx, current, true, state)
		}

		phaseBefore := state.Phase
		delta, route, err := n.fn(ctx, state)
		e.metrics.RecordNode(ctx, current, err)

		if applyErr := state.Apply(delta); applyErr != nil {
			// An illegal phase transition from a node is a workflow bug —
			// fatal, straight to the error node.
			slog.Error("workflow: delta rejected", "node", current, "err", applyErr)
			if current == e.errorNode {
				return applyErr
			}
			_ = state.Apply(review.ErrorDelta(applyErr))
			current = e.errorNode
			continue
		}
		e.notify(ctx, current, state.Phase != phaseBefore, state)

		if err != nil {
			if current == e.errorNode {
				// The error path itself failed; stop rather than loop.
				return err
			}
			_ = state.Apply(review.ErrorDelta(err))
			slog.Warn("workflow: node failed",
				"node", current,
				"error_count", state.ErrorCount,
				"err", err)

			if state.ErrorCount >= MaxNodeErrors {
				current = e.errorNode
			} else if n.onError != "" {
				current = n.onError
			}
			// Empty onError retries the same node.
			continue
		}

		if route == RouteEnd {
			return nil
		}

		next, ok := n.routes[route]
		if !ok {
			routeErr := fmt.Errorf("workflow: node %q returned undeclared route %q", current, route)
			slog.Error("workflow: invalid route", "node", current, "route", route)
			_ = state.Apply(review.ErrorDelta(routeErr))
			current = e.errorNode
			continue
		}
		current = next
	}
}

// notify invokes the after-node hook when registered.
func (e *Engine) notify(ctx context.Context, nodeName string, phaseChanged bool, s *review.State) {
	if e.afterNode != nil {
		e.afterNode(ctx, nodeName, phaseChanged, s)
	}
}
