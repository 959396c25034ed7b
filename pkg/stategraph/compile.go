package stategraph

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/randalmurphal/stategraph/pkg/stategraph/channel"
	"github.com/randalmurphal/stategraph/pkg/stategraph/hook"
)

// CompileOption configures a Compile call.
type CompileOption func(*compileConfig)

type compileConfig struct {
	hooks *hook.Runner
}

// WithCompileHooks runs the given hooks at the before_compile and
// after_compile points. A before_compile hook with the AbortExecution
// policy can veto compilation.
func WithCompileHooks(r *hook.Runner) CompileOption {
	return func(c *compileConfig) {
		c.hooks = r
	}
}

// Compile validates the graph and creates an executable CompiledGraph.
// All violations are collected into a single *ValidationError rather
// than failing on the first one.
//
// Validation checks:
//  1. No duplicate node ids (recorded at AddNode time)
//  2. Entry point is set and references an existing node
//  3. Edge sources and targets reference existing nodes (or END)
//  4. Conditional edge sources and mapping targets exist
//  5. Trigger and input references name registered channels
//
// Nodes unreachable from the entry point are logged as warnings but do
// not fail compilation: trigger subscriptions can activate them at
// runtime.
func (g *Graph) Compile(opts ...CompileOption) (*CompiledGraph, error) {
	var cfg compileConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.hooks != nil {
		info := hook.Info{Point: hook.BeforeCompile, Graph: g.name, Step: -1}
		if err := cfg.hooks.Run(context.Background(), info); err != nil {
			return nil, fmt.Errorf("before compile: %w", err)
		}
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	var errs []error

	// 1. Duplicates recorded by AddNode
	for _, id := range g.duplicates {
		errs = append(errs, fmt.Errorf("%w: %s", ErrDuplicateNode, id))
	}

	// 2. Entry point
	if g.entryPoint == "" {
		errs = append(errs, ErrNoEntryPoint)
	} else if _, exists := g.nodes[g.entryPoint]; !exists {
		errs = append(errs, fmt.Errorf("%w: %s", ErrEntryNotFound, g.entryPoint))
	}

	// 3. Edge references
	for from, targets := range g.edges {
		if from != END {
			if _, exists := g.nodes[from]; !exists {
				if _, hasConditional := g.conditionalEdges[from]; !hasConditional {
					errs = append(errs, fmt.Errorf("%w: edge source %q does not exist", ErrNodeNotFound, from))
				}
			}
		}
		for _, to := range targets {
			if to != END {
				if _, exists := g.nodes[to]; !exists {
					errs = append(errs, fmt.Errorf("%w: edge target %q does not exist", ErrNodeNotFound, to))
				}
			}
		}
	}

	// 4. Conditional edge sources and mapping targets
	for from, ce := range g.conditionalEdges {
		if _, exists := g.nodes[from]; !exists {
			errs = append(errs, fmt.Errorf("%w: conditional edge source %q does not exist", ErrNodeNotFound, from))
		}
		for label, target := range ce.mapping {
			if target != END {
				if _, exists := g.nodes[target]; !exists {
					errs = append(errs, fmt.Errorf("%w: mapping label %q targets %q which does not exist", ErrNodeNotFound, label, target))
				}
			}
		}
	}

	// 5. Channel references from node options
	for id, spec := range g.nodes {
		for _, name := range spec.triggers {
			if _, exists := g.channels[name]; !exists {
				errs = append(errs, fmt.Errorf("%w: node %q trigger %q", ErrUnknownChannel, id, name))
			}
		}
		for _, name := range spec.inputs {
			if _, exists := g.channels[name]; !exists {
				errs = append(errs, fmt.Errorf("%w: node %q input %q", ErrUnknownChannel, id, name))
			}
		}
	}

	g.warnUnreachableNodes()

	if len(errs) > 0 {
		verr := &ValidationError{Errs: errs}
		if cfg.hooks != nil {
			info := hook.Info{Point: hook.AfterCompile, Graph: g.name, Step: -1, Err: verr}
			_ = cfg.hooks.Run(context.Background(), info)
		}
		return nil, verr
	}

	compiled := g.buildCompiledGraph()

	if cfg.hooks != nil {
		info := hook.Info{Point: hook.AfterCompile, Graph: g.name, Step: -1}
		if err := cfg.hooks.Run(context.Background(), info); err != nil {
			return nil, fmt.Errorf("after compile: %w", err)
		}
	}

	return compiled, nil
}

// warnUnreachableNodes logs warnings for nodes not reachable from
// entry via static edges, conditional edges, or trigger subscriptions.
func (g *Graph) warnUnreachableNodes() {
	if g.entryPoint == "" {
		return
	}
	if _, exists := g.nodes[g.entryPoint]; !exists {
		return
	}

	reachable := g.findReachableNodes()

	for nodeID := range g.nodes {
		if !reachable[nodeID] {
			slog.Warn("node is unreachable from entry", "graph", g.name, "node_id", nodeID)
		}
	}
}

// findReachableNodes returns the set of nodes reachable from the entry
// point. Conditional edges and trigger subscriptions can activate any
// node at runtime, so both count as reachable-from.
func (g *Graph) findReachableNodes() map[string]bool {
	reachable := make(map[string]bool)

	// Trigger subscribers activate whenever their channel changes,
	// regardless of edges.
	for _, spec := range g.nodes {
		if len(spec.triggers) > 0 {
			reachable[spec.id] = true
		}
	}

	queue := []string{g.entryPoint}
	reachable[g.entryPoint] = true

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, target := range g.edges[current] {
			if target != END && !reachable[target] {
				reachable[target] = true
				queue = append(queue, target)
			}
		}

		// A router's targets depend on runtime state. With a mapping the
		// possible targets are known; without one any node is possible.
		if ce, hasConditional := g.conditionalEdges[current]; hasConditional {
			if ce.mapping != nil {
				for _, target := range ce.mapping {
					if target != END && !reachable[target] {
						reachable[target] = true
						queue = append(queue, target)
					}
				}
			} else {
				for nodeID := range g.nodes {
					if !reachable[nodeID] {
						reachable[nodeID] = true
						queue = append(queue, nodeID)
					}
				}
			}
		}
	}

	return reachable
}

// buildCompiledGraph creates the immutable CompiledGraph from the
// builder state.
func (g *Graph) buildCompiledGraph() *CompiledGraph {
	nodes := make(map[string]*nodeSpec, len(g.nodes))
	nodeOrder := make([]string, 0, len(g.nodes))
	for id, spec := range g.nodes {
		nodes[id] = spec
		nodeOrder = append(nodeOrder, id)
	}
	sort.Strings(nodeOrder)

	edges := make(map[string][]string, len(g.edges))
	for from, targets := range g.edges {
		edges[from] = append([]string(nil), targets...)
	}

	conditionalEdges := make(map[string]conditionalEdge, len(g.conditionalEdges))
	for from, ce := range g.conditionalEdges {
		conditionalEdges[from] = ce
	}

	prototypes := make(map[string]channel.Channel, len(g.channels))
	for name, ch := range g.channels {
		prototypes[name] = ch
	}

	// Channel -> subscribed nodes, sorted for deterministic activation.
	triggers := make(map[string][]string)
	for _, spec := range nodes {
		for _, name := range spec.triggers {
			triggers[name] = append(triggers[name], spec.id)
		}
	}
	for name := range triggers {
		sort.Strings(triggers[name])
	}

	return &CompiledGraph{
		name:             g.name,
		nodes:            nodes,
		nodeOrder:        nodeOrder,
		edges:            edges,
		conditionalEdges: conditionalEdges,
		prototypes:       prototypes,
		triggers:         triggers,
		entryPoint:       g.entryPoint,
	}
}
