package stategraph

import (
	"strings"
	"sync"

	"github.com/randalmurphal/stategraph/pkg/stategraph/channel"
)

// Graph is a mutable builder for execution graphs. Use New to create
// one, then chain AddNode, AddEdge, AddChannel, and SetEntry calls to
// define the workflow.
//
// Graph is NOT thread-safe during building. Construct it from a single
// goroutine, then call Compile() to produce an immutable CompiledGraph
// that can be shared.
//
// Example:
//
//	g := stategraph.New("pipeline").
//	    AddChannel("doc", channel.NewLastValue()).
//	    AddNode("fetch", fetchNode).
//	    AddNode("process", processNode).
//	    AddEdge("fetch", "process").
//	    AddEdge("process", stategraph.END).
//	    SetEntry("fetch")
//
//	compiled, err := g.Compile()
type Graph struct {
	mu               sync.RWMutex
	name             string
	nodes            map[string]*nodeSpec
	channels         map[string]channel.Channel
	edges            map[string][]string
	conditionalEdges map[string]conditionalEdge
	entryPoint       string
	duplicates       []string
}

// conditionalEdge pairs a router with its label mapping. A nil mapping
// means the router's labels are node ids directly.
type conditionalEdge struct {
	router  RouterFunc
	mapping map[string]string
}

// New creates a named graph builder.
func New(name string) *Graph {
	return &Graph{
		name:             name,
		nodes:            make(map[string]*nodeSpec),
		channels:         make(map[string]channel.Channel),
		edges:            make(map[string][]string),
		conditionalEdges: make(map[string]conditionalEdge),
	}
}

// Name returns the graph's name.
func (g *Graph) Name() string {
	return g.name
}

// AddNode adds a named node to the graph.
// Returns the graph for method chaining.
//
// Panics if:
//   - id is empty
//   - id is the reserved word "END" or "__end__" (case-insensitive)
//   - id contains whitespace (space, tab, newline)
//   - fn is nil
//
// A duplicate id does not panic; it is recorded and reported by
// Compile() as ErrDuplicateNode.
func (g *Graph) AddNode(id string, fn NodeFunc, opts ...NodeOption) *Graph {
	if id == "" {
		panic("stategraph: node ID cannot be empty")
	}

	// Check reserved words (case-insensitive)
	idLower := strings.ToLower(id)
	if idLower == "end" || idLower == "__end__" {
		panic("stategraph: node ID cannot be reserved word 'END'")
	}

	if strings.ContainsAny(id, " \t\n\r") {
		panic("stategraph: node ID cannot contain whitespace")
	}

	if fn == nil {
		panic("stategraph: node function cannot be nil")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[id]; exists {
		g.duplicates = append(g.duplicates, id)
		return g
	}

	spec := &nodeSpec{id: id, fn: fn}
	for _, opt := range opts {
		opt(spec)
	}
	g.nodes[id] = spec
	return g
}

// AddChannel registers a named state channel. The given channel is a
// prototype: every run gets its own copy, so one compiled graph can
// serve many threads.
// Returns the graph for method chaining.
//
// Panics if name is empty, ch is nil, or the name is already taken.
func (g *Graph) AddChannel(name string, ch channel.Channel) *Graph {
	if name == "" {
		panic("stategraph: channel name cannot be empty")
	}
	if ch == nil {
		panic("stategraph: channel cannot be nil")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.channels[name]; exists {
		panic("stategraph: duplicate channel name: " + name)
	}

	g.channels[name] = ch
	return g
}

// AddEdge adds an unconditional edge from one node to another.
// The target can be a node ID or stategraph.END. A node with several
// simple edges fans out to all of them.
// Returns the graph for method chaining.
//
// Edge validation happens at Compile() time, not here. This allows
// edges to be added in any order.
func (g *Graph) AddEdge(from, to string) *Graph {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.edges[from] = append(g.edges[from], to)
	return g
}

// AddConditionalEdges adds a router that decides the next nodes at
// runtime from post-barrier state. The router returns labels resolved
// through mapping; a nil mapping means labels are node ids (or END)
// directly.
// Returns the graph for method chaining.
//
// A node can have both a conditional edge and simple edges; the
// conditional edge takes precedence at runtime.
func (g *Graph) AddConditionalEdges(from string, router RouterFunc, mapping map[string]string) *Graph {
	if router == nil {
		panic("stategraph: router function cannot be nil")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.conditionalEdges[from] = conditionalEdge{router: router, mapping: mapping}
	return g
}

// SetEntry designates the entry point node.
// This must be called before Compile().
// Returns the graph for method chaining.
//
// Entry point validation happens at Compile() time.
func (g *Graph) SetEntry(id string) *Graph {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.entryPoint = id
	return g
}
