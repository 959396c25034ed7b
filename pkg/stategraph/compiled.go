package stategraph

import (
	"sort"

	"github.com/randalmurphal/stategraph/pkg/stategraph/channel"
)

// CompiledGraph is an immutable, executable graph.
// It is created by calling Compile() on a Graph builder.
//
// CompiledGraph is thread-safe and can back any number of concurrent
// runs: the registered channels are prototypes, and every thread gets
// its own copies. The graph structure cannot be modified after
// compilation.
//
// Use the introspection methods (NodeIDs, Successors, and so on) to
// examine the structure for debugging or visualization.
type CompiledGraph struct {
	name             string
	nodes            map[string]*nodeSpec
	nodeOrder        []string
	edges            map[string][]string
	conditionalEdges map[string]conditionalEdge
	prototypes       map[string]channel.Channel
	triggers         map[string][]string
	entryPoint       string
}

// Name returns the graph's name.
func (cg *CompiledGraph) Name() string {
	return cg.name
}

// EntryPoint returns the entry node ID.
func (cg *CompiledGraph) EntryPoint() string {
	return cg.entryPoint
}

// NodeIDs returns all node identifiers, sorted.
func (cg *CompiledGraph) NodeIDs() []string {
	return append([]string(nil), cg.nodeOrder...)
}

// HasNode checks if a node exists in the graph.
func (cg *CompiledGraph) HasNode(id string) bool {
	_, exists := cg.nodes[id]
	return exists
}

// ChannelNames returns the registered channel names, sorted.
func (cg *CompiledGraph) ChannelNames() []string {
	names := make([]string, 0, len(cg.prototypes))
	for name := range cg.prototypes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Successors returns the node IDs reachable from the given node via
// simple edges. Returns nil for END or unknown nodes. Targets of
// conditional edges are runtime-determined and not included.
func (cg *CompiledGraph) Successors(id string) []string {
	if id == END {
		return nil
	}
	return append([]string(nil), cg.edges[id]...)
}

// IsConditional returns true if the node has a conditional edge.
func (cg *CompiledGraph) IsConditional(id string) bool {
	_, exists := cg.conditionalEdges[id]
	return exists
}

// TriggerSubscribers returns the nodes subscribed to the named
// channel, sorted. Returns nil when nothing subscribes to it.
func (cg *CompiledGraph) TriggerSubscribers(name string) []string {
	return append([]string(nil), cg.triggers[name]...)
}

// newChannels copies every channel prototype for a fresh run.
func (cg *CompiledGraph) newChannels() map[string]channel.Channel {
	chs := make(map[string]channel.Channel, len(cg.prototypes))
	for name, proto := range cg.prototypes {
		chs[name] = proto.Copy()
	}
	return chs
}

// getNode returns the node spec for the given ID.
func (cg *CompiledGraph) getNode(id string) (*nodeSpec, bool) {
	spec, exists := cg.nodes[id]
	return spec, exists
}

// getRouter returns the conditional edge for the given node.
func (cg *CompiledGraph) getRouter(id string) (conditionalEdge, bool) {
	ce, exists := cg.conditionalEdges[id]
	return ce, exists
}
