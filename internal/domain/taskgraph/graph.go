// Package taskgraph describes the ordered task sequence a stage executes.
package taskgraph

// GraphType identifies which segment of a stage a graph describes.
type GraphType string

const (
	// Full is the complete task graph of a stage.
	Full GraphType = "FULL"
	// Loop is a sub-graph that repeats while its final task redirects.
	Loop GraphType = "LOOP"
	// Head is the segment that runs before a split stage's synthetic children.
	Head GraphType = "HEAD"
	// Tail is the segment that runs after a split stage's synthetic children.
	Tail GraphType = "TAIL"
)

// Node is either a TaskDefinition or a nested Graph.
type Node interface {
	node()
}

// TaskDefinition names a task and the implementation registered for it.
type TaskDefinition struct {
	Name           string
	Implementation string
}

func (TaskDefinition) node() {}

// Graph is an ordered sequence of nodes. For a Loop graph the outcome of the
// last node alone decides whether the loop repeats.
type Graph struct {
	Type  GraphType
	nodes []Node
}

func (*Graph) node() {}

// Nodes returns the graph's nodes in insertion order.
func (g *Graph) Nodes() []Node {
	if g == nil {
		return nil
	}
	return g.nodes
}

// IsEmpty reports whether the graph has no nodes.
func (g *Graph) IsEmpty() bool {
	return g == nil || len(g.nodes) == 0
}

// Builder accumulates nodes for a graph.
type Builder struct {
	typ   GraphType
	nodes []Node
}

// NewBuilder starts a graph of the given type.
func NewBuilder(typ GraphType) *Builder {
	return &Builder{typ: typ}
}

// WithTask appends a task node.
func (b *Builder) WithTask(name, implementation string) *Builder {
	b.nodes = append(b.nodes, TaskDefinition{Name: name, Implementation: implementation})
	return b
}

// WithLoop appends a loop sub-graph populated by fn.
func (b *Builder) WithLoop(fn func(*Builder)) *Builder {
	sub := NewBuilder(Loop)
	fn(sub)
	b.nodes = append(b.nodes, sub.Build())
	return b
}

// Len returns the number of top-level nodes added so far.
func (b *Builder) Len() int {
	return len(b.nodes)
}

// Build returns the finished graph.
func (b *Builder) Build() *Graph {
	nodes := make([]Node, len(b.nodes))
	copy(nodes, b.nodes)
	return &Graph{Type: b.typ, nodes: nodes}
}

// Build is a shorthand for constructing a graph with a closure.
func Build(typ GraphType, fn func(*Builder)) *Graph {
	b := NewBuilder(typ)
	fn(b)
	return b.Build()
}
