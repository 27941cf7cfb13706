package prep

import (
	"fmt"
	"sort"
	"strings"

	"github.com/openfroyo/stateprep/pkg/state"
)

// Graph is the requisite graph of a compiled record list.
type Graph struct {
	// Nodes maps record tags to their graph node.
	Nodes map[string]*GraphNode

	// Edges point from the record applied first to the record applied after it.
	Edges []GraphEdge

	// Levels groups tags by dependency depth, each level in output order.
	Levels [][]string

	// Dangling lists requisites whose target matches no record.
	Dangling []DanglingRequisite
}

// GraphNode is one record in the graph.
type GraphNode struct {
	Tag          string
	Kind         string
	Index        int
	Level        int
	Dependencies []string
	Dependents   []string
}

// GraphEdge is a resolved requisite.
type GraphEdge struct {
	From     string
	To       string
	Relation string
}

// DanglingRequisite is a requisite that resolves to no record.
type DanglingRequisite struct {
	Tag       string
	Requisite state.Requisite
}

// String describes the dangling requisite.
func (d DanglingRequisite) String() string {
	return fmt.Sprintf("%s: %s {%s: %s} matches no record",
		d.Tag, d.Requisite.Relation, d.Requisite.Kind, d.Requisite.Target)
}

// graphBuilder indexes records and resolves their requisites.
type graphBuilder struct {
	records []state.Record
	byTag   map[string]int
	byName  map[string]int

	adjacency map[string][]string
	reverse   map[string][]string
	inDegree  map[string]int
}

// BuildGraph resolves every requisite of records against the records
// themselves, by tag or by kind and name, and orders the records by
// dependency depth. A cycle is an ErrRequisiteCycle; unresolved targets are
// reported in Graph.Dangling.
func BuildGraph(records []state.Record) (*Graph, error) {
	b := &graphBuilder{
		records:   records,
		byTag:     make(map[string]int, len(records)),
		byName:    make(map[string]int, len(records)),
		adjacency: make(map[string][]string, len(records)),
		reverse:   make(map[string][]string, len(records)),
		inDegree:  make(map[string]int, len(records)),
	}

	graph := &Graph{
		Nodes: make(map[string]*GraphNode, len(records)),
		Edges: make([]GraphEdge, 0),
	}

	if err := b.index(); err != nil {
		return nil, err
	}
	b.resolve(graph)

	if err := b.detectCycles(); err != nil {
		return nil, err
	}
	graph.Levels = b.computeLevels()

	for level, tags := range graph.Levels {
		for _, tag := range tags {
			i := b.byTag[tag]
			graph.Nodes[tag] = &GraphNode{
				Tag:          tag,
				Kind:         records[i].Kind,
				Index:        i,
				Level:        level,
				Dependencies: b.reverse[tag],
				Dependents:   b.adjacency[tag],
			}
		}
	}

	return graph, nil
}

func nameKey(kind, name string) string {
	return kind + "\x00" + name
}

func (b *graphBuilder) index() error {
	for i, r := range b.records {
		if r.Tag == "" {
			return fmt.Errorf("record %d (%s) has an empty tag", i, r.Kind)
		}
		if _, exists := b.byTag[r.Tag]; exists {
			return fmt.Errorf("%w: %s", state.ErrTagCollision, r.Tag)
		}
		b.byTag[r.Tag] = i
		if _, exists := b.byName[nameKey(r.Kind, r.Name())]; !exists {
			b.byName[nameKey(r.Kind, r.Name())] = i
		}
		b.inDegree[r.Tag] = 0
	}
	return nil
}

// lookup finds the record a requisite refers to.
func (b *graphBuilder) lookup(req state.Requisite) (int, bool) {
	if i, ok := b.byTag[req.Target]; ok && b.records[i].Kind == req.Kind {
		return i, true
	}
	i, ok := b.byName[nameKey(req.Kind, req.Target)]
	return i, ok
}

func (b *graphBuilder) resolve(graph *Graph) {
	for _, r := range b.records {
		for _, req := range r.Requisites {
			i, ok := b.lookup(req)
			if !ok {
				graph.Dangling = append(graph.Dangling, DanglingRequisite{Tag: r.Tag, Requisite: req})
				continue
			}

			target := b.records[i].Tag
			from, to := target, r.Tag
			if req.Relation == state.RelationRequireIn {
				from, to = r.Tag, target
			}

			b.adjacency[from] = append(b.adjacency[from], to)
			b.reverse[to] = append(b.reverse[to], from)
			b.inDegree[to]++
			graph.Edges = append(graph.Edges, GraphEdge{From: from, To: to, Relation: req.Relation})
		}
	}
}

// detectCycles runs a depth-first search from every record in output order.
func (b *graphBuilder) detectCycles() error {
	visited := make(map[string]bool, len(b.records))
	onStack := make(map[string]bool, len(b.records))

	var visit func(tag string, path []string) []string
	visit = func(tag string, path []string) []string {
		visited[tag] = true
		onStack[tag] = true
		path = append(path, tag)

		for _, next := range b.adjacency[tag] {
			if !visited[next] {
				if cycle := visit(next, path); cycle != nil {
					return cycle
				}
			} else if onStack[next] {
				for i, t := range path {
					if t == next {
						return append(append([]string(nil), path[i:]...), next)
					}
				}
			}
		}

		onStack[tag] = false
		return nil
	}

	for _, r := range b.records {
		if visited[r.Tag] {
			continue
		}
		if cycle := visit(r.Tag, nil); cycle != nil {
			return fmt.Errorf("%w: %s", state.ErrRequisiteCycle, formatCycle(cycle))
		}
	}
	return nil
}

// computeLevels runs Kahn's algorithm level by level.
func (b *graphBuilder) computeLevels() [][]string {
	remaining := make(map[string]int, len(b.inDegree))
	for tag, degree := range b.inDegree {
		remaining[tag] = degree
	}

	var current []string
	for _, r := range b.records {
		if remaining[r.Tag] == 0 {
			current = append(current, r.Tag)
		}
	}

	var levels [][]string
	for len(current) > 0 {
		levels = append(levels, current)

		var next []string
		for _, tag := range current {
			for _, dependent := range b.adjacency[tag] {
				remaining[dependent]--
				if remaining[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		sort.Slice(next, func(i, j int) bool {
			return b.byTag[next[i]] < b.byTag[next[j]]
		})
		current = next
	}
	return levels
}

// ToDOT renders the graph in Graphviz DOT format.
func (g *Graph) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph Requisites {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for level, tags := range g.Levels {
		fmt.Fprintf(&sb, "  subgraph cluster_level_%d {\n", level)
		fmt.Fprintf(&sb, "    label=\"Level %d\";\n", level)
		sb.WriteString("    style=dashed;\n")
		for _, tag := range tags {
			node := g.Nodes[tag]
			fmt.Fprintf(&sb, "    %q [label=%q];\n", tag, tag+"\n"+node.Kind)
		}
		sb.WriteString("  }\n\n")
	}

	for _, e := range g.Edges {
		fmt.Fprintf(&sb, "  %q -> %q [%s];\n", e.From, e.To, edgeStyle(e.Relation))
	}

	sb.WriteString("}\n")
	return sb.String()
}

func formatCycle(cycle []string) string {
	return strings.Join(cycle, " -> ")
}

func edgeStyle(relation string) string {
	if relation == state.RelationRequireIn {
		return "style=dashed, color=blue"
	}
	return "style=solid, color=black"
}
