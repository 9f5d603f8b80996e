package graph

import (
	"fmt"
	"sort"
	"strings"
)

// NodeSnapshot is a point-in-time copy of one node.
type NodeSnapshot struct {
	URL              string   `json:"url"`
	Dependencies     []string `json:"dependencies"`
	Dependents       []string `json:"dependents"`
	HMREnabled       bool     `json:"hmrEnabled"`
	NeedsReplacement bool     `json:"needsReplacement,omitempty"`
}

// Snapshot is a consistent copy of the whole graph, ordered by URL.
type Snapshot struct {
	Nodes []NodeSnapshot `json:"nodes"`
}

// Snapshot copies the graph under a single read lock.
func (g *Graph) Snapshot() Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()

	snap := Snapshot{Nodes: make([]NodeSnapshot, 0, len(g.nodes))}
	for url, n := range g.nodes {
		snap.Nodes = append(snap.Nodes, NodeSnapshot{
			URL:              url,
			Dependencies:     sortedKeys(n.dependencies),
			Dependents:       sortedKeys(n.dependents),
			HMREnabled:       n.hmrEnabled,
			NeedsReplacement: n.needsReplacement,
		})
	}
	sort.Slice(snap.Nodes, func(i, j int) bool {
		return snap.Nodes[i].URL < snap.Nodes[j].URL
	})
	return snap
}

// DOT exports the snapshot as Graphviz DOT text. Edges point from importer to
// imported module; hot-enabled modules are drawn as boxes.
func (s Snapshot) DOT() string {
	var b strings.Builder
	b.WriteString("digraph modules {\n")
	b.WriteString("  rankdir=LR;\n")

	aliases := make(map[string]string, len(s.Nodes))
	for i, n := range s.Nodes {
		alias := fmt.Sprintf("n%d", i)
		aliases[n.URL] = alias
		shape := "ellipse"
		if n.HMREnabled {
			shape = "box"
		}
		fmt.Fprintf(&b, "  %s [label=\"%s\", shape=%s];\n", alias, escapeDOT(n.URL), shape)
	}
	for _, n := range s.Nodes {
		for _, dep := range n.Dependencies {
			to, ok := aliases[dep]
			if !ok {
				continue
			}
			fmt.Fprintf(&b, "  %s -> %s;\n", aliases[n.URL], to)
		}
	}
	b.WriteString("}\n")
	return b.String()
}

func escapeDOT(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	return strings.ReplaceAll(s, "\"", "\\\"")
}
