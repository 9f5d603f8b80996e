package graph

import (
	"sort"
	"sync"
)

// Node is one module URL known to the graph.
//
// All accessors take the owning graph's read lock and return copies.
type Node struct {
	g   *Graph
	url string

	dependencies     map[string]struct{}
	dependents       map[string]struct{}
	hmrEnabled       bool
	needsReplacement bool
}

// URL returns the module URL this node represents.
func (n *Node) URL() string {
	return n.url
}

// Dependencies returns the URLs this module imports, sorted.
func (n *Node) Dependencies() []string {
	n.g.mu.RLock()
	defer n.g.mu.RUnlock()
	return sortedKeys(n.dependencies)
}

// Dependents returns the URLs importing this module, sorted.
func (n *Node) Dependents() []string {
	n.g.mu.RLock()
	defer n.g.mu.RUnlock()
	return sortedKeys(n.dependents)
}

// HasDependency reports whether this module imports url.
func (n *Node) HasDependency(url string) bool {
	n.g.mu.RLock()
	defer n.g.mu.RUnlock()
	_, ok := n.dependencies[url]
	return ok
}

// HasDependent reports whether url imports this module.
func (n *Node) HasDependent(url string) bool {
	n.g.mu.RLock()
	defer n.g.mu.RUnlock()
	_, ok := n.dependents[url]
	return ok
}

// HMREnabled reports whether the module opted into hot replacement.
func (n *Node) HMREnabled() bool {
	n.g.mu.RLock()
	defer n.g.mu.RUnlock()
	return n.hmrEnabled
}

// NeedsReplacement reports whether the node is marked as affected by the
// change currently being broadcast.
func (n *Node) NeedsReplacement() bool {
	n.g.mu.RLock()
	defer n.g.mu.RUnlock()
	return n.needsReplacement
}

// Graph maps module URLs to nodes.
//
// Graph is safe for concurrent use, but change notifications that call
// SetDependencies for the same URL should be serialized by the caller:
// the last writer wins.
type Graph struct {
	mu    sync.RWMutex
	nodes map[string]*Node
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[string]*Node),
	}
}

// GetOrCreate returns the node for url, inserting an empty one if needed.
func (g *Graph) GetOrCreate(url string) *Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.getOrCreateLocked(url)
}

// Get returns the node for url without creating it.
func (g *Graph) Get(url string) (*Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[url]
	return n, ok
}

// SetDependencies reconciles the outgoing edges of url to exactly imports and
// sets its hot reload eligibility.
//
// Imports naming url itself produce no edge. Imports naming unknown URLs
// create placeholder nodes.
func (g *Graph) SetDependencies(url string, imports []string, hmrEnabled bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	node := g.getOrCreateLocked(url)
	node.hmrEnabled = hmrEnabled

	wanted := make(map[string]struct{}, len(imports))
	for _, imp := range imports {
		wanted[imp] = struct{}{}
	}

	for dep := range node.dependencies {
		if _, keep := wanted[dep]; keep {
			continue
		}
		if target, ok := g.nodes[dep]; ok {
			delete(target.dependents, url)
		}
		delete(node.dependencies, dep)
	}

	for imp := range wanted {
		if imp == url {
			continue
		}
		target := g.getOrCreateLocked(imp)
		target.dependents[url] = struct{}{}
		node.dependencies[imp] = struct{}{}
	}
}

// MarkForReplacement sets the transient replacement flag on node.
// The graph only stores the flag; propagation is the caller's decision.
func (g *Graph) MarkForReplacement(node *Node, flag bool) {
	if node == nil {
		return
	}
	g.mu.Lock()
	node.needsReplacement = flag
	g.mu.Unlock()
}

// ClearReplacements resets the replacement flag on every node.
func (g *Graph) ClearReplacements() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, n := range g.nodes {
		n.needsReplacement = false
	}
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// URLs returns every known module URL, sorted.
func (g *Graph) URLs() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	urls := make([]string, 0, len(g.nodes))
	for url := range g.nodes {
		urls = append(urls, url)
	}
	sort.Strings(urls)
	return urls
}

func (g *Graph) getOrCreateLocked(url string) *Node {
	if n, ok := g.nodes[url]; ok {
		return n
	}
	n := &Node{
		g:            g,
		url:          url,
		dependencies: make(map[string]struct{}),
		dependents:   make(map[string]struct{}),
	}
	g.nodes[url] = n
	return n
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
