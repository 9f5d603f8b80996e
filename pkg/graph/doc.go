// Package graph tracks import relationships between ES modules served by the
// hot reload server.
//
// Every module URL the server has heard about owns a Node. A node records the
// URLs it imports (dependencies), the URLs importing it (dependents), whether
// the module opted into hot replacement, and a transient replacement flag used
// while a change is being broadcast.
//
// # Edge Symmetry
//
// The graph keeps both edge directions in sync:
//
//	B ∈ A.Dependencies()  ⇔  A ∈ B.Dependents()
//
// SetDependencies reconciles a node's outgoing edges under the graph's write
// lock, so readers never observe a half-applied update.
//
// # Usage
//
//	g := graph.New()
//	g.SetDependencies("/src/app.js", []string{"/src/button.js"}, true)
//
//	if node, ok := g.Get("/src/button.js"); ok {
//	    fmt.Println(node.Dependents()) // [/src/app.js]
//	}
//
// Nodes are never removed. A module whose file was deleted keeps its node for
// the lifetime of the process.
package graph
