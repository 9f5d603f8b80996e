// Package hmr implements the server side of ES module hot replacement.
//
// An Engine combines three pieces:
//
//   - the dependency graph (package graph), fed by the build step
//   - a registry of connected browsers
//   - a broadcaster turning "module X changed" into protocol messages
//
// # Usage
//
//	g := graph.New()
//	engine := hmr.New(g, hmr.Options{Logger: logger})
//
//	r := chi.NewRouter()
//	engine.Register(r)
//
//	engine.SetDependencies("/src/app.js", []string{"/src/button.js"}, true)
//	engine.NotifyChange(ctx, "/src/app.js") // {"type":"update","url":"/src/app.js"}
//
// # Delivery
//
// Each client owns a bounded send queue drained by its own goroutine. A
// broadcast only enqueues, so a slow or dead client never delays the others.
// A client that is closed, or whose queue is full, is evicted on the spot.
//
// # Fallback
//
// NotifyChange sends {"type":"reload"} whenever the changed module is unknown
// or did not opt into hot replacement. It never bubbles an update up to the
// module's dependents.
package hmr
