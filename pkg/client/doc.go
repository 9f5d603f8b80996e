// Package client is the runtime half of hot module replacement: it lives
// inside the running program, keeps each module's registered hot reload
// callbacks, and applies updates pushed by the server.
//
// # Registration
//
// The module loader hands every executing module a handle for its URL:
//
//	hot := registry.HotContext("/src/counter.js")
//	hot.Dispose(func(e client.DisposeEvent) error {
//	    e.Data["count"] = count
//	    return nil
//	})
//	hot.Accept(func(e client.AcceptEvent) error {
//	    return e.Module.(*Counter).Restore(e.Data["count"])
//	})
//
// Each call to HotContext for an already known URL starts a new generation.
// Handles from earlier generations are locked: Accept on them does nothing, so
// closures left behind by a replaced instance cannot register stale callbacks.
//
// # Applying Updates
//
// Applier.Apply runs one update:
//
//	received → declined? → disposing → re-importing → accepting → done
//
// Dispose callbacks share one Data value with the accept callbacks of the same
// update. The module is re-imported through the Loader only if at least one
// accept was registered; the Loader receives a cache-busting token.
//
// # Channel
//
// Channel reads protocol messages in order. Anything it cannot apply safely
// (declined or unknown module, failing callback, failing import, unreadable
// message) ends in Reloader.Reload, after which the channel is terminal.
package client
