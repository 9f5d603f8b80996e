package hmr

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// registration is the body of POST {path}/modules.
type registration struct {
	URL        string   `json:"url"`
	Imports    []string `json:"imports"`
	HMREnabled bool     `json:"hmrEnabled"`
}

// changeNotice is the body of POST {path}/notify.
type changeNotice struct {
	URL string `json:"url"`
}

// Register mounts the engine's endpoints on r under the configured path:
//
//	GET  /_hmr            WebSocket
//	GET  /_hmr/client.js  browser runtime
//	GET  /_hmr/graph      graph snapshot (JSON)
//	GET  /_hmr/graph.dot  graph snapshot (Graphviz)
//	POST /_hmr/modules    register a module's imports
//	POST /_hmr/notify     report a changed module
func (e *Engine) Register(r chi.Router) {
	p := e.opts.Path
	r.Get(p, e.HandleWebSocket)
	r.Get(p+"/client.js", e.handleClientScript)
	r.Get(p+"/graph", e.handleGraph)
	r.Get(p+"/graph.dot", e.handleGraphDOT)
	r.Post(p+"/modules", e.handleRegister)
	r.Post(p+"/notify", e.handleNotify)
}

// Handler returns a router serving only the engine's endpoints.
func (e *Engine) Handler() http.Handler {
	r := chi.NewRouter()
	e.Register(r)
	return r
}

// HandleWebSocket upgrades the request and keeps the client registered until
// it disconnects.
func (e *Engine) HandleWebSocket(w http.ResponseWriter, req *http.Request) {
	ws, err := e.upgrader.Upgrade(w, req, nil)
	if err != nil {
		e.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := newWSConn(ws, e.opts.SendBuffer, e.opts.WriteTimeout)
	e.Connect(conn)
	go conn.writeLoop()

	conn.readLoop()
	e.Disconnect(conn)
}

func (e *Engine) handleClientScript(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write([]byte(ClientScript(e.opts.Path)))
}

func (e *Engine) handleGraph(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, e.graph.Snapshot())
}

func (e *Engine) handleGraphDOT(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/vnd.graphviz; charset=utf-8")
	w.Write([]byte(e.graph.Snapshot().DOT()))
}

func (e *Engine) handleRegister(w http.ResponseWriter, r *http.Request) {
	var body registration
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid registration: "+err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(body.URL) == "" {
		http.Error(w, "url is required", http.StatusBadRequest)
		return
	}
	e.SetDependencies(body.URL, body.Imports, body.HMREnabled)
	w.WriteHeader(http.StatusNoContent)
}

func (e *Engine) handleNotify(w http.ResponseWriter, r *http.Request) {
	var body changeNotice
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid notification: "+err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(body.URL) == "" {
		http.Error(w, "url is required", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, e.NotifyChange(r.Context(), body.URL))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
