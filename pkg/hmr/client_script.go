package hmr

import "strings"

// ClientScript returns the browser runtime served at {path}/client.js.
//
// Modules opting into hot replacement are served with a prelude that imports
// createHotContext from this script and assigns import.meta.hot.
func ClientScript(path string) string {
	return strings.ReplaceAll(clientScriptSource, "__HMR_PATH__", path)
}

// ClientScriptTag returns the <script> tag injected into HTML pages.
func ClientScriptTag(path string) string {
	return `<script type="module" src="` + path + `/client.js"></script>`
}

const clientScriptSource = `// hot module replacement runtime
const MODULES = new Map();

function log() {
  console.log.apply(console, ['[hmr]'].concat(Array.prototype.slice.call(arguments)));
}

function reload() {
  location.reload();
}

function moduleState(id) {
  return {
    id: id,
    generation: 0,
    declined: false,
    accepts: [],
    disposes: [],
  };
}

export function createHotContext(fullUrl) {
  const id = new URL(fullUrl).pathname;
  let state = MODULES.get(id);
  if (state) {
    // Re-execution: handles from the previous instance become stale.
    state.generation++;
    state.accepts = [];
  } else {
    state = moduleState(id);
    MODULES.set(id, state);
  }
  const generation = state.generation;
  return {
    get locked() {
      return state.generation !== generation;
    },
    accept(callback) {
      if (state.generation !== generation) {
        return;
      }
      state.accepts.push(typeof callback === 'function' ? callback : true);
    },
    dispose(callback) {
      state.disposes.push(callback);
    },
    decline() {
      state.declined = true;
    },
    invalidate() {
      reload();
    },
  };
}

const inflight = new Map();

function applyUpdate(id) {
  const previous = inflight.get(id) || Promise.resolve(true);
  const next = previous.catch(function () {}).then(function () {
    return runUpdate(id);
  });
  inflight.set(id, next);
  return next;
}

async function runUpdate(id) {
  const state = MODULES.get(id);
  if (!state || !/\.m?js$/.test(id)) {
    return false;
  }
  if (state.declined) {
    return false;
  }

  const data = {};
  const accepts = state.accepts;
  const disposes = state.disposes;
  state.disposes = [];

  disposes.forEach(function (callback) {
    callback({ data: data });
  });
  if (accepts.length > 0) {
    const module = await import(id + '?mtime=' + Date.now());
    accepts.forEach(function (callback) {
      if (callback !== true) {
        callback({ module: module, data: data });
      }
    });
  }
  return true;
}

function showErrorOverlay(error) {
  clearErrorOverlay();
  const overlay = document.createElement('div');
  overlay.id = 'hmr-error-overlay';
  overlay.style.cssText = 'position:fixed;top:0;left:0;right:0;bottom:0;background:rgba(0,0,0,0.9);color:#fff;font-family:monospace;font-size:14px;padding:20px;overflow:auto;z-index:999999;';
  const pre = document.createElement('pre');
  pre.style.cssText = 'white-space:pre-wrap;word-wrap:break-word;';
  pre.textContent = error;
  overlay.appendChild(pre);
  document.body.appendChild(overlay);
}

function clearErrorOverlay() {
  const overlay = document.getElementById('hmr-error-overlay');
  if (overlay) {
    overlay.remove();
  }
}

let reconnectDelay = 1000;
const maxReconnectDelay = 30000;

function connect() {
  const protocol = location.protocol === 'https:' ? 'wss:' : 'ws:';
  const socket = new WebSocket(protocol + '//' + location.host + '__HMR_PATH__');

  socket.addEventListener('open', function () {
    log('connected');
    reconnectDelay = 1000;
  });

  socket.addEventListener('message', function (event) {
    if (!event.data) {
      return;
    }
    let msg;
    try {
      msg = JSON.parse(event.data);
    } catch (err) {
      reload();
      return;
    }
    if (!msg || typeof msg.type !== 'string' || msg.type === '') {
      reload();
      return;
    }
    switch (msg.type) {
      case 'reload':
        log('reload');
        reload();
        return;
      case 'update':
        if (!msg.url) {
          log('update without url', msg);
          return;
        }
        log('update', msg.url);
        applyUpdate(msg.url).then(function (ok) {
          if (!ok) {
            reload();
          }
        }).catch(function (err) {
          console.error(err);
          reload();
        });
        return;
      case 'error':
        showErrorOverlay(msg.error);
        return;
      case 'clear':
        clearErrorOverlay();
        return;
      default:
        log('unknown message', msg);
    }
  });

  socket.addEventListener('close', function () {
    setTimeout(function () {
      reconnectDelay = Math.min(reconnectDelay * 2, maxReconnectDelay);
      connect();
    }, reconnectDelay);
  });
}

connect();
`
