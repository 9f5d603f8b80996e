// Package dev provides the development server that drives hot module
// replacement for a directory of ES modules.
//
// The server:
//   - scans every module at startup and records its imports in the graph
//   - watches the tree and rescans modules as they change
//   - serves files, adding the import.meta.hot prelude to modules that use it
//     and the client script to HTML pages
//   - broadcasts update, reload, error and clear messages over WebSocket
//
// # Usage
//
//	cfg, _ := config.Load(".")
//	srv := dev.NewServer(dev.ServerOptions{Config: cfg, Logger: logger})
//
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer cancel()
//
//	if err := srv.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Change handling
//
// A changed module is rescanned and, when it references import.meta.hot,
// announced with {"type":"update","url":...}. Other modules, stylesheets,
// assets and removed files cause {"type":"reload"}. A module that fails to
// parse shows {"type":"error"} until the next clean scan sends
// {"type":"clear"}.
package dev
