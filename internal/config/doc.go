// Package config provides configuration loading for the hmr dev server.
//
// Configuration lives in hmr.json (or hmr.yaml / hmr.toml) at the project
// root. Every key can be overridden with an HMR_ environment variable, dots
// replaced by underscores (HMR_DEV_PORT=8080).
//
// # Configuration File Structure
//
//	{
//	  "root": "web",
//	  "dev": {
//	    "port": 3000,
//	    "host": "localhost",
//	    "watch": ["."],
//	    "ignore": ["**/vendor/**"],
//	    "debounce": "100ms",
//	    "hotReload": true
//	  },
//	  "hmr": {
//	    "path": "/_hmr",
//	    "sendBuffer": 16,
//	    "writeTimeout": "10s",
//	    "extensions": [".js", ".mjs"]
//	  },
//	  "log": {"level": "info", "format": "console"},
//	  "metrics": {"enabled": true, "path": "/metrics"}
//	}
//
// # Usage
//
//	cfg, err := config.Load(".")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Println("Listening on", cfg.DevURL())
package config
