package errors

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category Category
	Message  string
	Detail   string
}

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// ============================================
	// Protocol Errors (E060-E079)
	// ============================================

	"E060": {
		Category: CategoryProtocol,
		Message:  "Hot reload server unavailable",
		Detail:   "The WebSocket endpoint could not be started or reached.",
	},

	// ============================================
	// Scan Errors (E090-E099)
	// ============================================

	"E090": {
		Category: CategoryScan,
		Message:  "Module could not be parsed",
		Detail:   "The module's import list could not be extracted. Browsers will keep running the previous version until the file parses again.",
	},
	"E091": {
		Category: CategoryScan,
		Message:  "Module could not be read",
		Detail:   "The changed file could not be read from disk.",
	},

	// ============================================
	// Config Errors (E120-E139)
	// ============================================

	"E120": {
		Category: CategoryConfig,
		Message:  "Invalid configuration file",
		Detail:   "The configuration file could not be read or parsed.",
	},
	"E121": {
		Category: CategoryConfig,
		Message:  "Configuration file not found",
		Detail:   "No hmr.json, hmr.yaml or hmr.toml was found.",
	},
	"E122": {
		Category: CategoryConfig,
		Message:  "Invalid port",
		Detail:   "Port must be between 0 and 65535.",
	},
	"E123": {
		Category: CategoryConfig,
		Message:  "Invalid ignore pattern",
		Detail:   "An ignore pattern is not a valid glob.",
	},
	"E124": {
		Category: CategoryConfig,
		Message:  "Invalid hot reload path",
		Detail:   "The hot reload endpoint path must start with '/'.",
	},

	// ============================================
	// CLI Errors (E140-E159)
	// ============================================

	"E140": {
		Category: CategoryCLI,
		Message:  "Server failed",
		Detail:   "The development server stopped unexpectedly.",
	},
	"E141": {
		Category: CategoryCLI,
		Message:  "File watcher failed",
		Detail:   "The file system watcher could not be started.",
	},
}

// GetTemplate returns the template for an error code.
func GetTemplate(code string) (ErrorTemplate, bool) {
	t, ok := registry[code]
	return t, ok
}
