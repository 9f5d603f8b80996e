// Package scan extracts the import graph edges of an ES module.
//
// Sources are parsed with tree-sitter's TypeScript grammar, which also
// accepts plain JavaScript. Relative and root-relative specifiers are
// resolved against the importing module's URL so that the results can be
// fed directly to graph.SetDependencies.
package scan

import (
	"bytes"
	"fmt"
	"net/url"
	"path"
	"strings"

	ts "github.com/tree-sitter/go-tree-sitter"
)

// Import is one import specifier found in a module.
type Import struct {
	Specifier string
	Dynamic   bool
	Line      int
}

// Module is the scan result for one source file.
type Module struct {
	// URL is the module's own URL path.
	URL string

	// Imports lists every specifier in source order.
	Imports []Import

	// Dependencies holds the resolved URLs of static imports and
	// re-exports, deduplicated, in source order. Bare specifiers and
	// dynamic imports are not included.
	Dependencies []string

	// HMREnabled is true when the module references import.meta.hot.
	HMREnabled bool

	// Syntax errors reported by the parser. The import list is still
	// best-effort when this is non-empty.
	Errors []SyntaxError
}

// SyntaxError locates a parse error in the source.
type SyntaxError struct {
	Line   int
	Column int
}

func (e SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at %d:%d", e.Line, e.Column)
}

var hotMarker = []byte("import.meta.hot")

// UsesHot reports whether the source references import.meta.hot.
func UsesHot(content []byte) bool {
	return bytes.Contains(content, hotMarker)
}

// ExtractImports parses JavaScript/TypeScript content and extracts all import specifiers.
func ExtractImports(content []byte) ([]Import, error) {
	imports, _, err := parse(content)
	return imports, err
}

// Scan parses a module served at moduleURL.
func Scan(moduleURL string, content []byte) (*Module, error) {
	imports, syntaxErrs, err := parse(content)
	if err != nil {
		return nil, err
	}

	m := &Module{
		URL:        moduleURL,
		Imports:    imports,
		HMREnabled: UsesHot(content),
		Errors:     syntaxErrs,
	}

	seen := make(map[string]struct{})
	for _, imp := range imports {
		if imp.Dynamic {
			continue
		}
		dep, ok := Resolve(moduleURL, imp.Specifier)
		if !ok {
			continue
		}
		if _, dup := seen[dep]; dup {
			continue
		}
		seen[dep] = struct{}{}
		m.Dependencies = append(m.Dependencies, dep)
	}
	return m, nil
}

func parse(content []byte) ([]Import, []SyntaxError, error) {
	q, err := importQuery()
	if err != nil {
		return nil, nil, err
	}

	parser := getParser()
	defer putParser(parser)

	tree := parser.Parse(content, nil)
	if tree == nil {
		return nil, nil, fmt.Errorf("failed to parse content")
	}
	defer tree.Close()

	root := tree.RootNode()

	cursor := ts.NewQueryCursor()
	defer cursor.Close()

	var imports []Import
	matches := cursor.Matches(q, root, content)
	captureNames := q.CaptureNames()

	for {
		match := matches.Next()
		if match == nil {
			break
		}

		for _, capture := range match.Captures {
			text := capture.Node.Utf8Text(content)
			line := int(capture.Node.StartPosition().Row) + 1

			switch captureNames[capture.Index] {
			case "import.spec", "reexport.spec":
				imports = append(imports, Import{Specifier: text, Line: line})
			case "dynamicImport.spec":
				imports = append(imports, Import{Specifier: text, Dynamic: true, Line: line})
			}
		}
	}

	var syntaxErrs []SyntaxError
	if root.HasError() {
		syntaxErrs = collectErrors(root)
	}
	return imports, syntaxErrs, nil
}

func collectErrors(root *ts.Node) []SyntaxError {
	var errs []SyntaxError
	var walk func(n *ts.Node)
	walk = func(n *ts.Node) {
		if n.IsError() || n.IsMissing() {
			pos := n.StartPosition()
			errs = append(errs, SyntaxError{Line: int(pos.Row) + 1, Column: int(pos.Column) + 1})
			return
		}
		if !n.HasError() {
			return
		}
		for i := uint(0); i < n.ChildCount(); i++ {
			if child := n.Child(i); child != nil {
				walk(child)
			}
		}
	}
	walk(root)
	return errs
}

// Resolve maps an import specifier to a module URL path relative to the
// importer. Bare specifiers ("lit") and URLs with a scheme are not part of
// the served tree and report false.
func Resolve(importer, specifier string) (string, bool) {
	if specifier == "" {
		return "", false
	}

	var resolved string
	switch {
	case strings.HasPrefix(specifier, "/"):
		if strings.HasPrefix(specifier, "//") {
			return "", false
		}
		resolved = specifier
	case strings.HasPrefix(specifier, "./"), strings.HasPrefix(specifier, "../"):
		base := stripQuery(importer)
		resolved = path.Join(path.Dir(base), specifier)
	default:
		return "", false
	}

	resolved = stripQuery(resolved)
	if u, err := url.PathUnescape(resolved); err == nil {
		resolved = u
	}
	resolved = path.Clean(resolved)
	if !strings.HasPrefix(resolved, "/") {
		resolved = "/" + resolved
	}
	return resolved, true
}

func stripQuery(s string) string {
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		return s[:i]
	}
	return s
}
