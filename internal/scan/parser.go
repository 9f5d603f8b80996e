package scan

import (
	_ "embed"
	"fmt"
	"sync"

	ts "github.com/tree-sitter/go-tree-sitter"
	tsTypescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"
)

//go:embed queries/imports.scm
var importsQuery string

var typescript = ts.NewLanguage(tsTypescript.LanguageTypescript())

var parserPool = sync.Pool{
	New: func() any {
		parser := ts.NewParser()
		if err := parser.SetLanguage(typescript); err != nil {
			panic("failed to set TypeScript language: " + err.Error())
		}
		return parser
	},
}

func getParser() *ts.Parser {
	return parserPool.Get().(*ts.Parser)
}

func putParser(p *ts.Parser) {
	p.Reset()
	parserPool.Put(p)
}

// The compiled query is immutable and shared; cursors are per call.
var (
	query     *ts.Query
	queryOnce sync.Once
	queryErr  error
)

func importQuery() (*ts.Query, error) {
	queryOnce.Do(func() {
		q, qerr := ts.NewQuery(typescript, importsQuery)
		if qerr != nil {
			queryErr = fmt.Errorf("failed to parse imports query: %w", qerr)
			return
		}
		query = q
	})
	return query, queryErr
}
