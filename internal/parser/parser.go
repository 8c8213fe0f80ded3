package parser //nolint:revive // intentional: does not conflict with go/parser in internal package

import (
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// Statements parses a PostgreSQL SQL string with the real PostgreSQL
// grammar and returns its raw statements. Empty or whitespace-only input
// yields zero statements without error.
func Statements(sql string) ([]*pg_query.RawStmt, error) {
	trimmed := strings.TrimSpace(sql)
	if trimmed == "" {
		return nil, nil
	}

	tree, err := pg_query.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parsing SQL: %w", err)
	}

	return tree.Stmts, nil
}
