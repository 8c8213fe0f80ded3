// Package safety inspects migration SQL before it runs. It answers two
// questions the migrator acts on: does the migration destroy data (DROP
// TABLE, TRUNCATE, DROP COLUMN), and does it contain statements that
// cannot run inside a transaction block (CREATE INDEX CONCURRENTLY).
package safety

import (
	"fmt"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/aspenas/candlefish-website-sub012/internal/parser"
)

// Finding describes one destructive statement in a migration.
type Finding struct {
	Operation string `json:"operation"` // e.g. "DROP TABLE"
	Table     string `json:"table"`
}

// Report summarizes an inspection of one migration's apply SQL.
type Report struct {
	Destructive      []Finding `json:"destructive,omitempty"`
	NonTransactional bool      `json:"non_transactional"`
}

// HasDestructive reports whether any destructive statement was found.
func (r *Report) HasDestructive() bool {
	return len(r.Destructive) > 0
}

// Inspect parses sql with the real PostgreSQL grammar and reports
// destructive and non-transactional statements.
func Inspect(sql string) (*Report, error) {
	stmts, err := parser.Statements(sql)
	if err != nil {
		return nil, fmt.Errorf("inspecting migration SQL: %w", err)
	}

	report := &Report{}

	for _, stmt := range stmts {
		switch node := stmt.Stmt.Node.(type) {
		case *pg_query.Node_DropStmt:
			report.Destructive = append(report.Destructive, dropFindings(node.DropStmt)...)

		case *pg_query.Node_TruncateStmt:
			report.Destructive = append(report.Destructive, truncateFindings(node.TruncateStmt)...)

		case *pg_query.Node_AlterTableStmt:
			report.Destructive = append(report.Destructive, dropColumnFindings(node.AlterTableStmt)...)

		case *pg_query.Node_IndexStmt:
			if node.IndexStmt != nil && node.IndexStmt.Concurrent {
				report.NonTransactional = true
			}
		}
	}

	return report, nil
}

func dropFindings(drop *pg_query.DropStmt) []Finding {
	if drop == nil || drop.RemoveType != pg_query.ObjectType_OBJECT_TABLE {
		return nil
	}

	var findings []Finding

	for _, obj := range drop.Objects {
		listNode, ok := obj.Node.(*pg_query.Node_List)
		if !ok {
			continue
		}

		var parts []string

		for _, item := range listNode.List.Items {
			if s, ok := item.Node.(*pg_query.Node_String_); ok {
				parts = append(parts, s.String_.Sval)
			}
		}

		if len(parts) > 0 {
			findings = append(findings, Finding{Operation: "DROP TABLE", Table: strings.Join(parts, ".")})
		}
	}

	return findings
}

func truncateFindings(trunc *pg_query.TruncateStmt) []Finding {
	if trunc == nil {
		return nil
	}

	var findings []Finding

	for _, rel := range trunc.Relations {
		rv, ok := rel.Node.(*pg_query.Node_RangeVar)
		if !ok {
			continue
		}

		findings = append(findings, Finding{Operation: "TRUNCATE", Table: tableName(rv.RangeVar)})
	}

	return findings
}

func dropColumnFindings(alt *pg_query.AlterTableStmt) []Finding {
	if alt == nil {
		return nil
	}

	var findings []Finding

	for _, cmdNode := range alt.Cmds {
		cmd, ok := cmdNode.Node.(*pg_query.Node_AlterTableCmd)
		if !ok {
			continue
		}

		if cmd.AlterTableCmd.Subtype != pg_query.AlterTableType_AT_DropColumn {
			continue
		}

		findings = append(findings, Finding{
			Operation: "DROP COLUMN " + cmd.AlterTableCmd.Name,
			Table:     tableName(alt.Relation),
		})
	}

	return findings
}

// tableName extracts a qualified table name from a RangeVar.
func tableName(rv *pg_query.RangeVar) string {
	if rv == nil {
		return "<unknown>"
	}

	if rv.Schemaname != "" {
		return rv.Schemaname + "." + rv.Relname
	}

	return rv.Relname
}
