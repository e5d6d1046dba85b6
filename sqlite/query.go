package sqlite

import (
	"fmt"
	"strings"
)

// statements generates the SQL used against one collection table. Filters
// are evaluated in Go; the only predicate pushed down to SQLite is a
// restriction on _id.
type statements struct {
	table string
}

func newStatements(table string) statements {
	return statements{table: quoteIdentifier(table)}
}

// selectSQL returns the documents of the table in insertion order, limited
// to ids when restrict is set.
func (s statements) selectSQL(ids []string, restrict bool) (string, []any) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT id, doc FROM %s", s.table)

	var args []any
	if restrict {
		sb.WriteString(" WHERE id IN (")
		sb.WriteString(placeholders(len(ids)))
		sb.WriteString(")")
		args = make([]any, len(ids))
		for i, id := range ids {
			args[i] = id
		}
	}
	sb.WriteString(" ORDER BY seq;")
	return sb.String(), args
}

func (s statements) insertSQL() string {
	return fmt.Sprintf("INSERT INTO %s (id, doc) VALUES (?, ?);", s.table)
}

func (s statements) replaceSQL() string {
	return fmt.Sprintf("UPDATE %s SET doc = ? WHERE id = ?;", s.table)
}

func (s statements) deleteSQL(n int) string {
	return fmt.Sprintf("DELETE FROM %s WHERE id IN (%s);", s.table, placeholders(n))
}

func placeholders(n int) string {
	if n == 0 {
		return "NULL"
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
