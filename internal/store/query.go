package store

import (
	"strings"

	"github.com/abhiyant/inspect/internal/record"
)

// Query selects a subset of records. The zero Query selects every record.
type Query struct {
	// Text is a case-insensitive substring matched against component name,
	// part number, batch number and serial number. Blank matches everything.
	Text string

	// Status restricts results to one status when non-empty.
	Status record.Status
}

// All selects every record.
func All() Query { return Query{} }

// Search selects records whose searchable fields contain text.
func Search(text string) Query { return Query{Text: text} }

// ByStatus selects records with the given status.
func ByStatus(status record.Status) Query { return Query{Status: status} }

// matches reports whether r belongs to the query's result set. It must agree
// with where.
func (q Query) matches(r *record.InspectionRecord) bool {
	if r == nil {
		return false
	}
	if q.Status != "" && r.Status != q.Status {
		return false
	}
	return r.Matches(q.Text)
}

// where renders the query as a SQL predicate and its arguments.
func (q Query) where() (string, []any) {
	var clauses []string
	var args []any

	if q.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(q.Status))
	}

	if text := strings.TrimSpace(q.Text); text != "" {
		pattern := "%" + escapeLike(text) + "%"
		clauses = append(clauses, `(component_name LIKE ? ESCAPE '\'
			OR component_part_number LIKE ? ESCAPE '\'
			OR batch_number LIKE ? ESCAPE '\'
			OR serial_number LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern, pattern, pattern)
	}

	return strings.Join(clauses, " AND "), args
}
