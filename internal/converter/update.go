package converter

import (
	"fmt"
	"strings"

	"fs-converter/internal/storage"
)

type assignment struct {
	column string
	value  any
}

// Update is the SET clause of one row's UPDATE, built one column at a time so
// that optional artifacts simply add nothing. It is rendered once, at the end.
type Update struct {
	assignments []assignment
	err         error
}

// Set assigns a plain value.
func (u *Update) Set(column string, value any) *Update {
	u.assignments = append(u.assignments, assignment{column: column, value: value})
	return u
}

// SetDescriptor assigns the JSON text of d.
func (u *Update) SetDescriptor(column string, d storage.Descriptor) *Update {
	encoded, err := d.JSON()
	if err != nil && u.err == nil {
		u.err = fmt.Errorf("column %s: %w", column, err)
	}
	return u.Set(column, encoded)
}

// Len is the number of assignments.
func (u *Update) Len() int { return len(u.assignments) }

// Columns lists the assigned columns in order.
func (u *Update) Columns() []string {
	cols := make([]string, len(u.assignments))
	for i, a := range u.assignments {
		cols[i] = a.column
	}
	return cols
}

// Render produces the statement and its parameters. The key is always the
// last parameter.
func (u *Update) Render(table, keyColumn string, key any) (string, []any, error) {
	if u.err != nil {
		return "", nil, u.err
	}
	if len(u.assignments) == 0 {
		return "", nil, fmt.Errorf("update of %s has no assignments", table)
	}

	sets := make([]string, len(u.assignments))
	args := make([]any, 0, len(u.assignments)+1)
	for i, a := range u.assignments {
		sets[i] = quoteIdent(a.column) + " = ?"
		args = append(args, a.value)
	}
	args = append(args, key)

	stmt := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?",
		quoteIdent(table), strings.Join(sets, ", "), quoteIdent(keyColumn))
	return stmt, args, nil
}

func quoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}
