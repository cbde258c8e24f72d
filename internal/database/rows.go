package database

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gorm.io/gorm"
)

// Row is one fetched source row. Values keep the type the driver produced;
// the accessors normalise the MySQL text protocol ([]byte) and SQLite
// (string, int64) representations.
type Row struct {
	columns []string
	values  []any
	index   map[string]int
}

// NewRow builds a Row from parallel column and value slices.
func NewRow(columns []string, values []any) Row {
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		index[strings.ToLower(c)] = i
	}
	return Row{columns: columns, values: values, index: index}
}

// Columns returns the column names in select order.
func (r Row) Columns() []string { return r.columns }

// Value returns the raw value of col, or nil when the column is absent.
func (r Row) Value(col string) any {
	i, ok := r.index[strings.ToLower(col)]
	if !ok {
		return nil
	}
	return r.values[i]
}

// String returns col as text. NULL and absent columns yield "".
func (r Row) String(col string) string {
	switch v := r.Value(col).(type) {
	case nil:
		return ""
	case []byte:
		return string(v)
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// Int64 returns col as an integer. ok is false for NULL, absent or
// non-numeric values.
func (r Row) Int64(col string) (int64, bool) {
	switch v := r.Value(col).(type) {
	case int64:
		return v, true
	case int32:
		return int64(v), true
	case int:
		return int64(v), true
	case uint64:
		return int64(v), true
	case uint32:
		return int64(v), true
	case float64:
		return int64(v), true
	case []byte:
		n, err := strconv.ParseInt(strings.TrimSpace(string(v)), 10, 64)
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// JSON decodes a JSON text column into v. An empty column is reported as an
// error so callers can treat it like malformed input.
func (r Row) JSON(col string, v any) error {
	raw := strings.TrimSpace(r.String(col))
	if raw == "" {
		return fmt.Errorf("column %s is empty", col)
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("column %s is not valid JSON: %w", col, err)
	}
	return nil
}

// Query runs a raw SELECT and returns every row. The whole result set is
// read up front; the pipeline iterates it after the transaction begins.
func Query(db *gorm.DB, query string, args ...any) ([]Row, error) {
	rows, err := db.Raw(query, args...).Rows()
	if err != nil {
		return nil, fmt.Errorf("failed to execute select query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read result columns: %w", err)
	}

	var result []Row
	for rows.Next() {
		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		result = append(result, NewRow(columns, values))
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rows: %w", err)
	}

	return result, nil
}

// Execute runs a statement with bound parameters and returns the number of
// affected rows.
func Execute(db *gorm.DB, statement string, args ...any) (int64, error) {
	result := db.Exec(statement, args...)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
