package recordstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Error is a client-visible failure, rendered as {"message", "code"}.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

func badRequest(format string, args ...any) error {
	return &Error{Status: http.StatusBadRequest, Code: "PGRST100", Message: fmt.Sprintf(format, args...)}
}

// Row is one record keyed by column name.
type Row map[string]any

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Select(ctx context.Context, res *resource, q query) ([]Row, error) {
	where, args := q.where()
	stmt := "SELECT " + strings.Join(res.names(), ", ") + " FROM " + res.name + where + q.tail(res)

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("selecting %s: %w", res.name, err)
	}
	defer rows.Close()
	return scanRows(res, rows)
}

// Insert creates every record in one transaction. defaults fill columns
// the record leaves out.
func (s *Store) Insert(ctx context.Context, res *resource, records []map[string]any, defaults map[string]any) ([]Row, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	out := make([]Row, 0, len(records))
	for _, rec := range records {
		for k, v := range defaults {
			if _, ok := rec[k]; !ok {
				rec[k] = v
			}
		}
		cols, args, err := bindRecord(res, rec)
		if err != nil {
			return nil, err
		}
		if len(cols) == 0 {
			return nil, badRequest("empty %s record", res.name)
		}

		marks := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
		stmt := "INSERT INTO " + res.name + " (" + strings.Join(cols, ", ") + ") VALUES (" + marks + ")" +
			" RETURNING " + strings.Join(res.names(), ", ")
		rows, err := tx.QueryContext(ctx, stmt, args...)
		if err != nil {
			return nil, constraintError(res, err)
		}
		created, err := scanRows(res, rows)
		rows.Close()
		if err != nil {
			return nil, constraintError(res, err)
		}
		out = append(out, created...)
	}

	if err := tx.Commit(); err != nil {
		return nil, constraintError(res, err)
	}
	return out, nil
}

func (s *Store) Update(ctx context.Context, res *resource, q query, patch map[string]any) ([]Row, error) {
	cols, args, err := bindRecord(res, patch)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, badRequest("empty %s patch", res.name)
	}

	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = c + " = ?"
	}
	where, whereArgs := q.where()
	stmt := "UPDATE " + res.name + " SET " + strings.Join(sets, ", ") + where +
		" RETURNING " + strings.Join(res.names(), ", ")

	rows, err := s.db.QueryContext(ctx, stmt, append(args, whereArgs...)...)
	if err != nil {
		return nil, constraintError(res, err)
	}
	defer rows.Close()
	updated, err := scanRows(res, rows)
	if err != nil {
		return nil, constraintError(res, err)
	}
	return updated, nil
}

func (s *Store) Delete(ctx context.Context, res *resource, q query) ([]Row, error) {
	where, args := q.where()
	stmt := "DELETE FROM " + res.name + where + " RETURNING " + strings.Join(res.names(), ", ")

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, constraintError(res, err)
	}
	defer rows.Close()
	return scanRows(res, rows)
}

// bindRecord validates rec against res and returns its columns in a
// stable order with bound values.
func bindRecord(res *resource, rec map[string]any) ([]string, []any, error) {
	cols := make([]string, 0, len(rec))
	for name := range rec {
		cols = append(cols, name)
	}
	sort.Strings(cols)

	args := make([]any, len(cols))
	for i, name := range cols {
		col, ok := res.column(name)
		if !ok {
			return nil, nil, columnMissing(res, name)
		}
		if !col.writable {
			return nil, nil, badRequest("column %s.%s is read-only", res.name, name)
		}
		v, err := bindJSON(col, rec[name])
		if err != nil {
			return nil, nil, badRequest("%s", err.Error())
		}
		args[i] = v
	}
	return cols, args, nil
}

func scanRows(res *resource, rows *sql.Rows) ([]Row, error) {
	out := []Row{}
	for rows.Next() {
		holders := make([]any, len(res.columns))
		for i, c := range res.columns {
			if c.kind == kindText {
				holders[i] = new(sql.NullString)
			} else {
				holders[i] = new(sql.NullInt64)
			}
		}
		if err := rows.Scan(holders...); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", res.name, err)
		}

		row := make(Row, len(res.columns))
		for i, c := range res.columns {
			switch h := holders[i].(type) {
			case *sql.NullString:
				row[c.name] = nil
				if h.Valid {
					row[c.name] = h.String
				}
			case *sql.NullInt64:
				row[c.name] = nil
				if h.Valid {
					if c.kind == kindBool {
						row[c.name] = h.Int64 != 0
					} else {
						row[c.name] = h.Int64
					}
				}
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", res.name, err)
	}
	return out, nil
}

// constraintError maps SQLite constraint failures to client errors. The
// libSQL driver reports them only through the error text.
func constraintError(res *resource, err error) error {
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return &Error{Status: http.StatusConflict, Code: "23505",
			Message: "duplicate key value violates unique constraint on " + res.name}
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return &Error{Status: http.StatusConflict, Code: "23503",
			Message: "insert or update on " + res.name + " violates foreign key constraint"}
	case strings.Contains(msg, "NOT NULL constraint failed"):
		return &Error{Status: http.StatusBadRequest, Code: "23502",
			Message: "null value violates not-null constraint on " + res.name}
	}
	return fmt.Errorf("writing %s: %w", res.name, err)
}
