// Package mssql streams SQL Server rows as documents for reindexing.
package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ErrSchemaMismatch indicates the source table does not match the options.
var ErrSchemaMismatch = errors.New("mssql: schema mismatch")

// SourceOptions selects the rows to stream.
type SourceOptions struct {
	Schema    string
	Table     string
	Columns   []string
	KeyColumn string
	KeyField  string
	Where     string
	Limit     int
}

// DefaultSourceOptions returns the defaults applied to empty fields.
func DefaultSourceOptions() SourceOptions {
	return SourceOptions{Schema: "dbo"}
}

func (o SourceOptions) withDefaults() SourceOptions {
	if strings.TrimSpace(o.Schema) == "" {
		o.Schema = DefaultSourceOptions().Schema
	}
	o.Table = strings.TrimSpace(o.Table)
	return o
}

func (o SourceOptions) validate() error {
	if o.Table == "" {
		return fmt.Errorf("%w: table is empty", ErrSchemaMismatch)
	}
	if o.Limit < 0 {
		return fmt.Errorf("%w: limit must be >= 0", ErrSchemaMismatch)
	}
	if o.KeyField != "" && o.KeyColumn == "" {
		return fmt.Errorf("%w: key field needs a key column", ErrSchemaMismatch)
	}
	return nil
}

// RowSource reads one table through database/sql.
type RowSource struct {
	db   *sql.DB
	opts SourceOptions
}

// NewRowSource creates a row source over db.
func NewRowSource(db *sql.DB, opts SourceOptions) (*RowSource, error) {
	if db == nil {
		return nil, fmt.Errorf("nil sql db")
	}
	normalized := opts.withDefaults()
	if err := normalized.validate(); err != nil {
		return nil, err
	}
	return &RowSource{db: db, opts: normalized}, nil
}

// Stream emits every selected row as a document keyed by column name.
func (s *RowSource) Stream(ctx context.Context, emit func(map[string]any) error) error {
	rows, err := s.db.QueryContext(ctx, buildSelectSQL(s.opts))
	if err != nil {
		return fmt.Errorf("query %s.%s: %w", s.opts.Schema, s.opts.Table, err)
	}
	defer rows.Close()

	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return fmt.Errorf("read column types: %w", err)
	}

	values := make([]any, len(columnTypes))
	dest := make([]any, len(columnTypes))
	for i := range values {
		dest[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return fmt.Errorf("scan row: %w", err)
		}
		doc := make(map[string]any, len(values)+1)
		for i, ct := range columnTypes {
			doc[ct.Name()] = normalizeValue(ct.DatabaseTypeName(), values[i])
		}
		if s.opts.KeyField != "" {
			if key, ok := doc[s.opts.KeyColumn]; ok && key != nil {
				doc[s.opts.KeyField] = fmt.Sprint(key)
			}
		}
		if err := emit(doc); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate rows: %w", err)
	}
	return nil
}
