// Package postgres streams PostgreSQL rows as documents for reindexing.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrSchemaMismatch indicates the source table does not match the options.
var ErrSchemaMismatch = errors.New("postgres: schema mismatch")

// SourceOptions selects the rows to stream.
type SourceOptions struct {
	Schema  string
	Table   string
	Columns []string
	// KeyColumn orders the stream and, when KeyField is set, is copied into
	// that document field.
	KeyColumn string
	KeyField  string
	// Where is a raw SQL predicate appended to the select.
	Where string
	Limit int
}

// DefaultSourceOptions returns the defaults applied to empty fields.
func DefaultSourceOptions() SourceOptions {
	return SourceOptions{Schema: "public"}
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

// RowSource reads one table through a pgx pool.
type RowSource struct {
	pool *pgxpool.Pool
	opts SourceOptions
}

// NewRowSource creates a row source over pool.
func NewRowSource(pool *pgxpool.Pool, opts SourceOptions) (*RowSource, error) {
	if pool == nil {
		return nil, fmt.Errorf("nil pgx pool")
	}
	normalized := opts.withDefaults()
	if err := normalized.validate(); err != nil {
		return nil, err
	}
	return &RowSource{pool: pool, opts: normalized}, nil
}

// Stream emits every selected row as a document keyed by column name.
func (s *RowSource) Stream(ctx context.Context, emit func(map[string]any) error) error {
	rows, err := s.pool.Query(ctx, buildSelectSQL(s.opts))
	if err != nil {
		return fmt.Errorf("query %s.%s: %w", s.opts.Schema, s.opts.Table, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return fmt.Errorf("read row values: %w", err)
		}
		doc := make(map[string]any, len(values)+1)
		for i, fd := range fields {
			doc[fd.Name] = normalizeValue(values[i])
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
