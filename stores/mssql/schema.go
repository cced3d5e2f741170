package mssql

import (
	"context"
	"fmt"
)

func (s *RowSource) tableExists(ctx context.Context) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1)
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = @p1 AND TABLE_NAME = @p2
	`, s.opts.Schema, s.opts.Table).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check table exists: %w", err)
	}

	return count > 0, nil
}

func (s *RowSource) tableColumns(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT COLUMN_NAME, DATA_TYPE
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = @p1 AND TABLE_NAME = @p2
	`, s.opts.Schema, s.opts.Table)
	if err != nil {
		return nil, fmt.Errorf("read schema columns: %w", err)
	}
	defer rows.Close()

	columns := map[string]string{}
	for rows.Next() {
		var name, dataType string
		if err := rows.Scan(&name, &dataType); err != nil {
			return nil, fmt.Errorf("scan schema column: %w", err)
		}
		columns[name] = dataType
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schema columns: %w", err)
	}
	return columns, nil
}

// Validate checks that the table exists and carries every requested column.
func (s *RowSource) Validate(ctx context.Context) error {
	exists, err := s.tableExists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: table %s.%s does not exist", ErrSchemaMismatch, s.opts.Schema, s.opts.Table)
	}

	columns, err := s.tableColumns(ctx)
	if err != nil {
		return err
	}
	required := append([]string(nil), s.opts.Columns...)
	if s.opts.KeyColumn != "" {
		required = append(required, s.opts.KeyColumn)
	}
	for _, c := range required {
		if _, ok := columns[c]; !ok {
			return fmt.Errorf("%w: column %q is missing on %s.%s", ErrSchemaMismatch, c, s.opts.Schema, s.opts.Table)
		}
	}
	return nil
}
