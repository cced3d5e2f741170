package main

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/gabisonia/go-esquery/internal/metrics"
	"github.com/gabisonia/go-esquery/reindex"
	"github.com/gabisonia/go-esquery/stores/mssql"
	"github.com/gabisonia/go-esquery/stores/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	_ "github.com/microsoft/go-mssqldb"
)

type reindexFlags struct {
	from      string
	dsn       string
	file      string
	schema    string
	table     string
	columns   []string
	keyColumn string
	where     string
	limit     int
	keyName   string
}

func newReindexCmd() *cobra.Command {
	var f reindexFlags
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Copy rows from PostgreSQL, SQL Server or a JSON lines file into an index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.close()
			if typeFlag == "" {
				return fmt.Errorf("--type is required")
			}
			conn, err := a.connect()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			var src reindex.Source
			switch f.from {
			case "postgres":
				pool, err := pgxpool.New(ctx, f.dsn)
				if err != nil {
					return fmt.Errorf("connect postgres: %w", err)
				}
				defer pool.Close()
				rows, err := postgres.NewRowSource(pool, postgres.SourceOptions{
					Schema:    f.schema,
					Table:     f.table,
					Columns:   f.columns,
					KeyColumn: f.keyColumn,
					KeyField:  keyField(f),
					Where:     f.where,
					Limit:     f.limit,
				})
				if err != nil {
					return err
				}
				if err := rows.Validate(ctx); err != nil {
					return err
				}
				src = rows
			case "mssql":
				db, err := sql.Open("sqlserver", f.dsn)
				if err != nil {
					return fmt.Errorf("connect sql server: %w", err)
				}
				defer db.Close()
				rows, err := mssql.NewRowSource(db, mssql.SourceOptions{
					Schema:    f.schema,
					Table:     f.table,
					Columns:   f.columns,
					KeyColumn: f.keyColumn,
					KeyField:  keyField(f),
					Where:     f.where,
					Limit:     f.limit,
				})
				if err != nil {
					return err
				}
				if err := rows.Validate(ctx); err != nil {
					return err
				}
				src = rows
			case "jsonl":
				in := cmd.InOrStdin()
				if f.file != "" && f.file != "-" {
					file, err := os.Open(f.file)
					if err != nil {
						return fmt.Errorf("open input: %w", err)
					}
					defer file.Close()
					in = file
				}
				src = reindex.JSONLinesSource{Reader: in}
			default:
				return fmt.Errorf("unknown source %q: use postgres, mssql or jsonl", f.from)
			}

			stats, err := reindex.Run(ctx, conn.Table(typeFlag, f.keyName), src, reindex.Options{
				Workers:         a.cfg.Reindex.Workers,
				ContinueOnError: a.cfg.Reindex.ContinueOnError,
				Logger:          a.logger,
				OnDocument:      metrics.ObserveReindex,
			})
			if perr := printJSON(cmd.OutOrStdout(), map[string]any{
				"read":    stats.Read,
				"indexed": stats.Indexed,
				"failed":  stats.Failed,
				"elapsed": stats.Elapsed.String(),
			}); perr != nil && err == nil {
				err = perr
			}
			return err
		},
	}
	cmd.Flags().StringVar(&f.from, "from", "jsonl", "Source: postgres, mssql or jsonl")
	cmd.Flags().StringVar(&f.dsn, "dsn", "", "Database connection string")
	cmd.Flags().StringVar(&f.file, "file", "-", "JSON lines input for --from jsonl")
	cmd.Flags().StringVar(&f.schema, "schema", "", "Source schema (public or dbo by default)")
	cmd.Flags().StringVar(&f.table, "table", "", "Source table")
	cmd.Flags().StringSliceVar(&f.columns, "columns", nil, "Source columns, all when empty")
	cmd.Flags().StringVar(&f.keyColumn, "key-column", "", "Column that orders rows and becomes the document id")
	cmd.Flags().StringVar(&f.where, "where", "", "Raw SQL predicate on the source table")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "Maximum rows to copy, 0 for all")
	cmd.Flags().StringVar(&f.keyName, "key-name", "", "Document key field, _id by default")
	return cmd
}

// keyField names the document field that carries the row key.
func keyField(f reindexFlags) string {
	if f.keyColumn == "" {
		return ""
	}
	if f.keyName != "" {
		return f.keyName
	}
	return "_id"
}
