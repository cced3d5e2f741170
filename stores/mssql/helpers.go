package mssql

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	mssqldb "github.com/microsoft/go-mssqldb"
)

func quoteIdent(ident string) string {
	return "[" + strings.ReplaceAll(ident, "]", "]]") + "]"
}

func qualifiedTable(schema, table string) string {
	return quoteIdent(schema) + "." + quoteIdent(table)
}

func escapeSQLString(value string) string {
	return strings.ReplaceAll(value, "'", "''")
}

func buildSelectSQL(opts SourceOptions) string {
	cols := "*"
	if len(opts.Columns) > 0 {
		quoted := make([]string, 0, len(opts.Columns))
		for _, c := range opts.Columns {
			quoted = append(quoted, quoteIdent(c))
		}
		cols = strings.Join(quoted, ", ")
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	if opts.Limit > 0 {
		fmt.Fprintf(&b, "TOP (%d) ", opts.Limit)
	}
	fmt.Fprintf(&b, "%s FROM %s", cols, qualifiedTable(opts.Schema, opts.Table))
	if w := strings.TrimSpace(opts.Where); w != "" {
		b.WriteString(" WHERE ")
		b.WriteString(w)
	}
	if opts.KeyColumn != "" {
		fmt.Fprintf(&b, " ORDER BY %s", quoteIdent(opts.KeyColumn))
	}
	return b.String()
}

// normalizeValue converts a scanned column into a JSON-friendly document
// value using the column's database type name.
func normalizeValue(dbType string, v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case []byte:
		switch strings.ToUpper(dbType) {
		case "DECIMAL", "NUMERIC", "MONEY", "SMALLMONEY":
			if f, err := strconv.ParseFloat(string(x), 64); err == nil {
				return f
			}
			return string(x)
		case "UNIQUEIDENTIFIER":
			var id mssqldb.UniqueIdentifier
			if err := id.Scan(x); err != nil {
				return fmt.Sprintf("%X", x)
			}
			return id.String()
		case "VARBINARY", "BINARY", "IMAGE":
			return fmt.Sprintf("%X", x)
		}
		return string(x)
	default:
		return x
	}
}
