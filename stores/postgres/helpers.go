package postgres

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func qualifiedTable(schema, table string) string {
	return quoteIdent(schema) + "." + quoteIdent(table)
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
	fmt.Fprintf(&b, "SELECT %s FROM %s", cols, qualifiedTable(opts.Schema, opts.Table))
	if w := strings.TrimSpace(opts.Where); w != "" {
		b.WriteString(" WHERE ")
		b.WriteString(w)
	}
	if opts.KeyColumn != "" {
		fmt.Fprintf(&b, " ORDER BY %s", quoteIdent(opts.KeyColumn))
	}
	if opts.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", opts.Limit)
	}
	return b.String()
}

// normalizeValue converts driver values into JSON-friendly document values.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case []byte:
		return string(x)
	case [16]byte:
		return uuid.UUID(x).String()
	case pgtype.Numeric:
		return numericValue(x)
	case json.RawMessage:
		var out any
		if err := json.Unmarshal(x, &out); err != nil {
			return string(x)
		}
		return out
	case map[string]any, []any, string, bool,
		int, int8, int16, int32, int64, float32, float64:
		return x
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out
	case fmt.Stringer:
		return x.String()
	default:
		return x
	}
}

func numericValue(n pgtype.Numeric) any {
	if !n.Valid || n.NaN {
		return nil
	}
	if n.InfinityModifier != pgtype.Finite {
		return nil
	}
	if n.Exp >= 0 && n.Int.IsInt64() {
		scaled := new(big.Int).Mul(n.Int, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n.Exp)), nil))
		if scaled.IsInt64() {
			return scaled.Int64()
		}
	}
	f, err := n.Float64Value()
	if err != nil || !f.Valid {
		return nil
	}
	return f.Float64
}
