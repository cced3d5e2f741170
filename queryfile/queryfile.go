// Package queryfile loads query documents written in JSON, validates them
// against an embedded JSON Schema and applies them to an esquery.Builder.
package queryfile

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/gabisonia/go-esquery/esquery"
	"github.com/gabisonia/go-esquery/whereexpr"
	"github.com/xeipuuv/gojsonschema"
)

//go:embed schema.json
var schemaJSON string

// ErrInvalidQuery reports a document that fails schema validation or cannot
// be decoded.
var ErrInvalidQuery = fmt.Errorf("%w: query document", esquery.ErrInvalidCondition)

var compiledSchema *gojsonschema.Schema

func init() {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		panic(fmt.Sprintf("queryfile: compile embedded schema: %v", err))
	}
	compiledSchema = schema
}

// Clause is one where clause of a query document.
type Clause struct {
	Kind    string   `json:"kind"`
	Boolean string   `json:"boolean,omitempty"`
	Column  string   `json:"column,omitempty"`
	Columns []string `json:"columns,omitempty"`
	Op      string   `json:"op,omitempty"`
	Value   any      `json:"value,omitempty"`
	Values  []any    `json:"values,omitempty"`
	Mode    string   `json:"mode,omitempty"`
	Where   []Clause `json:"where,omitempty"`
}

// OrderClause sorts on one column.
type OrderClause struct {
	Column    string `json:"column"`
	Direction string `json:"direction,omitempty"`
}

// AggregateClause requests one aggregation.
type AggregateClause struct {
	Function string   `json:"function"`
	Columns  []string `json:"columns,omitempty"`
}

// Query is a decoded query document.
type Query struct {
	Index     string           `json:"index,omitempty"`
	Type      string           `json:"type,omitempty"`
	Key       string           `json:"key,omitempty"`
	Where     []Clause         `json:"where,omitempty"`
	Expr      string           `json:"expr,omitempty"`
	Order     []OrderClause    `json:"order,omitempty"`
	Select    []string         `json:"select,omitempty"`
	Limit     *int             `json:"limit,omitempty"`
	Offset    int              `json:"offset,omitempty"`
	Aggregate *AggregateClause `json:"aggregate,omitempty"`
}

// Load reads and validates one query document.
func Load(r io.Reader) (Query, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return Query{}, fmt.Errorf("read query document: %w", err)
	}
	return Parse(raw)
}

// Parse validates raw against the query schema and decodes it.
func Parse(raw []byte) (Query, error) {
	result, err := compiledSchema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return Query{}, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	if !result.Valid() {
		var errs []string
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}
		return Query{}, fmt.Errorf("%w: %s", ErrInvalidQuery, strings.Join(errs, "; "))
	}

	var q Query
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&q); err != nil {
		return Query{}, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	if err := normalizeClauses(q.Where); err != nil {
		return Query{}, err
	}
	return q, nil
}

// normalizeClauses turns decoded json.Number values into int64 when they are
// integral and float64 otherwise, so large ids keep every digit.
func normalizeClauses(clauses []Clause) error {
	for i := range clauses {
		c := &clauses[i]
		v, err := normalizeValue(c.Value)
		if err != nil {
			return err
		}
		c.Value = v
		for j, item := range c.Values {
			v, err := normalizeValue(item)
			if err != nil {
				return err
			}
			c.Values[j] = v
		}
		if err := normalizeClauses(c.Where); err != nil {
			return err
		}
	}
	return nil
}

func normalizeValue(v any) (any, error) {
	n, ok := v.(json.Number)
	if !ok {
		return v, nil
	}
	if i, err := n.Int64(); err == nil {
		return i, nil
	}
	f, err := n.Float64()
	if err != nil {
		return nil, fmt.Errorf("%w: number %s: %v", ErrInvalidQuery, n, err)
	}
	return f, nil
}

// Target resolves the query target, falling back to def for empty fields.
func (q Query) Target(def esquery.Target) esquery.Target {
	if q.Index != "" {
		def.Index = q.Index
	}
	if q.Type != "" {
		def.Type = q.Type
	}
	if q.Key != "" {
		def.KeyName = q.Key
	}
	return def
}

// Apply appends the query to b. The expression, when present, is translated
// with p and and-joined after the where clauses. p may be nil when the
// document has no expression.
func (q Query) Apply(b *esquery.Builder, p *whereexpr.Parser) (*esquery.Builder, error) {
	applyClauses(b, q.Where)
	if q.Expr != "" {
		if p == nil {
			return b, fmt.Errorf("%w: expression given without a parser", ErrInvalidQuery)
		}
		if _, err := p.Apply(b, q.Expr); err != nil {
			return b, err
		}
	}
	for _, o := range q.Order {
		b.OrderBy(o.Column, o.Direction)
	}
	if len(q.Select) > 0 {
		b.Select(q.Select...)
	}
	if q.Limit != nil {
		b.Limit(*q.Limit)
	}
	if q.Offset > 0 {
		b.Offset(q.Offset)
	}
	if q.Aggregate != nil {
		b.Aggregate(esquery.AggregateFunction(strings.ToLower(q.Aggregate.Function)), q.Aggregate.Columns...)
	}
	return b, b.Err()
}

func applyClauses(b *esquery.Builder, clauses []Clause) {
	for _, c := range clauses {
		or := strings.EqualFold(c.Boolean, string(esquery.BoolOr))
		switch c.Kind {
		case "basic":
			if or {
				b.OrWhere(c.Column, c.Op, c.Value)
			} else {
				b.Where(c.Column, c.Op, c.Value)
			}
		case "in":
			if or {
				b.OrWhereIn(c.Column, c.Values...)
			} else {
				b.WhereIn(c.Column, c.Values...)
			}
		case "not_in":
			if or {
				b.OrWhereNotIn(c.Column, c.Values...)
			} else {
				b.WhereNotIn(c.Column, c.Values...)
			}
		case "null":
			if or {
				b.OrWhereNull(c.Column)
			} else {
				b.WhereNull(c.Column)
			}
		case "not_null":
			if or {
				b.OrWhereNotNull(c.Column)
			} else {
				b.WhereNotNull(c.Column)
			}
		case "multi_match":
			if or {
				b.OrWhereMultiMatch(c.Columns, c.Value, c.Mode)
			} else {
				b.WhereMultiMatch(c.Columns, c.Value, c.Mode)
			}
		case "nested":
			inner := c.Where
			fn := func(sub *esquery.Builder) { applyClauses(sub, inner) }
			if or {
				b.OrWhereNested(fn)
			} else {
				b.WhereNested(fn)
			}
		}
	}
}
