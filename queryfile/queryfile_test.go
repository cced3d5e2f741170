package queryfile

import (
	"strings"
	"testing"

	"github.com/gabisonia/go-esquery/esquery"
	"github.com/gabisonia/go-esquery/whereexpr"
	"github.com/stretchr/testify/require"
)

const usersQuery = `{
  "type": "users",
  "where": [
    {"kind": "basic", "column": "city", "op": "=", "value": "Tbilisi"},
    {"kind": "nested", "where": [
      {"kind": "null", "column": "deleted_at"},
      {"kind": "in", "boolean": "or", "column": "tags", "values": ["admin"]}
    ]},
    {"kind": "multi_match", "columns": ["bio", "name"], "value": "golang", "mode": "80%"}
  ],
  "expr": "age >= 18",
  "order": [{"column": "age", "direction": "desc"}],
  "select": ["name", "age"],
  "limit": 5,
  "offset": 10
}`

func TestLoadAndApply(t *testing.T) {
	q, err := Load(strings.NewReader(usersQuery))
	require.NoError(t, err)

	target := q.Target(esquery.Target{Index: "shop", Type: "ignored"})
	require.Equal(t, esquery.Target{Index: "shop", Type: "users"}, target)

	p, err := whereexpr.NewParser()
	require.NoError(t, err)
	b, err := q.Apply(esquery.NewBuilder(target), p)
	require.NoError(t, err)

	spec, err := b.Spec()
	require.NoError(t, err)
	require.Equal(t, []esquery.Condition{
		esquery.Where("city", esquery.OpEq, "Tbilisi"),
		esquery.Nested(
			esquery.Null("deleted_at"),
			esquery.Or(esquery.In("tags", "admin")),
		),
		esquery.MultiMatch([]string{"bio", "name"}, "golang", "80%"),
		esquery.Where("age", esquery.OpGte, int64(18)),
	}, spec.Conditions)
	require.Equal(t, []esquery.Order{{Column: "age", Direction: esquery.Desc}}, spec.Orders)
	require.Equal(t, []string{"name", "age"}, spec.Columns)
	require.NotNil(t, spec.Limit)
	require.Equal(t, 5, *spec.Limit)
	require.Equal(t, 10, spec.Offset)

	req, err := esquery.NewCompiler().CompileSelect(spec)
	require.NoError(t, err)
	require.Equal(t, 5, req.Body["size"])
	require.Equal(t, 10, req.Body["from"])
}

func TestAggregateDocument(t *testing.T) {
	q, err := Parse([]byte(`{"aggregate": {"function": "SUM", "columns": ["age"]}}`))
	require.NoError(t, err)

	b, err := q.Apply(esquery.NewBuilder(esquery.Target{Index: "shop", Type: "users"}), nil)
	require.NoError(t, err)
	spec, err := b.Spec()
	require.NoError(t, err)
	require.Equal(t, &esquery.Aggregate{Function: esquery.AggSum, Columns: []string{"age"}}, spec.Aggregate)
}

func TestSchemaRejectsInvalidDocuments(t *testing.T) {
	for name, doc := range map[string]string{
		"not json":            `{`,
		"unknown field":       `{"wher": []}`,
		"unknown kind":        `{"where": [{"kind": "regex", "column": "a"}]}`,
		"basic without op":    `{"where": [{"kind": "basic", "column": "a", "value": 1}]}`,
		"in without values":   `{"where": [{"kind": "in", "column": "a"}]}`,
		"nested without body": `{"where": [{"kind": "nested"}]}`,
		"negative limit":      `{"limit": -1}`,
		"bad direction":       `{"order": [{"column": "a", "direction": "up"}]}`,
		"bad boolean":         `{"where": [{"kind": "null", "column": "a", "boolean": "xor"}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.ErrorIs(t, err, ErrInvalidQuery)
			require.ErrorIs(t, err, esquery.ErrInvalidCondition)
		})
	}
}

func TestApplySurfacesBuilderErrors(t *testing.T) {
	q, err := Parse([]byte(`{"where": [{"kind": "basic", "column": "a", "op": "~=", "value": 1}]}`))
	require.NoError(t, err)

	_, err = q.Apply(esquery.NewBuilder(esquery.Target{Index: "shop"}), nil)
	require.ErrorIs(t, err, esquery.ErrInvalidCondition)

	q, err = Parse([]byte(`{"expr": "a == 1"}`))
	require.NoError(t, err)
	_, err = q.Apply(esquery.NewBuilder(esquery.Target{Index: "shop"}), nil)
	require.ErrorIs(t, err, ErrInvalidQuery)
}

func TestParseKeepsLargeIntegers(t *testing.T) {
	q, err := Parse([]byte(`{"where": [
		{"kind": "basic", "column": "account_id", "op": "=", "value": 9007199254740993},
		{"kind": "in", "column": "order_id", "values": [1234567890123456789, 7]},
		{"kind": "nested", "where": [{"kind": "basic", "column": "score", "op": ">", "value": 2.5}]}
	]}`))
	require.NoError(t, err)

	b, err := q.Apply(esquery.NewBuilder(esquery.Target{Index: "shop", Type: "orders"}), nil)
	require.NoError(t, err)
	spec, err := b.Spec()
	require.NoError(t, err)
	require.Equal(t, []esquery.Condition{
		esquery.Where("account_id", esquery.OpEq, int64(9007199254740993)),
		esquery.In("order_id", int64(1234567890123456789), int64(7)),
		esquery.Nested(esquery.Where("score", esquery.OpGt, 2.5)),
	}, spec.Conditions)

	where, err := esquery.NewCompiler().CompileWhere(spec.Conditions, "orders")
	require.NoError(t, err)
	groups := where["filter"].(map[string]any)["or"].(map[string]any)["filters"].([]any)
	first := groups[0].(map[string]any)["and"].(map[string]any)["filters"].([]any)[0]
	require.Equal(t, map[string]any{"term": map[string]any{"account_id": int64(9007199254740993)}}, first)
}
