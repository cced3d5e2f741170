package whereexpr

import (
	"context"
	"testing"

	"github.com/gabisonia/go-esquery/esquery"
	"github.com/gabisonia/go-esquery/stores/memory"
	"github.com/stretchr/testify/require"
)

func newParser(t *testing.T) *Parser {
	t.Helper()
	p, err := NewParser()
	require.NoError(t, err)
	return p
}

func TestTranslateComparisons(t *testing.T) {
	p := newParser(t)

	conds, err := p.Translate(`city == "Tbilisi" && 30 <= age && !(score > 2.5)`)
	require.NoError(t, err)
	require.Equal(t, []esquery.Condition{
		esquery.Where("city", esquery.OpEq, "Tbilisi"),
		esquery.Where("age", esquery.OpGte, int64(30)),
		esquery.Where("score", esquery.OpLte, 2.5),
	}, conds)
}

func TestTranslateDisjunctionBecomesNestedGroup(t *testing.T) {
	p := newParser(t)

	conds, err := p.Translate(`active && (a == 1 && b == 2 || c == 3)`)
	require.NoError(t, err)
	require.Equal(t, []esquery.Condition{
		esquery.Where("active", esquery.OpEq, true),
		esquery.Nested(
			esquery.Where("a", esquery.OpEq, int64(1)),
			esquery.Where("b", esquery.OpEq, int64(2)),
			esquery.Or(esquery.Where("c", esquery.OpEq, int64(3))),
		),
	}, conds)
}

func TestTranslateDeMorgan(t *testing.T) {
	p := newParser(t)

	conds, err := p.Translate(`!(a == 1 || b != 2)`)
	require.NoError(t, err)
	require.Equal(t, []esquery.Condition{
		esquery.Where("a", esquery.OpNotEq, int64(1)),
		esquery.Where("b", esquery.OpEq, int64(2)),
	}, conds)

	conds, err = p.Translate(`!(a < 1 && b >= 2)`)
	require.NoError(t, err)
	require.Equal(t, []esquery.Condition{
		esquery.Nested(
			esquery.Where("a", esquery.OpGte, int64(1)),
			esquery.Or(esquery.Where("b", esquery.OpLt, int64(2))),
		),
	}, conds)
}

func TestTranslatePresenceMembershipAndText(t *testing.T) {
	p := newParser(t)

	conds, err := p.Translate(`deleted_at == null && has(profile.tier) && tag in ["a", "b"] && !(id in [1u]) && like(name, "smith") && multi_match(["bio", name], "golang", "80%")`)
	require.NoError(t, err)
	require.Equal(t, []esquery.Condition{
		esquery.NotNull("deleted_at"),
		esquery.Null("profile.tier"),
		esquery.In("tag", "a", "b"),
		esquery.NotIn("id", int64(1)),
		esquery.Where("name", esquery.OpLike, "smith"),
		esquery.MultiMatch([]string{"bio", "name"}, "golang", "80%"),
	}, conds)

	conds, err = p.Translate(`name.like("bob") && user.city != null`)
	require.NoError(t, err)
	require.Equal(t, []esquery.Condition{
		esquery.Where("name", esquery.OpLike, "bob"),
		esquery.Null("user.city"),
	}, conds)
}

func TestTranslateErrors(t *testing.T) {
	p := newParser(t)

	for _, expr := range []string{
		``,
		`a ==`,
		`a == b`,
		`size(a) > 1`,
		`!like(a, "x")`,
		`a < null`,
		`a in b`,
		`multi_match("a", "x")`,
		`1 + 2`,
	} {
		t.Run(expr, func(t *testing.T) {
			_, err := p.Translate(expr)
			require.ErrorIs(t, err, ErrInvalidExpression)
			require.ErrorIs(t, err, esquery.ErrInvalidCondition)
		})
	}
}

func TestApplyAgainstMemoryEngine(t *testing.T) {
	engine := memory.NewEngine(memory.Options{})
	conn, err := esquery.NewConnection(engine, "shop", esquery.ConnectionOptions{})
	require.NoError(t, err)
	table := conn.Table("users", "")

	ctx := context.Background()
	for _, doc := range []map[string]any{
		{"_id": "u1", "name": "Alice Smith", "age": 34, "city": "Tbilisi"},
		{"_id": "u2", "name": "Bob Stone", "age": 19, "city": "Batumi"},
		{"_id": "u3", "name": "Carol Smith", "age": 52, "city": "Batumi"},
	} {
		_, err := table.Insert(ctx, doc)
		require.NoError(t, err)
	}

	p := newParser(t)
	b, err := p.Apply(table.Query().OrderBy("_id", "asc"), `city == "Batumi" && (age > 50 || like(name, "stone"))`)
	require.NoError(t, err)

	rs, err := table.Get(ctx, b)
	require.NoError(t, err)
	var got []string
	for _, row := range rs.Rows {
		got = append(got, row.ID)
	}
	require.Equal(t, []string{"u2", "u3"}, got)
}

func TestTranslateScoringDisjunctsGetOwnGroups(t *testing.T) {
	p := newParser(t)

	conds, err := p.Translate(`like(name, "alice") || age < 20 && city == "Batumi"`)
	require.NoError(t, err)
	require.Equal(t, []esquery.Condition{
		esquery.Nested(
			esquery.Or(esquery.Nested(esquery.Where("name", esquery.OpLike, "alice"))),
			esquery.Or(esquery.Where("age", esquery.OpLt, int64(20))),
			esquery.Where("city", esquery.OpEq, "Batumi"),
		),
	}, conds)
}

func TestApplyDisjunctionsMatchEitherSide(t *testing.T) {
	engine := memory.NewEngine(memory.Options{})
	conn, err := esquery.NewConnection(engine, "shop", esquery.ConnectionOptions{})
	require.NoError(t, err)
	table := conn.Table("users", "")

	ctx := context.Background()
	_, err = table.Insert(ctx, map[string]any{"_id": "b1", "name": "bob", "bio": "golang", "age": 10})
	require.NoError(t, err)

	p := newParser(t)
	for _, tc := range []struct {
		expr string
		want int64
	}{
		{`like(name, "alice") || like(bio, "golang")`, 1},
		{`like(name, "alice") || age < 20`, 1},
		{`age > 50 || like(bio, "golang")`, 1},
		{`age > 50 || like(name, "alice")`, 0},
		{`deleted_at == null || age > 50`, 1},
	} {
		t.Run(tc.expr, func(t *testing.T) {
			b, err := p.Apply(table.Query(), tc.expr)
			require.NoError(t, err)
			n, err := table.Total(ctx, b)
			require.NoError(t, err)
			require.Equal(t, tc.want, n)
		})
	}
}
