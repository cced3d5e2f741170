package esquery

import (
	"fmt"
	"strings"
)

// supportedOperations is the builder surface the search backend can express.
var supportedOperations = map[string]struct{}{
	"where":             {},
	"orWhere":           {},
	"whereMultiMatch":   {},
	"orWhereMultiMatch": {},
	"whereIn":           {},
	"orWhereIn":         {},
	"whereNotIn":        {},
	"orWhereNotIn":      {},
	"whereNull":         {},
	"orWhereNull":       {},
	"whereNotNull":      {},
	"orWhereNotNull":    {},
	"whereNested":       {},
	"orWhereNested":     {},
	"whereCondition":    {},
	"orderBy":           {},
	"orderByDesc":       {},
	"select":            {},
	"limit":             {},
	"offset":            {},
	"aggregate":         {},
}

// Supports reports whether the builder can express op.
func Supports(op string) bool {
	_, ok := supportedOperations[op]
	return ok
}

// Builder accumulates the conditions and modifiers of a query.
// The first validation failure is kept and reported by Spec and Err;
// calls after a failure are no-ops.
type Builder struct {
	target     Target
	conditions []Condition
	aggregate  *Aggregate
	orders     []Order
	limit      *int
	offset     int
	columns    []string
	err        error
}

// NewBuilder starts a query against target.
func NewBuilder(target Target) *Builder {
	return &Builder{target: target}
}

// Target returns the index and type the builder queries.
func (b *Builder) Target() Target {
	return b.target
}

// Err returns the first validation error, if any.
func (b *Builder) Err() error {
	return b.err
}

// Where adds an and-joined comparison. op is one of =, !=, <>, <, <=, >, >=, like.
func (b *Builder) Where(column, op string, value any) *Builder {
	return b.addBasic(column, op, value, BoolAnd)
}

// OrWhere adds an or-joined comparison.
func (b *Builder) OrWhere(column, op string, value any) *Builder {
	return b.addBasic(column, op, value, BoolOr)
}

func (b *Builder) addBasic(column, op string, value any, boolean Boolean) *Builder {
	if b.err != nil {
		return b
	}
	operator, err := ParseOperator(op)
	if err != nil {
		b.err = err
		return b
	}
	return b.add(BasicCondition{Column: column, Operator: operator, Value: value, Boolean: boolean})
}

// WhereMultiMatch matches value across columns. mode is "and", "or" or a
// minimum-should-match percentage such as "80%".
func (b *Builder) WhereMultiMatch(columns []string, value any, mode string) *Builder {
	return b.addMultiMatch(columns, value, mode, BoolAnd)
}

// OrWhereMultiMatch is WhereMultiMatch joined with "or". Multi-match clauses
// are always required, so the boolean is recorded but does not change routing.
func (b *Builder) OrWhereMultiMatch(columns []string, value any, mode string) *Builder {
	return b.addMultiMatch(columns, value, mode, BoolOr)
}

func (b *Builder) addMultiMatch(columns []string, value any, mode string, boolean Boolean) *Builder {
	cp := make([]string, len(columns))
	copy(cp, columns)
	return b.add(MultiMatchCondition{Columns: cp, Value: value, Mode: ParseMatchMode(mode), Boolean: boolean})
}

// WhereIn adds an and-joined membership test. An empty set adds a clause
// that compiles to nothing.
func (b *Builder) WhereIn(column string, values ...any) *Builder {
	return b.add(InCondition{Column: column, Values: copyValues(values), Boolean: BoolAnd})
}

// OrWhereIn adds an or-joined membership test.
func (b *Builder) OrWhereIn(column string, values ...any) *Builder {
	return b.add(InCondition{Column: column, Values: copyValues(values), Boolean: BoolOr})
}

// WhereNotIn adds an and-joined non-membership test.
func (b *Builder) WhereNotIn(column string, values ...any) *Builder {
	return b.add(NotInCondition{Column: column, Values: copyValues(values), Boolean: BoolAnd})
}

// OrWhereNotIn adds an or-joined non-membership test.
func (b *Builder) OrWhereNotIn(column string, values ...any) *Builder {
	return b.add(NotInCondition{Column: column, Values: copyValues(values), Boolean: BoolOr})
}

func (b *Builder) WhereNull(column string) *Builder {
	return b.add(NullCondition{Column: column, Boolean: BoolAnd})
}

func (b *Builder) OrWhereNull(column string) *Builder {
	return b.add(NullCondition{Column: column, Boolean: BoolOr})
}

func (b *Builder) WhereNotNull(column string) *Builder {
	return b.add(NotNullCondition{Column: column, Boolean: BoolAnd})
}

func (b *Builder) OrWhereNotNull(column string) *Builder {
	return b.add(NotNullCondition{Column: column, Boolean: BoolOr})
}

// WhereNested adds an and-joined parenthesized group built by fn.
func (b *Builder) WhereNested(fn func(*Builder)) *Builder {
	return b.addNested(fn, BoolAnd)
}

// OrWhereNested adds an or-joined parenthesized group built by fn.
func (b *Builder) OrWhereNested(fn func(*Builder)) *Builder {
	return b.addNested(fn, BoolOr)
}

func (b *Builder) addNested(fn func(*Builder), boolean Boolean) *Builder {
	if b.err != nil {
		return b
	}
	if fn == nil {
		b.err = fmt.Errorf("%w: nested group without builder func", ErrInvalidCondition)
		return b
	}
	sub := NewBuilder(b.target)
	fn(sub)
	if sub.err != nil {
		b.err = sub.err
		return b
	}
	return b.add(NestedCondition{Conditions: sub.conditions, Boolean: boolean})
}

// WhereCondition appends prebuilt conditions in order.
func (b *Builder) WhereCondition(conditions ...Condition) *Builder {
	for _, cond := range conditions {
		b.add(cond)
	}
	return b
}

func (b *Builder) add(cond Condition) *Builder {
	if b.err != nil {
		return b
	}
	if err := validateCondition(cond); err != nil {
		b.err = err
		return b
	}
	b.conditions = append(b.conditions, cond)
	return b
}

// OrderBy appends a sort on column. direction defaults to asc.
func (b *Builder) OrderBy(column string, direction string) *Builder {
	if b.err != nil {
		return b
	}
	dir := Direction(strings.ToLower(strings.TrimSpace(direction)))
	if dir == "" {
		dir = Asc
	}
	if dir != Asc && dir != Desc {
		b.err = fmt.Errorf("%w: unsupported sort direction %q", ErrInvalidCondition, direction)
		return b
	}
	if err := requireColumn(column); err != nil {
		b.err = err
		return b
	}
	b.orders = append(b.orders, Order{Column: column, Direction: dir})
	return b
}

func (b *Builder) OrderByDesc(column string) *Builder {
	return b.OrderBy(column, string(Desc))
}

// Select restricts the returned document fields.
func (b *Builder) Select(columns ...string) *Builder {
	if b.err != nil {
		return b
	}
	b.columns = append(b.columns[:0:0], columns...)
	return b
}

// Limit caps the number of hits. Negative values are treated as zero.
func (b *Builder) Limit(n int) *Builder {
	if b.err != nil {
		return b
	}
	n = max(0, n)
	b.limit = &n
	return b
}

// Offset skips the first n hits. Negative values are clamped to zero.
func (b *Builder) Offset(n int) *Builder {
	if b.err != nil {
		return b
	}
	b.offset = max(0, n)
	return b
}

// Aggregate requests fn over columns. With no columns the key field is used.
func (b *Builder) Aggregate(fn AggregateFunction, columns ...string) *Builder {
	if b.err != nil {
		return b
	}
	if len(columns) == 0 {
		columns = []string{"*"}
	}
	cp := make([]string, len(columns))
	copy(cp, columns)
	b.aggregate = &Aggregate{Function: fn, Columns: cp}
	return b
}

// Spec returns an independent snapshot of the accumulated query.
func (b *Builder) Spec() (QuerySpec, error) {
	if b.err != nil {
		return QuerySpec{}, b.err
	}
	spec := QuerySpec{
		Target:     b.target,
		Conditions: append([]Condition(nil), b.conditions...),
		Orders:     append([]Order(nil), b.orders...),
		Offset:     b.offset,
		Columns:    append([]string(nil), b.columns...),
	}
	if b.limit != nil {
		limit := *b.limit
		spec.Limit = &limit
	}
	if b.aggregate != nil {
		agg := *b.aggregate
		agg.Columns = append([]string(nil), b.aggregate.Columns...)
		spec.Aggregate = &agg
	}
	return spec, nil
}

// Clone returns an independent copy of the builder.
func (b *Builder) Clone() *Builder {
	out := &Builder{
		target:     b.target,
		conditions: append([]Condition(nil), b.conditions...),
		orders:     append([]Order(nil), b.orders...),
		offset:     b.offset,
		columns:    append([]string(nil), b.columns...),
		err:        b.err,
	}
	if b.limit != nil {
		limit := *b.limit
		out.limit = &limit
	}
	if b.aggregate != nil {
		agg := *b.aggregate
		out.aggregate = &agg
	}
	return out
}

// Join is not expressible against a document index.
func (b *Builder) Join(table, first, operator, second string) error {
	return Unsupported("join")
}

func (b *Builder) JoinWhere(table, first, operator, second string) error {
	return Unsupported("joinWhere")
}

func (b *Builder) LeftJoin(table, first, operator, second string) error {
	return Unsupported("leftJoin")
}

func (b *Builder) LeftJoinWhere(table, first, operator, second string) error {
	return Unsupported("leftJoinWhere")
}

func (b *Builder) RightJoin(table, first, operator, second string) error {
	return Unsupported("rightJoin")
}

func (b *Builder) CrossJoin(table string) error {
	return Unsupported("crossJoin")
}

// Raw is rejected: there is no raw statement language to pass through.
func (b *Builder) Raw(expression string) error {
	return Unsupported("raw")
}

// WhereInSub is rejected: the engine has no sub-selects.
func (b *Builder) WhereInSub(column string, sub *Builder) error {
	return Unsupported("whereInSub")
}

func (b *Builder) GroupBy(columns ...string) error {
	return Unsupported("groupBy")
}

func (b *Builder) Having(column, operator string, value any) error {
	return Unsupported("having")
}

func (b *Builder) Union(other *Builder) error {
	return Unsupported("union")
}

func (b *Builder) LockForUpdate() error {
	return Unsupported("lock")
}
