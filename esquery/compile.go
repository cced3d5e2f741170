package esquery

import (
	"fmt"
	"strings"
)

// Compiler translates query specs into wire request trees.
// Its lookup tables are built once and never modified, so a Compiler is
// safe for concurrent use.
type Compiler struct {
	rangeOps      map[Operator]string
	aggTypes      map[AggregateFunction]string
	componentKeys map[string]string
}

// NewCompiler returns a Compiler with the engine's operator and aggregation tables.
func NewCompiler() *Compiler {
	return &Compiler{
		rangeOps:      defaultRangeOperators(),
		aggTypes:      defaultAggregateTypes(),
		componentKeys: defaultComponentKeys(),
	}
}

// AggregateType returns the engine aggregation type for fn.
func (c *Compiler) AggregateType(fn AggregateFunction) (string, bool) {
	mapped, ok := c.aggTypes[AggregateFunction(strings.ToLower(string(fn)))]
	return mapped, ok
}

// CompileSelect compiles spec into a search request.
func (c *Compiler) CompileSelect(spec QuerySpec) (Request, error) {
	body := WireTree{}

	where, err := c.CompileWhere(spec.Conditions, spec.Type)
	if err != nil {
		return Request{}, err
	}
	for k, v := range where {
		body[k] = v
	}

	if spec.Aggregate != nil {
		aggs, err := c.compileAggregate(*spec.Aggregate, spec.keyName())
		if err != nil {
			return Request{}, err
		}
		body[c.componentKeys["aggregate"]] = aggs
		// Only the aggregation matters; hits are capped at one.
		body[c.componentKeys["limit"]] = 1
	} else {
		if len(spec.Columns) > 0 {
			columns := make([]string, len(spec.Columns))
			copy(columns, spec.Columns)
			body[c.componentKeys["columns"]] = columns
		}
		if spec.Limit != nil {
			body[c.componentKeys["limit"]] = max(0, *spec.Limit)
		}
	}

	if len(spec.Orders) > 0 {
		sorts, err := c.compileOrders(spec.Orders, spec.Type)
		if err != nil {
			return Request{}, err
		}
		body[c.componentKeys["orders"]] = sorts
	}

	if offset := max(0, spec.Offset); offset > 0 {
		body[c.componentKeys["offset"]] = offset
	}

	return Request{
		Index: spec.Index,
		Type:  spec.Type,
		Body:  body,
	}, nil
}

// CompileWhere compiles an ordered condition list into the query and filter
// portions of a body. table is used to resolve qualified column names.
// The result is empty when no condition produced a fragment.
func (c *Compiler) CompileWhere(conditions []Condition, table string) (WireTree, error) {
	w := newWhereCompiler(c, table)
	for _, cond := range conditions {
		if err := w.add(cond); err != nil {
			return nil, err
		}
	}
	return w.assemble(), nil
}

type whereCompiler struct {
	compiler *Compiler
	table    string

	must    []any
	mustNot []any
	should  []any

	groups  [][]any
	current int
}

func newWhereCompiler(c *Compiler, table string) *whereCompiler {
	return &whereCompiler{
		compiler: c,
		table:    table,
		groups:   [][]any{{}},
	}
}

func (w *whereCompiler) add(cond Condition) error {
	if cond == nil {
		return fmt.Errorf("%w: nil condition", ErrInvalidCondition)
	}
	fragment, isFilter, err := w.compileClause(cond)
	if err != nil {
		return err
	}
	if fragment == nil {
		return nil
	}

	boolean := cond.boolean()
	if isFilter && boolean == BoolOr && len(w.groups[w.current]) > 0 {
		w.groups = append(w.groups, []any{})
		w.current++
	}

	if _, ok := cond.(MultiMatchCondition); ok {
		w.must = append(w.must, fragment)
		return nil
	}
	switch {
	case isFilter:
		w.groups[w.current] = append(w.groups[w.current], fragment)
	case boolean == BoolOr:
		w.should = append(w.should, fragment)
	default:
		w.must = append(w.must, fragment)
	}
	return nil
}

func (w *whereCompiler) compileClause(cond Condition) (map[string]any, bool, error) {
	switch node := cond.(type) {
	case BasicCondition:
		return w.compileBasic(node)
	case MultiMatchCondition:
		fragment, err := w.compileMultiMatch(node)
		return fragment, false, err
	case InCondition:
		fragment, err := w.compileIn(node.Column, node.Values)
		return fragment, true, err
	case NotInCondition:
		fragment, err := w.compileIn(node.Column, node.Values)
		if err != nil || fragment == nil {
			return nil, true, err
		}
		return map[string]any{"not": fragment}, true, nil
	case NullCondition:
		column, err := w.resolveColumn(node.Column)
		if err != nil {
			return nil, true, err
		}
		return map[string]any{"exists": map[string]any{"field": column}}, true, nil
	case NotNullCondition:
		column, err := w.resolveColumn(node.Column)
		if err != nil {
			return nil, false, err
		}
		return map[string]any{"missing": map[string]any{"field": column}}, false, nil
	case NestedCondition:
		fragment, err := w.compileNested(node)
		return fragment, true, err
	default:
		return nil, false, Unsupported(fmt.Sprintf("where clause %T", cond))
	}
}

func (w *whereCompiler) compileBasic(node BasicCondition) (map[string]any, bool, error) {
	column, err := w.resolveColumn(node.Column)
	if err != nil {
		return nil, false, err
	}

	op := Operator(strings.ToLower(string(node.Operator)))
	switch op {
	case OpEq:
		return map[string]any{"term": map[string]any{column: node.Value}}, true, nil
	case OpNotEq, OpNotEqAlt:
		return map[string]any{
			"not": map[string]any{"term": map[string]any{column: node.Value}},
		}, true, nil
	case OpGt, OpGte, OpLt, OpLte:
		return map[string]any{
			"range": map[string]any{column: map[string]any{w.compiler.rangeOps[op]: node.Value}},
		}, true, nil
	case OpLike:
		return map[string]any{
			"match": map[string]any{column: map[string]any{
				"query":     node.Value,
				"fuzziness": "AUTO",
				"operator":  "and",
			}},
		}, false, nil
	default:
		return nil, false, Unsupported("where operator " + string(node.Operator))
	}
}

func (w *whereCompiler) compileMultiMatch(node MultiMatchCondition) (map[string]any, error) {
	if len(node.Columns) == 0 {
		return nil, fmt.Errorf("%w: multi-match requires at least one column", ErrInvalidCondition)
	}
	fields := make([]string, 0, len(node.Columns))
	for _, col := range node.Columns {
		column, err := w.resolveColumn(col)
		if err != nil {
			return nil, err
		}
		fields = append(fields, column)
	}

	body := map[string]any{
		"query":  node.Value,
		"fields": fields,
	}
	if node.Mode.MinimumShouldMatch != "" {
		body["minimum_should_match"] = node.Mode.MinimumShouldMatch
	} else {
		operator := node.Mode.Operator
		if operator == "" {
			operator = "and"
		}
		body["operator"] = operator
	}
	return map[string]any{"multi_match": body}, nil
}

// compileIn returns nil for an empty value set: the clause is dropped.
func (w *whereCompiler) compileIn(column string, values []any) (map[string]any, error) {
	if len(values) == 0 {
		return nil, nil
	}
	resolved, err := w.resolveColumn(column)
	if err != nil {
		return nil, err
	}
	return map[string]any{"terms": map[string]any{resolved: copyValues(values)}}, nil
}

func (w *whereCompiler) compileNested(node NestedCondition) (map[string]any, error) {
	sub := newWhereCompiler(w.compiler, w.table)
	for _, child := range node.Conditions {
		if err := sub.add(child); err != nil {
			return nil, err
		}
	}
	tree := sub.assemble()

	query, hasQuery := tree[keyQuery]
	filter, hasFilter := tree[keyFilter]
	switch {
	case hasQuery && hasFilter:
		return map[string]any{"and": map[string]any{"filters": []any{
			map[string]any{keyQuery: query},
			filter,
		}}}, nil
	case hasFilter:
		return filter.(map[string]any), nil
	case hasQuery:
		return map[string]any{keyQuery: query}, nil
	default:
		return nil, nil
	}
}

func (w *whereCompiler) assemble() WireTree {
	out := WireTree{}

	boolQuery := map[string]any{}
	switch len(w.must) {
	case 0:
	case 1:
		boolQuery["must"] = w.must[0]
	default:
		boolQuery["must"] = w.must
	}
	if len(w.mustNot) > 0 {
		boolQuery["must_not"] = w.mustNot
	}
	if len(w.should) > 0 {
		boolQuery["should"] = w.should
	}
	if len(boolQuery) > 0 {
		out[keyQuery] = map[string]any{"bool": boolQuery}
	}

	filters := make([]any, 0, len(w.groups))
	for _, group := range w.groups {
		if len(group) == 0 {
			continue
		}
		filters = append(filters, map[string]any{"and": map[string]any{"filters": group}})
	}
	if len(filters) > 0 {
		out[keyFilter] = map[string]any{"or": map[string]any{"filters": filters}}
	}
	return out
}

// resolveColumn strips a qualifier naming the query's own table. Any other
// qualifier would need a join.
func (w *whereCompiler) resolveColumn(column string) (string, error) {
	return resolveColumn(column, w.table)
}

func resolveColumn(column, table string) (string, error) {
	column = strings.TrimSpace(column)
	if column == "" {
		return "", fmt.Errorf("%w: column is empty", ErrInvalidCondition)
	}
	if table == "" {
		return column, nil
	}
	qualifier, rest, ok := strings.Cut(column, ".")
	if !ok {
		return column, nil
	}
	if qualifier != table {
		return "", Unsupported("cross-table reference")
	}
	return rest, nil
}

func (c *Compiler) compileAggregate(agg Aggregate, keyName string) (map[string]any, error) {
	mapped, ok := c.AggregateType(agg.Function)
	if !ok {
		return nil, &AggregateFunctionMismatchError{Function: string(agg.Function)}
	}
	column := strings.Join(agg.Columns, ",")
	if column == "*" || column == "" {
		column = keyName
	}
	return map[string]any{
		aggregateName: map[string]any{
			mapped: map[string]any{"field": column},
		},
	}, nil
}

func (c *Compiler) compileOrders(orders []Order, table string) ([]any, error) {
	sorts := make([]any, 0, len(orders))
	for _, order := range orders {
		column, err := resolveColumn(order.Column, table)
		if err != nil {
			return nil, err
		}
		direction := Direction(strings.ToLower(string(order.Direction)))
		if direction == "" {
			direction = Asc
		}
		if direction != Asc && direction != Desc {
			return nil, fmt.Errorf("%w: unsupported sort direction %q", ErrInvalidCondition, order.Direction)
		}
		sorts = append(sorts, map[string]any{column: string(direction)})
	}
	return sorts, nil
}
