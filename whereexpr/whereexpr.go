// Package whereexpr turns CEL boolean expressions such as
//
//	city == "Tbilisi" && (age >= 30 || like(name, "smith"))
//
// into esquery conditions.
//
// Supported forms are comparisons between a field and a literal, null checks,
// has(field), "field in [..]", like(field, "text"), multi_match([fields],
// "text"[, mode]), bare boolean fields, negation, && and ||.
package whereexpr

import (
	"fmt"
	"strings"

	"github.com/gabisonia/go-esquery/esquery"
	"github.com/google/cel-go/cel"
	celast "github.com/google/cel-go/common/ast"
	"github.com/google/cel-go/common/operators"
	"github.com/google/cel-go/common/types"
)

// ErrInvalidExpression wraps every parse or translation failure.
var ErrInvalidExpression = fmt.Errorf("%w: where expression", esquery.ErrInvalidCondition)

const (
	fnLike       = "like"
	fnMultiMatch = "multi_match"
)

// Parser translates expressions. It is safe for concurrent use.
type Parser struct {
	env *cel.Env
}

// NewParser creates a parser with an empty CEL environment. Expressions are
// only parsed, never type-checked, so fields need no declarations.
func NewParser() (*Parser, error) {
	env, err := cel.NewEnv()
	if err != nil {
		return nil, fmt.Errorf("create cel env: %w", err)
	}
	return &Parser{env: env}, nil
}

// Translate parses expr into and-joined conditions.
func (p *Parser) Translate(expr string) ([]esquery.Condition, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, fmt.Errorf("%w: empty expression", ErrInvalidExpression)
	}
	ast, issues := p.env.Parse(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExpression, issues.Err())
	}
	return conjunction(ast.NativeRep().Expr(), false)
}

// Apply translates expr and appends the result to b.
func (p *Parser) Apply(b *esquery.Builder, expr string) (*esquery.Builder, error) {
	conds, err := p.Translate(expr)
	if err != nil {
		return b, err
	}
	b.WhereCondition(conds...)
	return b, b.Err()
}

func isCall(e celast.Expr, fn string) bool {
	return e.Kind() == celast.CallKind && e.AsCall().FunctionName() == fn
}

// splitsOr reports whether e, under the given negation, is a disjunction.
func splitsOr(e celast.Expr, negated bool) bool {
	return (isCall(e, operators.LogicalOr) && !negated) || (isCall(e, operators.LogicalAnd) && negated)
}

func splitsAnd(e celast.Expr, negated bool) bool {
	return (isCall(e, operators.LogicalAnd) && !negated) || (isCall(e, operators.LogicalOr) && negated)
}

func conjunction(e celast.Expr, negated bool) ([]esquery.Condition, error) {
	if isCall(e, operators.LogicalNot) {
		return conjunction(e.AsCall().Args()[0], !negated)
	}
	if splitsAnd(e, negated) {
		var out []esquery.Condition
		for _, arg := range e.AsCall().Args() {
			conds, err := conjunction(arg, negated)
			if err != nil {
				return nil, err
			}
			out = append(out, conds...)
		}
		return out, nil
	}
	if splitsOr(e, negated) {
		groups, err := disjunction(e, negated)
		if err != nil {
			return nil, err
		}
		var inner []esquery.Condition
		for i, group := range groups {
			if !filterOnly(group) {
				inner = append(inner, esquery.Or(esquery.Nested(group...)))
				continue
			}
			for j, c := range group {
				if i > 0 && j == 0 {
					c = esquery.Or(c)
				}
				inner = append(inner, c)
			}
		}
		return []esquery.Condition{esquery.Nested(inner...)}, nil
	}
	cond, err := leaf(e, negated)
	if err != nil {
		return nil, err
	}
	return []esquery.Condition{cond}, nil
}

// filterOnly reports whether every condition of group lands in the filter
// groups. Such a group can be or-joined inline; any scoring condition would
// otherwise be required by the query section.
func filterOnly(group []esquery.Condition) bool {
	for _, c := range group {
		if !esquery.IsFilter(c) {
			return false
		}
	}
	return true
}

// disjunction returns the or-joined groups of e; each group is and-joined.
func disjunction(e celast.Expr, negated bool) ([][]esquery.Condition, error) {
	if isCall(e, operators.LogicalNot) {
		return disjunction(e.AsCall().Args()[0], !negated)
	}
	if splitsOr(e, negated) {
		var out [][]esquery.Condition
		for _, arg := range e.AsCall().Args() {
			groups, err := disjunction(arg, negated)
			if err != nil {
				return nil, err
			}
			out = append(out, groups...)
		}
		return out, nil
	}
	conds, err := conjunction(e, negated)
	if err != nil {
		return nil, err
	}
	return [][]esquery.Condition{conds}, nil
}

func leaf(e celast.Expr, negated bool) (esquery.Condition, error) {
	switch e.Kind() {
	case celast.IdentKind:
		return esquery.Where(e.AsIdent(), esquery.OpEq, !negated), nil
	case celast.SelectKind:
		sel := e.AsSelect()
		if sel.IsTestOnly() {
			field, err := fieldPath(sel.Operand())
			if err != nil {
				return nil, err
			}
			field += "." + sel.FieldName()
			return presence(field, !negated), nil
		}
		field, err := fieldPath(e)
		if err != nil {
			return nil, err
		}
		return esquery.Where(field, esquery.OpEq, !negated), nil
	case celast.CallKind:
		return callCondition(e.AsCall(), negated)
	default:
		return nil, fmt.Errorf("%w: unsupported expression kind %v", ErrInvalidExpression, e.Kind())
	}
}

var comparisonOperators = map[string]esquery.Operator{
	operators.Equals:        esquery.OpEq,
	operators.NotEquals:     esquery.OpNotEq,
	operators.Less:          esquery.OpLt,
	operators.LessEquals:    esquery.OpLte,
	operators.Greater:       esquery.OpGt,
	operators.GreaterEquals: esquery.OpGte,
}

func callCondition(call celast.CallExpr, negated bool) (esquery.Condition, error) {
	fn := call.FunctionName()
	args := call.Args()
	if call.IsMemberFunction() {
		args = append([]celast.Expr{call.Target()}, args...)
	}

	if op, ok := comparisonOperators[fn]; ok {
		return comparison(op, args, negated)
	}

	switch fn {
	case operators.In, operators.OldIn:
		return membership(args, negated)
	case fnLike:
		if negated {
			return nil, fmt.Errorf("%w: like cannot be negated", ErrInvalidExpression)
		}
		if len(args) != 2 {
			return nil, fmt.Errorf("%w: like expects a field and a text", ErrInvalidExpression)
		}
		field, err := fieldPath(args[0])
		if err != nil {
			return nil, err
		}
		value, err := literal(args[1])
		if err != nil {
			return nil, err
		}
		return esquery.Where(field, esquery.OpLike, value), nil
	case fnMultiMatch:
		return multiMatch(args, negated)
	default:
		return nil, fmt.Errorf("%w: unsupported function %q", ErrInvalidExpression, displayName(fn))
	}
}

func comparison(op esquery.Operator, args []celast.Expr, negated bool) (esquery.Condition, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("%w: comparison expects two operands", ErrInvalidExpression)
	}
	lhs, rhs := args[0], args[1]
	if lhs.Kind() == celast.LiteralKind {
		lhs, rhs = rhs, lhs
		op = mirror(op)
	}
	field, err := fieldPath(lhs)
	if err != nil {
		return nil, err
	}
	if negated {
		op = negate(op)
	}

	if rhs.Kind() == celast.LiteralKind {
		if _, isNull := rhs.AsLiteral().(types.Null); isNull {
			switch op {
			case esquery.OpEq:
				return presence(field, false), nil
			case esquery.OpNotEq:
				return presence(field, true), nil
			default:
				return nil, fmt.Errorf("%w: null only supports == and !=", ErrInvalidExpression)
			}
		}
	}

	value, err := literal(rhs)
	if err != nil {
		return nil, err
	}
	return esquery.Where(field, op, value), nil
}

// presence selects by emitted clause: Null compiles to exists and NotNull to
// missing.
func presence(field string, present bool) esquery.Condition {
	if present {
		return esquery.Null(field)
	}
	return esquery.NotNull(field)
}

func membership(args []celast.Expr, negated bool) (esquery.Condition, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("%w: in expects a field and a list", ErrInvalidExpression)
	}
	field, err := fieldPath(args[0])
	if err != nil {
		return nil, err
	}
	values, err := literalList(args[1])
	if err != nil {
		return nil, err
	}
	if negated {
		return esquery.NotIn(field, values...), nil
	}
	return esquery.In(field, values...), nil
}

func multiMatch(args []celast.Expr, negated bool) (esquery.Condition, error) {
	if negated {
		return nil, fmt.Errorf("%w: multi_match cannot be negated", ErrInvalidExpression)
	}
	if len(args) < 2 || len(args) > 3 {
		return nil, fmt.Errorf("%w: multi_match expects fields, text and an optional mode", ErrInvalidExpression)
	}
	if args[0].Kind() != celast.ListKind {
		return nil, fmt.Errorf("%w: multi_match fields must be a list", ErrInvalidExpression)
	}
	var columns []string
	for _, el := range args[0].AsList().Elements() {
		switch el.Kind() {
		case celast.LiteralKind:
			s, ok := el.AsLiteral().Value().(string)
			if !ok {
				return nil, fmt.Errorf("%w: multi_match field names must be strings", ErrInvalidExpression)
			}
			columns = append(columns, s)
		default:
			name, err := fieldPath(el)
			if err != nil {
				return nil, err
			}
			columns = append(columns, name)
		}
	}
	value, err := literal(args[1])
	if err != nil {
		return nil, err
	}
	mode := ""
	if len(args) == 3 {
		m, err := literal(args[2])
		if err != nil {
			return nil, err
		}
		s, ok := m.(string)
		if !ok {
			return nil, fmt.Errorf("%w: multi_match mode must be a string", ErrInvalidExpression)
		}
		mode = s
	}
	return esquery.MultiMatch(columns, value, mode), nil
}

// fieldPath flattens an identifier or select chain ("a.b.c").
func fieldPath(e celast.Expr) (string, error) {
	var parts []string
	for e.Kind() == celast.SelectKind {
		sel := e.AsSelect()
		if sel.IsTestOnly() {
			return "", fmt.Errorf("%w: has() is not a field", ErrInvalidExpression)
		}
		parts = append(parts, sel.FieldName())
		e = sel.Operand()
	}
	if e.Kind() != celast.IdentKind {
		return "", fmt.Errorf("%w: expected a field name", ErrInvalidExpression)
	}
	parts = append(parts, e.AsIdent())
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, "."), nil
}

func literal(e celast.Expr) (any, error) {
	if e.Kind() != celast.LiteralKind {
		return nil, fmt.Errorf("%w: expected a literal value", ErrInvalidExpression)
	}
	switch v := e.AsLiteral().(type) {
	case types.Null:
		return nil, nil
	case types.Bytes:
		return string(v), nil
	case types.Uint:
		return int64(v), nil
	default:
		return v.Value(), nil
	}
}

func literalList(e celast.Expr) ([]any, error) {
	if e.Kind() != celast.ListKind {
		return nil, fmt.Errorf("%w: expected a list literal", ErrInvalidExpression)
	}
	elements := e.AsList().Elements()
	out := make([]any, 0, len(elements))
	for _, el := range elements {
		v, err := literal(el)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// mirror swaps the operand order: 5 < x becomes x > 5.
func mirror(op esquery.Operator) esquery.Operator {
	switch op {
	case esquery.OpLt:
		return esquery.OpGt
	case esquery.OpLte:
		return esquery.OpGte
	case esquery.OpGt:
		return esquery.OpLt
	case esquery.OpGte:
		return esquery.OpLte
	default:
		return op
	}
}

func negate(op esquery.Operator) esquery.Operator {
	switch op {
	case esquery.OpEq:
		return esquery.OpNotEq
	case esquery.OpNotEq:
		return esquery.OpEq
	case esquery.OpLt:
		return esquery.OpGte
	case esquery.OpLte:
		return esquery.OpGt
	case esquery.OpGt:
		return esquery.OpLte
	case esquery.OpGte:
		return esquery.OpLt
	default:
		return op
	}
}

func displayName(fn string) string {
	if name, ok := operators.FindReverse(fn); ok {
		return name
	}
	return fn
}
