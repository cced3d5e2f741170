package esquery

import (
	"fmt"
	"strings"
)

// Operator is a comparison operator of a basic where clause.
type Operator string

const (
	OpEq       Operator = "="
	OpNotEq    Operator = "!="
	OpNotEqAlt Operator = "<>"
	OpLt       Operator = "<"
	OpLte      Operator = "<="
	OpGt       Operator = ">"
	OpGte      Operator = ">="
	OpLike     Operator = "like"
)

// Validate reports whether op belongs to the closed operator set.
func (op Operator) Validate() error {
	switch op {
	case OpEq, OpNotEq, OpNotEqAlt, OpLt, OpLte, OpGt, OpGte, OpLike:
		return nil
	default:
		return fmt.Errorf("%w: unsupported operator %q", ErrInvalidCondition, string(op))
	}
}

// ParseOperator normalizes a textual operator ("LIKE", " >= ") into an Operator.
func ParseOperator(raw string) (Operator, error) {
	op := Operator(strings.ToLower(strings.TrimSpace(raw)))
	if err := op.Validate(); err != nil {
		return "", err
	}
	return op, nil
}

// Boolean joins a condition to the conditions before it.
type Boolean string

const (
	BoolAnd Boolean = "and"
	BoolOr  Boolean = "or"
)

func normalizeBoolean(b Boolean) Boolean {
	if b == BoolOr {
		return BoolOr
	}
	return BoolAnd
}

// MatchMode configures how a multi-match clause combines its terms.
// Exactly one of Operator and MinimumShouldMatch is set.
type MatchMode struct {
	Operator           string
	MinimumShouldMatch string
}

// ParseMatchMode turns "and", "or" or a percentage such as "80%" into a MatchMode.
func ParseMatchMode(raw string) MatchMode {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return MatchMode{Operator: "and"}
	}
	if strings.Index(raw, "%") > 0 {
		return MatchMode{MinimumShouldMatch: raw}
	}
	return MatchMode{Operator: strings.ToLower(raw)}
}

// Condition is one node of the where-clause AST.
type Condition interface {
	isCondition()
	boolean() Boolean
}

// BasicCondition compares a column to a value.
type BasicCondition struct {
	Column   string
	Operator Operator
	Value    any
	Boolean  Boolean
}

func (BasicCondition) isCondition() {}
func (c BasicCondition) boolean() Boolean { return normalizeBoolean(c.Boolean) }

// MultiMatchCondition matches one value against several columns.
type MultiMatchCondition struct {
	Columns []string
	Value   any
	Mode    MatchMode
	Boolean Boolean
}

func (MultiMatchCondition) isCondition() {}
func (c MultiMatchCondition) boolean() Boolean { return normalizeBoolean(c.Boolean) }

// InCondition checks membership in a value set.
type InCondition struct {
	Column  string
	Values  []any
	Boolean Boolean
}

func (InCondition) isCondition() {}
func (c InCondition) boolean() Boolean { return normalizeBoolean(c.Boolean) }

// NotInCondition checks non-membership in a value set.
type NotInCondition struct {
	Column  string
	Values  []any
	Boolean Boolean
}

func (NotInCondition) isCondition() {}
func (c NotInCondition) boolean() Boolean { return normalizeBoolean(c.Boolean) }

// NullCondition compiles to an exists clause on Column.
type NullCondition struct {
	Column  string
	Boolean Boolean
}

func (NullCondition) isCondition() {}
func (c NullCondition) boolean() Boolean { return normalizeBoolean(c.Boolean) }

// NotNullCondition compiles to a missing clause on Column.
type NotNullCondition struct {
	Column  string
	Boolean Boolean
}

func (NotNullCondition) isCondition() {}
func (c NotNullCondition) boolean() Boolean { return normalizeBoolean(c.Boolean) }

// NestedCondition groups sub-conditions, like a parenthesized where.
type NestedCondition struct {
	Conditions []Condition
	Boolean    Boolean
}

func (NestedCondition) isCondition() {}
func (c NestedCondition) boolean() Boolean { return normalizeBoolean(c.Boolean) }

// IsFilter reports whether c belongs to the non-scoring filter context.
// The classification follows from the clause type and operator only.
func IsFilter(c Condition) bool {
	switch node := c.(type) {
	case BasicCondition:
		return node.Operator != OpLike
	case InCondition, NotInCondition, NullCondition, NestedCondition:
		return true
	default:
		return false
	}
}

// Where constructs a basic and-joined condition.
func Where(column string, op Operator, value any) Condition {
	return BasicCondition{Column: column, Operator: op, Value: value, Boolean: BoolAnd}
}

// In constructs an and-joined membership condition.
func In(column string, values ...any) Condition {
	return InCondition{Column: column, Values: copyValues(values), Boolean: BoolAnd}
}

// NotIn constructs an and-joined non-membership condition.
func NotIn(column string, values ...any) Condition {
	return NotInCondition{Column: column, Values: copyValues(values), Boolean: BoolAnd}
}

// MultiMatch constructs an and-joined multi-match condition.
func MultiMatch(columns []string, value any, mode string) Condition {
	cp := make([]string, len(columns))
	copy(cp, columns)
	return MultiMatchCondition{Columns: cp, Value: value, Mode: ParseMatchMode(mode), Boolean: BoolAnd}
}

// Null constructs an and-joined null condition.
func Null(column string) Condition {
	return NullCondition{Column: column, Boolean: BoolAnd}
}

// NotNull constructs an and-joined not-null condition.
func NotNull(column string) Condition {
	return NotNullCondition{Column: column, Boolean: BoolAnd}
}

// Nested groups conditions into an and-joined group.
func Nested(conditions ...Condition) Condition {
	cp := make([]Condition, len(conditions))
	copy(cp, conditions)
	return NestedCondition{Conditions: cp, Boolean: BoolAnd}
}

// Or returns c joined with "or" instead of "and".
func Or(c Condition) Condition {
	return withBoolean(c, BoolOr)
}

func withBoolean(c Condition, b Boolean) Condition {
	switch node := c.(type) {
	case BasicCondition:
		node.Boolean = b
		return node
	case MultiMatchCondition:
		node.Boolean = b
		return node
	case InCondition:
		node.Boolean = b
		return node
	case NotInCondition:
		node.Boolean = b
		return node
	case NullCondition:
		node.Boolean = b
		return node
	case NotNullCondition:
		node.Boolean = b
		return node
	case NestedCondition:
		node.Boolean = b
		return node
	default:
		return c
	}
}

// validateCondition applies the local checks the builder enforces on append.
func validateCondition(c Condition) error {
	switch node := c.(type) {
	case BasicCondition:
		if strings.TrimSpace(node.Column) == "" {
			return fmt.Errorf("%w: column is empty", ErrInvalidCondition)
		}
		return node.Operator.Validate()
	case MultiMatchCondition:
		if len(node.Columns) == 0 {
			return fmt.Errorf("%w: multi-match requires at least one column", ErrInvalidCondition)
		}
		for _, col := range node.Columns {
			if strings.TrimSpace(col) == "" {
				return fmt.Errorf("%w: multi-match column is empty", ErrInvalidCondition)
			}
		}
		return nil
	case InCondition:
		return requireColumn(node.Column)
	case NotInCondition:
		return requireColumn(node.Column)
	case NullCondition:
		return requireColumn(node.Column)
	case NotNullCondition:
		return requireColumn(node.Column)
	case NestedCondition:
		for _, child := range node.Conditions {
			if child == nil {
				return fmt.Errorf("%w: nested group contains nil condition", ErrInvalidCondition)
			}
			if err := validateCondition(child); err != nil {
				return err
			}
		}
		return nil
	case nil:
		return fmt.Errorf("%w: nil condition", ErrInvalidCondition)
	default:
		return Unsupported(fmt.Sprintf("condition type %T", c))
	}
}

func requireColumn(column string) error {
	if strings.TrimSpace(column) == "" {
		return fmt.Errorf("%w: column is empty", ErrInvalidCondition)
	}
	return nil
}

func copyValues(values []any) []any {
	cp := make([]any, len(values))
	copy(cp, values)
	return cp
}
