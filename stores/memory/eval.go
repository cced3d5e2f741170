package memory

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/gabisonia/go-esquery/esquery"
)

type scoredDoc struct {
	doc   *document
	score float64
}

// matchBody reports whether doc satisfies the query and filter sections of body.
// Filter clauses do not contribute to the score.
func matchBody(body esquery.WireTree, doc *document) (bool, float64, error) {
	score := 1.0
	if query, ok := body["query"]; ok {
		node, ok := query.(map[string]any)
		if !ok {
			return false, 0, fmt.Errorf("%w: query is %T", ErrInvalidRequest, query)
		}
		matched, s, err := matchClause(node, doc)
		if err != nil || !matched {
			return false, 0, err
		}
		score = s
	}
	if filter, ok := body["filter"]; ok {
		node, ok := filter.(map[string]any)
		if !ok {
			return false, 0, fmt.Errorf("%w: filter is %T", ErrInvalidRequest, filter)
		}
		matched, _, err := matchClause(node, doc)
		if err != nil || !matched {
			return false, 0, err
		}
	}
	return true, score, nil
}

// matchClause evaluates a single-key clause object such as {"term": {...}}.
func matchClause(clause map[string]any, doc *document) (bool, float64, error) {
	if len(clause) != 1 {
		return false, 0, fmt.Errorf("%w: clause must have exactly one key, got %d", ErrInvalidRequest, len(clause))
	}
	var (
		kind string
		raw  any
	)
	for k, v := range clause {
		kind, raw = k, v
	}

	switch kind {
	case "bool":
		return matchBool(raw, doc)
	case "query":
		node, ok := raw.(map[string]any)
		if !ok {
			return false, 0, fmt.Errorf("%w: query is %T", ErrInvalidRequest, raw)
		}
		return matchClause(node, doc)
	case "and", "or":
		return matchConnective(kind, raw, doc)
	case "not":
		node, ok := raw.(map[string]any)
		if !ok {
			return false, 0, fmt.Errorf("%w: not is %T", ErrInvalidRequest, raw)
		}
		matched, _, err := matchClause(node, doc)
		return !matched && err == nil, 1, err
	case "term":
		field, value, err := singleField(kind, raw)
		if err != nil {
			return false, 0, err
		}
		return anyValue(doc, field, func(v any) bool { return valuesEqual(v, value) }), 1, nil
	case "terms":
		field, value, err := singleField(kind, raw)
		if err != nil {
			return false, 0, err
		}
		candidates, ok := value.([]any)
		if !ok {
			return false, 0, fmt.Errorf("%w: terms values are %T", ErrInvalidRequest, value)
		}
		return anyValue(doc, field, func(v any) bool {
			for _, candidate := range candidates {
				if valuesEqual(v, candidate) {
					return true
				}
			}
			return false
		}), 1, nil
	case "range":
		return matchRange(raw, doc)
	case "exists", "missing":
		field, err := fieldName(kind, raw)
		if err != nil {
			return false, 0, err
		}
		v, exists := resolveField(doc, field)
		present := exists && v != nil
		if kind == "missing" {
			return !present, 1, nil
		}
		return present, 1, nil
	case "match":
		return matchText(raw, doc)
	case "multi_match":
		return matchMultiText(raw, doc)
	default:
		return false, 0, fmt.Errorf("%w: unsupported clause %q", ErrInvalidRequest, kind)
	}
}

func matchBool(raw any, doc *document) (bool, float64, error) {
	node, ok := raw.(map[string]any)
	if !ok {
		return false, 0, fmt.Errorf("%w: bool is %T", ErrInvalidRequest, raw)
	}

	score := 0.0
	required := 0
	for _, key := range []string{"must", "filter"} {
		clauses, err := clauseList(node[key])
		if err != nil {
			return false, 0, err
		}
		required += len(clauses)
		for _, clause := range clauses {
			matched, s, err := matchClause(clause, doc)
			if err != nil || !matched {
				return false, 0, err
			}
			if key == "must" {
				score += s
			}
		}
	}

	mustNot, err := clauseList(node["must_not"])
	if err != nil {
		return false, 0, err
	}
	for _, clause := range mustNot {
		matched, _, err := matchClause(clause, doc)
		if err != nil {
			return false, 0, err
		}
		if matched {
			return false, 0, nil
		}
	}

	should, err := clauseList(node["should"])
	if err != nil {
		return false, 0, err
	}
	hits := 0
	for _, clause := range should {
		matched, s, err := matchClause(clause, doc)
		if err != nil {
			return false, 0, err
		}
		if matched {
			hits++
			score += s
		}
	}
	// Without required clauses at least one should clause must match.
	if required == 0 && len(should) > 0 && hits == 0 {
		return false, 0, nil
	}
	if score == 0 {
		score = 1
	}
	return true, score, nil
}

// matchConnective evaluates the legacy {"and"|"or": {"filters": [...]}} form.
func matchConnective(kind string, raw any, doc *document) (bool, float64, error) {
	node, ok := raw.(map[string]any)
	if !ok {
		return false, 0, fmt.Errorf("%w: %s is %T", ErrInvalidRequest, kind, raw)
	}
	filters, err := clauseList(node["filters"])
	if err != nil {
		return false, 0, err
	}
	if len(filters) == 0 {
		return false, 0, fmt.Errorf("%w: %s requires at least one filter", ErrInvalidRequest, kind)
	}
	for _, child := range filters {
		matched, _, err := matchClause(child, doc)
		if err != nil {
			return false, 0, err
		}
		if kind == "or" && matched {
			return true, 1, nil
		}
		if kind == "and" && !matched {
			return false, 0, nil
		}
	}
	return kind == "and", 1, nil
}

func matchRange(raw any, doc *document) (bool, float64, error) {
	field, value, err := singleField("range", raw)
	if err != nil {
		return false, 0, err
	}
	bounds, ok := value.(map[string]any)
	if !ok || len(bounds) == 0 {
		return false, 0, fmt.Errorf("%w: range bounds are %T", ErrInvalidRequest, value)
	}
	for op := range bounds {
		switch op {
		case "gt", "gte", "lt", "lte":
		default:
			return false, 0, fmt.Errorf("%w: unsupported range operator %q", ErrInvalidRequest, op)
		}
	}
	matched := anyValue(doc, field, func(v any) bool {
		if v == nil {
			return false
		}
		for op, bound := range bounds {
			cmp := compareValues(v, bound)
			switch op {
			case "gt":
				if cmp <= 0 {
					return false
				}
			case "gte":
				if cmp < 0 {
					return false
				}
			case "lt":
				if cmp >= 0 {
					return false
				}
			case "lte":
				if cmp > 0 {
					return false
				}
			}
		}
		return true
	})
	return matched, 1, nil
}

func clauseList(raw any) ([]map[string]any, error) {
	switch node := raw.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return []map[string]any{node}, nil
	case []any:
		out := make([]map[string]any, 0, len(node))
		for i, item := range node {
			clause, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: clause %d is %T", ErrInvalidRequest, i, item)
			}
			out = append(out, clause)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: clause list is %T", ErrInvalidRequest, raw)
	}
}

// singleField unpacks {"field": value}.
func singleField(kind string, raw any) (string, any, error) {
	node, ok := raw.(map[string]any)
	if !ok || len(node) != 1 {
		return "", nil, fmt.Errorf("%w: %s must name exactly one field", ErrInvalidRequest, kind)
	}
	var (
		field string
		value any
	)
	for k, v := range node {
		field, value = k, v
	}
	return field, value, nil
}

// fieldName unpacks {"field": "name"}.
func fieldName(kind string, raw any) (string, error) {
	node, ok := raw.(map[string]any)
	if !ok {
		return "", fmt.Errorf("%w: %s is %T", ErrInvalidRequest, kind, raw)
	}
	field, ok := node["field"].(string)
	if !ok || strings.TrimSpace(field) == "" {
		return "", fmt.Errorf("%w: %s has no field", ErrInvalidRequest, kind)
	}
	return field, nil
}

// resolveField looks up a dotted path in the document. "_id" is the document id.
func resolveField(doc *document, field string) (any, bool) {
	field = strings.TrimSpace(field)
	if field == "_id" {
		if v, ok := doc.source["_id"]; ok {
			return v, true
		}
		return doc.id, true
	}
	return lookupPath(doc.source, field)
}

func lookupPath(source map[string]any, field string) (any, bool) {
	if v, ok := source[field]; ok {
		return v, true
	}
	var current any = source
	for _, segment := range strings.Split(field, ".") {
		asMap, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		next, ok := asMap[segment]
		if !ok {
			return nil, false
		}
		current = next
	}
	return current, true
}

// anyValue applies pred to the field value, or to each element when the
// field holds a list.
func anyValue(doc *document, field string, pred func(any) bool) bool {
	v, exists := resolveField(doc, field)
	if !exists {
		return false
	}
	if list, ok := v.([]any); ok {
		for _, item := range list {
			if pred(item) {
				return true
			}
		}
		return false
	}
	return pred(v)
}

func valuesEqual(left, right any) bool {
	if left == nil || right == nil {
		return left == right
	}

	leftNumeric, leftIsNumeric := toFloat64(left)
	rightNumeric, rightIsNumeric := toFloat64(right)
	if leftIsNumeric && rightIsNumeric {
		return leftNumeric == rightNumeric
	}

	return reflect.DeepEqual(left, right)
}

func compareValues(left, right any) int {
	leftNumeric, leftIsNumeric := toFloat64(left)
	rightNumeric, rightIsNumeric := toFloat64(right)
	if leftIsNumeric && rightIsNumeric {
		switch {
		case leftNumeric < rightNumeric:
			return -1
		case leftNumeric > rightNumeric:
			return 1
		default:
			return 0
		}
	}

	return strings.Compare(fmt.Sprint(left), fmt.Sprint(right))
}
