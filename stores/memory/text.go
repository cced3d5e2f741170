package memory

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/hbollon/go-edlib"
)

// matchText evaluates {"match": {field: {"query": q, "operator": op, "fuzziness": f}}}.
// A bare {"match": {field: q}} is accepted as well.
func matchText(raw any, doc *document) (bool, float64, error) {
	field, value, err := singleField("match", raw)
	if err != nil {
		return false, 0, err
	}

	query := value
	operator := "or"
	fuzzy := false
	if opts, ok := value.(map[string]any); ok {
		query = opts["query"]
		if op, ok := opts["operator"].(string); ok {
			operator = strings.ToLower(op)
		}
		fuzzy = opts["fuzziness"] != nil
	}

	terms := tokenize(fmt.Sprint(query))
	if len(terms) == 0 {
		return false, 0, nil
	}
	fieldValue, exists := resolveField(doc, field)
	if !exists {
		return false, 0, nil
	}
	tokens := tokenize(textOf(fieldValue))

	matched := countMatches(terms, [][]string{tokens}, fuzzy)
	required := 1
	if operator == "and" {
		required = len(terms)
	}
	if matched < required {
		return false, 0, nil
	}
	return true, float64(matched) / float64(len(terms)), nil
}

// matchMultiText evaluates {"multi_match": {"query", "fields", "operator" | "minimum_should_match"}}.
func matchMultiText(raw any, doc *document) (bool, float64, error) {
	opts, ok := raw.(map[string]any)
	if !ok {
		return false, 0, fmt.Errorf("%w: multi_match is %T", ErrInvalidRequest, raw)
	}
	fields, err := stringList(opts["fields"])
	if err != nil || len(fields) == 0 {
		return false, 0, fmt.Errorf("%w: multi_match requires fields", ErrInvalidRequest)
	}

	terms := tokenize(fmt.Sprint(opts["query"]))
	if len(terms) == 0 {
		return false, 0, nil
	}

	fieldTokens := make([][]string, 0, len(fields))
	for _, field := range fields {
		if v, exists := resolveField(doc, field); exists {
			fieldTokens = append(fieldTokens, tokenize(textOf(v)))
		}
	}
	matched := countMatches(terms, fieldTokens, false)

	required := 1
	if msm, ok := opts["minimum_should_match"]; ok {
		required, err = minimumShouldMatch(msm, len(terms))
		if err != nil {
			return false, 0, err
		}
	} else if op, ok := opts["operator"].(string); ok && strings.EqualFold(op, "and") {
		required = len(terms)
	}
	if matched < max(1, required) {
		return false, 0, nil
	}
	return true, float64(matched) / float64(len(terms)), nil
}

// minimumShouldMatch resolves "2", "75%" or "-25%" against n optional terms.
func minimumShouldMatch(raw any, n int) (int, error) {
	text := strings.TrimSpace(fmt.Sprint(raw))
	if pct, ok := strings.CutSuffix(text, "%"); ok {
		p, err := strconv.Atoi(pct)
		if err != nil {
			return 0, fmt.Errorf("%w: minimum_should_match %q", ErrInvalidRequest, text)
		}
		if p < 0 {
			return n - int(math.Floor(float64(n)*float64(-p)/100)), nil
		}
		return int(math.Floor(float64(n) * float64(p) / 100)), nil
	}
	count, err := strconv.Atoi(text)
	if err != nil {
		return 0, fmt.Errorf("%w: minimum_should_match %q", ErrInvalidRequest, text)
	}
	if count < 0 {
		return n + count, nil
	}
	return count, nil
}

func countMatches(terms []string, fields [][]string, fuzzy bool) int {
	matched := 0
	for _, term := range terms {
		if termInFields(term, fields, fuzzy) {
			matched++
		}
	}
	return matched
}

func termInFields(term string, fields [][]string, fuzzy bool) bool {
	allowed := 0
	if fuzzy {
		allowed = autoFuzziness(term)
	}
	for _, tokens := range fields {
		for _, token := range tokens {
			if token == term || (allowed > 0 && edlib.OSADamerauLevenshteinDistance(token, term) <= allowed) {
				return true
			}
		}
	}
	return false
}

// autoFuzziness is the AUTO edit budget: 0 up to two runes, 1 up to five, then 2.
func autoFuzziness(term string) int {
	switch n := len([]rune(term)); {
	case n <= 2:
		return 0
	case n <= 5:
		return 1
	default:
		return 2
	}
}


func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func textOf(v any) string {
	switch node := v.(type) {
	case nil:
		return ""
	case string:
		return node
	case []any:
		parts := make([]string, 0, len(node))
		for _, item := range node {
			parts = append(parts, textOf(item))
		}
		return strings.Join(parts, " ")
	default:
		return fmt.Sprint(v)
	}
}

func stringList(raw any) ([]string, error) {
	switch node := raw.(type) {
	case []string:
		return node, nil
	case []any:
		out := make([]string, 0, len(node))
		for _, item := range node {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: expected string, got %T", ErrInvalidRequest, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: expected list, got %T", ErrInvalidRequest, raw)
	}
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func toInt(v any) (int, bool) {
	f, ok := toFloat64(v)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}
