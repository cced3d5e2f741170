package memory

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// aggregate evaluates {"name": {"type": {"field": f}}} over the matched documents.
func aggregate(raw any, matched []scoredDoc) (map[string]any, error) {
	specs, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: aggs is %T", ErrInvalidRequest, raw)
	}
	out := make(map[string]any, len(specs))
	for name, spec := range specs {
		kind, body, err := singleField("aggregation "+name, spec)
		if err != nil {
			return nil, err
		}
		field, err := fieldName(kind, body)
		if err != nil {
			return nil, err
		}
		result, err := metric(kind, field, matched)
		if err != nil {
			return nil, err
		}
		out[name] = result
	}
	return out, nil
}

func metric(kind, field string, matched []scoredDoc) (map[string]any, error) {
	var (
		count  int64
		values []float64
	)
	for _, hit := range matched {
		v, exists := resolveField(hit.doc, field)
		if !exists || v == nil {
			continue
		}
		items := []any{v}
		if list, ok := v.([]any); ok {
			items = list
		}
		for _, item := range items {
			count++
			if f, ok := toFloat64(item); ok {
				values = append(values, f)
			}
		}
	}

	sum := 0.0
	minValue, maxValue := math.Inf(1), math.Inf(-1)
	for _, f := range values {
		sum += f
		minValue = math.Min(minValue, f)
		maxValue = math.Max(maxValue, f)
	}

	switch kind {
	case "value_count":
		return map[string]any{"value": count}, nil
	case "sum":
		return map[string]any{"value": sum}, nil
	case "avg":
		if len(values) == 0 {
			return map[string]any{"value": nil}, nil
		}
		return map[string]any{"value": sum / float64(len(values))}, nil
	case "min":
		if len(values) == 0 {
			return map[string]any{"value": nil}, nil
		}
		return map[string]any{"value": minValue}, nil
	case "max":
		if len(values) == 0 {
			return map[string]any{"value": nil}, nil
		}
		return map[string]any{"value": maxValue}, nil
	case "stats":
		if len(values) == 0 {
			return map[string]any{"count": int64(0), "min": nil, "max": nil, "avg": nil, "sum": 0.0}, nil
		}
		return map[string]any{
			"count": int64(len(values)),
			"min":   minValue,
			"max":   maxValue,
			"avg":   sum / float64(len(values)),
			"sum":   sum,
		}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported aggregation %q", ErrInvalidRequest, kind)
	}
}

type sortKey struct {
	field string
	desc  bool
}

// sortHits orders matched by the body's sort list, or by descending score.
// Ties keep insertion order.
func sortHits(matched []scoredDoc, raw any) error {
	keys, err := parseSort(raw)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		sort.SliceStable(matched, func(i, j int) bool { return matched[i].score > matched[j].score })
		return nil
	}
	sort.SliceStable(matched, func(i, j int) bool {
		for _, key := range keys {
			cmp, missing := compareSortValues(matched[i], matched[j], key.field)
			if cmp == 0 {
				continue
			}
			if key.desc && !missing {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
	return nil
}

func parseSort(raw any) ([]sortKey, error) {
	if raw == nil {
		return nil, nil
	}
	entries, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: sort is %T", ErrInvalidRequest, raw)
	}
	keys := make([]sortKey, 0, len(entries))
	for _, entry := range entries {
		switch node := entry.(type) {
		case string:
			keys = append(keys, sortKey{field: node})
		case map[string]any:
			field, value, err := singleField("sort", node)
			if err != nil {
				return nil, err
			}
			direction, ok := value.(string)
			if !ok {
				if opts, isMap := value.(map[string]any); isMap {
					direction, _ = opts["order"].(string)
				}
			}
			keys = append(keys, sortKey{field: field, desc: strings.EqualFold(direction, "desc")})
		default:
			return nil, fmt.Errorf("%w: sort entry is %T", ErrInvalidRequest, entry)
		}
	}
	return keys, nil
}

// compareSortValues orders documents missing the field last in either
// direction; missing reports that the result must not be reversed.
func compareSortValues(a, b scoredDoc, field string) (cmp int, missing bool) {
	if field == "_score" {
		return compareValues(a.score, b.score), false
	}
	av, aok := resolveField(a.doc, field)
	bv, bok := resolveField(b.doc, field)
	aok = aok && av != nil
	bok = bok && bv != nil
	switch {
	case !aok && !bok:
		return 0, true
	case !aok:
		return 1, true
	case !bok:
		return -1, true
	default:
		return compareValues(av, bv), false
	}
}
