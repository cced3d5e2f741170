package esquery

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/ohler55/ojg/jp"
)

var (
	hitsPath       = jp.C("hits").C("hits")
	totalPath      = jp.C("hits").C("total")
	aggregatesPath = jp.C("aggregations")
	aggregatePath  = jp.C("aggregations").C(aggregateName)
)

// ParseSearch normalizes a raw search response. agg is the aggregate the
// request was compiled with, or nil for a plain search.
// Missing totals and aggregations produce zero values, not errors.
func ParseSearch(raw map[string]any, agg *Aggregate) (ResultSet, error) {
	if raw == nil {
		return ResultSet{Rows: []Hit{}}, nil
	}

	rows, err := parseHits(hitsPath.First(raw))
	if err != nil {
		return ResultSet{}, err
	}

	total, err := parseTotal(totalPath.First(raw))
	if err != nil {
		return ResultSet{}, err
	}

	return ResultSet{
		Rows:         rows,
		Total:        total,
		Aggregations: parseAggregations(raw, agg),
	}, nil
}

func parseHits(value any) ([]Hit, error) {
	if value == nil {
		return []Hit{}, nil
	}
	list, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: hits.hits is %T, want list", ErrInvalidResponse, value)
	}
	rows := make([]Hit, 0, len(list))
	for i, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: hit %d is %T, want object", ErrInvalidResponse, i, item)
		}
		rows = append(rows, parseHit(entry))
	}
	return rows, nil
}

func parseHit(entry map[string]any) Hit {
	hit := Hit{Fields: map[string]any{}}
	if id := firstPresent(entry, "_id", "id"); id != nil {
		if s, ok := id.(string); ok {
			hit.ID = s
		} else {
			hit.ID = fmt.Sprint(id)
		}
	}
	if score, ok := toFloat64(firstPresent(entry, "_score", "score")); ok {
		hit.Score = score
	}
	if source, ok := firstPresent(entry, "_source", "source").(map[string]any); ok {
		hit.Fields = source
	}
	return hit
}

// parseTotal accepts a bare count or a {"value": count} object.
func parseTotal(value any) (int64, error) {
	if value == nil {
		return 0, nil
	}
	if obj, ok := value.(map[string]any); ok {
		value = obj["value"]
		if value == nil {
			return 0, nil
		}
	}
	n, ok := toInt64(value)
	if !ok {
		return 0, fmt.Errorf("%w: hits.total is %T, want integer", ErrInvalidResponse, value)
	}
	if n < 0 {
		return 0, nil
	}
	return n, nil
}

func parseAggregations(raw map[string]any, agg *Aggregate) any {
	if agg == nil {
		aggs, _ := aggregatesPath.First(raw).(map[string]any)
		return aggs
	}

	result, _ := aggregatePath.First(raw).(map[string]any)
	if agg.Function == AggStats {
		if result == nil {
			return map[string]any{}
		}
		return result
	}
	if result == nil {
		return float64(0)
	}
	return result["value"]
}

// ParseWrite normalizes the response to an index, update or delete request.
func ParseWrite(raw map[string]any) WriteResult {
	if raw == nil {
		return WriteResult{}
	}
	out := WriteResult{}
	if result, ok := raw["result"].(string); ok {
		out.Result = result
	}
	switch out.Result {
	case "created", "updated":
		out.Success = true
		out.Affected = 1
	case "deleted":
		out.Affected = 1
	}
	if id, ok := raw["_id"]; ok && id != nil {
		if s, ok := id.(string); ok {
			out.ID = s
		} else {
			out.ID = fmt.Sprint(id)
		}
	}
	return out
}

// ColumnNames lists the field names present across rows, sorted.
func ColumnNames(rows []Hit) []string {
	seen := map[string]struct{}{}
	for _, row := range rows {
		for name := range row.Fields {
			seen[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func firstPresent(entry map[string]any, keys ...string) any {
	for _, key := range keys {
		if v, ok := entry[key]; ok {
			return v
		}
	}
	return nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float32:
		return int64(n), true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
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
