package esquery

// Wire keys of the compiled select body.
const (
	keyQuery  = "query"
	keyFilter = "filter"
	keyAggs   = "aggs"
	keySource = "_source"
	keySort   = "sort"
	keySize   = "size"
	keyFrom   = "from"
)

// aggregateName is the name under which the single requested aggregation is emitted.
const aggregateName = "aggregate"

func defaultRangeOperators() map[Operator]string {
	return map[Operator]string{
		OpGt:  "gt",
		OpGte: "gte",
		OpLt:  "lt",
		OpLte: "lte",
	}
}

func defaultAggregateTypes() map[AggregateFunction]string {
	return map[AggregateFunction]string{
		AggCount: "value_count",
		AggSum:   "sum",
		AggAvg:   "avg",
		AggMin:   "min",
		AggMax:   "max",
		AggStats: "stats",
	}
}

// defaultComponentKeys maps select components onto body keys.
func defaultComponentKeys() map[string]string {
	return map[string]string{
		"aggregate": keyAggs,
		"columns":   keySource,
		"orders":    keySort,
		"limit":     keySize,
		"offset":    keyFrom,
	}
}
