package esquery

import "context"

// DefaultKeyName is the document key field used when a table does not name one.
const DefaultKeyName = "_id"

// WireTree is a compiled, serialization-agnostic request tree.
type WireTree map[string]any

// AggregateFunction names an aggregate the caller can request.
type AggregateFunction string

const (
	AggCount AggregateFunction = "count"
	AggSum   AggregateFunction = "sum"
	AggAvg   AggregateFunction = "avg"
	AggMin   AggregateFunction = "min"
	AggMax   AggregateFunction = "max"
	AggStats AggregateFunction = "stats"
)

// Aggregate requests a single server-side aggregation over matched documents.
type Aggregate struct {
	Function AggregateFunction
	Columns  []string
}

// Direction is a sort direction.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Order sorts results by Column.
type Order struct {
	Column    string
	Direction Direction
}

// Target addresses a document type inside an index.
type Target struct {
	// Index is the engine index (the connection's database).
	Index string
	// Type is the document type (the builder's table).
	Type string
	// KeyName is the designated key field. It is substituted for "*"
	// aggregates and read from documents on insert.
	KeyName string
}

func (t Target) keyName() string {
	if t.KeyName == "" {
		return DefaultKeyName
	}
	return t.KeyName
}

// QuerySpec is the full description of a select request.
type QuerySpec struct {
	Target

	Conditions []Condition
	Aggregate  *Aggregate
	Orders     []Order
	// Limit is nil when the engine default page size applies.
	Limit   *int
	Offset  int
	Columns []string
}

// Request is a compiled request ready for a Dispatcher.
type Request struct {
	Index string
	Type  string
	// ID is nil when the request addresses no single document.
	ID   any
	Body WireTree
}

// Tree renders the request in its wire-schema map form.
func (r Request) Tree() WireTree {
	out := WireTree{
		"index": r.Index,
		"type":  r.Type,
	}
	if r.Body != nil {
		out["body"] = map[string]any(r.Body)
	}
	if r.ID != nil {
		out["id"] = r.ID
	}
	return out
}

// Hit is one matched document.
type Hit struct {
	ID     string
	Score  float64
	Fields map[string]any
}

// ResultSet is the normalized outcome of a search request.
type ResultSet struct {
	Rows  []Hit
	Total int64
	// Aggregations holds a scalar for single-value aggregates, the stats
	// mapping for stats, or the raw aggregations mapping otherwise.
	Aggregations any
}

// WriteResult is the normalized outcome of an index, update or delete request.
type WriteResult struct {
	Success  bool
	ID       string
	Result   string
	Affected int64
}

// Dispatcher owns the live connection to the search cluster.
type Dispatcher interface {
	Search(ctx context.Context, req Request) (map[string]any, error)
	Index(ctx context.Context, req Request) (map[string]any, error)
	Update(ctx context.Context, req Request) (map[string]any, error)
	Delete(ctx context.Context, req Request) (map[string]any, error)
}
