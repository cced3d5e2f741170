package esquery

import (
	"context"
	"sync"

	"github.com/sourcegraph/conc/iter"
)

// Table is a handle on one document type of a Connection's index.
type Table struct {
	conn   *Connection
	target Target

	mu           sync.Mutex
	lastInsertID string
}

func (t *Table) Name() string {
	return t.target.Type
}

func (t *Table) KeyName() string {
	return t.target.KeyName
}

// Target returns the index, type and key field of the table.
func (t *Table) Target() Target {
	return t.target
}

// Query starts a builder against this table.
func (t *Table) Query() *Builder {
	return NewBuilder(t.target)
}

// Get runs the builder's query and returns every hit the engine sent back.
func (t *Table) Get(ctx context.Context, b *Builder) (ResultSet, error) {
	spec, err := b.Spec()
	if err != nil {
		return ResultSet{}, err
	}
	return t.search(ctx, spec)
}

func (t *Table) search(ctx context.Context, spec QuerySpec) (ResultSet, error) {
	req, err := t.conn.selects.CompileSelect(spec)
	if err != nil {
		return ResultSet{}, err
	}
	raw, err := t.conn.dispatch(ctx, "search", req)
	if err != nil {
		return ResultSet{}, err
	}
	return ParseSearch(raw, spec.Aggregate)
}

// First returns the first hit of the query or ErrNotFound.
func (t *Table) First(ctx context.Context, b *Builder) (Hit, error) {
	rs, err := t.Get(ctx, b.Clone().Limit(1))
	if err != nil {
		return Hit{}, err
	}
	if len(rs.Rows) == 0 {
		return Hit{}, ErrNotFound
	}
	return rs.Rows[0], nil
}

// Total returns the engine's count of matching documents.
func (t *Table) Total(ctx context.Context, b *Builder) (int64, error) {
	rs, err := t.Get(ctx, b)
	if err != nil {
		return 0, err
	}
	return rs.Total, nil
}

// Aggregate runs fn over columns for the documents matched by b. The builder
// is left untouched; the request is sent with a one-hit limit.
func (t *Table) Aggregate(ctx context.Context, b *Builder, fn AggregateFunction, columns ...string) (any, error) {
	rs, err := t.Get(ctx, b.Clone().Aggregate(fn, columns...))
	if err != nil {
		return nil, err
	}
	return rs.Aggregations, nil
}

func (t *Table) Count(ctx context.Context, b *Builder, columns ...string) (int64, error) {
	v, err := t.Aggregate(ctx, b, AggCount, columns...)
	if err != nil {
		return 0, err
	}
	n, _ := toInt64(v)
	return n, nil
}

func (t *Table) Sum(ctx context.Context, b *Builder, column string) (float64, error) {
	return t.scalar(ctx, b, AggSum, column)
}

func (t *Table) Avg(ctx context.Context, b *Builder, column string) (float64, error) {
	return t.scalar(ctx, b, AggAvg, column)
}

func (t *Table) Min(ctx context.Context, b *Builder, column string) (float64, error) {
	return t.scalar(ctx, b, AggMin, column)
}

func (t *Table) Max(ctx context.Context, b *Builder, column string) (float64, error) {
	return t.scalar(ctx, b, AggMax, column)
}

func (t *Table) scalar(ctx context.Context, b *Builder, fn AggregateFunction, column string) (float64, error) {
	v, err := t.Aggregate(ctx, b, fn, column)
	if err != nil {
		return 0, err
	}
	f, _ := toFloat64(v)
	return f, nil
}

// Stats returns the min, max, avg, sum and count of column as sent by the engine.
func (t *Table) Stats(ctx context.Context, b *Builder, column string) (map[string]any, error) {
	v, err := t.Aggregate(ctx, b, AggStats, column)
	if err != nil {
		return nil, err
	}
	stats, _ := v.(map[string]any)
	return stats, nil
}

// SearchMany runs independent queries concurrently and returns their results
// in input order. The first error is returned.
func (t *Table) SearchMany(ctx context.Context, builders []*Builder) ([]ResultSet, error) {
	mapper := iter.Mapper[*Builder, ResultSet]{MaxGoroutines: t.conn.opts.SearchConcurrency}
	return mapper.MapErr(builders, func(b **Builder) (ResultSet, error) {
		return t.Get(ctx, *b)
	})
}

// Insert indexes doc. It reports whether the engine created or updated the
// document and records its id for LastInsertID.
func (t *Table) Insert(ctx context.Context, doc map[string]any) (bool, error) {
	req, err := t.conn.compiler.CompileInsert(t.target, doc)
	if err != nil {
		return false, err
	}
	raw, err := t.conn.dispatch(ctx, "index", req)
	if err != nil {
		t.setLastInsertID("")
		return false, err
	}

	result := ParseWrite(raw)
	if !result.Success {
		t.setLastInsertID("")
		return false, nil
	}
	id := result.ID
	if id == "" && req.ID != nil {
		id = stringID(req.ID)
	}
	t.setLastInsertID(id)
	return true, nil
}

// LastInsertID returns the id of the last successful Insert, or "" after a failed one.
func (t *Table) LastInsertID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastInsertID
}

func (t *Table) setLastInsertID(id string) {
	t.mu.Lock()
	t.lastInsertID = id
	t.mu.Unlock()
}

// Update merges values into the document id and returns the number of
// documents changed.
func (t *Table) Update(ctx context.Context, id any, values map[string]any) (int64, error) {
	req, err := t.conn.compiler.CompileUpdate(t.target, id, values)
	if err != nil {
		return 0, err
	}
	raw, err := t.conn.dispatch(ctx, "update", req)
	if err != nil {
		return 0, err
	}
	return ParseWrite(raw).Affected, nil
}

// Delete removes the document id and returns the number of documents removed.
func (t *Table) Delete(ctx context.Context, id any) (int64, error) {
	req, err := t.conn.compiler.CompileDelete(t.target, id)
	if err != nil {
		return 0, err
	}
	raw, err := t.conn.dispatch(ctx, "delete", req)
	if err != nil {
		return 0, err
	}
	return ParseWrite(raw).Affected, nil
}
