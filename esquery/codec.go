package esquery

import "context"

// Codec maps between an application type and document fields.
type Codec[T any] interface {
	Encode(value T) (map[string]any, error)
	Decode(hit Hit) (T, error)
}

// TypedHit wraps a decoded item with its relevance score.
type TypedHit[T any] struct {
	Item  T
	ID    string
	Score float64
}

// TypedTable adds type-safe helpers over a document Table.
type TypedTable[T any] struct {
	base  *Table
	codec Codec[T]
}

// NewTypedTable wraps a table with a codec.
func NewTypedTable[T any](base *Table, codec Codec[T]) *TypedTable[T] {
	return &TypedTable[T]{base: base, codec: codec}
}

func (t *TypedTable[T]) Query() *Builder {
	return t.base.Query()
}

func (t *TypedTable[T]) Insert(ctx context.Context, value T) (bool, error) {
	doc, err := t.codec.Encode(value)
	if err != nil {
		return false, err
	}
	return t.base.Insert(ctx, doc)
}

func (t *TypedTable[T]) Get(ctx context.Context, b *Builder) ([]TypedHit[T], int64, error) {
	rs, err := t.base.Get(ctx, b)
	if err != nil {
		return nil, 0, err
	}
	out := make([]TypedHit[T], 0, len(rs.Rows))
	for _, hit := range rs.Rows {
		decoded, err := t.codec.Decode(hit)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, TypedHit[T]{Item: decoded, ID: hit.ID, Score: hit.Score})
	}
	return out, rs.Total, nil
}

func (t *TypedTable[T]) First(ctx context.Context, b *Builder) (T, error) {
	hit, err := t.base.First(ctx, b)
	if err != nil {
		var zero T
		return zero, err
	}
	return t.codec.Decode(hit)
}
