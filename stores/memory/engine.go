package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/gabisonia/go-esquery/esquery"
	"github.com/google/uuid"
)

var (
	// ErrInvalidRequest indicates a request body the engine cannot interpret.
	ErrInvalidRequest = errors.New("memory: invalid request")
	// ErrDocumentMissing is returned by Update for an unknown document id.
	ErrDocumentMissing = fmt.Errorf("memory: document missing: %w", esquery.ErrNotFound)
)

// Options configures an Engine.
type Options struct {
	Logger *slog.Logger
	// TotalAsObject reports hits.total as {"value": n, "relation": "eq"}
	// instead of a bare integer.
	TotalAsObject bool
	// DefaultSize is the page size used when a search carries no size.
	DefaultSize int
}

// DefaultOptions returns the defaults used for zero fields.
func DefaultOptions() Options {
	return Options{
		Logger:      slog.Default(),
		DefaultSize: 10,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Logger == nil {
		o.Logger = d.Logger
	}
	if o.DefaultSize <= 0 {
		o.DefaultSize = d.DefaultSize
	}
	return o
}

type document struct {
	id     string
	seq    int64
	source map[string]any
}

type collection struct {
	docs map[string]*document
}

// Engine is an in-process document index that evaluates compiled requests.
// It implements esquery.Dispatcher and is safe for concurrent use.
type Engine struct {
	mu          sync.RWMutex
	collections map[string]*collection
	seq         int64
	opts        Options
}

// NewEngine creates an empty engine.
func NewEngine(opts Options) *Engine {
	return &Engine{
		collections: map[string]*collection{},
		opts:        opts.withDefaults(),
	}
}

var _ esquery.Dispatcher = (*Engine)(nil)

func collectionKey(index, typ string) string {
	return index + "/" + typ
}

func (e *Engine) collection(req esquery.Request, create bool) *collection {
	key := collectionKey(req.Index, req.Type)
	c, ok := e.collections[key]
	if !ok && create {
		c = &collection{docs: map[string]*document{}}
		e.collections[key] = c
	}
	return c
}

// Index stores the request body under the request id, generating one when
// absent.
func (e *Engine) Index(ctx context.Context, req esquery.Request) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Index) == "" {
		return nil, fmt.Errorf("%w: index is empty", ErrInvalidRequest)
	}

	id := uuid.NewString()
	if req.ID != nil {
		id = fmt.Sprint(req.ID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	c := e.collection(req, true)
	result := "created"
	doc, exists := c.docs[id]
	if exists {
		result = "updated"
	} else {
		e.seq++
		doc = &document{id: id, seq: e.seq}
		c.docs[id] = doc
	}
	doc.source = cloneMap(req.Body)

	e.opts.Logger.Debug("memory index", "index", req.Index, "type", req.Type, "id", id, "result", result)
	return writeResponse(req, id, result), nil
}

// Update merges the "doc" member of the request body into an existing document.
func (e *Engine) Update(ctx context.Context, req esquery.Request) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.ID == nil {
		return nil, esquery.ErrMissingDocumentID
	}
	partial, ok := req.Body["doc"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: update body has no doc object", ErrInvalidRequest)
	}
	id := fmt.Sprint(req.ID)

	e.mu.Lock()
	defer e.mu.Unlock()

	c := e.collection(req, false)
	if c == nil || c.docs[id] == nil {
		return nil, fmt.Errorf("%w: %s/%s/%s", ErrDocumentMissing, req.Index, req.Type, id)
	}
	doc := c.docs[id]
	changed := false
	for k, v := range partial {
		if old, exists := doc.source[k]; !exists || !valuesEqual(old, v) {
			changed = true
		}
		doc.source[k] = cloneValue(v)
	}

	result := "noop"
	if changed {
		result = "updated"
	}
	return writeResponse(req, id, result), nil
}

// Delete removes a document. Unknown ids report result "not_found".
func (e *Engine) Delete(ctx context.Context, req esquery.Request) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.ID == nil {
		return nil, esquery.ErrMissingDocumentID
	}
	id := fmt.Sprint(req.ID)

	e.mu.Lock()
	defer e.mu.Unlock()

	result := "not_found"
	if c := e.collection(req, false); c != nil {
		if _, ok := c.docs[id]; ok {
			delete(c.docs, id)
			result = "deleted"
		}
	}
	return writeResponse(req, id, result), nil
}

// Search evaluates the request body against the documents of the request's
// index and type. An empty type searches every type of the index.
func (e *Engine) Search(ctx context.Context, req esquery.Request) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	body := req.Body
	if body == nil {
		body = esquery.WireTree{}
	}

	e.mu.RLock()
	candidates := e.snapshot(req)
	e.mu.RUnlock()

	matched := make([]scoredDoc, 0, len(candidates))
	for _, doc := range candidates {
		ok, score, err := matchBody(body, doc)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, scoredDoc{doc: doc, score: score})
		}
	}

	if err := sortHits(matched, body["sort"]); err != nil {
		return nil, err
	}

	out := map[string]any{}
	if rawAggs, ok := body["aggs"]; ok {
		aggs, err := aggregate(rawAggs, matched)
		if err != nil {
			return nil, err
		}
		out["aggregations"] = aggs
	}

	page, err := e.page(matched, body)
	if err != nil {
		return nil, err
	}
	hits := make([]any, 0, len(page))
	for _, hit := range page {
		hits = append(hits, map[string]any{
			"_index":  req.Index,
			"_type":   req.Type,
			"_id":     hit.doc.id,
			"_score":  hit.score,
			"_source": projectSource(hit.doc.source, body["_source"]),
		})
	}

	var total any = int64(len(matched))
	if e.opts.TotalAsObject {
		total = map[string]any{"value": int64(len(matched)), "relation": "eq"}
	}
	out["hits"] = map[string]any{"total": total, "hits": hits}
	return out, nil
}

// Len returns the number of stored documents in index/type.
func (e *Engine) Len(index, typ string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c := e.collections[collectionKey(index, typ)]
	if c == nil {
		return 0
	}
	return len(c.docs)
}

// snapshot copies the candidate documents in insertion order.
// Callers hold at least the read lock.
func (e *Engine) snapshot(req esquery.Request) []*document {
	var out []*document
	for key, c := range e.collections {
		index, typ, _ := strings.Cut(key, "/")
		if index != req.Index || (req.Type != "" && typ != req.Type) {
			continue
		}
		for _, doc := range c.docs {
			out = append(out, &document{id: doc.id, seq: doc.seq, source: cloneMap(doc.source)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func (e *Engine) page(matched []scoredDoc, body esquery.WireTree) ([]scoredDoc, error) {
	size := e.opts.DefaultSize
	if raw, ok := body["size"]; ok {
		n, ok := toInt(raw)
		if !ok || n < 0 {
			return nil, fmt.Errorf("%w: size %v", ErrInvalidRequest, raw)
		}
		size = n
	}
	from := 0
	if raw, ok := body["from"]; ok {
		n, ok := toInt(raw)
		if !ok || n < 0 {
			return nil, fmt.Errorf("%w: from %v", ErrInvalidRequest, raw)
		}
		from = n
	}
	if from >= len(matched) {
		return nil, nil
	}
	end := min(len(matched), from+size)
	return matched[from:end], nil
}

func writeResponse(req esquery.Request, id, result string) map[string]any {
	return map[string]any{
		"_index": req.Index,
		"_type":  req.Type,
		"_id":    id,
		"result": result,
	}
}

// projectSource applies a _source field list. Any other shape returns the
// full document.
func projectSource(source map[string]any, spec any) map[string]any {
	fields, ok := spec.([]string)
	if !ok {
		if list, isList := spec.([]any); isList {
			for _, item := range list {
				if s, isString := item.(string); isString {
					fields = append(fields, s)
				}
			}
			ok = true
		}
	}
	if !ok {
		return source
	}
	out := make(map[string]any, len(fields))
	for _, field := range fields {
		if v, exists := lookupPath(source, field); exists {
			out[field] = v
		}
	}
	return out
}

func cloneMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch node := v.(type) {
	case map[string]any:
		return cloneMap(node)
	case esquery.WireTree:
		return cloneMap(node)
	case []any:
		out := make([]any, len(node))
		for i, child := range node {
			out[i] = cloneValue(child)
		}
		return out
	default:
		return v
	}
}
