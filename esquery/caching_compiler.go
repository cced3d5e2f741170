package esquery

import (
	"fmt"
	"io"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/karlseguin/ccache/v2"
)

// CachingCompilerOptions configures NewCachingCompiler.
type CachingCompilerOptions struct {
	MaxSize int64
	TTL     time.Duration
	// OnLookup, when set, is called after every lookup with whether it hit.
	OnLookup func(hit bool)
}

// DefaultCachingCompilerOptions returns the defaults used for zero fields.
func DefaultCachingCompilerOptions() CachingCompilerOptions {
	return CachingCompilerOptions{
		MaxSize: 1000,
		TTL:     10 * time.Minute,
	}
}

func (o CachingCompilerOptions) withDefaults() CachingCompilerOptions {
	d := DefaultCachingCompilerOptions()
	if o.MaxSize <= 0 {
		o.MaxSize = d.MaxSize
	}
	if o.TTL <= 0 {
		o.TTL = d.TTL
	}
	return o
}

// CachingCompiler memoizes CompileSelect by query content. Compilation is
// deterministic, so a cached request never goes stale.
type CachingCompiler struct {
	compiler *Compiler
	cache    *ccache.Cache
	opts     CachingCompilerOptions

	hits   int64
	misses int64
}

// NewCachingCompiler wraps compiler with a bounded cache.
func NewCachingCompiler(compiler *Compiler, opts CachingCompilerOptions) *CachingCompiler {
	if compiler == nil {
		compiler = NewCompiler()
	}
	opts = opts.withDefaults()
	return &CachingCompiler{
		compiler: compiler,
		cache:    ccache.New(ccache.Configure().MaxSize(opts.MaxSize)),
		opts:     opts,
	}
}

// CompileSelect returns the compiled request for spec. Each call returns a
// fresh copy, so callers may modify the result.
func (c *CachingCompiler) CompileSelect(spec QuerySpec) (Request, error) {
	key := fingerprint(spec)

	if item := c.cache.Get(key); item != nil && !item.Expired() {
		atomic.AddInt64(&c.hits, 1)
		c.observe(true)
		return cloneRequest(item.Value().(Request)), nil
	}

	req, err := c.compiler.CompileSelect(spec)
	if err != nil {
		return Request{}, err
	}
	c.cache.Set(key, cloneRequest(req), c.opts.TTL)
	atomic.AddInt64(&c.misses, 1)
	c.observe(false)
	return req, nil
}

func (c *CachingCompiler) observe(hit bool) {
	if c.opts.OnLookup != nil {
		c.opts.OnLookup(hit)
	}
}

func (c *CachingCompiler) Hits() int64 {
	return atomic.LoadInt64(&c.hits)
}

func (c *CachingCompiler) Misses() int64 {
	return atomic.LoadInt64(&c.misses)
}

// Stop releases the cache's background worker.
func (c *CachingCompiler) Stop() {
	c.cache.Stop()
}

// fingerprint hashes the full content of spec. Values are rendered with
// their Go types so that 1 and 1.0 produce different keys.
func fingerprint(spec QuerySpec) string {
	d := xxhash.New()
	fmt.Fprintf(d, "%q|%q|%q|", spec.Index, spec.Type, spec.keyName())
	for _, cond := range spec.Conditions {
		writeCondition(d, cond)
	}
	d.WriteString("|")
	if spec.Aggregate != nil {
		fmt.Fprintf(d, "%#v", *spec.Aggregate)
	}
	fmt.Fprintf(d, "|%#v|", spec.Orders)
	if spec.Limit != nil {
		d.WriteString(strconv.Itoa(*spec.Limit))
	}
	fmt.Fprintf(d, "|%d|%#v", spec.Offset, spec.Columns)
	return strconv.FormatUint(d.Sum64(), 16)
}

func writeCondition(w io.Writer, cond Condition) {
	switch node := cond.(type) {
	case BasicCondition:
		fmt.Fprintf(w, "basic(%q,%q,%s,", node.Column, node.Operator, node.boolean())
		writeValue(w, node.Value)
	case MultiMatchCondition:
		fmt.Fprintf(w, "mm(%q,%#v,%s,", node.Columns, node.Mode, node.boolean())
		writeValue(w, node.Value)
	case InCondition:
		fmt.Fprintf(w, "in(%q,%s,", node.Column, node.boolean())
		writeValues(w, node.Values)
	case NotInCondition:
		fmt.Fprintf(w, "nin(%q,%s,", node.Column, node.boolean())
		writeValues(w, node.Values)
	case NullCondition:
		fmt.Fprintf(w, "null(%q,%s", node.Column, node.boolean())
	case NotNullCondition:
		fmt.Fprintf(w, "notnull(%q,%s", node.Column, node.boolean())
	case NestedCondition:
		fmt.Fprintf(w, "nested(%s,", node.boolean())
		for _, child := range node.Conditions {
			writeCondition(w, child)
		}
	default:
		fmt.Fprintf(w, "%T(%#v", cond, cond)
	}
	io.WriteString(w, ");")
}

func writeValues(w io.Writer, values []any) {
	for _, v := range values {
		writeValue(w, v)
		io.WriteString(w, ",")
	}
}

func writeValue(w io.Writer, v any) {
	fmt.Fprintf(w, "%T:%#v", v, v)
}

func cloneRequest(req Request) Request {
	out := req
	if req.Body != nil {
		out.Body = WireTree(cloneValue(map[string]any(req.Body)).(map[string]any))
	}
	return out
}

func cloneValue(v any) any {
	switch node := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(node))
		for k, child := range node {
			out[k] = cloneValue(child)
		}
		return out
	case WireTree:
		return WireTree(cloneValue(map[string]any(node)).(map[string]any))
	case []any:
		out := make([]any, len(node))
		for i, child := range node {
			out[i] = cloneValue(child)
		}
		return out
	case []string:
		return append([]string(nil), node...)
	default:
		return v
	}
}
