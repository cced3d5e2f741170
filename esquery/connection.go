package esquery

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// SelectCompiler compiles select specs. Both *Compiler and *CachingCompiler satisfy it.
type SelectCompiler interface {
	CompileSelect(spec QuerySpec) (Request, error)
}

// ConnectionOptions configures a Connection.
type ConnectionOptions struct {
	Logger *slog.Logger
	// Cache enables a CachingCompiler for select requests when non-nil.
	Cache *CachingCompilerOptions
	// OnDispatch, when set, observes every dispatcher call.
	OnDispatch func(op string, elapsed time.Duration, err error)
	// SearchConcurrency bounds Table.SearchMany. Zero means 4.
	SearchConcurrency int
}

func (o ConnectionOptions) withDefaults() ConnectionOptions {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.SearchConcurrency <= 0 {
		o.SearchConcurrency = 4
	}
	return o
}

// Connection binds a Dispatcher to one index, the search-engine analogue of
// a database. Tables map onto document types.
type Connection struct {
	dispatcher Dispatcher
	index      string
	compiler   *Compiler
	selects    SelectCompiler
	cache      *CachingCompiler
	opts       ConnectionOptions
}

// NewConnection creates a connection to index through dispatcher.
func NewConnection(dispatcher Dispatcher, index string, opts ConnectionOptions) (*Connection, error) {
	if dispatcher == nil {
		return nil, fmt.Errorf("nil dispatcher")
	}
	index = strings.TrimSpace(index)
	if index == "" {
		return nil, fmt.Errorf("%w: index name is empty", ErrInvalidCondition)
	}
	opts = opts.withDefaults()

	compiler := NewCompiler()
	conn := &Connection{
		dispatcher: dispatcher,
		index:      index,
		compiler:   compiler,
		selects:    compiler,
		opts:       opts,
	}
	if opts.Cache != nil {
		conn.cache = NewCachingCompiler(compiler, *opts.Cache)
		conn.selects = conn.cache
	}
	return conn, nil
}

// Index returns the index name the connection targets.
func (c *Connection) Index() string {
	return c.index
}

// Compiler returns the select compiler in use.
func (c *Connection) Compiler() SelectCompiler {
	return c.selects
}

// Table returns a handle for the document type name. keyName defaults to "_id".
func (c *Connection) Table(name, keyName string) *Table {
	keyName = strings.TrimSpace(keyName)
	if keyName == "" {
		keyName = DefaultKeyName
	}
	return &Table{
		conn: c,
		target: Target{
			Index:   c.index,
			Type:    strings.TrimSpace(name),
			KeyName: keyName,
		},
	}
}

// Close releases the compile cache, if any.
func (c *Connection) Close() {
	if c.cache != nil {
		c.cache.Stop()
	}
}

// Transaction is rejected: the engine has no multi-document transactions.
func (c *Connection) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return Unsupported("transaction")
}

func (c *Connection) BeginTransaction(ctx context.Context) error {
	return Unsupported("beginTransaction")
}

func (c *Connection) Commit(ctx context.Context) error {
	return Unsupported("commit")
}

func (c *Connection) Rollback(ctx context.Context) error {
	return Unsupported("rollBack")
}

// Statement is rejected: raw statements have no wire equivalent.
func (c *Connection) Statement(ctx context.Context, query string, args ...any) error {
	return Unsupported("statement")
}

func (c *Connection) Unprepared(ctx context.Context, query string) error {
	return Unsupported("unprepared")
}

func (c *Connection) Raw(value string) error {
	return Unsupported("raw")
}

func (c *Connection) dispatch(ctx context.Context, op string, req Request) (map[string]any, error) {
	start := time.Now()
	var (
		raw map[string]any
		err error
	)
	switch op {
	case "search":
		raw, err = c.dispatcher.Search(ctx, req)
	case "index":
		raw, err = c.dispatcher.Index(ctx, req)
	case "update":
		raw, err = c.dispatcher.Update(ctx, req)
	case "delete":
		raw, err = c.dispatcher.Delete(ctx, req)
	default:
		return nil, Unsupported(op)
	}
	elapsed := time.Since(start)

	if c.opts.OnDispatch != nil {
		c.opts.OnDispatch(op, elapsed, err)
	}
	if err != nil {
		c.opts.Logger.Warn("dispatch failed",
			"op", op, "index", req.Index, "type", req.Type, "error", err)
		return nil, err
	}
	c.opts.Logger.Debug("dispatched",
		"op", op, "index", req.Index, "type", req.Type, "elapsed", elapsed)
	return raw, nil
}
