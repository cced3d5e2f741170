// Package reindex copies rows from a relational source into a document table.
package reindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
)

// ErrRejected reports a document the engine did not create or update.
var ErrRejected = errors.New("reindex: document rejected")

// Source streams documents. Stream stops and returns emit's error as soon as
// emit fails.
type Source interface {
	Stream(ctx context.Context, emit func(doc map[string]any) error) error
}

// Sink receives documents. *esquery.Table satisfies it.
type Sink interface {
	Insert(ctx context.Context, doc map[string]any) (bool, error)
}

// Options configures Run.
type Options struct {
	// Workers bounds concurrent inserts. Zero means 4.
	Workers int
	// ContinueOnError counts failed documents instead of aborting the run.
	ContinueOnError bool
	Logger          *slog.Logger
	// OnDocument, when set, observes every insert outcome.
	OnDocument func(err error)
}

// DefaultOptions returns the defaults used for zero fields.
func DefaultOptions() Options {
	return Options{
		Workers: 4,
		Logger:  slog.Default(),
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Workers <= 0 {
		o.Workers = d.Workers
	}
	if o.Logger == nil {
		o.Logger = d.Logger
	}
	return o
}

// Stats summarizes a run.
type Stats struct {
	Read    int64
	Indexed int64
	Failed  int64
	Elapsed time.Duration
}

// Run streams every document of src into sink through a bounded worker pool.
// Without ContinueOnError the first failure cancels the stream and is returned.
func Run(ctx context.Context, sink Sink, src Source, opts Options) (Stats, error) {
	if sink == nil || src == nil {
		return Stats{}, fmt.Errorf("reindex: nil sink or source")
	}
	opts = opts.withDefaults()
	start := time.Now()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		read, indexed, failed atomic.Int64
		wg                    sync.WaitGroup
		firstErr              error
		errOnce               sync.Once
	)
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	onPanic := func(v any) {
		failed.Add(1)
		opts.Logger.Error("reindex worker panic", "panic", v)
		if !opts.ContinueOnError {
			fail(fmt.Errorf("reindex: worker panic: %v", v))
		}
	}

	pool, err := ants.NewPool(opts.Workers, ants.WithPanicHandler(onPanic))
	if err != nil {
		return Stats{}, fmt.Errorf("reindex: create worker pool: %w", err)
	}
	defer pool.Release()

	insert := func(doc map[string]any) {
		ok, err := sink.Insert(ctx, doc)
		if err == nil && !ok {
			err = ErrRejected
		}
		if opts.OnDocument != nil {
			opts.OnDocument(err)
		}
		if err == nil {
			indexed.Add(1)
			return
		}
		failed.Add(1)
		opts.Logger.Warn("reindex document failed", "error", err)
		if !opts.ContinueOnError {
			fail(err)
		}
	}

	streamErr := src.Stream(ctx, func(doc map[string]any) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		read.Add(1)
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			defer func() {
				if v := recover(); v != nil {
					onPanic(v)
				}
			}()
			insert(doc)
		}); err != nil {
			wg.Done()
			return fmt.Errorf("reindex: submit: %w", err)
		}
		return nil
	})
	wg.Wait()

	stats := Stats{
		Read:    read.Load(),
		Indexed: indexed.Load(),
		Failed:  failed.Load(),
		Elapsed: time.Since(start),
	}
	opts.Logger.Info("reindex finished",
		"read", stats.Read, "indexed", stats.Indexed, "failed", stats.Failed, "elapsed", stats.Elapsed)

	if firstErr != nil {
		return stats, firstErr
	}
	if streamErr != nil {
		return stats, streamErr
	}
	return stats, nil
}
