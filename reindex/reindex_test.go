package reindex

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gabisonia/go-esquery/esquery"
	"github.com/gabisonia/go-esquery/stores/memory"
	"github.com/stretchr/testify/require"
)

func newMemoryTable(t *testing.T) (*memory.Engine, *esquery.Table) {
	t.Helper()
	engine := memory.NewEngine(memory.Options{})
	conn, err := esquery.NewConnection(engine, "shop", esquery.ConnectionOptions{})
	require.NoError(t, err)
	return engine, conn.Table("users", "")
}

type flakySink struct {
	mu     sync.Mutex
	seen   []string
	reject string
	fail   string
	panic  string
}

func (s *flakySink) Insert(_ context.Context, doc map[string]any) (bool, error) {
	name, _ := doc["name"].(string)
	s.mu.Lock()
	s.seen = append(s.seen, name)
	s.mu.Unlock()
	switch name {
	case s.panic:
		panic("boom")
	case s.fail:
		return false, errors.New("write failed")
	case s.reject:
		return false, nil
	}
	return true, nil
}

func TestRunIndexesEveryDocument(t *testing.T) {
	engine, table := newMemoryTable(t)
	src := SliceSource{
		{"_id": "a", "name": "Alice"},
		{"_id": "b", "name": "Bob"},
		{"_id": "c", "name": "Carol"},
	}

	stats, err := Run(context.Background(), table, src, Options{Workers: 2})
	require.NoError(t, err)
	require.EqualValues(t, 3, stats.Read)
	require.EqualValues(t, 3, stats.Indexed)
	require.Zero(t, stats.Failed)
	require.Equal(t, 3, engine.Len("shop", "users"))

	hit, err := table.First(context.Background(), table.Query().Where("_id", "=", "b"))
	require.NoError(t, err)
	require.Equal(t, "Bob", hit.Fields["name"])
}

func TestRunContinueOnError(t *testing.T) {
	sink := &flakySink{reject: "r", fail: "f", panic: "p"}
	src := SliceSource{{"name": "ok1"}, {"name": "r"}, {"name": "f"}, {"name": "p"}, {"name": "ok2"}}

	var observed atomic.Int64
	stats, err := Run(context.Background(), sink, src, Options{
		Workers:         3,
		ContinueOnError: true,
		OnDocument:      func(error) { observed.Add(1) },
	})
	require.NoError(t, err)
	require.EqualValues(t, 5, stats.Read)
	require.EqualValues(t, 2, stats.Indexed)
	require.EqualValues(t, 3, stats.Failed)
	// The panicking document never reaches OnDocument.
	require.EqualValues(t, 4, observed.Load())
}

func TestRunStopsOnFirstError(t *testing.T) {
	sink := &flakySink{reject: "bad"}
	src := SliceSource{{"name": "bad"}}

	stats, err := Run(context.Background(), sink, src, Options{Workers: 1})
	require.ErrorIs(t, err, ErrRejected)
	require.EqualValues(t, 1, stats.Failed)
}

func TestRunRejectsNilArguments(t *testing.T) {
	_, err := Run(context.Background(), nil, SliceSource{}, Options{})
	require.Error(t, err)
}

func TestRunHonoursCancelledContext(t *testing.T) {
	_, table := newMemoryTable(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats, err := Run(ctx, table, SliceSource{{"name": "x"}}, Options{})
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, stats.Indexed)
}

func TestJSONLinesSource(t *testing.T) {
	input := strings.Join([]string{
		`{"_id":"1","name":"one"}`,
		``,
		`  `,
		`{"_id":"2","name":"two"}`,
	}, "\n")

	var got []map[string]any
	err := JSONLinesSource{Reader: strings.NewReader(input)}.Stream(context.Background(), func(doc map[string]any) error {
		got = append(got, doc)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "two", got[1]["name"])
}

func TestJSONLinesSourceReportsLine(t *testing.T) {
	input := "{\"a\":1}\nnot json\n"
	err := JSONLinesSource{Reader: strings.NewReader(input)}.Stream(context.Background(), func(map[string]any) error { return nil })
	require.ErrorContains(t, err, "line 2")
}

func TestJSONLinesIntoMemory(t *testing.T) {
	engine, table := newMemoryTable(t)
	input := "{\"_id\":\"1\",\"city\":\"Tbilisi\"}\n{\"_id\":\"2\",\"city\":\"Batumi\"}\n"

	stats, err := Run(context.Background(), table, JSONLinesSource{Reader: strings.NewReader(input)}, Options{})
	require.NoError(t, err)
	require.EqualValues(t, 2, stats.Indexed)
	require.Equal(t, 2, engine.Len("shop", "users"))

	n, err := table.Total(context.Background(), table.Query().Where("city", "=", "Batumi"))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestJSONLinesSourceSkipsWhitespaceOnlyLines(t *testing.T) {
	input := "\t\r\n{\"_id\":\"1\"}\r\n  \n{\"_id\":\"2\"}\n"

	var ids []any
	err := JSONLinesSource{Reader: strings.NewReader(input)}.Stream(context.Background(), func(doc map[string]any) error {
		ids = append(ids, doc["_id"])
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []any{"1", "2"}, ids)
}
