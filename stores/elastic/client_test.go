package elastic

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gabisonia/go-esquery/esquery"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	Method   string
	Path     string
	Query    string
	Body     map[string]any
	OpaqueID string
	User     string
}

type fakeCluster struct {
	mu       sync.Mutex
	requests []capturedRequest
	status   int
	response string
}

func (f *fakeCluster) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var body map[string]any
		if len(raw) > 0 {
			require.NoError(t, json.Unmarshal(raw, &body))
		}
		user, _, _ := r.BasicAuth()

		f.mu.Lock()
		f.requests = append(f.requests, capturedRequest{
			Method:   r.Method,
			Path:     r.URL.Path,
			Query:    r.URL.RawQuery,
			Body:     body,
			OpaqueID: r.Header.Get("X-Opaque-Id"),
			User:     user,
		})
		status, response := f.status, f.response
		f.mu.Unlock()

		if status == 0 {
			status = http.StatusOK
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, response)
	}
}

func newFakeClient(t *testing.T, f *fakeCluster, opts Options) *Client {
	t.Helper()
	server := httptest.NewServer(f.handler(t))
	t.Cleanup(server.Close)

	opts.Hosts = []string{server.URL}
	client, err := NewClient(opts)
	require.NoError(t, err)
	return client
}

func TestClientSearch(t *testing.T) {
	f := &fakeCluster{response: `{"hits":{"total":{"value":1,"relation":"eq"},"hits":[{"_id":"a","_score":1.2,"_source":{"n":1}}]}}`}
	client := newFakeClient(t, f, Options{Username: "elastic", Password: "secret"})

	raw, err := client.Search(context.Background(), esquery.Request{
		Index: "shop",
		Type:  "users",
		Body:  esquery.WireTree{"size": 5},
	})
	require.NoError(t, err)

	rs, err := esquery.ParseSearch(raw, nil)
	require.NoError(t, err)
	require.EqualValues(t, 1, rs.Total)
	require.Equal(t, "a", rs.Rows[0].ID)
	require.Equal(t, 1.2, rs.Rows[0].Score)
	require.Equal(t, json.Number("1"), rs.Rows[0].Fields["n"])

	require.Len(t, f.requests, 1)
	req := f.requests[0]
	require.Equal(t, http.MethodPost, req.Method)
	require.Equal(t, "/shop/_search", req.Path)
	require.Equal(t, map[string]any{"size": float64(5)}, req.Body)
	require.NotEmpty(t, req.OpaqueID)
	require.Equal(t, "elastic", req.User)
}

func TestClientMappingTypePaths(t *testing.T) {
	f := &fakeCluster{response: `{"_id":"x7","result":"created"}`}
	client := newFakeClient(t, f, Options{UseMappingTypes: true, Refresh: "wait_for"})
	ctx := context.Background()
	base := esquery.Request{Index: "shop", Type: "users"}

	_, err := client.Search(ctx, base)
	require.NoError(t, err)

	index := base
	index.ID = "x7"
	index.Body = esquery.WireTree{"_id": "x7"}
	_, err = client.Index(ctx, index)
	require.NoError(t, err)

	update := base
	update.ID = "x7"
	update.Body = esquery.WireTree{"doc": map[string]any{"a": 1}}
	_, err = client.Update(ctx, update)
	require.NoError(t, err)

	del := base
	del.ID = "x7"
	_, err = client.Delete(ctx, del)
	require.NoError(t, err)

	got := make([]string, 0, len(f.requests))
	for _, r := range f.requests {
		got = append(got, r.Method+" "+r.Path+"?"+r.Query)
	}
	require.Equal(t, []string{
		"POST /shop/users/_search?",
		"PUT /shop/users/x7?refresh=wait_for",
		"POST /shop/users/x7/_update?refresh=wait_for",
		"DELETE /shop/users/x7?refresh=wait_for",
	}, got)
	require.Empty(t, f.requests[1].Body)
}

func TestClientTypelessPaths(t *testing.T) {
	f := &fakeCluster{response: `{"_id":"generated","result":"created"}`}
	client := newFakeClient(t, f, Options{})
	ctx := context.Background()

	raw, err := client.Index(ctx, esquery.Request{Index: "shop", Type: "users", Body: esquery.WireTree{"n": 1}})
	require.NoError(t, err)
	require.Equal(t, esquery.WriteResult{Success: true, ID: "generated", Result: "created", Affected: 1}, esquery.ParseWrite(raw))

	_, err = client.Update(ctx, esquery.Request{Index: "shop", ID: 9, Body: esquery.WireTree{"doc": map[string]any{}}})
	require.NoError(t, err)

	require.Equal(t, "POST", f.requests[0].Method)
	require.Equal(t, "/shop/_doc", f.requests[0].Path)
	require.Equal(t, "/shop/_update/9", f.requests[1].Path)
}

func TestClientErrors(t *testing.T) {
	f := &fakeCluster{
		status:   http.StatusBadRequest,
		response: `{"error":{"type":"parsing_exception","reason":"no [query] registered for [filter]"},"status":400}`,
	}
	client := newFakeClient(t, f, Options{})
	ctx := context.Background()

	_, err := client.Search(ctx, esquery.Request{Index: "shop"})
	var respErr *ResponseError
	require.True(t, errors.As(err, &respErr))
	require.Equal(t, http.StatusBadRequest, respErr.StatusCode)
	require.Equal(t, "parsing_exception", respErr.Type)
	require.False(t, respErr.Temporary())

	f.status = http.StatusNotFound
	f.response = `{"_id":"x7","result":"not_found"}`
	raw, err := client.Delete(ctx, esquery.Request{Index: "shop", ID: "x7"})
	require.NoError(t, err)
	require.Zero(t, esquery.ParseWrite(raw).Affected)

	f.response = `{"error":{"type":"document_missing_exception","reason":"missing"}}`
	_, err = client.Update(ctx, esquery.Request{Index: "shop", ID: "x7", Body: esquery.WireTree{"doc": map[string]any{}}})
	require.ErrorIs(t, err, esquery.ErrNotFound)

	f.status = http.StatusServiceUnavailable
	f.response = ``
	_, err = client.Search(ctx, esquery.Request{Index: "shop"})
	require.True(t, errors.As(err, &respErr))
	require.True(t, respErr.Temporary())

	_, err = client.Delete(ctx, esquery.Request{Index: "shop"})
	require.ErrorIs(t, err, esquery.ErrMissingDocumentID)
}

func TestClientRotatesHosts(t *testing.T) {
	var (
		mu   sync.Mutex
		hits = map[string]int{}
	)
	newServer := func(name string) *httptest.Server {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mu.Lock()
			hits[name]++
			mu.Unlock()
			_, _ = io.WriteString(w, `{}`)
		}))
		t.Cleanup(server.Close)
		return server
	}
	a, b := newServer("a"), newServer("b")

	client, err := NewClient(Options{Hosts: []string{a.URL, b.URL + "/"}})
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		require.NoError(t, client.Ping(context.Background()))
	}
	require.Equal(t, map[string]int{"a": 2, "b": 2}, hits)
}

func TestNewClientValidatesHosts(t *testing.T) {
	_, err := NewClient(Options{Hosts: []string{"localhost:9200"}})
	require.ErrorIs(t, err, ErrConfig)

	_, err = NewClient(Options{RequestsPerSecond: -1})
	require.ErrorIs(t, err, ErrConfig)
}

func TestClientRateLimiterHonoursContext(t *testing.T) {
	f := &fakeCluster{response: `{}`}
	client := newFakeClient(t, f, Options{RequestsPerSecond: 0.001, Burst: 1})

	require.NoError(t, client.Ping(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, client.Ping(ctx))
	require.Len(t, f.requests, 1)
}
