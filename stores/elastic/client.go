package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gabisonia/go-esquery/esquery"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Options configures a Client.
type Options struct {
	// Hosts are base URLs such as "http://localhost:9200". Requests rotate
	// across them.
	Hosts    []string
	Username string
	Password string
	Timeout  time.Duration
	// RequestsPerSecond limits outgoing requests when positive.
	RequestsPerSecond float64
	Burst             int
	// UseMappingTypes addresses documents as /{index}/{type}/{id}, the
	// path layout of clusters that still have mapping types.
	UseMappingTypes bool
	// Refresh, when set, is sent as the refresh parameter on writes.
	Refresh    string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// DefaultOptions returns the defaults used for zero fields.
func DefaultOptions() Options {
	return Options{
		Hosts:   []string{"http://localhost:9200"},
		Timeout: 30 * time.Second,
		Burst:   1,
		Logger:  slog.Default(),
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if len(o.Hosts) == 0 {
		o.Hosts = d.Hosts
	}
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	if o.Burst <= 0 {
		o.Burst = d.Burst
	}
	if o.Logger == nil {
		o.Logger = d.Logger
	}
	return o
}

func (o Options) validate() error {
	for _, host := range o.Hosts {
		u, err := url.Parse(strings.TrimSpace(host))
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%w: invalid host %q", ErrConfig, host)
		}
	}
	if o.RequestsPerSecond < 0 {
		return fmt.Errorf("%w: requests per second must be >= 0", ErrConfig)
	}
	return nil
}

// Client sends compiled requests to an Elasticsearch cluster over HTTP.
// It implements esquery.Dispatcher.
type Client struct {
	hosts   []string
	next    atomic.Uint64
	http    *http.Client
	limiter *rate.Limiter
	opts    Options
}

var _ esquery.Dispatcher = (*Client)(nil)

// NewClient validates opts and returns a client.
func NewClient(opts Options) (*Client, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	hosts := make([]string, 0, len(opts.Hosts))
	for _, host := range opts.Hosts {
		hosts = append(hosts, strings.TrimRight(strings.TrimSpace(host), "/"))
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	c := &Client{hosts: hosts, http: httpClient, opts: opts}
	if opts.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst)
	}
	return c, nil
}

// Search posts the request body to the _search endpoint.
func (c *Client) Search(ctx context.Context, req esquery.Request) (map[string]any, error) {
	segments := []string{req.Index}
	if c.opts.UseMappingTypes && req.Type != "" {
		segments = append(segments, req.Type)
	}
	segments = append(segments, "_search")
	return c.do(ctx, http.MethodPost, segments, nil, req.Body, false)
}

// Index stores the request body. Requests without an id let the cluster
// assign one.
func (c *Client) Index(ctx context.Context, req esquery.Request) (map[string]any, error) {
	body := withoutMetadata(req.Body)
	if req.ID == nil {
		return c.do(ctx, http.MethodPost, c.docPath(req, ""), c.writeQuery(), body, false)
	}
	return c.do(ctx, http.MethodPut, c.docPath(req, fmt.Sprint(req.ID)), c.writeQuery(), body, false)
}

// withoutMetadata drops _id from a document body; the engine only accepts
// it in the request path.
func withoutMetadata(body esquery.WireTree) esquery.WireTree {
	if _, ok := body["_id"]; !ok {
		return body
	}
	out := make(esquery.WireTree, len(body)-1)
	for k, v := range body {
		if k != "_id" {
			out[k] = v
		}
	}
	return out
}

// Update sends a partial document update.
func (c *Client) Update(ctx context.Context, req esquery.Request) (map[string]any, error) {
	if req.ID == nil {
		return nil, esquery.ErrMissingDocumentID
	}
	id := fmt.Sprint(req.ID)
	segments := []string{req.Index, "_update", id}
	if c.opts.UseMappingTypes {
		segments = []string{req.Index, req.Type, id, "_update"}
	}
	return c.do(ctx, http.MethodPost, segments, c.writeQuery(), req.Body, false)
}

// Delete removes a document. A missing document is reported through the
// result field, not as an error.
func (c *Client) Delete(ctx context.Context, req esquery.Request) (map[string]any, error) {
	if req.ID == nil {
		return nil, esquery.ErrMissingDocumentID
	}
	return c.do(ctx, http.MethodDelete, c.docPath(req, fmt.Sprint(req.ID)), c.writeQuery(), nil, true)
}

// Ping reports whether the first reachable host answers.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, nil, nil, nil, false)
	return err
}

// CreateIndex creates index with the given settings and mappings body.
func (c *Client) CreateIndex(ctx context.Context, index string, body map[string]any) error {
	_, err := c.do(ctx, http.MethodPut, []string{index}, nil, body, false)
	return err
}

// DeleteIndex removes index. A missing index is not an error.
func (c *Client) DeleteIndex(ctx context.Context, index string) error {
	_, err := c.do(ctx, http.MethodDelete, []string{index}, nil, nil, false)
	var respErr *ResponseError
	if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
		return nil
	}
	return err
}

// Refresh makes recent writes to index visible to search.
func (c *Client) Refresh(ctx context.Context, index string) error {
	_, err := c.do(ctx, http.MethodPost, []string{index, "_refresh"}, nil, nil, false)
	return err
}

func (c *Client) docPath(req esquery.Request, id string) []string {
	segments := []string{req.Index, "_doc"}
	if c.opts.UseMappingTypes && req.Type != "" {
		segments = []string{req.Index, req.Type}
	}
	if id != "" {
		segments = append(segments, id)
	}
	return segments
}

func (c *Client) writeQuery() url.Values {
	if c.opts.Refresh == "" {
		return nil
	}
	return url.Values{"refresh": []string{c.opts.Refresh}}
}

func (c *Client) host() string {
	n := c.next.Add(1) - 1
	return c.hosts[n%uint64(len(c.hosts))]
}

func (c *Client) do(ctx context.Context, method string, segments []string, query url.Values, body map[string]any, allowNotFound bool) (map[string]any, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	escaped := make([]string, 0, len(segments))
	for _, segment := range segments {
		escaped = append(escaped, url.PathEscape(segment))
	}
	target := c.host() + "/" + strings.Join(escaped, "/")
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	opaqueID := uuid.NewString()
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Opaque-Id", opaqueID)
	if reader != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.opts.Username != "" {
		httpReq.SetBasicAuth(c.opts.Username, c.opts.Password)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	decoded, err := decodeBody(resp.Body)
	c.opts.Logger.Debug("elastic request",
		"method", method,
		"url", target,
		"status", resp.StatusCode,
		"opaque_id", opaqueID,
		"elapsed", time.Since(start),
	)
	if resp.StatusCode >= http.StatusBadRequest {
		if allowNotFound && resp.StatusCode == http.StatusNotFound && decoded != nil && decoded["result"] != nil {
			return decoded, nil
		}
		return nil, newResponseError(resp.StatusCode, decoded)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", esquery.ErrInvalidResponse, err)
	}
	return decoded, nil
}

// decodeBody reads a JSON object keeping numbers as json.Number. An empty
// body decodes to an empty map.
func decodeBody(r io.Reader) (map[string]any, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	out := map[string]any{}
	if err := dec.Decode(&out); err != nil {
		if errors.Is(err, io.EOF) {
			return map[string]any{}, nil
		}
		return nil, err
	}
	return out, nil
}
