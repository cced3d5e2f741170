package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gabisonia/go-esquery/esquery"
	"github.com/gabisonia/go-esquery/queryfile"
	"github.com/gabisonia/go-esquery/whereexpr"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Options configures the router.
type Options struct {
	Logger *slog.Logger
	// DefaultType is used when a query document names no type.
	DefaultType string
	KeyName     string
	// RequestsPerMinute enables per-client rate limiting when positive.
	RequestsPerMinute int
	Burst             int
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Burst <= 0 {
		o.Burst = 10
	}
	return o
}

// Server exposes query compilation and search over HTTP.
type Server struct {
	conn   *esquery.Connection
	parser *whereexpr.Parser
	opts   Options
}

// NewServer creates a server bound to conn.
func NewServer(conn *esquery.Connection, parser *whereexpr.Parser, opts Options) *Server {
	return &Server{conn: conn, parser: parser, opts: opts.withDefaults()}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(s.opts.Logger), RequestMetrics())
	if s.opts.RequestsPerMinute > 0 {
		r.Use(RateLimitMiddleware(s.opts.RequestsPerMinute, s.opts.Burst))
	}

	r.GET("/healthz", s.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.POST("/compile", s.Compile)
	r.POST("/search", s.Search)
	r.POST("/tables/:type/documents", s.InsertDocument)
	r.DELETE("/tables/:type/documents/:id", s.DeleteDocument)
	return r
}

func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "index": s.conn.Index()})
}

// CompileResponse is the compiled request returned by /compile.
type CompileResponse struct {
	Index string           `json:"index"`
	Type  string           `json:"type,omitempty"`
	Body  esquery.WireTree `json:"body"`
}

// Compile turns a query document into the engine request without sending it.
func (s *Server) Compile(c *gin.Context) {
	q, ok := s.readQuery(c)
	if !ok {
		return
	}
	target := q.Target(esquery.Target{Index: s.conn.Index(), Type: s.typeFor(c), KeyName: s.opts.KeyName})
	b, err := q.Apply(esquery.NewBuilder(target), s.parser)
	if err != nil {
		s.writeError(c, err)
		return
	}
	spec, err := b.Spec()
	if err != nil {
		s.writeError(c, err)
		return
	}
	req, err := s.conn.Compiler().CompileSelect(spec)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, CompileResponse{Index: req.Index, Type: req.Type, Body: req.Body})
}

// HitResponse is one normalized hit.
type HitResponse struct {
	ID     string         `json:"id"`
	Score  float64        `json:"score"`
	Fields map[string]any `json:"fields"`
}

// SearchResponse is the normalized result of /search.
type SearchResponse struct {
	Total        int64         `json:"total"`
	Rows         []HitResponse `json:"rows"`
	Aggregations any           `json:"aggregations,omitempty"`
}

// Search runs a query document against the connection's index.
func (s *Server) Search(c *gin.Context) {
	q, ok := s.readQuery(c)
	if !ok {
		return
	}
	if q.Index != "" && q.Index != s.conn.Index() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query index does not match the served index"})
		return
	}
	target := q.Target(esquery.Target{Index: s.conn.Index(), Type: s.typeFor(c), KeyName: s.opts.KeyName})
	table := s.conn.Table(target.Type, target.KeyName)

	b, err := q.Apply(table.Query(), s.parser)
	if err != nil {
		s.writeError(c, err)
		return
	}
	rs, err := table.Get(c.Request.Context(), b)
	if err != nil {
		s.writeError(c, err)
		return
	}

	resp := SearchResponse{Total: rs.Total, Rows: make([]HitResponse, 0, len(rs.Rows)), Aggregations: rs.Aggregations}
	for _, h := range rs.Rows {
		resp.Rows = append(resp.Rows, HitResponse{ID: h.ID, Score: h.Score, Fields: h.Fields})
	}
	c.JSON(http.StatusOK, resp)
}

// InsertDocument indexes the request body into the type named in the path.
func (s *Server) InsertDocument(c *gin.Context) {
	var doc map[string]any
	if err := c.ShouldBindJSON(&doc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	table := s.conn.Table(c.Param("type"), s.opts.KeyName)
	ok, err := table.Insert(c.Request.Context(), doc)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusConflict, gin.H{"error": "document was not indexed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": table.LastInsertID()})
}

func (s *Server) DeleteDocument(c *gin.Context) {
	table := s.conn.Table(c.Param("type"), s.opts.KeyName)
	n, err := table.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if n == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) typeFor(c *gin.Context) string {
	if t := strings.TrimSpace(c.Query("type")); t != "" {
		return t
	}
	return s.opts.DefaultType
}

func (s *Server) readQuery(c *gin.Context) (queryfile.Query, bool) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return queryfile.Query{}, false
	}
	q, err := queryfile.Parse(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return queryfile.Query{}, false
	}
	return q, true
}

func (s *Server) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.opts.Logger.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, esquery.ErrInvalidCondition),
		errors.Is(err, esquery.ErrAggregateFunctionMismatch),
		errors.Is(err, esquery.ErrMissingDocumentID):
		return http.StatusBadRequest
	case errors.Is(err, esquery.ErrUnsupportedOperation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, esquery.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, esquery.ErrInvalidResponse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
