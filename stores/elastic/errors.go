package elastic

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gabisonia/go-esquery/esquery"
)

// ErrConfig indicates invalid client options.
var ErrConfig = errors.New("elastic: invalid configuration")

// ResponseError is returned for responses with a 4xx or 5xx status.
type ResponseError struct {
	StatusCode int
	Type       string
	Reason     string
}

func (e *ResponseError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("elastic: status %d", e.StatusCode)
	}
	return fmt.Sprintf("elastic: status %d: %s: %s", e.StatusCode, e.Type, e.Reason)
}

// Unwrap maps 404 responses onto esquery.ErrNotFound.
func (e *ResponseError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return esquery.ErrNotFound
	}
	return nil
}

// Temporary reports whether retrying the request may succeed.
func (e *ResponseError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= http.StatusInternalServerError
}

func newResponseError(status int, body map[string]any) *ResponseError {
	out := &ResponseError{StatusCode: status}
	if body == nil {
		return out
	}
	switch detail := body["error"].(type) {
	case map[string]any:
		out.Type, _ = detail["type"].(string)
		out.Reason, _ = detail["reason"].(string)
	case string:
		out.Reason = detail
	}
	return out
}
