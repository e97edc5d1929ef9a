package couchkit

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// defaultCorrelationHeader is the header NewClient configures when no
// override header name is given; every request then carries it, with the
// caller's correlation id or a generated one.
const defaultCorrelationHeader = "X-Request-ID"

// RequestSpec is a transient value describing one logical operation: a
// method, path segments relative to the client's base URL, optional
// query parameters, and an optional body. It carries no retry logic —
// that lives entirely in the change feed subscriber (C6).
type RequestSpec struct {
	Method        string
	Segments      []string
	Query         url.Values
	Body          []byte
	ContentType   string // overrides the default application/json
	CorrelationID string // empty means "generate one if a header is configured"
}

// requestBuilder constructs *http.Request values for one Client. It is
// held by value inside Client and is safe to reuse across goroutines:
// it owns no mutable state beyond its configuration.
type requestBuilder struct {
	baseURL           string
	username          string
	password           string
	correlationHeader string
}

func newRequestBuilder(baseURL, username, password, correlationHeader string) requestBuilder {
	return requestBuilder{
		baseURL:           strings.TrimRight(baseURL, "/"),
		username:          username,
		password:          password,
		correlationHeader: correlationHeader,
	}
}

// joinPath collapses adjacent "/" the way a naive string concatenation
// of segments would otherwise duplicate them (e.g. a base URL or db name
// ending in "/" followed by a segment starting with "/").
func joinPath(base string, segments ...string) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(base, "/"))
	for _, seg := range segments {
		seg = strings.Trim(seg, "/")
		if seg == "" {
			continue
		}
		b.WriteByte('/')
		b.WriteString(seg)
	}
	return b.String()
}

func (rb requestBuilder) build(ctx context.Context, spec RequestSpec) (*http.Request, error) {
	rawURL := joinPath(rb.baseURL, spec.Segments...)
	if len(spec.Query) > 0 {
		rawURL += "?" + spec.Query.Encode()
	}

	var body *strings.Reader
	if spec.Body != nil {
		body = strings.NewReader(string(spec.Body))
	}

	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, spec.Method, rawURL, body)
	} else {
		req, err = http.NewRequestWithContext(ctx, spec.Method, rawURL, nil)
	}
	if err != nil {
		return nil, err
	}

	if rb.username != "" && rb.password != "" {
		req.SetBasicAuth(rb.username, rb.password)
	}

	if spec.Body != nil {
		contentType := spec.ContentType
		if contentType == "" {
			contentType = "application/json"
		}
		req.Header.Set("Content-Type", contentType)
	}

	if rb.correlationHeader != "" {
		id := spec.CorrelationID
		if id == "" {
			id = uuid.NewString()
		}
		req.Header.Set(rb.correlationHeader, id)
	}

	return req, nil
}
