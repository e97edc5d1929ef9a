package couchkit

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
)

// Client is the entry point for every operation in this package: it
// owns a request builder and a response gate, and is safe for
// concurrent use by multiple goroutines, matching the teacher's
// "one long-lived handle, many callers" posture.
type Client struct {
	requests  requestBuilder
	gate      *responseGate
	logger    Logger
	batchSize int
}

// ClientOption configures a Client at construction time.
type ClientOption func(*Client)

// WithBasicAuth sets the credentials applied to every outgoing request.
func WithBasicAuth(username, password string) ClientOption {
	return func(c *Client) {
		c.requests.username = username
		c.requests.password = password
	}
}

// WithTransport overrides the default *http.Client-backed Transport.
func WithTransport(t Transport) ClientOption {
	return func(c *Client) {
		c.gate.transport = t
	}
}

// WithHTTPClient is a convenience wrapper around WithTransport for
// callers who only need to customize *http.Client (timeouts, TLS,
// connection pooling) rather than supply a fake Transport.
func WithHTTPClient(hc *http.Client) ClientOption {
	return WithTransport(NewHTTPTransport(hc))
}

// WithCorrelationHeader names the header every outgoing request carries
// a correlation id under. Unset, the header is X-Request-ID
// (defaultCorrelationHeader).
func WithCorrelationHeader(name string) ClientOption {
	return func(c *Client) {
		c.requests.correlationHeader = name
	}
}

// WithLogger installs the Logger that reports failed design-document
// writes made by a Reconciler. A nil Logger is treated as a no-op.
func WithLogger(l Logger) ClientOption {
	return func(c *Client) {
		if l == nil {
			l = noopLogger{}
		}
		c.logger = l
	}
}

// WithDefaultBatchSize overrides DefaultBatchSize for PaginateAllDocs
// calls that don't specify one explicitly.
func WithDefaultBatchSize(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithHeaderObserver registers a HeaderHandler for every response header
// whose name carries the given prefix, e.g. a cluster's request-id echo.
func WithHeaderObserver(prefix string, handler HeaderHandler) ClientOption {
	return func(c *Client) {
		c.gate.onHeaderPrefix(prefix, handler)
	}
}

// NewClient builds a Client targeting baseURL (e.g.
// "http://localhost:5984").
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		requests:  newRequestBuilder(baseURL, "", "", defaultCorrelationHeader),
		gate:      newResponseGate(NewHTTPTransport(nil)),
		logger:    noopLogger{},
		batchSize: DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BatchSize returns the batch size PaginateAllDocs uses when the caller
// passes 0.
func (c *Client) BatchSize() int {
	return c.batchSize
}

func readAll(rc io.ReadCloser) ([]byte, error) {
	defer rc.Close()
	return io.ReadAll(rc)
}

// DatabaseExists reports whether db exists, via HEAD.
func (c *Client) DatabaseExists(ctx context.Context, db string) (bool, error) {
	req, err := c.requests.build(ctx, RequestSpec{Method: "HEAD", Segments: []string{db}})
	if err != nil {
		return false, err
	}
	result, err := c.gate.execute(req, true)
	if err != nil {
		return false, err
	}
	if result.Absent {
		return false, nil
	}
	_ = result.Response.Body.Close()
	return true, nil
}

// CreateDatabase issues PUT /<db>. It is idempotent from the caller's
// perspective: an already-existing database surfaces as ErrConflict,
// matching the server's own semantics.
func (c *Client) CreateDatabase(ctx context.Context, db string) error {
	req, err := c.requests.build(ctx, RequestSpec{Method: "PUT", Segments: []string{db}})
	if err != nil {
		return err
	}
	result, err := c.gate.execute(req, false)
	if err != nil {
		return err
	}
	return result.Response.Body.Close()
}

// DeleteDatabase issues DELETE /<db>.
func (c *Client) DeleteDatabase(ctx context.Context, db string) error {
	req, err := c.requests.build(ctx, RequestSpec{Method: "DELETE", Segments: []string{db}})
	if err != nil {
		return err
	}
	result, err := c.gate.execute(req, false)
	if err != nil {
		return err
	}
	return result.Response.Body.Close()
}

// SecurityDocument is the shape stored at /<db>/_security.
type SecurityDocument struct {
	Admins  SecurityGroup `json:"admins,omitempty"`
	Members SecurityGroup `json:"members,omitempty"`
}

// SecurityGroup names a set of users and roles.
type SecurityGroup struct {
	Names []string `json:"names,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// PutSecurity replaces db's security document.
func (c *Client) PutSecurity(ctx context.Context, db string, sec SecurityDocument) error {
	body, err := json.Marshal(sec)
	if err != nil {
		return err
	}
	req, err := c.requests.build(ctx, RequestSpec{
		Method:   "PUT",
		Segments: []string{db, "_security"},
		Body:     body,
	})
	if err != nil {
		return err
	}
	result, err := c.gate.execute(req, false)
	if err != nil {
		return err
	}
	return result.Response.Body.Close()
}

// Get fetches one document by id. found is false when the server
// answered 404; err is nil in that case, per the null-if-404 contract.
func (c *Client) Get(ctx context.Context, db, id string) (doc Document, found bool, err error) {
	req, err := c.requests.build(ctx, RequestSpec{Method: "GET", Segments: []string{db, id}})
	if err != nil {
		return Document{}, false, err
	}
	result, err := c.gate.execute(req, true)
	if err != nil {
		return Document{}, false, err
	}
	if result.Absent {
		return Document{}, false, nil
	}
	raw, err := readAll(result.Response.Body)
	if err != nil {
		return Document{}, false, err
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Document{}, false, &DeserializationError{RowID: id, Err: err}
	}
	return doc, true, nil
}

type putResponse struct {
	ID  string `json:"id"`
	Rev string `json:"rev"`
	OK  bool   `json:"ok"`
}

// Put creates or updates a single document. A non-empty doc.Rev targets
// the revision being replaced; a conflicting Rev surfaces as
// ErrConflict.
func (c *Client) Put(ctx context.Context, db string, doc Document) (rev string, err error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	segments := []string{db}
	if doc.ID != "" {
		segments = append(segments, doc.ID)
	}
	method := "POST"
	if doc.ID != "" {
		method = "PUT"
	}
	req, err := c.requests.build(ctx, RequestSpec{Method: method, Segments: segments, Body: body})
	if err != nil {
		return "", err
	}
	result, err := c.gate.execute(req, false)
	if err != nil {
		return "", err
	}
	raw, err := readAll(result.Response.Body)
	if err != nil {
		return "", err
	}
	var resp putResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", &DeserializationError{RowID: doc.ID, Err: err}
	}
	return resp.Rev, nil
}

// Delete removes the revision rev of document id.
func (c *Client) Delete(ctx context.Context, db, id, rev string) (newRev string, err error) {
	req, err := c.requests.build(ctx, RequestSpec{
		Method:   "DELETE",
		Segments: []string{db, id},
		Query:    map[string][]string{"rev": {rev}},
	})
	if err != nil {
		return "", err
	}
	result, err := c.gate.execute(req, false)
	if err != nil {
		return "", err
	}
	raw, err := readAll(result.Response.Body)
	if err != nil {
		return "", err
	}
	var resp putResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", &DeserializationError{RowID: id, Err: err}
	}
	return resp.Rev, nil
}

// GetAttachment fetches one named attachment's bytes and content type.
// found is false on a 404.
func (c *Client) GetAttachment(ctx context.Context, db, docID, name string) (data []byte, contentType string, found bool, err error) {
	req, err := c.requests.build(ctx, RequestSpec{Method: "GET", Segments: []string{db, docID, name}})
	if err != nil {
		return nil, "", false, err
	}
	result, err := c.gate.execute(req, true)
	if err != nil {
		return nil, "", false, err
	}
	if result.Absent {
		return nil, "", false, nil
	}
	data, err = readAll(result.Response.Body)
	if err != nil {
		return nil, "", false, err
	}
	return data, result.Response.Header.Get("Content-Type"), true, nil
}

// PutAttachment creates or replaces a named attachment on docID at
// revision rev, returning the document's new revision.
func (c *Client) PutAttachment(ctx context.Context, db, docID, rev, name, contentType string, data []byte) (newRev string, err error) {
	query := map[string][]string{}
	if rev != "" {
		query["rev"] = []string{rev}
	}
	req, err := c.requests.build(ctx, RequestSpec{
		Method:      "PUT",
		Segments:    []string{db, docID, name},
		Query:       query,
		Body:        data,
		ContentType: contentType,
	})
	if err != nil {
		return "", err
	}
	result, err := c.gate.execute(req, false)
	if err != nil {
		return "", err
	}
	raw, err := readAll(result.Response.Body)
	if err != nil {
		return "", err
	}
	var resp putResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", &DeserializationError{RowID: docID, Err: err}
	}
	return resp.Rev, nil
}

// DeleteAttachment removes a named attachment from docID at revision
// rev, returning the document's new revision.
func (c *Client) DeleteAttachment(ctx context.Context, db, docID, rev, name string) (newRev string, err error) {
	req, err := c.requests.build(ctx, RequestSpec{
		Method:   "DELETE",
		Segments: []string{db, docID, name},
		Query:    map[string][]string{"rev": {rev}},
	})
	if err != nil {
		return "", err
	}
	result, err := c.gate.execute(req, false)
	if err != nil {
		return "", err
	}
	raw, err := readAll(result.Response.Body)
	if err != nil {
		return "", err
	}
	var resp putResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", &DeserializationError{RowID: docID, Err: err}
	}
	return resp.Rev, nil
}

// getDesignDocument fetches _design/<id> (id must already carry the
// "_design/" prefix, per spec.md's id convention). absent is true on a
// 404; err is nil in that case.
func (c *Client) getDesignDocument(ctx context.Context, db, id string) (doc DesignDocument, absent bool, err error) {
	req, err := c.requests.build(ctx, RequestSpec{Method: "GET", Segments: []string{db, id}})
	if err != nil {
		return DesignDocument{}, false, err
	}
	result, err := c.gate.execute(req, true)
	if err != nil {
		return DesignDocument{}, false, err
	}
	if result.Absent {
		return DesignDocument{}, true, nil
	}
	raw, err := readAll(result.Response.Body)
	if err != nil {
		return DesignDocument{}, false, err
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return DesignDocument{}, false, &DeserializationError{RowID: id, Err: err}
	}
	return doc, false, nil
}

// putDesignDocument stores doc at its own ID.
func (c *Client) putDesignDocument(ctx context.Context, db string, doc DesignDocument) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	req, err := c.requests.build(ctx, RequestSpec{
		Method:   "PUT",
		Segments: []string{db, doc.ID},
		Body:     body,
	})
	if err != nil {
		return err
	}
	result, err := c.gate.execute(req, false)
	if err != nil {
		c.logger.Errorf("couchkit: reconcile %s failed: %v", doc.ID, err)
		return err
	}
	return result.Response.Body.Close()
}

// getMangoIndexDesignDocument is getDesignDocument's sibling for the
// differently-shaped Mango index design document.
func (c *Client) getMangoIndexDesignDocument(ctx context.Context, db, id string) (doc MangoIndexDesignDocument, absent bool, err error) {
	req, err := c.requests.build(ctx, RequestSpec{Method: "GET", Segments: []string{db, id}})
	if err != nil {
		return MangoIndexDesignDocument{}, false, err
	}
	result, err := c.gate.execute(req, true)
	if err != nil {
		return MangoIndexDesignDocument{}, false, err
	}
	if result.Absent {
		return MangoIndexDesignDocument{}, true, nil
	}
	raw, err := readAll(result.Response.Body)
	if err != nil {
		return MangoIndexDesignDocument{}, false, err
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return MangoIndexDesignDocument{}, false, &DeserializationError{RowID: id, Err: err}
	}
	return doc, false, nil
}

func (c *Client) putMangoIndexDesignDocument(ctx context.Context, db string, doc MangoIndexDesignDocument) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	req, err := c.requests.build(ctx, RequestSpec{
		Method:   "PUT",
		Segments: []string{db, doc.ID},
		Body:     body,
	})
	if err != nil {
		return err
	}
	result, err := c.gate.execute(req, false)
	if err != nil {
		c.logger.Errorf("couchkit: reconcile mango index %s failed: %v", doc.ID, err)
		return err
	}
	return result.Response.Body.Close()
}
