package couchkit

import (
	"io"
	"net/http"
	"strings"
)

// HeaderHandler observes response header values whose name matches a
// registered prefix (e.g. "X-Couch-Request-ID"). It never blocks the
// caller and must not retain req-scoped buffers past its call.
type HeaderHandler func(name string, values []string)

// responseGate triages an HTTP response before any caller touches its
// body: 401/404/409 map to typed errors (or, for null-if-404 callers, a
// sentinel absent result), other non-2xx statuses become an HTTPError
// carrying the full (server-bounded) error body, and 2xx responses are
// handed back unread for a streaming or buffered decode.
type responseGate struct {
	transport      Transport
	headerPrefixes map[string]HeaderHandler
}

func newResponseGate(transport Transport) *responseGate {
	return &responseGate{transport: transport, headerPrefixes: map[string]HeaderHandler{}}
}

// onHeaderPrefix registers a handler invoked for every response header
// whose name has the given prefix (case-insensitive).
func (g *responseGate) onHeaderPrefix(prefix string, handler HeaderHandler) {
	g.headerPrefixes[strings.ToLower(prefix)] = handler
}

func (g *responseGate) dispatchHeaders(h http.Header) {
	if len(g.headerPrefixes) == 0 {
		return
	}
	for name, values := range h {
		lower := strings.ToLower(name)
		for prefix, handler := range g.headerPrefixes {
			if strings.HasPrefix(lower, prefix) {
				handler(name, values)
			}
		}
	}
}

// gateResult is what execute hands back: either a live response whose
// Body the caller now owns (2xx), or a terminal outcome (absent/error).
type gateResult struct {
	Response *http.Response
	// Absent is true only when nullIfNotFound was requested and the
	// server answered 404; Response is nil in that case.
	Absent bool
}

// execute runs req through the transport and triages its status. When
// nullIfNotFound is true, a 404 is reported as gateResult{Absent: true}
// instead of ErrNotFound, matching single-doc GET / existence-probe /
// design-doc-exists semantics.
func (g *responseGate) execute(req *http.Request, nullIfNotFound bool) (gateResult, error) {
	resp, err := g.transport.Do(req)
	if err != nil {
		return gateResult{}, err
	}

	g.dispatchHeaders(resp.Header)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		defer drainAndClose(resp.Body)
		return gateResult{}, ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		defer drainAndClose(resp.Body)
		if nullIfNotFound {
			return gateResult{Absent: true}, nil
		}
		return gateResult{}, ErrNotFound
	case resp.StatusCode == http.StatusConflict:
		defer drainAndClose(resp.Body)
		return gateResult{}, ErrConflict
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return gateResult{Response: resp}, nil
	default:
		defer drainAndClose(resp.Body)
		body, _ := io.ReadAll(resp.Body)
		return gateResult{}, &HTTPError{Status: resp.StatusCode, Body: string(body)}
	}
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
