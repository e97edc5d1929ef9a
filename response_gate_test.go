package couchkit

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

type fakeTransport struct {
	status int
	body   string
	header http.Header
}

func (f fakeTransport) Do(req *http.Request) (*http.Response, error) {
	h := f.header
	if h == nil {
		h = http.Header{}
	}
	return &http.Response{
		StatusCode: f.status,
		Body:       io.NopCloser(strings.NewReader(f.body)),
		Header:     h,
	}, nil
}

func newTestRequest(t *testing.T) *http.Request {
	t.Helper()
	req, err := http.NewRequest("GET", "http://host/db", nil)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	return req
}

func TestResponseGateUnauthorized(t *testing.T) {
	gate := newResponseGate(fakeTransport{status: http.StatusUnauthorized})
	_, err := gate.execute(newTestRequest(t), false)
	if err != ErrUnauthorized {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestResponseGateConflict(t *testing.T) {
	gate := newResponseGate(fakeTransport{status: http.StatusConflict})
	_, err := gate.execute(newTestRequest(t), false)
	if err != ErrConflict {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func TestResponseGateNotFoundWithoutNullFallback(t *testing.T) {
	gate := newResponseGate(fakeTransport{status: http.StatusNotFound})
	_, err := gate.execute(newTestRequest(t), false)
	if err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestResponseGateNotFoundWithNullFallback(t *testing.T) {
	gate := newResponseGate(fakeTransport{status: http.StatusNotFound})
	result, err := gate.execute(newTestRequest(t), true)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if !result.Absent {
		t.Errorf("expected Absent to be true")
	}
}

func TestResponseGateOtherErrorCarriesBody(t *testing.T) {
	gate := newResponseGate(fakeTransport{status: 500, body: `{"error":"internal"}`})
	_, err := gate.execute(newTestRequest(t), false)
	httpErr, ok := err.(*HTTPError)
	if !ok {
		t.Fatalf("expected *HTTPError, got %T", err)
	}
	if httpErr.Status != 500 || !strings.Contains(httpErr.Body, "internal") {
		t.Errorf("unexpected HTTPError: %+v", httpErr)
	}
}

func TestResponseGateSuccessLeavesBodyOpen(t *testing.T) {
	gate := newResponseGate(fakeTransport{status: 200, body: `{"ok":true}`})
	result, err := gate.execute(newTestRequest(t), false)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	defer result.Response.Body.Close()
	body, _ := io.ReadAll(result.Response.Body)
	if string(body) != `{"ok":true}` {
		t.Errorf("unexpected body: %s", body)
	}
}

func TestResponseGateDispatchesHeaderObservers(t *testing.T) {
	var seen []string
	gate := newResponseGate(fakeTransport{
		status: 200,
		body:   "{}",
		header: http.Header{"X-Couch-Request-ID": []string{"abc"}},
	})
	gate.onHeaderPrefix("X-Couch-", func(name string, values []string) {
		seen = append(seen, name+"="+values[0])
	})
	result, err := gate.execute(newTestRequest(t), false)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	defer result.Response.Body.Close()
	if len(seen) != 1 {
		t.Errorf("expected one observed header, got %v", seen)
	}
}

func TestHTTPTransportRoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	transport := NewHTTPTransport(nil)
	u, _ := url.Parse(server.URL)
	req := &http.Request{Method: "GET", URL: u, Header: http.Header{}}
	resp, err := transport.Do(req)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != `{"ok":true}` {
		t.Errorf("unexpected body: %s", body)
	}
}
