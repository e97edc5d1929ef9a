package couchkit

import (
	"context"
	"testing"
)

func TestJoinPathCollapsesSlashes(t *testing.T) {
	got := joinPath("http://host:5984/", "db/", "/_design/foo/", "_view/bar")
	want := "http://host:5984/db/_design/foo/_view/bar"
	if got != want {
		t.Errorf("joinPath = %q, want %q", got, want)
	}
}

func TestRequestBuilderSetsBasicAuth(t *testing.T) {
	rb := newRequestBuilder("http://host:5984", "admin", "secret", "")
	req, err := rb.build(context.Background(), RequestSpec{Method: "GET", Segments: []string{"db"}})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	user, pass, ok := req.BasicAuth()
	if !ok || user != "admin" || pass != "secret" {
		t.Errorf("expected basic auth to be set, got ok=%v user=%q pass=%q", ok, user, pass)
	}
}

func TestRequestBuilderSkipsAuthWhenEmpty(t *testing.T) {
	rb := newRequestBuilder("http://host:5984", "", "", "")
	req, err := rb.build(context.Background(), RequestSpec{Method: "GET", Segments: []string{"db"}})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if _, _, ok := req.BasicAuth(); ok {
		t.Errorf("expected no basic auth header")
	}
}

func TestRequestBuilderSetsCorrelationHeader(t *testing.T) {
	rb := newRequestBuilder("http://host:5984", "", "", "X-Request-ID")
	req, err := rb.build(context.Background(), RequestSpec{Method: "GET", Segments: []string{"db"}, CorrelationID: "abc-123"})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if got := req.Header.Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("expected correlation header to be preserved, got %q", got)
	}
}

func TestRequestBuilderGeneratesCorrelationID(t *testing.T) {
	rb := newRequestBuilder("http://host:5984", "", "", "X-Request-ID")
	req, err := rb.build(context.Background(), RequestSpec{Method: "GET", Segments: []string{"db"}})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if got := req.Header.Get("X-Request-ID"); got == "" {
		t.Errorf("expected a generated correlation id")
	}
}

func TestRequestBuilderDefaultsContentType(t *testing.T) {
	rb := newRequestBuilder("http://host:5984", "", "", "")
	req, err := rb.build(context.Background(), RequestSpec{Method: "PUT", Segments: []string{"db", "doc1"}, Body: []byte(`{}`)})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if got := req.Header.Get("Content-Type"); got != "application/json" {
		t.Errorf("expected default content type, got %q", got)
	}
}
