package couchkit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

type orderDoc struct {
	ID     string `json:"_id"`
	Status string `json:"status"`
}

func TestQueryMangoStreamsDocsAndBookmark(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{"docs":[{"_id":"o1","status":"open"},{"_id":"o2","status":"closed"}],"bookmark":"g1AAA"}`))
	}))
	defer server.Close()

	c := NewClient(server.URL)
	query := MangoQuery{Selector: Eq("status", "open")}
	events, err := QueryMango(context.Background(), c, "db", query, JSONDecoder[orderDoc]())
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	var docs int
	var bookmark string
	for ev := range events {
		if ev.Err != nil {
			t.Fatalf("unexpected stream error: %s", ev.Err)
		}
		if ev.Result.HasDoc {
			docs++
		} else {
			bookmark = ev.Result.Bookmark
		}
	}
	if docs != 2 {
		t.Errorf("expected 2 docs, got %d", docs)
	}
	if bookmark != "g1AAA" {
		t.Errorf("expected a trailing bookmark, got %q", bookmark)
	}
}

func TestQueryMangoServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{"error":"invalid_selector","reason":"bad field"}`))
	}))
	defer server.Close()

	c := NewClient(server.URL)
	query := MangoQuery{Selector: Eq("status", "open")}
	events, err := QueryMango(context.Background(), c, "db", query, JSONDecoder[orderDoc]())
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	var gotErr bool
	for ev := range events {
		if ev.Err != nil {
			gotErr = true
		}
	}
	if !gotErr {
		t.Errorf("expected a terminal error event")
	}
}

func TestSelectorHelpers(t *testing.T) {
	sel := And(Eq("status", "open"), Gt("total", 10))
	and, ok := sel["$and"].([]Selector)
	if !ok || len(and) != 2 {
		t.Errorf("unexpected And() shape: %#v", sel)
	}
}
