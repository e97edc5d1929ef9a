package couchkit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestReconcileCreatesAbsentDesignDocument(t *testing.T) {
	var putBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case "GET":
			w.WriteHeader(http.StatusNotFound)
		case "PUT":
			putBody, _ = readAll(r.Body)
			w.WriteHeader(201)
			_, _ = w.Write([]byte(`{"ok":true,"id":"_design/users","rev":"1-a"}`))
		}
	}))
	defer server.Close()

	c := NewClient(server.URL)
	r := NewReconciler(c, "db", nil, nil)
	decl := DesignDeclarations{
		DesignDocID: "_design/users",
		Views: []ViewDeclaration{{Name: "by_email", Map: "function(doc){emit(doc.email,null)}"}},
	}
	doc, err := r.Reconcile(context.Background(), decl)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if doc.ID != "_design/users" {
		t.Errorf("unexpected id: %s", doc.ID)
	}
	var sent DesignDocument
	if err := json.Unmarshal(putBody, &sent); err != nil {
		t.Fatalf("unexpected error unmarshaling PUT body: %s", err)
	}
	if sent.Views["by_email"].Map == "" {
		t.Errorf("expected the PUT body to carry the declared view")
	}
}

func TestReconcileKeepsExistingWithoutUpdateIfExists(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "GET" {
			t.Fatalf("expected no write when UpdateIfExists is false, got %s", r.Method)
		}
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{"_id":"_design/users","_rev":"2-b","language":"javascript","views":{"by_email":{"map":"old"}}}`))
	}))
	defer server.Close()

	c := NewClient(server.URL)
	r := NewReconciler(c, "db", nil, nil)
	decl := DesignDeclarations{
		DesignDocID:    "_design/users",
		UpdateIfExists: false,
		Views:          []ViewDeclaration{{Name: "by_email", Map: "new"}},
	}
	doc, err := r.Reconcile(context.Background(), decl)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if doc.Views["by_email"].Map != "old" {
		t.Errorf("expected stored view to be preserved, got %q", doc.Views["by_email"].Map)
	}
}

func TestReconcileForceUpdateOverwritesDiffering(t *testing.T) {
	var putBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case "GET":
			w.WriteHeader(200)
			_, _ = w.Write([]byte(`{"_id":"_design/users","_rev":"2-b","language":"javascript","views":{"by_email":{"map":"old"}}}`))
		case "PUT":
			putBody, _ = readAll(r.Body)
			w.WriteHeader(201)
			_, _ = w.Write([]byte(`{"ok":true,"id":"_design/users","rev":"3-c"}`))
		}
	}))
	defer server.Close()

	c := NewClient(server.URL)
	r := NewReconciler(c, "db", nil, nil)
	decl := DesignDeclarations{
		DesignDocID:    "_design/users",
		UpdateIfExists: true,
		ForceUpdate:    true,
		Views:          []ViewDeclaration{{Name: "by_email", Map: "new"}},
	}
	doc, err := r.Reconcile(context.Background(), decl)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if doc.Views["by_email"].Map != "new" {
		t.Errorf("expected forced overwrite to win, got %q", doc.Views["by_email"].Map)
	}
	var sent DesignDocument
	if err := json.Unmarshal(putBody, &sent); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if sent.Rev != "2-b" {
		t.Errorf("expected PUT to carry the stored revision, got %q", sent.Rev)
	}
}

func TestReconcileAddsWithoutForceWhenStoredLacksName(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case "GET":
			w.WriteHeader(200)
			_, _ = w.Write([]byte(`{"_id":"_design/users","_rev":"2-b","language":"javascript","views":{"by_email":{"map":"old"}}}`))
		case "PUT":
			w.WriteHeader(201)
			_, _ = w.Write([]byte(`{"ok":true,"id":"_design/users","rev":"3-c"}`))
		}
	}))
	defer server.Close()

	c := NewClient(server.URL)
	r := NewReconciler(c, "db", nil, nil)
	decl := DesignDeclarations{
		DesignDocID:    "_design/users",
		UpdateIfExists: true,
		Views: []ViewDeclaration{
			{Name: "by_email", Map: "old"},
			{Name: "by_name", Map: "function(doc){emit(doc.name,null)}"},
		},
	}
	doc, err := r.Reconcile(context.Background(), decl)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if doc.Views["by_name"].Map == "" {
		t.Errorf("expected the new view to be added")
	}
	if doc.Views["by_email"].Map != "old" {
		t.Errorf("expected the existing view to be left untouched without force")
	}
}

func TestReconcileMangoIndexCreatesAbsent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case "GET":
			w.WriteHeader(404)
		case "PUT":
			w.WriteHeader(201)
			_, _ = w.Write([]byte(`{"ok":true,"id":"_design/order_mango","rev":"1-a"}`))
		}
	}))
	defer server.Close()

	c := NewClient(server.URL)
	r := NewReconciler(c, "db", nil, nil)
	decls := []MangoIndexDeclaration{{Name: "by_status", Fields: []string{"status"}}}
	doc, err := r.ReconcileMangoIndex(context.Background(), "_design/order_mango", decls, false, true)
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if doc.Language != "query" {
		t.Errorf("expected query language, got %q", doc.Language)
	}
}
