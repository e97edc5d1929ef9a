package couchkit

import (
	"encoding/json"
	"testing"
)

func TestViewQueryPathAllDocs(t *testing.T) {
	q := ViewQuery{}
	got := q.path()
	if len(got) != 1 || got[0] != "_all_docs" {
		t.Errorf("expected _all_docs path, got %v", got)
	}
}

func TestViewQueryPathDesignView(t *testing.T) {
	q := ViewQuery{DesignDoc: "users", View: "by_email"}
	got := q.path()
	want := []string{"_design", "users", "_view", "by_email"}
	if len(got) != len(want) {
		t.Fatalf("unexpected path length: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("path[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestViewQueryMultiKeyUsesPost(t *testing.T) {
	q := ViewQuery{Keys: []interface{}{"a", "b"}}
	spec, err := q.requestSpec([]string{"db"})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if spec.Method != "POST" {
		t.Errorf("expected POST for multi-key query, got %s", spec.Method)
	}
	if spec.Body == nil {
		t.Errorf("expected a keys body")
	}
}

func TestViewQuerySingleElementKeysUsesPost(t *testing.T) {
	q := ViewQuery{Keys: []interface{}{"only"}}
	spec, err := q.requestSpec([]string{"db"})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if spec.Method != "POST" {
		t.Errorf("expected POST for a single-element Keys slice, got %s", spec.Method)
	}
	if spec.Body == nil {
		t.Fatalf("expected a keys body")
	}
	var body struct {
		Keys []string `json:"keys"`
	}
	if err := json.Unmarshal(spec.Body, &body); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if len(body.Keys) != 1 || body.Keys[0] != "only" {
		t.Errorf("expected the single key to be carried in the POST body, got %+v", body.Keys)
	}
}

func TestViewQuerySingleKeyUsesGet(t *testing.T) {
	q := ViewQuery{Key: "a"}
	spec, err := q.requestSpec([]string{"db"})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if spec.Method != "GET" {
		t.Errorf("expected GET for single-key query, got %s", spec.Method)
	}
	if spec.Query.Get("key") != `"a"` {
		t.Errorf("expected key to be JSON-encoded in query string, got %q", spec.Query.Get("key"))
	}
}

func TestViewQueryEncodeGroupLevel(t *testing.T) {
	q := ViewQuery{GroupLevel: -1}
	v, err := q.encode()
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if v.Get("group") != "true" {
		t.Errorf("expected group=true for exact grouping, got %q", v.Get("group"))
	}

	q2 := ViewQuery{GroupLevel: 2}
	v2, err := q2.encode()
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if v2.Get("group_level") != "2" {
		t.Errorf("expected group_level=2, got %q", v2.Get("group_level"))
	}
}

func TestViewQueryEncodeInclusiveEndDefault(t *testing.T) {
	q := ViewQuery{}
	v, err := q.encode()
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if v.Get("inclusive_end") != "" {
		t.Errorf("expected inclusive_end to be omitted by default, got %q", v.Get("inclusive_end"))
	}

	q2 := ViewQuery{ExclusiveEnd: true}
	v2, err := q2.encode()
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	if v2.Get("inclusive_end") != "false" {
		t.Errorf("expected inclusive_end=false, got %q", v2.Get("inclusive_end"))
	}
}
