package couchkit

import (
	"encoding/json"
	"net/url"
	"strconv"
)

// StalePolicy controls whether the server may answer a view query from a
// not-yet-updated index.
type StalePolicy string

const (
	StaleNone   StalePolicy = ""
	StaleOK     StalePolicy = "ok"
	StaleUpdateAfter StalePolicy = "update_after"
)

// ViewQuery is a transient value object describing one view (or
// _all_docs) request. It carries no I/O; build it, hand it to the
// client, and discard it.
type ViewQuery struct {
	// DesignDoc is empty for the _all_docs pseudo-view.
	DesignDoc string
	View      string

	StartKey interface{}
	EndKey   interface{}

	// ExclusiveEnd requests inclusive_end=false; the zero value (false)
	// matches the server's own default of an inclusive end key.
	ExclusiveEnd bool

	Key  interface{}
	Keys []interface{}

	Limit int // 0 means unset
	Skip  int

	Descending bool

	IncludeDocs bool
	Reduce      *bool // nil means unset, let the server default

	GroupLevel int // 0 means "no grouping"; -1 means exact grouping (group=true)

	Stale StalePolicy

	// IgnoreNotFound suppresses per-row "not_found" errors, used by the
	// pagination batcher's _all_docs lookups.
	IgnoreNotFound bool
}

// path returns the URL segments for this query relative to the database.
func (q ViewQuery) path() []string {
	if q.DesignDoc == "" {
		return []string{"_all_docs"}
	}
	return []string{"_design", q.DesignDoc, "_view", q.View}
}

// multiKey reports whether this query must be issued as POST with a
// {"keys": [...]} body, per spec.md §4.3. Any non-empty Keys routes
// through the POST body, including a single-element slice: q.Key is a
// distinct field and is never read out of q.Keys.
func (q ViewQuery) multiKey() bool {
	return len(q.Keys) > 0
}

// encode returns the query-string parameters for the request. When
// multiKey is true, key is left out (the keys travel in the POST body
// instead); every other parameter is still encoded.
func (q ViewQuery) encode() (url.Values, error) {
	v := url.Values{}

	putJSON := func(name string, value interface{}) error {
		if value == nil {
			return nil
		}
		b, err := json.Marshal(value)
		if err != nil {
			return err
		}
		v.Set(name, string(b))
		return nil
	}

	if err := putJSON("startkey", q.StartKey); err != nil {
		return nil, err
	}
	if err := putJSON("endkey", q.EndKey); err != nil {
		return nil, err
	}
	if !q.multiKey() && q.Key != nil {
		if err := putJSON("key", q.Key); err != nil {
			return nil, err
		}
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Skip > 0 {
		v.Set("skip", strconv.Itoa(q.Skip))
	}
	if q.Descending {
		v.Set("descending", "true")
	}
	if q.IncludeDocs {
		v.Set("include_docs", "true")
	}
	if q.Reduce != nil {
		v.Set("reduce", strconv.FormatBool(*q.Reduce))
	}
	if q.GroupLevel == -1 {
		v.Set("group", "true")
	} else if q.GroupLevel > 0 {
		v.Set("group_level", strconv.Itoa(q.GroupLevel))
	}
	if q.Stale != StaleNone {
		v.Set("stale", string(q.Stale))
	}
	if q.ExclusiveEnd {
		v.Set("inclusive_end", "false")
	}

	return v, nil
}

// requestSpec builds the RequestSpec for this query against the given
// database segments prefix.
func (q ViewQuery) requestSpec(dbSegments []string) (RequestSpec, error) {
	query, err := q.encode()
	if err != nil {
		return RequestSpec{}, err
	}

	segments := append(append([]string{}, dbSegments...), q.path()...)

	if q.multiKey() {
		body, err := json.Marshal(map[string]interface{}{"keys": q.Keys})
		if err != nil {
			return RequestSpec{}, err
		}
		return RequestSpec{Method: "POST", Segments: segments, Query: query, Body: body}, nil
	}

	return RequestSpec{Method: "GET", Segments: segments, Query: query}, nil
}
