package couchkit

import (
	"encoding/json"

	"github.com/valyala/fastjson"
)

// parserPool is reused across the package for cheap, allocation-light
// peeks at small JSON subtrees (the change feed's discriminator field),
// the same pattern the teacher uses for every document parse.
var parserPool fastjson.ParserPool

// Document is the generic envelope around an application body. A
// document with an empty Rev has never been persisted; every successful
// create/update yields a Rev distinct from all prior revisions of the
// same ID.
type Document struct {
	ID      string                 `json:"_id,omitempty"`
	Rev     string                 `json:"_rev,omitempty"`
	Deleted bool                   `json:"_deleted,omitempty"`
	// RevHistory maps a revision token to its predecessor's summary.
	// MarshalJSON and UnmarshalJSON neither write nor read it, so it is
	// never populated from a server response.
	RevHistory  map[string]string     `json:"-"`
	Attachments map[string]Attachment `json:"_attachments,omitempty"`
	// Body holds the application-typed payload verbatim, excluding the
	// reserved couch fields above.
	Body json.RawMessage `json:"-"`
}

// Attachment describes one named attachment on a Document.
type Attachment struct {
	ContentType string `json:"content_type"`
	Length      int64  `json:"length"`
	Digest      string `json:"digest"`
	Stub        bool   `json:"stub,omitempty"`
}

// DesignView is the map/reduce pair stored under a design document's
// "views" key.
type DesignView struct {
	Map    string `json:"map"`
	Reduce string `json:"reduce,omitempty"`
}

// DesignDocument mirrors the server's representation of a _design/
// document: a language tag, view definitions, and per-category handler
// function sources. Within one design document a name is unique within
// its category.
type DesignDocument struct {
	ID             string                 `json:"_id"`
	Rev            string                 `json:"_rev,omitempty"`
	Language       string                 `json:"language,omitempty"`
	Views          map[string]DesignView  `json:"views,omitempty"`
	Filters        map[string]string      `json:"filters,omitempty"`
	Shows          map[string]string      `json:"shows,omitempty"`
	Lists          map[string]string      `json:"lists,omitempty"`
	UpdateHandlers map[string]string      `json:"updates,omitempty"`
}

func defaultLanguage(lang string) string {
	if lang == "" {
		return "javascript"
	}
	return lang
}

// MangoIndexView is one named entry of a Mango index design document:
// the indexed field names, stored flat under "fields", plus an optional
// partial filter selector.
type MangoIndexView struct {
	Fields                []string        `json:"fields"`
	PartialFilterSelector json.RawMessage `json:"partial_filter_selector,omitempty"`
}

// MangoIndexDesignDocument is the differently-shaped sibling of
// DesignDocument that backs Mango secondary indexes: language is always
// "query" and the merge happens per view name on the "views" field.
type MangoIndexDesignDocument struct {
	ID       string                    `json:"_id"`
	Rev      string                    `json:"_rev,omitempty"`
	Language string                    `json:"language"`
	Views    map[string]MangoIndexView `json:"views,omitempty"`
}

// MarshalJSON merges the reserved couch fields back into Body so the
// wire representation matches what the server expects: a single flat
// JSON object.
func (d Document) MarshalJSON() ([]byte, error) {
	var merged map[string]json.RawMessage
	if len(d.Body) > 0 {
		if err := json.Unmarshal(d.Body, &merged); err != nil {
			return nil, err
		}
	}
	if merged == nil {
		merged = map[string]json.RawMessage{}
	}
	if d.ID != "" {
		b, _ := json.Marshal(d.ID)
		merged["_id"] = b
	}
	if d.Rev != "" {
		b, _ := json.Marshal(d.Rev)
		merged["_rev"] = b
	}
	if d.Deleted {
		merged["_deleted"] = json.RawMessage("true")
	}
	if len(d.Attachments) > 0 {
		b, err := json.Marshal(d.Attachments)
		if err != nil {
			return nil, err
		}
		merged["_attachments"] = b
	}
	return json.Marshal(merged)
}

// UnmarshalJSON splits the reserved couch fields out of the wire object
// and stashes the remainder in Body.
func (d *Document) UnmarshalJSON(data []byte) error {
	var flat map[string]json.RawMessage
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}
	if v, ok := flat["_id"]; ok {
		_ = json.Unmarshal(v, &d.ID)
		delete(flat, "_id")
	}
	if v, ok := flat["_rev"]; ok {
		_ = json.Unmarshal(v, &d.Rev)
		delete(flat, "_rev")
	}
	if v, ok := flat["_deleted"]; ok {
		_ = json.Unmarshal(v, &d.Deleted)
		delete(flat, "_deleted")
	}
	if v, ok := flat["_attachments"]; ok {
		_ = json.Unmarshal(v, &d.Attachments)
		delete(flat, "_attachments")
	}
	body, err := json.Marshal(flat)
	if err != nil {
		return err
	}
	d.Body = body
	return nil
}
