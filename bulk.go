package couchkit

import (
	"context"
	"encoding/json"
	"io"

	jsoniter "github.com/json-iterator/go"
)

// BulkUpdateResult is one element of a _bulk_docs response. Exactly one
// of OK (with a non-empty Rev) or Error holds per spec.md §3.
type BulkUpdateResult struct {
	ID     string
	Rev    string
	OK     bool
	Error  string
	Reason string
}

// BulkEvent is one element of the bulk-update result stream.
type BulkEvent struct {
	Result BulkUpdateResult
	// Err is set only on the final event of the stream, when the
	// response array itself could not be fully decoded.
	Err error
}

// BulkDocsOptions configures a _bulk_docs request. AllOrNothing is
// preserved on the wire struct for compatibility (spec.md §9 Open
// Question b) but deliberately not exposed here: every caller observed
// leaves it false.
type BulkDocsOptions struct {
	// NewEdits, when non-nil, is sent as new_edits; nil lets the server
	// default (true).
	NewEdits *bool
}

type bulkDocsWire struct {
	Docs         []Document `json:"docs"`
	NewEdits     *bool      `json:"new_edits,omitempty"`
	AllOrNothing bool       `json:"all_or_nothing,omitempty"`
}

// decodeBulkResults streams a top-level JSON array of
// {id, rev?, ok?, error?, reason?} objects without buffering the whole
// array, per spec.md §4.4.
func decodeBulkResults(ctx context.Context, body io.ReadCloser) <-chan BulkEvent {
	events := make(chan BulkEvent)

	go func() {
		defer close(events)
		defer body.Close()

		send := func(ev BulkEvent) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		iter := jsoniter.Parse(jsoniter.ConfigDefault, body, 4096)

		for iter.ReadArray() {
			if ctx.Err() != nil {
				return
			}
			var result BulkUpdateResult
			for field := iter.ReadObject(); field != ""; field = iter.ReadObject() {
				switch field {
				case "id":
					result.ID = iter.ReadString()
				case "rev":
					result.Rev = iter.ReadString()
				case "ok":
					result.OK = iter.ReadBool()
				case "error":
					result.Error = iter.ReadString()
				case "reason":
					result.Reason = iter.ReadString()
				default:
					iter.Skip()
				}
				if iter.Error != nil && iter.Error != io.EOF {
					send(BulkEvent{Err: iter.Error})
					return
				}
			}
			if !send(BulkEvent{Result: result}) {
				return
			}
		}

		if iter.Error != nil && iter.Error != io.EOF {
			send(BulkEvent{Err: iter.Error})
		}
	}()

	return events
}

// BulkDocs submits docs for create/update/delete in one request and
// streams their per-document results as they arrive.
func (c *Client) BulkDocs(ctx context.Context, db string, docs []Document, opts BulkDocsOptions) (<-chan BulkEvent, error) {
	wire := bulkDocsWire{Docs: docs, NewEdits: opts.NewEdits}
	body, err := json.Marshal(wire)
	if err != nil {
		return nil, err
	}

	req, err := c.requests.build(ctx, RequestSpec{
		Method:   "POST",
		Segments: []string{db, "_bulk_docs"},
		Body:     body,
	})
	if err != nil {
		return nil, err
	}

	result, err := c.gate.execute(req, false)
	if err != nil {
		return nil, err
	}

	return decodeBulkResults(ctx, result.Response.Body), nil
}
