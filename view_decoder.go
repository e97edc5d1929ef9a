package couchkit

import (
	"context"
	"encoding/json"
	"io"

	jsoniter "github.com/json-iterator/go"
)

// Decoder materializes a raw JSON subtree into a typed value. It is the
// Go stand-in for a runtime type descriptor: the streaming decoder
// collects a token subtree with the JSON tokenizer and hands it to the
// decoder in one shot, never attempting to reflect its shape itself.
type Decoder[T any] func(raw []byte) (T, error)

// JSONDecoder returns the default Decoder for T, backed by
// encoding/json. Callers needing custom unmarshaling (e.g. a registry
// keyed by a discriminator) supply their own Decoder instead.
func JSONDecoder[T any]() Decoder[T] {
	return func(raw []byte) (T, error) {
		var v T
		err := json.Unmarshal(raw, &v)
		return v, err
	}
}

// DocState records whether a row's document was requested, present, or
// requested-but-missing (deleted or absent upstream).
type DocState int

const (
	DocNotRequested DocState = iota
	DocPresent
	DocMissing
)

// ViewRow is one materialized row of a view or _all_docs result.
type ViewRow[K, V, T any] struct {
	ID       string
	Key      K
	Value    V
	Doc      T
	DocState DocState
}

// ViewEventKind discriminates the variants of ViewEvent.
type ViewEventKind int

const (
	EventRow ViewEventKind = iota
	EventTotalCount
	EventOffset
	EventUpdateSequence
	EventError
)

// ViewEvent is one element of the view result event stream. Exactly the
// fields matching Kind are meaningful; the rest are zero values.
type ViewEvent[K, V, T any] struct {
	Kind ViewEventKind

	Row ViewRow[K, V, T]

	TotalCount int
	Offset     int
	UpdateSeq  int64

	// Err is set only when Kind == EventError. The channel is closed
	// immediately after an EventError is sent.
	Err error
}

// ViewDecoderConfig supplies the three type descriptors plus the two
// query-derived flags (include_docs, ignore_not_found) that change how
// rows are emitted, per spec.md §4.3.
type ViewDecoderConfig[K, V, T any] struct {
	KeyDecoder     Decoder[K]
	ValueDecoder   Decoder[V]
	DocDecoder     Decoder[T]
	IncludeDocs    bool
	IgnoreNotFound bool
}

// decodeViewResult drives the shared jsoniter tokenizer through the
// explicit state machine from spec.md §9 (ExpectTopObject, InTopObject,
// InRowsArray, InRow, ...), folded into Go control flow: jsoniter's
// ReadObject/ReadArray cursor methods already implement the
// want-next-token loop, so each named state becomes one loop iteration
// rather than a separate function. Cancelling ctx stops the producer,
// and the deferred body.Close then releases the underlying HTTP
// response; a consumer that stops ranging without cancelling ctx leaves
// the producer blocked on its next send.
func decodeViewResult[K, V, T any](ctx context.Context, body io.ReadCloser, cfg ViewDecoderConfig[K, V, T]) <-chan ViewEvent[K, V, T] {
	events := make(chan ViewEvent[K, V, T])

	go func() {
		defer close(events)
		defer body.Close()

		send := func(ev ViewEvent[K, V, T]) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}
		fail := func(err error) {
			send(ViewEvent[K, V, T]{Kind: EventError, Err: err})
		}

		iter := jsoniter.Parse(jsoniter.ConfigDefault, body, 4096)

		offsetSeen := false
		var topError, topReason string

		for field := iter.ReadObject(); field != ""; field = iter.ReadObject() {
			if ctx.Err() != nil {
				return
			}
			switch field {
			case "total_rows":
				n := iter.ReadInt()
				if !send(ViewEvent[K, V, T]{Kind: EventTotalCount, TotalCount: n}) {
					return
				}
			case "offset":
				offsetSeen = true
				n := iter.ReadInt()
				if !send(ViewEvent[K, V, T]{Kind: EventOffset, Offset: n}) {
					return
				}
			case "update_seq":
				n := iter.ReadInt64()
				if !send(ViewEvent[K, V, T]{Kind: EventUpdateSequence, UpdateSeq: n}) {
					return
				}
			case "rows":
				for iter.ReadArray() {
					row, dropped, rowErr := decodeViewRow(iter, cfg)
					if rowErr != nil {
						fail(rowErr)
						return
					}
					if dropped {
						continue
					}
					if !send(ViewEvent[K, V, T]{Kind: EventRow, Row: row}) {
						return
					}
					if ctx.Err() != nil {
						return
					}
				}
			case "error":
				topError = iter.ReadString()
			case "reason":
				topReason = iter.ReadString()
			default:
				iter.Skip()
			}
			if iter.Error != nil && iter.Error != io.EOF {
				fail(iter.Error)
				return
			}
		}
		if iter.Error != nil && iter.Error != io.EOF {
			fail(iter.Error)
			return
		}

		if topError != "" {
			msg := topError
			if topReason != "" {
				msg = topError + ": " + topReason
			}
			fail(&ViewResultError{Message: msg})
			return
		}

		if !offsetSeen {
			send(ViewEvent[K, V, T]{Kind: EventOffset, Offset: -1})
		}
	}()

	return events
}

// decodeViewRow materializes one row object. dropped is true only when
// the row carried a "not_found" error and the query set IgnoreNotFound.
func decodeViewRow[K, V, T any](iter *jsoniter.Iterator, cfg ViewDecoderConfig[K, V, T]) (row ViewRow[K, V, T], dropped bool, err error) {
	var rawKey, rawValue, rawDoc []byte
	haveDoc := false
	docIsNull := false
	var errField string

	for field := iter.ReadObject(); field != ""; field = iter.ReadObject() {
		switch field {
		case "id":
			row.ID = iter.ReadString()
		case "key":
			rawKey = cloneBytes(iter.SkipAndReturnBytes())
		case "value":
			rawValue = cloneBytes(iter.SkipAndReturnBytes())
		case "doc":
			haveDoc = true
			if iter.WhatIsNext() == jsoniter.NilValue {
				iter.ReadNil()
				docIsNull = true
			} else {
				rawDoc = cloneBytes(iter.SkipAndReturnBytes())
			}
		case "error":
			errField = iter.ReadString()
		default:
			iter.Skip()
		}
		if iter.Error != nil && iter.Error != io.EOF {
			return row, false, iter.Error
		}
	}

	if errField != "" {
		if cfg.IgnoreNotFound && errField == "not_found" {
			return row, true, nil
		}
		var keyVal interface{}
		if len(rawKey) > 0 {
			_ = json.Unmarshal(rawKey, &keyVal)
		}
		return row, false, &ViewResultError{Key: keyVal, Message: errField}
	}

	if len(rawKey) > 0 {
		k, derr := cfg.KeyDecoder(rawKey)
		if derr != nil {
			return row, false, &DeserializationError{RowID: row.ID, Err: derr}
		}
		row.Key = k
	}
	if len(rawValue) > 0 {
		v, derr := cfg.ValueDecoder(rawValue)
		if derr != nil {
			return row, false, &DeserializationError{RowID: row.ID, Err: derr}
		}
		row.Value = v
	}

	if cfg.IncludeDocs {
		if haveDoc && !docIsNull && len(rawDoc) > 0 {
			d, derr := cfg.DocDecoder(rawDoc)
			if derr != nil {
				return row, false, &DeserializationError{RowID: row.ID, Err: derr}
			}
			row.Doc = d
			row.DocState = DocPresent
		} else {
			row.DocState = DocMissing
		}
	} else {
		row.DocState = DocNotRequested
	}

	return row, false, nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// QueryView issues a view (or _all_docs) query against db and returns
// its streamed event channel. The channel is closed once the server's
// response has been fully consumed or an error terminates the stream.
func QueryView[K, V, T any](ctx context.Context, c *Client, db string, query ViewQuery, cfg ViewDecoderConfig[K, V, T]) (<-chan ViewEvent[K, V, T], error) {
	cfg.IncludeDocs = query.IncludeDocs
	cfg.IgnoreNotFound = query.IgnoreNotFound

	spec, err := query.requestSpec([]string{db})
	if err != nil {
		return nil, err
	}

	req, err := c.requests.build(ctx, spec)
	if err != nil {
		return nil, err
	}

	result, err := c.gate.execute(req, false)
	if err != nil {
		return nil, err
	}

	return decodeViewResult(ctx, result.Response.Body, cfg), nil
}
