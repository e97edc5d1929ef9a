package couchkit

import (
	"context"
	"encoding/json"
	"io"

	jsoniter "github.com/json-iterator/go"
)

// Selector is a tagged combinator, built with the And/Or/Eq/... helpers
// below, matching spec.md §3's {And[predicate...], Or[predicate...]}
// shape with each predicate pairing a field with one of
// {eq, gt, gte, lt, lte, exists, elemMatch}.
type Selector map[string]interface{}

func And(preds ...Selector) Selector { return Selector{"$and": preds} }
func Or(preds ...Selector) Selector  { return Selector{"$or": preds} }

func Eq(field string, v interface{}) Selector          { return fieldOp(field, "$eq", v) }
func Gt(field string, v interface{}) Selector           { return fieldOp(field, "$gt", v) }
func Gte(field string, v interface{}) Selector          { return fieldOp(field, "$gte", v) }
func Lt(field string, v interface{}) Selector           { return fieldOp(field, "$lt", v) }
func Lte(field string, v interface{}) Selector          { return fieldOp(field, "$lte", v) }
func Exists(field string, exists bool) Selector         { return fieldOp(field, "$exists", exists) }
func ElemMatch(field string, sub Selector) Selector     { return fieldOp(field, "$elemMatch", sub) }

func fieldOp(field, op string, v interface{}) Selector {
	return Selector{field: map[string]interface{}{op: v}}
}

// MangoQuery is the request body for POST /_find.
type MangoQuery struct {
	Fields   []string    `json:"fields,omitempty"`
	Limit    int         `json:"limit,omitempty"`
	Selector Selector    `json:"selector"`
	Skip     int         `json:"skip,omitempty"`
	UseIndex interface{} `json:"use_index,omitempty"`
	Bookmark string      `json:"bookmark,omitempty"`
	Sort     []map[string]string `json:"sort,omitempty"`
}

// MangoQueryResult is one element of the Mango result event stream:
// either a matched document, or the trailing bookmark marker (Doc is
// the zero value and HasDoc is false in that case).
type MangoQueryResult[T any] struct {
	Doc      T
	HasDoc   bool
	Bookmark string
}

// MangoEvent wraps a MangoQueryResult or a terminal error.
type MangoEvent[T any] struct {
	Result MangoQueryResult[T]
	Err    error
}

// QueryMango issues query against db's /_find endpoint and streams one
// MangoQueryResult per matched document, followed by at most one
// bookmark-only result, per spec.md §4.8.
func QueryMango[T any](ctx context.Context, c *Client, db string, query MangoQuery, docDecoder Decoder[T]) (<-chan MangoEvent[T], error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, err
	}

	req, err := c.requests.build(ctx, RequestSpec{
		Method:   "POST",
		Segments: []string{db, "_find"},
		Body:     body,
	})
	if err != nil {
		return nil, err
	}

	result, err := c.gate.execute(req, false)
	if err != nil {
		return nil, err
	}

	return decodeMangoResult(ctx, result.Response.Body, docDecoder), nil
}

func decodeMangoResult[T any](ctx context.Context, body io.ReadCloser, docDecoder Decoder[T]) <-chan MangoEvent[T] {
	events := make(chan MangoEvent[T])

	go func() {
		defer close(events)
		defer body.Close()

		send := func(ev MangoEvent[T]) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		iter := jsoniter.Parse(jsoniter.ConfigDefault, body, 4096)

		var bookmark, errField, reasonField string
		haveBookmark := false

		for field := iter.ReadObject(); field != ""; field = iter.ReadObject() {
			if ctx.Err() != nil {
				return
			}
			switch field {
			case "docs":
				for iter.ReadArray() {
					raw := cloneBytes(iter.SkipAndReturnBytes())
					doc, derr := docDecoder(raw)
					if derr != nil {
						send(MangoEvent[T]{Err: &DeserializationError{Err: derr}})
						return
					}
					if !send(MangoEvent[T]{Result: MangoQueryResult[T]{Doc: doc, HasDoc: true}}) {
						return
					}
				}
			case "bookmark":
				bookmark = iter.ReadString()
				haveBookmark = bookmark != ""
			case "error":
				errField = iter.ReadString()
			case "reason":
				reasonField = iter.ReadString()
			default:
				iter.Skip()
			}
			if iter.Error != nil && iter.Error != io.EOF {
				send(MangoEvent[T]{Err: iter.Error})
				return
			}
		}

		if errField != "" {
			send(MangoEvent[T]{Err: &MangoResultError{ErrorCode: errField, Reason: reasonField}})
			return
		}

		if haveBookmark {
			send(MangoEvent[T]{Result: MangoQueryResult[T]{Bookmark: bookmark}})
		}
	}()

	return events
}
