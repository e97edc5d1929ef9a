package couchkit

import (
	"bufio"
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Change is one materialized entry from the continuous change feed.
type Change[T any] struct {
	Seq     string
	ID      string
	Rev     string
	Deleted bool
	Doc     T
	HasDoc  bool
}

// ChangeDocResolver routes an incoming change's raw doc bytes to a
// concrete Go value via the discriminator string observed at depth 2
// inside doc. It returns ok=false when the discriminator is unknown or
// the resolved type does not satisfy T; the change is then dropped
// silently, per spec.md §4.6 and the "Class resolution in change feed"
// design note.
type ChangeDocResolver[T any] func(discriminator string, rawDoc []byte) (T, bool)

// ChangeFeedConfig configures one subscription.
type ChangeFeedConfig[T any] struct {
	// Since defaults to "now": only changes after subscription start
	// are delivered.
	Since string

	// DiscriminatorField is the JSON field name peeked inside each
	// change's doc to choose how to decode it.
	DiscriminatorField string
	Resolver           ChangeDocResolver[T]

	InitialBackoff time.Duration
	BackoffFactor  float64
	MaxBackoff     time.Duration
}

func (c *ChangeFeedConfig[T]) setDefaults() {
	if c.Since == "" {
		c.Since = "now"
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.BackoffFactor <= 1 {
		c.BackoffFactor = 2
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
}

// SubscribeChanges maintains a continuous change stream across
// connection failures, resuming with since=<lastSeq> and backing off
// exponentially between attempts. Cancelling ctx aborts immediately
// without resubscribing: this is the only way the stream ends without
// retrying.
//
//	Disconnected --bytes ok--> Streaming --error/EOF--> Backoff(delay) --> Disconnected
//
// matching the state machine in spec.md §4.6.
func SubscribeChanges[T any](ctx context.Context, c *Client, db string, cfg ChangeFeedConfig[T]) <-chan Change[T] {
	cfg.setDefaults()
	out := make(chan Change[T])

	go func() {
		defer close(out)

		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = cfg.InitialBackoff
		bo.Multiplier = cfg.BackoffFactor
		bo.MaxInterval = cfg.MaxBackoff
		bo.MaxElapsedTime = 0 // retry indefinitely, per spec.md §4.6/§7

		since := cfg.Since

		for {
			if ctx.Err() != nil {
				return
			}

			nextSince := streamChanges(ctx, c, db, since, cfg, out, bo)
			since = nextSince

			if ctx.Err() != nil {
				return
			}

			delay := bo.NextBackOff()
			if delay == backoff.Stop {
				delay = cfg.MaxBackoff
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

// streamChanges runs one Disconnected->Streaming session and returns
// the since value the caller should resume from. It returns whenever
// the connection ends, whether by error, clean EOF, or cancellation;
// the caller distinguishes cancellation via ctx.Err().
func streamChanges[T any](ctx context.Context, c *Client, db, since string, cfg ChangeFeedConfig[T], out chan<- Change[T], bo *backoff.ExponentialBackOff) string {
	query := url.Values{
		"feed":         {"continuous"},
		"heartbeat":    {"10000"},
		"include_docs": {"true"},
		"since":        {since},
	}

	req, err := c.requests.build(ctx, RequestSpec{
		Method:   "GET",
		Segments: []string{db, "_changes"},
		Query:    query,
	})
	if err != nil {
		return since
	}

	result, err := c.gate.execute(req, false)
	if err != nil {
		return since
	}
	defer result.Response.Body.Close()

	scanner := bufio.NewScanner(result.Response.Body)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return since
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue // heartbeat whitespace
		}

		change, ok, perr := decodeChangeLine(cfg, []byte(line))
		if perr != nil {
			return since // parse error: fall through to backoff
		}

		since = change.Seq
		bo.Reset()

		if !ok {
			continue // resolver dropped it silently
		}

		select {
		case out <- change:
		case <-ctx.Done():
			return since
		}
	}

	return since
}

type changeEnvelope struct {
	Seq     json.RawMessage `json:"seq"`
	ID      string          `json:"id"`
	Changes []struct {
		Rev string `json:"rev"`
	} `json:"changes"`
	Deleted bool            `json:"deleted"`
	Doc     json.RawMessage `json:"doc"`
}

func decodeChangeLine[T any](cfg ChangeFeedConfig[T], line []byte) (Change[T], bool, error) {
	var env changeEnvelope
	if err := json.Unmarshal(line, &env); err != nil {
		return Change[T]{}, false, err
	}

	change := Change[T]{
		Seq:     rawSeqToString(env.Seq),
		ID:      env.ID,
		Deleted: env.Deleted,
	}
	if len(env.Changes) > 0 {
		change.Rev = env.Changes[0].Rev
	}

	if len(env.Doc) == 0 || string(env.Doc) == "null" {
		return change, true, nil
	}

	discriminator := peekDiscriminator(env.Doc, cfg.DiscriminatorField)
	if cfg.Resolver == nil {
		return change, false, nil
	}
	doc, ok := cfg.Resolver(discriminator, env.Doc)
	if !ok {
		return change, false, nil
	}
	change.Doc = doc
	change.HasDoc = true
	return change, true, nil
}

// peekDiscriminator reads one string field directly out of rawDoc
// without a full unmarshal, the same fastjson field-peek idiom the
// teacher uses in ParseDocument for _id/_rev/_deleted.
func peekDiscriminator(rawDoc []byte, field string) string {
	if field == "" {
		return ""
	}
	parser := parserPool.Get()
	defer parserPool.Put(parser)

	v, err := parser.ParseBytes(rawDoc)
	if err != nil {
		return ""
	}
	if !v.Exists(field) {
		return ""
	}
	return string(v.GetStringBytes(field))
}

func rawSeqToString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	if raw[0] == '"' {
		var s string
		_ = json.Unmarshal(raw, &s)
		return s
	}
	return strings.TrimSpace(string(raw))
}
