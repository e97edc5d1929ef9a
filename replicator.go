package couchkit

import (
	"context"
	"encoding/json"
	"net/url"
)

const replicatorDB = "_replicator"

// ReplicationCommand is the document posted to _replicator to start (or
// describe) one replication task.
type ReplicationCommand struct {
	ID           string      `json:"_id,omitempty"`
	Source       string      `json:"source"`
	Target       string      `json:"target"`
	Continuous   bool        `json:"continuous,omitempty"`
	CreateTarget bool        `json:"create_target,omitempty"`
	Filter       string      `json:"filter,omitempty"`
	QueryParams  interface{} `json:"query_params,omitempty"`
}

// SchedulerState is the coarse status CouchDB reports for a replication
// job or doc, per spec.md §4.9.
type SchedulerState string

const (
	StateInitializing SchedulerState = "initializing"
	StateRunning       SchedulerState = "running"
	StatePending       SchedulerState = "pending"
	StateCompleted     SchedulerState = "completed"
	StateError         SchedulerState = "error"
	StateCrashing      SchedulerState = "crashing"
	StateFailed        SchedulerState = "failed"
)

// Healthy reports whether a job in this state is making (or has made)
// forward progress: Initializing, Running, Pending, and Completed all
// count, per spec.md §4.9's table. Any state not recognized by this
// package reports unhealthy, matching normalize's unknown->Failed
// mapping.
func (s SchedulerState) Healthy() bool {
	switch s.normalize() {
	case StateInitializing, StateRunning, StatePending, StateCompleted:
		return true
	default:
		return false
	}
}

// Terminal reports whether a job in this state will not transition on
// its own: only Completed and Failed are terminal; Error and Crashing
// are not (the scheduler is actively retrying them).
func (s SchedulerState) Terminal() bool {
	switch s.normalize() {
	case StateCompleted, StateFailed:
		return true
	default:
		return false
	}
}

// normalize maps any value this package does not recognize to Failed,
// per spec.md §4.9's "unknown scheduler state" rule.
func (s SchedulerState) normalize() SchedulerState {
	switch s {
	case StateInitializing, StateRunning, StatePending, StateCompleted, StateError, StateCrashing, StateFailed:
		return s
	default:
		return StateFailed
	}
}

// SchedulerDoc is one element of GET /_scheduler/docs.
type SchedulerDoc struct {
	ID      string         `json:"id"`
	DocID   string         `json:"doc_id"`
	Source  string         `json:"source"`
	Target  string         `json:"target"`
	State   SchedulerState `json:"state"`
	Error   string         `json:"error,omitempty"`
	Info    json.RawMessage `json:"info,omitempty"`
}

// SchedulerJob is one element of GET /_scheduler/jobs.
type SchedulerJob struct {
	ID     string         `json:"id"`
	Source string         `json:"source"`
	Target string         `json:"target"`
	User   string         `json:"user,omitempty"`
}

type schedulerDocsResponse struct {
	Docs []SchedulerDoc `json:"docs"`
}

type schedulerJobsResponse struct {
	Jobs []SchedulerJob `json:"jobs"`
}

// ensureReplicatorDatabase makes sure _replicator exists, creating it on
// a 404 HEAD. Any failure to establish its existence is reported as
// ErrReplicatorAbsent, per spec.md §4.9.
func (c *Client) ensureReplicatorDatabase(ctx context.Context) error {
	exists, err := c.DatabaseExists(ctx, replicatorDB)
	if err != nil {
		return ErrReplicatorAbsent
	}
	if exists {
		return nil
	}
	if err := c.CreateDatabase(ctx, replicatorDB); err != nil && err != ErrConflict {
		return ErrReplicatorAbsent
	}
	return nil
}

// Replicate submits cmd as a new document in _replicator, creating the
// database first if it does not yet exist.
func (c *Client) Replicate(ctx context.Context, cmd ReplicationCommand) (rev string, err error) {
	if err := c.ensureReplicatorDatabase(ctx); err != nil {
		return "", err
	}
	body, err := json.Marshal(cmd)
	if err != nil {
		return "", err
	}
	segments := []string{replicatorDB}
	method := "POST"
	if cmd.ID != "" {
		segments = append(segments, cmd.ID)
		method = "PUT"
	}
	req, err := c.requests.build(ctx, RequestSpec{Method: method, Segments: segments, Body: body})
	if err != nil {
		return "", err
	}
	result, err := c.gate.execute(req, false)
	if err != nil {
		return "", err
	}
	raw, err := readAll(result.Response.Body)
	if err != nil {
		return "", err
	}
	var resp putResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", &DeserializationError{RowID: cmd.ID, Err: err}
	}
	return resp.Rev, nil
}

// Cancel stops a replication by purging its document out of
// _replicator, per spec.md §4.9: fetch its current revision via
// revs_info, then POST a purge request and confirm docID appears in the
// server's purged map.
func (c *Client) Cancel(ctx context.Context, docID string) error {
	req, err := c.requests.build(ctx, RequestSpec{
		Method:   "GET",
		Segments: []string{replicatorDB, docID},
		Query:    url.Values{"revs_info": {"true"}},
	})
	if err != nil {
		return err
	}
	result, err := c.gate.execute(req, true)
	if err != nil {
		return err
	}
	if result.Absent {
		return ErrNotFound
	}
	raw, err := readAll(result.Response.Body)
	if err != nil {
		return err
	}
	var doc struct {
		Rev string `json:"_rev"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return &DeserializationError{RowID: docID, Err: err}
	}

	purgeBody, err := json.Marshal(map[string][]string{docID: {doc.Rev}})
	if err != nil {
		return err
	}
	purgeReq, err := c.requests.build(ctx, RequestSpec{
		Method:   "POST",
		Segments: []string{replicatorDB, "_purge"},
		Body:     purgeBody,
	})
	if err != nil {
		return err
	}
	purgeResult, err := c.gate.execute(purgeReq, false)
	if err != nil {
		return err
	}
	purgeRaw, err := readAll(purgeResult.Response.Body)
	if err != nil {
		return err
	}
	var purgeResp struct {
		Purged map[string][]string `json:"purged"`
	}
	if err := json.Unmarshal(purgeRaw, &purgeResp); err != nil {
		return &DeserializationError{RowID: docID, Err: err}
	}
	if _, ok := purgeResp.Purged[docID]; !ok {
		return ErrNotFound
	}
	return nil
}

// SchedulerDocs lists every replication document the scheduler knows
// about, across both _replicator and any other database.
func (c *Client) SchedulerDocs(ctx context.Context) ([]SchedulerDoc, error) {
	req, err := c.requests.build(ctx, RequestSpec{Method: "GET", Segments: []string{"_scheduler", "docs"}})
	if err != nil {
		return nil, err
	}
	result, err := c.gate.execute(req, false)
	if err != nil {
		return nil, err
	}
	raw, err := readAll(result.Response.Body)
	if err != nil {
		return nil, err
	}
	var resp schedulerDocsResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &DeserializationError{Err: err}
	}
	return resp.Docs, nil
}

// SchedulerJobs lists every actively scheduled replication job.
func (c *Client) SchedulerJobs(ctx context.Context) ([]SchedulerJob, error) {
	req, err := c.requests.build(ctx, RequestSpec{Method: "GET", Segments: []string{"_scheduler", "jobs"}})
	if err != nil {
		return nil, err
	}
	result, err := c.gate.execute(req, false)
	if err != nil {
		return nil, err
	}
	raw, err := readAll(result.Response.Body)
	if err != nil {
		return nil, err
	}
	var resp schedulerJobsResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, &DeserializationError{Err: err}
	}
	return resp.Jobs, nil
}
