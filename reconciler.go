package couchkit

import (
	"context"
	"reflect"

	"dario.cat/mergo"
)

// Reconciler merges code-declared view/filter/show/list/update-handler
// definitions into the design document stored under db, without
// overwriting unrelated keys and without mutating any input value.
type Reconciler struct {
	client    *Client
	db        string
	resources ResourceProvider
	files     FileResourceProvider
}

// NewReconciler builds a Reconciler bound to one database. resources and
// files may be nil if no declaration uses "classpath:" or File sources.
func NewReconciler(c *Client, db string, resources ResourceProvider, files FileResourceProvider) *Reconciler {
	return &Reconciler{client: c, db: db, resources: resources, files: files}
}

// Reconcile runs the algorithm from spec.md §4.7: generate a candidate,
// fetch the stored design document, create it if absent, otherwise
// merge per category and PUT only if something actually changed.
func (r *Reconciler) Reconcile(ctx context.Context, decl DesignDeclarations) (DesignDocument, error) {
	candidate, err := buildCandidate(decl, r.resources, r.files)
	if err != nil {
		return DesignDocument{}, err
	}

	stored, absent, err := r.client.getDesignDocument(ctx, r.db, candidate.ID)
	if err != nil {
		return DesignDocument{}, err
	}

	if absent {
		if err := r.client.putDesignDocument(ctx, r.db, candidate); err != nil {
			return DesignDocument{}, err
		}
		return candidate, nil
	}

	if !decl.UpdateIfExists {
		return stored, nil
	}

	merged, changed, err := mergeDesignDocuments(stored, candidate, decl.ForceUpdate)
	if err != nil {
		return DesignDocument{}, err
	}
	if !changed {
		return stored, nil
	}

	merged.Rev = stored.Rev
	// A Conflict here is surfaced to the caller, not retried internally:
	// the merge itself is idempotent, so a caller-driven retry converges.
	if err := r.client.putDesignDocument(ctx, r.db, merged); err != nil {
		return DesignDocument{}, err
	}
	return merged, nil
}

// mergeDesignDocuments is a pure function: it never mutates stored or
// candidate, returning a fresh merged value plus whether any category
// changed relative to stored. For each declared name: add if the stored
// document lacks it; overwrite only when force is true and the stored
// entry differs; otherwise keep what's stored. Names present in stored
// but absent from candidate are always kept.
func mergeDesignDocuments(stored, candidate DesignDocument, force bool) (DesignDocument, bool, error) {
	merged := DesignDocument{
		ID:       stored.ID,
		Rev:      stored.Rev,
		Language: stored.Language,
	}
	if merged.Language == "" {
		merged.Language = candidate.Language
	}

	views, viewsChanged, err := mergeViewCategory(stored.Views, candidate.Views, force)
	if err != nil {
		return merged, false, err
	}
	filters, filtersChanged, err := mergeStringCategory(stored.Filters, candidate.Filters, force)
	if err != nil {
		return merged, false, err
	}
	shows, showsChanged, err := mergeStringCategory(stored.Shows, candidate.Shows, force)
	if err != nil {
		return merged, false, err
	}
	lists, listsChanged, err := mergeStringCategory(stored.Lists, candidate.Lists, force)
	if err != nil {
		return merged, false, err
	}
	updates, updatesChanged, err := mergeStringCategory(stored.UpdateHandlers, candidate.UpdateHandlers, force)
	if err != nil {
		return merged, false, err
	}

	merged.Views = views
	merged.Filters = filters
	merged.Shows = shows
	merged.Lists = lists
	merged.UpdateHandlers = updates

	changed := viewsChanged || filtersChanged || showsChanged || listsChanged || updatesChanged
	return merged, changed, nil
}

// mergeStringCategory merges one name->source map using mergo: a plain
// Merge only fills in keys the destination lacks (the "add if stored
// lacks it" rule); WithOverride additionally lets a differing candidate
// value replace the stored one, implementing force_update.
func mergeStringCategory(stored, candidate map[string]string, force bool) (map[string]string, bool, error) {
	merged := cloneStringMap(stored)
	opts := []func(*mergo.Config){}
	if force {
		opts = append(opts, mergo.WithOverride)
	}
	if err := mergo.Merge(&merged, candidate, opts...); err != nil {
		return nil, false, err
	}
	return merged, !reflect.DeepEqual(merged, stored), nil
}

// mergeViewCategory is mergeStringCategory's sibling for the
// name->DesignView map.
func mergeViewCategory(stored, candidate map[string]DesignView, force bool) (map[string]DesignView, bool, error) {
	merged := cloneViewMap(stored)
	opts := []func(*mergo.Config){}
	if force {
		opts = append(opts, mergo.WithOverride)
	}
	if err := mergo.Merge(&merged, candidate, opts...); err != nil {
		return nil, false, err
	}
	return merged, !reflect.DeepEqual(merged, stored), nil
}

func cloneStringMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneViewMap(m map[string]DesignView) map[string]DesignView {
	out := make(map[string]DesignView, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// ReconcileMangoIndex follows the same merge rules as Reconcile but
// against the differently-shaped Mango index design document, stored
// under "_design/<Type>_mango" with language "query"; the merge runs
// per view name on the "views" field, per spec.md §4.7.
func (r *Reconciler) ReconcileMangoIndex(ctx context.Context, designDocID string, decls []MangoIndexDeclaration, forceUpdate, updateIfExists bool) (MangoIndexDesignDocument, error) {
	candidate, err := buildMangoCandidate(designDocID, decls)
	if err != nil {
		return MangoIndexDesignDocument{}, err
	}

	stored, absent, err := r.client.getMangoIndexDesignDocument(ctx, r.db, designDocID)
	if err != nil {
		return MangoIndexDesignDocument{}, err
	}

	if absent {
		if err := r.client.putMangoIndexDesignDocument(ctx, r.db, candidate); err != nil {
			return MangoIndexDesignDocument{}, err
		}
		return candidate, nil
	}

	if !updateIfExists {
		return stored, nil
	}

	mergedViews := cloneMangoViewMap(stored.Views)
	opts := []func(*mergo.Config){}
	if forceUpdate {
		opts = append(opts, mergo.WithOverride)
	}
	if err := mergo.Merge(&mergedViews, candidate.Views, opts...); err != nil {
		return MangoIndexDesignDocument{}, err
	}

	if reflect.DeepEqual(mergedViews, stored.Views) {
		return stored, nil
	}

	merged := MangoIndexDesignDocument{ID: stored.ID, Rev: stored.Rev, Language: "query", Views: mergedViews}
	if err := r.client.putMangoIndexDesignDocument(ctx, r.db, merged); err != nil {
		return MangoIndexDesignDocument{}, err
	}
	return merged, nil
}

func cloneMangoViewMap(m map[string]MangoIndexView) map[string]MangoIndexView {
	out := make(map[string]MangoIndexView, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
