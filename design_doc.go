package couchkit

import (
	"encoding/json"
	"strings"
)

const classpathPrefix = "classpath:"

// ResourceProvider resolves a classpath-like reference (the remainder
// of a "classpath:<path>" declaration) to its source text. This is the
// caller's resource loader (e.g. embed.FS, os.ReadFile) — the
// reconciler never touches a filesystem itself.
type ResourceProvider interface {
	Resolve(path string) (string, error)
}

// ViewDeclaration is one code-declared view: either inline Map/Reduce
// source, or a file payload, or a "classpath:" reference resolved via
// ResourceProvider.
type ViewDeclaration struct {
	Name   string
	Map    string
	Reduce string
	// File, when set, loads a JSON {map, reduce} payload instead of Map/Reduce.
	File string
}

// FunctionDeclaration is shared shape for filter/show/list/update-handler
// declarations: a name plus inline Function source or a File reference.
type FunctionDeclaration struct {
	Name     string
	Function string
	File     string
}

// MangoIndexDeclaration declares one Mango secondary index.
type MangoIndexDeclaration struct {
	Name   string
	Fields []string
	PartialFilterSelector interface{}
}

// DesignDeclarations is the full set of code-declared views/filters/
// shows/lists/update-handlers for one design document id.
type DesignDeclarations struct {
	DesignDocID    string
	Language       string
	Views          []ViewDeclaration
	Filters        []FunctionDeclaration
	Shows          []FunctionDeclaration
	Lists          []FunctionDeclaration
	UpdateHandlers []FunctionDeclaration
	// ForceUpdate overwrites a differing stored entry for a declared
	// name rather than keeping what is stored.
	ForceUpdate bool
	// UpdateIfExists, when false, never overwrites an existing stored
	// design document even if the candidate differs.
	UpdateIfExists bool
}

func resolveInline(value string, resources ResourceProvider) (string, error) {
	if strings.HasPrefix(value, classpathPrefix) {
		if resources == nil {
			return value, nil
		}
		return resources.Resolve(strings.TrimPrefix(value, classpathPrefix))
	}
	return value, nil
}

// FileResourceProvider loads a JSON {map, reduce} payload named by a
// view declaration's File field.
type FileResourceProvider interface {
	ResolveFile(path string) (string, error)
}

// buildCandidate renders DesignDeclarations into the DesignDocument
// shape the server stores, resolving classpath:/file references via the
// supplied providers.
func buildCandidate(decl DesignDeclarations, resources ResourceProvider, files FileResourceProvider) (DesignDocument, error) {
	doc := DesignDocument{
		ID:             decl.DesignDocID,
		Language:       defaultLanguage(decl.Language),
		Views:          map[string]DesignView{},
		Filters:        map[string]string{},
		Shows:          map[string]string{},
		Lists:          map[string]string{},
		UpdateHandlers: map[string]string{},
	}

	for _, v := range decl.Views {
		if v.File != "" && files != nil {
			payload, err := files.ResolveFile(v.File)
			if err != nil {
				return doc, err
			}
			var fileView DesignView
			if err := json.Unmarshal([]byte(payload), &fileView); err != nil {
				return doc, err
			}
			doc.Views[v.Name] = fileView
			continue
		}
		mapSrc, err := resolveInline(v.Map, resources)
		if err != nil {
			return doc, err
		}
		reduceSrc, err := resolveInline(v.Reduce, resources)
		if err != nil {
			return doc, err
		}
		doc.Views[v.Name] = DesignView{Map: mapSrc, Reduce: reduceSrc}
	}

	assign := func(decls []FunctionDeclaration, into map[string]string) error {
		for _, d := range decls {
			if d.File != "" && files != nil {
				src, err := files.ResolveFile(d.File)
				if err != nil {
					return err
				}
				into[d.Name] = src
				continue
			}
			src, err := resolveInline(d.Function, resources)
			if err != nil {
				return err
			}
			into[d.Name] = src
		}
		return nil
	}

	if err := assign(decl.Filters, doc.Filters); err != nil {
		return doc, err
	}
	if err := assign(decl.Shows, doc.Shows); err != nil {
		return doc, err
	}
	if err := assign(decl.Lists, doc.Lists); err != nil {
		return doc, err
	}
	if err := assign(decl.UpdateHandlers, doc.UpdateHandlers); err != nil {
		return doc, err
	}

	return doc, nil
}

// buildMangoCandidate renders Mango index declarations into the
// _design/<Type>_mango shape.
func buildMangoCandidate(designDocID string, decls []MangoIndexDeclaration) (MangoIndexDesignDocument, error) {
	doc := MangoIndexDesignDocument{
		ID:       designDocID,
		Language: "query",
		Views:    map[string]MangoIndexView{},
	}
	for _, d := range decls {
		view := MangoIndexView{Fields: d.Fields}
		if d.PartialFilterSelector != nil {
			b, err := json.Marshal(d.PartialFilterSelector)
			if err != nil {
				return doc, err
			}
			view.PartialFilterSelector = b
		}
		doc.Views[d.Name] = view
	}
	return doc, nil
}
