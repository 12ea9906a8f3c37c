package attachment

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/authz-engine/exprauth/internal/cel"
	"github.com/authz-engine/exprauth/internal/params"
	"github.com/authz-engine/exprauth/pkg/types"
)

// Document is one attachment configuration file.
type Document struct {
	// Templates are named expression strings a slot may reference as
	// "$name". A resolved template behaves exactly as if it were inlined.
	Templates map[string]string `yaml:"templates,omitempty"`
	Methods   []Method          `yaml:"methods,omitempty"`
	Requests  []Request         `yaml:"requests,omitempty"`
}

// Loader parses attachment documents and compiles them eagerly so every
// configuration error surfaces at load time, not per call.
type Loader struct {
	engine *cel.Engine
	binder *params.Binder
	logger *zap.Logger
}

// NewLoader creates an attachment loader.
func NewLoader(engine *cel.Engine, binder *params.Binder, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{engine: engine, binder: binder, logger: logger}
}

// LoadFile loads one attachment document.
func (l *Loader) LoadFile(path string) (*Registry, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading attachment file: %w", err)
	}
	var doc Document
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return nil, types.Configf("parsing attachment file %s: %v", path, err)
	}
	return l.Build(doc)
}

// LoadDirectory loads and merges every .yaml/.yml document in a directory.
// A single bad document fails the whole load: attachments are startup
// configuration, not best-effort input.
func (l *Loader) LoadDirectory(path string) (*Registry, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("reading attachment directory: %w", err)
	}

	merged := Document{Templates: map[string]string{}}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		filePath := filepath.Join(path, entry.Name())
		content, err := os.ReadFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", filePath, err)
		}
		var doc Document
		if err := yaml.Unmarshal(content, &doc); err != nil {
			return nil, types.Configf("parsing %s: %v", filePath, err)
		}
		for name, expr := range doc.Templates {
			if _, dup := merged.Templates[name]; dup {
				return nil, types.Configf("template %q defined more than once", name)
			}
			merged.Templates[name] = expr
		}
		merged.Methods = append(merged.Methods, doc.Methods...)
		merged.Requests = append(merged.Requests, doc.Requests...)
	}
	return l.Build(merged)
}

// Build resolves templates and compiles a document into a registry snapshot.
func (l *Loader) Build(doc Document) (*Registry, error) {
	methods := make([]*CompiledMethod, 0, len(doc.Methods))
	for _, m := range doc.Methods {
		resolved, err := resolveMethodTemplates(m, doc.Templates)
		if err != nil {
			return nil, err
		}
		compiled, err := BuildMethod(l.engine, l.binder, resolved)
		if err != nil {
			return nil, err
		}
		methods = append(methods, compiled)
	}

	requests := make([]*CompiledRequest, 0, len(doc.Requests))
	for _, r := range doc.Requests {
		expr, err := resolveTemplate(r.Authorize, doc.Templates)
		if err != nil {
			return nil, err
		}
		r.Authorize = expr
		compiled, err := BuildRequest(l.engine, r)
		if err != nil {
			return nil, err
		}
		requests = append(requests, compiled)
	}

	registry, err := NewRegistry(methods, requests)
	if err != nil {
		return nil, err
	}
	m, r := registry.Len()
	l.logger.Info("attachments loaded",
		zap.Int("methods", m),
		zap.Int("requests", r),
	)
	return registry, nil
}

func resolveMethodTemplates(m Method, templates map[string]string) (Method, error) {
	var err error
	for _, slot := range []*string{&m.PreAuthorize, &m.PreFilter, &m.PostAuthorize, &m.PostFilter} {
		*slot, err = resolveTemplate(*slot, templates)
		if err != nil {
			return m, err
		}
	}
	return m, nil
}

// resolveTemplate expands a "$name" slot reference; anything else passes
// through unchanged.
func resolveTemplate(expr string, templates map[string]string) (string, error) {
	if !strings.HasPrefix(expr, "$") {
		return expr, nil
	}
	name := expr[1:]
	resolved, ok := templates[name]
	if !ok {
		return "", types.Configf("expression template %q is not defined", name)
	}
	return resolved, nil
}
