// Package hydrate turns tree definitions into live engine nodes. It binds
// the type names of the registry to the behavior records of package nodes,
// decoding each node's config map into a typed config struct.
package hydrate

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/petal-labs/arbor/core"
	"github.com/petal-labs/arbor/graph"
	"github.com/petal-labs/arbor/nodes"
	"github.com/petal-labs/arbor/registry"
	"github.com/petal-labs/arbor/runtime"
)

// ErrUnknownAction is returned for action nodes naming an action that was
// not registered with WithAction.
var ErrUnknownAction = errors.New("unknown action")

// ErrUnsupportedType is returned for node types the factory cannot build.
var ErrUnsupportedType = errors.New("unsupported node type")

// ActionFunc is the body of an action node. It runs on the scheduling
// goroutine, like nodes.Action.
type ActionFunc func(e *runtime.Engine, id core.NodeID) (core.Result, error)

// Option configures a Factory.
type Option func(*Factory)

// WithAction makes fn available to action nodes as config "action: name".
func WithAction(name string, fn ActionFunc) Option {
	return func(f *Factory) {
		f.actions[name] = fn
	}
}

// WithTaskAction is WithAction for work that runs off the scheduling
// goroutine.
func WithTaskAction(name string, fn runtime.TaskFunc) Option {
	return func(f *Factory) {
		f.tasks[name] = fn
	}
}

// WithRegistry sets the registry definitions are validated against
// (default: registry.Global()).
func WithRegistry(reg *registry.Registry) Option {
	return func(f *Factory) {
		f.registry = reg
	}
}

// WithHTTPClient sets the client used by http nodes
// (default: http.DefaultClient).
func WithHTTPClient(client HTTPClient) Option {
	return func(f *Factory) {
		f.httpClient = client
	}
}

// Factory builds node records from node definitions.
type Factory struct {
	actions    map[string]ActionFunc
	tasks      map[string]runtime.TaskFunc
	registry   *registry.Registry
	httpClient HTTPClient
}

// NewFactory returns a factory for the built-in node types.
func NewFactory(opts ...Option) *Factory {
	f := &Factory{
		actions:    make(map[string]ActionFunc),
		tasks:      make(map[string]runtime.TaskFunc),
		registry:   registry.Global(),
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Registry returns the registry definitions are validated against.
func (f *Factory) Registry() *registry.Registry {
	return f.registry
}

// Records implements graph.NodeFactory.
func (f *Factory) Records(def graph.NodeDef) ([]any, error) {
	switch def.Type {
	case nodes.KindSequence:
		return []any{nodes.Sequence{}}, decode(def.Config, &struct{}{})
	case nodes.KindFallback:
		return []any{nodes.Fallback{}}, decode(def.Config, &struct{}{})
	case nodes.KindUtility:
		return []any{nodes.Utility{}}, decode(def.Config, &struct{}{})
	case nodes.KindInvert:
		return []any{nodes.Invert{}}, decode(def.Config, &struct{}{})
	case nodes.KindParallel:
		return buildParallel(def)
	case nodes.KindReturn:
		return buildReturn(def)
	case nodes.KindWait:
		return buildWait(def)
	case nodes.KindLog:
		return buildLog(def)
	case nodes.KindAction:
		return f.buildAction(def)
	case nodes.KindExec:
		return f.buildExec(def)
	case nodes.KindHTTP:
		return f.buildHTTP(def)
	default:
		return nil, fmt.Errorf("%q: %w", def.Type, ErrUnsupportedType)
	}
}

// HydrateTree validates def against the factory's registry and builds it
// into e. Warnings are logged; errors are returned as a *graph.DiagnosticError.
func HydrateTree(e *runtime.Engine, def *graph.TreeDefinition, f *Factory, opts ...graph.BuildOption) (core.NodeID, error) {
	if def == nil {
		return core.NoParent, fmt.Errorf("tree definition is nil")
	}
	if f == nil {
		f = NewFactory()
	}

	diags := def.ValidateWithRegistry(f.registry)
	if graph.HasErrors(diags) {
		return core.NoParent, &graph.DiagnosticError{Diagnostics: diags}
	}
	for _, d := range graph.Warnings(diags) {
		e.Logger().Warn("tree definition", "tree", def.ID, "code", d.Code, "path", d.Path, "message", d.Message)
	}

	opts = append([]graph.BuildOption{graph.WithNodeFactory(f.Records)}, opts...)
	return def.Build(e, opts...)
}
