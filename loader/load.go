package loader

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/petal-labs/arbor/graph"
	"github.com/petal-labs/arbor/registry"
)

// LoadTree is the unified entry point: it reads a tree file in any
// supported format and schema, validates it against the global registry and
// returns the definition. Validation failures are returned as a
// *graph.DiagnosticError whose diagnostics carry source lines where known.
func LoadTree(path string) (*graph.TreeDefinition, error) {
	td, diags, err := ValidateFile(path, registry.Global())
	if err != nil {
		return nil, err
	}
	if graph.HasErrors(diags) {
		return nil, &graph.DiagnosticError{Diagnostics: diags}
	}
	return td, nil
}

// ValidateFile reads and parses a tree file and returns it with its
// diagnostics. The error is non-nil only when the file cannot be read or
// parsed.
func ValidateFile(path string, reg *registry.Registry) (*graph.TreeDefinition, []graph.Diagnostic, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path from caller
	if err != nil {
		return nil, nil, fmt.Errorf("reading file %s: %w", path, err)
	}
	return Validate(data, path, reg)
}

// Validate is ValidateFile for content already in memory. path is used for
// format detection and error messages only.
func Validate(data []byte, path string, reg *registry.Registry) (*graph.TreeDefinition, []graph.Diagnostic, error) {
	td, err := Parse(data, path)
	if err != nil {
		return nil, nil, err
	}
	diags := td.ValidateWithRegistry(reg)
	annotateLines(data, path, diags)
	return td, diags, nil
}

// Parse decodes a tree document without validating it.
func Parse(data []byte, path string) (*graph.TreeDefinition, error) {
	format := DetectFormat(data, path)
	if format == FormatHCL {
		return parseHCL(data, path)
	}

	kind, err := DetectSchema(data, path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	jsonData, err := toJSON(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	switch kind {
	case SchemaKindTree:
		var td graph.TreeDefinition
		if err := json.Unmarshal(jsonData, &td); err != nil {
			return nil, fmt.Errorf("parsing tree definition %s: %w", path, err)
		}
		return &td, nil
	case SchemaKindDirected:
		var dd graph.DirectedDefinition
		if err := json.Unmarshal(jsonData, &dd); err != nil {
			return nil, fmt.Errorf("parsing directed definition %s: %w", path, err)
		}
		td, err := dd.Definition()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return td, nil
	default:
		return nil, fmt.Errorf("unknown schema kind %q", kind)
	}
}

// toJSON converts data to JSON bytes, handling YAML conversion.
func toJSON(data []byte, format Format) ([]byte, error) {
	if format == FormatYAML {
		return yamlToJSON(data)
	}
	return data, nil
}
