// Package loader reads arbor tree files. It supports the nested tree schema
// in YAML, JSON and HCL, and the flat directed schema written by
// `arbor graph --format directed` in YAML and JSON.
package loader

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format is the syntax a tree file is written in.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatHCL  Format = "hcl"
)

// SchemaKind identifies the shape of a tree document.
type SchemaKind string

const (
	SchemaKindTree     SchemaKind = "tree"
	SchemaKindDirected SchemaKind = "directed"
)

// DetectFormat picks the syntax from the file extension, falling back to
// the content: a document starting with '{' is JSON, anything else YAML.
func DetectFormat(data []byte, filePath string) Format {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".json":
		return FormatJSON
	case ".hcl":
		return FormatHCL
	}
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
		return FormatJSON
	}
	return FormatYAML
}

// DetectSchema auto-detects the schema kind from file content and path.
//  1. HCL files always use the tree schema
//  2. If the document has "root" -> TREE
//  3. If it has "nodes" AND "edges" -> DIRECTED
//  4. Else error
func DetectSchema(data []byte, filePath string) (SchemaKind, error) {
	format := DetectFormat(data, filePath)
	if format == FormatHCL {
		return SchemaKindTree, nil
	}

	var raw map[string]any
	if format == FormatYAML {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return "", fmt.Errorf("parsing YAML: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, &raw); err != nil {
			return "", fmt.Errorf("parsing JSON: %w", err)
		}
	}

	if hasKey(raw, "root") {
		return SchemaKindTree, nil
	}
	if hasKey(raw, "nodes") && hasKey(raw, "edges") {
		return SchemaKindDirected, nil
	}
	return "", fmt.Errorf("unable to detect schema: document has neither \"root\" nor \"nodes\" and \"edges\"")
}

// hasKey checks if a key exists in a map.
func hasKey(m map[string]any, key string) bool {
	_, ok := m[key]
	return ok
}

// yamlToJSON converts raw bytes from YAML format to JSON bytes:
// YAML -> map[string]any -> JSON bytes -> typed struct.
func yamlToJSON(data []byte) ([]byte, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	// yaml.v3 uses map[string]any by default, which is JSON-compatible
	return json.Marshal(raw)
}
