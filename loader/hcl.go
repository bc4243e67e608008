package loader

import (
	"fmt"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"

	"github.com/petal-labs/arbor/graph"
)

// hclTreeFile is the top-level structure of an HCL tree file:
//
//	id = "patrol"
//
//	node "fallback" {
//	  name = "main"
//	  node "return" {
//	    config = { result = "failure" }
//	  }
//	}
type hclTreeFile struct {
	ID       string            `hcl:"id"`
	Version  string            `hcl:"version,optional"`
	Metadata map[string]string `hcl:"metadata,optional"`
	Nodes    []*hclNode        `hcl:"node,block"`
}

type hclNode struct {
	Type     string     `hcl:"type,label"`
	Name     string     `hcl:"name,optional"`
	Score    string     `hcl:"score,optional"`
	Config   cty.Value  `hcl:"config,optional"`
	Repeat   *hclRepeat `hcl:"repeat,block"`
	Children []*hclNode `hcl:"node,block"`
}

type hclRepeat struct {
	Mode  string `hcl:"mode"`
	Count int    `hcl:"count,optional"`
}

func parseHCL(data []byte, path string) (*graph.TreeDefinition, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(data, path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", path, diags)
	}

	var parsed hclTreeFile
	diags = gohcl.DecodeBody(file.Body, nil, &parsed)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL file %s: %w", path, diags)
	}
	if len(parsed.Nodes) != 1 {
		return nil, fmt.Errorf("HCL file %s: want exactly one top-level node block, got %d", path, len(parsed.Nodes))
	}

	root, err := parsed.Nodes[0].nodeDef()
	if err != nil {
		return nil, fmt.Errorf("HCL file %s: %w", path, err)
	}
	return &graph.TreeDefinition{
		ID:       parsed.ID,
		Version:  parsed.Version,
		Metadata: parsed.Metadata,
		Root:     root,
	}, nil
}

func (n *hclNode) nodeDef() (graph.NodeDef, error) {
	def := graph.NodeDef{Type: n.Type, Name: n.Name, Score: n.Score}

	config, err := ctyToNative(n.Config)
	if err != nil {
		return def, fmt.Errorf("node %q config: %w", n.Type, err)
	}
	if config != nil {
		m, ok := config.(map[string]any)
		if !ok {
			return def, fmt.Errorf("node %q config must be an object, got %T", n.Type, config)
		}
		def.Config = m
	}

	if n.Repeat != nil {
		def.Repeat = &graph.RepeatDef{Mode: n.Repeat.Mode, Count: n.Repeat.Count}
	}
	for _, c := range n.Children {
		child, err := c.nodeDef()
		if err != nil {
			return def, err
		}
		def.Children = append(def.Children, child)
	}
	return def, nil
}

// ctyToNative recursively converts a cty.Value to its most natural Go
// counterpart: strings, float64, bool, []any and map[string]any.
func ctyToNative(v cty.Value) (any, error) {
	if v.IsNull() || !v.IsKnown() {
		return nil, nil
	}

	ty := v.Type()
	switch {
	case ty == cty.String:
		return v.AsString(), nil

	case ty == cty.Number:
		var f float64
		if err := gocty.FromCtyValue(v, &f); err != nil {
			return nil, fmt.Errorf("could not convert number to float64: %w", err)
		}
		return f, nil

	case ty == cty.Bool:
		return v.True(), nil

	case ty.IsListType() || ty.IsTupleType() || ty.IsSetType():
		slice := make([]any, 0, v.LengthInt())
		it := v.ElementIterator()
		for it.Next() {
			_, val := it.Element()
			native, err := ctyToNative(val)
			if err != nil {
				return nil, err
			}
			slice = append(slice, native)
		}
		return slice, nil

	case ty.IsObjectType() || ty.IsMapType():
		m := make(map[string]any)
		it := v.ElementIterator()
		for it.Next() {
			key, val := it.Element()
			native, err := ctyToNative(val)
			if err != nil {
				return nil, fmt.Errorf("in attribute %q: %w", key.AsString(), err)
			}
			m[key.AsString()] = native
		}
		return m, nil

	default:
		return nil, fmt.Errorf("unsupported type %s", ty.FriendlyName())
	}
}
