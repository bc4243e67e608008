package loader

import (
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/petal-labs/arbor/graph"
)

// annotateLines fills in the source line of diagnostics whose path can be
// found in a YAML or JSON tree document.
func annotateLines(data []byte, path string, diags []graph.Diagnostic) {
	if len(diags) == 0 || DetectFormat(data, path) == FormatHCL {
		return
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil || len(doc.Content) == 0 {
		return
	}
	for i := range diags {
		if diags[i].Line == 0 && strings.HasPrefix(diags[i].Path, "root") {
			diags[i].Line = lineOf(doc.Content[0], diags[i].Path)
		}
	}
}

// lineOf follows a path such as "root.children[1].config.policy" as far as
// it exists in the document and returns the line of the last node reached.
func lineOf(n *yaml.Node, path string) int {
	line := 0
	for _, part := range strings.Split(path, ".") {
		key, idx := part, -1
		if open := strings.IndexByte(part, '['); open > 0 && strings.HasSuffix(part, "]") {
			i, err := strconv.Atoi(part[open+1 : len(part)-1])
			if err != nil {
				return line
			}
			key, idx = part[:open], i
		}

		next, keyLine := mappingValue(n, key)
		if next == nil {
			return line
		}
		n, line = next, keyLine

		if idx >= 0 {
			if n.Kind != yaml.SequenceNode || idx >= len(n.Content) {
				return line
			}
			n = n.Content[idx]
			line = n.Line
		}
	}
	return line
}

func mappingValue(n *yaml.Node, key string) (*yaml.Node, int) {
	if n.Kind != yaml.MappingNode {
		return nil, 0
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			return n.Content[i+1], n.Content[i].Line
		}
	}
	return nil, 0
}
