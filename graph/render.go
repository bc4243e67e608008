package graph

import (
	"fmt"
	"strings"
)

// Mermaid renders t as a Mermaid flowchart, one box per node labelled with
// its name or kind and its run state.
func Mermaid(t Tree[NodeInfo]) string {
	var b strings.Builder
	b.WriteString("flowchart TD\n")
	t.Walk(func(_ []int, n NodeInfo) bool {
		fmt.Fprintf(&b, "    %s[\"%s<br/>%s\"]\n", n.ID, escapeMermaid(n.Label()), n.State)
		return true
	})
	var edges func(Tree[NodeInfo])
	edges = func(t Tree[NodeInfo]) {
		for _, c := range t.Children {
			fmt.Fprintf(&b, "    %s --> %s\n", t.Value.ID, c.Value.ID)
			edges(c)
		}
	}
	edges(t)
	return b.String()
}

func escapeMermaid(s string) string {
	return strings.ReplaceAll(s, `"`, "#quot;")
}

// Text renders t as an indented outline, one node per line.
func Text(t Tree[NodeInfo]) string {
	var b strings.Builder
	t.Walk(func(path []int, n NodeInfo) bool {
		b.WriteString(strings.Repeat("  ", len(path)))
		b.WriteString(n.Label())
		if n.Kind != "" && n.Name != "" {
			fmt.Fprintf(&b, " (%s)", n.Kind)
		}
		fmt.Fprintf(&b, " [%s]", n.State)
		if n.Score != "" {
			fmt.Fprintf(&b, " score=%s", n.Score)
		}
		b.WriteByte('\n')
		return true
	})
	return b.String()
}
