package registry

import "github.com/petal-labs/arbor/nodes"

// registerBuiltins registers all built-in arbor node types.
// Called once by Global() during singleton initialization.
func registerBuiltins(r *Registry) {
	r.Register(NodeTypeDef{
		Type:        nodes.KindSequence,
		Category:    CategoryComposite,
		DisplayName: "Sequence",
		Description: "Run children in order until one fails; succeed when all succeed",
		MaxChildren: Unbounded,
	})

	r.Register(NodeTypeDef{
		Type:        nodes.KindFallback,
		Category:    CategoryComposite,
		DisplayName: "Fallback",
		Description: "Run children in order until one succeeds; fail when all fail",
		MaxChildren: Unbounded,
	})

	r.Register(NodeTypeDef{
		Type:        nodes.KindParallel,
		Category:    CategoryComposite,
		DisplayName: "Parallel",
		Description: "Run all children at once and combine their results by policy",
		MaxChildren: Unbounded,
		Config: []ConfigField{
			{Name: "policy", Type: "string", Required: true, Description: "succeed_all or succeed_any"},
		},
	})

	r.Register(NodeTypeDef{
		Type:        nodes.KindUtility,
		Category:    CategoryComposite,
		DisplayName: "Utility",
		Description: "Run only the child with the highest score",
		MaxChildren: Unbounded,
	})

	r.Register(NodeTypeDef{
		Type:        nodes.KindInvert,
		Category:    CategoryDecorator,
		DisplayName: "Invert",
		Description: "Run the single child and swap Success and Failure",
		MinChildren: 1,
		MaxChildren: 1,
	})

	r.Register(NodeTypeDef{
		Type:        nodes.KindReturn,
		Category:    CategoryLeaf,
		DisplayName: "Return",
		Description: "Finish immediately with a fixed result",
		Config: []ConfigField{
			{Name: "result", Type: "string", Description: "success (default) or failure"},
		},
	})

	r.Register(NodeTypeDef{
		Type:        nodes.KindWait,
		Category:    CategoryLeaf,
		DisplayName: "Wait",
		Description: "Finish once a duration has elapsed since the run started",
		Config: []ConfigField{
			{Name: "duration", Type: "duration", Required: true},
			{Name: "result", Type: "string", Description: "success (default) or failure"},
		},
	})

	r.Register(NodeTypeDef{
		Type:        nodes.KindLog,
		Category:    CategoryLeaf,
		DisplayName: "Log",
		Description: "Write a message to the log and succeed",
		Config: []ConfigField{
			{Name: "message", Type: "string", Required: true},
			{Name: "level", Type: "string", Description: "debug, info (default), warn or error"},
		},
	})

	r.Register(NodeTypeDef{
		Type:        nodes.KindAction,
		Category:    CategoryLeaf,
		DisplayName: "Action",
		Description: "Call an action registered by the embedding program",
		Config: []ConfigField{
			{Name: "action", Type: "string", Required: true, Description: "name the action was registered under"},
		},
	})

	r.Register(NodeTypeDef{
		Type:        nodes.KindExec,
		Category:    CategoryLeaf,
		DisplayName: "Exec",
		Description: "Run a command in the background; succeed when it exits with status 0",
		Config: []ConfigField{
			{Name: "command", Type: "list", Required: true},
			{Name: "dir", Type: "string"},
			{Name: "env", Type: "list"},
			{Name: "timeout", Type: "duration"},
		},
	})

	r.Register(NodeTypeDef{
		Type:        nodes.KindHTTP,
		Category:    CategoryLeaf,
		DisplayName: "HTTP",
		Description: "Send an HTTP request in the background; succeed on an expected status (default 2xx)",
		Config: []ConfigField{
			{Name: "url", Type: "string", Required: true},
			{Name: "method", Type: "string", Description: "default GET"},
			{Name: "headers", Type: "map"},
			{Name: "body", Type: "string"},
			{Name: "timeout", Type: "duration"},
			{Name: "expect", Type: "list", Description: "accepted status codes"},
		},
	})
}
