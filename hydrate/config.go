package hydrate

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/petal-labs/arbor/core"
	"github.com/petal-labs/arbor/graph"
	"github.com/petal-labs/arbor/nodes"
)

type parallelConfig struct {
	Policy string `mapstructure:"policy"`
}

type returnConfig struct {
	Result string `mapstructure:"result"`
}

type waitConfig struct {
	Duration time.Duration `mapstructure:"duration"`
	Result   string        `mapstructure:"result"`
}

type logConfig struct {
	Message string `mapstructure:"message"`
	Level   string `mapstructure:"level"`
}

type actionConfig struct {
	Action string `mapstructure:"action"`
}

// decode copies a node's config map into out. Unknown keys are an error,
// durations may be written as "1m30s" and lists as space-separated strings.
func decode(config map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(" "),
		),
		ErrorUnused: true,
		Result:      out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(config); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func parseResult(s string) (core.Result, error) {
	if s == "" {
		return core.Success, nil
	}
	return core.ParseResult(strings.ToLower(s))
}

func buildParallel(def graph.NodeDef) ([]any, error) {
	var cfg parallelConfig
	if err := decode(def.Config, &cfg); err != nil {
		return nil, err
	}
	policy, err := nodes.ParsePolicy(cfg.Policy)
	if err != nil {
		return nil, err
	}
	return []any{nodes.Parallel{Policy: policy}}, nil
}

func buildReturn(def graph.NodeDef) ([]any, error) {
	var cfg returnConfig
	if err := decode(def.Config, &cfg); err != nil {
		return nil, err
	}
	r, err := parseResult(cfg.Result)
	if err != nil {
		return nil, err
	}
	return []any{nodes.Return{Result: r}}, nil
}

func buildWait(def graph.NodeDef) ([]any, error) {
	var cfg waitConfig
	if err := decode(def.Config, &cfg); err != nil {
		return nil, err
	}
	if cfg.Duration < 0 {
		return nil, fmt.Errorf("wait duration %s is negative", cfg.Duration)
	}
	r, err := parseResult(cfg.Result)
	if err != nil {
		return nil, err
	}
	return []any{nodes.Wait{Duration: cfg.Duration, Result: r}}, nil
}

func buildLog(def graph.NodeDef) ([]any, error) {
	var cfg logConfig
	if err := decode(def.Config, &cfg); err != nil {
		return nil, err
	}
	level := slog.LevelInfo
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
	}
	return []any{nodes.Log{Message: cfg.Message, Level: level}}, nil
}

func (f *Factory) buildAction(def graph.NodeDef) ([]any, error) {
	var cfg actionConfig
	if err := decode(def.Config, &cfg); err != nil {
		return nil, err
	}
	if fn, ok := f.actions[cfg.Action]; ok {
		return []any{nodes.Action{Fn: fn}}, nil
	}
	if fn, ok := f.tasks[cfg.Action]; ok {
		return []any{nodes.Task{Fn: fn}}, nil
	}
	return nil, fmt.Errorf("%q: %w", cfg.Action, ErrUnknownAction)
}
