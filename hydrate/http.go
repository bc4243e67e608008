package hydrate

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/petal-labs/arbor/core"
	"github.com/petal-labs/arbor/graph"
	"github.com/petal-labs/arbor/nodes"
	"github.com/petal-labs/arbor/runtime"
)

var httpMethodTokenPattern = regexp.MustCompile(`^[!#$%&'*+.^_` + "`" + `|~0-9A-Za-z-]+$`)

// maxResponseBody bounds how much of a response is read and reported.
const maxResponseBody = 64 << 10

// HTTPClient abstracts outbound HTTP execution.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type httpConfig struct {
	URL     string            `mapstructure:"url"`
	Method  string            `mapstructure:"method"`
	Headers map[string]string `mapstructure:"headers"`
	Body    string            `mapstructure:"body"`
	Timeout time.Duration     `mapstructure:"timeout"`
	Expect  []int             `mapstructure:"expect"`

	client HTTPClient
}

func (f *Factory) buildHTTP(def graph.NodeDef) ([]any, error) {
	var cfg httpConfig
	if err := decode(def.Config, &cfg); err != nil {
		return nil, err
	}
	cfg.URL = strings.TrimSpace(cfg.URL)
	if cfg.URL == "" {
		return nil, fmt.Errorf("http needs a url")
	}
	cfg.Method = strings.ToUpper(strings.TrimSpace(cfg.Method))
	if cfg.Method == "" {
		cfg.Method = http.MethodGet
	}
	if !httpMethodTokenPattern.MatchString(cfg.Method) {
		return nil, fmt.Errorf("method %q is invalid", cfg.Method)
	}
	for _, code := range cfg.Expect {
		if code < 100 || code > 599 {
			return nil, fmt.Errorf("expected status %d is not an HTTP status", code)
		}
	}
	cfg.client = f.httpClient
	return []any{nodes.Task{Fn: cfg.run}}, nil
}

// run sends the request. A response with an expected status (any 2xx when
// none are listed) is a Success and any other status a Failure. Transport
// errors are errors.
func (cfg httpConfig) run(ctx context.Context) (core.Result, error) {
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	logger := runtime.LoggerFromContext(ctx)
	emit := runtime.EmitterFromContext(ctx)

	var body io.Reader
	if cfg.Body != "" {
		body = strings.NewReader(cfg.Body)
	}
	req, err := http.NewRequestWithContext(ctx, cfg.Method, cfg.URL, body)
	if err != nil {
		return core.Failure, fmt.Errorf("build request: %w", err)
	}
	if cfg.Body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range cfg.Headers {
		req.Header.Set(key, value)
	}

	started := time.Now()
	resp, err := cfg.client.Do(req)
	if err != nil {
		return core.Failure, fmt.Errorf("%s %s: %w", cfg.Method, cfg.URL, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return core.Failure, fmt.Errorf("read response body: %w", err)
	}
	logger.Debug("http request finished",
		"method", cfg.Method,
		"url", cfg.URL,
		"status", resp.StatusCode,
		"elapsed", time.Since(started),
	)

	emit(runtime.NewEvent(runtime.EventNodeOutput, "").
		WithPayload("message", fmt.Sprintf("%s %s: %s", cfg.Method, cfg.URL, resp.Status)).
		WithPayload("status_code", resp.StatusCode).
		WithPayload("body", string(respBody)))

	if cfg.expected(resp.StatusCode) {
		return core.Success, nil
	}
	logger.Info("http request returned unexpected status", "url", cfg.URL, "status", resp.StatusCode)
	return core.Failure, nil
}

func (cfg httpConfig) expected(status int) bool {
	if len(cfg.Expect) == 0 {
		return status >= 200 && status < 300
	}
	return slices.Contains(cfg.Expect, status)
}
