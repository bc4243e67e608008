package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/petal-labs/arbor/bus"
	"github.com/petal-labs/arbor/registry"
	"github.com/petal-labs/arbor/runtime"
)

func newTestServer(t *testing.T) (*Server, bus.EventStore) {
	t.Helper()
	store := bus.NewMemEventStore()
	sub := bus.NewStoreSubscriber(store, nil)
	runner := NewRunner(RunnerConfig{EventHandler: sub.Handle, TickInterval: time.Millisecond})

	clock := &testClock{now: time.Date(2026, 2, 16, 12, 0, 0, 0, time.UTC)}
	scheduler, err := NewScheduler(SchedulerConfig{
		Runner: runner,
		Schedules: []ScheduleConfig{
			{Name: "ok", Cron: "0 3 * * *", File: filepath.Join("testdata", "ok.yaml")},
		},
		Now: clock.Now,
	})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	return NewServer(ServerConfig{
		Scheduler: scheduler,
		Store:     store,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("arbor_up 1\n"))
		}),
	}), store
}

func doRequest(t *testing.T, h http.Handler, method, path string, out any) int {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	if out != nil {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec.Code
}

func TestServerHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	var health map[string]string
	if code := doRequest(t, h, http.MethodGet, "/healthz", &health); code != http.StatusOK || health["status"] != "ok" {
		t.Errorf("healthz = %d %v", code, health)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "arbor_up 1\n" {
		t.Errorf("metrics = %d %q", rec.Code, rec.Body.String())
	}
}

func TestServerNodeTypes(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	var all struct {
		NodeTypes []registry.NodeTypeDef `json:"node_types"`
	}
	if code := doRequest(t, h, http.MethodGet, "/api/node-types", &all); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(all.NodeTypes) != registry.Global().Len() {
		t.Errorf("got %d node types, want %d", len(all.NodeTypes), registry.Global().Len())
	}

	var leaves struct {
		NodeTypes []registry.NodeTypeDef `json:"node_types"`
	}
	doRequest(t, h, http.MethodGet, "/api/node-types?category="+registry.CategoryLeaf, &leaves)
	if len(leaves.NodeTypes) == 0 {
		t.Fatal("expected leaf types")
	}
	for _, def := range leaves.NodeTypes {
		if def.Category != registry.CategoryLeaf {
			t.Errorf("%s has category %s", def.Type, def.Category)
		}
	}
}

func TestServerSchedulesAndRuns(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	var list struct {
		Schedules []ScheduleState `json:"schedules"`
	}
	doRequest(t, h, http.MethodGet, "/api/schedules", &list)
	if len(list.Schedules) != 1 || list.Schedules[0].Name != "ok" || list.Schedules[0].LastStatus != ScheduleStatusIdle {
		t.Fatalf("schedules = %+v", list.Schedules)
	}

	var report Report
	if code := doRequest(t, h, http.MethodPost, "/api/schedules/ok/run", &report); code != http.StatusOK {
		t.Fatalf("trigger status = %d", code)
	}
	if report.Outcome != "success" || report.RunID == "" {
		t.Fatalf("report = %+v", report)
	}

	var runs struct {
		Runs []string `json:"runs"`
	}
	doRequest(t, h, http.MethodGet, "/api/runs", &runs)
	if len(runs.Runs) != 1 || runs.Runs[0] != report.RunID {
		t.Fatalf("runs = %v, want [%s]", runs.Runs, report.RunID)
	}

	var events struct {
		RunID  string          `json:"run_id"`
		Events []runtime.Event `json:"events"`
	}
	doRequest(t, h, http.MethodGet, "/api/runs/"+report.RunID+"/events", &events)
	if len(events.Events) == 0 || events.Events[0].Kind != runtime.EventRunStarted {
		t.Fatalf("events = %+v", events.Events)
	}

	var page struct {
		Events []runtime.Event `json:"events"`
	}
	doRequest(t, h, http.MethodGet, "/api/runs/"+report.RunID+"/events?after=1&limit=2", &page)
	if len(page.Events) != 2 || page.Events[0].Seq != 2 {
		t.Errorf("page = %+v", page.Events)
	}

	var nodes struct {
		RunID string        `json:"run_id"`
		Nodes []bus.NodeRun `json:"nodes"`
	}
	if code := doRequest(t, h, http.MethodGet, "/api/runs/"+report.RunID+"/nodes", &nodes); code != http.StatusOK {
		t.Fatalf("nodes status = %d", code)
	}
	var names []string
	for _, n := range nodes.Nodes {
		names = append(names, n.Name)
		if n.Outcome != bus.OutcomeSuccess {
			t.Errorf("%s outcome = %q, want success", n.Name, n.Outcome)
		}
	}
	if strings.Join(names, ",") != "main,first,second" {
		t.Fatalf("node runs = %v, want main,first,second", names)
	}
	root := nodes.Nodes[0]
	if root.Parent.Valid() || nodes.Nodes[1].Parent != root.NodeID || nodes.Nodes[2].Parent != root.NodeID {
		t.Errorf("parents = %v %v %v", root.Parent, nodes.Nodes[1].Parent, nodes.Nodes[2].Parent)
	}
}

func TestServerStreamsStoredRun(t *testing.T) {
	store := bus.NewMemEventStore()
	eb := bus.NewMemBus(bus.MemBusConfig{})
	t.Cleanup(func() { _ = eb.Close() })
	for seq, kind := range []runtime.EventKind{runtime.EventRunStarted, runtime.EventNodeStarted, runtime.EventRunFinished} {
		e := runtime.Event{Kind: kind, RunID: "r1", Seq: uint64(seq + 1), Time: time.Now()}
		if err := store.Append(context.Background(), e); err != nil {
			t.Fatal(err)
		}
	}

	h := NewServer(ServerConfig{Store: store, Bus: eb}).Handler()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs/r1/stream?after=1", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	body := rec.Body.String()
	if strings.Contains(body, "event: run.started") {
		t.Errorf("seq 1 should be skipped by after=1:\n%s", body)
	}
	for _, want := range []string{"id: 2\nevent: node.started", "id: 3\nevent: run.finished"} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q:\n%s", want, body)
		}
	}
}

func TestServerWithoutBusHasNoStream(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs/r1/stream", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestServerErrors(t *testing.T) {
	srv, _ := newTestServer(t)
	h := srv.Handler()

	tests := []struct {
		method, path string
		wantCode     int
		wantError    string
	}{
		{http.MethodPost, "/api/schedules/nope/run", http.StatusNotFound, "NOT_FOUND"},
		{http.MethodGet, "/api/runs/unknown/events", http.StatusNotFound, "NOT_FOUND"},
		{http.MethodGet, "/api/runs/unknown/nodes", http.StatusNotFound, "NOT_FOUND"},
		{http.MethodGet, "/api/runs/x/events?after=-1", http.StatusBadRequest, "INVALID_QUERY"},
		{http.MethodGet, "/api/runs/x/events?limit=abc", http.StatusBadRequest, "INVALID_QUERY"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			var resp apiErrorResponse
			if code := doRequest(t, h, tt.method, tt.path, &resp); code != tt.wantCode {
				t.Errorf("status = %d, want %d", code, tt.wantCode)
			}
			if resp.Error.Code != tt.wantError {
				t.Errorf("error code = %q, want %q", resp.Error.Code, tt.wantError)
			}
		})
	}
}

func TestDaemonServesAdminAPI(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Listen = ""
	cfg.Schedules = []ScheduleConfig{{Name: "ok", Cron: "0 3 * * *", File: filepath.Join("testdata", "ok.yaml")}}

	d, err := New(cfg, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	h := d.Handler()
	var report Report
	if code := doRequest(t, h, http.MethodPost, "/api/schedules/ok/run", &report); code != http.StatusOK {
		t.Fatalf("trigger status = %d", code)
	}

	// Events reach the store through the bus asynchronously.
	deadline := time.Now().Add(2 * time.Second)
	for {
		var runs struct {
			Runs []string `json:"runs"`
		}
		doRequest(t, h, http.MethodGet, "/api/runs", &runs)
		if len(runs.Runs) == 1 && runs.Runs[0] == report.RunID {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("run %s never reached the store: %v", report.RunID, runs.Runs)
		}
		time.Sleep(5 * time.Millisecond)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("metrics status = %d", rec.Code)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}
}
