// Package sse streams the events of a tree run to HTTP clients as
// Server-Sent Events. Stored events are replayed first, then live events
// follow from the event bus.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/petal-labs/arbor/bus"
	"github.com/petal-labs/arbor/runtime"
)

// HeartbeatInterval is the default interval between SSE heartbeat comments.
const HeartbeatInterval = 15 * time.Second

// sseEvent is the JSON-serializable representation of a runtime event
// sent over the SSE stream.
type sseEvent struct {
	Kind      string         `json:"kind"`
	RunID     string         `json:"run_id"`
	NodeID    string         `json:"node_id,omitempty"`
	NodeName  string         `json:"node_name,omitempty"`
	NodeKind  string         `json:"node_kind,omitempty"`
	Time      time.Time      `json:"time"`
	Attempt   int            `json:"attempt"`
	ElapsedMs int64          `json:"elapsed_ms"`
	Payload   map[string]any `json:"payload"`
	Seq       uint64         `json:"seq"`
	TraceID   string         `json:"trace_id,omitempty"`
	SpanID    string         `json:"span_id,omitempty"`
}

func toSSEEvent(e runtime.Event) sseEvent {
	out := sseEvent{
		Kind:      string(e.Kind),
		RunID:     e.RunID,
		NodeName:  e.NodeName,
		NodeKind:  e.NodeKind,
		Time:      e.Time,
		Attempt:   e.Attempt,
		ElapsedMs: e.Elapsed.Milliseconds(),
		Payload:   e.Payload,
		Seq:       e.Seq,
		TraceID:   e.TraceID,
		SpanID:    e.SpanID,
	}
	if e.NodeID.Valid() {
		out.NodeID = e.NodeID.String()
	}
	return out
}

// Handler serves an SSE stream of the events of one run. It first replays
// stored events from the EventStore, then follows live events from the
// EventBus. Events at or below the last sent sequence number are skipped.
//
// The optional "after" query parameter is the last sequence number the
// client has seen.
//
// SSE format:
//
//	id: {seq}
//	event: {kind}
//	data: {json}
//
// A heartbeat comment ": ping\n\n" is sent every Heartbeat. The stream
// closes after run.finished or when the client disconnects.
type Handler struct {
	store bus.EventStore
	bus   bus.EventBus

	// RunID extracts the run id from the request. The default reads the
	// "run_id" path value.
	RunID func(*http.Request) string

	// Heartbeat overrides HeartbeatInterval.
	Heartbeat time.Duration
}

// NewHandler creates a Handler over store and eb.
func NewHandler(store bus.EventStore, eb bus.EventBus) *Handler {
	return &Handler{
		store: store,
		bus:   eb,
		RunID: func(r *http.Request) string {
			return r.PathValue("run_id")
		},
		Heartbeat: HeartbeatInterval,
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	runID := h.RunID(r)
	if runID == "" {
		http.Error(w, "missing run id", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	var afterSeq uint64
	if afterStr := r.URL.Query().Get("after"); afterStr != "" {
		parsed, err := strconv.ParseUint(afterStr, 10, 64)
		if err != nil {
			http.Error(w, "invalid after parameter", http.StatusBadRequest)
			return
		}
		afterSeq = parsed
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()

	// Subscribe before replaying so nothing published in between is lost.
	sub := h.bus.Subscribe(runID)
	defer sub.Close()

	lastSeq := afterSeq
	finished, err := h.replayStored(ctx, w, flusher, runID, afterSeq, &lastSeq)
	if err != nil || finished {
		return
	}

	h.streamLive(ctx, w, flusher, sub, &lastSeq)
}

// replayStored writes the stored events of runID. It reports whether
// run.finished was among them.
func (h *Handler) replayStored(
	ctx context.Context,
	w http.ResponseWriter,
	flusher http.Flusher,
	runID string,
	afterSeq uint64,
	lastSeq *uint64,
) (finished bool, err error) {
	events, err := h.store.List(ctx, runID, afterSeq, 0)
	if err != nil {
		return false, err
	}

	for _, evt := range events {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if err := writeSSEEvent(w, evt); err != nil {
			return false, err
		}
		flusher.Flush()

		if evt.Seq > *lastSeq {
			*lastSeq = evt.Seq
		}
		if evt.Kind == runtime.EventRunFinished {
			return true, nil
		}
	}
	return false, nil
}

func (h *Handler) streamLive(
	ctx context.Context,
	w http.ResponseWriter,
	flusher http.Flusher,
	sub bus.Subscription,
	lastSeq *uint64,
) {
	interval := h.Heartbeat
	if interval <= 0 {
		interval = HeartbeatInterval
	}
	heartbeat := time.NewTicker(interval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			if evt.Seq <= *lastSeq {
				continue
			}
			if err := writeSSEEvent(w, evt); err != nil {
				return
			}
			flusher.Flush()

			*lastSeq = evt.Seq
			if evt.Kind == runtime.EventRunFinished {
				return
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes a single event in SSE format.
func writeSSEEvent(w http.ResponseWriter, evt runtime.Event) error {
	data, err := json.Marshal(toSSEEvent(evt))
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", evt.Seq, evt.Kind, data)
	return err
}
