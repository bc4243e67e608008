package bus

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/petal-labs/arbor/core"
	"github.com/petal-labs/arbor/runtime"

	_ "modernc.org/sqlite"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

const eventColumns = `run_id, seq, kind, node_id, node_name, node_kind, time, attempt, elapsed, payload, trace_id, span_id`

// SQLiteStoreConfig configures the SQLite event store.
type SQLiteStoreConfig struct {
	DSN string

	// RetentionAge drops events older than this. Zero keeps them.
	RetentionAge time.Duration

	// RetentionCount keeps at most this many events per run. Zero keeps all.
	RetentionCount int

	// PruneInterval defaults to one hour.
	PruneInterval time.Duration
}

// SQLiteEventStore keeps events in a SQLite database opened in WAL mode.
// Node started events also record the parent node, so the runs of one
// subtree can be queried without decoding payloads.
type SQLiteEventStore struct {
	db   *sql.DB
	cfg  SQLiteStoreConfig
	stop chan struct{}
	done chan struct{}
}

// NewSQLiteEventStore opens the database at cfg.DSN and creates the schema
// if needed. A pruner runs in the background when retention is set.
func NewSQLiteEventStore(cfg SQLiteStoreConfig) (*SQLiteEventStore, error) {
	if cfg.PruneInterval <= 0 {
		cfg.PruneInterval = time.Hour
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open: %w", err)
	}
	for _, stmt := range []string{"PRAGMA journal_mode=WAL", sqliteSchema} {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlitestore: init: %w", err)
		}
	}

	s := &SQLiteEventStore{
		db:   db,
		cfg:  cfg,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	if cfg.RetentionAge > 0 || cfg.RetentionCount > 0 {
		go s.pruneLoop()
	} else {
		close(s.done)
	}
	return s, nil
}

// Append stores event. A second event with the same run and Seq is
// rejected with ErrDuplicateEvent.
func (s *SQLiteEventStore) Append(ctx context.Context, event runtime.Event) error {
	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("sqlitestore: marshal payload: %w", err)
	}

	var parent core.NodeID
	if event.Kind == runtime.EventNodeStarted {
		parent = payloadNodeID(event.Payload, "parent")
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO events (`+eventColumns+`, parent_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (run_id, seq) DO NOTHING`,
		event.RunID,
		int64(event.Seq), // #nosec G115 -- engine sequence numbers stay far below 2^63
		string(event.Kind),
		int64(event.NodeID), // #nosec G115 -- node ids stay far below 2^63
		event.NodeName,
		event.NodeKind,
		event.Time.UTC().Format(time.RFC3339Nano),
		event.Attempt,
		int64(event.Elapsed),
		string(payloadJSON),
		event.TraceID,
		event.SpanID,
		int64(parent), // #nosec G115 -- node ids stay far below 2^63
	)
	if err != nil {
		return fmt.Errorf("sqlitestore: append: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("sqlitestore: run %s seq %d: %w", event.RunID, event.Seq, ErrDuplicateEvent)
	}
	return nil
}

// List returns the events of runID with Seq > afterSeq, at most limit of
// them when limit is positive.
func (s *SQLiteEventStore) List(ctx context.Context, runID string, afterSeq uint64, limit int) ([]runtime.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE run_id = ? AND seq > ? ORDER BY seq`
	args := []any{runID, int64(afterSeq)} // #nosec G115 -- cursor comes from a stored seq
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: list: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

// NodeRuns pairs every node.started event of runID with the first
// finished, failed or interrupted event of the same node and attempt.
func (s *SQLiteEventStore) NodeRuns(ctx context.Context, runID string) ([]NodeRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT st.node_id, st.parent_id, st.node_name, st.node_kind, st.attempt, st.time,
		       COALESCE(fin.kind, ''), COALESCE(fin.elapsed, 0), COALESCE(fin.payload, '{}')
		FROM events st
		LEFT JOIN events fin ON fin.id = (
			SELECT id FROM events
			WHERE run_id = st.run_id AND node_id = st.node_id AND attempt = st.attempt
			  AND seq > st.seq AND kind IN (?, ?, ?)
			ORDER BY seq LIMIT 1
		)
		WHERE st.run_id = ? AND st.kind = ?
		ORDER BY st.seq`,
		string(runtime.EventNodeFinished), string(runtime.EventNodeFailed), string(runtime.EventNodeInterrupted),
		runID, string(runtime.EventNodeStarted),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: node runs: %w", err)
	}
	defer rows.Close()

	var runs []NodeRun
	for rows.Next() {
		var (
			r                NodeRun
			nodeID, parentID int64
			started, endKind string
			elapsed          int64
			endPayloadJSON   string
		)
		if err := rows.Scan(&nodeID, &parentID, &r.Name, &r.Kind, &r.Attempt, &started,
			&endKind, &elapsed, &endPayloadJSON); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan node run: %w", err)
		}
		r.NodeID = core.NodeID(nodeID)   // #nosec G115 -- written from uint64
		r.Parent = core.NodeID(parentID) // #nosec G115 -- written from uint64
		if r.Started, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("sqlitestore: parse time %q: %w", started, err)
		}
		r.Outcome = OutcomeRunning
		if endKind != "" {
			var payload map[string]any
			if err := json.Unmarshal([]byte(endPayloadJSON), &payload); err != nil {
				return nil, fmt.Errorf("sqlitestore: unmarshal payload: %w", err)
			}
			r.end(runtime.EventKind(endKind), payload, time.Duration(elapsed))
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// LatestSeq returns the highest Seq stored for runID, or 0.
func (s *SQLiteEventStore) LatestSeq(ctx context.Context, runID string) (uint64, error) {
	var seq sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(seq) FROM events WHERE run_id = ?`, runID).Scan(&seq); err != nil {
		return 0, fmt.Errorf("sqlitestore: latest seq: %w", err)
	}
	if !seq.Valid || seq.Int64 < 0 {
		return 0, nil
	}
	return uint64(seq.Int64), nil // #nosec G115 -- checked non-negative above
}

// RunIDs returns the stored run ids in ascending order.
func (s *SQLiteEventStore) RunIDs(ctx context.Context) ([]string, error) {
	return s.runIDs(ctx)
}

func (s *SQLiteEventStore) runIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT run_id FROM events ORDER BY run_id`)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: run ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan run id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close stops the pruner and closes the database. It is safe to call twice.
func (s *SQLiteEventStore) Close() error {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	<-s.done
	return s.db.Close()
}

// Prune applies the retention settings once.
func (s *SQLiteEventStore) Prune(ctx context.Context) error {
	if s.cfg.RetentionAge > 0 {
		cutoff := time.Now().Add(-s.cfg.RetentionAge).UTC().Format(time.RFC3339Nano)
		if _, err := s.db.ExecContext(ctx, `DELETE FROM events WHERE time < ?`, cutoff); err != nil {
			return fmt.Errorf("sqlitestore: prune by age: %w", err)
		}
	}
	if s.cfg.RetentionCount <= 0 {
		return nil
	}

	ids, err := s.runIDs(ctx)
	if err != nil {
		return fmt.Errorf("sqlitestore: prune: %w", err)
	}
	for _, runID := range ids {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM events WHERE run_id = ? AND id NOT IN (
				SELECT id FROM events WHERE run_id = ? ORDER BY seq DESC LIMIT ?
			)`, runID, runID, s.cfg.RetentionCount,
		); err != nil {
			return fmt.Errorf("sqlitestore: prune run %s by count: %w", runID, err)
		}
	}
	return nil
}

func (s *SQLiteEventStore) pruneLoop() {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.PruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			_ = s.Prune(context.Background())
		}
	}
}

func scanEvents(rows *sql.Rows) ([]runtime.Event, error) {
	var events []runtime.Event
	for rows.Next() {
		var (
			e                    runtime.Event
			kind, stamp, body    string
			seq, nodeID, elapsed int64
		)
		if err := rows.Scan(&e.RunID, &seq, &kind, &nodeID, &e.NodeName, &e.NodeKind,
			&stamp, &e.Attempt, &elapsed, &body, &e.TraceID, &e.SpanID); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan event: %w", err)
		}

		t, err := time.Parse(time.RFC3339Nano, stamp)
		if err != nil {
			return nil, fmt.Errorf("sqlitestore: parse time %q: %w", stamp, err)
		}
		e.Time = t
		e.Kind = runtime.EventKind(kind)
		e.Seq = uint64(seq)            // #nosec G115 -- written from uint64
		e.NodeID = core.NodeID(nodeID) // #nosec G115 -- written from uint64
		e.Elapsed = time.Duration(elapsed)

		e.Payload = map[string]any{}
		if body != "" && body != "{}" {
			if err := json.Unmarshal([]byte(body), &e.Payload); err != nil {
				return nil, fmt.Errorf("sqlitestore: unmarshal payload: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

var (
	_ EventStore    = (*SQLiteEventStore)(nil)
	_ NodeRunLister = (*SQLiteEventStore)(nil)
)
