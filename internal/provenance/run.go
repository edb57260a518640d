package provenance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/adrien-gtd/artist-data-acquisition/internal/database"
	"github.com/adrien-gtd/artist-data-acquisition/internal/metrics"
	"github.com/adrien-gtd/artist-data-acquisition/internal/platform"
)

// ErrRunClosed is returned when closing a run that is already closed.
var ErrRunClosed = errors.New("workflow run already closed")

// Kind is the kind of workflow run.
type Kind string

// Run kinds.
const (
	KindResolve Kind = "resolve"
	KindCollect Kind = "collect"
	KindRetract Kind = "retract"
)

// Status is a run's lifecycle status.
type Status string

// Run statuses.
const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
)

// ErrorKind classifies an itemized run error.
type ErrorKind string

// Error kinds.
const (
	ErrAdapterFetch       ErrorKind = "adapter_fetch"
	ErrAmbiguousIdentity  ErrorKind = "ambiguous_identity"
	ErrUnresolvedIdentity ErrorKind = "unresolved_identity"
	ErrConflictingMapping ErrorKind = "conflicting_mapping"
	ErrMalformedField     ErrorKind = "malformed_field"
	ErrCancelled          ErrorKind = "cancelled"
	ErrInternal           ErrorKind = "internal"
)

// ErrorDescriptor is one itemized problem recorded on a run.
type ErrorDescriptor struct {
	Kind             ErrorKind     `json:"kind"`
	Platform         platform.Name `json:"platform,omitempty"`
	PlatformArtistID string        `json:"platform_artist_id,omitempty"`
	LocalID          string        `json:"local_id,omitempty"`
	Message          string        `json:"message"`
	At               time.Time     `json:"at"`
}

// WorkflowRun is the persisted view of a run.
type WorkflowRun struct {
	ID             string            `json:"id"`
	Kind           Kind              `json:"kind"`
	Status         Status            `json:"status"`
	StartedAt      time.Time         `json:"started_at"`
	EndedAt        *time.Time        `json:"ended_at,omitempty"`
	InputsSummary  map[string]any    `json:"inputs_summary"`
	OutputsSummary map[string]any    `json:"outputs_summary"`
	Errors         []ErrorDescriptor `json:"errors"`
	Successes      int               `json:"successes"`
	Failures       int               `json:"failures"`
}

// Tracker opens and reads workflow runs.
type Tracker struct {
	db      *sql.DB
	logger  *slog.Logger
	version string
}

// NewTracker creates a run tracker.
func NewTracker(db *sql.DB, logger *slog.Logger) *Tracker {
	return &Tracker{db: db, logger: logger.With(slog.String("component", "run-tracker"))}
}

// WithVersion returns a tracker that stamps every opened run's inputs with
// the software version that produced it.
func (t *Tracker) WithVersion(version string) *Tracker {
	c := *t
	c.version = version
	return &c
}

// Open inserts a new running workflow run. inputs is not modified.
func (t *Tracker) Open(ctx context.Context, kind Kind, inputs map[string]any) (*Run, error) {
	summary := make(map[string]any, len(inputs)+1)
	for k, v := range inputs {
		summary[k] = v
	}
	if t.version != "" {
		summary["version"] = t.version
	}
	encoded, err := json.Marshal(summary)
	if err != nil {
		return nil, fmt.Errorf("encoding run inputs: %w", err)
	}

	r := &Run{
		ID:        uuid.New().String(),
		Kind:      kind,
		StartedAt: time.Now().UTC(),
		tracker:   t,
		outputs:   map[string]int{},
		platforms: map[platform.Name]*platformCounts{},
	}
	_, err = t.db.ExecContext(ctx, `
		INSERT INTO workflow_runs (id, kind, status, started_at, inputs_summary)
		VALUES (?, ?, ?, ?, ?)`,
		r.ID, string(kind), string(StatusRunning), r.StartedAt.Format(database.TimeLayout), string(encoded))
	if err != nil {
		return nil, fmt.Errorf("opening %s run: %w", kind, err)
	}
	t.logger.Info("run started", slog.String("run_id", r.ID), slog.String("kind", string(kind)))
	return r, nil
}

// Get returns the run with id, or nil if it does not exist.
func (t *Tracker) Get(ctx context.Context, id string) (*WorkflowRun, error) {
	runs, err := t.query(ctx, `WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return &runs[0], nil
}

// List returns the most recent runs, newest first.
func (t *Tracker) List(ctx context.Context, limit int) ([]WorkflowRun, error) {
	if limit <= 0 {
		limit = 20
	}
	return t.query(ctx, `ORDER BY started_at DESC, id LIMIT ?`, limit)
}

func (t *Tracker) query(ctx context.Context, clause string, args ...any) ([]WorkflowRun, error) {
	rows, err := t.db.QueryContext(ctx, `
		SELECT id, kind, status, started_at, ended_at, inputs_summary, outputs_summary, errors, successes, failures
		FROM workflow_runs `+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []WorkflowRun
	for rows.Next() {
		var (
			w                         WorkflowRun
			kind, status, started     string
			ended                     sql.NullString
			inputs, outputs, errsJSON string
		)
		if err := rows.Scan(&w.ID, &kind, &status, &started, &ended, &inputs, &outputs, &errsJSON, &w.Successes, &w.Failures); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		w.Kind = Kind(kind)
		w.Status = Status(status)
		w.StartedAt, _ = time.Parse(database.TimeLayout, started)
		if ended.Valid {
			e, _ := time.Parse(database.TimeLayout, ended.String)
			w.EndedAt = &e
		}
		if err := json.Unmarshal([]byte(inputs), &w.InputsSummary); err != nil {
			return nil, fmt.Errorf("decoding run inputs: %w", err)
		}
		if err := json.Unmarshal([]byte(outputs), &w.OutputsSummary); err != nil {
			return nil, fmt.Errorf("decoding run outputs: %w", err)
		}
		if err := json.Unmarshal([]byte(errsJSON), &w.Errors); err != nil {
			return nil, fmt.Errorf("decoding run errors: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

type platformCounts struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// Run is an open workflow run. Its methods are safe for concurrent use.
type Run struct {
	ID        string
	Kind      Kind
	StartedAt time.Time

	tracker *Tracker

	mu        sync.Mutex
	successes int
	failures  int
	errors    []ErrorDescriptor
	outputs   map[string]int
	platforms map[platform.Name]*platformCounts
	closed    bool
	status    Status
}

func (r *Run) counts(p platform.Name) *platformCounts {
	c, ok := r.platforms[p]
	if !ok {
		c = &platformCounts{}
		r.platforms[p] = c
	}
	return c
}

// RecordSuccess counts one successful unit of work on platform p. p may be
// empty for work not tied to a platform.
func (r *Run) RecordSuccess(p platform.Name) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.successes++
	if p != "" {
		r.counts(p).Succeeded++
	}
}

// RecordFailure counts one failed unit of work and itemizes it.
func (r *Run) RecordFailure(d ErrorDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures++
	if d.Platform != "" {
		r.counts(d.Platform).Failed++
	}
	r.appendError(d)
}

// RecordIssue itemizes a recovered problem without counting a failure.
func (r *Run) RecordIssue(d ErrorDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appendError(d)
}

func (r *Run) appendError(d ErrorDescriptor) {
	if d.At.IsZero() {
		d.At = time.Now().UTC()
	}
	r.errors = append(r.errors, d)
}

// AddOutput adds n to the outputs summary counter key.
func (r *Run) AddOutput(key string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outputs[key] += n
}

// Counts returns the current success and failure counts.
func (r *Run) Counts() (successes, failures int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.successes, r.failures
}

// Errors returns a copy of the itemized errors recorded so far.
func (r *Run) Errors() []ErrorDescriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ErrorDescriptor(nil), r.errors...)
}

// Close computes the terminal status and persists the run. A non-nil cause
// that is a context cancellation or deadline adds a cancelled descriptor;
// any other cause adds an internal one. Both count as failures. The write
// ignores ctx cancellation so an interrupted run still gets closed.
func (r *Run) Close(ctx context.Context, cause error) (Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return r.status, ErrRunClosed
	}

	if cause != nil {
		kind := ErrInternal
		if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
			kind = ErrCancelled
		}
		r.failures++
		r.appendError(ErrorDescriptor{Kind: kind, Message: cause.Error()})
	}
	status := terminalStatus(r.successes, r.failures)

	outputs := map[string]any{}
	for k, v := range r.outputs {
		outputs[k] = v
	}
	if len(r.platforms) > 0 {
		outputs["platforms"] = r.platforms
	}
	outJSON, err := json.Marshal(outputs)
	if err != nil {
		return "", fmt.Errorf("encoding run outputs: %w", err)
	}
	errs := r.errors
	if errs == nil {
		errs = []ErrorDescriptor{}
	}
	sort.SliceStable(errs, func(i, j int) bool { return errs[i].At.Before(errs[j].At) })
	errJSON, err := json.Marshal(errs)
	if err != nil {
		return "", fmt.Errorf("encoding run errors: %w", err)
	}

	ended := time.Now().UTC()
	res, err := r.tracker.db.ExecContext(context.WithoutCancel(ctx), `
		UPDATE workflow_runs
		SET status = ?, ended_at = ?, outputs_summary = ?, errors = ?, successes = ?, failures = ?
		WHERE id = ? AND status = 'running'`,
		string(status), ended.Format(database.TimeLayout), string(outJSON), string(errJSON),
		r.successes, r.failures, r.ID)
	if err != nil {
		return "", fmt.Errorf("closing run %s: %w", r.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		r.closed = true
		return "", ErrRunClosed
	}

	r.closed = true
	r.status = status
	metrics.RunsTotal.WithLabelValues(string(r.Kind), string(status)).Inc()
	metrics.RunDuration.WithLabelValues(string(r.Kind)).Observe(ended.Sub(r.StartedAt).Seconds())

	level := slog.LevelInfo
	switch status {
	case StatusPartial:
		level = slog.LevelWarn
	case StatusFailed:
		level = slog.LevelError
	}
	r.tracker.logger.Log(ctx, level, "run finished",
		slog.String("run_id", r.ID),
		slog.String("kind", string(r.Kind)),
		slog.String("status", string(status)),
		slog.Int("successes", r.successes),
		slog.Int("failures", r.failures),
		slog.Int("errors", len(r.errors)),
		slog.Duration("duration", ended.Sub(r.StartedAt)))
	return status, nil
}

// terminalStatus applies the run status rule.
func terminalStatus(successes, failures int) Status {
	switch {
	case failures == 0:
		return StatusSucceeded
	case successes > 0:
		return StatusPartial
	default:
		return StatusFailed
	}
}
