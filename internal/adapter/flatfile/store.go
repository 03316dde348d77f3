// Package flatfile implements the instance store port with row-oriented CSV
// persistence. The whole table is read and rewritten on every operation,
// serialized by a process-wide mutex; OS-level lock contention from external
// programs is retried with exponential backoff.
package flatfile

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/effortlog/effortlog/internal/domain"
	"github.com/effortlog/effortlog/internal/domain/instance"
	"github.com/effortlog/effortlog/internal/lifecycle"
)

// columns is the canonical on-disk schema. Older files may carry a prefix of
// it; missing columns are back-filled with zero values on load and the full
// header is written back on the next save.
var columns = []string{
	"id", "task_id", "task_name", "task_version", "owner_user_id",
	"status", "is_completed", "is_deleted",
	"created_at", "initialized_at", "started_at", "completed_at", "cancelled_at",
	"predicted", "actual",
	"duration_minutes", "delay_minutes",
	"procrastination_score", "proactive_score",
	"net_relief", "serendipity_factor", "disappointment_factor", "behavioral_score",
}

// Store implements store.Store on a single CSV file.
type Store struct {
	path        string
	engine      *lifecycle.Engine
	log         *slog.Logger
	maxAttempts uint64
	baseDelay   time.Duration

	mu sync.Mutex // serializes every read-modify-write of the file
}

// Option configures a Store.
type Option func(*Store)

// WithRetry overrides the retry budget for transient file errors.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(s *Store) {
		s.maxAttempts = uint64(maxAttempts)
		s.baseDelay = baseDelay
	}
}

// WithEngine overrides the lifecycle engine (used by tests to inject a clock).
func WithEngine(e *lifecycle.Engine) Option {
	return func(s *Store) { s.engine = e }
}

// New creates a flat-file store writing to path.
func New(path string, log *slog.Logger, opts ...Option) *Store {
	s := &Store{
		path:        path,
		engine:      lifecycle.New(),
		log:         log,
		maxAttempts: 5,
		baseDelay:   100 * time.Millisecond,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// --- Table I/O ---

// load reads the whole table. On exhausted retries it surfaces
// backend-unavailable: mutating callers must abort rather than rewrite the
// file from a base they could not read.
func (s *Store) load(ctx context.Context) ([]instance.Instance, error) {
	var rows []instance.Instance
	err := s.withBackoff(ctx, func() error {
		var err error
		rows, err = s.readAll()
		return err
	})
	if err != nil {
		s.log.Error("flatfile read failed after retries", "path", s.path, "error", err)
		return nil, fmt.Errorf("flatfile load: %w: %w", domain.ErrBackendUnavailable, err)
	}
	return rows, nil
}

// loadForRead is the query-path variant: an unreadable table degrades to an
// empty one so reads keep serving instead of crashing the caller.
func (s *Store) loadForRead(ctx context.Context) []instance.Instance {
	rows, err := s.load(ctx)
	if err != nil {
		s.log.Warn("flatfile unreadable, serving empty table", "path", s.path)
		return nil
	}
	return rows
}

// save rewrites the whole table atomically (temp file + rename).
func (s *Store) save(ctx context.Context, rows []instance.Instance) error {
	err := s.withBackoff(ctx, func() error {
		return s.writeAll(rows)
	})
	if err != nil {
		s.log.Error("flatfile write failed after retries", "path", s.path, "error", err)
		return fmt.Errorf("flatfile save: %w: %w", domain.ErrBackendUnavailable, err)
	}
	return nil
}

func (s *Store) withBackoff(ctx context.Context, op func() error) error {
	b := retry.WithMaxRetries(s.maxAttempts, retry.NewExponential(s.baseDelay))
	return retry.Do(ctx, b, func(_ context.Context) error {
		if err := op(); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}

func (s *Store) readAll() ([]instance.Instance, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1 // rows written by older schemas are shorter
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	// Resolve each canonical column against the on-disk header so files
	// written before a column existed still load (schema back-fill).
	idx := make(map[string]int, len(records[0]))
	for i, name := range records[0] {
		idx[name] = i
	}

	rows := make([]instance.Instance, 0, len(records)-1)
	for _, rec := range records[1:] {
		inst, err := decodeRow(rec, idx)
		if err != nil {
			return nil, err
		}
		rows = append(rows, *inst)
	}
	return rows, nil
}

func (s *Store) writeAll(rows []instance.Instance) error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".instances-*.csv")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	w := csv.NewWriter(tmp)
	if err := w.Write(columns); err != nil {
		_ = tmp.Close()
		return err
	}
	for i := range rows {
		rec, err := encodeRow(&rows[i])
		if err != nil {
			_ = tmp.Close()
			return err
		}
		if err := w.Write(rec); err != nil {
			_ = tmp.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), s.path)
}

// --- Row codec ---

func encodeRow(inst *instance.Instance) ([]string, error) {
	predicted, err := json.Marshal(inst.Predicted)
	if err != nil {
		return nil, fmt.Errorf("marshal predicted: %w", err)
	}
	actual, err := json.Marshal(inst.Actual)
	if err != nil {
		return nil, fmt.Errorf("marshal actual: %w", err)
	}
	return []string{
		inst.ID, inst.TaskID, inst.TaskName, inst.TaskVersion, inst.OwnerUserID,
		string(inst.Status), strconv.FormatBool(inst.IsCompleted), strconv.FormatBool(inst.IsDeleted),
		fmtTime(&inst.CreatedAt), fmtTime(inst.InitializedAt), fmtTime(inst.StartedAt),
		fmtTime(inst.CompletedAt), fmtTime(inst.CancelledAt),
		string(predicted), string(actual),
		fmtFloat(inst.DurationMinutes), fmtFloat(inst.DelayMinutes),
		fmtFloat(inst.ProcrastinationScore), fmtFloat(inst.ProactiveScore),
		fmtFloat(inst.NetRelief), fmtFloat(inst.SerendipityFactor),
		fmtFloat(inst.DisappointmentFactor), fmtFloat(inst.BehavioralScore),
	}, nil
}

func decodeRow(rec []string, idx map[string]int) (*instance.Instance, error) {
	field := func(name string) string {
		i, ok := idx[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return rec[i]
	}

	inst := &instance.Instance{
		ID:          field("id"),
		TaskID:      field("task_id"),
		TaskName:    field("task_name"),
		TaskVersion: field("task_version"),
		OwnerUserID: field("owner_user_id"),
		Status:      instance.Status(field("status")),
		IsCompleted: field("is_completed") == "true",
		IsDeleted:   field("is_deleted") == "true",
	}
	if inst.Status == "" {
		inst.Status = instance.StatusActive
	}

	var err error
	if inst.CreatedAt, err = parseTimeVal(field("created_at")); err != nil {
		return nil, fmt.Errorf("row %s: created_at: %w", inst.ID, err)
	}
	if inst.InitializedAt, err = parseTimePtr(field("initialized_at")); err != nil {
		return nil, fmt.Errorf("row %s: initialized_at: %w", inst.ID, err)
	}
	if inst.StartedAt, err = parseTimePtr(field("started_at")); err != nil {
		return nil, fmt.Errorf("row %s: started_at: %w", inst.ID, err)
	}
	if inst.CompletedAt, err = parseTimePtr(field("completed_at")); err != nil {
		return nil, fmt.Errorf("row %s: completed_at: %w", inst.ID, err)
	}
	if inst.CancelledAt, err = parseTimePtr(field("cancelled_at")); err != nil {
		return nil, fmt.Errorf("row %s: cancelled_at: %w", inst.ID, err)
	}

	if raw := field("predicted"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &inst.Predicted); err != nil {
			return nil, fmt.Errorf("row %s: predicted: %w", inst.ID, err)
		}
	}
	if raw := field("actual"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &inst.Actual); err != nil {
			return nil, fmt.Errorf("row %s: actual: %w", inst.ID, err)
		}
	}

	for name, dst := range map[string]**float64{
		"duration_minutes":      &inst.DurationMinutes,
		"delay_minutes":         &inst.DelayMinutes,
		"procrastination_score": &inst.ProcrastinationScore,
		"proactive_score":       &inst.ProactiveScore,
		"net_relief":            &inst.NetRelief,
		"serendipity_factor":    &inst.SerendipityFactor,
		"disappointment_factor": &inst.DisappointmentFactor,
		"behavioral_score":      &inst.BehavioralScore,
	} {
		v, err := parseFloatPtr(field(name))
		if err != nil {
			return nil, fmt.Errorf("row %s: %s: %w", inst.ID, name, err)
		}
		*dst = v
	}
	return inst, nil
}

func fmtTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTimeVal(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

func parseTimePtr(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func fmtFloat(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

func parseFloatPtr(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
