// Package threadstore implements the thread registry (spec §3.5, §4.5):
// durable thread records, legal status transitions, and continuation-chain
// lookups, backed by the shared embedded store.
package threadstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/ryehost/rye/internal/capability"
	"github.com/ryehost/rye/internal/hosterr"
	"github.com/ryehost/rye/internal/store"
)

// Status is a thread's lifecycle state (spec §3.5).
type Status string

const (
	StatusCreated   Status = "created"
	StatusRunning   Status = "running"
	StatusSuspended Status = "suspended"
	StatusContinued Status = "continued"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// legalTransitions enumerates the status graph (spec §3.5): keys are the
// current status, values the set of statuses it may move to.
var legalTransitions = map[Status]map[Status]bool{
	StatusCreated: {StatusRunning: true, StatusError: true, StatusCancelled: true},
	StatusRunning: {
		StatusSuspended: true, StatusContinued: true, StatusCompleted: true,
		StatusError: true, StatusCancelled: true,
	},
	StatusSuspended: {StatusRunning: true, StatusCancelled: true},
}

// sqliteTimeLayout matches the format sqlite's datetime('now') emits.
const sqliteTimeLayout = "2006-01-02 15:04:05"

func isTerminal(s Status) bool {
	switch s {
	case StatusCompleted, StatusError, StatusCancelled, StatusContinued:
		return true
	default:
		return false
	}
}

// Thread is a registry record.
type Thread struct {
	ID             string
	ParentID       string
	Status         Status
	Capabilities   capability.Set
	MaxSpend       int64
	ContinuationOf string // non-empty when this thread resumes another
	Result         json.RawMessage
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Store wraps the shared database for thread registry operations.
type Store struct {
	db *store.DB
}

// New constructs a Store over db.
func New(db *store.DB) *Store { return &Store{db: db} }

// Register inserts a new thread row in StatusCreated.
func (s *Store) Register(ctx context.Context, t Thread) error {
	caps, err := json.Marshal(t.Capabilities)
	if err != nil {
		return hosterr.Wrap(hosterr.ValidationError, err, "encoding capabilities for %q", t.ID)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO threads (id, parent_id, status, capabilities, max_spend, reserved_spend, actual_spend,
			continuation_of, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 0, 0, ?, datetime('now'), datetime('now'))`,
		t.ID, nullable(t.ParentID), string(StatusCreated), string(caps), t.MaxSpend, nullable(t.ContinuationOf))
	if err != nil {
		return hosterr.Wrap(hosterr.ValidationError, err, "registering thread %q", t.ID)
	}
	return nil
}

// SetStatus transitions threadID to next, rejecting illegal transitions
// (spec §3.5).
func (s *Store) SetStatus(ctx context.Context, threadID string, next Status) error {
	return s.db.WithImmediateTx(ctx, func(conn *sql.Conn) error {
		row := conn.QueryRowContext(ctx, "SELECT status FROM threads WHERE id = ?", threadID)
		var cur string
		if err := row.Scan(&cur); err != nil {
			if err == sql.ErrNoRows {
				return hosterr.New(hosterr.NotFound, "no thread %q", threadID)
			}
			return hosterr.Wrap(hosterr.ValidationError, err, "reading thread %q", threadID)
		}
		current := Status(cur)
		if isTerminal(current) {
			return hosterr.New(hosterr.ValidationError, "thread %q is already terminal (%s)", threadID, current)
		}
		if !legalTransitions[current][next] {
			return hosterr.New(hosterr.ValidationError, "thread %q cannot move %s -> %s", threadID, current, next)
		}
		_, err := conn.ExecContext(ctx,
			"UPDATE threads SET status = ?, updated_at = datetime('now') WHERE id = ?", string(next), threadID)
		if err != nil {
			return hosterr.Wrap(hosterr.ValidationError, err, "updating status for %q", threadID)
		}
		return nil
	})
}

// SetResult stamps a terminal result payload on threadID.
func (s *Store) SetResult(ctx context.Context, threadID string, result json.RawMessage) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE threads SET result = ?, updated_at = datetime('now') WHERE id = ?", string(result), threadID)
	if err != nil {
		return hosterr.Wrap(hosterr.ValidationError, err, "setting result for %q", threadID)
	}
	return nil
}

// SetContinuation links threadID as the continuation of predecessorID and
// moves predecessorID to StatusContinued (spec §4.6 continuation handoff).
func (s *Store) SetContinuation(ctx context.Context, predecessorID, threadID string) error {
	return s.db.WithImmediateTx(ctx, func(conn *sql.Conn) error {
		if _, err := conn.ExecContext(ctx,
			"UPDATE threads SET continuation_of = ?, updated_at = datetime('now') WHERE id = ?",
			predecessorID, threadID); err != nil {
			return hosterr.Wrap(hosterr.ValidationError, err, "linking continuation %q -> %q", predecessorID, threadID)
		}
		if _, err := conn.ExecContext(ctx,
			"UPDATE threads SET status = ?, updated_at = datetime('now') WHERE id = ? AND status != ?",
			string(StatusContinued), predecessorID, string(StatusContinued)); err != nil {
			return hosterr.Wrap(hosterr.ValidationError, err, "marking %q continued", predecessorID)
		}
		return nil
	})
}

// Get returns threadID's current record.
func (s *Store) Get(ctx context.Context, threadID string) (Thread, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, COALESCE(parent_id,''), status, capabilities, max_spend, COALESCE(continuation_of,''),
			COALESCE(result,''), created_at, updated_at
		 FROM threads WHERE id = ?`, threadID)
	return scanThread(row)
}

func scanThread(row *sql.Row) (Thread, error) {
	var t Thread
	var status, caps, result, createdAt, updatedAt string
	if err := row.Scan(&t.ID, &t.ParentID, &status, &caps, &t.MaxSpend, &t.ContinuationOf,
		&result, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return Thread{}, hosterr.New(hosterr.NotFound, "thread not found")
		}
		return Thread{}, hosterr.Wrap(hosterr.ValidationError, err, "scanning thread row")
	}
	t.Status = Status(status)
	if caps != "" {
		_ = json.Unmarshal([]byte(caps), &t.Capabilities)
	}
	if result != "" {
		t.Result = json.RawMessage(result)
	}
	t.CreatedAt, _ = time.Parse(sqliteTimeLayout, createdAt)
	t.UpdatedAt, _ = time.Parse(sqliteTimeLayout, updatedAt)
	return t, nil
}

// GetChain walks continuation_of links backward from threadID to the
// original root thread, then returns the full chain in chronological
// (oldest-first) order. Cycle-safe via a visited set (spec §4.6).
func (s *Store) GetChain(ctx context.Context, threadID string) ([]Thread, error) {
	var chain []Thread
	visited := make(map[string]bool)
	cur := threadID
	for cur != "" {
		if visited[cur] {
			return nil, hosterr.New(hosterr.ValidationError, "continuation chain for %q contains a cycle", threadID)
		}
		visited[cur] = true
		t, err := s.Get(ctx, cur)
		if err != nil {
			return nil, err
		}
		chain = append(chain, t)
		cur = t.ContinuationOf
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// ListActive returns every thread not yet in a terminal status.
func (s *Store) ListActive(ctx context.Context) ([]Thread, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, COALESCE(parent_id,''), status, capabilities, max_spend, COALESCE(continuation_of,''),
			COALESCE(result,''), created_at, updated_at
		 FROM threads WHERE status IN (?, ?, ?)`,
		string(StatusCreated), string(StatusRunning), string(StatusSuspended))
	if err != nil {
		return nil, hosterr.Wrap(hosterr.ValidationError, err, "listing active threads")
	}
	defer rows.Close()

	var out []Thread
	for rows.Next() {
		var t Thread
		var status, caps, result, createdAt, updatedAt string
		if err := rows.Scan(&t.ID, &t.ParentID, &status, &caps, &t.MaxSpend, &t.ContinuationOf,
			&result, &createdAt, &updatedAt); err != nil {
			return nil, hosterr.Wrap(hosterr.ValidationError, err, "scanning thread row")
		}
		t.Status = Status(status)
		if caps != "" {
			_ = json.Unmarshal([]byte(caps), &t.Capabilities)
		}
		if result != "" {
			t.Result = json.RawMessage(result)
		}
		t.CreatedAt, _ = time.Parse(sqliteTimeLayout, createdAt)
		t.UpdatedAt, _ = time.Parse(sqliteTimeLayout, updatedAt)
		out = append(out, t)
	}
	return out, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
