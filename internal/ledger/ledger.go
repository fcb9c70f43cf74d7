// Package ledger implements the budget ledger (spec §4.5, §8 property
// "budget invariant"): every thread's spend is tracked against a max, with
// child threads reserving against their parent's remaining budget such that
// actual_spend + sum(children.reserved_spend) <= max_spend always holds.
package ledger

import (
	"context"
	"database/sql"

	"github.com/ryehost/rye/internal/hosterr"
	"github.com/ryehost/rye/internal/store"
)

// Entry mirrors one thread's ledger row.
type Entry struct {
	ThreadID      string
	ParentID      string // "" for root threads
	MaxSpend      int64
	ReservedSpend int64
	ActualSpend   int64
}

// Remaining is the budget still available to reserve against: max minus
// whatever this thread has already spent or already reserved for children.
func (e Entry) Remaining() int64 {
	return e.MaxSpend - e.ActualSpend - e.ReservedSpend
}

// Ledger mutates budget rows transactionally against the shared store.
type Ledger struct {
	db *store.DB
}

// New constructs a Ledger over db.
func New(db *store.DB) *Ledger { return &Ledger{db: db} }

// Reserve attempts to reserve childSpend of budget for a new child thread
// under parentID, failing with hosterr.BudgetReservation if the parent's
// remaining budget cannot cover it (spec §8 budget invariant). On success
// it both increments the parent's reserved_spend and sets max_spend =
// childSpend on the child's existing ledger row (the child is registered
// before Reserve is called; no row is inserted here).
func (l *Ledger) Reserve(ctx context.Context, parentID, childID string, childSpend int64) error {
	return l.db.WithImmediateTx(ctx, func(conn *sql.Conn) error {
		parent, err := getForUpdate(ctx, conn, parentID)
		if err != nil {
			return err
		}
		if parent.Remaining() < childSpend {
			return hosterr.New(hosterr.BudgetReservation,
				"thread %q has %d remaining but child %q requests %d", parentID, parent.Remaining(), childID, childSpend)
		}
		if _, err := conn.ExecContext(ctx,
			"UPDATE threads SET reserved_spend = reserved_spend + ?, updated_at = datetime('now') WHERE id = ?",
			childSpend, parentID); err != nil {
			return hosterr.Wrap(hosterr.ValidationError, err, "reserving budget for %q", parentID)
		}
		if _, err := conn.ExecContext(ctx,
			`UPDATE threads SET max_spend = ?, updated_at = datetime('now') WHERE id = ?`,
			childSpend, childID); err != nil {
			return hosterr.Wrap(hosterr.ValidationError, err, "setting max_spend for %q", childID)
		}
		return nil
	})
}

// Release gives back reservedSpend of a completed/killed child's reservation
// from its parent's ledger row (spec §4.5: unreserve on terminal status).
func (l *Ledger) Release(ctx context.Context, parentID string, reservedSpend int64) error {
	if reservedSpend == 0 {
		return nil
	}
	return l.db.WithImmediateTx(ctx, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx,
			"UPDATE threads SET reserved_spend = MAX(0, reserved_spend - ?), updated_at = datetime('now') WHERE id = ?",
			reservedSpend, parentID)
		if err != nil {
			return hosterr.Wrap(hosterr.ValidationError, err, "releasing reservation for %q", parentID)
		}
		return nil
	})
}

// RecordSpend adds amount to a thread's actual_spend, and rejects the charge
// if actual_spend plus the thread's outstanding child reservations would then
// exceed max_spend (spec §8 invariant). The reservation the thread's own
// parent holds for it is left unchanged.
func (l *Ledger) RecordSpend(ctx context.Context, threadID string, amount int64) error {
	return l.db.WithImmediateTx(ctx, func(conn *sql.Conn) error {
		e, err := getForUpdate(ctx, conn, threadID)
		if err != nil {
			return err
		}
		if e.ActualSpend+e.ReservedSpend+amount > e.MaxSpend {
			return hosterr.New(hosterr.BudgetReservation,
				"thread %q spend %d plus reserved %d would exceed max_spend %d",
				threadID, e.ActualSpend+amount, e.ReservedSpend, e.MaxSpend)
		}
		if _, err := conn.ExecContext(ctx,
			"UPDATE threads SET actual_spend = actual_spend + ?, updated_at = datetime('now') WHERE id = ?",
			amount, threadID); err != nil {
			return hosterr.Wrap(hosterr.ValidationError, err, "recording spend for %q", threadID)
		}
		return nil
	})
}

// Get returns the current ledger entry for threadID.
func (l *Ledger) Get(ctx context.Context, threadID string) (Entry, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return Entry{}, hosterr.Wrap(hosterr.ValidationError, err, "acquiring connection")
	}
	defer conn.Close()
	return getForUpdate(ctx, conn, threadID)
}

func getForUpdate(ctx context.Context, conn *sql.Conn, threadID string) (Entry, error) {
	row := conn.QueryRowContext(ctx,
		"SELECT id, COALESCE(parent_id, ''), max_spend, reserved_spend, actual_spend FROM threads WHERE id = ?", threadID)
	var e Entry
	if err := row.Scan(&e.ThreadID, &e.ParentID, &e.MaxSpend, &e.ReservedSpend, &e.ActualSpend); err != nil {
		if err == sql.ErrNoRows {
			return Entry{}, hosterr.New(hosterr.NotFound, "no ledger entry for thread %q", threadID)
		}
		return Entry{}, hosterr.Wrap(hosterr.ValidationError, err, "reading ledger entry for %q", threadID)
	}
	return e, nil
}
