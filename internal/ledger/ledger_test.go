package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ryehost/rye/internal/capability"
	"github.com/ryehost/rye/internal/ledger"
	"github.com/ryehost/rye/internal/store"
	"github.com/ryehost/rye/internal/threadstore"
)

func newTestStore(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(context.Background(), "")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestReserveEnforcesParentBudget(t *testing.T) {
	ctx := context.Background()
	db := newTestStore(t)
	threads := threadstore.New(db)
	l := ledger.New(db)

	require.NoError(t, threads.Register(ctx, threadstore.Thread{ID: "root", MaxSpend: 100, Capabilities: capability.Set{"*"}}))
	require.NoError(t, threads.Register(ctx, threadstore.Thread{ID: "child-1", ParentID: "root", MaxSpend: 0}))
	require.NoError(t, threads.Register(ctx, threadstore.Thread{ID: "child-2", ParentID: "root", MaxSpend: 0}))

	require.NoError(t, l.Reserve(ctx, "root", "child-1", 60))

	err := l.Reserve(ctx, "root", "child-2", 60)
	require.Error(t, err)

	require.NoError(t, l.Reserve(ctx, "root", "child-2", 40))

	root, err := l.Get(ctx, "root")
	require.NoError(t, err)
	require.Equal(t, int64(0), root.Remaining())
}

func TestRecordSpendRejectsOverBudget(t *testing.T) {
	ctx := context.Background()
	db := newTestStore(t)
	threads := threadstore.New(db)
	l := ledger.New(db)

	require.NoError(t, threads.Register(ctx, threadstore.Thread{ID: "t1", MaxSpend: 10}))
	require.NoError(t, l.RecordSpend(ctx, "t1", 7))
	require.Error(t, l.RecordSpend(ctx, "t1", 7))
	require.NoError(t, l.RecordSpend(ctx, "t1", 3))

	e, err := l.Get(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, int64(10), e.ActualSpend)
}

func TestReleaseGivesBackReservation(t *testing.T) {
	ctx := context.Background()
	db := newTestStore(t)
	threads := threadstore.New(db)
	l := ledger.New(db)

	require.NoError(t, threads.Register(ctx, threadstore.Thread{ID: "root", MaxSpend: 50}))
	require.NoError(t, threads.Register(ctx, threadstore.Thread{ID: "child", ParentID: "root"}))
	require.NoError(t, l.Reserve(ctx, "root", "child", 50))
	require.NoError(t, l.Release(ctx, "root", 50))

	root, err := l.Get(ctx, "root")
	require.NoError(t, err)
	require.Equal(t, int64(50), root.Remaining())
}
