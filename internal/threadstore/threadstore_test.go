package threadstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ryehost/rye/internal/hosterr"
	"github.com/ryehost/rye/internal/store"
	"github.com/ryehost/rye/internal/threadstore"
)

func open(t *testing.T) *threadstore.Store {
	t.Helper()
	db, err := store.Open(context.Background(), "")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return threadstore.New(db)
}

func TestRegisterAndGetRoundTrips(t *testing.T) {
	ctx := context.Background()
	s := open(t)
	require.NoError(t, s.Register(ctx, threadstore.Thread{ID: "a", MaxSpend: 50}))

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, threadstore.StatusCreated, got.Status)
	require.EqualValues(t, 50, got.MaxSpend)
}

func TestSetStatusRejectsIllegalTransition(t *testing.T) {
	ctx := context.Background()
	s := open(t)
	require.NoError(t, s.Register(ctx, threadstore.Thread{ID: "a"}))

	// created -> completed is not a legal direct transition.
	err := s.SetStatus(ctx, "a", threadstore.StatusCompleted)
	require.Error(t, err)
	require.Equal(t, hosterr.ValidationError, hosterr.KindOf(err))
}

func TestSetStatusRejectsLeavingTerminal(t *testing.T) {
	ctx := context.Background()
	s := open(t)
	require.NoError(t, s.Register(ctx, threadstore.Thread{ID: "a"}))
	require.NoError(t, s.SetStatus(ctx, "a", threadstore.StatusRunning))
	require.NoError(t, s.SetStatus(ctx, "a", threadstore.StatusCompleted))

	err := s.SetStatus(ctx, "a", threadstore.StatusRunning)
	require.Error(t, err)
}

func TestGetChainOrdersOldestFirst(t *testing.T) {
	ctx := context.Background()
	s := open(t)
	require.NoError(t, s.Register(ctx, threadstore.Thread{ID: "a"}))
	require.NoError(t, s.Register(ctx, threadstore.Thread{ID: "b"}))
	require.NoError(t, s.Register(ctx, threadstore.Thread{ID: "c"}))
	require.NoError(t, s.SetContinuation(ctx, "a", "b"))
	require.NoError(t, s.SetContinuation(ctx, "b", "c"))

	chain, err := s.GetChain(ctx, "c")
	require.NoError(t, err)
	require.Len(t, chain, 3)
	require.Equal(t, []string{"a", "b", "c"}, []string{chain[0].ID, chain[1].ID, chain[2].ID})
}

func TestListActiveExcludesTerminalThreads(t *testing.T) {
	ctx := context.Background()
	s := open(t)
	require.NoError(t, s.Register(ctx, threadstore.Thread{ID: "a"}))
	require.NoError(t, s.Register(ctx, threadstore.Thread{ID: "b"}))
	require.NoError(t, s.SetStatus(ctx, "b", threadstore.StatusRunning))
	require.NoError(t, s.SetStatus(ctx, "b", threadstore.StatusCompleted))

	active, err := s.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "a", active[0].ID)
}
