package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"chainrig/internal/chain"
	"chainrig/internal/controller"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func openTemp(t *testing.T, opts ...Option) *Journal {
	t.Helper()
	j, err := Open(context.Background(), filepath.Join(t.TempDir(), "db", "journal.db"), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestRecordAndRecent(t *testing.T) {
	j := openTemp(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

	require.NoError(t, j.Record(ctx, Entry{At: base, Outcome: "switched", Current: "A"}))
	require.NoError(t, j.Record(ctx, Entry{At: base.Add(time.Second), Outcome: "switched", Previous: "A", Current: "B"}))
	require.NoError(t, j.Record(ctx, Entry{At: base.Add(2 * time.Second), Outcome: "nothing_to_switch", Previous: "B", Current: "B"}))

	got, err := j.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "nothing_to_switch", got[0].Outcome)
	assert.Equal(t, "A", got[1].Previous)
	assert.Equal(t, "B", got[1].Current)
	assert.True(t, got[1].At.Equal(base.Add(time.Second)))

	n, err := j.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestObserveFromController(t *testing.T) {
	at := time.Date(2026, 3, 1, 21, 0, 0, 0, time.UTC)
	j := openTemp(t, WithNow(func() time.Time { return at }), WithLogger(zap.NewNop()))

	reg := chain.NewRegistry(nil, zap.NewNop())
	a := reg.Create("A", 2)
	ctrl := controller.New(controller.WithObserver(j.Observe))

	ctrl.SwitchNow()
	ctrl.SetNext(a)
	ctrl.SwitchNow()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- j.Run(ctx) }()
	cancel()
	require.NoError(t, <-done)

	got, err := j.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, Entry{ID: got[0].ID, At: got[0].At, Outcome: "switched", Current: "A"}, got[0])
	assert.Equal(t, "nothing_to_switch", got[1].Outcome)
	assert.True(t, got[0].At.Equal(at))
}

func TestObserveDropsWhenFull(t *testing.T) {
	j := openTemp(t)
	for i := 0; i < queueSize+3; i++ {
		j.Observe(controller.Result{Outcome: controller.NothingToSwitch})
	}
	assert.EqualValues(t, 3, j.Dropped())

	j.Flush()
	n, err := j.Count(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, queueSize, n)
}

func TestReopenKeepsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	ctx := context.Background()

	j, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, j.Record(ctx, Entry{At: time.Now(), Outcome: "switched", Current: "A"}))
	require.NoError(t, j.Close())

	j, err = Open(ctx, path)
	require.NoError(t, err)
	defer j.Close()
	assert.Equal(t, path, j.Path())

	got, err := j.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "A", got[0].Current)
}
