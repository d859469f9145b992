package preset

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"chainrig/internal/chain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const setA = `chains:
  - name: A
    slots: [saw, gain, left, thru, thru, thru]
  - name: " B "
    slots: [square, quiet]
`

func write(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
}

func roles(c *chain.Chain) []string {
	var out []string
	for _, r := range c.Roles() {
		out = append(out, string(r))
	}
	return out
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "set.yaml")
	write(t, path, setA)

	ps, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, ps, 2)
	assert.Equal(t, "A", ps[0].Name)
	assert.Equal(t, "B", ps[1].Name, "names are trimmed")
	assert.Equal(t, []string{"square", "quiet"}, ps[1].Slots)
	assert.Equal(t, path, ps[0].Source)
}

func TestLoadFile_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	write(t, bad, "chains: {")
	_, err = LoadFile(bad)
	assert.Error(t, err)

	unnamed := filepath.Join(dir, "unnamed.yaml")
	write(t, unnamed, "chains:\n  - slots: [sine]\n")
	_, err = LoadFile(unnamed)
	assert.ErrorIs(t, err, ErrUnnamedChain)
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "b.yml"), "chains:\n  - name: Second\n")
	write(t, filepath.Join(dir, "a.yaml"), "chains:\n  - name: First\n")
	write(t, filepath.Join(dir, "notes.txt"), "ignored")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.yaml"), 0755))

	ps, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, ps, 2)
	assert.Equal(t, "First", ps[0].Name)
	assert.Equal(t, "Second", ps[1].Name)

	ps, err = LoadDir(filepath.Join(dir, "absent"))
	assert.NoError(t, err)
	assert.Empty(t, ps)
}

func TestApply(t *testing.T) {
	reg := chain.NewRegistry(nil, zap.NewNop())
	existing := reg.Create("A", 3)

	res := Apply(reg, []Preset{
		{Name: "A", Slots: []string{"saw", "gain", "left", "bogus"}},
		{Name: "B", Slots: []string{"reverb", "mono"}},
		{Name: "C"},
	}, nil)

	require.NoError(t, res.Err())
	assert.Equal(t, []string{"B", "C"}, res.Created)
	assert.Equal(t, []string{"A"}, res.Updated)

	a, ok := reg.Resolve("A")
	require.True(t, ok)
	assert.Same(t, existing, a, "existing chains are updated in place")
	assert.Equal(t, []string{"saw", "gain", "left", "thru"}, roles(a))

	b, _ := reg.Resolve("B")
	assert.Equal(t, []string{"sine", "mono"}, roles(b), "unknown roles coerce")

	c, _ := reg.Resolve("C")
	assert.Equal(t, chain.MinSlots, c.Len())
}

func TestSaveAndCapture(t *testing.T) {
	reg := chain.NewRegistry(nil, zap.NewNop())
	Apply(reg, []Preset{{Name: "A", Slots: []string{"triangle", "swap"}}}, nil)

	path := filepath.Join(t.TempDir(), "out", "captured.yaml")
	require.NoError(t, Save(path, Capture(reg)))

	ps, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, []string{"triangle", "swap"}, ps[0].Slots)
}

func TestWatcher_ReloadsChangedFiles(t *testing.T) {
	dir := t.TempDir()
	reg := chain.NewRegistry(nil, zap.NewNop())

	var mu sync.Mutex
	var applied []Result
	w := NewWatcher(dir, reg,
		WithDebounce(20*time.Millisecond),
		WithApplyHook(func(r Result) {
			mu.Lock()
			applied = append(applied, r)
			mu.Unlock()
		}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	require.NoError(t, w.Start(ctx), "second Start is a no-op")
	assert.True(t, w.IsWatching())

	write(t, filepath.Join(dir, "live.yaml"), setA)
	write(t, filepath.Join(dir, "ignored.txt"), "x")

	require.Eventually(t, func() bool {
		_, okA := reg.Resolve("A")
		_, okB := reg.Resolve("B")
		return okA && okB
	}, 2*time.Second, 10*time.Millisecond)

	w.Stop()
	w.Stop()
	assert.False(t, w.IsWatching())

	stats := w.GetStats()
	assert.GreaterOrEqual(t, stats.Reloads, 1)
	assert.Equal(t, filepath.Join(dir, "live.yaml"), stats.LastEventPath)
	mu.Lock()
	assert.NotEmpty(t, applied)
	mu.Unlock()
}

func TestWatcher_RunStopsWithContext(t *testing.T) {
	dir := t.TempDir()
	write(t, filepath.Join(dir, "set.yaml"), setA)
	reg := chain.NewRegistry(nil, zap.NewNop())
	w := NewWatcher(dir, reg)

	res, err := w.Reload()
	require.NoError(t, err)
	assert.Len(t, res.Created, 2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	require.Eventually(t, w.IsWatching, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.False(t, w.IsWatching())
}
