package router

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"chainrig/internal/chain"
	"chainrig/internal/clock"
	"chainrig/internal/controller"
	"chainrig/internal/scheduler"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// fakeBus is an in-memory listener table that rejects duplicate keys.
type fakeBus struct {
	mu        sync.Mutex
	seq       uint64
	listeners map[string]fakeEntry
	failOn    string
}

type fakeEntry struct {
	h  Handle
	fn Listener
}

func newFakeBus() *fakeBus {
	return &fakeBus{listeners: make(map[string]fakeEntry)}
}

func (b *fakeBus) Install(address, key string, fn Listener) (Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failOn != "" && strings.HasSuffix(address, b.failOn) {
		return Handle{}, errors.New("bus refused")
	}
	if _, ok := b.listeners[key]; ok {
		return Handle{}, fmt.Errorf("duplicate key %s", key)
	}
	b.seq++
	h := Handle{ID: b.seq, Address: address, Key: key}
	b.listeners[key] = fakeEntry{h: h, fn: fn}
	return h, nil
}

func (b *fakeBus) Uninstall(h Handle) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.listeners[h.Key]
	if !ok || e.h.ID != h.ID {
		return false
	}
	delete(b.listeners, h.Key)
	return true
}

func (b *fakeBus) countAt(address string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.listeners {
		if e.h.Address == address {
			n++
		}
	}
	return n
}

func (b *fakeBus) total() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}

func (b *fakeBus) send(address string, args ...any) int {
	b.mu.Lock()
	var fns []Listener
	for _, e := range b.listeners {
		if e.h.Address == address {
			fns = append(fns, e.fn)
		}
	}
	b.mu.Unlock()
	for _, fn := range fns {
		fn(Message{Address: address, Args: args})
	}
	return len(fns)
}

type rig struct {
	bus   *fakeBus
	reg   *chain.Registry
	ctrl  *controller.Controller
	wall  *clock.Manual
	sched *scheduler.Scheduler
}

func newRig() *rig {
	wall := clock.NewManual(time.Date(2024, 1, 1, 22, 0, 0, 0, time.UTC))
	ctrl := controller.New()
	return &rig{
		bus:   newFakeBus(),
		reg:   chain.NewRegistry(nil, zap.NewNop()),
		ctrl:  ctrl,
		wall:  wall,
		sched: scheduler.New(ctrl, wall, scheduler.WithBeatClock(clock.NewTempo(wall, 120))),
	}
}

func (rg *rig) router(t *testing.T, opts ...Option) *Router {
	t.Helper()
	base := []Option{WithController(rg.ctrl), WithResolver(rg.reg), WithScheduler(rg.sched)}
	r, err := New("live", rg.bus, append(base, opts...)...)
	require.NoError(t, err)
	return r
}

func TestNew_InstallsOneListenerPerRoute(t *testing.T) {
	rg := newRig()
	r := rg.router(t)

	assert.Equal(t, len(Kinds()), r.Installed())
	assert.Equal(t, len(Kinds()), rg.bus.total())
	for _, k := range Kinds() {
		assert.Equal(t, 1, rg.bus.countAt("/live/"+k.String()), k.String())
	}
	assert.Equal(t, "/live/setNext", r.Address(KindSetNext))
	assert.Equal(t, "live."+r.ID()+".setNext", r.Key(KindSetNext))
}

func TestNew_Validation(t *testing.T) {
	_, err := New("live", nil)
	assert.Error(t, err)
	_, err = New(" / ", newFakeBus())
	assert.Error(t, err)

	r, err := New("/live/", newFakeBus())
	require.NoError(t, err)
	assert.Equal(t, "live", r.Namespace())
}

func TestInstall_IsIdempotent(t *testing.T) {
	rg := newRig()
	r := rg.router(t)

	require.NoError(t, r.Install())
	require.NoError(t, r.Install())
	assert.Equal(t, len(Kinds()), rg.bus.total())
	assert.Equal(t, 1, rg.bus.countAt("/live/switchNow"))
}

func TestFree_RemovesOnlyOwnListeners(t *testing.T) {
	rg := newRig()
	first := rg.router(t)
	second := rg.router(t)
	require.NotEqual(t, first.ID(), second.ID())
	assert.Equal(t, 2*len(Kinds()), rg.bus.total())

	assert.Equal(t, len(Kinds()), first.Free())
	assert.Equal(t, len(Kinds()), rg.bus.total(), "the other router keeps its listeners")
	assert.Equal(t, 0, first.Free(), "second free removes nothing")
	assert.Equal(t, 0, first.Installed())

	assert.ErrorIs(t, first.Install(), ErrRouterFreed)
	assert.Equal(t, Inert, first.Dispatch(KindSwitchNow, nil))
}

func TestFreeAndReconstruct_NeverDuplicates(t *testing.T) {
	rg := newRig()
	r := rg.router(t)
	r.Free()
	rg.router(t)

	for _, k := range Kinds() {
		assert.Equal(t, 1, rg.bus.countAt("/live/"+k.String()), k.String())
	}
}

func TestInstall_BusError(t *testing.T) {
	bus := newFakeBus()
	bus.failOn = "/remove"
	_, err := New("live", bus)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/live/remove")
}

func TestSetNextFallback(t *testing.T) {
	rg := newRig()
	core, logs := observer.New(zapcore.WarnLevel)
	rg.router(t, WithLogger(zap.New(core)))

	rg.bus.send("/live/setNext", "X")
	assert.Equal(t, controller.Snapshot{}, rg.ctrl.Status(), "unknown name leaves next unchanged")
	assert.Equal(t, 1, logs.FilterMessage("chain not found").Len())

	rg.reg.Create("X", 2)
	rg.bus.send("/live/setNext", `\X`)
	assert.Equal(t, "X", rg.ctrl.Status().Next)
}

func TestSwitchNowFallback(t *testing.T) {
	rg := newRig()
	r := rg.router(t)
	rg.ctrl.SetNext(rg.reg.Create("A", 6))

	assert.Equal(t, FellBack, r.Dispatch(KindSwitchNow, nil))
	assert.Equal(t, controller.Snapshot{Current: "A"}, rg.ctrl.Status())
	assert.Equal(t, FellBack, r.Dispatch(KindSwitchNow, nil), "nothing staged is still handled")
}

func TestSwitchAfterFallback(t *testing.T) {
	rg := newRig()
	r := rg.router(t)
	rg.ctrl.SetNext(rg.reg.Create("B", 2))

	assert.Equal(t, FellBack, r.DispatchMessage(Message{Address: "/live/switchAfter", Args: []any{float32(2)}}))
	trig, ok := rg.sched.Pending()
	require.True(t, ok)
	assert.Equal(t, 2*time.Second, trig.Delay)

	rg.wall.Advance(2 * time.Second)
	assert.Equal(t, "B", rg.ctrl.Status().Current)
}

func TestSwitchOnBeatFallback(t *testing.T) {
	rg := newRig()
	r := rg.router(t)

	assert.Equal(t, FellBack, r.Dispatch(KindSwitchOnBeat, nil))
	trig, ok := rg.sched.Pending()
	require.True(t, ok)
	assert.Equal(t, 1.0, trig.Beat)

	assert.Equal(t, FellBack, r.Dispatch(KindSwitchOnBeat, []any{int32(4)}))
	trig, _ = rg.sched.Pending()
	assert.Equal(t, 4.0, trig.Beat)
}

func TestStatusFallback(t *testing.T) {
	rg := newRig()
	core, logs := observer.New(zapcore.InfoLevel)
	r := rg.router(t, WithLogger(zap.New(core)))
	rg.ctrl.SetNext(rg.reg.Create("A", 2))
	rg.sched.SwitchAfter(time.Second)

	assert.Equal(t, FellBack, r.Dispatch(KindStatus, nil))
	entries := logs.FilterMessage("status").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "A", fields["next"])
	assert.Equal(t, "delay", fields["trigger_kind"])
}

func TestOverrideTakesPrecedence(t *testing.T) {
	rg := newRig()
	var got []Command
	r := rg.router(t, WithOverride(KindSwitchNow, func(cmd Command) error {
		got = append(got, cmd)
		return nil
	}))
	rg.ctrl.SetNext(rg.reg.Create("A", 2))

	assert.Equal(t, Overridden, r.Dispatch(KindSwitchNow, nil))
	assert.Equal(t, []Command{SwitchNow{}}, got)
	assert.Equal(t, "A", rg.ctrl.Status().Next, "the fallback does not run")
}

func TestOverrideReceivesParsedCommand(t *testing.T) {
	rg := newRig()
	var got Command
	rg.router(t, WithOverride(KindSetFrom, func(cmd Command) error {
		got = cmd
		return nil
	}))

	rg.bus.send("/live/setFrom", int32(1), `\gain`, " left")
	assert.Equal(t, SetFrom{Start: 1, Processors: []string{"gain", "left"}}, got)
}

func TestOverrideError(t *testing.T) {
	rg := newRig()
	r := rg.router(t, WithOverride(KindAdd, func(Command) error {
		return errors.New("no chain being edited")
	}))
	assert.Equal(t, OverrideFailed, r.Dispatch(KindAdd, []any{int32(1), "gain"}))
}

func TestNoHandler(t *testing.T) {
	rg := newRig()
	core, logs := observer.New(zapcore.InfoLevel)
	r := rg.router(t, WithLogger(zap.New(core)))

	for _, k := range []Kind{KindPing, KindNew, KindRemove} {
		args := []any{"A", int32(2)}
		if k == KindRemove {
			args = []any{int32(1)}
		}
		assert.Equal(t, NoHandler, r.Dispatch(k, args), k.String())
	}
	assert.Equal(t, 3, logs.FilterMessage("no handler").Len())
}

func TestFallbackWithoutDependencies(t *testing.T) {
	r, err := New("bare", newFakeBus())
	require.NoError(t, err)

	assert.Equal(t, NoHandler, r.Dispatch(KindSetNext, []any{"A"}))
	assert.Equal(t, NoHandler, r.Dispatch(KindSwitchNow, nil))
	assert.Equal(t, NoHandler, r.Dispatch(KindSwitchAfter, []any{1}))
	assert.Equal(t, NoHandler, r.Dispatch(KindStatus, nil))
}

func TestBadArgumentsAbortDispatch(t *testing.T) {
	rg := newRig()
	core, logs := observer.New(zapcore.WarnLevel)
	called := false
	r := rg.router(t,
		WithLogger(zap.New(core)),
		WithOverride(KindAdd, func(Command) error { called = true; return nil }))

	assert.Equal(t, BadArguments, r.Dispatch(KindAdd, []any{int32(1)}))
	assert.Equal(t, BadArguments, r.Dispatch(KindSetNext, nil))
	assert.False(t, called)
	assert.Equal(t, controller.Snapshot{}, rg.ctrl.Status())
	assert.Equal(t, 2, logs.FilterMessage("bad command arguments").Len())
}

func TestDispatchMessage_UnknownAddress(t *testing.T) {
	rg := newRig()
	r := rg.router(t)

	assert.Equal(t, UnknownRoute, r.DispatchMessage(Message{Address: "/other/switchNow"}))
	assert.Equal(t, UnknownRoute, r.DispatchMessage(Message{Address: "/live/explode"}))
}

func TestDispatchObserver(t *testing.T) {
	rg := newRig()
	type seen struct {
		kind Kind
		out  Outcome
	}
	var got []seen
	r := rg.router(t, WithDispatchObserver(func(k Kind, o Outcome) { got = append(got, seen{k, o}) }))

	r.Dispatch(KindPing, nil)
	r.Dispatch(KindSetNext, []any{"missing"})
	r.Dispatch(KindSetNext, nil)

	assert.Equal(t, []seen{
		{KindPing, NoHandler},
		{KindSetNext, NotFound},
		{KindSetNext, BadArguments},
	}, got)
}

func TestDispatchIsSerialized(t *testing.T) {
	rg := newRig()
	var active, maxActive int
	var mu sync.Mutex
	r := rg.router(t, WithOverride(KindPing, func(Command) error {
		mu.Lock()
		active++
		if active > maxActive {
			maxActive = active
		}
		mu.Unlock()
		time.Sleep(time.Millisecond)
		mu.Lock()
		active--
		mu.Unlock()
		return nil
	}))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Dispatch(KindPing, nil)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxActive)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "fallback", FellBack.String())
	assert.Equal(t, "bad_args", BadArguments.String())
	assert.Equal(t, "unknown", Outcome(0).String())
}

func TestHasFallback(t *testing.T) {
	with := map[Kind]bool{
		KindSetNext: true, KindSwitchNow: true, KindSwitchAfter: true,
		KindSwitchOnBeat: true, KindStatus: true,
	}
	for _, k := range Kinds() {
		assert.Equal(t, with[k], HasFallback(k), k.String())
	}
}
