package metrics

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"chainrig/internal/chain"
	"chainrig/internal/clock"
	"chainrig/internal/controller"
	"chainrig/internal/router"
	"chainrig/internal/scheduler"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestObserveSwitch(t *testing.T) {
	reg := chain.NewRegistry(nil, zap.NewNop())
	m := New(reg.Len)
	ctrl := controller.New(controller.WithObserver(m.ObserveSwitch))

	ctrl.SwitchNow()
	ctrl.SetNext(reg.Create("A", 2))
	ctrl.SwitchNow()
	ctrl.SetNext(reg.Create("B", 2))
	ctrl.SwitchNow()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.switches.WithLabelValues("switched")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.switches.WithLabelValues("nothing_to_switch")))
}

func TestObserveCommandAndArm(t *testing.T) {
	m := New(nil)
	m.ObserveCommand(router.KindSetNext, router.NotFound)
	m.ObserveCommand(router.KindSetNext, router.NotFound)
	m.ObserveCommand(router.KindSwitchNow, router.FellBack)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.commands.WithLabelValues("setNext", "not_found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commands.WithLabelValues("switchNow", "fallback")))

	wall := clock.NewManual(time.Unix(0, 0))
	sched := scheduler.New(controller.New(), wall, scheduler.WithArmObserver(m.ObserveArm))
	defer sched.Close()
	sched.SwitchAfter(time.Second)
	sched.SwitchAfter(2 * time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.armed.WithLabelValues("delay")))
}

func TestChainsGauge(t *testing.T) {
	reg := chain.NewRegistry(nil, zap.NewNop())
	m := New(reg.Len)
	reg.Create("A", 2)
	reg.Create("B", 2)

	expected := `
# HELP chainrig_chains Chains currently registered.
# TYPE chainrig_chains gauge
chainrig_chains 2
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "chainrig_chains"))
}

func TestHandler(t *testing.T) {
	m := New(nil)
	m.ObserveCommand(router.KindPing, router.NoHandler)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `chainrig_commands_total{command="ping",outcome="no_handler"} 1`)
}

func TestServe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	m := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Serve(ctx, addr, nil) }()

	client := &http.Client{Timeout: time.Second}
	require.Eventually(t, func() bool {
		resp, err := client.Get("http://" + addr + "/metrics")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	client.CloseIdleConnections()
}
