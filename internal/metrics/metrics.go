// Package metrics exposes switch, command and trigger counters for
// prometheus. Every hook here matches an observer option of the component
// it watches, so wiring is a matter of passing method values.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"chainrig/internal/controller"
	"chainrig/internal/router"
	"chainrig/internal/scheduler"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "chainrig"

// Metrics holds the collectors on a private registry.
type Metrics struct {
	reg      *prometheus.Registry
	switches *prometheus.CounterVec
	commands *prometheus.CounterVec
	armed    *prometheus.CounterVec
}

// New registers the collectors. chainCount backs the chains gauge and may
// be nil.
func New(chainCount func() int) *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		switches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "switches_total",
			Help:      "SwitchNow calls by outcome.",
		}, []string{"outcome"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Dispatched commands by command and outcome.",
		}, []string{"command", "outcome"}),
		armed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "triggers_armed_total",
			Help:      "Scheduled switches armed, by trigger kind.",
		}, []string{"kind"}),
	}
	m.reg.MustRegister(m.switches, m.commands, m.armed)
	m.reg.MustRegister(collectors.NewGoCollector())

	if chainCount != nil {
		m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "chains",
			Help:      "Chains currently registered.",
		}, func() float64 { return float64(chainCount()) }))
	}
	return m
}

// ObserveSwitch counts a switch result. Use with controller.WithObserver.
func (m *Metrics) ObserveSwitch(res controller.Result) {
	m.switches.WithLabelValues(res.Outcome.String()).Inc()
}

// ObserveCommand counts a dispatch. Use with router.WithDispatchObserver.
func (m *Metrics) ObserveCommand(kind router.Kind, outcome router.Outcome) {
	m.commands.WithLabelValues(kind.String(), outcome.String()).Inc()
}

// ObserveArm counts an armed trigger. Use with scheduler.WithArmObserver.
func (m *Metrics) ObserveArm(t scheduler.Trigger) {
	m.armed.WithLabelValues(t.Kind.String()).Inc()
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics shutdown", zap.Error(err))
		}
		<-errCh
		return nil
	}
}
