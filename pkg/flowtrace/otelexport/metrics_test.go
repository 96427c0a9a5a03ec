package otelexport

import (
	"testing"

	"github.com/flowtrace-go/flowtrace/pkg/flowtrace"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

func newTestDispatcherMetrics(t *testing.T) (*DispatcherMetrics, *prometheus.Registry) {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	reg := prometheus.NewRegistry()
	m, err := NewDispatcherMetrics(mp.Meter("flowtrace-test"), reg)
	require.NoError(t, err)
	return m, reg
}

func TestNewDispatcherMetrics_RegistersPrometheusCollectors(t *testing.T) {
	_, reg := newTestDispatcherMetrics(t)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["flowtrace_handlers_invoked_total"])
	assert.True(t, names["flowtrace_handlers_errors_total"])
	assert.True(t, names["flowtrace_signals_unmatched_total"])
}

func TestNewDispatcherMetrics_NilRegistererSkipsRegistration(t *testing.T) {
	mp := sdkmetric.NewMeterProvider()
	m, err := NewDispatcherMetrics(mp.Meter("flowtrace-test"), nil)
	require.NoError(t, err)
	require.NotNil(t, m)
}

func TestDispatcherMetrics_HandlerInvoked(t *testing.T) {
	m, _ := newTestDispatcherMetrics(t)

	m.HandlerInvoked("orders", flowtrace.FlowFinished)

	got := testutil.ToFloat64(m.promInvoked.WithLabelValues("orders", flowtrace.FlowFinished.String()))
	assert.Equal(t, float64(1), got)
}

func TestDispatcherMetrics_HandlerError(t *testing.T) {
	m, _ := newTestDispatcherMetrics(t)

	m.HandlerError("orders", flowtrace.RootFlowFinished)

	got := testutil.ToFloat64(m.promErrors.WithLabelValues("orders", flowtrace.RootFlowFinished.String()))
	assert.Equal(t, float64(1), got)
}

func TestDispatcherMetrics_SignalUnmatched(t *testing.T) {
	m, _ := newTestDispatcherMetrics(t)

	m.SignalUnmatched(flowtrace.FlowStarted)
	m.SignalUnmatched(flowtrace.FlowStarted)

	got := testutil.ToFloat64(m.promUnmatched.WithLabelValues(flowtrace.FlowStarted.String()))
	assert.Equal(t, float64(2), got)
}

func TestDispatcherMetrics_SatisfiesFlowtraceMetricsInterface(t *testing.T) {
	m, _ := newTestDispatcherMetrics(t)
	var _ flowtrace.Metrics = m
}
