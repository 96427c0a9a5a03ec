package otelexport

import (
	"context"
	"fmt"

	"github.com/flowtrace-go/flowtrace/pkg/flowtrace"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"google.golang.org/grpc/credentials"
)

// NewMeterProvider builds an OTEL MeterProvider exporting over OTLP, the
// way the teacher's Provider.initMeterProvider does. The caller is
// responsible for calling its Shutdown.
func NewMeterProvider(ctx context.Context, cfg Config) (*sdkmetric.MeterProvider, error) {
	cfg.OTLPProtocol = normalizeProtocol(cfg.OTLPProtocol)

	res, err := cfg.buildResource(ctx)
	if err != nil {
		return nil, fmt.Errorf("otelexport: building resource: %w", err)
	}

	exp, err := createMetricExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("otelexport: creating metric exporter: %w", err)
	}

	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)),
	), nil
}

func createMetricExporter(ctx context.Context, cfg Config) (sdkmetric.Exporter, error) {
	if cfg.OTLPProtocol == ProtocolHTTP {
		hopts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.Insecure {
			hopts = append(hopts, otlpmetrichttp.WithInsecure())
		} else if cfg.TLSConfig != nil {
			hopts = append(hopts, otlpmetrichttp.WithTLSClientConfig(cfg.TLSConfig))
		}
		return otlpmetrichttp.New(ctx, hopts...)
	}

	gopts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		gopts = append(gopts, otlpmetricgrpc.WithInsecure())
	} else if cfg.TLSConfig != nil {
		gopts = append(gopts, otlpmetricgrpc.WithTLSCredentials(credentials.NewTLS(cfg.TLSConfig)))
	}
	return otlpmetricgrpc.New(ctx, gopts...)
}

// DispatcherMetrics implements flowtrace.Metrics against two independent
// views at once: OTEL instruments (for shipping through an OTLP
// collector; an instrument-creation error is returned from
// NewDispatcherMetrics, with no no-op fallback) and a set of Prometheus
// collectors (for services that scrape /metrics directly, the way the
// teacher's http_server packages mount promhttp.Handler()).
type DispatcherMetrics struct {
	handlersInvoked  metric.Int64Counter
	handlerErrors    metric.Int64Counter
	signalsUnmatched metric.Int64Counter

	promInvoked   *prometheus.CounterVec
	promErrors    *prometheus.CounterVec
	promUnmatched *prometheus.CounterVec
}

// NewDispatcherMetrics creates every instrument/collector pair up front.
// If reg is non-nil, the Prometheus collectors are registered against it;
// pass prometheus.DefaultRegisterer to expose them on the default
// /metrics handler.
func NewDispatcherMetrics(meter metric.Meter, reg prometheus.Registerer) (*DispatcherMetrics, error) {
	invoked, err := meter.Int64Counter(
		"flowtrace.handlers.invoked",
		metric.WithDescription("Count of handler invocations completed without panicking."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("otelexport: creating handlers-invoked counter: %w", err)
	}

	errs, err := meter.Int64Counter(
		"flowtrace.handlers.errors",
		metric.WithDescription("Count of handler invocations that panicked."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("otelexport: creating handlers-errors counter: %w", err)
	}

	unmatched, err := meter.Int64Counter(
		"flowtrace.signals.unmatched",
		metric.WithDescription("Count of signals for which no handler, component fallback, or global fallback fired."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("otelexport: creating signals-unmatched counter: %w", err)
	}

	m := &DispatcherMetrics{
		handlersInvoked:  invoked,
		handlerErrors:    errs,
		signalsUnmatched: unmatched,
		promInvoked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowtrace_handlers_invoked_total",
			Help: "Count of handler invocations completed without panicking.",
		}, []string{"component", "phase"}),
		promErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowtrace_handlers_errors_total",
			Help: "Count of handler invocations that panicked.",
		}, []string{"component", "phase"}),
		promUnmatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flowtrace_signals_unmatched_total",
			Help: "Count of signals left unmatched by every component and global fallback.",
		}, []string{"phase"}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{m.promInvoked, m.promErrors, m.promUnmatched} {
			if err := reg.Register(c); err != nil {
				return nil, fmt.Errorf("otelexport: registering prometheus collector: %w", err)
			}
		}
	}

	return m, nil
}

var _ flowtrace.Metrics = (*DispatcherMetrics)(nil)

func (m *DispatcherMetrics) HandlerInvoked(componentID string, phase flowtrace.Phase) {
	attrs := metric.WithAttributes(
		attribute.String("component", componentID),
		attribute.String("phase", phase.String()),
	)
	m.handlersInvoked.Add(context.Background(), 1, attrs)
	m.promInvoked.WithLabelValues(componentID, phase.String()).Inc()
}

func (m *DispatcherMetrics) HandlerError(componentID string, phase flowtrace.Phase) {
	attrs := metric.WithAttributes(
		attribute.String("component", componentID),
		attribute.String("phase", phase.String()),
	)
	m.handlerErrors.Add(context.Background(), 1, attrs)
	m.promErrors.WithLabelValues(componentID, phase.String()).Inc()
}

func (m *DispatcherMetrics) SignalUnmatched(phase flowtrace.Phase) {
	attrs := metric.WithAttributes(attribute.String("phase", phase.String()))
	m.signalsUnmatched.Add(context.Background(), 1, attrs)
	m.promUnmatched.WithLabelValues(phase.String()).Inc()
}
