package otelexport

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/flowtrace-go/flowtrace/pkg/flowtrace"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	sdktracetest "go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/credentials"
)

// OTLPProtocol selects the OTLP wire transport, mirroring the teacher's
// otel.Config.OTLPProtocol.
type OTLPProtocol string

const (
	ProtocolGRPC OTLPProtocol = "grpc"
	ProtocolHTTP OTLPProtocol = "http"
)

func normalizeProtocol(p OTLPProtocol) OTLPProtocol {
	switch strings.ToLower(string(p)) {
	case "http", "http/protobuf":
		return ProtocolHTTP
	default:
		return ProtocolGRPC
	}
}

// Config configures both the trace exporter in this file and the meter
// provider in metrics.go. It is the flowtrace analogue of the teacher's
// observability/otel.Config, trimmed to the fields an exporter built on
// top of an already-complete holder (rather than a live span) needs.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	OTLPEndpoint string
	OTLPProtocol OTLPProtocol

	Insecure  bool
	TLSConfig *tls.Config

	// ResourceAttributes are merged onto the OTEL resource alongside the
	// service.* triad above.
	ResourceAttributes map[string]string
}

func (c Config) buildResource(ctx context.Context) (*resource.Resource, error) {
	opts := []resource.Option{
		resource.WithAttributes(
			semconv.ServiceName(c.ServiceName),
			semconv.ServiceVersion(c.ServiceVersion),
			semconv.DeploymentEnvironment(c.Environment),
		),
	}
	if len(c.ResourceAttributes) > 0 {
		kvs := make([]attributeKV, 0, len(c.ResourceAttributes))
		for k, v := range c.ResourceAttributes {
			kvs = append(kvs, attributeKV{k, v})
		}
		opts = append(opts, resource.WithAttributes(toStringAttrs(kvs)...))
	}
	return resource.New(ctx, opts...)
}

// Exporter converts a finished root batch into real OTEL spans, carrying
// each holder's trace/span/parent IDs, kind, status, attributes and
// folded step events across, and ships them through a pluggable OTLP
// transport (spec §6 "external exporter").
type Exporter struct {
	cfg      Config
	logger   flowtrace.Logger
	resource *resource.Resource
	exporter sdktrace.SpanExporter
}

// ExporterOption configures NewExporter.
type ExporterOption func(*Exporter)

// WithExporterLogger installs a diagnostic sink for export failures,
// since exportBatch runs off a handler invocation with no caller to
// return an error to. Defaults to flowtrace.NopLogger.
func WithExporterLogger(l flowtrace.Logger) ExporterOption {
	return func(e *Exporter) { e.logger = l }
}

// NewExporter builds the OTLP span exporter and resource for cfg.
func NewExporter(ctx context.Context, cfg Config, opts ...ExporterOption) (*Exporter, error) {
	cfg.OTLPProtocol = normalizeProtocol(cfg.OTLPProtocol)

	res, err := cfg.buildResource(ctx)
	if err != nil {
		return nil, fmt.Errorf("otelexport: building resource: %w", err)
	}

	span, err := createTraceExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("otelexport: creating trace exporter: %w", err)
	}

	e := &Exporter{cfg: cfg, logger: flowtrace.NopLogger{}, resource: res, exporter: span}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

func createTraceExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	if cfg.OTLPProtocol == ProtocolHTTP {
		hopts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.Insecure {
			hopts = append(hopts, otlptracehttp.WithInsecure())
		} else if cfg.TLSConfig != nil {
			hopts = append(hopts, otlptracehttp.WithTLSClientConfig(cfg.TLSConfig))
		}
		return otlptracehttp.New(ctx, hopts...)
	}

	gopts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		gopts = append(gopts, otlptracegrpc.WithInsecure())
	} else if cfg.TLSConfig != nil {
		gopts = append(gopts, otlptracegrpc.WithTLSCredentials(credentials.NewTLS(cfg.TLSConfig)))
	}
	return otlptracegrpc.New(ctx, gopts...)
}

// Component returns the flowtrace.Component that wires this exporter into
// a Dispatcher. It registers no named handlers, only an OnNotMatched
// scoped to ROOT_FLOW_FINISHED: since a component's own fallback fires
// whenever nothing in that component's registry matched a signal (spec
// §4.7.2.2), and this component never registers a named match, its
// fallback fires for every completed flow tree unconditionally -- no
// other component's registrations can suppress it, because each
// component's fallback is evaluated independently per dispatch. Callers
// that also want named ROOT_FLOW_FINISHED handlers of their own should
// register them on a separate Component so this one's registry stays
// empty.
func (e *Exporter) Component() *flowtrace.Component {
	return flowtrace.NewComponent("otelexport").
		Lifecycles(flowtrace.RootFlowFinished).
		OnNotMatched(e.exportBatch,
			flowtrace.Param(flowtrace.Batch()),
			flowtrace.WithLifecycles(flowtrace.RootFlowFinished),
			flowtrace.WithID("otelexport.export_batch"))
}

func (e *Exporter) exportBatch(batch []*flowtrace.Holder) {
	if len(batch) == 0 {
		return
	}

	spans := make([]sdktrace.ReadOnlySpan, 0, len(batch))
	for _, h := range batch {
		spans = append(spans, e.holderToSpan(h))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.exporter.ExportSpans(ctx, spans); err != nil {
		e.logger.Error("otelexport: export failed", flowtrace.Field{Key: "error", Value: err.Error()})
	}
}

func (e *Exporter) holderToSpan(h *flowtrace.Holder) sdktrace.ReadOnlySpan {
	traceID, _ := trace.TraceIDFromHex(h.TraceID)
	spanID, _ := trace.SpanIDFromHex(h.SpanID)

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})

	var parent trace.SpanContext
	if h.ParentSpanID != "" {
		if parentSpanID, err := trace.SpanIDFromHex(h.ParentSpanID); err == nil {
			parent = trace.NewSpanContext(trace.SpanContextConfig{
				TraceID:    traceID,
				SpanID:     parentSpanID,
				TraceFlags: trace.FlagsSampled,
				Remote:     true,
			})
		}
	}

	stub := sdktracetest.SpanStub{
		Name:        h.Name,
		SpanContext: sc,
		Parent:      parent,
		SpanKind:    kindToSpanKind(h.Kind),
		StartTime:   h.StartTime,
		EndTime:     h.EndTime,
		Attributes:  convertAttrMapToAttributes(h.Attributes),
		Events:      convertEvents(h.Events),
		Status:      statusToOtelStatus(h.Status),
		Resource:    e.resource,
	}
	return stub.Snapshot()
}

func convertEvents(events []flowtrace.Event) []trace.Event {
	if len(events) == 0 {
		return nil
	}
	out := make([]trace.Event, len(events))
	for i, ev := range events {
		attrs := convertAttrMapToAttributes(ev.Attributes)
		if ev.Throwable != nil {
			attrs = append(attrs, convertValueToAttribute("exception.message", ev.Throwable.Error()))
		}
		out[i] = trace.Event{Name: ev.Name, Time: ev.EpochEnd, Attributes: attrs}
	}
	return out
}

// Shutdown flushes and closes the underlying OTLP trace exporter.
func (e *Exporter) Shutdown(ctx context.Context) error {
	return e.exporter.Shutdown(ctx)
}

type attributeKV struct {
	key, value string
}

func toStringAttrs(kvs []attributeKV) []attribute.KeyValue {
	out := make([]attribute.KeyValue, len(kvs))
	for i, kv := range kvs {
		out[i] = attribute.String(kv.key, kv.value)
	}
	return out
}
