package otelexport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/flowtrace-go/flowtrace/pkg/flowtrace"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// fakeSpanExporter records every batch handed to ExportSpans without
// touching the network, so exportBatch's wiring can be asserted on
// directly.
type fakeSpanExporter struct {
	batches [][]sdktrace.ReadOnlySpan
	err     error
}

func (f *fakeSpanExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	f.batches = append(f.batches, spans)
	return f.err
}

func (f *fakeSpanExporter) Shutdown(ctx context.Context) error { return nil }

func TestNormalizeProtocol(t *testing.T) {
	tests := []struct {
		in   OTLPProtocol
		want OTLPProtocol
	}{
		{"", ProtocolGRPC},
		{"grpc", ProtocolGRPC},
		{"GRPC", ProtocolGRPC},
		{"http", ProtocolHTTP},
		{"http/protobuf", ProtocolHTTP},
		{"HTTP", ProtocolHTTP},
		{"nonsense", ProtocolGRPC},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeProtocol(tt.in))
	}
}

func TestConfig_BuildResource(t *testing.T) {
	cfg := Config{
		ServiceName:        "checkout",
		ServiceVersion:     "1.0.0",
		Environment:        "staging",
		ResourceAttributes: map[string]string{"team": "payments"},
	}
	res, err := cfg.buildResource(context.Background())
	require.NoError(t, err)
	require.NotNil(t, res)

	found := map[string]string{}
	for _, kv := range res.Attributes() {
		found[string(kv.Key)] = kv.Value.AsString()
	}
	assert.Equal(t, "checkout", found["service.name"])
	assert.Equal(t, "1.0.0", found["service.version"])
	assert.Equal(t, "staging", found["deployment.environment"])
	assert.Equal(t, "payments", found["team"])
}

func TestExporter_HolderToSpan_CarriesIdentityAndAttributes(t *testing.T) {
	res, err := Config{ServiceName: "checkout"}.buildResource(context.Background())
	require.NoError(t, err)

	e := &Exporter{cfg: Config{ServiceName: "checkout"}, logger: flowtrace.NopLogger{}, resource: res}

	h := &flowtrace.Holder{
		Name:         "order.create",
		Kind:         flowtrace.KindServer,
		TraceID:      "4bf92f3577b34da6a3ce929d0e0e4736",
		SpanID:       "00f067aa0ba902b7",
		ParentSpanID: "00f067aa0ba902b8",
		StartTime:    time.Now().Add(-time.Second),
		EndTime:      time.Now(),
		Attributes:   newAttrMapForTest("http.status_code", 200),
		Status:       flowtrace.Status{Code: flowtrace.StatusOK},
	}

	span := e.holderToSpan(h)
	assert.Equal(t, "order.create", span.Name())
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", span.SpanContext().TraceID().String())
	assert.Equal(t, "00f067aa0ba902b7", span.SpanContext().SpanID().String())
	assert.True(t, span.Parent().IsValid())
	assert.Equal(t, "00f067aa0ba902b8", span.Parent().SpanID().String())
	require.Len(t, span.Attributes(), 1)
	assert.Equal(t, "http.status_code", string(span.Attributes()[0].Key))
}

func TestExporter_HolderToSpan_NoParentWhenParentSpanIDEmpty(t *testing.T) {
	res, err := Config{ServiceName: "checkout"}.buildResource(context.Background())
	require.NoError(t, err)
	e := &Exporter{cfg: Config{ServiceName: "checkout"}, logger: flowtrace.NopLogger{}, resource: res}

	h := &flowtrace.Holder{
		Name:    "order.create",
		TraceID: "4bf92f3577b34da6a3ce929d0e0e4736",
		SpanID:  "00f067aa0ba902b7",
	}
	span := e.holderToSpan(h)
	assert.False(t, span.Parent().IsValid())
}

func TestExporter_ExportBatch_ForwardsSnapshotsToExporter(t *testing.T) {
	res, err := Config{ServiceName: "checkout"}.buildResource(context.Background())
	require.NoError(t, err)
	fake := &fakeSpanExporter{}
	e := &Exporter{cfg: Config{ServiceName: "checkout"}, logger: flowtrace.NopLogger{}, resource: res, exporter: fake}

	e.exportBatch([]*flowtrace.Holder{
		{Name: "order.create", TraceID: "4bf92f3577b34da6a3ce929d0e0e4736", SpanID: "00f067aa0ba902b7"},
		{Name: "order.create.validate", TraceID: "4bf92f3577b34da6a3ce929d0e0e4736", SpanID: "00f067aa0ba902b8"},
	})

	require.Len(t, fake.batches, 1)
	assert.Len(t, fake.batches[0], 2)
}

func TestExporter_ExportBatch_EmptyBatchSkipsExport(t *testing.T) {
	fake := &fakeSpanExporter{}
	e := &Exporter{cfg: Config{}, logger: flowtrace.NopLogger{}, exporter: fake}

	e.exportBatch(nil)

	assert.Empty(t, fake.batches)
}

func TestExporter_ExportBatch_LogsOnExportFailure(t *testing.T) {
	rec := &recordingLoggerForExport{}
	fake := &fakeSpanExporter{err: errors.New("collector unreachable")}
	res, err := Config{ServiceName: "checkout"}.buildResource(context.Background())
	require.NoError(t, err)
	e := &Exporter{cfg: Config{ServiceName: "checkout"}, logger: rec, resource: res, exporter: fake}

	e.exportBatch([]*flowtrace.Holder{{Name: "order.create", TraceID: "4bf92f3577b34da6a3ce929d0e0e4736", SpanID: "00f067aa0ba902b7"}})

	assert.True(t, rec.errorCalled)
}

func TestConvertEvents_AppendsExceptionMessageAttribute(t *testing.T) {
	events := []flowtrace.Event{
		{Name: "order.create.validate", Throwable: errors.New("boom")},
	}
	out := convertEvents(events)
	require.Len(t, out, 1)
	require.NotEmpty(t, out[0].Attributes)
	assert.Equal(t, "exception.message", string(out[0].Attributes[len(out[0].Attributes)-1].Key))
}

func TestConvertEvents_NilForEmptySlice(t *testing.T) {
	assert.Nil(t, convertEvents(nil))
}

// recordingLoggerForExport satisfies flowtrace.Logger with only the Error
// path recorded, since exportBatch only ever logs export failures.
type recordingLoggerForExport struct {
	errorCalled bool
}

func (r *recordingLoggerForExport) Debug(msg string, fields ...flowtrace.Field) {}
func (r *recordingLoggerForExport) Info(msg string, fields ...flowtrace.Field)  {}
func (r *recordingLoggerForExport) Warn(msg string, fields ...flowtrace.Field)  {}
func (r *recordingLoggerForExport) Error(msg string, fields ...flowtrace.Field) {
	r.errorCalled = true
}

func newAttrMapForTest(key string, value any) *flowtrace.AttrMap {
	d := flowtrace.New()
	_, s := d.Begin(context.Background(), flowtrace.WithName("x"))
	s.Holder().PutAttr(key, value)
	return s.Holder().Attributes
}
