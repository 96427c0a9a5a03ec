// Package otelexport is flowtrace's worked external exporter collaborator
// (spec §6: "An external exporter may serialize holders; the core's
// contract is the holder fields listed in §3"). It converts finished root
// batches into real OpenTelemetry spans and mirrors the dispatcher's own
// health counters through both the OTEL metrics API and a
// prometheus.Collector, the way the teacher's observability/otel package
// backs its Tracer/Metrics/Logger trio.
package otelexport

import (
	"fmt"

	"github.com/flowtrace-go/flowtrace/pkg/flowtrace"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// convertValueToAttribute converts one attribute/context value to an OTel
// attribute, mirroring the teacher's convertFieldToAttribute switch.
func convertValueToAttribute(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case bool:
		return attribute.Bool(key, v)
	case error:
		return attribute.String(key, v.Error())
	default:
		return attribute.String(key, fmt.Sprintf("%v", v))
	}
}

// convertAttrMapToAttributes converts an entire AttrMap to OTel attributes
// in insertion order. Returns nil for a nil or empty map.
func convertAttrMapToAttributes(m *flowtrace.AttrMap) []attribute.KeyValue {
	if m == nil || m.Len() == 0 {
		return nil
	}
	attrs := make([]attribute.KeyValue, 0, m.Len())
	m.Range(func(key string, value any) bool {
		attrs = append(attrs, convertValueToAttribute(key, value))
		return true
	})
	return attrs
}

// kindToSpanKind maps flowtrace.Kind onto the OTEL SpanKind it mirrors.
func kindToSpanKind(k flowtrace.Kind) trace.SpanKind {
	switch k {
	case flowtrace.KindServer:
		return trace.SpanKindServer
	case flowtrace.KindClient:
		return trace.SpanKindClient
	case flowtrace.KindProducer:
		return trace.SpanKindProducer
	case flowtrace.KindConsumer:
		return trace.SpanKindConsumer
	default:
		return trace.SpanKindInternal
	}
}

// statusToOtelStatus maps a holder's terminal status onto an OTEL
// trace.Status.
func statusToOtelStatus(s flowtrace.Status) trace.Status {
	switch s.Code {
	case flowtrace.StatusOK:
		return trace.Status{Code: codes.Ok}
	case flowtrace.StatusError:
		return trace.Status{Code: codes.Error, Description: s.Message}
	default:
		return trace.Status{Code: codes.Unset}
	}
}
