package flowtrace

import "time"

// Kind mirrors the OpenTelemetry SpanKind values 1:1.
type Kind int

const (
	KindInternal Kind = iota
	KindServer
	KindClient
	KindProducer
	KindConsumer
)

func (k Kind) String() string {
	switch k {
	case KindServer:
		return "SERVER"
	case KindClient:
		return "CLIENT"
	case KindProducer:
		return "PRODUCER"
	case KindConsumer:
		return "CONSUMER"
	default:
		return "INTERNAL"
	}
}

// Phase is one of the three lifecycle signals the dispatcher emits.
type Phase int

const (
	FlowStarted Phase = iota
	FlowFinished
	RootFlowFinished
)

func (p Phase) String() string {
	switch p {
	case FlowFinished:
		return "FLOW_FINISHED"
	case RootFlowFinished:
		return "ROOT_FLOW_FINISHED"
	default:
		return "FLOW_STARTED"
	}
}

// Outcome is meaningful only at finish phases.
type Outcome int

const (
	OutcomeUnset Outcome = iota
	OutcomeSuccess
	OutcomeFailure
)

// StatusCode follows the OTEL tri-state status model.
type StatusCode int

const (
	StatusUnset StatusCode = iota
	StatusOK
	StatusError
)

// Status is the terminal status recorded on a holder.
type Status struct {
	Code    StatusCode
	Message string
}

// Event is a folded step: the step's holder reduced to its durable fields
// once it is popped and appended to its parent's Events.
type Event struct {
	Name         string
	EpochStart   time.Time
	EpochEnd     time.Time
	Attributes   *AttrMap
	EventContext *AttrMap
	Throwable    error
}

// Holder is the in-memory record for one flow or step during its active
// lifetime. Fields are exported for read access by handlers and exporters.
// End time, throwable, status and events change only through the
// unexported methods below, called solely by the state machine in
// session.go; PutAttr/PutContext and their map variants are the write
// facade for in-flow user code.
type Holder struct {
	Name         string
	Kind         Kind
	TraceID      string
	SpanID       string
	ParentSpanID string
	CorrelationID string

	StartTime time.Time
	EndTime   time.Time
	StartMono int64
	EndMono   int64

	Attributes   *AttrMap
	EventContext *AttrMap
	Events       []Event
	Status       Status
	Throwable    error
	IsStep       bool
}

func newHolder(name string, kind Kind, isStep bool) *Holder {
	return &Holder{
		Name:         name,
		Kind:         kind,
		Attributes:   newAttrMap(),
		EventContext: newAttrMap(),
		IsStep:       isStep,
	}
}

// Duration reports the wall-adjacent monotonic span of the holder's active
// lifetime. Zero until setEndTime has run.
func (h *Holder) Duration() time.Duration {
	if h.EndMono == 0 {
		return 0
	}
	return time.Duration(h.EndMono - h.StartMono)
}

func (h *Holder) setEndTime(t time.Time, mono int64) {
	h.EndTime = t
	h.EndMono = mono
}

func (h *Holder) attachThrowable(err error) {
	h.Throwable = err
}

func (h *Holder) setStatus(s Status) {
	h.Status = s
}

func (h *Holder) appendEvent(ev Event) {
	h.Events = append(h.Events, ev)
}

// PutAttr writes a persisted attribute on the current holder. Part of the
// attribute/context write facade consumed by in-flow user code (spec §6).
func (h *Holder) PutAttr(key string, value any) {
	h.Attributes.Set(key, value)
}

// PutAllAttrs writes every entry of m into the holder's attributes.
func (h *Holder) PutAllAttrs(m map[string]any) {
	for k, v := range m {
		h.Attributes.Set(k, v)
	}
}

// PutContext writes an ephemeral, non-exported context value.
func (h *Holder) PutContext(key string, value any) {
	h.EventContext.Set(key, value)
}

// PutAllContext writes every entry of m into the holder's event context.
func (h *Holder) PutAllContext(m map[string]any) {
	for k, v := range m {
		h.EventContext.Set(k, v)
	}
}
