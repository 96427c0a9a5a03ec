package flowtrace

import (
	"context"
	"time"
)

// Severity controls the log level used for the orphan-step promotion
// notice (spec §4.3: "a step requested with no active flow is promoted").
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarn
	SeverityInfo
	SeverityDebug
)

// Destination selects which of a holder's two maps a producer-side
// parameter push lands in.
type Destination int

const (
	DestAttribute Destination = iota
	DestContext
)

// ParamPush is one producer-side (key, value, destination, omitIfNil)
// write applied when a flow or step opens (spec §6 begin options).
type ParamPush struct {
	Key       string
	Value     any
	Dest      Destination
	OmitIfNil bool
}

type sessionConfig struct {
	name           string
	step           bool
	kind           Kind
	orphanSeverity Severity
	pushes         []ParamPush
}

func newSessionConfig(opts []SessionOption) *sessionConfig {
	cfg := &sessionConfig{kind: KindInternal, orphanSeverity: SeverityError}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// SessionOption configures a call to Dispatcher.Begin.
type SessionOption func(*sessionConfig)

// WithName sets the flow or step's identifier name.
func WithName(name string) SessionOption {
	return func(c *sessionConfig) { c.name = name }
}

// AsStep marks the intent as a step rather than a flow. A step requested
// with no active flow is promoted to a root flow (spec §4.3).
func AsStep() SessionOption {
	return func(c *sessionConfig) { c.step = true }
}

// WithKind sets the span kind; defaults to KindInternal.
func WithKind(k Kind) SessionOption {
	return func(c *sessionConfig) { c.kind = k }
}

// WithOrphanSeverity sets the log severity used when a step is promoted to
// a root flow; defaults to SeverityError.
func WithOrphanSeverity(s Severity) SessionOption {
	return func(c *sessionConfig) { c.orphanSeverity = s }
}

// WithPush appends one producer-side parameter push applied at open time.
func WithPush(key string, value any, dest Destination, omitIfNil bool) SessionOption {
	return func(c *sessionConfig) {
		c.pushes = append(c.pushes, ParamPush{Key: key, Value: value, Dest: dest, OmitIfNil: omitIfNil})
	}
}

// flowState is the per-logical-task state the spec calls thread-local: a
// stack of active holders (top = current) and the batch for the root
// currently in flight. It is carried via context.Context rather than a
// goroutine-local, per the design note licensing "explicit context passing
// at task boundaries" for cooperative schedulers — spawning a child
// goroutine with the same ctx inherits the same *flowState pointer.
//
// flowState is owned exclusively by whichever logical task holds the
// context chain it was installed on; it is not safe for concurrent
// mutation from multiple goroutines sharing one context, matching the
// single-owner assumption of a thread-local.
type flowState struct {
	stack []*Holder
	batch []*Holder
}

type stateKey struct{}

func getState(ctx context.Context) (*flowState, bool) {
	st, ok := ctx.Value(stateKey{}).(*flowState)
	return st, ok
}

// Session is returned by Begin and represents one open flow or step. End
// must be called exactly once to close it; End is idempotent against
// repeated calls.
type Session struct {
	d             *Dispatcher
	state         *flowState
	holder        *Holder
	startsNewFlow bool
	opensRoot     bool
	nestedStep    bool
	ended         bool
}

// Holder exposes the holder this session owns, for producer-side writes
// via Holder.PutAttr/PutContext.
func (s *Session) Holder() *Holder {
	return s.holder
}

// Begin opens a flow or step. It returns a context carrying the (possibly
// new) flow state for propagation into child goroutines/tasks, and the
// Session used to end it.
func (d *Dispatcher) Begin(ctx context.Context, opts ...SessionOption) (context.Context, *Session) {
	cfg := newSessionConfig(opts)

	state, existed := getState(ctx)
	if !existed {
		state = &flowState{}
		ctx = context.WithValue(ctx, stateKey{}, state)
	}

	startsNewFlow := !cfg.step || len(state.stack) == 0
	opensRoot := startsNewFlow && len(state.stack) == 0
	nestedStep := cfg.step && !startsNewFlow

	if cfg.step && len(state.stack) == 0 {
		logBySeverity(d.logger, cfg.orphanSeverity, "orphan step promoted to root flow", Field{"name", cfg.name})
	}

	var h *Holder
	if startsNewFlow {
		h = d.openFlow(state, cfg, opensRoot)
	} else {
		h = d.openStep(state, cfg)
	}

	return ctx, &Session{
		d:             d,
		state:         state,
		holder:        h,
		startsNewFlow: startsNewFlow,
		opensRoot:     opensRoot,
		nestedStep:    nestedStep,
	}
}

func (d *Dispatcher) openFlow(state *flowState, cfg *sessionConfig, opensRoot bool) *Holder {
	var parent *Holder
	if len(state.stack) > 0 {
		parent = state.stack[len(state.stack)-1]
	}

	h := newHolder(cfg.name, cfg.kind, false)
	h.SpanID = newSpanID()
	if parent != nil {
		h.TraceID = parent.TraceID
		h.CorrelationID = parent.CorrelationID
		h.ParentSpanID = parent.SpanID
	} else {
		h.TraceID = newTraceID()
		h.CorrelationID = h.TraceID
	}
	h.StartTime = time.Now()
	h.StartMono = monoNow()
	applyPushes(h, cfg.pushes)

	state.stack = append(state.stack, h)
	if opensRoot {
		state.batch = nil
	}
	state.batch = append(state.batch, h)

	d.dispatch(FlowStarted, h, nil)
	return h
}

func (d *Dispatcher) openStep(state *flowState, cfg *sessionConfig) *Holder {
	parent := state.stack[len(state.stack)-1]

	h := newHolder(cfg.name, cfg.kind, true)
	h.SpanID = newSpanID()
	h.TraceID = parent.TraceID
	h.CorrelationID = parent.CorrelationID
	h.ParentSpanID = parent.SpanID
	h.StartTime = time.Now()
	h.StartMono = monoNow()
	applyPushes(h, cfg.pushes)

	state.stack = append(state.stack, h)
	return h
}

func applyPushes(h *Holder, pushes []ParamPush) {
	for _, p := range pushes {
		if p.OmitIfNil && p.Value == nil {
			continue
		}
		if p.Dest == DestContext {
			h.EventContext.Set(p.Key, p.Value)
		} else {
			h.Attributes.Set(p.Key, p.Value)
		}
	}
}

// End closes the session. result, if non-nil, marks the holder (or the
// folded event, for a step) as failed. End is idempotent: only the first
// call has effect.
func (s *Session) End(result error) {
	if s.ended {
		return
	}
	s.ended = true

	state := s.state
	h := s.holder
	now := time.Now()
	mono := monoNow()

	if s.nestedStep {
		h.setEndTime(now, mono)
		ev := Event{
			Name:         h.Name,
			EpochStart:   h.StartTime,
			EpochEnd:     now,
			Attributes:   h.Attributes.Clone(),
			EventContext: h.EventContext.Clone(),
			Throwable:    result,
		}
		if !s.pop(state, h) {
			return
		}
		if len(state.stack) > 0 {
			parent := state.stack[len(state.stack)-1]
			parent.appendEvent(ev)
		}
		return
	}

	h.setEndTime(now, mono)
	if result != nil {
		h.attachThrowable(result)
		h.setStatus(Status{Code: StatusError, Message: result.Error()})
	} else {
		h.setStatus(Status{Code: StatusOK})
	}

	if !s.pop(state, h) {
		return
	}

	s.d.dispatch(FlowFinished, h, nil)

	if s.opensRoot {
		batch := state.batch
		state.batch = nil
		s.d.rootFlowFinished(batch)
	}
}

// pop removes h from the top of the stack, enforcing the re-entrancy
// guard from spec §4.3: if the stack is inconsistent, clear it rather than
// leak it, and report the state-machine-inconsistency error.
func (s *Session) pop(state *flowState, h *Holder) bool {
	if len(state.stack) == 0 || state.stack[len(state.stack)-1] != h {
		s.d.logger.Error("flow state machine inconsistency: unexpected top of stack",
			Field{"name", h.Name}, Field{"traceId", h.TraceID}, Field{"spanId", h.SpanID},
			Field{"error", ErrStateInconsistent.Error()})
		state.stack = nil
		state.batch = nil
		return false
	}
	state.stack = state.stack[:len(state.stack)-1]
	return true
}
