package flowtrace

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
)

// reservedBatchContextKey is the opaque event-context key the dispatcher
// uses to stash the root batch on the root holder before a
// ROOT_FLOW_FINISHED dispatch (spec §9 "root batch attachment"). User code
// must not write this key; Register rejects any "pull context" binding
// that targets it.
const reservedBatchContextKey = "flowtrace.internal.root_batch"

// Metrics is the dispatcher's optional self-observation hook: a sink for
// its own operational counters, independent of what handlers themselves
// choose to record. A concrete binding (OTEL instruments, a Prometheus
// collector, or both) lives in package pkg/flowtrace/otelexport; the core
// only ever calls through this narrow interface, the same way it only
// ever calls through Logger.
type Metrics interface {
	// HandlerInvoked is called once per handler successfully invoked
	// (bound and called without panicking).
	HandlerInvoked(componentID string, phase Phase)
	// HandlerError is called once per handler invocation that panicked.
	HandlerError(componentID string, phase Phase)
	// SignalUnmatched is called once per (phase) signal for which no
	// named handler, component fallback, or global fallback fired.
	SignalUnmatched(phase Phase)
}

// NopMetrics discards everything. It is the zero-dependency default so
// the core never requires a metrics backend to be wired.
type NopMetrics struct{}

func (NopMetrics) HandlerInvoked(string, Phase) {}
func (NopMetrics) HandlerError(string, Phase)   {}
func (NopMetrics) SignalUnmatched(Phase)        {}

// Dispatcher is the compiled registry plus the routing engine (spec C6+C7
// combined at the package's public surface). Build one with New, Register
// every component at startup, then drive it via Begin/End (session.go);
// Register must not be called again once traffic starts.
type Dispatcher struct {
	logger  Logger
	metrics Metrics

	// components is swapped wholesale on Register via atomic.Pointer so
	// dispatch (the hot path) never takes a lock, matching spec §5:
	// "the handler registry is built at startup and treated as immutable
	// thereafter; readers need no synchronization."
	components atomic.Pointer[[]*componentRegistry]

	registerMu sync.Mutex
}

// DispatcherOption configures a Dispatcher at construction.
type DispatcherOption func(*Dispatcher)

// WithLogger installs the diagnostic sink used for orphan-step notices,
// binding errors, handler invocation failures, state-machine
// inconsistencies and unmatched signals. Defaults to NopLogger.
func WithLogger(l Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// WithMetrics installs the dispatcher's self-observation sink. Defaults
// to NopMetrics.
func WithMetrics(m Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// New builds an empty Dispatcher. Call Register for every component
// before routing any signals through it.
func New(opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{logger: NopLogger{}, metrics: NopMetrics{}}
	empty := make([]*componentRegistry, 0)
	d.components.Store(&empty)
	for _, o := range opts {
		o(d)
	}
	return d
}

// Register compiles one Component's handler descriptors and adds it to
// the registry (spec §4.5/§4.6). A validation failure is a configuration
// error (spec §7 taxonomy entry 1): treat it as a fatal startup failure,
// not something to recover from at request time.
func (d *Dispatcher) Register(c *Component) error {
	d.registerMu.Lock()
	defer d.registerMu.Unlock()

	reg := newComponentRegistry(c.id, c.scopePrefixes, c.scopeLifecycles, c.global)
	seen := make(map[string]string)

	for i, hs := range c.specs {
		h, err := compile(c.id, hs, i)
		if err != nil {
			return err
		}

		if err := validateNoBatchKeyLeak(h); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrConfiguration, h.id, err)
		}

		if hs.kind == intentNotMatched {
			reg.addUnmatched(h)
			continue
		}

		key := dedupeKey(h)
		if prior, dup := seen[key]; dup {
			return fmt.Errorf("%w: %s: duplicate registration for name=%s phase=%s outcome-bucket=%d (collides with %s)",
				ErrConfiguration, h.id, h.name, h.phase, h.identity, prior)
		}
		seen[key] = h.id
		reg.addNamed(h)
	}

	cur := *d.components.Load()
	next := make([]*componentRegistry, len(cur)+1)
	copy(next, cur)
	next[len(cur)] = reg
	d.components.Store(&next)
	return nil
}

// validateNoBatchKeyLeak rejects a "pull context" binding that targets the
// reserved root-batch key (spec §9).
func validateNoBatchKeyLeak(h *Handler) error {
	for _, p := range h.params {
		if p.kind == paramContextBind && p.key == reservedBatchContextKey {
			return fmt.Errorf("parameter binds the reserved root-batch context key %q", reservedBatchContextKey)
		}
	}
	return nil
}

// ComponentGroup is a read-only view of one compiled component, returned
// by HandlerGroups for inspection/diagnostics.
type ComponentGroup struct {
	ID              string
	Global          bool
	ScopePrefixes   []string
	ScopeLifecycles []Phase
}

// HandlerGroups returns the compiled registry for inspection.
func (d *Dispatcher) HandlerGroups() []ComponentGroup {
	comps := *d.components.Load()
	out := make([]ComponentGroup, len(comps))
	for i, c := range comps {
		out[i] = ComponentGroup{
			ID:              c.id,
			Global:          c.global,
			ScopePrefixes:   c.scopePrefixes,
			ScopeLifecycles: c.scopeLifecycles,
		}
	}
	return out
}

// dispatch routes one (phase, holder) signal to every eligible handler
// across every registered component (spec §4.7). batch is non-nil only at
// ROOT_FLOW_FINISHED.
func (d *Dispatcher) dispatch(phase Phase, holder *Holder, batch []*Holder) {
	failed := holder.Throwable != nil
	buckets := requiredBuckets(phase, failed)

	comps := *d.components.Load()
	matchedAny := false
	componentUnmatchedFired := false

	for _, comp := range comps {
		if !comp.inScope(holder.Name, phase) {
			continue
		}

		candidates := comp.resolveTier(holder.Name, phase, buckets)
		eligible := filterEligible(candidates, phase, holder, failed)
		if failed {
			eligible = mostSpecific(eligible)
		}

		if len(eligible) > 0 {
			matchedAny = true
			d.invokeAll(eligible, holder, phase, batch)
			continue
		}

		if um := comp.componentUnmatched[phase]; len(um) > 0 {
			componentUnmatchedFired = true
			d.invokeAll(um, holder, phase, batch)
		}
	}

	if matchedAny || componentUnmatchedFired {
		return
	}

	fired := false
	for _, comp := range comps {
		if !comp.global {
			continue
		}
		if gh := comp.globalUnmatched[phase]; len(gh) > 0 {
			fired = true
			d.invokeAll(gh, holder, phase, batch)
		}
	}

	if !fired {
		d.metrics.SignalUnmatched(phase)
		d.logger.Error("flowtrace: unmatched signal",
			Field{"name", holder.Name}, Field{"phase", phase.String()},
			Field{"traceId", holder.TraceID}, Field{"spanId", holder.SpanID})
	}
}

// rootFlowFinished is the third dispatcher entry point (spec §4.7): for
// each root holder in the batch (no parent span), attach the batch under
// the reserved context key and dispatch ROOT_FLOW_FINISHED.
func (d *Dispatcher) rootFlowFinished(batch []*Holder) {
	for _, h := range batch {
		if h.ParentSpanID != "" {
			continue
		}
		h.EventContext.Set(reservedBatchContextKey, batch)
		d.dispatch(RootFlowFinished, h, batch)
	}
}

// filterEligible applies spec §4.7.2.4: lifecycle, required attribute and
// context keys, and (on failure paths) throwable-type assignability.
func filterEligible(candidates []*Handler, phase Phase, holder *Holder, failed bool) []*Handler {
	if len(candidates) == 0 {
		return nil
	}
	out := make([]*Handler, 0, len(candidates))
	for _, h := range candidates {
		if !h.acceptsLifecycle(phase) {
			continue
		}
		if phase != FlowStarted && len(h.outcomes) > 0 {
			outcome := OutcomeSuccess
			if failed {
				outcome = OutcomeFailure
			}
			if !h.hasOutcome(outcome) {
				continue
			}
		}
		if !hasAll(holder.Attributes, h.requiredAttrs) {
			continue
		}
		if !hasAll(holder.EventContext, h.requiredCtx) {
			continue
		}
		if failed && h.throwableParamIndex >= 0 {
			if holder.Throwable == nil || !typeAssignable(holder.Throwable, h.throwableParamType) {
				continue
			}
		}
		out = append(out, h)
	}
	return out
}

// typeAssignable reports whether err's dynamic type is assignable to
// target, which may itself be the error interface or a concrete type.
func typeAssignable(err error, target reflect.Type) bool {
	if target == errorType {
		return true
	}
	return reflect.TypeOf(err).AssignableTo(target)
}

func hasAll(m *AttrMap, keys []string) bool {
	for _, k := range keys {
		if !m.Has(k) {
			return false
		}
	}
	return true
}

// mostSpecific implements spec §4.7.5: partition eligible candidates by
// declared throwable rank and keep only the highest (most specific) tier;
// ties all run.
func mostSpecific(eligible []*Handler) []*Handler {
	if len(eligible) <= 1 {
		return eligible
	}
	maxRank := eligible[0].throwableRank
	for _, h := range eligible[1:] {
		if h.throwableRank > maxRank {
			maxRank = h.throwableRank
		}
	}
	out := make([]*Handler, 0, len(eligible))
	for _, h := range eligible {
		if h.throwableRank == maxRank {
			out = append(out, h)
		}
	}
	return out
}

// invokeAll calls each handler in order, isolating panics and binding
// errors (spec §7 taxonomy entries 2 and 3: neither ever reaches the
// producing caller).
func (d *Dispatcher) invokeAll(handlers []*Handler, holder *Holder, phase Phase, batch []*Holder) {
	for _, h := range handlers {
		d.invokeOne(h, holder, phase, batch)
	}
}

func (d *Dispatcher) invokeOne(h *Handler, holder *Holder, phase Phase, batch []*Holder) {
	// bindArgs runs under the same recover as the call itself: a pull-all
	// parameter bound to a concrete-valued map (binder.go's bindAllMap)
	// panics on a type mismatch, and that panic is a binding failure by
	// spec, not something that may escape to the producing caller.
	defer func() {
		if r := recover(); r != nil {
			d.metrics.HandlerError(h.componentID, phase)
			d.logger.Error("flowtrace: handler invocation failed",
				Field{"handler", h.id}, Field{"name", holder.Name}, Field{"phase", phase.String()},
				Field{"traceId", holder.TraceID}, Field{"spanId", holder.SpanID}, Field{"panic", fmt.Sprintf("%v", r)})
		}
	}()

	args, err := bindArgs(h, holder, phase, batch)
	if err != nil {
		d.logger.Debug("flowtrace: dropping handler invocation on binding error",
			Field{"handler", h.id}, Field{"name", holder.Name}, Field{"phase", phase.String()}, Field{"error", err.Error()})
		return
	}

	h.fnValue.Call(args)
	d.metrics.HandlerInvoked(h.componentID, phase)
}
