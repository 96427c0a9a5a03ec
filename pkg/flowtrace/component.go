package flowtrace

// Component is the builder form of a "receiver class" (spec §4.4): a
// named collection of handler registrations plus an optional scope and
// global-fallback marker. Go has no annotations, so metadata that the
// source system reads off class/method markers is supplied here through
// fluent calls instead (design note: "registration calls (builder API)").
type Component struct {
	id              string
	scopePrefixes   []string
	scopeLifecycles []Phase
	global          bool
	specs           []*handlerSpec
}

// NewComponent starts a new component builder. id is used as a diagnostic
// prefix and as the component identifier in the compiled registry.
func NewComponent(id string) *Component {
	return &Component{id: id}
}

// Scope restricts this component to event names with one of the given
// prefixes (OR'd together). Repeatable; calling it more than once appends.
func (c *Component) Scope(prefixes ...string) *Component {
	c.scopePrefixes = append(c.scopePrefixes, prefixes...)
	return c
}

// Lifecycles restricts this component's visibility to the given phases.
// Repeatable; calling it more than once appends.
func (c *Component) Lifecycles(phases ...Phase) *Component {
	c.scopeLifecycles = append(c.scopeLifecycles, phases...)
	return c
}

// GlobalFallback marks this component's OnNotMatched handlers as the
// process-wide fallback invoked when no component matched and no
// component-local fallback fired.
func (c *Component) GlobalFallback() *Component {
	c.global = true
	return c
}

// OnFlowStarted registers fn to run on FLOW_STARTED for the exact name.
func (c *Component) OnFlowStarted(name string, fn any, opts ...HandlerOption) *Component {
	return c.add(intentFlowStarted, name, fn, opts)
}

// OnFlowSuccess registers fn to run on FLOW_FINISHED with OutcomeSuccess.
func (c *Component) OnFlowSuccess(name string, fn any, opts ...HandlerOption) *Component {
	return c.add(intentFlowSuccess, name, fn, opts)
}

// OnFlowFailure registers fn to run on FLOW_FINISHED with OutcomeFailure.
func (c *Component) OnFlowFailure(name string, fn any, opts ...HandlerOption) *Component {
	return c.add(intentFlowFailure, name, fn, opts)
}

// OnFlowCompleted registers fn to run on either outcome (or the subset
// given via WithOutcomes). The phase is inferred at compile time from
// fn's parameters: a batch parameter implies ROOT_FLOW_FINISHED, else
// FLOW_FINISHED.
func (c *Component) OnFlowCompleted(name string, fn any, opts ...HandlerOption) *Component {
	return c.add(intentFlowCompleted, name, fn, opts)
}

// OnNotMatched registers fn as this component's fallback, invoked when no
// named handler matched a signal this component was in scope for (or, if
// GlobalFallback was called, when no component matched at all).
func (c *Component) OnNotMatched(fn any, opts ...HandlerOption) *Component {
	return c.add(intentNotMatched, "", fn, opts)
}

func (c *Component) add(kind handlerIntentKind, name string, fn any, opts []HandlerOption) *Component {
	hs := &handlerSpec{kind: kind, name: name, fn: fn}
	for _, o := range opts {
		o(hs)
	}
	c.specs = append(c.specs, hs)
	return c
}
