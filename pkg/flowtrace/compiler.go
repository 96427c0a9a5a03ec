package flowtrace

import (
	"fmt"
	"reflect"
	"regexp"
)

var nameGrammar = regexp.MustCompile(`^[A-Za-z0-9_]+(\.[A-Za-z0-9_]+)*$`)

var (
	holderPtrType = reflect.TypeOf((*Holder)(nil))
	phaseType     = reflect.TypeOf(FlowStarted)
	kindType      = reflect.TypeOf(KindInternal)
	errorType     = reflect.TypeOf((*error)(nil)).Elem()
	batchType     = reflect.TypeOf([]*Holder(nil))
	attrMapType   = reflect.TypeOf((*AttrMap)(nil))
)

// compile turns one handlerSpec into an immutable *Handler, running every
// validation from spec §4.5. Errors are wrapped in ErrConfiguration: a
// failure here is a startup failure (spec §7 taxonomy entry 1).
func compile(componentID string, hs *handlerSpec, ordinal int) (*Handler, error) {
	id := hs.id
	if id == "" {
		label := hs.name
		if label == "" {
			label = "notMatched"
		}
		id = fmt.Sprintf("%s.%s#%d", componentID, label, ordinal)
	}

	if hs.kind != intentNotMatched {
		if hs.name == "" {
			return nil, fmt.Errorf("%w: %s: event name must be non-blank", ErrConfiguration, id)
		}
		if !nameGrammar.MatchString(hs.name) {
			return nil, fmt.Errorf("%w: %s: event name %q does not match the identifier grammar", ErrConfiguration, id, hs.name)
		}
	}

	fnVal := reflect.ValueOf(hs.fn)
	if fnVal.Kind() != reflect.Func {
		return nil, fmt.Errorf("%w: %s: handler is not a function", ErrConfiguration, id)
	}
	fnType := fnVal.Type()

	h := &Handler{
		id:                 id,
		componentID:        componentID,
		fnValue:            fnVal,
		name:               hs.name,
		declaredLifecycles: hs.declaredLifecycles,
		requiredAttrs:      hs.requiredAttrs,
		requiredCtx:        hs.requiredCtx,
		throwableParamIndex: -1,
	}

	phase, identity, outcomes, err := resolveIntent(hs, fnType)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConfiguration, id, err)
	}
	h.phase = phase
	h.identity = identity
	h.outcomes = outcomes

	if len(h.declaredLifecycles) > 0 && hs.kind != intentFlowCompleted && hs.kind != intentNotMatched {
		if !containsPhase(h.declaredLifecycles, phase) {
			return nil, fmt.Errorf("%w: %s: declared lifecycles %v do not include required phase %s",
				ErrConfiguration, id, h.declaredLifecycles, phase)
		}
	}

	params, err := compileParams(hs, fnType)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrConfiguration, id, err)
	}
	h.params = params

	hasHolder, hasBatch := false, false
	for i, p := range params {
		// phase is meaningless for a notMatched handler (it fires across
		// whichever phases addUnmatched wires it to, via declaredLifecycles),
		// so only fixed-intent handlers are checked here: a notMatched
		// handler's batch param simply binds nil outside ROOT_FLOW_FINISHED.
		if p.kind == paramBatchBind && hs.kind != intentNotMatched && phase != RootFlowFinished {
			return nil, fmt.Errorf("%w: %s: a batch parameter is only permitted on ROOT_FLOW_FINISHED", ErrConfiguration, id)
		}
		if p.kind == paramHolderDefault {
			hasHolder = true
		}
		if p.kind == paramBatchBind {
			hasBatch = true
		}
		if p.kind == paramThrowableBind || p.kind == paramThrowableDefault {
			if h.throwableParamIndex >= 0 {
				return nil, fmt.Errorf("%w: %s: at most one throwable-bind parameter is permitted", ErrConfiguration, id)
			}
			h.throwableParamIndex = i
			h.throwableParamType = fnType.In(i)
			h.throwableRank = throwableRank(p, fnType.In(i))
		}
	}
	if hasHolder && hasBatch {
		return nil, fmt.Errorf("%w: %s: a handler cannot declare both a holder and a batch parameter", ErrConfiguration, id)
	}

	return h, nil
}

// throwableRank resolves the failure-specificity rank (spec §4.7.5) for a
// compiled throwable-bind parameter. The bare error interface is always
// generic (rank 0); any concrete bound type defaults to rank 1 unless the
// registrant overrode it with ParamSpec.Rank to model a deeper hierarchy.
func throwableRank(p compiledParam, t reflect.Type) int {
	if t == errorType {
		return 0
	}
	if p.rank >= 0 {
		return p.rank
	}
	return 1
}

func containsPhase(phases []Phase, p Phase) bool {
	for _, x := range phases {
		if x == p {
			return true
		}
	}
	return false
}

func resolveIntent(hs *handlerSpec, fnType reflect.Type) (Phase, bucketIdentity, []Outcome, error) {
	switch hs.kind {
	case intentFlowStarted:
		return FlowStarted, bucketStarted, nil, nil
	case intentFlowSuccess:
		return FlowFinished, bucketSuccess, []Outcome{OutcomeSuccess}, nil
	case intentFlowFailure:
		return FlowFinished, bucketFailure, []Outcome{OutcomeFailure}, nil
	case intentFlowCompleted:
		hasBatch := false
		for i := 0; i < fnType.NumIn(); i++ {
			if fnType.In(i) == batchType {
				hasBatch = true
				break
			}
		}
		phase := FlowFinished
		if hasBatch {
			phase = RootFlowFinished
		}
		outcomes := hs.declaredOutcomes
		if len(outcomes) == 0 {
			outcomes = []Outcome{OutcomeSuccess, OutcomeFailure}
		}
		return phase, bucketCompleted, outcomes, nil
	case intentNotMatched:
		return FlowStarted, bucketStarted, nil, nil // phase/identity unused for notMatched
	default:
		return 0, 0, nil, fmt.Errorf("unknown handler intent")
	}
}

func compileParams(hs *handlerSpec, fnType reflect.Type) ([]compiledParam, error) {
	n := fnType.NumIn()
	out := make([]compiledParam, n)
	batchSeen := false

	for i := 0; i < n; i++ {
		pt := fnType.In(i)

		var spec ParamSpec
		explicit := false
		if i < len(hs.params) && hs.params[i].kind != paramDefault {
			spec = hs.params[i]
			explicit = true
		}

		if explicit {
			cp, err := compileExplicitParam(spec, pt)
			if err != nil {
				return nil, fmt.Errorf("param %d: %w", i, err)
			}
			if cp.kind == paramBatchBind {
				if batchSeen {
					return nil, fmt.Errorf("param %d: at most one batch parameter is permitted", i)
				}
				batchSeen = true
			}
			out[i] = cp
			continue
		}

		out[i] = defaultParam(pt)
	}

	return out, nil
}

func compileExplicitParam(spec ParamSpec, pt reflect.Type) (compiledParam, error) {
	switch spec.kind {
	case paramAttr:
		return compiledParam{kind: paramAttrBind, key: spec.key, rank: -1, paramType: pt}, nil
	case paramContext:
		return compiledParam{kind: paramContextBind, key: spec.key, rank: -1, paramType: pt}, nil
	case paramAttrAll:
		if !isMapLike(pt) {
			return compiledParam{}, fmt.Errorf("pull-all attributes parameter must accept a mapping type, got %s", pt)
		}
		return compiledParam{kind: paramAttrAllBind, rank: -1, paramType: pt}, nil
	case paramContextAll:
		if !isMapLike(pt) {
			return compiledParam{}, fmt.Errorf("pull-all context parameter must accept a mapping type, got %s", pt)
		}
		return compiledParam{kind: paramContextAllBind, rank: -1, paramType: pt}, nil
	case paramThrowable:
		if pt != errorType && !pt.Implements(errorType) {
			return compiledParam{}, fmt.Errorf("throwable-bind parameter type %s is not assignable from error", pt)
		}
		return compiledParam{kind: paramThrowableBind, selector: spec.selector, required: spec.required, rank: spec.rank, paramType: pt}, nil
	case paramBatch:
		if pt != batchType {
			return compiledParam{}, fmt.Errorf("batch parameter must be []*Holder, got %s", pt)
		}
		return compiledParam{kind: paramBatchBind, rank: -1, paramType: pt}, nil
	default:
		return defaultParam(pt), nil
	}
}

// defaultParam implements the unannotated-parameter fallback order from
// spec §4.5.4: holder, lifecycle enum, throwable, span-kind, else null.
func defaultParam(pt reflect.Type) compiledParam {
	switch {
	case pt == holderPtrType:
		return compiledParam{kind: paramHolderDefault, rank: -1, paramType: pt}
	case pt == phaseType:
		return compiledParam{kind: paramLifecycleDefault, rank: -1, paramType: pt}
	case pt == errorType || pt.Implements(errorType):
		return compiledParam{kind: paramThrowableDefault, rank: -1, paramType: pt}
	case pt == kindType:
		return compiledParam{kind: paramKindDefault, rank: -1, paramType: pt}
	default:
		return compiledParam{kind: paramNilDefault, rank: -1, paramType: pt}
	}
}

func isMapLike(t reflect.Type) bool {
	return t == attrMapType || t.Kind() == reflect.Map
}

// dedupeKey identifies the (exactName, phase, outcome-bucket,
// failureThrowableType) tuple spec §4.5.6 rejects duplicates on. Bare
// error/generic throwable bindings collapse to a single "generic" slot.
func dedupeKey(h *Handler) string {
	tt := "generic"
	if h.throwableParamIndex >= 0 && h.throwableParamType != errorType {
		tt = h.throwableParamType.String()
	}
	return fmt.Sprintf("%s|%d|%d|%s", h.name, h.phase, h.identity, tt)
}
