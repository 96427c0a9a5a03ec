package flowtrace

import "strings"

// componentRegistry is the compiled, read-only form of one registered
// Component (spec §4.6 "handler registry (groups)"). It is built once by
// Register and never mutated afterwards; dispatch only reads from it.
type componentRegistry struct {
	id     string
	global bool

	scopePrefixes   []string
	scopeLifecycles []Phase

	// byName[name][phase][bucket] holds handlers in declaration order.
	// name is always the exact, non-chopped identifier a handler was
	// registered under.
	byName map[string]map[Phase]map[bucketIdentity][]*Handler

	// componentUnmatched[phase] backs flowNotMatched handlers scoped to
	// this component; not subject to dot-chop.
	componentUnmatched map[Phase][]*Handler

	// globalUnmatched[phase] is only populated when global is true.
	globalUnmatched map[Phase][]*Handler
}

func newComponentRegistry(id string, prefixes []string, lifecycles []Phase, global bool) *componentRegistry {
	return &componentRegistry{
		id:                 id,
		global:             global,
		scopePrefixes:      prefixes,
		scopeLifecycles:    lifecycles,
		byName:             make(map[string]map[Phase]map[bucketIdentity][]*Handler),
		componentUnmatched: make(map[Phase][]*Handler),
		globalUnmatched:    make(map[Phase][]*Handler),
	}
}

func (r *componentRegistry) addNamed(h *Handler) {
	byPhase, ok := r.byName[h.name]
	if !ok {
		byPhase = make(map[Phase]map[bucketIdentity][]*Handler)
		r.byName[h.name] = byPhase
	}
	byBucket, ok := byPhase[h.phase]
	if !ok {
		byBucket = make(map[bucketIdentity][]*Handler)
		byPhase[h.phase] = byBucket
	}
	byBucket[h.identity] = append(byBucket[h.identity], h)
}

func (r *componentRegistry) addUnmatched(h *Handler) {
	phases := h.declaredLifecycles
	if len(phases) == 0 {
		phases = []Phase{FlowStarted, FlowFinished, RootFlowFinished}
	}
	for _, p := range phases {
		if r.global {
			r.globalUnmatched[p] = append(r.globalUnmatched[p], h)
		} else {
			r.componentUnmatched[p] = append(r.componentUnmatched[p], h)
		}
	}
}

// inScope applies spec §4.7.2.1: a non-empty prefix set requires some
// prefix to prefix-match name; a non-empty lifecycle set requires phase
// to be a member. Either filter being empty means "unrestricted".
func (r *componentRegistry) inScope(name string, phase Phase) bool {
	if len(r.scopePrefixes) > 0 {
		matched := false
		for _, p := range r.scopePrefixes {
			if strings.HasPrefix(name, p) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if len(r.scopeLifecycles) > 0 {
		matched := false
		for _, p := range r.scopeLifecycles {
			if p == phase {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// resolveTier runs dot-chop (spec §4.6) over name: try the full name, then
// progressively truncate at the last dot, stopping at the first tier that
// has any handler registered for phase in one of buckets. The empty
// string is never tried as a key.
func (r *componentRegistry) resolveTier(name string, phase Phase, buckets []bucketIdentity) []*Handler {
	tier := name
	for tier != "" {
		if byPhase, ok := r.byName[tier]; ok {
			if byBucket, ok := byPhase[phase]; ok {
				var out []*Handler
				for _, b := range buckets {
					out = append(out, byBucket[b]...)
				}
				if len(out) > 0 {
					return out
				}
			}
		}
		idx := strings.LastIndexByte(tier, '.')
		if idx < 0 {
			break
		}
		tier = tier[:idx]
	}
	return nil
}

// requiredBuckets maps (phase, failed) to the bucket set dispatch should
// union together, per spec §4.7.2.3.
func requiredBuckets(phase Phase, failed bool) []bucketIdentity {
	if phase == FlowStarted {
		return []bucketIdentity{bucketStarted}
	}
	if failed {
		return []bucketIdentity{bucketFailure, bucketCompleted}
	}
	return []bucketIdentity{bucketSuccess, bucketCompleted}
}
