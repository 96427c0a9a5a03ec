package flowtrace

import "testing"

// ============================================================================
// SCOPE
// ============================================================================

func TestInScope_EmptyFiltersAreUnrestricted(t *testing.T) {
	r := newComponentRegistry("x", nil, nil, false)
	if !r.inScope("anything.at.all", FlowStarted) {
		t.Fatal("a registry with no scope prefixes or lifecycles must be unrestricted")
	}
}

func TestInScope_PrefixFilter(t *testing.T) {
	r := newComponentRegistry("x", []string{"http.", "grpc."}, nil, false)
	if !r.inScope("http.users", FlowStarted) {
		t.Fatal("expected a match on the \"http.\" prefix")
	}
	if !r.inScope("grpc.orders", FlowStarted) {
		t.Fatal("expected a match on the \"grpc.\" prefix")
	}
	if r.inScope("worker.job", FlowStarted) {
		t.Fatal("expected no match for a name outside both prefixes")
	}
}

func TestInScope_LifecycleFilter(t *testing.T) {
	r := newComponentRegistry("x", nil, []Phase{RootFlowFinished}, false)
	if r.inScope("order.create", FlowStarted) {
		t.Fatal("expected FLOW_STARTED to be out of scope when only ROOT_FLOW_FINISHED is declared")
	}
	if !r.inScope("order.create", RootFlowFinished) {
		t.Fatal("expected ROOT_FLOW_FINISHED to be in scope")
	}
}

// ============================================================================
// DOT-CHOP RESOLUTION
// ============================================================================

func TestResolveTier_ExactMatchBeforeChop(t *testing.T) {
	r := newComponentRegistry("x", nil, nil, false)
	exact := &Handler{name: "order.create.validate", phase: FlowFinished, identity: bucketSuccess}
	parent := &Handler{name: "order.create", phase: FlowFinished, identity: bucketSuccess}
	r.addNamed(exact)
	r.addNamed(parent)

	got := r.resolveTier("order.create.validate", FlowFinished, []bucketIdentity{bucketSuccess})
	if len(got) != 1 || got[0] != exact {
		t.Fatalf("expected the exact-tier handler to win, got %+v", got)
	}
}

func TestResolveTier_ChopsUntilAMatchingTier(t *testing.T) {
	r := newComponentRegistry("x", nil, nil, false)
	parent := &Handler{name: "order.create", phase: FlowFinished, identity: bucketSuccess}
	r.addNamed(parent)

	got := r.resolveTier("order.create.validate.step", FlowFinished, []bucketIdentity{bucketSuccess})
	if len(got) != 1 || got[0] != parent {
		t.Fatalf("expected the chopped tier to resolve to the registered parent handler, got %+v", got)
	}
}

func TestResolveTier_NoMatchAtAnyTier(t *testing.T) {
	r := newComponentRegistry("x", nil, nil, false)
	r.addNamed(&Handler{name: "payment.charge", phase: FlowFinished, identity: bucketSuccess})

	got := r.resolveTier("order.create", FlowFinished, []bucketIdentity{bucketSuccess})
	if got != nil {
		t.Fatalf("expected no handlers for an unrelated name tree, got %+v", got)
	}
}

func TestResolveTier_BucketUnion(t *testing.T) {
	r := newComponentRegistry("x", nil, nil, false)
	success := &Handler{name: "order.create", phase: FlowFinished, identity: bucketSuccess}
	completed := &Handler{name: "order.create", phase: FlowFinished, identity: bucketCompleted}
	r.addNamed(success)
	r.addNamed(completed)

	got := r.resolveTier("order.create", FlowFinished, []bucketIdentity{bucketSuccess, bucketCompleted})
	if len(got) != 2 {
		t.Fatalf("expected both the success and completed bucket handlers, got %d", len(got))
	}
}

// ============================================================================
// COMPONENT-UNMATCHED / GLOBAL-UNMATCHED WIRING
// ============================================================================

func TestAddUnmatched_DefaultsToAllThreePhases(t *testing.T) {
	r := newComponentRegistry("x", nil, nil, false)
	r.addUnmatched(&Handler{})

	for _, p := range []Phase{FlowStarted, FlowFinished, RootFlowFinished} {
		if len(r.componentUnmatched[p]) != 1 {
			t.Fatalf("expected an unmatched handler with no declared lifecycles to register for phase %s", p)
		}
	}
}

func TestAddUnmatched_RespectsDeclaredLifecycles(t *testing.T) {
	r := newComponentRegistry("x", nil, nil, false)
	r.addUnmatched(&Handler{declaredLifecycles: []Phase{RootFlowFinished}})

	if len(r.componentUnmatched[FlowStarted]) != 0 {
		t.Fatal("expected no FLOW_STARTED registration when only ROOT_FLOW_FINISHED was declared")
	}
	if len(r.componentUnmatched[RootFlowFinished]) != 1 {
		t.Fatal("expected the declared ROOT_FLOW_FINISHED registration")
	}
}

func TestAddUnmatched_OnlyGlobalRegistriesPopulateGlobalUnmatched(t *testing.T) {
	local := newComponentRegistry("x", nil, nil, false)
	local.addUnmatched(&Handler{})
	if len(local.globalUnmatched[FlowStarted]) != 0 {
		t.Fatal("a non-global component must not populate globalUnmatched")
	}

	global := newComponentRegistry("y", nil, nil, true)
	global.addUnmatched(&Handler{})
	if len(global.globalUnmatched[FlowStarted]) != 1 {
		t.Fatal("a global component must populate globalUnmatched")
	}
}

// ============================================================================
// REQUIRED BUCKETS
// ============================================================================

func TestRequiredBuckets(t *testing.T) {
	cases := []struct {
		name   string
		phase  Phase
		failed bool
		want   []bucketIdentity
	}{
		{"started", FlowStarted, false, []bucketIdentity{bucketStarted}},
		{"finished success", FlowFinished, false, []bucketIdentity{bucketSuccess, bucketCompleted}},
		{"finished failure", FlowFinished, true, []bucketIdentity{bucketFailure, bucketCompleted}},
		{"root finished success", RootFlowFinished, false, []bucketIdentity{bucketSuccess, bucketCompleted}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := requiredBuckets(tc.phase, tc.failed)
			if len(got) != len(tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("got %v, want %v", got, tc.want)
				}
			}
		})
	}
}
