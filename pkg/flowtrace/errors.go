package flowtrace

import "errors"

// Sentinel errors, one per taxonomy entry. Wrap with fmt.Errorf("...: %w", ...)
// so callers can errors.Is/errors.As against these.
var (
	// ErrConfiguration is returned by Register when a component's handler
	// descriptors fail compile-time validation. It is fatal: callers should
	// treat a Register failure as a startup failure, not a runtime one.
	ErrConfiguration = errors.New("flowtrace: configuration error")

	// ErrBinding marks a parameter bind that could not be satisfied (a
	// required throwable source absent or not assignable to the parameter
	// type). The dispatcher drops the one handler invocation; it never
	// reaches the caller of end(). Missing required attribute/context keys
	// do not produce it: such a handler is simply not eligible.
	ErrBinding = errors.New("flowtrace: binding error")

	// ErrStateInconsistent is logged when the active holder stack pops to
	// an unexpected top. The stack and in-progress batch are cleared.
	ErrStateInconsistent = errors.New("flowtrace: state machine inconsistency")
)
