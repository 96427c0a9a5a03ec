// Package flowtrace models program execution as a tree of flows (root
// operations) and steps (nested units of work), emits lifecycle signals for
// each, and routes those signals to handlers registered declaratively on
// user components.
//
// The package owns the dispatch subsystem only: identifier generation,
// the flow/step state machine, handler compilation and registration, the
// matching engine, and parameter binding. Method interception (the code
// that calls Begin/End around a user function), persistent exporters, and
// configuration loading are external collaborators — see package
// flowtrace/otelexport for a worked exporter and package fiberserver
// (FlowTrace, Step) for a worked interceptor.
package flowtrace
