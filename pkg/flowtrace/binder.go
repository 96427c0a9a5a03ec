package flowtrace

import (
	"errors"
	"fmt"
	"reflect"
)

// bindArgs builds the reflect.Value argument vector for one handler
// invocation (spec §4.8). It returns ErrBinding, wrapped with the failing
// parameter's position, when a required throwable source is absent — the
// dispatcher treats that as dropping the invocation, not as a crash.
func bindArgs(h *Handler, holder *Holder, phase Phase, batch []*Holder) ([]reflect.Value, error) {
	args := make([]reflect.Value, len(h.params))
	for i, p := range h.params {
		v, err := bindOne(p, holder, phase, batch)
		if err != nil {
			return nil, fmt.Errorf("param %d: %w", i, err)
		}
		args[i] = v
	}
	return args, nil
}

func bindOne(p compiledParam, holder *Holder, phase Phase, batch []*Holder) (reflect.Value, error) {
	switch p.kind {
	case paramHolderDefault:
		return reflect.ValueOf(holder), nil
	case paramLifecycleDefault:
		return reflect.ValueOf(phase), nil
	case paramKindDefault:
		return reflect.ValueOf(holder.Kind), nil
	case paramThrowableDefault:
		return throwableValue(holder.Throwable, p.paramType), nil
	case paramThrowableBind:
		return bindThrowable(p, holder.Throwable)
	case paramAttrBind:
		raw, ok := holder.Attributes.Get(p.key)
		return coerce(raw, ok, p.paramType), nil
	case paramContextBind:
		raw, ok := holder.EventContext.Get(p.key)
		return coerce(raw, ok, p.paramType), nil
	case paramAttrAllBind:
		return bindAllMap(holder.Attributes, p.paramType), nil
	case paramContextAllBind:
		return bindAllMap(holder.EventContext, p.paramType), nil
	case paramBatchBind:
		if phase != RootFlowFinished || batch == nil {
			return reflect.Zero(p.paramType), nil
		}
		return reflect.ValueOf(batch), nil
	default: // paramNilDefault
		return reflect.Zero(p.paramType), nil
	}
}

func throwableValue(err error, target reflect.Type) reflect.Value {
	if err == nil {
		return reflect.Zero(target)
	}
	rv := reflect.ValueOf(err)
	if rv.Type().AssignableTo(target) {
		return rv
	}
	return reflect.Zero(target)
}

// bindThrowable selects self/cause/root-cause of err (spec §4.8 "throwable
// bind"). If the selected error is absent and the bind is Required, it
// returns ErrBinding; otherwise an absent selection yields the zero value.
func bindThrowable(p compiledParam, err error) (reflect.Value, error) {
	var selected error
	switch p.selector {
	case ThrowableCause:
		selected = errors.Unwrap(err)
	case ThrowableRootCause:
		selected = rootCause(err)
	default:
		selected = err
	}

	if selected == nil {
		if p.required {
			return reflect.Value{}, fmt.Errorf("%w: required throwable source is absent", ErrBinding)
		}
		return reflect.Zero(p.paramType), nil
	}

	rv := reflect.ValueOf(selected)
	if !rv.Type().AssignableTo(p.paramType) {
		if p.required {
			return reflect.Value{}, fmt.Errorf("%w: throwable of type %s is not assignable to %s", ErrBinding, rv.Type(), p.paramType)
		}
		return reflect.Zero(p.paramType), nil
	}
	return rv, nil
}

func rootCause(err error) error {
	if err == nil {
		return nil
	}
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}

func bindAllMap(m *AttrMap, target reflect.Type) reflect.Value {
	clone := m.Clone()
	if target == attrMapType {
		return reflect.ValueOf(clone)
	}
	// Defensive copy into a plain map[string]any for handlers that prefer
	// not to depend on *AttrMap directly (spec: "handlers cannot mutate
	// the holder's internal state").
	out := reflect.MakeMapWithSize(target, clone.Len())
	clone.Range(func(k string, v any) bool {
		out.SetMapIndex(reflect.ValueOf(k), reflect.ValueOf(&v).Elem())
		return true
	})
	return out
}

// coerce implements the attribute/context pull coercion rules (spec §4.8):
// identity for assignable values, widening numeric coercions, toString
// when the target is a string, and null (the zero value) for anything
// that would otherwise require a narrowing or unsupported conversion.
func coerce(raw any, present bool, target reflect.Type) reflect.Value {
	if !present || raw == nil {
		return reflect.Zero(target)
	}

	rv := reflect.ValueOf(raw)
	if rv.Type().AssignableTo(target) {
		return rv
	}

	if target.Kind() == reflect.String {
		return reflect.ValueOf(fmt.Sprintf("%v", raw))
	}

	if w, ok := widenNumeric(rv, target); ok {
		return w
	}

	return reflect.Zero(target)
}

// widenNumeric allows only widening conversions (a signed integer into a
// same-or-wider signed integer, or a float or listed integer kind into a
// float target), per spec: "Coercion must never silently downcast a
// narrower numeric value."
func widenNumeric(rv reflect.Value, target reflect.Type) (reflect.Value, bool) {
	srcKind := rv.Kind()

	switch target.Kind() {
	case reflect.Int64, reflect.Int:
		switch srcKind {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			if bitSize(srcKind) <= bitSize(target.Kind()) {
				return rv.Convert(target), true
			}
		}
	case reflect.Float64:
		switch srcKind {
		case reflect.Float32, reflect.Float64,
			reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32:
			return rv.Convert(target), true
		}
	case reflect.Float32:
		switch srcKind {
		case reflect.Float32, reflect.Int8, reflect.Int16:
			return rv.Convert(target), true
		}
	}
	return reflect.Value{}, false
}

func bitSize(k reflect.Kind) int {
	switch k {
	case reflect.Int8:
		return 8
	case reflect.Int16:
		return 16
	case reflect.Int32:
		return 32
	case reflect.Int, reflect.Int64:
		return 64
	default:
		return 0
	}
}
