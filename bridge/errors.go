package bridge

import (
	"errors"
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// ---------------------------------------------------------------------------
// Error taxonomy
// ---------------------------------------------------------------------------

var (
	// ErrNoMatchingOverload is returned when no candidate accepts the arguments.
	ErrNoMatchingOverload = errors.New("invalid arguments to call")

	// ErrAmbiguousNil is returned when a nil argument leaves several
	// otherwise identical candidates in contention.
	ErrAmbiguousNil = errors.New("invalid arguments: ambiguous nil argument")

	// ErrGenericInference is returned when the type arguments of an open
	// generic function cannot be inferred or were never instantiated.
	ErrGenericInference = errors.New("unable to invoke open generic method")

	// ErrStackOverflow aborts a call whose results cannot fit on the stack.
	ErrStackOverflow = errors.New("stack overflow")

	// ErrInvalidReceiver is returned when slot 1 of an instance call is not
	// an object of the member's type.
	ErrInvalidReceiver = errors.New("invalid receiver")

	ErrNoAdapter     = errors.New("no adapter registered")
	ErrNotEvent      = errors.New("not an event")
	ErrNotSubscribed = errors.New("subscription not registered")
	ErrUnknownType   = errors.New("unknown type")
	ErrClosed        = errors.New("bridge closed")
)

// ErrorKind classifies errors crossing the call boundary.
type ErrorKind uint8

const (
	KindBinding ErrorKind = iota + 1 // resolution failed, callee never ran
	KindNative                       // the host callee returned an error or panicked
	KindScript                       // script code re-entered through a proxy raised an error
	KindFatal                        // stack exhaustion; callee never ran
)

func (k ErrorKind) String() string {
	switch k {
	case KindBinding:
		return "binding"
	case KindNative:
		return "native"
	case KindScript:
		return "script"
	case KindFatal:
		return "fatal"
	}
	return "unknown"
}

// CallError is raised into the script when a bridged call fails.
// Source names the member ("Type.member") the call site is bound to.
type CallError struct {
	Kind     ErrorKind
	Source   string
	TypeName string // dynamic type of the native cause, for diagnostics
	Err      error
}

func (e *CallError) Error() string {
	if e.Source == "" {
		return e.Err.Error()
	}
	return e.Source + ": " + e.Err.Error()
}

func (e *CallError) Unwrap() error { return e.Err }

// ScriptError is produced when a proxy calls back into the script and the
// script raises. Value is the raised script value.
type ScriptError struct {
	Message string
	Value   lua.LValue
	Cause   error // set when the raised value wraps a host error
}

func (e *ScriptError) Error() string { return e.Message }

func (e *ScriptError) Unwrap() error { return e.Cause }

func bindingError(source string, err error) *CallError {
	return &CallError{Kind: KindBinding, Source: source, Err: err}
}

// nativeError wraps whatever the callee produced. A ScriptError surfacing
// from a nested proxy keeps the script kind.
func nativeError(source string, cause error) *CallError {
	var se *ScriptError
	if errors.As(cause, &se) {
		return &CallError{Kind: KindScript, Source: source, TypeName: fmt.Sprintf("%T", se), Err: se}
	}
	cause = unwrapInvocation(cause)
	return &CallError{Kind: KindNative, Source: source, TypeName: fmt.Sprintf("%T", cause), Err: cause}
}

// unwrapInvocation strips panic wrappers down to the cause the callee
// actually produced.
func unwrapInvocation(err error) error {
	for {
		pe, ok := err.(*panicError)
		if !ok {
			return err
		}
		inner, ok := pe.value.(error)
		if !ok {
			return pe
		}
		err = inner
	}
}

// panicError carries a recovered panic value.
type panicError struct {
	value any
}

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.value) }

func (e *panicError) Unwrap() error {
	if err, ok := e.value.(error); ok {
		return err
	}
	return nil
}

// scriptErrorFrom converts a protected-call failure into a ScriptError.
func scriptErrorFrom(err error) *ScriptError {
	var apiErr *lua.ApiError
	if !errors.As(err, &apiErr) {
		return &ScriptError{Message: err.Error(), Value: lua.LNil, Cause: err}
	}
	se := &ScriptError{Message: apiErr.Error(), Value: apiErr.Object}
	if ud, ok := apiErr.Object.(*lua.LUserData); ok {
		if ce, ok := ud.Value.(*CallError); ok {
			se.Message = ce.Error()
			se.Cause = ce
		}
	} else if apiErr.Object != nil {
		se.Message = apiErr.Object.String()
	}
	if se.Cause == nil {
		se.Cause = apiErr.Cause
	}
	return se
}
