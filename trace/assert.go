package trace

import (
	"path/filepath"
	"runtime"
)

// AssertionFailed reports a failed internal consistency check. The record is always written at
// ERROR; builds with the debug_trace tag then escalate with CodeAssertionFailure.
func (t *Tracer) AssertionFailed(file string, line int, function, assertion string) {
	t.Errorf("ASSERT FAILED %s", assertion)
	t.Errorf("(%s:%d %s)", file, line, function)

	if DebugEnabled {
		t.RaiseFatal(CodeAssertionFailure, file, line)
	}
}

// ArgumentAssertionFailed reports a caller passing an argument that violates a documented contract
func (t *Tracer) ArgumentAssertionFailed(file string, line int, function, argument, assertion string) {
	t.Errorf("ASSERT ARGUMENT BAD: %s, %s", argument, assertion)
	t.Errorf("(%s:%d %s)", file, line, function)

	if DebugEnabled {
		t.RaiseFatal(CodeAssertionFailure, file, line)
	}
}

// Assert calls AssertionFailed with the caller's location when condition is false
func (t *Tracer) Assert(condition bool, expression string) {
	if condition {
		return
	}

	file, line, function := CallerLocation(1)
	t.AssertionFailed(file, line, function, expression)
}

// AssertArgument calls ArgumentAssertionFailed with the caller's location when condition is false
func (t *Tracer) AssertArgument(condition bool, argument, expression string) {
	if condition {
		return
	}

	file, line, function := CallerLocation(1)
	t.ArgumentAssertionFailed(file, line, function, argument, expression)
}

// CallerLocation returns the source location skip frames above the function calling it
func CallerLocation(skip int) (file string, line int, function string) {
	pc, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return "unknown", 0, "unknown"
	}

	function = "unknown"
	if fn := runtime.FuncForPC(pc); fn != nil {
		function = filepath.Base(fn.Name())
	}

	return filepath.Base(file), line, function
}

