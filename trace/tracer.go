package trace

import (
	"fmt"
	"os"

	"golang.org/x/exp/slog"
)

// Terminator ends the process after a fatal record has been flushed. The production terminator
// never returns; test harnesses install one that records the code and returns, in which case
// RaiseFatal panics with a *FatalError.
type Terminator func(code CrashCode)

// ExitTerminator is the default Terminator
func ExitTerminator(code CrashCode) {
	os.Exit(1)
}

// Tracer is the process-wide diagnostic channel: it sanitizes free-form text, filters it by level and
// forwards it to a Transport, and owns the fatal escalation path.
type Tracer struct {
	transport Transport
	terminate Terminator
}

// NewTracer creates a tracer writing to transport. A nil transport logs to slog.Default() and a nil
// terminator is replaced with ExitTerminator.
func NewTracer(transport Transport, terminate Terminator) *Tracer {
	if transport == nil {
		transport = NewSlogTransport(slog.Default(), os.Stderr.Sync)
	}
	if terminate == nil {
		terminate = ExitTerminator
	}

	return &Tracer{
		transport: transport,
		terminate: terminate,
	}
}

func (t *Tracer) Transport() Transport {
	return t.transport
}

// WriteLog sanitizes text and forwards it to the transport, unless records of level are compiled out
func (t *Tracer) WriteLog(level Level, text string) {
	if !level.Enabled() {
		return
	}

	t.transport.Write(level, Sanitize(text))
}

// WriteSanitized forwards text that has already been through Sanitize
func (t *Tracer) WriteSanitized(level Level, sanitized string) {
	if !level.Enabled() {
		return
	}

	t.transport.Write(level, sanitized)
}

func (t *Tracer) Debugf(format string, args ...any) {
	if DebugEnabled {
		t.WriteLog(LevelDebug, fmt.Sprintf(format, args...))
	}
}

func (t *Tracer) Infof(format string, args ...any) {
	if DebugEnabled {
		t.WriteLog(LevelInfo, fmt.Sprintf(format, args...))
	}
}

func (t *Tracer) Perff(format string, args ...any) {
	if DebugEnabled {
		t.WriteLog(LevelPerf, fmt.Sprintf(format, args...))
	}
}

func (t *Tracer) Warnf(format string, args ...any) {
	t.WriteLog(LevelWarn, fmt.Sprintf(format, args...))
}

func (t *Tracer) Errorf(format string, args ...any) {
	t.WriteLog(LevelError, fmt.Sprintf(format, args...))
}

func (t *Tracer) Fatalf(format string, args ...any) {
	t.WriteLog(LevelFatal, fmt.Sprintf(format, args...))
}

// RaiseFatal writes the fatal record for code, flushes the transport and terminates the process.
// It never returns.
func (t *Tracer) RaiseFatal(code CrashCode, file string, line int) {
	fatal := &FatalError{Code: code, File: file, Line: line}

	t.WriteLog(LevelFatal, fatal.Error())
	t.Fatalf("%s: please attach this log when reporting the failure", code.Description())

	// Nothing useful can be done with a flush failure this late; the terminator runs regardless
	_ = t.transport.Flush()

	t.terminate(code)
	panic(fatal)
}
