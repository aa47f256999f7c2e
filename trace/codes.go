package trace

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// CrashCode identifies why the process was terminated. External crash triage tooling keys off these
// values, so existing codes never change meaning.
type CrashCode uint32

const (
	CodeBase             CrashCode = 0x49DE00
	CodePoolExhausted    CrashCode = CodeBase | 0x01
	CodeAssertionFailure CrashCode = CodeBase | 0x02
	CodeUnknown          CrashCode = CodeBase | 0x03
	CodeOverflow         CrashCode = CodeBase | 0x04
)

var crashCodeMapping = make(map[CrashCode]string)

func (c CrashCode) String() string {
	str, ok := crashCodeMapping[c]
	if !ok {
		return fmt.Sprintf("CrashCode(0x%X)", uint32(c))
	}
	return str
}

// Description returns the human-readable meaning of the code, as printed in the crash code table
func (c CrashCode) Description() string {
	switch c {
	case CodePoolExhausted:
		return "memory pool exhausted"
	case CodeAssertionFailure:
		return "debug assertion failure"
	case CodeOverflow:
		return "allocation size overflow"
	}
	return "unclassified fatal error"
}

func init() {
	crashCodeMapping[CodePoolExhausted] = "CodePoolExhausted"
	crashCodeMapping[CodeAssertionFailure] = "CodeAssertionFailure"
	crashCodeMapping[CodeUnknown] = "CodeUnknown"
	crashCodeMapping[CodeOverflow] = "CodeOverflow"
}

// KnownCodes lists every crash code in ascending order
func KnownCodes() []CrashCode {
	return []CrashCode{CodePoolExhausted, CodeAssertionFailure, CodeUnknown, CodeOverflow}
}

// FatalError is the panic value used by RaiseFatal when the installed Terminator returns instead of
// ending the process, which only happens under a test harness.
type FatalError struct {
	Code CrashCode
	File string
	Line int
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal error 0x%X at %s line %d", uint32(e.Code), e.File, e.Line)
}

// CodeOf extracts the crash code from an error produced by RaiseFatal
func CodeOf(err error) (CrashCode, bool) {
	var fatal *FatalError
	if errors.As(err, &fatal) {
		return fatal.Code, true
	}
	return 0, false
}
