package trace

import (
	"fmt"

	"golang.org/x/exp/slog"
)

// Level is the severity of a trace record. The numeric values are part of the platform log
// boundary and must not change.
type Level int32

const (
	LevelDebug Level = iota + 1
	LevelInfo
	LevelPerf
	LevelWarn
	LevelError
	LevelFatal
)

var levelMapping = make(map[Level]string)

func (l Level) String() string {
	str, ok := levelMapping[l]
	if !ok {
		return fmt.Sprintf("Level(%d)", int32(l))
	}
	return str
}

func init() {
	levelMapping[LevelDebug] = "DEBUG"
	levelMapping[LevelInfo] = "INFO"
	levelMapping[LevelPerf] = "PERF"
	levelMapping[LevelWarn] = "WARN"
	levelMapping[LevelError] = "ERROR"
	levelMapping[LevelFatal] = "FATAL"
}

// Enabled reports whether records of this level are compiled in. DEBUG, INFO and PERF records
// only exist in builds with the debug_trace tag.
func (l Level) Enabled() bool {
	if l < LevelDebug || l > LevelFatal {
		return false
	}
	if l <= LevelPerf {
		return DebugEnabled
	}
	return true
}

// SlogLevel maps the trace level onto the closest slog level. PERF sits just above INFO and FATAL
// sits above ERROR so handlers can still filter them apart.
func (l Level) SlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelPerf:
		return slog.LevelInfo + 1
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	}

	return slog.LevelError + 4
}
