package trace

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// LogrusTransport writes trace records to a logrus logger, for embedders whose platform log is
// already built on logrus
type LogrusTransport struct {
	logger *logrus.Logger
}

var _ Transport = (*LogrusTransport)(nil)

func NewLogrusTransport(logger *logrus.Logger) *LogrusTransport {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &LogrusTransport{logger: logger}
}

func (t *LogrusTransport) Write(level Level, sanitized string) {
	entry := t.logger.WithField("trace", level.String())
	message := strings.TrimRight(Unescape(sanitized), "\n")

	switch level {
	case LevelDebug:
		entry.Debug(message)
	case LevelInfo, LevelPerf:
		entry.Info(message)
	case LevelWarn:
		entry.Warn(message)
	default:
		// logrus' own Fatal level exits the process, which is the Tracer's call to make
		entry.Error(message)
	}
}

type syncer interface {
	Sync() error
}

func (t *LogrusTransport) Flush() error {
	out, ok := t.logger.Out.(syncer)
	if !ok {
		return nil
	}
	return out.Sync()
}
