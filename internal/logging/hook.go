package logging

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// OutputHook is a logrus hook that sends logs to an Output
type OutputHook struct {
	output Output
	levels []logrus.Level
}

// NewOutputHook creates a hook firing for level and everything more severe.
func NewOutputHook(output Output, level logrus.Level) *OutputHook {
	var levels []logrus.Level
	for _, l := range logrus.AllLevels {
		if l <= level {
			levels = append(levels, l)
		}
	}
	return &OutputHook{
		output: output,
		levels: levels,
	}
}

// Levels returns the log levels this hook should fire for
func (h *OutputHook) Levels() []logrus.Level {
	return h.levels
}

// Fire is called when a log event occurs
func (h *OutputHook) Fire(entry *logrus.Entry) error {
	logEntry := &LogEntry{
		Timestamp: entry.Time,
		Level:     entry.Level.String(),
		Message:   entry.Message,
		Fields:    make(map[string]interface{}, len(entry.Data)),
	}
	for k, v := range entry.Data {
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		logEntry.Fields[k] = v
	}

	if err := h.output.Write(logEntry); err != nil {
		// logging through entry.Logger would re-enter this hook
		fmt.Fprintf(os.Stderr, "failed to write to log output: %v\n", err)
	}
	return nil
}

// Close closes the underlying output.
func (h *OutputHook) Close() error {
	return h.output.Close()
}
