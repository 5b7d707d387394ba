// Package logging ships log entries to remote collectors through a logrus
// hook.
package logging

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"
)

// ErrUnsupportedTarget is returned by NewOutput for unknown URL schemes.
var ErrUnsupportedTarget = errors.New("unsupported log output target")

// Output represents a log output destination
type Output interface {
	Write(entry *LogEntry) error
	Close() error
}

// LogEntry represents a structured log entry
type LogEntry struct {
	Timestamp time.Time              `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// NewOutput creates the output named by target:
//
//	udp://host:514, tcp://host:514   syslog
//	http://..., https://...          batched JSON POSTs
func NewOutput(target, tag string) (Output, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrUnsupportedTarget, target, err)
	}

	switch u.Scheme {
	case "udp", "tcp":
		if _, _, err := net.SplitHostPort(u.Host); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrUnsupportedTarget, target, err)
		}
		return NewSyslogOutput(u.Scheme, u.Host, tag)
	case "http", "https":
		token := ""
		if u.User != nil {
			token, _ = u.User.Password()
			u.User = nil
		}
		return NewHTTPOutput(u.String(), token, defaultBatchSize, defaultFlushInterval), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedTarget, target)
	}
}
