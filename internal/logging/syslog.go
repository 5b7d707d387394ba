package logging

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"sync"
)

// SyslogOutput sends logs to a syslog server using raw TCP/UDP
type SyslogOutput struct {
	conn     net.Conn
	protocol string
	addr     string
	tag      string
	mu       sync.Mutex
}

// Syslog severity levels (RFC 5424)
const (
	severityCritical = 2
	severityError    = 3
	severityWarning  = 4
	severityInfo     = 6
	severityDebug    = 7
)

// Syslog facility (LOG_DAEMON = 3)
const facilityDaemon = 3

// NewSyslogOutput connects to the syslog server at addr (host:port).
func NewSyslogOutput(protocol, addr, tag string) (*SyslogOutput, error) {
	conn, err := net.Dial(protocol, addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to syslog: %w", err)
	}

	return &SyslogOutput{
		conn:     conn,
		protocol: protocol,
		addr:     addr,
		tag:      tag,
	}, nil
}

func severity(level string) int {
	switch level {
	case "debug", "trace":
		return severityDebug
	case "warn", "warning":
		return severityWarning
	case "error":
		return severityError
	case "fatal", "panic":
		return severityCritical
	default:
		return severityInfo
	}
}

// Write sends a log entry to syslog
func (s *SyslogOutput) Write(entry *LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return fmt.Errorf("syslog connection is closed")
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}

	// RFC 3164: <priority>timestamp tag[pid]: message
	message := fmt.Sprintf("<%d>%s %s[%d]: %s\n",
		facilityDaemon*8+severity(entry.Level),
		entry.Timestamp.Format("Jan 2 15:04:05"),
		s.tag,
		os.Getpid(),
		string(data),
	)

	if _, err = s.conn.Write([]byte(message)); err == nil {
		return nil
	}

	// Try to reconnect on write failure
	s.conn.Close()
	conn, reconnectErr := net.Dial(s.protocol, s.addr)
	if reconnectErr != nil {
		s.conn = nil
		return fmt.Errorf("failed to write to syslog and reconnect failed: %w", err)
	}
	s.conn = conn

	if _, err = s.conn.Write([]byte(message)); err != nil {
		return fmt.Errorf("failed to write to syslog after reconnect: %w", err)
	}
	return nil
}

// Close closes the syslog connection
func (s *SyslogOutput) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		err := s.conn.Close()
		s.conn = nil
		return err
	}
	return nil
}
