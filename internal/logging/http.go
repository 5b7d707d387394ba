package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

const (
	defaultBatchSize     = 100
	defaultFlushInterval = 5 * time.Second
)

// HTTPOutput POSTs batches of entries as a JSON array.
type HTTPOutput struct {
	url           string
	authToken     string
	batchSize     int
	flushInterval time.Duration
	client        *http.Client

	mu       sync.Mutex
	buffer   []*LogEntry
	sendMu   sync.Mutex
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewHTTPOutput creates a new HTTP output
func NewHTTPOutput(url, authToken string, batchSize int, flushInterval time.Duration) *HTTPOutput {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}
	output := &HTTPOutput{
		url:           url,
		authToken:     authToken,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		buffer:   make([]*LogEntry, 0, batchSize),
		stopChan: make(chan struct{}),
	}

	// Start background flusher
	output.wg.Add(1)
	go output.flusher()

	return output
}

// Write adds a log entry to the buffer. A full buffer is sent in the
// background.
func (h *HTTPOutput) Write(entry *LogEntry) error {
	h.mu.Lock()
	h.buffer = append(h.buffer, entry)
	var batch []*LogEntry
	if len(h.buffer) >= h.batchSize {
		batch = h.takeLocked()
	}
	h.mu.Unlock()

	if batch != nil {
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			_ = h.send(batch)
		}()
	}
	return nil
}

// flusher periodically flushes the buffer
func (h *HTTPOutput) flusher() {
	defer h.wg.Done()

	ticker := time.NewTicker(h.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = h.Flush()
		case <-h.stopChan:
			return
		}
	}
}

// Flush sends whatever is buffered and waits for the response.
func (h *HTTPOutput) Flush() error {
	h.mu.Lock()
	batch := h.takeLocked()
	h.mu.Unlock()
	if batch == nil {
		return nil
	}
	return h.send(batch)
}

func (h *HTTPOutput) takeLocked() []*LogEntry {
	if len(h.buffer) == 0 {
		return nil
	}
	batch := make([]*LogEntry, len(h.buffer))
	copy(batch, h.buffer)
	h.buffer = h.buffer[:0]
	return batch
}

func (h *HTTPOutput) send(entries []*LogEntry) error {
	h.sendMu.Lock()
	defer h.sendMu.Unlock()

	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to marshal log entries: %w", err)
	}

	req, err := http.NewRequest("POST", h.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+h.authToken)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send logs: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// Close stops the flusher, waits for in-flight batches and sends the rest.
func (h *HTTPOutput) Close() error {
	close(h.stopChan)
	h.wg.Wait()
	return h.Flush()
}
