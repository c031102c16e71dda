// Package audit provides the append-only audit trail for control-plane actions.
//
// Records are written as one compact JSON object per line. The log is the
// source of truth for operator activity, so writes are fsync'd and failures
// surface to the caller rather than being swallowed.
package audit

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Record is a single audit trail entry.
type Record struct {
	AuditID string `json:"auditId"`
	Ts      string `json:"ts"`
	Actor   string `json:"actor"`
	Action  string `json:"action"`
	TraceID string `json:"traceId"`
	Data    any    `json:"data"`
}

// Logger appends audit records to a JSONL file.
type Logger struct {
	mu     sync.Mutex
	path   string
	logger *slog.Logger
	now    func() time.Time
}

// NewLogger creates an audit logger writing to path. Parent directories are
// created on demand at write time.
func NewLogger(path string) *Logger {
	return &Logger{
		path:   path,
		logger: slog.With("component", "audit"),
		now:    time.Now,
	}
}

// Append writes one record to the audit trail and returns it with the
// generated auditId and timestamp filled in.
func (l *Logger) Append(actor, action, traceID string, data any) (*Record, error) {
	record := &Record{
		AuditID: newAuditID(),
		Ts:      l.now().UTC().Format(time.RFC3339),
		Actor:   actor,
		Action:  action,
		TraceID: traceID,
		Data:    data,
	}

	line, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal audit record: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return nil, fmt.Errorf("failed to append audit record: %w", err)
	}
	if err := f.Sync(); err != nil {
		return nil, fmt.Errorf("failed to sync audit log: %w", err)
	}

	l.logger.Debug("Audit record appended", "action", action, "trace_id", traceID)
	return record, nil
}

// ReadAll loads every record from the audit trail in file order. Blank lines
// are skipped; a missing file yields an empty slice.
func (l *Logger) ReadAll() ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []Record{}, nil
		}
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	defer f.Close()

	records := []Record{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var record Record
		if err := json.Unmarshal(line, &record); err != nil {
			return nil, fmt.Errorf("corrupt audit record: %w", err)
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit log: %w", err)
	}
	return records, nil
}

func newAuditID() string {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms
		panic(fmt.Sprintf("audit id generation failed: %v", err))
	}
	return "audit_" + hex.EncodeToString(buf)
}
