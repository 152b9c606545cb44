// Package audit keeps the tamper-evident record of everything the assistant
// did: one entry per tool step plus one summary per turn. Entries go to a
// JSONL file that survives crashes mid-write and, when a table sink is
// attached, to the append-only audit table in the memory store.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// AUDIT LOGGER
// =============================================================================

const (
	bufferSize   = 20
	maxLogSizeMB = 10
)

// Entry is one audit record. Step numbers are strictly increasing within a
// conversation; the summary entry uses step 0.
type Entry struct {
	Time           time.Time `json:"ts"`
	ConversationID string    `json:"conversation"`
	Step           int       `json:"step"`
	Action         string    `json:"action"`
	Outcome        string    `json:"outcome"`
	Detail         string    `json:"detail,omitempty"`
}

// Sink receives every flushed entry in order. The memory store's audit
// table implements it.
type Sink interface {
	Append(ctx context.Context, e Entry) error
}

// Logger buffers entries and writes them in batches. The mutex only guards
// the buffer; file writes happen after it is released, so Record never
// blocks on disk and never re-enters the lock from the flush path.
type Logger struct {
	mu     sync.Mutex
	buf    []Entry
	path   string
	sink   Sink
	log    *zap.Logger
	writeM sync.Mutex // serializes batch writes, separate from the buffer lock
}

// New creates the logger and its directory. sink may be nil.
func New(path string, sink Sink, log *zap.Logger) (*Logger, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create audit directory: %w", err)
		}
	}
	return &Logger{
		buf:  make([]Entry, 0, bufferSize),
		path: path,
		sink: sink,
		log:  log,
	}, nil
}

// Record buffers an entry, stamping the time if unset. A full buffer is
// swapped out under the lock and written after release.
func (l *Logger) Record(e Entry) {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}

	l.mu.Lock()
	l.buf = append(l.buf, e)
	var batch []Entry
	if len(l.buf) >= bufferSize {
		batch = l.buf
		l.buf = make([]Entry, 0, bufferSize)
	}
	l.mu.Unlock()

	if batch != nil {
		l.writeBatch(batch)
	}
}

// Flush writes everything buffered so far. The orchestrator calls it after
// recording each step, before acting on the step's result.
func (l *Logger) Flush() {
	l.mu.Lock()
	batch := l.buf
	l.buf = make([]Entry, 0, bufferSize)
	l.mu.Unlock()

	if len(batch) > 0 {
		l.writeBatch(batch)
	}
}

// Close flushes and stops. The file handle is per-batch, so there is
// nothing else to release.
func (l *Logger) Close() {
	l.Flush()
}

// writeBatch appends a batch to the JSONL file and mirrors it to the sink.
// On write failure the batch is put back at the front of the buffer so no
// entry is silently dropped.
func (l *Logger) writeBatch(batch []Entry) {
	l.writeM.Lock()
	defer l.writeM.Unlock()

	l.rotateIfNeeded()

	if err := l.appendFile(batch); err != nil {
		l.log.Error("audit write failed, restoring batch", zap.Error(err))
		l.mu.Lock()
		l.buf = append(batch, l.buf...)
		l.mu.Unlock()
		return
	}

	if l.sink != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, e := range batch {
			if err := l.sink.Append(ctx, e); err != nil {
				l.log.Error("audit sink append failed", zap.Error(err))
				return
			}
		}
	}
}

func (l *Logger) appendFile(batch []Entry) error {
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, e := range batch {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	return f.Sync()
}

// rotateIfNeeded renames the file aside once it crosses the size cap. The
// trail stays append-only: nothing is truncated or rewritten.
func (l *Logger) rotateIfNeeded() {
	info, err := os.Stat(l.path)
	if err != nil || info.Size() < maxLogSizeMB*1024*1024 {
		return
	}

	rotated := fmt.Sprintf("%s.%s", l.path, time.Now().UTC().Format("20060102T150405"))
	if err := os.Rename(l.path, rotated); err != nil {
		l.log.Error("audit rotation failed", zap.Error(err))
		return
	}
	l.log.Info("audit log rotated", zap.String("to", rotated))
}
