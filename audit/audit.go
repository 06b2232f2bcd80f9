// Package audit provides an append-only JSONL journal of every
// reconciliation decision and lifecycle action, for replay and forensics.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Event defines the type of journal entry
type Event string

const (
	EventSweepStarted    Event = "sweep_started"
	EventSweepCompleted  Event = "sweep_completed"
	EventOrphanExpected  Event = "orphan_expected"
	EventOrphanAnomalous Event = "orphan_anomalous"
	EventDriftResolved   Event = "drift_resolved"
	EventMarkedError     Event = "marked_error"
	EventDeleteRequested Event = "delete_requested"
	EventDeleted         Event = "deleted"
	EventDeleteFailed    Event = "delete_failed"
	EventPartialTeardown Event = "partial_teardown"
	EventReleased        Event = "released"
	EventAdopted         Event = "adopted"
	EventAdoptFailed     Event = "adopt_failed"
	EventStatusChanged   Event = "status_changed"
)

// Entry represents a single journal entry
type Entry struct {
	Timestamp  time.Time       `json:"timestamp"`
	Sequence   int64           `json:"sequence"`
	Event      Event           `json:"event"`
	WorkloadID string          `json:"workload_id,omitempty"`
	Handle     string          `json:"handle,omitempty"`
	Data       json.RawMessage `json:"data"`
	Error      string          `json:"error,omitempty"`
}

// Config controls journal rotation and retention
type Config struct {
	FilePrefix    string
	RetentionDays int
	MaxFileSize   int64
}

// DefaultConfig returns production journal settings
func DefaultConfig() Config {
	return Config{
		FilePrefix:    "warden",
		RetentionDays: 30,
		MaxFileSize:   100 * 1024 * 1024,
	}
}

// Log is the append-only journal. Entries are flushed and synced on
// every append so a crash never loses an acknowledged record.
type Log struct {
	mu       sync.Mutex
	file     *os.File
	writer   *bufio.Writer
	sequence int64
	dir      string
	config   Config
}

// Open creates or opens a journal in the specified directory
func Open(dir string) (*Log, error) {
	return OpenWithConfig(dir, DefaultConfig())
}

// OpenWithConfig creates or opens a journal with explicit settings
func OpenWithConfig(dir string, config Config) (*Log, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	l := &Log{
		dir:    dir,
		config: config,
	}

	// Continue the sequence from existing files
	l.loadSequence()

	if err := l.openFile(); err != nil {
		return nil, err
	}

	return l, nil
}

// openFile opens a fresh timestamped journal file
func (l *Log) openFile() error {
	// Nanosecond fraction keeps names unique when rotating within a second
	filename := fmt.Sprintf("%s-%s.wal", l.config.FilePrefix, time.Now().Format("20060102-150405.000000000"))
	path := filepath.Join(l.dir, filename)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open audit file: %w", err)
	}

	l.file = file
	l.writer = bufio.NewWriter(file)
	return nil
}

// Close flushes and closes the journal
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.writer.Flush(); err != nil {
		return err
	}
	return l.file.Close()
}

// Append adds an entry to the journal
func (l *Log) Append(event Event, workloadID, handle string, data interface{}) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.sequence++

	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	entry := Entry{
		Timestamp:  time.Now(),
		Sequence:   l.sequence,
		Event:      event,
		WorkloadID: workloadID,
		Handle:     handle,
		Data:       jsonData,
	}

	return l.writeEntry(entry)
}

// AppendError adds an entry carrying a failure
func (l *Log) AppendError(event Event, workloadID, handle string, data interface{}, errToLog error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.sequence++

	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	entry := Entry{
		Timestamp:  time.Now(),
		Sequence:   l.sequence,
		Event:      event,
		WorkloadID: workloadID,
		Handle:     handle,
		Data:       jsonData,
		Error:      errToLog.Error(),
	}

	return l.writeEntry(entry)
}

// writeEntry writes a single entry, rotating first if the file is full
func (l *Log) writeEntry(entry Entry) error {
	if l.shouldRotate() {
		if err := l.rotate(); err != nil {
			return err
		}
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	if _, err := l.writer.Write(line); err != nil {
		return fmt.Errorf("failed to write entry: %w", err)
	}

	if _, err := l.writer.WriteString("\n"); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	// Flush immediately for durability
	if err := l.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	return l.file.Sync()
}

// shouldRotate reports whether the current file reached its size limit
func (l *Log) shouldRotate() bool {
	if l.config.MaxFileSize <= 0 {
		return false
	}
	return l.getCurrentFileSize() >= l.config.MaxFileSize
}

// rotate closes the current file and starts a new one
func (l *Log) rotate() error {
	if err := l.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush before rotation: %w", err)
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("failed to close before rotation: %w", err)
	}
	return l.openFile()
}

// getCurrentFileSize returns size of the current journal file
func (l *Log) getCurrentFileSize() int64 {
	info, err := l.file.Stat()
	if err != nil {
		return 0
	}
	return info.Size()
}

// listFiles returns all journal files in the directory
func (l *Log) listFiles() []string {
	return findAllFiles(l.dir, l.config.FilePrefix)
}

// loadSequence continues from the highest sequence across existing files
func (l *Log) loadSequence() {
	l.sequence = findLastSequenceInFiles(l.listFiles())
}

// Reader provides journal replay functionality
type Reader struct {
	scanner *bufio.Scanner
	file    *os.File
}

// NewReader creates a journal reader for the specified file
func NewReader(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}

	return &Reader{
		scanner: bufio.NewScanner(file),
		file:    file,
	}, nil
}

// Next reads the next entry from the journal
func (r *Reader) Next() (*Entry, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}

	var entry Entry
	if err := json.Unmarshal(r.scanner.Bytes(), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entry: %w", err)
	}

	return &entry, nil
}

// Close closes the reader
func (r *Reader) Close() error {
	return r.file.Close()
}

// Replay replays journal entries recorded after a specific time
func Replay(dir string, since time.Time, handler func(*Entry) error) error {
	return ReplayWithConfig(dir, DefaultConfig(), since, handler)
}

// ReplayWithConfig replays entries using an explicit file prefix
func ReplayWithConfig(dir string, config Config, since time.Time, handler func(*Entry) error) error {
	files := findAllFiles(dir, config.FilePrefix)

	for _, file := range files {
		reader, err := NewReader(file)
		if err != nil {
			return err
		}
		defer func() { _ = reader.Close() }()

		for {
			entry, err := reader.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				return err
			}

			if entry.Timestamp.After(since) {
				if err := handler(entry); err != nil {
					return err
				}
			}
		}
	}

	return nil
}
