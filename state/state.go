package state

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// JournalFile is the file name used inside the state directory.
const JournalFile = "moves.jsonl"

// Record is one successful move. UIDs are only meaningful together with the
// source folder they were moved out of.
type Record struct {
	UID      uint32    `json:"uid"`
	Category string    `json:"category"`
	Source   string    `json:"source"`
	Folder   string    `json:"folder"`
	MovedAt  time.Time `json:"moved_at"`
	BatchID  string    `json:"batch_id"`
}

// Journal is an append-only audit of moves. It is never consulted for
// control flow; after a hard failure it tells the user what already moved.
type Journal interface {
	Record(rec Record) error
	Snapshot() Snapshot
}

type Snapshot struct {
	Recorded int
}

type MemoryJournal struct {
	mu      sync.RWMutex
	records []Record
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{}
}

func (m *MemoryJournal) Record(rec Record) error {
	m.mu.Lock()
	m.records = append(m.records, rec)
	m.mu.Unlock()
	return nil
}

func (m *MemoryJournal) Records() []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, len(m.records))
	copy(out, m.records)
	return out
}

func (m *MemoryJournal) Snapshot() Snapshot {
	m.mu.RLock()
	count := len(m.records)
	m.mu.RUnlock()
	return Snapshot{Recorded: count}
}

// FileJournal appends records as JSON lines to <stateDir>/moves.jsonl.
type FileJournal struct {
	*MemoryJournal
	path    string
	writer  *bufio.Writer
	file    *os.File
	writeMu sync.Mutex
}

func NewFileJournal(stateDir string) (*FileJournal, error) {
	if strings.TrimSpace(stateDir) == "" {
		return nil, fmt.Errorf("state directory is empty")
	}

	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	path := filepath.Join(stateDir, JournalFile)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open journal for append: %w", err)
	}

	return &FileJournal{
		MemoryJournal: NewMemoryJournal(),
		path:          path,
		file:          file,
		writer:        bufio.NewWriterSize(file, 64*1024),
	}, nil
}

func (f *FileJournal) Path() string {
	return f.path
}

func (f *FileJournal) Record(rec Record) error {
	if err := f.MemoryJournal.Record(rec); err != nil {
		return err
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode journal record: %w", err)
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	if _, err := f.writer.Write(data); err != nil {
		return fmt.Errorf("write journal record: %w", err)
	}
	if err := f.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}
	// A move is already irreversible, so the line is flushed right away.
	if err := f.writer.Flush(); err != nil {
		return fmt.Errorf("flush journal: %w", err)
	}

	return nil
}

// Close flushes and closes the journal file.
func (f *FileJournal) Close() error {
	if f.file == nil {
		return nil
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	var firstErr error
	if err := f.writer.Flush(); err != nil {
		firstErr = fmt.Errorf("flush journal: %w", err)
	}
	if err := f.file.Sync(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("sync journal: %w", err)
	}
	if err := f.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close journal: %w", err)
	}
	f.file = nil

	return firstErr
}

// Load reads every record from the journal in stateDir. A missing journal
// yields no records.
func Load(stateDir string) ([]Record, error) {
	file, err := os.Open(filepath.Join(stateDir, JournalFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer file.Close()

	var records []Record
	scanner := bufio.NewScanner(file)
	for line := 1; scanner.Scan(); line++ {
		text := scanner.Bytes()
		if len(text) == 0 {
			continue
		}

		var rec Record
		if err := json.Unmarshal(text, &rec); err != nil {
			return nil, fmt.Errorf("parse journal line %d: %w", line, err)
		}
		records = append(records, rec)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}

	return records, nil
}
