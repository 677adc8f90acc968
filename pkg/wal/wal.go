// Package wal implements the append-only, crash-durable write-ahead log.
// Each transaction gets one file of newline-delimited JSON records, fsynced
// per append. The file suffix encodes the terminal state: a rename to
// .committed or .rolled_back is the final act of a transaction, and the
// absence of either suffix is the sole signal recovery needs to find
// incomplete work.
package wal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// RecordType identifies a WAL record.
type RecordType string

const (
	RecordBegin            RecordType = "begin"
	RecordOperationStart   RecordType = "operation-start"
	RecordOperationDone    RecordType = "operation-done"
	RecordCommit           RecordType = "commit"
	RecordRollbackStart    RecordType = "rollback-start"
	RecordRollbackDone     RecordType = "rollback-done"
	RecordRollbackComplete RecordType = "rollback-complete"
)

// File suffixes for terminal transactions.
const (
	walExt           = ".wal"
	suffixCommitted  = ".committed"
	suffixRolledBack = ".rolled_back"
)

// State of a WAL file as derived from its name.
type State string

const (
	StateInFlight   State = "in_flight"
	StateCommitted  State = "committed"
	StateRolledBack State = "rolled_back"
)

// OperationRecord is the durable snapshot of one operation, written with
// the begin record so recovery can rebuild the transaction without any
// other source of truth.
type OperationRecord struct {
	ID           int             `json:"id"`
	Kind         string          `json:"kind"`
	ResourceType string          `json:"resource_type"`
	ResourceName string          `json:"resource_name"`
	Params       json.RawMessage `json:"params,omitempty"`
	DependsOn    []int           `json:"depends_on,omitempty"`
}

// Record is one append-only WAL entry.
type Record struct {
	Type RecordType `json:"type"`
	TxID string     `json:"tx_id"`
	Time time.Time  `json:"time"`

	// OpID is set for operation-scoped records.
	OpID *int `json:"op_id,omitempty"`

	// Status accompanies operation-done records (committed, failed).
	Status string `json:"status,omitempty"`

	// RollbackData is persisted with operation-done(committed) so recovery
	// can undo the operation after a crash.
	RollbackData json.RawMessage `json:"rollback_data,omitempty"`

	// ProviderMeta is persisted alongside RollbackData for the state store.
	ProviderMeta json.RawMessage `json:"provider_meta,omitempty"`

	// Error carries the failure message on operation-done(failed) and on
	// rollback-done records whose undo call itself failed.
	Error string `json:"error,omitempty"`

	// Operations is set only on the begin record.
	Operations []OperationRecord `json:"operations,omitempty"`
}

// Info describes one WAL file in the directory.
type Info struct {
	TxID    string
	Path    string
	State   State
	ModTime time.Time
}

// Log is a WAL directory.
type Log struct {
	dir string
}

// Open ensures the WAL directory exists and returns a Log over it.
func Open(dir string) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating WAL directory %s: %w", dir, err)
	}
	return &Log{dir: dir}, nil
}

// Dir returns the WAL directory path.
func (l *Log) Dir() string {
	return l.dir
}

// Create opens a new WAL file for a transaction. The file must not already
// exist; transaction ids are unique by construction.
func (l *Log) Create(txID string) (*Writer, error) {
	path := filepath.Join(l.dir, txID+walExt)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("creating WAL file %s: %w", path, err)
	}
	return &Writer{f: f, path: path, txID: txID}, nil
}

// Reopen opens an existing in-flight WAL file for appending rollback
// records during recovery.
func (l *Log) Reopen(txID string) (*Writer, error) {
	path := filepath.Join(l.dir, txID+walExt)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("reopening WAL file %s: %w", path, err)
	}
	return &Writer{f: f, path: path, txID: txID}, nil
}

// Pending lists transactions whose WAL file lacks a terminal suffix,
// oldest first.
func (l *Log) Pending() ([]Info, error) {
	infos, err := l.List()
	if err != nil {
		return nil, err
	}
	pending := infos[:0]
	for _, info := range infos {
		if info.State == StateInFlight {
			pending = append(pending, info)
		}
	}
	return pending, nil
}

// List returns every WAL file in the directory with its derived state,
// oldest first.
func (l *Log) List() ([]Info, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("reading WAL directory %s: %w", l.dir, err)
	}

	infos := make([]Info, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		var state State
		var txID string
		switch {
		case strings.HasSuffix(name, walExt+suffixCommitted):
			state = StateCommitted
			txID = strings.TrimSuffix(name, walExt+suffixCommitted)
		case strings.HasSuffix(name, walExt+suffixRolledBack):
			state = StateRolledBack
			txID = strings.TrimSuffix(name, walExt+suffixRolledBack)
		case strings.HasSuffix(name, walExt):
			state = StateInFlight
			txID = strings.TrimSuffix(name, walExt)
		default:
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", name, err)
		}
		infos = append(infos, Info{
			TxID:    txID,
			Path:    filepath.Join(l.dir, name),
			State:   state,
			ModTime: fi.ModTime(),
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].TxID < infos[j].TxID })
	return infos, nil
}

// Replay parses every record in a WAL file. Any unreadable line, or a file
// whose first record is not begin, makes the whole file corrupt.
func (l *Log) Replay(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening WAL file %s: %w", path, err)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if rec.Type == "" || rec.TxID == "" {
			return nil, fmt.Errorf("line %d: record missing type or tx_id", line)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, errors.New("empty WAL file")
	}
	if records[0].Type != RecordBegin {
		return nil, fmt.Errorf("first record is %q, want %q", records[0].Type, RecordBegin)
	}
	return records, nil
}

// Writer appends records to one transaction's WAL file.
type Writer struct {
	f    *os.File
	path string
	txID string
}

// Append durably writes one record: marshal, write with trailing newline,
// fsync.
func (w *Writer) Append(rec Record) error {
	rec.TxID = w.txID
	if rec.Time.IsZero() {
		rec.Time = time.Now().UTC()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling WAL record: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.f.Write(data); err != nil {
		return fmt.Errorf("appending to %s: %w", w.path, err)
	}
	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("syncing %s: %w", w.path, err)
	}
	return nil
}

// Begin writes the begin record carrying the full operation list.
func (w *Writer) Begin(ops []OperationRecord) error {
	return w.Append(Record{Type: RecordBegin, Operations: ops})
}

// OperationStart records that an operation is about to execute.
func (w *Writer) OperationStart(opID int) error {
	return w.Append(Record{Type: RecordOperationStart, OpID: &opID})
}

// OperationDone records an operation outcome with its rollback snapshot.
func (w *Writer) OperationDone(opID int, status string, rollbackData, providerMeta json.RawMessage, errMsg string) error {
	return w.Append(Record{
		Type:         RecordOperationDone,
		OpID:         &opID,
		Status:       status,
		RollbackData: rollbackData,
		ProviderMeta: providerMeta,
		Error:        errMsg,
	})
}

// Commit records that every operation committed.
func (w *Writer) Commit() error {
	return w.Append(Record{Type: RecordCommit})
}

// RollbackStart records entry into the unwind pass.
func (w *Writer) RollbackStart() error {
	return w.Append(Record{Type: RecordRollbackStart})
}

// RollbackDone records one attempted undo. errMsg is set when the undo
// itself failed; the pass continues regardless.
func (w *Writer) RollbackDone(opID int, errMsg string) error {
	return w.Append(Record{Type: RecordRollbackDone, OpID: &opID, Error: errMsg})
}

// RollbackComplete records the end of the unwind pass.
func (w *Writer) RollbackComplete() error {
	return w.Append(Record{Type: RecordRollbackComplete})
}

// FinalizeCommitted closes the file and renames it to its .committed form.
func (w *Writer) FinalizeCommitted() error {
	return w.finalize(suffixCommitted)
}

// FinalizeRolledBack closes the file and renames it to its .rolled_back form.
func (w *Writer) FinalizeRolledBack() error {
	return w.finalize(suffixRolledBack)
}

func (w *Writer) finalize(suffix string) error {
	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("syncing %s: %w", w.path, err)
	}
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", w.path, err)
	}
	if err := os.Rename(w.path, w.path+suffix); err != nil {
		return fmt.Errorf("finalizing %s: %w", w.path, err)
	}
	return nil
}

// Close closes the underlying file without finalizing. Used on error paths
// where the transaction stays in flight for recovery to pick up.
func (w *Writer) Close() error {
	return w.f.Close()
}
