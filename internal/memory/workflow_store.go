package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/taskmesh/orchestrator/internal/metrics"
)

// searchableFields is the whitelist of WorkflowRecord columns Search may
// match against, keeping the query surface closed rather than accepting
// arbitrary SQL fragments from callers.
var searchableFields = map[string]string{
	"task_id":   "task_id",
	"task_text": "task_text",
	"domains":   "domains",
	"status":    "status",
}

const (
	defaultMaxInMemory = 10000
	writeQueueSize     = 256
)

// WorkflowStore is the Long-term Memory: an append-only JSONL archive of
// completed workflow records with a SQLite index for search, generalized
// from the teacher's internal/db (Postgres-backed event/task logging) down
// to a single embedded file pair suitable for a locally-hosted engine.
// Writes are serialized behind one writer goroutine, grounded on the
// teacher's streaming persistWorker pattern, so concurrent callers never
// race on the archive file or the index.
type WorkflowStore struct {
	dir    string
	logger *zap.Logger

	db *sqlx.DB

	mu          sync.Mutex
	currentFile *os.File
	currentName string
	rowsInFile  int

	writeCh chan writeRequest
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

type writeRequest struct {
	record WorkflowRecord
	result chan error
}

// NewWorkflowStore opens (creating if necessary) the archive directory dir
// and its SQLite index, replays nothing eagerly (the index is authoritative
// on disk), and starts the single writer goroutine.
func NewWorkflowStore(dir string, logger *zap.Logger) (*WorkflowStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create workflow store directory: %w", err)
	}

	dbPath := filepath.Join(dir, "index.sqlite3")
	db, err := sqlx.Connect("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open workflow index: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create workflow index schema: %w", err)
	}

	s := &WorkflowStore{
		dir:     dir,
		logger:  logger,
		db:      db,
		writeCh: make(chan writeRequest, writeQueueSize),
		stopCh:  make(chan struct{}),
	}

	if err := s.openCurrentFile(); err != nil {
		db.Close()
		return nil, err
	}

	s.wg.Add(1)
	go s.runWriter()

	return s, nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS workflow_records (
	task_id TEXT PRIMARY KEY,
	task_text TEXT NOT NULL,
	domains TEXT NOT NULL,
	complexity TEXT NOT NULL,
	status TEXT NOT NULL,
	archive_file TEXT NOT NULL,
	submitted_at DATETIME NOT NULL,
	completed_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_workflow_records_status ON workflow_records(status);
`

// Append persists a completed workflow record: it is written to the
// current archive file and indexed in SQLite by the single writer
// goroutine, then returned to the caller once durable.
func (s *WorkflowStore) Append(ctx context.Context, rec WorkflowRecord) error {
	req := writeRequest{record: rec, result: make(chan error, 1)}
	select {
	case s.writeCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.stopCh:
		return fmt.Errorf("workflow store closed")
	}

	select {
	case err := <-req.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *WorkflowStore) runWriter() {
	defer s.wg.Done()
	for {
		select {
		case req := <-s.writeCh:
			req.result <- s.write(req.record)
		case <-s.stopCh:
			return
		}
	}
}

func (s *WorkflowStore) write(rec WorkflowRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.rotateIfNeededLocked(rec.CompletedAt); err != nil {
		return err
	}

	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode workflow record: %w", err)
	}
	if _, err := s.currentFile.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write workflow record: %w", err)
	}
	if err := s.currentFile.Sync(); err != nil {
		return fmt.Errorf("sync workflow record: %w", err)
	}
	s.rowsInFile++

	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO workflow_records
			(task_id, task_text, domains, complexity, status, archive_file, submitted_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TaskID, rec.TaskText, strings.Join(rec.Domains, ","), rec.Complexity, rec.Status,
		s.currentName, rec.SubmittedAt, rec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("index workflow record: %w", err)
	}

	metrics.WorkflowRecordsStored.Inc()
	return nil
}

// rotateIfNeededLocked opens a new archive file when the current one has
// rolled past a month boundary or the configured row cap. Caller must
// hold s.mu.
func (s *WorkflowStore) rotateIfNeededLocked(at time.Time) error {
	if at.IsZero() {
		at = time.Now()
	}
	wantName := archiveFileName(at)
	if s.currentName == wantName && s.rowsInFile < defaultMaxInMemory {
		return nil
	}
	reason := "capacity"
	if s.currentName != wantName {
		reason = "monthly"
	}
	if s.currentFile != nil {
		s.currentFile.Close()
	}
	if err := s.openNamedFile(wantName); err != nil {
		return err
	}
	metrics.WorkflowRecordsArchived.WithLabelValues(reason).Inc()
	return nil
}

func (s *WorkflowStore) openCurrentFile() error {
	return s.openNamedFile(archiveFileName(time.Now()))
}

func (s *WorkflowStore) openNamedFile(name string) error {
	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open archive file %s: %w", name, err)
	}
	s.currentFile = f
	s.currentName = name
	s.rowsInFile = countExistingRows(filepath.Join(s.dir, name))
	return nil
}

func countExistingRows(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	if len(data) == 0 {
		return 0
	}
	return strings.Count(string(data), "\n")
}

func archiveFileName(at time.Time) string {
	return fmt.Sprintf("workflows-%04d-%02d.jsonl", at.Year(), at.Month())
}

// Get retrieves a workflow record by task id, reading it back from its
// archive file using the SQLite index to locate the file.
func (s *WorkflowStore) Get(ctx context.Context, taskID string) (WorkflowRecord, error) {
	var row struct {
		ArchiveFile string `db:"archive_file"`
	}
	err := s.db.GetContext(ctx, &row, `SELECT archive_file FROM workflow_records WHERE task_id = ?`, taskID)
	if err == sql.ErrNoRows {
		return WorkflowRecord{}, ErrWorkflowRecordNotFound
	}
	if err != nil {
		return WorkflowRecord{}, fmt.Errorf("lookup workflow record: %w", err)
	}

	return readRecordFromFile(filepath.Join(s.dir, row.ArchiveFile), taskID)
}

func readRecordFromFile(path, taskID string) (WorkflowRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return WorkflowRecord{}, fmt.Errorf("read archive file: %w", err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var rec WorkflowRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		if rec.TaskID == taskID {
			return rec, nil
		}
	}
	return WorkflowRecord{}, ErrWorkflowRecordNotFound
}

// Search performs a substring match of query against the whitelisted
// fields (task id, task text, domains, status), newest first, bounded by
// limit.
func (s *WorkflowStore) Search(ctx context.Context, query string, limit int) ([]WorkflowRecord, error) {
	start := time.Now()
	defer func() { metrics.WorkflowSearchLatency.Observe(time.Since(start).Seconds()) }()

	if limit <= 0 {
		limit = 50
	}
	query = strings.TrimSpace(query)

	var clauses []string
	var args []interface{}
	if query != "" {
		like := "%" + query + "%"
		fields := make([]string, 0, len(searchableFields))
		for _, col := range searchableFields {
			fields = append(fields, col)
		}
		sort.Strings(fields)
		for _, col := range fields {
			clauses = append(clauses, fmt.Sprintf("%s LIKE ?", col))
			args = append(args, like)
		}
	}

	sqlStr := "SELECT task_id, archive_file FROM workflow_records"
	if len(clauses) > 0 {
		sqlStr += " WHERE " + strings.Join(clauses, " OR ")
	}
	sqlStr += " ORDER BY completed_at DESC LIMIT ?"
	args = append(args, limit)

	var rows []struct {
		TaskID      string `db:"task_id"`
		ArchiveFile string `db:"archive_file"`
	}
	if err := s.db.SelectContext(ctx, &rows, sqlStr, args...); err != nil {
		return nil, fmt.Errorf("search workflow records: %w", err)
	}

	out := make([]WorkflowRecord, 0, len(rows))
	for _, r := range rows {
		rec, err := readRecordFromFile(filepath.Join(s.dir, r.ArchiveFile), r.TaskID)
		if err != nil {
			s.logger.Warn("search found indexed record missing from archive",
				zap.String("task_id", r.TaskID), zap.String("archive_file", r.ArchiveFile))
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Close stops the writer goroutine and closes the archive file and index.
func (s *WorkflowStore) Close() error {
	close(s.stopCh)
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentFile != nil {
		s.currentFile.Close()
	}
	return s.db.Close()
}
