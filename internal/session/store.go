// Package session implements the on-disk per-session directory layout: a
// metadata file, an append-only NDJSON log, and a lazily-cached route
// report, as described by the capture pipeline's SessionStore component.
package session

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaylens/captureproxy/internal/logging"
	"github.com/relaylens/captureproxy/internal/logrecord"
	"github.com/relaylens/captureproxy/internal/report"
)

const (
	metaFileName   = "meta.json"
	logsFileName   = "logs.ndjson"
	reportFileName = "report.json"

	// metaFlushEvery batches meta.json rewrites instead of rewriting on
	// every single append; Stop always flushes the final value.
	metaFlushEvery = 8

	// appendQueueCapacity bounds the backlog of not-yet-written records a
	// busy proxy can build up before Append starts dropping instead of
	// blocking the exchange that produced them.
	appendQueueCapacity = 512
)

// Meta describes one session's identity and lifecycle state.
type Meta struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	RouteKey  string     `json:"routeKey,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`
	LogCount  int        `json:"logCount"`
	Dir       string     `json:"dir"`
	LogsPath  string     `json:"logsPath"`
}

// Mirror is an optional best-effort secondary sink for appended records
// (e.g. the MongoDB mirror). It must never block or fail the append.
type Mirror interface {
	Enqueue(sessionID string, record *logrecord.LogRecord)
}

// appendJob is one record queued for the background writer, carrying the
// session state it targets at enqueue time so the writer never needs to
// consult Store.current (which may have moved on by the time it runs).
type appendJob struct {
	meta      *Meta
	file      *os.File
	record    *logrecord.LogRecord
	flushMeta bool
}

// Store manages the on-disk session directory tree rooted at rootDir.
type Store struct {
	rootDir string
	log     logging.Logger
	mirror  Mirror

	mu           sync.Mutex
	current      *Meta
	currentFile  *os.File
	appendsSince int

	queue chan *appendJob
	wg    sync.WaitGroup
}

// New returns a Store rooted at rootDir. mirror may be nil. A background
// goroutine drains appended records to disk for the lifetime of the Store,
// so Append never blocks the caller on file I/O.
func New(rootDir string, log logging.Logger, mirror Mirror) *Store {
	s := &Store{
		rootDir: rootDir,
		log:     logging.OrDefault(log),
		mirror:  mirror,
		queue:   make(chan *appendJob, appendQueueCapacity),
	}
	go s.drain()
	return s
}

// drain is the sole writer of session log files and periodic meta
// flushes; it runs for the lifetime of the Store, taking jobs off the
// queue in the order Append enqueued them.
func (s *Store) drain() {
	for job := range s.queue {
		s.writeJob(job)
		s.wg.Done()
	}
}

func (s *Store) writeJob(job *appendJob) {
	line, err := json.Marshal(job.record)
	if err != nil {
		s.log.Error("session: marshal record: %v", err)
		return
	}
	line = append(line, '\n')

	if _, err := job.file.Write(line); err != nil {
		s.log.Error("session: append to %s: %v", job.meta.LogsPath, err)
		return
	}

	if job.flushMeta {
		if err := s.writeMetaFile(job.meta); err != nil {
			s.log.Error("session: flush meta: %v", err)
		}
	}

	if s.mirror != nil {
		s.mirror.Enqueue(job.meta.ID, job.record)
	}
}

// Init ensures the root directory exists.
func (s *Store) Init() error {
	if err := os.MkdirAll(s.rootDir, 0o755); err != nil {
		return fmt.Errorf("session: init root %s: %w", s.rootDir, err)
	}
	return nil
}

// List enumerates session subdirectories, skips unreadable ones, and
// returns their metadata newest-first by CreatedAt.
func (s *Store) List() ([]*Meta, error) {
	entries, err := os.ReadDir(s.rootDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("session: list %s: %w", s.rootDir, err)
	}

	metas := make([]*Meta, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		m, err := s.readMetaFile(filepath.Join(s.rootDir, e.Name(), metaFileName))
		if err != nil {
			s.log.Warn("session: skipping unreadable meta in %s: %v", e.Name(), err)
			continue
		}
		metas = append(metas, m)
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].CreatedAt.After(metas[j].CreatedAt)
	})
	return metas, nil
}

// Read returns the metadata for id, or nil if it does not exist.
func (s *Store) Read(id string) (*Meta, error) {
	m, err := s.readMetaFile(filepath.Join(s.rootDir, id, metaFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return m, nil
}

func (s *Store) readMetaFile(path string) (*Meta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("session: parse %s: %w", path, err)
	}
	return &m, nil
}

// Start stops any current session, then allocates and opens a new one.
func (s *Store) Start(name, routeKey string) (*Meta, error) {
	if _, err := s.Stop(); err != nil {
		return nil, err
	}

	id := uuid.NewString()
	createdAt := time.Now()
	if name == "" {
		name = "Session " + createdAt.Format(time.RFC3339)
	}

	dir := filepath.Join(s.rootDir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("session: create dir %s: %w", dir, err)
	}

	logsPath := filepath.Join(dir, logsFileName)
	f, err := os.OpenFile(logsPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("session: open %s: %w", logsPath, err)
	}

	meta := &Meta{
		ID:        id,
		Name:      name,
		RouteKey:  routeKey,
		CreatedAt: createdAt,
		Dir:       dir,
		LogsPath:  logsPath,
	}
	if err := s.writeMetaFile(meta); err != nil {
		f.Close()
		return nil, err
	}

	s.mu.Lock()
	s.current = meta
	s.currentFile = f
	s.appendsSince = 0
	s.mu.Unlock()

	return cloneMeta(meta), nil
}

// Append queues record to be written to the current session's log file
// and (if a mirror is configured) mirrored, without blocking on disk I/O:
// the actual write happens on a background goroutine. Append is a no-op
// when no session is current. If the write queue is full, the record is
// dropped and logged rather than stalling the caller.
func (s *Store) Append(record *logrecord.LogRecord) error {
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return nil
	}
	meta := s.current
	file := s.currentFile

	meta.LogCount++
	s.appendsSince++
	flushMeta := s.appendsSince >= metaFlushEvery
	if flushMeta {
		s.appendsSince = 0
	}
	// Registered before the lock is released, so a Stop that clears this
	// session afterwards is guaranteed to wait for the job.
	s.wg.Add(1)
	s.mu.Unlock()

	job := &appendJob{meta: meta, file: file, record: record, flushMeta: flushMeta}
	select {
	case s.queue <- job:
	default:
		s.mu.Lock()
		meta.LogCount--
		s.mu.Unlock()
		s.wg.Done()
		s.log.Warn("session: append queue full, dropping record for session %s", meta.ID)
	}
	return nil
}

// Stop finalizes the current session (if any): it waits for every already
// queued append to finish writing, flushes the final metadata, closes the
// log file handle, and caches the session's route report.
func (s *Store) Stop() (*Meta, error) {
	s.mu.Lock()
	meta := s.current
	if meta == nil {
		s.mu.Unlock()
		return nil, nil
	}
	file := s.currentFile
	s.current = nil
	s.currentFile = nil
	s.mu.Unlock()

	s.wg.Wait()

	now := time.Now()
	meta.EndedAt = &now

	if err := s.writeMetaFile(meta); err != nil {
		s.log.Error("session: final meta flush failed: %v", err)
	}
	if file != nil {
		if err := file.Close(); err != nil {
			s.log.Error("session: close log file: %v", err)
		}
	}

	if err := s.cacheReport(meta); err != nil {
		s.log.Warn("session: caching report on stop failed: %v", err)
	}

	return cloneMeta(meta), nil
}

func (s *Store) cacheReport(meta *Meta) error {
	logs, err := s.readLogsFile(meta.LogsPath, 0)
	if err != nil {
		return err
	}
	routeKey := meta.RouteKey
	if routeKey == "" {
		routeKey = meta.Name
	}
	rpt := report.Build(routeKey, meta.ID, logs)
	return s.WriteReport(meta.ID, rpt)
}

// Current returns a copy of the in-progress session's metadata, or nil if
// none is current.
func (s *Store) Current() *Meta {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneMeta(s.current)
}

// writeMetaFile marshals meta under s.mu (meta.LogCount may still be
// mutated by a concurrent Append) and writes it to disk outside the
// lock, so the write itself never holds up the hot path.
func (s *Store) writeMetaFile(meta *Meta) error {
	s.mu.Lock()
	data, err := json.MarshalIndent(meta, "", "  ")
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("session: marshal meta: %w", err)
	}
	path := filepath.Join(meta.Dir, metaFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("session: write %s: %w", path, err)
	}
	return nil
}

// ReadLogs reads the session's NDJSON file, skipping malformed lines, and
// returns the last limit entries in file order. limit ≤ 0 returns every
// entry.
func (s *Store) ReadLogs(id string, limit int) ([]*logrecord.LogRecord, error) {
	meta, err := s.Read(id)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, fmt.Errorf("session: %s not found", id)
	}
	return s.readLogsFile(meta.LogsPath, limit)
}

func (s *Store) readLogsFile(path string, limit int) ([]*logrecord.LogRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("session: open %s: %w", path, err)
	}
	defer f.Close()

	var records []*logrecord.LogRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec logrecord.LogRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			s.log.Warn("session: skipping malformed NDJSON line in %s: %v", path, err)
			continue
		}
		records = append(records, &rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("session: scan %s: %w", path, err)
	}

	if limit > 0 && limit < len(records) {
		records = records[len(records)-limit:]
	}
	return records, nil
}

// ReadReport returns the cached report for id, or nil if none exists yet.
func (s *Store) ReadReport(id string) (*report.RouteReport, error) {
	path := filepath.Join(s.rootDir, id, reportFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("session: read report %s: %w", path, err)
	}
	var rpt report.RouteReport
	if err := json.Unmarshal(data, &rpt); err != nil {
		return nil, fmt.Errorf("session: parse report %s: %w", path, err)
	}
	return &rpt, nil
}

// WriteReport writes rpt to the session's report.json.
func (s *Store) WriteReport(id string, rpt *report.RouteReport) error {
	data, err := json.MarshalIndent(rpt, "", "  ")
	if err != nil {
		return fmt.Errorf("session: marshal report: %w", err)
	}
	path := filepath.Join(s.rootDir, id, reportFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("session: write report %s: %w", path, err)
	}
	return nil
}

func cloneMeta(m *Meta) *Meta {
	if m == nil {
		return nil
	}
	out := *m
	if m.EndedAt != nil {
		t := *m.EndedAt
		out.EndedAt = &t
	}
	return &out
}
