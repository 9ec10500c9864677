package personas

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	ometrics "github.com/taskmesh/orchestrator/internal/metrics"
)

// successEMAAlpha is the weight given to a new observation when updating a
// persona's running success score.
const successEMAAlpha = 0.2

// record is the on-disk document shape. Deleted is set on a tombstone
// write; the most recent record for an id wins when replaying the log.
type record struct {
	Persona
	Deleted bool `yaml:"deleted,omitempty"`
}

// Store is the Persona Store: match/insert/record_use/list/delete over an
// in-memory index backed by a single append-structured file. Every mutating
// operation appends one YAML document to the file and fsyncs before
// returning, so a crash loses at most the operation in flight.
type Store struct {
	mu      sync.RWMutex
	byID    map[string]*Persona
	path    string
	file    *os.File
	logger  *zap.Logger
	cache   *SafeCache
	metrics *Metrics
	closed  bool
}

// NewStore opens (creating if necessary) the persona file at path, replays
// it into memory, and returns a ready-to-use Store. cacheTTL of zero
// defaults to one hour.
func NewStore(path string, cacheTTL time.Duration, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = time.Hour
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, NewConfigError(path, "", "", fmt.Errorf("create persona store directory: %w", err))
		}
	}

	byID, err := loadRecords(path)
	if err != nil {
		return nil, NewConfigError(path, "", "", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, NewConfigError(path, "", "", fmt.Errorf("open persona store: %w", err))
	}

	metrics := NewMetrics()
	return &Store{
		byID:    byID,
		path:    path,
		file:    f,
		logger:  logger,
		cache:   NewSafeCache(cacheTTL, logger, metrics),
		metrics: metrics,
	}, nil
}

// loadRecords replays the append-structured file into an in-memory index.
// Missing files start empty; later documents for an id override earlier
// ones, and a tombstone (Deleted) removes the id entirely.
func loadRecords(path string) (map[string]*Persona, error) {
	byID := make(map[string]*Persona)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return byID, nil
		}
		return nil, fmt.Errorf("read persona store: %w", err)
	}
	if len(data) == 0 {
		return byID, nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	for {
		var rec record
		if err := dec.Decode(&rec); err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("decode persona record: %w", err)
		}
		if rec.Deleted {
			delete(byID, rec.ID)
			continue
		}
		p := rec.Persona
		byID[p.ID] = &p
	}
	return byID, nil
}

// Match finds the best-scoring persona for req. It returns ok=false if no
// persona clears MatchThreshold, signaling the caller to generate and
// Insert a new one. Ties are broken by higher success score, then more
// recently used.
func (s *Store) Match(req Requirements) (*Persona, float64, bool) {
	start := time.Now()
	cacheKey := generateCacheKey(req)
	if s.cache != nil {
		if cachedID, ok := s.cache.Get(cacheKey); ok {
			if p, ok := s.Get(cachedID); ok {
				if score := Similarity(p.DNA(), req); score >= MatchThreshold {
					if s.metrics != nil {
						s.metrics.RecordMatch("matched", time.Since(start))
					}
					return p, score, true
				}
			}
		}
	}

	s.mu.RLock()
	candidates := make([]*Persona, 0, len(s.byID))
	for _, p := range s.byID {
		candidates = append(candidates, p)
	}
	s.mu.RUnlock()

	var best *Persona
	bestScore := -1.0
	for _, p := range candidates {
		score := Similarity(p.DNA(), req)
		if score < bestScore {
			continue
		}
		if score > bestScore || better(p, best) {
			best, bestScore = p, score
		}
	}

	if best == nil || bestScore < MatchThreshold {
		if s.metrics != nil {
			s.metrics.RecordMatch("below_threshold", time.Since(start))
			ometrics.PersonaMatches.WithLabelValues("dna", "miss").Inc()
		}
		return nil, bestScore, false
	}
	if s.metrics != nil {
		s.metrics.RecordMatch("matched", time.Since(start))
		ometrics.PersonaMatches.WithLabelValues("dna", "hit").Inc()
	}
	if s.cache != nil {
		s.cache.Set(cacheKey, best.ID)
	}
	clone := *best
	return &clone, bestScore, true
}

// better reports whether candidate should replace current as the top match
// given an equal similarity score: prefer higher success score, then more
// recently used.
func better(candidate, current *Persona) bool {
	if current == nil {
		return true
	}
	if candidate.SuccessScore != current.SuccessScore {
		return candidate.SuccessScore > current.SuccessScore
	}
	return candidate.LastUsedAt.After(current.LastUsedAt)
}

// Insert adds a persona, collapsing into an existing record if one already
// has identical DNA. Returns the (possibly pre-existing) persona's id.
func (s *Store) Insert(p Persona) (string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrStoreClosed
	}
	for _, existing := range s.byID {
		if sameDNA(existing.DNA(), p.DNA()) {
			id := existing.ID
			s.mu.Unlock()
			return id, nil
		}
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	s.byID[p.ID] = &p
	toWrite := p
	s.mu.Unlock()

	if err := s.append(record{Persona: toWrite}); err != nil {
		return "", err
	}
	ometrics.PersonaMatches.WithLabelValues("dna", "created").Inc()
	ometrics.PersonaScore.WithLabelValues(toWrite.ID).Set(toWrite.SuccessScore)
	return toWrite.ID, nil
}

// RecordUse updates a persona's usage count and exponentially-weighted
// success score after a subtask completes, per the delegation optimizer's
// observed outcome.
func (s *Store) RecordUse(id string, successScore float64) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}
	p, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrPersonaNotFound, id)
	}
	p.UsageCount++
	if p.UsageCount == 1 {
		p.SuccessScore = successScore
	} else {
		p.SuccessScore = successEMAAlpha*successScore + (1-successEMAAlpha)*p.SuccessScore
	}
	p.LastUsedAt = time.Now()
	snapshot := *p
	s.mu.Unlock()

	if err := s.append(record{Persona: snapshot}); err != nil {
		return err
	}
	ometrics.PersonaScore.WithLabelValues(id).Set(snapshot.SuccessScore)
	return nil
}

// List returns personas matching filter, sorted by id for stable output.
func (s *Store) List(filter Filter) []*Persona {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Persona, 0, len(s.byID))
	for _, p := range s.byID {
		if filter.Matches(p) {
			clone := *p
			result = append(result, &clone)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

// Get returns a single persona by id.
func (s *Store) Get(id string) (*Persona, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	clone := *p
	return &clone, true
}

// Delete removes a persona, appending a tombstone record.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}
	if _, ok := s.byID[id]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrPersonaNotFound, id)
	}
	delete(s.byID, id)
	s.mu.Unlock()

	return s.append(record{Persona: Persona{ID: id}, Deleted: true})
}

// append encodes rec as a YAML document, appends it to the store file, and
// flushes before returning so every completed mutation is durable.
func (s *Store) append(rec record) error {
	data, err := yaml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode persona record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.file.Write(append([]byte("---\n"), data...)); err != nil {
		return fmt.Errorf("write persona record: %w", err)
	}
	return s.file.Sync()
}

// Reload re-reads the persona file from disk and swaps in a fresh index,
// for picking up edits made outside the running process (e.g. an operator
// hand-editing the persona file). In-flight appends made by this process
// are already reflected on disk, so this is safe to call at any time.
func (s *Store) Reload() error {
	byID, err := loadRecords(s.path)
	if err != nil {
		return NewConfigError(s.path, "", "", err)
	}
	s.mu.Lock()
	s.byID = byID
	s.mu.Unlock()
	return nil
}

// Size returns the number of personas currently indexed.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

// Close flushes and closes the underlying store file.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.cache != nil {
		_ = s.cache.Close()
	}
	return s.file.Close()
}
