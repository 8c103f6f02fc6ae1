package runs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"
)

var uuidRe = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Record describes one pipeline run.
type Record struct {
	ID         string         `json:"id"`
	Pipeline   string         `json:"pipeline"`
	ModelID    string         `json:"model_id"`
	Status     Status         `json:"status"`
	Args       map[string]any `json:"args,omitempty"`
	VideoPath  string         `json:"video_path,omitempty"`
	Images     int            `json:"images"`
	Error      string         `json:"error,omitempty"`
	EventLog   string         `json:"event_log,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// Done reports whether the run reached a terminal state.
func (r Record) Done() bool {
	return r.Status == StatusSucceeded || r.Status == StatusFailed
}

// Store keeps one JSON file per run.
type Store struct {
	dir string
	mu  sync.RWMutex
}

// NewStore creates a Store and ensures the directory exists.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("run store: mkdir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

func validateID(id string) error {
	if !uuidRe.MatchString(id) {
		return newError(CodeValidation, fmt.Sprintf("invalid run id: %q", id), nil)
	}
	return nil
}

// Save writes the record, replacing any previous version.
func (s *Store) Save(rec Record) error {
	if err := validateID(rec.ID); err != nil {
		return err
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("run store: marshal record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, rec.ID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("run store: write record: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("run store: write record: %w", err)
	}
	return nil
}

// Get reads a record by ID.
func (s *Store) Get(id string) (Record, error) {
	if err := validateID(id); err != nil {
		return Record{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(filepath.Join(s.dir, id+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, newError(CodeRunNotFound, "run not found: "+id, nil)
		}
		return Record{}, fmt.Errorf("run store: read record: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("run store: unmarshal record: %w", err)
	}
	return rec, nil
}

// List returns all records, newest first. Unreadable files are skipped.
func (s *Store) List() ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("run store: glob: %w", err)
	}

	recs := make([]Record, 0, len(matches))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var rec Record
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		recs = append(recs, rec)
	}

	sort.Slice(recs, func(i, j int) bool {
		return recs[i].CreatedAt.After(recs[j].CreatedAt)
	})
	return recs, nil
}
