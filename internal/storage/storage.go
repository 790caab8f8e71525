// Package storage keeps smoke results in a JSON file.
package storage

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"
)

const (
	StatusPassed = "passed"
	StatusFailed = "failed"
)

// Result is the outcome of visiting one smoke target.
type Result struct {
	TargetID   string    `json:"target_id"`
	URL        string    `json:"url"`
	Name       string    `json:"name,omitempty"`
	Status     string    `json:"status"`
	HTTPStatus int       `json:"http_status,omitempty"`
	Title      string    `json:"title,omitempty"`
	Browser    string    `json:"browser"`
	Attempts   int       `json:"attempts"`
	DurationMs int64     `json:"duration_ms"`
	CheckedAt  time.Time `json:"checked_at"`
	Error      string    `json:"error,omitempty"`
}

type ReportStore struct {
	mu       sync.RWMutex
	results  map[string]*Result
	filename string
}

// NewReportStore opens filename, loading earlier results if it exists.
func NewReportStore(filename string) (*ReportStore, error) {
	rs := &ReportStore{
		results:  make(map[string]*Result),
		filename: filename,
	}

	if err := rs.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	return rs, nil
}

// Reset drops every result and rewrites the file empty, so a report only
// describes the run that follows.
func (rs *ReportStore) Reset() error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	rs.results = make(map[string]*Result)
	return rs.save()
}

// Save records result, replacing an earlier result for the same target, and
// writes the file.
func (rs *ReportStore) Save(result *Result) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if result.TargetID == "" {
		return fmt.Errorf("target id is required")
	}
	if result.CheckedAt.IsZero() {
		result.CheckedAt = time.Now()
	}

	rs.results[result.TargetID] = result
	return rs.save()
}

func (rs *ReportStore) Get(targetID string) (*Result, bool) {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	result, exists := rs.results[targetID]
	return result, exists
}

// Results returns every result ordered by target id.
func (rs *ReportStore) Results() []*Result {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	results := make([]*Result, 0, len(rs.results))
	for _, r := range rs.results {
		results = append(results, r)
	}
	slices.SortFunc(results, func(a, b *Result) int {
		return cmp.Compare(a.TargetID, b.TargetID)
	})
	return results
}

func (rs *ReportStore) Failed() []*Result {
	var failed []*Result
	for _, r := range rs.Results() {
		if r.Status == StatusFailed {
			failed = append(failed, r)
		}
	}
	return failed
}

func (rs *ReportStore) GetStats() map[string]int {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	stats := make(map[string]int)
	for _, r := range rs.results {
		stats[r.Status]++
	}
	stats["total"] = len(rs.results)
	return stats
}

func (rs *ReportStore) save() error {
	data, err := json.MarshalIndent(rs.results, "", "  ")
	if err != nil {
		return err
	}

	if dir := filepath.Dir(rs.filename); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}

	tmpFile := rs.filename + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o644); err != nil {
		return err
	}

	return os.Rename(tmpFile, rs.filename)
}

func (rs *ReportStore) Load() error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	data, err := os.ReadFile(rs.filename)
	if err != nil {
		return err
	}

	results := make(map[string]*Result)
	if err := json.Unmarshal(data, &results); err != nil {
		return fmt.Errorf("failed to parse %s: %w", rs.filename, err)
	}
	rs.results = results
	return nil
}
