package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps articles in memory, optionally snapshotting them to a
// JSON file on Save/Close.
type MemoryStore struct {
	filePath string
	mu       sync.RWMutex
	articles map[string]Article
	hashes   map[string]int
	runs     []RunRecord
	now      func() time.Time
}

var _ ArticleStore = (*MemoryStore)(nil)

type snapshot struct {
	Articles []Article   `json:"articles"`
	Runs     []RunRecord `json:"runs"`
}

// NewMemoryStore creates an empty store. An empty filePath disables snapshots.
func NewMemoryStore(filePath string) *MemoryStore {
	return &MemoryStore{
		filePath: filePath,
		articles: make(map[string]Article),
		hashes:   make(map[string]int),
		now:      time.Now,
	}
}

// WithClock overrides the time source used for created_at.
func (m *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	m.now = now
	return m
}

// Load reads an existing snapshot. A missing file leaves the store empty.
func (m *MemoryStore) Load() error {
	if m.filePath == "" {
		return nil
	}

	data, err := os.ReadFile(m.filePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range snap.Articles {
		m.put(a)
	}
	m.runs = append(m.runs, snap.Runs...)
	return nil
}

// Save writes the snapshot file.
func (m *MemoryStore) Save() error {
	if m.filePath == "" {
		return nil
	}

	m.mu.RLock()
	snap := snapshot{
		Articles: make([]Article, 0, len(m.articles)),
		Runs:     append([]RunRecord(nil), m.runs...),
	}
	for _, a := range m.articles {
		snap.Articles = append(snap.Articles, a)
	}
	m.mu.RUnlock()

	sort.Slice(snap.Articles, func(i, j int) bool { return snap.Articles[i].URL < snap.Articles[j].URL })

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := os.WriteFile(m.filePath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

func (m *MemoryStore) HasURL(_ context.Context, url string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.articles[url]
	return ok, nil
}

func (m *MemoryStore) HasHash(_ context.Context, hash string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hashes[hash] > 0, nil
}

func (m *MemoryStore) Insert(_ context.Context, a Article) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	a.Takeaways = nonNil(a.Takeaways)
	a.Tags = nonNil(a.Tags)
	a.CreatedAt = m.now().UTC()
	m.put(a)
	return nil
}

// put replaces by URL, keeping the hash index consistent. Callers hold mu.
func (m *MemoryStore) put(a Article) {
	if old, ok := m.articles[a.URL]; ok {
		m.hashes[old.ContentHash]--
		if m.hashes[old.ContentHash] <= 0 {
			delete(m.hashes, old.ContentHash)
		}
	}
	m.articles[a.URL] = a
	m.hashes[a.ContentHash]++
}

func (m *MemoryStore) Recent(_ context.Context, opts RecentOptions) ([]Article, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	q := strings.ToLower(strings.TrimSpace(opts.Query))
	out := []Article{}
	for _, a := range m.articles {
		if opts.Source != "" && a.Source != opts.Source {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(a.Title), q) && !strings.Contains(strings.ToLower(a.Summary), q) {
			continue
		}
		out = append(out, a)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].URL < out[j].URL
	})

	if limit := clampLimit(opts.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) Sources(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set := map[string]struct{}{}
	for _, a := range m.articles {
		if a.Source != "" {
			set[a.Source] = struct{}{}
		}
	}
	sources := make([]string, 0, len(set))
	for s := range set {
		sources = append(sources, s)
	}
	sort.Strings(sources)
	return sources, nil
}

func (m *MemoryStore) RecordRun(_ context.Context, r RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, r)
	return nil
}

func (m *MemoryStore) LatestRun(_ context.Context) (*RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *RunRecord
	for i := range m.runs {
		if latest == nil || m.runs[i].StartedAt.After(latest.StartedAt) {
			r := m.runs[i]
			latest = &r
		}
	}
	return latest, nil
}

// Count returns the number of stored articles.
func (m *MemoryStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.articles)
}

func (m *MemoryStore) Close() error {
	return m.Save()
}
