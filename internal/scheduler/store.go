package scheduler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
)

// ScheduleStore persists Schedules to a single JSON file using the
// write-temp-then-rename idiom (matching sessions.Manager's on-disk
// persistence), and broadcasts ScheduleEvents to subscribers on every
// mutation.
type ScheduleStore struct {
	path string

	mu        sync.RWMutex
	schedules map[string]*Schedule

	subMu sync.Mutex
	subs  map[string]func(ScheduleEvent)
}

// NewScheduleStore loads path (if present) and returns a ready store.
func NewScheduleStore(path string) (*ScheduleStore, error) {
	s := &ScheduleStore{
		path:      path,
		schedules: make(map[string]*Schedule),
		subs:      make(map[string]func(ScheduleEvent)),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ScheduleStore) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("scheduler: read store: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	var list []*Schedule
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("scheduler: decode store: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sc := range list {
		s.schedules[sc.ID] = sc
	}
	return nil
}

// saveLocked must be called with s.mu held (read or write lock upgraded by
// the caller already holding a write lock).
func (s *ScheduleStore) saveLocked() error {
	list := make([]*Schedule, 0, len(s.schedules))
	for _, sc := range s.schedules {
		list = append(list, sc)
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("scheduler: encode store: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("scheduler: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "schedules.json.tmp-*")
	if err != nil {
		return fmt.Errorf("scheduler: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("scheduler: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("scheduler: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("scheduler: close temp: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("scheduler: rename: %w", err)
	}
	cleanup = false
	return nil
}

// Subscribe registers handler for every future ScheduleEvent.
func (s *ScheduleStore) Subscribe(id string, handler func(ScheduleEvent)) {
	s.subMu.Lock()
	s.subs[id] = handler
	s.subMu.Unlock()
}

// Unsubscribe removes a previously registered handler.
func (s *ScheduleStore) Unsubscribe(id string) {
	s.subMu.Lock()
	delete(s.subs, id)
	s.subMu.Unlock()
}

func (s *ScheduleStore) broadcast(ev ScheduleEvent) {
	s.subMu.Lock()
	handlers := make([]func(ScheduleEvent), 0, len(s.subs))
	for _, h := range s.subs {
		handlers = append(handlers, h)
	}
	s.subMu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

// Create assigns a new ID (if sc.ID is empty) and persists sc.
func (s *ScheduleStore) Create(sc *Schedule) (*Schedule, error) {
	if sc.ID == "" {
		sc.ID = uuid.NewString()
	}
	if sc.Status == "" {
		sc.Status = ScheduleEnabled
	}
	if sc.Missed == "" {
		sc.Missed = MissedFireOnce
	}

	s.mu.Lock()
	s.schedules[sc.ID] = sc
	err := s.saveLocked()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	s.broadcast(ScheduleEvent{Kind: ScheduleCreated, ScheduleID: sc.ID})
	return sc, nil
}

// Get returns the schedule for id, or ok=false if unknown.
func (s *ScheduleStore) Get(id string) (*Schedule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.schedules[id]
	return sc, ok
}

// List returns every tracked schedule (enabled and disabled).
func (s *ScheduleStore) List() []*Schedule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Schedule, 0, len(s.schedules))
	for _, sc := range s.schedules {
		out = append(out, sc)
	}
	return out
}

// Update replaces the schedule for id via mutate, persists, and broadcasts.
func (s *ScheduleStore) Update(id string, mutate func(*Schedule)) (*Schedule, error) {
	s.mu.Lock()
	sc, ok := s.schedules[id]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("scheduler: schedule %q not found", id)
	}
	mutate(sc)
	err := s.saveLocked()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	s.broadcast(ScheduleEvent{Kind: ScheduleUpdated, ScheduleID: id})
	return sc, nil
}

// Delete removes the schedule for id.
func (s *ScheduleStore) Delete(id string) error {
	s.mu.Lock()
	if _, ok := s.schedules[id]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("scheduler: schedule %q not found", id)
	}
	delete(s.schedules, id)
	err := s.saveLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.broadcast(ScheduleEvent{Kind: ScheduleDeleted, ScheduleID: id})
	return nil
}
