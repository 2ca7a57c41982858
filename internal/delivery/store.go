package delivery

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is a durable, file-backed inbox. Persistence uses the same
// write-temp-then-rename idiom as the session store and schedule store.
type Store struct {
	path string
	bc   *broadcaster

	mu   sync.RWMutex
	byID map[string]*Delivery
}

// NewStore loads path (if present) and returns a ready Store.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path, bc: newBroadcaster(), byID: make(map[string]*Delivery)}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("delivery: read store: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	var list []*Delivery
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("delivery: decode store: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range list {
		s.byID[d.ID] = d
	}
	return nil
}

func (s *Store) saveLocked() error {
	list := make([]*Delivery, 0, len(s.byID))
	for _, d := range s.byID {
		list = append(list, d)
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("delivery: encode store: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("delivery: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "deliveries.json.tmp-*")
	if err != nil {
		return fmt.Errorf("delivery: create temp: %w", err)
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
		return fmt.Errorf("delivery: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("delivery: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("delivery: close temp: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("delivery: rename: %w", err)
	}
	cleanup = false
	return nil
}

// Add creates and persists a new Delivery, broadcasting NewDelivery.
func (s *Store) Add(d Delivery) (*Delivery, error) {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	entry := d

	s.mu.Lock()
	s.byID[entry.ID] = &entry
	err := s.saveLocked()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	s.bc.Broadcast(Event{Kind: NewDelivery, ID: entry.ID})
	return &entry, nil
}

// Get returns the delivery for id, or ok=false if unknown.
func (s *Store) Get(id string) (*Delivery, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.byID[id]
	return d, ok
}

// List returns deliveries for agentID, newest-first, applying limit/offset.
// limit<=0 means unbounded.
func (s *Store) List(agentID string, limit, offset int) []*Delivery {
	s.mu.RLock()
	all := make([]*Delivery, 0, len(s.byID))
	for _, d := range s.byID {
		if agentID == "" || d.AgentID == agentID {
			all = append(all, d)
		}
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	if offset > 0 {
		if offset >= len(all) {
			return nil
		}
		all = all[offset:]
	}
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all
}

// MarkRead marks id as read. Idempotent: re-marking an already-read
// delivery is a no-op that still returns success.
func (s *Store) MarkRead(id string) error {
	s.mu.Lock()
	d, ok := s.byID[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("delivery: %q not found", id)
	}
	alreadyRead := d.ReadAt != nil
	if !alreadyRead {
		now := time.Now().UTC()
		d.ReadAt = &now
	}
	var err error
	if !alreadyRead {
		err = s.saveLocked()
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if !alreadyRead {
		s.bc.Broadcast(Event{Kind: DeliveryRead, ID: id})
	}
	return nil
}

// UnreadCount returns the number of unread deliveries for agentID.
func (s *Store) UnreadCount(agentID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, d := range s.byID {
		if (agentID == "" || d.AgentID == agentID) && d.ReadAt == nil {
			n++
		}
	}
	return n
}

// Subscribe registers handler for NewDelivery/DeliveryRead events.
func (s *Store) Subscribe(id string, handler func(Event)) { s.bc.Subscribe(id, handler) }

// Unsubscribe removes a previously registered handler.
func (s *Store) Unsubscribe(id string) { s.bc.Unsubscribe(id) }
