// Package pairing implements the approval flow that gates a new channel
// user (Telegram, Discord, ...) behind an owner-approved pairing code
// before the gateway routes their messages to an agent.
package pairing

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// Request is a pending or resolved pairing attempt.
type Request struct {
	Code      string    `json:"code"`
	UserID    string    `json:"userId"`
	Channel   string    `json:"channel"`
	ChatID    string    `json:"chatId"`
	AgentID   string    `json:"agentId"`
	Status    string    `json:"status"` // "pending", "approved", "rejected"
	CreatedAt time.Time `json:"createdAt"`
}

type fileFormat struct {
	Requests []*Request          `json:"requests"`
	Paired   map[string][]string `json:"paired"` // channel -> userIDs
}

// Service tracks pairing requests and approved users, persisted as JSON.
type Service struct {
	mu       sync.RWMutex
	path     string
	requests map[string]*Request    // code -> request
	paired   map[string]map[string]bool // channel -> userID -> true
}

// NewService creates a Service persisted at path. An empty path keeps
// everything in memory only.
func NewService(path string) *Service {
	s := &Service{
		path:     path,
		requests: make(map[string]*Request),
		paired:   make(map[string]map[string]bool),
	}
	s.load()
	return s
}

// RequestPairing creates (or returns the existing) pending pairing code
// for userID on channel/chatID bound to agentID.
func (s *Service) RequestPairing(userID, channel, chatID, agentID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.requests {
		if r.Status == "pending" && r.UserID == userID && r.Channel == channel {
			return r.Code, nil
		}
	}

	code, err := generateCode()
	if err != nil {
		return "", fmt.Errorf("pairing: generate code: %w", err)
	}
	s.requests[code] = &Request{
		Code:      code,
		UserID:    userID,
		Channel:   channel,
		ChatID:    chatID,
		AgentID:   agentID,
		Status:    "pending",
		CreatedAt: time.Now(),
	}
	s.saveLocked()
	return code, nil
}

// IsPaired reports whether userID has an approved pairing on channel.
func (s *Service) IsPaired(userID, channel string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paired[channel][userID]
}

// Approve marks code's request approved and records the user as paired.
// Returns the resolved request so callers can notify the originating chat.
func (s *Service) Approve(code string) (*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[code]
	if !ok {
		return nil, fmt.Errorf("pairing: unknown code %q", code)
	}
	req.Status = "approved"
	if s.paired[req.Channel] == nil {
		s.paired[req.Channel] = make(map[string]bool)
	}
	s.paired[req.Channel][req.UserID] = true
	s.saveLocked()
	return req, nil
}

// Reject marks code's request rejected.
func (s *Service) Reject(code string) (*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[code]
	if !ok {
		return nil, fmt.Errorf("pairing: unknown code %q", code)
	}
	req.Status = "rejected"
	s.saveLocked()
	return req, nil
}

// Pending returns every request still awaiting approval.
func (s *Service) Pending() []*Request {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Request
	for _, r := range s.requests {
		if r.Status == "pending" {
			out = append(out, r)
		}
	}
	return out
}

func generateCode() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	code := make([]byte, 6)
	for i, b := range buf {
		code[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(code), nil
}

func (s *Service) load() {
	if s.path == "" {
		return
	}
	data, err := os.ReadFile(s.path)
	if err != nil {
		return
	}
	var ff fileFormat
	if err := json.Unmarshal(data, &ff); err != nil {
		return
	}
	for _, r := range ff.Requests {
		s.requests[r.Code] = r
	}
	for channel, users := range ff.Paired {
		m := make(map[string]bool, len(users))
		for _, u := range users {
			m[u] = true
		}
		s.paired[channel] = m
	}
}

func (s *Service) saveLocked() {
	if s.path == "" {
		return
	}
	ff := fileFormat{Paired: make(map[string][]string)}
	for _, r := range s.requests {
		ff.Requests = append(ff.Requests, r)
	}
	for channel, users := range s.paired {
		for u := range users {
			ff.Paired[channel] = append(ff.Paired[channel], u)
		}
	}
	data, err := json.MarshalIndent(ff, "", "  ")
	if err != nil {
		return
	}
	_ = os.WriteFile(s.path, data, 0644)
}
