package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"media-companion/internal/domain"
)

type memoryProfile struct {
	remaining    int
	hasRemaining bool
	premium      bool
	summary      string
	notes        string
}

// MemoryStore is a process-local implementation of the key-value namespace
// and profile store. It backs single-shard development runs and tests; it
// does not coordinate across processes.
type MemoryStore struct {
	mu             sync.Mutex
	kv             map[string]string
	profiles       map[string]*memoryProfile
	sessions       map[string][]domain.SessionSummary
	defaultMinutes int
}

// NewMemoryStore returns an empty store. Users without a profile get defaultMinutes.
func NewMemoryStore(defaultMinutes int) *MemoryStore {
	return &MemoryStore{
		kv:             make(map[string]string),
		profiles:       make(map[string]*memoryProfile),
		sessions:       make(map[string][]domain.SessionSummary),
		defaultMinutes: defaultMinutes,
	}
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	if err := validKey("Get", key); err != nil {
		return "", false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.kv[key]
	return v, ok, nil
}

func (m *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := m.Get(ctx, key)
	return ok, err
}

func (m *MemoryStore) SetIfAbsent(_ context.Context, key, value string) (bool, error) {
	if err := validKey("SetIfAbsent", key); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.kv[key]; ok {
		return false, nil
	}
	m.kv[key] = value
	return true, nil
}

func (m *MemoryStore) Put(_ context.Context, key, value string) error {
	if err := validKey("Put", key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kv[key] = value
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	if err := validKey("Delete", key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.kv, key)
	return nil
}

func (m *MemoryStore) DeleteIfEquals(_ context.Context, key, value string) (bool, error) {
	if err := validKey("DeleteIfEquals", key); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.kv[key]; !ok || cur != value {
		return false, nil
	}
	delete(m.kv, key)
	return true, nil
}

// SetProfile seeds a user's budget and premium flag.
func (m *MemoryStore) SetProfile(userID string, remaining int, premium bool, notes string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.profileLocked(userID)
	p.remaining = remaining
	p.hasRemaining = true
	p.premium = premium
	p.notes = notes
}

func (m *MemoryStore) profileLocked(userID string) *memoryProfile {
	p, ok := m.profiles[userID]
	if !ok {
		p = &memoryProfile{}
		m.profiles[userID] = p
	}
	return p
}

func checkUser(op, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("repository: %s: %w", op, errEmptyUser)
	}
	return nil
}

func (m *MemoryStore) GetRemainingMinutes(_ context.Context, userID string) (int, error) {
	if err := checkUser("GetRemainingMinutes", userID); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok || !p.hasRemaining {
		return m.defaultMinutes, nil
	}
	return p.remaining, nil
}

func (m *MemoryStore) DeductMinutes(_ context.Context, userID string, n int) error {
	if err := checkUser("DeductMinutes", userID); err != nil {
		return err
	}
	if n <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.profileLocked(userID)
	if !p.hasRemaining {
		p.remaining = m.defaultMinutes
		p.hasRemaining = true
	}
	p.remaining -= n
	return nil
}

func (m *MemoryStore) GetPremiumFlag(_ context.Context, userID string) (bool, error) {
	if err := checkUser("GetPremiumFlag", userID); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	return ok && p.premium, nil
}

func (m *MemoryStore) GetProfileSummary(_ context.Context, userID string) (string, error) {
	if err := checkUser("GetProfileSummary", userID); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.profiles[userID]; ok {
		return p.summary, nil
	}
	return "", nil
}

func (m *MemoryStore) GetPersonalNotes(_ context.Context, userID string) (string, error) {
	if err := checkUser("GetPersonalNotes", userID); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.profiles[userID]; ok {
		return p.notes, nil
	}
	return "", nil
}

func (m *MemoryStore) SetProfileSummary(_ context.Context, userID, text string) error {
	if err := checkUser("SetProfileSummary", userID); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profileLocked(userID).summary = text
	return nil
}

func (m *MemoryStore) RecordSession(_ context.Context, s domain.SessionSummary) error {
	if err := checkUser("RecordSession", s.UserID); err != nil {
		return err
	}
	if s.EndedAt == "" {
		s.EndedAt = time.Now().UTC().Format(time.RFC3339)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.UserID] = append(m.sessions[s.UserID], s)
	return nil
}

func (m *MemoryStore) ListSessions(_ context.Context, userID string, limit int) ([]domain.SessionSummary, error) {
	if err := checkUser("ListSessions", userID); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]domain.SessionSummary(nil), m.sessions[userID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].EndedAt > out[j].EndedAt })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
