package store

import (
	"context"
	"encoding/json"
	"sync"
)

// Memory keeps everything in process memory, nothing survives a restart.
type Memory struct {
	mu        sync.Mutex
	creds     *Credentials
	snapshot  json.RawMessage
	decisions []Decision
	nextID    int64
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) LoadCredentials(ctx context.Context) (Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.creds == nil {
		return Credentials{}, ErrNotFound
	}
	return cloneCredentials(*m.creds), nil
}

func (m *Memory) SaveCredentials(ctx context.Context, creds Credentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cloned := cloneCredentials(creds)
	m.creds = &cloned
	return nil
}

func (m *Memory) LoadSnapshot(ctx context.Context) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.snapshot == nil {
		return nil, ErrNotFound
	}
	return append(json.RawMessage(nil), m.snapshot...), nil
}

func (m *Memory) SaveSnapshot(ctx context.Context, snapshot json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot = append(json.RawMessage(nil), snapshot...)
	return nil
}

func (m *Memory) RecordDecision(ctx context.Context, d Decision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	d.ID = m.nextID
	m.decisions = append(m.decisions, d)
	return nil
}

func (m *Memory) ListDecisions(ctx context.Context, limit int) ([]Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Decision{}
	for i := len(m.decisions) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, m.decisions[i])
	}
	return out, nil
}

func (m *Memory) Close() error {
	return nil
}

func cloneCredentials(c Credentials) Credentials {
	out := Credentials{SavedAt: c.SavedAt}
	if c.LocalStorage != nil {
		out.LocalStorage = make(map[string]string, len(c.LocalStorage))
		for k, v := range c.LocalStorage {
			out.LocalStorage[k] = v
		}
	}
	if c.Cookies != nil {
		out.Cookies = append(out.Cookies, c.Cookies...)
	}
	return out
}
