// Package store persists what must survive a restart: the browser session,
// the last published snapshot and the approve/reject decisions.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"panelwatch/internal/driver"
)

// ErrNotFound is returned when nothing has been saved yet.
var ErrNotFound = errors.New("not found")

// Credentials is the persisted form of an authenticated browser session.
type Credentials struct {
	LocalStorage map[string]string `json:"localStorage"`
	Cookies      []driver.Cookie   `json:"cookies,omitempty"`
	SavedAt      time.Time         `json:"saved_at"`
}

// Get returns the localStorage value for key.
func (c Credentials) Get(key string) string {
	if c.LocalStorage == nil {
		return ""
	}
	return c.LocalStorage[key]
}

type CredentialStore interface {
	LoadCredentials(ctx context.Context) (Credentials, error)
	SaveCredentials(ctx context.Context, creds Credentials) error
}

type SnapshotStore interface {
	// LoadSnapshot returns the raw JSON of the last saved snapshot.
	LoadSnapshot(ctx context.Context) (json.RawMessage, error)
	SaveSnapshot(ctx context.Context, snapshot json.RawMessage) error
}

type DecisionAction string

const (
	ActionApprove DecisionAction = "approve"
	ActionReject  DecisionAction = "reject"
)

// Decision is an approve or reject issued for a withdrawal.
type Decision struct {
	ID           int64          `json:"id"`
	WithdrawalID string         `json:"withdrawal_id"`
	Action       DecisionAction `json:"action"`
	Reason       string         `json:"reason,omitempty"`
	Username     string         `json:"username,omitempty"`
	Amount       string         `json:"amount,omitempty"`
	Success      bool           `json:"success"`
	Error        string         `json:"error,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

type DecisionLog interface {
	RecordDecision(ctx context.Context, d Decision) error
	// ListDecisions returns the most recent decisions first.
	ListDecisions(ctx context.Context, limit int) ([]Decision, error)
}

type Store interface {
	CredentialStore
	SnapshotStore
	DecisionLog
	Close() error
}
