package store

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	credentialsFile = "credentials.json"
	snapshotFile    = "snapshot.json"
	decisionsFile   = "decisions.jsonl"
)

// FileStore keeps credentials and the snapshot as JSON files in a
// directory and appends decisions to a JSON lines log.
type FileStore struct {
	dir string

	mu     sync.Mutex
	nextID int64
}

func OpenFile(dir string) (*FileStore, error) {
	err := os.MkdirAll(dir, 0700)
	if err != nil {
		return nil, fmt.Errorf("open file store: %w", err)
	}
	s := &FileStore{dir: dir}

	decisions, err := s.readDecisions()
	if err != nil {
		return nil, fmt.Errorf("open file store: %w", err)
	}
	for _, d := range decisions {
		s.nextID = max(s.nextID, d.ID)
	}
	return s, nil
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.dir, name)
}

// writeFile replaces name atomically so a crash never leaves a torn file.
func (s *FileStore) writeFile(name string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return err
	}
	_, err = tmp.Write(data)
	if err == nil {
		err = tmp.Sync()
	}
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), s.path(name))
}

func (s *FileStore) readFile(name string) ([]byte, error) {
	data, err := os.ReadFile(s.path(name))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	return data, err
}

func (s *FileStore) LoadCredentials(ctx context.Context) (Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.readFile(credentialsFile)
	if err != nil {
		return Credentials{}, err
	}
	var creds Credentials
	err = json.Unmarshal(data, &creds)
	if err != nil {
		return Credentials{}, fmt.Errorf("load credentials: %w", err)
	}
	return creds, nil
}

func (s *FileStore) SaveCredentials(ctx context.Context, creds Credentials) error {
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err = s.writeFile(credentialsFile, data)
	if err != nil {
		return fmt.Errorf("save credentials: %w", err)
	}
	return nil
}

func (s *FileStore) LoadSnapshot(ctx context.Context) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.readFile(snapshotFile)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

func (s *FileStore) SaveSnapshot(ctx context.Context, snapshot json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.writeFile(snapshotFile, snapshot)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *FileStore) RecordDecision(ctx context.Context, d Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	d.ID = s.nextID
	line, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("record decision: %w", err)
	}

	f, err := os.OpenFile(s.path(decisionsFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("record decision: %w", err)
	}
	defer f.Close()
	_, err = f.Write(append(line, '\n'))
	if err != nil {
		return fmt.Errorf("record decision: %w", err)
	}
	return nil
}

func (s *FileStore) readDecisions() ([]Decision, error) {
	f, err := os.Open(s.path(decisionsFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []Decision
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var d Decision
		err := json.Unmarshal(scanner.Bytes(), &d)
		if err != nil {
			return nil, fmt.Errorf("decision log line %d: %w", len(out)+1, err)
		}
		out = append(out, d)
	}
	return out, scanner.Err()
}

func (s *FileStore) ListDecisions(ctx context.Context, limit int) ([]Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.readDecisions()
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	out := []Decision{}
	for i := len(all) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		out = append(out, all[i])
	}
	return out, nil
}

func (s *FileStore) Close() error {
	return nil
}
