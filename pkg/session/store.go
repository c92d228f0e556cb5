package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Store persists one session record per user. Implementations must make
// Save atomic per user_id; the manager's per-user lock provides the
// read-modify-write exclusion on top.
type Store interface {
	// Load returns nil, nil when the user has no stored session.
	Load(userID string) (*Session, error)
	Save(s *Session) error
}

// FileStore keeps one JSON file per user under dir.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (fs *FileStore) path(userID string) string {
	return filepath.Join(fs.dir, userID+".json")
}

func (fs *FileStore) Load(userID string) (*Session, error) {
	data, err := os.ReadFile(fs.path(userID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session for %s: %w", userID, err)
	}
	return &s, nil
}

// Save writes to a temp file and renames it into place, so readers never
// see a half-written record.
func (fs *FileStore) Save(s *Session) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	tmp := fs.path(s.UserID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, fs.path(s.UserID))
}
