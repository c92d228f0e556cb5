package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// UserProfile holds the durable facts the assistant knows about a user,
// independent of any single conversation session.
type UserProfile struct {
	UserID    string    `json:"user_id"`
	Name      string    `json:"name,omitempty"`
	Language  string    `json:"language,omitempty"`
	Timezone  string    `json:"timezone,omitempty"`
	Notes     []string  `json:"notes,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store keeps one JSON profile file per user.
type Store struct {
	dir string
	mu  sync.Mutex
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (st *Store) path(userID string) string {
	return filepath.Join(st.dir, userID+".json")
}

// Get returns the stored profile, or an empty one when the user is new.
func (st *Store) Get(userID string) (*UserProfile, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	data, err := os.ReadFile(st.path(userID))
	if err != nil {
		if os.IsNotExist(err) {
			return &UserProfile{UserID: userID}, nil
		}
		return nil, err
	}

	var p UserProfile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode profile for %s: %w", userID, err)
	}
	return &p, nil
}

func (st *Store) Save(p *UserProfile) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	p.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}

	tmp := st.path(p.UserID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, st.path(p.UserID))
}
