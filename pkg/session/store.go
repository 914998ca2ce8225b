package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	DefaultFileName = ".amm-swap-session.json"
)

// state is the JSON structure on disk. The connected flag is the only
// thing the client persists between runs.
type state struct {
	WasConnected bool `json:"was_connected"`
}

// Store handles persistence of the session flag
type Store struct {
	filePath string
	mu       sync.RWMutex
	state    state
}

// DefaultPath returns the session file in the home directory
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, DefaultFileName), nil
}

// NewStore opens the session file, treating a missing file as disconnected
func NewStore(filePath string) (*Store, error) {
	if filePath == "" {
		var err error
		if filePath, err = DefaultPath(); err != nil {
			return nil, err
		}
	}

	s := &Store{filePath: filePath}
	if err := s.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load session: %w", err)
		}
	}
	return s, nil
}

func (s *Store) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return err
	}

	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("failed to unmarshal session: %w", err)
	}
	s.state = st
	return nil
}

// save writes the flag to the session file (must be called with lock held)
func (s *Store) save() error {
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Write to temporary file first, then rename for atomic write
	tempFile := s.filePath + ".tmp"
	if err := os.WriteFile(tempFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}

	if err := os.Rename(tempFile, s.filePath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// WasConnected reports whether the last session ended connected
func (s *Store) WasConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.WasConnected
}

// SetConnected records the flag. An explicit disconnect clears it so the
// next start does not reconnect silently.
func (s *Store) SetConnected(connected bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.WasConnected == connected {
		if _, err := os.Stat(s.filePath); err == nil {
			return nil
		}
	}
	s.state.WasConnected = connected
	return s.save()
}

// FilePath returns the session file path
func (s *Store) FilePath() string {
	return s.filePath
}
