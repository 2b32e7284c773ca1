package inventory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	historyVersion  = 1
	historyFileName = "history.json"
	appDirName      = "scanbridge"
)

// HistoryStore keeps the recent results on disk so a restarted daemon can
// show them to reconnecting sessions.
type HistoryStore struct {
	dir string
}

type historyFile struct {
	Version int       `json:"version"`
	SavedAt time.Time `json:"savedAt"`
	Results []Result  `json:"results"`
}

// NewHistoryStore creates a store in dir. The directory is created on the
// first Save. An empty dir means the default XDG state path.
func NewHistoryStore(dir string) *HistoryStore {
	if dir == "" {
		dir = defaultStateDir()
	}
	return &HistoryStore{dir: dir}
}

// Path returns the full path to the history file.
func (s *HistoryStore) Path() string {
	return filepath.Join(s.dir, historyFileName)
}

// Load reads the saved results, newest first. A missing file yields no
// results and no error.
func (s *HistoryStore) Load() ([]Result, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading history: %w", err)
	}
	var f historyFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing history: %w", err)
	}
	return f.Results, nil
}

// Save writes results using an atomic temp-file-then-rename.
func (s *HistoryStore) Save(results []Result) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}

	data, err := json.MarshalIndent(historyFile{
		Version: historyVersion,
		SavedAt: time.Now().UTC(),
		Results: results,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling history: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(s.dir, ".history-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.Path()); err != nil {
		return fmt.Errorf("renaming history file: %w", err)
	}
	committed = true
	return nil
}

// defaultStateDir returns ~/.local/state/scanbridge, respecting
// XDG_STATE_HOME if set.
func defaultStateDir() string {
	if base := os.Getenv("XDG_STATE_HOME"); base != "" {
		return filepath.Join(base, appDirName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return filepath.Join(home, ".local", "state", appDirName)
}
