package storage

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
)

const (
	metadataFile = "metadata.json"
	detectorDir  = "detectors"
)

// Store lays out one directory per run under baseDir:
//
//	<baseDir>/<run-id>/metadata.json
//	<baseDir>/<run-id>/checkpoints/
//	<baseDir>/<run-id>/detectors/
type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

type RunMetadata struct {
	ID          string             `json:"id"`
	Preset      string             `json:"preset,omitempty"`
	Timestamp   time.Time          `json:"timestamp"`
	Start       float64            `json:"start"`
	Dt          float64            `json:"dt"`
	Export      float64            `json:"export"`
	End         float64            `json:"end"`
	Nodes       int                `json:"nodes"`
	Sediment    bool               `json:"sediment"`
	RestartFrom string             `json:"restart_from,omitempty"`
	Phase       string             `json:"phase"`
	Steps       int                `json:"steps"`
	FinalTime   float64            `json:"final_time"`
	Exports     int                `json:"exports"`
	Elapsed     float64            `json:"elapsed_seconds"`
	Error       string             `json:"error,omitempty"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
}

// NewID returns a fresh run id.
func NewID() string { return uuid.NewString() }

func (s *Store) RunDir(id string) string { return filepath.Join(s.baseDir, id) }

func (s *Store) DetectorDir(id string) string { return filepath.Join(s.RunDir(id), detectorDir) }

// Create makes the run directory for id, generating an id when it is empty,
// and returns the id used.
func (s *Store) Create(id string) (string, error) {
	if id == "" {
		id = NewID()
	}
	if err := os.MkdirAll(s.DetectorDir(id), 0755); err != nil {
		return "", fmt.Errorf("create run %s: %w", id, err)
	}
	return id, nil
}

// Save writes the run's metadata.json, replacing any earlier version.
func (s *Store) Save(meta *RunMetadata) error {
	if meta.ID == "" {
		return fmt.Errorf("run metadata has no id")
	}
	dir := s.RunDir(meta.ID)
	tmp, err := os.CreateTemp(dir, ".metadata-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := WriteJSON(tmp, meta); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(dir, metadataFile))
}

// List returns every run with readable metadata, oldest first.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].Timestamp.Before(runs[j].Timestamp) })
	return runs, nil
}

func (s *Store) Load(id string) (*RunMetadata, error) {
	data, err := os.ReadFile(filepath.Join(s.RunDir(id), metadataFile))
	if err != nil {
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

// WriteJSON encodes v indented.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
