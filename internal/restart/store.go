package restart

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/san-kum/tidesim/internal/hydro"
)

const (
	checkpointDir = "checkpoints"
	formatVersion = 1
)

type fieldEntry struct {
	Name string     `json:"name"`
	Kind hydro.Kind `json:"kind"`
	Data []float64  `json:"data"`
}

type checkpointFile struct {
	Version int `json:"version"`
	Identity
	Time    float64      `json:"time"`
	Dt      float64      `json:"dt"`
	Nodes   int          `json:"nodes"`
	Written time.Time    `json:"written"`
	Fields  []fieldEntry `json:"fields"`
}

// Store reads and writes checkpoints under <runDir>/checkpoints.
type Store struct {
	runDir string
}

func NewStore(runDir string) *Store {
	return &Store{runDir: runDir}
}

func (s *Store) Dir() string { return filepath.Join(s.runDir, checkpointDir) }

func (s *Store) path(step int) string {
	return filepath.Join(s.Dir(), fmt.Sprintf("step_%06d.json", step))
}

// Write persists rec atomically: a reader sees either the whole checkpoint
// or none of it.
func (s *Store) Write(rec *Record) (string, error) {
	if err := os.MkdirAll(s.Dir(), 0755); err != nil {
		return "", err
	}
	cf := checkpointFile{
		Version:  formatVersion,
		Identity: rec.Identity,
		Time:     rec.Time,
		Dt:       rec.Dt,
		Nodes:    rec.Nodes,
		Written:  time.Now().UTC(),
	}
	for _, name := range rec.Fields.Names() {
		f := rec.Fields[name]
		cf.Fields = append(cf.Fields, fieldEntry{Name: f.Name, Kind: f.Kind, Data: f.Data})
	}

	final := s.path(rec.Step)
	tmp, err := os.CreateTemp(s.Dir(), ".step-*.tmp")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if err := json.NewEncoder(tmp).Encode(cf); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		return "", err
	}
	return final, nil
}

// Read loads the checkpoint for step as stored, without compatibility checks.
func (s *Store) Read(step int) (*Record, error) {
	data, err := os.ReadFile(s.path(step))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: no checkpoint for step %d in %s", hydro.ErrRestartNotFound, step, s.runDir)
		}
		return nil, err
	}
	var cf checkpointFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("%w: step %d: %v", hydro.ErrIncompatibleRestart, step, err)
	}
	if cf.Version != formatVersion {
		return nil, fmt.Errorf("%w: step %d: format version %d", hydro.ErrIncompatibleRestart, step, cf.Version)
	}
	rec := &Record{
		Identity: cf.Identity,
		Time:     cf.Time,
		Dt:       cf.Dt,
		Nodes:    cf.Nodes,
		Fields:   make(hydro.FieldSet, len(cf.Fields)),
	}
	for _, e := range cf.Fields {
		rec.Fields.Add(&hydro.Field{Name: e.Name, Kind: e.Kind, Data: e.Data})
	}
	return rec, nil
}

// Steps lists the checkpointed steps in ascending order.
func (s *Store) Steps() ([]int, error) {
	entries, err := os.ReadDir(s.Dir())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []int{}, nil
		}
		return nil, err
	}
	steps := make([]int, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "step_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, "step_"), ".json"))
		if err != nil {
			continue
		}
		steps = append(steps, n)
	}
	sort.Ints(steps)
	return steps, nil
}

// Latest returns the highest checkpointed step.
func (s *Store) Latest() (int, error) {
	steps, err := s.Steps()
	if err != nil {
		return 0, err
	}
	if len(steps) == 0 {
		return 0, fmt.Errorf("%w: no checkpoints in %s", hydro.ErrRestartNotFound, s.runDir)
	}
	return steps[len(steps)-1], nil
}
