package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cwbudde/govizier/internal/study"
)

// FSStore implements the Store interface using filesystem-based persistence.
// Each study lives in one file: <baseDir>/studies/<guid>/study.json, holding
// the study, its id counter and all of its trials.
//
// Thread-safety: read-modify-write cycles are serialized by a mutex and every
// write goes through a temp file + rename, so readers (including other
// processes) only ever see a fully committed study file.
type FSStore struct {
	mu      sync.RWMutex
	baseDir string // Root directory for all study data (e.g., "./data")
	now     func() time.Time
}

// NewFSStore creates a new filesystem-based store.
// The baseDir will be created if it doesn't exist.
func NewFSStore(baseDir string) (*FSStore, error) {
	if err := os.MkdirAll(filepath.Join(baseDir, "studies"), 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FSStore{
		baseDir: baseDir,
		now:     time.Now,
	}, nil
}

// studyDir returns the directory path for a given study guid.
func (fs *FSStore) studyDir(guid string) string {
	return filepath.Join(fs.baseDir, "studies", guid)
}

// studyPath returns the path to the study.json file for a study.
func (fs *FSStore) studyPath(guid string) string {
	return filepath.Join(fs.studyDir(guid), "study.json")
}

// load reads a study record. Callers hold fs.mu.
func (fs *FSStore) load(guid string) (studyRecord, error) {
	if err := validGUID(guid); err != nil {
		return studyRecord{}, err
	}
	data, err := os.ReadFile(fs.studyPath(guid))
	if os.IsNotExist(err) {
		return studyRecord{}, study.StudyNotFound(guid)
	} else if err != nil {
		return studyRecord{}, fmt.Errorf("failed to read study file: %w", err)
	}
	return decodeStudy(data)
}

// save atomically writes a study record. Callers hold fs.mu for writing.
func (fs *FSStore) save(rec studyRecord) error {
	dir := fs.studyDir(rec.Study.GUID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create study directory: %w", err)
	}

	data, err := encodeStudy(rec)
	if err != nil {
		return fmt.Errorf("failed to serialize study: %w", err)
	}

	// Write to temporary file first (atomic pattern)
	finalPath := fs.studyPath(rec.Study.GUID)
	tempPath := finalPath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp study file: %w", err)
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename study file: %w", err)
	}

	slog.Debug("Study saved", "study_guid", rec.Study.GUID, "trials", len(rec.Trials), "path", finalPath)
	return nil
}

func (fs *FSStore) CreateStudy(_ context.Context, in study.Study) (study.Study, error) {
	prepared, err := prepareStudy(in, fs.now())
	if err != nil {
		return study.Study{}, err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, err := os.Stat(fs.studyPath(prepared.GUID)); err == nil {
		return study.Study{}, study.InvalidArgument("study %s already exists", prepared.GUID)
	}
	if err := fs.save(studyRecord{Study: prepared}); err != nil {
		return study.Study{}, err
	}
	return prepared, nil
}

func (fs *FSStore) GetStudy(_ context.Context, guid string) (study.Study, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	rec, err := fs.load(guid)
	if err != nil {
		return study.Study{}, err
	}
	return rec.Study, nil
}

func (fs *FSStore) ListStudies(_ context.Context) ([]study.Study, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	entries, err := os.ReadDir(filepath.Join(fs.baseDir, "studies"))
	if err != nil {
		return nil, fmt.Errorf("failed to read studies directory: %w", err)
	}

	out := make([]study.Study, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		rec, err := fs.load(entry.Name())
		if err != nil {
			slog.Warn("Skipping unreadable study", "study_guid", entry.Name(), "error", err)
			continue
		}
		out = append(out, rec.Study)
	}
	sortStudies(out)
	return out, nil
}

func (fs *FSStore) GetStudyConfig(ctx context.Context, guid string) (study.StudyConfig, error) {
	s, err := fs.GetStudy(ctx, guid)
	if err != nil {
		return study.StudyConfig{}, err
	}
	return s.Config, nil
}

func (fs *FSStore) AddTrials(_ context.Context, guid string, trials []study.Trial) ([]study.Trial, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	rec, err := fs.load(guid)
	if err != nil {
		return nil, err
	}
	prepared, err := prepareTrials(trials, rec.LastTrialID, fs.now())
	if err != nil {
		return nil, err
	}
	rec.Trials = append(rec.Trials, prepared...)
	rec.LastTrialID += len(prepared)
	if err := fs.save(rec); err != nil {
		return nil, err
	}
	return prepared, nil
}

func (fs *FSStore) GetTrials(_ context.Context, guid string, filter TrialFilter) ([]study.Trial, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	rec, err := fs.load(guid)
	if err != nil {
		return nil, err
	}
	out := make([]study.Trial, 0, len(rec.Trials))
	for _, t := range rec.Trials {
		if filter.contains(t.ID) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (fs *FSStore) CompleteTrial(_ context.Context, guid string, id int, m study.Measurement) (study.Trial, error) {
	return fs.mutateTrial(guid, id, func(t *study.Trial) error {
		return completeTrial(t, guid, m, fs.now())
	})
}

func (fs *FSStore) StopTrial(_ context.Context, guid string, id int) (study.Trial, error) {
	return fs.mutateTrial(guid, id, func(t *study.Trial) error {
		return stopTrial(t, guid)
	})
}

func (fs *FSStore) mutateTrial(guid string, id int, fn func(*study.Trial) error) (study.Trial, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	rec, err := fs.load(guid)
	if err != nil {
		return study.Trial{}, err
	}
	if id <= 0 || id > len(rec.Trials) {
		return study.Trial{}, study.TrialNotFound(guid, id)
	}
	t := &rec.Trials[id-1]
	if err := fn(t); err != nil {
		return study.Trial{}, err
	}
	if err := fs.save(rec); err != nil {
		return study.Trial{}, err
	}
	return t.Clone(), nil
}

func (fs *FSStore) UpdateMetadata(_ context.Context, guid string, delta study.MetadataDelta) error {
	if err := delta.Validate(); err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	rec, err := fs.load(guid)
	if err != nil {
		return err
	}
	for _, id := range delta.TrialIDs() {
		if id > len(rec.Trials) {
			return study.TrialNotFound(guid, id)
		}
	}

	rec.Study.Config.Metadata = delta.ApplyStudy(rec.Study.Config.Metadata)
	for _, id := range delta.TrialIDs() {
		t := &rec.Trials[id-1]
		t.Metadata = delta.ApplyTrial(id, t.Metadata)
	}
	// A single rename publishes study and trial metadata together.
	return fs.save(rec)
}

func (fs *FSStore) Close() error {
	return nil
}
