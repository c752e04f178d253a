package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cwbudde/govizier/internal/study"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists studies in a SQLite database. Each row carries the
// schema and codec version of its payload next to the payload itself.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) the database at path. ":memory:" gives a
// private in-memory database.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store: %w", err)
	}
	// One connection serializes writers and keeps ":memory:" a single database.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		PRAGMA foreign_keys = ON;
		CREATE TABLE IF NOT EXISTS studies (
			guid TEXT PRIMARY KEY,
			created_at INTEGER NOT NULL,
			last_trial_id INTEGER NOT NULL DEFAULT 0,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE TABLE IF NOT EXISTS trials (
			study_guid TEXT NOT NULL REFERENCES studies(guid),
			id INTEGER NOT NULL,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL,
			PRIMARY KEY (study_guid, id)
		);
	`)
	return err
}

// withTx runs fn inside a transaction and commits when fn succeeds.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func loadStudyRow(ctx context.Context, q queryer, guid string) (studyRecord, error) {
	var payload []byte
	var lastID int
	err := q.QueryRowContext(ctx, `SELECT payload, last_trial_id FROM studies WHERE guid = ?`, guid).Scan(&payload, &lastID)
	if errors.Is(err, sql.ErrNoRows) {
		return studyRecord{}, study.StudyNotFound(guid)
	} else if err != nil {
		return studyRecord{}, fmt.Errorf("failed to read study: %w", err)
	}
	rec, err := decodeStudy(payload)
	if err != nil {
		return studyRecord{}, err
	}
	rec.LastTrialID = lastID
	return rec, nil
}

func loadTrialRow(ctx context.Context, q queryer, guid string, id int) (study.Trial, error) {
	var payload []byte
	err := q.QueryRowContext(ctx, `SELECT payload FROM trials WHERE study_guid = ? AND id = ?`, guid, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return study.Trial{}, study.TrialNotFound(guid, id)
	} else if err != nil {
		return study.Trial{}, fmt.Errorf("failed to read trial: %w", err)
	}
	return decodeTrial(payload)
}

func saveTrialRow(ctx context.Context, tx *sql.Tx, guid string, t study.Trial) error {
	payload, err := encodeTrial(t)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO trials (study_guid, id, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(study_guid, id) DO UPDATE SET
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, guid, t.ID, CurrentSchemaVersion, CurrentCodecVersion, payload)
	return err
}

func saveStudyRow(ctx context.Context, tx *sql.Tx, rec studyRecord) error {
	payload, err := encodeStudy(rec)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE studies SET payload = ?, last_trial_id = ?, schema_version = ?, codec_version = ?
		WHERE guid = ?
	`, payload, rec.LastTrialID, CurrentSchemaVersion, CurrentCodecVersion, rec.Study.GUID)
	return err
}

func (s *SQLiteStore) CreateStudy(ctx context.Context, in study.Study) (study.Study, error) {
	prepared, err := prepareStudy(in, s.now())
	if err != nil {
		return study.Study{}, err
	}
	payload, err := encodeStudy(studyRecord{Study: prepared})
	if err != nil {
		return study.Study{}, err
	}
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM studies WHERE guid = ?`, prepared.GUID).Scan(&exists)
		if err != nil {
			return err
		}
		if exists > 0 {
			return study.InvalidArgument("study %s already exists", prepared.GUID)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO studies (guid, created_at, last_trial_id, schema_version, codec_version, payload)
			VALUES (?, ?, 0, ?, ?, ?)
		`, prepared.GUID, prepared.CreationTime.UnixNano(), CurrentSchemaVersion, CurrentCodecVersion, payload)
		return err
	})
	if err != nil {
		return study.Study{}, err
	}
	return prepared, nil
}

func (s *SQLiteStore) GetStudy(ctx context.Context, guid string) (study.Study, error) {
	rec, err := loadStudyRow(ctx, s.db, guid)
	if err != nil {
		return study.Study{}, err
	}
	return rec.Study, nil
}

func (s *SQLiteStore) ListStudies(ctx context.Context) ([]study.Study, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT payload FROM studies ORDER BY created_at, guid`)
	if err != nil {
		return nil, fmt.Errorf("failed to list studies: %w", err)
	}
	defer rows.Close()

	out := []study.Study{}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		rec, err := decodeStudy(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, rec.Study)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetStudyConfig(ctx context.Context, guid string) (study.StudyConfig, error) {
	st, err := s.GetStudy(ctx, guid)
	if err != nil {
		return study.StudyConfig{}, err
	}
	return st.Config, nil
}

func (s *SQLiteStore) AddTrials(ctx context.Context, guid string, trials []study.Trial) ([]study.Trial, error) {
	var prepared []study.Trial
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		rec, err := loadStudyRow(ctx, tx, guid)
		if err != nil {
			return err
		}
		prepared, err = prepareTrials(trials, rec.LastTrialID, s.now())
		if err != nil {
			return err
		}
		for _, t := range prepared {
			if err := saveTrialRow(ctx, tx, guid, t); err != nil {
				return fmt.Errorf("failed to insert trial %d: %w", t.ID, err)
			}
		}
		_, err = tx.ExecContext(ctx, `UPDATE studies SET last_trial_id = ? WHERE guid = ?`, rec.LastTrialID+len(prepared), guid)
		return err
	})
	if err != nil {
		return nil, err
	}
	return prepared, nil
}

func (s *SQLiteStore) GetTrials(ctx context.Context, guid string, filter TrialFilter) ([]study.Trial, error) {
	if _, err := loadStudyRow(ctx, s.db, guid); err != nil {
		return nil, err
	}
	maxID := filter.MaxID
	if maxID <= 0 {
		maxID = int(^uint32(0) >> 1)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT payload FROM trials
		WHERE study_guid = ? AND id >= ? AND id <= ?
		ORDER BY id
	`, guid, filter.MinID, maxID)
	if err != nil {
		return nil, fmt.Errorf("failed to query trials: %w", err)
	}
	defer rows.Close()

	out := []study.Trial{}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		t, err := decodeTrial(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CompleteTrial(ctx context.Context, guid string, id int, m study.Measurement) (study.Trial, error) {
	return s.mutateTrial(ctx, guid, id, func(t *study.Trial) error {
		return completeTrial(t, guid, m, s.now())
	})
}

func (s *SQLiteStore) StopTrial(ctx context.Context, guid string, id int) (study.Trial, error) {
	return s.mutateTrial(ctx, guid, id, func(t *study.Trial) error {
		return stopTrial(t, guid)
	})
}

func (s *SQLiteStore) mutateTrial(ctx context.Context, guid string, id int, fn func(*study.Trial) error) (study.Trial, error) {
	var out study.Trial
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := loadStudyRow(ctx, tx, guid); err != nil {
			return err
		}
		t, err := loadTrialRow(ctx, tx, guid, id)
		if err != nil {
			return err
		}
		if err := fn(&t); err != nil {
			return err
		}
		out = t
		return saveTrialRow(ctx, tx, guid, t)
	})
	return out, err
}

func (s *SQLiteStore) UpdateMetadata(ctx context.Context, guid string, delta study.MetadataDelta) error {
	if err := delta.Validate(); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		rec, err := loadStudyRow(ctx, tx, guid)
		if err != nil {
			return err
		}
		for _, id := range delta.TrialIDs() {
			t, err := loadTrialRow(ctx, tx, guid, id)
			if err != nil {
				return err
			}
			t.Metadata = delta.ApplyTrial(id, t.Metadata)
			if err := saveTrialRow(ctx, tx, guid, t); err != nil {
				return err
			}
		}
		rec.Study.Config.Metadata = delta.ApplyStudy(rec.Study.Config.Metadata)
		return saveStudyRow(ctx, tx, rec)
	})
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
