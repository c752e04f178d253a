package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/cwbudde/govizier/internal/study"
)

const maxConflictRetries = 5

// BadgerStore persists studies in an embedded BadgerDB.
//
// Key layout:
//
//	s/<guid>          studyRecord (study + id counter)
//	t/<guid>/<id>     trialRecord, id zero-padded so keys sort numerically
//
// The id counter and the new trials are written in the same transaction.
// Writers for one study are also serialized in-process so concurrent
// AddTrials calls rarely hit a transaction conflict; conflicts that do
// happen (another process on the same directory) are retried.
type BadgerStore struct {
	db    *badger.DB
	locks sync.Map // guid -> *sync.Mutex
	now   func() time.Time
}

// NewBadgerStore opens a BadgerDB at path. An empty path opens an in-memory database.
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store: %w", err)
	}
	return &BadgerStore{db: db, now: time.Now}, nil
}

func studyKey(guid string) []byte {
	return []byte("s/" + guid)
}

func trialPrefix(guid string) []byte {
	return []byte("t/" + guid + "/")
}

func trialKey(guid string, id int) []byte {
	return []byte(fmt.Sprintf("t/%s/%012d", guid, id))
}

func (b *BadgerStore) lock(guid string) func() {
	v, _ := b.locks.LoadOrStore(guid, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// update runs fn in a read-write transaction, retrying on conflicts.
func (b *BadgerStore) update(fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = b.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("badger transaction kept conflicting: %w", err)
}

func getStudyRecord(txn *badger.Txn, guid string) (studyRecord, error) {
	item, err := txn.Get(studyKey(guid))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return studyRecord{}, study.StudyNotFound(guid)
	} else if err != nil {
		return studyRecord{}, fmt.Errorf("failed to read study: %w", err)
	}
	data, err := item.ValueCopy(nil)
	if err != nil {
		return studyRecord{}, fmt.Errorf("failed to read study value: %w", err)
	}
	return decodeStudy(data)
}

func putStudyRecord(txn *badger.Txn, rec studyRecord) error {
	data, err := encodeStudy(rec)
	if err != nil {
		return err
	}
	return txn.Set(studyKey(rec.Study.GUID), data)
}

func getTrial(txn *badger.Txn, guid string, id int) (study.Trial, error) {
	item, err := txn.Get(trialKey(guid, id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return study.Trial{}, study.TrialNotFound(guid, id)
	} else if err != nil {
		return study.Trial{}, fmt.Errorf("failed to read trial: %w", err)
	}
	data, err := item.ValueCopy(nil)
	if err != nil {
		return study.Trial{}, fmt.Errorf("failed to read trial value: %w", err)
	}
	return decodeTrial(data)
}

func putTrial(txn *badger.Txn, guid string, t study.Trial) error {
	data, err := encodeTrial(t)
	if err != nil {
		return err
	}
	return txn.Set(trialKey(guid, t.ID), data)
}

func (b *BadgerStore) CreateStudy(_ context.Context, in study.Study) (study.Study, error) {
	prepared, err := prepareStudy(in, b.now())
	if err != nil {
		return study.Study{}, err
	}
	err = b.update(func(txn *badger.Txn) error {
		if _, err := txn.Get(studyKey(prepared.GUID)); err == nil {
			return study.InvalidArgument("study %s already exists", prepared.GUID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return putStudyRecord(txn, studyRecord{Study: prepared})
	})
	if err != nil {
		return study.Study{}, err
	}
	return prepared, nil
}

func (b *BadgerStore) GetStudy(_ context.Context, guid string) (study.Study, error) {
	var rec studyRecord
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = getStudyRecord(txn, guid)
		return err
	})
	return rec.Study, err
}

func (b *BadgerStore) ListStudies(_ context.Context) ([]study.Study, error) {
	var out []study.Study
	err := b.db.View(func(txn *badger.Txn) error {
		prefix := []byte("s/")
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			data, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			rec, err := decodeStudy(data)
			if err != nil {
				return err
			}
			out = append(out, rec.Study)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortStudies(out)
	return out, nil
}

func (b *BadgerStore) GetStudyConfig(ctx context.Context, guid string) (study.StudyConfig, error) {
	s, err := b.GetStudy(ctx, guid)
	if err != nil {
		return study.StudyConfig{}, err
	}
	return s.Config, nil
}

func (b *BadgerStore) AddTrials(_ context.Context, guid string, trials []study.Trial) ([]study.Trial, error) {
	unlock := b.lock(guid)
	defer unlock()

	var prepared []study.Trial
	err := b.update(func(txn *badger.Txn) error {
		rec, err := getStudyRecord(txn, guid)
		if err != nil {
			return err
		}
		prepared, err = prepareTrials(trials, rec.LastTrialID, b.now())
		if err != nil {
			return err
		}
		for _, t := range prepared {
			if err := putTrial(txn, guid, t); err != nil {
				return err
			}
		}
		rec.LastTrialID += len(prepared)
		return putStudyRecord(txn, rec)
	})
	if err != nil {
		return nil, err
	}
	return prepared, nil
}

func (b *BadgerStore) GetTrials(_ context.Context, guid string, filter TrialFilter) ([]study.Trial, error) {
	var out []study.Trial
	err := b.db.View(func(txn *badger.Txn) error {
		if _, err := getStudyRecord(txn, guid); err != nil {
			return err
		}
		prefix := trialPrefix(guid)
		start := prefix
		if filter.MinID > 0 {
			start = trialKey(guid, filter.MinID)
		}
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(start); it.ValidForPrefix(prefix); it.Next() {
			data, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			t, err := decodeTrial(data)
			if err != nil {
				return err
			}
			if filter.MaxID > 0 && t.ID > filter.MaxID {
				break
			}
			out = append(out, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []study.Trial{}
	}
	return out, nil
}

func (b *BadgerStore) CompleteTrial(_ context.Context, guid string, id int, m study.Measurement) (study.Trial, error) {
	return b.mutateTrial(guid, id, func(t *study.Trial) error {
		return completeTrial(t, guid, m, b.now())
	})
}

func (b *BadgerStore) StopTrial(_ context.Context, guid string, id int) (study.Trial, error) {
	return b.mutateTrial(guid, id, func(t *study.Trial) error {
		return stopTrial(t, guid)
	})
}

func (b *BadgerStore) mutateTrial(guid string, id int, fn func(*study.Trial) error) (study.Trial, error) {
	unlock := b.lock(guid)
	defer unlock()

	var out study.Trial
	err := b.update(func(txn *badger.Txn) error {
		if _, err := getStudyRecord(txn, guid); err != nil {
			return err
		}
		t, err := getTrial(txn, guid, id)
		if err != nil {
			return err
		}
		if err := fn(&t); err != nil {
			return err
		}
		out = t
		return putTrial(txn, guid, t)
	})
	return out, err
}

func (b *BadgerStore) UpdateMetadata(_ context.Context, guid string, delta study.MetadataDelta) error {
	if err := delta.Validate(); err != nil {
		return err
	}
	unlock := b.lock(guid)
	defer unlock()

	// Returning an error from the closure discards the transaction, so an
	// unknown trial leaves everything untouched.
	return b.update(func(txn *badger.Txn) error {
		rec, err := getStudyRecord(txn, guid)
		if err != nil {
			return err
		}
		updated := make([]study.Trial, 0, len(delta.OnTrials))
		for _, id := range delta.TrialIDs() {
			t, err := getTrial(txn, guid, id)
			if err != nil {
				return err
			}
			t.Metadata = delta.ApplyTrial(id, t.Metadata)
			updated = append(updated, t)
		}
		rec.Study.Config.Metadata = delta.ApplyStudy(rec.Study.Config.Metadata)
		if err := putStudyRecord(txn, rec); err != nil {
			return err
		}
		for _, t := range updated {
			if err := putTrial(txn, guid, t); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BadgerStore) Close() error {
	return b.db.Close()
}
