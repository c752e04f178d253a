package store

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/cwbudde/govizier/internal/study"
)

const (
	CurrentSchemaVersion = 1
	CurrentCodecVersion  = 1
)

var ErrVersionMismatch = errors.New("record version mismatch")

// VersionedRecord prefixes every persisted record.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

func currentVersion() VersionedRecord {
	return VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}

// studyRecord is the persisted form of a study. Trials is only used by the
// file store, which keeps a whole study in one file.
type studyRecord struct {
	VersionedRecord
	Study       study.Study   `json:"study"`
	LastTrialID int           `json:"last_trial_id"`
	Trials      []study.Trial `json:"trials,omitempty"`
}

type trialRecord struct {
	VersionedRecord
	Trial study.Trial `json:"trial"`
}

func encodeStudy(rec studyRecord) ([]byte, error) {
	rec.VersionedRecord = currentVersion()
	return json.Marshal(rec)
}

func decodeStudy(data []byte) (studyRecord, error) {
	var rec studyRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return studyRecord{}, fmt.Errorf("%w: decode study: %v", study.ErrCorruptState, err)
	}
	if err := checkVersion(rec.VersionedRecord); err != nil {
		return studyRecord{}, err
	}
	return rec, nil
}

func encodeTrial(t study.Trial) ([]byte, error) {
	return json.Marshal(trialRecord{VersionedRecord: currentVersion(), Trial: t})
}

func decodeTrial(data []byte) (study.Trial, error) {
	var rec trialRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return study.Trial{}, fmt.Errorf("%w: decode trial: %v", study.ErrCorruptState, err)
	}
	if err := checkVersion(rec.VersionedRecord); err != nil {
		return study.Trial{}, err
	}
	return rec.Trial, nil
}

func checkVersion(v VersionedRecord) error {
	if v.SchemaVersion != CurrentSchemaVersion || v.CodecVersion != CurrentCodecVersion {
		return fmt.Errorf("%w: %w (schema=%d codec=%d)", study.ErrCorruptState, ErrVersionMismatch, v.SchemaVersion, v.CodecVersion)
	}
	return nil
}
