package store

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/goccy/go-json"

	"github.com/cwbudde/govizier/internal/study"
)

// TraceEntry is one line of a study trace. The first entry of a trace holds
// the study; every following entry holds one trial.
type TraceEntry struct {
	Study *study.Study `json:"study,omitempty"`
	Trial *study.Trial `json:"trial,omitempty"`
}

// TraceWriter writes trace entries as JSON lines.
// It uses buffered I/O and is safe for concurrent use.
type TraceWriter struct {
	mu     sync.Mutex
	writer *bufio.Writer
}

func NewTraceWriter(w io.Writer) *TraceWriter {
	return &TraceWriter{writer: bufio.NewWriterSize(w, 64*1024)}
}

// Write appends a trace entry. The entry is buffered until Flush.
func (tw *TraceWriter) Write(entry TraceEntry) error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal trace entry: %w", err)
	}
	if _, err := tw.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write trace entry: %w", err)
	}
	if err := tw.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	return nil
}

func (tw *TraceWriter) Flush() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if err := tw.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush trace writer: %w", err)
	}
	return nil
}

// TraceReader reads trace entries from JSON lines.
type TraceReader struct {
	scanner *bufio.Scanner
}

func NewTraceReader(r io.Reader) *TraceReader {
	scanner := bufio.NewScanner(r)
	// Trials with large metadata can produce long lines.
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	return &TraceReader{scanner: scanner}
}

// Read returns the next entry, or io.EOF when the trace is exhausted.
func (tr *TraceReader) Read() (*TraceEntry, error) {
	if !tr.scanner.Scan() {
		if err := tr.scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to scan trace line: %w", err)
		}
		return nil, io.EOF
	}

	var entry TraceEntry
	if err := json.Unmarshal(tr.scanner.Bytes(), &entry); err != nil {
		return nil, fmt.Errorf("%w: trace entry: %v", study.ErrCorruptState, err)
	}
	return &entry, nil
}

// ExportStudy writes the study followed by all of its trials to w.
func ExportStudy(ctx context.Context, s Store, guid string, w io.Writer) (int, error) {
	st, err := s.GetStudy(ctx, guid)
	if err != nil {
		return 0, err
	}
	trials, err := s.GetTrials(ctx, guid, TrialFilter{})
	if err != nil {
		return 0, err
	}

	tw := NewTraceWriter(w)
	if err := tw.Write(TraceEntry{Study: &st}); err != nil {
		return 0, err
	}
	for i := range trials {
		if err := tw.Write(TraceEntry{Trial: &trials[i]}); err != nil {
			return 0, err
		}
	}
	return len(trials), tw.Flush()
}

// ImportStudy recreates an exported study in s. The study keeps its guid and
// metadata; trials are re-added in their original order so they receive the
// same ids they had at export time.
func ImportStudy(ctx context.Context, s Store, r io.Reader) (study.Study, error) {
	tr := NewTraceReader(r)
	first, err := tr.Read()
	if err == io.EOF {
		return study.Study{}, study.InvalidArgument("empty trace")
	} else if err != nil {
		return study.Study{}, err
	}
	if first.Study == nil {
		return study.Study{}, study.InvalidArgument("trace does not start with a study")
	}

	var trials []study.Trial
	for {
		entry, err := tr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return study.Study{}, err
		}
		if entry.Trial == nil {
			return study.Study{}, study.InvalidArgument("trace entry %d holds no trial", len(trials)+2)
		}
		if entry.Trial.ID != len(trials)+1 {
			return study.Study{}, study.InvalidArgument("trace trial ids are not contiguous at %d", entry.Trial.ID)
		}
		trials = append(trials, *entry.Trial)
	}

	created, err := s.CreateStudy(ctx, *first.Study)
	if err != nil {
		return study.Study{}, err
	}
	if len(trials) > 0 {
		if _, err := s.AddTrials(ctx, created.GUID, trials); err != nil {
			return study.Study{}, err
		}
	}
	return created, nil
}
