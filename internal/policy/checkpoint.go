package policy

import (
	"encoding/base64"
	"sort"

	"github.com/goccy/go-json"

	"github.com/cwbudde/govizier/internal/study"
)

// Study metadata keys holding the committed policy state.
const (
	MetadataNamespace = "policy"
	KeyCheckpoint     = "checkpoint"
	KeyAlgorithm      = "algorithm"
)

// Checkpoint is the committed state of a supporter: the designer dump plus
// the completed trials already fed to it.
type Checkpoint struct {
	Algorithm string `json:"algorithm"`
	Designer  []byte `json:"designer"`
	Seen      []int  `json:"seen"`
}

// Encode returns the metadata value form of the checkpoint.
func (c Checkpoint) Encode() (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeCheckpoint parses a metadata value produced by Encode.
func DecodeCheckpoint(value string) (Checkpoint, error) {
	data, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return Checkpoint{}, study.CorruptState("policy checkpoint encoding: %v", err)
	}
	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return Checkpoint{}, study.CorruptState("policy checkpoint: %v", err)
	}
	if c.Algorithm == "" || len(c.Designer) == 0 {
		return Checkpoint{}, study.CorruptState("policy checkpoint is incomplete")
	}
	return c, nil
}

// LoadCheckpoint reads the committed checkpoint from study metadata. ok is
// false when none has been committed yet.
func LoadCheckpoint(md study.Metadata) (c Checkpoint, ok bool, err error) {
	value, present := md.Get(MetadataNamespace, KeyCheckpoint)
	if !present {
		return Checkpoint{}, false, nil
	}
	c, err = DecodeCheckpoint(value)
	return c, err == nil, err
}

func seenList(seen map[int]bool) []int {
	out := make([]int, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}
