package designer

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/cwbudde/govizier/internal/study"
)

// envelope wraps every designer checkpoint. State is algorithm specific.
type envelope struct {
	Version   int             `json:"v"`
	Algorithm string          `json:"alg"`
	State     json.RawMessage `json:"state"`
}

// Encode wraps state in a versioned envelope for algorithm alg.
func Encode(alg string, version int, state any) ([]byte, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s state: %w", alg, err)
	}
	return json.Marshal(envelope{Version: version, Algorithm: alg, State: raw})
}

// Decode unwraps a payload produced by Encode into state. Unknown fields,
// a different algorithm or a different version are rejected as corrupt.
func Decode(payload []byte, alg string, version int, state any) error {
	var env envelope
	if err := decodeStrict(payload, &env); err != nil {
		return study.CorruptState("%s checkpoint envelope: %v", alg, err)
	}
	if env.Algorithm != alg {
		return study.CorruptState("checkpoint belongs to algorithm %q, not %q", env.Algorithm, alg)
	}
	if env.Version != version {
		return study.CorruptState("%s checkpoint version %d, want %d", alg, env.Version, version)
	}
	if len(env.State) == 0 || bytes.Equal(bytes.TrimSpace(env.State), []byte("null")) {
		return study.CorruptState("%s checkpoint has no state", alg)
	}
	if err := decodeStrict(env.State, state); err != nil {
		return study.CorruptState("%s checkpoint state: %v", alg, err)
	}
	return nil
}

func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("trailing data after JSON value")
	}
	return nil
}
