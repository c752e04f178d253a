package designer

import (
	"encoding/base64"
	"fmt"
	"math/rand/v2"

	"github.com/goccy/go-json"
)

// streamIncrement is the second PCG seed word; it only has to be fixed.
const streamIncrement = 0x9e3779b97f4a7c15

// Stream is a serializable pseudo-random stream. Its JSON form is the full
// PCG state, so a restored stream continues with exactly the values the
// original would have produced next.
type Stream struct {
	pcg *rand.PCG
	rng *rand.Rand
}

func NewStream(seed uint64) *Stream {
	pcg := rand.NewPCG(seed, streamIncrement)
	return &Stream{pcg: pcg, rng: rand.New(pcg)}
}

// Float64 returns a value in [0, 1).
func (s *Stream) Float64() float64 { return s.rng.Float64() }

// NormFloat64 returns a standard normal value.
func (s *Stream) NormFloat64() float64 { return s.rng.NormFloat64() }

// IntN returns a value in [0, n).
func (s *Stream) IntN(n int) int { return s.rng.IntN(n) }

func (s *Stream) Int64() int64 { return s.rng.Int64() }

func (s *Stream) Uint64() uint64 { return s.rng.Uint64() }

// Unit fills a fresh vector of length dim with uniform values in [0, 1).
func (s *Stream) Unit(dim int) []float64 {
	u := make([]float64, dim)
	for i := range u {
		u[i] = s.rng.Float64()
	}
	return u
}

func (s *Stream) MarshalJSON() ([]byte, error) {
	state, err := s.pcg.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return json.Marshal(base64.StdEncoding.EncodeToString(state))
}

func (s *Stream) UnmarshalJSON(data []byte) error {
	var encoded string
	if err := json.Unmarshal(data, &encoded); err != nil {
		return fmt.Errorf("stream state: %w", err)
	}
	state, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("stream state: %w", err)
	}
	pcg := &rand.PCG{}
	if err := pcg.UnmarshalBinary(state); err != nil {
		return fmt.Errorf("stream state: %w", err)
	}
	s.pcg = pcg
	s.rng = rand.New(pcg)
	return nil
}
