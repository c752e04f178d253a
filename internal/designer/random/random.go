// Package random implements uniform random search.
package random

import (
	"github.com/cwbudde/govizier/internal/designer"
	"github.com/cwbudde/govizier/internal/study"
)

const (
	Algorithm    = study.AlgorithmRandomSearch
	stateVersion = 1
)

type state struct {
	Stream *designer.Stream `json:"stream"`
}

// Designer samples every parameter uniformly and ignores feedback.
type Designer struct {
	space  designer.Space
	stream *designer.Stream
}

func New(problem study.ProblemStatement, seed uint64) (designer.Designer, error) {
	return &Designer{
		space:  designer.NewSpace(problem.SearchSpace),
		stream: designer.NewStream(seed),
	}, nil
}

func (d *Designer) Suggest(count int) ([]study.Trial, error) {
	if err := designer.CheckCount(count); err != nil {
		return nil, err
	}
	out := make([]study.Trial, count)
	for i := range out {
		out[i] = designer.NewTrial(d.space.Decode(d.stream.Unit(d.space.Dim())))
	}
	return out, nil
}

func (d *Designer) Update([]study.Trial) error {
	return nil
}

func (d *Designer) Dump() ([]byte, error) {
	return designer.Encode(Algorithm, stateVersion, state{Stream: d.stream})
}

func (d *Designer) Load(payload []byte) error {
	var st state
	if err := designer.Decode(payload, Algorithm, stateVersion, &st); err != nil {
		return err
	}
	if st.Stream == nil {
		return study.CorruptState("%s checkpoint has no stream", Algorithm)
	}
	d.stream = st.Stream
	return nil
}
