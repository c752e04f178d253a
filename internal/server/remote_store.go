package server

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cwbudde/govizier/internal/store"
	"github.com/cwbudde/govizier/internal/study"
)

// RemoteStore implements store.Store against the study API of a front
// server. A policy server uses it to reach the front's store.
type RemoteStore struct {
	client *apiClient
}

var _ store.Store = (*RemoteStore)(nil)

// NewRemoteStore returns a store backed by the front server at endpoint
// ("host:port" or a base URL). timeout bounds each call.
func NewRemoteStore(endpoint string, timeout time.Duration) *RemoteStore {
	return &RemoteStore{client: newAPIClient(endpoint, timeout)}
}

func studyPath(guid string) string {
	return "/api/v1/studies/" + url.PathEscape(guid)
}

func (s *RemoteStore) CreateStudy(ctx context.Context, st study.Study) (study.Study, error) {
	req := createStudyRequest{
		GUID:        st.GUID,
		DisplayName: st.DisplayName,
		Owner:       st.Owner,
		Config:      st.Config,
	}
	var out study.Study
	if err := s.client.do(ctx, http.MethodPost, "/api/v1/studies", req, &out); err != nil {
		return study.Study{}, err
	}
	return out, nil
}

func (s *RemoteStore) GetStudy(ctx context.Context, guid string) (study.Study, error) {
	var out study.Study
	if err := s.client.do(ctx, http.MethodGet, studyPath(guid), nil, &out); err != nil {
		return study.Study{}, err
	}
	return out, nil
}

func (s *RemoteStore) ListStudies(ctx context.Context) ([]study.Study, error) {
	var out studiesResponse
	if err := s.client.do(ctx, http.MethodGet, "/api/v1/studies", nil, &out); err != nil {
		return nil, err
	}
	return out.Studies, nil
}

func (s *RemoteStore) GetStudyConfig(ctx context.Context, guid string) (study.StudyConfig, error) {
	var out study.StudyConfig
	if err := s.client.do(ctx, http.MethodGet, studyPath(guid)+"/config", nil, &out); err != nil {
		return study.StudyConfig{}, err
	}
	return out, nil
}

func (s *RemoteStore) AddTrials(ctx context.Context, guid string, trials []study.Trial) ([]study.Trial, error) {
	var out trialsResponse
	if err := s.client.do(ctx, http.MethodPost, studyPath(guid)+"/trials", trialsRequest{Trials: trials}, &out); err != nil {
		return nil, err
	}
	return out.Trials, nil
}

func (s *RemoteStore) GetTrials(ctx context.Context, guid string, filter store.TrialFilter) ([]study.Trial, error) {
	q := url.Values{}
	if filter.MinID > 0 {
		q.Set("min_id", strconv.Itoa(filter.MinID))
	}
	if filter.MaxID > 0 {
		q.Set("max_id", strconv.Itoa(filter.MaxID))
	}
	path := studyPath(guid) + "/trials"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out trialsResponse
	if err := s.client.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Trials, nil
}

func (s *RemoteStore) CompleteTrial(ctx context.Context, guid string, id int, m study.Measurement) (study.Trial, error) {
	var out study.Trial
	path := fmt.Sprintf("%s/trials/%d/complete", studyPath(guid), id)
	if err := s.client.do(ctx, http.MethodPost, path, completeRequest{Measurement: m}, &out); err != nil {
		return study.Trial{}, err
	}
	return out, nil
}

func (s *RemoteStore) StopTrial(ctx context.Context, guid string, id int) (study.Trial, error) {
	var out study.Trial
	path := fmt.Sprintf("%s/trials/%d/stop", studyPath(guid), id)
	if err := s.client.do(ctx, http.MethodPost, path, nil, &out); err != nil {
		return study.Trial{}, err
	}
	return out, nil
}

func (s *RemoteStore) UpdateMetadata(ctx context.Context, guid string, delta study.MetadataDelta) error {
	return s.client.do(ctx, http.MethodPost, studyPath(guid)+"/metadata", delta, nil)
}

// BestTrials asks the front server to rank the study's trials.
func (s *RemoteStore) BestTrials(ctx context.Context, guid string, count int) ([]study.Trial, error) {
	var out trialsResponse
	path := fmt.Sprintf("%s/best?count=%d", studyPath(guid), count)
	if err := s.client.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Trials, nil
}

// Suggest asks the front server for new trials.
func (s *RemoteStore) Suggest(ctx context.Context, guid string, count int) ([]study.Trial, error) {
	var out trialsResponse
	if err := s.client.do(ctx, http.MethodPost, studyPath(guid)+"/suggest", suggestRequest{Count: count}, &out); err != nil {
		return nil, err
	}
	return out.Trials, nil
}

func (s *RemoteStore) Close() error {
	s.client.http.CloseIdleConnections()
	return nil
}
