package server

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"

	"github.com/cwbudde/govizier/internal/designer/designertest"
	"github.com/cwbudde/govizier/internal/policy"
	"github.com/cwbudde/govizier/internal/store"
	"github.com/cwbudde/govizier/internal/study"
)

// setupTestServer serves a memory store with an in-process policy.
func setupTestServer(t *testing.T) (*Server, *httptest.Server, *RemoteStore) {
	t.Helper()
	srv := NewLocalServer(store.NewMemoryStore(), policy.NewRegistry())
	ts := httptest.NewServer(srv.Handler())
	remote := NewRemoteStore(ts.URL, 5*time.Second)
	t.Cleanup(func() {
		srv.Close()
		remote.Close()
		ts.Close()
	})
	return srv, ts, remote
}

func createTestStudy(t *testing.T, st store.Store, algorithm string) study.Study {
	t.Helper()
	created, err := st.CreateStudy(context.Background(), study.Study{
		DisplayName: "test",
		Config: study.StudyConfig{
			Problem:   designertest.Problem(),
			Algorithm: algorithm,
		},
	})
	if err != nil {
		t.Fatalf("CreateStudy failed: %v", err)
	}
	return created
}

func completeAll(t *testing.T, st store.Store, guid string, trials []study.Trial) {
	t.Helper()
	for _, tr := range trials {
		m := study.Measurement{Metrics: map[string]float64{"obj": designertest.Objective(tr.Parameters)}}
		if _, err := st.CompleteTrial(context.Background(), guid, tr.ID, m); err != nil {
			t.Fatalf("CompleteTrial(%d) failed: %v", tr.ID, err)
		}
	}
}

func TestServer_StudyLifecycle(t *testing.T) {
	_, _, remote := setupTestServer(t)
	ctx := context.Background()

	created := createTestStudy(t, remote, study.AlgorithmRandomSearch)
	if created.GUID == "" {
		t.Fatal("created study has no guid")
	}

	got, err := remote.GetStudy(ctx, created.GUID)
	if err != nil {
		t.Fatalf("GetStudy failed: %v", err)
	}
	if diff := cmp.Diff(created.Config.Problem, got.Config.Problem); diff != "" {
		t.Errorf("problem mismatch (-want +got):\n%s", diff)
	}

	studies, err := remote.ListStudies(ctx)
	if err != nil {
		t.Fatalf("ListStudies failed: %v", err)
	}
	if len(studies) != 1 || studies[0].GUID != created.GUID {
		t.Errorf("ListStudies = %v, want one study %s", studies, created.GUID)
	}

	added, err := remote.AddTrials(ctx, created.GUID, []study.Trial{
		{Status: study.Active, Parameters: map[string]study.ParameterValue{"x": study.Num(1)}},
		{Status: study.Active, Parameters: map[string]study.ParameterValue{"x": study.Num(2)}},
	})
	if err != nil {
		t.Fatalf("AddTrials failed: %v", err)
	}
	if added[0].ID != 1 || added[1].ID != 2 {
		t.Errorf("ids = %d,%d, want 1,2", added[0].ID, added[1].ID)
	}

	if _, err := remote.CompleteTrial(ctx, created.GUID, 1, study.Measurement{Metrics: map[string]float64{"obj": 3}}); err != nil {
		t.Fatalf("CompleteTrial failed: %v", err)
	}
	stopped, err := remote.StopTrial(ctx, created.GUID, 2)
	if err != nil {
		t.Fatalf("StopTrial failed: %v", err)
	}
	if stopped.Status != study.Stopped {
		t.Errorf("status = %s, want %s", stopped.Status, study.Stopped)
	}

	var delta study.MetadataDelta
	delta.Assign("ns", "k", "v")
	delta.AssignTrial(1, "ns", "tk", "tv")
	if err := remote.UpdateMetadata(ctx, created.GUID, delta); err != nil {
		t.Fatalf("UpdateMetadata failed: %v", err)
	}
	cfg, err := remote.GetStudyConfig(ctx, created.GUID)
	if err != nil {
		t.Fatalf("GetStudyConfig failed: %v", err)
	}
	if v, _ := cfg.Metadata.Get("ns", "k"); v != "v" {
		t.Errorf("study metadata = %q, want v", v)
	}

	trials, err := remote.GetTrials(ctx, created.GUID, store.TrialFilter{MinID: 1, MaxID: 1})
	if err != nil {
		t.Fatalf("GetTrials failed: %v", err)
	}
	if len(trials) != 1 {
		t.Fatalf("GetTrials returned %d trials, want 1", len(trials))
	}
	if v, _ := trials[0].Metadata.Get("ns", "tk"); v != "tv" {
		t.Errorf("trial metadata = %q, want tv", v)
	}
	if !trials[0].IsCompleted() {
		t.Error("trial 1 should be completed")
	}
}

func TestServer_RemoteErrorsKeepTaxonomy(t *testing.T) {
	_, _, remote := setupTestServer(t)
	ctx := context.Background()
	created := createTestStudy(t, remote, "")

	tests := []struct {
		name string
		call func() error
		want error
	}{
		{"unknown study", func() error { _, err := remote.GetStudy(ctx, "missing"); return err }, study.ErrNotFound},
		{"unknown trial", func() error { _, err := remote.StopTrial(ctx, created.GUID, 99); return err }, study.ErrNotFound},
		{"no metrics", func() error {
			_, err := remote.CreateStudy(ctx, study.Study{Config: study.StudyConfig{}})
			return err
		}, study.ErrInvalidArgument},
		{"metadata on unknown trial", func() error {
			var d study.MetadataDelta
			d.AssignTrial(7, "ns", "k", "v")
			return remote.UpdateMetadata(ctx, created.GUID, d)
		}, study.ErrNotFound},
		{"suggest zero", func() error { _, err := remote.Suggest(ctx, created.GUID, 0); return err }, study.ErrInvalidArgument},
		{"best negative", func() error { _, err := remote.BestTrials(ctx, created.GUID, -1); return err }, study.ErrInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestServer_ErrorResponses(t *testing.T) {
	_, ts, remote := setupTestServer(t)
	created := createTestStudy(t, remote, "")

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"unknown study", http.MethodGet, "/api/v1/studies/nope", "", http.StatusNotFound, CodeNotFound},
		{"bad json", http.MethodPost, "/api/v1/studies", "{", http.StatusBadRequest, CodeInvalidArgument},
		{"bad trial id", http.MethodPost, "/api/v1/studies/" + created.GUID + "/trials/abc/stop", "", http.StatusBadRequest, CodeInvalidArgument},
		{"bad min_id", http.MethodGet, "/api/v1/studies/" + created.GUID + "/trials?min_id=x", "", http.StatusBadRequest, CodeInvalidArgument},
		{"missing trials", http.MethodPost, "/api/v1/studies/" + created.GUID + "/trials", "{}", http.StatusBadRequest, CodeInvalidArgument},
		{"suggest unknown study", http.MethodPost, "/api/v1/studies/nope/suggest", `{"count":1}`, http.StatusNotFound, CodeNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, ts.URL+tt.path, strings.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			resp, err := ts.Client().Do(req)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			var er errorResponse
			if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
				t.Fatalf("failed to decode error body: %v", err)
			}
			if er.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", er.Code, tt.wantCode)
			}
			if er.Message == "" {
				t.Error("error message should not be empty")
			}
		})
	}
}

func TestServer_SuggestAndBest(t *testing.T) {
	_, _, remote := setupTestServer(t)
	ctx := context.Background()
	created := createTestStudy(t, remote, study.AlgorithmEagleStrategy)

	first, err := remote.Suggest(ctx, created.GUID, 3)
	if err != nil {
		t.Fatalf("Suggest failed: %v", err)
	}
	if len(first) != 3 {
		t.Fatalf("got %d trials, want 3", len(first))
	}
	for i, tr := range first {
		if tr.ID != i+1 {
			t.Errorf("trial %d has id %d", i, tr.ID)
		}
		if tr.Status != study.Active {
			t.Errorf("trial %d status = %s", tr.ID, tr.Status)
		}
	}
	completeAll(t, remote, created.GUID, first)

	second, err := remote.Suggest(ctx, created.GUID, 2)
	if err != nil {
		t.Fatalf("second Suggest failed: %v", err)
	}
	if second[0].ID != 4 || second[1].ID != 5 {
		t.Errorf("second batch ids = %d,%d, want 4,5", second[0].ID, second[1].ID)
	}

	best, err := remote.BestTrials(ctx, created.GUID, 1)
	if err != nil {
		t.Fatalf("BestTrials failed: %v", err)
	}
	if len(best) != 1 {
		t.Fatalf("got %d best trials, want 1", len(best))
	}
	want := first[0]
	for _, tr := range first[1:] {
		if designertest.Objective(tr.Parameters) > designertest.Objective(want.Parameters) {
			want = tr
		}
	}
	if best[0].ID != want.ID {
		t.Errorf("best id = %d, want %d", best[0].ID, want.ID)
	}

	cfg, err := remote.GetStudyConfig(ctx, created.GUID)
	if err != nil {
		t.Fatalf("GetStudyConfig failed: %v", err)
	}
	if _, ok := cfg.Metadata.Get(policy.MetadataNamespace, policy.KeyCheckpoint); !ok {
		t.Error("checkpoint was not committed")
	}
}

func TestServer_Health(t *testing.T) {
	_, ts, _ := setupTestServer(t)

	resp, err := ts.Client().Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestServer_Metrics(t *testing.T) {
	_, ts, remote := setupTestServer(t)
	created := createTestStudy(t, remote, study.AlgorithmRandomSearch)
	if _, err := remote.Suggest(context.Background(), created.GUID, 1); err != nil {
		t.Fatalf("Suggest failed: %v", err)
	}

	resp, err := ts.Client().Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, name := range []string{"govizier_suggested_trials_total", "govizier_trials_added_total", "govizier_api_request_duration_seconds"} {
		if !bytes.Contains(body, []byte(name)) {
			t.Errorf("metrics output lacks %s", name)
		}
	}
}

func TestServer_EventStream(t *testing.T) {
	srv, ts, remote := setupTestServer(t)
	created := createTestStudy(t, remote, study.AlgorithmRandomSearch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/studies/"+created.GUID+"/events", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	waitFor(t, func() bool { return srv.Broadcaster().Subscribers(created.GUID) == 1 })

	trials, err := remote.Suggest(context.Background(), created.GUID, 2)
	if err != nil {
		t.Fatalf("Suggest failed: %v", err)
	}
	completeAll(t, remote, created.GUID, trials[:1])

	events := readEvents(t, bufio.NewReader(resp.Body), 3)
	wantKinds := []EventKind{EventAdded, EventAdded, EventCompleted}
	for i, ev := range events {
		if ev.Kind != wantKinds[i] {
			t.Errorf("event %d kind = %s, want %s", i, ev.Kind, wantKinds[i])
		}
		if ev.StudyGUID != created.GUID {
			t.Errorf("event %d study = %s", i, ev.StudyGUID)
		}
	}
	if events[2].Trial.ID != trials[0].ID {
		t.Errorf("completed event trial = %d, want %d", events[2].Trial.ID, trials[0].ID)
	}

	cancel()
	waitFor(t, func() bool { return srv.Broadcaster().Subscribers(created.GUID) == 0 })
}

func TestServer_EventStreamUnknownStudy(t *testing.T) {
	_, ts, _ := setupTestServer(t)

	resp, err := ts.Client().Get(ts.URL + "/api/v1/studies/missing/events")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestEventBroadcaster(t *testing.T) {
	eb := NewEventBroadcaster()

	ch := eb.Subscribe("s1")
	other := eb.Subscribe("s2")

	eb.Broadcast(TrialEvent{StudyGUID: "s1", Kind: EventAdded, Trial: study.Trial{ID: 1}})

	select {
	case ev := <-ch:
		if ev.Trial.ID != 1 {
			t.Errorf("trial id = %d, want 1", ev.Trial.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
	select {
	case ev := <-other:
		t.Errorf("event for s1 delivered to s2: %+v", ev)
	default:
	}

	// A full channel drops events instead of blocking.
	for i := 0; i < cap(ch)+5; i++ {
		eb.Broadcast(TrialEvent{StudyGUID: "s1", Trial: study.Trial{ID: i}})
	}
	if len(ch) != cap(ch) {
		t.Errorf("channel holds %d events, want %d", len(ch), cap(ch))
	}

	eb.Unsubscribe("s1", ch)
	eb.Unsubscribe("s1", ch)
	if eb.Subscribers("s1") != 0 {
		t.Error("s1 should have no subscribers")
	}
	eb.Unsubscribe("s2", other)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err        error
		wantCode   string
		wantStatus int
	}{
		{study.StudyNotFound("x"), CodeNotFound, http.StatusNotFound},
		{study.InvalidArgument("bad"), CodeInvalidArgument, http.StatusBadRequest},
		{study.ErrResourceBusy, CodeResourceBusy, http.StatusConflict},
		{study.CorruptState("broken"), CodeCorruptState, http.StatusInternalServerError},
		{study.ErrTransport, CodeTransport, http.StatusBadGateway},
		{errors.New("boom"), CodeInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		code, status := classify(tt.err)
		if code != tt.wantCode || status != tt.wantStatus {
			t.Errorf("classify(%v) = %s/%d, want %s/%d", tt.err, code, status, tt.wantCode, tt.wantStatus)
		}
		decoded := decodeRemoteError(status, errorResponse{Code: code, Message: tt.err.Error()})
		if back, _ := classify(decoded); back != code {
			t.Errorf("decoded %s classifies as %s", code, back)
		}
	}
}

func TestDecodeRemoteError(t *testing.T) {
	tests := []struct {
		code string
		want error
	}{
		{CodeNotFound, study.ErrNotFound},
		{CodeInvalidArgument, study.ErrInvalidArgument},
		{CodeResourceBusy, study.ErrResourceBusy},
		{CodeCorruptState, study.ErrCorruptState},
		{CodeTransport, study.ErrTransport},
		{CodeInternal, ErrRemoteInternal},
		{"SOMETHING_NEW", study.ErrTransport},
	}
	for _, tt := range tests {
		err := decodeRemoteError(http.StatusInternalServerError, errorResponse{Code: tt.code})
		if !errors.Is(err, tt.want) {
			t.Errorf("decodeRemoteError(%s) = %v, want %v", tt.code, err, tt.want)
		}
		if tt.code == CodeInternal && errors.Is(err, study.ErrTransport) {
			t.Errorf("INTERNAL must not decode as a transport failure")
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// readEvents parses n SSE data frames, skipping comments.
func readEvents(t *testing.T, r *bufio.Reader, n int) []TrialEvent {
	t.Helper()
	var events []TrialEvent
	for len(events) < n {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("stream ended after %d events: %v", len(events), err)
		}
		data, ok := strings.CutPrefix(strings.TrimRight(line, "\n"), "data: ")
		if !ok {
			continue
		}
		var ev TrialEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			t.Fatalf("invalid event %q: %v", data, err)
		}
		events = append(events, ev)
	}
	return events
}
