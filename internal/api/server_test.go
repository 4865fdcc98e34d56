package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/arafatrahmannoor/Health-Measure-and-Prediction/internal/dataset"
	xerrors "github.com/arafatrahmannoor/Health-Measure-and-Prediction/internal/errors"
	"github.com/arafatrahmannoor/Health-Measure-and-Prediction/internal/inference"
	"github.com/arafatrahmannoor/Health-Measure-and-Prediction/internal/observability/metrics"
	"github.com/arafatrahmannoor/Health-Measure-and-Prediction/internal/prediction"
	"github.com/arafatrahmannoor/Health-Measure-and-Prediction/internal/profile"
)

// fakePredictor 以 SpO2 低于 90 判为异常。
type fakePredictor struct {
	loaded bool
	err    error
	calls  int
}

func (f *fakePredictor) Predict(_ context.Context, v inference.Vitals) (inference.Prediction, error) {
	f.calls++
	if f.err != nil {
		return inference.Prediction{}, f.err
	}
	p := inference.Prediction{
		Input:               v,
		Label:               dataset.LabelNormal,
		AbnormalProbability: 0.1234,
		NormalProbability:   0.8766,
		Threshold:           0.45,
		Recommendation:      inference.RecommendationNormal,
		ModelVersion:        "20250101T000000Z",
	}
	if v.SpO2 < 90 {
		p.Label = dataset.LabelAbnormal
		p.Code = 1
		p.AbnormalProbability, p.NormalProbability = 0.9, 0.1
		p.Recommendation = inference.RecommendationAbnormal
	}
	return p, nil
}

func (f *fakePredictor) Status() inference.Status {
	return inference.Status{Loaded: f.loaded, Path: "/srv/models/proposed_model.json.zst", Threshold: 0.45}
}

type fakeRecorder struct {
	mu      sync.Mutex
	sources []string
	err     error
}

func (f *fakeRecorder) Record(_ context.Context, source string, p inference.Prediction) (*prediction.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.sources = append(f.sources, source)
	return &prediction.Record{ID: "rec-1", Source: source, Label: p.Label}, nil
}

type testEnv struct {
	server    *Server
	handler   http.Handler
	predictor *fakePredictor
	recorder  *fakeRecorder
	history   *prediction.MemoryStore
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()
	env := &testEnv{
		predictor: &fakePredictor{loaded: true},
		recorder:  &fakeRecorder{},
		history:   prediction.NewMemoryStore(),
	}
	env.server = NewServer(opts, Dependencies{
		Predictor: env.predictor,
		Profiles:  profile.NewService(profile.NewMemoryStore()),
		Recorder:  env.recorder,
		History:   env.history,
		Metrics:   metrics.New(),
	})
	env.handler = env.server.Handler()
	return env
}

func (e *testEnv) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func fixedTime(minutes int) time.Time {
	return time.Date(2025, 6, 1, 9, minutes, 0, 0, time.UTC)
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestProfileLifecycle(t *testing.T) {
	env := newTestEnv(t, Options{})

	rec := env.do(http.MethodPost, "/api/profiles/", `{"name":"Ada","email":"ada@example.com","phone":"12345"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("unexpected status: got %d want %d (%s)", rec.Code, http.StatusCreated, rec.Body)
	}
	created := decodeBody[profile.Profile](t, rec)
	if created.ID != 1 || created.Bio != nil || created.Phone == nil || *created.Phone != "12345" {
		t.Fatalf("unexpected profile: %+v", created)
	}

	rec = env.do(http.MethodGet, "/api/profiles/", "")
	list := decodeBody[[]profile.Profile](t, rec)
	if rec.Code != http.StatusOK || len(list) != 1 {
		t.Fatalf("unexpected list: %d %+v", rec.Code, list)
	}

	rec = env.do(http.MethodPatch, "/api/profiles/1/", `{"bio":"runner"}`)
	patched := decodeBody[profile.Profile](t, rec)
	if rec.Code != http.StatusOK || patched.Bio == nil || *patched.Bio != "runner" || patched.Name != "Ada" {
		t.Fatalf("unexpected patch result: %d %+v", rec.Code, patched)
	}

	rec = env.do(http.MethodPut, "/api/profiles/1/", `{"name":"Ada L","email":"ada@example.com"}`)
	updated := decodeBody[profile.Profile](t, rec)
	if rec.Code != http.StatusOK || updated.Name != "Ada L" || updated.Bio != nil || updated.Phone != nil {
		t.Fatalf("PUT should clear omitted optional fields: %d %+v", rec.Code, updated)
	}

	rec = env.do(http.MethodDelete, "/api/profiles/1/", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected delete status: %d", rec.Code)
	}
	rec = env.do(http.MethodGet, "/api/profiles/1/", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", rec.Code)
	}
	if diff := cmp.Diff(map[string]string{"detail": "Not found."}, decodeBody[map[string]string](t, rec)); diff != "" {
		t.Fatalf("unexpected not found body (-want +got):\n%s", diff)
	}
}

func TestProfileValidationErrors(t *testing.T) {
	env := newTestEnv(t, Options{})

	rec := env.do(http.MethodPost, "/api/profiles/", `{"email":"not-an-email","phone":true}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	got := decodeBody[map[string][]string](t, rec)
	want := map[string][]string{
		"name":  {profile.MsgRequired},
		"email": {profile.MsgInvalidEmail},
		"phone": {profile.MsgNotString},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected validation errors (-want +got):\n%s", diff)
	}

	env.do(http.MethodPost, "/api/profiles/", `{"name":"A","email":"a@example.com"}`)
	rec = env.do(http.MethodPost, "/api/profiles/", `{"name":"B","email":"a@example.com"}`)
	got = decodeBody[map[string][]string](t, rec)
	if rec.Code != http.StatusBadRequest || len(got["email"]) != 1 || got["email"][0] != profile.MsgEmailTaken {
		t.Fatalf("expected duplicate email error, got %d %v", rec.Code, got)
	}

	rec = env.do(http.MethodPost, "/api/profiles/", `{"name":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed JSON, got %d", rec.Code)
	}
}

func TestProfileRoutingErrors(t *testing.T) {
	env := newTestEnv(t, Options{})

	cases := []struct {
		name   string
		method string
		path   string
		status int
	}{
		{"non numeric id", http.MethodGet, "/api/profiles/abc/", http.StatusNotFound},
		{"unknown id", http.MethodGet, "/api/profiles/42/", http.StatusNotFound},
		{"list method", http.MethodDelete, "/api/profiles/", http.StatusMethodNotAllowed},
		{"detail method", http.MethodPost, "/api/profiles/1/", http.StatusMethodNotAllowed},
		{"unknown path", http.MethodGet, "/nope", http.StatusNotFound},
		{"bad limit", http.MethodGet, "/api/profiles/?limit=x", http.StatusBadRequest},
		{"bad created_after", http.MethodGet, "/api/profiles/?created_after=yesterday", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(tc.method, tc.path, "")
			if rec.Code != tc.status {
				t.Fatalf("expected status %d, got %d (%s)", tc.status, rec.Code, rec.Body)
			}
		})
	}
}

func TestProfileListSearchAndPaging(t *testing.T) {
	env := newTestEnv(t, Options{})
	for _, body := range []string{
		`{"name":"Alice","email":"alice@example.com"}`,
		`{"name":"Bob","email":"bob@example.com"}`,
		`{"name":"Carol","email":"carol@example.org"}`,
	} {
		if rec := env.do(http.MethodPost, "/api/profiles/", body); rec.Code != http.StatusCreated {
			t.Fatalf("create failed: %d %s", rec.Code, rec.Body)
		}
	}

	list := decodeBody[[]profile.Profile](t, env.do(http.MethodGet, "/api/profiles/?search=example.org", ""))
	if len(list) != 1 || list[0].Name != "Carol" {
		t.Fatalf("unexpected search result: %+v", list)
	}
	list = decodeBody[[]profile.Profile](t, env.do(http.MethodGet, "/api/profiles/?limit=1&offset=1", ""))
	if len(list) != 1 || list[0].Name != "Bob" {
		t.Fatalf("unexpected page: %+v", list)
	}
}

func TestDetailedPredict(t *testing.T) {
	env := newTestEnv(t, Options{})

	rec := env.do(http.MethodPost, "/api/predict/", `{"Temp_C":37.5,"SpO2":"85","BPM":72}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d (%s)", rec.Code, rec.Body)
	}
	got := decodeBody[inference.Prediction](t, rec)
	if got.Label != dataset.LabelAbnormal || got.Code != 1 || got.Input.SpO2 != 85 {
		t.Fatalf("unexpected prediction: %+v", got)
	}
	if got.Recommendation != inference.RecommendationAbnormal || got.Threshold != 0.45 {
		t.Fatalf("unexpected prediction details: %+v", got)
	}
	if len(env.recorder.sources) != 1 || env.recorder.sources[0] != prediction.SourceDetailed {
		t.Fatalf("prediction was not recorded: %v", env.recorder.sources)
	}
}

func TestDetailedPredictErrors(t *testing.T) {
	t.Run("invalid input", func(t *testing.T) {
		env := newTestEnv(t, Options{})
		for _, body := range []string{`{"Temp_C":"abc","SpO2":97,"BPM":70}`, `{"SpO2":97,"BPM":70}`, `[1,2,3]`, `{"Temp_C":"NaN","SpO2":97,"BPM":70}`} {
			rec := env.do(http.MethodPost, "/api/predict/", body)
			got := decodeBody[map[string]string](t, rec)
			if rec.Code != http.StatusBadRequest || got["error"] != msgInvalidVitals {
				t.Fatalf("body %s: unexpected response %d %v", body, rec.Code, got)
			}
		}
		if env.predictor.calls != 0 {
			t.Fatalf("predictor should not be called for invalid input")
		}
	})

	t.Run("model not loaded", func(t *testing.T) {
		env := newTestEnv(t, Options{})
		env.predictor.loaded = false
		rec := env.do(http.MethodPost, "/api/predict/", `{"Temp_C":37,"SpO2":97,"BPM":70}`)
		got := decodeBody[map[string]string](t, rec)
		want := "ML model not loaded. Please ensure 'proposed_model.json.zst' is in the project root."
		if rec.Code != http.StatusServiceUnavailable || got["error"] != want {
			t.Fatalf("unexpected response: %d %v", rec.Code, got)
		}
	})

	t.Run("prediction failure", func(t *testing.T) {
		env := newTestEnv(t, Options{})
		env.predictor.err = xerrors.New(inference.CodePredictionFailure, "Prediction failed: boom")
		rec := env.do(http.MethodPost, "/api/predict/", `{"Temp_C":37,"SpO2":97,"BPM":70}`)
		got := decodeBody[map[string]string](t, rec)
		if rec.Code != http.StatusInternalServerError || got["error"] != "Prediction failed: boom" {
			t.Fatalf("unexpected response: %d %v", rec.Code, got)
		}
	})

	t.Run("recording failure keeps response", func(t *testing.T) {
		env := newTestEnv(t, Options{})
		env.recorder.err = errors.New("queue down")
		rec := env.do(http.MethodPost, "/api/predict/", `{"Temp_C":37,"SpO2":97,"BPM":70}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("recording failure should not fail the request: %d", rec.Code)
		}
	})

	t.Run("method", func(t *testing.T) {
		env := newTestEnv(t, Options{})
		if rec := env.do(http.MethodGet, "/api/predict/", ""); rec.Code != http.StatusMethodNotAllowed {
			t.Fatalf("expected 405, got %d", rec.Code)
		}
	})
}

func TestPredictionsRespondWhenRecordQueueIsFull(t *testing.T) {
	queue := prediction.NewMemoryQueue(1)
	defer queue.Close()
	server := NewServer(Options{}, Dependencies{
		Predictor: &fakePredictor{loaded: true},
		Profiles:  profile.NewService(profile.NewMemoryStore()),
		Recorder:  prediction.NewRecorder(prediction.NewMemoryStore(), queue, queue),
		History:   prediction.NewMemoryStore(),
	})
	handler := server.Handler()

	// 没有消费者，第二条记录无法入队。
	for i, path := range []string{"/api/predict/", "/predictions/", "/api/predict/"} {
		done := make(chan int, 1)
		go func() {
			req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{"Temp_C":37,"SpO2":97,"BPM":70}`))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			done <- rec.Code
		}()
		select {
		case code := <-done:
			if code != http.StatusOK {
				t.Fatalf("request %d: unexpected status %d", i, code)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("request %d blocked on a full record queue", i)
		}
	}
	if queue.Len() != 1 {
		t.Fatalf("expected exactly one queued record, got %d", queue.Len())
	}
}

func TestCompactPredict(t *testing.T) {
	env := newTestEnv(t, Options{})

	rec := env.do(http.MethodPost, "/predictions/", `{"Temp_C":"36.6","SpO2":98,"BPM":70}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d (%s)", rec.Code, rec.Body)
	}
	got := decodeBody[CompactResponse](t, rec)
	want := CompactResponse{
		Prediction:  dataset.LabelNormal,
		Probability: 0.1234,
		InputData:   inference.Vitals{TempC: 36.6, SpO2: 98, BPM: 70},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected compact response (-want +got):\n%s", diff)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" ||
		rec.Header().Get("Access-Control-Allow-Methods") != corsAllowMethods ||
		rec.Header().Get("Access-Control-Allow-Headers") != corsAllowHeaders {
		t.Fatalf("missing CORS headers: %v", rec.Header())
	}
	if env.recorder.sources[0] != prediction.SourceCompact {
		t.Fatalf("unexpected record source: %v", env.recorder.sources)
	}
}

func TestCompactPredictErrors(t *testing.T) {
	cases := []struct {
		name    string
		loaded  bool
		body    string
		status  int
		message string
	}{
		{"model missing", false, `{"Temp_C":37,"SpO2":97,"BPM":70}`, http.StatusInternalServerError, msgModelMissing},
		{"missing fields", true, `{"SpO2":97}`, http.StatusBadRequest, "Missing required fields: Temp_C, BPM"},
		{"bad string", true, `{"Temp_C":"abc","SpO2":97,"BPM":70}`, http.StatusBadRequest, "Invalid data type: could not convert string to float: 'abc'"},
		{"bool", true, `{"Temp_C":true,"SpO2":97,"BPM":70}`, http.StatusBadRequest, "Invalid data type: Temp_C must be a number"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, Options{})
			env.predictor.loaded = tc.loaded
			rec := env.do(http.MethodPost, "/predictions/", tc.body)
			got := decodeBody[map[string]string](t, rec)
			if rec.Code != tc.status || got["error"] != tc.message {
				t.Fatalf("unexpected response: %d %v", rec.Code, got)
			}
		})
	}
}

func TestCompactPredictOptions(t *testing.T) {
	env := newTestEnv(t, Options{})

	rec := env.do(http.MethodOptions, "/predictions/", "")
	if rec.Code != http.StatusOK || rec.Body.Len() != 0 {
		t.Fatalf("unexpected OPTIONS response: %d %q", rec.Code, rec.Body)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("missing CORS header on OPTIONS")
	}

	rec = env.do(http.MethodOptions, "/predictions/", "",
		"Origin", "http://localhost:3000",
		"Access-Control-Request-Method", http.MethodPost,
		"Access-Control-Request-Headers", "Content-Type")
	if rec.Code != http.StatusOK || rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("unexpected preflight response: %d %v", rec.Code, rec.Header())
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); got != corsAllowMethods {
		t.Fatalf("preflight should advertise %q, got %q", corsAllowMethods, got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Headers"); got != corsAllowHeaders {
		t.Fatalf("preflight should advertise %q, got %q", corsAllowHeaders, got)
	}
	if rec.Body.Len() != 0 {
		t.Fatalf("preflight body should be empty: %q", rec.Body)
	}

	// 其他路由的预检仍由 CORS 中间件独立应答。
	rec = env.do(http.MethodOptions, "/api/profiles/", "",
		"Origin", "http://localhost:3000",
		"Access-Control-Request-Method", http.MethodPost)
	if rec.Code != http.StatusOK || rec.Header().Get("Access-Control-Allow-Methods") != http.MethodPost {
		t.Fatalf("unexpected profile preflight: %d %v", rec.Code, rec.Header())
	}
	if env.predictor.calls != 0 {
		t.Fatalf("preflight must not trigger a prediction")
	}

	if rec := env.do(http.MethodPut, "/predictions/", "{}"); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestRateLimitOnPredictionRoutes(t *testing.T) {
	env := newTestEnv(t, Options{RequestsPerSecond: 0.001, Burst: 1})
	body := `{"Temp_C":37,"SpO2":97,"BPM":70}`

	if rec := env.do(http.MethodPost, "/api/predict/", body); rec.Code != http.StatusOK {
		t.Fatalf("first request should pass: %d", rec.Code)
	}
	rec := env.do(http.MethodPost, "/predictions/", body)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec := env.do(http.MethodGet, "/api/profiles/", ""); rec.Code != http.StatusOK {
		t.Fatalf("profile routes are not rate limited: %d", rec.Code)
	}
}

func TestHistoryEndpoints(t *testing.T) {
	env := newTestEnv(t, Options{})
	ctx := context.Background()
	normal := prediction.NewRecord(prediction.SourceDetailed, inference.Prediction{Label: dataset.LabelNormal}, fixedTime(0))
	abnormal := prediction.NewRecord(prediction.SourceCompact, inference.Prediction{Label: dataset.LabelAbnormal, Code: 1}, fixedTime(1))
	for _, r := range []*prediction.Record{normal, abnormal} {
		if err := env.history.Save(ctx, r); err != nil {
			t.Fatalf("save record: %v", err)
		}
	}

	rec := env.do(http.MethodGet, "/api/predictions/?label=Abnormal", "")
	records := decodeBody[[]prediction.Record](t, rec)
	if rec.Code != http.StatusOK || len(records) != 1 || records[0].ID != abnormal.ID {
		t.Fatalf("unexpected history: %d %+v", rec.Code, records)
	}

	rec = env.do(http.MethodGet, "/api/predictions/stats/", "")
	stats := decodeBody[prediction.Stats](t, rec)
	if stats.Total != 2 || stats.Abnormal != 1 || stats.Normal != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	if rec := env.do(http.MethodGet, "/api/predictions/?label=Sick", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid label, got %d", rec.Code)
	}
	if rec := env.do(http.MethodGet, "/api/predictions/?limit=-1", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid limit, got %d", rec.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, Options{MetricsPath: "/metrics"})

	rec := env.do(http.MethodGet, "/healthz", "")
	health := decodeBody[HealthResponse](t, rec)
	if rec.Code != http.StatusOK || health.Status != "ok" || !health.Model.Loaded {
		t.Fatalf("unexpected health: %d %+v", rec.Code, health)
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Fatalf("missing request id header")
	}

	env.do(http.MethodPost, "/api/predict/", `{"Temp_C":37,"SpO2":97,"BPM":70}`)
	rec = env.do(http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected metrics status: %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{"vitals_predictions_total", "vitals_http_requests_total"} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %s", want)
		}
	}
}

func TestRequestIDIsPropagated(t *testing.T) {
	env := newTestEnv(t, Options{})
	rec := env.do(http.MethodGet, "/healthz", "", RequestIDHeader, "req-123")
	if got := rec.Header().Get(RequestIDHeader); got != "req-123" {
		t.Fatalf("unexpected request id: %q", got)
	}
}
