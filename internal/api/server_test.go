package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sub-zapper/internal/mailsource"
	"github.com/sells-group/sub-zapper/internal/model"
	"github.com/sells-group/sub-zapper/internal/monitoring"
	"github.com/sells-group/sub-zapper/internal/pipeline"
	"github.com/sells-group/sub-zapper/internal/runner"
	"github.com/sells-group/sub-zapper/internal/store"
)

var testNow = time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)

type mockPipeline struct {
	mock.Mock
}

func (m *mockPipeline) Run(ctx context.Context, emails []model.EmailRecord) (*model.AnalysisResult, error) {
	args := m.Called(ctx, emails)
	res, _ := args.Get(0).(*model.AnalysisResult)
	return res, args.Error(1)
}

type mockSource struct {
	mock.Mock
}

func (m *mockSource) Fetch(ctx context.Context, req mailsource.FetchRequest) ([]model.EmailRecord, error) {
	args := m.Called(ctx, req)
	emails, _ := args.Get(0).([]model.EmailRecord)
	return emails, args.Error(1)
}

type testEnv struct {
	srv      *httptest.Server
	pipeline *mockPipeline
	source   *mockSource
	store    *store.SQLiteStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)

	p := &mockPipeline{}
	src := &mockSource{}
	s := NewServer(Deps{
		Analyzer: runner.New(p, st, metrics),
		Source:   src,
		Runs:     st,
		Gatherer: reg,
		Now:      func() time.Time { return testNow },
	})
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, pipeline: p, source: src, store: st}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, e.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck

	var out map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp, out
}

func sampleResult() *model.AnalysisResult {
	return &model.AnalysisResult{
		Subscriptions: []model.SubscriptionRecord{
			{ID: "s1", Name: "Netflix", Type: model.SubscriptionPaid, Price: model.Float(15.49), RenewalDate: "2026-10-20", DetectedDate: "2026-10-17"},
			{ID: "s2", Name: "Adobe Creative Cloud", Type: model.SubscriptionPaid, Price: model.Float(54.99), RenewalDate: "2026-12-01", DetectedDate: "2026-10-17"},
			{ID: "s3", Name: "Morning Brew", Type: model.SubscriptionNewsletter, DetectedDate: "2026-10-17"},
		},
		AnalyzedCount: 2,
	}
}

const twoEmails = `{"emails":[{"id":"1","subject":"Receipt","from":"Netflix <a@netflix.com>","snippet":"x","date":"d"},{"id":"2","subject":"Hi","from":"b@c.com","snippet":"y","date":"d"}]}`

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestAnalyze_Success(t *testing.T) {
	env := newTestEnv(t)
	env.pipeline.On("Run", mock.Anything, mock.MatchedBy(func(e []model.EmailRecord) bool {
		return len(e) == 2 && e[0].Subject == "Receipt"
	})).Return(sampleResult(), nil)

	resp, body := env.do(t, http.MethodPost, "/api/analyze-emails", twoEmails)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(2), body["analyzedCount"])
	assert.Len(t, body["subscriptions"], 3)

	runID, _ := body["runId"].(string)
	require.NotEmpty(t, runID)
	run, err := env.store.GetRun(context.Background(), runID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, run.Status)
	assert.Equal(t, "api", run.Source)
}

func TestAnalyze_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"undecodable", `{not json`, "invalid request body"},
		{"missing emails", `{}`, errNoEmails},
		{"null emails", `{"emails":null}`, errNoEmails},
		{"not an array", `{"emails":"hello"}`, errNoEmails},
		{"empty array", `{"emails":[]}`, errNoEmails},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			resp, body := env.do(t, http.MethodPost, "/api/analyze-emails", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, tt.want, body["error"])
			env.pipeline.AssertNotCalled(t, "Run", mock.Anything, mock.Anything)
		})
	}
}

func TestAnalyze_FatalPipelineError(t *testing.T) {
	env := newTestEnv(t)
	env.pipeline.On("Run", mock.Anything, mock.Anything).
		Return(nil, eris.Wrap(pipeline.ErrOracleMisconfigured, "oracle: openai api key is not set"))

	resp, body := env.do(t, http.MethodPost, "/api/analyze-emails", twoEmails)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, body["error"], "api key is not set")

	runs, err := env.store.ListRuns(context.Background(), store.RunFilter{Status: model.RunStatusFailed})
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestAnalyze_CORSPreflight(t *testing.T) {
	env := newTestEnv(t)
	req, err := http.NewRequest(http.MethodOptions, env.srv.URL+"/api/analyze-emails", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "apikey, content-type")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck

	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, strings.ToLower(resp.Header.Get("Access-Control-Allow-Headers")), "apikey")
}

func TestFetchGmail(t *testing.T) {
	env := newTestEnv(t)
	env.source.On("Fetch", mock.Anything, mailsource.FetchRequest{AccessToken: "tok", MaxResults: 5, Query: "label:inbox"}).
		Return([]model.EmailRecord{{ID: "m1", Subject: "Hello", From: "a@b.com"}}, nil)

	resp, body := env.do(t, http.MethodPost, "/api/fetch-gmail", `{"accessToken":"tok","maxResults":5,"query":"label:inbox"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	emails, ok := body["emails"].([]any)
	require.True(t, ok)
	require.Len(t, emails, 1)
	assert.Equal(t, "m1", emails[0].(map[string]any)["id"])
}

func TestFetchGmail_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		fetchErr   error
		wantStatus int
	}{
		{"missing token", `{}`, nil, http.StatusBadRequest},
		{"bad max", `{"accessToken":"tok","maxResults":9000}`, nil, http.StatusBadRequest},
		{"unauthorized", `{"accessToken":"tok"}`, eris.Wrap(mailsource.ErrUnauthorized, "401"), http.StatusUnauthorized},
		{"upstream", `{"accessToken":"tok"}`, errors.New("mailsource: list messages: boom"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			if tt.fetchErr != nil {
				env.source.On("Fetch", mock.Anything, mock.Anything).Return(nil, tt.fetchErr)
			}
			resp, body := env.do(t, http.MethodPost, "/api/fetch-gmail", tt.body)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestFetchGmail_MaxResultsBounds(t *testing.T) {
	env := newTestEnv(t)
	env.source.On("Fetch", mock.Anything, mailsource.FetchRequest{AccessToken: "tok"}).
		Return([]model.EmailRecord{}, nil)

	resp, _ := env.do(t, http.MethodPost, "/api/fetch-gmail", `{"accessToken":"tok","maxResults":0}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := env.do(t, http.MethodPost, "/api/fetch-gmail", `{"accessToken":"tok","maxResults":-1}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "maxResults must be between 0 and 500 (0 uses the default)", body["error"])
}

func TestFetchGmail_NoSource(t *testing.T) {
	srv := httptest.NewServer(NewServer(Deps{}).Router())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/fetch-gmail", "application/json", strings.NewReader(`{"accessToken":"tok"}`))
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func seedRun(t *testing.T, env *testEnv) string {
	t.Helper()
	ctx := context.Background()
	run, err := env.store.CreateRun(ctx, "cli", 2)
	require.NoError(t, err)
	require.NoError(t, env.store.CompleteRun(ctx, run.ID, sampleResult()))
	return run.ID
}

func TestRuns_List(t *testing.T) {
	env := newTestEnv(t)
	id := seedRun(t, env)

	resp, body := env.do(t, http.MethodGet, "/api/runs?limit=5", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	runs := body["runs"].([]any)
	require.Len(t, runs, 1)
	first := runs[0].(map[string]any)
	assert.Equal(t, id, first["id"])
	assert.Equal(t, float64(3), first["subscription_count"])

	resp, _ = env.do(t, http.MethodGet, "/api/runs?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRuns_Get(t *testing.T) {
	env := newTestEnv(t)
	id := seedRun(t, env)

	tests := []struct {
		name      string
		query     string
		wantNames []string
	}{
		{"all", "", []string{"Netflix", "Adobe Creative Cloud", "Morning Brew"}},
		{"type filter", "?type=paid", []string{"Netflix", "Adobe Creative Cloud"}},
		{"search", "?q=brew", []string{"Morning Brew"}},
		{"sort by price", "?type=paid&sort=price", []string{"Adobe Creative Cloud", "Netflix"}},
		{"sort by name", "?sort=name", []string{"Adobe Creative Cloud", "Morning Brew", "Netflix"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.do(t, http.MethodGet, "/api/runs/"+id+tt.query, "")
			require.Equal(t, http.StatusOK, resp.StatusCode)
			var names []string
			for _, s := range body["subscriptions"].([]any) {
				names = append(names, s.(map[string]any)["name"].(string))
			}
			assert.Equal(t, tt.wantNames, names)
			summary := body["summary"].(map[string]any)
			assert.Equal(t, float64(3), summary["total"])
		})
	}
}

func TestRuns_Get_Errors(t *testing.T) {
	env := newTestEnv(t)
	id := seedRun(t, env)

	resp, _ := env.do(t, http.MethodGet, "/api/runs/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/api/runs/"+id+"?type=premium", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/api/runs/"+id+"?sort=size", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRuns_Renewals(t *testing.T) {
	env := newTestEnv(t)
	id := seedRun(t, env)

	resp, body := env.do(t, http.MethodGet, "/api/runs/"+id+"/renewals", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	upcoming := body["upcoming"].([]any)
	require.Len(t, upcoming, 1)
	assert.Equal(t, "Netflix", upcoming[0].(map[string]any)["name"])
	assert.Nil(t, body["this_month"])
	later := body["later"].([]any)
	require.Len(t, later, 1)
	assert.Equal(t, "Adobe Creative Cloud", later[0].(map[string]any)["name"])
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.pipeline.On("Run", mock.Anything, mock.Anything).Return(sampleResult(), nil)
	resp, _ := env.do(t, http.MethodPost, "/api/analyze-emails", twoEmails)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	mresp, err := http.Get(env.srv.URL + "/metrics")
	require.NoError(t, err)
	defer mresp.Body.Close() //nolint:errcheck
	require.Equal(t, http.StatusOK, mresp.StatusCode)

	buf := new(strings.Builder)
	_, err = io.Copy(buf, mresp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `subzapper_runs_total{status="complete"} 1`)
}
