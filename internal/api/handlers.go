package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/sub-zapper/internal/mailsource"
	"github.com/sells-group/sub-zapper/internal/model"
	"github.com/sells-group/sub-zapper/internal/runner"
	"github.com/sells-group/sub-zapper/internal/store"
)

const errNoEmails = "No emails provided for analysis"

type analyzeRequest struct {
	Emails json.RawMessage `json:"emails"`
}

type analyzeResponse struct {
	Subscriptions []model.SubscriptionRecord `json:"subscriptions"`
	AnalyzedCount int                        `json:"analyzedCount"`
	RunID         string                     `json:"runId,omitempty"`
	Stats         *model.RunStats            `json:"stats,omitempty"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	raw := bytes.TrimSpace(req.Emails)
	if len(raw) == 0 || raw[0] != '[' {
		writeError(w, http.StatusBadRequest, errNoEmails)
		return
	}
	var emails []model.EmailRecord
	if err := json.Unmarshal(raw, &emails); err != nil {
		writeError(w, http.StatusBadRequest, "invalid emails: "+err.Error())
		return
	}
	if len(emails) == 0 {
		writeError(w, http.StatusBadRequest, errNoEmails)
		return
	}

	run, err := s.deps.Analyzer.Analyze(r.Context(), "api", emails)
	if err != nil {
		if runner.IsClientError(err) {
			writeError(w, http.StatusBadRequest, errNoEmails)
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := analyzeResponse{
		Subscriptions: []model.SubscriptionRecord{},
		AnalyzedCount: len(emails),
		RunID:         run.ID,
	}
	if run.Result != nil {
		if run.Result.Subscriptions != nil {
			resp.Subscriptions = run.Result.Subscriptions
		}
		resp.AnalyzedCount = run.Result.AnalyzedCount
		resp.Stats = &run.Result.Stats
	}
	writeJSON(w, http.StatusOK, resp)
}

type fetchGmailRequest struct {
	AccessToken string `json:"accessToken"`
	MaxResults  int64  `json:"maxResults"`
	Query       string `json:"query"`
}

func (s *Server) handleFetchGmail(w http.ResponseWriter, r *http.Request) {
	if s.deps.Source == nil {
		writeError(w, http.StatusServiceUnavailable, "mail source not configured")
		return
	}

	var req fetchGmailRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.AccessToken == "" {
		writeError(w, http.StatusBadRequest, "accessToken is required")
		return
	}
	if req.MaxResults < 0 || req.MaxResults > 500 {
		writeError(w, http.StatusBadRequest, "maxResults must be between 0 and 500 (0 uses the default)")
		return
	}

	emails, err := s.deps.Source.Fetch(r.Context(), mailsource.FetchRequest{
		AccessToken: req.AccessToken,
		MaxResults:  req.MaxResults,
		Query:       req.Query,
	})
	switch {
	case errors.Is(err, mailsource.ErrMissingToken):
		writeError(w, http.StatusBadRequest, "accessToken is required")
		return
	case errors.Is(err, mailsource.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, "gmail rejected the access token")
		return
	case err != nil:
		zap.L().Error("api: fetch gmail", zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if emails == nil {
		emails = []model.EmailRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"emails": emails})
}

type runSummary struct {
	ID            string          `json:"id"`
	Status        model.RunStatus `json:"status"`
	Source        string          `json:"source"`
	AnalyzedCount int             `json:"analyzed_count"`
	Subscriptions int             `json:"subscription_count"`
	CostUSD       float64         `json:"cost_usd"`
	Error         string          `json:"error,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

func summarizeRun(r model.Run) runSummary {
	sum := runSummary{
		ID:            r.ID,
		Status:        r.Status,
		Source:        r.Source,
		AnalyzedCount: r.AnalyzedCount,
		Error:         r.Error,
		CreatedAt:     r.CreatedAt,
	}
	if r.Result != nil {
		sum.Subscriptions = len(r.Result.Subscriptions)
		sum.CostUSD = r.Result.Stats.CostUSD
	}
	return sum
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run history not configured")
		return
	}

	q := r.URL.Query()
	filter := store.RunFilter{
		Status: model.RunStatus(q.Get("status")),
		Source: q.Get("source"),
		Limit:  20,
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "offset must be >= 0")
			return
		}
		filter.Offset = n
	}

	runs, err := s.deps.Runs.ListRuns(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]runSummary, 0, len(runs))
	for _, run := range runs {
		out = append(out, summarizeRun(run))
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}

type runDetail struct {
	runSummary
	Subscriptions []model.SubscriptionRecord `json:"subscriptions"`
	Summary       model.SubscriptionSummary  `json:"summary"`
	Stats         *model.RunStats            `json:"stats,omitempty"`
}

func (s *Server) loadRun(w http.ResponseWriter, r *http.Request) (*model.Run, bool) {
	if s.deps.Runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run history not configured")
		return nil, false
	}
	run, err := s.deps.Runs.GetRun(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return nil, false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	return run, true
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := s.loadRun(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	query := model.SubscriptionQuery{
		Search: q.Get("q"),
		Sort:   q.Get("sort"),
	}
	if t := q.Get("type"); t != "" {
		query.Type = model.SubscriptionType(t)
		if !query.Type.IsValid() {
			writeError(w, http.StatusBadRequest, "type must be paid, free or newsletter")
			return
		}
	}
	switch query.Sort {
	case "", "name", "price", "renewal":
	default:
		writeError(w, http.StatusBadRequest, "sort must be name, price or renewal")
		return
	}

	var subs []model.SubscriptionRecord
	detail := runDetail{runSummary: summarizeRun(*run)}
	if run.Result != nil {
		subs = run.Result.Subscriptions
		detail.Stats = &run.Result.Stats
	}
	detail.Subscriptions = query.Apply(subs)
	detail.Summary = model.Summarize(subs)
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleRenewals(w http.ResponseWriter, r *http.Request) {
	run, ok := s.loadRun(w, r)
	if !ok {
		return
	}
	var subs []model.SubscriptionRecord
	if run.Result != nil {
		subs = run.Result.Subscriptions
	}
	writeJSON(w, http.StatusOK, model.Renewals(subs, s.deps.Now()))
}
