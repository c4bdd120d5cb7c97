// Package mailsource fetches recent messages from a user's Gmail account and
// turns them into EmailRecords for the extraction pipeline.
package mailsource

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/sells-group/sub-zapper/internal/config"
	"github.com/sells-group/sub-zapper/internal/model"
	"github.com/sells-group/sub-zapper/internal/monitoring"
	"github.com/sells-group/sub-zapper/internal/resilience"
)

const (
	defaultMaxResults  = 100
	defaultConcurrency = 8
	maxPageSize        = 500
)

var (
	// ErrMissingToken is returned when no access token was supplied.
	ErrMissingToken = eris.New("mailsource: access token is required")
	// ErrUnauthorized is returned when Gmail rejects the access token.
	ErrUnauthorized = eris.New("mailsource: access token rejected")
)

// FetchRequest describes one mailbox pull.
type FetchRequest struct {
	AccessToken string
	MaxResults  int64
	Query       string
}

// Source produces email records.
type Source interface {
	Fetch(ctx context.Context, req FetchRequest) ([]model.EmailRecord, error)
}

// Gmail reads messages through the Gmail REST API with a caller-supplied
// OAuth access token. Token refresh is left to the caller.
type Gmail struct {
	cfg     config.GmailConfig
	http    *http.Client
	policy  resilience.Policy
	metrics *monitoring.Metrics
}

// Option configures a Gmail source.
type Option func(*Gmail)

// WithHTTPClient sets the base client the OAuth transport wraps.
func WithHTTPClient(hc *http.Client) Option {
	return func(g *Gmail) { g.http = hc }
}

// WithRetryPolicy overrides the retry policy for Gmail API calls.
func WithRetryPolicy(p resilience.Policy) Option {
	return func(g *Gmail) { g.policy = p }
}

// WithMetrics records fetched counts.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(g *Gmail) { g.metrics = m }
}

// NewGmail creates a Gmail source.
func NewGmail(cfg config.GmailConfig, opts ...Option) *Gmail {
	policy := resilience.DefaultPolicy()
	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.MaxAttempts
	}
	g := &Gmail{
		cfg:    cfg,
		http:   &http.Client{Timeout: 30 * time.Second},
		policy: policy,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Fetch lists up to req.MaxResults messages and fetches each in full format.
// Messages whose detail fetch fails are skipped. Order follows the listing.
func (g *Gmail) Fetch(ctx context.Context, req FetchRequest) ([]model.EmailRecord, error) {
	token := strings.TrimSpace(req.AccessToken)
	if token == "" {
		return nil, ErrMissingToken
	}

	maxResults := req.MaxResults
	if maxResults <= 0 {
		maxResults = g.cfg.MaxResults
	}
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	query := req.Query
	if query == "" {
		query = g.cfg.Query
	}

	svc, err := g.service(ctx, token)
	if err != nil {
		return nil, err
	}

	log := zap.L().With(zap.String("component", "mailsource.gmail"))
	start := time.Now()

	ids, err := g.listIDs(ctx, svc, query, maxResults)
	if err != nil {
		return nil, err
	}

	concurrency := g.cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	fetched := make([]*model.EmailRecord, len(ids))
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(concurrency)
	for i, id := range ids {
		eg.Go(func() error {
			msg, err := g.getMessage(gctx, svc, id)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				log.Warn("mailsource: skipping message",
					zap.String("message_id", id),
					zap.Int("status", resilience.StatusCode(err)),
					zap.Error(err),
				)
				return nil
			}
			rec := toEmailRecord(msg)
			fetched[i] = &rec
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, eris.Wrap(err, "mailsource: fetch messages")
	}

	emails := make([]model.EmailRecord, 0, len(ids))
	for _, rec := range fetched {
		if rec != nil {
			emails = append(emails, *rec)
		}
	}

	g.metrics.ObserveFetched(len(emails))
	log.Info("mailsource: fetch complete",
		zap.Int("listed", len(ids)),
		zap.Int("fetched", len(emails)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return emails, nil
}

func (g *Gmail) service(ctx context.Context, token string) (*gmail.Service, error) {
	base := g.http
	if base == nil {
		base = http.DefaultClient
	}
	hc := &http.Client{
		Timeout: base.Timeout,
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}),
			Base:   base.Transport,
		},
	}

	opts := []option.ClientOption{option.WithHTTPClient(hc)}
	if g.cfg.BaseURL != "" {
		opts = append(opts, option.WithEndpoint(strings.TrimRight(g.cfg.BaseURL, "/")+"/"))
	}
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "mailsource: create gmail service")
	}
	return svc, nil
}

func (g *Gmail) listIDs(ctx context.Context, svc *gmail.Service, query string, maxResults int64) ([]string, error) {
	var ids []string
	pageToken := ""

	for {
		remaining := maxResults - int64(len(ids))
		if remaining <= 0 {
			break
		}

		call := svc.Users.Messages.List("me").MaxResults(min(remaining, maxPageSize))
		if query != "" {
			call = call.Q(query)
		}
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		p := g.policy
		p.OnRetry = resilience.RetryLogger("gmail", "messages.list")
		res, err := resilience.DoVal(ctx, p, func(ctx context.Context) (*gmail.ListMessagesResponse, error) {
			return call.Context(ctx).Do()
		})
		if err != nil {
			return nil, classify(err, "mailsource: list messages")
		}

		for _, m := range res.Messages {
			ids = append(ids, m.Id)
		}
		if res.NextPageToken == "" {
			break
		}
		pageToken = res.NextPageToken
	}

	if int64(len(ids)) > maxResults {
		ids = ids[:maxResults]
	}
	return ids, nil
}

func (g *Gmail) getMessage(ctx context.Context, svc *gmail.Service, id string) (*gmail.Message, error) {
	p := g.policy
	p.OnRetry = resilience.RetryLogger("gmail", "messages.get")
	msg, err := resilience.DoVal(ctx, p, func(ctx context.Context) (*gmail.Message, error) {
		return svc.Users.Messages.Get("me", id).Format("full").Context(ctx).Do()
	})
	if err != nil {
		return nil, classify(err, "mailsource: get message "+id)
	}
	return msg, nil
}

func classify(err error, msg string) error {
	switch resilience.StatusCode(err) {
	case http.StatusUnauthorized, http.StatusForbidden:
		return eris.Wrap(ErrUnauthorized, err.Error())
	}
	return eris.Wrap(err, msg)
}
