// Package searcher orchestrates multi-term, multi-page torrent searches on
// top of a site session, applies the retry and pacing policies, and fans a
// batch of sites out concurrently.
package searcher

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/autopt/ptspider/internal/session"
	"github.com/autopt/ptspider/internal/telemetry"
	"github.com/autopt/ptspider/pkg/ptdomain"
)

const (
	// Result codes of one finished operation.
	CodeOK      = 0
	CodeTimeout = 1

	defaultErrorWaiting = 600 * time.Second

	// pause between successive query terms on the same site
	interTermDelay = 10 * time.Second
	// pause between successive result pages of one term
	interPageDelay = time.Second

	// pagination guards
	maxPages = 10
)

// Term is one search expression: Key selects the query slot (keyword or
// imdb_id), ValueType tags which kind of name the value is so profiles can
// opt out of sub-searches they cannot serve.
type Term struct {
	Key       string
	Value     string
	ValueType string
}

// Options tunes one Searcher.
type Options struct {
	// ErrorWaitingTime bounds how long failing operations keep retrying.
	// Zero means 600 seconds.
	ErrorWaitingTime time.Duration
	// Timeout is the per-request timeout forwarded to the session.
	Timeout time.Duration
	// AllPages walks result pages until a stop condition instead of
	// fetching only the first page.
	AllPages bool
	// NoRetry surfaces transient failures immediately instead of running
	// the backoff policy. Authentication failures are terminal either way.
	NoRetry bool
	// SearchValueTypes restricts which term value types run against the
	// site. Empty means every term runs. Untyped terms always run.
	SearchValueTypes []string
	Logger           *zap.Logger
}

// Result is the envelope of one finished operation.
type Result struct {
	Code int
	Data []ptdomain.Torrent
}

// Searcher runs orchestrated operations against one site helper.
type Searcher struct {
	helper session.Helper
	logger *zap.Logger

	errorWaiting time.Duration
	timeout      time.Duration
	allPages     bool
	noRetry      bool
	valueTypes   []string

	runtime time.Duration

	sleep func(context.Context, time.Duration) error
}

// New wraps a site helper with the orchestration policies.
func New(helper session.Helper, opts Options) *Searcher {
	if opts.ErrorWaitingTime <= 0 {
		opts.ErrorWaitingTime = defaultErrorWaiting
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Searcher{
		helper:       helper,
		logger:       opts.Logger.With(zap.String("site", helper.SiteID())),
		errorWaiting: opts.ErrorWaitingTime,
		timeout:      opts.Timeout,
		allPages:     opts.AllPages,
		noRetry:      opts.NoRetry,
		valueTypes:   opts.SearchValueTypes,
		sleep:        sleepCtx,
	}
}

// Runtime reports how long the last operation took.
func (s *Searcher) Runtime() time.Duration { return s.runtime }

// Search runs every term against the site in order, pauses between terms,
// and merges the results keeping the first occurrence of each torrent id.
func (s *Searcher) Search(ctx context.Context, terms []Term, cates []ptdomain.CateLevel1, free bool) (res Result, err error) {
	start := time.Now()
	defer func() {
		s.runtime = time.Since(start)
		telemetry.ObserveOperation(s.helper.SiteID(), "search", s.runtime)
	}()

	terms = s.filterTerms(terms)
	seen := map[string]bool{}
	var merged []ptdomain.Torrent
	for i, term := range terms {
		torrents, terr := s.searchTerm(ctx, term, cates, free)
		if terr != nil {
			if session.IsTimeout(terr) {
				s.logger.Warn("search timed out", zap.String("term", term.Value), zap.Error(terr))
				return Result{Code: CodeTimeout, Data: merged}, nil
			}
			return Result{}, terr
		}
		for _, t := range torrents {
			if seen[t.ID] {
				continue
			}
			seen[t.ID] = true
			merged = append(merged, t)
		}
		if i+1 < len(terms) {
			if serr := s.sleep(ctx, interTermDelay); serr != nil {
				return Result{}, serr
			}
		}
	}
	return Result{Code: CodeOK, Data: merged}, nil
}

// filterTerms drops terms whose value type the site opted out of.
func (s *Searcher) filterTerms(terms []Term) []Term {
	if len(s.valueTypes) == 0 {
		return terms
	}
	allowed := make(map[string]bool, len(s.valueTypes))
	for _, vt := range s.valueTypes {
		allowed[vt] = true
	}
	var out []Term
	for _, t := range terms {
		if t.ValueType == "" || allowed[t.ValueType] {
			out = append(out, t)
		}
	}
	return out
}

// searchTerm runs one term, walking pages when configured. Page walking
// stops on an empty page, a page whose first id was already seen on any
// earlier page, or after the page cap.
func (s *Searcher) searchTerm(ctx context.Context, term Term, cates []ptdomain.CateLevel1, free bool) ([]ptdomain.Torrent, error) {
	req := session.Request{Cates: cates, Free: free, Timeout: s.timeout}
	switch term.Key {
	case "imdb_id":
		req.ImdbID = term.Value
	default:
		req.Keyword = term.Value
	}

	if !s.allPages {
		return s.searchPage(ctx, req)
	}

	var all []ptdomain.Torrent
	seen := map[string]bool{}
	for page := 0; page < maxPages; page++ {
		if page > 0 {
			if err := s.sleep(ctx, interPageDelay); err != nil {
				return nil, err
			}
		}
		req.Page = page
		torrents, err := s.searchPage(ctx, req)
		if err != nil {
			return nil, err
		}
		if len(torrents) == 0 {
			break
		}
		if torrents[0].ID != "" && seen[torrents[0].ID] {
			break
		}
		for _, t := range torrents {
			if t.ID != "" {
				seen[t.ID] = true
			}
		}
		all = append(all, torrents...)
	}
	return all, nil
}

// searchPage issues one search request under the search retry policy.
// Overload responses wait out the announced cooldown before retrying.
func (s *Searcher) searchPage(ctx context.Context, req session.Request) ([]ptdomain.Torrent, error) {
	var torrents []ptdomain.Torrent
	err := s.withRetry(ctx, "search", policy{min: 5 * time.Second, max: 120 * time.Second}, func() error {
		var err error
		torrents, err = s.helper.Search(ctx, req)
		return err
	})
	return torrents, err
}

// List fetches the latest-torrents view under the long retry policy.
func (s *Searcher) List(ctx context.Context, cates []ptdomain.CateLevel1) (res Result, err error) {
	start := time.Now()
	defer func() {
		s.runtime = time.Since(start)
		telemetry.ObserveOperation(s.helper.SiteID(), "list", s.runtime)
	}()

	var torrents []ptdomain.Torrent
	err = s.withRetry(ctx, "list", policy{min: 20 * time.Second, max: 120 * time.Second}, func() error {
		var lerr error
		torrents, lerr = s.helper.List(ctx, cates)
		return lerr
	})
	if err != nil {
		if session.IsTimeout(err) {
			return Result{Code: CodeTimeout}, nil
		}
		return Result{}, err
	}
	return Result{Code: CodeOK, Data: torrents}, nil
}

// GetUserInfo fetches account statistics under the long retry policy.
func (s *Searcher) GetUserInfo(ctx context.Context, refresh bool) (ptdomain.SiteUserinfo, error) {
	start := time.Now()
	defer func() {
		s.runtime = time.Since(start)
		telemetry.ObserveOperation(s.helper.SiteID(), "userinfo", s.runtime)
	}()

	var info ptdomain.SiteUserinfo
	err := s.withRetry(ctx, "userinfo", policy{min: 20 * time.Second, max: 120 * time.Second}, func() error {
		var uerr error
		info, uerr = s.helper.GetUserInfo(ctx, refresh)
		return uerr
	})
	return info, err
}

type policy struct {
	min time.Duration
	max time.Duration
}

func (p policy) delay(attempt int) time.Duration {
	d := p.min
	for i := 1; i < attempt && d < p.max; i++ {
		d *= 2
	}
	if d > p.max {
		d = p.max
	}
	return d
}

// withRetry retries fn with exponential backoff until the error waiting
// horizon elapses. Authentication failures are terminal immediately;
// overload failures add the site's cooldown to the wait.
func (s *Searcher) withRetry(ctx context.Context, op string, p policy, fn func() error) error {
	start := time.Now()
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if session.IsAuthRequired(err) {
			return err
		}
		if s.noRetry {
			return err
		}
		if time.Since(start) >= s.errorWaiting {
			return fmt.Errorf("%s: giving up after %s: %w", op, time.Since(start).Round(time.Second), err)
		}
		telemetry.IncRetry(s.helper.SiteID(), op)

		wait := p.delay(attempt)
		if oe, ok := session.AsOverload(err); ok {
			wait += oe.Cooldown
		}
		s.logger.Warn("operation failed, backing off",
			zap.String("op", op), zap.Int("attempt", attempt),
			zap.Duration("wait", wait), zap.Error(err))
		if serr := s.sleep(ctx, wait); serr != nil {
			return err
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
