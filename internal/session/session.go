// Package session implements the authenticated retrieval side of the
// adapter: one Session owns a site profile, its cookie set and default
// headers, performs list/search/user-info/detail/download operations, and
// runs every response through anti-bot and overload detection before the
// extraction engine sees it.
package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/autopt/ptspider/internal/extract"
	"github.com/autopt/ptspider/internal/profile"
	"github.com/autopt/ptspider/pkg/ptdomain"
)

const (
	defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) " +
		"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/99.0.4844.51 Safari/537.36"
	defaultRequestTimeout  = 10 * time.Second
	defaultDownloadTimeout = 180 * time.Second

	// one torrent download per window, per session
	downloadInterval = 15 * time.Second
)

// Request carries one search invocation's parameters.
type Request struct {
	Keyword string
	ImdbID  string
	Cates   []ptdomain.CateLevel1
	Free    bool
	Page    int
	Timeout time.Duration
}

// Helper is the capability surface of one site adapter. New site families
// register a Factory under their parser name; Build selects by the
// profile's declared parser.
type Helper interface {
	SiteID() string
	SiteName() string
	GetUserInfo(ctx context.Context, refresh bool) (ptdomain.SiteUserinfo, error)
	List(ctx context.Context, cates []ptdomain.CateLevel1) ([]ptdomain.Torrent, error)
	Search(ctx context.Context, req Request) ([]ptdomain.Torrent, error)
	GetDetail(ctx context.Context, url string) (*ptdomain.TorrentDetail, error)
	Download(ctx context.Context, url, dest string) error
}

// Session is the NexusPHP-family Helper implementation. Operations on one
// Session are single-flow: the cookie set is mutated after each response
// and is not safe for concurrent writers.
type Session struct {
	site   *profile.Site
	logger *zap.Logger

	collector   *colly.Collector
	cookies     map[string]string
	cookieOrder []string

	requestTimeout  time.Duration
	downloadTimeout time.Duration
	dlLimiter       *rate.Limiter

	// lastText caches the most recent list/search page so user info can be
	// parsed without a dedicated request.
	lastText    string
	userinfoRaw map[string]string

	userinfoRetry backoff
	detailRetry   backoff
	downloadRetry backoff

	sleep   func(context.Context, time.Duration) error
	randInt func(n int) int
}

type options struct {
	cookie          string
	userAgent       string
	proxy           string
	requestTimeout  time.Duration
	downloadTimeout time.Duration
	logger          *zap.Logger
}

// Option customizes a Session at construction.
type Option func(*options)

// WithCookie seeds the session cookie set from a header-style string
// (name=value; name2=value2).
func WithCookie(cookie string) Option { return func(o *options) { o.cookie = cookie } }

// WithUserAgent overrides the browser identity string.
func WithUserAgent(ua string) Option { return func(o *options) { o.userAgent = ua } }

// WithProxy routes all requests through the given proxy URL.
func WithProxy(proxyURL string) Option { return func(o *options) { o.proxy = proxyURL } }

// WithRequestTimeout overrides the per-request timeout for page fetches.
func WithRequestTimeout(d time.Duration) Option { return func(o *options) { o.requestTimeout = d } }

// WithDownloadTimeout overrides the timeout for detail and download fetches.
func WithDownloadTimeout(d time.Duration) Option { return func(o *options) { o.downloadTimeout = d } }

// WithLogger attaches a structured logger.
func WithLogger(l *zap.Logger) Option { return func(o *options) { o.logger = l } }

// New constructs a Session for one site profile.
func New(site *profile.Site, opts ...Option) (*Session, error) {
	o := options{
		userAgent:       defaultUserAgent,
		requestTimeout:  defaultRequestTimeout,
		downloadTimeout: defaultDownloadTimeout,
		logger:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	collector, err := newBaseCollector(o.userAgent, o.proxy, o.requestTimeout)
	if err != nil {
		return nil, err
	}

	order, cookies := parseCookieString(o.cookie)
	s := &Session{
		site:            site,
		logger:          o.logger,
		collector:       collector,
		cookies:         cookies,
		cookieOrder:     order,
		requestTimeout:  o.requestTimeout,
		downloadTimeout: o.downloadTimeout,
		dlLimiter:       rate.NewLimiter(rate.Every(downloadInterval), 1),
		userinfoRetry:   backoff{min: 30 * time.Second, max: 120 * time.Second, horizon: 600 * time.Second},
		detailRetry:     backoff{min: 3 * time.Second, max: 3 * time.Second, attempts: 3},
		downloadRetry:   backoff{min: 30 * time.Second, max: 120 * time.Second, horizon: 300 * time.Second},
		sleep:           sleepCtx,
		randInt:         rand.Intn,
	}
	return s, nil
}

// SiteID returns the profile's site id.
func (s *Session) SiteID() string { return s.site.ID }

// SiteName returns the profile's display name.
func (s *Session) SiteName() string { return s.site.Name }

// page fetches, decodes, and screens one HTML page: light JS-redirect
// challenges are resolved and re-issued, hard challenges and overload
// signals become typed errors, and emoji glyphs are stripped from the
// returned text.
func (s *Session) page(ctx context.Context, req fetchRequest) (string, error) {
	resp, err := s.fetch(ctx, req)
	if err != nil {
		return "", err
	}
	text, err := decodeBody(resp.body, s.site.Encoding)
	if err != nil {
		return "", err
	}

	if target, challenged, evalErr := redirectTarget(text); challenged {
		if evalErr != nil {
			return "", &AuthRequiredError{
				SiteID:   s.site.ID,
				SiteName: s.site.Name,
				Message:  fmt.Sprintf("unresolvable redirect challenge: %v", evalErr),
			}
		}
		s.logger.Debug("resolving redirect challenge",
			zap.String("site", s.site.ID), zap.String("target", target))
		resp, err = s.fetch(ctx, fetchRequest{
			method:  "GET",
			url:     s.absURL(target),
			referer: req.url,
			timeout: req.timeout,
		})
		if err != nil {
			return "", err
		}
		text, err = decodeBody(resp.body, s.site.Encoding)
		if err != nil {
			return "", err
		}
	}

	if isInteractiveChallenge(resp.status, text) {
		return "", &AuthRequiredError{
			SiteID:   s.site.ID,
			SiteName: s.site.Name,
			Message:  "interactive challenge detected, refresh the cookie from a browser",
		}
	}
	if isOverloaded(text) {
		return "", &OverloadError{SiteID: s.site.ID, SiteName: s.site.Name, Cooldown: overloadCooldown}
	}
	return stripEmoji(text), nil
}

func (s *Session) document(text string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
	if err != nil {
		return nil, &ParseError{SiteID: s.site.ID, SiteName: s.site.Name, What: "document", Err: err}
	}
	return doc, nil
}

// testLogin checks the profile's login-test selector against a page. A
// profile that marks login as not required always passes.
func (s *Session) testLogin(doc *goquery.Document) error {
	if !s.site.LoginRequired() {
		return nil
	}
	matcher, err := s.site.Login.Test.Matcher()
	if err != nil {
		return &ParseError{SiteID: s.site.ID, SiteName: s.site.Name, What: "login test",
			Err: fmt.Errorf("%w: %v", extract.ErrMalformedRule, err)}
	}
	if matcher == nil {
		return nil
	}
	if doc != nil && doc.FindMatcher(matcher).Length() > 0 {
		return nil
	}
	return &AuthRequiredError{SiteID: s.site.ID, SiteName: s.site.Name, Message: "login test selector not found"}
}

// parseUserinfoRaw verifies login and extracts the raw user-info field map
// from an authenticated page.
func (s *Session) parseUserinfoRaw(doc *goquery.Document) (map[string]string, error) {
	if err := s.testLogin(doc); err != nil {
		return nil, err
	}
	rule := s.site.Userinfo
	if rule == nil || len(rule.Fields) == 0 {
		return nil, nil
	}
	if rule.Constant {
		out := make(map[string]string, len(rule.Fields))
		for name, fr := range rule.Fields {
			if fr == nil {
				continue
			}
			if fr.Text != "" {
				out[name] = fr.Text
				continue
			}
			out[name] = fr.DefaultValue
		}
		return out, nil
	}

	root := doc.Selection
	if matcher, err := rule.Item.Matcher(); err != nil {
		return nil, &ParseError{SiteID: s.site.ID, SiteName: s.site.Name, What: "userinfo",
			Err: fmt.Errorf("%w: %v", extract.ErrMalformedRule, err)}
	} else if matcher != nil {
		root = doc.FindMatcher(matcher)
	}
	raw, err := extract.Fields(root, rule.Fields, nil)
	if err != nil {
		return nil, &ParseError{SiteID: s.site.ID, SiteName: s.site.Name, What: "userinfo", Err: err}
	}
	return raw, nil
}

// parseTorrents extracts torrent rows and maps them into domain objects.
func (s *Session) parseTorrents(doc *goquery.Document, list *profile.ItemRule, fields map[string]*profile.FieldRule) ([]ptdomain.Torrent, error) {
	ctx := extract.Context{}
	if s.userinfoRaw != nil {
		ctx["userinfo"] = s.userinfoRaw
	}
	rows, err := extract.Rows(doc.Selection, list, fields, ctx)
	if err != nil {
		return nil, &ParseError{SiteID: s.site.ID, SiteName: s.site.Name, What: "torrents", Err: err}
	}
	out := make([]ptdomain.Torrent, 0, len(rows))
	for _, raw := range rows {
		t := ptdomain.BuildTorrent(s.site.ID, raw)
		t.CateLevel1 = s.site.Level1For(t.CategoryID)
		t.DetailsURL = s.absURL(t.DetailsURL)
		t.DownloadURL = s.absURL(t.DownloadURL)
		t.PosterURL = s.absURL(t.PosterURL)
		out = append(out, t)
	}
	return out, nil
}

func (s *Session) absURL(u string) string {
	if u == "" || strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
		return u
	}
	return s.site.URL(u)
}

// GetUserInfo returns the account statistics. When refresh is false and a
// prior list/search page is cached, it is parsed instead of issuing a new
// request; otherwise the configured user-info path is fetched under the
// long-horizon retry policy (authentication failures excluded).
func (s *Session) GetUserInfo(ctx context.Context, refresh bool) (ptdomain.SiteUserinfo, error) {
	if s.site.Userinfo == nil {
		return ptdomain.SiteUserinfo{}, fmt.Errorf("%s: no userinfo rule configured", s.site.Name)
	}

	text := s.lastText
	if refresh || text == "" {
		var err error
		text, err = s.userinfoPageText(ctx)
		if err != nil {
			return ptdomain.SiteUserinfo{}, err
		}
	}

	doc, err := s.document(text)
	if err != nil {
		return ptdomain.SiteUserinfo{}, err
	}
	raw, err := s.parseUserinfoRaw(doc)
	if err != nil {
		return ptdomain.SiteUserinfo{}, err
	}
	s.userinfoRaw = raw
	return ptdomain.BuildUserinfo(raw), nil
}

func (s *Session) userinfoPageText(ctx context.Context) (string, error) {
	path := s.site.Userinfo.Path
	if path == "" {
		return "", fmt.Errorf("%s: no userinfo path configured", s.site.Name)
	}
	url := s.absURL(path)
	var text string
	err := s.retryOp(ctx, s.userinfoRetry, func() error {
		var err error
		text, err = s.page(ctx, fetchRequest{method: "GET", url: url, referer: url})
		return err
	})
	return text, err
}

// List fetches the profile's "latest torrents" page; profiles without one
// fall back to a search across every category.
func (s *Session) List(ctx context.Context, cates []ptdomain.CateLevel1) ([]ptdomain.Torrent, error) {
	if s.site.List == nil {
		if len(cates) == 0 {
			cates = ptdomain.AllCategories
		}
		return s.Search(ctx, Request{Cates: cates})
	}

	url := s.site.URL(s.site.List.Path)
	text, err := s.page(ctx, fetchRequest{method: "GET", url: url, referer: s.site.Domain})
	if err != nil {
		return nil, err
	}
	if text == "" {
		return nil, nil
	}
	s.lastText = text

	doc, err := s.document(text)
	if err != nil {
		return nil, err
	}
	if err := s.ensureUserinfo(doc); err != nil {
		return nil, err
	}
	return s.parseTorrents(doc, &s.site.List.List, s.site.List.Fields)
}

// ensureUserinfo parses user info from the page at hand once per session,
// so later row extractions can reference it as template context. Login
// verification happens here as well.
func (s *Session) ensureUserinfo(doc *goquery.Document) error {
	if s.userinfoRaw != nil {
		return nil
	}
	raw, err := s.parseUserinfoRaw(doc)
	if err != nil {
		return err
	}
	s.userinfoRaw = raw
	return nil
}

// Search renders and issues the query against every configured search path
// whose categories intersect the filter, in path order. No matching path
// is a valid empty outcome, not an error.
func (s *Session) Search(ctx context.Context, req Request) ([]ptdomain.Torrent, error) {
	if len(s.site.SearchPaths) == 0 || s.site.Torrents == nil {
		return nil, nil
	}
	paths := s.site.BuildSearchPaths(req.Cates)
	if len(paths) == 0 {
		return nil, nil
	}

	query := map[string]any{
		"keyword": req.Keyword,
		"imdb_id": req.ImdbID,
		"cates":   []string{},
		"page":    "",
		"free":    "",
	}
	if req.Free {
		query["free"] = true
	}
	if req.Page > 0 {
		query["page"] = req.Page
	}

	var out []ptdomain.Torrent
	for i, p := range paths {
		if len(p.QueryCates) > 0 {
			query["cates"] = s.site.TranslateCateIDs(p.QueryCates)
		} else {
			query["cates"] = []string{}
		}
		qs, err := s.site.RenderQuery(query)
		if err != nil {
			return nil, &ParseError{SiteID: s.site.ID, SiteName: s.site.Name, What: "query", Err: err}
		}

		pathURL := s.site.URL(p.Path)
		freq := fetchRequest{method: "GET", url: pathURL + "?" + qs, referer: pathURL, timeout: req.Timeout}
		if p.Method == "post" {
			freq = fetchRequest{
				method:      "POST",
				url:         pathURL,
				body:        qs,
				contentType: "application/x-www-form-urlencoded",
				referer:     pathURL,
				timeout:     req.Timeout,
			}
		}
		text, err := s.page(ctx, freq)
		if err != nil {
			return nil, err
		}
		if text != "" {
			s.lastText = text
			doc, err := s.document(text)
			if err != nil {
				return nil, err
			}
			if err := s.ensureUserinfo(doc); err != nil {
				return nil, err
			}
			torrents, err := s.parseTorrents(doc, &s.site.Torrents.List, s.site.Torrents.Fields)
			if err != nil {
				return nil, err
			}
			out = append(out, torrents...)
		}

		if i+1 < len(paths) {
			// randomized pause between paths, to stay under rate defenses
			if err := s.sleep(ctx, time.Duration(1+s.randInt(3))*time.Second); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// GetDetail fetches one torrent detail page. Profiles without a detail
// rule return nothing.
func (s *Session) GetDetail(ctx context.Context, url string) (*ptdomain.TorrentDetail, error) {
	rule := s.site.Detail
	if rule == nil || len(rule.Fields) == 0 {
		return nil, nil
	}

	var detail *ptdomain.TorrentDetail
	err := s.retryOp(ctx, s.detailRetry, func() error {
		text, err := s.page(ctx, fetchRequest{
			method: "GET", url: url, referer: s.site.Domain, timeout: s.downloadTimeout,
		})
		if err != nil {
			return err
		}
		if text == "" {
			return nil
		}
		doc, err := s.document(text)
		if err != nil {
			return err
		}
		if err := s.testLogin(doc); err != nil {
			return err
		}

		root := doc.Selection
		if matcher, err := rule.Item.Matcher(); err != nil {
			return &ParseError{SiteID: s.site.ID, SiteName: s.site.Name, What: "detail",
				Err: fmt.Errorf("%w: %v", extract.ErrMalformedRule, err)}
		} else if matcher != nil {
			root = doc.FindMatcher(matcher)
		}
		raw, err := extract.Fields(root, rule.Fields, nil)
		if err != nil {
			return &ParseError{SiteID: s.site.ID, SiteName: s.site.Name, What: "detail", Err: err}
		}
		d := ptdomain.BuildTorrentDetail(s.site.ID, raw)
		d.DownloadURL = s.absURL(d.DownloadURL)
		detail = &d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return detail, nil
}

// backoff bounds a retry loop: exponential delays between min and max,
// stopping after the horizon elapses or attempts are exhausted (whichever
// is configured).
type backoff struct {
	min      time.Duration
	max      time.Duration
	horizon  time.Duration
	attempts int
}

func (b backoff) delay(attempt int) time.Duration {
	d := b.min
	for i := 1; i < attempt && d < b.max; i++ {
		d *= 2
	}
	if d > b.max {
		d = b.max
	}
	return d
}

// retryOp retries fn under the given backoff. Authentication and download
// confirmation failures are terminal and never retried; overload errors
// wait out their cooldown before the next attempt.
func (s *Session) retryOp(ctx context.Context, bo backoff, fn func() error) error {
	start := time.Now()
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if IsAuthRequired(err) {
			return err
		}
		var confirmErr *DownloadConfirmError
		if errors.As(err, &confirmErr) {
			return err
		}
		if bo.attempts > 0 && attempt >= bo.attempts {
			return err
		}
		if bo.horizon > 0 && time.Since(start) >= bo.horizon {
			return err
		}
		if oe, ok := AsOverload(err); ok {
			if serr := s.sleep(ctx, oe.Cooldown); serr != nil {
				return err
			}
		}
		if serr := s.sleep(ctx, bo.delay(attempt)); serr != nil {
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
