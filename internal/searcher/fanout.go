package searcher

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/autopt/ptspider/internal/profile"
	"github.com/autopt/ptspider/internal/session"
	"github.com/autopt/ptspider/internal/telemetry"
	"github.com/autopt/ptspider/pkg/ptdomain"
)

// ResultType classifies one fan-out outcome.
type ResultType string

const (
	TypeResult      ResultType = "result"
	TypeTimeout     ResultType = "timeout"
	TypeLoginError  ResultType = "login_error"
	TypeError       ResultType = "error"
	TypeAllFinished ResultType = "all_finished"
)

// ResultMessage is one entry on a batch's result stream. Every site yields
// exactly one message; a final TypeAllFinished message closes the stream.
type ResultMessage struct {
	Type        ResultType
	BatchID     string
	SiteID      string
	SiteName    string
	QueryString string
	Runtime     time.Duration
	ErrMsg      string
	Data        []ptdomain.Torrent
}

// SiteCredential carries per-site connection settings for a batch.
type SiteCredential struct {
	Cookie    string
	UserAgent string
	Proxy     string
}

// Batch searches several sites concurrently, one worker per site, and
// streams per-site outcomes as they finish.
type Batch struct {
	id       string
	searches []*siteSearch
	logger   *zap.Logger
}

type siteSearch struct {
	site     *profile.Site
	searcher *Searcher
}

// NewBatch builds one Searcher per site profile. Credentials are looked up
// by site id; profiles whose parser has no registered factory fail the
// whole batch, misconfiguration is not a per-site outcome.
func NewBatch(sites []*profile.Site, creds map[string]SiteCredential, opts Options) (*Batch, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	b := &Batch{id: uuid.NewString(), logger: opts.Logger}
	for _, site := range sites {
		cred := creds[site.ID]
		sessOpts := []session.Option{session.WithLogger(opts.Logger)}
		if cred.Cookie != "" {
			sessOpts = append(sessOpts, session.WithCookie(cred.Cookie))
		}
		if cred.UserAgent != "" {
			sessOpts = append(sessOpts, session.WithUserAgent(cred.UserAgent))
		}
		if cred.Proxy != "" {
			sessOpts = append(sessOpts, session.WithProxy(cred.Proxy))
		}
		if opts.Timeout > 0 {
			sessOpts = append(sessOpts, session.WithRequestTimeout(opts.Timeout))
		}
		helper, err := session.Build(site, sessOpts...)
		if err != nil {
			return nil, fmt.Errorf("batch: site %s: %w", site.ID, err)
		}
		siteOpts := opts
		siteOpts.SearchValueTypes = site.SubSearchValueTypes
		b.searches = append(b.searches, &siteSearch{site: site, searcher: New(helper, siteOpts)})
	}
	return b, nil
}

// ID returns the batch identifier stamped on every result message.
func (b *Batch) ID() string { return b.id }

// Run fans the query out to every site and returns the result stream. The
// channel closes after the TypeAllFinished message.
func (b *Batch) Run(ctx context.Context, terms []Term, cates []ptdomain.CateLevel1, free bool) <-chan ResultMessage {
	out := make(chan ResultMessage, len(b.searches)+1)
	qs := queryString(terms)

	go func() {
		defer close(out)
		if len(b.searches) == 0 {
			out <- ResultMessage{Type: TypeAllFinished, BatchID: b.id, QueryString: qs}
			return
		}
		p := pool.New().WithMaxGoroutines(len(b.searches))
		for _, ss := range b.searches {
			ss := ss
			p.Go(func() {
				msg := b.runSite(ctx, ss, terms, cates, free)
				msg.QueryString = qs
				telemetry.IncResult(string(msg.Type))
				out <- msg
			})
		}
		p.Wait()
		out <- ResultMessage{Type: TypeAllFinished, BatchID: b.id, QueryString: qs}
	}()
	return out
}

func (b *Batch) runSite(ctx context.Context, ss *siteSearch, terms []Term, cates []ptdomain.CateLevel1, free bool) ResultMessage {
	msg := ResultMessage{
		BatchID:  b.id,
		SiteID:   ss.site.ID,
		SiteName: ss.site.Name,
	}
	res, err := ss.searcher.Search(ctx, terms, cates, free)
	msg.Runtime = ss.searcher.Runtime()
	switch {
	case err == nil && res.Code == CodeTimeout:
		msg.Type = TypeTimeout
	case err == nil:
		msg.Type = TypeResult
		msg.Data = res.Data
	case session.IsAuthRequired(err):
		msg.Type = TypeLoginError
		msg.ErrMsg = err.Error()
	case session.IsTimeout(err):
		msg.Type = TypeTimeout
		msg.ErrMsg = err.Error()
	default:
		msg.Type = TypeError
		msg.ErrMsg = err.Error()
	}
	if msg.ErrMsg != "" {
		b.logger.Warn("site search failed",
			zap.String("batch", b.id), zap.String("site", ss.site.ID),
			zap.String("type", string(msg.Type)), zap.String("err", msg.ErrMsg))
	}
	return msg
}

func queryString(terms []Term) string {
	s := ""
	for i, t := range terms {
		if i > 0 {
			s += " | "
		}
		s += t.Value
	}
	return s
}
