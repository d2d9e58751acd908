package session

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// Markers of the NexusPHP download confirmation interstitial, simplified
// and traditional variants.
var downloadConfirmMarkers = []string{"下载提示", "下載輔助說明"}

var confirmIDRe = regexp.MustCompile(`name="id"\s+value="(\d+)"`)

// Download fetches a torrent file and writes it to dest. Downloads are
// paced by the per-session limiter and retried under the short-horizon
// policy. A 404 is treated as "gone", logged and not reported as an error.
func (s *Session) Download(ctx context.Context, torrentURL, dest string) error {
	return s.retryOp(ctx, s.downloadRetry, func() error {
		return s.downloadOnce(ctx, torrentURL, dest)
	})
}

func (s *Session) downloadOnce(ctx context.Context, torrentURL, dest string) error {
	if err := s.dlLimiter.Wait(ctx); err != nil {
		return err
	}

	req := fetchRequest{
		method:  s.site.DownloadMethod(),
		url:     s.absURL(torrentURL),
		referer: s.site.Domain,
		timeout: s.downloadTimeout,
	}
	if req.method == "POST" {
		req.body = encodeForm(s.site.DownloadArgs())
		req.contentType = s.site.Download.ContentType
		if req.contentType == "" {
			req.contentType = "application/x-www-form-urlencoded"
		}
	}

	resp, err := s.fetch(ctx, req)
	if err != nil {
		return err
	}
	if resp.status == 404 {
		s.logger.Warn("torrent no longer exists, skipping download",
			zap.String("site", s.site.ID), zap.String("url", torrentURL))
		return nil
	}

	body := resp.body
	if strings.Contains(resp.headers.Get("Content-Type"), "text/html") {
		body, err = s.resolveDownloadPage(ctx, torrentURL, resp)
		if err != nil {
			return err
		}
	}

	if err := os.WriteFile(dest, body, 0o644); err != nil {
		return &DownloadError{SiteID: s.site.ID, SiteName: s.site.Name, URL: torrentURL,
			Err: fmt.Errorf("write %s: %w", dest, err)}
	}
	s.logger.Info("torrent downloaded",
		zap.String("site", s.site.ID), zap.String("dest", dest), zap.Int("bytes", len(body)))
	return nil
}

// resolveDownloadPage handles an HTML body where a torrent was expected:
// either the confirmation interstitial (answered with a downloadnotice
// post) or an error page.
func (s *Session) resolveDownloadPage(ctx context.Context, torrentURL string, resp *fetchResponse) ([]byte, error) {
	text, err := decodeBody(resp.body, s.site.Encoding)
	if err != nil {
		return nil, err
	}

	if containsAny(text, downloadConfirmMarkers) {
		m := confirmIDRe.FindStringSubmatch(text)
		if m == nil {
			return nil, &DownloadConfirmError{SiteID: s.site.ID, SiteName: s.site.Name, URL: torrentURL}
		}
		s.logger.Debug("answering download confirmation",
			zap.String("site", s.site.ID), zap.String("id", m[1]))
		confirmed, err := s.fetch(ctx, fetchRequest{
			method:      "POST",
			url:         s.site.URL("downloadnotice.php"),
			body:        encodeForm(map[string]string{"id": m[1], "type": "ratio"}),
			contentType: "application/x-www-form-urlencoded",
			referer:     s.absURL(torrentURL),
			timeout:     s.downloadTimeout,
		})
		if err != nil {
			return nil, err
		}
		return confirmed.body, nil
	}

	if isRateLimited(text) {
		return nil, &RateLimitedError{SiteID: s.site.ID, SiteName: s.site.Name, URL: torrentURL}
	}
	s.logger.Error("download returned an html page",
		zap.String("site", s.site.ID), zap.String("url", torrentURL), zap.Int("status", resp.status))
	return nil, &DownloadError{SiteID: s.site.ID, SiteName: s.site.Name, URL: torrentURL,
		Err: fmt.Errorf("unexpected html response (status %d)", resp.status)}
}

func containsAny(text string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(text, m) {
			return true
		}
	}
	return false
}

func encodeForm(args map[string]string) string {
	if len(args) == 0 {
		return ""
	}
	v := url.Values{}
	for name, val := range args {
		v.Set(name, val)
	}
	return v.Encode()
}
