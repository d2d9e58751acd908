package session

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/autopt/ptspider/internal/profile"
	"github.com/autopt/ptspider/pkg/ptdomain"
)

const testProfileTemplate = `
id: demo
name: Demo
domain: %s
encoding: utf-8
category_mappings:
  - id: "401"
    cate_level1: movie
  - id: "402"
    cate_level1: tv
  - id: "408"
    cate_level1: music
search:
  paths:
    - path: torrents.php
  query:
    search: '{{ .query.keyword }}'
    $raw: '{{ range .query.cates }}cat{{ . }}=1&{{ end }}'
login:
  test:
    selector: a[href="usercp.php"]
userinfo:
  path: usercp.php
  fields:
    username:
      selector: span.username
    uploaded:
      selector: span.uploaded
    downloaded:
      selector: span.downloaded
torrents:
  list:
    selector: table.torrents tr.row
  fields:
    id:
      selector: a.title
      attribute: id
    name:
      selector: a.title
    category:
      selector: td.cat
    details:
      selector: a.title
      attribute: href
detail:
  fields:
    name:
      selector: h1#top
    download:
      selector: a.index
      attribute: href
`

const listingPage = `<html><body>
<a href="usercp.php">account</a>
<span class="username">alice</span>
<span class="uploaded">10 GB</span>
<span class="downloaded">2 GB</span>
<table class="torrents">
<tr class="row"><td class="cat">401</td><td><a class="title" id="11" href="details.php?id=11">First</a></td></tr>
<tr class="row"><td class="cat">402</td><td><a class="title" id="12" href="details.php?id=12">Second</a></td></tr>
</table>
</body></html>`

func newTestSession(t *testing.T, domain string) *Session {
	t.Helper()
	site, err := profile.Load(strings.NewReader(fmt.Sprintf(testProfileTemplate, domain)))
	require.NoError(t, err)
	s, err := New(site, WithCookie("c_secure_uid=abc"))
	require.NoError(t, err)
	// keep tests fast: no real waiting, no download pacing
	s.sleep = func(context.Context, time.Duration) error { return nil }
	s.randInt = func(int) int { return 0 }
	s.dlLimiter = rate.NewLimiter(rate.Inf, 1)
	s.userinfoRetry = backoff{min: time.Millisecond, max: time.Millisecond, attempts: 2}
	s.detailRetry = backoff{min: time.Millisecond, max: time.Millisecond, attempts: 2}
	s.downloadRetry = backoff{min: time.Millisecond, max: time.Millisecond, attempts: 2}
	return s
}

func TestSearch(t *testing.T) {
	t.Parallel()

	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/torrents.php", r.URL.Path)
		gotQuery = r.URL.RawQuery
		fmt.Fprint(w, listingPage)
	}))
	defer srv.Close()

	s := newTestSession(t, srv.URL)
	torrents, err := s.Search(context.Background(), Request{
		Keyword: "first",
		Cates:   []ptdomain.CateLevel1{ptdomain.CategoryMovie, ptdomain.CategoryTV},
	})
	require.NoError(t, err)
	require.Len(t, torrents, 2)

	require.Contains(t, gotQuery, "search=first")
	require.Contains(t, gotQuery, "cat401=1")
	require.Contains(t, gotQuery, "cat402=1")

	require.Equal(t, "11", torrents[0].ID)
	require.Equal(t, "First", torrents[0].Name)
	require.Equal(t, ptdomain.CategoryMovie, torrents[0].CateLevel1)
	require.Equal(t, srv.URL+"/details.php?id=11", torrents[0].DetailsURL)
	require.Equal(t, ptdomain.CategoryTV, torrents[1].CateLevel1)
}

func TestSearchNoMatchingCategories(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("no request should be issued")
	}))
	defer srv.Close()

	s := newTestSession(t, srv.URL)
	torrents, err := s.Search(context.Background(), Request{
		Cates: []ptdomain.CateLevel1{ptdomain.CategoryGame},
	})
	require.NoError(t, err)
	require.Nil(t, torrents)
}

func TestSearchSendsCookie(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Contains(t, r.Header.Get("Cookie"), "c_secure_uid=abc")
		http.SetCookie(w, &http.Cookie{Name: "session_tag", Value: "xyz"})
		fmt.Fprint(w, listingPage)
	}))
	defer srv.Close()

	s := newTestSession(t, srv.URL)
	_, err := s.Search(context.Background(), Request{Keyword: "x"})
	require.NoError(t, err)

	// server-issued cookies join the session set
	require.Equal(t, "xyz", s.cookies["session_tag"])
}

func TestSearchLoginFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "<html><body>please sign in</body></html>")
	}))
	defer srv.Close()

	s := newTestSession(t, srv.URL)
	_, err := s.Search(context.Background(), Request{Keyword: "x"})
	require.True(t, IsAuthRequired(err), "got %v", err)
}

func TestSearchOverload(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "<html><body>负载过高，120秒后自动刷新</body></html>")
	}))
	defer srv.Close()

	s := newTestSession(t, srv.URL)
	_, err := s.Search(context.Background(), Request{Keyword: "x"})
	oe, ok := AsOverload(err)
	require.True(t, ok, "got %v", err)
	require.Equal(t, 120*time.Second, oe.Cooldown)
}

func TestSearchResolvesRedirectChallenge(t *testing.T) {
	t.Parallel()

	challenged := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !challenged {
			challenged = true
			fmt.Fprint(w, challengePage)
			return
		}
		require.Equal(t, "/index.php", r.URL.Path)
		fmt.Fprint(w, listingPage)
	}))
	defer srv.Close()

	s := newTestSession(t, srv.URL)
	torrents, err := s.Search(context.Background(), Request{Keyword: "x"})
	require.NoError(t, err)
	require.Len(t, torrents, 2)
	require.True(t, challenged)
}

func TestSearchInteractiveChallenge(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "<html><head><title>Just a moment...</title></head></html>")
	}))
	defer srv.Close()

	s := newTestSession(t, srv.URL)
	_, err := s.Search(context.Background(), Request{Keyword: "x"})
	require.True(t, IsAuthRequired(err), "got %v", err)
}

func TestGetUserInfo(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/usercp.php", r.URL.Path)
		fmt.Fprint(w, listingPage)
	}))
	defer srv.Close()

	s := newTestSession(t, srv.URL)
	info, err := s.GetUserInfo(context.Background(), true)
	require.NoError(t, err)
	require.Equal(t, "alice", info.Username)
	require.InDelta(t, 10240, info.UploadedMB, 0.1)
	require.Equal(t, 5.0, info.ShareRatio)
}

func TestGetUserInfoFromCachedPage(t *testing.T) {
	t.Parallel()

	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests++
		fmt.Fprint(w, listingPage)
	}))
	defer srv.Close()

	s := newTestSession(t, srv.URL)
	_, err := s.Search(context.Background(), Request{Keyword: "x"})
	require.NoError(t, err)
	require.Equal(t, 1, requests)

	info, err := s.GetUserInfo(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, "alice", info.Username)
	require.Equal(t, 1, requests, "cached page must not trigger a request")
}

func TestGetDetail(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><a href="usercp.php">cp</a>
<h1 id="top">First Torrent</h1>
<a class="index" href="download.php?id=11">download</a></body></html>`)
	}))
	defer srv.Close()

	s := newTestSession(t, srv.URL)
	detail, err := s.GetDetail(context.Background(), srv.URL+"/details.php?id=11")
	require.NoError(t, err)
	require.NotNil(t, detail)
	require.Equal(t, "First Torrent", detail.Name)
	require.Equal(t, srv.URL+"/download.php?id=11", detail.DownloadURL)
}

func TestDownload(t *testing.T) {
	t.Parallel()

	payload := []byte("d8:announce3:urle")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-bittorrent")
		w.Write(payload) //nolint:errcheck
	}))
	defer srv.Close()

	s := newTestSession(t, srv.URL)
	dest := filepath.Join(t.TempDir(), "out.torrent")
	require.NoError(t, s.Download(context.Background(), srv.URL+"/download.php?id=11", dest))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestDownloadConfirmationPage(t *testing.T) {
	t.Parallel()

	payload := []byte("d8:announce3:urle")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/downloadnotice.php" {
			require.Equal(t, http.MethodPost, r.Method)
			require.NoError(t, r.ParseForm())
			require.Equal(t, "11", r.PostFormValue("id"))
			require.Equal(t, "ratio", r.PostFormValue("type"))
			w.Header().Set("Content-Type", "application/x-bittorrent")
			w.Write(payload) //nolint:errcheck
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><body><h1>下载提示</h1>
<form><input name="id" value="11"/></form></body></html>`)
	}))
	defer srv.Close()

	s := newTestSession(t, srv.URL)
	dest := filepath.Join(t.TempDir(), "out.torrent")
	require.NoError(t, s.Download(context.Background(), srv.URL+"/download.php?id=11", dest))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestDownloadGone(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	s := newTestSession(t, srv.URL)
	dest := filepath.Join(t.TempDir(), "out.torrent")
	require.NoError(t, s.Download(context.Background(), srv.URL+"/download.php?id=404", dest))

	_, err := os.Stat(dest)
	require.True(t, os.IsNotExist(err), "no file should be written for a gone torrent")
}

func TestBuildUnknownParser(t *testing.T) {
	t.Parallel()

	site, err := profile.Load(strings.NewReader(`
id: x
name: X
domain: https://x.example
parser: NotARealParser
`))
	require.NoError(t, err)
	_, err = Build(site)
	require.Error(t, err)
}

func TestBuildRegisteredParser(t *testing.T) {
	t.Parallel()

	site, err := profile.Load(strings.NewReader(`
id: x
name: X
domain: https://x.example
`))
	require.NoError(t, err)
	h, err := Build(site)
	require.NoError(t, err)
	require.Equal(t, "x", h.SiteID())
}
