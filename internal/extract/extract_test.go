package extract

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"

	"github.com/autopt/ptspider/internal/profile"
)

const rowProfile = `
id: demo
name: Demo
domain: https://demo.example
torrents:
  list:
    selector: table.torrents tr.row
  fields:
    id:
      selector: a.dl
      attribute: href
      text: '{{ .value }}'
    name:
      selector: a.title
    free:
      selector: img.free
      attribute: alt
      default_value: "no"
    ratio:
      selector: span.nope
      default_value: '{{ .context.userinfo.share_ratio }}'
`

const rowMarkup = `
<html><body><table class="torrents">
<tr class="row">
  <td><a class="title">First Torrent</a></td>
  <td><a class="dl" href="download.php?id=11"></a></td>
  <td><img class="free" alt="yes"/></td>
</tr>
<tr class="row">
  <td><a class="title">  Second Torrent  </a></td>
  <td><a class="dl" href="download.php?id=12"></a></td>
</tr>
</table></body></html>`

func loadRules(t *testing.T, yaml string) *profile.Site {
	t.Helper()
	site, err := profile.Load(strings.NewReader(yaml))
	require.NoError(t, err)
	return site
}

func doc(t *testing.T, markup string) *goquery.Document {
	t.Helper()
	d, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	require.NoError(t, err)
	return d
}

func TestRows(t *testing.T) {
	t.Parallel()

	site := loadRules(t, rowProfile)
	ctx := Context{"userinfo": map[string]string{"share_ratio": "2.5"}}

	rows, err := Rows(doc(t, rowMarkup).Selection, &site.Torrents.List, site.Torrents.Fields, ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	require.Equal(t, "download.php?id=11", rows[0]["id"])
	require.Equal(t, "First Torrent", rows[0]["name"])
	require.Equal(t, "yes", rows[0]["free"])

	// second row has no free marker, the default applies
	require.Equal(t, "Second Torrent", rows[1]["name"])
	require.Equal(t, "no", rows[1]["free"])

	// templated default pulls from the caller context
	require.Equal(t, "2.5", rows[0]["ratio"])
}

func TestFieldsMissingSelectorUsesRoot(t *testing.T) {
	t.Parallel()

	site := loadRules(t, `
id: demo
name: Demo
domain: https://demo.example
userinfo:
  fields:
    username: {}
`)
	d := doc(t, `<div>  alice  </div>`)
	got, err := Fields(d.Selection, site.Userinfo.Fields, nil)
	require.NoError(t, err)
	require.Equal(t, "alice", got["username"])
}

func TestFieldsMalformedSelector(t *testing.T) {
	t.Parallel()

	site := loadRules(t, `
id: demo
name: Demo
domain: https://demo.example
userinfo:
  fields:
    username:
      selector: "a[["
`)
	_, err := Fields(doc(t, "<div></div>").Selection, site.Userinfo.Fields, nil)
	require.ErrorIs(t, err, ErrMalformedRule)
}

func TestRowsEmptyListSelector(t *testing.T) {
	t.Parallel()

	site := loadRules(t, rowProfile)
	var empty profile.ItemRule
	_, err := Rows(doc(t, rowMarkup).Selection, &empty, site.Torrents.Fields, nil)
	require.ErrorIs(t, err, ErrMalformedRule)
}

func TestRowsNoMatchesIsEmpty(t *testing.T) {
	t.Parallel()

	site := loadRules(t, rowProfile)
	rows, err := Rows(doc(t, "<html><body></body></html>").Selection, &site.Torrents.List, site.Torrents.Fields, nil)
	require.NoError(t, err)
	require.Empty(t, rows)
}
