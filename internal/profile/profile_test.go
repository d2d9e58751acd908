package profile

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/autopt/ptspider/pkg/ptdomain"
)

const sampleProfile = `
id: demo
name: Demo
domain: https://demo.example/
category_mappings:
  - id: "401"
    cate_level1: movie
  - id: "402"
    cate_level1: tv
  - id: "408"
    cate_level1: music
  - id: "410"
    cate_level1: av
search:
  paths:
    - path: torrents.php
      categories: ["!", "410"]
    - path: special.php
      categories: ["410"]
      method: post
  query:
    search: '{{ .query.keyword }}'
    page: '{{ .query.page }}'
    notnewword: "1"
    $raw: '{{ range .query.cates }}cat{{ . }}=1&{{ end }}'
login:
  test:
    selector: a[href="usercp.php"]
userinfo:
  path: index.php
  fields:
    username:
      selector: a.username
torrents:
  list:
    selector: table.torrents > tbody > tr
  fields:
    id:
      selector: a[href^="details.php"]
      attribute: href
    name:
      selector: a[title]
      attribute: title
`

func loadSample(t *testing.T) *Site {
	t.Helper()
	site, err := Load(strings.NewReader(sampleProfile))
	require.NoError(t, err)
	return site
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	site := loadSample(t)
	require.Equal(t, "NexusPHP", site.Parser)
	require.Equal(t, []string{"cn_name", "en_name"}, site.SubSearchValueTypes)
	require.True(t, site.LoginRequired())
	require.Equal(t, "https://demo.example/torrents.php", site.URL("torrents.php"))
}

func TestDeriveSearchPaths(t *testing.T) {
	t.Parallel()

	site := loadSample(t)
	require.Len(t, site.SearchPaths, 2)

	// "!" prefix excludes the listed ids from the full mapping
	require.Equal(t, []string{"401", "402", "408"}, site.SearchPaths[0].Categories)
	require.Equal(t, "get", site.SearchPaths[0].Method)

	require.Equal(t, []string{"410"}, site.SearchPaths[1].Categories)
	require.Equal(t, "post", site.SearchPaths[1].Method)
}

func TestLevel2IDs(t *testing.T) {
	t.Parallel()

	site := loadSample(t)

	// empty filter selects everything except adult content
	require.Equal(t, []string{"401", "402", "408"}, site.Level2IDs(nil))
	require.Equal(t, []string{"401"}, site.Level2IDs([]ptdomain.CateLevel1{ptdomain.CategoryMovie}))
	require.Empty(t, site.Level2IDs([]ptdomain.CateLevel1{ptdomain.CategoryGame}))
}

func TestBuildSearchPaths(t *testing.T) {
	t.Parallel()

	site := loadSample(t)

	paths := site.BuildSearchPaths([]ptdomain.CateLevel1{ptdomain.CategoryMovie, ptdomain.CategoryTV})
	require.Len(t, paths, 1)
	require.Equal(t, "torrents.php", paths[0].Path)
	require.Equal(t, []string{"401", "402"}, paths[0].QueryCates)

	// adult search only hits the dedicated path
	paths = site.BuildSearchPaths([]ptdomain.CateLevel1{ptdomain.CategoryAV})
	require.Len(t, paths, 1)
	require.Equal(t, "special.php", paths[0].Path)

	// no category overlap, no paths, no error
	require.Empty(t, site.BuildSearchPaths([]ptdomain.CateLevel1{ptdomain.CategoryGame}))
}

func TestRenderQuery(t *testing.T) {
	t.Parallel()

	site := loadSample(t)
	qs, err := site.RenderQuery(map[string]any{
		"keyword": "blade runner",
		"page":    "",
		"cates":   []string{"401", "402"},
	})
	require.NoError(t, err)

	// empty values drop their key, $raw lands last without encoding
	require.Equal(t, "notnewword=1&search=blade+runner&cat401=1&cat402=1", qs)
}

func TestLevel1For(t *testing.T) {
	t.Parallel()

	site := loadSample(t)
	require.Equal(t, ptdomain.CategoryMovie, site.Level1For("401"))
	require.Equal(t, ptdomain.CategoryOther, site.Level1For("999"))
	require.Equal(t, ptdomain.CategoryOther, site.Level1For(""))
}

func TestLoadRejectsIncompleteProfile(t *testing.T) {
	t.Parallel()

	_, err := Load(strings.NewReader("id: x\nname: y\n"))
	require.Error(t, err)
}

func TestTranslateCateIDs(t *testing.T) {
	t.Parallel()

	const withMapping = `
id: demo2
name: Demo2
domain: https://demo2.example
category_mappings:
  - id: "401"
    cate_level1: movie
category_id_mapping:
  - id: "401"
    mapping: ["c1", "c2"]
`
	site, err := Load(strings.NewReader(withMapping))
	require.NoError(t, err)

	require.Equal(t, []string{"c1", "c2"}, site.TranslateCateIDs([]string{"401"}))
	// ids without a mapping entry pass through untouched
	require.Equal(t, []string{"77"}, site.TranslateCateIDs([]string{"77"}))
	require.Equal(t, []string{"c1", "c2", "77"}, site.TranslateCateIDs([]string{"401", "77"}))
}
