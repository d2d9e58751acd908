// Package profile holds the parsed, immutable per-site configuration that
// drives the adapter: category taxonomy, search paths, query templates,
// field-extraction rule sets, and the download specification. Profiles are
// loaded once at session start; selectors and templates are precompiled
// here so the extraction engine never recompiles per page.
package profile

import (
	"strings"
	"text/template"

	"github.com/andybalholm/cascadia"

	"github.com/autopt/ptspider/pkg/ptdomain"
)

// CategoryMapping binds one site-local category id to the shared taxonomy.
// Level1 may be the wildcard "*" to match any requested category.
type CategoryMapping struct {
	ID     string `mapstructure:"id"`
	Level1 string `mapstructure:"cate_level1"`
	Level2 string `mapstructure:"cate_level2"`
}

// CategoryIDMapping remaps a configured category id to the id(s) the site
// actually expects in its query string.
type CategoryIDMapping struct {
	ID      string   `mapstructure:"id"`
	Mapping []string `mapstructure:"mapping"`
}

// FieldRule describes how one field is pulled out of a page subtree.
// Selector failure never fails an extraction; the declared default value
// (rendered if templated) is used instead.
type FieldRule struct {
	Selector     string `mapstructure:"selector"`
	Attribute    string `mapstructure:"attribute"`
	Text         string `mapstructure:"text"`
	DefaultValue string `mapstructure:"default_value"`

	matcher     cascadia.Selector
	textTmpl    *template.Template
	defaultTmpl *template.Template
	compileErr  error
}

// compile precompiles the selector and any templated literals. Errors are
// retained and surfaced on first use so a single bad rule does not prevent
// the rest of the profile from loading.
func (r *FieldRule) compile(name string) {
	if r.Selector != "" {
		m, err := cascadia.Compile(r.Selector)
		if err != nil {
			r.compileErr = err
			return
		}
		r.matcher = m
	}
	if strings.Contains(r.Text, "{{") {
		t, err := template.New(name + ".text").Funcs(templateFuncs).Parse(r.Text)
		if err != nil {
			r.compileErr = err
			return
		}
		r.textTmpl = t
	}
	if strings.Contains(r.DefaultValue, "{{") {
		t, err := template.New(name + ".default").Funcs(templateFuncs).Parse(r.DefaultValue)
		if err != nil {
			r.compileErr = err
			return
		}
		r.defaultTmpl = t
	}
}

// Matcher returns the precompiled selector, or the compilation error for a
// malformed rule. A rule without a selector returns (nil, nil).
func (r *FieldRule) Matcher() (cascadia.Selector, error) {
	if r.compileErr != nil {
		return nil, r.compileErr
	}
	return r.matcher, nil
}

// TextTemplate returns the precompiled text template, nil when the text is
// a plain literal.
func (r *FieldRule) TextTemplate() *template.Template { return r.textTmpl }

// DefaultTemplate returns the precompiled default-value template, nil when
// the default is a plain literal.
func (r *FieldRule) DefaultTemplate() *template.Template { return r.defaultTmpl }

// ItemRule selects the subtree an extraction rule set runs against.
type ItemRule struct {
	Selector string `mapstructure:"selector"`

	matcher    cascadia.Selector
	compileErr error
}

func (i *ItemRule) compile() {
	if i == nil || i.Selector == "" {
		return
	}
	m, err := cascadia.Compile(i.Selector)
	if err != nil {
		i.compileErr = err
		return
	}
	i.matcher = m
}

// Matcher returns the precompiled selector, or the compilation error for a
// malformed one. An empty selector returns (nil, nil).
func (i *ItemRule) Matcher() (cascadia.Selector, error) {
	if i.compileErr != nil {
		return nil, i.compileErr
	}
	return i.matcher, nil
}

// RowsRule describes a repeated-row extraction: the list selector plus the
// per-row field rules.
type RowsRule struct {
	List   ItemRule              `mapstructure:"list"`
	Fields map[string]*FieldRule `mapstructure:"fields"`
}

// ListRule is the optional "latest torrents" page configuration.
type ListRule struct {
	Path   string                `mapstructure:"path"`
	List   ItemRule              `mapstructure:"list"`
	Fields map[string]*FieldRule `mapstructure:"fields"`
}

// UserinfoRule locates account statistics on an authenticated page.
// When Constant is set, the field defaults are returned verbatim without
// touching the page (used for sites that expose no statistics).
type UserinfoRule struct {
	Path     string                `mapstructure:"path"`
	Constant bool                  `mapstructure:"constant"`
	Item     ItemRule              `mapstructure:"item"`
	Fields   map[string]*FieldRule `mapstructure:"fields"`
}

// DetailRule locates the fields of a torrent detail page.
type DetailRule struct {
	Item   ItemRule              `mapstructure:"item"`
	Fields map[string]*FieldRule `mapstructure:"fields"`
}

// LoginRule configures login verification. Required defaults to true; the
// Test selector must match on any authenticated page.
type LoginRule struct {
	Required *bool    `mapstructure:"required"`
	Test     ItemRule `mapstructure:"test"`
}

// SearchPath is one derived search endpoint with its resolved category ids.
type SearchPath struct {
	Path       string
	Method     string
	Categories []string
}

// DownloadArg is one fixed body argument of the download request.
type DownloadArg struct {
	Name  string `mapstructure:"name"`
	Value string `mapstructure:"value"`
}

// DownloadSpec configures the torrent download request.
type DownloadSpec struct {
	Method      string        `mapstructure:"method"`
	ContentType string        `mapstructure:"content_type"`
	Args        []DownloadArg `mapstructure:"args"`
}

// Site is a fully parsed site profile. It is immutable after Load.
type Site struct {
	ID       string
	Name     string
	Domain   string
	Encoding string
	Parser   string

	// SubSearchValueTypes filters orchestrator query terms; defaults to
	// cn_name and en_name.
	SubSearchValueTypes []string

	CategoryMappings  []CategoryMapping
	categoryIDMapping []CategoryIDMapping

	SearchPaths []SearchPath
	queryOrder  []string
	queryTmpl   map[string]*template.Template
	queryLit    map[string]string

	Login    LoginRule
	Userinfo *UserinfoRule
	List     *ListRule
	Torrents *RowsRule
	Detail   *DetailRule
	Download DownloadSpec
}

// LoginRequired reports whether the profile expects an authenticated
// session. Absent configuration means required.
func (s *Site) LoginRequired() bool {
	if s.Login.Required == nil {
		return true
	}
	return *s.Login.Required
}

// URL joins a site-relative path onto the configured domain.
func (s *Site) URL(path string) string {
	return strings.TrimRight(s.Domain, "/") + "/" + strings.TrimLeft(path, "/")
}

// Level2IDs resolves a level-1 category filter to the matching site-local
// category ids. An empty filter selects every non-adult category.
func (s *Site) Level2IDs(level1 []ptdomain.CateLevel1) []string {
	var ids []string
	if len(level1) == 0 {
		for _, c := range s.CategoryMappings {
			if c.Level1 == string(ptdomain.CategoryAV) {
				continue
			}
			ids = append(ids, c.ID)
		}
		return ids
	}
	names := make(map[string]bool, len(level1))
	for _, l := range level1 {
		names[string(l)] = true
	}
	for _, c := range s.CategoryMappings {
		if names[c.Level1] || c.Level1 == "*" {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

// ResolvedPath is a search path selected for one query, with the category
// ids to put in the query string. An empty QueryCates means "the whole
// site" and omits category parameters entirely.
type ResolvedPath struct {
	Path       string
	Method     string
	QueryCates []string
}

// BuildSearchPaths selects the search paths whose configured categories
// intersect the requested level-1 filter. Path order is preserved.
func (s *Site) BuildSearchPaths(level1 []ptdomain.CateLevel1) []ResolvedPath {
	want := make(map[string]bool)
	for _, id := range s.Level2IDs(level1) {
		want[id] = true
	}
	if len(want) == 0 {
		return nil
	}
	var out []ResolvedPath
	for _, p := range s.SearchPaths {
		var hit []string
		for _, id := range p.Categories {
			if want[id] {
				hit = append(hit, id)
			}
		}
		if len(hit) == 0 {
			continue
		}
		rp := ResolvedPath{Path: p.Path, Method: p.Method}
		if len(hit) < len(s.CategoryMappings) {
			rp.QueryCates = hit
		}
		out = append(out, rp)
	}
	return out
}

// TranslateCateIDs applies the category id remapping table. Ids without a
// mapping entry pass through; a mapping may fan one id out to several.
func (s *Site) TranslateCateIDs(ids []string) []string {
	if len(ids) == 0 || len(s.categoryIDMapping) == 0 {
		return ids
	}
	var out []string
	for _, id := range ids {
		mapped := false
		for _, m := range s.categoryIDMapping {
			if m.ID != id {
				continue
			}
			for _, v := range m.Mapping {
				if v != "" {
					out = append(out, v)
					mapped = true
				}
			}
		}
		if !mapped {
			out = append(out, id)
		}
	}
	return out
}

// Level1For maps a site-local category id to its level-1 category,
// CategoryOther when unmapped.
func (s *Site) Level1For(categoryID string) ptdomain.CateLevel1 {
	if categoryID != "" {
		for _, c := range s.CategoryMappings {
			if c.ID == categoryID {
				return ptdomain.CateLevel1(c.Level1)
			}
		}
	}
	return ptdomain.CategoryOther
}

// DownloadMethod returns the configured download HTTP method, GET when unset.
func (s *Site) DownloadMethod() string {
	if s.Download.Method == "" {
		return "GET"
	}
	return strings.ToUpper(s.Download.Method)
}

// DownloadArgs returns the configured download body arguments as a map.
func (s *Site) DownloadArgs() map[string]string {
	if len(s.Download.Args) == 0 {
		return nil
	}
	out := make(map[string]string, len(s.Download.Args))
	for _, a := range s.Download.Args {
		out[a.Name] = a.Value
	}
	return out
}
