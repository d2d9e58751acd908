package profile

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/autopt/ptspider/pkg/ptdomain"
)

// templateFuncs are available inside query and field-rule templates.
var templateFuncs = template.FuncMap{
	"join": strings.Join,
}

type rawSearchPath struct {
	Path       string   `mapstructure:"path"`
	Categories []string `mapstructure:"categories"`
	Method     string   `mapstructure:"method"`
}

type rawSearch struct {
	Paths []rawSearchPath   `mapstructure:"paths"`
	Query map[string]string `mapstructure:"query"`
}

type rawSite struct {
	ID                 string              `mapstructure:"id"`
	Name               string              `mapstructure:"name"`
	Domain             string              `mapstructure:"domain"`
	Encoding           string              `mapstructure:"encoding"`
	Parser             string              `mapstructure:"parser"`
	SubSearchValueType []string            `mapstructure:"sub_search_value_type"`
	CategoryMappings   []CategoryMapping   `mapstructure:"category_mappings"`
	CategoryIDMapping  []CategoryIDMapping `mapstructure:"category_id_mapping"`
	Search             rawSearch           `mapstructure:"search"`
	Login              LoginRule           `mapstructure:"login"`
	Userinfo           *UserinfoRule       `mapstructure:"userinfo"`
	List               *ListRule           `mapstructure:"list"`
	Torrents           *RowsRule           `mapstructure:"torrents"`
	Detail             *DetailRule         `mapstructure:"detail"`
	Download           DownloadSpec        `mapstructure:"download"`
}

// LoadDir reads every .yaml/.yml profile in a directory, sorted by file
// name. One malformed profile fails the whole load so misconfiguration is
// caught at startup, not mid-search.
func LoadDir(dir string) ([]*Site, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read profiles dir: %w", err)
	}
	var sites []*Site
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		site, err := LoadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("profile %s: %w", name, err)
		}
		sites = append(sites, site)
	}
	return sites, nil
}

// LoadFile reads one YAML site profile from disk.
func LoadFile(path string) (*Site, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open profile: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load parses one YAML site profile. The returned Site is fully derived:
// category ids canonicalized, search paths resolved, selectors and
// templates precompiled. It must not be mutated afterwards.
func Load(r io.Reader) (*Site, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(r); err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	var raw rawSite
	if err := v.Unmarshal(&raw, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return build(raw)
}

func build(raw rawSite) (*Site, error) {
	if raw.ID == "" || raw.Name == "" || raw.Domain == "" {
		return nil, fmt.Errorf("profile must set id, name and domain")
	}

	s := &Site{
		ID:                  raw.ID,
		Name:                raw.Name,
		Domain:              raw.Domain,
		Encoding:            raw.Encoding,
		Parser:              raw.Parser,
		SubSearchValueTypes: raw.SubSearchValueType,
		CategoryMappings:    canonicalizeMappings(raw.CategoryMappings),
		categoryIDMapping:   raw.CategoryIDMapping,
		Login:               raw.Login,
		Userinfo:            raw.Userinfo,
		List:                raw.List,
		Torrents:            raw.Torrents,
		Detail:              raw.Detail,
		Download:            raw.Download,
	}
	if s.Parser == "" {
		s.Parser = "NexusPHP"
	}
	if len(s.SubSearchValueTypes) == 0 {
		s.SubSearchValueTypes = []string{"cn_name", "en_name"}
	}

	s.SearchPaths = deriveSearchPaths(raw.Search.Paths, s.CategoryMappings)
	if err := s.compileQuery(raw.Search.Query); err != nil {
		return nil, err
	}

	s.Login.Test.compile()
	if s.Userinfo != nil {
		s.Userinfo.Item.compile()
		compileFields(s.Userinfo.Fields)
	}
	if s.Torrents != nil {
		s.Torrents.List.compile()
		compileFields(s.Torrents.Fields)
	}
	if s.List != nil {
		s.List.List.compile()
		compileFields(s.List.Fields)
	}
	if s.Detail != nil {
		s.Detail.Item.compile()
		compileFields(s.Detail.Fields)
	}
	return s, nil
}

func canonicalizeMappings(in []CategoryMapping) []CategoryMapping {
	out := make([]CategoryMapping, 0, len(in))
	for _, c := range in {
		c.ID = strings.TrimSpace(c.ID)
		// profile authors write level-1 names in any case
		if l1, ok := ptdomain.ParseCateLevel1(c.Level1); ok {
			c.Level1 = string(l1)
		}
		out = append(out, c)
	}
	return out
}

// deriveSearchPaths resolves each configured path's category id list. An
// empty list means every configured category; a leading "!" element turns
// the remainder into an exclusion list.
func deriveSearchPaths(paths []rawSearchPath, mappings []CategoryMapping) []SearchPath {
	out := make([]SearchPath, 0, len(paths))
	for _, p := range paths {
		sp := SearchPath{Path: p.Path, Method: strings.ToLower(p.Method)}
		if sp.Method == "" {
			sp.Method = "get"
		}
		switch {
		case len(p.Categories) == 0:
			for _, c := range mappings {
				sp.Categories = append(sp.Categories, c.ID)
			}
		case p.Categories[0] == "!":
			excluded := make(map[string]bool, len(p.Categories))
			for _, id := range p.Categories[1:] {
				excluded[id] = true
			}
			for _, c := range mappings {
				if !excluded[c.ID] {
					sp.Categories = append(sp.Categories, c.ID)
				}
			}
		default:
			sp.Categories = append(sp.Categories, p.Categories...)
		}
		out = append(out, sp)
	}
	return out
}

func (s *Site) compileQuery(query map[string]string) error {
	s.queryTmpl = make(map[string]*template.Template)
	s.queryLit = make(map[string]string)
	for key, val := range query {
		s.queryOrder = append(s.queryOrder, key)
		if strings.Contains(val, "{{") {
			t, err := template.New("query." + key).Funcs(templateFuncs).Parse(val)
			if err != nil {
				return fmt.Errorf("compile query template %q: %w", key, err)
			}
			s.queryTmpl[key] = t
			continue
		}
		s.queryLit[key] = val
	}
	// YAML maps carry no order; render deterministically, raw key last so
	// it can close out a hand-built query string.
	sort.Slice(s.queryOrder, func(i, j int) bool {
		a, b := s.queryOrder[i], s.queryOrder[j]
		if (a == "$raw") != (b == "$raw") {
			return b == "$raw"
		}
		return a < b
	})
	return nil
}

// RenderQuery renders the profile's query template against one request's
// values (keyword, imdb_id, cates, page, free). Empty values drop their
// key; the "$raw" key is appended verbatim, bypassing key=value encoding.
func (s *Site) RenderQuery(query map[string]any) (string, error) {
	var b strings.Builder
	data := map[string]any{"query": query}
	for _, key := range s.queryOrder {
		val, ok := s.queryLit[key]
		if !ok {
			var sb strings.Builder
			if err := s.queryTmpl[key].Execute(&sb, data); err != nil {
				return "", fmt.Errorf("render query %q: %w", key, err)
			}
			val = sb.String()
		}
		if val == "" {
			continue
		}
		if key == "$raw" {
			b.WriteString(val)
			continue
		}
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(val))
		b.WriteByte('&')
	}
	return strings.TrimRight(b.String(), "&"), nil
}

func compileFields(fields map[string]*FieldRule) {
	for name, rule := range fields {
		if rule != nil {
			rule.compile(name)
		}
	}
}
