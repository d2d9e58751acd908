// Package extract interprets declarative field rules against HTML subtrees.
// It knows nothing about sites or networking: rules plus markup in, a
// field-name to value map out. Missing optional matches resolve to the
// rule's declared default instead of failing the extraction.
package extract

import (
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/autopt/ptspider/internal/profile"
)

// Failure kinds. A malformed rule is a configuration defect and is never
// retried; a plain extraction error means the page shape did not match the
// rule's expectations.
var (
	ErrMalformedRule = errors.New("malformed extraction rule")
	ErrExtraction    = errors.New("extraction failed")
)

// Context carries caller-supplied values into rule templates, so later
// fields can reference earlier-computed state (e.g. the account's share
// ratio while classifying a row).
type Context map[string]any

// Fields runs a field-rule set against one subtree and returns the
// extracted values. A field whose selector matches nothing yields its
// default value (rendered against the context when templated); only
// malformed rules and template failures surface as errors.
func Fields(root *goquery.Selection, rules map[string]*profile.FieldRule, ctx Context) (map[string]string, error) {
	out := make(map[string]string, len(rules))
	for name, rule := range rules {
		if rule == nil {
			continue
		}
		val, err := oneField(root, rule, ctx)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		out[name] = val
	}
	return out, nil
}

func oneField(root *goquery.Selection, rule *profile.FieldRule, ctx Context) (string, error) {
	matcher, err := rule.Matcher()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedRule, err)
	}

	target := root
	if matcher != nil {
		target = root.FindMatcher(matcher)
	}
	if target.Length() == 0 {
		return defaultValue(rule, ctx)
	}

	raw, found := rawValue(target, rule)
	if !found {
		return defaultValue(rule, ctx)
	}

	if tmpl := rule.TextTemplate(); tmpl != nil {
		var b strings.Builder
		if err := tmpl.Execute(&b, map[string]any{"value": raw, "context": map[string]any(ctx)}); err != nil {
			return "", fmt.Errorf("%w: render text: %v", ErrExtraction, err)
		}
		return strings.TrimSpace(b.String()), nil
	}
	if rule.Text != "" {
		// plain literal, a constant field
		return rule.Text, nil
	}
	return strings.TrimSpace(raw), nil
}

func rawValue(sel *goquery.Selection, rule *profile.FieldRule) (string, bool) {
	if rule.Attribute != "" {
		return sel.Attr(rule.Attribute)
	}
	return sel.Text(), true
}

func defaultValue(rule *profile.FieldRule, ctx Context) (string, error) {
	if tmpl := rule.DefaultTemplate(); tmpl != nil {
		var b strings.Builder
		if err := tmpl.Execute(&b, map[string]any{"context": map[string]any(ctx)}); err != nil {
			return "", fmt.Errorf("%w: render default: %v", ErrExtraction, err)
		}
		return strings.TrimSpace(b.String()), nil
	}
	return rule.DefaultValue, nil
}

// Rows resolves the list selector to an ordered element sequence and runs
// Fields over each one. A row's missing optional fields never fail the
// page; a malformed list selector does.
func Rows(root *goquery.Selection, list *profile.ItemRule, rules map[string]*profile.FieldRule, ctx Context) ([]map[string]string, error) {
	matcher, err := list.Matcher()
	if err != nil {
		return nil, fmt.Errorf("%w: list selector: %v", ErrMalformedRule, err)
	}
	if matcher == nil {
		return nil, fmt.Errorf("%w: list selector is empty", ErrMalformedRule)
	}

	var (
		rows   []map[string]string
		rowErr error
	)
	root.FindMatcher(matcher).EachWithBreak(func(_ int, row *goquery.Selection) bool {
		item, err := Fields(row, rules, ctx)
		if err != nil {
			rowErr = err
			return false
		}
		rows = append(rows, item)
		return true
	})
	if rowErr != nil {
		return nil, rowErr
	}
	return rows, nil
}
