package session

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Page markers for the anti-bot / overload state machine. These are the
// literal phrases NexusPHP-family sites and their CDN front-ends emit.
const (
	markerCFSettings   = "data-cf-settings"
	markerRocketLoader = "rocket-loader"
	markerInteractive  = "<title>Just a moment...</title>"
	markerOverload     = "负载过高，120秒后自动刷新"
	markerRateLimited  = "请求次数过多"

	overloadCooldown = 120 * time.Second
)

var redirectExprRe = regexp.MustCompile(`window\.location=(.+);`)

// redirectTarget extracts the path a lightweight JS-redirect challenge
// wants the browser to load. The embedded expression is evaluated by a
// narrow parser that accepts only string literals joined by "+"; anything
// else fails closed.
func redirectTarget(body string) (string, bool, error) {
	if !strings.Contains(body, markerCFSettings) || !strings.Contains(body, markerRocketLoader) {
		return "", false, nil
	}
	m := redirectExprRe.FindStringSubmatch(body)
	if m == nil {
		return "", false, nil
	}
	target, err := evalStringExpr(m[1])
	if err != nil {
		return "", true, err
	}
	return target, true, nil
}

// evalStringExpr evaluates a concatenation of JS string literals, e.g.
// "/ind" + 'ex.php'. It rejects everything that is not a quoted literal or
// the + operator: no identifiers, no calls, no escapes beyond \' \" \\.
func evalStringExpr(expr string) (string, error) {
	var (
		b       strings.Builder
		i       = 0
		n       = len(expr)
		wantLit = true
	)
	for i < n {
		switch c := expr[i]; {
		case c == ' ' || c == '\t':
			i++
		case wantLit && (c == '\'' || c == '"'):
			lit, next, err := scanStringLit(expr, i)
			if err != nil {
				return "", err
			}
			b.WriteString(lit)
			i = next
			wantLit = false
		case !wantLit && c == '+':
			i++
			wantLit = true
		default:
			return "", fmt.Errorf("unsupported redirect expression near %q", expr[i:])
		}
	}
	if wantLit {
		return "", fmt.Errorf("redirect expression ends mid-concatenation")
	}
	return b.String(), nil
}

func scanStringLit(s string, start int) (string, int, error) {
	quote := s[start]
	var b strings.Builder
	i := start + 1
	for i < len(s) {
		c := s[i]
		switch {
		case c == '\\':
			if i+1 >= len(s) {
				return "", 0, fmt.Errorf("dangling escape in redirect literal")
			}
			next := s[i+1]
			if next != '\'' && next != '"' && next != '\\' {
				return "", 0, fmt.Errorf("unsupported escape \\%c in redirect literal", next)
			}
			b.WriteByte(next)
			i += 2
		case c == quote:
			return b.String(), i + 1, nil
		default:
			b.WriteByte(c)
			i++
		}
	}
	return "", 0, fmt.Errorf("unterminated redirect literal")
}

// isInteractiveChallenge reports a hard challenge no automated path exists
// past (the interactive five-second shield).
func isInteractiveChallenge(status int, body string) bool {
	return status == 503 && strings.Contains(body, markerInteractive)
}

func isOverloaded(body string) bool {
	return strings.Contains(body, markerOverload)
}

func isRateLimited(body string) bool {
	return strings.Contains(body, markerRateLimited)
}
