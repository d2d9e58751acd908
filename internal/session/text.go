package session

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"unicode"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// decodeBody converts a raw response body to UTF-8 using the profile's
// declared encoding, sniffing the page when none is declared.
func decodeBody(body []byte, declared string) (string, error) {
	if len(body) == 0 {
		return "", nil
	}
	name := strings.ToLower(strings.TrimSpace(declared))
	if name == "" {
		enc, _, _ := charset.DetermineEncoding(peek(body), "")
		decoded, err := io.ReadAll(transform.NewReader(bytes.NewReader(body), enc.NewDecoder()))
		if err != nil {
			return "", fmt.Errorf("decode sniffed charset: %w", err)
		}
		return string(decoded), nil
	}
	if name == "utf-8" || name == "utf8" {
		return string(body), nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return "", fmt.Errorf("unknown encoding %q: %w", declared, err)
	}
	decoded, err := io.ReadAll(transform.NewReader(bytes.NewReader(body), enc.NewDecoder()))
	if err != nil {
		return "", fmt.Errorf("decode %s body: %w", declared, err)
	}
	return string(decoded), nil
}

func peek(body []byte) []byte {
	if len(body) > 1024 {
		return body[:1024]
	}
	return body
}

// emojiRanges covers the glyph blocks sites sprinkle into torrent titles.
var emojiRanges = &unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x2190, Hi: 0x21FF, Stride: 1}, // arrows
		{Lo: 0x2600, Hi: 0x27BF, Stride: 1}, // misc symbols, dingbats
		{Lo: 0x2B00, Hi: 0x2BFF, Stride: 1}, // misc symbols and arrows
		{Lo: 0xFE00, Hi: 0xFE0F, Stride: 1}, // variation selectors
	},
	R32: []unicode.Range32{
		{Lo: 0x1F000, Hi: 0x1FAFF, Stride: 1}, // emoji planes
	},
}

// stripEmoji removes emoji glyphs so they never reach selectors or the
// extracted field values.
func stripEmoji(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.Is(emojiRanges, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
