// ABOUTME: Converts knowledge article HTML into bounded plain text.
// ABOUTME: Handles raw string fields and ServiceNow {value, display_value} objects.

package sanitize

import (
	"bytes"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// Field length limits, in characters.
const (
	TextLimit        = 1000
	DescriptionLimit = 500
)

// Ellipsis is appended to truncated values.
const Ellipsis = "..."

// articleLimits maps the article fields that may carry HTML to their limits.
var articleLimits = map[string]int{
	"text":              TextLimit,
	"short_description": DescriptionLimit,
	"meta_description":  DescriptionLimit,
	"description":       DescriptionLimit,
}

// Text decodes entities, drops markup, collapses whitespace and removes
// control characters.
func Text(s string) string {
	if s == "" {
		return ""
	}
	s = stripTags(html.UnescapeString(s))
	s = strings.Join(strings.Fields(s), " ")
	return strings.Map(func(r rune) rune {
		if isControl(r) {
			return -1
		}
		return r
	}, s)
}

// stripTags keeps only the text tokens of s. Raw bytes are used so entities
// decoded by the caller are not decoded twice. Markup is dropped only when
// it is closed by '>'; an unterminated tag or comment stays as text.
func stripTags(s string) string {
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	b.Grow(len(s))
	for {
		switch z.Next() {
		case html.ErrorToken:
			// a tag cut off by the end of input
			if z.Err() == io.EOF {
				b.Write(z.Raw())
			}
			return b.String()
		case html.TextToken:
			b.Write(z.Raw())
		default:
			if raw := z.Raw(); !bytes.HasSuffix(raw, []byte(">")) {
				b.Write(raw)
			}
		}
	}
}

func isControl(r rune) bool {
	return r <= 0x1f || (r >= 0x7f && r <= 0x9f)
}

// Truncate shortens s to at most limit characters followed by Ellipsis.
func Truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	n := 0
	for i := range s {
		if n == limit {
			return s[:i] + Ellipsis
		}
		n++
	}
	return s
}

// Field sanitizes s and truncates it to limit.
func Field(s string, limit int) string {
	return Truncate(Text(s), limit)
}

// Article returns a copy of a kb_knowledge record with its HTML-bearing
// fields cleaned. Object fields get both value and display_value replaced
// with the cleaned value. Empty values are left as they are.
func Article(record map[string]any) map[string]any {
	if record == nil {
		return nil
	}
	out := make(map[string]any, len(record))
	for k, v := range record {
		out[k] = v
	}
	for name, limit := range articleLimits {
		switch v := out[name].(type) {
		case string:
			if v != "" {
				out[name] = Field(v, limit)
			}
		case map[string]any:
			raw, _ := v["value"].(string)
			if raw == "" {
				continue
			}
			clean := Field(raw, limit)
			obj := make(map[string]any, len(v))
			for k, x := range v {
				obj[k] = x
			}
			obj["value"] = clean
			obj["display_value"] = clean
			out[name] = obj
		}
	}
	return out
}

// Articles applies Article to each record.
func Articles(records []map[string]any) []map[string]any {
	out := make([]map[string]any, len(records))
	for i, r := range records {
		out[i] = Article(r)
	}
	return out
}
