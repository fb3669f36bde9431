package feedparse

import (
	"strings"

	"golang.org/x/net/html"
)

// blockTags are elements whose close (or occurrence, for br/hr) implies a
// line break in the extracted text.
var blockTags = map[string]bool{
	"p": true, "div": true, "li": true, "ul": true, "ol": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"tr": true, "table": true, "blockquote": true, "pre": true,
	"section": true, "article": true, "header": true, "footer": true,
}

// StripHTML extracts readable text from HTML fragments. Script and style
// blocks are removed outright, block-level closing tags and line breaks
// become newlines, character entities are decoded, and whitespace is
// collapsed. Input without any markup passes through with entities
// decoded.
func StripHTML(s string) string {
	if !strings.ContainsRune(s, '<') {
		return collapseWhitespace(html.UnescapeString(s))
	}

	var (
		b    strings.Builder
		skip string // inside <script> or <style> until this tag closes
	)

	tok := html.NewTokenizer(strings.NewReader(s))
	for {
		tt := tok.Next()
		if tt == html.ErrorToken {
			break
		}

		switch tt {
		case html.TextToken:
			if skip == "" {
				b.Write(tok.Text())
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := tok.TagName()
			tag := string(name)
			if skip == "" && (tag == "script" || tag == "style") && tt == html.StartTagToken {
				skip = tag
				continue
			}
			if skip == "" && (tag == "br" || tag == "hr") {
				b.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := tok.TagName()
			tag := string(name)
			if skip != "" {
				if tag == skip {
					skip = ""
				}
				continue
			}
			if blockTags[tag] {
				b.WriteByte('\n')
			}
		}
	}

	return collapseWhitespace(b.String())
}

// collapseWhitespace squeezes runs of spaces and tabs, trims line edges
// and limits consecutive blank lines to one.
func collapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			blank = true
			continue
		}
		if blank && len(out) > 0 {
			out = append(out, "")
		}
		blank = false
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}
