package sanitize

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

// htmlPolicy strips everything except the handful of structural tags
// and href attributes htmlToPlainText itself understands, so a
// malicious script/style/event-handler payload never reaches the
// tokenizer below it — not because the tokenizer would execute it
// (it only ever emits plain text), but because whatever read the raw
// HTML gets a body that's already safe to hand to a real renderer.
var htmlPolicy = newHTMLPolicy()

func newHTMLPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements("p", "div", "br", "li", "tr", "table", "a",
		"h1", "h2", "h3", "h4", "h5", "h6", "blockquote")
	p.AllowStandardURLs()
	p.AllowAttrs("href").OnElements("a")
	p.RequireNoFollowOnLinks(false)
	return p
}

// wrapColumn is the plaintext line width spec.md §4.1 requires when
// converting an HTML-only body to text.
const wrapColumn = 80

// blockTags force a line break before and after themselves so
// paragraph/heading/list structure survives the HTML-to-text
// conversion as blank lines rather than a single run-on line.
var blockTags = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"blockquote": true, "table": true,
}

// skipTags never contribute text (style/script contents aren't
// meaningful body text).
var skipTags = map[string]bool{"script": true, "style": true, "head": true}

// htmlToPlainText walks an HTML document's tokens, stripping markup
// and applying tracking-param/redirector URL hygiene to any anchor
// hrefs it surfaces inline, then word-wraps the result at wrapColumn
// (spec.md §4.1).
func htmlToPlainText(rawHTML string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(htmlPolicy.Sanitize(rawHTML)))

	var text strings.Builder
	skipDepth := 0
	var hrefStack []string

	for {
		tt := tokenizer.Next()
		if tt == html.ErrorToken {
			break
		}

		token := tokenizer.Token()
		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken:
			if skipTags[token.Data] {
				skipDepth++
			}
			if blockTags[token.Data] {
				text.WriteString("\n")
			}
			if token.Data == "a" {
				for _, attr := range token.Attr {
					if attr.Key == "href" {
						hrefStack = append(hrefStack, CleanURL(attr.Val))
					}
				}
			}
		case html.EndTagToken:
			if skipTags[token.Data] && skipDepth > 0 {
				skipDepth--
			}
			if blockTags[token.Data] {
				text.WriteString("\n")
			}
			if token.Data == "a" && len(hrefStack) > 0 {
				href := hrefStack[len(hrefStack)-1]
				hrefStack = hrefStack[:len(hrefStack)-1]
				if href != "" {
					fmtHref := " (" + href + ")"
					text.WriteString(fmtHref)
				}
			}
		case html.TextToken:
			if skipDepth == 0 {
				text.WriteString(token.Data)
			}
		}
	}

	return wrapText(collapseWhitespace(text.String()), wrapColumn)
}

// collapseWhitespace turns runs of whitespace within a line into a
// single space while preserving the paragraph breaks htmlToPlainText
// inserted for block tags.
func collapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	for _, line := range lines {
		fields := strings.Fields(line)
		out = append(out, strings.Join(fields, " "))
	}
	// Collapse runs of 2+ blank lines down to exactly one.
	var collapsed []string
	blank := false
	for _, line := range out {
		if line == "" {
			if blank {
				continue
			}
			blank = true
		} else {
			blank = false
		}
		collapsed = append(collapsed, line)
	}
	return strings.TrimSpace(strings.Join(collapsed, "\n"))
}

// wrapText greedily wraps each paragraph to width columns.
func wrapText(s string, width int) string {
	paragraphs := strings.Split(s, "\n")
	var out []string
	for _, p := range paragraphs {
		if p == "" {
			out = append(out, "")
			continue
		}
		out = append(out, wrapLine(p, width))
	}
	return strings.Join(out, "\n")
}

func wrapLine(s string, width int) string {
	words := strings.Fields(s)
	if len(words) == 0 {
		return ""
	}

	var lines []string
	var line strings.Builder
	for _, w := range words {
		if line.Len() > 0 && line.Len()+1+len(w) > width {
			lines = append(lines, line.String())
			line.Reset()
		}
		if line.Len() > 0 {
			line.WriteByte(' ')
		}
		line.WriteString(w)
	}
	if line.Len() > 0 {
		lines = append(lines, line.String())
	}
	return strings.Join(lines, "\n")
}
