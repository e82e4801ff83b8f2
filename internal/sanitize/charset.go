package sanitize

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html/charset"
	"golang.org/x/text/encoding/htmlindex"
)

// decodeCharset converts content from declared to UTF-8, falling back
// to auto-detection when the declared charset is empty, already UTF-8
// but invalid, or unrecognized (spec.md §4.1: sanitize never fails).
func decodeCharset(content []byte, declared string) string {
	if declared == "" || strings.EqualFold(declared, "utf-8") || strings.EqualFold(declared, "us-ascii") {
		if utf8.Valid(content) {
			return string(content)
		}
		enc, _, _ := charset.DetermineEncoding(content, "text/html")
		if decoded, err := enc.NewDecoder().Bytes(content); err == nil {
			return string(decoded)
		}
		return string(content)
	}

	enc, err := htmlindex.Get(declared)
	if err != nil {
		if alias, ok := charsetAliases[strings.ToLower(declared)]; ok {
			enc, err = htmlindex.Get(alias)
		}
		if err != nil {
			enc, _, _ = charset.DetermineEncoding(content, "text/html")
		}
	}
	decoded, err := enc.NewDecoder().Bytes(content)
	if err != nil {
		return string(content)
	}
	return string(decoded)
}

var charsetAliases = map[string]string{
	"gb2312": "gbk",
	"x-gbk":  "gbk",
	"x-big5": "big5",
}

// extractCharsetFromHTML looks for charset in a <meta> tag when the
// MIME Content-Type header omitted one.
func extractCharsetFromHTML(html []byte) string {
	search := html
	if len(search) > 1024 {
		search = search[:1024]
	}
	if i := strings.Index(strings.ToLower(string(search)), "charset="); i != -1 {
		rest := search[i+len("charset="):]
		rest = trimQuotes(rest)
		end := 0
		for end < len(rest) && rest[end] != '"' && rest[end] != '\'' && rest[end] != ' ' && rest[end] != '>' && rest[end] != ';' {
			end++
		}
		return string(rest[:end])
	}
	return ""
}

func trimQuotes(b []byte) []byte {
	for len(b) > 0 && (b[0] == '"' || b[0] == '\'') {
		b = b[1:]
	}
	return b
}
