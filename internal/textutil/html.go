package textutil

import (
	"html"
	"regexp"
)

var (
	scriptOrStyle = regexp.MustCompile(`(?is)<(script|style|noscript|template)[^>]*>.*?</(script|style|noscript|template)>`)
	blockTag      = regexp.MustCompile(`(?i)</?(p|div|br|li|ul|ol|h[1-6]|tr|table|section|article|header|footer|blockquote)[^>]*>`)
	anyTag        = regexp.MustCompile(`(?s)<[^>]+>`)
	spaces        = regexp.MustCompile(`[ \t\f\v]+`)
)

// HTMLToText strips tags from an HTML document keeping block boundaries as
// line breaks
func HTMLToText(src string) string {
	s := scriptOrStyle.ReplaceAllString(src, "")
	s = blockTag.ReplaceAllString(s, "\n")
	s = anyTag.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	s = spaces.ReplaceAllString(s, " ")
	return tidy(s)
}
