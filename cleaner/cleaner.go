// Package cleaner reduces raw page HTML to a size-bounded snapshot suitable
// for model prompts, while preserving the form and grid markup that page
// classification depends on.
package cleaner

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// TruncationMarker is appended when a snapshot is cut at the size cap.
const TruncationMarker = "... [TRUNCATED]"

// noiseSelectors are removed wholesale: they carry no classification signal
// and dominate the byte count on real pages.
var noiseSelectors = []string{
	"script", "style", "link", "meta", "noscript", "iframe", "template", "svg",
}

// hiddenStylePattern matches inline styles that hide an element.
var hiddenStylePattern = regexp.MustCompile(`(?i)display\s*:\s*none|visibility\s*:\s*hidden`)

// whitespacePattern collapses runs of whitespace between tags.
var whitespacePattern = regexp.MustCompile(`\s{2,}`)

// CleanForModel strips scripts, styles, comments, and CSS-hidden elements
// from raw HTML and caps the result at maxLen characters. It never invents
// markup: every byte of the output exists in the input.
func CleanForModel(rawHTML string, maxLen int) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		// Unparseable input falls through to the regex pass below.
		return capLength(collapseWhitespace(rawHTML), maxLen)
	}

	for _, sel := range noiseSelectors {
		doc.Find(sel).Remove()
	}

	// Hidden-via-CSS elements never render, so the classifier must not see
	// them as candidates.
	doc.Find("[style]").Each(func(_ int, s *goquery.Selection) {
		if style, ok := s.Attr("style"); ok && hiddenStylePattern.MatchString(style) {
			s.Remove()
		}
	})
	doc.Find("[hidden]").Remove()

	removeComments(doc)

	out, err := doc.Html()
	if err != nil {
		return capLength(collapseWhitespace(rawHTML), maxLen)
	}

	return capLength(collapseWhitespace(out), maxLen)
}

// IsHiddenHeader reports whether a header cell is hidden at the DOM level:
// a "hidden"/"hide" class or an inline display:none / visibility:hidden.
func IsHiddenHeader(s *goquery.Selection) bool {
	if class, ok := s.Attr("class"); ok {
		for _, c := range strings.Fields(class) {
			lc := strings.ToLower(c)
			if lc == "hidden" || lc == "hide" || strings.HasSuffix(lc, "-hidden") {
				return true
			}
		}
	}
	if style, ok := s.Attr("style"); ok && hiddenStylePattern.MatchString(style) {
		return true
	}
	if _, ok := s.Attr("hidden"); ok {
		return true
	}
	return false
}

// removeComments walks the parsed tree and drops comment nodes.
func removeComments(doc *goquery.Document) {
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		child := n.FirstChild
		for child != nil {
			next := child.NextSibling
			if child.Type == html.CommentNode {
				n.RemoveChild(child)
			} else {
				walk(child)
			}
			child = next
		}
	}
	for _, root := range doc.Nodes {
		walk(root)
	}
}

func collapseWhitespace(s string) string {
	return whitespacePattern.ReplaceAllString(s, " ")
}

func capLength(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + TruncationMarker
}
