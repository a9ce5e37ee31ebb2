// Package textclean turns courseware HTML into plain text for prompts,
// node names and embedding input.
package textclean

import (
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
)

// nonContent lists elements whose text is never part of the lesson body.
var nonContent = "script, style, noscript, iframe, svg"

// Clean extracts the visible text of an HTML fragment and collapses
// whitespace. Input that fails to parse is returned whitespace-collapsed.
func Clean(html string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return collapse(html)
	}
	doc.Find(nonContent).Remove()
	return collapse(doc.Text())
}

// Truncate cuts s to at most max runes, keeping whole runes.
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
