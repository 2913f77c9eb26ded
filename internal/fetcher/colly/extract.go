package collyfetcher

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// noiseSelector matches elements whose text never belongs in a document.
const noiseSelector = "script, style, noscript, template, svg, iframe, head"

// ExtractText returns the page title and the visible text of an HTML body,
// one non-empty line per text block with runs of whitespace collapsed.
func ExtractText(body []byte) (string, string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", "", fmt.Errorf("parse html: %w", err)
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())

	doc.Find(noiseSelector).Remove()
	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}
	// Block boundaries become line breaks so the splitter can honor them.
	root.Find("p, div, li, h1, h2, h3, h4, h5, h6, tr, br, section, article").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})
	return title, collapseLines(root.Text()), nil
}

func collapseLines(text string) string {
	lines := strings.Split(text, "\n")
	out := lines[:0]
	for _, line := range lines {
		if fields := strings.Fields(line); len(fields) > 0 {
			out = append(out, strings.Join(fields, " "))
		}
	}
	return strings.Join(out, "\n")
}
