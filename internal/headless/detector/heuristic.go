// Package detector decides when a statically fetched page must be rendered
// in a headless browser before its text is ingested.
package detector

import (
	"bytes"
	"net/http"
	"strings"
	"unicode/utf8"
)

const (
	defaultBodyThreshold = 2048
	defaultMinTextRunes  = 40
)

// Heuristic flags pages that look like client-rendered shells.
type Heuristic struct {
	// BodyLengthThreshold is the body size under which heavy script content
	// marks a page as a shell.
	BodyLengthThreshold int
	// MinTextRunes is the least extracted text a page needs to be trusted.
	MinTextRunes int
}

// NewHeuristic creates a new detector. Zero values select defaults.
func NewHeuristic(bodyThreshold, minTextRunes int) *Heuristic {
	if bodyThreshold <= 0 {
		bodyThreshold = defaultBodyThreshold
	}
	if minTextRunes <= 0 {
		minTextRunes = defaultMinTextRunes
	}
	return &Heuristic{BodyLengthThreshold: bodyThreshold, MinTextRunes: minTextRunes}
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte("id=\"root\""),
	[]byte("id=\"app\""),
	[]byte("data-reactroot"),
}

// ShouldRender reports whether a page fetched with status and body, whose
// extracted text is text, needs a headless render. Only successful responses
// qualify. A page with an SPA mount point qualifies only when its text is thin.
func (h *Heuristic) ShouldRender(status int, body []byte, text string) bool {
	if status != http.StatusOK {
		return false
	}
	if len(body) == 0 {
		return true
	}
	thin := utf8.RuneCountInString(strings.TrimSpace(text)) < h.MinTextRunes
	if !thin {
		return false
	}
	if len(body) < h.BodyLengthThreshold && scriptDensityHigh(body) {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return strings.TrimSpace(text) == ""
}

func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	scriptCoverage := 0
	searchPos := 0

	for {
		relativeStart := strings.Index(lower[searchPos:], openTag)
		if relativeStart == -1 {
			break
		}
		start := searchPos + relativeStart

		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			// Treat the rest of the document as part of the malformed script.
			scriptCoverage += total - start
			break
		}
		contentStart := start + tagClose + 1

		relativeEnd := strings.Index(lower[contentStart:], closeTag)
		var nextSearch int
		if relativeEnd == -1 {
			// Script tag never closes; count the rest.
			nextSearch = total
		} else {
			nextSearch = contentStart + relativeEnd + len(closeTag)
		}

		scriptCoverage += nextSearch - start
		searchPos = nextSearch
	}

	if scriptCoverage == 0 {
		return false
	}
	return scriptCoverage*100/total >= 25
}
