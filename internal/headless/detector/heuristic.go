// Package detector decides when a homepage fetch should be re-rendered in a
// headless browser.
package detector

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/JakeFAU/turmoilwatch/internal/watch"
)

const (
	defaultBodyThreshold = 2048
	defaultMinAnchors    = 20
)

// Heuristic implements a handful of rule-based promotions.
type Heuristic struct {
	BodyLengthThreshold int
	// MinAnchors is the anchor count below which a page is considered thin.
	MinAnchors int
}

// NewHeuristic creates a new detector. Zero values select the defaults.
func NewHeuristic(threshold, minAnchors int) *Heuristic {
	if threshold <= 0 {
		threshold = defaultBodyThreshold
	}
	if minAnchors <= 0 {
		minAnchors = defaultMinAnchors
	}
	return &Heuristic{BodyLengthThreshold: threshold, MinAnchors: minAnchors}
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte("id=\"root\""),
	[]byte("id=\"app\""),
	[]byte("data-reactroot"),
}

// ShouldPromote decides whether a headless fetch is required.
func (h *Heuristic) ShouldPromote(resp watch.FetchResponse) bool {
	if resp.StatusCode != http.StatusOK {
		return false
	}
	body := resp.Body
	if len(body) == 0 {
		return true
	}
	anchors := CountAnchors(body)
	if anchors < h.MinAnchors {
		return true
	}
	if len(body) < h.BodyLengthThreshold && scriptDensityHigh(body) {
		return true
	}
	// Server-rendered SPA shells still carry navigation links; only promote
	// when the shell looks sparse relative to a real homepage.
	if anchors < h.MinAnchors*3 {
		for _, marker := range spaMarkers {
			if bytes.Contains(body, marker) {
				return true
			}
		}
	}
	return false
}

// CountAnchors returns a rough count of opening anchor tags in body.
func CountAnchors(body []byte) int {
	lower := bytes.ToLower(body)
	return bytes.Count(lower, []byte("<a ")) + bytes.Count(lower, []byte("<a>"))
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
			// Malformed tag; the rest of the document counts as script.
			scriptCoverage += total - start
			break
		}
		contentStart := start + tagClose + 1

		relativeEnd := strings.Index(lower[contentStart:], closeTag)
		nextSearch := total
		if relativeEnd != -1 {
			nextSearch = contentStart + relativeEnd + len(closeTag)
		}

		scriptCoverage += nextSearch - start
		searchPos = nextSearch
	}

	return scriptCoverage*100/total >= 25
}
