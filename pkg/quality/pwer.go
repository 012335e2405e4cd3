// Package quality estimates transcript word error (PWER) and decides whether
// an ASR output needs manual screening before entering the pipeline.
package quality

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"scribeworks/pkg/domain"
)

// timestampSpeakerPattern matches the "0:00:05 S1:" style prefixes that ASR
// transcripts carry on each line and plain text does not.
var timestampSpeakerPattern = regexp.MustCompile(`(?m)^\s*\d{1,2}:\d{2}(?::\d{2})?(?:\.\d+)?\s+[^:\n]{0,40}:\s*`)

var punctuationPattern = regexp.MustCompile("[.,/#!$%^&*;:{}=\\-_`~()?'\"]")

// Gate holds the configured thresholds. Immutable after construction.
type Gate struct {
	pwerThreshold          float64
	lowConfidenceThreshold float64
}

// NewGate constructs a quality gate.
func NewGate(pwerThreshold, lowConfidenceThreshold float64) *Gate {
	return &Gate{
		pwerThreshold:          pwerThreshold,
		lowConfidenceThreshold: lowConfidenceThreshold,
	}
}

// PWERFromConfidence estimates word error as the share of words whose ASR
// confidence falls below the configured threshold.
func (g *Gate) PWERFromConfidence(words []domain.WordConfidence) float64 {
	low := 0
	for _, w := range words {
		if w.Confidence < g.lowConfidenceThreshold {
			low++
		}
	}
	return round2(float64(low) / float64(max(len(words), 1)))
}

// PWERFromDiff estimates word error from a token diff between the reference
// (ASR) transcript and a candidate variant. An adjacent delete+insert pair
// counts min(len) tokens as substitutions and the length delta as pure
// deletions or insertions.
func PWERFromDiff(reference, candidate string) float64 {
	refTokens := tokenize(normalize(reference, true))
	candTokens := tokenize(normalize(candidate, false))

	edits := diffTokens(refTokens, candTokens)

	insertions, deletions, substitutions := 0, 0, 0
	for i := 0; i < len(edits); i++ {
		switch edits[i].op {
		case opDelete:
			if i+1 < len(edits) && edits[i+1].op == opInsert {
				deleted := len(edits[i].tokens)
				inserted := len(edits[i+1].tokens)
				substitutions += min(deleted, inserted)
				if deleted > inserted {
					deletions += deleted - inserted
				} else {
					insertions += inserted - deleted
				}
				i++
				continue
			}
			deletions += len(edits[i].tokens)
		case opInsert:
			insertions += len(edits[i].tokens)
		}
	}

	total := insertions + deletions + substitutions
	return round2(float64(total) / float64(max(len(refTokens), 1)))
}

// RequiresManualScreening reports whether a PWER value trips the gate, with
// a reason suitable for the screening queue.
func (g *Gate) RequiresManualScreening(pwer float64) (bool, string) {
	if pwer > g.pwerThreshold {
		return true, fmt.Sprintf("PWER %.2f is above the acceptable threshold of %.2f", pwer, g.pwerThreshold)
	}
	return false, ""
}

func normalize(text string, stripTimestamps bool) string {
	if stripTimestamps {
		text = timestampSpeakerPattern.ReplaceAllString(text, "")
	}
	text = strings.ToLower(text)
	text = punctuationPattern.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "\n", " ")
	return strings.Join(strings.Fields(text), " ")
}

func tokenize(text string) []string {
	if text == "" {
		return nil
	}
	return strings.Fields(text)
}

type editOp int

const (
	opEqual editOp = iota
	opDelete
	opInsert
)

type edit struct {
	op     editOp
	tokens []string
}

// diffTokens computes a token-level diff as runs of equal/delete/insert,
// using a longest-common-subsequence alignment.
func diffTokens(a, b []string) []edit {
	n, m := len(a), len(b)
	lcs := make([][]int, n+1)
	for i := range lcs {
		lcs[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if a[i] == b[j] {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else if lcs[i+1][j] >= lcs[i][j+1] {
				lcs[i][j] = lcs[i+1][j]
			} else {
				lcs[i][j] = lcs[i][j+1]
			}
		}
	}

	var edits []edit
	appendRun := func(op editOp, token string) {
		if len(edits) > 0 && edits[len(edits)-1].op == op {
			edits[len(edits)-1].tokens = append(edits[len(edits)-1].tokens, token)
			return
		}
		edits = append(edits, edit{op: op, tokens: []string{token}})
	}

	i, j := 0, 0
	for i < n && j < m {
		switch {
		case a[i] == b[j]:
			appendRun(opEqual, a[i])
			i++
			j++
		case lcs[i+1][j] >= lcs[i][j+1]:
			appendRun(opDelete, a[i])
			i++
		default:
			appendRun(opInsert, b[j])
			j++
		}
	}
	for ; i < n; i++ {
		appendRun(opDelete, a[i])
	}
	for ; j < m; j++ {
		appendRun(opInsert, b[j])
	}
	return edits
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
