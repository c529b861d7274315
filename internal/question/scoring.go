// Package question implements batched question execution against the
// upstream provider: bounded-concurrency dispatch, confidence scoring,
// batch summaries and result export.
package question

import (
	"math"
	"strings"
)

// qualityPhrases raise the quality heuristic. Each match adds 0.1, capped at
// 0.4 in total.
var qualityPhrases = []string{
	"specific",
	"detailed",
	"according to",
	"based on",
	"document",
	"shows",
	"indicates",
	"states",
	"mentions",
	"contains",
}

// uncertaintyPhrases lower the quality heuristic. Each match subtracts 0.2
// with no floor; the final score is clamped once at the end.
var uncertaintyPhrases = []string{
	"i don't know",
	"not sure",
	"unclear",
	"cannot determine",
	"no information",
	"not specified",
	"unable to find",
}

// Score rates a provider response from 0 to 1 against the expected fragments
// and returns the fragments found, in the order they were supplied.
//
// With fragments the score is 0.7 * matched/total + 0.3 * quality. Without
// fragments it is the quality heuristic alone. An empty response scores 0.0
// and matches nothing.
func Score(response string, fragments []string) (float64, []string) {
	if strings.TrimSpace(response) == "" {
		return 0, nil
	}

	q := quality(response)
	if len(fragments) == 0 {
		return clamp01(q), nil
	}

	lower := strings.ToLower(response)
	var found []string
	for _, f := range fragments {
		if f != "" && strings.Contains(lower, strings.ToLower(f)) {
			found = append(found, f)
		}
	}
	ratio := float64(len(found)) / float64(len(fragments))

	return clamp01(0.7*ratio + 0.3*q), found
}

// quality estimates answer quality from length, sentence structure and
// indicator phrases. It can go negative; callers clamp.
func quality(response string) float64 {
	score := 0.3 * math.Min(float64(len(response))/500.0, 1)

	sentences := 0
	for _, s := range strings.Split(response, ".") {
		if strings.TrimSpace(s) != "" {
			sentences++
		}
	}
	score += 0.3 * math.Min(float64(sentences)/3.0, 1)

	lower := strings.ToLower(response)
	indicators := 0
	for _, p := range qualityPhrases {
		if strings.Contains(lower, p) {
			indicators++
		}
	}
	score += math.Min(0.1*float64(indicators), 0.4)

	for _, p := range uncertaintyPhrases {
		if strings.Contains(lower, p) {
			score -= 0.2
		}
	}
	return score
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
