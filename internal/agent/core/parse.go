package core

import (
	"regexp"
	"strconv"
	"strings"
)

// Stages prompt the model for numbered answers like
//
//	1. intent = {law_search}
//	2. search keywords = {임대차, 보증금}
//	3(option). = {어떤 계약인지 알려주세요}
//
// numberedItem matches one such line; optional items carry the "(option)"
// marker and may be absent entirely.
var numberedItem = regexp.MustCompile(`(?m)^\s*(\d+)\s*(?:\(\s*option\s*\))?\s*\.\s*(?:[^=\n{]*=)?\s*\{([^}]*)\}`)

// parseNumbered extracts item number to braced value.
func parseNumbered(raw string) map[int]string {
	out := make(map[int]string)
	for _, m := range numberedItem.FindAllStringSubmatch(raw, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if _, ok := out[n]; !ok {
			out[n] = strings.TrimSpace(m[2])
		}
	}
	return out
}

// splitList splits a braced comma list into trimmed non-empty items.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// capList truncates a list to at most n items.
func capList(items []string, n int) []string {
	if len(items) > n {
		return items[:n]
	}
	return items
}

// parseConfidence scores how much of the expected structure the model
// produced: everything parsed 0.9, some of it 0.6, none 0.3.
func parseConfidence(got, want int) float64 {
	switch {
	case want > 0 && got >= want:
		return 0.9
	case got > 0:
		return 0.6
	default:
		return 0.3
	}
}

// parseFloat01 reads a float and clamps it into [0, 1].
func parseFloat01(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	if f < 0 {
		f = 0
	}
	if f > 1 {
		f = 1
	}
	return f, true
}

// parseYes reads a yes/no style answer, in English or Korean.
func parseYes(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "y", "true", "valid", "예", "네":
		return true
	}
	return false
}
