// Package formatting renders an aggregated answer's source list as a
// trailing "## Sources" section, crediting sources the answer actually
// cites inline differently from ones it doesn't.
package formatting

import (
	"regexp"
	"sort"
	"strings"
)

var citationRef = regexp.MustCompile(`\[(\d{1,3})\]`)

// FormatReportWithCitations rebuilds the Sources section of an aggregated
// answer:
//  1. collects inline citation markers already present in the answer, e.g. [1], [2]
//  2. drops any existing "## Sources" section from the answer text
//  3. appends a fresh Sources section built from sourceLines (one numbered
//     line per source), marking which ones the answer actually cites inline
//
// sourceLines is expected to be lines like "[1] t1" (source id per line,
// numbered in aggregation order).
func FormatReportWithCitations(answer string, sourceLines string) string {
	s := strings.TrimSpace(answer)
	if s == "" {
		return answer
	}

	usedInline := map[int]bool{}
	for _, m := range citationRef.FindAllStringSubmatch(s, -1) {
		if n := atoi(m[1]); n > 0 {
			usedInline[n] = true
		}
	}

	// Strip any existing Sources section. Using the last occurrence avoids
	// truncating content if the answer happens to mention "## Sources"
	// earlier in its body.
	body := s
	if idx := strings.LastIndex(strings.ToLower(s), "## sources"); idx != -1 {
		body = strings.TrimSpace(s[:idx])
	}

	var rebuilt []string
	for _, ln := range strings.Split(strings.TrimSpace(sourceLines), "\n") {
		line := strings.TrimSpace(ln)
		if line == "" {
			continue
		}
		idx := 0
		if m := citationRef.FindStringSubmatch(line); len(m) == 2 {
			idx = atoi(m[1])
		}
		label := "additional source"
		if usedInline[idx] {
			label = "used inline"
		}
		rebuilt = append(rebuilt, line+" - "+label)
	}
	if len(rebuilt) == 0 {
		return body
	}

	sort.SliceStable(rebuilt, func(i, j int) bool {
		return firstCitationIndex(rebuilt[i]) < firstCitationIndex(rebuilt[j])
	})

	var b strings.Builder
	if body != "" {
		b.WriteString(strings.TrimRight(body, "\n"))
		b.WriteString("\n\n")
	}
	b.WriteString("## Sources\n")
	b.WriteString(strings.Join(rebuilt, "\n"))
	return b.String()
}

func firstCitationIndex(line string) int {
	if m := citationRef.FindStringSubmatch(line); len(m) == 2 {
		return atoi(m[1])
	}
	return 0
}

func atoi(digits string) int {
	n := 0
	for i := 0; i < len(digits); i++ {
		n = n*10 + int(digits[i]-'0')
	}
	return n
}
