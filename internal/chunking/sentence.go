package chunking

import (
	"regexp"
	"strings"
)

// sentencePattern matches a run of text up to and including a terminal
// punctuation mark, Latin or CJK or Arabic, plus trailing whitespace.
var sentencePattern = regexp.MustCompile(`[^.!?。！？؟]+[.!?。！？؟]+\s*`)

// splitSentences segments text into sentences. Sentences longer than
// maxChunkSize are split on whitespace into segments of at most
// min(200, maxChunkSize/4) bytes. When the text carries no sentence
// terminators at all, newline groups are used instead.
func splitSentences(text string, maxChunkSize int) []string {
	locs := sentencePattern.FindAllStringIndex(text, -1)
	var raw []string
	if len(locs) == 0 {
		for _, line := range strings.Split(text, "\n") {
			if line = strings.TrimSpace(line); line != "" {
				raw = append(raw, line)
			}
		}
	} else {
		for _, loc := range locs {
			raw = append(raw, text[loc[0]:loc[1]])
		}
		if tail := text[locs[len(locs)-1][1]:]; strings.TrimSpace(tail) != "" {
			// trailing text without a terminator
			raw = append(raw, tail)
		}
	}

	segLimit := maxChunkSize / 4
	if segLimit > 200 {
		segLimit = 200
	}
	if segLimit <= 0 {
		segLimit = 200
	}

	var out []string
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if len(s) <= maxChunkSize {
			out = append(out, s)
			continue
		}
		out = append(out, splitByWhitespace(s, segLimit)...)
	}
	return out
}

// splitByWhitespace greedily packs words into segments of at most limit
// bytes. A single word longer than limit is hard-cut.
func splitByWhitespace(s string, limit int) []string {
	var out []string
	var cur strings.Builder
	for _, w := range strings.Fields(s) {
		for len(w) > limit {
			if cur.Len() > 0 {
				out = append(out, cur.String())
				cur.Reset()
			}
			out = append(out, w[:limit])
			w = w[limit:]
		}
		if cur.Len() > 0 && cur.Len()+1+len(w) > limit {
			out = append(out, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(w)
	}
	if cur.Len() > 0 {
		out = append(out, cur.String())
	}
	return out
}
