// Package render turns raw log text into styled segments for display.
//
// Every line is classified independently. Candidate spans from a fixed,
// ordered list of patterns are resolved left to right; a span is kept only if
// it starts at or after the end of the previously kept one. Text is never
// dropped or reordered: concatenating the segments of a line yields the line.
package render

import (
	"regexp"
	"sort"
	"strings"
)

// Style identifies how a segment is displayed.
type Style int

const (
	StylePlain Style = iota
	StyleLevel
	StyleTimestamp
	StyleNamespace
	StylePod
	StyleJSONKey
	StyleString
	StyleNumber
	StyleMatch
)

func (s Style) String() string {
	switch s {
	case StyleLevel:
		return "level"
	case StyleTimestamp:
		return "timestamp"
	case StyleNamespace:
		return "namespace"
	case StylePod:
		return "pod"
	case StyleJSONKey:
		return "json-key"
	case StyleString:
		return "string"
	case StyleNumber:
		return "number"
	case StyleMatch:
		return "match"
	default:
		return "plain"
	}
}

// Segment is a run of text sharing one style.
type Segment struct {
	Text  string
	Style Style
}

// Line is a display line. An empty source line renders as an empty Line.
type Line []Segment

// Text reassembles the original line.
func (l Line) Text() string {
	var b strings.Builder
	for _, s := range l {
		b.WriteString(s.Text)
	}
	return b.String()
}

type pattern struct {
	re    *regexp.Regexp
	style Style
	// group selects the submatch that forms the span; 0 is the whole match.
	group int
}

// Declaration order is precedence order for spans starting at the same offset.
var patterns = []pattern{
	{re: regexp.MustCompile(`(?i)\b(?:fatal|panic|error|err|warning|warn|info|debug|trace)\b`), style: StyleLevel},
	{re: regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(?:[.,]\d+)?(?:Z|[+-]\d{2}:?\d{2})?`), style: StyleTimestamp},
	{re: regexp.MustCompile(`\b\d{2}:\d{2}:\d{2}(?:\.\d+)?\b`), style: StyleTimestamp},
	{re: regexp.MustCompile(`\bnamespace=[^\s,;]+`), style: StyleNamespace},
	{re: regexp.MustCompile(`\bpod=[^\s,;]+`), style: StylePod},
	{re: regexp.MustCompile(`("(?:[^"\\]|\\.)*")\s*:`), style: StyleJSONKey, group: 1},
	{re: regexp.MustCompile(`"(?:[^"\\]|\\.)*"`), style: StyleString},
	{re: regexp.MustCompile(`\b\d+(?:\.\d+)?\b`), style: StyleNumber},
}

type span struct {
	start, end int
	style      Style
}

// Render splits text on newlines and styles each line. When searchTerm is not
// empty, case-insensitive matches inside plain segments are marked StyleMatch.
func Render(text, searchTerm string) []Line {
	var search *regexp.Regexp
	if searchTerm != "" {
		search = regexp.MustCompile(`(?i)` + regexp.QuoteMeta(searchTerm))
	}
	raw := strings.Split(text, "\n")
	lines := make([]Line, 0, len(raw))
	for _, l := range raw {
		line := RenderLine(l)
		if search != nil {
			line = highlight(line, search)
		}
		lines = append(lines, line)
	}
	return lines
}

// RenderLine classifies a single line without search highlighting.
func RenderLine(line string) Line {
	if line == "" {
		return Line{}
	}
	var candidates []span
	for _, p := range patterns {
		for _, m := range p.re.FindAllStringSubmatchIndex(line, -1) {
			start, end := m[2*p.group], m[2*p.group+1]
			if start < 0 || start == end {
				continue
			}
			candidates = append(candidates, span{start: start, end: end, style: p.style})
		}
	}
	// stable: ties on start keep declaration order
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].start < candidates[j].start })

	out := Line{}
	pos := 0
	for _, c := range candidates {
		if c.start < pos {
			continue
		}
		if c.start > pos {
			out = append(out, Segment{Text: line[pos:c.start], Style: StylePlain})
		}
		out = append(out, Segment{Text: line[c.start:c.end], Style: c.style})
		pos = c.end
	}
	if pos < len(line) {
		out = append(out, Segment{Text: line[pos:], Style: StylePlain})
	}
	return out
}

// highlight only touches plain segments; classified spans are left as they are.
func highlight(line Line, search *regexp.Regexp) Line {
	out := make(Line, 0, len(line))
	for _, seg := range line {
		if seg.Style != StylePlain {
			out = append(out, seg)
			continue
		}
		pos := 0
		for _, m := range search.FindAllStringIndex(seg.Text, -1) {
			if m[0] > pos {
				out = append(out, Segment{Text: seg.Text[pos:m[0]], Style: StylePlain})
			}
			out = append(out, Segment{Text: seg.Text[m[0]:m[1]], Style: StyleMatch})
			pos = m[1]
		}
		if pos < len(seg.Text) {
			out = append(out, Segment{Text: seg.Text[pos:], Style: StylePlain})
		}
	}
	return out
}
