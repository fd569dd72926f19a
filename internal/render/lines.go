package render

import "strings"

// Splitter cuts a stream of chunks into complete lines. Chunks need not end
// on a line boundary.
type Splitter struct {
	pending string
}

// Push returns the lines chunk completes, without their newlines.
func (s *Splitter) Push(chunk string) []string {
	text := s.pending + chunk
	i := strings.LastIndexByte(text, '\n')
	if i < 0 {
		s.pending = text
		return nil
	}
	s.pending = text[i+1:]
	return strings.Split(text[:i], "\n")
}

// Flush returns the unterminated rest of the stream, if any.
func (s *Splitter) Flush() (string, bool) {
	rest := s.pending
	s.pending = ""
	return rest, rest != ""
}
