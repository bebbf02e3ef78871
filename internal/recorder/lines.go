package recorder

import "bytes"

// lineSplitter cuts a byte stream into newline-terminated raw lines,
// keeping every byte so the concatenated output is identical to the input.
type lineSplitter struct {
	partial []byte
}

// Feed returns the complete lines in p, each including its '\n'.
func (s *lineSplitter) Feed(p []byte) [][]byte {
	var lines [][]byte
	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			s.partial = append(s.partial, p...)
			break
		}
		line := make([]byte, 0, len(s.partial)+i+1)
		line = append(line, s.partial...)
		line = append(line, p[:i+1]...)
		lines = append(lines, line)
		s.partial = s.partial[:0]
		p = p[i+1:]
	}
	return lines
}

// Flush returns any trailing bytes not yet terminated by '\n'.
func (s *lineSplitter) Flush() []byte {
	if len(s.partial) == 0 {
		return nil
	}
	out := append([]byte(nil), s.partial...)
	s.partial = s.partial[:0]
	return out
}
