package codec

import "strings"

// SplitSentences normalises line breaks (CR, CRLF and the escaped text
// "\r\n" some loggers leave behind) and splits runs of sentences at '$'.
// Text before the first '$' on a line is returned as is so it is counted
// as a rejected line.
func SplitSentences(chunk string) []string {
	chunk = strings.ReplaceAll(chunk, `\r\n`, "\n")
	chunk = strings.ReplaceAll(chunk, "\r", "\n")

	var out []string
	for _, line := range strings.Split(chunk, "\n") {
		pieces := strings.Split(line, "$")
		if lead := strings.TrimSpace(pieces[0]); lead != "" {
			out = append(out, lead)
		}
		for _, p := range pieces[1:] {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, "$"+p)
			}
		}
	}
	return out
}
