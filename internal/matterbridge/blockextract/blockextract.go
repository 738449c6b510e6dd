// Package blockextract pulls balanced "Identifier = { ... }" blocks out of
// cleaned chip-tool log text, one per top-level brace group.
package blockextract

import (
	"regexp"
	"strings"
)

var trailingKey = regexp.MustCompile(`(\w+)\s*=\s*$`)

// Extract scans text for top-level "{...}" groups and returns each one
// together with the identifier immediately preceding its opening brace
// (e.g. "Endpoint = { ... }"), matching braces by depth so nested blocks are
// captured whole rather than split.
//
// A '{' that is not already inside an open block starts a new block if the
// text immediately before it ends with "identifier =" (the preceding text
// is searched backward for the identifier's last occurrence, so the
// returned block always starts at the identifier, not at the brace). A '{'
// encountered without a recognizable leading identifier still opens a block
// so malformed or partial streams remain best-effort recoverable; such a
// block is silently dropped if no identifier was found, exactly as the
// cleaner would have discarded it.
func Extract(text string) []string {
	var blocks []string
	var stack int
	var current strings.Builder
	recording := false

	for i, ch := range text {
		switch ch {
		case '{':
			if stack == 0 {
				if key, start := findLeadingKey(text, i); key != "" {
					current.Reset()
					current.WriteString(text[start:i])
					recording = true
				}
			}
			stack++
			if recording {
				current.WriteByte('{')
			}
		case '}':
			stack--
			if stack < 0 {
				stack = 0
				continue
			}
			if recording {
				current.WriteByte('}')
			}
			if stack == 0 && recording {
				blocks = append(blocks, strings.TrimSpace(current.String()))
				current.Reset()
				recording = false
			}
		default:
			if recording {
				current.WriteRune(ch)
			}
		}
	}
	return blocks
}

// findLeadingKey looks backward from offset i in text for "identifier ="
// on the most recent line, returning the identifier and the byte offset of
// its first character so the caller can slice text[start:i] to capture the
// "identifier = " prefix verbatim.
func findLeadingKey(text string, i int) (key string, start int) {
	prefix := strings.TrimRight(text[:i], " \t")
	lines := strings.Split(strings.TrimSpace(prefix), "\n")
	if len(lines) == 0 {
		return "", 0
	}
	lastLine := lines[len(lines)-1]
	m := trailingKey.FindStringSubmatch(lastLine)
	if m == nil {
		return "", 0
	}
	key = m[1]
	idx := strings.LastIndex(text[:i], key)
	if idx < 0 {
		return "", 0
	}
	return key, idx
}
