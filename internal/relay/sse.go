package relay

import (
	"bytes"
	"strings"
)

// sniffBytes bounds how much of a chunk is scanned for event names.
const sniffBytes = 512

// EventNames returns the SSE event names found on `event:` lines in the first
// 512 bytes of chunk. A line cut off by the window is still reported.
func EventNames(chunk []byte) []string {
	if len(chunk) > sniffBytes {
		chunk = chunk[:sniffBytes]
	}
	var names []string
	for len(chunk) > 0 {
		line := chunk
		if i := bytes.IndexByte(chunk, '\n'); i >= 0 {
			line, chunk = chunk[:i], chunk[i+1:]
		} else {
			chunk = nil
		}
		rest, ok := bytes.CutPrefix(line, []byte("event:"))
		if !ok {
			continue
		}
		names = append(names, strings.TrimSpace(string(rest)))
	}
	return names
}

// EventLabel formats EventNames for a log line, "(data)" when the chunk
// carries no event line.
func EventLabel(chunk []byte) string {
	names := EventNames(chunk)
	if len(names) == 0 {
		return "(data)"
	}
	return strings.Join(names, ",")
}
