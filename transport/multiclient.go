package transport

import (
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/c360/semstreams-mtconnect/errors"
	"github.com/c360/semstreams-mtconnect/shdr"
)

var errSendFailed = errors.New("send failed")

// WriteLine writes text to every registered connection concurrently. Text
// is split on CR and LF into protocol lines; empty lines outside multiline
// document bodies are dropped.
//
// It returns true only if every connection accepted every line, which is
// vacuously the case with no connections. A failing connection does not
// stop delivery to the others and is not removed.
func (s *Server) WriteLine(text string) bool {
	lines, payload := encodeLines(text)
	if len(lines) == 0 {
		return true
	}

	var g errgroup.Group
	for _, c := range s.conns.snapshot() {
		g.Go(func() error {
			c.writeMu.Lock()
			defer c.writeMu.Unlock()
			if !c.deliverLocked(lines, payload) {
				return errSendFailed
			}
			return nil
		})
	}
	return g.Wait() == nil
}

// WriteLines writes each element of lines with WriteLine semantics as one
// payload per connection.
func (s *Server) WriteLines(lines []string) bool {
	return s.WriteLine(strings.Join(lines, "\n"))
}

// encodeLines splits text into protocol lines and renders the wire
// payload: ASCII only, each line terminated by "\n". Empty lines are
// dropped except inside a --multiline-- document body, which is sent as
// rendered.
func encodeLines(text string) ([]string, []byte) {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var lines []string
	boundary := ""
	for _, l := range strings.Split(strings.TrimSuffix(text, "\n"), "\n") {
		switch {
		case boundary != "":
			if l == boundary {
				boundary = ""
			}
		case l == "":
			continue
		default:
			if i := strings.LastIndex(l, shdr.MultilinePrefix); i >= 0 {
				boundary = l[i:]
			}
		}
		lines = append(lines, l)
	}
	if len(lines) == 0 {
		return nil, nil
	}

	size := len(lines)
	for _, l := range lines {
		size += len(l)
	}

	payload := make([]byte, 0, size)
	for i, l := range lines {
		ascii := toASCII(l)
		lines[i] = ascii
		payload = append(payload, ascii...)
		payload = append(payload, '\n')
	}
	return lines, payload
}

// toASCII replaces every non-ASCII rune with '?'.
func toASCII(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return strings.Map(func(r rune) rune {
				if r >= 0x80 {
					return '?'
				}
				return r
			}, s)
		}
	}
	return s
}
