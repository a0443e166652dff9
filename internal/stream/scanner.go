package stream

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// dataPrefix marks the payload-carrying lines of the stream. Everything
// else (blank separators, event names, comments) is skipped.
const dataPrefix = "data:"

// Scanner yields the JSON payloads of data: lines from a raw byte stream.
// Input arrives as arbitrary-sized reads of UTF-8 text; the scanner buffers
// partial lines across read boundaries and only surfaces complete records.
type Scanner struct {
	r    *bufio.Reader
	done bool
}

// NewScanner wraps r for record-at-a-time consumption.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{r: bufio.NewReader(r)}
}

// Next returns the payload of the next data: line, with the prefix and one
// optional following space removed. It returns io.EOF once the transport
// has closed and all buffered records are drained; any other error is a
// transport failure.
func (s *Scanner) Next() (string, error) {
	for {
		if s.done {
			return "", io.EOF
		}

		line, err := s.r.ReadString('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return "", err
			}
			// Transport closed. A trailing line without a newline is
			// still a complete record at this point.
			s.done = true
			if line == "" {
				return "", io.EOF
			}
		}

		payload, ok := cutDataLine(line)
		if !ok {
			continue
		}
		return payload, nil
	}
}

// cutDataLine strips framing from one line, reporting whether it carries a
// payload.
func cutDataLine(line string) (string, bool) {
	line = strings.TrimRight(line, "\r\n")
	rest, ok := strings.CutPrefix(line, dataPrefix)
	if !ok {
		return "", false
	}
	rest = strings.TrimPrefix(rest, " ")
	if rest == "" {
		return "", false
	}
	return rest, true
}
