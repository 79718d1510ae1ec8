package stream

import (
	"bufio"
	"io"
	"strings"
)

// MaxBufferBytes bounds the bytes buffered while reassembling one SSE
// frame (counted from the end of the previous frame), capped at 10 MiB.
// Exceeding it terminates the stream with ErrBufferOverflow.
const MaxBufferBytes = 10 * 1024 * 1024

// frame is one parsed SSE event: the concatenation of its "data:" lines,
// joined with newlines, per the SSE framing standard.
type frame struct {
	data []byte
}

// sseScanner reads an io.Reader byte stream and yields frames, tracking the
// bytes read since the last emitted frame against MaxBufferBytes.
type sseScanner struct {
	scanner  *bufio.Scanner
	read     int
	overflow bool
}

func newSSEScanner(r io.Reader) *sseScanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), MaxBufferBytes)
	return &sseScanner{scanner: sc}
}

// next returns the next frame, or ok=false when the stream ends (EOF) or the
// buffer cap was exceeded (check Overflow()).
func (s *sseScanner) next() (frame, bool) {
	var lines []string
	for s.scanner.Scan() {
		line := s.scanner.Text()
		s.read += len(line) + 1
		if s.read > MaxBufferBytes {
			s.overflow = true
			return frame{}, false
		}
		if line == "" {
			if len(lines) == 0 {
				continue // skip blank separators between events
			}
			s.read = 0
			return frame{data: []byte(strings.Join(lines, "\n"))}, true
		}
		if strings.HasPrefix(line, ":") {
			continue // comment line
		}
		if data, ok := strings.CutPrefix(line, "data:"); ok {
			lines = append(lines, strings.TrimPrefix(data, " "))
		}
		// Non-"data:" fields (event:, id:, retry:) are ignored; the model
		// providers this module talks to only use the data field.
	}
	if s.scanner.Err() == bufio.ErrTooLong {
		s.overflow = true
		return frame{}, false
	}
	if len(lines) > 0 {
		return frame{data: []byte(strings.Join(lines, "\n"))}, true
	}
	return frame{}, false
}

// Overflow reports whether the scanner stopped because MaxBufferBytes was
// exceeded, as opposed to a clean EOF.
func (s *sseScanner) Overflow() bool { return s.overflow }
