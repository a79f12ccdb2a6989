package ocr

import (
	"bytes"
	"strings"
)

const doneSentinel = "[DONE]"

type sseState int

const (
	// awaitingFrame: the buffer is empty, the next byte starts a line.
	awaitingFrame sseState = iota
	// accumulatingPartialLine: a line has started but its newline has
	// not arrived yet; the fragment stays buffered.
	accumulatingPartialLine
	// sseDone: the [DONE] sentinel was seen, the stream is over.
	sseDone
)

// sseParser assembles server-sent-event data payloads from an
// arbitrarily chunked byte stream. Lines without a "data:" prefix and
// empty separator lines are ignored; "data: [DONE]" terminates the
// stream.
type sseParser struct {
	state sseState
	buf   []byte
}

// Feed appends chunk and returns the data payloads of every frame
// completed so far. Once Done reports true, Feed returns nothing.
func (p *sseParser) Feed(chunk []byte) []string {
	if p.state == sseDone {
		return nil
	}
	p.buf = append(p.buf, chunk...)

	var payloads []string
	for {
		idx := bytes.IndexByte(p.buf, '\n')
		if idx < 0 {
			if len(p.buf) > 0 {
				p.state = accumulatingPartialLine
			} else {
				p.state = awaitingFrame
			}
			return payloads
		}

		line := strings.TrimRight(string(p.buf[:idx]), "\r")
		p.buf = p.buf[idx+1:]
		p.state = awaitingFrame

		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "" {
			continue
		}
		if data == doneSentinel {
			p.state = sseDone
			p.buf = nil
			return payloads
		}
		payloads = append(payloads, data)
	}
}

// Done reports whether the terminal sentinel has been consumed.
func (p *sseParser) Done() bool { return p.state == sseDone }
