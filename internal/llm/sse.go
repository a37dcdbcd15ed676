package llm

import (
	"bufio"
	"strings"
)

// sseFrameScanner splits a byte stream into "data: <payload>\n\n" frames,
// joining multiple data: lines within one frame the way the SSE spec
// requires. It is fed incrementally as HTTP response bytes arrive.
type sseFrameScanner struct {
	buf strings.Builder
}

// feed appends newly read bytes and returns every complete frame payload
// now available, in arrival order. Payloads are exactly the joined data:
// line content; "[DONE]" is returned verbatim for the caller to detect.
func (s *sseFrameScanner) feed(chunk []byte) []string {
	s.buf.Write(chunk)
	text := s.buf.String()

	var payloads []string
	for {
		idx := strings.Index(text, "\n\n")
		if idx < 0 {
			break
		}
		raw := text[:idx]
		text = text[idx+2:]

		var dataLines []string
		sc := bufio.NewScanner(strings.NewReader(raw))
		for sc.Scan() {
			line := sc.Text()
			if rest, ok := strings.CutPrefix(line, "data:"); ok {
				dataLines = append(dataLines, strings.TrimSpace(rest))
			}
		}
		if len(dataLines) > 0 {
			payloads = append(payloads, strings.Join(dataLines, "\n"))
		}
	}

	s.buf.Reset()
	s.buf.WriteString(text)
	return payloads
}

// partialToolCall accumulates a sparse, index-addressed tool call under
// construction across streamed deltas, mirroring the JSON-arguments
// concatenation every OpenAI-compatible streaming API requires.
type partialToolCall struct {
	id            string
	callType      string
	name          string
	argumentsJSON string
}
