package turn

import "strings"

// segmenter cuts streamed LLM text into fragments worth synthesizing on
// their own. A fragment ends at terminal punctuation followed by whitespace
// once it has reached a minimum length, or at the soft cap when the text
// runs on without a sentence boundary. Splitting this way keeps time to
// first audio low without feeding the synthesizer half-words.
type segmenter struct {
	buf     strings.Builder
	min     int
	softCap int
}

func newSegmenter(minFragment, softCap int) *segmenter {
	return &segmenter{min: minFragment, softCap: softCap}
}

// feed appends delta to the buffer and returns every fragment that became
// ready, in order. Fragments keep their terminal punctuation; whitespace
// between fragments is dropped.
func (s *segmenter) feed(delta string) []string {
	s.buf.WriteString(delta)
	var frags []string
	for {
		text := s.buf.String()
		idx := sentenceBoundary(text, s.min)
		switch {
		case idx >= 0:
			frags = append(frags, text[:idx+1])
			s.buf.Reset()
			s.buf.WriteString(strings.TrimLeft(text[idx+1:], " \t\n\r"))
		case len(text) >= s.softCap:
			frags = append(frags, text)
			s.buf.Reset()
		default:
			return frags
		}
	}
}

// flush returns whatever text is still buffered and resets the segmenter.
func (s *segmenter) flush() string {
	text := s.buf.String()
	s.buf.Reset()
	return text
}

// sentenceBoundary returns the index of the first '.', '!' or '?' that is
// followed by whitespace and closes a fragment of at least min bytes, or -1
// when the text holds no such boundary yet. Punctuation at the very end of
// the text does not count; the trailing whitespace may still be in flight.
func sentenceBoundary(text string, min int) int {
	for i := 0; i < len(text)-1; i++ {
		switch text[i] {
		case '.', '!', '?':
			if i+1 < min {
				continue
			}
			switch text[i+1] {
			case ' ', '\n', '\r', '\t':
				return i
			}
		}
	}
	return -1
}
