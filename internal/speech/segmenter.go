package speech

import (
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"
)

// Sink receives completed sentences. *Queue is the production sink.
type Sink interface {
	Enqueue(sentence string) bool
	Accepting() bool
	Cancel()
	Reset()
}

// Segmenter buffers streamed tokens and hands complete sentences to its sink
// as soon as a boundary is seen.
//
// Only the end of the buffer is checked after each token, so a single token
// holding "A. B." produces one sentence. Abbreviations ("Mr.") and decimals
// end a sentence early.
type Segmenter struct {
	sink Sink

	mu     sync.Mutex
	buffer strings.Builder
}

// NewSegmenter creates a segmenter feeding sink
func NewSegmenter(sink Sink) *Segmenter {
	return &Segmenter{sink: sink}
}

// Feed appends a token and emits the buffer when it ends a sentence.
// It is a no-op while the sink is cancelled.
func (s *Segmenter) Feed(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.sink.Accepting() {
		return
	}

	if s.buffer.Len() == 0 {
		// whitespace between sentences is not carried into the next one
		token = strings.TrimLeftFunc(token, unicode.IsSpace)
	}
	s.buffer.WriteString(token)
	if !endsSentence(s.buffer.String()) {
		return
	}
	s.emitLocked()
}

// Flush emits whatever non-blank text is still buffered
func (s *Segmenter) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.sink.Accepting() {
		return
	}
	s.emitLocked()
}

// Cancel drops the buffer and cancels the sink
func (s *Segmenter) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buffer.Reset()
	s.sink.Cancel()
}

// Reset drops the buffer and re-arms the sink for a new turn
func (s *Segmenter) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buffer.Reset()
	s.sink.Reset()
}

// Buffered returns the text waiting for a sentence boundary
func (s *Segmenter) Buffered() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buffer.String()
}

func (s *Segmenter) emitLocked() {
	sentence := strings.TrimSpace(s.buffer.String())
	s.buffer.Reset()
	if sentence != "" {
		s.sink.Enqueue(sentence)
	}
}

// endsSentence reports whether text ends in . ! or ? once trailing whitespace is ignored
func endsSentence(text string) bool {
	text = strings.TrimRightFunc(text, unicode.IsSpace)
	if text == "" {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(text)
	return r == '.' || r == '!' || r == '?'
}
