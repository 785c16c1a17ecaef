package tokenizer

import "unicode/utf8"

// TokenStream turns a growing token sequence into text fragments, one call per
// token. It re-decodes a window of recent tokens on every step because
// multi-byte characters can span several tokens; text is released only once
// it ends on a complete UTF-8 sequence.
//
// A TokenStream is owned by a single generation run and is not safe for
// concurrent use.
type TokenStream struct {
	tok          Tokenizer
	tokens       []int
	prevIndex    int
	currentIndex int
}

// NewTokenStream wraps tok.
func NewTokenStream(tok Tokenizer) *TokenStream {
	return &TokenStream{tok: tok}
}

// Reset clears accumulated tokens. Call before each generation.
func (s *TokenStream) Reset() {
	s.tokens = s.tokens[:0]
	s.prevIndex = 0
	s.currentIndex = 0
}

// Tokens returns the accepted ids.
func (s *TokenStream) Tokens() []int {
	return append([]int(nil), s.tokens...)
}

// Next accepts id and returns newly completed text, if any.
func (s *TokenStream) Next(id int) (string, bool, error) {
	prev, err := s.decodeEmitted()
	if err != nil {
		return "", false, err
	}
	s.tokens = append(s.tokens, id)
	text, err := s.tok.Decode(s.tokens[s.prevIndex:])
	if err != nil {
		return "", false, err
	}
	if len(text) <= len(prev) || !completeRune(text[len(prev):]) {
		return "", false, nil
	}
	s.prevIndex = s.currentIndex
	s.currentIndex = len(s.tokens)
	return text[len(prev):], true, nil
}

// Flush returns text that Next withheld. Call once after the last token.
func (s *TokenStream) Flush() (string, bool, error) {
	prev, err := s.decodeEmitted()
	if err != nil {
		return "", false, err
	}
	text, err := s.tok.Decode(s.tokens[s.prevIndex:])
	if err != nil {
		return "", false, err
	}
	if len(text) <= len(prev) {
		return "", false, nil
	}
	s.prevIndex = s.currentIndex
	s.currentIndex = len(s.tokens)
	return text[len(prev):], true, nil
}

// decodeEmitted decodes the window that has already been returned, so the
// new suffix is measured against text produced under the same decoder state.
func (s *TokenStream) decodeEmitted() (string, error) {
	if len(s.tokens) == 0 || s.currentIndex == s.prevIndex {
		return "", nil
	}
	return s.tok.Decode(s.tokens[s.prevIndex:s.currentIndex])
}

func completeRune(s string) bool {
	r, size := utf8.DecodeLastRuneInString(s)
	return !(r == utf8.RuneError && size <= 1)
}
