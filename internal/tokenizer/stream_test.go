package tokenizer

import (
	"strings"
	"testing"
)

// byteVocab decodes each id to a fixed byte string.
type byteVocab []string

func (v byteVocab) Encode(string) ([]int, error) { return nil, nil }
func (v byteVocab) TokenToID(string) (int, bool) { return 0, false }
func (v byteVocab) Decode(ids []int) (string, error) {
	var b strings.Builder
	for _, id := range ids {
		b.WriteString(v[id])
	}
	return b.String(), nil
}

func drain(t *testing.T, s *TokenStream, ids []int) (string, []string) {
	t.Helper()
	var out strings.Builder
	var chunks []string
	for _, id := range ids {
		text, ok, err := s.Next(id)
		if err != nil {
			t.Fatalf("Next(%d): %v", id, err)
		}
		if ok {
			out.WriteString(text)
			chunks = append(chunks, text)
		}
	}
	rest, ok, err := s.Flush()
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if ok {
		out.WriteString(rest)
		chunks = append(chunks, rest)
	}
	return out.String(), chunks
}

func TestTokenStreamWithholdsPartialRunes(t *testing.T) {
	t.Parallel()
	// "é" is 0xC3 0xA9, "€" is 0xE2 0x82 0xAC.
	vocab := byteVocab{"caf", "\xc3", "\xa9", " ", "\xe2", "\x82", "\xac", "!"}
	s := NewTokenStream(vocab)

	text, chunks := drain(t, s, []int{0, 1, 2, 3, 4, 5, 6, 7})
	if text != "café €!" {
		t.Fatalf("got %q", text)
	}
	for _, c := range chunks {
		if !completeRune(c) {
			t.Fatalf("chunk %q ends mid-rune", c)
		}
	}
	if len(s.Tokens()) != 8 {
		t.Fatalf("Tokens() = %v", s.Tokens())
	}
}

func TestTokenStreamFlushReleasesTail(t *testing.T) {
	t.Parallel()
	vocab := byteVocab{"ok", "\xe2", "\x82"}
	s := NewTokenStream(vocab)
	text, ok, err := s.Next(0)
	if err != nil || !ok || text != "ok" {
		t.Fatalf("Next = %q, %v, %v", text, ok, err)
	}
	for _, id := range []int{1, 2} {
		if _, ok, _ := s.Next(id); ok {
			t.Fatal("partial rune should be withheld")
		}
	}
	rest, ok, err := s.Flush()
	if err != nil || !ok || rest != "\xe2\x82" {
		t.Fatalf("Flush = %q, %v, %v", rest, ok, err)
	}
	if again, ok, _ := s.Flush(); ok || again != "" {
		t.Fatalf("second Flush returned %q", again)
	}
}

func TestTokenStreamRoundTripSentencePiece(t *testing.T) {
	t.Parallel()
	tok := mustLoad(t, sentencePieceJSON)
	sequences := [][]int{
		{9, 15, 3, 4, 16},
		{16, 16, 9},
		{3, 4, 3, 4},
		{3},
		{1, 9, 2, 13},
	}
	for _, ids := range sequences {
		s := NewTokenStream(tok)
		got, _ := drain(t, s, ids)
		want, err := tok.Decode(ids)
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("ids %v: streamed %q, decoded %q", ids, got, want)
		}
	}
}

func TestTokenStreamReset(t *testing.T) {
	t.Parallel()
	vocab := byteVocab{"a", "b"}
	s := NewTokenStream(vocab)
	drain(t, s, []int{0, 0})
	s.Reset()
	got, _ := drain(t, s, []int{1})
	if got != "b" {
		t.Fatalf("after Reset got %q", got)
	}
}
