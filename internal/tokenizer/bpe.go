package tokenizer

import (
	"fmt"
	"sort"
	"strings"
)

// Pair is a candidate BPE merge.
type Pair struct {
	A string
	B string
}

type textPart struct {
	text      string
	isSpecial bool
}

func splitRunes(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}

func getPairs(word []string) map[Pair]struct{} {
	pairs := make(map[Pair]struct{}, len(word))
	for i := 1; i < len(word); i++ {
		pairs[Pair{A: word[i-1], B: word[i]}] = struct{}{}
	}
	return pairs
}

func mergePair(word []string, pair Pair) []string {
	out := make([]string, 0, len(word))
	for i := 0; i < len(word); i++ {
		if i < len(word)-1 && word[i] == pair.A && word[i+1] == pair.B {
			out = append(out, word[i]+word[i+1])
			i++
			continue
		}
		out = append(out, word[i])
	}
	return out
}

// applyMerges runs rank-ordered BPE over the runes of piece.
func applyMerges(piece string, ranks map[Pair]int) []string {
	word := splitRunes(piece)
	for len(word) > 1 {
		best := Pair{}
		bestRank := int(^uint(0) >> 1)
		found := false
		for p := range getPairs(word) {
			if rank, ok := ranks[p]; ok && rank < bestRank {
				best, bestRank, found = p, rank, true
			}
		}
		if !found {
			break
		}
		word = mergePair(word, best)
	}
	return word
}

// parseMerges accepts both "a b" strings and ["a", "b"] arrays.
func parseMerges(raw []any) map[Pair]int {
	ranks := make(map[Pair]int, len(raw))
	rank := 0
	for _, item := range raw {
		var line string
		switch v := item.(type) {
		case string:
			line = v
		case []any:
			if len(v) == 2 {
				a, aok := v[0].(string)
				b, bok := v[1].(string)
				if aok && bok {
					line = a + " " + b
				}
			}
		}
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		a, b, ok := strings.Cut(line, " ")
		if !ok || a == "" || b == "" || strings.Contains(b, " ") {
			continue
		}
		p := Pair{A: a, B: b}
		if _, dup := ranks[p]; !dup {
			ranks[p] = rank
			rank++
		}
	}
	return ranks
}

// longestFirst orders added-token literals for greedy matching.
func longestFirst(tokens []string) []string {
	out := append([]string(nil), tokens...)
	sort.SliceStable(out, func(i, j int) bool { return len(out[i]) > len(out[j]) })
	return out
}

// splitSpecials cuts text around added-token literals.
func splitSpecials(text string, specials []string) []textPart {
	if len(specials) == 0 {
		return []textPart{{text: text}}
	}
	var parts []textPart
	start := 0
	for i := 0; i < len(text); {
		match := ""
		for _, sp := range specials {
			if sp != "" && strings.HasPrefix(text[i:], sp) {
				match = sp
				break
			}
		}
		if match == "" {
			i++
			continue
		}
		if start < i {
			parts = append(parts, textPart{text: text[start:i]})
		}
		parts = append(parts, textPart{text: match, isSpecial: true})
		i += len(match)
		start = i
	}
	if start < len(text) {
		parts = append(parts, textPart{text: text[start:]})
	}
	return parts
}

// bytesToUnicode is the GPT-2 reversible byte to printable-rune table.
func bytesToUnicode() (map[byte]string, map[string]byte) {
	var bs []int
	for i := int('!'); i <= int('~'); i++ {
		bs = append(bs, i)
	}
	for i := int('¡'); i <= int('¬'); i++ {
		bs = append(bs, i)
	}
	for i := int('®'); i <= int('ÿ'); i++ {
		bs = append(bs, i)
	}
	seen := make(map[int]bool, 256)
	for _, b := range bs {
		seen[b] = true
	}
	cs := append([]int(nil), bs...)
	n := 0
	for b := 0; b < 256; b++ {
		if !seen[b] {
			bs = append(bs, b)
			cs = append(cs, 256+n)
			n++
		}
	}

	enc := make(map[byte]string, 256)
	dec := make(map[string]byte, 256)
	for i := range bs {
		s := string(rune(cs[i]))
		enc[byte(bs[i])] = s
		dec[s] = byte(bs[i])
	}
	return enc, dec
}

// byteFallbackToken is the SentencePiece spelling of a raw byte.
func byteFallbackToken(b byte) string {
	return fmt.Sprintf("<0x%02X>", b)
}

// parseByteFallback reports whether tok is a "<0xNN>" byte token.
func parseByteFallback(tok string) (byte, bool) {
	if len(tok) != 6 || !strings.HasPrefix(tok, "<0x") || tok[5] != '>' {
		return 0, false
	}
	var v byte
	for _, c := range tok[3:5] {
		v <<= 4
		switch {
		case c >= '0' && c <= '9':
			v |= byte(c - '0')
		case c >= 'A' && c <= 'F':
			v |= byte(c-'A') + 10
		case c >= 'a' && c <= 'f':
			v |= byte(c-'a') + 10
		default:
			return 0, false
		}
	}
	return v, true
}
