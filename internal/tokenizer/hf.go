package tokenizer

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/goccy/go-json"

	"github.com/samcharles93/llmfunc/internal/errs"
)

// metaspace is the SentencePiece word-boundary rune.
const metaspace = "▁"

type mode int

const (
	modeByteLevel mode = iota // GPT-2 style byte-to-rune mapping
	modeMetaspace             // SentencePiece style with byte fallback
)

// HFTokenizer encodes and decodes with a tokenizer.json BPE model.
// It is safe for concurrent use.
type HFTokenizer struct {
	mode         mode
	encoder      map[string]int
	decoder      []string
	special      map[int]bool
	addedTokens  []string
	bpeRanks     map[Pair]int
	byteEncoder  map[byte]string
	byteDecoder  map[string]byte
	pattern      *regexp.Regexp
	splitWords   bool
	addPrefix    bool
	stripLeading int
	byteFallback bool
	ignoreMerges bool
	addBOS       bool
	addEOS       bool
	bosID        int
	eosID        int
	unkID        int

	mu    sync.Mutex
	cache map[string][]string
}

type hfNormalizer struct {
	Type        string         `json:"type"`
	Prepend     string         `json:"prepend"`
	Normalizers []hfNormalizer `json:"normalizers"`
}

type hfPreTokenizer struct {
	Type           string           `json:"type"`
	AddPrefixSpace *bool            `json:"add_prefix_space"`
	PrependScheme  string           `json:"prepend_scheme"`
	Pretokenizers  []hfPreTokenizer `json:"pretokenizers"`
	Pattern        struct {
		Regex string `json:"Regex"`
	} `json:"pattern"`
}

type hfDecoder struct {
	Type     string      `json:"type"`
	Start    int         `json:"start"`
	Decoders []hfDecoder `json:"decoders"`
}

type hfTokenizerJSON struct {
	Model struct {
		Type         string         `json:"type"`
		Vocab        map[string]int `json:"vocab"`
		Merges       []any          `json:"merges"`
		IgnoreMerges bool           `json:"ignore_merges"`
		ByteFallback bool           `json:"byte_fallback"`
		UnkToken     string         `json:"unk_token"`
	} `json:"model"`
	Normalizer    *hfNormalizer   `json:"normalizer"`
	PreTokenizer  *hfPreTokenizer `json:"pre_tokenizer"`
	Decoder       *hfDecoder      `json:"decoder"`
	PostProcessor struct {
		Type          string `json:"type"`
		SpecialTokens map[string]struct {
			IDs []int `json:"ids"`
		} `json:"special_tokens"`
		Processors []struct {
			Type          string `json:"type"`
			SpecialTokens map[string]struct {
				IDs []int `json:"ids"`
			} `json:"special_tokens"`
		} `json:"processors"`
	} `json:"post_processor"`
	AddedTokens []struct {
		ID      int    `json:"id"`
		Content string `json:"content"`
		Special bool   `json:"special"`
	} `json:"added_tokens"`
}

type hfTokenizerConfig struct {
	AddBOS *bool  `json:"add_bos_token"`
	AddEOS *bool  `json:"add_eos_token"`
	BOS    string `json:"bos_token"`
	EOS    string `json:"eos_token"`
}

// LoadHFTokenizer reads tokenizer.json and, when configPath is not empty,
// tokenizer_config.json for BOS/EOS overrides.
func LoadHFTokenizer(path, configPath string) (*HFTokenizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.ErrIO, "read tokenizer", err)
	}
	var cfg []byte
	if configPath != "" {
		if raw, err := os.ReadFile(configPath); err == nil {
			cfg = raw
		}
	}
	return LoadHFTokenizerBytes(data, cfg)
}

// LoadHFTokenizerBytes parses tokenizer.json content.
func LoadHFTokenizerBytes(tokJSON, tokConfig []byte) (*HFTokenizer, error) {
	var tj hfTokenizerJSON
	if err := json.Unmarshal(tokJSON, &tj); err != nil {
		return nil, errs.Wrap(errs.ErrEncoding, "parse tokenizer", err)
	}
	if !strings.EqualFold(tj.Model.Type, "BPE") {
		return nil, errs.New(errs.ErrEncoding, "parse tokenizer", "unsupported tokenizer model %q", tj.Model.Type)
	}

	encoder := make(map[string]int, len(tj.Model.Vocab)+len(tj.AddedTokens))
	maxID := -1
	for tok, id := range tj.Model.Vocab {
		encoder[tok] = id
		maxID = max(maxID, id)
	}
	for _, at := range tj.AddedTokens {
		encoder[at.Content] = at.ID
		maxID = max(maxID, at.ID)
	}
	decoder := make([]string, maxID+1)
	for tok, id := range encoder {
		if id >= 0 {
			decoder[id] = tok
		}
	}

	special := make(map[int]bool)
	added := make([]string, 0, len(tj.AddedTokens))
	for _, at := range tj.AddedTokens {
		added = append(added, at.Content)
		if at.Special {
			special[at.ID] = true
		}
	}

	t := &HFTokenizer{
		encoder:      encoder,
		decoder:      decoder,
		special:      special,
		addedTokens:  longestFirst(added),
		bpeRanks:     parseMerges(tj.Model.Merges),
		byteFallback: tj.Model.ByteFallback,
		ignoreMerges: tj.Model.IgnoreMerges,
		bosID:        -1,
		eosID:        -1,
		unkID:        -1,
		cache:        make(map[string][]string),
	}
	if id, ok := encoder[tj.Model.UnkToken]; ok && tj.Model.UnkToken != "" {
		t.unkID = id
	}

	t.configureMode(&tj)
	t.configureSpecials(&tj, tokConfig)
	return t, nil
}

func (t *HFTokenizer) configureMode(tj *hfTokenizerJSON) {
	prepend := tj.Normalizer != nil && normalizerPrepends(*tj.Normalizer)
	pre := tj.PreTokenizer
	isMetaspace := pre != nil && preTokenizerHas(*pre, "Metaspace")

	if !tj.Model.ByteFallback && !prepend && !isMetaspace {
		t.mode = modeByteLevel
		t.byteEncoder, t.byteDecoder = bytesToUnicode()
		t.pattern = buildByteLevelPattern(pre)
		return
	}

	t.mode = modeMetaspace
	t.addPrefix = prepend
	if isMetaspace {
		t.splitWords = true
		if p := findPreTokenizer(*pre, "Metaspace"); p != nil {
			if p.AddPrefixSpace != nil && *p.AddPrefixSpace {
				t.addPrefix = true
			}
			if p.PrependScheme == "always" || p.PrependScheme == "first" {
				t.addPrefix = true
			}
		}
	}
	t.stripLeading = 0
	if tj.Decoder != nil {
		t.stripLeading = decoderStrip(*tj.Decoder)
	}
	if t.stripLeading == 0 && t.addPrefix {
		t.stripLeading = 1
	}
}

func (t *HFTokenizer) configureSpecials(tj *hfTokenizerJSON, tokConfig []byte) {
	var cfg hfTokenizerConfig
	if len(tokConfig) > 0 {
		_ = json.Unmarshal(tokConfig, &cfg)
	}
	if id, ok := t.encoder[cfg.BOS]; ok && cfg.BOS != "" {
		t.bosID = id
	} else if id, ok := t.encoder["<s>"]; ok {
		t.bosID = id
	}
	if id, ok := t.encoder[cfg.EOS]; ok && cfg.EOS != "" {
		t.eosID = id
	} else if id, ok := t.encoder[EOS]; ok {
		t.eosID = id
	}

	// TemplateProcessing prepends its first special token.
	specials := tj.PostProcessor.SpecialTokens
	if tj.PostProcessor.Type != "TemplateProcessing" {
		specials = nil
		for _, proc := range tj.PostProcessor.Processors {
			if proc.Type == "TemplateProcessing" {
				specials = proc.SpecialTokens
				break
			}
		}
	}
	if bos, ok := specials[t.TokenString(t.bosID)]; ok && len(bos.IDs) > 0 {
		t.bosID = bos.IDs[0]
		t.addBOS = true
	} else {
		for _, s := range specials {
			if len(s.IDs) > 0 {
				t.bosID = s.IDs[0]
				t.addBOS = true
				break
			}
		}
	}
	if cfg.AddBOS != nil {
		t.addBOS = *cfg.AddBOS
	}
	if cfg.AddEOS != nil {
		t.addEOS = *cfg.AddEOS
	}
}

// Encode tokenizes text, adding BOS/EOS as configured.
func (t *HFTokenizer) Encode(text string) ([]int, error) {
	var ids []int
	if t.addBOS && t.bosID >= 0 {
		ids = append(ids, t.bosID)
	}
	for _, part := range splitSpecials(text, t.addedTokens) {
		if part.isSpecial {
			ids = append(ids, t.encoder[part.text])
			continue
		}
		var err error
		if t.mode == modeMetaspace {
			ids, err = t.encodeMetaspace(ids, part.text)
		} else {
			ids, err = t.encodeByteLevel(ids, part.text)
		}
		if err != nil {
			return nil, errs.Wrap(errs.ErrEncoding, "encode", err)
		}
	}
	if t.addEOS && t.eosID >= 0 {
		ids = append(ids, t.eosID)
	}
	return ids, nil
}

func (t *HFTokenizer) encodeByteLevel(ids []int, text string) ([]int, error) {
	for _, piece := range t.pattern.FindAllString(text, -1) {
		var b strings.Builder
		for _, by := range []byte(piece) {
			b.WriteString(t.byteEncoder[by])
		}
		for _, tok := range t.bpe(b.String(), true) {
			id, ok := t.encoder[tok]
			if !ok {
				if t.unkID < 0 {
					return nil, fmt.Errorf("unknown token %q", tok)
				}
				id = t.unkID
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (t *HFTokenizer) encodeMetaspace(ids []int, text string) ([]int, error) {
	if text == "" {
		return ids, nil
	}
	norm := strings.ReplaceAll(text, " ", metaspace)
	if t.addPrefix && !strings.HasPrefix(norm, metaspace) {
		norm = metaspace + norm
	}
	words := []string{norm}
	if t.splitWords {
		words = splitBeforeMetaspace(norm)
	}
	for _, w := range words {
		for _, tok := range t.bpe(w, t.splitWords) {
			if id, ok := t.encoder[tok]; ok {
				ids = append(ids, id)
				continue
			}
			if t.byteFallback {
				fallback := true
				for _, by := range []byte(tok) {
					if _, ok := t.encoder[byteFallbackToken(by)]; !ok {
						fallback = false
						break
					}
				}
				if fallback {
					for _, by := range []byte(tok) {
						ids = append(ids, t.encoder[byteFallbackToken(by)])
					}
					continue
				}
			}
			if t.unkID < 0 {
				return nil, fmt.Errorf("unknown token %q", tok)
			}
			ids = append(ids, t.unkID)
		}
	}
	return ids, nil
}

func splitBeforeMetaspace(s string) []string {
	var out []string
	for {
		i := strings.Index(s[min(len(metaspace), len(s)):], metaspace)
		if i < 0 {
			break
		}
		cut := i + len(metaspace)
		out = append(out, s[:cut])
		s = s[cut:]
	}
	if s != "" {
		out = append(out, s)
	}
	return out
}

func (t *HFTokenizer) bpe(piece string, cacheable bool) []string {
	if cacheable {
		t.mu.Lock()
		v, ok := t.cache[piece]
		t.mu.Unlock()
		if ok {
			return v
		}
	}
	var out []string
	if _, ok := t.encoder[piece]; ok && t.ignoreMerges {
		out = []string{piece}
	} else {
		out = applyMerges(piece, t.bpeRanks)
	}
	if cacheable {
		t.mu.Lock()
		t.cache[piece] = out
		t.mu.Unlock()
	}
	return out
}

// Decode turns ids back into text, skipping special added tokens. The result
// may end in an incomplete UTF-8 sequence when byte-fallback tokens split a
// character.
func (t *HFTokenizer) Decode(ids []int) (string, error) {
	var b []byte
	for _, id := range ids {
		if id < 0 || id >= len(t.decoder) {
			return "", errs.New(errs.ErrEncoding, "decode", "token id out of range: %d", id)
		}
		if t.special[id] {
			continue
		}
		tok := t.decoder[id]
		if t.mode == modeMetaspace {
			if by, ok := parseByteFallback(tok); ok && t.byteFallback {
				b = append(b, by)
				continue
			}
			b = append(b, strings.ReplaceAll(tok, metaspace, " ")...)
			continue
		}
		for _, r := range tok {
			if by, ok := t.byteDecoder[string(r)]; ok {
				b = append(b, by)
			} else {
				b = append(b, string(r)...)
			}
		}
	}
	for i := 0; i < t.stripLeading && len(b) > 0 && b[0] == ' '; i++ {
		b = b[1:]
	}
	return string(b), nil
}

// TokenToID looks up a vocabulary or added token.
func (t *HFTokenizer) TokenToID(token string) (int, bool) {
	id, ok := t.encoder[token]
	return id, ok
}

// TokenString returns the vocabulary string for id.
func (t *HFTokenizer) TokenString(id int) string {
	if id < 0 || id >= len(t.decoder) {
		return ""
	}
	return t.decoder[id]
}

func (t *HFTokenizer) VocabSize() int { return len(t.decoder) }
func (t *HFTokenizer) BOSID() int     { return t.bosID }
func (t *HFTokenizer) EOSID() int     { return t.eosID }

func normalizerPrepends(n hfNormalizer) bool {
	if n.Type == "Prepend" && n.Prepend == metaspace {
		return true
	}
	for _, sub := range n.Normalizers {
		if normalizerPrepends(sub) {
			return true
		}
	}
	return false
}

func findPreTokenizer(p hfPreTokenizer, typ string) *hfPreTokenizer {
	if p.Type == typ {
		return &p
	}
	for _, sub := range p.Pretokenizers {
		if found := findPreTokenizer(sub, typ); found != nil {
			return found
		}
	}
	return nil
}

func preTokenizerHas(p hfPreTokenizer, typ string) bool {
	return findPreTokenizer(p, typ) != nil
}

func decoderStrip(d hfDecoder) int {
	if d.Type == "Strip" {
		return d.Start
	}
	for _, sub := range d.Decoders {
		if n := decoderStrip(sub); n > 0 {
			return n
		}
	}
	return 0
}

func buildByteLevelPattern(pre *hfPreTokenizer) *regexp.Regexp {
	pat := `'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+`
	if pre != nil {
		if split := findPreTokenizer(*pre, "Split"); split != nil && split.Pattern.Regex != "" {
			pat = split.Pattern.Regex
		}
	}
	// Go regexp has no lookahead; fall back to the llama.cpp rendition.
	if strings.Contains(pat, `(?!\S)`) || strings.Contains(pat, "(?i:") {
		pat = `(?:'[sS]|'[tT]|'[rR][eE]|'[vV][eE]|'[mM]|'[lL][lL]|'[dD])|[^\r\n\p{L}\p{N}]?\p{L}+|\p{N}{1,3}| ?[^\s\p{L}\p{N}]+[\r\n]*|\s*[\r\n]+|\s+`
	}
	re, err := regexp.Compile(pat)
	if err != nil {
		return regexp.MustCompile(`'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+`)
	}
	return re
}
