package model

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/samcharles93/llmfunc/internal/errs"
	"github.com/samcharles93/llmfunc/internal/gguf"
)

// Config describes a Mistral-architecture decoder. NumExperts > 0 selects a
// sparse mixture-of-experts feed-forward block in every layer.
type Config struct {
	Architecture     string
	VocabSize        int
	HiddenSize       int
	IntermediateSize int
	NumLayers        int
	NumHeads         int
	NumKVHeads       int
	HeadDim          int
	MaxPositions     int
	SlidingWindow    int
	RopeTheta        float64
	RMSNormEps       float64
	NumExperts       int
	ExpertsPerTok    int
}

// Mistral7Bv01 is the configuration of mistralai/Mistral-7B-v0.1.
func Mistral7Bv01() Config {
	return Config{
		Architecture:     "mistral",
		VocabSize:        32000,
		HiddenSize:       4096,
		IntermediateSize: 14336,
		NumLayers:        32,
		NumHeads:         32,
		NumKVHeads:       8,
		HeadDim:          128,
		MaxPositions:     32768,
		SlidingWindow:    4096,
		RopeTheta:        10000,
		RMSNormEps:       1e-5,
	}
}

// Mixtral8x7Bv01 is the configuration of mistralai/Mixtral-8x7B-v0.1.
func Mixtral8x7Bv01() Config {
	return Config{
		Architecture:     "mixtral",
		VocabSize:        32000,
		HiddenSize:       4096,
		IntermediateSize: 14336,
		NumLayers:        32,
		NumHeads:         32,
		NumKVHeads:       8,
		HeadDim:          128,
		MaxPositions:     32768,
		RopeTheta:        1e6,
		RMSNormEps:       1e-5,
		NumExperts:       8,
		ExpertsPerTok:    2,
	}
}

// IsMoE reports whether the feed-forward blocks are expert mixtures.
func (c Config) IsMoE() bool { return c.NumExperts > 0 }

// Validate checks the dimensions the forward pass relies on.
func (c Config) Validate() error {
	switch {
	case c.VocabSize <= 0:
		return errs.New(errs.ErrInvalidArgument, "config", "vocab_size must be set")
	case c.HiddenSize <= 0:
		return errs.New(errs.ErrInvalidArgument, "config", "hidden_size must be set")
	case c.NumLayers <= 0:
		return errs.New(errs.ErrInvalidArgument, "config", "num_hidden_layers must be set")
	case c.NumHeads <= 0:
		return errs.New(errs.ErrInvalidArgument, "config", "num_attention_heads must be set")
	case c.NumKVHeads <= 0 || c.NumHeads%c.NumKVHeads != 0:
		return errs.New(errs.ErrInvalidArgument, "config", "num_key_value_heads %d must divide num_attention_heads %d", c.NumKVHeads, c.NumHeads)
	case c.HeadDim <= 0 || c.HeadDim%2 != 0:
		return errs.New(errs.ErrInvalidArgument, "config", "head_dim %d must be positive and even", c.HeadDim)
	case c.IsMoE() && (c.ExpertsPerTok <= 0 || c.ExpertsPerTok > c.NumExperts):
		return errs.New(errs.ErrInvalidArgument, "config", "num_experts_per_tok %d out of range for %d experts", c.ExpertsPerTok, c.NumExperts)
	}
	return nil
}

type hfConfig struct {
	ModelType         string   `json:"model_type"`
	Architectures     []string `json:"architectures"`
	VocabSize         int      `json:"vocab_size"`
	HiddenSize        int      `json:"hidden_size"`
	IntermediateSize  int      `json:"intermediate_size"`
	NumHiddenLayers   int      `json:"num_hidden_layers"`
	NumAttentionHeads int      `json:"num_attention_heads"`
	NumKeyValueHeads  int      `json:"num_key_value_heads"`
	HeadDim           int      `json:"head_dim"`
	MaxPosition       int      `json:"max_position_embeddings"`
	SlidingWindow     *int     `json:"sliding_window"`
	RopeTheta         float64  `json:"rope_theta"`
	RMSNormEps        float64  `json:"rms_norm_eps"`
	NumLocalExperts   int      `json:"num_local_experts"`
	NumExpertsPerTok  int      `json:"num_experts_per_tok"`

	TextConfig *hfConfig `json:"text_config"`
}

// ParseConfig reads a Hugging Face config.json. Fields nested under
// text_config fill in whatever the top level leaves unset.
func ParseConfig(raw []byte) (Config, error) {
	var hc hfConfig
	if err := json.Unmarshal(raw, &hc); err != nil {
		return Config{}, errs.Wrap(errs.ErrParse, "parse config", err)
	}
	if tc := hc.TextConfig; tc != nil {
		fillInt := func(dst *int, src int) {
			if *dst == 0 {
				*dst = src
			}
		}
		fillInt(&hc.VocabSize, tc.VocabSize)
		fillInt(&hc.HiddenSize, tc.HiddenSize)
		fillInt(&hc.IntermediateSize, tc.IntermediateSize)
		fillInt(&hc.NumHiddenLayers, tc.NumHiddenLayers)
		fillInt(&hc.NumAttentionHeads, tc.NumAttentionHeads)
		fillInt(&hc.NumKeyValueHeads, tc.NumKeyValueHeads)
		fillInt(&hc.HeadDim, tc.HeadDim)
		fillInt(&hc.MaxPosition, tc.MaxPosition)
		fillInt(&hc.NumLocalExperts, tc.NumLocalExperts)
		fillInt(&hc.NumExpertsPerTok, tc.NumExpertsPerTok)
		if hc.SlidingWindow == nil {
			hc.SlidingWindow = tc.SlidingWindow
		}
		if hc.RopeTheta == 0 {
			hc.RopeTheta = tc.RopeTheta
		}
		if hc.RMSNormEps == 0 {
			hc.RMSNormEps = tc.RMSNormEps
		}
	}

	c := Config{
		Architecture:     strings.ToLower(hc.ModelType),
		VocabSize:        hc.VocabSize,
		HiddenSize:       hc.HiddenSize,
		IntermediateSize: hc.IntermediateSize,
		NumLayers:        hc.NumHiddenLayers,
		NumHeads:         hc.NumAttentionHeads,
		NumKVHeads:       hc.NumKeyValueHeads,
		HeadDim:          hc.HeadDim,
		MaxPositions:     hc.MaxPosition,
		RopeTheta:        hc.RopeTheta,
		RMSNormEps:       hc.RMSNormEps,
		NumExperts:       hc.NumLocalExperts,
		ExpertsPerTok:    hc.NumExpertsPerTok,
	}
	if hc.SlidingWindow != nil {
		c.SlidingWindow = *hc.SlidingWindow
	}
	c.fillDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c *Config) fillDefaults() {
	if c.NumKVHeads == 0 {
		c.NumKVHeads = c.NumHeads
	}
	if c.HeadDim == 0 && c.NumHeads > 0 {
		c.HeadDim = c.HiddenSize / c.NumHeads
	}
	if c.RopeTheta == 0 {
		c.RopeTheta = 10000
	}
	if c.RMSNormEps == 0 {
		c.RMSNormEps = 1e-5
	}
	if c.MaxPositions == 0 {
		c.MaxPositions = 4096
	}
	if c.IsMoE() && c.ExpertsPerTok == 0 {
		c.ExpertsPerTok = 2
	}
}

// ConfigFromGGUF reads llama.cpp metadata. ok is false when the file
// carries no architecture key, as with GGUF files written by candle.
func ConfigFromGGUF(f *gguf.File) (Config, bool, error) {
	arch, ok := gguf.GetString(f.KV, "general.architecture")
	if !ok {
		return Config{}, false, nil
	}
	key := func(k string) string { return arch + "." + k }
	u := func(k string) int {
		v, _ := gguf.GetUint64(f.KV, key(k))
		return int(v)
	}
	fl := func(k string) float64 {
		v, _ := gguf.GetFloat64(f.KV, key(k))
		return v
	}

	c := Config{
		Architecture:     arch,
		HiddenSize:       u("embedding_length"),
		IntermediateSize: u("feed_forward_length"),
		NumLayers:        u("block_count"),
		NumHeads:         u("attention.head_count"),
		NumKVHeads:       u("attention.head_count_kv"),
		HeadDim:          u("rope.dimension_count"),
		MaxPositions:     u("context_length"),
		SlidingWindow:    u("attention.sliding_window"),
		RopeTheta:        fl("rope.freq_base"),
		RMSNormEps:       fl("attention.layer_norm_rms_epsilon"),
		NumExperts:       u("expert_count"),
		ExpertsPerTok:    u("expert_used_count"),
	}
	if tokens, ok := gguf.GetArray[string](f.KV, "tokenizer.ggml.tokens"); ok {
		c.VocabSize = len(tokens)
	}
	if c.VocabSize == 0 {
		if info, ok := f.TensorByName("token_embd.weight"); ok && len(info.Dims) == 2 {
			c.VocabSize = int(info.Dims[1])
		}
	}
	c.fillDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, true, fmt.Errorf("gguf metadata: %w", err)
	}
	return c, true, nil
}
