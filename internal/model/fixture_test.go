package model

import (
	"bytes"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/samcharles93/llmfunc/internal/gguf"
	"github.com/samcharles93/llmfunc/internal/quant"
	"github.com/samcharles93/llmfunc/internal/safetensors"
)

const tokenizerJSON = `{
  "added_tokens": [
    {"id": 0, "content": "<unk>", "special": true},
    {"id": 1, "content": "<s>", "special": true},
    {"id": 2, "content": "</s>", "special": true}
  ],
  "normalizer": {"type": "Sequence", "normalizers": [
    {"type": "Prepend", "prepend": "▁"},
    {"type": "Replace", "pattern": {"String": " "}, "content": "▁"}
  ]},
  "post_processor": {
    "type": "TemplateProcessing",
    "special_tokens": {"<s>": {"id": "<s>", "ids": [1], "tokens": ["<s>"]}}
  },
  "decoder": {"type": "Sequence", "decoders": [
    {"type": "Replace", "pattern": {"String": "▁"}, "content": " "},
    {"type": "ByteFallback"},
    {"type": "Fuse"},
    {"type": "Strip", "content": " ", "start": 1, "stop": 0}
  ]},
  "model": {
    "type": "BPE",
    "unk_token": "<unk>",
    "byte_fallback": true,
    "vocab": {
      "<unk>": 0, "<s>": 1, "</s>": 2, "<0xC3>": 3, "<0xA9>": 4,
      "▁": 5, "h": 6, "i": 7, "▁h": 8, "▁hi": 9, "c": 10, "a": 11,
      "f": 12, "▁c": 13, "▁ca": 14, "▁caf": 15, "!": 16
    },
    "merges": ["▁ h", "▁h i", "▁ c", "▁c a", "▁ca f"]
  }
}`

// tinyConfig matches the 17-token fixture vocabulary.
func tinyConfig() Config {
	return Config{
		Architecture:     "llama",
		VocabSize:        17,
		HiddenSize:       8,
		IntermediateSize: 16,
		NumLayers:        2,
		NumHeads:         2,
		NumKVHeads:       1,
		HeadDim:          4,
		MaxPositions:     32,
		SlidingWindow:    4,
		RopeTheta:        10000,
		RMSNormEps:       1e-5,
	}
}

type weight struct {
	name string
	rows int // 0 for vectors
	cols int
	data []float32
}

func randWeights(cfg Config, names tensorNames, seed uint64) []weight {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	mat := func(name string, r, c int) weight {
		d := make([]float32, r*c)
		for i := range d {
			d[i] = float32(rng.NormFloat64() * 0.3)
		}
		return weight{name: name, rows: r, cols: c, data: d}
	}
	ones := func(name string, n int) weight {
		d := make([]float32, n)
		for i := range d {
			d[i] = 1 + float32(rng.Float64()*0.1)
		}
		return weight{name: name, cols: n, data: d}
	}
	h, f := cfg.HiddenSize, cfg.IntermediateSize
	q, kv := cfg.NumHeads*cfg.HeadDim, cfg.NumKVHeads*cfg.HeadDim

	ws := []weight{
		mat(names.embedding, cfg.VocabSize, h),
		ones(names.outputNorm, h),
		mat(names.output[0], cfg.VocabSize, h),
	}
	for l := range cfg.NumLayers {
		ws = append(ws,
			ones(names.attnNorm(l), h),
			ones(names.ffnNorm(l), h),
			mat(names.wq(l), q, h),
			mat(names.wk(l), kv, h),
			mat(names.wv(l), kv, h),
			mat(names.wo(l), h, q),
		)
		if cfg.IsMoE() {
			ws = append(ws, mat(names.router(l), cfg.NumExperts, h))
			for e := range cfg.NumExperts {
				ws = append(ws,
					mat(names.expertGate(l, e), f, h),
					mat(names.expertUp(l, e), f, h),
					mat(names.expertDown(l, e), h, f),
				)
			}
			continue
		}
		ws = append(ws,
			mat(names.ffnGate(l), f, h),
			mat(names.ffnUp(l), f, h),
			mat(names.ffnDown(l), h, f),
		)
	}
	return ws
}

func writeTokenizer(t *testing.T, dir, content string) string {
	t.Helper()
	p := filepath.Join(dir, TokenizerFile)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

// writeGGUF writes weights as F16 matrices and F32 vectors. meta may be nil.
func writeGGUF(t *testing.T, path string, meta map[string]any, ws []weight) {
	t.Helper()
	tensors := make([]gguf.WriteTensor, 0, len(ws))
	for _, w := range ws {
		if w.rows == 0 {
			tensors = append(tensors, gguf.WriteTensor{Name: w.name, Dims: []uint64{uint64(w.cols)}, Type: gguf.GGMLTypeF32, Data: quant.EncodeF32(w.data)})
			continue
		}
		tensors = append(tensors, gguf.WriteTensor{
			Name: w.name,
			Dims: []uint64{uint64(w.cols), uint64(w.rows)},
			Type: gguf.GGMLTypeF16,
			Data: quant.EncodeF16(w.data),
		})
	}
	if meta == nil {
		meta = map[string]any{}
	}
	var buf bytes.Buffer
	if err := gguf.Write(&buf, meta, tensors); err != nil {
		t.Fatalf("gguf.Write: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func llamaMeta(cfg Config) map[string]any {
	return map[string]any{
		"general.architecture":                   "llama",
		"llama.embedding_length":                 uint32(cfg.HiddenSize),
		"llama.feed_forward_length":              uint32(cfg.IntermediateSize),
		"llama.block_count":                      uint32(cfg.NumLayers),
		"llama.attention.head_count":             uint32(cfg.NumHeads),
		"llama.attention.head_count_kv":          uint32(cfg.NumKVHeads),
		"llama.rope.dimension_count":             uint32(cfg.HeadDim),
		"llama.context_length":                   uint32(cfg.MaxPositions),
		"llama.attention.sliding_window":         uint32(cfg.SlidingWindow),
		"llama.rope.freq_base":                   float32(cfg.RopeTheta),
		"llama.attention.layer_norm_rms_epsilon": float32(cfg.RMSNormEps),
	}
}

// writeSafetensorsDir splits ws across nShards BF16 shards and writes the
// manifest, tokenizer.json and config.json.
func writeSafetensorsDir(t *testing.T, dir string, cfg Config, ws []weight, nShards int) {
	t.Helper()
	shards := make([][]safetensors.WriteTensor, nShards)
	var weightMap []string
	for i, w := range ws {
		s := i % nShards
		shape := []int{w.cols}
		if w.rows > 0 {
			shape = []int{w.rows, w.cols}
		}
		shards[s] = append(shards[s], safetensors.WriteTensor{Name: w.name, DType: "BF16", Shape: shape, Data: quant.EncodeBF16(w.data)})
		weightMap = append(weightMap, fmt.Sprintf("%q: %q", w.name, shardName(s, nShards)))
	}
	for s, ts := range shards {
		var buf bytes.Buffer
		if err := safetensors.Write(&buf, ts); err != nil {
			t.Fatalf("safetensors.Write: %v", err)
		}
		if err := os.WriteFile(filepath.Join(dir, shardName(s, nShards)), buf.Bytes(), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	index := `{"metadata": {}, "weight_map": {` + strings.Join(weightMap, ",") + `}}`
	if err := os.WriteFile(filepath.Join(dir, "model.safetensors.index.json"), []byte(index), 0o644); err != nil {
		t.Fatal(err)
	}
	config := fmt.Sprintf(`{
  "architectures": ["MixtralForCausalLM"],
  "model_type": "mixtral",
  "vocab_size": %d, "hidden_size": %d, "intermediate_size": %d,
  "num_hidden_layers": %d, "num_attention_heads": %d, "num_key_value_heads": %d,
  "max_position_embeddings": %d, "sliding_window": null,
  "rope_theta": 1000000.0, "rms_norm_eps": 1e-05,
  "num_local_experts": %d, "num_experts_per_tok": %d
}`, cfg.VocabSize, cfg.HiddenSize, cfg.IntermediateSize, cfg.NumLayers, cfg.NumHeads, cfg.NumKVHeads,
		cfg.MaxPositions, cfg.NumExperts, cfg.ExpertsPerTok)
	if err := os.WriteFile(filepath.Join(dir, ConfigFile), []byte(config), 0o644); err != nil {
		t.Fatal(err)
	}
	writeTokenizer(t, dir, tokenizerJSON)
}

func shardName(i, n int) string {
	return fmt.Sprintf("model-%05d-of-%05d.safetensors", i+1, n)
}
