package model

import "fmt"

// tensorNames maps transformer weights onto checkpoint tensor names.
type tensorNames struct {
	// ropeHalf selects rotate-half RoPE. llama.cpp exports permute q/k for
	// interleaved pairs instead.
	ropeHalf bool

	embedding  string
	outputNorm string
	output     []string

	attnNorm func(layer int) string
	ffnNorm  func(layer int) string
	wq       func(layer int) string
	wk       func(layer int) string
	wv       func(layer int) string
	wo       func(layer int) string

	ffnUp   func(layer int) string
	ffnGate func(layer int) string
	ffnDown func(layer int) string

	router     func(layer int) string
	expertUp   func(layer, expert int) string
	expertGate func(layer, expert int) string
	expertDown func(layer, expert int) string
}

// hfNames are the Hugging Face Mistral/Mixtral names, also used by candle
// when it writes GGUF.
func hfNames() tensorNames {
	l := func(format string) func(int) string {
		return func(layer int) string { return fmt.Sprintf("model.layers.%d."+format, layer) }
	}
	e := func(w string) func(int, int) string {
		return func(layer, expert int) string {
			return fmt.Sprintf("model.layers.%d.block_sparse_moe.experts.%d.%s.weight", layer, expert, w)
		}
	}
	return tensorNames{
		ropeHalf:   true,
		embedding:  "model.embed_tokens.weight",
		outputNorm: "model.norm.weight",
		output:     []string{"lm_head.weight", "model.embed_tokens.weight"},
		attnNorm:   l("input_layernorm.weight"),
		ffnNorm:    l("post_attention_layernorm.weight"),
		wq:         l("self_attn.q_proj.weight"),
		wk:         l("self_attn.k_proj.weight"),
		wv:         l("self_attn.v_proj.weight"),
		wo:         l("self_attn.o_proj.weight"),
		ffnUp:      l("mlp.up_proj.weight"),
		ffnGate:    l("mlp.gate_proj.weight"),
		ffnDown:    l("mlp.down_proj.weight"),
		router:     l("block_sparse_moe.gate.weight"),
		expertGate: e("w1"),
		expertDown: e("w2"),
		expertUp:   e("w3"),
	}
}

// ggufNames are the llama.cpp names.
func ggufNames() tensorNames {
	l := func(suffix string) func(int) string {
		return func(layer int) string { return fmt.Sprintf("blk.%d.%s.weight", layer, suffix) }
	}
	e := func(w string) func(int, int) string {
		return func(layer, expert int) string { return fmt.Sprintf("blk.%d.%s.%d.weight", layer, w, expert) }
	}
	return tensorNames{
		embedding:  "token_embd.weight",
		outputNorm: "output_norm.weight",
		output:     []string{"output.weight", "token_embd.weight"},
		attnNorm:   l("attn_norm"),
		ffnNorm:    l("ffn_norm"),
		wq:         l("attn_q"),
		wk:         l("attn_k"),
		wv:         l("attn_v"),
		wo:         l("attn_output"),
		ffnUp:      l("ffn_up"),
		ffnGate:    l("ffn_gate"),
		ffnDown:    l("ffn_down"),
		router:     l("ffn_gate_inp"),
		expertGate: e("ffn_gate"),
		expertDown: e("ffn_down"),
		expertUp:   e("ffn_up"),
	}
}
