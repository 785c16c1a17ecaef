package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/llmfunc/internal/gguf"
	"github.com/samcharles93/llmfunc/internal/model"
	"github.com/samcharles93/llmfunc/internal/safetensors"
)

func inspectCmd() *cli.Command {
	var (
		co          common
		showKV      bool
		showTensors int
		showLayers  bool
	)

	return &cli.Command{
		Name:      "inspect",
		Usage:     "Print metadata and tensor layout of a .gguf or .safetensors file",
		ArgsUsage: "<path>",
		Flags: append(co.flags(),
			&cli.BoolFlag{
				Name:        "kv",
				Usage:       "show all GGUF metadata key/values",
				Destination: &showKV,
			},
			&cli.IntFlag{
				Name:        "tensors",
				Usage:       "number of tensors to list (0 to skip, -1 for all)",
				Value:       20,
				Destination: &showTensors,
			},
			&cli.BoolFlag{
				Name:        "layers",
				Usage:       "show per-layer tensor summary",
				Value:       true,
				Destination: &showLayers,
			},
		),
		Before: co.before,
		After:  co.after,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() < 1 {
				return fmt.Errorf("usage: llmfunc inspect [--kv] [--tensors N] <path>")
			}
			path := cmd.Args().First()
			w := os.Stdout
			if strings.EqualFold(filepath.Ext(path), ".safetensors") {
				return inspectSafetensors(w, path, showTensors, showLayers)
			}
			return inspectGGUF(w, path, showKV, showTensors, showLayers)
		},
	}
}

func inspectGGUF(w io.Writer, path string, showKV bool, n int, showLayers bool) error {
	f, err := gguf.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	fmt.Fprintf(w, "File: %s\n", path)
	fmt.Fprintf(w, "GGUF v%d | tensors=%d | kv=%d | alignment=%d | data_offset=%d\n",
		f.Header.Version, f.Header.TensorCount, f.Header.KVCount, f.Alignment, f.DataOffset)
	for _, key := range []string{
		"general.name",
		"general.architecture",
		"general.file_type",
		"tokenizer.ggml.model",
		"tokenizer.ggml.bos_token_id",
		"tokenizer.ggml.eos_token_id",
	} {
		printKey(w, f, key)
	}

	cfg, fromMeta, err := model.ConfigFromGGUF(f)
	switch {
	case err != nil:
		fmt.Fprintf(w, "\nModel params: %v\n", err)
	case fromMeta:
		printConfig(w, cfg)
	default:
		fmt.Fprintln(w, "\nModel params: none in metadata (candle export, loaded with the Mistral 7B preset)")
	}

	if showKV {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "All metadata:")
		keys := make([]string, 0, len(f.KV))
		for k := range f.KV {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "  %s = %s\n", k, formatValue(f.KV[k]))
		}
	}

	if n != 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Tensors:")
		count := len(f.Tensors)
		if n < 0 || n > count {
			n = count
		}
		for _, t := range f.Tensors[:n] {
			fmt.Fprintf(w, "  %-40s %-6s dims=%s off=%d\n", t.Name, t.Type.String(), formatDims(t.Dims), t.Offset)
		}
		if n < count {
			fmt.Fprintf(w, "  ... (%d more)\n", count-n)
		}
	}

	if showLayers {
		names := make([]string, len(f.Tensors))
		for i, t := range f.Tensors {
			names[i] = t.Name
		}
		printLayers(w, names)
	}
	return nil
}

func inspectSafetensors(w io.Writer, path string, n int, showLayers bool) error {
	f, err := safetensors.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	names := f.Names()
	fmt.Fprintf(w, "File: %s\n", path)
	fmt.Fprintf(w, "safetensors | tensors=%d\n", len(names))
	if n != 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Tensors:")
		if n < 0 || n > len(names) {
			n = len(names)
		}
		for _, name := range names[:n] {
			t, _ := f.Tensor(name)
			fmt.Fprintf(w, "  %-48s %-5s shape=%v bytes=%d\n", name, t.DType, t.Shape, t.End-t.Start)
		}
		if n < len(names) {
			fmt.Fprintf(w, "  ... (%d more)\n", len(names)-n)
		}
	}
	if showLayers {
		printLayers(w, names)
	}
	return nil
}

func printConfig(w io.Writer, cfg model.Config) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Model params:")
	fmt.Fprintf(w, "  architecture:    %s\n", cfg.Architecture)
	fmt.Fprintf(w, "  layers:          %d\n", cfg.NumLayers)
	fmt.Fprintf(w, "  hidden:          %d\n", cfg.HiddenSize)
	fmt.Fprintf(w, "  ffn:             %d\n", cfg.IntermediateSize)
	fmt.Fprintf(w, "  heads:           %d\n", cfg.NumHeads)
	fmt.Fprintf(w, "  kv_heads:        %d\n", cfg.NumKVHeads)
	fmt.Fprintf(w, "  head_dim:        %d\n", cfg.HeadDim)
	fmt.Fprintf(w, "  vocab:           %d\n", cfg.VocabSize)
	fmt.Fprintf(w, "  ctx_len:         %d\n", cfg.MaxPositions)
	fmt.Fprintf(w, "  sliding_window:  %d\n", cfg.SlidingWindow)
	fmt.Fprintf(w, "  rope_theta:      %g\n", cfg.RopeTheta)
	fmt.Fprintf(w, "  rms_eps:         %g\n", cfg.RMSNormEps)
	if cfg.IsMoE() {
		fmt.Fprintf(w, "  experts:         %d (top %d)\n", cfg.NumExperts, cfg.ExpertsPerTok)
	}
}

type layerInfo struct {
	tensors int
	attn    bool
	experts map[int]struct{}
	dense   bool
}

// printLayers summarises tensors per decoder layer for both llama.cpp and
// Hugging Face names.
func printLayers(w io.Writer, names []string) {
	layers := map[int]*layerInfo{}
	for _, name := range names {
		idx, suffix, ok := parseLayerName(name)
		if !ok {
			continue
		}
		info := layers[idx]
		if info == nil {
			info = &layerInfo{experts: map[int]struct{}{}}
			layers[idx] = info
		}
		info.tensors++
		switch {
		case strings.Contains(suffix, "attn"):
			info.attn = true
		case strings.Contains(suffix, "experts."):
			if e, ok := expertIndex(suffix); ok {
				info.experts[e] = struct{}{}
			}
		case strings.HasPrefix(suffix, "ffn_gate.") || strings.HasPrefix(suffix, "ffn_up.") || strings.HasPrefix(suffix, "mlp."):
			if e, ok := expertIndex(suffix); ok {
				info.experts[e] = struct{}{}
			} else {
				info.dense = true
			}
		}
	}
	if len(layers) == 0 {
		return
	}

	idxs := make([]int, 0, len(layers))
	for i := range layers {
		idxs = append(idxs, i)
	}
	slices.Sort(idxs)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Layer summary:")
	for _, i := range idxs {
		info := layers[i]
		fmt.Fprintf(w, "  layer %02d: tensors=%d attn=%v dense_ffn=%v experts=%d\n",
			i, info.tensors, info.attn, info.dense, len(info.experts))
	}
}

func parseLayerName(name string) (int, string, bool) {
	var rest string
	switch {
	case strings.HasPrefix(name, "blk."):
		rest = strings.TrimPrefix(name, "blk.")
	case strings.HasPrefix(name, "model.layers."):
		rest = strings.TrimPrefix(name, "model.layers.")
	default:
		return 0, "", false
	}
	parts := strings.SplitN(rest, ".", 2)
	if len(parts) != 2 {
		return 0, "", false
	}
	idx, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, "", false
	}
	return idx, parts[1], true
}

// expertIndex finds the expert number in "…experts.3.w1.weight" or
// "ffn_gate.3.weight".
func expertIndex(suffix string) (int, bool) {
	parts := strings.Split(suffix, ".")
	for i, p := range parts {
		if (p == "experts" || p == "ffn_gate" || p == "ffn_up" || p == "ffn_down") && i+1 < len(parts) {
			if e, err := strconv.Atoi(parts[i+1]); err == nil {
				return e, true
			}
		}
	}
	return 0, false
}

func printKey(w io.Writer, f *gguf.File, key string) {
	if v, ok := f.KV[key]; ok {
		fmt.Fprintf(w, "  %-36s %s\n", key+":", formatValue(v))
	}
}

func formatDims(dims []uint64) string {
	if len(dims) == 0 {
		return "[]"
	}
	parts := make([]string, len(dims))
	for i, v := range dims {
		parts[i] = strconv.FormatUint(v, 10)
	}
	return "[" + strings.Join(parts, "x") + "]"
}

func formatValue(v gguf.Value) string {
	switch val := v.Value.(type) {
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case gguf.ArrayValue:
		return fmt.Sprintf("array(type=%d) len=%d", val.ElemType, len(val.Values))
	default:
		return fmt.Sprintf("%v", val)
	}
}
