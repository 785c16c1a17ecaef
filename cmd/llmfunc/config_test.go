package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/llmfunc/internal/model"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadConfigYAML(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "config.yaml", `
model: mixtral
model_dir: /models/mixtral
seed: 42
temperature: 0.5
cpu: true
log_format: json
cache: redis://localhost:6379/0
cache_ttl: 5m
`)
	cfg, err := LoadConfig(p)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Model != "mixtral" || cfg.ModelDir != "/models/mixtral" || cfg.LogFormat != "json" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Seed == nil || *cfg.Seed != 42 {
		t.Fatalf("seed = %v", cfg.Seed)
	}
	if cfg.Temperature == nil || *cfg.Temperature != 0.5 {
		t.Fatalf("temperature = %v", cfg.Temperature)
	}
	if cfg.MaxTokens != nil {
		t.Fatalf("max tokens should be unset, got %d", *cfg.MaxTokens)
	}
	if cfg.CPU == nil || !*cfg.CPU || cfg.Cache != "redis://localhost:6379/0" || cfg.CacheTTL != "5m" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoadConfigTOML(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "llmfunc.toml", `
model = "quantized-mistral"
functions = "fns.json"
max_tokens = 12
repeat_penalty = 1.3
top_p = 0.9
`)
	cfg, err := LoadConfig(p)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Model != "quantized-mistral" || cfg.Functions != "fns.json" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.MaxTokens == nil || *cfg.MaxTokens != 12 {
		t.Fatalf("max tokens = %v", cfg.MaxTokens)
	}
	if cfg.RepeatPenalty == nil || *cfg.RepeatPenalty != 1.3 || cfg.TopP == nil || *cfg.TopP != 0.9 {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if _, err := LoadConfig(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatal("expected error for a missing explicit config")
	}
	bad := writeFile(t, dir, "bad.toml", "model = [")
	if _, err := LoadConfig(bad); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadConfigDefaultMissing(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg != (Config{}) {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func runParams(t *testing.T, cfg Config, args ...string) model.Params {
	t.Helper()
	var (
		s   sampling
		got model.Params
	)
	cmd := &cli.Command{
		Name:  "test",
		Flags: samplingFlags(&s),
		Action: func(ctx context.Context, c *cli.Command) error {
			got = s.params(c, cfg)
			return nil
		},
	}
	if err := cmd.Run(context.Background(), append([]string{"test"}, args...)); err != nil {
		t.Fatal(err)
	}
	return got
}

func TestSamplingDefaults(t *testing.T) {
	t.Parallel()
	got := runParams(t, Config{})
	want := model.DefaultParams()
	if got.Seed != want.Seed || got.MaxTokens != want.MaxTokens || got.RepeatLastN != want.RepeatLastN || !got.ForceCPU {
		t.Fatalf("params = %+v", got)
	}
	if got.RepeatPenalty != want.RepeatPenalty {
		t.Fatalf("repeat penalty = %v, want %v", got.RepeatPenalty, want.RepeatPenalty)
	}
	if got.Temperature != nil || got.TopP != nil || !got.Greedy() {
		t.Fatalf("sampling should be greedy by default: %+v", got)
	}
}

func TestSamplingFlagsOverrideConfig(t *testing.T) {
	t.Parallel()
	seed := uint64(7)
	maxTokens := 5
	temp := 0.8
	cfg := Config{Seed: &seed, MaxTokens: &maxTokens, Temperature: &temp}

	got := runParams(t, cfg, "--seed", "99", "--top-p", "0.5")
	if got.Seed != 99 {
		t.Fatalf("seed = %d, want flag value 99", got.Seed)
	}
	if got.MaxTokens != 5 {
		t.Fatalf("max tokens = %d, want config value 5", got.MaxTokens)
	}
	if got.Temperature == nil || *got.Temperature != 0.8 {
		t.Fatalf("temperature = %v", got.Temperature)
	}
	if got.TopP == nil || *got.TopP != 0.5 {
		t.Fatalf("top p = %v", got.TopP)
	}
}

func TestApplyServeConfig(t *testing.T) {
	t.Parallel()
	var (
		addr  string
		cache string
		ttl   time.Duration
	)
	cfg := Config{ServerAddress: "0.0.0.0:9000", Cache: "none", CacheTTL: "90s"}
	cmd := &cli.Command{
		Name: "test",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Value: "127.0.0.1:8080", Destination: &addr},
			&cli.StringFlag{Name: "cache", Value: "memory", Destination: &cache},
			&cli.DurationFlag{Name: "cache-ttl", Destination: &ttl},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return applyServeConfig(c, cfg, &addr, &cache, &ttl)
		},
	}
	if err := cmd.Run(context.Background(), []string{"test", "--cache", "memory"}); err != nil {
		t.Fatal(err)
	}
	if addr != "0.0.0.0:9000" || cache != "memory" || ttl != 90*time.Second {
		t.Fatalf("addr=%q cache=%q ttl=%v", addr, cache, ttl)
	}
}
