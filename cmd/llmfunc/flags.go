package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/llmfunc/internal/functions"
	"github.com/samcharles93/llmfunc/internal/logger"
	"github.com/samcharles93/llmfunc/internal/model"
	"github.com/samcharles93/llmfunc/internal/telemetry"
	"github.com/samcharles93/llmfunc/internal/version"
)

const envFunctions = "LLMFUNC_FUNCTIONS"

// common holds the flags every command shares and the state built from them
// in Before.
type common struct {
	configPath   string
	logLevel     string
	logFormat    string
	debug        bool
	trace        bool
	otlpEndpoint string

	cfg      Config
	shutdown telemetry.Shutdown
}

func (o *common) flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Usage:       "config file (.yaml or .toml)",
			Destination: &o.configPath,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &o.logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &o.logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &o.debug,
		},
		&cli.BoolFlag{
			Name:        "trace",
			Usage:       "export generation spans (stdout, or OTLP when an endpoint is set)",
			Destination: &o.trace,
		},
		&cli.StringFlag{
			Name:        "otlp-endpoint",
			Usage:       "OTLP/gRPC collector address",
			Sources:     cli.EnvVars("OTEL_EXPORTER_OTLP_ENDPOINT"),
			Destination: &o.otlpEndpoint,
		},
	}
}

// before loads the config file, installs the logger in ctx and starts
// tracing when asked.
func (o *common) before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	cfg, err := LoadConfig(o.configPath)
	if err != nil {
		return ctx, err
	}
	o.cfg = cfg
	if cfg.LogLevel != "" && !cmd.IsSet("log-level") {
		o.logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !cmd.IsSet("log-format") {
		o.logFormat = cfg.LogFormat
	}
	if cfg.OTLPEndpoint != "" && !cmd.IsSet("otlp-endpoint") {
		o.otlpEndpoint = cfg.OTLPEndpoint
	}
	if o.debug {
		o.logLevel = "debug"
	}

	log, err := logger.ForFormat(os.Stderr, o.logFormat, o.logLevel)
	if err != nil {
		return ctx, err
	}
	ctx = logger.WithContext(ctx, log)

	if o.trace {
		shutdown, err := telemetry.Init(ctx, telemetry.Config{
			ServiceName:    "llmfunc",
			ServiceVersion: version.String(),
			Endpoint:       o.otlpEndpoint,
			Logger:         log,
		})
		if err != nil {
			return ctx, err
		}
		o.shutdown = shutdown
	}
	return ctx, nil
}

func (o *common) after(ctx context.Context, cmd *cli.Command) error {
	if o.shutdown == nil {
		return nil
	}
	return o.shutdown(context.WithoutCancel(ctx))
}

// sampling mirrors model.Params as flag destinations.
type sampling struct {
	seed           uint64
	maxTokens      int
	repeatPenalty  float64
	repeatLastN    int
	temperature    float64
	temperatureSet bool
	topP           float64
	topPSet        bool
	topK           int
	maxContext     int
	cpu            bool
	flashAttn      bool
}

func samplingFlags(s *sampling) []cli.Flag {
	d := model.DefaultParams()
	return []cli.Flag{
		&cli.Uint64Flag{
			Name:        "seed",
			Usage:       "sampling seed",
			Value:       d.Seed,
			Destination: &s.seed,
		},
		&cli.IntFlag{
			Name:        "max-tokens",
			Aliases:     []string{"n", "sample-len"},
			Usage:       "maximum number of generated tokens",
			Value:       d.MaxTokens,
			Destination: &s.maxTokens,
		},
		&cli.Float64Flag{
			Name:        "repeat-penalty",
			Usage:       "penalty for repeated tokens (1 disables)",
			Value:       float64(d.RepeatPenalty),
			Destination: &s.repeatPenalty,
		},
		&cli.IntFlag{
			Name:        "repeat-last-n",
			Usage:       "context size considered by the repeat penalty",
			Value:       d.RepeatLastN,
			Destination: &s.repeatLastN,
		},
		&cli.Float64Flag{
			Name:        "temperature",
			Aliases:     []string{"temp", "t"},
			Usage:       "sampling temperature (unset or <= 0 is greedy)",
			Destination: &s.temperature,
		},
		&cli.Float64Flag{
			Name:        "top-p",
			Usage:       "nucleus sampling cutoff",
			Destination: &s.topP,
		},
		&cli.IntFlag{
			Name:        "top-k",
			Usage:       "keep only the k most likely tokens (0 disables)",
			Destination: &s.topK,
		},
		&cli.IntFlag{
			Name:        "max-context",
			Usage:       "cap on the KV cache length (0 uses the model limit)",
			Destination: &s.maxContext,
		},
		&cli.BoolFlag{
			Name:        "cpu",
			Usage:       "run on the CPU",
			Value:       d.ForceCPU,
			Destination: &s.cpu,
		},
		&cli.BoolFlag{
			Name:        "flash-attn",
			Usage:       "request flash attention",
			Destination: &s.flashAttn,
		},
	}
}

// params builds generation params from flags and config.
func (s *sampling) params(cmd *cli.Command, cfg Config) model.Params {
	applySamplingConfig(cmd, cfg, s)
	p := model.Params{
		Seed:          s.seed,
		MaxTokens:     s.maxTokens,
		RepeatPenalty: float32(s.repeatPenalty),
		RepeatLastN:   s.repeatLastN,
		TopK:          s.topK,
		UseFlashAttn:  s.flashAttn,
		ForceCPU:      s.cpu,
		MaxContext:    s.maxContext,
	}
	if s.temperatureSet || cmd.IsSet("temperature") {
		t := s.temperature
		p.Temperature = &t
	}
	if s.topPSet || cmd.IsSet("top-p") {
		v := s.topP
		p.TopP = &v
	}
	return p
}

// modelSource selects which checkpoint to load and from where.
type modelSource struct {
	kind     string
	dir      string
	repo     string
	revision string
	weights  string
}

func sourceFlags(src *modelSource) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "model",
			Aliases:     []string{"m"},
			Usage:       "model family (quantized-mistral, mixtral)",
			Value:       modelQuantizedMistral,
			Destination: &src.kind,
		},
		&cli.StringFlag{
			Name:        "model-dir",
			Usage:       "load from a local directory instead of the hub",
			Destination: &src.dir,
		},
		&cli.StringFlag{
			Name:        "hub-repo",
			Usage:       "hub repository id",
			Destination: &src.repo,
		},
		&cli.StringFlag{
			Name:        "revision",
			Usage:       "hub revision",
			Value:       "main",
			Destination: &src.revision,
		},
		&cli.StringFlag{
			Name:        "weights",
			Usage:       "weights file name inside --model-dir for quantized-mistral",
			Value:       model.QuantizedMistralWeights,
			Destination: &src.weights,
		},
	}
}

func functionsFlag(dst *string) cli.Flag {
	return &cli.StringFlag{
		Name:        "functions",
		Aliases:     []string{"f"},
		Usage:       "function catalog JSON file",
		Sources:     cli.EnvVars(envFunctions),
		Destination: dst,
	}
}

func promptFlag(dst *string) cli.Flag {
	return &cli.StringFlag{
		Name:        "prompt",
		Aliases:     []string{"p"},
		Usage:       "user instruction (defaults to the positional arguments)",
		Destination: dst,
	}
}

// resolvePrompt prefers --prompt and falls back to the joined arguments.
func resolvePrompt(flag string, args []string) (string, error) {
	if strings.TrimSpace(flag) != "" {
		return flag, nil
	}
	if p := strings.TrimSpace(strings.Join(args, " ")); p != "" {
		return p, nil
	}
	return "", fmt.Errorf("--prompt is required")
}

// loadCatalog reads the catalog named by the flag, env or config.
func loadCatalog(path string, cfg Config) (*functions.Catalog, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		path = strings.TrimSpace(cfg.Functions)
	}
	if path == "" {
		return nil, fmt.Errorf("--functions or %s is required", envFunctions)
	}
	return functions.Load(path)
}
