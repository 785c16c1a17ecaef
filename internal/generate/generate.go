// Package generate runs the autoregressive sampling loop: encode the
// prompt, step the model one token at a time with a repeat penalty, and
// stream decoded text until the end token or the token budget.
package generate

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/samcharles93/llmfunc/internal/device"
	"github.com/samcharles93/llmfunc/internal/errs"
	"github.com/samcharles93/llmfunc/internal/logger"
	"github.com/samcharles93/llmfunc/internal/logits"
	"github.com/samcharles93/llmfunc/internal/model"
	"github.com/samcharles93/llmfunc/internal/telemetry"
	"github.com/samcharles93/llmfunc/internal/tokenizer"
)

// Forwarder is the model capability the loop needs.
type Forwarder interface {
	Forward(tokens []int, offset int) ([]float32, error)
}

// Phase is a state of one run.
type Phase int

const (
	Priming Phase = iota
	Decoding
	Done
	Flushing
)

func (p Phase) String() string {
	switch p {
	case Priming:
		return "priming"
	case Decoding:
		return "decoding"
	case Done:
		return "done"
	case Flushing:
		return "flushing"
	default:
		return "unknown"
	}
}

// StopReason says why decoding ended.
type StopReason string

const (
	StopEOS    StopReason = "eos"
	StopLength StopReason = "length"
)

// Stats are per-run timings.
type Stats struct {
	Duration        time.Duration
	TokensPerSecond float64
}

// Result is the output of a run. On error it holds whatever was produced
// before the failure.
type Result struct {
	Text string
	// Tokens are the generated ids, end token excluded.
	Tokens       []int
	PromptTokens int
	Stop         StopReason
	Stats        Stats
}

// Option configures a Generator.
type Option func(*Generator)

// WithStream delivers text fragments as soon as they decode.
func WithStream(fn func(string)) Option { return func(g *Generator) { g.onText = fn } }

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option { return func(g *Generator) { g.log = l } }

// WithTracer sets the tracer used for the generate.run span.
func WithTracer(t trace.Tracer) Option { return func(g *Generator) { g.tracer = t } }

// WithPhaseHook is called on every phase transition.
func WithPhaseHook(fn func(Phase)) Option { return func(g *Generator) { g.onPhase = fn } }

// Generator owns a token stream and is not safe for concurrent use. The
// model's cache is rewound on every run, so runs must not interleave.
type Generator struct {
	model  Forwarder
	tok    tokenizer.Tokenizer
	params model.Params
	stream *tokenizer.TokenStream

	onText  func(string)
	onPhase func(Phase)
	log     logger.Logger
	tracer  trace.Tracer
}

// New builds a generator. params are validated by Run.
func New(m Forwarder, tok tokenizer.Tokenizer, params model.Params, opts ...Option) *Generator {
	g := &Generator{
		model:  m,
		tok:    tok,
		params: params,
		stream: tokenizer.NewTokenStream(tok),
		log:    logger.Nop(),
		tracer: telemetry.Tracer("github.com/samcharles93/llmfunc/internal/generate"),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Params returns the generation settings.
func (g *Generator) Params() model.Params { return g.params }

func (g *Generator) enter(p Phase) {
	if g.onPhase != nil {
		g.onPhase(p)
	}
}

// Run generates a completion for prompt. The prompt itself is not part of
// the returned text.
func (g *Generator) Run(ctx context.Context, prompt string) (res *Result, err error) {
	res = &Result{}
	start := time.Now()
	ctx, span := g.tracer.Start(ctx, "generate.run")
	var text strings.Builder
	defer func() {
		res.Text = text.String()
		res.Stats.Duration = time.Since(start)
		if secs := res.Stats.Duration.Seconds(); secs > 0 {
			res.Stats.TokensPerSecond = float64(len(res.Tokens)) / secs
		}
		span.SetAttributes(
			attribute.Int("llmfunc.prompt_tokens", res.PromptTokens),
			attribute.Int("llmfunc.generated_tokens", len(res.Tokens)),
			attribute.String("llmfunc.stop_reason", string(res.Stop)),
		)
		telemetry.End(span, err)
	}()

	if err := g.params.Validate(); err != nil {
		return res, err
	}
	p := g.params

	g.enter(Priming)
	g.stream.Reset()
	tokens, err := g.tok.Encode(prompt)
	if err != nil {
		return res, errs.Wrap(errs.ErrEncoding, "encode prompt", err)
	}
	res.PromptTokens = len(tokens)
	eos, ok := g.tok.TokenToID(tokenizer.EOS)
	if !ok {
		return res, errs.New(errs.ErrEncoding, "generate", "cannot find the %s token", tokenizer.EOS)
	}

	sampler := logits.NewSampler(logits.SamplerConfig{
		Seed:        p.Seed,
		Temperature: p.Temperature,
		TopP:        p.TopP,
		TopK:        p.TopK,
	})
	g.log.Debug("generation started",
		"prompt_tokens", len(tokens),
		"max_tokens", p.MaxTokens,
		"seed", p.Seed,
		"greedy", sampler.Greedy(),
		"repeat_penalty", p.RepeatPenalty,
		"repeat_last_n", p.RepeatLastN,
		"cpu_features", strings.Join(device.Features(), ","),
	)

	emit := func(s string) {
		text.WriteString(s)
		if g.onText != nil {
			g.onText(s)
		}
	}

	g.enter(Decoding)
	for i := range p.MaxTokens {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		ctxSize := len(tokens)
		if i > 0 {
			ctxSize = 1
		}
		startPos := len(tokens) - ctxSize
		lg, err := g.model.Forward(tokens[startPos:], startPos)
		if err != nil {
			if errs.KindOf(err) == nil {
				err = errs.Wrap(errs.ErrTensor, "forward", err)
			}
			return res, err
		}
		if p.RepeatPenalty != 1 {
			lg = logits.ApplyRepeatPenalty(lg, p.RepeatPenalty, logits.Window(tokens, p.RepeatLastN))
		}

		next := sampler.Sample(lg)
		tokens = append(tokens, next)
		if next == eos {
			res.Stop = StopEOS
			break
		}
		res.Tokens = append(res.Tokens, next)
		s, ok, err := g.stream.Next(next)
		if err != nil {
			return res, errs.Wrap(errs.ErrEncoding, "decode", err)
		}
		if ok {
			emit(s)
		}
	}
	if res.Stop == "" {
		res.Stop = StopLength
	}
	g.enter(Done)

	g.enter(Flushing)
	s, ok, err := g.stream.Flush()
	if err != nil {
		return res, errs.Wrap(errs.ErrEncoding, "decode", err)
	}
	if ok {
		emit(s)
	}

	g.log.Debug("generation finished",
		"generated_tokens", len(res.Tokens),
		"stop", res.Stop,
		"elapsed", time.Since(start),
	)
	return res, nil
}
