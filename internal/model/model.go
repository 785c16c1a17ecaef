// Package model loads Mistral-family checkpoints and exposes a single
// forward step to the generation loop.
package model

import (
	"errors"

	"github.com/samcharles93/llmfunc/internal/device"
	"github.com/samcharles93/llmfunc/internal/errs"
	"github.com/samcharles93/llmfunc/internal/hub"
	"github.com/samcharles93/llmfunc/internal/logger"
	"github.com/samcharles93/llmfunc/internal/tokenizer"
)

// Model is a loaded language model with its tokenizer.
type Model interface {
	// Forward feeds tokens at position offset and returns next-token logits.
	Forward(tokens []int, offset int) ([]float32, error)
	Tokenizer() tokenizer.Tokenizer
	Device() device.Device
	Params() Params
	// Name identifies the checkpoint, for logs and cache keys.
	Name() string
	// Reset clears the KV cache.
	Reset()
	Close() error
}

// Option configures loading.
type Option func(*loadOptions)

type loadOptions struct {
	log    logger.Logger
	hub    *hub.Client
	config *Config
}

// WithLogger sets the logger used during loading and inference.
func WithLogger(l logger.Logger) Option { return func(o *loadOptions) { o.log = l } }

// WithHub sets the hub client used by the FromHub loaders.
func WithHub(c *hub.Client) Option { return func(o *loadOptions) { o.hub = c } }

// WithConfig overrides the configuration read from the checkpoint.
func WithConfig(c Config) Option { return func(o *loadOptions) { o.config = &c } }

func applyOptions(opts []Option) loadOptions {
	o := loadOptions{log: logger.Nop()}
	for _, fn := range opts {
		fn(&o)
	}
	if o.hub == nil {
		o.hub = hub.New(hub.WithLogger(o.log))
	}
	return o
}

// base holds what every variant shares.
type base struct {
	name   string
	t      *Transformer
	tok    *tokenizer.HFTokenizer
	dev    device.Device
	params Params
	log    logger.Logger
	close  func() error
}

func (b *base) Forward(tokens []int, offset int) ([]float32, error) {
	return b.t.Forward(tokens, offset)
}

func (b *base) Tokenizer() tokenizer.Tokenizer { return b.tok }
func (b *base) Device() device.Device          { return b.dev }
func (b *base) Params() Params                 { return b.params }
func (b *base) Name() string                   { return b.name }
func (b *base) Reset()                         { b.t.Reset() }

// Transformer exposes the decoder for inspection.
func (b *base) Transformer() *Transformer { return b.t }

func (b *base) Close() error {
	if b.t != nil {
		b.t.Close()
	}
	if b.close != nil {
		err := b.close()
		b.close = nil
		return err
	}
	return nil
}

func prepare(params Params, o loadOptions) (device.Device, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	dev := device.Choose(params.ForceCPU, o.log)
	device.LogCapabilities(o.log, dev, params.UseFlashAttn)
	return dev, nil
}

func loadTokenizer(path string) (*tokenizer.HFTokenizer, error) {
	tok, err := tokenizer.LoadHFTokenizer(path, "")
	if err != nil {
		return nil, err
	}
	if _, ok := tok.TokenToID(tokenizer.EOS); !ok {
		return nil, errs.New(errs.ErrEncoding, "load tokenizer", "cannot find the %s token", tokenizer.EOS)
	}
	return tok, nil
}

func tensorErr(op string, err error) error {
	var e *errs.Error
	if errors.As(err, &e) {
		return err
	}
	return errs.Wrap(errs.ErrTensor, op, err)
}
