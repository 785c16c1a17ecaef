package model

import "github.com/samcharles93/llmfunc/internal/errs"

// Params are the user supplied generation settings.
type Params struct {
	Seed          uint64
	MaxTokens     int
	RepeatPenalty float32
	RepeatLastN   int
	// Temperature nil or <= 0 selects greedy decoding.
	Temperature  *float64
	TopP         *float64
	TopK         int
	UseFlashAttn bool
	ForceCPU     bool
	// MaxContext caps the KV cache. Zero uses the model's limit.
	MaxContext int
}

// DefaultParams returns the stock settings.
func DefaultParams() Params {
	return Params{
		Seed:          299792458,
		MaxTokens:     100,
		RepeatPenalty: 1.1,
		RepeatLastN:   64,
		ForceCPU:      true,
	}
}

// Greedy reports whether sampling is deterministic arg-max.
func (p Params) Greedy() bool {
	return p.Temperature == nil || *p.Temperature <= 0
}

// Validate rejects settings the sampling loop cannot honour.
func (p Params) Validate() error {
	switch {
	case p.MaxTokens < 0:
		return errs.New(errs.ErrInvalidArgument, "params", "max tokens must be >= 0, got %d", p.MaxTokens)
	case p.RepeatPenalty < 0:
		return errs.New(errs.ErrInvalidArgument, "params", "repeat penalty must be >= 0, got %g", p.RepeatPenalty)
	case p.RepeatLastN < 0:
		return errs.New(errs.ErrInvalidArgument, "params", "repeat last n must be >= 0, got %d", p.RepeatLastN)
	case p.TopP != nil && (*p.TopP <= 0 || *p.TopP > 1):
		return errs.New(errs.ErrInvalidArgument, "params", "top-p must be in (0, 1], got %g", *p.TopP)
	case p.TopK < 0:
		return errs.New(errs.ErrInvalidArgument, "params", "top-k must be >= 0, got %d", p.TopK)
	case p.MaxContext < 0:
		return errs.New(errs.ErrInvalidArgument, "params", "max context must be >= 0, got %d", p.MaxContext)
	}
	return nil
}
