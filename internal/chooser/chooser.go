// Package chooser asks the model which catalog function answers a prompt.
package chooser

import (
	"context"
	"sync"

	"github.com/goccy/go-json"

	"github.com/samcharles93/llmfunc/internal/errs"
	"github.com/samcharles93/llmfunc/internal/functions"
	"github.com/samcharles93/llmfunc/internal/generate"
	"github.com/samcharles93/llmfunc/internal/logger"
	"github.com/samcharles93/llmfunc/internal/model"
	"github.com/samcharles93/llmfunc/internal/prompter"
)

// Call is the model's choice.
type Call struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	// Known reports whether Name is in the catalog.
	Known  bool   `json:"known"`
	Raw    string `json:"raw"`
	Prompt string `json:"prompt,omitempty"`
}

// Request overrides the chooser defaults for one call.
type Request struct {
	Prompt  string
	Catalog *functions.Catalog
	Params  *model.Params
	Stream  func(string)
}

// Option configures a Chooser.
type Option func(*Chooser)

// WithParams replaces the model's own generation params.
func WithParams(p model.Params) Option { return func(c *Chooser) { c.params = p } }

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option { return func(c *Chooser) { c.log = l } }

// Chooser serialises access to one model.
type Chooser struct {
	mu      sync.Mutex
	model   model.Model
	catalog *functions.Catalog
	params  model.Params
	log     logger.Logger
}

// New wraps m with a default catalog.
func New(m model.Model, c *functions.Catalog, opts ...Option) *Chooser {
	ch := &Chooser{
		model:   m,
		catalog: c,
		params:  m.Params(),
		log:     logger.Nop(),
	}
	for _, o := range opts {
		o(ch)
	}
	return ch
}

// Model returns the wrapped model.
func (c *Chooser) Model() model.Model { return c.model }

// Catalog returns the default catalog.
func (c *Chooser) Catalog() *functions.Catalog { return c.catalog }

// Params returns the default generation params.
func (c *Chooser) Params() model.Params { return c.params }

// Choose renders prompt against the default catalog and parses the
// completion.
func (c *Chooser) Choose(ctx context.Context, prompt string) (*Call, error) {
	call, _, err := c.Do(ctx, Request{Prompt: prompt})
	return call, err
}

// Do runs one request. The generation result is returned even when the run
// fails part way.
func (c *Chooser) Do(ctx context.Context, req Request) (*Call, *generate.Result, error) {
	catalog := req.Catalog
	if catalog == nil {
		catalog = c.catalog
	}
	if catalog == nil {
		return nil, nil, errs.New(errs.ErrInvalidArgument, "choose", "no function catalog")
	}
	params := c.params
	if req.Params != nil {
		params = *req.Params
	}

	text, err := prompter.Render(req.Prompt, catalog)
	if err != nil {
		return nil, nil, err
	}

	opts := []generate.Option{generate.WithLogger(c.log)}
	if req.Stream != nil {
		opts = append(opts, generate.WithStream(req.Stream))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	gen := generate.New(c.model, c.model.Tokenizer(), params, opts...)
	res, err := gen.Run(ctx, text)
	if err != nil {
		return nil, res, err
	}

	call := Parse(res.Text, catalog)
	call.Prompt = text
	c.log.Info("function chosen",
		"name", call.Name,
		"known", call.Known,
		"tokens", len(res.Tokens),
		"stop", res.Stop,
		"tokens_per_second", res.Stats.TokensPerSecond,
	)
	return call, res, nil
}

// Parse builds a Call from a completion.
func Parse(completion string, catalog *functions.Catalog) *Call {
	name, args := ParseCompletion(completion)
	call := &Call{Name: name, Arguments: args, Raw: completion}
	if catalog != nil {
		_, call.Known = catalog.Lookup(name)
	}
	return call
}
