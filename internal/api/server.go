// Package api serves function calling over HTTP.
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/llmfunc/internal/callcache"
	"github.com/samcharles93/llmfunc/internal/chooser"
	"github.com/samcharles93/llmfunc/internal/functions"
	"github.com/samcharles93/llmfunc/internal/generate"
	"github.com/samcharles93/llmfunc/internal/logger"
	"github.com/samcharles93/llmfunc/internal/model"
	"github.com/samcharles93/llmfunc/internal/prompter"
)

type Server struct {
	chooser *chooser.Chooser
	catalog *functions.Catalog
	cache   callcache.Cache
	log     logger.Logger
	clock   func() time.Time
	newID   func() string
}

// Option configures a Server.
type Option func(*Server)

// WithCache memoises greedy requests in c.
func WithCache(c callcache.Cache) Option { return func(s *Server) { s.cache = c } }

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option { return func(s *Server) { s.log = l } }

// WithCatalog sets the catalog used when a request carries none. It defaults
// to the chooser's catalog.
func WithCatalog(c *functions.Catalog) Option { return func(s *Server) { s.catalog = c } }

// NewServer builds a server around ch. A nil chooser serves only the prompt
// and catalog routes.
func NewServer(ch *chooser.Chooser, opts ...Option) *Server {
	s := &Server{
		chooser: ch,
		log:     logger.Nop(),
		clock:   time.Now,
		newID:   func() string { return "call_" + strings.ReplaceAll(uuid.NewString(), "-", "") },
	}
	if ch != nil {
		s.catalog = ch.Catalog()
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)
	e.GET("/v1/functions", s.handleListFunctions)
	e.POST("/v1/prompt", s.handlePrompt)
	e.POST("/v1/function-call", s.handleFunctionCall)
}

func (s *Server) modelName() string {
	if s.chooser == nil {
		return ""
	}
	return s.chooser.Model().Name()
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status": "ok",
		"model":  s.modelName(),
	})
}

func (s *Server) handleListFunctions(c *echo.Context) error {
	if s.catalog == nil {
		return c.JSON(http.StatusOK, FunctionListResponse{Object: "list", Data: []any{}})
	}
	return c.JSON(http.StatusOK, FunctionListResponse{Object: "list", Data: s.catalog})
}

func (s *Server) handlePrompt(c *echo.Context) error {
	req, err := decodeJSON[PromptRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	catalog, err := requestCatalog(req.Functions, s.catalog)
	if err != nil {
		return writeKindError(c, err)
	}
	text, err := prompter.Render(req.Prompt, catalog)
	if err != nil {
		return writeKindError(c, err)
	}
	return c.JSON(http.StatusOK, PromptResponse{Object: "prompt", Prompt: text})
}

func (s *Server) handleFunctionCall(c *echo.Context) error {
	if s.chooser == nil {
		return writeError(c, http.StatusServiceUnavailable, "server_error", "no model loaded", "")
	}
	req, err := decodeJSON[FunctionCallRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return writeBadRequest(c, "prompt is required")
	}
	catalog, err := requestCatalog(req.Functions, s.catalog)
	if err != nil {
		return writeKindError(c, err)
	}
	params := s.params(req)
	if err := params.Validate(); err != nil {
		return writeKindError(c, err)
	}

	ctx := c.Request().Context()
	resp := FunctionCallResponse{
		ID:      s.newID(),
		Object:  "function_call",
		Created: s.clock().Unix(),
		Model:   s.modelName(),
	}

	key := ""
	if s.cache != nil && callcache.Cacheable(params) {
		text, err := prompter.Render(req.Prompt, catalog)
		if err != nil {
			return writeKindError(c, err)
		}
		key = callcache.Key(resp.Model, params, text)
		call, ok, err := s.cache.Get(ctx, key)
		switch {
		case err != nil:
			s.log.Warn("call cache lookup failed", "error", err)
		case ok:
			s.log.Debug("call cache hit", "id", resp.ID, "name", call.Name)
			fillCall(&resp, call)
			resp.Cached = true
			if req.Stream {
				return s.streamCached(c, resp)
			}
			return c.JSON(http.StatusOK, resp)
		}
	}

	chReq := chooser.Request{Prompt: req.Prompt, Catalog: catalog, Params: &params}
	if req.Stream {
		return s.streamFunctionCall(c, chReq, resp, key)
	}

	call, res, err := s.chooser.Do(ctx, chReq)
	if err != nil {
		s.log.Error("function call failed", "id", resp.ID, "error", err)
		return writeKindError(c, err)
	}
	s.remember(ctx, key, call)
	fillCall(&resp, call)
	resp.Usage = usageOf(res)
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) streamFunctionCall(c *echo.Context, chReq chooser.Request, resp FunctionCallResponse, key string) error {
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")

	flusher, ok := res.(interface{ Flush() })
	if !ok {
		return writeBadRequest(c, "streaming unsupported")
	}

	ctx := c.Request().Context()
	chReq.Stream = func(text string) {
		_ = sendSSE(res, streamDelta{ID: resp.ID, Type: "delta", Delta: text})
		flusher.Flush()
	}
	call, gen, err := s.chooser.Do(ctx, chReq)
	if err != nil {
		s.log.Error("function call failed", "id", resp.ID, "error", err)
		_, body := errorBody(err)
		_ = sendSSE(res, map[string]any{"error": body})
	} else {
		s.remember(ctx, key, call)
		fillCall(&resp, call)
		resp.Usage = usageOf(gen)
		_ = sendSSE(res, resp)
	}
	_, _ = res.Write([]byte("data: [DONE]\n\n"))
	flusher.Flush()
	return nil
}

func (s *Server) streamCached(c *echo.Context, resp FunctionCallResponse) error {
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	if err := sendSSE(res, resp); err != nil {
		return err
	}
	_, err := res.Write([]byte("data: [DONE]\n\n"))
	return err
}

func (s *Server) remember(ctx context.Context, key string, call *chooser.Call) {
	if key == "" || s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, call); err != nil {
		s.log.Warn("call cache store failed", "error", err)
	}
}

// params overlays the request's sampling fields on the chooser defaults.
func (s *Server) params(req FunctionCallRequest) model.Params {
	p := s.chooser.Params()
	if req.MaxTokens != nil {
		p.MaxTokens = *req.MaxTokens
	}
	if req.Temperature != nil {
		p.Temperature = req.Temperature
	}
	if req.TopP != nil {
		p.TopP = req.TopP
	}
	if req.TopK != nil {
		p.TopK = *req.TopK
	}
	if req.Seed != nil {
		p.Seed = *req.Seed
	}
	if req.RepeatPenalty != nil {
		p.RepeatPenalty = *req.RepeatPenalty
	}
	if req.RepeatLastN != nil {
		p.RepeatLastN = *req.RepeatLastN
	}
	return p
}

func fillCall(resp *FunctionCallResponse, call *chooser.Call) {
	resp.Name = call.Name
	resp.Arguments = call.Arguments
	resp.Known = call.Known
	resp.Raw = call.Raw
}

func usageOf(res *generate.Result) *Usage {
	if res == nil {
		return nil
	}
	return &Usage{
		PromptTokens:     res.PromptTokens,
		CompletionTokens: len(res.Tokens),
		StopReason:       string(res.Stop),
	}
}
