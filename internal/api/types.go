package api

import "github.com/goccy/go-json"

// FunctionCallRequest is the body of POST /v1/function-call. Unset sampling
// fields fall back to the server's defaults.
type FunctionCallRequest struct {
	Prompt        string          `json:"prompt"`
	Functions     json.RawMessage `json:"functions,omitempty"`
	MaxTokens     *int            `json:"max_tokens,omitempty"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	TopK          *int            `json:"top_k,omitempty"`
	Seed          *uint64         `json:"seed,omitempty"`
	RepeatPenalty *float32        `json:"repeat_penalty,omitempty"`
	RepeatLastN   *int            `json:"repeat_last_n,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
}

type FunctionCallResponse struct {
	ID        string          `json:"id"`
	Object    string          `json:"object"`
	Created   int64           `json:"created"`
	Model     string          `json:"model"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Known     bool            `json:"known"`
	Raw       string          `json:"raw"`
	Cached    bool            `json:"cached"`
	Usage     *Usage          `json:"usage,omitempty"`
}

type Usage struct {
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	StopReason       string `json:"stop_reason"`
}

// PromptRequest is the body of POST /v1/prompt.
type PromptRequest struct {
	Prompt    string          `json:"prompt"`
	Functions json.RawMessage `json:"functions,omitempty"`
}

type PromptResponse struct {
	Object string `json:"object"`
	Prompt string `json:"prompt"`
}

type FunctionListResponse struct {
	Object string `json:"object"`
	Data   any    `json:"data"`
}

type ResponseError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

// streamDelta is one SSE frame of generated text.
type streamDelta struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Delta string `json:"delta"`
}
