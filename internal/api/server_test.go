package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/llmfunc/internal/callcache"
	"github.com/samcharles93/llmfunc/internal/chooser"
	"github.com/samcharles93/llmfunc/internal/device"
	"github.com/samcharles93/llmfunc/internal/functions"
	"github.com/samcharles93/llmfunc/internal/model"
	"github.com/samcharles93/llmfunc/internal/tokenizer"
)

type byteTokenizer struct{}

func (byteTokenizer) Encode(text string) ([]int, error) {
	ids := make([]int, len(text))
	for i := range len(text) {
		ids[i] = int(text[i])
	}
	return ids, nil
}

func (byteTokenizer) Decode(ids []int) (string, error) {
	var b strings.Builder
	for _, id := range ids {
		if id > 0 {
			b.WriteByte(byte(id))
		}
	}
	return b.String(), nil
}

func (byteTokenizer) TokenToID(tok string) (int, bool) { return 0, tok == "</s>" }

// replyModel answers every prompt with reply and counts generations.
type replyModel struct {
	mu    sync.Mutex
	reply string
	step  int
	runs  int
}

func (m *replyModel) Forward(tokens []int, offset int) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if offset == 0 {
		m.step = 0
		m.runs++
	}
	lg := make([]float32, 256)
	if m.step < len(m.reply) {
		lg[m.reply[m.step]] = 1
	} else {
		lg[0] = 1
	}
	m.step++
	return lg, nil
}

func (m *replyModel) Runs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runs
}

func (m *replyModel) Tokenizer() tokenizer.Tokenizer { return byteTokenizer{} }
func (m *replyModel) Device() device.Device          { return device.NewCPU() }
func (m *replyModel) Name() string                   { return "reply" }
func (m *replyModel) Reset()                         {}
func (m *replyModel) Close() error                   { return nil }
func (m *replyModel) Params() model.Params {
	p := model.DefaultParams()
	p.MaxTokens = 64
	return p
}

const testCatalog = `[
  {"name": "buy_btc", "description": "Buy bitcoin", "parameters": {"properties": {"amount": {"type": "number"}}}},
  {"name": "sell_btc", "description": "Sell bitcoin", "parameters": {"properties": {}}}
]`

func newTestEcho(t *testing.T, m model.Model, opts ...Option) *echo.Echo {
	t.Helper()
	var ch *chooser.Chooser
	if m != nil {
		c, err := functions.ParseBytes([]byte(testCatalog))
		if err != nil {
			t.Fatal(err)
		}
		ch = chooser.New(m, c)
	}
	server := NewServer(ch, opts...)
	server.clock = func() time.Time { return time.Unix(1700000000, 0) }
	e := echo.New()
	server.Register(e)
	return e
}

func doJSON(t *testing.T, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHealth(t *testing.T) {
	t.Parallel()
	e := newTestEcho(t, &replyModel{})
	rec := doJSON(t, e, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeBody[map[string]any](t, rec)
	if body["status"] != "ok" || body["model"] != "reply" {
		t.Fatalf("body = %v", body)
	}
}

func TestFunctionCall(t *testing.T) {
	t.Parallel()
	m := &replyModel{reply: `buy_btc({"amount": 10})`}
	e := newTestEcho(t, m)

	rec := doJSON(t, e, http.MethodPost, "/v1/function-call", `{"prompt": "Buy 10 dollars of Bitcoin"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[FunctionCallResponse](t, rec)
	if !strings.HasPrefix(resp.ID, "call_") {
		t.Fatalf("id = %q", resp.ID)
	}
	if resp.Object != "function_call" || resp.Created != 1700000000 || resp.Model != "reply" {
		t.Fatalf("envelope = %+v", resp)
	}
	if resp.Name != "buy_btc" || !resp.Known || resp.Cached {
		t.Fatalf("call = %+v", resp)
	}
	var args map[string]float64
	if err := json.Unmarshal(resp.Arguments, &args); err != nil || args["amount"] != 10 {
		t.Fatalf("arguments = %s (%v)", resp.Arguments, err)
	}
	if resp.Usage == nil || resp.Usage.StopReason != "eos" {
		t.Fatalf("usage = %+v", resp.Usage)
	}
}

func TestFunctionCallErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{name: "malformed body", body: `{`, status: http.StatusBadRequest},
		{name: "empty prompt", body: `{"prompt": " "}`, status: http.StatusBadRequest},
		{name: "bad params", body: `{"prompt": "x", "max_tokens": -1}`, status: http.StatusBadRequest, code: "invalid_argument"},
		{name: "bad top p", body: `{"prompt": "x", "top_p": 2}`, status: http.StatusBadRequest, code: "invalid_argument"},
		{name: "catalog not a list", body: `{"prompt": "x", "functions": {"name": "a"}}`, status: http.StatusUnprocessableEntity, code: "parse_error"},
		{name: "missing properties", body: `{"prompt": "x", "functions": [{"name": "a", "description": "", "parameters": {}}]}`, status: http.StatusUnprocessableEntity, code: "render_error"},
		{name: "missing description", body: `{"prompt": "x", "functions": [{"name": "a", "parameters": {"properties": {}}}]}`, status: http.StatusUnprocessableEntity, code: "parse_error"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			e := newTestEcho(t, &replyModel{reply: "a"})
			rec := doJSON(t, e, http.MethodPost, "/v1/function-call", tc.body)
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tc.status, rec.Body.String())
			}
			body := decodeBody[map[string]ResponseError](t, rec)
			if body["error"].Message == "" {
				t.Fatalf("missing error message: %s", rec.Body.String())
			}
			if tc.code != "" && body["error"].Code != tc.code {
				t.Fatalf("code = %q, want %q", body["error"].Code, tc.code)
			}
		})
	}
}

func TestFunctionCallWithoutModel(t *testing.T) {
	t.Parallel()
	e := newTestEcho(t, nil)
	rec := doJSON(t, e, http.MethodPost, "/v1/function-call", `{"prompt": "x"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestFunctionCallCache(t *testing.T) {
	t.Parallel()
	m := &replyModel{reply: "sell_btc()"}
	cache := callcache.NewMemory(time.Minute)
	t.Cleanup(func() { _ = cache.Close() })
	e := newTestEcho(t, m, WithCache(cache))

	first := decodeBody[FunctionCallResponse](t, doJSON(t, e, http.MethodPost, "/v1/function-call", `{"prompt": "sell"}`))
	second := decodeBody[FunctionCallResponse](t, doJSON(t, e, http.MethodPost, "/v1/function-call", `{"prompt": "sell"}`))
	if first.Cached || !second.Cached {
		t.Fatalf("cached flags = %v, %v", first.Cached, second.Cached)
	}
	if second.Name != "sell_btc" || second.ID == first.ID {
		t.Fatalf("second = %+v", second)
	}
	if got := m.Runs(); got != 1 {
		t.Fatalf("model runs = %d, want 1", got)
	}

	// Sampled requests bypass the cache.
	doJSON(t, e, http.MethodPost, "/v1/function-call", `{"prompt": "sell", "temperature": 0.7}`)
	if got := m.Runs(); got != 2 {
		t.Fatalf("model runs = %d, want 2", got)
	}
}

func TestFunctionCallStream(t *testing.T) {
	t.Parallel()
	e := newTestEcho(t, &replyModel{reply: "sell_btc()"})
	rec := doJSON(t, e, http.MethodPost, "/v1/function-call", `{"prompt": "sell", "stream": true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	frames := strings.Split(strings.TrimSpace(rec.Body.String()), "\n\n")
	if len(frames) < 3 {
		t.Fatalf("frames = %q", frames)
	}
	if frames[len(frames)-1] != "data: [DONE]" {
		t.Fatalf("last frame = %q", frames[len(frames)-1])
	}

	var text strings.Builder
	for _, f := range frames[:len(frames)-2] {
		var d streamDelta
		if err := json.Unmarshal([]byte(strings.TrimPrefix(f, "data: ")), &d); err != nil {
			t.Fatalf("frame %q: %v", f, err)
		}
		text.WriteString(d.Delta)
	}
	if text.String() != "sell_btc()" {
		t.Fatalf("streamed = %q", text.String())
	}
	var final FunctionCallResponse
	if err := json.Unmarshal([]byte(strings.TrimPrefix(frames[len(frames)-2], "data: ")), &final); err != nil {
		t.Fatal(err)
	}
	if final.Name != "sell_btc" || !final.Known {
		t.Fatalf("final = %+v", final)
	}
}

func TestPrompt(t *testing.T) {
	t.Parallel()
	e := newTestEcho(t, nil)
	body := `{"prompt": "hi", "functions": [{"name": "f", "description": "d", "parameters": {"properties": {}}}]}`
	rec := doJSON(t, e, http.MethodPost, "/v1/prompt", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[PromptResponse](t, rec)
	want := "hi\n\nAvailable functions:\nf - d\n```jsonschema\n{}\n```\n\nFunction call: "
	if resp.Prompt != want {
		t.Fatalf("prompt = %q, want %q", resp.Prompt, want)
	}

	rec = doJSON(t, e, http.MethodPost, "/v1/prompt", `{"prompt": "hi"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("no catalog status = %d", rec.Code)
	}
}

func TestListFunctions(t *testing.T) {
	t.Parallel()
	e := newTestEcho(t, &replyModel{})
	rec := doJSON(t, e, http.MethodGet, "/v1/functions", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Object string `json:"object"`
		Data   []struct {
			Name string `json:"name"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Object != "list" || len(resp.Data) != 2 || resp.Data[0].Name != "buy_btc" {
		t.Fatalf("resp = %+v", resp)
	}
}
