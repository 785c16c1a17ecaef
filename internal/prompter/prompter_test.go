package prompter

import (
	"errors"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/samcharles93/llmfunc/internal/errs"
	"github.com/samcharles93/llmfunc/internal/functions"
)

func spec(name, desc, params string) functions.FunctionSpec {
	return functions.FunctionSpec{Name: name, Description: desc, Parameters: json.RawMessage(params)}
}

func TestRenderBuyBTC(t *testing.T) {
	t.Parallel()
	c := functions.New(spec("buy_btc", "Buy bitcoin", `{"properties": {"amount": {"type": "number"}}}`))

	got, err := Render("Buy 10 dollars of Bitcoin", c)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	want := "Buy 10 dollars of Bitcoin\n\nAvailable functions:\n" +
		"buy_btc - Buy bitcoin\n```jsonschema\n{\n    \"amount\": {\n        \"type\": \"number\"\n    }\n}\n```" +
		"\n\nFunction call: "
	if got != want {
		t.Fatalf("Render mismatch\n got: %q\nwant: %q", got, want)
	}
}

func TestRenderOrderAndCount(t *testing.T) {
	t.Parallel()
	c := functions.New(
		spec("zeta", "last alphabetically", `{"properties": {}}`),
		spec("alpha", "first alphabetically", `{"properties": {"b": 1, "a": 2}}`),
		spec("mid", "", `{"type": "object", "properties": {"q": {"type": "string", "description": "<query> & more"}}}`),
	)
	got, err := Render("pick one", c)
	if err != nil {
		t.Fatal(err)
	}
	if n := strings.Count(got, SchemaFence); n != 3 {
		t.Fatalf("expected 3 schema blocks, got %d", n)
	}
	z, a, m := strings.Index(got, "zeta - "), strings.Index(got, "alpha - "), strings.Index(got, "mid - ")
	if !(z < a && a < m) {
		t.Fatalf("blocks out of catalog order: %d %d %d", z, a, m)
	}
	if !strings.Contains(got, "{\n    \"a\": 2,\n    \"b\": 1\n}") {
		t.Fatalf("expected sorted keys, got %q", got)
	}
	if !strings.Contains(got, "<query> & more") {
		t.Fatalf("expected unescaped HTML characters, got %q", got)
	}
	if !strings.Contains(got, "zeta - last alphabetically\n```jsonschema\n{}\n```\n\nalpha") {
		t.Fatalf("unexpected empty-properties rendering: %q", got)
	}
}

func TestRenderIdempotent(t *testing.T) {
	t.Parallel()
	c := functions.New(spec("f", "d", `{"properties": {"x": {"type": "integer", "minimum": 1.5}}}`))
	first, err := Render("p", c)
	if err != nil {
		t.Fatal(err)
	}
	second, _ := Render("p", c)
	if first != second {
		t.Fatal("Render is not deterministic")
	}
	if !strings.Contains(first, `"minimum": 1.5`) {
		t.Fatalf("number formatting changed: %q", first)
	}
}

func TestRenderKeepsNumberLiterals(t *testing.T) {
	t.Parallel()
	c := functions.New(spec("f", "d", `{"properties": {"x": {"minimum": 1.50, "maximum": 2e3, "default": 12345678901234567890}}}`))
	got, err := Render("p", c)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{`"minimum": 1.50`, `"maximum": 2e3`, `"default": 12345678901234567890`} {
		if !strings.Contains(got, want) {
			t.Fatalf("missing %s in %q", want, got)
		}
	}
}

func TestRenderEmptyCatalog(t *testing.T) {
	t.Parallel()
	got, err := Render("hi", functions.New())
	if err != nil {
		t.Fatal(err)
	}
	if got != "hi"+Head+CallHeader {
		t.Fatalf("got %q", got)
	}
}

func TestRenderErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		params string
	}{
		{"missing properties", `{"type": "object"}`},
		{"array parameters", `[1, 2]`},
		{"string parameters", `"x"`},
	}
	for _, tc := range tests {
		c := functions.New(spec("ok", "", `{"properties": {}}`), spec("bad", "", tc.params))
		_, err := Render("p", c)
		if !errors.Is(err, errs.ErrRender) {
			t.Errorf("%s: expected ErrRender, got %v", tc.name, err)
			continue
		}
		if !strings.Contains(err.Error(), "bad") {
			t.Errorf("%s: error should name the function: %v", tc.name, err)
		}
	}
}
