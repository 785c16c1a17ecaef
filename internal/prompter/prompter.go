// Package prompter renders a user instruction and a function catalog into
// the fixed text template the model was tuned on.
//
// The literals below are part of the model contract. Changing any byte of
// them changes what the model sees.
package prompter

import (
	"bytes"
	"strings"

	"github.com/goccy/go-json"

	"github.com/samcharles93/llmfunc/internal/errs"
	"github.com/samcharles93/llmfunc/internal/functions"
)

const (
	// Head introduces the function list after the user instruction.
	Head = "\n\nAvailable functions:\n"
	// CallHeader ends the prompt; the model completes the function name after it.
	CallHeader = "\n\nFunction call: "
	// SchemaFence opens the per-function schema block.
	SchemaFence = "```jsonschema\n"
	// BlockSeparator joins function blocks.
	BlockSeparator = "\n\n"

	indent = "    "
)

// Render builds the full prompt for userPrompt and catalog c.
// It fails with errs.ErrRender when a function's parameters have no
// "properties" object to show.
func Render(userPrompt string, c *functions.Catalog) (string, error) {
	fns := c.Functions()
	blocks := make([]string, 0, len(fns))
	for _, fn := range fns {
		block, err := RenderFunction(fn)
		if err != nil {
			return "", err
		}
		blocks = append(blocks, block)
	}

	var b strings.Builder
	b.WriteString(userPrompt)
	b.WriteString(Head)
	b.WriteString(strings.Join(blocks, BlockSeparator))
	b.WriteString(CallHeader)
	return b.String(), nil
}

// RenderFunction renders a single "<name> - <description>" block.
func RenderFunction(fn functions.FunctionSpec) (string, error) {
	props, err := prettyProperties(fn.Parameters)
	if err != nil {
		return "", errs.Wrap(errs.ErrRender, "render "+fn.Name, err)
	}
	var b strings.Builder
	b.Grow(len(fn.Name) + len(fn.Description) + len(props) + 32)
	b.WriteString(fn.Name)
	b.WriteString(" - ")
	b.WriteString(fn.Description)
	b.WriteByte('\n')
	b.WriteString(SchemaFence)
	b.WriteString(props)
	b.WriteString("\n```")
	return b.String(), nil
}

// prettyProperties extracts parameters.properties and prints it with sorted
// keys and a four-space indent.
func prettyProperties(params json.RawMessage) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(params))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return "", errs.New(errs.ErrRender, "", "parameters must be a JSON object: %v", err)
	}
	if obj == nil {
		return "", errs.New(errs.ErrRender, "", "parameters must be a JSON object")
	}
	props, ok := obj["properties"]
	if !ok {
		return "", errs.New(errs.ErrRender, "", `parameters has no "properties" key`)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", indent)
	if err := enc.Encode(props); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}
