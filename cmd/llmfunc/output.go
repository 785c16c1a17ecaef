package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/goccy/go-json"
	"golang.org/x/term"

	"github.com/samcharles93/llmfunc/internal/chooser"
	"github.com/samcharles93/llmfunc/internal/functions"
	"github.com/samcharles93/llmfunc/internal/generate"
	"github.com/samcharles93/llmfunc/internal/prompter"
)

// isTTY is a small seam for tests.
var isTTY = func(f *os.File) bool { return term.IsTerminal(int(f.Fd())) }

// setColor turns colour off when f is redirected.
func setColor(f *os.File) {
	color.NoColor = color.NoColor || !isTTY(f)
}

// printPrompt renders text against cat and writes the result to w.
func printPrompt(w io.Writer, text string, cat *functions.Catalog) error {
	rendered, err := prompter.Render(text, cat)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n\n", rendered)
	return err
}

// printCall writes a human readable summary of call.
func printCall(w io.Writer, call *chooser.Call, res *generate.Result) {
	name := color.GreenString(call.Name)
	if !call.Known {
		name = color.YellowString(call.Name) + color.RedString(" (not in catalog)")
	}
	fmt.Fprintf(w, "%s %s\n", color.CyanString("function: "), name)
	if len(call.Arguments) > 0 {
		fmt.Fprintf(w, "%s %s\n", color.CyanString("arguments:"), call.Arguments)
	}
	fmt.Fprintf(w, "%s %q\n", color.CyanString("raw:      "), call.Raw)
	if res != nil {
		fmt.Fprintf(w, "%s %d tokens, stop=%s, %.2f tok/s\n",
			color.HiBlackString("generated:"), len(res.Tokens), res.Stop, res.Stats.TokensPerSecond)
	}
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", b)
	return err
}
