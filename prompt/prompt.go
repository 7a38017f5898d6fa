//
// Tencent is pleased to support the open source community by making trpc-agent-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-go is licensed under the Apache License Version 2.0.
//
//

// Package prompt renders the system prompt of a turn.
package prompt

import (
	"bytes"
	"context"
	"strings"
	"text/template"
	"time"

	"github.com/jovemexausto/zupa/store"
)

// Common errors returned by the prompt package.
var (
	ErrMissingRequiredVar = PromptError{Code: "missing_required_variable", Message: "missing required variable"}
	ErrInvalidTemplate    = PromptError{Code: "invalid_template", Message: "invalid template format"}
	ErrRenderingError     = PromptError{Code: "rendering_error", Message: "error rendering template"}
)

// PromptError represents errors in the prompt system.
type PromptError struct {
	Code    string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e PromptError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Is matches errors by code so wrapped copies compare equal to the sentinels.
func (e PromptError) Is(target error) bool {
	t, ok := target.(PromptError)
	return ok && t.Code == e.Code
}

// Unwrap returns the cause.
func (e PromptError) Unwrap() error { return e.Cause }

// WithCause attaches an underlying cause to the error.
func (e PromptError) WithCause(cause error) PromptError {
	e.Cause = cause
	return e
}

// Context is what a template renders against.
type Context struct {
	User      *store.User
	Session   *store.Session
	History   []*store.Message
	// Summaries are recent ended-session summaries, newest first.
	Summaries []string
	Vars      map[string]any
	Now       time.Time
}

// Template renders a system prompt.
type Template interface {
	Render(ctx context.Context, c Context) (string, error)
}

// Static is a prompt that never changes.
type Static string

// Render implements Template.
func (s Static) Render(context.Context, Context) (string, error) { return string(s), nil }

// Func adapts a function to Template. It may block, e.g. to fetch data.
type Func func(ctx context.Context, c Context) (string, error)

// Render implements Template.
func (f Func) Render(ctx context.Context, c Context) (string, error) { return f(ctx, c) }

// Variable describes a template variable read from Context.Vars.
type Variable struct {
	// Name is the key under Vars.
	Name        string `json:"name"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
	// DefaultValue is used when the variable is not provided.
	DefaultValue string `json:"default_value,omitempty"`
}

// Text is a text/template prompt. The template sees the Context fields, so
// {{.User.DisplayName}} and {{.Vars.company}} both work.
type Text struct {
	name      string
	tmpl      *template.Template
	variables []Variable
}

// NewText parses content.
func NewText(name, content string, vars ...Variable) (*Text, error) {
	tmpl, err := template.New(name).Funcs(funcs).Parse(content)
	if err != nil {
		return nil, ErrInvalidTemplate.WithCause(err)
	}
	return &Text{name: name, tmpl: tmpl, variables: vars}, nil
}

// MustText is NewText that panics on a parse error.
func MustText(name, content string, vars ...Variable) *Text {
	t, err := NewText(name, content, vars...)
	if err != nil {
		panic(err)
	}
	return t
}

// Name returns the template name.
func (t *Text) Name() string { return t.name }

// Render implements Template.
func (t *Text) Render(_ context.Context, c Context) (string, error) {
	vars := make(map[string]any, len(c.Vars)+len(t.variables))
	for k, v := range c.Vars {
		vars[k] = v
	}
	for _, v := range t.variables {
		if _, ok := vars[v.Name]; ok {
			continue
		}
		if v.Required {
			return "", PromptError{Code: ErrMissingRequiredVar.Code, Message: ErrMissingRequiredVar.Message + " " + v.Name}
		}
		vars[v.Name] = v.DefaultValue
	}
	c.Vars = vars
	var buf bytes.Buffer
	if err := t.tmpl.Execute(&buf, c); err != nil {
		return "", ErrRenderingError.WithCause(err)
	}
	return buf.String(), nil
}

var funcs = template.FuncMap{
	"join":  strings.Join,
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"pref": func(u *store.User, key string) string {
		return u.Preference(key)
	},
}

// Verbosity levels of the verbosity preference.
const (
	VerbosityShort    = "short"
	VerbosityNormal   = "normal"
	VerbosityDetailed = "detailed"
)

var verbosityHints = map[string]string{
	VerbosityShort:    "Keep your reply short: at most two sentences.",
	VerbosityDetailed: "Give a detailed, thorough reply.",
}

// ValidVerbosity reports whether v is a known verbosity level.
func ValidVerbosity(v string) bool {
	return v == VerbosityShort || v == VerbosityNormal || v == VerbosityDetailed
}

// ApplyVerbosity appends the length instruction for verbosity to prompt.
// Normal and unknown levels leave prompt unchanged.
func ApplyVerbosity(prompt, verbosity string) string {
	hint, ok := verbosityHints[verbosity]
	if !ok {
		return prompt
	}
	if strings.TrimSpace(prompt) == "" {
		return hint
	}
	return strings.TrimRight(prompt, "\n") + "\n\n" + hint
}
