/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package promptbuilder provides a small template engine for model prompts.
// Templates declare placeholders as {{name}}; values are bound immutably and
// Build fails if any placeholder is left unbound, so a prompt can never be
// sent to a model with a hole in it.
package promptbuilder

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// valueFunc produces the replacement text for a placeholder.
// Marshaling errors surface at Build time, not bind time.
type valueFunc func() (string, error)

// Prompt is an immutable template with zero or more bound placeholders.
type Prompt struct {
	template string
	bound    map[string]valueFunc
}

// New parses a template and registers its placeholders as unbound.
func New(template string) (*Prompt, error) {
	names, err := scan(template)
	if err != nil {
		return nil, err
	}
	bound := make(map[string]valueFunc, len(names))
	for _, name := range names {
		bound[name] = nil
	}
	return &Prompt{template: template, bound: bound}, nil
}

// Must is New for templates known valid at compile time; it panics on error.
// Intended for package-level prompt variables.
func Must(template string) *Prompt {
	p, err := New(template)
	if err != nil {
		panic(err)
	}
	return p
}

// Names returns the placeholder names in the template, sorted.
func (p *Prompt) Names() []string {
	names := make([]string, 0, len(p.bound))
	for name := range p.bound {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Bind binds a plain string value to a placeholder, returning a new Prompt.
func (p *Prompt) Bind(name, value string) (*Prompt, error) {
	return p.bind(name, func() (string, error) { return value, nil })
}

// BindJSON binds structured data marshaled as indented JSON.
func (p *Prompt) BindJSON(name string, data any) (*Prompt, error) {
	return p.bind(name, func() (string, error) {
		b, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshaling %q as JSON: %w", name, err)
		}
		return string(b), nil
	})
}

// BindYAML binds structured data marshaled as YAML.
func (p *Prompt) BindYAML(name string, data any) (*Prompt, error) {
	return p.bind(name, func() (string, error) {
		b, err := yaml.Marshal(data)
		if err != nil {
			return "", fmt.Errorf("marshaling %q as YAML: %w", name, err)
		}
		return string(b), nil
	})
}

// MustBind is Bind that panics on error, for values known valid at compile time.
func (p *Prompt) MustBind(name, value string) *Prompt {
	next, err := p.Bind(name, value)
	if err != nil {
		panic(err)
	}
	return next
}

func (p *Prompt) bind(name string, fn valueFunc) (*Prompt, error) {
	existing, ok := p.bound[name]
	if !ok {
		return nil, fmt.Errorf("placeholder %q not found in template", name)
	}
	if existing != nil {
		return nil, fmt.Errorf("placeholder %q already bound", name)
	}
	next := &Prompt{template: p.template, bound: make(map[string]valueFunc, len(p.bound))}
	for k, v := range p.bound {
		next.bound[k] = v
	}
	next.bound[name] = fn
	return next, nil
}

// Build renders the template. It fails if any placeholder is unbound or a
// bound value fails to marshal.
func (p *Prompt) Build() (string, error) {
	values := make(map[string]string, len(p.bound))
	for name, fn := range p.bound {
		if fn == nil {
			return "", fmt.Errorf("unbound placeholder: %s", name)
		}
		val, err := fn()
		if err != nil {
			return "", err
		}
		values[name] = val
	}

	var out strings.Builder
	rest := p.template
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			out.WriteString(rest)
			return out.String(), nil
		}
		out.WriteString(rest[:start])
		end := strings.Index(rest[start:], "}}")
		if end < 0 {
			// scan already rejected this, but Build must not panic on it
			return "", fmt.Errorf("unclosed placeholder in template")
		}
		name := strings.TrimSpace(rest[start+2 : start+end])
		out.WriteString(values[name])
		rest = rest[start+end+2:]
	}
}

// scan walks the template and returns every placeholder name found.
func scan(template string) ([]string, error) {
	var names []string
	seen := make(map[string]struct{})
	rest := template
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			return names, nil
		}
		end := strings.Index(rest[start:], "}}")
		if end < 0 {
			return nil, fmt.Errorf("unclosed placeholder: missing %q", "}}")
		}
		name := strings.TrimSpace(rest[start+2 : start+end])
		if !validName(name) {
			return nil, fmt.Errorf("invalid placeholder name %q", name)
		}
		if _, dup := seen[name]; !dup {
			seen[name] = struct{}{}
			names = append(names, name)
		}
		rest = rest[start+end+2:]
	}
}

// validName accepts identifiers: a leading letter followed by letters,
// digits, or underscores.
func validName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if i == 0 {
			if !unicode.IsLetter(r) {
				return false
			}
			continue
		}
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' {
			return false
		}
	}
	return true
}
