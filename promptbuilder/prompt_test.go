/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package promptbuilder

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNewCollectsPlaceholders(t *testing.T) {
	p, err := New(`Review {{title}} against {{rules}} and {{title}} again`)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if diff := cmp.Diff([]string{"rules", "title"}, p.Names()); diff != "" {
		t.Errorf("Names() mismatch (-want +got):\n%s", diff)
	}
}

func TestNewRejectsMalformedTemplates(t *testing.T) {
	tests := []struct {
		name     string
		template string
	}{
		{name: "unclosed", template: `hello {{name`},
		{name: "empty placeholder", template: `hello {{}}`},
		{name: "leading digit", template: `hello {{1name}}`},
		{name: "embedded space", template: `hello {{first name}}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.template); err == nil {
				t.Errorf("New(%q) expected error", tc.template)
			}
		})
	}
}

func TestBuildSubstitutesBindings(t *testing.T) {
	p := Must(`Hey {{author}}, rules:
{{rules}}`)

	p, err := p.Bind("author", "octocat")
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	p, err = p.BindYAML("rules", []string{"no globals", "wrap errors"})
	if err != nil {
		t.Fatalf("BindYAML: %v", err)
	}

	got, err := p.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !strings.Contains(got, "Hey octocat") {
		t.Errorf("missing author binding: %q", got)
	}
	if !strings.Contains(got, "- no globals") {
		t.Errorf("missing YAML rule list: %q", got)
	}
}

func TestBuildFailsOnUnbound(t *testing.T) {
	p := Must(`{{alpha}} {{beta}}`)
	p, err := p.Bind("alpha", "a")
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if _, err := p.Build(); err == nil {
		t.Error("Build should fail with beta unbound")
	}
}

func TestBindIsImmutable(t *testing.T) {
	base := Must(`{{x}}`)
	one, err := base.Bind("x", "one")
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	// Binding on the original again must not observe the first binding.
	two, err := base.Bind("x", "two")
	if err != nil {
		t.Fatalf("Bind on base after earlier bind: %v", err)
	}

	gotOne, _ := one.Build()
	gotTwo, _ := two.Build()
	if gotOne != "one" || gotTwo != "two" {
		t.Errorf("bindings leaked between prompts: %q, %q", gotOne, gotTwo)
	}
}

func TestDoubleBindRejected(t *testing.T) {
	p := Must(`{{x}}`)
	p, err := p.Bind("x", "one")
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if _, err := p.Bind("x", "two"); err == nil {
		t.Error("second bind of same placeholder should fail")
	}
}

func TestBindUnknownPlaceholder(t *testing.T) {
	p := Must(`no placeholders here`)
	if _, err := p.Bind("ghost", "boo"); err == nil {
		t.Error("binding an unknown placeholder should fail")
	}
}

func TestBindJSONDeterministic(t *testing.T) {
	type payload struct {
		B string `json:"b"`
		A string `json:"a"`
	}
	build := func() string {
		p, err := Must(`{{data}}`).BindJSON("data", payload{A: "1", B: "2"})
		if err != nil {
			t.Fatalf("BindJSON: %v", err)
		}
		out, err := p.Build()
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		return out
	}
	if build() != build() {
		t.Error("BindJSON output should be deterministic")
	}
}
