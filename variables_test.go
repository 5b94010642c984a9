package promptly

import (
	"sort"
	"testing"
)

func TestFreeVariables(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		source string
		want   []string
	}{
		{
			name:   "single variable",
			source: "Hello {{ name }}!",
			want:   []string{"name"},
		},
		{
			name:   "multiple variables",
			source: "{{ greeting }} {{ name }}, age {{ age }}",
			want:   []string{"age", "greeting", "name"},
		},
		{
			name:   "no variables",
			source: "Static text with no variables.",
			want:   nil,
		},
		{
			name:   "duplicates collapse",
			source: "{{ name }} and {{ name }} again",
			want:   []string{"name"},
		},
		{
			name:   "variables in conditionals",
			source: `{% if language == "Python" %}Use {{ framework }}{% else %}Use {{ alternative }}{% endif %}`,
			want:   []string{"alternative", "framework", "language"},
		},
		{
			name:   "loop target excluded, source included",
			source: "{% for item in items %}- {{ item }}{% endfor %}",
			want:   []string{"items"},
		},
		{
			name:   "loop object excluded inside loop",
			source: "{% for item in items %}{{ loop.index }}. {{ item }}{% endfor %}",
			want:   []string{"items"},
		},
		{
			name:   "dict iteration",
			source: "{% for key, value in config.items() %}{{ key }}: {{ value }}{% endfor %}",
			want:   []string{"config"},
		},
		{
			name:   "nested loops",
			source: "{% for category in categories %}{% for item in category.elements %}{{ item }}{% endfor %}{% endfor %}",
			want:   []string{"categories"},
		},
		{
			name:   "loop target does not leak past endfor",
			source: "{% for item in items %}{% endfor %}{{ item }}",
			want:   []string{"item", "items"},
		},
		{
			name:   "filter with default",
			source: `Hello {{ name|default("User") }}!`,
			want:   []string{"name"},
		},
		{
			name:   "chained filters",
			source: "{{ name|upper|reverse }}",
			want:   []string{"name"},
		},
		{
			name:   "filter arguments are scanned",
			source: "{{ items|join(separator) }}",
			want:   []string{"items", "separator"},
		},
		{
			name:   "string filter argument is not a variable",
			source: `{{ items|join(", ") }} has {{ items|length }} entries`,
			want:   []string{"items"},
		},
		{
			name:   "attribute access reports the head only",
			source: "{{ user.profile.email }}",
			want:   []string{"user"},
		},
		{
			name:   "set binds from assignment onward",
			source: "{% set total = base + 1 %}{{ total }}",
			want:   []string{"base"},
		},
		{
			name:   "use before set is free",
			source: "{{ total }}{% set total = 1 %}",
			want:   []string{"total"},
		},
		{
			name:   "with block",
			source: "{% with short = really_long_name %}{{ short }}, {{ other }}{% endwith %}",
			want:   []string{"other", "really_long_name"},
		},
		{
			name:   "macro name and parameters bound",
			source: "{% macro greet(who) %}Hello {{ who }}{% endmacro %}{{ greet(name) }}",
			want:   []string{"name"},
		},
		{
			name:   "test names are not variables",
			source: "{% if user is defined %}{{ user }}{% endif %}",
			want:   []string{"user"},
		},
		{
			name:   "is not keeps test position",
			source: "{% if value is not none %}{{ value }}{% endif %}",
			want:   []string{"value"},
		},
		{
			name:   "inline conditional",
			source: "{{ primary if enabled else fallback }}",
			want:   []string{"enabled", "fallback", "primary"},
		},
		{
			name:   "comparison and logic keywords",
			source: "{% if age >= 18 and has_license or not is_banned %}ok{% endif %}",
			want:   []string{"age", "has_license", "is_banned"},
		},
		{
			name:   "loop filter condition sees targets",
			source: "{% for item in items if item.active %}{{ item.name }}{% endfor %}",
			want:   []string{"items"},
		},
		{
			name:   "raw block ignored",
			source: "{% raw %}{{ not_a_var }}{% endraw %}{{ real_var }}",
			want:   []string{"real_var"},
		},
		{
			name:   "comments ignored",
			source: "{# {{ hidden }} #}{{ shown }}",
			want:   []string{"shown"},
		},
		{
			name:   "whitespace control markers",
			source: "{{- trimmed -}} {%- if flag -%}x{%- endif -%}",
			want:   []string{"flag", "trimmed"},
		},
		{
			name:   "engine globals excluded",
			source: "{% for i in range(count) %}{{ i }}{% endfor %}",
			want:   []string{"count"},
		},
		{
			name:   "numbers and strings are not variables",
			source: `{{ 42 }} {{ 3.14 }} {{ "literal" }} {{ 'single' }}`,
			want:   nil,
		},
		{
			name:   "delimiters inside strings do not close regions",
			source: `{{ sep|default("}}") }}{{ after }}`,
			want:   []string{"after", "sep"},
		},
		{
			name:   "include target variable is reported",
			source: "{% include partial %}",
			want:   []string{"partial"},
		},
		{
			name:   "include modifiers are not variables",
			source: `{% include "header.md" ignore missing with context %}`,
			want:   nil,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := freeVariables(tt.source)

			names := make([]string, 0, len(got))
			for name := range got {
				names = append(names, name)
			}
			sort.Strings(names)

			if len(names) != len(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, names)
			}
			for i, want := range tt.want {
				if names[i] != want {
					t.Fatalf("expected %v, got %v", tt.want, names)
				}
			}
		})
	}
}

func TestCheckDelimiters(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		source  string
		wantErr bool
	}{
		{name: "plain text", source: "no tags at all"},
		{name: "balanced regions", source: "Hi {{ name }} {% if x %}y{% endif %} {# c #}"},
		{name: "closer inside string", source: `{{ "}}" }} done`},
		{name: "stray closer is text", source: "}} stray"},
		{name: "closed raw block", source: "{% raw %}{{ verbatim }}{% endraw %}"},
		{name: "unterminated expression", source: "Hello {{ name", wantErr: true},
		{name: "unterminated block", source: "{% if x", wantErr: true},
		{name: "unterminated comment", source: "text {# never closed", wantErr: true},
		{name: "raw without endraw", source: "{% raw %}{{ verbatim }}", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := checkDelimiters(tt.source)
			if tt.wantErr && err == nil {
				t.Fatalf("expected error for %q", tt.source)
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error for %q: %v", tt.source, err)
			}
		})
	}
}

func TestFreeVariablesIdempotent(t *testing.T) {
	t.Parallel()

	source := "{% for item in items %}{{ item }} {{ prefix }}{% endfor %}{{ suffix }}"

	first := freeVariables(source)
	second := freeVariables(source)

	if len(first) != len(second) {
		t.Fatalf("expected identical sets, got %v and %v", first, second)
	}
	for name := range first {
		if _, ok := second[name]; !ok {
			t.Errorf("second scan missing %q", name)
		}
	}
}
