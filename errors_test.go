package promptly

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorFormat(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "what only",
			err:  &Error{What: "something broke"},
			want: "something broke",
		},
		{
			name: "what and why",
			err:  &Error{What: "something broke", Why: "bad input"},
			want: "something broke: bad input",
		},
		{
			name: "with cause",
			err:  &Error{What: "something broke", Cause: errors.New("underlying error")},
			want: "something broke: underlying error",
		},
		{
			name: "full error",
			err: &Error{
				What:  "something broke",
				Why:   "bad input",
				Fix:   "try again",
				Cause: errors.New("underlying error"),
			},
			want: "something broke: bad input: underlying error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorIs(t *testing.T) {
	err := ErrTemplateNotFound("missing.md", "/prompts/missing.md", nil)

	if !errors.Is(err, &Error{Code: CodeTemplateNotFound}) {
		t.Error("expected match on same code")
	}
	if errors.Is(err, &Error{Code: CodeTemplateSyntax}) {
		t.Error("expected no match on different code")
	}

	// Matching survives wrapping
	wrapped := fmt.Errorf("outer context: %w", err)
	if !errors.Is(wrapped, &Error{Code: CodeTemplateNotFound}) {
		t.Error("expected match through wrapped error")
	}
}

func TestAsError(t *testing.T) {
	err := ErrUndefinedVariable("greeting.md", errors.New("name is undefined"))
	wrapped := fmt.Errorf("render failed: %w", err)

	got := AsError(wrapped)
	if got == nil {
		t.Fatal("expected to recover *Error from wrapped chain")
	}
	if got.Code != CodeUndefinedVariable {
		t.Errorf("expected code %q, got %q", CodeUndefinedVariable, got.Code)
	}

	if AsError(errors.New("plain error")) != nil {
		t.Error("expected nil for non-promptly error")
	}
	if AsError(nil) != nil {
		t.Error("expected nil for nil error")
	}
}

func TestErrorWithCause(t *testing.T) {
	base := ErrTemplateSyntax("bad.md", nil)
	cause := errors.New("unexpected end of input")

	err := base.WithCause(cause)
	if err.Cause != cause {
		t.Error("expected cause to be set")
	}
	if base.Cause != nil {
		t.Error("expected original to be unchanged")
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause to be in unwrap chain")
	}
}

func TestErrTemplateNotFoundMessage(t *testing.T) {
	err := ErrTemplateNotFound("tasks/review.md", "/abs/prompts/tasks/review.md", nil)

	msg := err.Error()
	for _, want := range []string{"tasks/review.md", "/abs/prompts/tasks/review.md"} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected message to contain %q, got %q", want, msg)
		}
	}
}
