package promptly

import (
	"fmt"
	"strings"
)

// Code represents a unique error code.
type Code string

// Error codes for promptly.
const (
	// Configuration errors, raised at construction
	CodeDirNotFound   Code = "PROMPTS_DIR_NOT_FOUND"
	CodeNotADirectory Code = "PROMPTS_DIR_NOT_A_DIRECTORY"

	// Per-operation errors
	CodeTemplateNotFound  Code = "TEMPLATE_NOT_FOUND"
	CodeUndefinedVariable Code = "UNDEFINED_VARIABLE"
	CodeTemplateSyntax    Code = "TEMPLATE_SYNTAX"
	CodeRenderFailed      Code = "RENDER_FAILED"
	CodeBadPattern        Code = "BAD_PATTERN"
)

// Error is the structured error type for promptly.
type Error struct {
	Code  Code
	What  string
	Why   string
	Fix   string
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString(": ")
		b.WriteString(e.Why)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithCause returns a copy of the error with the given cause.
func (e *Error) WithCause(err error) *Error {
	return &Error{
		Code:  e.Code,
		What:  e.What,
		Why:   e.Why,
		Fix:   e.Fix,
		Cause: err,
	}
}

// AsError attempts to convert an error to a promptly Error.
// Returns nil if the error is not one.
func AsError(err error) *Error {
	for err != nil {
		if perr, ok := err.(*Error); ok {
			return perr
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil
		}
		err = unwrapper.Unwrap()
	}
	return nil
}

// --- Error constructors ---

// ErrDirNotFound returns an error for a missing prompts directory.
func ErrDirNotFound(dir string) *Error {
	return &Error{
		Code: CodeDirNotFound,
		What: fmt.Sprintf("prompts directory does not exist: %s", dir),
		Why:  "The loader requires an existing directory to resolve templates against",
		Fix:  "Create the directory, or point the loader at an existing one",
	}
}

// ErrNotADirectory returns an error when the prompts path is not a directory.
func ErrNotADirectory(path string) *Error {
	return &Error{
		Code: CodeNotADirectory,
		What: fmt.Sprintf("prompts path is not a directory: %s", path),
		Why:  "The loader resolves template paths relative to a directory, not a file",
		Fix:  "Pass the directory containing your prompt files",
	}
}

// ErrTemplateNotFound returns an error for a missing template file.
// The message carries both the requested relative path and the resolved
// absolute path that was checked.
func ErrTemplateNotFound(relPath, fullPath string, cause error) *Error {
	return &Error{
		Code:  CodeTemplateNotFound,
		What:  fmt.Sprintf("prompt template not found: %s", relPath),
		Why:   fmt.Sprintf("Expected location: %s", fullPath),
		Fix:   "Check the template path, or call List() to see available prompts",
		Cause: cause,
	}
}

// ErrUndefinedVariable returns an error for a variable referenced in a
// template but absent from the render bindings.
func ErrUndefinedVariable(template string, cause error) *Error {
	return &Error{
		Code:  CodeUndefinedVariable,
		What:  fmt.Sprintf("missing required variable in template %q", template),
		Why:   "A referenced variable has no binding and no template-level default",
		Fix:   "Add the variable to the bindings, or give it a default() in the template",
		Cause: cause,
	}
}

// ErrTemplateSyntax returns an error for a malformed template.
func ErrTemplateSyntax(template string, cause error) *Error {
	return &Error{
		Code:  CodeTemplateSyntax,
		What:  fmt.Sprintf("syntax error in template %q", template),
		Why:   "The template contains unbalanced delimiters or malformed tags",
		Fix:   "Fix the template source; the cause names the offending location",
		Cause: cause,
	}
}

// ErrRenderFailed returns an error for a render failure that is not an
// undefined-variable condition, such as a filter applied to an
// incompatible value.
func ErrRenderFailed(template string, cause error) *Error {
	return &Error{
		Code:  CodeRenderFailed,
		What:  fmt.Sprintf("failed to render template %q", template),
		Cause: cause,
	}
}

// ErrBadPattern returns an error for a malformed list glob pattern.
func ErrBadPattern(pattern string, cause error) *Error {
	return &Error{
		Code:  CodeBadPattern,
		What:  fmt.Sprintf("invalid glob pattern: %s", pattern),
		Fix:   "Use doublestar glob syntax, e.g. \"**/*.md\" or \"tasks/*.md\"",
		Cause: cause,
	}
}
