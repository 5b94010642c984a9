// Package promptly loads and renders LLM prompt templates from a directory.
//
// A Loader is rooted at a prompts directory and resolves every template path
// relative to it. Templates are plain text files (commonly .md) using Jinja
// syntax: variable substitution, filters, conditionals, and loops are all
// handled by the embedded templating engine. Undefined variables are an
// error rather than an empty string, and block tags render with clean
// whitespace (trimmed trailing newlines, stripped leading indentation).
//
// # Quick Start
//
//	loader, err := promptly.New("prompts")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Render a template with bindings
//	prompt, err := loader.Render("tasks/code_review.md", map[string]any{
//	    "language": "Go",
//	    "code":     "func foo() {}",
//	})
//
//	// Discover which variables a template needs
//	vars, err := loader.Variables("tasks/code_review.md")
//
//	// List available prompts
//	paths, err := loader.List()
//
// A Loader holds no mutable per-call state; one instance may be shared by
// concurrent readers.
package promptly
