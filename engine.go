package promptly

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/nikolalohinski/gonja/v2"
	"github.com/nikolalohinski/gonja/v2/config"
	"github.com/nikolalohinski/gonja/v2/exec"
	"github.com/nikolalohinski/gonja/v2/loaders"
)

// Engine is the capability interface the loader delegates templating to.
// The default implementation wraps gonja, a Jinja engine for Go; any
// compatible engine can be substituted via WithEngine without altering the
// loader's contract.
type Engine interface {
	// Load resolves path against the engine's root directory, reads the
	// file, and parses it. Fails with a not-found or syntax error.
	Load(path string) (*Template, error)
	// Render substitutes bindings into a loaded template. Fails with an
	// undefined-variable error when a referenced variable has no binding
	// and no template-level default.
	Render(t *Template, bindings map[string]any) (string, error)
	// FreeVariables statically determines the variables a loaded template
	// references without binding itself. It never renders.
	FreeVariables(t *Template) map[string]struct{}
}

// Template is an opaque handle to a loaded, parsed template.
type Template struct {
	name     string
	source   string
	compiled any
}

// Name returns the relative path the template was loaded from.
func (t *Template) Name() string { return t.name }

// Source returns the raw template text.
func (t *Template) Source() string { return t.source }

// jinjaEngine renders templates with gonja. Unresolved variables are a
// render error (strict undefined), and block tags are trimmed from the
// output the way trim_blocks and lstrip_blocks prescribe.
type jinjaEngine struct {
	dir    string
	cfg    *config.Config
	loader loaders.Loader
	env    *exec.Environment
}

func newJinjaEngine(dir string) (*jinjaEngine, error) {
	fsLoader, err := loaders.NewFileSystemLoader(dir)
	if err != nil {
		return nil, fmt.Errorf("create template loader: %w", err)
	}

	// gonja's lexer does not honor the TrimBlocks and LeftStripBlocks
	// settings, so block whitespace trimming happens in the loader
	// before the source reaches the lexer.
	cfg := config.New()
	cfg.StrictUndefined = true

	return &jinjaEngine{
		dir:    dir,
		cfg:    cfg,
		loader: trimLoader{inner: fsLoader},
		env:    gonja.DefaultEnvironment,
	}, nil
}

// Load reads and parses a template relative to the prompts directory.
func (e *jinjaEngine) Load(path string) (*Template, error) {
	full := filepath.Join(e.dir, filepath.FromSlash(path))

	info, err := os.Stat(full)
	if err != nil {
		return nil, ErrTemplateNotFound(path, full, err)
	}
	if info.IsDir() {
		return nil, ErrTemplateNotFound(path, full, fmt.Errorf("%s is a directory", full))
	}

	source, err := os.ReadFile(full)
	if err != nil {
		return nil, ErrTemplateNotFound(path, full, err)
	}

	// gonja's lexer spins forever on an unterminated delimiter, so
	// balance is validated before compiling.
	if err := checkDelimiters(string(source)); err != nil {
		return nil, ErrTemplateSyntax(path, err)
	}

	compiled, err := exec.NewTemplate(path, e.cfg, e.loader, e.env)
	if err != nil {
		return nil, ErrTemplateSyntax(path, err)
	}

	return &Template{
		name:     path,
		source:   string(source),
		compiled: compiled,
	}, nil
}

// Render executes a loaded template with the given bindings.
func (e *jinjaEngine) Render(t *Template, bindings map[string]any) (string, error) {
	compiled, ok := t.compiled.(*exec.Template)
	if !ok {
		return "", ErrRenderFailed(t.name, fmt.Errorf("template was not loaded by this engine"))
	}

	if bindings == nil {
		bindings = map[string]any{}
	}

	var buf bytes.Buffer
	if err := compiled.Execute(&buf, exec.NewContext(bindings)); err != nil {
		if isUndefinedError(err) {
			return "", ErrUndefinedVariable(t.name, err)
		}
		return "", ErrRenderFailed(t.name, err)
	}
	return buf.String(), nil
}

// FreeVariables statically scans the template source for unbound variables.
// gonja exposes no undeclared-variable introspection, so the scan is our
// own; see variables.go.
func (e *jinjaEngine) FreeVariables(t *Template) map[string]struct{} {
	return freeVariables(t.Source())
}

// isUndefinedError reports whether a render error came from the engine's
// strict-undefined handling rather than some other evaluation failure.
// gonja reports a strict-undefined lookup as `Unable to evaluate name "x"`,
// plain or wrapped in an `Unable to execute controlStructure` message.
func isUndefinedError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unable to evaluate name") ||
		strings.Contains(msg, "undefined")
}

// trimLoader rewrites templates as gonja reads them, applying block
// whitespace trimming to every file on the load path, includes too.
type trimLoader struct {
	inner loaders.Loader
}

func (l trimLoader) Read(path string) (io.Reader, error) {
	r, err := l.inner.Read(path)
	if err != nil {
		return nil, err
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	src := string(b)
	if err := checkDelimiters(src); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return strings.NewReader(applyWhitespaceControl(src)), nil
}

func (l trimLoader) Resolve(path string) (string, error) {
	return l.inner.Resolve(path)
}

func (l trimLoader) Inherit(from string) (loaders.Loader, error) {
	inner, err := l.inner.Inherit(from)
	if err != nil {
		return nil, err
	}
	return trimLoader{inner: inner}, nil
}

// applyWhitespaceControl rewrites template text so block and comment tags
// render cleanly: horizontal whitespace between a line start and a tag is
// removed, as is the single newline following a tag. Tags carrying explicit
// whitespace-control markers ({%- ... -%}) are left to the engine, and raw
// block content is untouched.
func applyWhitespaceControl(src string) string {
	out := make([]byte, 0, len(src))
	i := 0
	for i < len(src) {
		c := src[i]
		if c != '{' || i+1 >= len(src) {
			out = append(out, c)
			i++
			continue
		}
		switch src[i+1] {
		case '{':
			end, ok := findRegionEnd(src, i+2, "}}")
			if !ok {
				return string(append(out, src[i:]...))
			}
			out = append(out, src[i:end]...)
			i = end
		case '%', '#':
			closer := "%}"
			if src[i+1] == '#' {
				closer = "#}"
			}
			end, ok := findRegionEnd(src, i+2, closer)
			if !ok {
				return string(append(out, src[i:]...))
			}
			inner := src[i+2 : end-2]
			if len(inner) == 0 || (inner[0] != '-' && inner[0] != '+') {
				out = lstripLine(out)
			}
			out = append(out, src[i:end]...)
			i = end
			if len(inner) == 0 || (inner[len(inner)-1] != '-' && inner[len(inner)-1] != '+') {
				switch {
				case i < len(src) && src[i] == '\n':
					i++
				case i+1 < len(src) && src[i] == '\r' && src[i+1] == '\n':
					i += 2
				}
			}
			if closer == "%}" {
				if kw, _ := splitWord(trimControl(inner)); kw == "raw" {
					j := findEndraw(src, i)
					if j < 0 {
						return string(append(out, src[i:]...))
					}
					out = append(out, src[i:j]...)
					i = j
				}
			}
		default:
			out = append(out, c)
			i++
		}
	}
	return string(out)
}

// lstripLine drops horizontal whitespace between the current line start
// and the end of out.
func lstripLine(out []byte) []byte {
	j := len(out)
	for j > 0 && (out[j-1] == ' ' || out[j-1] == '\t') {
		j--
	}
	if j == 0 || out[j-1] == '\n' {
		return out[:j]
	}
	return out
}

// findEndraw returns the index of the {% endraw %} opener at or after
// from, or -1 when the raw block is unterminated.
func findEndraw(src string, from int) int {
	for from < len(src) {
		j := strings.Index(src[from:], "{%")
		if j < 0 {
			return -1
		}
		from += j
		end, ok := findRegionEnd(src, from+2, "%}")
		if !ok {
			return -1
		}
		if kw, _ := splitWord(trimControl(src[from+2 : end-2])); kw == "endraw" {
			return from
		}
		from = end
	}
	return -1
}
