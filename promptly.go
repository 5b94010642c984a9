package promptly

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultListPattern matches every .md file at any depth under the
// prompts directory.
const DefaultListPattern = "**/*.md"

// Loader loads and renders prompt templates from a directory. It holds no
// mutable per-call state; all paths resolve relative to the directory
// fixed at construction.
type Loader struct {
	dir    string
	engine Engine
}

// Option configures a Loader.
type Option func(*Loader)

// WithEngine substitutes the templating engine. The default engine is
// Jinja-backed; any Engine implementation honoring the same contract may
// replace it.
func WithEngine(e Engine) Option {
	return func(l *Loader) {
		l.engine = e
	}
}

// New creates a prompt loader rooted at dir. It fails if dir does not
// exist or is not a directory. The default engine strips leading
// whitespace before block tags, removes the newline after a block tag,
// and treats unresolved variables as render errors.
func New(dir string, opts ...Option) (*Loader, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve prompts directory: %w", err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrDirNotFound(abs)
		}
		return nil, fmt.Errorf("stat prompts directory: %w", err)
	}
	if !info.IsDir() {
		return nil, ErrNotADirectory(abs)
	}

	l := &Loader{dir: abs}
	for _, opt := range opts {
		opt(l)
	}

	if l.engine == nil {
		engine, err := newJinjaEngine(abs)
		if err != nil {
			return nil, fmt.Errorf("initialize template engine: %w", err)
		}
		l.engine = engine
	}

	return l, nil
}

// Render loads the template at path (relative to the prompts directory)
// and substitutes the given bindings. Every call re-resolves and re-parses
// the file; compiled templates are not cached.
func (l *Loader) Render(path string, bindings map[string]any) (string, error) {
	t, err := l.engine.Load(path)
	if err != nil {
		slog.Debug("prompt load failed", "path", path, "error", err)
		return "", err
	}
	return l.engine.Render(t, bindings)
}

// Load is an alias for Render. Both produce identical results for
// identical inputs.
func (l *Loader) Load(path string, bindings map[string]any) (string, error) {
	return l.Render(path, bindings)
}

// Variables loads and parses the template at path without rendering it and
// returns the set of variable names it references but does not bind
// itself. Loop-local names are excluded; a loop's iteration source is
// included. Missing bindings are never an error here.
func (l *Loader) Variables(path string) (map[string]struct{}, error) {
	t, err := l.engine.Load(path)
	if err != nil {
		return nil, err
	}
	return l.engine.FreeVariables(t), nil
}

// VariableNames returns the same set as Variables as a sorted slice.
func (l *Loader) VariableNames(path string) ([]string, error) {
	set, err := l.Variables(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// List returns the relative paths of all regular files under the prompts
// directory matching the glob pattern, in ascending lexicographic order.
// The pattern defaults to DefaultListPattern; doublestar syntax applies,
// so "**" matches any number of directories. Paths use forward slashes.
func (l *Loader) List(pattern ...string) ([]string, error) {
	p := DefaultListPattern
	if len(pattern) > 0 {
		p = pattern[0]
	}

	matches, err := doublestar.Glob(os.DirFS(l.dir), p, doublestar.WithFilesOnly())
	if err != nil {
		return nil, ErrBadPattern(p, err)
	}

	sort.Strings(matches)
	return matches, nil
}

// Dir returns the absolute prompts directory the loader was constructed
// with.
func (l *Loader) Dir() string {
	return l.dir
}
