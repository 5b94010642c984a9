package promptly

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// exprKeywords are words inside template expressions that are never
// variable references.
var exprKeywords = map[string]bool{
	"and": true, "or": true, "not": true, "in": true, "if": true,
	"else": true, "is": true, "true": true, "false": true, "none": true,
	"True": true, "False": true, "None": true,
}

// engineGlobals resolve through the engine without a caller binding.
var engineGlobals = map[string]bool{
	"range": true, "dict": true, "namespace": true,
	"cycler": true, "joiner": true, "lipsum": true,
}

// freeVariables statically determines the set of variable names a template
// references without binding itself. Loop targets, set/with assignments,
// and macro parameters are template-bound and excluded; a loop's iteration
// source is not and is included. The scan is a pure function of the source
// text, so repeated calls on unchanged content return the same set.
func freeVariables(source string) map[string]struct{} {
	sc := &varScanner{
		src:    source,
		free:   make(map[string]struct{}),
		scopes: []map[string]bool{{}},
	}
	sc.run()
	return sc.free
}

// varScanner walks template source region by region ({{ }}, {% %}, {# #}),
// tracking the scopes the template itself introduces.
type varScanner struct {
	src    string
	pos    int
	free   map[string]struct{}
	scopes []map[string]bool
}

func (sc *varScanner) run() {
	for sc.pos < len(sc.src) {
		i := strings.IndexByte(sc.src[sc.pos:], '{')
		if i < 0 {
			return
		}
		sc.pos += i
		rest := sc.src[sc.pos:]
		switch {
		case strings.HasPrefix(rest, "{{"):
			sc.scanExpr(trimControl(sc.readRegion("}}")), nil)
		case strings.HasPrefix(rest, "{%"):
			sc.handleTag(trimControl(sc.readRegion("%}")))
		case strings.HasPrefix(rest, "{#"):
			end := strings.Index(sc.src[sc.pos+2:], "#}")
			if end < 0 {
				sc.pos = len(sc.src)
				return
			}
			sc.pos += 2 + end + 2
		default:
			sc.pos++
		}
	}
}

// readRegion consumes a {{ or {% region starting at sc.pos and returns its
// inner content. Closing delimiters inside quoted strings do not terminate
// the region. An unterminated region consumes the rest of the source;
// checkDelimiters reports the actual syntax error before the scan runs.
func (sc *varScanner) readRegion(close string) string {
	start := sc.pos + 2
	end, ok := findRegionEnd(sc.src, start, close)
	if !ok {
		content := sc.src[start:]
		sc.pos = len(sc.src)
		return content
	}
	content := sc.src[start : end-len(close)]
	sc.pos = end
	return content
}

// findRegionEnd locates the closing delimiter of a region whose content
// begins at start, skipping quoted strings. Returns the index just past
// the closer.
func findRegionEnd(s string, start int, close string) (int, bool) {
	i := start
	for i < len(s) {
		c := s[i]
		if c == '\'' || c == '"' {
			i = skipString(s, i)
			continue
		}
		if strings.HasPrefix(s[i:], close) {
			return i + len(close), true
		}
		i++
	}
	return len(s), false
}

// checkDelimiters verifies that every region opened by {{, {%, or {# is
// closed and every raw block has its endraw. gonja's lexer does not
// recover from an unterminated region, so the check runs before the
// source reaches the engine.
func checkDelimiters(src string) error {
	pos := 0
	for pos < len(src) {
		i := strings.IndexByte(src[pos:], '{')
		if i < 0 {
			return nil
		}
		pos += i
		rest := src[pos:]
		switch {
		case strings.HasPrefix(rest, "{{"):
			end, ok := findRegionEnd(src, pos+2, "}}")
			if !ok {
				return fmt.Errorf("unterminated '{{' opened at offset %d", pos)
			}
			pos = end
		case strings.HasPrefix(rest, "{%"):
			end, ok := findRegionEnd(src, pos+2, "%}")
			if !ok {
				return fmt.Errorf("unterminated '{%%' opened at offset %d", pos)
			}
			keyword, _ := splitWord(trimControl(src[pos+2 : end-2]))
			rawAt := pos
			pos = end
			if keyword != "raw" {
				continue
			}
			closed := false
			for pos < len(src) {
				j := strings.Index(src[pos:], "{%")
				if j < 0 {
					break
				}
				pos += j
				end, ok := findRegionEnd(src, pos+2, "%}")
				if !ok {
					return fmt.Errorf("unterminated '{%%' opened at offset %d", pos)
				}
				kw, _ := splitWord(trimControl(src[pos+2 : end-2]))
				pos = end
				if kw == "endraw" {
					closed = true
					break
				}
			}
			if !closed {
				return fmt.Errorf("raw block opened at offset %d has no endraw", rawAt)
			}
		case strings.HasPrefix(rest, "{#"):
			end := strings.Index(src[pos+2:], "#}")
			if end < 0 {
				return fmt.Errorf("unterminated '{#' opened at offset %d", pos)
			}
			pos += 2 + end + 2
		default:
			pos++
		}
	}
	return nil
}

func (sc *varScanner) handleTag(content string) {
	keyword, rest := splitWord(content)
	switch keyword {
	case "raw":
		sc.skipRaw()
	case "for":
		sc.scanFor(rest)
	case "endfor", "endwith", "endmacro":
		sc.popScope()
	case "set":
		sc.scanSet(rest)
	case "with":
		sc.pushScope(sc.scanWith(rest)...)
	case "macro":
		sc.scanMacro(rest)
	case "if", "elif", "call":
		sc.scanExpr(rest, nil)
	case "filter":
		// rest is a filter chain; a leading pipe puts the scanner in
		// filter-name position so the chain's names are skipped while
		// their arguments are still scanned.
		sc.scanExpr("|"+rest, nil)
	case "include", "extends", "import", "from":
		sc.scanImportish(keyword, rest)
	case "block", "else", "endif", "endblock", "endfilter", "endset", "endcall", "endraw":
		// no variable references
	default:
		sc.scanExpr(rest, nil)
	}
}

// scanFor handles {% for targets in expr [if cond] %}. The iteration
// expression is evaluated in the enclosing scope; the targets and the
// implicit loop object are bound inside the loop body.
func (sc *varScanner) scanFor(rest string) {
	targets, expr, ok := splitTopLevel(rest, "in")
	if !ok {
		sc.scanExpr(rest, nil)
		sc.pushScope()
		return
	}
	iter, cond, hasCond := splitTopLevel(expr, "if")
	if !hasCond {
		iter = expr
	}
	sc.scanExpr(iter, nil)
	sc.pushScope(append(parseTargets(targets), "loop")...)
	if hasCond {
		sc.scanExpr(cond, nil)
	}
}

// scanSet handles both {% set name = expr %} and the block form
// {% set name %}...{% endset %}. Assignments to attributes (namespace
// fields) read the target rather than binding a new name.
func (sc *varScanner) scanSet(rest string) {
	lhs, rhs, hasAssign := splitAssign(rest)
	if !hasAssign {
		for _, n := range parseTargets(rest) {
			sc.bind(n)
		}
		return
	}
	sc.scanExpr(rhs, nil)
	if strings.ContainsAny(lhs, ".[") {
		sc.scanExpr(lhs, nil)
		return
	}
	for _, n := range parseTargets(lhs) {
		sc.bind(n)
	}
}

// scanWith handles {% with a = expr, b = expr %}, returning the names to
// bind for the block. Values are evaluated in the enclosing scope.
func (sc *varScanner) scanWith(rest string) []string {
	var names []string
	for _, part := range splitTopLevelComma(rest) {
		lhs, rhs, ok := splitAssign(part)
		if !ok {
			sc.scanExpr(part, nil)
			continue
		}
		sc.scanExpr(rhs, nil)
		names = append(names, parseTargets(lhs)...)
	}
	return names
}

// scanMacro handles {% macro name(params) %}: the macro name binds in the
// enclosing scope, its parameters inside the body.
func (sc *varScanner) scanMacro(rest string) {
	open := strings.IndexByte(rest, '(')
	if open < 0 {
		for _, n := range parseTargets(rest) {
			sc.bind(n)
		}
		sc.pushScope()
		return
	}
	for _, n := range parseTargets(rest[:open]) {
		sc.bind(n)
	}
	inner := rest[open+1:]
	if end := strings.LastIndexByte(inner, ')'); end >= 0 {
		inner = inner[:end]
	}
	sc.pushScope()
	for _, part := range splitTopLevelComma(inner) {
		lhs, rhs, ok := splitAssign(part)
		if !ok {
			lhs = part
		}
		for _, n := range parseTargets(lhs) {
			sc.bind(n)
		}
		if ok {
			sc.scanExpr(rhs, nil)
		}
	}
}

// scanImportish handles include, extends, import, and from tags. Imported
// names become template-bound; tag modifiers (ignore missing, with
// context) are never variables.
func (sc *varScanner) scanImportish(keyword, rest string) {
	modifiers := map[string]bool{
		"ignore": true, "missing": true,
		"with": true, "without": true, "context": true,
	}
	switch keyword {
	case "from":
		src, imports, ok := splitTopLevel(rest, "import")
		if !ok {
			sc.scanExpr(rest, modifiers)
			return
		}
		sc.scanExpr(src, modifiers)
		for _, part := range splitTopLevelComma(imports) {
			fields := strings.Fields(part)
			switch {
			case len(fields) >= 3 && fields[1] == "as":
				sc.bind(fields[2])
			case len(fields) >= 1 && !modifiers[fields[0]]:
				sc.bind(fields[0])
			}
		}
	case "import":
		src, alias, ok := splitTopLevel(rest, "as")
		if !ok {
			sc.scanExpr(rest, modifiers)
			return
		}
		sc.scanExpr(src, modifiers)
		for _, n := range parseTargets(alias) {
			sc.bind(n)
		}
	default:
		sc.scanExpr(rest, modifiers)
	}
}

// skipRaw consumes source until the matching {% endraw %}.
func (sc *varScanner) skipRaw() {
	for sc.pos < len(sc.src) {
		i := strings.Index(sc.src[sc.pos:], "{%")
		if i < 0 {
			sc.pos = len(sc.src)
			return
		}
		sc.pos += i
		keyword, _ := splitWord(trimControl(sc.readRegion("%}")))
		if keyword == "endraw" {
			return
		}
	}
}

// scanExpr tokenizes one expression, recording unbound identifiers as free
// variables. Attribute names (after '.'), filter names (after '|'), and
// test names (after 'is' / 'is not') are positional and never variables.
func (sc *varScanner) scanExpr(s string, extra map[string]bool) {
	const (
		ctxNone   = 0
		ctxAttr   = '.'
		ctxFilter = '|'
		ctxTest   = 'i'
	)
	ctx := byte(ctxNone)
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == '\'' || c == '"':
			i = skipString(s, i)
			ctx = ctxNone
		case c >= '0' && c <= '9':
			for i < len(s) && (s[i] == '.' || s[i] == '_' || s[i] == 'e' || s[i] == 'E' ||
				(s[i] >= '0' && s[i] <= '9')) {
				i++
			}
			ctx = ctxNone
		case c == '.':
			ctx = ctxAttr
			i++
		case c == '|':
			ctx = ctxFilter
			i++
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		default:
			r, size := utf8.DecodeRuneInString(s[i:])
			if !isIdentStart(r) {
				ctx = ctxNone
				i += size
				continue
			}
			start := i
			for i < len(s) {
				r2, sz := utf8.DecodeRuneInString(s[i:])
				if !isIdentPart(r2) {
					break
				}
				i += sz
			}
			word := s[start:i]
			switch {
			case ctx == ctxAttr || ctx == ctxFilter || ctx == ctxTest:
			case exprKeywords[word] || extra[word]:
			case engineGlobals[word]:
			case sc.bound(word):
			default:
				sc.free[word] = struct{}{}
			}
			switch {
			case word == "is":
				ctx = ctxTest
			case word == "not" && ctx == ctxTest:
				// "is not <test>" keeps test position
			default:
				ctx = ctxNone
			}
		}
	}
}

// --- scope tracking ---

func (sc *varScanner) pushScope(names ...string) {
	scope := make(map[string]bool, len(names))
	for _, n := range names {
		scope[n] = true
	}
	sc.scopes = append(sc.scopes, scope)
}

func (sc *varScanner) popScope() {
	if len(sc.scopes) > 1 {
		sc.scopes = sc.scopes[:len(sc.scopes)-1]
	}
}

func (sc *varScanner) bind(name string) {
	if name != "" {
		sc.scopes[len(sc.scopes)-1][name] = true
	}
}

func (sc *varScanner) bound(name string) bool {
	for i := len(sc.scopes) - 1; i >= 0; i-- {
		if sc.scopes[i][name] {
			return true
		}
	}
	return false
}

// --- lexical helpers ---

// trimControl strips whitespace-control markers ({{- ... -}}, {%+ ... %}).
func trimControl(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 0 && (s[0] == '-' || s[0] == '+') {
		s = strings.TrimSpace(s[1:])
	}
	if len(s) > 0 && (s[len(s)-1] == '-' || s[len(s)-1] == '+') {
		s = strings.TrimSpace(s[:len(s)-1])
	}
	return s
}

// skipString advances past a quoted string starting at i, honoring
// backslash escapes. Returns the index just past the closing quote.
func skipString(s string, i int) int {
	quote := s[i]
	i++
	for i < len(s) {
		switch s[i] {
		case '\\':
			i += 2
			continue
		case quote:
			return i + 1
		}
		i++
	}
	return i
}

// splitWord splits off the first whitespace-delimited word.
func splitWord(s string) (string, string) {
	s = strings.TrimSpace(s)
	i := 0
	for i < len(s) && !isSpaceByte(s[i]) {
		i++
	}
	return s[:i], strings.TrimSpace(s[i:])
}

// splitTopLevel splits s at the first occurrence of word as a standalone
// token at bracket depth zero, outside strings.
func splitTopLevel(s, word string) (before, after string, found bool) {
	depth := 0
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == '\'' || c == '"':
			i = skipString(s, i)
		case c == '(' || c == '[' || c == '{':
			depth++
			i++
		case c == ')' || c == ']' || c == '}':
			depth--
			i++
		default:
			r, size := utf8.DecodeRuneInString(s[i:])
			if !isIdentStart(r) {
				i += size
				continue
			}
			start := i
			for i < len(s) {
				r2, sz := utf8.DecodeRuneInString(s[i:])
				if !isIdentPart(r2) {
					break
				}
				i += sz
			}
			if depth == 0 && s[start:i] == word {
				return s[:start], s[i:], true
			}
		}
	}
	return s, "", false
}

// splitTopLevelComma splits s on commas at bracket depth zero.
func splitTopLevelComma(s string) []string {
	var parts []string
	depth := 0
	start := 0
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == '\'' || c == '"':
			i = skipString(s, i)
			continue
		case c == '(' || c == '[' || c == '{':
			depth++
		case c == ')' || c == ']' || c == '}':
			depth--
		case c == ',' && depth == 0:
			parts = append(parts, s[start:i])
			start = i + 1
		}
		i++
	}
	if rest := s[start:]; strings.TrimSpace(rest) != "" {
		parts = append(parts, rest)
	}
	return parts
}

// splitAssign splits s at the first top-level '=' that is an assignment
// rather than part of a comparison operator.
func splitAssign(s string) (lhs, rhs string, ok bool) {
	depth := 0
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == '\'' || c == '"':
			i = skipString(s, i)
			continue
		case c == '(' || c == '[' || c == '{':
			depth++
		case c == ')' || c == ']' || c == '}':
			depth--
		case c == '=' && depth == 0:
			if i+1 < len(s) && s[i+1] == '=' {
				i += 2
				continue
			}
			if i > 0 && (s[i-1] == '!' || s[i-1] == '<' || s[i-1] == '>') {
				break
			}
			return strings.TrimSpace(s[:i]), strings.TrimSpace(s[i+1:]), true
		}
		i++
	}
	return "", "", false
}

// parseTargets extracts the identifiers from an assignment target list,
// e.g. "key, value" or "(a, b)".
func parseTargets(s string) []string {
	var names []string
	i := 0
	for i < len(s) {
		r, size := utf8.DecodeRuneInString(s[i:])
		if !isIdentStart(r) {
			i += size
			continue
		}
		start := i
		for i < len(s) {
			r2, sz := utf8.DecodeRuneInString(s[i:])
			if !isIdentPart(r2) {
				break
			}
			i += sz
		}
		names = append(names, s[start:i])
	}
	return names
}

func isIdentStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isIdentPart(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func isSpaceByte(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
