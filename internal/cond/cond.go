package cond

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
)

// Vars supplies variable values during evaluation.
//
// Lookup returns the value and true when the variable is defined. A false
// return makes the referencing expression evaluate to an UnknownVarError.
type Vars interface {
	Lookup(name string) (string, bool)
}

// MapVars is a Vars over a plain map, used by tests and by trigger
// compilation.
type MapVars map[string]string

func (m MapVars) Lookup(name string) (string, bool) {
	v, ok := m[name]
	return v, ok
}

// ErrUnknownVariable is wrapped by evaluation failures caused by a variable
// the context cannot resolve.
var ErrUnknownVariable = errors.New("unknown variable")

// UnknownVarError reports a reference to a variable the evaluation context
// does not define.
type UnknownVarError struct {
	Name string
}

func (e *UnknownVarError) Error() string {
	return fmt.Sprintf("unknown variable %q", e.Name)
}

func (e *UnknownVarError) Unwrap() error { return ErrUnknownVariable }

// Expr is a parsed condition expression.
//
// Expressions are immutable after Parse and safe for concurrent evaluation.
type Expr struct {
	root node
	src  string
}

// Source returns the original expression text.
func (e *Expr) Source() string { return e.src }

// Eval evaluates the expression against the given variables.
func (e *Expr) Eval(vars Vars) (bool, error) {
	if e == nil || e.root == nil {
		return false, fmt.Errorf("nil expression")
	}
	return e.root.eval(vars)
}

// Identifiers returns the sorted, deduplicated set of variable names the
// expression references. Used for load-time validation against the known
// run-context variables.
func (e *Expr) Identifiers() []string {
	seen := map[string]struct{}{}
	e.root.collectIdents(seen)
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

type node interface {
	eval(vars Vars) (bool, error)
	collectIdents(into map[string]struct{})
}

type litNode struct{ val bool }

func (n *litNode) eval(Vars) (bool, error)           { return n.val, nil }
func (n *litNode) collectIdents(map[string]struct{}) {}

type notNode struct{ inner node }

func (n *notNode) eval(vars Vars) (bool, error) {
	v, err := n.inner.eval(vars)
	if err != nil {
		return false, err
	}
	return !v, nil
}

func (n *notNode) collectIdents(into map[string]struct{}) { n.inner.collectIdents(into) }

type binNode struct {
	op          tokenKind // tokAnd or tokOr
	left, right node
}

func (n *binNode) eval(vars Vars) (bool, error) {
	l, err := n.left.eval(vars)
	if err != nil {
		return false, err
	}
	// No short-circuit: an unknown variable on either side must surface as
	// an error so gates fail closed deterministically.
	r, err := n.right.eval(vars)
	if err != nil {
		return false, err
	}
	if n.op == tokAnd {
		return l && r, nil
	}
	return l || r, nil
}

func (n *binNode) collectIdents(into map[string]struct{}) {
	n.left.collectIdents(into)
	n.right.collectIdents(into)
}

type cmpOp int

const (
	cmpEq cmpOp = iota
	cmpNeq
	cmpMatch
	cmpPrefix
)

type cmpNode struct {
	op    cmpOp
	ident string
	arg   string
}

func (n *cmpNode) eval(vars Vars) (bool, error) {
	val, ok := vars.Lookup(n.ident)
	if !ok {
		return false, &UnknownVarError{Name: n.ident}
	}
	switch n.op {
	case cmpEq:
		return val == n.arg, nil
	case cmpNeq:
		return val != n.arg, nil
	case cmpMatch:
		return MatchGlob(n.arg, val), nil
	case cmpPrefix:
		return len(val) >= len(n.arg) && val[:len(n.arg)] == n.arg, nil
	default:
		return false, fmt.Errorf("unknown comparison op %d", n.op)
	}
}

func (n *cmpNode) collectIdents(into map[string]struct{}) {
	into[n.ident] = struct{}{}
}

// Parse parses an expression. A ParseError describes the first offending
// token and its offset.
func Parse(src string) (*Expr, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks, src: src}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.peek().kind != tokEOF {
		return nil, p.errorf(p.peek(), "unexpected %s", p.peek().describe())
	}
	return &Expr{root: root, src: src}, nil
}

// Constructors for engine-assembled expressions (trigger compilation).
//
// Operand strings are carried as data and never re-lexed, so any value is
// representable, including characters the expression syntax itself cannot
// quote. The rendered Source is for diagnostics only.

// Lit returns a literal expression.
func Lit(v bool) *Expr {
	src := "false"
	if v {
		src = "true"
	}
	return &Expr{root: &litNode{val: v}, src: src}
}

// Eq returns the expression `ident == "value"`.
func Eq(ident, value string) *Expr {
	return &Expr{
		root: &cmpNode{op: cmpEq, ident: ident, arg: value},
		src:  ident + " == " + strconv.Quote(value),
	}
}

// Neq returns the expression `ident != "value"`.
func Neq(ident, value string) *Expr {
	return &Expr{
		root: &cmpNode{op: cmpNeq, ident: ident, arg: value},
		src:  ident + " != " + strconv.Quote(value),
	}
}

// Match returns the expression `match(ident, "pattern")`.
func Match(ident, pattern string) *Expr {
	return &Expr{
		root: &cmpNode{op: cmpMatch, ident: ident, arg: pattern},
		src:  "match(" + ident + ", " + strconv.Quote(pattern) + ")",
	}
}

// Prefix returns the expression `startsWith(ident, "prefix")`.
func Prefix(ident, prefix string) *Expr {
	return &Expr{
		root: &cmpNode{op: cmpPrefix, ident: ident, arg: prefix},
		src:  "startsWith(" + ident + ", " + strconv.Quote(prefix) + ")",
	}
}

// And returns the conjunction of a and b.
func And(a, b *Expr) *Expr {
	return &Expr{
		root: &binNode{op: tokAnd, left: a.root, right: b.root},
		src:  "(" + a.src + " && " + b.src + ")",
	}
}

// Or returns the disjunction of a and b.
func Or(a, b *Expr) *Expr {
	return &Expr{
		root: &binNode{op: tokOr, left: a.root, right: b.root},
		src:  "(" + a.src + " || " + b.src + ")",
	}
}

// ParseError reports a syntax error with its byte offset in the source.
type ParseError struct {
	Offset int
	Msg    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("condition syntax error at offset %d: %s", e.Offset, e.Msg)
}

type parser struct {
	toks []token
	pos  int
	src  string
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) errorf(t token, format string, args ...any) error {
	return &ParseError{Offset: t.offset, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokOr {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &binNode{op: tokOr, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokAnd {
		p.next()
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &binNode{op: tokAnd, left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (node, error) {
	if p.peek().kind == tokNot {
		p.next()
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &notNode{inner: inner}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	t := p.next()
	switch t.kind {
	case tokLParen:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, p.errorf(closing, "expected ')', got %s", closing.describe())
		}
		return inner, nil

	case tokIdent:
		switch t.text {
		case "true":
			return &litNode{val: true}, nil
		case "false":
			return &litNode{val: false}, nil
		case "match", "startsWith":
			return p.parseCall(t)
		}
		// ident == "str" | ident != "str"
		op := p.next()
		var cmp cmpOp
		switch op.kind {
		case tokEq:
			cmp = cmpEq
		case tokNeq:
			cmp = cmpNeq
		default:
			return nil, p.errorf(op, "expected '==' or '!=' after %q, got %s", t.text, op.describe())
		}
		arg := p.next()
		if arg.kind != tokString {
			return nil, p.errorf(arg, "expected string literal, got %s", arg.describe())
		}
		return &cmpNode{op: cmp, ident: t.text, arg: arg.text}, nil

	default:
		return nil, p.errorf(t, "unexpected %s", t.describe())
	}
}

// parseCall parses match(ident, "pattern") and startsWith(ident, "prefix").
func (p *parser) parseCall(fn token) (node, error) {
	if t := p.next(); t.kind != tokLParen {
		return nil, p.errorf(t, "expected '(' after %q, got %s", fn.text, t.describe())
	}
	ident := p.next()
	if ident.kind != tokIdent {
		return nil, p.errorf(ident, "expected variable name, got %s", ident.describe())
	}
	if t := p.next(); t.kind != tokComma {
		return nil, p.errorf(t, "expected ',', got %s", t.describe())
	}
	arg := p.next()
	if arg.kind != tokString {
		return nil, p.errorf(arg, "expected string literal, got %s", arg.describe())
	}
	if t := p.next(); t.kind != tokRParen {
		return nil, p.errorf(t, "expected ')', got %s", t.describe())
	}
	op := cmpMatch
	if fn.text == "startsWith" {
		op = cmpPrefix
	}
	return &cmpNode{op: op, ident: ident.text, arg: arg.text}, nil
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokEq
	tokNeq
	tokAnd
	tokOr
	tokNot
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind   tokenKind
	text   string
	offset int
}

func (t token) describe() string {
	switch t.kind {
	case tokEOF:
		return "end of expression"
	case tokString:
		return strconv.Quote(t.text)
	default:
		return fmt.Sprintf("%q", t.text)
	}
}

func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '(':
			toks = append(toks, token{kind: tokLParen, text: "(", offset: i})
			i++
		case c == ')':
			toks = append(toks, token{kind: tokRParen, text: ")", offset: i})
			i++
		case c == ',':
			toks = append(toks, token{kind: tokComma, text: ",", offset: i})
			i++
		case c == '&':
			if i+1 >= len(src) || src[i+1] != '&' {
				return nil, &ParseError{Offset: i, Msg: "expected '&&'"}
			}
			toks = append(toks, token{kind: tokAnd, text: "&&", offset: i})
			i += 2
		case c == '|':
			if i+1 >= len(src) || src[i+1] != '|' {
				return nil, &ParseError{Offset: i, Msg: "expected '||'"}
			}
			toks = append(toks, token{kind: tokOr, text: "||", offset: i})
			i += 2
		case c == '=':
			if i+1 >= len(src) || src[i+1] != '=' {
				return nil, &ParseError{Offset: i, Msg: "expected '=='"}
			}
			toks = append(toks, token{kind: tokEq, text: "==", offset: i})
			i += 2
		case c == '!':
			if i+1 < len(src) && src[i+1] == '=' {
				toks = append(toks, token{kind: tokNeq, text: "!=", offset: i})
				i += 2
			} else {
				toks = append(toks, token{kind: tokNot, text: "!", offset: i})
				i++
			}
		case c == '"':
			text, width, err := lexString(src[i:])
			if err != nil {
				return nil, &ParseError{Offset: i, Msg: err.Error()}
			}
			toks = append(toks, token{kind: tokString, text: text, offset: i})
			i += width
		case isIdentStart(c):
			start := i
			for i < len(src) && isIdentPart(src[i]) {
				i++
			}
			toks = append(toks, token{kind: tokIdent, text: src[start:i], offset: start})
		default:
			return nil, &ParseError{Offset: i, Msg: fmt.Sprintf("unexpected character %q", c)}
		}
	}
	toks = append(toks, token{kind: tokEOF, offset: len(src)})
	return toks, nil
}

// lexString consumes a double-quoted string starting at src[0] == '"'.
// Supports \" and \\ escapes; returns the unescaped text and consumed width.
func lexString(src string) (string, int, error) {
	var out []byte
	i := 1
	for i < len(src) {
		c := src[i]
		switch c {
		case '"':
			return string(out), i + 1, nil
		case '\\':
			if i+1 >= len(src) {
				return "", 0, fmt.Errorf("unterminated escape")
			}
			next := src[i+1]
			if next != '"' && next != '\\' {
				return "", 0, fmt.Errorf("unsupported escape \\%c", next)
			}
			out = append(out, next)
			i += 2
		default:
			out = append(out, c)
			i++
		}
	}
	return "", 0, fmt.Errorf("unterminated string literal")
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
