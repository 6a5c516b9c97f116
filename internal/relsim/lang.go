package relsim

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokInt
	tokFloat
	tokString
	tokPunct
)

type token struct {
	kind tokenKind
	text string
	line int
}

func (t token) String() string {
	switch t.kind {
	case tokEOF:
		return "end of input"
	case tokString:
		return strconv.Quote(t.text)
	default:
		return fmt.Sprintf("%q", t.text)
	}
}

// lex splits src into tokens. Line comments start with "//".
func lex(src string) ([]token, error) {
	var toks []token
	line := 1
	rs := []rune(src)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case r == '\n':
			line++
			i++
		case unicode.IsSpace(r):
			i++
		case r == '/' && i+1 < len(rs) && rs[i+1] == '/':
			for i < len(rs) && rs[i] != '\n' {
				i++
			}
		case r == '"':
			var b strings.Builder
			j := i + 1
			for ; j < len(rs) && rs[j] != '"'; j++ {
				if rs[j] == '\\' && j+1 < len(rs) {
					j++
					switch rs[j] {
					case 'n':
						b.WriteRune('\n')
					case 't':
						b.WriteRune('\t')
					default:
						b.WriteRune(rs[j])
					}
					continue
				}
				if rs[j] == '\n' {
					line++
				}
				b.WriteRune(rs[j])
			}
			if j >= len(rs) {
				return nil, fmt.Errorf("line %d: unterminated string literal", line)
			}
			toks = append(toks, token{kind: tokString, text: b.String(), line: line})
			i = j + 1
		case unicode.IsDigit(r) || (r == '-' && i+1 < len(rs) && unicode.IsDigit(rs[i+1])):
			j := i + 1
			kind := tokInt
			for j < len(rs) && (unicode.IsDigit(rs[j]) || rs[j] == '.') {
				if rs[j] == '.' {
					if kind == tokFloat {
						break
					}
					kind = tokFloat
				}
				j++
			}
			toks = append(toks, token{kind: kind, text: string(rs[i:j]), line: line})
			i = j
		case unicode.IsLetter(r) || r == '_':
			j := i + 1
			for j < len(rs) && (unicode.IsLetter(rs[j]) || unicode.IsDigit(rs[j]) || rs[j] == '_') {
				j++
			}
			toks = append(toks, token{kind: tokIdent, text: string(rs[i:j]), line: line})
			i = j
		case strings.ContainsRune("(){}[];,:=", r):
			toks = append(toks, token{kind: tokPunct, text: string(r), line: line})
			i++
		default:
			return nil, fmt.Errorf("line %d: unexpected character %q", line, r)
		}
	}
	toks = append(toks, token{kind: tokEOF, line: line})
	return toks, nil
}

type stmtKind int

const (
	stmtDef stmtKind = iota
	stmtInsert
	stmtDelete
	stmtConstraint
)

type stmt struct {
	kind stmtKind
	// name is the defined relation, the target base relation, or the
	// constraint label.
	name string
	body expr
	line int
}

// expr is either a literal set of tuples or a reference to a relation.
type expr struct {
	ref    string
	tuples [][]any
}

type parseError struct {
	line int
	msg  string
}

func (e parseError) Error() string {
	return fmt.Sprintf("line %d: %s", e.line, e.msg)
}

type parser struct {
	toks []token
	pos  int
}

// parseProgram parses every statement in src. A malformed statement yields an
// error and parsing resumes at the next statement.
func parseProgram(src string) ([]stmt, []error) {
	toks, err := lex(src)
	if err != nil {
		return nil, []error{err}
	}
	p := &parser{toks: toks}
	var stmts []stmt
	var errs []error
	for p.peek().kind != tokEOF {
		s, err := p.statement()
		if err != nil {
			errs = append(errs, err)
			p.recover()
			continue
		}
		stmts = append(stmts, s)
	}
	return stmts, errs
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) fail(t token, format string, args ...any) error {
	return parseError{line: t.line, msg: fmt.Sprintf(format, args...)}
}

func (p *parser) expect(text string) error {
	t := p.next()
	if t.kind != tokPunct || t.text != text {
		return p.fail(t, "expected %q, found %s", text, t)
	}
	return nil
}

func (p *parser) recover() {
	p.next()
	for {
		t := p.peek()
		if t.kind == tokEOF || (t.kind == tokIdent && (t.text == "def" || t.text == "ic")) {
			return
		}
		p.next()
	}
}

func (p *parser) statement() (stmt, error) {
	t := p.next()
	if t.kind != tokIdent {
		return stmt{}, p.fail(t, "expected declaration, found %s", t)
	}
	switch t.text {
	case "def":
		return p.definition(t.line)
	case "ic":
		return p.constraint(t.line)
	default:
		return stmt{}, p.fail(t, "unexpected %s at top level", t)
	}
}

func (p *parser) definition(line int) (stmt, error) {
	name := p.next()
	if name.kind != tokIdent {
		return stmt{}, p.fail(name, "expected relation name, found %s", name)
	}
	s := stmt{kind: stmtDef, name: name.text, line: line}
	if (name.text == "insert" || name.text == "delete") && p.peek().text == "[" {
		p.next()
		if err := p.expect(":"); err != nil {
			return stmt{}, err
		}
		target := p.next()
		if target.kind != tokIdent {
			return stmt{}, p.fail(target, "expected relation name, found %s", target)
		}
		if err := p.expect("]"); err != nil {
			return stmt{}, err
		}
		s.kind = stmtInsert
		if name.text == "delete" {
			s.kind = stmtDelete
		}
		s.name = target.text
	}
	if err := p.expect("="); err != nil {
		return stmt{}, err
	}
	body, err := p.expression()
	if err != nil {
		return stmt{}, err
	}
	s.body = body
	return s, nil
}

func (p *parser) constraint(line int) (stmt, error) {
	s := stmt{kind: stmtConstraint, line: line}
	if t := p.peek(); t.kind == tokIdent {
		s.name = p.next().text
	}
	body, err := p.expression()
	if err != nil {
		return stmt{}, err
	}
	s.body = body
	return s, nil
}

func (p *parser) expression() (expr, error) {
	t := p.peek()
	switch {
	case t.kind == tokIdent:
		p.next()
		return expr{ref: t.text}, nil
	case t.kind == tokPunct && t.text == "{":
		p.next()
		var tuples [][]any
		if p.peek().text == "}" {
			p.next()
			return expr{tuples: tuples}, nil
		}
		for {
			tuple, err := p.tupleOrValue()
			if err != nil {
				return expr{}, err
			}
			tuples = append(tuples, tuple)
			sep := p.next()
			if sep.kind == tokPunct && sep.text == "}" {
				return expr{tuples: tuples}, nil
			}
			if sep.kind != tokPunct || sep.text != ";" {
				return expr{}, p.fail(sep, "expected \";\" or \"}\", found %s", sep)
			}
		}
	default:
		tuple, err := p.tupleOrValue()
		if err != nil {
			return expr{}, err
		}
		return expr{tuples: [][]any{tuple}}, nil
	}
}

func (p *parser) tupleOrValue() ([]any, error) {
	if p.peek().text != "(" {
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		return []any{v}, nil
	}
	p.next()
	var tuple []any
	for {
		if p.peek().text == ")" && len(tuple) > 0 {
			p.next()
			return tuple, nil
		}
		v, err := p.value()
		if err != nil {
			return nil, err
		}
		tuple = append(tuple, v)
		sep := p.next()
		if sep.kind == tokPunct && sep.text == ")" {
			return tuple, nil
		}
		if sep.kind != tokPunct || sep.text != "," {
			return nil, p.fail(sep, "expected \",\" or \")\", found %s", sep)
		}
	}
}

func (p *parser) value() (any, error) {
	t := p.next()
	switch t.kind {
	case tokInt:
		n, err := strconv.ParseInt(t.text, 10, 64)
		if err != nil {
			return nil, p.fail(t, "invalid integer %s", t)
		}
		return n, nil
	case tokFloat:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, p.fail(t, "invalid number %s", t)
		}
		return f, nil
	case tokString:
		return t.text, nil
	case tokIdent:
		switch t.text {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
	case tokPunct:
		if t.text == ":" {
			sym := p.next()
			if sym.kind == tokIdent {
				return ":" + sym.text, nil
			}
			return nil, p.fail(sym, "expected symbol name, found %s", sym)
		}
	}
	return nil, p.fail(t, "expected value, found %s", t)
}
