package manifest

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/l7mp/fixpoint/pkg/rule"
)

// Atoms use a minimal textual form: relation(term, ...). A term is a
// variable (capitalized identifier or "_"), a number, a quoted or bareword
// string, true/false, or a built-in function call (lowercase identifier
// followed by an argument list).

type parser struct {
	input string
	pos   int
}

// parseAtom parses "name(term, ...)" and returns the relation name and the
// column terms.
func parseAtom(s string) (string, []rule.Term, error) {
	p := &parser{input: strings.TrimSpace(s)}

	name, err := p.ident()
	if err != nil {
		return "", nil, fmt.Errorf("invalid atom %q: %w", s, err)
	}

	args, err := p.argList()
	if err != nil {
		return "", nil, fmt.Errorf("invalid atom %q: %w", s, err)
	}

	p.skipSpace()
	if p.pos != len(p.input) {
		return "", nil, fmt.Errorf("invalid atom %q: trailing input at position %d", s, p.pos)
	}

	return name, args, nil
}

// parseTerm parses a single term, as used in filter arguments.
func parseTerm(s string) (rule.Term, error) {
	p := &parser{input: strings.TrimSpace(s)}

	t, err := p.term()
	if err != nil {
		return nil, fmt.Errorf("invalid term %q: %w", s, err)
	}

	p.skipSpace()
	if p.pos != len(p.input) {
		return nil, fmt.Errorf("invalid term %q: trailing input at position %d", s, p.pos)
	}

	return t, nil
}

func (p *parser) argList() ([]rule.Term, error) {
	if err := p.expect('('); err != nil {
		return nil, err
	}

	var args []rule.Term
	p.skipSpace()
	if p.peek() == ')' {
		p.pos++
		return args, nil
	}

	for {
		t, err := p.term()
		if err != nil {
			return nil, err
		}
		args = append(args, t)

		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
		case ')':
			p.pos++
			return args, nil
		default:
			return nil, fmt.Errorf("expected ',' or ')' at position %d", p.pos)
		}
	}
}

func (p *parser) term() (rule.Term, error) {
	p.skipSpace()

	c := p.peek()
	switch {
	case c == '\'' || c == '"':
		return p.quoted()

	case c == '-' || unicode.IsDigit(rune(c)):
		return p.number()

	case c == '_' || unicode.IsLetter(rune(c)):
		name, err := p.ident()
		if err != nil {
			return nil, err
		}

		// Capitalized identifiers and "_" are variables.
		first := rune(name[0])
		if first == '_' || unicode.IsUpper(first) {
			return rule.V(name), nil
		}

		p.skipSpace()
		if p.peek() == '(' {
			fn, ok := builtinFunctions[name]
			if !ok {
				return nil, fmt.Errorf("unknown function %q", name)
			}
			args, err := p.argList()
			if err != nil {
				return nil, err
			}
			return rule.F(name, fn, args...), nil
		}

		// Barewords are string constants, except the boolean literals.
		switch name {
		case "true":
			return rule.C(true), nil
		case "false":
			return rule.C(false), nil
		}
		return rule.C(name), nil

	default:
		return nil, fmt.Errorf("unexpected character %q at position %d", c, p.pos)
	}
}

func (p *parser) quoted() (rule.Term, error) {
	quote := p.peek()
	p.pos++
	start := p.pos
	for p.pos < len(p.input) && p.input[p.pos] != quote {
		p.pos++
	}
	if p.pos == len(p.input) {
		return nil, fmt.Errorf("unterminated string starting at position %d", start-1)
	}
	s := p.input[start:p.pos]
	p.pos++
	return rule.C(s), nil
}

func (p *parser) number() (rule.Term, error) {
	start := p.pos
	if p.peek() == '-' {
		p.pos++
	}
	float := false
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if c == '.' {
			float = true
			p.pos++
			continue
		}
		if !unicode.IsDigit(rune(c)) {
			break
		}
		p.pos++
	}

	text := p.input[start:p.pos]
	if float {
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", text)
		}
		return rule.C(f), nil
	}
	i, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid number %q", text)
	}
	return rule.C(i), nil
}

func (p *parser) ident() (string, error) {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.input) {
		c := rune(p.input[p.pos])
		if c == '_' || unicode.IsLetter(c) || unicode.IsDigit(c) {
			p.pos++
			continue
		}
		break
	}
	if p.pos == start {
		return "", fmt.Errorf("expected identifier at position %d", start)
	}
	return p.input[start:p.pos], nil
}

func (p *parser) expect(c byte) error {
	p.skipSpace()
	if p.peek() != c {
		return fmt.Errorf("expected %q at position %d", c, p.pos)
	}
	p.pos++
	return nil
}

func (p *parser) peek() byte {
	if p.pos >= len(p.input) {
		return 0
	}
	return p.input[p.pos]
}

func (p *parser) skipSpace() {
	for p.pos < len(p.input) && (p.input[p.pos] == ' ' || p.input[p.pos] == '\t') {
		p.pos++
	}
}
