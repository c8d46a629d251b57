package filter

import (
	"fmt"
	"strings"
)

// ParseError is a syntax error tagged with the byte offset of the violation.
type ParseError struct {
	Offset int
	Msg    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("malformed filter at offset %d: %s", e.Offset, e.Msg)
}

// Parse parses an RFC 4515-style search filter string into an AST.
//
// Supported forms:
//   - (attr=value)     equality
//   - (attr=*)         presence
//   - (attr=a*b*c)     substring
//   - (attr>=value)    greater or equal
//   - (attr<=value)    less or equal
//   - (&(f1)(f2)...)   AND
//   - (|(f1)(f2)...)   OR
//   - (!(f))           NOT
//
// A bare assertion without parentheses ("attr=value") is accepted for
// convenience. Syntax errors return a *ParseError carrying the offset.
func Parse(s string) (*Node, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil, &ParseError{Offset: 0, Msg: "empty filter"}
	}
	if !strings.HasPrefix(trimmed, "(") {
		trimmed = "(" + trimmed + ")"
	}

	p := &parser{s: trimmed}
	node, err := p.parseFilter()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.s) {
		return nil, p.errorf("trailing data after filter")
	}
	return node, nil
}

type parser struct {
	s   string
	pos int
}

func (p *parser) errorf(format string, args ...any) *ParseError {
	return &ParseError{Offset: p.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) peek() (byte, bool) {
	if p.pos >= len(p.s) {
		return 0, false
	}
	return p.s[p.pos], true
}

func (p *parser) expect(c byte) error {
	got, ok := p.peek()
	if !ok {
		return p.errorf("unexpected end of filter, want %q", string(c))
	}
	if got != c {
		return p.errorf("want %q, got %q", string(c), string(got))
	}
	p.pos++
	return nil
}

func (p *parser) parseFilter() (*Node, error) {
	if err := p.expect('('); err != nil {
		return nil, err
	}

	c, ok := p.peek()
	if !ok {
		return nil, p.errorf("unterminated filter")
	}

	var node *Node
	var err error
	switch c {
	case '&':
		p.pos++
		node, err = p.parseSet(NodeAnd)
	case '|':
		p.pos++
		node, err = p.parseSet(NodeOr)
	case '!':
		p.pos++
		var child *Node
		child, err = p.parseFilter()
		node = &Node{Type: NodeNot, Child: child}
	default:
		node, err = p.parseAssertion()
	}
	if err != nil {
		return nil, err
	}

	if err := p.expect(')'); err != nil {
		return nil, err
	}
	return node, nil
}

func (p *parser) parseSet(t NodeType) (*Node, error) {
	var children []*Node
	for {
		c, ok := p.peek()
		if !ok {
			return nil, p.errorf("unbalanced parentheses")
		}
		if c == ')' {
			break
		}
		child, err := p.parseFilter()
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	if len(children) == 0 {
		return nil, p.errorf("%s filter needs at least one component", t)
	}
	return &Node{Type: t, Children: children}, nil
}

func (p *parser) parseAssertion() (*Node, error) {
	attrStart := p.pos
	for {
		c, ok := p.peek()
		if !ok {
			return nil, p.errorf("unterminated assertion")
		}
		if c == '=' || c == '>' || c == '<' || c == '~' || c == ')' || c == '(' {
			break
		}
		p.pos++
	}
	attr := strings.TrimSpace(p.s[attrStart:p.pos])
	if attr == "" {
		return nil, p.errorf("missing attribute name")
	}

	c, _ := p.peek()
	switch c {
	case '=':
		p.pos++
		return p.parseValueAssertion(attr)
	case '>', '<':
		op := NodeGreaterOrEqual
		if c == '<' {
			op = NodeLessOrEqual
		}
		p.pos++
		if err := p.expect('='); err != nil {
			return nil, err
		}
		value, parts, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		if parts != nil {
			return nil, p.errorf("wildcard not allowed in ordering assertion")
		}
		return &Node{Type: op, Attribute: attr, Value: value}, nil
	case '~':
		return nil, p.errorf("approximate match is not supported")
	default:
		return nil, p.errorf("missing assertion operator")
	}
}

func (p *parser) parseValueAssertion(attr string) (*Node, error) {
	value, parts, err := p.parseValue()
	if err != nil {
		return nil, err
	}
	if parts == nil {
		return &Node{Type: NodeEquality, Attribute: attr, Value: value}, nil
	}
	// One single empty part means the bare asterisk: a presence assertion.
	if len(parts) == 2 && parts[0] == "" && parts[1] == "" {
		return &Node{Type: NodePresent, Attribute: attr}, nil
	}
	sub := &Substring{Initial: parts[0], Final: parts[len(parts)-1]}
	for i, part := range parts[1 : len(parts)-1] {
		if part == "" {
			return nil, p.errorf("adjacent wildcards in substring assertion (component %d)", i+1)
		}
		sub.Any = append(sub.Any, part)
	}
	return &Node{Type: NodeSubstring, Attribute: attr, Substring: sub}, nil
}

// parseValue reads an assertion value up to the closing parenthesis,
// resolving RFC 4515 \xx escapes. If the value contains unescaped
// asterisks, the parts split on them are returned (always two or more);
// otherwise parts is nil.
func (p *parser) parseValue() (string, []string, error) {
	var cur strings.Builder
	var parts []string
	wildcard := false

	for {
		c, ok := p.peek()
		if !ok {
			return "", nil, p.errorf("unterminated assertion value")
		}
		switch c {
		case ')':
			if wildcard {
				parts = append(parts, cur.String())
				return "", parts, nil
			}
			return cur.String(), nil, nil
		case '(':
			return "", nil, p.errorf("unescaped parenthesis in assertion value")
		case '*':
			wildcard = true
			parts = append(parts, cur.String())
			cur.Reset()
			p.pos++
		case '\\':
			b, err := p.parseEscape()
			if err != nil {
				return "", nil, err
			}
			cur.WriteByte(b)
		default:
			cur.WriteByte(c)
			p.pos++
		}
	}
}

func (p *parser) parseEscape() (byte, error) {
	if p.pos+2 >= len(p.s) {
		return 0, p.errorf("truncated escape sequence")
	}
	hi := hexDigit(p.s[p.pos+1])
	lo := hexDigit(p.s[p.pos+2])
	if hi < 0 || lo < 0 {
		return 0, p.errorf("invalid escape sequence %q", p.s[p.pos:p.pos+3])
	}
	p.pos += 3
	return byte(hi<<4 | lo), nil
}

func hexDigit(c byte) int {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0')
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10
	default:
		return -1
	}
}
