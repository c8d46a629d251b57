// Package filter parses directory search-filter expressions into an AST and
// compiles them into parameterized SQL predicates over the directory schema.
package filter

import (
	"fmt"
	"strings"
)

// NodeType is the tag of a filter AST node.
type NodeType int

const (
	// NodeAnd is an AND filter (&).
	NodeAnd NodeType = iota
	// NodeOr is an OR filter (|).
	NodeOr
	// NodeNot is a NOT filter (!).
	NodeNot
	// NodeEquality is an equality assertion (attr=value).
	NodeEquality
	// NodeSubstring is a substring assertion (attr=ini*any*fin).
	NodeSubstring
	// NodePresent is a presence assertion (attr=*).
	NodePresent
	// NodeGreaterOrEqual is a >= assertion.
	NodeGreaterOrEqual
	// NodeLessOrEqual is a <= assertion.
	NodeLessOrEqual
)

// String returns the symbolic name of the node type.
func (t NodeType) String() string {
	switch t {
	case NodeAnd:
		return "AND"
	case NodeOr:
		return "OR"
	case NodeNot:
		return "NOT"
	case NodeEquality:
		return "EQUALITY"
	case NodeSubstring:
		return "SUBSTRING"
	case NodePresent:
		return "PRESENT"
	case NodeGreaterOrEqual:
		return "GREATER_OR_EQUAL"
	case NodeLessOrEqual:
		return "LESS_OR_EQUAL"
	default:
		return "UNKNOWN"
	}
}

// Node is a filter AST node. It is purely structural: attribute names are
// resolved against the schema at compile time, not at parse time.
type Node struct {
	Type      NodeType
	Attribute string
	Value     string
	Children  []*Node    // AND/OR
	Child     *Node      // NOT
	Substring *Substring // SUBSTRING
}

// Substring holds the three positional parts of a substring assertion.
// Initial and Final may be empty; Any holds the parts between asterisks.
type Substring struct {
	Initial string
	Any     []string
	Final   string
}

// String renders the node back to its canonical filter-string form.
// Parsing the result yields an equivalent AST.
func (n *Node) String() string {
	var b strings.Builder
	n.render(&b)
	return b.String()
}

func (n *Node) render(b *strings.Builder) {
	b.WriteByte('(')
	switch n.Type {
	case NodeAnd, NodeOr:
		if n.Type == NodeAnd {
			b.WriteByte('&')
		} else {
			b.WriteByte('|')
		}
		for _, c := range n.Children {
			c.render(b)
		}
	case NodeNot:
		b.WriteByte('!')
		n.Child.render(b)
	case NodeEquality:
		b.WriteString(n.Attribute)
		b.WriteByte('=')
		b.WriteString(escapeValue(n.Value))
	case NodePresent:
		b.WriteString(n.Attribute)
		b.WriteString("=*")
	case NodeGreaterOrEqual:
		b.WriteString(n.Attribute)
		b.WriteString(">=")
		b.WriteString(escapeValue(n.Value))
	case NodeLessOrEqual:
		b.WriteString(n.Attribute)
		b.WriteString("<=")
		b.WriteString(escapeValue(n.Value))
	case NodeSubstring:
		b.WriteString(n.Attribute)
		b.WriteByte('=')
		b.WriteString(escapeValue(n.Substring.Initial))
		b.WriteByte('*')
		for _, part := range n.Substring.Any {
			b.WriteString(escapeValue(part))
			b.WriteByte('*')
		}
		b.WriteString(escapeValue(n.Substring.Final))
	}
	b.WriteByte(')')
}

// escapeValue escapes the characters RFC 4515 forbids in assertion values.
func escapeValue(v string) string {
	var b strings.Builder
	for i := 0; i < len(v); i++ {
		switch c := v[i]; c {
		case '(', ')', '*', '\\', 0:
			fmt.Fprintf(&b, "\\%02x", c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
