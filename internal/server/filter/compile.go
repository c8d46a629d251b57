package filter

import (
	"fmt"
	"strings"

	"github.com/lightldap/lightldap/internal/server/schema"
)

// Predicate is a parameterized SQL fragment. SQL references columns of the
// entity table under its alias and uses $1..$n placeholders matching Args.
// Values are always bound, never interpolated.
type Predicate struct {
	SQL  string
	Args []any
}

// CompileUsers compiles the AST into a predicate over the users table
// (alias "u"), resolving attribute names against the schema. Unknown
// attributes fail closed with common.ErrUnknownAttribute.
func CompileUsers(n *Node, s *schema.Schema) (*Predicate, error) {
	c := &compiler{schema: s, entity: entityUser, alias: "u"}
	sql, err := c.compile(n)
	if err != nil {
		return nil, err
	}
	return &Predicate{SQL: sql, Args: c.args}, nil
}

// CompileGroups compiles the AST into a predicate over the groups table
// (alias "g").
func CompileGroups(n *Node, s *schema.Schema) (*Predicate, error) {
	c := &compiler{schema: s, entity: entityGroup, alias: "g"}
	sql, err := c.compile(n)
	if err != nil {
		return nil, err
	}
	return &Predicate{SQL: sql, Args: c.args}, nil
}

type entityKind int

const (
	entityUser entityKind = iota
	entityGroup
)

type compiler struct {
	schema *schema.Schema
	entity entityKind
	alias  string
	args   []any
}

func (c *compiler) bind(v any) string {
	c.args = append(c.args, v)
	return fmt.Sprintf("$%d", len(c.args))
}

func (c *compiler) resolve(name string) (schema.Attribute, error) {
	if c.entity == entityUser {
		return c.schema.ResolveUserAttribute(name)
	}
	return c.schema.ResolveGroupAttribute(name)
}

// column renders the SQL expression for an attribute's stored value,
// applying the schema's fallback column so the query sees the same value
// the entry presents.
func (c *compiler) column(attr schema.Attribute) string {
	if attr.Fallback != "" {
		return fmt.Sprintf("COALESCE(NULLIF(%s.%s, ''), %s.%s)", c.alias, attr.Column, c.alias, attr.Fallback)
	}
	return fmt.Sprintf("%s.%s", c.alias, attr.Column)
}

func (c *compiler) compile(n *Node) (string, error) {
	switch n.Type {
	case NodeAnd, NodeOr:
		op := " AND "
		if n.Type == NodeOr {
			op = " OR "
		}
		parts := make([]string, 0, len(n.Children))
		for _, child := range n.Children {
			sql, err := c.compile(child)
			if err != nil {
				return "", err
			}
			parts = append(parts, sql)
		}
		return "(" + strings.Join(parts, op) + ")", nil
	case NodeNot:
		sql, err := c.compile(n.Child)
		if err != nil {
			return "", err
		}
		return "NOT (" + sql + ")", nil
	case NodeEquality:
		return c.compileEquality(n)
	case NodePresent:
		return c.compilePresence(n)
	case NodeSubstring:
		return c.compileSubstring(n)
	case NodeGreaterOrEqual, NodeLessOrEqual:
		return c.compileOrdering(n)
	default:
		return "", fmt.Errorf("filter: cannot compile node type %s", n.Type)
	}
}

func (c *compiler) compileEquality(n *Node) (string, error) {
	attr, err := c.resolve(n.Attribute)
	if err != nil {
		return "", err
	}
	switch attr.Kind {
	case schema.KindString:
		return fmt.Sprintf("LOWER(%s) = LOWER(%s)", c.column(attr), c.bind(n.Value)), nil
	case schema.KindTimestamp:
		return fmt.Sprintf("%s = %s", c.column(attr), c.bind(n.Value)), nil
	case schema.KindObjectClass:
		if containsFold(c.objectClasses(), n.Value) {
			return "TRUE", nil
		}
		return "FALSE", nil
	case schema.KindMembership:
		return c.compileMembership(n.Value)
	default:
		return "", fmt.Errorf("filter: attribute %s does not support equality", attr.Name)
	}
}

func (c *compiler) compilePresence(n *Node) (string, error) {
	attr, err := c.resolve(n.Attribute)
	if err != nil {
		return "", err
	}
	switch attr.Kind {
	case schema.KindObjectClass:
		return "TRUE", nil
	case schema.KindMembership:
		if c.entity == entityUser {
			return fmt.Sprintf("EXISTS (SELECT 1 FROM memberships m WHERE m.user_id = %s.id)", c.alias), nil
		}
		return fmt.Sprintf("EXISTS (SELECT 1 FROM memberships m WHERE m.group_id = %s.id)", c.alias), nil
	default:
		return fmt.Sprintf("%s IS NOT NULL", c.column(attr)), nil
	}
}

func (c *compiler) compileSubstring(n *Node) (string, error) {
	attr, err := c.resolve(n.Attribute)
	if err != nil {
		return "", err
	}
	if attr.Kind != schema.KindString {
		return "", fmt.Errorf("filter: attribute %s does not support substring match", attr.Name)
	}
	pattern := likePattern(n.Substring)
	return fmt.Sprintf(`LOWER(%s) LIKE LOWER(%s) ESCAPE '\'`, c.column(attr), c.bind(pattern)), nil
}

func (c *compiler) compileOrdering(n *Node) (string, error) {
	attr, err := c.resolve(n.Attribute)
	if err != nil {
		return "", err
	}
	op := ">="
	if n.Type == NodeLessOrEqual {
		op = "<="
	}
	switch attr.Kind {
	case schema.KindString:
		return fmt.Sprintf("LOWER(%s) %s LOWER(%s)", c.column(attr), op, c.bind(n.Value)), nil
	case schema.KindTimestamp:
		return fmt.Sprintf("%s %s %s", c.column(attr), op, c.bind(n.Value)), nil
	default:
		return "", fmt.Errorf("filter: attribute %s does not support ordering", attr.Name)
	}
}

// compileMembership turns a memberOf/member assertion into an EXISTS
// subquery over the membership relation. A DN outside the expected subtree
// can never match and compiles to FALSE.
func (c *compiler) compileMembership(value string) (string, error) {
	if c.entity == entityUser {
		group, ok := c.schema.ParseGroupDN(value)
		if !ok {
			return "FALSE", nil
		}
		return fmt.Sprintf(
			"EXISTS (SELECT 1 FROM memberships m JOIN groups mg ON mg.id = m.group_id WHERE m.user_id = %s.id AND LOWER(mg.name) = %s)",
			c.alias, c.bind(strings.ToLower(group))), nil
	}
	user, ok := c.schema.ParseUserDN(value)
	if !ok {
		return "FALSE", nil
	}
	return fmt.Sprintf(
		"EXISTS (SELECT 1 FROM memberships m JOIN users mu ON mu.id = m.user_id WHERE m.group_id = %s.id AND LOWER(mu.username) = %s)",
		c.alias, c.bind(strings.ToLower(user))), nil
}

func (c *compiler) objectClasses() []string {
	if c.entity == entityUser {
		return schema.UserObjectClasses
	}
	return schema.GroupObjectClasses
}

func containsFold(set []string, v string) bool {
	for _, s := range set {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

// likePattern builds a LIKE pattern from the substring parts, escaping the
// LIKE metacharacters in user-supplied values.
func likePattern(sub *Substring) string {
	var b strings.Builder
	b.WriteString(escapeLike(sub.Initial))
	b.WriteByte('%')
	for _, part := range sub.Any {
		b.WriteString(escapeLike(part))
		b.WriteByte('%')
	}
	b.WriteString(escapeLike(sub.Final))
	return b.String()
}

func escapeLike(v string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(v)
}
