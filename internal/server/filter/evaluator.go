package filter

import (
	"strings"

	"github.com/lightldap/lightldap/internal/server/schema"
)

// Entry is an in-memory directory entry used by the reference evaluator.
// Attribute keys are canonical names lowercased ("uid", "mail", "memberof").
type Entry struct {
	DN         string
	Attributes map[string][]string
}

// NewEntry creates an empty entry with the given DN.
func NewEntry(dn string) *Entry {
	return &Entry{DN: dn, Attributes: make(map[string][]string)}
}

// Set replaces the values of an attribute.
func (e *Entry) Set(name string, values ...string) {
	e.Attributes[strings.ToLower(name)] = values
}

// Add appends a value to an attribute.
func (e *Entry) Add(name string, values ...string) {
	key := strings.ToLower(name)
	e.Attributes[key] = append(e.Attributes[key], values...)
}

// Get returns the values of an attribute.
func (e *Entry) Get(name string) []string {
	return e.Attributes[strings.ToLower(name)]
}

// MatchesUser evaluates the filter against a user entry. It is the reference
// interpreter for the SQL compiler: both must agree on every fixture.
func MatchesUser(n *Node, e *Entry, s *schema.Schema) (bool, error) {
	return matches(n, e, s.ResolveUserAttribute)
}

// MatchesGroup evaluates the filter against a group entry.
func MatchesGroup(n *Node, e *Entry, s *schema.Schema) (bool, error) {
	return matches(n, e, s.ResolveGroupAttribute)
}

func matches(n *Node, e *Entry, resolve func(string) (schema.Attribute, error)) (bool, error) {
	switch n.Type {
	case NodeAnd:
		for _, c := range n.Children {
			ok, err := matches(c, e, resolve)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case NodeOr:
		for _, c := range n.Children {
			ok, err := matches(c, e, resolve)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case NodeNot:
		ok, err := matches(n.Child, e, resolve)
		return !ok, err
	}

	attr, err := resolve(n.Attribute)
	if err != nil {
		return false, err
	}
	values := e.Get(attr.Name)

	switch n.Type {
	case NodePresent:
		return len(values) > 0, nil
	case NodeEquality:
		for _, v := range values {
			if equalValue(attr, v, n.Value) {
				return true, nil
			}
		}
		return false, nil
	case NodeSubstring:
		for _, v := range values {
			if substringMatch(n.Substring, v) {
				return true, nil
			}
		}
		return false, nil
	case NodeGreaterOrEqual:
		for _, v := range values {
			if strings.ToLower(v) >= strings.ToLower(n.Value) {
				return true, nil
			}
		}
		return false, nil
	case NodeLessOrEqual:
		for _, v := range values {
			if strings.ToLower(v) <= strings.ToLower(n.Value) {
				return true, nil
			}
		}
		return false, nil
	}
	return false, nil
}

func equalValue(attr schema.Attribute, stored, asserted string) bool {
	if attr.Kind == schema.KindMembership {
		return schema.NormalizeDN(stored) == schema.NormalizeDN(asserted)
	}
	return strings.EqualFold(stored, asserted)
}

// substringMatch checks the initial/any/final parts against the value,
// case-insensitively and in order.
func substringMatch(sub *Substring, value string) bool {
	v := strings.ToLower(value)
	if ini := strings.ToLower(sub.Initial); ini != "" {
		if !strings.HasPrefix(v, ini) {
			return false
		}
		v = v[len(ini):]
	}
	for _, part := range sub.Any {
		p := strings.ToLower(part)
		idx := strings.Index(v, p)
		if idx < 0 {
			return false
		}
		v = v[idx+len(p):]
	}
	if fin := strings.ToLower(sub.Final); fin != "" {
		return strings.HasSuffix(v, fin)
	}
	return true
}
