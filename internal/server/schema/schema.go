// Package schema defines the typed directory schema: the user and group
// entities, their attributes, and the distinguished-name namespace they
// live in. DNs are pure functions of the entity identifier and the
// configured base DN.
package schema

import (
	"fmt"
	"strings"
)

// Well-known RDN components of the two subtrees.
const (
	PeopleOU = "ou=people"
	GroupsOU = "ou=groups"
)

// Schema carries the configured namespace and resolves attribute names for
// the filter compiler and the search projection.
type Schema struct {
	baseDN string
}

// New validates and normalizes the base DN ("dc=example,dc=com").
func New(baseDN string) (*Schema, error) {
	normalized := NormalizeDN(baseDN)
	if normalized == "" {
		return nil, fmt.Errorf("schema: empty base dn")
	}
	for _, rdn := range strings.Split(normalized, ",") {
		if !strings.Contains(rdn, "=") {
			return nil, fmt.Errorf("schema: invalid base dn component %q", rdn)
		}
	}
	return &Schema{baseDN: normalized}, nil
}

// BaseDN returns the normalized base DN.
func (s *Schema) BaseDN() string { return s.baseDN }

// PeopleDN returns the DN of the users subtree.
func (s *Schema) PeopleDN() string { return PeopleOU + "," + s.baseDN }

// GroupsDN returns the DN of the groups subtree.
func (s *Schema) GroupsDN() string { return GroupsOU + "," + s.baseDN }

// UserDN derives the DN for a username.
func (s *Schema) UserDN(username string) string {
	return "uid=" + escapeRDNValue(strings.ToLower(username)) + "," + s.PeopleDN()
}

// GroupDN derives the DN for a group name.
func (s *Schema) GroupDN(name string) string {
	return "cn=" + escapeRDNValue(strings.ToLower(name)) + "," + s.GroupsDN()
}

// ParseUserDN extracts the username from a user DN. The second return value
// reports whether dn lies in the people subtree of this namespace.
func (s *Schema) ParseUserDN(dn string) (string, bool) {
	return parseLeaf(NormalizeDN(dn), "uid=", s.PeopleDN())
}

// ParseGroupDN extracts the group name from a group DN.
func (s *Schema) ParseGroupDN(dn string) (string, bool) {
	return parseLeaf(NormalizeDN(dn), "cn=", s.GroupsDN())
}

func parseLeaf(dn, attrPrefix, parent string) (string, bool) {
	suffix := "," + parent
	if !strings.HasSuffix(dn, suffix) {
		return "", false
	}
	rdn := strings.TrimSuffix(dn, suffix)
	if !strings.HasPrefix(rdn, attrPrefix) {
		return "", false
	}
	value := unescapeRDNValue(strings.TrimPrefix(rdn, attrPrefix))
	if value == "" || strings.Contains(value, ",") {
		return "", false
	}
	return value, true
}

// NormalizeDN lowercases a DN and strips whitespace around RDN separators,
// so that comparisons are case- and spacing-insensitive.
func NormalizeDN(dn string) string {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(dn)), ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ",")
}

// escapeRDNValue escapes the characters RFC 4514 requires inside an RDN value.
func escapeRDNValue(v string) string {
	var b strings.Builder
	for i := 0; i < len(v); i++ {
		c := v[i]
		switch c {
		case ',', '+', '"', '\\', '<', '>', ';', '=':
			b.WriteByte('\\')
			b.WriteByte(c)
		case '#':
			if i == 0 {
				b.WriteByte('\\')
			}
			b.WriteByte(c)
		case ' ':
			if i == 0 || i == len(v)-1 {
				b.WriteByte('\\')
			}
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func unescapeRDNValue(v string) string {
	var b strings.Builder
	for i := 0; i < len(v); i++ {
		if v[i] == '\\' && i+1 < len(v) {
			i++
		}
		b.WriteByte(v[i])
	}
	return b.String()
}
