package schema

import (
	"fmt"
	"strings"

	"github.com/lightldap/lightldap/internal/common"
)

// AttrKind classifies how an attribute is stored and compared.
type AttrKind int

const (
	// KindString is a plain text column compared case-insensitively.
	KindString AttrKind = iota
	// KindTimestamp is a timestamp column; comparisons are chronological.
	KindTimestamp
	// KindBinary is an opaque byte column; only presence is queryable.
	KindBinary
	// KindMembership is the virtual membership relation (memberOf / member),
	// compiled to a subquery over the membership table.
	KindMembership
	// KindObjectClass is the constant objectClass pseudo-attribute.
	KindObjectClass
)

// Attribute maps a directory attribute name to its relational column.
type Attribute struct {
	// Name is the canonical directory name (mixed case for display).
	Name string
	// Column is the SQL column on the entity table; empty for virtual kinds.
	Column string
	// Fallback is a column substituted when Column is NULL or empty. The
	// presented entry applies the same substitution, so queries and
	// presentation agree.
	Fallback string
	Kind     AttrKind
}

// Object classes presented for the two entity types.
var (
	UserObjectClasses  = []string{"inetOrgPerson", "posixAccount", "mailAccount", "person"}
	GroupObjectClasses = []string{"groupOfUniqueNames"}
)

var userAttributes = map[string]Attribute{
	"uid":             {Name: "uid", Column: "username", Kind: KindString},
	"cn":              {Name: "cn", Column: "display_name", Fallback: "username", Kind: KindString},
	"displayname":     {Name: "displayName", Column: "display_name", Kind: KindString},
	"mail":            {Name: "mail", Column: "email", Kind: KindString},
	"email":           {Name: "mail", Column: "email", Kind: KindString},
	"jpegphoto":       {Name: "jpegPhoto", Column: "avatar", Kind: KindBinary},
	"avatar":          {Name: "jpegPhoto", Column: "avatar", Kind: KindBinary},
	"createtimestamp": {Name: "createTimestamp", Column: "created_at", Kind: KindTimestamp},
	"creationdate":    {Name: "createTimestamp", Column: "created_at", Kind: KindTimestamp},
	"entryuuid":       {Name: "entryUUID", Column: "id", Kind: KindString},
	"memberof":        {Name: "memberOf", Kind: KindMembership},
	"objectclass":     {Name: "objectClass", Kind: KindObjectClass},
}

var groupAttributes = map[string]Attribute{
	"cn":              {Name: "cn", Column: "name", Kind: KindString},
	"displayname":     {Name: "cn", Column: "name", Kind: KindString},
	"createtimestamp": {Name: "createTimestamp", Column: "created_at", Kind: KindTimestamp},
	"entryuuid":       {Name: "entryUUID", Column: "id", Kind: KindString},
	"member":          {Name: "member", Kind: KindMembership},
	"uniquemember":    {Name: "member", Kind: KindMembership},
	"objectclass":     {Name: "objectClass", Kind: KindObjectClass},
}

// ResolveUserAttribute resolves a user attribute name case-insensitively.
// Unknown names fail closed with common.ErrUnknownAttribute.
func (s *Schema) ResolveUserAttribute(name string) (Attribute, error) {
	return resolve(userAttributes, name)
}

// ResolveGroupAttribute resolves a group attribute name case-insensitively.
func (s *Schema) ResolveGroupAttribute(name string) (Attribute, error) {
	return resolve(groupAttributes, name)
}

func resolve(table map[string]Attribute, name string) (Attribute, error) {
	attr, ok := table[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Attribute{}, fmt.Errorf("%w: %s", common.ErrUnknownAttribute, name)
	}
	return attr, nil
}
