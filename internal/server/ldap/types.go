// Package ldap implements the directory-protocol session semantics: typed
// bind and search requests, result codes per RFC 4511 Section 4.1.9, and the
// per-connection session state machine. The wire transport is out of scope;
// an outer layer decodes messages into these types.
package ldap

// ResultCode is an LDAP result code per RFC 4511 Section 4.1.9.
type ResultCode int

const (
	ResultSuccess                  ResultCode = 0
	ResultOperationsError          ResultCode = 1
	ResultProtocolError            ResultCode = 2
	ResultSizeLimitExceeded        ResultCode = 4
	ResultUndefinedAttributeType   ResultCode = 17
	ResultNoSuchObject             ResultCode = 32
	ResultInvalidDNSyntax          ResultCode = 34
	ResultInvalidCredentials       ResultCode = 49
	ResultInsufficientAccessRights ResultCode = 50
	ResultUnwillingToPerform       ResultCode = 53
)

// String returns the RFC name of the result code.
func (c ResultCode) String() string {
	switch c {
	case ResultSuccess:
		return "success"
	case ResultOperationsError:
		return "operationsError"
	case ResultProtocolError:
		return "protocolError"
	case ResultSizeLimitExceeded:
		return "sizeLimitExceeded"
	case ResultUndefinedAttributeType:
		return "undefinedAttributeType"
	case ResultNoSuchObject:
		return "noSuchObject"
	case ResultInvalidDNSyntax:
		return "invalidDNSyntax"
	case ResultInvalidCredentials:
		return "invalidCredentials"
	case ResultInsufficientAccessRights:
		return "insufficientAccessRights"
	case ResultUnwillingToPerform:
		return "unwillingToPerform"
	default:
		return "other"
	}
}

// Scope is the search scope per RFC 4511 Section 4.5.1.2.
type Scope int

const (
	ScopeBaseObject   Scope = 0
	ScopeSingleLevel  Scope = 1
	ScopeWholeSubtree Scope = 2
)

// BindRequest is a simple bind: a DN (or bare username) plus a plaintext
// password carried over an already-encrypted transport.
type BindRequest struct {
	DN       string
	Password string
}

// BindResult reports the outcome of a bind.
type BindResult struct {
	Code    ResultCode
	Message string
}

// SearchRequest selects entries under a base DN. An empty attribute list
// (or "*") requests every readable attribute. SizeLimit 0 selects the
// server default.
type SearchRequest struct {
	BaseDN     string
	Scope      Scope
	Filter     string
	Attributes []string
	SizeLimit  int
}

// SearchResultEntry is one returned entry. Attribute names use the schema's
// canonical spelling; values are strings (binary values carried verbatim).
type SearchResultEntry struct {
	DN         string
	Attributes map[string][]string
}

// SearchResult bundles the entries with the operation outcome. Entries may
// be non-empty alongside a sizeLimitExceeded code: the truncated prefix is
// still delivered.
type SearchResult struct {
	Code    ResultCode
	Message string
	Entries []SearchResultEntry
}
