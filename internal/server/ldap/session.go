package ldap

import (
	"context"
	"errors"
	"strings"

	"github.com/lightldap/lightldap/internal/common"
	"github.com/lightldap/lightldap/internal/logging"
	"github.com/lightldap/lightldap/internal/server/filter"
	"github.com/lightldap/lightldap/internal/server/models"
	"github.com/lightldap/lightldap/internal/server/repositories/groups"
	"github.com/lightldap/lightldap/internal/server/repositories/users"
	"github.com/lightldap/lightldap/internal/server/schema"
)

// generalizedTimeLayout is the LDAP GeneralizedTime rendering of timestamps.
const generalizedTimeLayout = "20060102150405Z"

// PasswordVerifier checks a simple-bind password. Every failure surfaces as
// common.ErrInvalidCredentials regardless of cause.
type PasswordVerifier interface {
	VerifyPassword(ctx context.Context, username, password string) error
}

// Session is the per-connection protocol state machine: anonymous until a
// successful bind, then carrying the bound identity and its authorization
// level. A Session is used by one connection goroutine at a time.
type Session struct {
	sch              *schema.Schema
	verifier         PasswordVerifier
	users            users.Repository
	groups           groups.Repository
	adminUser        string
	adminGroup       string
	defaultSizeLimit int
	logger           logging.Logger

	bound     *models.User
	boundDN   string
	admin     bool
	anonymous bool
}

// NewSession starts an anonymous session. defaultSizeLimit bounds searches
// that do not request their own limit; 0 means unlimited.
func NewSession(sch *schema.Schema, verifier PasswordVerifier, ur users.Repository, gr groups.Repository,
	adminUser, adminGroup string, defaultSizeLimit int, logger logging.Logger) *Session {
	return &Session{
		sch:              sch,
		verifier:         verifier,
		users:            ur,
		groups:           gr,
		adminUser:        adminUser,
		adminGroup:       adminGroup,
		defaultSizeLimit: defaultSizeLimit,
		logger:           logger.With("module", "ldap"),
		anonymous:        true,
	}
}

// BoundDN returns the DN of the bound identity, or "" when anonymous.
func (s *Session) BoundDN() string { return s.boundDN }

// IsAdmin reports whether the bound identity is in the admin group.
func (s *Session) IsAdmin() bool { return s.admin }

// Bind processes a simple bind. An empty DN with an empty password is an
// anonymous bind. Any authentication failure maps to invalidCredentials
// with no detail about the cause.
func (s *Session) Bind(ctx context.Context, req *BindRequest) *BindResult {
	s.reset()

	if req.DN == "" && req.Password == "" {
		return &BindResult{Code: ResultSuccess}
	}

	username, ok := s.bindUsername(req.DN)
	if !ok {
		return &BindResult{Code: ResultInvalidCredentials}
	}

	if err := s.verifier.VerifyPassword(ctx, username, req.Password); err != nil {
		s.logger.Info(ctx, "bind failed", "dn", req.DN)
		return &BindResult{Code: ResultInvalidCredentials}
	}

	user, err := s.users.GetByUsername(ctx, username)
	if err != nil {
		return &BindResult{Code: ResultInvalidCredentials}
	}
	groupNames, err := s.users.GroupsOf(ctx, user.ID)
	if err != nil {
		return &BindResult{Code: ResultOperationsError, Message: "directory unavailable"}
	}

	s.bound = user
	s.boundDN = s.sch.UserDN(user.UserName)
	s.anonymous = false
	for _, name := range groupNames {
		if strings.EqualFold(name, s.adminGroup) {
			s.admin = true
		}
	}
	s.logger.Info(ctx, "bind succeeded", "dn", s.boundDN, "admin", s.admin)
	return &BindResult{Code: ResultSuccess}
}

// Unbind drops the bound identity and returns the session to anonymous.
func (s *Session) Unbind() {
	s.reset()
}

func (s *Session) reset() {
	s.bound = nil
	s.boundDN = ""
	s.admin = false
	s.anonymous = true
}

// bindUsername maps a bind DN to a username. Accepted forms: a user DN in
// the people subtree, the base DN itself (the bootstrap administrator), or
// a bare username.
func (s *Session) bindUsername(dn string) (string, bool) {
	normalized := schema.NormalizeDN(dn)
	if !strings.Contains(normalized, "=") {
		return normalized, normalized != ""
	}
	if username, ok := s.sch.ParseUserDN(normalized); ok {
		return username, true
	}
	if normalized == s.sch.BaseDN() {
		return s.adminUser, true
	}
	return "", false
}

// Search evaluates a search request against the people and groups subtrees.
// Anonymous sessions are rejected. Compiled filters run as parameterized
// SQL; synthetic entries (base, organizational units) are matched with the
// in-memory evaluator.
func (s *Session) Search(ctx context.Context, req *SearchRequest) *SearchResult {
	if s.anonymous {
		return &SearchResult{Code: ResultInsufficientAccessRights, Message: "bind first"}
	}

	rawFilter := req.Filter
	if rawFilter == "" {
		rawFilter = "(objectClass=*)"
	}
	node, err := filter.Parse(rawFilter)
	if err != nil {
		return &SearchResult{Code: ResultProtocolError, Message: err.Error()}
	}

	plan, code := s.plan(req)
	if code != ResultSuccess {
		return &SearchResult{Code: code}
	}

	limit := req.SizeLimit
	if limit <= 0 {
		limit = s.defaultSizeLimit
	}

	var entries []SearchResultEntry
	truncated := false

	appendEntry := func(e SearchResultEntry) bool {
		if limit > 0 && len(entries) >= limit {
			truncated = true
			return false
		}
		entries = append(entries, e)
		return true
	}

	for _, synthetic := range plan.synthetic {
		matched, err := filter.MatchesUser(node, synthetic, s.sch)
		if err != nil {
			// Synthetic entries only carry generic attributes; filters
			// over domain attributes simply do not match them.
			matched = false
		}
		if matched {
			if !appendEntry(s.projectRaw(synthetic, req.Attributes)) {
				break
			}
		}
	}

	if plan.users && !truncated {
		code, over := s.searchUsers(ctx, node, plan.userFilter, req.Attributes, limit, appendEntry)
		if code != ResultSuccess {
			return &SearchResult{Code: code}
		}
		truncated = truncated || over
	}

	if plan.groups && !truncated {
		code, over := s.searchGroups(ctx, node, plan.groupFilter, req.Attributes, limit, appendEntry)
		if code != ResultSuccess {
			return &SearchResult{Code: code}
		}
		truncated = truncated || over
	}

	if truncated {
		return &SearchResult{Code: ResultSizeLimitExceeded, Entries: entries}
	}
	return &SearchResult{Code: ResultSuccess, Entries: entries}
}

// searchPlan names what a base DN + scope combination selects.
type searchPlan struct {
	users       bool
	groups      bool
	userFilter  string // restrict to one username
	groupFilter string // restrict to one group name
	synthetic   []*filter.Entry
}

func (s *Session) plan(req *SearchRequest) (*searchPlan, ResultCode) {
	base := schema.NormalizeDN(req.BaseDN)
	if base == "" {
		base = s.sch.BaseDN()
	}

	plan := &searchPlan{}
	switch {
	case base == s.sch.BaseDN():
		switch req.Scope {
		case ScopeBaseObject:
			plan.synthetic = []*filter.Entry{s.rootEntry()}
		case ScopeSingleLevel:
			plan.synthetic = []*filter.Entry{s.ouEntry(s.sch.PeopleDN(), "people"), s.ouEntry(s.sch.GroupsDN(), "groups")}
		case ScopeWholeSubtree:
			plan.synthetic = []*filter.Entry{s.rootEntry(), s.ouEntry(s.sch.PeopleDN(), "people"), s.ouEntry(s.sch.GroupsDN(), "groups")}
			plan.users = true
			plan.groups = true
		}
	case base == s.sch.PeopleDN():
		switch req.Scope {
		case ScopeBaseObject:
			plan.synthetic = []*filter.Entry{s.ouEntry(s.sch.PeopleDN(), "people")}
		case ScopeSingleLevel:
			plan.users = true
		case ScopeWholeSubtree:
			plan.synthetic = []*filter.Entry{s.ouEntry(s.sch.PeopleDN(), "people")}
			plan.users = true
		}
	case base == s.sch.GroupsDN():
		switch req.Scope {
		case ScopeBaseObject:
			plan.synthetic = []*filter.Entry{s.ouEntry(s.sch.GroupsDN(), "groups")}
		case ScopeSingleLevel:
			plan.groups = true
		case ScopeWholeSubtree:
			plan.synthetic = []*filter.Entry{s.ouEntry(s.sch.GroupsDN(), "groups")}
			plan.groups = true
		}
	default:
		if username, ok := s.sch.ParseUserDN(base); ok {
			if req.Scope == ScopeSingleLevel {
				break // leaf: nothing below it
			}
			plan.users = true
			plan.userFilter = username
			break
		}
		if groupName, ok := s.sch.ParseGroupDN(base); ok {
			if req.Scope == ScopeSingleLevel {
				break
			}
			plan.groups = true
			plan.groupFilter = groupName
			break
		}
		return nil, ResultNoSuchObject
	}
	return plan, ResultSuccess
}

func (s *Session) searchUsers(ctx context.Context, node *filter.Node, only string, attrs []string,
	limit int, emit func(SearchResultEntry) bool) (ResultCode, bool) {
	compiled := node
	if only != "" {
		compiled = &filter.Node{Type: filter.NodeAnd, Children: []*filter.Node{
			{Type: filter.NodeEquality, Attribute: "uid", Value: only},
			node,
		}}
	}
	pred, err := filter.CompileUsers(compiled, s.sch)
	if err != nil {
		if errors.Is(err, common.ErrUnknownAttribute) {
			return ResultUndefinedAttributeType, false
		}
		return ResultOperationsError, false
	}

	found, truncated, err := s.users.Search(ctx, pred, limit)
	if err != nil {
		s.logger.Error(ctx, "user search failed", "error", err)
		return ResultOperationsError, false
	}
	for _, user := range found {
		groupNames, err := s.users.GroupsOf(ctx, user.ID)
		if err != nil {
			return ResultOperationsError, false
		}
		if !emit(s.userEntry(user, groupNames, attrs)) {
			return ResultSuccess, true
		}
	}
	return ResultSuccess, truncated
}

func (s *Session) searchGroups(ctx context.Context, node *filter.Node, only string, attrs []string,
	limit int, emit func(SearchResultEntry) bool) (ResultCode, bool) {
	compiled := node
	if only != "" {
		compiled = &filter.Node{Type: filter.NodeAnd, Children: []*filter.Node{
			{Type: filter.NodeEquality, Attribute: "cn", Value: only},
			node,
		}}
	}
	pred, err := filter.CompileGroups(compiled, s.sch)
	if err != nil {
		if errors.Is(err, common.ErrUnknownAttribute) {
			return ResultUndefinedAttributeType, false
		}
		return ResultOperationsError, false
	}

	found, truncated, err := s.groups.Search(ctx, pred, limit)
	if err != nil {
		s.logger.Error(ctx, "group search failed", "error", err)
		return ResultOperationsError, false
	}
	for _, group := range found {
		members, err := s.groups.MembersOf(ctx, group.ID)
		if err != nil {
			return ResultOperationsError, false
		}
		if !emit(s.groupEntry(group, members, attrs)) {
			return ResultSuccess, true
		}
	}
	return ResultSuccess, truncated
}

func (s *Session) userEntry(user *models.User, groupNames, attrs []string) SearchResultEntry {
	e := filter.NewEntry(s.sch.UserDN(user.UserName))
	e.Set("objectClass", schema.UserObjectClasses...)
	e.Set("uid", user.UserName)
	e.Set("entryUUID", user.ID)
	cn := user.DisplayName
	if cn == "" {
		cn = user.UserName
	}
	e.Set("cn", cn)
	if user.DisplayName != "" {
		e.Set("displayName", user.DisplayName)
	}
	if !user.CreatedAt.IsZero() {
		e.Set("createTimestamp", user.CreatedAt.UTC().Format(generalizedTimeLayout))
	}

	// mail and jpegPhoto are readable only by admins and the entry's own user.
	self := s.bound != nil && s.bound.ID == user.ID
	if s.admin || self {
		if user.Email != "" {
			e.Set("mail", user.Email)
		}
		if len(user.Avatar) > 0 {
			e.Set("jpegPhoto", string(user.Avatar))
		}
	}

	for _, name := range groupNames {
		e.Add("memberOf", s.sch.GroupDN(name))
	}
	return s.projectRaw(e, attrs)
}

func (s *Session) groupEntry(group *models.Group, members, attrs []string) SearchResultEntry {
	e := filter.NewEntry(s.sch.GroupDN(group.Name))
	e.Set("objectClass", schema.GroupObjectClasses...)
	e.Set("cn", group.Name)
	e.Set("entryUUID", group.ID)
	if !group.CreatedAt.IsZero() {
		e.Set("createTimestamp", group.CreatedAt.UTC().Format(generalizedTimeLayout))
	}
	for _, username := range members {
		e.Add("member", s.sch.UserDN(username))
	}
	return s.projectRaw(e, attrs)
}

func (s *Session) rootEntry() *filter.Entry {
	e := filter.NewEntry(s.sch.BaseDN())
	e.Set("objectClass", "top", "dcObject", "organization")
	first := strings.SplitN(s.sch.BaseDN(), ",", 2)[0]
	if _, value, ok := strings.Cut(first, "="); ok {
		e.Set("dc", value)
	}
	return e
}

func (s *Session) ouEntry(dn, name string) *filter.Entry {
	e := filter.NewEntry(dn)
	e.Set("objectClass", "top", "organizationalUnit")
	e.Set("ou", name)
	return e
}

// projectRaw applies the requested-attribute projection. An empty request or
// "*" selects everything readable; unknown requested names are ignored, per
// protocol convention.
func (s *Session) projectRaw(e *filter.Entry, attrs []string) SearchResultEntry {
	out := SearchResultEntry{DN: e.DN, Attributes: make(map[string][]string)}

	wantAll := len(attrs) == 0
	want := make(map[string]bool, len(attrs))
	for _, a := range attrs {
		if a == "*" {
			wantAll = true
			continue
		}
		want[strings.ToLower(a)] = true
	}

	for name, values := range e.Attributes {
		if wantAll || want[name] {
			out.Attributes[displayName(name)] = append([]string(nil), values...)
		}
	}
	return out
}

// attributeSpellings maps lowercased attribute keys back to their protocol
// spelling for result entries.
var attributeSpellings = map[string]string{
	"objectclass":     "objectClass",
	"displayname":     "displayName",
	"jpegphoto":       "jpegPhoto",
	"createtimestamp": "createTimestamp",
	"entryuuid":       "entryUUID",
	"memberof":        "memberOf",
	"uniquemember":    "uniqueMember",
}

func displayName(lower string) string {
	if spelled, ok := attributeSpellings[lower]; ok {
		return spelled
	}
	return lower
}
