package admingate

import "strings"

// Allowlist is the fixed set of email addresses authorized for elevated
// access, checked in addition to the role claim. Membership is
// case-insensitive and whitespace-trimmed. There is no runtime mutation;
// changing the list means a redeploy.
type Allowlist struct {
	set map[string]struct{}
}

// NewAllowlist builds an Allowlist from the given emails.
func NewAllowlist(emails ...string) Allowlist {
	set := make(map[string]struct{}, len(emails))
	for _, e := range emails {
		e = normalizeEmail(e)
		if e == "" {
			continue
		}
		set[e] = struct{}{}
	}
	return Allowlist{set: set}
}

// DefaultAllowlist is the compiled-in membership used when no explicit
// list is configured.
func DefaultAllowlist() Allowlist {
	return NewAllowlist("pamacomkb@gmail.com")
}

// Contains reports whether email is a member.
func (a Allowlist) Contains(email string) bool {
	_, ok := a.set[normalizeEmail(email)]
	return ok
}

// Len returns the number of members.
func (a Allowlist) Len() int { return len(a.set) }

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
