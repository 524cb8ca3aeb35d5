package session

import "github.com/pointshop/shopauth/identity"

// Subject is what the first-party token pair asserts.
type Subject struct {
	ID   uint
	Role identity.Role
}

// External is the evidence left by the external provider: the email it
// authenticated and whether the account's contact attribute was present.
type External struct {
	Email           string
	ProfileComplete bool
}

// Evidence is everything a request presents as proof of authentication.
// Either source may be absent; flow.LoginManager.Resolve turns it into one
// canonical identity.
type Evidence struct {
	FirstParty *Subject
	External   *External
}

// Authenticated reports whether any recognised evidence is present.
func (e Evidence) Authenticated() bool {
	return e.FirstParty != nil || e.External != nil
}

// Writer issues and clears the first-party session of one response.
type Writer interface {
	Issue(s Subject) error
	Clear()
}

// Reader reads the first-party session of one request.
type Reader interface {
	Current() (Subject, bool)
}
