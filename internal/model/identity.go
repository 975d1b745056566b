package model

// LinkedIdentity is an external account the identity provider has linked to a
// subject, e.g. the GitHub account used to sign in.
type LinkedIdentity struct {
	Provider string `json:"provider"` // e.g. "github.com"
	UID      string `json:"uid"`
}

// Identity is the caller resolved from a verified ID token.
//
// It lives only for the duration of a request and is never persisted.
type Identity struct {
	Subject        string           `json:"subject"`
	Name           string           `json:"name,omitempty"`
	Email          string           `json:"email,omitempty"`
	SignInProvider string           `json:"signInProvider,omitempty"`
	Linked         []LinkedIdentity `json:"linked,omitempty"`
}

// LinkedUID returns the uid of the first linked identity for provider.
func (i Identity) LinkedUID(provider string) (string, bool) {
	for _, l := range i.Linked {
		if l.Provider == provider {
			return l.UID, true
		}
	}
	return "", false
}

// Clone returns a deep copy so the caller cannot mutate shared state.
func (i Identity) Clone() Identity {
	out := i
	if i.Linked != nil {
		out.Linked = make([]LinkedIdentity, len(i.Linked))
		copy(out.Linked, i.Linked)
	}
	return out
}
