// Package auth carries the HTTP request middleware: JWT validation, request
// identity propagation, CORS and per-actor rate limiting.
package auth

// Principal is any authenticated entity making a request: an agent, an
// operator or the system itself.
type Principal interface {
	GetID() string
	GetRoles() []string
	HasRole(role string) bool
}

// BasePrincipal is the claims-backed Principal implementation.
type BasePrincipal struct {
	ID    string
	Roles []string
}

func (b *BasePrincipal) GetID() string {
	return b.ID
}

func (b *BasePrincipal) GetRoles() []string {
	return b.Roles
}

func (b *BasePrincipal) HasRole(role string) bool {
	for _, r := range b.Roles {
		if r == role {
			return true
		}
	}
	return false
}
