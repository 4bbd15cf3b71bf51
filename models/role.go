package models

// Role is the capability level of a user. The string values are the ones
// persisted in users.role and carried in the session token's "tipo" claim.
type Role string

const (
	RoleAdmin    Role = "admin"
	RolePartner  Role = "parceiro"
	RoleCustomer Role = "cliente"
	RoleBlocked  Role = "bloqueado"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RolePartner, RoleCustomer, RoleBlocked:
		return true
	}
	return false
}

// CanSignIn reports whether a session token may be issued for the role.
func (r Role) CanSignIn() bool {
	switch r {
	case RoleAdmin, RolePartner, RoleCustomer:
		return true
	case RoleBlocked:
		return false
	}
	return false
}

// CanOwnBracelets is true only for customers.
func (r Role) CanOwnBracelets() bool {
	return r == RoleCustomer
}

func (r Role) String() string {
	return string(r)
}
