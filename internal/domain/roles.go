package domain

import "strings"

type Role string

const (
	RoleCustomer Role = "CUSTOMER"
	RoleVendor   Role = "VENDOR"
	RoleAdmin    Role = "ADMIN"
	RoleSystem   Role = "SYSTEM"
)

func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	switch r {
	case RoleCustomer, RoleVendor, RoleAdmin:
		return r, true
	}
	return "", false
}

// requestableRoles lists which roles a user holding the key role may apply for.
var requestableRoles = map[Role][]Role{
	RoleCustomer: {RoleVendor},
	RoleVendor:   {},
	RoleAdmin:    {},
}

func CanRequestRole(current, requested Role) bool {
	for _, r := range requestableRoles[current] {
		if r == requested {
			return true
		}
	}
	return false
}

// Actor is the authenticated caller of a lifecycle operation.
type Actor struct {
	UserID  string
	Role    Role
	StoreID string // store owned by a vendor
}

// SystemActor performs carrier-driven transitions.
var SystemActor = Actor{Role: RoleSystem}

func (a Actor) IsSystem() bool { return a.Role == RoleSystem }

// ManagesStore reports whether the actor may operate on orders of storeID.
func (a Actor) ManagesStore(storeID string) bool {
	switch a.Role {
	case RoleAdmin, RoleSystem:
		return true
	case RoleVendor:
		return a.StoreID != "" && a.StoreID == storeID
	}
	return false
}
