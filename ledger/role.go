package ledger

import (
	"fmt"
	"strings"
)

// Role is a closed, ordered set of account levels. Each level holds every
// capability of the levels below it.
type Role int

const (
	RoleCustomer Role = iota
	RoleObserver
	RoleBartender
	RoleAdmin
)

var roleNames = [...]string{
	RoleCustomer:  "customer",
	RoleObserver:  "observer",
	RoleBartender: "bartender",
	RoleAdmin:     "admin",
}

func (r Role) String() string {
	if r < RoleCustomer || r > RoleAdmin {
		return fmt.Sprintf("role(%d)", int(r))
	}
	return roleNames[r]
}

// ParseRole parses a role name, case-insensitively.
func ParseRole(s string) (Role, error) {
	for i, name := range roleNames {
		if strings.EqualFold(s, name) {
			return Role(i), nil
		}
	}
	return RoleCustomer, fmt.Errorf("%w: unknown role %q", ErrValidation, s)
}

// Capability is something an operator may be allowed to do.
type Capability int

const (
	CapViewOwnAccount Capability = iota
	CapViewReports
	CapServe
	CapAdminister
)

// minimum role holding each capability
var capabilityFloor = map[Capability]Role{
	CapViewOwnAccount: RoleCustomer,
	CapViewReports:    RoleObserver,
	CapServe:          RoleBartender,
	CapAdminister:     RoleAdmin,
}

// Can reports whether r holds capability c.
func (r Role) Can(c Capability) bool {
	floor, ok := capabilityFloor[c]
	if !ok {
		return false
	}
	return r >= floor
}

// Require returns ErrPermissionDenied unless r holds c.
func (r Role) Require(c Capability) error {
	if r.Can(c) {
		return nil
	}
	return &PermissionError{Role: r, Capability: c}
}

func (c Capability) String() string {
	switch c {
	case CapViewOwnAccount:
		return "view own account"
	case CapViewReports:
		return "view reports"
	case CapServe:
		return "serve"
	case CapAdminister:
		return "administer"
	default:
		return fmt.Sprintf("capability(%d)", int(c))
	}
}
