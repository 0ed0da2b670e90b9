package domain

import (
	"fmt"
	"strings"
)

// Role identifies a participant's function in a transaction. Raw strings
// from external records are normalized once at the boundary via ParseRole;
// engine logic only ever compares Role values.
type Role string

const (
	RoleSeller Role = "SELLER"
	RoleBuyer  Role = "BUYER"
	RoleAdmin  Role = "ADMIN"
)

// ParseRole normalizes a raw role string. Agents and administrators are
// the same audience for assignment purposes and both map to RoleAdmin.
func ParseRole(raw string) (Role, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "SELLER":
		return RoleSeller, nil
	case "BUYER":
		return RoleBuyer, nil
	case "ADMIN", "AGENT", "MANAGER":
		return RoleAdmin, nil
	default:
		return "", fmt.Errorf("unknown role %q", raw)
	}
}

func (r Role) String() string { return string(r) }
