package model

import "strings"

// UserRole is the access level of a user
type UserRole string

const (
	RoleUser    UserRole = "user"
	RoleManager UserRole = "manager"
	RoleAdmin   UserRole = "admin"
)

// ParseUserRole maps a stored role to a UserRole. Unknown or missing values are RoleUser.
func ParseUserRole(s string) UserRole {
	switch UserRole(strings.ToLower(strings.TrimSpace(s))) {
	case RoleManager:
		return RoleManager
	case RoleAdmin:
		return RoleAdmin
	default:
		return RoleUser
	}
}

// IsValid reports whether r is one of the known roles
func (r UserRole) IsValid() bool {
	return r == RoleUser || r == RoleManager || r == RoleAdmin
}

// CanManageUsers is true for managers and admins
func (r UserRole) CanManageUsers() bool {
	return r == RoleManager || r == RoleAdmin
}

// CanManageAllTrips is true for admins only
func (r UserRole) CanManageAllTrips() bool {
	return r == RoleAdmin
}

func (r UserRole) String() string { return string(r) }

// User is the profile stored under /users/<uid>
type User struct {
	Key   string   `json:"key,omitempty"`
	Name  string   `json:"name" validate:"required,notblank"`
	Email string   `json:"email" validate:"required,email_shape"`
	Role  UserRole `json:"role"`
}

// StoreKey implements Record
func (u User) StoreKey() string { return u.Key }
