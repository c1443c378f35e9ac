package ability

// Permission is a backend permission record. Code is conventionally
// "resource:action" or the wildcard "*".
type Permission struct {
	ID          int64  `json:"id"`
	Code        string `json:"code"`
	Description string `json:"description,omitempty"`
}

// RolePermission mirrors the backend join record roles[].role.permissions[].
type RolePermission struct {
	Permission Permission `json:"permission"`
}

// Role is a named bundle of permissions.
type Role struct {
	ID          int64            `json:"id"`
	Code        string           `json:"code"`
	Name        string           `json:"name"`
	Permissions []RolePermission `json:"permissions"`
}

// UserRole mirrors the backend join record user.roles[].
type UserRole struct {
	Role Role `json:"role"`
}

// Actor is the identity (person or organization) behind a user account.
type Actor struct {
	ID          int64  `json:"id"`
	Kind        string `json:"kind,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Image       string `json:"image,omitempty"`
}

// User is the authenticated profile returned by the backend.
type User struct {
	ID       int64      `json:"id"`
	Email    string     `json:"email"`
	Username string     `json:"username"`
	Actor    *Actor     `json:"actor,omitempty"`
	Roles    []UserRole `json:"roles"`
}

// DisplayName returns the friendliest available label for the user.
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	if u.Actor != nil && u.Actor.DisplayName != "" {
		return u.Actor.DisplayName
	}
	if u.Username != "" {
		return u.Username
	}
	return u.Email
}

// RoleCodes lists the codes of every role assigned to the user.
func (u *User) RoleCodes() []string {
	if u == nil {
		return nil
	}
	codes := make([]string, 0, len(u.Roles))
	for _, ur := range u.Roles {
		if ur.Role.Code != "" {
			codes = append(codes, ur.Role.Code)
		}
	}
	return codes
}
