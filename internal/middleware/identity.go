package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// Role is a grading role carried in the access token.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleAdmin   Role = "admin"
)

// rank orders roles when a token carries several; the strongest one wins.
var rank = map[Role]int{
	RoleStudent: 1,
	RoleTeacher: 2,
	RoleAdmin:   3,
}

// ParseRole maps free-form role text onto a known grading role.
func ParseRole(value string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(value)))
	_, ok := rank[role]
	return role, ok
}

// Instructor reports whether the role may grade and adjudicate.
func (r Role) Instructor() bool {
	return r == RoleTeacher || r == RoleAdmin
}

// Identity is the authenticated caller of a grading route.
type Identity struct {
	UserID uint
	Role   Role
}

// Authenticated reports whether a user id was resolved.
func (i Identity) Authenticated() bool {
	return i.UserID != 0
}

// CurrentIdentity resolves the caller from request locals. Locals are the
// contract between auth middleware and handlers, so test stubs can set them directly.
func CurrentIdentity(c *fiber.Ctx) Identity {
	var identity Identity
	switch v := c.Locals(localUserID).(type) {
	case uint:
		identity.UserID = v
	case int:
		if v > 0 {
			identity.UserID = uint(v)
		}
	}
	switch v := c.Locals(localUserRole).(type) {
	case Role:
		identity.Role = v
	case string:
		if role, ok := ParseRole(v); ok {
			identity.Role = role
		}
	}
	return identity
}

const (
	localUserID   = "user_id"
	localUserRole = "user_role"
)

func bindIdentity(c *fiber.Ctx, identity Identity) {
	c.Locals(localUserID, identity.UserID)
	if identity.Role != "" {
		c.Locals(localUserRole, string(identity.Role))
	}
}
