package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-grading/internal/utils"
)

// RequireRole admits authenticated callers holding one of roles.
// With no roles any authenticated caller is admitted.
func RequireRole(roles ...Role) fiber.Handler {
	allowed := make(map[Role]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		identity := CurrentIdentity(c)
		if !identity.Authenticated() {
			return utils.Fail(c, fiber.StatusUnauthorized, "authentication required", nil)
		}
		if len(allowed) == 0 {
			return c.Next()
		}
		if _, ok := allowed[identity.Role]; !ok {
			return utils.Fail(c, fiber.StatusForbidden, "insufficient permissions", fiber.Map{"role": identity.Role})
		}
		return c.Next()
	}
}

// RequireInstructor admits teachers and admins.
func RequireInstructor() fiber.Handler {
	return RequireRole(RoleTeacher, RoleAdmin)
}

// RequireStudent admits students only.
func RequireStudent() fiber.Handler {
	return RequireRole(RoleStudent)
}

// RequireAuthenticated admits any caller with a resolved user id.
func RequireAuthenticated() fiber.Handler {
	return RequireRole()
}
