package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/mbalire/internhub/core/user"
)

// roleMiddleware only lets through authenticated users holding one of the
// given roles.
func roleMiddleware(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			for _, role := range roles {
				if claims.Role == role {
					return next(ctx)
				}
			}
			return errHttpForbidden
		}
	}
}

func adminMiddleware() echo.MiddlewareFunc {
	return roleMiddleware(user.RoleAdmin)
}

func reviewerMiddleware() echo.MiddlewareFunc {
	return roleMiddleware(user.RoleSupervisor, user.RoleAdmin)
}

func studentMiddleware() echo.MiddlewareFunc {
	return roleMiddleware(user.RoleStudent)
}
