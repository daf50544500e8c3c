package auth

import (
	"strings"

	"github.com/gin-gonic/gin"

	"smartattendance/internal/apperr"
)

const claimsKey = "claims"

// Bearer enforces HS256 access tokens and stores the claims on the context.
func Bearer(signingKey, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			abort(c, apperr.New(apperr.CodeUnauthenticated, "missing bearer token"))
			return
		}
		tokenStr := strings.TrimSpace(authz[len("bearer "):])
		claims, err := Parse(tokenStr, signingKey, issuer)
		if err != nil || claims.Kind != KindAccess {
			abort(c, apperr.New(apperr.CodeUnauthenticated, "invalid token"))
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// RequireRole lets the request through only for the given roles. It must
// run after Bearer.
func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := ClaimsFrom(c)
		if !ok {
			abort(c, apperr.New(apperr.CodeUnauthenticated, "missing claims"))
			return
		}
		for _, r := range roles {
			if claims.Role == r {
				c.Next()
				return
			}
		}
		abort(c, apperr.New(apperr.CodeForbidden, "role "+claims.Role+" cannot do this"))
	}
}

// ClaimsFrom returns the claims Bearer stored.
func ClaimsFrom(c *gin.Context) (Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return Claims{}, false
	}
	claims, ok := v.(Claims)
	return claims, ok
}

func abort(c *gin.Context, e *apperr.Error) {
	c.AbortWithStatusJSON(apperr.HTTPStatus(e), e)
}
