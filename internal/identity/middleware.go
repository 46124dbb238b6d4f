package identity

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"faceattend/internal/apperrors"
)

// ContextSessionKey is the gin context key holding the resolved *Session.
const ContextSessionKey = "session"

// SessionAuth gates protected routes on an active session. Anything short
// of a valid session gets a 401 and never reaches the view.
func SessionAuth(gate *Gate) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		sess, err := gate.Resolve(c.Request.Context(), token)
		if err != nil {
			appErr := apperrors.FromError(err)
			c.AbortWithStatusJSON(appErr.Status, gin.H{"error": appErr.Message, "code": appErr.Code})
			return
		}
		if sess == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "login required", "code": apperrors.ErrUnauthorized.Code})
			return
		}
		c.Set(ContextSessionKey, sess)
		c.Next()
	}
}

// RequireRole restricts a route to the given roles.
func RequireRole(roles ...Role) gin.HandlerFunc {
	allowed := make(map[Role]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		sess := SessionFrom(c)
		if sess == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "login required", "code": apperrors.ErrUnauthorized.Code})
			return
		}
		if _, ok := allowed[sess.User.Role]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden", "code": apperrors.ErrForbidden.Code})
			return
		}
		c.Next()
	}
}

// SessionFrom returns the session set by SessionAuth, or nil.
func SessionFrom(c *gin.Context) *Session {
	v, ok := c.Get(ContextSessionKey)
	if !ok {
		return nil
	}
	sess, _ := v.(*Session)
	return sess
}

func bearerToken(c *gin.Context) string {
	authz := c.GetHeader("Authorization")
	if authz == "" || !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
		return ""
	}
	return strings.TrimSpace(authz[len("bearer "):])
}
