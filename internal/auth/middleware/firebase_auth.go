package middleware

import (
	"net/http"
	"strings"

	fbauth "firebase.google.com/go/v4/auth"
	"github.com/gin-gonic/gin"

	"github.com/cspwatch/cspwatch/internal/auth"
)

// FirebaseAuth verifies the Bearer ID token and records the caller on
// the request context.
func FirebaseAuth(client *fbauth.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization token"})
			return
		}

		decoded, err := client.VerifyIDToken(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(auth.CtxFirebaseUID, decoded.UID)
		if email, ok := decoded.Claims["email"].(string); ok {
			c.Set(auth.CtxUserEmail, email)
		}

		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return token
	}
	return ""
}
