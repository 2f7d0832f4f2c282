package auth

import (
	"strings"

	"github.com/gin-gonic/gin"
)

// Context keys set by the Firebase middleware.
const (
	CtxFirebaseUID = "firebase_uid"
	CtxUserEmail   = "user_email"
)

// CallerUID returns the authenticated caller's Firebase UID, or "" for
// requests authenticated by API key.
func CallerUID(c *gin.Context) string {
	return strings.TrimSpace(c.GetString(CtxFirebaseUID))
}

// CallerEmail returns the authenticated caller's email claim, if the
// token carried one.
func CallerEmail(c *gin.Context) string {
	return strings.TrimSpace(c.GetString(CtxUserEmail))
}
