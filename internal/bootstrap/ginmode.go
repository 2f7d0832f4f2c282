package bootstrap

import "github.com/gin-gonic/gin"

// SetGinMode maps APP_ENV onto gin's mode. Anything other than
// production keeps gin's debug logging, which is what we want when
// replaying report payloads locally.
func SetGinMode(env string) {
	switch env {
	case "production", "staging":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	}
}
