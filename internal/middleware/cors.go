package middleware

import (
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/stwalsh4118/featuresync/internal/config"
)

// CORS creates a middleware that lets the configured origins read the
// operational endpoints and trigger loads. A "*" origin allows any origin
// and disables credentials.
func CORS(cfg config.CORSConfig) gin.HandlerFunc {
	wildcard := slices.Contains(cfg.Origins, "*")

	corsConfig := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", RequestIDHeader},
		ExposeHeaders:    []string{RequestIDHeader},
		AllowCredentials: !wildcard,
		MaxAge:           12 * time.Hour,
	}
	if wildcard {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.Origins
	}

	return cors.New(corsConfig)
}
