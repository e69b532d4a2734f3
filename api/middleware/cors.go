package middleware

import (
    "github.com/gin-contrib/cors"
    "github.com/gin-gonic/gin"
)

// CORS allows the given origins; an empty list or "*" allows any.
func CORS(allowedOrigins []string) gin.HandlerFunc {
    config := cors.DefaultConfig()
    if len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*") {
        config.AllowAllOrigins = true
    } else {
        config.AllowOrigins = allowedOrigins
    }
    config.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
    config.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", RequestIDHeader}
    config.ExposeHeaders = []string{RequestIDHeader, "Content-Disposition"}

    return cors.New(config)
}
