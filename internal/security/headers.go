// Package security provides HTTP hardening and admin authentication
// middleware for the risk API.
package security

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// AdminHeader carries the shared admin secret on rule-management routes.
const AdminHeader = "X-Admin-Secret"

// HeadersMiddleware adds security headers to all responses. The API serves
// JSON only, so the CSP forbids everything except websocket connects.
func HeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "no-referrer")
		c.Header("Content-Security-Policy", "default-src 'none'; connect-src 'self' ws: wss:; frame-ancestors 'none'")
		c.Header("Cache-Control", "no-store")
		c.Next()
	}
}

// CORSMiddleware handles CORS for API endpoints. An empty list allows any
// origin without credentials.
func CORSMiddleware(allowedOrigins []string) gin.HandlerFunc {
	originsMap := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originsMap[o] = true
	}
	wildcard := len(allowedOrigins) == 0 || originsMap["*"]

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		if wildcard || originsMap[origin] {
			if origin != "" {
				c.Header("Access-Control-Allow-Origin", origin)
			}
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, X-Request-ID, "+AdminHeader)
			c.Header("Access-Control-Max-Age", "86400")
			// wildcard + credentials is rejected by browsers
			if !wildcard {
				c.Header("Access-Control-Allow-Credentials", "true")
			}
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// AdminMiddleware requires the admin secret header. An empty configured
// secret disables the check (development only; config refuses it in
// production).
func AdminMiddleware(secret string) gin.HandlerFunc {
	want := []byte(secret)
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}
		got := []byte(c.GetHeader(AdminHeader))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "valid " + AdminHeader + " header required",
			})
			return
		}
		c.Next()
	}
}
