// Package apikey authenticates API requests by the tenant's public
// key. The identity provider sits in front of these routes and supplies
// a verified subject id; this package only resolves which tenant and
// environment mode the request belongs to.
package apikey

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/plinthhq/plinth/internal/directory"
)

// Request headers.
const (
	HeaderKey     = "X-Plinth-Key"
	HeaderSubject = "X-Plinth-Subject"
	HeaderEmail   = "X-Plinth-Email"
)

// Gin context keys.
const (
	ContextTenantID  = "tenantId"
	ContextPublicKey = "publicKey"
	ContextMode      = "mode"
	ContextSubject   = "subjectId"
	ContextEmail     = "subjectEmail"
)

// Middleware resolves the public key to a tenant and derives the
// environment mode from the key prefix. Requests without a resolvable
// key are rejected; resolution is served by the directory's caching
// decorator in production.
func Middleware(resolver directory.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(HeaderKey)
		if key == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "missing_key",
				"message": "public API key required in " + HeaderKey + " header",
			})
			return
		}

		mode, err := directory.ModeFromPublicKey(key)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "invalid_key",
				"message": "unrecognized public API key",
			})
			return
		}

		tenantID, err := resolver.ResolveByPublicKey(c.Request.Context(), key)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "invalid_key",
				"message": "unrecognized public API key",
			})
			return
		}

		c.Set(ContextTenantID, tenantID)
		c.Set(ContextPublicKey, key)
		c.Set(ContextMode, mode)
		if subject := c.GetHeader(HeaderSubject); subject != "" {
			c.Set(ContextSubject, subject)
		}
		if email := c.GetHeader(HeaderEmail); email != "" {
			c.Set(ContextEmail, email)
		}
		c.Next()
	}
}

// RequireSubject rejects requests that did not carry a subject id.
func RequireSubject() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := c.Get(ContextSubject); !ok {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "missing_subject",
				"message": "subject id required in " + HeaderSubject + " header",
			})
			return
		}
		c.Next()
	}
}

// TenantID returns the resolved tenant id.
func TenantID(c *gin.Context) string { return c.GetString(ContextTenantID) }

// PublicKey returns the presented public key.
func PublicKey(c *gin.Context) string { return c.GetString(ContextPublicKey) }

// Mode returns the environment mode derived from the key.
func Mode(c *gin.Context) directory.Mode {
	if v, ok := c.Get(ContextMode); ok {
		if m, ok := v.(directory.Mode); ok {
			return m
		}
	}
	return directory.ModeTest
}

// Subject returns the verified subject id, if present.
func Subject(c *gin.Context) string { return c.GetString(ContextSubject) }

// Email returns the subject email, if present.
func Email(c *gin.Context) string { return c.GetString(ContextEmail) }
