package api

import (
	"crypto/subtle"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
)

// BearerAuth requires "Authorization: Bearer <token>". The websocket route
// also accepts the token as the access_token query parameter, since browsers
// cannot set headers on upgrade requests.
func BearerAuth(expected string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("access_token")
		if header := c.GetHeader("Authorization"); header != "" {
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				errorResponse(c, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid authorization header format")
				c.Abort()
				return
			}
			token = parts[1]
		}
		if token == "" {
			errorResponse(c, http.StatusUnauthorized, ErrCodeUnauthorized, "missing authorization header")
			c.Abort()
			return
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
			errorResponse(c, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid token")
			c.Abort()
			return
		}
		c.Next()
	}
}

// LoopbackOnly rejects requests whose Host is not a loopback name, which
// defeats DNS rebinding, and requests whose Origin is set to anything but a
// loopback origin, which stops cross-site pages from driving the API.
func LoopbackOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !isLoopbackHost(c.Request.Host) {
			errorResponse(c, http.StatusForbidden, ErrCodeForbidden, "host not allowed")
			c.Abort()
			return
		}
		if origin := c.GetHeader("Origin"); origin != "" {
			u, err := url.Parse(origin)
			if err != nil || u.Host == "" || !isLoopbackHost(u.Host) {
				errorResponse(c, http.StatusForbidden, ErrCodeForbidden, "origin not allowed")
				c.Abort()
				return
			}
		}
		c.Next()
	}
}

// RequireJSON rejects mutating requests that are not application/json. Browsers
// send text/plain and form bodies cross-site without a CORS preflight.
func RequireJSON() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		default:
			c.Next()
			return
		}
		mediaType, _, err := mime.ParseMediaType(c.GetHeader("Content-Type"))
		if err != nil || mediaType != "application/json" {
			errorResponse(c, http.StatusUnsupportedMediaType, ErrCodeMediaType, "content type must be application/json")
			c.Abort()
			return
		}
		c.Next()
	}
}

func isLoopbackHost(hostport string) bool {
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
