package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Cookie names shared with the web client
const (
	AuthCookie  = "auth_token"
	NonceCookie = "siwe_nonce"
)

// cookieJar writes the two auth cookies with the attributes the web client expects
type cookieJar struct {
	production bool
}

// setAuth stores the session token. Outside production the cookie stays
// readable by scripts and works over plain http.
func (j cookieJar) setAuth(c *gin.Context, token string, ttl time.Duration) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(AuthCookie, token, int(ttl.Seconds()), "/", "", j.production, j.production)
}

func (j cookieJar) clearAuth(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(AuthCookie, "", -1, "/", "", j.production, j.production)
}

// setNonce stores the nonce carrier; it is never visible to scripts
func (j cookieJar) setNonce(c *gin.Context, carrier string, ttl time.Duration) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(NonceCookie, carrier, int(ttl.Seconds()), "/", "", true, true)
}

func (j cookieJar) clearNonce(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(NonceCookie, "", -1, "/", "", true, true)
}
