package api

import (
	"net/http"

	"labwatch/internal/auth"
	"labwatch/internal/domain"

	"github.com/gin-gonic/gin"
)

// HeaderHardwareAddress identifies the calling device on websocket upgrades
const HeaderHardwareAddress = "X-Hardware-Address"

const principalKey = "principal"

// requireDevice checks the device token against the :hw path parameter.
func (s *Server) requireDevice() gin.HandlerFunc {
	return func(c *gin.Context) {
		tok, _ := auth.BearerToken(c.GetHeader("Authorization"))
		p, err := s.tokens.ValidateDevice(tok, c.Param("hw"))
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.Set(principalKey, p)
		c.Next()
	}
}

func (s *Server) requireController() gin.HandlerFunc {
	return func(c *gin.Context) {
		tok, ok := auth.BearerToken(c.GetHeader("Authorization"))
		if !ok {
			abortWithError(c, domain.ErrUnauthenticated)
			return
		}
		p, err := s.tokens.ValidateController(tok)
		if err != nil {
			abortWithError(c, err)
			return
		}
		c.Set(principalKey, p)
		c.Next()
	}
}

func principalFrom(c *gin.Context) (auth.Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return auth.Principal{}, false
	}
	p, ok := v.(auth.Principal)
	return p, ok
}

func abortWithError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(statusFor(err), gin.H{"error": err.Error()})
}

// writeError is used by handlers that have not yet written a response
func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = domain.ErrInternal.Error()
	}
	c.JSON(status, gin.H{"error": msg})
}
