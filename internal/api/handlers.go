package api

import (
	"fmt"
	"net/http"

	"labwatch/internal/auth"
	"labwatch/internal/domain"

	"github.com/gin-gonic/gin"
)

type powerReq struct {
	State domain.PowerState `json:"state" binding:"required"`
}

type sessionReq struct {
	DeviceID string `json:"device_id" binding:"required"`
	UserID   string `json:"user_id" binding:"required"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "labwatch"})
}

func (s *Server) handleDeviceID(c *gin.Context) {
	device, err := s.registry.ResolveDevice(c, c.Param("hw"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"device_id": device.ID,
		"lab_id":    device.LabID,
		"name":      device.Name,
	})
}

func (s *Server) handleActiveUser(c *gin.Context) {
	user, err := s.registry.ActiveUser(c, c.Param("hw"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}

func (s *Server) handlePower(c *gin.Context) {
	var req powerReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.State.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown power state %q", req.State)})
		return
	}
	if err := s.registry.RecordPower(c, c.Param("hw"), req.State); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "recorded"})
}

func (s *Server) handleForceLogout(c *gin.Context) {
	out, err := s.registry.ForceLogoutByHardwareID(c, c.Param("hw"))
	if err != nil {
		writeError(c, err)
		return
	}
	if out == nil {
		c.JSON(http.StatusOK, gin.H{"result": "no_session"})
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleRequestSession(c *gin.Context) {
	var req sessionReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p, _ := principalFrom(c)
	// Students may only check themselves in or out
	if p.Role != domain.RoleTeacher && p.Subject != req.UserID {
		writeError(c, fmt.Errorf("%w: cannot request a session for another user", domain.ErrUnauthorized))
		return
	}

	out, err := s.registry.RequestSession(c, req.DeviceID, req.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// handleWebSocket authenticates the caller and hands the connection to the
// relay. Devices send the device token and their hardware address;
// controllers send a jwt, as a header or a token query parameter since
// browsers cannot set headers on websocket requests.
func (s *Server) handleWebSocket(c *gin.Context) {
	tok, ok := auth.BearerToken(c.GetHeader("Authorization"))
	if !ok {
		tok = c.Query("token")
	}

	if hw := c.GetHeader(HeaderHardwareAddress); hw != "" {
		p, err := s.tokens.ValidateDevice(tok, hw)
		if err != nil {
			writeError(c, err)
			return
		}
		device, err := s.registry.ResolveDevice(c, p.Subject)
		if err != nil {
			writeError(c, err)
			return
		}
		s.hub.ServeWS(c.Writer, c.Request, p, device.ID, s.opts.SendQueue)
		return
	}

	if tok == "" {
		writeError(c, fmt.Errorf("%w: missing token", domain.ErrUnauthenticated))
		return
	}
	p, err := s.tokens.ValidateController(tok)
	if err != nil {
		writeError(c, err)
		return
	}
	s.hub.ServeWS(c.Writer, c.Request, p, "", s.opts.SendQueue)
}
