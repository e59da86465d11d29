package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cascadeview/backend/internal/cdp"
	"github.com/cascadeview/backend/internal/session"
)

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"sessions": s.registry.Len(),
	})
}

func (s *Server) listSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": s.registry.Infos()})
}

func (s *Server) scan(c *gin.Context) {
	if err := s.engine.Scan(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": s.registry.Infos()})
}

func (s *Server) getSnapshot(c *gin.Context) {
	sess, ok := s.registry.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	snap := sess.Snapshot()
	if snap == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no snapshot yet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"html":        sess.DisplayHTML(),
		"fingerprint": snap.Fingerprint,
		"captured_at": snap.CapturedAt,
	})
}

func (s *Server) getStyles(c *gin.Context) {
	sess, ok := s.registry.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	snap := sess.Snapshot()
	if snap == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no snapshot yet"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"styles": snap.Styles})
}

func (s *Server) refresh(c *gin.Context) {
	if err := s.pipeline.Refresh(c.Request.Context(), c.Param("id")); err != nil {
		s.commandError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) sendText(c *gin.Context) {
	var body struct {
		Text string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "text is required"})
		return
	}

	result, err := s.commander.SendText(c.Request.Context(), c.Param("id"), body.Text)
	s.countCommand("send", err)
	if err != nil {
		s.commandError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) navigateBack(c *gin.Context) {
	err := s.commander.NavigateBack(c.Request.Context(), c.Param("id"))
	s.countCommand("back", err)
	if err != nil {
		s.commandError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) selectByLabel(c *gin.Context) {
	var body struct {
		Label string `json:"label" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "label is required"})
		return
	}

	result, err := s.commander.SelectByLabel(c.Request.Context(), c.Param("id"), body.Label)
	s.countCommand("select", err)
	if err != nil {
		s.commandError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) switchMode(c *gin.Context) {
	result, err := s.commander.SwitchMode(c.Request.Context(), c.Param("id"))
	s.countCommand("mode", err)
	if err != nil {
		s.commandError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) setCollapsed(c *gin.Context) {
	var body struct {
		Path      []int `json:"path"`
		Collapsed bool  `json:"collapsed"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}

	sess, ok := s.registry.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	if err := sess.SetCollapsed(body.Path, body.Collapsed); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// commandError maps the core error taxonomy onto HTTP statuses. The
// failure reason always reaches the caller; user-intent actions are
// never silently retried here.
func (s *Server) commandError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, session.ErrNoEditor),
		errors.Is(err, session.ErrNoControl),
		errors.Is(err, session.ErrNoMatch):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, session.ErrInjectionRejected):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, cdp.ErrTimeout), errors.Is(err, cdp.ErrClosed),
		errors.Is(err, cdp.ErrConnectionRefused), errors.Is(err, cdp.ErrRemoteError):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *Server) countCommand(command string, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.metrics.CommandsTotal.WithLabelValues(command, outcome).Inc()
}
