package http

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Meet/internal/app/orch"
	"github.com/dkeye/Meet/internal/domain"
)

const hubPath = "/api/hub"

type handlers struct {
	orch      *orch.Orchestrator
	publicURL string
}

type negotiateResponse struct {
	URL         string `json:"url"`
	AccessToken string `json:"accessToken"`
}

func (h *handlers) negotiate(c *gin.Context) {
	uid := domain.UserID(c.Query("userId"))
	token, err := h.orch.Negotiate(uid)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, domain.ErrUserIDEmpty) || errors.Is(err, domain.ErrIDTooLong) {
			status = http.StatusBadRequest
		}
		c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, negotiateResponse{URL: h.hubURL(c), AccessToken: token})
}

// hubURL is the absolute channel endpoint, from config or from the request as seen by the client.
func (h *handlers) hubURL(c *gin.Context) string {
	if h.publicURL != "" {
		return strings.TrimSuffix(h.publicURL, "/") + hubPath
	}
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if p := c.GetHeader("X-Forwarded-Proto"); p != "" {
		scheme = p
	}
	return scheme + "://" + c.Request.Host + hubPath
}

func identity(c *gin.Context) (domain.Identity, bool) {
	id, err := domain.NewIdentity(c.Query("meetingId"), c.Query("userId"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return domain.Identity{}, false
	}
	return id, true
}

func (h *handlers) joinGroup(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	added := h.orch.JoinGroup(id)
	c.JSON(http.StatusOK, gin.H{"added": added})
}

func (h *handlers) leaveGroup(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	removed := h.orch.LeaveGroup(id)
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

func (h *handlers) message(c *gin.Context) {
	id, ok := identity(c)
	if !ok {
		return
	}
	body, ok := c.GetQuery("message")
	if !ok && c.Request.Method == http.MethodPost {
		body, ok = c.GetPostForm("message")
	}
	if !ok {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "message required"})
		return
	}

	if err := h.orch.Publish(c.Request.Context(), id, body); err != nil {
		if errors.Is(err, orch.ErrRateLimited) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
			return
		}
		log.Error().Err(err).Str("module", "adapters.http").Str("meeting", string(id.MeetingID)).Msg("publish")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "publish failed"})
		return
	}
	c.Status(http.StatusOK)
}

func (h *handlers) listMeetings(c *gin.Context) {
	c.JSON(http.StatusOK, h.orch.ListMeetings())
}

func (h *handlers) evictMeeting(c *gin.Context) {
	h.orch.EvictMeeting(domain.MeetingID(c.Param("id")))
	c.Status(http.StatusNoContent)
}
