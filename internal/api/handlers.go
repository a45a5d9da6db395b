package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/CodingButter/team-dashboard-sub004/pkg/batch"
	"github.com/CodingButter/team-dashboard-sub004/pkg/broker"
	"github.com/CodingButter/team-dashboard-sub004/pkg/gate"
	"github.com/CodingButter/team-dashboard-sub004/pkg/handoff"
	"github.com/CodingButter/team-dashboard-sub004/pkg/logging"
	"github.com/CodingButter/team-dashboard-sub004/pkg/models"
	"github.com/CodingButter/team-dashboard-sub004/pkg/ratelimit"
)

type registerAgentRequest struct {
	TenantID string `json:"tenant_id" binding:"required"`
	AgentID  string `json:"agent_id" binding:"required"`
}

func (s *Server) handleRegisterAgent(c *gin.Context) {
	var req registerAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.service.Gate().Reserve(c.Request.Context(), req.TenantID, models.ResourceAgents, 1); err != nil {
		s.renderError(c, err)
		return
	}
	if err := s.service.Registry().Register(c.Request.Context(), req.TenantID, req.AgentID); err != nil {
		s.service.Gate().Release(req.TenantID, models.ResourceAgents, 1)
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"agent_id": req.AgentID, "tenant_id": req.TenantID})
}

func (s *Server) handleDeregisterAgent(c *gin.Context) {
	agentID := c.Param("id")
	ctx := c.Request.Context()

	tenantID, err := s.service.Registry().TenantOf(ctx, agentID)
	if err != nil {
		s.renderError(c, err)
		return
	}
	if err := s.service.Registry().Deregister(ctx, agentID); err != nil {
		s.renderError(c, err)
		return
	}
	if tenantID != "" {
		s.service.Gate().Release(tenantID, models.ResourceAgents, 1)
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListAgents(c *gin.Context) {
	tenantID := c.Query("tenant_id")
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tenant_id is required"})
		return
	}
	agents, err := s.service.Registry().ListByTenant(c.Request.Context(), tenantID)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenant_id": tenantID, "agents": agents})
}

type directMessageRequest struct {
	From          string                 `json:"from" binding:"required"`
	To            string                 `json:"to" binding:"required"`
	Type          string                 `json:"type"`
	Content       map[string]interface{} `json:"content" binding:"required"`
	CorrelationID string                 `json:"correlation_id"`
	Timestamp     *time.Time             `json:"timestamp"`
}

func (s *Server) handleSendDirect(c *gin.Context) {
	var req directMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msgType := models.MessageType(req.Type)
	if req.Type == "" {
		msgType = models.MsgDirect
	}
	msg := models.NewDirectMessage(req.From, req.To, req.Content, msgType, req.CorrelationID)
	if req.Timestamp != nil {
		// Relayed envelopes keep the client's clock; the broker
		// validates it against the staleness window.
		msg.Timestamp = *req.Timestamp
	}

	result, err := s.service.Broker().SendDirect(c.Request.Context(), msg)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type broadcastRequest struct {
	From      string                 `json:"from" binding:"required"`
	Channel   string                 `json:"channel" binding:"required"`
	Type      string                 `json:"type"`
	Content   map[string]interface{} `json:"content" binding:"required"`
	Timestamp *time.Time             `json:"timestamp"`
}

func (s *Server) handleBroadcast(c *gin.Context) {
	var req broadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msgType := models.MessageType(req.Type)
	if req.Type == "" {
		msgType = models.MsgEvent
	}
	msg := models.NewBroadcastMessage(req.From, req.Channel, req.Content, msgType)
	if req.Timestamp != nil {
		msg.Timestamp = *req.Timestamp
	}

	result, err := s.service.Broker().Broadcast(c.Request.Context(), msg)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleHistory(c *gin.Context) {
	owner := c.Param("owner")
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = parsed
	}

	var since time.Time
	if raw := c.Query("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be an RFC3339 timestamp"})
			return
		}
		since = parsed
	}

	messages, err := s.service.Broker().GetHistory(c.Request.Context(), owner, since, limit)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"owner": owner, "messages": messages})
}

type initiateHandoffRequest struct {
	From   string                 `json:"from" binding:"required"`
	To     string                 `json:"to" binding:"required"`
	Task   map[string]interface{} `json:"task" binding:"required"`
	Reason string                 `json:"reason"`
	TTL    string                 `json:"ttl"`
}

func (s *Server) handleInitiateHandoff(c *gin.Context) {
	var req initiateHandoffRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var ttl time.Duration
	if req.TTL != "" {
		parsed, err := time.ParseDuration(req.TTL)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "ttl must be a duration string"})
			return
		}
		ttl = parsed
	}

	h, err := s.service.Handoffs().Initiate(c.Request.Context(), req.From, req.To, req.Task, req.Reason, ttl)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, h)
}

type respondHandoffRequest struct {
	Responder string `json:"responder" binding:"required"`
	Decision  string `json:"decision" binding:"required"`
	Reason    string `json:"reason"`
}

func (s *Server) handleRespondHandoff(c *gin.Context) {
	var req respondHandoffRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h, err := s.service.Handoffs().Respond(c.Request.Context(), c.Param("id"), req.Responder, models.HandoffDecision(req.Decision), req.Reason)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, h)
}

func (s *Server) handleGetHandoff(c *gin.Context) {
	h, err := s.service.Handoffs().Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, h)
}

type submitBatchRequest struct {
	TenantID string                      `json:"tenant_id" binding:"required"`
	Type     string                      `json:"type" binding:"required"`
	Items    []models.BatchOperationItem `json:"items" binding:"required"`
}

func (s *Server) handleSubmitBatch(c *gin.Context) {
	var req submitBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	op, err := s.service.Batches().Submit(c.Request.Context(), req.TenantID, models.BatchOperationType(req.Type), req.Items)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, op)
}

func (s *Server) handleListBatches(c *gin.Context) {
	tenantID := c.Query("tenant_id")
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tenant_id is required"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenant_id": tenantID, "batches": s.service.Batches().ListByTenant(tenantID)})
}

func (s *Server) handleBatchStatus(c *gin.Context) {
	op, err := s.service.Batches().Status(c.Param("id"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, op)
}

func (s *Server) handleCancelBatch(c *gin.Context) {
	tenantID := c.Query("tenant_id")
	if tenantID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tenant_id is required"})
		return
	}
	if err := s.service.Batches().Cancel(c.Request.Context(), tenantID, c.Param("id")); err != nil {
		s.renderError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// renderError maps domain errors onto HTTP statuses
func (s *Server) renderError(c *gin.Context, err error) {
	var validation *models.ValidationError
	status := http.StatusInternalServerError

	switch {
	case errors.As(err, &validation),
		errors.Is(err, broker.ErrSelfDelivery),
		errors.Is(err, broker.ErrStaleTimestamp),
		errors.Is(err, handoff.ErrSelfHandoff),
		errors.Is(err, batch.ErrEmptyBatch):
		status = http.StatusBadRequest
	case errors.Is(err, broker.ErrRecipientUnknown),
		errors.Is(err, handoff.ErrHandoffNotFound),
		errors.Is(err, batch.ErrBatchNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ratelimit.ErrRateLimitExceeded):
		status = http.StatusTooManyRequests
	case errors.Is(err, gate.ErrQuotaExceeded):
		status = http.StatusForbidden
	case errors.Is(err, handoff.ErrNotRecipient):
		status = http.StatusForbidden
	case errors.Is(err, handoff.ErrHandoffExpired):
		status = http.StatusGone
	case errors.Is(err, handoff.ErrHandoffResolved),
		errors.Is(err, batch.ErrBatchTerminal):
		status = http.StatusConflict
	}

	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			logging.String("path", c.FullPath()),
			logging.Err(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
