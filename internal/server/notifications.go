package server

import (
	"encoding/json"
	"net/http"

	notificationdomain "github.com/comandahub/paycore/internal/notification/domain"
	"github.com/gin-gonic/gin"
)

type enqueueNotificationRequest struct {
	Channel     string          `json:"channel"`
	TemplateKey string          `json:"template_key"`
	ToAddress   string          `json:"to_address"`
	Payload     json.RawMessage `json:"payload"`
	DedupeKey   string          `json:"dedupe_key"`
	PartnerID   *string         `json:"partner_id"`
	MaxAttempts int             `json:"max_attempts"`
}

func (s *Server) EnqueueNotification(c *gin.Context) {
	var req enqueueNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	partnerID, ok := optionalID(c, req.PartnerID)
	if !ok {
		return
	}

	result, err := s.notificationSvc.Enqueue(c.Request.Context(), notificationdomain.EnqueueCommand{
		Channel:     notificationdomain.Channel(req.Channel),
		TemplateKey: req.TemplateKey,
		ToAddress:   req.ToAddress,
		Payload:     req.Payload,
		DedupeKey:   req.DedupeKey,
		PartnerID:   partnerID,
		MaxAttempts: req.MaxAttempts,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) GetNotification(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	entry, err := s.notificationSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func (s *Server) ProcessNotificationOutbox(c *gin.Context) {
	batchSize := queryInt(c, "batch_size", 50)
	result, err := s.notificationSvc.ProcessOutbox(c.Request.Context(), batchSize)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) RequeueDeadNotification(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := s.notificationSvc.RequeueDead(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}
	s.auditOps(c, "notification.requeued", "notification_outbox", id, nil)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type previewNotificationRequest struct {
	TemplateKey string          `json:"template_key"`
	PartnerID   *string         `json:"partner_id"`
	Payload     json.RawMessage `json:"payload"`
}

func (s *Server) PreviewNotification(c *gin.Context) {
	var req previewNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	partnerID, ok := optionalID(c, req.PartnerID)
	if !ok {
		return
	}

	rendered, err := s.notificationSvc.Preview(c.Request.Context(), notificationdomain.PreviewCommand{
		TemplateKey: req.TemplateKey,
		PartnerID:   partnerID,
		Payload:     req.Payload,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, rendered)
}

type markDeliveryRequest struct {
	OutboxID          string `json:"outbox_id"`
	Provider          string `json:"provider"`
	ProviderMessageID string `json:"provider_message_id"`
	Status            string `json:"status"`
}

func (s *Server) MarkNotificationDelivery(c *gin.Context) {
	var req markDeliveryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	outboxID, ok := optionalID(c, &req.OutboxID)
	if !ok {
		return
	}
	if outboxID == nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	delivery, err := s.notificationSvc.MarkDelivery(c.Request.Context(), notificationdomain.MarkDeliveryCommand{
		OutboxID:          *outboxID,
		Provider:          req.Provider,
		ProviderMessageID: req.ProviderMessageID,
		Status:            req.Status,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, delivery)
}

type upsertTemplateRequest struct {
	PartnerID   *string `json:"partner_id"`
	TemplateKey string  `json:"template_key"`
	Channel     string  `json:"channel"`
	Subject     string  `json:"subject"`
	Body        string  `json:"body"`
	Active      *bool   `json:"active"`
}

func (s *Server) UpsertNotificationTemplate(c *gin.Context) {
	var req upsertTemplateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	partnerID, ok := optionalID(c, req.PartnerID)
	if !ok {
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	tmpl, err := s.notificationSvc.UpsertTemplate(c.Request.Context(), notificationdomain.NotificationTemplate{
		PartnerID:   partnerID,
		TemplateKey: req.TemplateKey,
		Channel:     notificationdomain.Channel(req.Channel),
		Subject:     req.Subject,
		Body:        req.Body,
		Active:      active,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, tmpl)
}

type emitBillingRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (s *Server) EmitBillingNotifications(c *gin.Context) {
	var req emitBillingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	from, err := parseTime(req.From)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	to, err := parseTime(req.To)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.notificationSvc.EmitBillingNotifications(c.Request.Context(), from, to)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
