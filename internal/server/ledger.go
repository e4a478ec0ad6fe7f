package server

import (
	"net/http"
	"strings"

	contextdomain "github.com/comandahub/paycore/internal/paymentcontext/domain"
	"github.com/gin-gonic/gin"
)

func (s *Server) GetPaymentEvent(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	event, err := s.ledgerSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, event)
}

func (s *Server) ListPaymentEvents(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))
	paymentID := strings.TrimSpace(c.Param("paymentId"))
	if provider == "" || paymentID == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	events, err := s.ledgerSvc.ListByPayment(c.Request.Context(), provider, paymentID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (s *Server) ApplyEvent(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	result, err := s.effectSvc.Apply(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) ReprocessEvent(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	result, err := s.effectSvc.Reprocess(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type recordCorrelationRequest struct {
	Provider          string  `json:"provider"`
	ProviderPaymentID string  `json:"provider_payment_id"`
	Source            string  `json:"source"`
	SourceID          *string `json:"source_id"`
	TenantID          *string `json:"tenant_id"`
	PartnerID         *string `json:"partner_id"`
}

func (s *Server) RecordCorrelation(c *gin.Context) {
	var req recordCorrelationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	cmd := contextdomain.RecordCommand{
		Provider:          req.Provider,
		ProviderPaymentID: req.ProviderPaymentID,
		Source:            contextdomain.Source(req.Source),
	}
	var ok bool
	if cmd.SourceID, ok = optionalID(c, req.SourceID); !ok {
		return
	}
	if cmd.TenantID, ok = optionalID(c, req.TenantID); !ok {
		return
	}
	if cmd.PartnerID, ok = optionalID(c, req.PartnerID); !ok {
		return
	}

	row, err := s.contextSvc.RecordCorrelation(c.Request.Context(), cmd)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, row)
}
