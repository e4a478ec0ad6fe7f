package server

import (
	"net/http"

	reconciliationdomain "github.com/comandahub/paycore/internal/reconciliation/domain"
	"github.com/gin-gonic/gin"
)

type runReconciliationRequest struct {
	Provider  string  `json:"provider"`
	From      string  `json:"from"`
	PartnerID *string `json:"partner_id"`
	TenantID  *string `json:"tenant_id"`
}

func (s *Server) RunReconciliation(c *gin.Context) {
	var req runReconciliationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	from, err := parseTime(req.From)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	filter := reconciliationdomain.ReconcileFilter{
		Provider: req.Provider,
		From:     from,
	}
	var ok bool
	if filter.PartnerID, ok = optionalID(c, req.PartnerID); !ok {
		return
	}
	if filter.TenantID, ok = optionalID(c, req.TenantID); !ok {
		return
	}

	result, err := s.reconciliationSvc.ReconcileProviderPayments(c.Request.Context(), filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) GenerateRecommendations(c *gin.Context) {
	result, err := s.reconciliationSvc.GenerateRecommendations(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) ListOpenRecommendations(c *gin.Context) {
	limit := queryInt(c, "limit", 100)
	items, err := s.reconciliationSvc.ListOpen(c.Request.Context(), limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recommendations": items})
}

func (s *Server) ApplyRecommendation(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	rec, err := s.reconciliationSvc.Apply(c.Request.Context(), id)
	if err != nil && rec == nil {
		AbortWithError(c, err)
		return
	}
	s.auditOps(c, "recommendation.applied", "ops_recommendation", id, map[string]any{
		"status": rec.Status,
	})
	// A failed apply still resolves the recommendation to failed; surface
	// the row so the caller sees the recorded error.
	c.JSON(http.StatusOK, rec)
}

func (s *Server) DismissRecommendation(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	rec, err := s.reconciliationSvc.Dismiss(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.auditOps(c, "recommendation.dismissed", "ops_recommendation", id, nil)
	c.JSON(http.StatusOK, rec)
}
