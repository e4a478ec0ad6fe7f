package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type generateSettlementRequest struct {
	PartnerID   string `json:"partner_id"`
	PeriodStart string `json:"period_start"`
	PeriodEnd   string `json:"period_end"`
}

func (s *Server) GenerateSettlement(c *gin.Context) {
	var req generateSettlementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	partnerID, ok := optionalID(c, &req.PartnerID)
	if !ok {
		return
	}
	if partnerID == nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	periodStart, err := parseTime(req.PeriodStart)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	periodEnd, err := parseTime(req.PeriodEnd)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	result, err := s.settlementSvc.Generate(c.Request.Context(), *partnerID, periodStart, periodEnd)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) GetSettlement(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	settlement, err := s.settlementSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, settlement)
}

func (s *Server) ApproveSettlement(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	settlement, err := s.settlementSvc.Approve(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.auditOps(c, "settlement.approved", "settlement", id, nil)
	c.JSON(http.StatusOK, settlement)
}

func (s *Server) CancelSettlement(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	settlement, err := s.settlementSvc.Cancel(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	s.auditOps(c, "settlement.cancelled", "settlement", id, nil)
	c.JSON(http.StatusOK, settlement)
}

type markSettlementPaidRequest struct {
	PaidAt string `json:"paid_at"`
}

func (s *Server) MarkSettlementPaid(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req markSettlementPaidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	paidAt, err := parseTime(req.PaidAt)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	if err := s.settlementSvc.MarkPaid(c.Request.Context(), id, paidAt); err != nil {
		AbortWithError(c, err)
		return
	}
	s.auditOps(c, "settlement.marked_paid", "settlement", id, map[string]any{
		"paid_at": paidAt,
	})
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) GetPartnerFinancialSummary(c *gin.Context) {
	partnerID, ok := pathID(c, "partnerId")
	if !ok {
		return
	}
	summary, err := s.settlementSvc.PartnerFinancialSummary(c.Request.Context(), partnerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}
